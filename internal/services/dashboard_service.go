package services

import (
	"math"

	"gorm.io/gorm"

	"agriplan/internal/authz"
	apperrors "agriplan/internal/errors"
	"agriplan/internal/models"
	"agriplan/internal/workflow"
)

const (
	defaultActivityLimit = 10
	maxActivityLimit     = 50
)

// dashboardService builds the summaries shown on the dashboard.
type dashboardService struct {
	db *gorm.DB
}

// NewDashboardService creates a new DashboardServicer.
func NewDashboardService(db *gorm.DB) DashboardServicer {
	return &dashboardService{db: db}
}

// Stats returns headline counts for the units the actor may see.
func (s *dashboardService) Stats(actor authz.Subject) (*DashboardStats, error) {
	stats := &DashboardStats{}

	if err := s.db.Model(&models.Unit{}).Scopes(actor.UnitScope("id")).Count(&stats.Units).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	indicators := s.db.Model(&models.Indicator{}).Scopes(actor.UnitScope("owner_unit_id"))
	if err := indicators.Session(&gorm.Session{}).Count(&stats.Indicators).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if err := indicators.Session(&gorm.Session{}).Where("active = ?", true).Count(&stats.ActiveIndicators).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var err error
	stats.PlansByStatus, err = countByStatus(s.db.Model(&models.AnnualPlan{}).Scopes(actor.UnitScope("unit_id")))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	stats.ReportsByStatus, err = countByStatus(s.db.Model(&models.QuarterlyReport{}).Scopes(actor.UnitScope("unit_id")))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	if actor.Can(authz.ApproveWorkflow) {
		stats.PendingApprovals = stats.PlansByStatus[workflow.StatusSubmitted] + stats.ReportsByStatus[workflow.StatusSubmitted]
	}
	return stats, nil
}

// RecentActivities returns the latest audit records the actor may see.
func (s *dashboardService) RecentActivities(actor authz.Subject, limit int) ([]models.WorkflowAudit, error) {
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}

	audits := []models.WorkflowAudit{}
	err := s.db.Scopes(actor.UnitScope("unit_id"), preloadAuditRefs).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&audits).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return audits, nil
}

// PendingApprovals lists SUBMITTED plans and reports. Actors who cannot
// approve get empty lists.
func (s *dashboardService) PendingApprovals(actor authz.Subject) (*PendingApprovals, error) {
	out := &PendingApprovals{
		AnnualPlans:      []models.AnnualPlan{},
		QuarterlyReports: []models.QuarterlyReport{},
	}
	if !actor.Can(authz.ApproveWorkflow) {
		return out, nil
	}

	err := s.db.Scopes(actor.UnitScope("unit_id")).
		Where("status = ?", workflow.StatusSubmitted).
		Preload("Unit").
		Order("submitted_at ASC").
		Find(&out.AnnualPlans).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	err = s.db.Scopes(actor.UnitScope("unit_id")).
		Where("status = ?", workflow.StatusSubmitted).
		Preload("Unit").
		Order("submitted_at ASC").
		Find(&out.QuarterlyReports).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return out, nil
}

// PerformanceSummary compares each annual target in year with the sum of
// achieved values from APPROVED quarterly reports of the same year.
func (s *dashboardService) PerformanceSummary(actor authz.Subject, year int) ([]IndicatorPerformance, error) {
	if err := validateYear(year); err != nil {
		return nil, err
	}

	var targets []IndicatorPerformance
	err := s.db.Table("annual_plan_targets").
		Select(`annual_plan_targets.indicator_id AS indicator_id,
			indicators.code AS code,
			indicators.name AS name,
			annual_plans.unit_id AS unit_id,
			units.name AS unit_name,
			annual_plan_targets.target_value AS target_value`).
		Joins("JOIN annual_plans ON annual_plans.id = annual_plan_targets.plan_id").
		Joins("JOIN indicators ON indicators.id = annual_plan_targets.indicator_id").
		Joins("JOIN units ON units.id = annual_plans.unit_id").
		Where("annual_plans.year = ?", year).
		Scopes(actor.UnitScope("annual_plans.unit_id")).
		Order("units.name ASC, indicators.code ASC").
		Scan(&targets).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var achieved []struct {
		IndicatorID string
		Total       float64
	}
	err = s.db.Table("quarterly_indicator_entries").
		Select("quarterly_indicator_entries.indicator_id AS indicator_id, SUM(quarterly_indicator_entries.achieved_value) AS total").
		Joins("JOIN quarterly_reports ON quarterly_reports.id = quarterly_indicator_entries.report_id").
		Where("quarterly_reports.year = ? AND quarterly_reports.status = ?", year, workflow.StatusApproved).
		Scopes(actor.UnitScope("quarterly_reports.unit_id")).
		Group("quarterly_indicator_entries.indicator_id").
		Scan(&achieved).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	totals := make(map[string]float64, len(achieved))
	for _, a := range achieved {
		totals[a.IndicatorID] = a.Total
	}

	out := make([]IndicatorPerformance, 0, len(targets))
	for _, t := range targets {
		t.AchievedValue = totals[t.IndicatorID]
		if t.TargetValue != 0 {
			pct := math.Round(t.AchievedValue/t.TargetValue*10000) / 100
			t.Percentage = &pct
		}
		out = append(out, t)
	}
	return out, nil
}
