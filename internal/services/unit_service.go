package services

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"agriplan/internal/authz"
	apperrors "agriplan/internal/errors"
	"agriplan/internal/models"
	"agriplan/internal/pagination"
	"agriplan/internal/workflow"
)

// unitService handles the unit hierarchy and unit deletion.
type unitService struct {
	db *gorm.DB
}

// NewUnitService creates a new UnitServicer.
func NewUnitService(db *gorm.DB) UnitServicer {
	return &unitService{db: db}
}

// CreateUnit adds a unit. Names are unique across the hierarchy.
func (s *unitService) CreateUnit(actor authz.Subject, in UnitInput) (*models.Unit, error) {
	if err := actor.Require(authz.ManageUnits); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "Name is required",
			map[string][]string{"name": {"This field may not be blank."}})
	}
	if !in.Type.Valid() {
		return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "Invalid unit type",
			map[string][]string{"type": {fmt.Sprintf("%q is not a valid choice.", in.Type)}})
	}
	if err := s.checkNameAvailable(name, ""); err != nil {
		return nil, err
	}
	if in.ParentID != nil && *in.ParentID == "" {
		in.ParentID = nil
	}
	if in.ParentID != nil {
		if _, err := s.getUnit(*in.ParentID); err != nil {
			return nil, err
		}
	}

	unit := &models.Unit{Name: name, Type: in.Type, ParentID: in.ParentID, Description: in.Description}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(unit).Error; err != nil {
			if isUniqueConstraintError(err) {
				return apperrors.ErrDuplicateUnitName
			}
			return err
		}
		return writeAudit(tx, AuditEntry{
			ActorID: actor.UserID,
			UnitID:  &unit.ID,
			Action:  models.AuditCreate,
			Message: fmt.Sprintf("Unit %s created", unit.Name),
			IP:      actor.IP,
		})
	})
	if err != nil {
		return nil, internalError(err)
	}
	return unit, nil
}

func (s *unitService) checkNameAvailable(name, excludeID string) error {
	q := s.db.Model(&models.Unit{}).Where("name = ?", name)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if count > 0 {
		return apperrors.ErrDuplicateUnitName
	}
	return nil
}

func (s *unitService) getUnit(id string) (*models.Unit, error) {
	var unit models.Unit
	if err := s.db.First(&unit, "id = ?", id).Error; err != nil {
		return nil, lookupError(err, apperrors.ErrUnitNotFound)
	}
	return &unit, nil
}

// ListUnits returns units. Units are reference data visible to everyone.
func (s *unitService) ListUnits(filter UnitFilter, page pagination.PageRequest) (*pagination.PageResponse[models.Unit], error) {
	q := s.db.Model(&models.Unit{})
	if filter.Type != nil {
		q = q.Where("type = ?", *filter.Type)
	}
	if filter.ParentID != nil {
		q = q.Where("parent_id = ?", *filter.ParentID)
	}
	if filter.Search != "" {
		q = q.Where("LOWER(name) LIKE ?", likePattern(filter.Search))
	}

	resp, err := pagination.Find[models.Unit](q, page, "name ASC", func(db *gorm.DB) *gorm.DB {
		return db.Preload("Parent")
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return resp, nil
}

// GetUnitDetail returns the unit with its indicators. Plans and reports are
// included only when the actor may access the unit.
func (s *unitService) GetUnitDetail(actor authz.Subject, id string) (*UnitDetail, error) {
	var unit models.Unit
	if err := s.db.Preload("Parent").First(&unit, "id = ?", id).Error; err != nil {
		return nil, lookupError(err, apperrors.ErrUnitNotFound)
	}

	detail := &UnitDetail{
		Unit:             &unit,
		Indicators:       []models.Indicator{},
		AnnualPlans:      []models.AnnualPlan{},
		QuarterlyReports: []models.QuarterlyReport{},
	}
	if err := s.db.Where("owner_unit_id = ?", id).Order("code ASC").Find(&detail.Indicators).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if !actor.CanAccessUnit(id) {
		return detail, nil
	}
	if err := s.db.Where("unit_id = ?", id).Order("year DESC").Find(&detail.AnnualPlans).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if err := s.db.Where("unit_id = ?", id).Order("year DESC, quarter DESC").Find(&detail.QuarterlyReports).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return detail, nil
}

// UpdateUnit renames, retypes or reparents a unit. A unit may not become
// its own ancestor.
func (s *unitService) UpdateUnit(actor authz.Subject, id string, in UnitUpdateInput) (*models.Unit, error) {
	if err := actor.Require(authz.ManageUnits); err != nil {
		return nil, err
	}
	unit, err := s.getUnit(id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "Name is required",
				map[string][]string{"name": {"This field may not be blank."}})
		}
		if name != unit.Name {
			if err := s.checkNameAvailable(name, id); err != nil {
				return nil, err
			}
			updates["name"] = name
		}
	}
	if in.Type != nil {
		if !in.Type.Valid() {
			return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "Invalid unit type",
				map[string][]string{"type": {fmt.Sprintf("%q is not a valid choice.", *in.Type)}})
		}
		updates["type"] = *in.Type
	}
	if in.Description != nil {
		updates["description"] = *in.Description
	}
	if in.ParentID != nil {
		if *in.ParentID == "" {
			updates["parent_id"] = nil
		} else {
			if err := s.checkNoCycle(id, *in.ParentID); err != nil {
				return nil, err
			}
			updates["parent_id"] = *in.ParentID
		}
	}

	if len(updates) == 0 {
		return unit, nil
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Unit{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			if isUniqueConstraintError(err) {
				return apperrors.ErrDuplicateUnitName
			}
			return err
		}
		return writeAudit(tx, AuditEntry{
			ActorID: actor.UserID,
			UnitID:  &id,
			Action:  models.AuditUpdate,
			Message: fmt.Sprintf("Unit %s updated", unit.Name),
			Details: updates,
			IP:      actor.IP,
		})
	})
	if err != nil {
		return nil, internalError(err)
	}
	return s.getUnit(id)
}

// checkNoCycle walks up from the proposed parent and fails if it reaches id.
func (s *unitService) checkNoCycle(id, parentID string) error {
	seen := map[string]bool{}
	current := parentID
	for current != "" {
		if current == id {
			return apperrors.ErrUnitCycle
		}
		if seen[current] {
			// the existing tree already loops; refuse to extend it
			return apperrors.ErrUnitCycle
		}
		seen[current] = true

		parent, err := s.getUnit(current)
		if err != nil {
			return err
		}
		if parent.ParentID == nil {
			return nil
		}
		current = *parent.ParentID
	}
	return nil
}

// dependencySnapshot counts the rows that reference a unit.
func dependencySnapshot(db *gorm.DB, unitID string) (DependencySnapshot, error) {
	var d DependencySnapshot
	finalized := []workflow.Status{workflow.StatusSubmitted, workflow.StatusApproved}

	counts := []struct {
		model interface{}
		query string
		args  []interface{}
		dest  *int64
	}{
		{&models.UserProfile{}, "unit_id = ?", []interface{}{unitID}, &d.UserProfiles},
		{&models.AnnualPlan{}, "unit_id = ?", []interface{}{unitID}, &d.AnnualPlans},
		{&models.QuarterlyReport{}, "unit_id = ?", []interface{}{unitID}, &d.QuarterlyReports},
		{&models.Indicator{}, "owner_unit_id = ?", []interface{}{unitID}, &d.Indicators},
		{&models.Unit{}, "parent_id = ?", []interface{}{unitID}, &d.ChildUnits},
	}
	for _, c := range counts {
		if err := db.Model(c.model).Where(c.query, c.args...).Count(c.dest).Error; err != nil {
			return d, err
		}
	}

	var finalPlans, finalReports int64
	if err := db.Model(&models.AnnualPlan{}).Where("unit_id = ? AND status IN ?", unitID, finalized).Count(&finalPlans).Error; err != nil {
		return d, err
	}
	if err := db.Model(&models.QuarterlyReport{}).Where("unit_id = ? AND status IN ?", unitID, finalized).Count(&finalReports).Error; err != nil {
		return d, err
	}
	d.FinalizedRecords = finalPlans + finalReports
	return d, nil
}

// GetUsage reports what references a unit and whether a plain delete would succeed.
func (s *unitService) GetUsage(id string) (*UnitUsage, error) {
	unit, err := s.getUnit(id)
	if err != nil {
		return nil, err
	}
	deps, err := dependencySnapshot(s.db, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &UnitUsage{Unit: unit, Dependencies: deps, CanDeleteSafely: deps.Total() == 0}, nil
}

// GetStatistics summarizes a unit's users, indicators, plans and reports.
func (s *unitService) GetStatistics(actor authz.Subject, id string) (*UnitStatistics, error) {
	if _, err := s.getUnit(id); err != nil {
		return nil, err
	}
	if err := actor.RequireUnit(id); err != nil {
		return nil, err
	}

	stats := &UnitStatistics{UnitID: id}
	if err := s.db.Model(&models.UserProfile{}).Where("unit_id = ?", id).Count(&stats.Users).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if err := s.db.Model(&models.Indicator{}).Where("owner_unit_id = ?", id).Count(&stats.Indicators).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if err := s.db.Model(&models.Indicator{}).Where("owner_unit_id = ? AND active = ?", id, true).Count(&stats.ActiveIndicators).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var err error
	if stats.PlansByStatus, err = countByStatus(s.db.Model(&models.AnnualPlan{}).Where("unit_id = ?", id)); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if stats.ReportsByStatus, err = countByStatus(s.db.Model(&models.QuarterlyReport{}).Where("unit_id = ?", id)); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return stats, nil
}

// countByStatus groups the rows of q by status. Every status is present in
// the result, zero when absent.
func countByStatus(q *gorm.DB) (map[workflow.Status]int64, error) {
	var rows []struct {
		Status workflow.Status
		Count  int64
	}
	if err := q.Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[workflow.Status]int64, len(workflow.Statuses))
	for _, st := range workflow.Statuses {
		out[st] = 0
	}
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// DeleteUnit removes a unit. A plain delete fails while anything references
// the unit. A cascade detaches users and child units, then deletes the
// unit's indicators, plans and reports with their line items, all in one
// transaction.
func (s *unitService) DeleteUnit(actor authz.Subject, id string, cascade bool) (*UnitDeleteResult, error) {
	if err := actor.Require(authz.DeleteUnits); err != nil {
		return nil, err
	}
	unit, err := s.getUnit(id)
	if err != nil {
		return nil, err
	}

	deps, err := dependencySnapshot(s.db, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	result := &UnitDeleteResult{UnitID: id, Cascade: cascade, Dependencies: deps}

	if !cascade && deps.Total() > 0 {
		msg := fmt.Sprintf("Cannot delete unit due to existing dependencies: %s. Use cascade=true or force=true to delete anyway.", deps.Describe())
		return result, apperrors.WithMessage(apperrors.ErrUnitHasDependencies, msg)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		details := map[string]interface{}{
			"unit_id":      unit.ID,
			"unit_name":    unit.Name,
			"cascade":      cascade,
			"dependencies": deps,
		}
		if cascade {
			if err := writeAudit(tx, AuditEntry{
				ActorID: actor.UserID,
				UnitID:  &id,
				Action:  models.AuditDelete,
				Message: fmt.Sprintf("Cascade deletion started for unit %s", unit.Name),
				Details: details,
				IP:      actor.IP,
			}); err != nil {
				return err
			}
			if err := cascadeUnitDependents(tx, id); err != nil {
				return err
			}
		}
		if err := detachUnitHistory(tx, id); err != nil {
			return err
		}
		if err := tx.Where("id = ?", id).Delete(&models.Unit{}).Error; err != nil {
			return err
		}

		msg := fmt.Sprintf("Unit %s deleted", unit.Name)
		if cascade {
			msg = fmt.Sprintf("Cascade deletion completed for unit %s", unit.Name)
		}
		return writeAudit(tx, AuditEntry{
			ActorID: actor.UserID,
			Action:  models.AuditDelete,
			Message: msg,
			Details: details,
			IP:      actor.IP,
		})
	})
	if err != nil {
		return nil, internalError(err)
	}
	return result, nil
}

// cascadeUnitDependents detaches users and child units, then deletes the
// unit's line items, reports, plans and indicators.
func cascadeUnitDependents(tx *gorm.DB, unitID string) error {
	plans := func() *gorm.DB {
		return tx.Model(&models.AnnualPlan{}).Select("id").Where("unit_id = ?", unitID)
	}
	reports := func() *gorm.DB {
		return tx.Model(&models.QuarterlyReport{}).Select("id").Where("unit_id = ?", unitID)
	}
	indicators := func() *gorm.DB {
		return tx.Model(&models.Indicator{}).Select("id").Where("owner_unit_id = ?", unitID)
	}

	steps := []func() error{
		func() error {
			return tx.Model(&models.UserProfile{}).Where("unit_id = ?", unitID).Update("unit_id", nil).Error
		},
		func() error {
			return tx.Model(&models.Unit{}).Where("parent_id = ?", unitID).Update("parent_id", nil).Error
		},
		func() error {
			return tx.Where("plan_id IN (?) OR indicator_id IN (?)", plans(), indicators()).Delete(&models.AnnualPlanTarget{}).Error
		},
		func() error {
			return tx.Where("report_id IN (?) OR indicator_id IN (?)", reports(), indicators()).Delete(&models.QuarterlyIndicatorEntry{}).Error
		},
		func() error {
			return tx.Model(&models.WorkflowAudit{}).Where("context_plan_id IN (?)", plans()).Update("context_plan_id", nil).Error
		},
		func() error {
			return tx.Model(&models.WorkflowAudit{}).Where("context_report_id IN (?)", reports()).Update("context_report_id", nil).Error
		},
		func() error {
			return tx.Where("unit_id = ?", unitID).Delete(&models.QuarterlyReport{}).Error
		},
		func() error {
			return tx.Where("unit_id = ?", unitID).Delete(&models.AnnualPlan{}).Error
		},
		func() error {
			return tx.Where("owner_unit_id = ?", unitID).Delete(&models.Indicator{}).Error
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// detachUnitHistory clears references from audit records and import
// batches, which outlive the unit.
func detachUnitHistory(tx *gorm.DB, unitID string) error {
	if err := tx.Model(&models.WorkflowAudit{}).Where("unit_id = ?", unitID).Update("unit_id", nil).Error; err != nil {
		return err
	}
	return tx.Model(&models.ImportBatch{}).Where("unit_id = ?", unitID).Update("unit_id", nil).Error
}
