package services

import (
	"fmt"

	"gorm.io/gorm"

	"agriplan/internal/authz"
	apperrors "agriplan/internal/errors"
	"agriplan/internal/models"
	"agriplan/internal/pagination"
	"agriplan/internal/workflow"
)

func validateQuarter(quarter int) error {
	if quarter < 1 || quarter > 4 {
		return apperrors.WithFields(apperrors.ErrInvalidInput, "Invalid quarter",
			map[string][]string{"quarter": {"Quarter must be between 1 and 4."}})
	}
	return nil
}

// reportService handles quarterly reports and their entries.
type reportService struct {
	db *gorm.DB
}

// NewReportService creates a new ReportServicer.
func NewReportService(db *gorm.DB) ReportServicer {
	return &reportService{db: db}
}

// CreateReport opens a DRAFT report for a unit, year and quarter.
func (s *reportService) CreateReport(actor authz.Subject, unitID *string, year, quarter int) (*models.QuarterlyReport, error) {
	resolved, err := actor.ResolveUnit(unitID)
	if err != nil {
		return nil, err
	}
	if err := validateYear(year); err != nil {
		return nil, err
	}
	if err := validateQuarter(quarter); err != nil {
		return nil, err
	}
	var unit models.Unit
	if err := s.db.First(&unit, "id = ?", resolved).Error; err != nil {
		return nil, lookupError(err, apperrors.ErrUnitNotFound)
	}

	duplicate := func() error {
		msg := fmt.Sprintf("A quarterly report already exists for %s in Q%d %d.", unit.Name, quarter, year)
		return apperrors.WithFields(apperrors.ErrDuplicateReport, msg,
			map[string][]string{apperrors.NonFieldErrors: {msg}})
	}

	var count int64
	if err := s.db.Model(&models.QuarterlyReport{}).
		Where("unit_id = ? AND year = ? AND quarter = ?", resolved, year, quarter).
		Count(&count).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if count > 0 {
		return nil, duplicate()
	}

	report := &models.QuarterlyReport{
		UnitID:      resolved,
		Year:        year,
		Quarter:     quarter,
		Status:      workflow.StatusDraft,
		CreatedByID: actor.UserID,
		Version:     1,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(report).Error; err != nil {
			if isUniqueConstraintError(err) {
				return duplicate()
			}
			return err
		}
		return writeAudit(tx, AuditEntry{
			ActorID:  actor.UserID,
			UnitID:   &resolved,
			Action:   models.AuditCreate,
			ReportID: &report.ID,
			Message:  fmt.Sprintf("Q%d %d report created for %s", quarter, year, unit.Name),
			IP:       actor.IP,
		})
	})
	if err != nil {
		return nil, internalError(err)
	}
	report.Unit = &unit
	return report, nil
}

// ListReports returns reports of the units the actor may see.
func (s *reportService) ListReports(actor authz.Subject, filter ReportFilter, page pagination.PageRequest) (*pagination.PageResponse[models.QuarterlyReport], error) {
	q := s.db.Model(&models.QuarterlyReport{}).Scopes(actor.UnitScope("unit_id"))
	if filter.Year != nil {
		q = q.Where("year = ?", *filter.Year)
	}
	if filter.Quarter != nil {
		q = q.Where("quarter = ?", *filter.Quarter)
	}
	if filter.UnitID != nil {
		q = q.Where("unit_id = ?", *filter.UnitID)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}

	resp, err := pagination.Find[models.QuarterlyReport](q, page, "year DESC, quarter DESC, created_at DESC", func(db *gorm.DB) *gorm.DB {
		return db.Preload("Unit")
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return resp, nil
}

// GetReport returns a report with its entries and their indicators.
func (s *reportService) GetReport(actor authz.Subject, id string) (*models.QuarterlyReport, error) {
	var report models.QuarterlyReport
	err := s.db.Preload("Unit").
		Preload("Entries", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Entries.Indicator").
		First(&report, "id = ?", id).Error
	if err != nil {
		return nil, lookupError(err, apperrors.ErrReportNotFound)
	}
	if err := actor.RequireUnit(report.UnitID); err != nil {
		return nil, err
	}
	return &report, nil
}

// DeleteReport removes a DRAFT or REJECTED report with its entries.
func (s *reportService) DeleteReport(actor authz.Subject, id string) error {
	report, err := s.GetReport(actor, id)
	if err != nil {
		return err
	}
	if !report.Status.Deletable() {
		return apperrors.WithMessage(apperrors.ErrNotEditable, "Only draft or rejected reports can be deleted")
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("report_id = ?", id).Delete(&models.QuarterlyIndicatorEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.WorkflowAudit{}).Where("context_report_id = ?", id).Update("context_report_id", nil).Error; err != nil {
			return err
		}
		res := tx.Where("id = ? AND version = ?", id, report.Version).Delete(&models.QuarterlyReport{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrConcurrentModification
		}
		return writeAudit(tx, AuditEntry{
			ActorID: actor.UserID,
			UnitID:  &report.UnitID,
			Action:  models.AuditDelete,
			Message: fmt.Sprintf("%s deleted", report.Ref().Label),
			IP:      actor.IP,
		})
	})
	if err != nil {
		return internalError(err)
	}
	return nil
}

// SubmitReport moves a DRAFT report with at least one entry to SUBMITTED.
func (s *reportService) SubmitReport(actor authz.Subject, id string) (*models.QuarterlyReport, error) {
	if err := applyTransition(s.db, actor, reportKind, id, workflow.ActionSubmit, ""); err != nil {
		return nil, err
	}
	return s.GetReport(actor, id)
}

// ApproveReport moves a SUBMITTED report to APPROVED.
func (s *reportService) ApproveReport(actor authz.Subject, id string) (*models.QuarterlyReport, error) {
	if err := applyTransition(s.db, actor, reportKind, id, workflow.ActionApprove, ""); err != nil {
		return nil, err
	}
	return s.GetReport(actor, id)
}

// RejectReport moves a SUBMITTED report to REJECTED.
func (s *reportService) RejectReport(actor authz.Subject, id, reason string) (*models.QuarterlyReport, error) {
	if err := applyTransition(s.db, actor, reportKind, id, workflow.ActionReject, reason); err != nil {
		return nil, err
	}
	return s.GetReport(actor, id)
}

// BulkApproveReports approves every SUBMITTED report in ids, skipping the rest.
func (s *reportService) BulkApproveReports(actor authz.Subject, ids []string, reason string) (*BulkResult, error) {
	return bulkTransition(s.db, actor, reportKind, ids, workflow.ActionApprove, reason)
}

// BulkRejectReports rejects every SUBMITTED report in ids, skipping the rest.
func (s *reportService) BulkRejectReports(actor authz.Subject, ids []string, reason string) (*BulkResult, error) {
	if reason == "" {
		return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "A reason is required",
			map[string][]string{"reason": {"This field is required."}})
	}
	return bulkTransition(s.db, actor, reportKind, ids, workflow.ActionReject, reason)
}

func (s *reportService) editableReport(actor authz.Subject, reportID string) (*models.QuarterlyReport, error) {
	var report models.QuarterlyReport
	if err := s.db.Preload("Unit").First(&report, "id = ?", reportID).Error; err != nil {
		return nil, lookupError(err, apperrors.ErrReportNotFound)
	}
	if err := actor.RequireUnit(report.UnitID); err != nil {
		return nil, err
	}
	if !report.Status.Editable() {
		return nil, apperrors.WithMessage(apperrors.ErrNotEditable, "Entries can only be changed while the report is a draft")
	}
	return &report, nil
}

// AddEntry records an achieved value on a DRAFT report.
func (s *reportService) AddEntry(actor authz.Subject, reportID string, in EntryInput) (*models.QuarterlyIndicatorEntry, error) {
	report, err := s.editableReport(actor, reportID)
	if err != nil {
		return nil, err
	}
	ind, err := lineItemIndicator(s.db, in.IndicatorID, report.UnitID)
	if err != nil {
		return nil, err
	}

	var count int64
	if err := s.db.Model(&models.QuarterlyIndicatorEntry{}).Where("report_id = ? AND indicator_id = ?", reportID, ind.ID).Count(&count).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if count > 0 {
		return nil, apperrors.ErrDuplicateEntry
	}

	entry := &models.QuarterlyIndicatorEntry{
		ReportID:      reportID,
		IndicatorID:   ind.ID,
		AchievedValue: in.AchievedValue,
		Remarks:       in.Remarks,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := holdDraft(tx, reportKind, reportID); err != nil {
			return err
		}
		if err := tx.Create(entry).Error; err != nil {
			if isUniqueConstraintError(err) {
				return apperrors.ErrDuplicateEntry
			}
			return err
		}
		return writeAudit(tx, AuditEntry{
			ActorID:  actor.UserID,
			UnitID:   &report.UnitID,
			Action:   models.AuditCreate,
			ReportID: &report.ID,
			Message:  fmt.Sprintf("Entry for %s added to %s", ind.Code, report.Ref().Label),
			IP:       actor.IP,
		})
	})
	if err != nil {
		return nil, internalError(err)
	}
	entry.Indicator = ind
	return entry, nil
}

func (s *reportService) getEntry(reportID, entryID string) (*models.QuarterlyIndicatorEntry, error) {
	var entry models.QuarterlyIndicatorEntry
	if err := s.db.Preload("Indicator").First(&entry, "id = ? AND report_id = ?", entryID, reportID).Error; err != nil {
		return nil, lookupError(err, apperrors.ErrEntryNotFound)
	}
	return &entry, nil
}

// UpdateEntry edits an entry of a DRAFT report.
func (s *reportService) UpdateEntry(actor authz.Subject, reportID, entryID string, in EntryUpdateInput) (*models.QuarterlyIndicatorEntry, error) {
	report, err := s.editableReport(actor, reportID)
	if err != nil {
		return nil, err
	}
	entry, err := s.getEntry(reportID, entryID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if in.AchievedValue != nil {
		updates["achieved_value"] = *in.AchievedValue
	}
	if in.Remarks != nil {
		updates["remarks"] = *in.Remarks
	}
	if len(updates) == 0 {
		return entry, nil
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := holdDraft(tx, reportKind, reportID); err != nil {
			return err
		}
		if err := tx.Model(&models.QuarterlyIndicatorEntry{}).Where("id = ?", entryID).Updates(updates).Error; err != nil {
			return err
		}
		return writeAudit(tx, AuditEntry{
			ActorID:  actor.UserID,
			UnitID:   &report.UnitID,
			Action:   models.AuditUpdate,
			ReportID: &report.ID,
			Message:  fmt.Sprintf("Entry %s updated in %s", entryCode(entry), report.Ref().Label),
			Details:  updates,
			IP:       actor.IP,
		})
	})
	if err != nil {
		return nil, internalError(err)
	}
	return s.getEntry(reportID, entryID)
}

// DeleteEntry removes an entry from a DRAFT report.
func (s *reportService) DeleteEntry(actor authz.Subject, reportID, entryID string) error {
	report, err := s.editableReport(actor, reportID)
	if err != nil {
		return err
	}
	entry, err := s.getEntry(reportID, entryID)
	if err != nil {
		return err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := holdDraft(tx, reportKind, reportID); err != nil {
			return err
		}
		if err := tx.Where("id = ?", entryID).Delete(&models.QuarterlyIndicatorEntry{}).Error; err != nil {
			return err
		}
		return writeAudit(tx, AuditEntry{
			ActorID:  actor.UserID,
			UnitID:   &report.UnitID,
			Action:   models.AuditDelete,
			ReportID: &report.ID,
			Message:  fmt.Sprintf("Entry %s removed from %s", entryCode(entry), report.Ref().Label),
			IP:       actor.IP,
		})
	})
	if err != nil {
		return internalError(err)
	}
	return nil
}

func entryCode(e *models.QuarterlyIndicatorEntry) string {
	if e.Indicator != nil {
		return e.Indicator.Code
	}
	return e.IndicatorID
}
