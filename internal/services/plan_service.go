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

const (
	minYear = 2000
	maxYear = 2100
)

func validateYear(year int) error {
	if year < minYear || year > maxYear {
		return apperrors.WithFields(apperrors.ErrInvalidInput, "Invalid year",
			map[string][]string{"year": {fmt.Sprintf("Ensure this value is between %d and %d.", minYear, maxYear)}})
	}
	return nil
}

// planService handles annual plans and their targets.
type planService struct {
	db *gorm.DB
}

// NewPlanService creates a new PlanServicer.
func NewPlanService(db *gorm.DB) PlanServicer {
	return &planService{db: db}
}

// CreatePlan opens a DRAFT plan for a unit and year. unitID defaults to the
// actor's unit.
func (s *planService) CreatePlan(actor authz.Subject, unitID *string, year int) (*models.AnnualPlan, error) {
	resolved, err := actor.ResolveUnit(unitID)
	if err != nil {
		return nil, err
	}
	if err := validateYear(year); err != nil {
		return nil, err
	}
	var unit models.Unit
	if err := s.db.First(&unit, "id = ?", resolved).Error; err != nil {
		return nil, lookupError(err, apperrors.ErrUnitNotFound)
	}

	duplicate := func() error {
		msg := fmt.Sprintf("An annual plan already exists for %s in %d.", unit.Name, year)
		return apperrors.WithFields(apperrors.ErrDuplicatePlan, msg,
			map[string][]string{apperrors.NonFieldErrors: {msg}})
	}

	var count int64
	if err := s.db.Model(&models.AnnualPlan{}).Where("unit_id = ? AND year = ?", resolved, year).Count(&count).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if count > 0 {
		return nil, duplicate()
	}

	plan := &models.AnnualPlan{
		UnitID:      resolved,
		Year:        year,
		Status:      workflow.StatusDraft,
		CreatedByID: actor.UserID,
		Version:     1,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(plan).Error; err != nil {
			if isUniqueConstraintError(err) {
				return duplicate()
			}
			return err
		}
		return writeAudit(tx, AuditEntry{
			ActorID: actor.UserID,
			UnitID:  &resolved,
			Action:  models.AuditCreate,
			PlanID:  &plan.ID,
			Message: fmt.Sprintf("Annual plan %d created for %s", year, unit.Name),
			IP:      actor.IP,
		})
	})
	if err != nil {
		return nil, internalError(err)
	}
	plan.Unit = &unit
	return plan, nil
}

// ListPlans returns plans of the units the actor may see.
func (s *planService) ListPlans(actor authz.Subject, filter PlanFilter, page pagination.PageRequest) (*pagination.PageResponse[models.AnnualPlan], error) {
	q := s.db.Model(&models.AnnualPlan{}).Scopes(actor.UnitScope("unit_id"))
	if filter.Year != nil {
		q = q.Where("year = ?", *filter.Year)
	}
	if filter.UnitID != nil {
		q = q.Where("unit_id = ?", *filter.UnitID)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}

	resp, err := pagination.Find[models.AnnualPlan](q, page, "year DESC, created_at DESC", func(db *gorm.DB) *gorm.DB {
		return db.Preload("Unit")
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return resp, nil
}

// GetPlan returns a plan with its targets and their indicators.
func (s *planService) GetPlan(actor authz.Subject, id string) (*models.AnnualPlan, error) {
	var plan models.AnnualPlan
	err := s.db.Preload("Unit").
		Preload("Targets", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Targets.Indicator").
		First(&plan, "id = ?", id).Error
	if err != nil {
		return nil, lookupError(err, apperrors.ErrPlanNotFound)
	}
	if err := actor.RequireUnit(plan.UnitID); err != nil {
		return nil, err
	}
	return &plan, nil
}

// DeletePlan removes a DRAFT or REJECTED plan with its targets.
func (s *planService) DeletePlan(actor authz.Subject, id string) error {
	plan, err := s.GetPlan(actor, id)
	if err != nil {
		return err
	}
	if !plan.Status.Deletable() {
		return apperrors.WithMessage(apperrors.ErrNotEditable, "Only draft or rejected plans can be deleted")
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("plan_id = ?", id).Delete(&models.AnnualPlanTarget{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.WorkflowAudit{}).Where("context_plan_id = ?", id).Update("context_plan_id", nil).Error; err != nil {
			return err
		}
		res := tx.Where("id = ? AND version = ?", id, plan.Version).Delete(&models.AnnualPlan{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrConcurrentModification
		}
		return writeAudit(tx, AuditEntry{
			ActorID: actor.UserID,
			UnitID:  &plan.UnitID,
			Action:  models.AuditDelete,
			Message: fmt.Sprintf("%s deleted", plan.Ref().Label),
			IP:      actor.IP,
		})
	})
	if err != nil {
		return internalError(err)
	}
	return nil
}

// SubmitPlan moves a DRAFT plan with at least one target to SUBMITTED.
func (s *planService) SubmitPlan(actor authz.Subject, id string) (*models.AnnualPlan, error) {
	if err := applyTransition(s.db, actor, planKind, id, workflow.ActionSubmit, ""); err != nil {
		return nil, err
	}
	return s.GetPlan(actor, id)
}

// ApprovePlan moves a SUBMITTED plan to APPROVED.
func (s *planService) ApprovePlan(actor authz.Subject, id string) (*models.AnnualPlan, error) {
	if err := applyTransition(s.db, actor, planKind, id, workflow.ActionApprove, ""); err != nil {
		return nil, err
	}
	return s.GetPlan(actor, id)
}

// RejectPlan moves a SUBMITTED plan to REJECTED.
func (s *planService) RejectPlan(actor authz.Subject, id, reason string) (*models.AnnualPlan, error) {
	if err := applyTransition(s.db, actor, planKind, id, workflow.ActionReject, reason); err != nil {
		return nil, err
	}
	return s.GetPlan(actor, id)
}

// BulkApprovePlans approves every SUBMITTED plan in ids, skipping the rest.
func (s *planService) BulkApprovePlans(actor authz.Subject, ids []string, reason string) (*BulkResult, error) {
	return bulkTransition(s.db, actor, planKind, ids, workflow.ActionApprove, reason)
}

// BulkRejectPlans rejects every SUBMITTED plan in ids, skipping the rest.
func (s *planService) BulkRejectPlans(actor authz.Subject, ids []string, reason string) (*BulkResult, error) {
	if reason == "" {
		return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "A reason is required",
			map[string][]string{"reason": {"This field is required."}})
	}
	return bulkTransition(s.db, actor, planKind, ids, workflow.ActionReject, reason)
}

// editablePlan loads a plan the actor may change targets on.
func (s *planService) editablePlan(actor authz.Subject, planID string) (*models.AnnualPlan, error) {
	var plan models.AnnualPlan
	if err := s.db.Preload("Unit").First(&plan, "id = ?", planID).Error; err != nil {
		return nil, lookupError(err, apperrors.ErrPlanNotFound)
	}
	if err := actor.RequireUnit(plan.UnitID); err != nil {
		return nil, err
	}
	if !plan.Status.Editable() {
		return nil, apperrors.WithMessage(apperrors.ErrNotEditable, "Targets can only be changed while the plan is a draft")
	}
	return &plan, nil
}

// lineItemIndicator checks that an indicator exists, is active and belongs to unitID.
func lineItemIndicator(db *gorm.DB, indicatorID, unitID string) (*models.Indicator, error) {
	var ind models.Indicator
	if err := db.First(&ind, "id = ?", indicatorID).Error; err != nil {
		return nil, lookupError(err, apperrors.ErrIndicatorNotFound)
	}
	if ind.OwnerUnitID != unitID {
		return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "Indicator belongs to another unit",
			map[string][]string{"indicator_id": {"Indicator does not belong to this unit."}})
	}
	if !ind.Active {
		return nil, apperrors.WithMessage(apperrors.ErrIndicatorInactive, fmt.Sprintf("Indicator %s is not active", ind.Code))
	}
	return &ind, nil
}

// AddTarget adds an indicator target to a DRAFT plan.
func (s *planService) AddTarget(actor authz.Subject, planID string, in TargetInput) (*models.AnnualPlanTarget, error) {
	plan, err := s.editablePlan(actor, planID)
	if err != nil {
		return nil, err
	}
	ind, err := lineItemIndicator(s.db, in.IndicatorID, plan.UnitID)
	if err != nil {
		return nil, err
	}

	var count int64
	if err := s.db.Model(&models.AnnualPlanTarget{}).Where("plan_id = ? AND indicator_id = ?", planID, ind.ID).Count(&count).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if count > 0 {
		return nil, apperrors.ErrDuplicateTarget
	}

	target := &models.AnnualPlanTarget{
		PlanID:        planID,
		IndicatorID:   ind.ID,
		TargetValue:   in.TargetValue,
		BaselineValue: in.BaselineValue,
		Remarks:       in.Remarks,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := holdDraft(tx, planKind, planID); err != nil {
			return err
		}
		if err := tx.Create(target).Error; err != nil {
			if isUniqueConstraintError(err) {
				return apperrors.ErrDuplicateTarget
			}
			return err
		}
		return writeAudit(tx, AuditEntry{
			ActorID: actor.UserID,
			UnitID:  &plan.UnitID,
			Action:  models.AuditCreate,
			PlanID:  &plan.ID,
			Message: fmt.Sprintf("Target for %s added to %s", ind.Code, plan.Ref().Label),
			IP:      actor.IP,
		})
	})
	if err != nil {
		return nil, internalError(err)
	}
	target.Indicator = ind
	return target, nil
}

func (s *planService) getTarget(planID, targetID string) (*models.AnnualPlanTarget, error) {
	var target models.AnnualPlanTarget
	if err := s.db.Preload("Indicator").First(&target, "id = ? AND plan_id = ?", targetID, planID).Error; err != nil {
		return nil, lookupError(err, apperrors.ErrTargetNotFound)
	}
	return &target, nil
}

// UpdateTarget edits a target of a DRAFT plan.
func (s *planService) UpdateTarget(actor authz.Subject, planID, targetID string, in TargetUpdateInput) (*models.AnnualPlanTarget, error) {
	plan, err := s.editablePlan(actor, planID)
	if err != nil {
		return nil, err
	}
	target, err := s.getTarget(planID, targetID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if in.TargetValue != nil {
		updates["target_value"] = *in.TargetValue
	}
	if in.BaselineValue != nil {
		updates["baseline_value"] = *in.BaselineValue
	}
	if in.Remarks != nil {
		updates["remarks"] = *in.Remarks
	}
	if len(updates) == 0 {
		return target, nil
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := holdDraft(tx, planKind, planID); err != nil {
			return err
		}
		if err := tx.Model(&models.AnnualPlanTarget{}).Where("id = ?", targetID).Updates(updates).Error; err != nil {
			return err
		}
		return writeAudit(tx, AuditEntry{
			ActorID: actor.UserID,
			UnitID:  &plan.UnitID,
			Action:  models.AuditUpdate,
			PlanID:  &plan.ID,
			Message: fmt.Sprintf("Target %s updated in %s", targetCode(target), plan.Ref().Label),
			Details: updates,
			IP:      actor.IP,
		})
	})
	if err != nil {
		return nil, internalError(err)
	}
	return s.getTarget(planID, targetID)
}

// DeleteTarget removes a target from a DRAFT plan.
func (s *planService) DeleteTarget(actor authz.Subject, planID, targetID string) error {
	plan, err := s.editablePlan(actor, planID)
	if err != nil {
		return err
	}
	target, err := s.getTarget(planID, targetID)
	if err != nil {
		return err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := holdDraft(tx, planKind, planID); err != nil {
			return err
		}
		if err := tx.Where("id = ?", targetID).Delete(&models.AnnualPlanTarget{}).Error; err != nil {
			return err
		}
		return writeAudit(tx, AuditEntry{
			ActorID: actor.UserID,
			UnitID:  &plan.UnitID,
			Action:  models.AuditDelete,
			PlanID:  &plan.ID,
			Message: fmt.Sprintf("Target %s removed from %s", targetCode(target), plan.Ref().Label),
			IP:      actor.IP,
		})
	})
	if err != nil {
		return internalError(err)
	}
	return nil
}

func targetCode(t *models.AnnualPlanTarget) string {
	if t.Indicator != nil {
		return t.Indicator.Code
	}
	return t.IndicatorID
}
