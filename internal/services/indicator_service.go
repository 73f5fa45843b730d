package services

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"agriplan/internal/authz"
	apperrors "agriplan/internal/errors"
	"agriplan/internal/models"
	"agriplan/internal/pagination"
)

// indicatorService handles the indicator registry.
type indicatorService struct {
	db *gorm.DB
}

// NewIndicatorService creates a new IndicatorServicer.
func NewIndicatorService(db *gorm.DB) IndicatorServicer {
	return &indicatorService{db: db}
}

func duplicateCodeError(code string) error {
	return apperrors.WithFields(apperrors.ErrDuplicateIndicatorCode, apperrors.ErrDuplicateIndicatorCode.Message,
		map[string][]string{"code": {fmt.Sprintf("An indicator with code '%s' already exists for this unit.", code)}})
}

func (s *indicatorService) codeTaken(unitID, code, excludeID string) (bool, error) {
	q := s.db.Model(&models.Indicator{}).Where("owner_unit_id = ? AND code = ?", unitID, code)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateIndicator registers an indicator for the actor's unit, or for an
// explicitly chosen unit the actor may access.
func (s *indicatorService) CreateIndicator(actor authz.Subject, in IndicatorInput) (*models.Indicator, error) {
	unitID, err := actor.ResolveUnit(in.OwnerUnitID)
	if err != nil {
		return nil, err
	}
	code := strings.TrimSpace(in.Code)
	name := strings.TrimSpace(in.Name)
	fields := map[string][]string{}
	if code == "" {
		fields["code"] = []string{"This field may not be blank."}
	}
	if name == "" {
		fields["name"] = []string{"This field may not be blank."}
	}
	if len(fields) > 0 {
		return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "Invalid indicator", fields)
	}

	if err := s.db.Select("id").First(&models.Unit{}, "id = ?", unitID).Error; err != nil {
		return nil, lookupError(err, apperrors.ErrUnitNotFound)
	}
	taken, err := s.codeTaken(unitID, code, "")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if taken {
		return nil, duplicateCodeError(code)
	}

	ind := &models.Indicator{
		OwnerUnitID:   unitID,
		Code:          code,
		Name:          name,
		Description:   in.Description,
		UnitOfMeasure: in.UnitOfMeasure,
		Active:        true,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ind).Error; err != nil {
			if isUniqueConstraintError(err) {
				return duplicateCodeError(code)
			}
			return err
		}
		return writeAudit(tx, AuditEntry{
			ActorID: actor.UserID,
			UnitID:  &unitID,
			Action:  models.AuditCreate,
			Message: fmt.Sprintf("Indicator %s created", ind.Code),
			IP:      actor.IP,
		})
	})
	if err != nil {
		return nil, internalError(err)
	}
	return ind, nil
}

// ListIndicators returns indicators of the units the actor may see.
func (s *indicatorService) ListIndicators(actor authz.Subject, filter IndicatorFilter, page pagination.PageRequest) (*pagination.PageResponse[models.Indicator], error) {
	q := s.db.Model(&models.Indicator{}).Scopes(actor.UnitScope("owner_unit_id"))
	if filter.UnitID != nil {
		q = q.Where("owner_unit_id = ?", *filter.UnitID)
	}
	if filter.Active != nil {
		q = q.Where("active = ?", *filter.Active)
	}
	if filter.Search != "" {
		p := likePattern(filter.Search)
		q = q.Where("LOWER(code) LIKE ? OR LOWER(name) LIKE ?", p, p)
	}

	resp, err := pagination.Find[models.Indicator](q, page, "code ASC", func(db *gorm.DB) *gorm.DB {
		return db.Preload("OwnerUnit")
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return resp, nil
}

// GetIndicator returns an indicator the actor may access.
func (s *indicatorService) GetIndicator(actor authz.Subject, id string) (*models.Indicator, error) {
	var ind models.Indicator
	if err := s.db.Preload("OwnerUnit").First(&ind, "id = ?", id).Error; err != nil {
		return nil, lookupError(err, apperrors.ErrIndicatorNotFound)
	}
	if err := actor.RequireUnit(ind.OwnerUnitID); err != nil {
		return nil, err
	}
	return &ind, nil
}

// UpdateIndicator edits an indicator. Codes stay unique within the unit.
func (s *indicatorService) UpdateIndicator(actor authz.Subject, id string, in IndicatorUpdateInput) (*models.Indicator, error) {
	ind, err := s.GetIndicator(actor, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if in.Code != nil {
		code := strings.TrimSpace(*in.Code)
		if code == "" {
			return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "Invalid indicator",
				map[string][]string{"code": {"This field may not be blank."}})
		}
		if code != ind.Code {
			taken, err := s.codeTaken(ind.OwnerUnitID, code, ind.ID)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
			}
			if taken {
				return nil, duplicateCodeError(code)
			}
			updates["code"] = code
		}
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "Invalid indicator",
				map[string][]string{"name": {"This field may not be blank."}})
		}
		updates["name"] = name
	}
	if in.Description != nil {
		updates["description"] = *in.Description
	}
	if in.UnitOfMeasure != nil {
		updates["unit_of_measure"] = *in.UnitOfMeasure
	}
	if len(updates) == 0 {
		return ind, nil
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Indicator{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			if isUniqueConstraintError(err) {
				return duplicateCodeError(fmt.Sprint(updates["code"]))
			}
			return err
		}
		return writeAudit(tx, AuditEntry{
			ActorID: actor.UserID,
			UnitID:  &ind.OwnerUnitID,
			Action:  models.AuditUpdate,
			Message: fmt.Sprintf("Indicator %s updated", ind.Code),
			Details: updates,
			IP:      actor.IP,
		})
	})
	if err != nil {
		return nil, internalError(err)
	}
	return s.GetIndicator(actor, id)
}

// DeleteIndicator removes an indicator that no target or entry references.
func (s *indicatorService) DeleteIndicator(actor authz.Subject, id string) error {
	ind, err := s.GetIndicator(actor, id)
	if err != nil {
		return err
	}

	var targets, entries int64
	if err := s.db.Model(&models.AnnualPlanTarget{}).Where("indicator_id = ?", id).Count(&targets).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if err := s.db.Model(&models.QuarterlyIndicatorEntry{}).Where("indicator_id = ?", id).Count(&entries).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if targets+entries > 0 {
		return apperrors.WithMessage(apperrors.ErrIndicatorInUse,
			fmt.Sprintf("Indicator %s is referenced by %d plan target(s) and %d report entry(ies)", ind.Code, targets, entries))
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).Delete(&models.Indicator{}).Error; err != nil {
			return err
		}
		return writeAudit(tx, AuditEntry{
			ActorID: actor.UserID,
			UnitID:  &ind.OwnerUnitID,
			Action:  models.AuditDelete,
			Message: fmt.Sprintf("Indicator %s deleted", ind.Code),
			IP:      actor.IP,
		})
	})
	if err != nil {
		return internalError(err)
	}
	return nil
}

// ToggleActive flips the active flag of an indicator.
func (s *indicatorService) ToggleActive(actor authz.Subject, id string) (*models.Indicator, error) {
	ind, err := s.GetIndicator(actor, id)
	if err != nil {
		return nil, err
	}

	active := !ind.Active
	action, verb := models.AuditActivate, "activated"
	if !active {
		action, verb = models.AuditDeactivate, "deactivated"
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Indicator{}).Where("id = ?", id).Update("active", active).Error; err != nil {
			return err
		}
		return writeAudit(tx, AuditEntry{
			ActorID: actor.UserID,
			UnitID:  &ind.OwnerUnitID,
			Action:  action,
			Message: fmt.Sprintf("Indicator %s %s", ind.Code, verb),
			IP:      actor.IP,
		})
	})
	if err != nil {
		return nil, internalError(err)
	}
	ind.Active = active
	return ind, nil
}

// ValidateCode reports whether code is free within a unit. excludeID skips
// the indicator being edited.
func (s *indicatorService) ValidateCode(unitID, code, excludeID string) (*CodeCheck, error) {
	code = strings.TrimSpace(code)
	if code == "" || unitID == "" {
		return &CodeCheck{Valid: false, Message: "Code and unit_id are required"}, nil
	}
	taken, err := s.codeTaken(unitID, code, excludeID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if taken {
		return &CodeCheck{Valid: false, Message: fmt.Sprintf("An indicator with code '%s' already exists for this unit.", code)}, nil
	}
	return &CodeCheck{Valid: true, Message: "Code is available"}, nil
}
