package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"agriplan/internal/authz"
	apperrors "agriplan/internal/errors"
	"agriplan/internal/logger"
	"agriplan/internal/models"
	"agriplan/internal/workflow"
)

// workflowKind adapts an aggregate (annual plan or quarterly report) to the
// shared transition logic.
type workflowKind struct {
	noun      string // "plan", "report"
	itemsNoun string // "targets", "entries"
	notFound  *apperrors.AppError
	model     func() interface{}
	load      func(tx *gorm.DB, id string) (models.WorkflowRef, error)
	lineItems func(tx *gorm.DB, id string) (int64, error)
	context   func(id string) (planID, reportID *string)
}

var auditActions = map[workflow.Action]models.AuditAction{
	workflow.ActionSubmit:  models.AuditSubmit,
	workflow.ActionApprove: models.AuditApprove,
	workflow.ActionReject:  models.AuditReject,
}

var planKind = workflowKind{
	noun:      "plan",
	itemsNoun: "targets",
	notFound:  apperrors.ErrPlanNotFound,
	model:     func() interface{} { return &models.AnnualPlan{} },
	load: func(tx *gorm.DB, id string) (models.WorkflowRef, error) {
		var plan models.AnnualPlan
		if err := tx.Preload("Unit").First(&plan, "id = ?", id).Error; err != nil {
			return models.WorkflowRef{}, err
		}
		return plan.Ref(), nil
	},
	lineItems: func(tx *gorm.DB, id string) (int64, error) {
		var n int64
		err := tx.Model(&models.AnnualPlanTarget{}).Where("plan_id = ?", id).Count(&n).Error
		return n, err
	},
	context: func(id string) (*string, *string) { return strPtr(id), nil },
}

var reportKind = workflowKind{
	noun:      "report",
	itemsNoun: "entries",
	notFound:  apperrors.ErrReportNotFound,
	model:     func() interface{} { return &models.QuarterlyReport{} },
	load: func(tx *gorm.DB, id string) (models.WorkflowRef, error) {
		var report models.QuarterlyReport
		if err := tx.Preload("Unit").First(&report, "id = ?", id).Error; err != nil {
			return models.WorkflowRef{}, err
		}
		return report.Ref(), nil
	},
	lineItems: func(tx *gorm.DB, id string) (int64, error) {
		var n int64
		err := tx.Model(&models.QuarterlyIndicatorEntry{}).Where("report_id = ?", id).Count(&n).Error
		return n, err
	},
	context: func(id string) (*string, *string) { return nil, strPtr(id) },
}

// holdDraft re-checks inside tx that the record is still editable. The
// touch takes the row lock, so a concurrent transition either commits
// first and this fails, or waits for tx to finish.
func holdDraft(tx *gorm.DB, kind workflowKind, id string) error {
	res := tx.Model(kind.model()).
		Where("id = ? AND status = ?", id, workflow.StatusDraft).
		Update("updated_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.WithMessage(apperrors.ErrNotEditable,
			fmt.Sprintf("%s can only be changed while the %s is a draft", capitalize(kind.itemsNoun), kind.noun))
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// transition applies action to one record inside tx. The status change is
// a conditional update on (id, status, version), so a concurrent transition
// makes this one fail instead of overwriting it. message overrides the
// default audit message when non-empty.
func transition(tx *gorm.DB, actor authz.Subject, kind workflowKind, id string, action workflow.Action, reason, message string) error {
	t, ok := workflow.Lookup(action)
	if !ok {
		return apperrors.WithMessage(apperrors.ErrInvalidTransition, fmt.Sprintf("Unknown action %q", action))
	}

	ref, err := kind.load(tx, id)
	if err != nil {
		return lookupError(err, kind.notFound)
	}

	if t.Reviewer {
		err = actor.RequireOn(authz.ApproveWorkflow, ref.UnitID)
	} else {
		err = actor.RequireUnit(ref.UnitID)
	}
	if err != nil {
		return err
	}

	if !t.Allowed(ref.Status) {
		return apperrors.WithMessage(apperrors.ErrInvalidTransition,
			fmt.Sprintf("Only %s %ss can be %s", strings.ToLower(string(t.From)), kind.noun, action.PastTense()))
	}

	if action == workflow.ActionSubmit {
		n, err := kind.lineItems(tx, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return apperrors.WithMessage(apperrors.ErrEmptySubmission,
				fmt.Sprintf("Cannot submit %s without %s", kind.noun, kind.itemsNoun))
		}
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":  t.To,
		"version": gorm.Expr("version + 1"),
	}
	switch action {
	case workflow.ActionSubmit:
		updates["submitted_at"] = now
	case workflow.ActionApprove:
		updates["approved_by_id"] = actor.UserID
		updates["approved_at"] = now
	case workflow.ActionReject:
		updates["rejection_reason"] = reason
	}

	res := tx.Model(kind.model()).
		Where("id = ? AND status = ? AND version = ?", ref.ID, ref.Status, ref.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		current, err := kind.load(tx, id)
		if err != nil {
			return lookupError(err, kind.notFound)
		}
		if current.Status != ref.Status {
			return apperrors.WithMessage(apperrors.ErrInvalidTransition,
				fmt.Sprintf("The %s is now %s", kind.noun, current.Status))
		}
		return apperrors.ErrConcurrentModification
	}

	if message == "" {
		message = fmt.Sprintf("%s %s by %s", ref.Label, action.PastTense(), actor.Username)
		if action == workflow.ActionReject && reason != "" {
			message += ": " + reason
		}
	}
	planID, reportID := kind.context(ref.ID)
	unitID := ref.UnitID
	return writeAudit(tx, AuditEntry{
		ActorID:  actor.UserID,
		UnitID:   &unitID,
		Action:   auditActions[action],
		PlanID:   planID,
		ReportID: reportID,
		Message:  message,
		IP:       actor.IP,
	})
}

// applyTransition runs a single transition in its own transaction.
func applyTransition(db *gorm.DB, actor authz.Subject, kind workflowKind, id string, action workflow.Action, reason string) error {
	err := db.Transaction(func(tx *gorm.DB) error {
		return transition(tx, actor, kind, id, action, reason, "")
	})
	if err != nil {
		return internalError(err)
	}
	return nil
}

// bulkTransition applies a reviewer action to many records in one
// transaction. Records that are missing, inaccessible, in the wrong status
// or changed concurrently are skipped; a database failure rolls back the
// whole batch.
func bulkTransition(db *gorm.DB, actor authz.Subject, kind workflowKind, ids []string, action workflow.Action, reason string) (*BulkResult, error) {
	if err := actor.Require(authz.ApproveWorkflow); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "No ids given",
			map[string][]string{kind.noun + "_ids": {"This list may not be empty."}})
	}

	message := ""
	if reason != "" {
		past := action.PastTense()
		message = fmt.Sprintf("Bulk %s: %s", past, reason)
	} else {
		message = fmt.Sprintf("Bulk %s", action.PastTense())
	}

	result := &BulkResult{SkippedIDs: []string{}}
	err := db.Transaction(func(tx *gorm.DB) error {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true

			err := transition(tx, actor, kind, id, action, reason, message)
			if err == nil {
				result.Count++
				continue
			}
			if isSkippable(err) {
				result.SkippedIDs = append(result.SkippedIDs, id)
				continue
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, internalError(err)
	}

	logger.Get().Infow("bulk transition",
		"kind", kind.noun,
		"action", action,
		"actor_id", actor.UserID,
		"count", result.Count,
		"skipped", len(result.SkippedIDs),
	)
	return result, nil
}

// isSkippable reports whether a per-record failure in a bulk call should be
// skipped rather than abort the batch.
func isSkippable(err error) bool {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.StatusCode < http.StatusInternalServerError
}
