package services

import (
	"agriplan/internal/authz"
	apperrors "agriplan/internal/errors"
	"agriplan/internal/logger"
	"agriplan/internal/models"
	"agriplan/internal/pagination"

	"gorm.io/gorm"
)

// auditService handles audit log recording and browsing.
type auditService struct {
	db *gorm.DB
}

// NewAuditService creates a new AuditServicer.
func NewAuditService(db *gorm.DB) AuditServicer {
	return &auditService{db: db}
}

// Log records an audit event. Errors are logged but never propagate
// so the main operation is not disrupted.
func (s *auditService) Log(entry AuditEntry) {
	if err := writeAudit(s.db, entry); err != nil {
		logger.Get().Errorw("failed to create audit log entry",
			"error", err,
			"actor_id", entry.ActorID,
			"action", entry.Action,
		)
	}
}

// ListAudits returns audit records visible to the actor, newest first.
func (s *auditService) ListAudits(actor authz.Subject, filter AuditFilter, page pagination.PageRequest) (*pagination.PageResponse[models.WorkflowAudit], error) {
	q := s.db.Model(&models.WorkflowAudit{}).Scopes(actor.UnitScope("unit_id"))
	if filter.Action != nil {
		q = q.Where("action = ?", *filter.Action)
	}
	if filter.UnitID != nil {
		q = q.Where("unit_id = ?", *filter.UnitID)
	}
	if filter.PlanID != nil {
		q = q.Where("context_plan_id = ?", *filter.PlanID)
	}
	if filter.ReportID != nil {
		q = q.Where("context_report_id = ?", *filter.ReportID)
	}

	resp, err := pagination.Find[models.WorkflowAudit](q, page, "created_at DESC, id DESC", preloadAuditRefs)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return resp, nil
}

func preloadAuditRefs(db *gorm.DB) *gorm.DB {
	return db.Preload("Actor").Preload("Unit")
}
