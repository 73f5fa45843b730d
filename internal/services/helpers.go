package services

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	apperrors "agriplan/internal/errors"
	"agriplan/internal/models"
)

// isUniqueConstraintError checks if a database error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // SQLite
		strings.Contains(msg, "duplicate key value violates unique constraint") // PostgreSQL
}

// lookupError maps gorm.ErrRecordNotFound to notFound and anything else to
// an internal error.
func lookupError(err error, notFound *apperrors.AppError) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return internalError(err)
}

// internalError passes AppErrors through and wraps everything else.
func internalError(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.Wrap(apperrors.ErrInternalServer, err)
}

// writeAudit inserts an audit record using tx, so the record commits or
// rolls back with the change it describes.
func writeAudit(tx *gorm.DB, entry AuditEntry) error {
	record := &models.WorkflowAudit{
		UnitID:          entry.UnitID,
		Action:          entry.Action,
		ContextPlanID:   entry.PlanID,
		ContextReportID: entry.ReportID,
		Message:         entry.Message,
		IPAddress:       entry.IP,
	}
	if entry.ActorID != "" {
		actor := entry.ActorID
		record.ActorID = &actor
	}
	if entry.Details != nil {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			return err
		}
		record.Details = datatypes.JSON(data)
	}
	return tx.Create(record).Error
}

func strPtr(s string) *string {
	return &s
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

// likePattern builds a case-insensitive LIKE pattern for a search term.
func likePattern(search string) string {
	return "%" + strings.ToLower(strings.TrimSpace(search)) + "%"
}
