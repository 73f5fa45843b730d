package models

import (
	"time"

	"agriplan/internal/uuid"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditAction is the kind of event recorded. Values fit in ten characters.
type AuditAction string

const (
	AuditCreate     AuditAction = "CREATE"
	AuditUpdate     AuditAction = "UPDATE"
	AuditDelete     AuditAction = "DELETE"
	AuditSubmit     AuditAction = "SUBMIT"
	AuditApprove    AuditAction = "APPROVE"
	AuditReject     AuditAction = "REJECT"
	AuditImport     AuditAction = "IMPORT"
	AuditExport     AuditAction = "EXPORT"
	AuditLogin      AuditAction = "LOGIN"
	AuditLogout     AuditAction = "LOGOUT"
	AuditActivate   AuditAction = "ACTIVATE"
	AuditDeactivate AuditAction = "DEACTIVATE"
)

// WorkflowAudit is an append-only record of an action. References to units,
// plans and reports are cleared when those rows are deleted.
type WorkflowAudit struct {
	ID              string         `gorm:"type:uuid;primaryKey" json:"id"`
	ActorID         *string        `gorm:"type:uuid;index" json:"actor_id"`
	UnitID          *string        `gorm:"type:uuid;index" json:"unit_id"`
	Action          AuditAction    `gorm:"not null;size:10;index" json:"action"`
	ContextPlanID   *string        `gorm:"type:uuid;index" json:"context_plan_id,omitempty"`
	ContextReportID *string        `gorm:"type:uuid;index" json:"context_report_id,omitempty"`
	Message         string         `gorm:"type:text" json:"message"`
	Details         datatypes.JSON `json:"details,omitempty"`
	IPAddress       string         `gorm:"size:45" json:"ip_address,omitempty"`
	CreatedAt       time.Time      `gorm:"index" json:"created_at"`

	Actor *User `gorm:"foreignKey:ActorID" json:"actor,omitempty"`
	Unit  *Unit `gorm:"foreignKey:UnitID" json:"unit,omitempty"`
}

// BeforeCreate hook generates a UUIDv7 for new records
func (a *WorkflowAudit) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New()
	}
	return nil
}
