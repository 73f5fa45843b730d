package models

import (
	"time"

	"agriplan/internal/uuid"

	"gorm.io/gorm"
)

// Base contains common columns for all tables
type Base struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate hook generates a UUIDv7 for new records
func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New()
	}
	return nil
}

// All lists every model, in dependency order, for schema creation in
// sqlite deployments and tests.
func All() []interface{} {
	return []interface{}{
		&Unit{},
		&User{},
		&UserProfile{},
		&Indicator{},
		&AnnualPlan{},
		&AnnualPlanTarget{},
		&QuarterlyReport{},
		&QuarterlyIndicatorEntry{},
		&WorkflowAudit{},
		&ImportBatch{},
	}
}
