package models

import "gorm.io/datatypes"

// ImportSource selects what an import populates.
type ImportSource string

const (
	ImportSourceAnnual    ImportSource = "ANNUAL"
	ImportSourceQuarterly ImportSource = "QUARTERLY"
)

// ImportStatus is the outcome of an import batch.
type ImportStatus string

const (
	ImportStatusPending   ImportStatus = "PENDING"
	ImportStatusCompleted ImportStatus = "COMPLETED"
	ImportStatusFailed    ImportStatus = "FAILED"
)

// ImportBatch summarizes one bulk upload.
type ImportBatch struct {
	Base
	UnitID         *string        `gorm:"type:uuid;index" json:"unit_id"`
	UploadedByID   string         `gorm:"type:uuid;not null;index" json:"uploaded_by_id"`
	FileName       string         `gorm:"not null" json:"file_name"`
	Source         ImportSource   `gorm:"not null;size:16" json:"source"`
	Year           int            `gorm:"not null" json:"year"`
	Quarter        *int           `json:"quarter,omitempty"`
	ProcessedCount int            `gorm:"not null;default:0" json:"processed_count"`
	FailedCount    int            `gorm:"not null;default:0" json:"failed_count"`
	Status         ImportStatus   `gorm:"not null;size:16" json:"status"`
	Errors         datatypes.JSON `json:"errors,omitempty"`

	Unit *Unit `gorm:"foreignKey:UnitID" json:"unit,omitempty"`
}
