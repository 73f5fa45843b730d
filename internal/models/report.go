package models

import (
	"fmt"
	"time"

	"agriplan/internal/workflow"
)

// QuarterlyReport records a unit's achievements for one quarter. At most one
// report exists per (unit, year, quarter).
type QuarterlyReport struct {
	Base
	UnitID          string          `gorm:"type:uuid;not null;uniqueIndex:idx_quarterly_reports_unit_period" json:"unit_id"`
	Year            int             `gorm:"not null;uniqueIndex:idx_quarterly_reports_unit_period" json:"year"`
	Quarter         int             `gorm:"not null;uniqueIndex:idx_quarterly_reports_unit_period;check:chk_quarterly_reports_quarter,quarter BETWEEN 1 AND 4" json:"quarter"`
	Status          workflow.Status `gorm:"not null;size:20;index" json:"status"`
	CreatedByID     string          `gorm:"type:uuid;not null" json:"created_by_id"`
	SubmittedAt     *time.Time      `json:"submitted_at,omitempty"`
	ApprovedByID    *string         `gorm:"type:uuid" json:"approved_by_id,omitempty"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	Version         int             `gorm:"not null;default:1" json:"version"`

	Unit    *Unit                     `gorm:"foreignKey:UnitID" json:"unit,omitempty"`
	Entries []QuarterlyIndicatorEntry `gorm:"foreignKey:ReportID" json:"entries,omitempty"`
}

// Ref implements the workflow view of the report.
func (r *QuarterlyReport) Ref() WorkflowRef {
	label := fmt.Sprintf("Q%d %d report", r.Quarter, r.Year)
	if r.Unit != nil {
		label = fmt.Sprintf("Q%d %d report for %s", r.Quarter, r.Year, r.Unit.Name)
	}
	return WorkflowRef{ID: r.ID, UnitID: r.UnitID, Status: r.Status, Version: r.Version, Label: label}
}

// QuarterlyIndicatorEntry is the achieved value for one indicator in a report.
type QuarterlyIndicatorEntry struct {
	Base
	ReportID      string  `gorm:"type:uuid;not null;uniqueIndex:idx_quarterly_entries_report_indicator" json:"report_id"`
	IndicatorID   string  `gorm:"type:uuid;not null;uniqueIndex:idx_quarterly_entries_report_indicator" json:"indicator_id"`
	AchievedValue float64 `gorm:"not null" json:"achieved_value"`
	Remarks       string  `json:"remarks"`

	Indicator *Indicator `gorm:"foreignKey:IndicatorID" json:"indicator,omitempty"`
}
