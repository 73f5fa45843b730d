package models

import (
	"fmt"
	"time"

	"agriplan/internal/workflow"
)

// WorkflowRef is the part of a plan or report the approval workflow acts on.
type WorkflowRef struct {
	ID      string
	UnitID  string
	Status  workflow.Status
	Version int
	Label   string
}

// AnnualPlan is a unit's yearly set of indicator targets. At most one plan
// exists per (unit, year).
type AnnualPlan struct {
	Base
	UnitID          string          `gorm:"type:uuid;not null;uniqueIndex:idx_annual_plans_unit_year" json:"unit_id"`
	Year            int             `gorm:"not null;uniqueIndex:idx_annual_plans_unit_year" json:"year"`
	Status          workflow.Status `gorm:"not null;size:20;index" json:"status"`
	CreatedByID     string          `gorm:"type:uuid;not null" json:"created_by_id"`
	SubmittedAt     *time.Time      `json:"submitted_at,omitempty"`
	ApprovedByID    *string         `gorm:"type:uuid" json:"approved_by_id,omitempty"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	Version         int             `gorm:"not null;default:1" json:"version"`

	Unit    *Unit              `gorm:"foreignKey:UnitID" json:"unit,omitempty"`
	Targets []AnnualPlanTarget `gorm:"foreignKey:PlanID" json:"targets,omitempty"`
}

// Ref implements the workflow view of the plan.
func (p *AnnualPlan) Ref() WorkflowRef {
	label := fmt.Sprintf("Annual plan %d", p.Year)
	if p.Unit != nil {
		label = fmt.Sprintf("Annual plan %d for %s", p.Year, p.Unit.Name)
	}
	return WorkflowRef{ID: p.ID, UnitID: p.UnitID, Status: p.Status, Version: p.Version, Label: label}
}

// AnnualPlanTarget is one indicator commitment within a plan.
type AnnualPlanTarget struct {
	Base
	PlanID        string   `gorm:"type:uuid;not null;uniqueIndex:idx_annual_plan_targets_plan_indicator" json:"plan_id"`
	IndicatorID   string   `gorm:"type:uuid;not null;uniqueIndex:idx_annual_plan_targets_plan_indicator" json:"indicator_id"`
	TargetValue   float64  `gorm:"not null" json:"target_value"`
	BaselineValue *float64 `json:"baseline_value"`
	Remarks       string   `json:"remarks"`

	Indicator *Indicator `gorm:"foreignKey:IndicatorID" json:"indicator,omitempty"`
}
