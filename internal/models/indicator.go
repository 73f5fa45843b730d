package models

// Indicator is a measurable metric owned by a unit. Codes are unique per unit.
type Indicator struct {
	Base
	OwnerUnitID   string `gorm:"type:uuid;not null;uniqueIndex:idx_indicators_unit_code" json:"owner_unit_id"`
	Code          string `gorm:"not null;size:50;uniqueIndex:idx_indicators_unit_code" json:"code"`
	Name          string `gorm:"not null;size:255" json:"name"`
	Description   string `json:"description"`
	UnitOfMeasure string `gorm:"size:50" json:"unit_of_measure"`
	Active        bool   `gorm:"not null;default:true" json:"active"`

	OwnerUnit *Unit `gorm:"foreignKey:OwnerUnitID" json:"owner_unit,omitempty"`
}
