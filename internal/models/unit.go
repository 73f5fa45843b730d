package models

// UnitType classifies an organizational unit.
type UnitType string

const (
	UnitTypeStrategicAffairs UnitType = "STRATEGIC_AFFAIRS"
	UnitTypeStateMinister    UnitType = "STATE_MINISTER"
	UnitTypeAdvisor          UnitType = "ADVISOR"
)

// Valid reports whether t is a known unit type.
func (t UnitType) Valid() bool {
	switch t {
	case UnitTypeStrategicAffairs, UnitTypeStateMinister, UnitTypeAdvisor:
		return true
	}
	return false
}

// Unit is an office or department. Units form a tree through ParentID.
type Unit struct {
	Base
	Name        string   `gorm:"uniqueIndex;not null;size:255" json:"name"`
	Type        UnitType `gorm:"not null;size:32" json:"type"`
	ParentID    *string  `gorm:"type:uuid;index" json:"parent_id"`
	Description string   `json:"description"`

	Parent *Unit `gorm:"foreignKey:ParentID" json:"parent,omitempty"`
}
