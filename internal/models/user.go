package models

import "time"

// Role determines what a user may do.
type Role string

const (
	RoleSuperAdmin       Role = "SUPERADMIN"
	RoleStrategicAffairs Role = "STRATEGIC_AFFAIRS"
	RoleStateMinister    Role = "STATE_MINISTER"
	RoleAdvisor          Role = "ADVISOR"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleStrategicAffairs, RoleStateMinister, RoleAdvisor:
		return true
	}
	return false
}

// User represents the user model in the database
type User struct {
	Base
	Username         string     `gorm:"uniqueIndex;not null;size:150" json:"username"`
	Email            string     `gorm:"uniqueIndex;not null" json:"email"`
	Password         string     `gorm:"not null" json:"-"`
	FirstName        string     `json:"first_name"`
	LastName         string     `json:"last_name"`
	IsActive         bool       `gorm:"not null;default:true" json:"is_active"`
	RefreshTokenHash string     `gorm:"size:64" json:"-"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`

	Profile *UserProfile `gorm:"foreignKey:UserID" json:"profile,omitempty"`
}

// UserProfile binds a user to a role and, optionally, a unit.
type UserProfile struct {
	Base
	UserID string  `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	Role   Role    `gorm:"not null;size:32" json:"role"`
	UnitID *string `gorm:"type:uuid;index" json:"unit_id"`

	Unit *Unit `gorm:"foreignKey:UnitID" json:"unit,omitempty"`
}
