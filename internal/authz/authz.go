// Package authz is the single authorization policy: every role check in the
// service layer goes through a Subject.
package authz

import (
	"gorm.io/gorm"

	apperrors "agriplan/internal/errors"
	"agriplan/internal/models"
)

// Capability is a permission granted to a set of roles.
type Capability string

const (
	ApproveWorkflow Capability = "approve_workflow"
	ManageUnits     Capability = "manage_units"
	DeleteUnits     Capability = "delete_units"
	ManageUsers     Capability = "manage_users"
	ViewAllUnits    Capability = "view_all_units"
)

var roleCapabilities = map[models.Role]map[Capability]bool{
	models.RoleSuperAdmin: {
		ApproveWorkflow: true,
		ManageUnits:     true,
		DeleteUnits:     true,
		ManageUsers:     true,
		ViewAllUnits:    true,
	},
	models.RoleStrategicAffairs: {
		ApproveWorkflow: true,
		ManageUnits:     true,
		DeleteUnits:     true,
		ManageUsers:     true,
	},
	models.RoleStateMinister: {},
	models.RoleAdvisor:       {},
}

// Subject is the authenticated actor of a request.
type Subject struct {
	UserID   string
	Username string
	Role     models.Role
	UnitID   *string
	IP       string
}

// NewSubject builds a Subject from a user and its profile.
func NewSubject(user *models.User, profile *models.UserProfile) Subject {
	s := Subject{UserID: user.ID, Username: user.Username}
	if profile != nil {
		s.Role = profile.Role
		s.UnitID = profile.UnitID
	}
	return s
}

// IsSuperAdmin reports whether the subject holds the SUPERADMIN role.
func (s Subject) IsSuperAdmin() bool {
	return s.Role == models.RoleSuperAdmin
}

// Can reports whether the subject's role grants capability c.
func (s Subject) Can(c Capability) bool {
	return roleCapabilities[s.Role][c]
}

// CanAccessUnit reports whether the subject may act on unitID: superadmins
// may act anywhere, everyone else only on their own unit. Child units grant
// no extra access.
func (s Subject) CanAccessUnit(unitID string) bool {
	if s.IsSuperAdmin() {
		return true
	}
	return s.UnitID != nil && *s.UnitID == unitID
}

// Require returns ErrForbidden unless the subject has capability c.
func (s Subject) Require(c Capability) error {
	if !s.Can(c) {
		return apperrors.ErrForbidden
	}
	return nil
}

// RequireUnit returns ErrForbidden unless the subject may act on unitID.
func (s Subject) RequireUnit(unitID string) error {
	if !s.CanAccessUnit(unitID) {
		return apperrors.ErrForbidden
	}
	return nil
}

// RequireOn combines Require and RequireUnit.
func (s Subject) RequireOn(c Capability, unitID string) error {
	if err := s.Require(c); err != nil {
		return err
	}
	return s.RequireUnit(unitID)
}

// ResolveUnit picks the unit an operation targets. An empty request means
// the subject's own unit; an explicit unit must be accessible.
func (s Subject) ResolveUnit(requested *string) (string, error) {
	if requested == nil || *requested == "" {
		if s.UnitID == nil {
			return "", apperrors.WithMessage(apperrors.ErrInvalidInput, "unit_id is required for users without a unit")
		}
		return *s.UnitID, nil
	}
	if err := s.RequireUnit(*requested); err != nil {
		return "", err
	}
	return *requested, nil
}

// UnitScope restricts a query to rows whose column belongs to a unit the
// subject may see.
func (s Subject) UnitScope(column string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if s.Can(ViewAllUnits) {
			return db
		}
		if s.UnitID == nil {
			return db.Where("1 = 0")
		}
		return db.Where(column+" = ?", *s.UnitID)
	}
}
