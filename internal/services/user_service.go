package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"agriplan/internal/authz"
	apperrors "agriplan/internal/errors"
	"agriplan/internal/models"
	"agriplan/internal/pagination"
)

const minPasswordLength = 8

// userService handles identity, authentication and user management.
type userService struct {
	db *gorm.DB
}

// NewUserService creates a new UserServicer.
func NewUserService(db *gorm.DB) UserServicer {
	return &userService{db: db}
}

// Register creates a user and profile through self-registration. The role
// defaults to STRATEGIC_AFFAIRS and may not be SUPERADMIN.
func (s *userService) Register(in UserInput) (*models.User, error) {
	if in.Role == "" {
		in.Role = models.RoleStrategicAffairs
	}
	if in.Role == models.RoleSuperAdmin {
		return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "Cannot self-register as superadmin",
			map[string][]string{"role": {"SUPERADMIN cannot be self-assigned."}})
	}

	var user *models.User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		created, err := createUserTx(tx, in)
		if err != nil {
			return err
		}
		user = created
		return writeAudit(tx, AuditEntry{
			ActorID: created.ID,
			UnitID:  in.UnitID,
			Action:  models.AuditCreate,
			Message: fmt.Sprintf("User %s registered", created.Username),
		})
	})
	if err != nil {
		return nil, internalError(err)
	}
	return user, nil
}

// createUserTx validates uniqueness, hashes the password and inserts the
// user with its profile.
func createUserTx(tx *gorm.DB, in UserInput) (*models.User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if username == "" || email == "" || in.Password == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "username, email and password are required")
	}
	if !in.Role.Valid() {
		return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "Invalid role",
			map[string][]string{"role": {fmt.Sprintf("%q is not a valid role.", in.Role)}})
	}

	var count int64
	if err := tx.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if count > 0 {
		return nil, apperrors.ErrDuplicateUsername
	}
	if err := tx.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if count > 0 {
		return nil, apperrors.ErrDuplicateEmail
	}

	if in.UnitID != nil && *in.UnitID != "" {
		if err := tx.Select("id").First(&models.Unit{}, "id = ?", *in.UnitID).Error; err != nil {
			return nil, lookupError(err, apperrors.ErrUnitNotFound)
		}
	} else {
		in.UnitID = nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	user := &models.User{
		Username:  username,
		Email:     email,
		Password:  string(hashed),
		FirstName: in.FirstName,
		LastName:  in.LastName,
		IsActive:  true,
	}
	if err := tx.Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrDuplicateUsername
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	profile := &models.UserProfile{UserID: user.ID, Role: in.Role, UnitID: in.UnitID}
	if err := tx.Create(profile).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	user.Profile = profile
	return user, nil
}

// Authenticate verifies a username or email with a password and stamps
// the login time.
func (s *userService) Authenticate(login, password string) (*models.User, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, apperrors.ErrInvalidCredentials
	}

	var user models.User
	err := s.db.Preload("Profile.Unit").
		Where("username = ? OR email = ?", login, strings.ToLower(login)).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrInvalidCredentials
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, apperrors.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, apperrors.ErrAccountInactive
	}

	now := time.Now()
	if err := s.db.Model(&user).UpdateColumn("last_login_at", now).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	user.LastLoginAt = &now
	return &user, nil
}

// GetUserByID retrieves a user with profile and unit.
func (s *userService) GetUserByID(id string) (*models.User, error) {
	var user models.User
	if err := s.db.Preload("Profile.Unit").First(&user, "id = ?", id).Error; err != nil {
		return nil, lookupError(err, apperrors.ErrUserNotFound)
	}
	return &user, nil
}

// GetSubject loads the authorization subject for an authenticated user.
// Deactivated users are refused even while their tokens are still valid.
func (s *userService) GetSubject(userID string) (authz.Subject, error) {
	user, err := s.GetUserByID(userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrUserNotFound) {
			return authz.Subject{}, apperrors.ErrUnauthorized
		}
		return authz.Subject{}, err
	}
	if !user.IsActive {
		return authz.Subject{}, apperrors.ErrAccountInactive
	}
	return authz.NewSubject(user, user.Profile), nil
}

// StoreRefreshTokenHash saves the SHA-256 hash of the active refresh token.
// An empty hash logs the user out of every session.
func (s *userService) StoreRefreshTokenHash(userID, tokenHash string) error {
	res := s.db.Model(&models.User{}).Where("id = ?", userID).UpdateColumn("refresh_token_hash", tokenHash)
	if res.Error != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrUserNotFound
	}
	return nil
}

// GetRefreshTokenHash returns the stored refresh token hash.
func (s *userService) GetRefreshTokenHash(userID string) (string, error) {
	var user models.User
	if err := s.db.Select("id", "refresh_token_hash").First(&user, "id = ?", userID).Error; err != nil {
		return "", lookupError(err, apperrors.ErrUserNotFound)
	}
	return user.RefreshTokenHash, nil
}

// ListUsers returns users visible to the actor. Only superadmins see users
// outside their own unit.
func (s *userService) ListUsers(actor authz.Subject, filter UserFilter, page pagination.PageRequest) (*pagination.PageResponse[models.User], error) {
	q := s.db.Model(&models.User{}).
		Joins("LEFT JOIN user_profiles ON user_profiles.user_id = users.id").
		Scopes(actor.UnitScope("user_profiles.unit_id"))
	if filter.IsActive != nil {
		q = q.Where("users.is_active = ?", *filter.IsActive)
	}
	if filter.UnitID != nil {
		q = q.Where("user_profiles.unit_id = ?", *filter.UnitID)
	}
	if filter.Search != "" {
		p := likePattern(filter.Search)
		q = q.Where("LOWER(users.username) LIKE ? OR LOWER(users.email) LIKE ? OR LOWER(users.first_name) LIKE ? OR LOWER(users.last_name) LIKE ?", p, p, p, p)
	}

	resp, err := pagination.Find[models.User](q, page, "users.username ASC", func(db *gorm.DB) *gorm.DB {
		return db.Preload("Profile.Unit")
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return resp, nil
}

// CreateUser creates a user on behalf of an administrator. Non-superadmins
// may only create users in their own unit and may not grant SUPERADMIN.
func (s *userService) CreateUser(actor authz.Subject, in UserInput) (*models.User, error) {
	if err := actor.Require(authz.ManageUsers); err != nil {
		return nil, err
	}
	if !actor.IsSuperAdmin() {
		if in.Role == models.RoleSuperAdmin {
			return nil, apperrors.WithMessage(apperrors.ErrForbidden, "Only superadmins can assign the SUPERADMIN role")
		}
		unitID, err := actor.ResolveUnit(in.UnitID)
		if err != nil {
			return nil, err
		}
		in.UnitID = &unitID
	}

	var user *models.User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		created, err := createUserTx(tx, in)
		if err != nil {
			return err
		}
		user = created
		return writeAudit(tx, AuditEntry{
			ActorID: actor.UserID,
			UnitID:  in.UnitID,
			Action:  models.AuditCreate,
			Message: fmt.Sprintf("User %s created by %s", created.Username, actor.Username),
			IP:      actor.IP,
		})
	})
	if err != nil {
		return nil, internalError(err)
	}
	return user, nil
}

// UpdateUser applies profile changes. Users may edit their own name, email
// and password; role, unit and activation changes need a superadmin. A new
// password invalidates the stored refresh token.
func (s *userService) UpdateUser(actor authz.Subject, userID string, in UpdateUserInput) (*models.User, error) {
	user, err := s.GetUserByID(userID)
	if err != nil {
		return nil, err
	}

	privileged := in.Role != nil || in.UnitID != nil || in.IsActive != nil
	if privileged && !actor.IsSuperAdmin() {
		return nil, apperrors.WithMessage(apperrors.ErrForbidden, "Only superadmins can change role, unit or activation")
	}
	if actor.UserID != user.ID && !actor.IsSuperAdmin() {
		if err := actor.Require(authz.ManageUsers); err != nil {
			return nil, err
		}
		if user.Profile == nil || user.Profile.UnitID == nil {
			return nil, apperrors.ErrForbidden
		}
		if err := actor.RequireUnit(*user.Profile.UnitID); err != nil {
			return nil, err
		}
	}

	userUpdates := map[string]interface{}{}
	if in.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*in.Email))
		if email == "" {
			return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "Invalid email",
				map[string][]string{"email": {"This field may not be blank."}})
		}
		if email != user.Email {
			var count int64
			if err := s.db.Model(&models.User{}).Where("email = ? AND id <> ?", email, user.ID).Count(&count).Error; err != nil {
				return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
			}
			if count > 0 {
				return nil, apperrors.ErrDuplicateEmail
			}
			userUpdates["email"] = email
		}
	}
	if in.FirstName != nil {
		userUpdates["first_name"] = *in.FirstName
	}
	if in.LastName != nil {
		userUpdates["last_name"] = *in.LastName
	}
	if in.IsActive != nil {
		if !*in.IsActive && user.ID == actor.UserID {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "You cannot deactivate your own account")
		}
		userUpdates["is_active"] = *in.IsActive
		if !*in.IsActive {
			userUpdates["refresh_token_hash"] = ""
		}
	}

	auditedUser := make(map[string]interface{}, len(userUpdates))
	for k, v := range userUpdates {
		auditedUser[k] = v
	}
	if in.Password != nil {
		if len(*in.Password) < minPasswordLength {
			return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "Invalid password",
				map[string][]string{"password": {fmt.Sprintf("Ensure this field has at least %d characters.", minPasswordLength)}})
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(*in.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		userUpdates["password"] = string(hashed)
		userUpdates["refresh_token_hash"] = ""
		auditedUser["password_changed"] = true
	}

	profileUpdates := map[string]interface{}{}
	if in.Role != nil {
		if !in.Role.Valid() {
			return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "Invalid role",
				map[string][]string{"role": {fmt.Sprintf("%q is not a valid role.", *in.Role)}})
		}
		profileUpdates["role"] = *in.Role
	}
	if in.UnitID != nil {
		if *in.UnitID == "" {
			profileUpdates["unit_id"] = nil
		} else {
			if err := s.db.Select("id").First(&models.Unit{}, "id = ?", *in.UnitID).Error; err != nil {
				return nil, lookupError(err, apperrors.ErrUnitNotFound)
			}
			profileUpdates["unit_id"] = *in.UnitID
		}
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if len(userUpdates) > 0 {
			if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Updates(userUpdates).Error; err != nil {
				if isUniqueConstraintError(err) {
					return apperrors.ErrDuplicateEmail
				}
				return err
			}
		}
		if len(profileUpdates) > 0 {
			if user.Profile == nil {
				profile := &models.UserProfile{UserID: user.ID, Role: models.RoleAdvisor}
				if err := tx.Create(profile).Error; err != nil {
					return err
				}
				user.Profile = profile
			}
			if err := tx.Model(&models.UserProfile{}).Where("user_id = ?", user.ID).Updates(profileUpdates).Error; err != nil {
				return err
			}
		}
		if len(userUpdates) == 0 && len(profileUpdates) == 0 {
			return nil
		}
		var unitID *string
		if user.Profile != nil {
			unitID = user.Profile.UnitID
		}
		return writeAudit(tx, AuditEntry{
			ActorID: actor.UserID,
			UnitID:  unitID,
			Action:  models.AuditUpdate,
			Message: fmt.Sprintf("User %s updated", user.Username),
			Details: map[string]interface{}{"user": auditedUser, "profile": profileUpdates},
			IP:      actor.IP,
		})
	})
	if err != nil {
		return nil, internalError(err)
	}

	return s.GetUserByID(user.ID)
}

// DeactivateUser disables an account and revokes its refresh token.
func (s *userService) DeactivateUser(actor authz.Subject, userID string) error {
	if actor.UserID == userID {
		return apperrors.WithMessage(apperrors.ErrInvalidInput, "You cannot deactivate your own account")
	}
	if err := actor.Require(authz.ManageUsers); err != nil {
		return err
	}

	user, err := s.GetUserByID(userID)
	if err != nil {
		return err
	}
	var unitID *string
	if user.Profile != nil {
		unitID = user.Profile.UnitID
	}
	if !actor.IsSuperAdmin() {
		if unitID == nil {
			return apperrors.ErrForbidden
		}
		if err := actor.RequireUnit(*unitID); err != nil {
			return err
		}
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
			Updates(map[string]interface{}{"is_active": false, "refresh_token_hash": ""}).Error; err != nil {
			return err
		}
		return writeAudit(tx, AuditEntry{
			ActorID: actor.UserID,
			UnitID:  unitID,
			Action:  models.AuditDeactivate,
			Message: fmt.Sprintf("User %s deactivated", user.Username),
			IP:      actor.IP,
		})
	})
	if err != nil {
		return internalError(err)
	}
	return nil
}
