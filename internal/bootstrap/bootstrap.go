// Package bootstrap seeds reference data and administrator accounts. It backs
// the manage CLI.
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agriplan/internal/logger"
	"agriplan/internal/models"
)

// UnitSeed is one unit in a seed file.
type UnitSeed struct {
	Name        string          `yaml:"name"`
	Type        models.UnitType `yaml:"type"`
	Parent      string          `yaml:"parent,omitempty"`
	Description string          `yaml:"description,omitempty"`
}

// DefaultUnits are seeded when no file is given.
var DefaultUnits = []UnitSeed{
	{Name: "Strategic Affairs Office", Type: models.UnitTypeStrategicAffairs},
	{Name: "State Minister Office", Type: models.UnitTypeStateMinister},
	{Name: "State Minister Advisor Office", Type: models.UnitTypeAdvisor},
}

type unitFile struct {
	Units []UnitSeed `yaml:"units"`
}

// LoadUnits reads a YAML seed file of the form:
//
//	units:
//	  - name: Strategic Affairs Office
//	    type: STRATEGIC_AFFAIRS
//	  - name: Crop Advisory Desk
//	    type: ADVISOR
//	    parent: Strategic Affairs Office
func LoadUnits(path string) ([]UnitSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var f unitFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	for i, u := range f.Units {
		if strings.TrimSpace(u.Name) == "" {
			return nil, fmt.Errorf("unit %d: name is required", i+1)
		}
		if !u.Type.Valid() {
			return nil, fmt.Errorf("unit %q: invalid type %q", u.Name, u.Type)
		}
	}
	return f.Units, nil
}

// SeedUnits creates the given units, skipping names that already exist.
// Parents must appear earlier in the list or already exist. It returns the
// number of units created.
func SeedUnits(db *gorm.DB, seeds []UnitSeed) (int, error) {
	created := 0
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, s := range seeds {
			unit := &models.Unit{Name: strings.TrimSpace(s.Name), Type: s.Type, Description: s.Description}
			if s.Parent != "" {
				var parent models.Unit
				if err := tx.Select("id").Where("name = ?", s.Parent).First(&parent).Error; err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						return fmt.Errorf("unit %q: parent %q not found", s.Name, s.Parent)
					}
					return err
				}
				unit.ParentID = &parent.ID
			}

			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoNothing: true,
			}).Create(unit)
			if res.Error != nil {
				return fmt.Errorf("unit %q: %w", s.Name, res.Error)
			}
			if res.RowsAffected > 0 {
				created++
				logger.Get().Infow("unit seeded", "name", unit.Name, "type", unit.Type)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// SuperuserInput describes an administrator account.
type SuperuserInput struct {
	Username string
	Email    string
	Password string
	Role     models.Role
	UnitID   *string
}

// EnsureSuperuser creates the user or, when the username exists, resets its
// email, password and profile. The account is always left active.
func EnsureSuperuser(db *gorm.DB, in SuperuserInput) (*models.User, error) {
	if in.Username == "" || in.Email == "" || len(in.Password) < 8 {
		return nil, errors.New("username, email and a password of at least 8 characters are required")
	}
	if in.Role == "" {
		in.Role = models.RoleSuperAdmin
	}
	if !in.Role.Valid() {
		return nil, fmt.Errorf("invalid role %q", in.Role)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var user models.User
	err = db.Transaction(func(tx *gorm.DB) error {
		if in.UnitID != nil {
			if err := tx.Select("id").First(&models.Unit{}, "id = ?", *in.UnitID).Error; err != nil {
				return fmt.Errorf("unit %s: %w", *in.UnitID, err)
			}
		}

		err := tx.Where("username = ?", in.Username).First(&user).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			user = models.User{Username: in.Username, Email: in.Email, Password: string(hashed), IsActive: true}
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			err := tx.Model(&user).Updates(map[string]interface{}{
				"email":     in.Email,
				"password":  string(hashed),
				"is_active": true,
			}).Error
			if err != nil {
				return err
			}
		}

		profile := models.UserProfile{UserID: user.ID, Role: in.Role, UnitID: in.UnitID}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role", "unit_id", "updated_at"}),
		}).Create(&profile).Error; err != nil {
			return err
		}
		user.Profile = &profile
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Get().Infow("superuser ensured", "username", user.Username, "role", in.Role)
	return &user, nil
}
