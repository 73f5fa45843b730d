package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"agriplan/internal/models"
	"agriplan/internal/testutil"
)

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "units.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadUnits(t *testing.T) {
	t.Run("parses units", func(t *testing.T) {
		path := writeSeed(t, `
units:
  - name: Strategic Affairs Office
    type: STRATEGIC_AFFAIRS
  - name: Crop Advisory Desk
    type: ADVISOR
    parent: Strategic Affairs Office
`)
		units, err := LoadUnits(path)
		require.NoError(t, err)
		require.Len(t, units, 2)
		assert.Equal(t, models.UnitTypeAdvisor, units[1].Type)
		assert.Equal(t, "Strategic Affairs Office", units[1].Parent)
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		path := writeSeed(t, "units:\n  - name: Farm\n    type: FARM\n")
		_, err := LoadUnits(path)
		assert.ErrorContains(t, err, "invalid type")
	})

	t.Run("rejects blank name", func(t *testing.T) {
		path := writeSeed(t, "units:\n  - type: ADVISOR\n")
		_, err := LoadUnits(path)
		assert.ErrorContains(t, err, "name is required")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadUnits(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestSeedUnits(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	created, err := SeedUnits(db, DefaultUnits)
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	again, err := SeedUnits(db, DefaultUnits)
	require.NoError(t, err)
	assert.Equal(t, 0, again)
	assert.Equal(t, int64(3), testutil.CountRows(t, db, &models.Unit{}, ""))

	child := []UnitSeed{{Name: "Crop Advisory Desk", Type: models.UnitTypeAdvisor, Parent: "Strategic Affairs Office"}}
	created, err = SeedUnits(db, child)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	var unit models.Unit
	require.NoError(t, db.Where("name = ?", "Crop Advisory Desk").First(&unit).Error)
	require.NotNil(t, unit.ParentID)

	_, err = SeedUnits(db, []UnitSeed{{Name: "Orphan", Type: models.UnitTypeAdvisor, Parent: "Missing"}})
	assert.ErrorContains(t, err, "parent")
}

func TestEnsureSuperuser(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	user, err := EnsureSuperuser(db, SuperuserInput{Username: "admin", Email: "admin@example.com", Password: "initial-pass"})
	require.NoError(t, err)
	require.NotNil(t, user.Profile)
	assert.Equal(t, models.RoleSuperAdmin, user.Profile.Role)

	unit := testutil.CreateTestUnit(t, db)
	user, err = EnsureSuperuser(db, SuperuserInput{
		Username: "admin",
		Email:    "root@example.com",
		Password: "rotated-pass",
		Role:     models.RoleStrategicAffairs,
		UnitID:   &unit.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), testutil.CountRows(t, db, &models.User{}, "username = ?", "admin"))
	assert.Equal(t, int64(1), testutil.CountRows(t, db, &models.UserProfile{}, "user_id = ?", user.ID))

	var stored models.User
	require.NoError(t, db.Preload("Profile").First(&stored, "id = ?", user.ID).Error)
	assert.Equal(t, "root@example.com", stored.Email)
	assert.True(t, stored.IsActive)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("rotated-pass")))
	assert.Equal(t, models.RoleStrategicAffairs, stored.Profile.Role)
	require.NotNil(t, stored.Profile.UnitID)
	assert.Equal(t, unit.ID, *stored.Profile.UnitID)

	_, err = EnsureSuperuser(db, SuperuserInput{Username: "x", Email: "x@example.com", Password: "short"})
	assert.Error(t, err)

	_, err = EnsureSuperuser(db, SuperuserInput{Username: "y", Email: "y@example.com", Password: "long-enough", Role: "KING"})
	assert.ErrorContains(t, err, "invalid role")
}
