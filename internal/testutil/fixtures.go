package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"agriplan/internal/authz"
	"agriplan/internal/models"
	"agriplan/internal/workflow"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// TestPassword is the plain-text password of every fixture user.
const TestPassword = "password123"

// counter provides unique values across fixtures within a test run.
var counter atomic.Int64

func nextID() int64 {
	return counter.Add(1)
}

// CreateTestUnit creates a top-level unit with a unique name.
func CreateTestUnit(t *testing.T, db *gorm.DB) *models.Unit {
	t.Helper()
	return CreateTestChildUnit(t, db, nil)
}

// CreateTestChildUnit creates a unit under parentID (nil for a root unit).
func CreateTestChildUnit(t *testing.T, db *gorm.DB, parentID *string) *models.Unit {
	t.Helper()

	unit := &models.Unit{
		Name:     fmt.Sprintf("Test Unit %d", nextID()),
		Type:     models.UnitTypeStateMinister,
		ParentID: parentID,
	}
	if err := db.Create(unit).Error; err != nil {
		t.Fatalf("failed to create test unit: %v", err)
	}
	return unit
}

// CreateTestUser creates an active user with a profile of the given role.
// A nil unitID leaves the profile without a unit.
func CreateTestUser(t *testing.T, db *gorm.DB, role models.Role, unitID *string) *models.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	n := nextID()
	user := &models.User{
		Username: fmt.Sprintf("user%d", n),
		Email:    fmt.Sprintf("user%d@test.com", n),
		Password: string(hash),
		IsActive: true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}

	profile := &models.UserProfile{UserID: user.ID, Role: role, UnitID: unitID}
	if err := db.Create(profile).Error; err != nil {
		t.Fatalf("failed to create test profile: %v", err)
	}
	user.Profile = profile
	return user
}

// SubjectFor returns the authorization subject of a fixture user.
func SubjectFor(user *models.User) authz.Subject {
	return authz.NewSubject(user, user.Profile)
}

// CreateTestIndicator creates an active indicator owned by unitID.
func CreateTestIndicator(t *testing.T, db *gorm.DB, unitID string) *models.Indicator {
	t.Helper()

	n := nextID()
	ind := &models.Indicator{
		OwnerUnitID:   unitID,
		Code:          fmt.Sprintf("IND-%d", n),
		Name:          fmt.Sprintf("Indicator %d", n),
		UnitOfMeasure: "tonnes",
		Active:        true,
	}
	if err := db.Create(ind).Error; err != nil {
		t.Fatalf("failed to create test indicator: %v", err)
	}
	return ind
}

// CreateTestPlan creates an annual plan in the given status.
func CreateTestPlan(t *testing.T, db *gorm.DB, unitID, createdByID string, year int, status workflow.Status) *models.AnnualPlan {
	t.Helper()

	plan := &models.AnnualPlan{
		UnitID:      unitID,
		Year:        year,
		Status:      status,
		CreatedByID: createdByID,
		Version:     1,
	}
	if err := db.Create(plan).Error; err != nil {
		t.Fatalf("failed to create test plan: %v", err)
	}
	return plan
}

// CreateTestTarget adds a target for indicatorID to a plan.
func CreateTestTarget(t *testing.T, db *gorm.DB, planID, indicatorID string, value float64) *models.AnnualPlanTarget {
	t.Helper()

	target := &models.AnnualPlanTarget{PlanID: planID, IndicatorID: indicatorID, TargetValue: value}
	if err := db.Create(target).Error; err != nil {
		t.Fatalf("failed to create test target: %v", err)
	}
	return target
}

// CreateTestReport creates a quarterly report in the given status.
func CreateTestReport(t *testing.T, db *gorm.DB, unitID, createdByID string, year, quarter int, status workflow.Status) *models.QuarterlyReport {
	t.Helper()

	report := &models.QuarterlyReport{
		UnitID:      unitID,
		Year:        year,
		Quarter:     quarter,
		Status:      status,
		CreatedByID: createdByID,
		Version:     1,
	}
	if err := db.Create(report).Error; err != nil {
		t.Fatalf("failed to create test report: %v", err)
	}
	return report
}

// CreateTestEntry adds an entry for indicatorID to a report.
func CreateTestEntry(t *testing.T, db *gorm.DB, reportID, indicatorID string, value float64) *models.QuarterlyIndicatorEntry {
	t.Helper()

	entry := &models.QuarterlyIndicatorEntry{ReportID: reportID, IndicatorID: indicatorID, AchievedValue: value}
	if err := db.Create(entry).Error; err != nil {
		t.Fatalf("failed to create test entry: %v", err)
	}
	return entry
}
