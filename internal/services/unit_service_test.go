package services

import (
	"strings"
	"testing"

	apperrors "agriplan/internal/errors"
	"agriplan/internal/models"
	"agriplan/internal/pagination"
	"agriplan/internal/testutil"
	"agriplan/internal/workflow"
)

func TestCreateUnit(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewUnitService(db)
		admin := newActor(t, db, models.RoleSuperAdmin, nil)

		parent := testutil.CreateTestUnit(t, db)
		unit, err := svc.CreateUnit(admin, UnitInput{Name: "  Advisor Office ", Type: models.UnitTypeAdvisor, ParentID: &parent.ID})
		testutil.AssertNoError(t, err)

		if unit.Name != "Advisor Office" {
			t.Errorf("expected trimmed name, got %q", unit.Name)
		}
		if unit.ParentID == nil || *unit.ParentID != parent.ID {
			t.Errorf("expected parent %s", parent.ID)
		}
	})

	t.Run("duplicate_name", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewUnitService(db)
		admin := newActor(t, db, models.RoleSuperAdmin, nil)

		existing := testutil.CreateTestUnit(t, db)
		_, err := svc.CreateUnit(admin, UnitInput{Name: existing.Name, Type: models.UnitTypeAdvisor})
		testutil.AssertAppError(t, err, "DUPLICATE_UNIT_NAME")
	})

	t.Run("invalid_type", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewUnitService(db)
		admin := newActor(t, db, models.RoleSuperAdmin, nil)

		_, err := svc.CreateUnit(admin, UnitInput{Name: "X", Type: "MINISTRY"})
		testutil.AssertAppError(t, err, "INVALID_INPUT")
	})

	t.Run("missing_parent", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewUnitService(db)
		admin := newActor(t, db, models.RoleSuperAdmin, nil)

		missing := "00000000-0000-0000-0000-000000000000"
		_, err := svc.CreateUnit(admin, UnitInput{Name: "Orphan", Type: models.UnitTypeAdvisor, ParentID: &missing})
		testutil.AssertAppError(t, err, "UNIT_NOT_FOUND")
	})

	t.Run("forbidden_for_advisor", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewUnitService(db)
		unit := testutil.CreateTestUnit(t, db)
		advisor := newActor(t, db, models.RoleAdvisor, unit)

		_, err := svc.CreateUnit(advisor, UnitInput{Name: "Nope", Type: models.UnitTypeAdvisor})
		testutil.AssertAppError(t, err, "FORBIDDEN")
	})
}

func TestListUnits(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := NewUnitService(db)

	root := testutil.CreateTestUnit(t, db)
	testutil.CreateTestChildUnit(t, db, &root.ID)
	testutil.CreateTestChildUnit(t, db, &root.ID)

	resp, err := svc.ListUnits(UnitFilter{ParentID: &root.ID}, pagination.PageRequest{})
	testutil.AssertNoError(t, err)
	if resp.TotalItems != 2 {
		t.Errorf("expected 2 children, got %d", resp.TotalItems)
	}

	resp, err = svc.ListUnits(UnitFilter{}, pagination.PageRequest{Page: 1, PageSize: 2})
	testutil.AssertNoError(t, err)
	if resp.TotalItems != 3 || len(resp.Data) != 2 || resp.TotalPages != 2 {
		t.Errorf("unexpected page %+v", resp)
	}
}

func TestUpdateUnitRejectsCycles(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := NewUnitService(db)
	admin := newActor(t, db, models.RoleSuperAdmin, nil)

	root := testutil.CreateTestUnit(t, db)
	child := testutil.CreateTestChildUnit(t, db, &root.ID)
	grandchild := testutil.CreateTestChildUnit(t, db, &child.ID)

	t.Run("self", func(t *testing.T) {
		_, err := svc.UpdateUnit(admin, root.ID, UnitUpdateInput{ParentID: &root.ID})
		testutil.AssertAppError(t, err, "UNIT_CYCLE")
	})

	t.Run("descendant", func(t *testing.T) {
		_, err := svc.UpdateUnit(admin, root.ID, UnitUpdateInput{ParentID: &grandchild.ID})
		testutil.AssertAppError(t, err, "UNIT_CYCLE")

		var reloaded models.Unit
		db.First(&reloaded, "id = ?", root.ID)
		if reloaded.ParentID != nil {
			t.Error("expected root to stay a root")
		}
	})

	t.Run("valid_reparent", func(t *testing.T) {
		other := testutil.CreateTestUnit(t, db)
		unit, err := svc.UpdateUnit(admin, grandchild.ID, UnitUpdateInput{ParentID: &other.ID})
		testutil.AssertNoError(t, err)
		if unit.ParentID == nil || *unit.ParentID != other.ID {
			t.Errorf("expected parent %s", other.ID)
		}
	})

	t.Run("detach", func(t *testing.T) {
		empty := ""
		unit, err := svc.UpdateUnit(admin, child.ID, UnitUpdateInput{ParentID: &empty})
		testutil.AssertNoError(t, err)
		if unit.ParentID != nil {
			t.Error("expected unit to be detached")
		}
	})
}

func TestGetUnitDetail(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := NewUnitService(db)

	unit := testutil.CreateTestUnit(t, db)
	other := testutil.CreateTestUnit(t, db)
	member := newActor(t, db, models.RoleStateMinister, unit)
	outsider := newActor(t, db, models.RoleStateMinister, other)
	testutil.CreateTestIndicator(t, db, unit.ID)
	testutil.CreateTestPlan(t, db, unit.ID, member.UserID, 2024, workflow.StatusDraft)

	detail, err := svc.GetUnitDetail(member, unit.ID)
	testutil.AssertNoError(t, err)
	if len(detail.Indicators) != 1 || len(detail.AnnualPlans) != 1 {
		t.Errorf("expected 1 indicator and 1 plan, got %d and %d", len(detail.Indicators), len(detail.AnnualPlans))
	}

	detail, err = svc.GetUnitDetail(outsider, unit.ID)
	testutil.AssertNoError(t, err)
	if len(detail.AnnualPlans) != 0 {
		t.Error("expected plans to be hidden from other units")
	}
}

func TestGetStatistics(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := NewUnitService(db)

	unit := testutil.CreateTestUnit(t, db)
	member := newActor(t, db, models.RoleStateMinister, unit)
	ind := testutil.CreateTestIndicator(t, db, unit.ID)
	db.Model(ind).Update("active", false)
	testutil.CreateTestIndicator(t, db, unit.ID)
	testutil.CreateTestPlan(t, db, unit.ID, member.UserID, 2023, workflow.StatusApproved)
	testutil.CreateTestPlan(t, db, unit.ID, member.UserID, 2024, workflow.StatusDraft)
	testutil.CreateTestReport(t, db, unit.ID, member.UserID, 2024, 1, workflow.StatusSubmitted)

	stats, err := svc.GetStatistics(member, unit.ID)
	testutil.AssertNoError(t, err)

	if stats.Users != 1 || stats.Indicators != 2 || stats.ActiveIndicators != 1 {
		t.Errorf("unexpected counts %+v", stats)
	}
	if stats.PlansByStatus[workflow.StatusApproved] != 1 || stats.PlansByStatus[workflow.StatusDraft] != 1 {
		t.Errorf("unexpected plan counts %v", stats.PlansByStatus)
	}
	if stats.ReportsByStatus[workflow.StatusSubmitted] != 1 || stats.ReportsByStatus[workflow.StatusRejected] != 0 {
		t.Errorf("unexpected report counts %v", stats.ReportsByStatus)
	}

	outsider := newActor(t, db, models.RoleStateMinister, testutil.CreateTestUnit(t, db))
	_, err = svc.GetStatistics(outsider, unit.ID)
	testutil.AssertAppError(t, err, "FORBIDDEN")
}

func TestDeleteUnitPlain(t *testing.T) {
	t.Run("no_dependents", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewUnitService(db)
		admin := newActor(t, db, models.RoleSuperAdmin, nil)

		unit := testutil.CreateTestUnit(t, db)
		usage, err := svc.GetUsage(unit.ID)
		testutil.AssertNoError(t, err)
		if !usage.CanDeleteSafely {
			t.Fatal("expected unit to be safely deletable")
		}

		_, err = svc.DeleteUnit(admin, unit.ID, false)
		testutil.AssertNoError(t, err)
		if testutil.CountRows(t, db, &models.Unit{}, "id = ?", unit.ID) != 0 {
			t.Error("expected unit to be deleted")
		}
	})

	t.Run("with_dependents", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewUnitService(db)
		admin := newActor(t, db, models.RoleSuperAdmin, nil)

		unit := testutil.CreateTestUnit(t, db)
		member := newActor(t, db, models.RoleStateMinister, unit)
		testutil.CreateTestChildUnit(t, db, &unit.ID)
		testutil.CreateTestPlan(t, db, unit.ID, member.UserID, 2024, workflow.StatusDraft)

		result, err := svc.DeleteUnit(admin, unit.ID, false)
		testutil.AssertAppError(t, err, "UNIT_HAS_DEPENDENCIES")
		if !strings.Contains(err.Error(), "1 user(s)") || !strings.Contains(err.Error(), "cascade=true") {
			t.Errorf("unexpected message %q", err.Error())
		}
		if result == nil || result.Dependencies.UserProfiles != 1 || result.Dependencies.ChildUnits != 1 || result.Dependencies.AnnualPlans != 1 {
			t.Fatalf("expected dependency snapshot, got %+v", result)
		}

		if testutil.CountRows(t, db, &models.Unit{}, "id = ?", unit.ID) != 1 {
			t.Error("expected unit to remain")
		}
		if testutil.CountRows(t, db, &models.AnnualPlan{}, "unit_id = ?", unit.ID) != 1 {
			t.Error("expected plan to remain")
		}
		if testutil.CountRows(t, db, &models.UserProfile{}, "unit_id = ?", unit.ID) != 1 {
			t.Error("expected profile to keep its unit")
		}
	})

	t.Run("forbidden", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewUnitService(db)

		unit := testutil.CreateTestUnit(t, db)
		minister := newActor(t, db, models.RoleStateMinister, unit)
		_, err := svc.DeleteUnit(minister, unit.ID, false)
		testutil.AssertAppError(t, err, "FORBIDDEN")
	})

	t.Run("not_found", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewUnitService(db)
		admin := newActor(t, db, models.RoleSuperAdmin, nil)

		_, err := svc.DeleteUnit(admin, "00000000-0000-0000-0000-000000000000", true)
		testutil.AssertAppError(t, err, "UNIT_NOT_FOUND")
	})
}

func TestDeleteUnitCascade(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := NewUnitService(db)
	admin := newActor(t, db, models.RoleSuperAdmin, nil)

	unit := testutil.CreateTestUnit(t, db)
	survivor := testutil.CreateTestUnit(t, db)
	member := testutil.CreateTestUser(t, db, models.RoleStateMinister, &unit.ID)
	child := testutil.CreateTestChildUnit(t, db, &unit.ID)
	ind := testutil.CreateTestIndicator(t, db, unit.ID)

	draft := testutil.CreateTestPlan(t, db, unit.ID, member.ID, 2024, workflow.StatusDraft)
	testutil.CreateTestTarget(t, db, draft.ID, ind.ID, 100)
	approved := testutil.CreateTestPlan(t, db, unit.ID, member.ID, 2023, workflow.StatusApproved)
	testutil.CreateTestTarget(t, db, approved.ID, ind.ID, 50)
	report := testutil.CreateTestReport(t, db, unit.ID, member.ID, 2024, 1, workflow.StatusSubmitted)
	testutil.CreateTestEntry(t, db, report.ID, ind.ID, 25)

	// a plan in another unit that happens to track this unit's indicator
	foreign := testutil.CreateTestPlan(t, db, survivor.ID, member.ID, 2024, workflow.StatusDraft)
	testutil.CreateTestTarget(t, db, foreign.ID, ind.ID, 5)

	testutil.AssertNoError(t, writeAudit(db, AuditEntry{ActorID: member.ID, UnitID: &unit.ID, Action: models.AuditSubmit, PlanID: &approved.ID, Message: "old"}))

	result, err := svc.DeleteUnit(admin, unit.ID, true)
	testutil.AssertNoError(t, err)
	if result.Dependencies.FinalizedRecords != 2 {
		t.Errorf("expected 2 finalized records, got %d", result.Dependencies.FinalizedRecords)
	}

	checks := []struct {
		name  string
		model interface{}
		query string
		args  []interface{}
		want  int64
	}{
		{"unit", &models.Unit{}, "id = ?", []interface{}{unit.ID}, 0},
		{"survivor", &models.Unit{}, "id = ?", []interface{}{survivor.ID}, 1},
		{"child detached", &models.Unit{}, "id = ? AND parent_id IS NULL", []interface{}{child.ID}, 1},
		{"profile detached", &models.UserProfile{}, "user_id = ? AND unit_id IS NULL", []interface{}{member.ID}, 1},
		{"indicators", &models.Indicator{}, "owner_unit_id = ?", []interface{}{unit.ID}, 0},
		{"plans", &models.AnnualPlan{}, "unit_id = ?", []interface{}{unit.ID}, 0},
		{"reports", &models.QuarterlyReport{}, "unit_id = ?", []interface{}{unit.ID}, 0},
		{"targets", &models.AnnualPlanTarget{}, "", nil, 0},
		{"entries", &models.QuarterlyIndicatorEntry{}, "", nil, 0},
		{"foreign plan", &models.AnnualPlan{}, "id = ?", []interface{}{foreign.ID}, 1},
		{"audit refs cleared", &models.WorkflowAudit{}, "unit_id = ? OR context_plan_id = ?", []interface{}{unit.ID, approved.ID}, 0},
		{"before and after audits", &models.WorkflowAudit{}, "action = ?", []interface{}{models.AuditDelete}, 2},
	}
	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			if got := testutil.CountRows(t, db, c.model, c.query, c.args...); got != c.want {
				t.Errorf("expected %d, got %d", c.want, got)
			}
		})
	}
}

func TestDeleteUnitCascadeRollsBack(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := NewUnitService(db)
	admin := newActor(t, db, models.RoleSuperAdmin, nil)

	unit := testutil.CreateTestUnit(t, db)
	member := testutil.CreateTestUser(t, db, models.RoleStateMinister, &unit.ID)
	testutil.CreateTestPlan(t, db, unit.ID, member.ID, 2024, workflow.StatusDraft)

	// Dropping a table the cascade writes to forces a failure midway.
	if err := db.Migrator().DropTable(&models.ImportBatch{}); err != nil {
		t.Fatalf("failed to drop table: %v", err)
	}

	_, err := svc.DeleteUnit(admin, unit.ID, true)
	testutil.AssertAppError(t, err, apperrors.ErrInternalServer.Code)

	if testutil.CountRows(t, db, &models.Unit{}, "id = ?", unit.ID) != 1 {
		t.Error("expected unit to survive the failed cascade")
	}
	if testutil.CountRows(t, db, &models.AnnualPlan{}, "unit_id = ?", unit.ID) != 1 {
		t.Error("expected plan to survive the failed cascade")
	}
	if testutil.CountRows(t, db, &models.UserProfile{}, "unit_id = ?", unit.ID) != 1 {
		t.Error("expected profile to keep its unit")
	}
}
