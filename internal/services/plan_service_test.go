package services

import (
	"testing"

	"gorm.io/gorm"

	apperrors "agriplan/internal/errors"
	"agriplan/internal/models"
	"agriplan/internal/pagination"
	"agriplan/internal/testutil"
	"agriplan/internal/workflow"
)

func TestCreatePlan(t *testing.T) {
	t.Run("defaults_to_actor_unit", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewPlanService(db)

		unit := testutil.CreateTestUnit(t, db)
		actor := newActor(t, db, models.RoleStateMinister, unit)

		plan, err := svc.CreatePlan(actor, nil, 2024)
		testutil.AssertNoError(t, err)
		if plan.UnitID != unit.ID || plan.Status != workflow.StatusDraft || plan.Version != 1 {
			t.Errorf("unexpected plan %+v", plan)
		}
		if plan.CreatedByID != actor.UserID {
			t.Errorf("expected creator %s, got %s", actor.UserID, plan.CreatedByID)
		}
	})

	t.Run("duplicate_is_non_field_error", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewPlanService(db)

		unit := testutil.CreateTestUnit(t, db)
		actor := newActor(t, db, models.RoleStateMinister, unit)

		_, err := svc.CreatePlan(actor, &unit.ID, 2024)
		testutil.AssertNoError(t, err)

		_, err = svc.CreatePlan(actor, &unit.ID, 2024)
		msgs := testutil.AssertFieldErrors(t, err, "DUPLICATE_PLAN", apperrors.NonFieldErrors)[apperrors.NonFieldErrors]
		want := "An annual plan already exists for " + unit.Name + " in 2024."
		if len(msgs) != 1 || msgs[0] != want {
			t.Errorf("expected non_field_errors [%q], got %v", want, msgs)
		}
		if testutil.CountRows(t, db, &models.AnnualPlan{}, "unit_id = ?", unit.ID) != 1 {
			t.Error("expected a single plan")
		}
	})

	t.Run("other_unit_forbidden", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewPlanService(db)

		unit := testutil.CreateTestUnit(t, db)
		other := testutil.CreateTestUnit(t, db)
		actor := newActor(t, db, models.RoleStrategicAffairs, unit)

		_, err := svc.CreatePlan(actor, &other.ID, 2024)
		testutil.AssertAppError(t, err, "FORBIDDEN")
	})

	t.Run("no_unit", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewPlanService(db)
		actor := newActor(t, db, models.RoleSuperAdmin, nil)

		_, err := svc.CreatePlan(actor, nil, 2024)
		testutil.AssertAppError(t, err, "INVALID_INPUT")
	})

	t.Run("invalid_year", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewPlanService(db)
		unit := testutil.CreateTestUnit(t, db)
		actor := newActor(t, db, models.RoleStateMinister, unit)

		_, err := svc.CreatePlan(actor, nil, 1850)
		testutil.AssertAppError(t, err, "INVALID_INPUT")
	})
}

func TestListPlansScoped(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := NewPlanService(db)

	unitA := testutil.CreateTestUnit(t, db)
	unitB := testutil.CreateTestUnit(t, db)
	actorA := newActor(t, db, models.RoleStrategicAffairs, unitA)
	admin := newActor(t, db, models.RoleSuperAdmin, nil)
	testutil.CreateTestPlan(t, db, unitA.ID, actorA.UserID, 2024, workflow.StatusDraft)
	testutil.CreateTestPlan(t, db, unitA.ID, actorA.UserID, 2023, workflow.StatusApproved)
	testutil.CreateTestPlan(t, db, unitB.ID, actorA.UserID, 2024, workflow.StatusDraft)

	resp, err := svc.ListPlans(actorA, PlanFilter{}, pagination.PageRequest{})
	testutil.AssertNoError(t, err)
	if resp.TotalItems != 2 {
		t.Errorf("expected 2 plans, got %d", resp.TotalItems)
	}

	year := 2024
	resp, err = svc.ListPlans(admin, PlanFilter{Year: &year}, pagination.PageRequest{})
	testutil.AssertNoError(t, err)
	if resp.TotalItems != 2 {
		t.Errorf("expected 2 plans in 2024, got %d", resp.TotalItems)
	}

	status := workflow.StatusApproved
	resp, err = svc.ListPlans(admin, PlanFilter{Status: &status}, pagination.PageRequest{})
	testutil.AssertNoError(t, err)
	if resp.TotalItems != 1 {
		t.Errorf("expected 1 approved plan, got %d", resp.TotalItems)
	}
}

func TestPlanWorkflow(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := NewPlanService(db)

	unit := testutil.CreateTestUnit(t, db)
	author := newActor(t, db, models.RoleStateMinister, unit)
	reviewer := newActor(t, db, models.RoleStrategicAffairs, unit)
	ind := testutil.CreateTestIndicator(t, db, unit.ID)

	plan, err := svc.CreatePlan(author, nil, 2024)
	testutil.AssertNoError(t, err)

	t.Run("submit_without_targets", func(t *testing.T) {
		_, err := svc.SubmitPlan(author, plan.ID)
		testutil.AssertAppError(t, err, "EMPTY_SUBMISSION")
		assertPlanStatus(t, db, plan.ID, workflow.StatusDraft)
	})

	t.Run("approve_draft_rejected", func(t *testing.T) {
		_, err := svc.ApprovePlan(reviewer, plan.ID)
		testutil.AssertAppError(t, err, "INVALID_TRANSITION")
		assertPlanStatus(t, db, plan.ID, workflow.StatusDraft)
	})

	t.Run("submit", func(t *testing.T) {
		_, err := svc.AddTarget(author, plan.ID, TargetInput{IndicatorID: ind.ID, TargetValue: 120})
		testutil.AssertNoError(t, err)

		submitted, err := svc.SubmitPlan(author, plan.ID)
		testutil.AssertNoError(t, err)
		if submitted.Status != workflow.StatusSubmitted || submitted.SubmittedAt == nil {
			t.Errorf("unexpected plan after submit %+v", submitted)
		}
		if submitted.Version != 2 {
			t.Errorf("expected version 2, got %d", submitted.Version)
		}
	})

	t.Run("targets_locked_after_submit", func(t *testing.T) {
		other := testutil.CreateTestIndicator(t, db, unit.ID)
		_, err := svc.AddTarget(author, plan.ID, TargetInput{IndicatorID: other.ID, TargetValue: 1})
		testutil.AssertAppError(t, err, "NOT_EDITABLE")
	})

	t.Run("author_cannot_approve", func(t *testing.T) {
		_, err := svc.ApprovePlan(author, plan.ID)
		testutil.AssertAppError(t, err, "FORBIDDEN")
		assertPlanStatus(t, db, plan.ID, workflow.StatusSubmitted)
	})

	t.Run("approve", func(t *testing.T) {
		approved, err := svc.ApprovePlan(reviewer, plan.ID)
		testutil.AssertNoError(t, err)
		if approved.Status != workflow.StatusApproved {
			t.Errorf("expected APPROVED, got %s", approved.Status)
		}
		if approved.ApprovedByID == nil || *approved.ApprovedByID != reviewer.UserID || approved.ApprovedAt == nil {
			t.Error("expected approver to be recorded")
		}
	})

	t.Run("reapprove_rejected", func(t *testing.T) {
		_, err := svc.ApprovePlan(reviewer, plan.ID)
		testutil.AssertAppError(t, err, "INVALID_TRANSITION")
	})

	t.Run("cannot_delete_approved", func(t *testing.T) {
		err := svc.DeletePlan(reviewer, plan.ID)
		testutil.AssertAppError(t, err, "NOT_EDITABLE")
	})

	t.Run("one_audit_per_transition", func(t *testing.T) {
		for _, action := range []models.AuditAction{models.AuditSubmit, models.AuditApprove} {
			n := testutil.CountRows(t, db, &models.WorkflowAudit{}, "action = ? AND context_plan_id = ?", action, plan.ID)
			if n != 1 {
				t.Errorf("expected 1 %s audit, got %d", action, n)
			}
		}
	})
}

func TestRejectPlan(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := NewPlanService(db)

	unit := testutil.CreateTestUnit(t, db)
	reviewer := newActor(t, db, models.RoleSuperAdmin, nil)
	plan := testutil.CreateTestPlan(t, db, unit.ID, reviewer.UserID, 2024, workflow.StatusSubmitted)

	rejected, err := svc.RejectPlan(reviewer, plan.ID, "targets too low")
	testutil.AssertNoError(t, err)
	if rejected.Status != workflow.StatusRejected || rejected.RejectionReason != "targets too low" {
		t.Errorf("unexpected plan %+v", rejected)
	}

	var audit models.WorkflowAudit
	db.Where("action = ?", models.AuditReject).First(&audit)
	if audit.Message == "" || audit.ContextPlanID == nil || *audit.ContextPlanID != plan.ID {
		t.Errorf("unexpected audit %+v", audit)
	}

	// rejected is terminal but deletable
	_, err = svc.SubmitPlan(reviewer, plan.ID)
	testutil.AssertAppError(t, err, "INVALID_TRANSITION")
	testutil.AssertNoError(t, svc.DeletePlan(reviewer, plan.ID))
	if testutil.CountRows(t, db, &models.AnnualPlan{}, "id = ?", plan.ID) != 0 {
		t.Error("expected plan to be deleted")
	}
	if testutil.CountRows(t, db, &models.WorkflowAudit{}, "context_plan_id = ?", plan.ID) != 0 {
		t.Error("expected audit references to be cleared")
	}
}

func TestTransitionConcurrentModification(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	unit := testutil.CreateTestUnit(t, db)
	reviewer := newActor(t, db, models.RoleSuperAdmin, nil)
	plan := testutil.CreateTestPlan(t, db, unit.ID, reviewer.UserID, 2024, workflow.StatusSubmitted)

	// A loader that returns a stale version simulates another request
	// committing between the read and the conditional update.
	stale := planKind
	stale.load = func(tx *gorm.DB, id string) (models.WorkflowRef, error) {
		ref, err := planKind.load(tx, id)
		ref.Version--
		return ref, err
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return transition(tx, reviewer, stale, plan.ID, workflow.ActionApprove, "", "")
	})
	testutil.AssertAppError(t, err, "CONCURRENT_MODIFICATION")
	assertPlanStatus(t, db, plan.ID, workflow.StatusSubmitted)

	// A status that moved underneath is reported as an invalid transition.
	moved := planKind
	moved.load = func(tx *gorm.DB, id string) (models.WorkflowRef, error) {
		ref, err := planKind.load(tx, id)
		if ref.Status == workflow.StatusSubmitted {
			tx.Model(&models.AnnualPlan{}).Where("id = ?", id).
				Updates(map[string]interface{}{"status": workflow.StatusRejected, "version": gorm.Expr("version + 1")})
		}
		return ref, err
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		return transition(tx, reviewer, moved, plan.ID, workflow.ActionApprove, "", "")
	})
	testutil.AssertAppError(t, err, "INVALID_TRANSITION")
}

func TestBulkApprovePlans(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := NewPlanService(db)

	unit := testutil.CreateTestUnit(t, db)
	other := testutil.CreateTestUnit(t, db)
	reviewer := newActor(t, db, models.RoleStrategicAffairs, unit)

	sub1 := testutil.CreateTestPlan(t, db, unit.ID, reviewer.UserID, 2023, workflow.StatusSubmitted)
	sub2 := testutil.CreateTestPlan(t, db, unit.ID, reviewer.UserID, 2024, workflow.StatusSubmitted)
	draft := testutil.CreateTestPlan(t, db, unit.ID, reviewer.UserID, 2025, workflow.StatusDraft)
	foreign := testutil.CreateTestPlan(t, db, other.ID, reviewer.UserID, 2024, workflow.StatusSubmitted)
	missing := "00000000-0000-0000-0000-000000000000"

	result, err := svc.BulkApprovePlans(reviewer, []string{sub1.ID, draft.ID, missing, foreign.ID, sub2.ID, sub1.ID}, "all good")
	testutil.AssertNoError(t, err)

	if result.Count != 2 {
		t.Errorf("expected 2 approved, got %d", result.Count)
	}
	if len(result.SkippedIDs) != 3 {
		t.Errorf("expected 3 skipped, got %v", result.SkippedIDs)
	}
	assertPlanStatus(t, db, sub1.ID, workflow.StatusApproved)
	assertPlanStatus(t, db, sub2.ID, workflow.StatusApproved)
	assertPlanStatus(t, db, draft.ID, workflow.StatusDraft)
	assertPlanStatus(t, db, foreign.ID, workflow.StatusSubmitted)

	n := testutil.CountRows(t, db, &models.WorkflowAudit{}, "action = ? AND message = ?", models.AuditApprove, "Bulk approved: all good")
	if n != 2 {
		t.Errorf("expected 2 bulk audits, got %d", n)
	}
}

func TestBulkRejectPlans(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := NewPlanService(db)

	unit := testutil.CreateTestUnit(t, db)
	reviewer := newActor(t, db, models.RoleSuperAdmin, nil)
	minister := newActor(t, db, models.RoleStateMinister, unit)
	plan := testutil.CreateTestPlan(t, db, unit.ID, reviewer.UserID, 2024, workflow.StatusSubmitted)

	_, err := svc.BulkRejectPlans(reviewer, []string{plan.ID}, "")
	testutil.AssertAppError(t, err, "INVALID_INPUT")

	_, err = svc.BulkRejectPlans(minister, []string{plan.ID}, "no")
	testutil.AssertAppError(t, err, "FORBIDDEN")

	result, err := svc.BulkRejectPlans(reviewer, []string{plan.ID}, "incomplete")
	testutil.AssertNoError(t, err)
	if result.Count != 1 || len(result.SkippedIDs) != 0 {
		t.Errorf("unexpected result %+v", result)
	}
	assertPlanStatus(t, db, plan.ID, workflow.StatusRejected)
}

func TestPlanTargets(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := NewPlanService(db)

	unit := testutil.CreateTestUnit(t, db)
	other := testutil.CreateTestUnit(t, db)
	actor := newActor(t, db, models.RoleStateMinister, unit)
	ind := testutil.CreateTestIndicator(t, db, unit.ID)
	foreignInd := testutil.CreateTestIndicator(t, db, other.ID)
	inactive := testutil.CreateTestIndicator(t, db, unit.ID)
	db.Model(inactive).Update("active", false)
	plan := testutil.CreateTestPlan(t, db, unit.ID, actor.UserID, 2024, workflow.StatusDraft)

	baseline := 80.0
	target, err := svc.AddTarget(actor, plan.ID, TargetInput{IndicatorID: ind.ID, TargetValue: 100, BaselineValue: &baseline, Remarks: "first"})
	testutil.AssertNoError(t, err)

	t.Run("duplicate", func(t *testing.T) {
		_, err := svc.AddTarget(actor, plan.ID, TargetInput{IndicatorID: ind.ID, TargetValue: 1})
		testutil.AssertAppError(t, err, "DUPLICATE_TARGET")
	})

	t.Run("foreign_indicator", func(t *testing.T) {
		_, err := svc.AddTarget(actor, plan.ID, TargetInput{IndicatorID: foreignInd.ID, TargetValue: 1})
		testutil.AssertAppError(t, err, "INVALID_INPUT")
	})

	t.Run("inactive_indicator", func(t *testing.T) {
		_, err := svc.AddTarget(actor, plan.ID, TargetInput{IndicatorID: inactive.ID, TargetValue: 1})
		testutil.AssertAppError(t, err, "INDICATOR_INACTIVE")
	})

	t.Run("update", func(t *testing.T) {
		value := 150.0
		updated, err := svc.UpdateTarget(actor, plan.ID, target.ID, TargetUpdateInput{TargetValue: &value})
		testutil.AssertNoError(t, err)
		if updated.TargetValue != 150 || updated.Remarks != "first" {
			t.Errorf("unexpected target %+v", updated)
		}
	})

	t.Run("wrong_plan", func(t *testing.T) {
		otherPlan := testutil.CreateTestPlan(t, db, unit.ID, actor.UserID, 2025, workflow.StatusDraft)
		err := svc.DeleteTarget(actor, otherPlan.ID, target.ID)
		testutil.AssertAppError(t, err, "TARGET_NOT_FOUND")
	})

	t.Run("delete", func(t *testing.T) {
		testutil.AssertNoError(t, svc.DeleteTarget(actor, plan.ID, target.ID))
		if testutil.CountRows(t, db, &models.AnnualPlanTarget{}, "id = ?", target.ID) != 0 {
			t.Error("expected target to be deleted")
		}
	})

	t.Run("get_includes_targets", func(t *testing.T) {
		_, err := svc.AddTarget(actor, plan.ID, TargetInput{IndicatorID: ind.ID, TargetValue: 7})
		testutil.AssertNoError(t, err)
		got, err := svc.GetPlan(actor, plan.ID)
		testutil.AssertNoError(t, err)
		if len(got.Targets) != 1 || got.Targets[0].Indicator == nil || got.Targets[0].Indicator.Code != ind.Code {
			t.Errorf("unexpected targets %+v", got.Targets)
		}
	})
}

func TestLineItemWritesRecheckDraft(t *testing.T) {
	t.Run("plan_target", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewPlanService(db)

		unit := testutil.CreateTestUnit(t, db)
		actor := newActor(t, db, models.RoleStateMinister, unit)
		ind := testutil.CreateTestIndicator(t, db, unit.ID)
		plan := testutil.CreateTestPlan(t, db, unit.ID, actor.UserID, 2024, workflow.StatusDraft)

		setStatusAfterFirstLoad(t, db, "annual_plans", plan.ID, workflow.StatusSubmitted)
		_, err := svc.AddTarget(actor, plan.ID, TargetInput{IndicatorID: ind.ID, TargetValue: 10})
		testutil.AssertAppError(t, err, "NOT_EDITABLE")
		if n := testutil.CountRows(t, db, &models.AnnualPlanTarget{}, "plan_id = ?", plan.ID); n != 0 {
			t.Errorf("expected no target on a submitted plan, got %d", n)
		}
	})

	t.Run("report_entry", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewReportService(db)

		unit := testutil.CreateTestUnit(t, db)
		actor := newActor(t, db, models.RoleStateMinister, unit)
		ind := testutil.CreateTestIndicator(t, db, unit.ID)
		report := testutil.CreateTestReport(t, db, unit.ID, actor.UserID, 2024, 2, workflow.StatusDraft)
		entry := testutil.CreateTestEntry(t, db, report.ID, ind.ID, 4)

		setStatusAfterFirstLoad(t, db, "quarterly_reports", report.ID, workflow.StatusSubmitted)
		err := svc.DeleteEntry(actor, report.ID, entry.ID)
		testutil.AssertAppError(t, err, "NOT_EDITABLE")
		if n := testutil.CountRows(t, db, &models.QuarterlyIndicatorEntry{}, "id = ?", entry.ID); n != 1 {
			t.Error("expected the entry to survive")
		}
	})
}

func assertPlanStatus(t *testing.T, db *gorm.DB, id string, want workflow.Status) {
	t.Helper()
	var plan models.AnnualPlan
	if err := db.First(&plan, "id = ?", id).Error; err != nil {
		t.Fatalf("failed to load plan: %v", err)
	}
	if plan.Status != want {
		t.Errorf("expected status %s, got %s", want, plan.Status)
	}
}
