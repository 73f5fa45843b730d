package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"agriplan/internal/authz"
	"agriplan/internal/models"
	"agriplan/internal/pagination"
	"agriplan/internal/services"
	"agriplan/internal/workflow"
)

// --- mock dashboard service ---

type mockDashboardService struct {
	recentFn      func(actor authz.Subject, limit int) ([]models.WorkflowAudit, error)
	performanceFn func(actor authz.Subject, year int) ([]services.IndicatorPerformance, error)
}

func (m *mockDashboardService) Stats(authz.Subject) (*services.DashboardStats, error) {
	return &services.DashboardStats{
		Units:         3,
		PlansByStatus: map[workflow.Status]int64{workflow.StatusSubmitted: 2},
	}, nil
}

func (m *mockDashboardService) RecentActivities(actor authz.Subject, limit int) ([]models.WorkflowAudit, error) {
	if m.recentFn != nil {
		return m.recentFn(actor, limit)
	}
	return []models.WorkflowAudit{}, nil
}

func (m *mockDashboardService) PendingApprovals(authz.Subject) (*services.PendingApprovals, error) {
	return &services.PendingApprovals{AnnualPlans: []models.AnnualPlan{}, QuarterlyReports: []models.QuarterlyReport{}}, nil
}

func (m *mockDashboardService) PerformanceSummary(actor authz.Subject, year int) ([]services.IndicatorPerformance, error) {
	if m.performanceFn != nil {
		return m.performanceFn(actor, year)
	}
	return []services.IndicatorPerformance{}, nil
}

var _ services.DashboardServicer = (*mockDashboardService)(nil)

func setupDashboardRouter(handler *DashboardHandler, subject authz.Subject) *gin.Engine {
	r := gin.New()
	auth := r.Group("", injectUser(subject))
	auth.GET("/dashboard/stats", handler.Stats)
	auth.GET("/dashboard/recent_activities", handler.RecentActivities)
	auth.GET("/dashboard/pending_approvals", handler.PendingApprovals)
	auth.GET("/dashboard/performance_summary", handler.PerformanceSummary)
	return r
}

func TestDashboardHandler_Stats(t *testing.T) {
	r := setupDashboardRouter(NewDashboardHandler(&mockDashboardService{}), testSubject(models.RoleSuperAdmin))

	rec := doRequest(r, "GET", "/dashboard/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	result := parseJSON(t, rec)
	if result["units"].(float64) != 3 {
		t.Errorf("expected 3 units, got %v", result["units"])
	}
	plans := result["plans_by_status"].(map[string]interface{})
	if plans["SUBMITTED"].(float64) != 2 {
		t.Errorf("unexpected plans_by_status %v", plans)
	}
}

func TestDashboardHandler_RecentActivities(t *testing.T) {
	t.Run("defaults the limit", func(t *testing.T) {
		var gotLimit int
		svc := &mockDashboardService{recentFn: func(_ authz.Subject, limit int) ([]models.WorkflowAudit, error) {
			gotLimit = limit
			return []models.WorkflowAudit{{Action: models.AuditSubmit, Message: "Submitted plan"}}, nil
		}}
		r := setupDashboardRouter(NewDashboardHandler(svc), testSubject(models.RoleAdvisor))

		rec := doRequest(r, "GET", "/dashboard/recent_activities", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if gotLimit != defaultRecentActivities {
			t.Errorf("expected default limit, got %d", gotLimit)
		}
		activities := parseJSON(t, rec)["activities"].([]interface{})
		if len(activities) != 1 {
			t.Fatalf("expected one activity, got %d", len(activities))
		}
	})

	t.Run("returns 400 on bad limit", func(t *testing.T) {
		r := setupDashboardRouter(NewDashboardHandler(&mockDashboardService{}), testSubject(models.RoleAdvisor))

		rec := doRequest(r, "GET", "/dashboard/recent_activities?limit=ten", "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		assertFieldError(t, parseJSON(t, rec), "limit")
	})
}

func TestDashboardHandler_PendingApprovals(t *testing.T) {
	r := setupDashboardRouter(NewDashboardHandler(&mockDashboardService{}), testSubject(models.RoleStrategicAffairs))

	rec := doRequest(r, "GET", "/dashboard/pending_approvals", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if _, ok := parseJSON(t, rec)["annual_plans"].([]interface{}); !ok {
		t.Error("expected annual_plans array")
	}
}

func TestDashboardHandler_PerformanceSummary(t *testing.T) {
	t.Run("defaults to the current year", func(t *testing.T) {
		var gotYear int
		svc := &mockDashboardService{performanceFn: func(_ authz.Subject, year int) ([]services.IndicatorPerformance, error) {
			gotYear = year
			return []services.IndicatorPerformance{}, nil
		}}
		r := setupDashboardRouter(NewDashboardHandler(svc), testSubject(models.RoleSuperAdmin))

		rec := doRequest(r, "GET", "/dashboard/performance_summary", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if gotYear != time.Now().Year() {
			t.Errorf("expected current year, got %d", gotYear)
		}
	})

	t.Run("renders percentages", func(t *testing.T) {
		pct := 50.0
		svc := &mockDashboardService{performanceFn: func(_ authz.Subject, year int) ([]services.IndicatorPerformance, error) {
			return []services.IndicatorPerformance{
				{Code: "IND-1", TargetValue: 10, AchievedValue: 5, Percentage: &pct},
				{Code: "IND-2", TargetValue: 0, AchievedValue: 3},
			}, nil
		}}
		r := setupDashboardRouter(NewDashboardHandler(svc), testSubject(models.RoleSuperAdmin))

		rec := doRequest(r, "GET", "/dashboard/performance_summary?year=2024", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		result := parseJSON(t, rec)
		if result["year"].(float64) != 2024 {
			t.Errorf("expected year 2024, got %v", result["year"])
		}
		rows := result["indicators"].([]interface{})
		if rows[0].(map[string]interface{})["percentage"].(float64) != 50 {
			t.Error("expected 50 percent")
		}
		if rows[1].(map[string]interface{})["percentage"] != nil {
			t.Error("expected null percentage for zero target")
		}
	})
}

// --- audit handler ---

func setupAuditRouter(handler *AuditHandler, subject authz.Subject) *gin.Engine {
	r := gin.New()
	auth := r.Group("", injectUser(subject))
	auth.GET("/audit-logs", handler.ListAudits)
	return r
}

func TestAuditHandler_ListAudits(t *testing.T) {
	t.Run("parses filters", func(t *testing.T) {
		var got services.AuditFilter
		audit := &mockAuditService{listAuditFn: func(_ authz.Subject, filter services.AuditFilter, _ pagination.PageRequest) (*pagination.PageResponse[models.WorkflowAudit], error) {
			got = filter
			resp := pagination.NewPageResponse([]models.WorkflowAudit{}, 1, 20, 0)
			return &resp, nil
		}}
		r := setupAuditRouter(NewAuditHandler(audit), testSubject(models.RoleSuperAdmin))

		rec := doRequest(r, "GET", "/audit-logs?action=reject&plan_id="+otherID, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if got.Action == nil || *got.Action != models.AuditReject {
			t.Error("expected REJECT action")
		}
		if got.PlanID == nil || *got.PlanID != otherID {
			t.Error("expected plan filter")
		}
		if got.ReportID != nil || got.UnitID != nil {
			t.Error("expected no report or unit filter")
		}
	})

	t.Run("returns 400 on bad report id", func(t *testing.T) {
		r := setupAuditRouter(NewAuditHandler(&mockAuditService{}), testSubject(models.RoleSuperAdmin))

		rec := doRequest(r, "GET", "/audit-logs?report_id=abc", "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		assertFieldError(t, parseJSON(t, rec), "report_id")
	})
}
