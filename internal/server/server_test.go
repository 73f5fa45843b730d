package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"agriplan/internal/config"
	"agriplan/internal/logger"
	"agriplan/internal/models"
	"agriplan/internal/testutil"
	"agriplan/internal/validator"
)

// testApp holds the full application stack for flow tests.
type testApp struct {
	DB     *gorm.DB
	Router *gin.Engine
}

func init() {
	gin.SetMode(gin.TestMode)
	logger.Init("test", "error")
	validator.Register()
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:           8080,
			Env:            "test",
			CORSOrigins:    []string{"http://localhost:3000"},
			BodyLimitBytes: 1 << 20,
		},
		Auth: config.AuthConfig{
			JWTSecret:       "flow-test-secret",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: time.Hour,
			LoginRateLimit:  10,
			LoginRateWindow: time.Minute,
		},
		Import: config.ImportConfig{MaxFileBytes: 1 << 20},
	}
}

// setupApp creates the router backed by an isolated in-memory SQLite and no Redis.
func setupApp(t *testing.T) *testApp {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.TeardownTestDB(t, db) })
	return &testApp{DB: db, Router: New(testConfig(), db, nil)}
}

// request makes an HTTP request to the test router and returns the recorder.
func (app *testApp) request(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)
	return rec
}

// parseJSON parses the response body into a map.
func parseJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, rec.Body.String())
	}
	return result
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	errObj, ok := parseJSON(t, rec)["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error body, got %s", rec.Body.String())
	}
	return errObj["code"].(string)
}

// login signs in a fixture user and returns the access and refresh tokens.
func (app *testApp) login(t *testing.T, user *models.User) (accessToken, refreshToken string) {
	t.Helper()
	body := fmt.Sprintf(`{"login":%q,"password":%q}`, user.Username, testutil.TestPassword)
	rec := app.request("POST", "/api/v1/auth/login", body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	result := parseJSON(t, rec)
	return result["access_token"].(string), result["refresh_token"].(string)
}

// mustID performs a request expecting want and returns data[key]["id"].
func (app *testApp) mustID(t *testing.T, want int, method, path, body, token, key string) string {
	t.Helper()
	rec := app.request(method, path, body, token)
	if rec.Code != want {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, want, rec.Code, rec.Body.String())
	}
	obj, ok := parseJSON(t, rec)[key].(map[string]interface{})
	if !ok {
		t.Fatalf("%s %s: missing %q in %s", method, path, key, rec.Body.String())
	}
	return obj["id"].(string)
}

func TestHealthAndHeaders(t *testing.T) {
	app := setupApp(t)

	rec := app.request("GET", "/api/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	app := setupApp(t)

	for _, path := range []string{"/api/v1/auth/me", "/api/v1/units", "/api/v1/annual-plans", "/api/v1/dashboard/stats"} {
		rec := app.request("GET", path, "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rec.Code)
		}
	}

	rec := app.request("GET", "/api/v1/auth/me", "", "not-a-token")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestAuthFlow(t *testing.T) {
	app := setupApp(t)
	unit := testutil.CreateTestUnit(t, app.DB)
	user := testutil.CreateTestUser(t, app.DB, models.RoleAdvisor, &unit.ID)

	access, refresh := app.login(t, user)

	t.Run("me returns the profile", func(t *testing.T) {
		rec := app.request("GET", "/api/v1/auth/me", "", access)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		me := parseJSON(t, rec)["user"].(map[string]interface{})
		if me["username"] != user.Username {
			t.Errorf("expected %s, got %v", user.Username, me["username"])
		}
	})

	t.Run("refresh rotates the token", func(t *testing.T) {
		rec := app.request("POST", "/api/v1/auth/refresh", fmt.Sprintf(`{"refresh_token":%q}`, refresh), "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		rotated := parseJSON(t, rec)["refresh_token"].(string)

		reuse := app.request("POST", "/api/v1/auth/refresh", fmt.Sprintf(`{"refresh_token":%q}`, refresh), "")
		if reuse.Code != http.StatusUnauthorized {
			t.Errorf("expected old refresh token to be rejected, got %d", reuse.Code)
		}
		refresh = rotated
	})

	t.Run("logout clears the refresh token", func(t *testing.T) {
		rec := app.request("POST", "/api/v1/auth/logout", "", access)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		again := app.request("POST", "/api/v1/auth/refresh", fmt.Sprintf(`{"refresh_token":%q}`, refresh), "")
		if again.Code != http.StatusUnauthorized {
			t.Errorf("expected refresh after logout to fail, got %d", again.Code)
		}
		if n := testutil.CountRows(t, app.DB, &models.WorkflowAudit{}, "action = ?", models.AuditLogout); n != 1 {
			t.Errorf("expected one LOGOUT audit, got %d", n)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := app.request("POST", "/api/v1/auth/login", fmt.Sprintf(`{"login":%q,"password":"nope"}`, user.Email), "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
		if code := errorCode(t, rec); code != "INVALID_CREDENTIALS" {
			t.Errorf("expected INVALID_CREDENTIALS, got %s", code)
		}
	})
}

func TestInactiveUserLosesAccess(t *testing.T) {
	app := setupApp(t)
	unit := testutil.CreateTestUnit(t, app.DB)
	user := testutil.CreateTestUser(t, app.DB, models.RoleAdvisor, &unit.ID)
	admin := testutil.CreateTestUser(t, app.DB, models.RoleSuperAdmin, nil)

	access, _ := app.login(t, user)
	adminToken, _ := app.login(t, admin)

	rec := app.request("DELETE", "/api/v1/users/"+user.ID, "", adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = app.request("GET", "/api/v1/auth/me", "", access)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for inactive user, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPlanAndReportWorkflow(t *testing.T) {
	app := setupApp(t)
	unit := testutil.CreateTestUnit(t, app.DB)
	planner := testutil.CreateTestUser(t, app.DB, models.RoleStateMinister, &unit.ID)
	approver := testutil.CreateTestUser(t, app.DB, models.RoleSuperAdmin, nil)

	token, _ := app.login(t, planner)
	adminToken, _ := app.login(t, approver)

	indicatorID := app.mustID(t, http.StatusCreated, "POST", "/api/v1/indicators",
		`{"code":"YLD-01","name":"Maize yield","unit_of_measure":"t/ha"}`, token, "indicator")

	// Annual plan: draft, target, submit, approve.
	planID := app.mustID(t, http.StatusCreated, "POST", "/api/v1/annual-plans", `{"year":2025}`, token, "annual_plan")

	rec := app.request("POST", "/api/v1/annual-plans/"+planID+"/submit", "", token)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "EMPTY_SUBMISSION" {
		t.Fatalf("expected EMPTY_SUBMISSION, got %d %s", rec.Code, rec.Body.String())
	}

	app.mustID(t, http.StatusCreated, "POST", "/api/v1/annual-plans/"+planID+"/targets",
		fmt.Sprintf(`{"indicator_id":%q,"target_value":10}`, indicatorID), token, "target")

	rec = app.request("POST", "/api/v1/annual-plans/"+planID+"/submit", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = app.request("POST", "/api/v1/annual-plans/"+planID+"/approve", "", token)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("planner approve: expected 403, got %d", rec.Code)
	}

	rec = app.request("POST", "/api/v1/annual-plans/"+planID+"/approve", "", adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	plan := parseJSON(t, rec)["annual_plan"].(map[string]interface{})
	if plan["status"] != "APPROVED" {
		t.Fatalf("expected APPROVED, got %v", plan["status"])
	}

	rec = app.request("POST", "/api/v1/annual-plans/"+planID+"/targets",
		fmt.Sprintf(`{"indicator_id":%q,"target_value":20}`, indicatorID), token)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("approved plan should not be editable, got %d", rec.Code)
	}

	// Quarterly report: draft, entry, submit, bulk approve.
	reportID := app.mustID(t, http.StatusCreated, "POST", "/api/v1/quarterly-reports", `{"year":2025,"quarter":1}`, token, "quarterly_report")
	app.mustID(t, http.StatusCreated, "POST", "/api/v1/quarterly-reports/"+reportID+"/entries",
		fmt.Sprintf(`{"indicator_id":%q,"achieved_value":5}`, indicatorID), token, "entry")

	rec = app.request("POST", "/api/v1/quarterly-reports/"+reportID+"/submit", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit report: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = app.request("POST", "/api/v1/quarterly-reports/bulk_approve",
		fmt.Sprintf(`{"report_ids":[%q,%q]}`, reportID, planID), adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("bulk approve: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	bulk := parseJSON(t, rec)
	if bulk["approved_count"].(float64) != 1 {
		t.Errorf("expected approved_count 1, got %v", bulk["approved_count"])
	}
	if skipped := bulk["skipped_ids"].([]interface{}); len(skipped) != 1 || skipped[0] != planID {
		t.Errorf("expected the plan id to be skipped, got %v", skipped)
	}

	t.Run("performance summary", func(t *testing.T) {
		rec := app.request("GET", "/api/v1/dashboard/performance_summary?year=2025", "", token)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		rows := parseJSON(t, rec)["indicators"].([]interface{})
		if len(rows) != 1 {
			t.Fatalf("expected one indicator row, got %d", len(rows))
		}
		row := rows[0].(map[string]interface{})
		if row["achieved_value"].(float64) != 5 || row["percentage"].(float64) != 50 {
			t.Errorf("unexpected performance row %v", row)
		}
	})

	t.Run("audit trail", func(t *testing.T) {
		rec := app.request("GET", "/api/v1/audit-logs?plan_id="+planID, "", adminToken)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		data := parseJSON(t, rec)["data"].([]interface{})
		actions := map[string]bool{}
		for _, d := range data {
			actions[d.(map[string]interface{})["action"].(string)] = true
		}
		for _, want := range []string{"SUBMIT", "APPROVE"} {
			if !actions[want] {
				t.Errorf("expected %s audit for plan, got %v", want, actions)
			}
		}
	})

	t.Run("export annual plans", func(t *testing.T) {
		rec := app.request("GET", "/api/v1/import-export/export_annual_plans?year=2025", "", token)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "annual_plans_2025.csv") {
			t.Errorf("unexpected Content-Disposition %q", cd)
		}
		if !strings.Contains(rec.Body.String(), "YLD-01") {
			t.Errorf("expected indicator code in export, got %q", rec.Body.String())
		}
	})
}

func TestUnitDeletion(t *testing.T) {
	app := setupApp(t)
	admin := testutil.CreateTestUser(t, app.DB, models.RoleSuperAdmin, nil)
	adminToken, _ := app.login(t, admin)

	unit := testutil.CreateTestUnit(t, app.DB)
	member := testutil.CreateTestUser(t, app.DB, models.RoleAdvisor, &unit.ID)
	testutil.CreateTestIndicator(t, app.DB, unit.ID)

	rec := app.request("GET", "/api/v1/units/"+unit.ID+"/usage", "", adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("usage: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if parseJSON(t, rec)["can_delete_safely"] != false {
		t.Error("expected unit with dependents to be unsafe to delete")
	}

	rec = app.request("DELETE", "/api/v1/units/"+unit.ID, "", adminToken)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("plain delete: expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	body := parseJSON(t, rec)
	deps := body["dependencies"].(map[string]interface{})
	if deps["user_profiles"].(float64) != 1 || deps["indicators"].(float64) != 1 {
		t.Errorf("unexpected dependencies %v", deps)
	}

	rec = app.request("DELETE", "/api/v1/units/"+unit.ID+"?cascade=true", "", adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("cascade delete: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if n := testutil.CountRows(t, app.DB, &models.Unit{}, "id = ?", unit.ID); n != 0 {
		t.Errorf("expected unit gone, found %d", n)
	}
	if n := testutil.CountRows(t, app.DB, &models.UserProfile{}, "user_id = ? AND unit_id IS NOT NULL", member.ID); n != 0 {
		t.Errorf("expected member profile to be detached, found %d", n)
	}
}

func TestUnitScoping(t *testing.T) {
	app := setupApp(t)
	mine := testutil.CreateTestUnit(t, app.DB)
	other := testutil.CreateTestUnit(t, app.DB)
	user := testutil.CreateTestUser(t, app.DB, models.RoleAdvisor, &mine.ID)
	foreignPlan := testutil.CreateTestPlan(t, app.DB, other.ID, user.ID, 2025, "DRAFT")

	token, _ := app.login(t, user)

	rec := app.request("POST", "/api/v1/annual-plans", fmt.Sprintf(`{"year":2025,"unit_id":%q}`, other.ID), token)
	if rec.Code != http.StatusForbidden {
		t.Errorf("create in foreign unit: expected 403, got %d", rec.Code)
	}

	rec = app.request("GET", "/api/v1/annual-plans/"+foreignPlan.ID, "", token)
	if rec.Code != http.StatusForbidden && rec.Code != http.StatusNotFound {
		t.Errorf("read foreign plan: expected 403 or 404, got %d", rec.Code)
	}

	rec = app.request("GET", "/api/v1/annual-plans", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	if total := parseJSON(t, rec)["total_items"].(float64); total != 0 {
		t.Errorf("expected foreign plans hidden, got %v", total)
	}
}
