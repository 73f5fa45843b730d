package handlers

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"agriplan/internal/authz"
	apperrors "agriplan/internal/errors"
	"agriplan/internal/models"
	"agriplan/internal/services"
)

// --- mock import and export services ---

type mockImportService struct {
	importFn        func(actor authz.Subject, req services.ImportRequest) (*services.ImportResult, error)
	recentImportsFn func(actor authz.Subject, limit int) ([]models.ImportBatch, error)
}

func (m *mockImportService) Import(actor authz.Subject, req services.ImportRequest) (*services.ImportResult, error) {
	if m.importFn != nil {
		return m.importFn(actor, req)
	}
	return &services.ImportResult{Message: "Import completed", Errors: []string{}}, nil
}

func (m *mockImportService) RecentImports(actor authz.Subject, limit int) ([]models.ImportBatch, error) {
	if m.recentImportsFn != nil {
		return m.recentImportsFn(actor, limit)
	}
	return []models.ImportBatch{}, nil
}

func (m *mockImportService) ExportOptions(authz.Subject) (*services.ExportOptions, error) {
	return &services.ExportOptions{
		Years:   []int{2025},
		Sources: []models.ImportSource{models.ImportSourceAnnual, models.ImportSourceQuarterly},
		Formats: []services.ExportFormat{services.ExportCSV, services.ExportXLSX},
	}, nil
}

var _ services.ImportServicer = (*mockImportService)(nil)

type mockExportService struct {
	exportFn func(kind string, actor authz.Subject, filter services.ExportFilter) (*services.ExportFile, error)
}

func (m *mockExportService) run(kind string, actor authz.Subject, filter services.ExportFilter) (*services.ExportFile, error) {
	if m.exportFn != nil {
		return m.exportFn(kind, actor, filter)
	}
	return &services.ExportFile{FileName: kind + ".csv", ContentType: "text/csv", Data: []byte("a,b\n1,2\n"), Rows: 1}, nil
}

func (m *mockExportService) ExportAnnualPlans(actor authz.Subject, filter services.ExportFilter) (*services.ExportFile, error) {
	return m.run("annual_plans", actor, filter)
}

func (m *mockExportService) ExportQuarterlyReports(actor authz.Subject, filter services.ExportFilter) (*services.ExportFile, error) {
	return m.run("quarterly_reports", actor, filter)
}

func (m *mockExportService) ExportIndicators(actor authz.Subject, filter services.ExportFilter) (*services.ExportFile, error) {
	return m.run("indicators", actor, filter)
}

func (m *mockExportService) ExportAuditLog(actor authz.Subject, filter services.ExportFilter) (*services.ExportFile, error) {
	return m.run("audit_log", actor, filter)
}

var _ services.ExportServicer = (*mockExportService)(nil)

func setupImportExportRouter(handler *ImportExportHandler, subject authz.Subject) *gin.Engine {
	r := gin.New()
	auth := r.Group("", injectUser(subject))
	auth.POST("/import-export/import_data", handler.ImportData)
	auth.GET("/import-export/recent_imports", handler.RecentImports)
	auth.GET("/import-export/export_options", handler.ExportOptions)
	auth.GET("/import-export/export_annual_plans", handler.ExportAnnualPlans)
	auth.GET("/import-export/export_quarterly_reports", handler.ExportQuarterlyReports)
	auth.GET("/import-export/export_indicators", handler.ExportIndicators)
	auth.GET("/import-export/export_audit_log", handler.ExportAuditLog)
	return r
}

// multipartRequest builds an upload with an optional file part and form fields.
func multipartRequest(t *testing.T, fileName, content string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if fileName != "" {
		part, err := w.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := io.WriteString(part, content); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest("POST", "/import-export/import_data", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestImportExportHandler_ImportData(t *testing.T) {
	const sheet = "indicator_code,target_value\nIND-1,10\n"

	t.Run("passes the upload to the service", func(t *testing.T) {
		var got services.ImportRequest
		var gotContent string
		svc := &mockImportService{importFn: func(_ authz.Subject, req services.ImportRequest) (*services.ImportResult, error) {
			got = req
			b, _ := io.ReadAll(req.Content)
			gotContent = string(b)
			return &services.ImportResult{Message: "Import completed", Processed: 1, Errors: []string{}}, nil
		}}
		r := setupImportExportRouter(NewImportExportHandler(svc, &mockExportService{}, 1<<20), testSubject(models.RoleStateMinister))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, multipartRequest(t, "targets.csv", sheet, map[string]string{
			"year": "2025", "source": "quarterly", "quarter": "2", "unit_id": testUnitID,
		}))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if got.FileName != "targets.csv" || got.Year != 2025 || got.Source != models.ImportSourceQuarterly {
			t.Errorf("unexpected request %+v", got)
		}
		if got.Quarter == nil || *got.Quarter != 2 || got.UnitID == nil || *got.UnitID != testUnitID {
			t.Errorf("unexpected quarter or unit %+v", got)
		}
		if gotContent != sheet {
			t.Errorf("unexpected content %q", gotContent)
		}
		if parseJSON(t, rec)["processed"].(float64) != 1 {
			t.Error("expected processed=1")
		}
	})

	t.Run("requires a file", func(t *testing.T) {
		r := setupImportExportRouter(NewImportExportHandler(&mockImportService{}, &mockExportService{}, 0), testSubject(models.RoleStateMinister))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, multipartRequest(t, "", "", map[string]string{"year": "2025"}))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		assertFieldError(t, parseJSON(t, rec), "file")
	})

	t.Run("requires a year", func(t *testing.T) {
		r := setupImportExportRouter(NewImportExportHandler(&mockImportService{}, &mockExportService{}, 0), testSubject(models.RoleStateMinister))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, multipartRequest(t, "targets.csv", sheet, nil))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		assertFieldError(t, parseJSON(t, rec), "year")
	})

	t.Run("rejects oversized files", func(t *testing.T) {
		r := setupImportExportRouter(NewImportExportHandler(&mockImportService{}, &mockExportService{}, 8), testSubject(models.RoleStateMinister))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, multipartRequest(t, "targets.csv", sheet, map[string]string{"year": "2025"}))

		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("expected 413, got %d", rec.Code)
		}
		assertErrorCode(t, parseJSON(t, rec), "PAYLOAD_TOO_LARGE")
	})

	t.Run("surfaces unsupported formats", func(t *testing.T) {
		svc := &mockImportService{importFn: func(authz.Subject, services.ImportRequest) (*services.ImportResult, error) {
			return nil, apperrors.ErrUnsupportedFile
		}}
		r := setupImportExportRouter(NewImportExportHandler(svc, &mockExportService{}, 0), testSubject(models.RoleStateMinister))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, multipartRequest(t, "targets.pdf", "%PDF", map[string]string{"year": "2025"}))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		assertErrorCode(t, parseJSON(t, rec), "UNSUPPORTED_FILE")
	})
}

func TestImportExportHandler_RecentImports(t *testing.T) {
	var gotLimit int
	svc := &mockImportService{recentImportsFn: func(_ authz.Subject, limit int) ([]models.ImportBatch, error) {
		gotLimit = limit
		return []models.ImportBatch{{FileName: "targets.csv"}}, nil
	}}
	r := setupImportExportRouter(NewImportExportHandler(svc, &mockExportService{}, 0), testSubject(models.RoleStateMinister))

	rec := doRequest(r, "GET", "/import-export/recent_imports", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotLimit != defaultRecentImports {
		t.Errorf("expected default limit, got %d", gotLimit)
	}
	if len(parseJSON(t, rec)["imports"].([]interface{})) != 1 {
		t.Error("expected one import")
	}

	doRequest(r, "GET", "/import-export/recent_imports?limit=3", "")
	if gotLimit != 3 {
		t.Errorf("expected limit 3, got %d", gotLimit)
	}
}

func TestImportExportHandler_ExportOptions(t *testing.T) {
	r := setupImportExportRouter(NewImportExportHandler(&mockImportService{}, &mockExportService{}, 0), testSubject(models.RoleAdvisor))

	rec := doRequest(r, "GET", "/import-export/export_options", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	formats := parseJSON(t, rec)["formats"].([]interface{})
	if len(formats) != 2 || formats[0] != "csv" {
		t.Errorf("unexpected formats %v", formats)
	}
}

func TestImportExportHandler_Exports(t *testing.T) {
	t.Run("sends an attachment", func(t *testing.T) {
		r := setupImportExportRouter(NewImportExportHandler(&mockImportService{}, &mockExportService{}, 0), testSubject(models.RoleSuperAdmin))

		for _, kind := range []string{"annual_plans", "quarterly_reports", "indicators", "audit_log"} {
			rec := doRequest(r, "GET", "/import-export/export_"+kind, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("%s: expected 200, got %d", kind, rec.Code)
			}
			if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="`+kind+`.csv"` {
				t.Errorf("%s: unexpected Content-Disposition %q", kind, cd)
			}
			if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
				t.Errorf("%s: unexpected Content-Type %q", kind, rec.Header().Get("Content-Type"))
			}
			if rec.Body.String() != "a,b\n1,2\n" {
				t.Errorf("%s: unexpected body %q", kind, rec.Body.String())
			}
		}
	})

	t.Run("parses filters", func(t *testing.T) {
		var got services.ExportFilter
		svc := &mockExportService{exportFn: func(kind string, _ authz.Subject, filter services.ExportFilter) (*services.ExportFile, error) {
			got = filter
			return &services.ExportFile{FileName: kind + ".xlsx", ContentType: "application/octet-stream"}, nil
		}}
		r := setupImportExportRouter(NewImportExportHandler(&mockImportService{}, svc, 0), testSubject(models.RoleSuperAdmin))

		rec := doRequest(r, "GET", "/import-export/export_audit_log?year=2025&quarter=1&unit_id="+testUnitID+"&action=approve&format=XLSX", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if got.Year == nil || *got.Year != 2025 || got.Quarter == nil || *got.Quarter != 1 {
			t.Errorf("unexpected period %+v", got)
		}
		if got.Action == nil || *got.Action != models.AuditApprove {
			t.Error("expected APPROVE action")
		}
		if got.Format != services.ExportXLSX {
			t.Errorf("expected xlsx, got %q", got.Format)
		}
	})

	t.Run("returns 400 on bad year", func(t *testing.T) {
		r := setupImportExportRouter(NewImportExportHandler(&mockImportService{}, &mockExportService{}, 0), testSubject(models.RoleSuperAdmin))

		rec := doRequest(r, "GET", "/import-export/export_annual_plans?year=last", "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		assertFieldError(t, parseJSON(t, rec), "year")
	})

	t.Run("returns 403 from service", func(t *testing.T) {
		svc := &mockExportService{exportFn: func(string, authz.Subject, services.ExportFilter) (*services.ExportFile, error) {
			return nil, apperrors.ErrForbidden
		}}
		r := setupImportExportRouter(NewImportExportHandler(&mockImportService{}, svc, 0), testSubject(models.RoleAdvisor))

		rec := doRequest(r, "GET", "/import-export/export_indicators?unit_id="+otherID, "")
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
	})
}
