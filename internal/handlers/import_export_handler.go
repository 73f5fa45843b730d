package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"agriplan/internal/authz"
	apperrors "agriplan/internal/errors"
	"agriplan/internal/models"
	"agriplan/internal/services"
	"agriplan/internal/uuid"
)

const defaultRecentImports = 10

// ImportExportHandler handles spreadsheet import and report export requests.
type ImportExportHandler struct {
	importService services.ImportServicer
	exportService services.ExportServicer
	maxFileBytes  int64
}

// NewImportExportHandler creates a new ImportExportHandler. Uploads larger
// than maxFileBytes are rejected; zero disables the check.
func NewImportExportHandler(importService services.ImportServicer, exportService services.ExportServicer, maxFileBytes int64) *ImportExportHandler {
	return &ImportExportHandler{
		importService: importService,
		exportService: exportService,
		maxFileBytes:  maxFileBytes,
	}
}

func fieldError(field, message string) error {
	return apperrors.WithFields(apperrors.ErrInvalidInput, "Invalid "+field,
		map[string][]string{field: {message}})
}

// ImportData handles a multipart spreadsheet upload.
// @Summary     Import targets or achievements
// @Description Upload a .csv or .xlsx sheet. ANNUAL imports fill the plan's targets; QUARTERLY imports fill the report's entries.
// @Tags        import-export
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
// @Param       file    formData file   true  "Spreadsheet (.csv or .xlsx)"
// @Param       source  formData string false "ANNUAL (default) or QUARTERLY"
// @Param       unit_id formData string false "Unit (defaults to the actor's unit)"
// @Param       year    formData int    true  "Plan or report year"
// @Param       quarter formData int    false "Quarter, required for QUARTERLY"
// @Success     200 {object} services.ImportResult "Import summary"
// @Failure     400 {object} ErrorResponse "Invalid input or file"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Forbidden"
// @Failure     413 {object} ErrorResponse "File too large"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /import-export/import_data [post]
func (h *ImportExportHandler) ImportData(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondWithError(c, fieldError("file", "No file was submitted."))
		return
	}
	if h.maxFileBytes > 0 && fileHeader.Size > h.maxFileBytes {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrPayloadTooLarge,
			fmt.Sprintf("File exceeds the %d byte limit", h.maxFileBytes)))
		return
	}

	yearStr := c.PostForm("year")
	if yearStr == "" {
		respondWithError(c, fieldError("year", "This field is required."))
		return
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		respondWithError(c, fieldError("year", "A valid integer is required."))
		return
	}

	req := services.ImportRequest{
		FileName: fileHeader.Filename,
		Source:   models.ImportSource(strings.ToUpper(c.PostForm("source"))),
		Year:     year,
	}
	if v := c.PostForm("unit_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondWithError(c, fieldError("unit_id", "Must be a valid UUID."))
			return
		}
		req.UnitID = &id
	}
	if v := c.PostForm("quarter"); v != "" {
		q, err := strconv.Atoi(v)
		if err != nil {
			respondWithError(c, fieldError("quarter", "A valid integer is required."))
			return
		}
		req.Quarter = &q
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondWithError(c, apperrors.Wrap(apperrors.ErrInvalidImportFile, err))
		return
	}
	defer file.Close()
	req.Content = file

	result, err := h.importService.Import(subject, req)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RecentImports handles listing the latest import batches.
// @Summary     Recent imports
// @Tags        import-export
// @Produce     json
// @Security    BearerAuth
// @Param       limit query int false "Number of batches (default 10)"
// @Success     200 {array}  models.ImportBatch "Import batches"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /import-export/recent_imports [get]
func (h *ImportExportHandler) RecentImports(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		respondWithError(c, err)
		return
	}
	n := defaultRecentImports
	if limit != nil && *limit > 0 {
		n = *limit
	}

	batches, err := h.importService.RecentImports(subject, n)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imports": batches})
}

// ExportOptions handles listing what the actor can export.
// @Summary     Export options
// @Tags        import-export
// @Produce     json
// @Security    BearerAuth
// @Success     200 {object} services.ExportOptions "Units, years, sources and formats"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /import-export/export_options [get]
func (h *ImportExportHandler) ExportOptions(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	opts, err := h.importService.ExportOptions(subject)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, opts)
}

// exportFilter reads the shared export query parameters.
func exportFilter(c *gin.Context) (services.ExportFilter, error) {
	var f services.ExportFilter
	var err error
	if f.Year, err = queryInt(c, "year"); err != nil {
		return f, err
	}
	if f.Quarter, err = queryInt(c, "quarter"); err != nil {
		return f, err
	}
	if f.UnitID, err = queryUUID(c, "unit_id"); err != nil {
		return f, err
	}
	if v := c.Query("action"); v != "" {
		action := models.AuditAction(strings.ToUpper(v))
		f.Action = &action
	}
	f.Format = services.ExportFormat(strings.ToLower(c.Query("format")))
	return f, nil
}

// sendFile writes an export as an attachment.
func sendFile(c *gin.Context, file *services.ExportFile) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.FileName))
	c.Data(http.StatusOK, file.ContentType, file.Data)
}

func (h *ImportExportHandler) export(c *gin.Context, fn func(subject authz.Subject, f services.ExportFilter) (*services.ExportFile, error)) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	filter, err := exportFilter(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	file, err := fn(subject, filter)
	if err != nil {
		respondWithError(c, err)
		return
	}
	sendFile(c, file)
}

// ExportAnnualPlans handles exporting plan targets.
// @Summary     Export annual plans
// @Tags        import-export
// @Produce     text/csv
// @Security    BearerAuth
// @Param       year    query int    false "Year (default current year)"
// @Param       unit_id query string false "Unit"
// @Param       format  query string false "csv (default) or xlsx"
// @Success     200 {file}   file "annual_plans_{year}.csv"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Forbidden"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /import-export/export_annual_plans [get]
func (h *ImportExportHandler) ExportAnnualPlans(c *gin.Context) {
	h.export(c, h.exportService.ExportAnnualPlans)
}

// ExportQuarterlyReports handles exporting report entries.
// @Summary     Export quarterly reports
// @Tags        import-export
// @Produce     text/csv
// @Security    BearerAuth
// @Param       year    query int    false "Year (default current year)"
// @Param       quarter query int    false "Quarter"
// @Param       unit_id query string false "Unit"
// @Param       format  query string false "csv (default) or xlsx"
// @Success     200 {file}   file "quarterly_reports_{year}.csv"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Forbidden"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /import-export/export_quarterly_reports [get]
func (h *ImportExportHandler) ExportQuarterlyReports(c *gin.Context) {
	h.export(c, h.exportService.ExportQuarterlyReports)
}

// ExportIndicators handles exporting the indicator registry.
// @Summary     Export indicators
// @Tags        import-export
// @Produce     text/csv
// @Security    BearerAuth
// @Param       unit_id query string false "Unit"
// @Param       format  query string false "csv (default) or xlsx"
// @Success     200 {file}   file "indicators.csv"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Forbidden"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /import-export/export_indicators [get]
func (h *ImportExportHandler) ExportIndicators(c *gin.Context) {
	h.export(c, h.exportService.ExportIndicators)
}

// ExportAuditLog handles exporting audit records.
// @Summary     Export audit log
// @Tags        import-export
// @Produce     text/csv
// @Security    BearerAuth
// @Param       unit_id query string false "Unit"
// @Param       action  query string false "Audit action"
// @Param       format  query string false "csv (default) or xlsx"
// @Success     200 {file}   file "audit_log.csv"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Forbidden"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /import-export/export_audit_log [get]
func (h *ImportExportHandler) ExportAuditLog(c *gin.Context) {
	h.export(c, h.exportService.ExportAuditLog)
}
