package services

import (
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"agriplan/internal/authz"
	apperrors "agriplan/internal/errors"
	"agriplan/internal/logger"
	"agriplan/internal/models"
	"agriplan/internal/spreadsheet"
)

var (
	planExportHeader = []string{
		"Unit", "Year", "Status", "Indicator Code", "Indicator Name", "Unit of Measure",
		"Target Value", "Baseline Value", "Remarks",
	}
	reportExportHeader = []string{
		"Unit", "Year", "Quarter", "Status", "Indicator Code", "Indicator Name",
		"Achieved Value", "Remarks",
	}
	indicatorExportHeader = []string{"Code", "Name", "Description", "Unit of Measure", "Owner Unit", "Active"}
	auditExportHeader     = []string{"Timestamp", "Actor", "Unit", "Action", "Plan", "Report", "Message"}
)

// exportService renders plans, reports, indicators and audit records.
type exportService struct {
	db *gorm.DB
}

// NewExportService creates a new ExportServicer.
func NewExportService(db *gorm.DB) ExportServicer {
	return &exportService{db: db}
}

func exportFormat(f ExportFormat) (spreadsheet.Format, error) {
	switch f {
	case "", ExportCSV:
		return spreadsheet.CSV, nil
	case ExportXLSX:
		return spreadsheet.XLSX, nil
	}
	return "", apperrors.WithFields(apperrors.ErrInvalidInput, "Invalid format",
		map[string][]string{"format": {fmt.Sprintf("%q is not a valid choice.", f)}})
}

// scopedQuery restricts q to the actor's units and to filter.UnitID, which
// must be accessible when given.
func scopedQuery(q *gorm.DB, actor authz.Subject, column string, unitID *string) (*gorm.DB, error) {
	q = q.Scopes(actor.UnitScope(column))
	if unitID != nil && *unitID != "" {
		if err := actor.RequireUnit(*unitID); err != nil {
			return nil, err
		}
		q = q.Where(column+" = ?", *unitID)
	}
	return q, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptionalFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func unitName(u *models.Unit) string {
	if u == nil {
		return ""
	}
	return u.Name
}

// render writes the file and records an EXPORT audit. The audit is
// best-effort since nothing was changed.
func (s *exportService) render(actor authz.Subject, format spreadsheet.Format, base, sheet string, header []string, rows [][]string, unitID *string) (*ExportFile, error) {
	data, err := spreadsheet.Write(format, sheet, header, rows)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	file := &ExportFile{
		FileName:    base + "." + string(format),
		ContentType: format.ContentType(),
		Data:        data,
		Rows:        len(rows),
	}

	if unitID != nil && *unitID == "" {
		unitID = nil
	}
	if err := writeAudit(s.db, AuditEntry{
		ActorID: actor.UserID,
		UnitID:  unitID,
		Action:  models.AuditExport,
		Message: fmt.Sprintf("Exported %s (%d rows)", file.FileName, file.Rows),
		IP:      actor.IP,
	}); err != nil {
		logger.Get().Errorw("failed to record export audit", "error", err, "file", file.FileName)
	}
	return file, nil
}

// ExportAnnualPlans writes one row per plan target. Plans without targets
// appear once with empty indicator columns. The year defaults to the
// current year.
func (s *exportService) ExportAnnualPlans(actor authz.Subject, filter ExportFilter) (*ExportFile, error) {
	format, err := exportFormat(filter.Format)
	if err != nil {
		return nil, err
	}
	year := time.Now().Year()
	if filter.Year != nil {
		year = *filter.Year
	}

	q, err := scopedQuery(s.db.Model(&models.AnnualPlan{}), actor, "unit_id", filter.UnitID)
	if err != nil {
		return nil, err
	}
	var plans []models.AnnualPlan
	err = q.Where("year = ?", year).
		Preload("Unit").
		Preload("Targets").
		Preload("Targets.Indicator").
		Order("unit_id ASC").
		Find(&plans).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	rows := [][]string{}
	for _, p := range plans {
		prefix := []string{unitName(p.Unit), strconv.Itoa(p.Year), string(p.Status)}
		if len(p.Targets) == 0 {
			rows = append(rows, append(prefix, "", "", "", "", "", ""))
			continue
		}
		for _, t := range p.Targets {
			code, name, uom := "", "", ""
			if t.Indicator != nil {
				code, name, uom = t.Indicator.Code, t.Indicator.Name, t.Indicator.UnitOfMeasure
			}
			row := append([]string{}, prefix...)
			rows = append(rows, append(row, code, name, uom, formatFloat(t.TargetValue), formatOptionalFloat(t.BaselineValue), t.Remarks))
		}
	}

	return s.render(actor, format, fmt.Sprintf("annual_plans_%d", year), "Annual Plans", planExportHeader, rows, filter.UnitID)
}

// ExportQuarterlyReports writes one row per report entry.
func (s *exportService) ExportQuarterlyReports(actor authz.Subject, filter ExportFilter) (*ExportFile, error) {
	format, err := exportFormat(filter.Format)
	if err != nil {
		return nil, err
	}
	year := time.Now().Year()
	if filter.Year != nil {
		year = *filter.Year
	}

	q, err := scopedQuery(s.db.Model(&models.QuarterlyReport{}), actor, "unit_id", filter.UnitID)
	if err != nil {
		return nil, err
	}
	q = q.Where("year = ?", year)
	base := fmt.Sprintf("quarterly_reports_%d", year)
	if filter.Quarter != nil {
		if err := validateQuarter(*filter.Quarter); err != nil {
			return nil, err
		}
		q = q.Where("quarter = ?", *filter.Quarter)
		base = fmt.Sprintf("%s_Q%d", base, *filter.Quarter)
	}

	var reports []models.QuarterlyReport
	err = q.Preload("Unit").
		Preload("Entries").
		Preload("Entries.Indicator").
		Order("unit_id ASC, quarter ASC").
		Find(&reports).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	rows := [][]string{}
	for _, r := range reports {
		prefix := []string{unitName(r.Unit), strconv.Itoa(r.Year), strconv.Itoa(r.Quarter), string(r.Status)}
		if len(r.Entries) == 0 {
			rows = append(rows, append(prefix, "", "", "", ""))
			continue
		}
		for _, e := range r.Entries {
			code, name := "", ""
			if e.Indicator != nil {
				code, name = e.Indicator.Code, e.Indicator.Name
			}
			row := append([]string{}, prefix...)
			rows = append(rows, append(row, code, name, formatFloat(e.AchievedValue), e.Remarks))
		}
	}

	return s.render(actor, format, base, "Quarterly Reports", reportExportHeader, rows, filter.UnitID)
}

// ExportIndicators writes the indicator registry.
func (s *exportService) ExportIndicators(actor authz.Subject, filter ExportFilter) (*ExportFile, error) {
	format, err := exportFormat(filter.Format)
	if err != nil {
		return nil, err
	}
	q, err := scopedQuery(s.db.Model(&models.Indicator{}), actor, "owner_unit_id", filter.UnitID)
	if err != nil {
		return nil, err
	}

	var indicators []models.Indicator
	if err := q.Preload("OwnerUnit").Order("code ASC").Find(&indicators).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	rows := make([][]string, 0, len(indicators))
	for _, ind := range indicators {
		rows = append(rows, []string{
			ind.Code, ind.Name, ind.Description, ind.UnitOfMeasure,
			unitName(ind.OwnerUnit), strconv.FormatBool(ind.Active),
		})
	}
	return s.render(actor, format, "indicators", "Indicators", indicatorExportHeader, rows, filter.UnitID)
}

// ExportAuditLog writes audit records, newest first.
func (s *exportService) ExportAuditLog(actor authz.Subject, filter ExportFilter) (*ExportFile, error) {
	format, err := exportFormat(filter.Format)
	if err != nil {
		return nil, err
	}
	q, err := scopedQuery(s.db.Model(&models.WorkflowAudit{}), actor, "unit_id", filter.UnitID)
	if err != nil {
		return nil, err
	}
	if filter.Action != nil {
		q = q.Where("action = ?", *filter.Action)
	}

	var audits []models.WorkflowAudit
	if err := q.Preload("Actor").Preload("Unit").Order("created_at DESC").Find(&audits).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	rows := make([][]string, 0, len(audits))
	for _, a := range audits {
		actorName := ""
		if a.Actor != nil {
			actorName = a.Actor.Username
		}
		planID, reportID := "", ""
		if a.ContextPlanID != nil {
			planID = *a.ContextPlanID
		}
		if a.ContextReportID != nil {
			reportID = *a.ContextReportID
		}
		rows = append(rows, []string{
			a.CreatedAt.UTC().Format(time.RFC3339), actorName, unitName(a.Unit),
			string(a.Action), planID, reportID, a.Message,
		})
	}
	return s.render(actor, format, "audit_log", "Audit Log", auditExportHeader, rows, filter.UnitID)
}
