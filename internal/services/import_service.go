package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agriplan/internal/authz"
	apperrors "agriplan/internal/errors"
	"agriplan/internal/logger"
	"agriplan/internal/models"
	"agriplan/internal/spreadsheet"
	"agriplan/internal/workflow"
)

const (
	colIndicatorCode = "indicator_code"
	colTargetValue   = "target_value"
	colBaselineValue = "baseline_value"
	colAchievedValue = "achieved_value"
	colRemarks       = "remarks"

	defaultRecentImports = 10
	maxRecentImports     = 100
)

// importService handles bulk spreadsheet ingestion.
type importService struct {
	db *gorm.DB
}

// NewImportService creates a new ImportServicer.
func NewImportService(db *gorm.DB) ImportServicer {
	return &importService{db: db}
}

// importRow is one parsed, validated line of an upload.
type importRow struct {
	indicator *models.Indicator
	value     float64
	baseline  *float64
	remarks   string
}

// Import upserts targets or entries from an uploaded sheet into the unit's
// DRAFT plan or report for the period, creating it when missing. Rows with
// unknown indicator codes or bad numbers are reported and skipped; all
// database writes share one transaction.
func (s *importService) Import(actor authz.Subject, req ImportRequest) (*ImportResult, error) {
	if req.Source == "" {
		req.Source = models.ImportSourceAnnual
	}
	if req.Source != models.ImportSourceAnnual && req.Source != models.ImportSourceQuarterly {
		return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "Invalid source",
			map[string][]string{"source": {fmt.Sprintf("%q is not a valid choice.", req.Source)}})
	}
	unitID, err := actor.ResolveUnit(req.UnitID)
	if err != nil {
		return nil, err
	}
	if err := validateYear(req.Year); err != nil {
		return nil, err
	}
	if req.Source == models.ImportSourceQuarterly {
		if req.Quarter == nil {
			return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "Quarter is required",
				map[string][]string{"quarter": {"This field is required for quarterly imports."}})
		}
		if err := validateQuarter(*req.Quarter); err != nil {
			return nil, err
		}
	} else {
		req.Quarter = nil
	}

	var unit models.Unit
	if err := s.db.First(&unit, "id = ?", unitID).Error; err != nil {
		return nil, lookupError(err, apperrors.ErrUnitNotFound)
	}

	table, err := spreadsheet.Read(req.FileName, req.Content)
	if err != nil {
		if errors.Is(err, spreadsheet.ErrUnsupportedFormat) {
			return nil, apperrors.ErrUnsupportedFile
		}
		return nil, apperrors.WithMessage(apperrors.ErrInvalidImportFile, fmt.Sprintf("Import file could not be read: %v", err))
	}

	valueCol := colTargetValue
	if req.Source == models.ImportSourceQuarterly {
		valueCol = colAchievedValue
	}
	var missing []string
	for _, col := range []string{colIndicatorCode, valueCol} {
		if !table.Has(col) {
			missing = append(missing, fmt.Sprintf("Missing required column '%s'.", col))
		}
	}
	if len(missing) > 0 {
		return nil, apperrors.WithFields(apperrors.ErrInvalidImportFile, "Import file is missing required columns",
			map[string][]string{"file": missing})
	}

	var indicators []models.Indicator
	if err := s.db.Where("owner_unit_id = ?", unitID).Find(&indicators).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	byCode := make(map[string]*models.Indicator, len(indicators))
	for i := range indicators {
		byCode[indicators[i].Code] = &indicators[i]
	}

	rows, processed, rowErrors := parseImportRows(table, byCode, valueCol, req.Source == models.ImportSourceAnnual)

	result := &ImportResult{Processed: processed, Failed: len(rowErrors), Errors: rowErrors}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var planID, reportID *string
		var label string
		if req.Source == models.ImportSourceAnnual {
			plan, err := draftPlanFor(tx, actor, unitID, req.Year)
			if err != nil {
				return err
			}
			planID = &plan.ID
			label = fmt.Sprintf("annual plan %d", req.Year)
			for _, r := range rows {
				if err := upsertTarget(tx, plan.ID, r); err != nil {
					return err
				}
			}
		} else {
			report, err := draftReportFor(tx, actor, unitID, req.Year, *req.Quarter)
			if err != nil {
				return err
			}
			reportID = &report.ID
			label = fmt.Sprintf("Q%d %d report", *req.Quarter, req.Year)
			for _, r := range rows {
				if err := upsertEntry(tx, report.ID, r); err != nil {
					return err
				}
			}
		}

		errorsJSON, err := json.Marshal(rowErrors)
		if err != nil {
			return err
		}
		batch := &models.ImportBatch{
			UnitID:         &unitID,
			UploadedByID:   actor.UserID,
			FileName:       req.FileName,
			Source:         req.Source,
			Year:           req.Year,
			Quarter:        req.Quarter,
			ProcessedCount: result.Processed,
			FailedCount:    result.Failed,
			Status:         models.ImportStatusCompleted,
			Errors:         datatypes.JSON(errorsJSON),
		}
		if err := tx.Create(batch).Error; err != nil {
			return err
		}
		result.BatchID = batch.ID

		return writeAudit(tx, AuditEntry{
			ActorID:  actor.UserID,
			UnitID:   &unitID,
			Action:   models.AuditImport,
			PlanID:   planID,
			ReportID: reportID,
			Message:  fmt.Sprintf("Imported %d row(s) into %s for %s from %s", result.Processed, label, unit.Name, req.FileName),
			Details: map[string]interface{}{
				"batch_id":  batch.ID,
				"processed": result.Processed,
				"failed":    result.Failed,
			},
			IP: actor.IP,
		})
	})
	if err != nil {
		return nil, internalError(err)
	}

	result.Message = fmt.Sprintf("Import completed: %d processed, %d failed", result.Processed, result.Failed)
	logger.Get().Infow("import completed",
		"batch_id", result.BatchID,
		"unit_id", unitID,
		"source", req.Source,
		"processed", result.Processed,
		"failed", result.Failed,
	)
	return result, nil
}

// parseImportRows validates each data row. Rows with a blank code are
// ignored; row numbers in messages count the header as row 1.
func parseImportRows(table *spreadsheet.Table, byCode map[string]*models.Indicator, valueCol string, withBaseline bool) ([]importRow, int, []string) {
	var rows []importRow
	processed := 0
	rowErrors := []string{}
	seen := map[string]int{}

	for i, raw := range table.Rows {
		n := i + 2
		code := table.Get(raw, colIndicatorCode)
		if code == "" {
			continue
		}
		ind, ok := byCode[code]
		if !ok {
			rowErrors = append(rowErrors, fmt.Sprintf("Row %d: Indicator '%s' not found", n, code))
			continue
		}
		if !ind.Active {
			rowErrors = append(rowErrors, fmt.Sprintf("Row %d: Indicator '%s' is inactive", n, code))
			continue
		}

		rawValue := table.Get(raw, valueCol)
		value, ok := parseImportNumber(rawValue)
		if !ok {
			rowErrors = append(rowErrors, fmt.Sprintf("Row %d: invalid %s '%s'", n, valueCol, rawValue))
			continue
		}

		row := importRow{indicator: ind, value: value, remarks: table.Get(raw, colRemarks)}
		if withBaseline {
			if rawBase := table.Get(raw, colBaselineValue); rawBase != "" {
				base, ok := parseImportNumber(rawBase)
				if !ok {
					rowErrors = append(rowErrors, fmt.Sprintf("Row %d: invalid %s '%s'", n, colBaselineValue, rawBase))
					continue
				}
				row.baseline = &base
			}
		}

		processed++
		// a later row for the same indicator wins
		if idx, dup := seen[code]; dup {
			rows[idx] = row
			continue
		}
		seen[code] = len(rows)
		rows = append(rows, row)
	}
	return rows, processed, rowErrors
}

// parseImportNumber accepts finite decimal values only.
func parseImportNumber(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func draftPlanFor(tx *gorm.DB, actor authz.Subject, unitID string, year int) (*models.AnnualPlan, error) {
	var plan models.AnnualPlan
	err := tx.Where("unit_id = ? AND year = ?", unitID, year).First(&plan).Error
	if err == nil {
		if !plan.Status.Editable() {
			return nil, apperrors.WithMessage(apperrors.ErrNotEditable,
				fmt.Sprintf("The %d annual plan is %s and cannot be changed by import", year, plan.Status))
		}
		return &plan, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	plan = models.AnnualPlan{UnitID: unitID, Year: year, Status: workflow.StatusDraft, CreatedByID: actor.UserID, Version: 1}
	if err := tx.Create(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func draftReportFor(tx *gorm.DB, actor authz.Subject, unitID string, year, quarter int) (*models.QuarterlyReport, error) {
	var report models.QuarterlyReport
	err := tx.Where("unit_id = ? AND year = ? AND quarter = ?", unitID, year, quarter).First(&report).Error
	if err == nil {
		if !report.Status.Editable() {
			return nil, apperrors.WithMessage(apperrors.ErrNotEditable,
				fmt.Sprintf("The Q%d %d report is %s and cannot be changed by import", quarter, year, report.Status))
		}
		return &report, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	report = models.QuarterlyReport{UnitID: unitID, Year: year, Quarter: quarter, Status: workflow.StatusDraft, CreatedByID: actor.UserID, Version: 1}
	if err := tx.Create(&report).Error; err != nil {
		return nil, err
	}
	return &report, nil
}

func upsertTarget(tx *gorm.DB, planID string, r importRow) error {
	target := &models.AnnualPlanTarget{
		PlanID:        planID,
		IndicatorID:   r.indicator.ID,
		TargetValue:   r.value,
		BaselineValue: r.baseline,
		Remarks:       r.remarks,
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "plan_id"}, {Name: "indicator_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"target_value", "baseline_value", "remarks", "updated_at"}),
	}).Create(target).Error
}

func upsertEntry(tx *gorm.DB, reportID string, r importRow) error {
	entry := &models.QuarterlyIndicatorEntry{
		ReportID:      reportID,
		IndicatorID:   r.indicator.ID,
		AchievedValue: r.value,
		Remarks:       r.remarks,
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "report_id"}, {Name: "indicator_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"achieved_value", "remarks", "updated_at"}),
	}).Create(entry).Error
}

// RecentImports returns the latest batches for the units the actor may see.
func (s *importService) RecentImports(actor authz.Subject, limit int) ([]models.ImportBatch, error) {
	if limit <= 0 {
		limit = defaultRecentImports
	}
	if limit > maxRecentImports {
		limit = maxRecentImports
	}

	batches := []models.ImportBatch{}
	err := s.db.Scopes(actor.UnitScope("unit_id")).
		Preload("Unit").
		Order("created_at DESC").
		Limit(limit).
		Find(&batches).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return batches, nil
}

// ExportOptions lists the units the actor may export and the years that
// have plans or reports.
func (s *importService) ExportOptions(actor authz.Subject) (*ExportOptions, error) {
	opts := &ExportOptions{
		Units:   []models.Unit{},
		Years:   []int{},
		Sources: []models.ImportSource{models.ImportSourceAnnual, models.ImportSourceQuarterly},
		Formats: []ExportFormat{ExportCSV, ExportXLSX},
	}

	if err := s.db.Scopes(actor.UnitScope("id")).Order("name ASC").Find(&opts.Units).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var planYears, reportYears []int
	if err := s.db.Model(&models.AnnualPlan{}).Scopes(actor.UnitScope("unit_id")).Distinct("year").Pluck("year", &planYears).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if err := s.db.Model(&models.QuarterlyReport{}).Scopes(actor.UnitScope("unit_id")).Distinct("year").Pluck("year", &reportYears).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	set := map[int]bool{}
	for _, y := range append(planYears, reportYears...) {
		if !set[y] {
			set[y] = true
			opts.Years = append(opts.Years, y)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(opts.Years)))
	return opts, nil
}
