package services

import (
	"io"
	"strings"

	"agriplan/internal/authz"
	"agriplan/internal/models"
	"agriplan/internal/pagination"
	"agriplan/internal/workflow"
)

// UserInput holds the fields used to register or create a user.
type UserInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      models.Role
	UnitID    *string
}

// UpdateUserInput holds optional user changes. An empty UnitID clears the unit.
type UpdateUserInput struct {
	Email     *string
	Password  *string
	FirstName *string
	LastName  *string
	Role      *models.Role
	UnitID    *string
	IsActive  *bool
}

// UserFilter holds optional filters for listing users.
type UserFilter struct {
	IsActive *bool
	UnitID   *string
	Search   string
}

// UserServicer defines the contract for identity, authentication and user management.
type UserServicer interface {
	Register(in UserInput) (*models.User, error)
	Authenticate(login, password string) (*models.User, error)
	GetUserByID(id string) (*models.User, error)
	GetSubject(userID string) (authz.Subject, error)
	StoreRefreshTokenHash(userID, tokenHash string) error
	GetRefreshTokenHash(userID string) (string, error)
	ListUsers(actor authz.Subject, filter UserFilter, page pagination.PageRequest) (*pagination.PageResponse[models.User], error)
	CreateUser(actor authz.Subject, in UserInput) (*models.User, error)
	UpdateUser(actor authz.Subject, userID string, in UpdateUserInput) (*models.User, error)
	DeactivateUser(actor authz.Subject, userID string) error
}

// UnitInput holds the fields for creating a unit.
type UnitInput struct {
	Name        string
	Type        models.UnitType
	ParentID    *string
	Description string
}

// UnitUpdateInput holds optional unit changes. An empty ParentID detaches the unit.
type UnitUpdateInput struct {
	Name        *string
	Type        *models.UnitType
	ParentID    *string
	Description *string
}

// UnitFilter holds optional filters for listing units.
type UnitFilter struct {
	Type     *models.UnitType
	ParentID *string
	Search   string
}

// DependencySnapshot counts the rows that reference a unit.
type DependencySnapshot struct {
	UserProfiles     int64 `json:"user_profiles"`
	AnnualPlans      int64 `json:"annual_plans"`
	QuarterlyReports int64 `json:"quarterly_reports"`
	Indicators       int64 `json:"indicators"`
	ChildUnits       int64 `json:"child_units"`
	// FinalizedRecords counts plans and reports that are SUBMITTED or
	// APPROVED; a cascade destroys them along with the drafts.
	FinalizedRecords int64 `json:"finalized_records"`
}

// Total returns the number of dependents that block a plain delete.
func (d DependencySnapshot) Total() int64 {
	return d.UserProfiles + d.AnnualPlans + d.QuarterlyReports + d.Indicators + d.ChildUnits
}

// Describe renders the non-zero counts, e.g. "2 user(s), 1 annual plan(s)".
func (d DependencySnapshot) Describe() string {
	var parts []string
	add := func(n int64, label string) {
		if n > 0 {
			parts = append(parts, itoa(n)+" "+label)
		}
	}
	add(d.UserProfiles, "user(s)")
	add(d.AnnualPlans, "annual plan(s)")
	add(d.QuarterlyReports, "quarterly report(s)")
	add(d.Indicators, "indicator(s)")
	add(d.ChildUnits, "child unit(s)")
	return strings.Join(parts, ", ")
}

// UnitUsage reports whether a unit can be deleted without a cascade.
type UnitUsage struct {
	Unit            *models.Unit       `json:"unit"`
	Dependencies    DependencySnapshot `json:"dependencies"`
	CanDeleteSafely bool               `json:"can_delete_safely"`
}

// UnitDetail is a unit with its related records.
type UnitDetail struct {
	Unit             *models.Unit             `json:"unit"`
	Indicators       []models.Indicator       `json:"indicators"`
	AnnualPlans      []models.AnnualPlan      `json:"annual_plans"`
	QuarterlyReports []models.QuarterlyReport `json:"quarterly_reports"`
}

// UnitStatistics summarizes a unit's records.
type UnitStatistics struct {
	UnitID           string                    `json:"unit_id"`
	Users            int64                     `json:"users"`
	Indicators       int64                     `json:"indicators"`
	ActiveIndicators int64                     `json:"active_indicators"`
	PlansByStatus    map[workflow.Status]int64 `json:"plans_by_status"`
	ReportsByStatus  map[workflow.Status]int64 `json:"reports_by_status"`
}

// UnitDeleteResult describes a completed unit deletion.
type UnitDeleteResult struct {
	UnitID       string             `json:"unit_id"`
	Cascade      bool               `json:"cascade"`
	Dependencies DependencySnapshot `json:"dependencies"`
}

// UnitServicer defines the contract for the unit hierarchy and unit deletion.
type UnitServicer interface {
	CreateUnit(actor authz.Subject, in UnitInput) (*models.Unit, error)
	ListUnits(filter UnitFilter, page pagination.PageRequest) (*pagination.PageResponse[models.Unit], error)
	GetUnitDetail(actor authz.Subject, id string) (*UnitDetail, error)
	UpdateUnit(actor authz.Subject, id string, in UnitUpdateInput) (*models.Unit, error)
	GetUsage(id string) (*UnitUsage, error)
	GetStatistics(actor authz.Subject, id string) (*UnitStatistics, error)
	// DeleteUnit removes a unit. Without cascade it fails when the unit has
	// dependents and returns the snapshot alongside the error.
	DeleteUnit(actor authz.Subject, id string, cascade bool) (*UnitDeleteResult, error)
}

// IndicatorInput holds the fields for creating an indicator.
type IndicatorInput struct {
	OwnerUnitID   *string
	Code          string
	Name          string
	Description   string
	UnitOfMeasure string
}

// IndicatorUpdateInput holds optional indicator changes.
type IndicatorUpdateInput struct {
	Code          *string
	Name          *string
	Description   *string
	UnitOfMeasure *string
}

// IndicatorFilter holds optional filters for listing indicators.
type IndicatorFilter struct {
	UnitID *string
	Active *bool
	Search string
}

// CodeCheck is the result of validating an indicator code.
type CodeCheck struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// IndicatorServicer defines the contract for the indicator registry.
type IndicatorServicer interface {
	CreateIndicator(actor authz.Subject, in IndicatorInput) (*models.Indicator, error)
	ListIndicators(actor authz.Subject, filter IndicatorFilter, page pagination.PageRequest) (*pagination.PageResponse[models.Indicator], error)
	GetIndicator(actor authz.Subject, id string) (*models.Indicator, error)
	UpdateIndicator(actor authz.Subject, id string, in IndicatorUpdateInput) (*models.Indicator, error)
	DeleteIndicator(actor authz.Subject, id string) error
	ToggleActive(actor authz.Subject, id string) (*models.Indicator, error)
	ValidateCode(unitID, code, excludeID string) (*CodeCheck, error)
}

// BulkResult reports the outcome of a bulk transition.
type BulkResult struct {
	Count      int      `json:"count"`
	SkippedIDs []string `json:"skipped_ids"`
}

// PlanFilter holds optional filters for listing annual plans.
type PlanFilter struct {
	Year   *int
	UnitID *string
	Status *workflow.Status
}

// TargetInput holds the fields for adding a plan target.
type TargetInput struct {
	IndicatorID   string
	TargetValue   float64
	BaselineValue *float64
	Remarks       string
}

// TargetUpdateInput holds optional target changes.
type TargetUpdateInput struct {
	TargetValue   *float64
	BaselineValue *float64
	Remarks       *string
}

// PlanServicer defines the contract for annual plans and their targets.
type PlanServicer interface {
	CreatePlan(actor authz.Subject, unitID *string, year int) (*models.AnnualPlan, error)
	ListPlans(actor authz.Subject, filter PlanFilter, page pagination.PageRequest) (*pagination.PageResponse[models.AnnualPlan], error)
	GetPlan(actor authz.Subject, id string) (*models.AnnualPlan, error)
	DeletePlan(actor authz.Subject, id string) error
	SubmitPlan(actor authz.Subject, id string) (*models.AnnualPlan, error)
	ApprovePlan(actor authz.Subject, id string) (*models.AnnualPlan, error)
	RejectPlan(actor authz.Subject, id, reason string) (*models.AnnualPlan, error)
	BulkApprovePlans(actor authz.Subject, ids []string, reason string) (*BulkResult, error)
	BulkRejectPlans(actor authz.Subject, ids []string, reason string) (*BulkResult, error)
	AddTarget(actor authz.Subject, planID string, in TargetInput) (*models.AnnualPlanTarget, error)
	UpdateTarget(actor authz.Subject, planID, targetID string, in TargetUpdateInput) (*models.AnnualPlanTarget, error)
	DeleteTarget(actor authz.Subject, planID, targetID string) error
}

// ReportFilter holds optional filters for listing quarterly reports.
type ReportFilter struct {
	Year    *int
	Quarter *int
	UnitID  *string
	Status  *workflow.Status
}

// EntryInput holds the fields for adding a report entry.
type EntryInput struct {
	IndicatorID   string
	AchievedValue float64
	Remarks       string
}

// EntryUpdateInput holds optional entry changes.
type EntryUpdateInput struct {
	AchievedValue *float64
	Remarks       *string
}

// ReportServicer defines the contract for quarterly reports and their entries.
type ReportServicer interface {
	CreateReport(actor authz.Subject, unitID *string, year, quarter int) (*models.QuarterlyReport, error)
	ListReports(actor authz.Subject, filter ReportFilter, page pagination.PageRequest) (*pagination.PageResponse[models.QuarterlyReport], error)
	GetReport(actor authz.Subject, id string) (*models.QuarterlyReport, error)
	DeleteReport(actor authz.Subject, id string) error
	SubmitReport(actor authz.Subject, id string) (*models.QuarterlyReport, error)
	ApproveReport(actor authz.Subject, id string) (*models.QuarterlyReport, error)
	RejectReport(actor authz.Subject, id, reason string) (*models.QuarterlyReport, error)
	BulkApproveReports(actor authz.Subject, ids []string, reason string) (*BulkResult, error)
	BulkRejectReports(actor authz.Subject, ids []string, reason string) (*BulkResult, error)
	AddEntry(actor authz.Subject, reportID string, in EntryInput) (*models.QuarterlyIndicatorEntry, error)
	UpdateEntry(actor authz.Subject, reportID, entryID string, in EntryUpdateInput) (*models.QuarterlyIndicatorEntry, error)
	DeleteEntry(actor authz.Subject, reportID, entryID string) error
}

// ImportRequest describes an uploaded spreadsheet.
type ImportRequest struct {
	FileName string
	Content  io.Reader
	Source   models.ImportSource
	UnitID   *string
	Year     int
	Quarter  *int
}

// ImportResult summarizes an import.
type ImportResult struct {
	Message   string   `json:"message"`
	BatchID   string   `json:"batch_id"`
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

// ExportOptions lists what the actor can export.
type ExportOptions struct {
	Units   []models.Unit         `json:"units"`
	Years   []int                 `json:"years"`
	Sources []models.ImportSource `json:"sources"`
	Formats []ExportFormat        `json:"formats"`
}

// ImportServicer defines the contract for bulk spreadsheet ingestion.
type ImportServicer interface {
	Import(actor authz.Subject, req ImportRequest) (*ImportResult, error)
	RecentImports(actor authz.Subject, limit int) ([]models.ImportBatch, error)
	ExportOptions(actor authz.Subject) (*ExportOptions, error)
}

// ExportFormat selects the file type of an export.
type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportXLSX ExportFormat = "xlsx"
)

// ExportFilter holds optional filters for exports.
type ExportFilter struct {
	Year    *int
	Quarter *int
	UnitID  *string
	Action  *models.AuditAction
	Format  ExportFormat
}

// ExportFile is a rendered export.
type ExportFile struct {
	FileName    string
	ContentType string
	Data        []byte
	Rows        int
}

// ExportServicer defines the contract for report exports.
type ExportServicer interface {
	ExportAnnualPlans(actor authz.Subject, filter ExportFilter) (*ExportFile, error)
	ExportQuarterlyReports(actor authz.Subject, filter ExportFilter) (*ExportFile, error)
	ExportIndicators(actor authz.Subject, filter ExportFilter) (*ExportFile, error)
	ExportAuditLog(actor authz.Subject, filter ExportFilter) (*ExportFile, error)
}

// DashboardStats holds headline counts scoped to the actor.
type DashboardStats struct {
	Units            int64                     `json:"units"`
	Indicators       int64                     `json:"indicators"`
	ActiveIndicators int64                     `json:"active_indicators"`
	PlansByStatus    map[workflow.Status]int64 `json:"plans_by_status"`
	ReportsByStatus  map[workflow.Status]int64 `json:"reports_by_status"`
	PendingApprovals int64                     `json:"pending_approvals"`
}

// PendingApprovals lists submitted records awaiting review.
type PendingApprovals struct {
	AnnualPlans      []models.AnnualPlan      `json:"annual_plans"`
	QuarterlyReports []models.QuarterlyReport `json:"quarterly_reports"`
}

// IndicatorPerformance compares approved achievements with the annual target.
type IndicatorPerformance struct {
	IndicatorID   string   `json:"indicator_id"`
	Code          string   `json:"code"`
	Name          string   `json:"name"`
	UnitID        string   `json:"unit_id"`
	UnitName      string   `json:"unit_name"`
	TargetValue   float64  `json:"target_value"`
	AchievedValue float64  `json:"achieved_value"`
	Percentage    *float64 `json:"percentage"`
}

// DashboardServicer defines the contract for dashboard summaries.
type DashboardServicer interface {
	Stats(actor authz.Subject) (*DashboardStats, error)
	RecentActivities(actor authz.Subject, limit int) ([]models.WorkflowAudit, error)
	PendingApprovals(actor authz.Subject) (*PendingApprovals, error)
	PerformanceSummary(actor authz.Subject, year int) ([]IndicatorPerformance, error)
}

// AuditEntry describes one audit record to write.
type AuditEntry struct {
	ActorID  string
	UnitID   *string
	Action   models.AuditAction
	PlanID   *string
	ReportID *string
	Message  string
	Details  map[string]interface{}
	IP       string
}

// AuditFilter holds optional filters for listing audit records.
type AuditFilter struct {
	Action   *models.AuditAction
	UnitID   *string
	PlanID   *string
	ReportID *string
}

// AuditServicer defines the contract for audit logging.
type AuditServicer interface {
	// Log records an event outside any transaction. Failures are logged, not returned.
	Log(entry AuditEntry)
	ListAudits(actor authz.Subject, filter AuditFilter, page pagination.PageRequest) (*pagination.PageResponse[models.WorkflowAudit], error)
}
