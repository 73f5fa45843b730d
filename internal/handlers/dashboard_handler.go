package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"agriplan/internal/services"
)

const defaultRecentActivities = 10

// DashboardHandler handles dashboard summary requests.
type DashboardHandler struct {
	dashboardService services.DashboardServicer
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(dashboardService services.DashboardServicer) *DashboardHandler {
	return &DashboardHandler{dashboardService: dashboardService}
}

// Stats handles headline counts.
// @Summary     Dashboard stats
// @Description Units, indicators, and plans and reports by status, scoped to the actor
// @Tags        dashboard
// @Produce     json
// @Security    BearerAuth
// @Success     200 {object} services.DashboardStats "Stats"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /dashboard/stats [get]
func (h *DashboardHandler) Stats(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	stats, err := h.dashboardService.Stats(subject)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RecentActivities handles the latest audit records.
// @Summary     Recent activities
// @Tags        dashboard
// @Produce     json
// @Security    BearerAuth
// @Param       limit query int false "Number of records (default 10)"
// @Success     200 {array}  models.WorkflowAudit "Audit records"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /dashboard/recent_activities [get]
func (h *DashboardHandler) RecentActivities(c *gin.Context) {
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
	n := defaultRecentActivities
	if limit != nil {
		n = *limit
	}

	activities, err := h.dashboardService.RecentActivities(subject, n)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activities": activities})
}

// PendingApprovals handles submitted records awaiting review.
// @Summary     Pending approvals
// @Description Submitted plans and reports. Empty for actors who cannot approve.
// @Tags        dashboard
// @Produce     json
// @Security    BearerAuth
// @Success     200 {object} services.PendingApprovals "Pending records"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /dashboard/pending_approvals [get]
func (h *DashboardHandler) PendingApprovals(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	pending, err := h.dashboardService.PendingApprovals(subject)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, pending)
}

// PerformanceSummary handles target versus achievement per indicator.
// @Summary     Performance summary
// @Description For each indicator with a target in the year, approved achievements against the target
// @Tags        dashboard
// @Produce     json
// @Security    BearerAuth
// @Param       year query int false "Year (default current year)"
// @Success     200 {array}  services.IndicatorPerformance "Performance rows"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /dashboard/performance_summary [get]
func (h *DashboardHandler) PerformanceSummary(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	year, err := queryInt(c, "year")
	if err != nil {
		respondWithError(c, err)
		return
	}
	y := time.Now().Year()
	if year != nil {
		y = *year
	}

	rows, err := h.dashboardService.PerformanceSummary(subject, y)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"year": y, "indicators": rows})
}
