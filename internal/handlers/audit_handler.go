package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"agriplan/internal/models"
	"agriplan/internal/pagination"
	"agriplan/internal/services"
)

// AuditHandler handles audit log requests.
type AuditHandler struct {
	auditService services.AuditServicer
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(auditService services.AuditServicer) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

// ListAudits handles listing audit records.
// @Summary     List audit records
// @Description Audit records of accessible units, newest first
// @Tags        audit-logs
// @Produce     json
// @Security    BearerAuth
// @Param       action    query string false "Filter by action"
// @Param       unit_id   query string false "Filter by unit"
// @Param       plan_id   query string false "Filter by annual plan"
// @Param       report_id query string false "Filter by quarterly report"
// @Param       page      query int    false "Page number (default 1)"
// @Param       page_size query int    false "Items per page (default 20, max 100)"
// @Success     200 {object} pagination.PageResponse[models.WorkflowAudit] "Paginated audit records"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /audit-logs [get]
func (h *AuditHandler) ListAudits(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var page pagination.PageRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		respondWithError(c, bindError(err))
		return
	}

	var filter services.AuditFilter
	if v := c.Query("action"); v != "" {
		action := models.AuditAction(strings.ToUpper(v))
		filter.Action = &action
	}
	if filter.UnitID, err = queryUUID(c, "unit_id"); err != nil {
		respondWithError(c, err)
		return
	}
	if filter.PlanID, err = queryUUID(c, "plan_id"); err != nil {
		respondWithError(c, err)
		return
	}
	if filter.ReportID, err = queryUUID(c, "report_id"); err != nil {
		respondWithError(c, err)
		return
	}

	result, err := h.auditService.ListAudits(subject, filter, page)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
