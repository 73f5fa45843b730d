package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"agriplan/internal/pagination"
	"agriplan/internal/services"
)

// PlanHandler handles annual plan requests.
type PlanHandler struct {
	planService services.PlanServicer
}

// NewPlanHandler creates a new PlanHandler.
func NewPlanHandler(planService services.PlanServicer) *PlanHandler {
	return &PlanHandler{planService: planService}
}

// CreatePlanRequest represents the request payload for creating an annual plan.
type CreatePlanRequest struct {
	UnitID *string `json:"unit_id" binding:"omitempty,uuid_str"`
	Year   int     `json:"year" binding:"required"`
}

// RejectRequest carries an optional rejection reason.
type RejectRequest struct {
	Reason string `json:"reason" binding:"max=2000"`
}

// BulkPlanRequest represents the request payload for bulk approving plans.
type BulkPlanRequest struct {
	PlanIDs []string `json:"plan_ids" binding:"required,min=1,dive,uuid_str"`
	Reason  string   `json:"reason" binding:"max=2000"`
}

// BulkRejectPlanRequest represents the request payload for bulk rejecting plans.
type BulkRejectPlanRequest struct {
	PlanIDs []string `json:"plan_ids" binding:"required,min=1,dive,uuid_str"`
	Reason  string   `json:"reason" binding:"required,max=2000"`
}

// BulkApproveResponse reports a bulk approval.
type BulkApproveResponse struct {
	ApprovedCount int      `json:"approved_count"`
	SkippedIDs    []string `json:"skipped_ids"`
}

// BulkRejectResponse reports a bulk rejection.
type BulkRejectResponse struct {
	RejectedCount int      `json:"rejected_count"`
	SkippedIDs    []string `json:"skipped_ids"`
}

// TargetRequest represents the request payload for adding a plan target.
type TargetRequest struct {
	IndicatorID   string   `json:"indicator_id" binding:"required,uuid_str"`
	TargetValue   *float64 `json:"target_value" binding:"required"`
	BaselineValue *float64 `json:"baseline_value"`
	Remarks       string   `json:"remarks"`
}

// UpdateTargetRequest represents the request payload for updating a plan target.
type UpdateTargetRequest struct {
	TargetValue   *float64 `json:"target_value"`
	BaselineValue *float64 `json:"baseline_value"`
	Remarks       *string  `json:"remarks"`
}

func skipped(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// ListPlans handles listing annual plans.
// @Summary     List annual plans
// @Description List annual plans of accessible units
// @Tags        annual-plans
// @Produce     json
// @Security    BearerAuth
// @Param       year      query int    false "Filter by year"
// @Param       unit_id   query string false "Filter by unit"
// @Param       status    query string false "Filter by status"
// @Param       page      query int    false "Page number (default 1)"
// @Param       page_size query int    false "Items per page (default 20, max 100)"
// @Success     200 {object} pagination.PageResponse[models.AnnualPlan] "Paginated plans"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /annual-plans [get]
func (h *PlanHandler) ListPlans(c *gin.Context) {
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
	year, err := queryInt(c, "year")
	if err != nil {
		respondWithError(c, err)
		return
	}
	unitID, err := queryUUID(c, "unit_id")
	if err != nil {
		respondWithError(c, err)
		return
	}
	status, err := queryStatus(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	result, err := h.planService.ListPlans(subject, services.PlanFilter{
		Year:   year,
		UnitID: unitID,
		Status: status,
	}, page)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreatePlan handles creating an annual plan.
// @Summary     Create an annual plan
// @Description Create a DRAFT plan. unit_id defaults to the actor's unit. One plan per unit and year.
// @Tags        annual-plans
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body CreatePlanRequest true "Plan details"
// @Success     201 {object} models.AnnualPlan "Plan created"
// @Failure     400 {object} ErrorResponse "Invalid input or duplicate plan"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Forbidden"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /annual-plans [post]
func (h *PlanHandler) CreatePlan(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, bindError(err))
		return
	}

	plan, err := h.planService.CreatePlan(subject, req.UnitID, req.Year)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"annual_plan": plan})
}

// GetPlan handles fetching an annual plan with its targets.
// @Summary     Get an annual plan
// @Tags        annual-plans
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Plan ID"
// @Success     200 {object} models.AnnualPlan "Plan with targets"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Plan not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /annual-plans/{id} [get]
func (h *PlanHandler) GetPlan(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	id, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	plan, err := h.planService.GetPlan(subject, id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"annual_plan": plan})
}

// DeletePlan handles deleting an annual plan.
// @Summary     Delete an annual plan
// @Description Delete a DRAFT or REJECTED plan
// @Tags        annual-plans
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Plan ID"
// @Success     200 {object} MessageResponse "Plan deleted"
// @Failure     400 {object} ErrorResponse "Not editable"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Plan not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /annual-plans/{id} [delete]
func (h *PlanHandler) DeletePlan(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	id, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	if err := h.planService.DeletePlan(subject, id); err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "Annual plan deleted successfully"})
}

// SubmitPlan handles submitting a plan for review.
// @Summary     Submit an annual plan
// @Tags        annual-plans
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Plan ID"
// @Success     200 {object} models.AnnualPlan "Plan submitted"
// @Failure     400 {object} ErrorResponse "Invalid transition or empty plan"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Plan not found"
// @Failure     409 {object} ErrorResponse "Concurrent modification"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /annual-plans/{id}/submit [post]
func (h *PlanHandler) SubmitPlan(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	id, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	plan, err := h.planService.SubmitPlan(subject, id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"annual_plan": plan})
}

// ApprovePlan handles approving a submitted plan.
// @Summary     Approve an annual plan
// @Tags        annual-plans
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Plan ID"
// @Success     200 {object} models.AnnualPlan "Plan approved"
// @Failure     400 {object} ErrorResponse "Invalid transition"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Forbidden"
// @Failure     404 {object} ErrorResponse "Plan not found"
// @Failure     409 {object} ErrorResponse "Concurrent modification"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /annual-plans/{id}/approve [post]
func (h *PlanHandler) ApprovePlan(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	id, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	plan, err := h.planService.ApprovePlan(subject, id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"annual_plan": plan})
}

// RejectPlan handles rejecting a submitted plan.
// @Summary     Reject an annual plan
// @Tags        annual-plans
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string        true  "Plan ID"
// @Param       request body RejectRequest false "Rejection reason"
// @Success     200 {object} models.AnnualPlan "Plan rejected"
// @Failure     400 {object} ErrorResponse "Invalid transition"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Forbidden"
// @Failure     404 {object} ErrorResponse "Plan not found"
// @Failure     409 {object} ErrorResponse "Concurrent modification"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /annual-plans/{id}/reject [post]
func (h *PlanHandler) RejectPlan(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	id, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req RejectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondWithError(c, bindError(err))
			return
		}
	}

	plan, err := h.planService.RejectPlan(subject, id, req.Reason)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"annual_plan": plan})
}

// BulkApprovePlans handles approving several submitted plans at once.
// @Summary     Bulk approve annual plans
// @Description Approve every listed plan that is SUBMITTED and accessible. Others are returned in skipped_ids.
// @Tags        annual-plans
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body BulkPlanRequest true "Plan ids"
// @Success     200 {object} BulkApproveResponse "Bulk result"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Forbidden"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /annual-plans/bulk_approve [post]
func (h *PlanHandler) BulkApprovePlans(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req BulkPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, bindError(err))
		return
	}

	result, err := h.planService.BulkApprovePlans(subject, req.PlanIDs, req.Reason)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, BulkApproveResponse{ApprovedCount: result.Count, SkippedIDs: skipped(result.SkippedIDs)})
}

// BulkRejectPlans handles rejecting several submitted plans at once.
// @Summary     Bulk reject annual plans
// @Description Reject every listed plan that is SUBMITTED and accessible. A reason is required.
// @Tags        annual-plans
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body BulkRejectPlanRequest true "Plan ids and reason"
// @Success     200 {object} BulkRejectResponse "Bulk result"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Forbidden"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /annual-plans/bulk_reject [post]
func (h *PlanHandler) BulkRejectPlans(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req BulkRejectPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, bindError(err))
		return
	}

	result, err := h.planService.BulkRejectPlans(subject, req.PlanIDs, req.Reason)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, BulkRejectResponse{RejectedCount: result.Count, SkippedIDs: skipped(result.SkippedIDs)})
}

// AddTarget handles adding a target to a draft plan.
// @Summary     Add a plan target
// @Tags        annual-plans
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string        true "Plan ID"
// @Param       request body TargetRequest true "Target details"
// @Success     201 {object} models.AnnualPlanTarget "Target added"
// @Failure     400 {object} ErrorResponse "Invalid input, duplicate or not editable"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Plan not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /annual-plans/{id}/targets [post]
func (h *PlanHandler) AddTarget(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	id, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req TargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, bindError(err))
		return
	}

	target, err := h.planService.AddTarget(subject, id, services.TargetInput{
		IndicatorID:   req.IndicatorID,
		TargetValue:   *req.TargetValue,
		BaselineValue: req.BaselineValue,
		Remarks:       req.Remarks,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"target": target})
}

// UpdateTarget handles updating a target of a draft plan.
// @Summary     Update a plan target
// @Tags        annual-plans
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id       path string              true "Plan ID"
// @Param       targetId path string              true "Target ID"
// @Param       request  body UpdateTargetRequest true "Fields to update"
// @Success     200 {object} models.AnnualPlanTarget "Target updated"
// @Failure     400 {object} ErrorResponse "Invalid input or not editable"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Target not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /annual-plans/{id}/targets/{targetId} [put]
func (h *PlanHandler) UpdateTarget(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	id, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}
	targetID, err := parsePathID(c, "targetId")
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req UpdateTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, bindError(err))
		return
	}

	target, err := h.planService.UpdateTarget(subject, id, targetID, services.TargetUpdateInput{
		TargetValue:   req.TargetValue,
		BaselineValue: req.BaselineValue,
		Remarks:       req.Remarks,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"target": target})
}

// DeleteTarget handles removing a target from a draft plan.
// @Summary     Delete a plan target
// @Tags        annual-plans
// @Produce     json
// @Security    BearerAuth
// @Param       id       path string true "Plan ID"
// @Param       targetId path string true "Target ID"
// @Success     200 {object} MessageResponse "Target deleted"
// @Failure     400 {object} ErrorResponse "Not editable"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Target not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /annual-plans/{id}/targets/{targetId} [delete]
func (h *PlanHandler) DeleteTarget(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	id, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}
	targetID, err := parsePathID(c, "targetId")
	if err != nil {
		respondWithError(c, err)
		return
	}

	if err := h.planService.DeleteTarget(subject, id, targetID); err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "Target deleted successfully"})
}
