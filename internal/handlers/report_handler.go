package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"agriplan/internal/pagination"
	"agriplan/internal/services"
)

// ReportHandler handles quarterly report requests.
type ReportHandler struct {
	reportService services.ReportServicer
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(reportService services.ReportServicer) *ReportHandler {
	return &ReportHandler{reportService: reportService}
}

// CreateReportRequest represents the request payload for creating a quarterly report.
type CreateReportRequest struct {
	UnitID  *string `json:"unit_id" binding:"omitempty,uuid_str"`
	Year    int     `json:"year" binding:"required"`
	Quarter int     `json:"quarter" binding:"required,quarter"`
}

// BulkReportRequest represents the request payload for bulk approving reports.
type BulkReportRequest struct {
	ReportIDs []string `json:"report_ids" binding:"required,min=1,dive,uuid_str"`
	Reason    string   `json:"reason" binding:"max=2000"`
}

// BulkRejectReportRequest represents the request payload for bulk rejecting reports.
type BulkRejectReportRequest struct {
	ReportIDs []string `json:"report_ids" binding:"required,min=1,dive,uuid_str"`
	Reason    string   `json:"reason" binding:"required,max=2000"`
}

// EntryRequest represents the request payload for adding a report entry.
type EntryRequest struct {
	IndicatorID   string   `json:"indicator_id" binding:"required,uuid_str"`
	AchievedValue *float64 `json:"achieved_value" binding:"required"`
	Remarks       string   `json:"remarks"`
}

// UpdateEntryRequest represents the request payload for updating a report entry.
type UpdateEntryRequest struct {
	AchievedValue *float64 `json:"achieved_value"`
	Remarks       *string  `json:"remarks"`
}

// ListReports handles listing quarterly reports.
// @Summary     List quarterly reports
// @Description List quarterly reports of accessible units
// @Tags        quarterly-reports
// @Produce     json
// @Security    BearerAuth
// @Param       year      query int    false "Filter by year"
// @Param       quarter   query int    false "Filter by quarter"
// @Param       unit_id   query string false "Filter by unit"
// @Param       status    query string false "Filter by status"
// @Param       page      query int    false "Page number (default 1)"
// @Param       page_size query int    false "Items per page (default 20, max 100)"
// @Success     200 {object} pagination.PageResponse[models.QuarterlyReport] "Paginated reports"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /quarterly-reports [get]
func (h *ReportHandler) ListReports(c *gin.Context) {
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
	quarter, err := queryInt(c, "quarter")
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

	result, err := h.reportService.ListReports(subject, services.ReportFilter{
		Year:    year,
		Quarter: quarter,
		UnitID:  unitID,
		Status:  status,
	}, page)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreateReport handles creating a quarterly report.
// @Summary     Create a quarterly report
// @Description Create a DRAFT report. unit_id defaults to the actor's unit. One report per unit, year and quarter.
// @Tags        quarterly-reports
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body CreateReportRequest true "Report details"
// @Success     201 {object} models.QuarterlyReport "Report created"
// @Failure     400 {object} ErrorResponse "Invalid input or duplicate report"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Forbidden"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /quarterly-reports [post]
func (h *ReportHandler) CreateReport(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, bindError(err))
		return
	}

	report, err := h.reportService.CreateReport(subject, req.UnitID, req.Year, req.Quarter)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"quarterly_report": report})
}

// GetReport handles fetching a quarterly report with its entries.
// @Summary     Get a quarterly report
// @Tags        quarterly-reports
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Report ID"
// @Success     200 {object} models.QuarterlyReport "Report with entries"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Report not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /quarterly-reports/{id} [get]
func (h *ReportHandler) GetReport(c *gin.Context) {
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

	report, err := h.reportService.GetReport(subject, id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quarterly_report": report})
}

// DeleteReport handles deleting a quarterly report.
// @Summary     Delete a quarterly report
// @Description Delete a DRAFT or REJECTED report
// @Tags        quarterly-reports
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Report ID"
// @Success     200 {object} MessageResponse "Report deleted"
// @Failure     400 {object} ErrorResponse "Not editable"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Report not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /quarterly-reports/{id} [delete]
func (h *ReportHandler) DeleteReport(c *gin.Context) {
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

	if err := h.reportService.DeleteReport(subject, id); err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "Quarterly report deleted successfully"})
}

// SubmitReport handles submitting a report for review.
// @Summary     Submit a quarterly report
// @Tags        quarterly-reports
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Report ID"
// @Success     200 {object} models.QuarterlyReport "Report submitted"
// @Failure     400 {object} ErrorResponse "Invalid transition or empty report"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Report not found"
// @Failure     409 {object} ErrorResponse "Concurrent modification"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /quarterly-reports/{id}/submit [post]
func (h *ReportHandler) SubmitReport(c *gin.Context) {
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

	report, err := h.reportService.SubmitReport(subject, id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quarterly_report": report})
}

// ApproveReport handles approving a submitted report.
// @Summary     Approve a quarterly report
// @Tags        quarterly-reports
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Report ID"
// @Success     200 {object} models.QuarterlyReport "Report approved"
// @Failure     400 {object} ErrorResponse "Invalid transition"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Forbidden"
// @Failure     404 {object} ErrorResponse "Report not found"
// @Failure     409 {object} ErrorResponse "Concurrent modification"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /quarterly-reports/{id}/approve [post]
func (h *ReportHandler) ApproveReport(c *gin.Context) {
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

	report, err := h.reportService.ApproveReport(subject, id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quarterly_report": report})
}

// RejectReport handles rejecting a submitted report.
// @Summary     Reject a quarterly report
// @Tags        quarterly-reports
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string        true  "Report ID"
// @Param       request body RejectRequest false "Rejection reason"
// @Success     200 {object} models.QuarterlyReport "Report rejected"
// @Failure     400 {object} ErrorResponse "Invalid transition"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Forbidden"
// @Failure     404 {object} ErrorResponse "Report not found"
// @Failure     409 {object} ErrorResponse "Concurrent modification"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /quarterly-reports/{id}/reject [post]
func (h *ReportHandler) RejectReport(c *gin.Context) {
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

	report, err := h.reportService.RejectReport(subject, id, req.Reason)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quarterly_report": report})
}

// BulkApproveReports handles approving several submitted reports at once.
// @Summary     Bulk approve quarterly reports
// @Description Approve every listed report that is SUBMITTED and accessible. Others are returned in skipped_ids.
// @Tags        quarterly-reports
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body BulkReportRequest true "Report ids"
// @Success     200 {object} BulkApproveResponse "Bulk result"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Forbidden"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /quarterly-reports/bulk_approve [post]
func (h *ReportHandler) BulkApproveReports(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req BulkReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, bindError(err))
		return
	}

	result, err := h.reportService.BulkApproveReports(subject, req.ReportIDs, req.Reason)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, BulkApproveResponse{ApprovedCount: result.Count, SkippedIDs: skipped(result.SkippedIDs)})
}

// BulkRejectReports handles rejecting several submitted reports at once.
// @Summary     Bulk reject quarterly reports
// @Description Reject every listed report that is SUBMITTED and accessible. A reason is required.
// @Tags        quarterly-reports
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body BulkRejectReportRequest true "Report ids and reason"
// @Success     200 {object} BulkRejectResponse "Bulk result"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Forbidden"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /quarterly-reports/bulk_reject [post]
func (h *ReportHandler) BulkRejectReports(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req BulkRejectReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, bindError(err))
		return
	}

	result, err := h.reportService.BulkRejectReports(subject, req.ReportIDs, req.Reason)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, BulkRejectResponse{RejectedCount: result.Count, SkippedIDs: skipped(result.SkippedIDs)})
}

// AddEntry handles adding an entry to a draft report.
// @Summary     Add a report entry
// @Tags        quarterly-reports
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string       true "Report ID"
// @Param       request body EntryRequest true "Entry details"
// @Success     201 {object} models.QuarterlyIndicatorEntry "Entry added"
// @Failure     400 {object} ErrorResponse "Invalid input, duplicate or not editable"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Report not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /quarterly-reports/{id}/entries [post]
func (h *ReportHandler) AddEntry(c *gin.Context) {
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

	var req EntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, bindError(err))
		return
	}

	entry, err := h.reportService.AddEntry(subject, id, services.EntryInput{
		IndicatorID:   req.IndicatorID,
		AchievedValue: *req.AchievedValue,
		Remarks:       req.Remarks,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}

// UpdateEntry handles updating an entry of a draft report.
// @Summary     Update a report entry
// @Tags        quarterly-reports
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string             true "Report ID"
// @Param       entryId path string             true "Entry ID"
// @Param       request body UpdateEntryRequest true "Fields to update"
// @Success     200 {object} models.QuarterlyIndicatorEntry "Entry updated"
// @Failure     400 {object} ErrorResponse "Invalid input or not editable"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Entry not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /quarterly-reports/{id}/entries/{entryId} [put]
func (h *ReportHandler) UpdateEntry(c *gin.Context) {
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
	entryID, err := parsePathID(c, "entryId")
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req UpdateEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, bindError(err))
		return
	}

	entry, err := h.reportService.UpdateEntry(subject, id, entryID, services.EntryUpdateInput{
		AchievedValue: req.AchievedValue,
		Remarks:       req.Remarks,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry": entry})
}

// DeleteEntry handles removing an entry from a draft report.
// @Summary     Delete a report entry
// @Tags        quarterly-reports
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string true "Report ID"
// @Param       entryId path string true "Entry ID"
// @Success     200 {object} MessageResponse "Entry deleted"
// @Failure     400 {object} ErrorResponse "Not editable"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Entry not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /quarterly-reports/{id}/entries/{entryId} [delete]
func (h *ReportHandler) DeleteEntry(c *gin.Context) {
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
	entryID, err := parsePathID(c, "entryId")
	if err != nil {
		respondWithError(c, err)
		return
	}

	if err := h.reportService.DeleteEntry(subject, id, entryID); err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "Entry deleted successfully"})
}
