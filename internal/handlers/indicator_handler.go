package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "agriplan/internal/errors"
	"agriplan/internal/pagination"
	"agriplan/internal/services"
)

// IndicatorHandler handles indicator registry requests.
type IndicatorHandler struct {
	indicatorService services.IndicatorServicer
}

// NewIndicatorHandler creates a new IndicatorHandler.
func NewIndicatorHandler(indicatorService services.IndicatorServicer) *IndicatorHandler {
	return &IndicatorHandler{indicatorService: indicatorService}
}

// CreateIndicatorRequest represents the request payload for creating an indicator.
type CreateIndicatorRequest struct {
	OwnerUnitID   *string `json:"owner_unit_id" binding:"omitempty,uuid_str"`
	Code          string  `json:"code" binding:"required,max=50"`
	Name          string  `json:"name" binding:"required,max=255"`
	Description   string  `json:"description"`
	UnitOfMeasure string  `json:"unit_of_measure" binding:"required,max=50"`
}

// UpdateIndicatorRequest represents the request payload for updating an indicator.
type UpdateIndicatorRequest struct {
	Code          *string `json:"code" binding:"omitempty,max=50"`
	Name          *string `json:"name" binding:"omitempty,max=255"`
	Description   *string `json:"description"`
	UnitOfMeasure *string `json:"unit_of_measure" binding:"omitempty,max=50"`
}

// ListIndicators handles listing indicators visible to the actor.
// @Summary     List indicators
// @Description List indicators of accessible units
// @Tags        indicators
// @Produce     json
// @Security    BearerAuth
// @Param       unit_id   query string false "Filter by owner unit"
// @Param       active    query bool   false "Filter by active flag"
// @Param       search    query string false "Match code or name"
// @Param       page      query int    false "Page number (default 1)"
// @Param       page_size query int    false "Items per page (default 20, max 100)"
// @Success     200 {object} pagination.PageResponse[models.Indicator] "Paginated indicators"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /indicators [get]
func (h *IndicatorHandler) ListIndicators(c *gin.Context) {
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
	unitID, err := queryUUID(c, "unit_id")
	if err != nil {
		respondWithError(c, err)
		return
	}
	active, err := queryBool(c, "active")
	if err != nil {
		respondWithError(c, err)
		return
	}

	result, err := h.indicatorService.ListIndicators(subject, services.IndicatorFilter{
		UnitID: unitID,
		Active: active,
		Search: c.Query("search"),
	}, page)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreateIndicator handles creating an indicator.
// @Summary     Create an indicator
// @Description Create an indicator owned by a unit. owner_unit_id defaults to the actor's unit.
// @Tags        indicators
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body CreateIndicatorRequest true "Indicator details"
// @Success     201 {object} models.Indicator "Indicator created"
// @Failure     400 {object} ErrorResponse "Invalid input or duplicate code"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Forbidden"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /indicators [post]
func (h *IndicatorHandler) CreateIndicator(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req CreateIndicatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, bindError(err))
		return
	}

	indicator, err := h.indicatorService.CreateIndicator(subject, services.IndicatorInput{
		OwnerUnitID:   req.OwnerUnitID,
		Code:          req.Code,
		Name:          req.Name,
		Description:   req.Description,
		UnitOfMeasure: req.UnitOfMeasure,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"indicator": indicator})
}

// GetIndicator handles fetching an indicator.
// @Summary     Get an indicator
// @Tags        indicators
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Indicator ID"
// @Success     200 {object} models.Indicator "Indicator"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Indicator not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /indicators/{id} [get]
func (h *IndicatorHandler) GetIndicator(c *gin.Context) {
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

	indicator, err := h.indicatorService.GetIndicator(subject, id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"indicator": indicator})
}

// UpdateIndicator handles updating an indicator.
// @Summary     Update an indicator
// @Tags        indicators
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string                 true "Indicator ID"
// @Param       request body UpdateIndicatorRequest true "Fields to update"
// @Success     200 {object} models.Indicator "Indicator updated"
// @Failure     400 {object} ErrorResponse "Invalid input or duplicate code"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Indicator not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /indicators/{id} [put]
func (h *IndicatorHandler) UpdateIndicator(c *gin.Context) {
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

	var req UpdateIndicatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, bindError(err))
		return
	}

	indicator, err := h.indicatorService.UpdateIndicator(subject, id, services.IndicatorUpdateInput{
		Code:          req.Code,
		Name:          req.Name,
		Description:   req.Description,
		UnitOfMeasure: req.UnitOfMeasure,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"indicator": indicator})
}

// DeleteIndicator handles deleting an indicator.
// @Summary     Delete an indicator
// @Description Delete an indicator that no plan target or report entry references
// @Tags        indicators
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Indicator ID"
// @Success     200 {object} MessageResponse "Indicator deleted"
// @Failure     400 {object} ErrorResponse "Indicator in use"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Indicator not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /indicators/{id} [delete]
func (h *IndicatorHandler) DeleteIndicator(c *gin.Context) {
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

	if err := h.indicatorService.DeleteIndicator(subject, id); err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "Indicator deleted successfully"})
}

// ToggleActive handles flipping an indicator's active flag.
// @Summary     Toggle indicator active flag
// @Tags        indicators
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Indicator ID"
// @Success     200 {object} models.Indicator "Indicator updated"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Indicator not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /indicators/{id}/toggle_active [post]
func (h *IndicatorHandler) ToggleActive(c *gin.Context) {
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

	indicator, err := h.indicatorService.ToggleActive(subject, id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"indicator": indicator})
}

// ValidateCode handles checking whether an indicator code is available.
// @Summary     Validate an indicator code
// @Tags        indicators
// @Produce     json
// @Security    BearerAuth
// @Param       code       query string true  "Indicator code"
// @Param       unit_id    query string true  "Owner unit"
// @Param       exclude_id query string false "Indicator being edited"
// @Success     200 {object} services.CodeCheck "Validation result"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /indicators/validate_code [get]
func (h *IndicatorHandler) ValidateCode(c *gin.Context) {
	unitID, err := queryUUID(c, "unit_id")
	if err != nil {
		respondWithError(c, err)
		return
	}
	if unitID == nil {
		respondWithError(c, apperrors.WithFields(apperrors.ErrInvalidInput, "unit_id is required",
			map[string][]string{"unit_id": {"This field is required."}}))
		return
	}
	excludeID := ""
	if v, err := queryUUID(c, "exclude_id"); err != nil {
		respondWithError(c, err)
		return
	} else if v != nil {
		excludeID = *v
	}

	check, err := h.indicatorService.ValidateCode(*unitID, c.Query("code"), excludeID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}
