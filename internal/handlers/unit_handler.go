package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "agriplan/internal/errors"
	"agriplan/internal/models"
	"agriplan/internal/pagination"
	"agriplan/internal/services"
)

// UnitHandler handles organizational unit requests.
type UnitHandler struct {
	unitService services.UnitServicer
}

// NewUnitHandler creates a new UnitHandler.
func NewUnitHandler(unitService services.UnitServicer) *UnitHandler {
	return &UnitHandler{unitService: unitService}
}

// CreateUnitRequest represents the request payload for creating a unit.
type CreateUnitRequest struct {
	Name        string          `json:"name" binding:"required,min=1,max=255"`
	Type        models.UnitType `json:"type" binding:"required,unit_type"`
	ParentID    *string         `json:"parent_id" binding:"omitempty,uuid_str"`
	Description string          `json:"description"`
}

// UpdateUnitRequest represents the request payload for updating a unit.
// An empty parent_id detaches the unit from its parent.
type UpdateUnitRequest struct {
	Name        *string          `json:"name" binding:"omitempty,min=1,max=255"`
	Type        *models.UnitType `json:"type" binding:"omitempty,unit_type"`
	ParentID    *string          `json:"parent_id"`
	Description *string          `json:"description"`
}

// UnitDependencyError is returned when a plain delete finds dependents.
type UnitDependencyError struct {
	Error        ErrorDetail                 `json:"error"`
	Dependencies services.DependencySnapshot `json:"dependencies"`
}

// ListUnits handles listing units.
// @Summary     List units
// @Description List all units. Units are reference data visible to every authenticated user.
// @Tags        units
// @Produce     json
// @Security    BearerAuth
// @Param       type      query string false "Filter by unit type"
// @Param       parent_id query string false "Filter by parent unit"
// @Param       search    query string false "Match unit name"
// @Param       page      query int    false "Page number (default 1)"
// @Param       page_size query int    false "Items per page (default 20, max 100)"
// @Success     200 {object} pagination.PageResponse[models.Unit] "Paginated units"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /units [get]
func (h *UnitHandler) ListUnits(c *gin.Context) {
	var page pagination.PageRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		respondWithError(c, bindError(err))
		return
	}

	var filter services.UnitFilter
	if v := c.Query("type"); v != "" {
		t := models.UnitType(v)
		if !t.Valid() {
			respondWithError(c, apperrors.WithFields(apperrors.ErrInvalidInput, "Invalid type",
				map[string][]string{"type": {"\"" + v + "\" is not a valid choice."}}))
			return
		}
		filter.Type = &t
	}
	parentID, err := queryUUID(c, "parent_id")
	if err != nil {
		respondWithError(c, err)
		return
	}
	filter.ParentID = parentID
	filter.Search = c.Query("search")

	result, err := h.unitService.ListUnits(filter, page)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreateUnit handles creating a unit.
// @Summary     Create a unit
// @Description Create a unit, optionally under a parent
// @Tags        units
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body CreateUnitRequest true "Unit details"
// @Success     201 {object} models.Unit "Unit created"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Forbidden"
// @Failure     404 {object} ErrorResponse "Parent not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /units [post]
func (h *UnitHandler) CreateUnit(c *gin.Context) {
	subject, err := getSubject(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req CreateUnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, bindError(err))
		return
	}

	unit, err := h.unitService.CreateUnit(subject, services.UnitInput{
		Name:        req.Name,
		Type:        req.Type,
		ParentID:    req.ParentID,
		Description: req.Description,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"unit": unit})
}

// GetUnit handles fetching a unit with its related records.
// @Summary     Get a unit
// @Description Get a unit with its indicators, annual plans and quarterly reports
// @Tags        units
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Unit ID"
// @Success     200 {object} services.UnitDetail "Unit detail"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Unit not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /units/{id} [get]
func (h *UnitHandler) GetUnit(c *gin.Context) {
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

	detail, err := h.unitService.GetUnitDetail(subject, id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// UpdateUnit handles renaming, retyping or reparenting a unit.
// @Summary     Update a unit
// @Description Update a unit. Reparenting under the unit itself or a descendant is rejected.
// @Tags        units
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id      path string            true "Unit ID"
// @Param       request body UpdateUnitRequest true "Fields to update"
// @Success     200 {object} models.Unit "Unit updated"
// @Failure     400 {object} ErrorResponse "Invalid input or cycle"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Forbidden"
// @Failure     404 {object} ErrorResponse "Unit not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /units/{id} [put]
func (h *UnitHandler) UpdateUnit(c *gin.Context) {
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

	var req UpdateUnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, bindError(err))
		return
	}

	unit, err := h.unitService.UpdateUnit(subject, id, services.UnitUpdateInput{
		Name:        req.Name,
		Type:        req.Type,
		ParentID:    req.ParentID,
		Description: req.Description,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unit": unit})
}

// DeleteUnit handles deleting a unit.
// @Summary     Delete a unit
// @Description Delete a unit. With dependents the request fails unless cascade=true (or force=true), which removes them too.
// @Tags        units
// @Produce     json
// @Security    BearerAuth
// @Param       id      path  string true  "Unit ID"
// @Param       cascade query bool   false "Delete dependents too"
// @Param       force   query bool   false "Alias of cascade"
// @Success     200 {object} services.UnitDeleteResult "Unit deleted"
// @Failure     400 {object} UnitDependencyError "Unit has dependencies"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Forbidden"
// @Failure     404 {object} ErrorResponse "Unit not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /units/{id} [delete]
func (h *UnitHandler) DeleteUnit(c *gin.Context) {
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

	cascade := isTruthy(c.Query("cascade")) || isTruthy(c.Query("force"))

	result, err := h.unitService.DeleteUnit(subject, id, cascade)
	if err != nil {
		var appErr *apperrors.AppError
		if result != nil && errors.As(err, &appErr) && appErr.Code == apperrors.ErrUnitHasDependencies.Code {
			c.JSON(appErr.StatusCode, UnitDependencyError{
				Error:        ErrorDetail{Code: appErr.Code, Message: appErr.Message},
				Dependencies: result.Dependencies,
			})
			return
		}
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetUnitUsage handles reporting what references a unit.
// @Summary     Unit usage
// @Description Dependency counts and whether the unit can be deleted without cascade
// @Tags        units
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Unit ID"
// @Success     200 {object} services.UnitUsage "Unit usage"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Unit not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /units/{id}/usage [get]
func (h *UnitHandler) GetUnitUsage(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	usage, err := h.unitService.GetUsage(id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}

// GetUnitStatistics handles summarizing a unit's records.
// @Summary     Unit statistics
// @Description Indicator counts and plans and reports grouped by status
// @Tags        units
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Unit ID"
// @Success     200 {object} services.UnitStatistics "Unit statistics"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     403 {object} ErrorResponse "Forbidden"
// @Failure     404 {object} ErrorResponse "Unit not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /units/{id}/statistics [get]
func (h *UnitHandler) GetUnitStatistics(c *gin.Context) {
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

	stats, err := h.unitService.GetStatistics(subject, id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	}
	return false
}
