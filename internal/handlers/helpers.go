package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"agriplan/internal/authz"
	apperrors "agriplan/internal/errors"
	"agriplan/internal/logger"
	"agriplan/internal/middleware"
	"agriplan/internal/uuid"
	"agriplan/internal/validator"
	"agriplan/internal/workflow"
)

// getSubject extracts the authorization subject set by middleware.LoadSubject.
// Returns ErrUnauthorized if not present.
func getSubject(c *gin.Context) (authz.Subject, error) {
	v, exists := c.Get(middleware.SubjectKey)
	if !exists {
		return authz.Subject{}, apperrors.ErrUnauthorized
	}
	subject, ok := v.(authz.Subject)
	if !ok {
		return authz.Subject{}, apperrors.ErrUnauthorized
	}
	return subject, nil
}

// getUserID extracts the authenticated user ID from the Gin context.
// Returns ErrUnauthorized if not present.
func getUserID(c *gin.Context) (string, error) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		return "", apperrors.ErrUnauthorized
	}
	return userID, nil
}

// parsePathID reads a UUID path parameter.
// Returns ErrInvalidInput if the parameter is not a valid UUID.
func parsePathID(c *gin.Context, param string) (string, error) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		return "", apperrors.WithMessage(apperrors.ErrInvalidInput, "Invalid "+param)
	}
	return id, nil
}

// bindError converts a binding failure into INVALID_INPUT, keeping
// field-level messages when the validator produced them.
func bindError(err error) error {
	if fields := validator.FieldErrors(err); fields != nil {
		return apperrors.WithFields(apperrors.ErrInvalidInput, "Invalid input", fields)
	}
	return apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error())
}

// queryInt parses an optional integer query parameter.
func queryInt(c *gin.Context, name string) (*int, error) {
	v := c.Query(name)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "Invalid "+name,
			map[string][]string{name: {"A valid integer is required."}})
	}
	return &n, nil
}

// queryBool parses an optional boolean query parameter.
func queryBool(c *gin.Context, name string) (*bool, error) {
	v := c.Query(name)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "Invalid "+name,
			map[string][]string{name: {"Must be true or false."}})
	}
	return &b, nil
}

// queryUUID parses an optional UUID query parameter.
func queryUUID(c *gin.Context, name string) (*string, error) {
	v := c.Query(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "Invalid "+name,
			map[string][]string{name: {"Must be a valid UUID."}})
	}
	return &id, nil
}

// queryStatus parses an optional workflow status query parameter.
func queryStatus(c *gin.Context) (*workflow.Status, error) {
	v := c.Query("status")
	if v == "" {
		return nil, nil
	}
	status := workflow.Status(strings.ToUpper(v))
	if !status.Valid() {
		return nil, apperrors.WithFields(apperrors.ErrInvalidInput, "Invalid status",
			map[string][]string{"status": {"\"" + v + "\" is not a valid choice."}})
	}
	return &status, nil
}

// respondWithError writes a consistent JSON error response. If the error is an
// *AppError it uses the error's status code, code, message and fields.
// Otherwise it logs the unexpected error and returns a generic internal
// server error.
func respondWithError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Internal != nil {
			logger.Get().Errorw("app error",
				"code", appErr.Code,
				"internal", appErr.Internal.Error(),
				"path", c.Request.URL.Path,
			)
		}
		c.JSON(appErr.StatusCode, middleware.ErrorBody(appErr))
		return
	}

	logger.Get().Errorw("unexpected error",
		"error", err.Error(),
		"path", c.Request.URL.Path,
		"method", c.Request.Method,
	)
	c.JSON(apperrors.ErrInternalServer.StatusCode, middleware.ErrorBody(apperrors.ErrInternalServer))
}

// ErrorDetail represents the inner error object in an error response.
type ErrorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Fields  map[string][]string `json:"fields,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}
