// Package validator provides custom validation functions for Gin's binding engine.
package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"agriplan/internal/models"
	"agriplan/internal/uuid"
	"agriplan/internal/workflow"
)

// Register registers all custom validators with the Gin binding engine.
func Register() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(jsonFieldName)
		_ = v.RegisterValidation("unit_type", validateUnitType)
		_ = v.RegisterValidation("role", validateRole)
		_ = v.RegisterValidation("workflow_status", validateWorkflowStatus)
		_ = v.RegisterValidation("import_source", validateImportSource)
		_ = v.RegisterValidation("quarter", validateQuarter)
		_ = v.RegisterValidation("uuid_str", validateUUID)
	}
}

// jsonFieldName reports fields by their JSON (or form) name so that error
// responses use the names clients send.
func jsonFieldName(fld reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return fld.Name
}

func validateUnitType(fl validator.FieldLevel) bool {
	return models.UnitType(fl.Field().String()).Valid()
}

func validateRole(fl validator.FieldLevel) bool {
	return models.Role(fl.Field().String()).Valid()
}

func validateWorkflowStatus(fl validator.FieldLevel) bool {
	return workflow.Status(fl.Field().String()).Valid()
}

func validateImportSource(fl validator.FieldLevel) bool {
	switch models.ImportSource(fl.Field().String()) {
	case models.ImportSourceAnnual, models.ImportSourceQuarterly:
		return true
	}
	return false
}

func validateQuarter(fl validator.FieldLevel) bool {
	q := fl.Field().Int()
	return q >= 1 && q <= 4
}

func validateUUID(fl validator.FieldLevel) bool {
	return uuid.IsValid(fl.Field().String())
}

// FieldErrors converts a binding error into field-keyed messages. It returns
// nil when err is not a validation error.
func FieldErrors(err error) map[string][]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string][]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = append(fields[fe.Field()], describe(fe))
	}
	return fields
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "min":
		return "Ensure this value has at least " + fe.Param() + " characters or is at least " + fe.Param() + "."
	case "max":
		return "Ensure this value has at most " + fe.Param() + " characters or is at most " + fe.Param() + "."
	case "gte", "gt", "lte", "lt":
		return "Value must satisfy " + fe.Tag() + " " + fe.Param() + "."
	case "oneof":
		return "Must be one of: " + fe.Param() + "."
	case "unit_type", "role", "workflow_status", "import_source":
		return "\"" + fe.Value().(string) + "\" is not a valid choice."
	case "quarter":
		return "Quarter must be between 1 and 4."
	case "uuid_str":
		return "Must be a valid UUID."
	}
	return "Invalid value."
}
