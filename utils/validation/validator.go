package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// paperCodeRegex accepts short codes such as "GS1", "CSAT-2023" or "PRELIMS_A".
var paperCodeRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,31}$`)

// Validator wraps the go-playground validator
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a validator with the import-specific tags registered
func NewValidator() *Validator {
	v := validator.New()
	_ = v.RegisterValidation("papercode", func(fl validator.FieldLevel) bool {
		return paperCodeRegex.MatchString(fl.Field().String())
	})
	return &Validator{validate: v}
}

// ValidateStruct validates a struct using struct tags
func (v *Validator) ValidateStruct(s interface{}) error {
	return v.validate.Struct(s)
}

// FormatValidationErrors converts validation errors to a user-friendly format
func FormatValidationErrors(err error) map[string]string {
	fields := make(map[string]string)

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fields
	}

	for _, e := range validationErrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			fields[field] = fmt.Sprintf("%s is required", e.Field())
		case "min":
			fields[field] = fmt.Sprintf("%s must be at least %s characters", e.Field(), e.Param())
		case "max":
			fields[field] = fmt.Sprintf("%s must be at most %s characters", e.Field(), e.Param())
		case "gte":
			fields[field] = fmt.Sprintf("%s must be greater than or equal to %s", e.Field(), e.Param())
		case "lte":
			fields[field] = fmt.Sprintf("%s must be less than or equal to %s", e.Field(), e.Param())
		case "papercode":
			fields[field] = "Paper code may only contain letters, digits, '-' and '_'"
		default:
			fields[field] = fmt.Sprintf("%s is invalid", e.Field())
		}
	}

	return fields
}

// SanitizeString removes null bytes and surrounding whitespace
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s)
}
