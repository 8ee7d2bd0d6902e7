package common

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	validator "github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Issue is a single machine-readable validation failure.
type Issue struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Validator returns the shared validator instance. Field names in issues use
// the json tag of the struct field.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// ValidateStruct validates v and converts failures into a VALIDATION_FAILED AppError.
func ValidateStruct(v any) error {
	if err := Validator().Struct(v); err != nil {
		return ValidationError(err)
	}
	return nil
}

// ValidationError converts validator output into an AppError carrying the issue list.
func ValidationError(err error) *AppError {
	issues := Issues(err)
	appErr := NewAppError("VALIDATION_FAILED", "request validation failed", http.StatusBadRequest, err)
	appErr.Details = issues
	return appErr
}

// InvalidField builds a VALIDATION_FAILED error for a single field.
func InvalidField(field, rule, message string) *AppError {
	appErr := NewAppError("VALIDATION_FAILED", "request validation failed", http.StatusBadRequest, errors.New(message))
	appErr.Details = []Issue{{Field: field, Rule: rule, Message: message}}
	return appErr
}

// Issues flattens validator errors into Issue values.
func Issues(err error) []Issue {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		if err == nil {
			return nil
		}
		return []Issue{{Field: "", Rule: "invalid", Message: err.Error()}}
	}
	out := make([]Issue, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if idx := strings.Index(field, "."); idx >= 0 {
			field = field[idx+1:]
		}
		out = append(out, Issue{Field: field, Rule: fe.Tag(), Message: issueMessage(fe)})
	}
	return out
}

func issueMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "iso3166_1_alpha2":
		return fmt.Sprintf("%s must be an ISO 3166-1 alpha-2 country code", fe.Field())
	case "iso4217":
		return fmt.Sprintf("%s must be an ISO 4217 currency code", fe.Field())
	case "gte", "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
