// Package validation checks request structs with go-playground/validator tags
// and converts failures into an apperrors validation error keyed by the JSON
// field name.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
)

var (
	once     sync.Once
	validate *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Struct validates s. It returns nil, an *apperrors.Error of kind validation,
// or a plain error when s is not a struct.
func Struct(s any) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate: %w", err)
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		if _, seen := fields[fe.Field()]; seen {
			continue
		}
		fields[fe.Field()] = message(fe)
	}
	return apperrors.Validation(fields)
}

// Email reports whether s is a syntactically valid email address
func Email(s string) bool {
	return instance().Var(s, "required,email") == nil
}

func message(fe validator.FieldError) string {
	field := strings.ReplaceAll(fe.Field(), "_", " ")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("the %s field is required", field)
	case "email":
		return fmt.Sprintf("the %s must be a valid email address", field)
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("the %s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("the %s must be at least %s", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("the %s may not be greater than %s characters", field, fe.Param())
		}
		return fmt.Sprintf("the %s may not be greater than %s", field, fe.Param())
	case "eqfield":
		return fmt.Sprintf("the %s confirmation does not match", strings.TrimSuffix(field, " confirmation"))
	case "oneof":
		return fmt.Sprintf("the %s must be one of: %s", field, fe.Param())
	case "url":
		return fmt.Sprintf("the %s must be a valid URL", field)
	default:
		return fmt.Sprintf("the %s is invalid", field)
	}
}
