package services

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their json names so clients see the same
// keys they sent.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateInput checks in against its validate tags and turns failures into
// a validation error listing every rejected field.
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate: %w", err)
	}

	fields := make([]common.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, common.FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return common.NewValidationError(common.ErrorValidation.Message, fields)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters long", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters long", fe.Param())
	default:
		return "is invalid"
	}
}
