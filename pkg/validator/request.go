package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RequestValidator validates request structs using the same `binding`
// tags gin reads, so service-level callers get identical rules
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator creates a validator keyed on `binding` tags and
// reporting fields by their json names
func NewRequestValidator() *RequestValidator {
	v := validator.New()
	v.SetTagName("binding")
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return &RequestValidator{validate: v}
}

// Struct validates data and returns field -> message, or nil when valid
func (v *RequestValidator) Struct(data interface{}) map[string]string {
	err := v.validate.Struct(data)
	if err == nil {
		return nil
	}

	fields := make(map[string]string)
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, fe := range validationErrors {
			fields[fieldPath(fe)] = getSimpleErrorMessage(fe)
		}
		return fields
	}

	fields["_"] = err.Error()
	return fields
}

// fieldPath strips the root struct name: "CreateBookingIntentRequest.guest.email" -> "guest.email"
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func getSimpleErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required", "required_without":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "numeric":
		return "Must be numeric"
	case "datetime":
		return fmt.Sprintf("Must be a date in format %s", err.Param())
	case "min":
		return fmt.Sprintf("Minimum is %s", err.Param())
	case "max":
		return fmt.Sprintf("Maximum is %s", err.Param())
	case "gt":
		return fmt.Sprintf("Must be greater than %s", err.Param())
	case "len":
		return fmt.Sprintf("Must be exactly %s characters", err.Param())
	case "oneof":
		options := strings.ReplaceAll(err.Param(), " ", ", ")
		return fmt.Sprintf("Must be one of: %s", options)
	default:
		return fmt.Sprintf("Invalid %s field", err.Field())
	}
}
