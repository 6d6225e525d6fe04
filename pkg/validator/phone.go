package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrInvalidLength indicates the number has too few or too many digits for E.164
	ErrInvalidLength = errors.New("phone number must have between 8 and 15 digits")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits")

	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")

	// ErrMissingCountryCode indicates a national number without an international prefix
	ErrMissingCountryCode = errors.New("phone number must include a country code")
)

// phoneRegex matches digits only
var phoneRegex = regexp.MustCompile(`^\d+$`)

// PhoneValidator normalizes guest phone numbers to E.164 (+<digits>)
type PhoneValidator struct{}

// NewPhoneValidator creates a new phone validator instance
func NewPhoneValidator() *PhoneValidator {
	return &PhoneValidator{}
}

// Validate validates an international phone number
// Accepts format: +351 912 345 678, 00351912345678, +1 (555) 123-4567
// Returns the E.164 form and error if invalid
func (v *PhoneValidator) Validate(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	trimmed := strings.TrimSpace(phone)
	international := strings.HasPrefix(trimmed, "+") || strings.HasPrefix(trimmed, "00")

	sanitized := v.Sanitize(trimmed)
	if !phoneRegex.MatchString(sanitized) {
		return "", ErrInvalidFormat
	}
	if !international {
		return "", ErrMissingCountryCode
	}
	if len(sanitized) < 8 || len(sanitized) > 15 {
		return "", ErrInvalidLength
	}

	return "+" + sanitized, nil
}

// Sanitize removes separators and the international prefix
func (v *PhoneValidator) Sanitize(phone string) string {
	phone = strings.ReplaceAll(phone, " ", "")
	phone = strings.ReplaceAll(phone, "-", "")
	phone = strings.ReplaceAll(phone, "(", "")
	phone = strings.ReplaceAll(phone, ")", "")
	phone = strings.ReplaceAll(phone, ".", "")
	phone = strings.TrimPrefix(phone, "+")
	phone = strings.TrimPrefix(phone, "00")
	return phone
}

// IsValid is a convenience method that returns true if phone is valid
func (v *PhoneValidator) IsValid(phone string) bool {
	_, err := v.Validate(phone)
	return err == nil
}
