package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors matched with errors.Is
var (
	ErrProviderUnavailable  = errors.New("provider unavailable")
	ErrInvalidState         = errors.New("invalid state")
	ErrAuthFailed           = errors.New("provider authentication failed")
	ErrConcurrentTransition = errors.New("booking status changed concurrently")
	ErrForbidden            = errors.New("not allowed to manage this booking")
)

// ValidationError is returned when request input is malformed
type ValidationError struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, ", "))
}

// NewValidationError creates a validation error for a single field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Message: "validation failed",
		Fields:  map[string]string{field: message},
	}
}

// AmountMismatchError is returned when the client-submitted total does not
// match the server-computed gross
type AmountMismatchError struct {
	Submitted float64 `json:"submitted"`
	Expected  float64 `json:"expected"`
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount mismatch: submitted %.2f, expected %.2f", e.Submitted, e.Expected)
}

// ProviderTransportError means the provider could not be reached
// (network failure, timeout, 5xx) after all allowed attempts
type ProviderTransportError struct {
	Provider  string
	Operation string
	Attempts  int
	Err       error
}

func (e *ProviderTransportError) Error() string {
	return fmt.Sprintf("%s %s unavailable after %d attempt(s): %v", e.Provider, e.Operation, e.Attempts, e.Err)
}

func (e *ProviderTransportError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrProviderUnavailable) match
func (e *ProviderTransportError) Is(target error) bool {
	return target == ErrProviderUnavailable
}

// ProviderBusinessError means the provider answered but rejected the request
type ProviderBusinessError struct {
	Provider  string         `json:"provider"`
	Operation string         `json:"operation"`
	Code      string         `json:"code,omitempty"`
	Message   string         `json:"message"`
	Errors    SupplierErrors `json:"errors,omitempty"`
	RawStatus int            `json:"raw_status,omitempty"`
}

func (e *ProviderBusinessError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s rejected [%s]: %s", e.Provider, e.Operation, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s rejected: %s", e.Provider, e.Operation, e.Message)
}

// Is lets errors.Is(err, ErrAuthFailed) match credential rejections
func (e *ProviderBusinessError) Is(target error) bool {
	return target == ErrAuthFailed && (e.RawStatus == 401 || e.RawStatus == 403)
}

// NotFoundError is returned when no lookup strategy located the resource
type NotFoundError struct {
	Resource string            `json:"resource"`
	Searched map[string]string `json:"searched"` // identifier name -> value
}

func (e *NotFoundError) Error() string {
	keys := make([]string, 0, len(e.Searched))
	for k := range e.Searched {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+e.Searched[k])
	}
	return fmt.Sprintf("%s not found (searched %s)", e.Resource, strings.Join(parts, ", "))
}

// StateConflictError is returned when an operation is not legal in the
// current state of the booking or authorization
type StateConflictError struct {
	Message      string `json:"message"`
	CurrentState string `json:"current_state,omitempty"`
}

func (e *StateConflictError) Error() string {
	if e.CurrentState == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (current state: %s)", e.Message, e.CurrentState)
}

// Is lets errors.Is(err, ErrInvalidState) match
func (e *StateConflictError) Is(target error) bool {
	return target == ErrInvalidState
}
