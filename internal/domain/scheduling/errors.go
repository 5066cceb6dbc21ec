package scheduling

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrPastDate  = errors.New("appointment date cannot be in the past")
	ErrWeekend   = errors.New("the clinic is closed on Friday and Saturday")
	ErrSlotTaken = errors.New("this time slot is already booked, please choose another one")
)

// ValidationError carries per-field messages for malformed or missing input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// InvalidTransitionError is returned in strict mode when the requested
// status is not reachable from the current one.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot change appointment status from %s to %s", e.From, e.To)
}

// ErrorCode returns a stable machine-readable code for a domain error, so
// clients can localize the message. Unknown errors yield "".
func ErrorCode(err error) string {
	var ve *ValidationError
	var te *InvalidTransitionError
	switch {
	case errors.As(err, &ve):
		return "VALIDATION_ERROR"
	case errors.As(err, &te):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrPastDate):
		return "PAST_DATE"
	case errors.Is(err, ErrWeekend):
		return "WEEKEND"
	case errors.Is(err, ErrSlotTaken):
		return "SLOT_TAKEN"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	}
	return ""
}
