package recurrence

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidRule reports a malformed recurrence configuration.
	ErrInvalidRule = errors.New("invalid recurrence rule")
	// ErrZeroAnchor is returned when a series has no anchor date.
	ErrZeroAnchor = errors.New("recurrence: anchor is zero")
	// ErrUnsupportedRRule is returned for RRULE parts outside the supported subset.
	ErrUnsupportedRRule = errors.New("recurrence: unsupported RRULE")
)

// FieldError is one validation problem, keyed by the descriptor field that
// caused it so forms can attach the message to an input.
type FieldError struct {
	Field   string `json:"field" yaml:"field"`
	Message string `json:"message" yaml:"message"`
}

func (e FieldError) String() string { return e.Field + ": " + e.Message }

// RuleError lists every problem found in a rule. It matches ErrInvalidRule
// with errors.Is.
type RuleError struct {
	Problems []FieldError
}

func (e *RuleError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.String())
	}
	return ErrInvalidRule.Error() + ": " + strings.Join(parts, "; ")
}

func (e *RuleError) Is(target error) bool { return target == ErrInvalidRule }
