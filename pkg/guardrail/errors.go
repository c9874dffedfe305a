package guardrail

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRule indicates a malformed rule set detected at load time.
	ErrInvalidRule = errors.New("invalid guardrail rule")

	// ErrInvalidConfig indicates invalid engine configuration.
	ErrInvalidConfig = errors.New("invalid guardrail engine configuration")
)

// RuleError describes a single problem in a rule set.
type RuleError struct {
	PolicyID string
	RuleID   string
	Field    string
	Message  string
}

func (e *RuleError) Error() string {
	loc := "policy " + e.PolicyID
	if e.RuleID != "" {
		loc += " rule " + e.RuleID
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", loc, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", loc, e.Message)
}

func (e *RuleError) Unwrap() error { return ErrInvalidRule }
