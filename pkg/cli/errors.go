package cli

import (
	"errors"
	"fmt"

	"mercator-hq/gatekeeper/pkg/governance"
)

// Process exit codes.
const (
	ExitOK               = 0
	ExitFailure          = 1
	ExitInvalidArgument  = 2
	ExitNotFound         = 3
	ExitPermissionDenied = 4
	ExitInvalidState     = 5
)

// ConfigError represents an error in configuration or flags.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
}

// CommandError represents an error from a command execution.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{
		Command: command,
		Err:     err,
	}
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	var cfgErr *ConfigError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &cfgErr), errors.Is(err, governance.ErrInvalidArgument), errors.Is(err, governance.ErrQuorumConfig):
		return ExitInvalidArgument
	case errors.Is(err, governance.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, governance.ErrPermissionDenied), errors.Is(err, governance.ErrRoleNotEligible):
		return ExitPermissionDenied
	case errors.Is(err, governance.ErrInvalidState), errors.Is(err, governance.ErrNoEscalationTarget):
		return ExitInvalidState
	default:
		return ExitFailure
	}
}
