package cli

import (
	"errors"
	"fmt"
	"testing"

	"mercator-hq/gatekeeper/pkg/governance"
)

func TestConfigError(t *testing.T) {
	err := NewConfigError("store.driver", "unsupported driver")
	expected := "config error in store.driver: unsupported driver"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestCommandError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := NewCommandError("run", underlying)

	expected := "command run failed: underlying error"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
	if !errors.Is(err, underlying) {
		t.Error("CommandError should unwrap to the underlying error")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitOK},
		{name: "plain", err: errors.New("boom"), want: ExitFailure},
		{name: "config", err: NewConfigError("format", "bad"), want: ExitInvalidArgument},
		{name: "invalid argument", err: &governance.InvalidArgumentError{Field: "org_id", Message: "is required"}, want: ExitInvalidArgument},
		{name: "not found", err: &governance.NotFoundError{Kind: "queue item", ID: "x"}, want: ExitNotFound},
		{name: "permission", err: &governance.PermissionDeniedError{OperatorID: "bob"}, want: ExitPermissionDenied},
		{name: "role", err: &governance.RoleNotEligibleError{}, want: ExitPermissionDenied},
		{name: "state", err: &governance.InvalidStateError{ItemID: "x", State: governance.StateApproved, Op: "assign"}, want: ExitInvalidState},
		{name: "wrapped", err: NewCommandError("queue resolve", fmt.Errorf("ctx: %w", governance.ErrNotFound)), want: ExitNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
