package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

// complete runs cobra's hidden completion command and returns the offered
// values, without the trailing directive line.
func complete(t *testing.T, args ...string) []string {
	t.Helper()
	resetFlags(rootCmd)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{"__complete"}, args...))
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("__complete %s: %v\n%s", strings.Join(args, " "), err, errOut.String())
	}

	var values []string
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		values = append(values, line)
	}
	return values
}

func TestFlagValueCompletion(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"enqueue risk", []string{"queue", "enqueue", "--risk", ""}, []string{"low", "medium", "high"}},
		{"evaluate risk prefix", []string{"guardrail", "evaluate", "--risk", "m"}, []string{"medium"}},
		{"vote value prefix", []string{"vote", "cast", "item-1", "--value", "a"}, []string{"approve", "abstain"}},
		{"vote role", []string{"vote", "cast", "item-1", "--role", ""}, []string{"owner", "manager", "analyst"}},
		{"resolve decision", []string{"queue", "resolve", "item-1", "--decision", ""}, []string{"approved", "rejected"}},
		{"list state", []string{"queue", "list", "--state", "e"}, []string{"escalated", "expired"}},
		{"conflict status", []string{"conflict", "list", "--status", ""}, []string{"open", "resolved"}},
		{"conflict type", []string{"conflict", "report", "item-1", "--type", "d"}, []string{"domain_dispute"}},
		{"format", []string{"audit", "log", "--format", ""}, []string{"text", "json", "csv"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := complete(t, tt.args...)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("completions = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompletionCommandRejectsUnknownShell(t *testing.T) {
	cfg := newTestConfig(t)
	if _, err := execute(t, cfg, "completion", "tcsh"); err == nil {
		t.Fatal("expected error for unsupported shell")
	}
}

func TestCompletionCommandWritesScript(t *testing.T) {
	cfg := newTestConfig(t)
	out := mustExecute(t, cfg, "completion", "bash")
	if !strings.Contains(out, "gatekeeper") {
		t.Errorf("bash completion script does not mention gatekeeper:\n%.200s", out)
	}
}
