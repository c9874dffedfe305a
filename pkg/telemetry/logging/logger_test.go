package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/gatekeeper/pkg/config"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, buf.String())
	}
	return entry
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"json", Config{Level: "info", Format: "json"}, false},
		{"text", Config{Level: "debug", Format: "text"}, false},
		{"defaults", Config{}, false},
		{"upper case level", Config{Level: "WARN"}, false},
		{"invalid level", Config{Level: "loud"}, true},
		{"invalid format", Config{Format: "xml"}, true},
		{"invalid pattern", Config{RedactSecrets: true, RedactPatterns: []Pattern{{Name: "bad", Regex: "("}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.Writer = &bytes.Buffer{}
			logger, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && logger == nil {
				t.Error("New() returned nil logger")
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Level: "warn", Writer: buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info record written at warn level: %q", buf.String())
	}

	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn record missing: %q", buf.String())
	}
}

func TestLogger_ContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, _ := New(Config{Writer: buf})

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))
	ctx = WithOrgID(ctx, "org-1")
	ctx = WithOperatorID(ctx, "alice")
	ctx = WithItemID(ctx, "item-9")

	logger.InfoContext(ctx, "vote cast")
	entry := decode(t, buf)

	want := map[string]string{
		"org_id":      "org-1",
		"operator_id": "alice",
		"item_id":     "item-9",
		"trace_id":    "0102030405060708090a0b0c0d0e0f10",
		"span_id":     "0102030405060708",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %s", k, entry[k], v)
		}
	}
}

func TestLogger_RedactsSecrets(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, _ := New(Config{Writer: buf, RedactSecrets: true})

	logger.With("git_token", "ghp_abcdefghijklmnop").Info("pull",
		"dsn", "postgres://gk:hunter2@db:5432/gatekeeper",
		"err", errors.New("auth failed: Bearer abc.def"),
	)
	entry := decode(t, buf)

	if entry["git_token"] != "ghp_***" {
		t.Errorf("git_token = %v", entry["git_token"])
	}
	if entry["dsn"] != "postgres://gk:***@db:5432/gatekeeper" {
		t.Errorf("dsn = %v", entry["dsn"])
	}
	if entry["err"] != "auth failed: Bearer ***" {
		t.Errorf("err = %v", entry["err"])
	}
}

func TestLogger_NoRedactionWhenDisabled(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, _ := New(Config{Writer: buf})

	logger.Info("x", "token", "plain")
	if entry := decode(t, buf); entry["token"] != "plain" {
		t.Errorf("token = %v, want plain", entry["token"])
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.LoggingConfig{Level: "debug", Format: "text", AddSource: true})
	if cfg.Level != "debug" || cfg.Format != "text" || !cfg.AddSource || !cfg.RedactSecrets {
		t.Errorf("FromConfig() = %+v", cfg)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}
