package logging

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Pattern is a named redaction rule.
type Pattern struct {
	Name        string
	Regex       string
	Replacement string
}

// Built-in pattern names.
const (
	PatternBearerToken = "bearer_token"
	PatternURLPassword = "url_password"
	PatternGitToken    = "git_token"
	PatternPassword    = "password"
)

// Redactor masks credentials in log attributes. Git access tokens and
// database DSNs are the secrets most likely to reach a log line.
type Redactor struct {
	patterns []*redactPattern
}

type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

var defaultPatterns = []Pattern{
	{PatternBearerToken, `Bearer\s+[a-zA-Z0-9\-._~+/]+=*`, "Bearer ***"},
	{PatternURLPassword, `([a-zA-Z][a-zA-Z0-9+.-]*://[^:/@\s]+):[^@\s]+@`, "$1:***@"},
	{PatternGitToken, `\b(ghp|gho|ghu|ghs|ghr|github_pat|glpat)_[A-Za-z0-9_\-]+`, "$1_***"},
	{PatternPassword, `(?i)(password|passwd|pwd)=[^\s&]+`, "$1=***"},
}

// sensitiveKeys are attribute keys whose values are masked outright.
var sensitiveKeys = []string{
	"password", "passwd", "secret", "token", "authorization", "private_key",
}

// NewRedactor creates a Redactor with the built-in patterns plus custom ones.
func NewRedactor(custom []Pattern) (*Redactor, error) {
	r := &Redactor{}
	for _, p := range append(append([]Pattern{}, defaultPatterns...), custom...) {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("invalid redact pattern %q: %w", p.Name, err)
		}
		r.patterns = append(r.patterns, &redactPattern{name: p.Name, regex: re, replacement: p.Replacement})
	}
	return r, nil
}

// RedactString applies every pattern to value.
func (r *Redactor) RedactString(value string) string {
	if value == "" {
		return value
	}
	for _, p := range r.patterns {
		value = p.regex.ReplaceAllString(value, p.replacement)
	}
	return value
}

// RedactAttr masks a single attribute. Groups are redacted recursively.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()

	if v.Kind() == slog.KindGroup {
		group := v.Group()
		redacted := make([]slog.Attr, len(group))
		for i, ga := range group {
			redacted[i] = r.RedactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redacted...)}
	}

	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, maskValue(v))
	}

	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, r.RedactString(v.String()))
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func maskValue(v slog.Value) string {
	s := v.String()
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "***"
	}
	return s[:4] + "***"
}
