package logging

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"mercator-hq/turnstile/pkg/config"
)

// Redactor removes secrets and PII from log values.
type Redactor struct {
	patterns []*redactPattern
}

// redactPattern contains a compiled regex and replacement string.
type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Built-in pattern names.
const (
	PatternSecretKey   = "secret_key"
	PatternBearerToken = "bearer_token"
	PatternEmail       = "email"
	PatternPassword    = "password"
)

var defaultPatterns = []config.RedactPattern{
	// API key secrets ("tsk_live_...", "tsk_test_...")
	{Name: PatternSecretKey, Pattern: `tsk_(live|test)_[a-zA-Z0-9]+`, Replacement: "tsk_$1_***"},
	{Name: PatternBearerToken, Pattern: `Bearer\s+[a-zA-Z0-9\-._~+/]+=*`, Replacement: "Bearer ***"},
	{Name: PatternEmail, Pattern: `[a-zA-Z0-9._%+-]+@([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`, Replacement: "***@$1"},
	{Name: PatternPassword, Pattern: `(password|passwd|pwd)[:=]\s*[^\s]+`, Replacement: "$1: ***"},
}

// sensitiveKeys are attribute names whose values are always masked.
var sensitiveKeys = []string{
	"password", "passwd", "secret", "token", "authorization", "private_key",
}

// NewRedactor creates a Redactor with the built-in patterns followed by
// custom ones. Custom patterns that do not compile are skipped; config
// validation reports them.
func NewRedactor(custom []config.RedactPattern) *Redactor {
	r := &Redactor{}
	for _, p := range append(append([]config.RedactPattern{}, defaultPatterns...), custom...) {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			continue
		}
		r.patterns = append(r.patterns, &redactPattern{
			name:        p.Name,
			regex:       regex,
			replacement: p.Replacement,
		})
	}
	return r
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

// RedactAttr masks the value of a sensitive attribute and pattern-redacts
// string values. Groups are walked recursively.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch {
	case v.Kind() == slog.KindGroup:
		attrs := v.Group()
		out := make([]any, len(attrs))
		for i, ga := range attrs {
			out[i] = r.RedactAttr(ga)
		}
		return slog.Group(a.Key, out...)
	case isSensitiveKey(a.Key):
		return slog.String(a.Key, MaskSecret(v.String()))
	case v.Kind() == slog.KindString:
		return slog.String(a.Key, r.RedactString(v.String()))
	}
	return a
}

// isSensitiveKey reports whether an attribute name denotes a secret.
// Identifiers ("*_id") are never secrets.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	if strings.HasSuffix(lower, "_id") {
		return false
	}
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// MaskSecret keeps the first four characters of a secret.
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return "***"
	}
	return s[:4] + "***"
}

// redactHandler applies a Redactor to every attribute.
type redactHandler struct {
	next     slog.Handler
	redactor *Redactor
}

func (h *redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, h.redactor.RedactString(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactor.RedactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redactor.RedactAttr(a)
	}
	return &redactHandler{next: h.next.WithAttrs(redacted), redactor: h.redactor}
}

func (h *redactHandler) WithGroup(name string) slog.Handler {
	return &redactHandler{next: h.next.WithGroup(name), redactor: h.redactor}
}
