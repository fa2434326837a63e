package logger

import (
	"io"
	"regexp"
	"unicode/utf8"
)

const redacted = "[REDACTED]"

// Redactor strips credentials from text
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor for the provider credentials this service handles
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// Anthropic before OpenAI; both start with sk-
			regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),

			// Google API keys
			regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`),

			// xAI keys
			regexp.MustCompile(`xai-[a-zA-Z0-9_-]{20,}`),

			// Bearer tokens
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._~+/=-]+`),

			// Key-valued parameters in headers, JSON and query strings
			regexp.MustCompile(`(?i)(x-api-key|x-goog-api-key|api[_-]?key)["'\s:=]+[^\s"'&,}]+`),
			regexp.MustCompile(`(?i)([?&]key=)[^\s&"']+`),

			// Generic secrets
			regexp.MustCompile(`(?i)(password|secret|token)["\s:=]+[^\s"]{8,}`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact replaces every credential in s
func (r *Redactor) Redact(s string) string {
	result := s
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, redacted)
	}
	return result
}

// Sanitize redacts s and truncates it to at most maxBytes without splitting a rune.
// maxBytes <= 0 disables truncation.
func (r *Redactor) Sanitize(s string, maxBytes int) string {
	s = r.Redact(s)
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}

	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

// Wrap returns a writer that redacts everything written to w
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success; redaction changes the byte count actually written
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
