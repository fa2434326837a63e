package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// Kind classifies provider failures
type Kind string

const (
	KindTransport Kind = "transport"
	KindAuth      Kind = "auth"
	KindMalformed Kind = "malformed"
	KindRateLimit Kind = "rate_limit"
	KindUpstream  Kind = "upstream"
)

// Error is the single failure type adapters report
type Error struct {
	Provider Name
	Kind     Kind
	Status   int // HTTP status when the backend answered, else 0
	Message  string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s provider error (%s): %s", e.Provider, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(name Name, kind Kind, status int, message string, err error) *Error {
	return &Error{Provider: name, Kind: kind, Status: status, Message: message, Err: err}
}

// KindForStatus maps an HTTP status to a failure kind
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	default:
		return KindUpstream
	}
}

// Classify converts any adapter failure into *Error
func Classify(name Name, err error) *Error {
	if err == nil {
		return nil
	}

	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(name, KindTransport, 0, err.Error(), err)
	}

	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		msg := oaiErr.Message
		if msg == "" {
			msg = oaiErr.Error()
		}
		return newError(name, KindForStatus(oaiErr.StatusCode), oaiErr.StatusCode, msg, err)
	}

	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return newError(name, KindForStatus(antErr.StatusCode), antErr.StatusCode, antErr.Error(), err)
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return newError(name, KindTransport, 0, err.Error(), err)
	}

	return classifyMessage(name, err)
}

// classifyMessage inspects the error text for backends whose errors carry
// their status only in the message
func classifyMessage(name Name, err error) *Error {
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "quota"):
		return newError(name, KindRateLimit, statusFromMessage(msg, http.StatusTooManyRequests), msg, err)
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "UNAUTHENTICATED") || strings.Contains(msg, "PERMISSION_DENIED") || strings.Contains(lower, "api key"):
		return newError(name, KindAuth, statusFromMessage(msg, 0), msg, err)
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset") || strings.Contains(lower, "timeout") || strings.Contains(lower, "no such host"):
		return newError(name, KindTransport, 0, msg, err)
	default:
		return newError(name, KindUpstream, statusFromMessage(msg, 0), msg, err)
	}
}

// statusFromMessage extracts "Error <code>" as produced by the Google client
func statusFromMessage(msg string, fallback int) int {
	idx := strings.Index(msg, "Error ")
	if idx < 0 {
		return fallback
	}
	var code int
	if _, err := fmt.Sscanf(msg[idx:], "Error %d", &code); err != nil || code < 100 || code > 599 {
		return fallback
	}
	return code
}
