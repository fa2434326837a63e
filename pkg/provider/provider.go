package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harun/studymate/pkg/conversation"
)

// Name identifies a provider adapter
type Name string

const (
	OpenAI    Name = "openai"
	Anthropic Name = "anthropic"
	Google    Name = "google"
	HTTP      Name = "http"
)

// aliases are the model selector values used by existing clients
var aliases = map[string]Name{
	"openai":    OpenAI,
	"chatgpt":   OpenAI,
	"anthropic": Anthropic,
	"claude":    Anthropic,
	"google":    Google,
	"gemini":    Google,
	"http":      HTTP,
	"grok":      HTTP,
	"custom":    HTTP,
}

// ParseName resolves a provider name or alias, case-insensitively
func ParseName(s string) (Name, error) {
	if name, ok := aliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return name, nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// AllNames returns every known provider in a stable order
func AllNames() []Name {
	return []Name{OpenAI, Anthropic, Google, HTTP}
}

// Provider produces one reply for a full session
type Provider interface {
	Name() Name
	Complete(ctx context.Context, turns []conversation.Turn) (string, error)
}

// Settings configures a single adapter
type Settings struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

const (
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-3-5-sonnet-latest"
	DefaultGoogleModel    = "gemini-1.5-pro"
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 1000
	DefaultTimeout        = 60 * time.Second
)

func (s Settings) withDefaults(model string) Settings {
	if s.Model == "" {
		s.Model = model
	}
	if s.Temperature <= 0 {
		s.Temperature = DefaultTemperature
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = DefaultMaxTokens
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	return s
}
