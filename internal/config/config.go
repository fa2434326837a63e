package config

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/harun/studymate/internal/logger"
	"github.com/harun/studymate/pkg/provider"
)

// DefaultSystemPrompt is the instruction every new conversation starts with
const DefaultSystemPrompt = "You are Studymate-AI, an expert career coach. You help users explore career options, " +
	"choose the right skills, build strong resumes, prepare for interviews, and plan their professional growth. " +
	"Give clear, friendly, and actionable advice tailored to the user's goals. " +
	"Explain in simple English, like for a 2nd-grade student."

// Config represents the main studymate configuration
type Config struct {
	Server    ServerConfig    `json:"server" mapstructure:"server"`
	Store     StoreConfig     `json:"store" mapstructure:"store"`
	Cache     CacheConfig     `json:"cache" mapstructure:"cache"`
	Chat      ChatConfig      `json:"chat" mapstructure:"chat"`
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`
	Logging   logger.Config   `json:"logging" mapstructure:"logging"`
	Tracing   TracingConfig   `json:"tracing" mapstructure:"tracing"`

	// Data directory; relative store and log paths resolve against it
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Audit log path; "-" keeps audit events on stderr
	AuditLog string `json:"audit_log" mapstructure:"audit_log"`
}

// ServerConfig holds gateway server configuration
type ServerConfig struct {
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	RequestTimeout  time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `json:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// StoreConfig selects the durable store
type StoreConfig struct {
	Driver string `json:"driver" mapstructure:"driver"` // sqlite, bolt, memory
	Path   string `json:"path" mapstructure:"path"`
}

// CacheConfig bounds the session cache
type CacheConfig struct {
	MaxEntries    int           `json:"max_entries" mapstructure:"max_entries"`
	TTL           time.Duration `json:"ttl" mapstructure:"ttl"`
	SweepSchedule string        `json:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// ChatConfig holds conversation defaults
type ChatConfig struct {
	SystemPrompt     string        `json:"system_prompt" mapstructure:"system_prompt"`
	DefaultOwner     string        `json:"default_owner" mapstructure:"default_owner"`
	HistoryLimit     int           `json:"history_limit" mapstructure:"history_limit"`
	ListLimit        int           `json:"list_limit" mapstructure:"list_limit"`
	LaneWarnAfter    time.Duration `json:"lane_warn_after" mapstructure:"lane_warn_after"`
	ErrorDetailLimit int           `json:"error_detail_limit" mapstructure:"error_detail_limit"`
}

// ProviderConfig configures one provider adapter
type ProviderConfig struct {
	APIKey      string        `json:"api_key" mapstructure:"api_key"`
	Model       string        `json:"model" mapstructure:"model"`
	BaseURL     string        `json:"base_url" mapstructure:"base_url"`
	Temperature float64       `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int           `json:"max_tokens" mapstructure:"max_tokens"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
}

// ProvidersConfig holds every adapter's configuration
type ProvidersConfig struct {
	OpenAI    ProviderConfig `json:"openai" mapstructure:"openai"`
	Anthropic ProviderConfig `json:"anthropic" mapstructure:"anthropic"`
	Google    ProviderConfig `json:"google" mapstructure:"google"`
	HTTP      ProviderConfig `json:"http" mapstructure:"http"`
}

// TracingConfig controls the OpenTelemetry tracer provider
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			RequestTimeout:  2 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Cache: CacheConfig{
			MaxEntries:    1000,
			TTL:           30 * time.Minute,
			SweepSchedule: "@every 1m",
		},
		Chat: ChatConfig{
			SystemPrompt:     DefaultSystemPrompt,
			DefaultOwner:     "anonymous",
			HistoryLimit:     50,
			ListLimit:        20,
			LaneWarnAfter:    10 * time.Second,
			ErrorDetailLimit: 512,
		},
		Providers: ProvidersConfig{
			OpenAI:    ProviderConfig{Model: provider.DefaultOpenAIModel, Timeout: provider.DefaultTimeout},
			Anthropic: ProviderConfig{Model: provider.DefaultAnthropicModel, Temperature: provider.DefaultTemperature, MaxTokens: provider.DefaultMaxTokens, Timeout: provider.DefaultTimeout},
			Google:    ProviderConfig{Model: provider.DefaultGoogleModel, Timeout: provider.DefaultTimeout},
			HTTP: ProviderConfig{
				BaseURL:     "https://api.x.ai/v1/chat/completions",
				Model:       "grok-2-latest",
				Temperature: provider.DefaultTemperature,
				MaxTokens:   provider.DefaultMaxTokens,
				Timeout:     provider.DefaultTimeout,
			},
		},
		Logging: logger.DefaultConfig(),
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "studymate",
			SampleRatio: 1,
		},
	}
}

// Settings converts a provider config into adapter settings
func (p ProviderConfig) Settings() provider.Settings {
	return provider.Settings{
		APIKey:      p.APIKey,
		Model:       p.Model,
		BaseURL:     p.BaseURL,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Timeout:     p.Timeout,
	}
}

// Settings returns adapter settings keyed by provider name
func (p ProvidersConfig) Settings() map[provider.Name]provider.Settings {
	return map[provider.Name]provider.Settings{
		provider.OpenAI:    p.OpenAI.Settings(),
		provider.Anthropic: p.Anthropic.Settings(),
		provider.Google:    p.Google.Settings(),
		provider.HTTP:      p.HTTP.Settings(),
	}
}

// Configured returns the providers that have an API key
func (p ProvidersConfig) Configured() []provider.Name {
	var names []provider.Name
	for _, name := range provider.AllNames() {
		if p.Settings()[name].APIKey != "" {
			names = append(names, name)
		}
	}
	return names
}

// String returns a JSON representation of the config with credentials masked
func (c *Config) String() string {
	masked := *c
	for _, pc := range []*ProviderConfig{&masked.Providers.OpenAI, &masked.Providers.Anthropic, &masked.Providers.Google, &masked.Providers.HTTP} {
		if pc.APIKey != "" {
			pc.APIKey = "********"
		}
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
