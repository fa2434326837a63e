package config

import (
	"fmt"
	"strings"

	"github.com/harun/studymate/pkg/session"
	"github.com/harun/studymate/pkg/store"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("max tokens must not be negative, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateStoreDriver validates the durable store driver
func (v *Validator) ValidateStoreDriver(driver string) error {
	validDrivers := []string{store.DriverSQLite, store.DriverBolt, store.DriverMemory}
	for _, valid := range validDrivers {
		if driver == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid store driver: %s (must be one of: %s)", driver, strings.Join(validDrivers, ", "))
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}
	return nil
}

// ValidateProvider validates one provider section; an empty key leaves the provider disabled
func (v *Validator) ValidateProvider(name string, pc ProviderConfig) []error {
	var errs []error
	if pc.APIKey != "" {
		if err := v.ValidateAPIKey(pc.APIKey, name); err != nil {
			errs = append(errs, err)
		}
	}
	if err := v.ValidateTemperature(pc.Temperature); err != nil {
		errs = append(errs, fmt.Errorf("providers.%s: %w", name, err))
	}
	if err := v.ValidateMaxTokens(pc.MaxTokens); err != nil {
		errs = append(errs, fmt.Errorf("providers.%s: %w", name, err))
	}
	if pc.Timeout < 0 {
		errs = append(errs, fmt.Errorf("providers.%s: timeout must be >= 0", name))
	}
	if name == "http" && pc.APIKey != "" && strings.TrimSpace(pc.BaseURL) == "" {
		errs = append(errs, fmt.Errorf("providers.http: base_url is required"))
	}
	return errs
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidatePort(cfg.Server.Port); err != nil {
		errors = append(errors, fmt.Errorf("server: %w", err))
	}
	if cfg.Server.RequestTimeout < 0 {
		errors = append(errors, fmt.Errorf("server.request_timeout must be >= 0"))
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		errors = append(errors, fmt.Errorf("server.max_body_bytes must be positive"))
	}

	if err := v.ValidateStoreDriver(cfg.Store.Driver); err != nil {
		errors = append(errors, err)
	}

	if cfg.Cache.MaxEntries <= 0 {
		errors = append(errors, fmt.Errorf("cache.max_entries must be positive"))
	}
	if cfg.Cache.TTL < 0 {
		errors = append(errors, fmt.Errorf("cache.ttl must be >= 0"))
	}
	if err := session.ValidateSchedule(cfg.Cache.SweepSchedule); err != nil {
		errors = append(errors, fmt.Errorf("cache.sweep_schedule: %w", err))
	}

	if strings.TrimSpace(cfg.Chat.SystemPrompt) == "" {
		errors = append(errors, fmt.Errorf("chat.system_prompt cannot be empty"))
	}
	if strings.TrimSpace(cfg.Chat.DefaultOwner) == "" {
		errors = append(errors, fmt.Errorf("chat.default_owner cannot be empty"))
	}
	if cfg.Chat.HistoryLimit < 0 {
		errors = append(errors, fmt.Errorf("chat.history_limit must be >= 0"))
	}
	if cfg.Chat.ListLimit <= 0 {
		errors = append(errors, fmt.Errorf("chat.list_limit must be positive"))
	}

	errors = append(errors, v.ValidateProvider("openai", cfg.Providers.OpenAI)...)
	errors = append(errors, v.ValidateProvider("anthropic", cfg.Providers.Anthropic)...)
	errors = append(errors, v.ValidateProvider("google", cfg.Providers.Google)...)
	errors = append(errors, v.ValidateProvider("http", cfg.Providers.HTTP)...)

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errors = append(errors, fmt.Errorf("tracing.sample_ratio must be between 0 and 1"))
	}

	return errors
}
