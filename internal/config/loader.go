package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. STUDYMATE_SERVER_PORT
const EnvPrefix = "STUDYMATE"

// providerKeyEnv lists the conventional variables each provider key falls back to
var providerKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"google":    "GEMINI_API_KEY",
	"http":      "GROK_API_KEY",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads defaults, then the config file if present, then the environment
func (l *Loader) Load() (*Config, error) {
	configPath, err := l.resolvePath()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for name, fallback := range providerKeyEnv {
		key := "providers." + name + ".api_key"
		envName := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envName, fallback); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType(configType(configPath))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := resolvePaths(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to the loader's path
func (l *Loader) Save(cfg *Config) error {
	configPath, err := l.resolvePath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Round-trip through JSON so nested sections keep their snake_case keys
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	var sections map[string]interface{}
	if err := json.Unmarshal(data, &sections); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType(configType(configPath))
	for key, value := range sections {
		v.Set(key, value)
	}

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	path, err := l.resolvePath()
	if err != nil {
		return ""
	}
	return path
}

func (l *Loader) resolvePath() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}
	dir, err := defaultDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "studymate.json"), nil
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}

func defaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".studymate"), nil
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// resolvePaths fills data-dir relative defaults for the store, log and audit files
func resolvePaths(cfg *Config) error {
	if cfg.DataDir == "" {
		dir, err := defaultDataDir()
		if err != nil {
			return err
		}
		cfg.DataDir = dir
	}

	if cfg.Store.Path == "" {
		name := "studymate.db"
		if cfg.Store.Driver == "bolt" {
			name = "studymate.bolt"
		}
		cfg.Store.Path = name
	}
	cfg.Store.Path = underDataDir(cfg.DataDir, cfg.Store.Path)

	if cfg.Logging.File != "" {
		cfg.Logging.File = underDataDir(cfg.DataDir, cfg.Logging.File)
	}

	switch cfg.AuditLog {
	case "":
		cfg.AuditLog = filepath.Join(cfg.DataDir, "audit.log")
	case "-":
	default:
		cfg.AuditLog = underDataDir(cfg.DataDir, cfg.AuditLog)
	}
	return nil
}

func underDataDir(dataDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dataDir, path)
}

// setDefaults registers every key so AutomaticEnv can override it
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("audit_log", cfg.AuditLog)

	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.request_timeout", cfg.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	v.SetDefault("server.max_body_bytes", cfg.Server.MaxBodyBytes)

	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.path", cfg.Store.Path)

	v.SetDefault("cache.max_entries", cfg.Cache.MaxEntries)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("cache.sweep_schedule", cfg.Cache.SweepSchedule)

	v.SetDefault("chat.system_prompt", cfg.Chat.SystemPrompt)
	v.SetDefault("chat.default_owner", cfg.Chat.DefaultOwner)
	v.SetDefault("chat.history_limit", cfg.Chat.HistoryLimit)
	v.SetDefault("chat.list_limit", cfg.Chat.ListLimit)
	v.SetDefault("chat.lane_warn_after", cfg.Chat.LaneWarnAfter)
	v.SetDefault("chat.error_detail_limit", cfg.Chat.ErrorDetailLimit)

	providers := map[string]ProviderConfig{
		"openai":    cfg.Providers.OpenAI,
		"anthropic": cfg.Providers.Anthropic,
		"google":    cfg.Providers.Google,
		"http":      cfg.Providers.HTTP,
	}
	for name, pc := range providers {
		prefix := "providers." + name + "."
		v.SetDefault(prefix+"api_key", pc.APIKey)
		v.SetDefault(prefix+"model", pc.Model)
		v.SetDefault(prefix+"base_url", pc.BaseURL)
		v.SetDefault(prefix+"temperature", pc.Temperature)
		v.SetDefault(prefix+"max_tokens", pc.MaxTokens)
		v.SetDefault(prefix+"timeout", pc.Timeout)
	}

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_age", cfg.Logging.MaxAge)
	v.SetDefault("logging.compress", cfg.Logging.Compress)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
	v.SetDefault("tracing.sample_ratio", cfg.Tracing.SampleRatio)
}
