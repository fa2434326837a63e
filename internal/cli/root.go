package cli

import (
	"fmt"

	"github.com/harun/studymate/internal/config"
	"github.com/harun/studymate/internal/daemon"
	"github.com/harun/studymate/internal/logger"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "studymate",
	Short: "Studymate - conversational career coach service",
	Long: `Studymate keeps multi-turn conversations with AI providers
(OpenAI, Anthropic, Google and any OpenAI-compatible HTTP endpoint),
persists every message and serves them over JSON-RPC.`,
	Version:      version,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.studymate/studymate.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads and validates the configuration, applying --log-level
// when given. fallbackLevel replaces the configured level for one-shot commands.
func loadConfig(cmd *cobra.Command, fallbackLevel string) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	switch {
	case cmd.Flags().Changed("log-level"):
		cfg.Logging.Level = logLevel
	case fallbackLevel != "":
		cfg.Logging.Level = fallbackLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openLocal builds the component graph without serving, for commands that
// operate on the store directly
func openLocal(cmd *cobra.Command) (*daemon.Daemon, func(), error) {
	cfg, err := loadConfig(cmd, "warn")
	if err != nil {
		return nil, nil, err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	d, err := daemon.New(cfg, log)
	if err != nil {
		_ = log.Close()
		return nil, nil, err
	}

	return d, func() {
		d.Close()
		_ = log.Close()
	}, nil
}
