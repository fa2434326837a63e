package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags restores every flag to its default; cobra keeps parsed values between Execute calls
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// execute runs the root command with args and returns stdout
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := GetRootCmd()
	resetFlags(cmd)
	cmd.SetArgs(args)

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	return output.String(), err
}

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "GROK_API_KEY"} {
		t.Setenv(name, "")
	}
}

// writeConfig writes a JSON config rooted in a temp data dir and returns its path
func writeConfig(t *testing.T, sections map[string]interface{}) string {
	t.Helper()
	clearProviderEnv(t)

	dir := t.TempDir()
	cfg := map[string]interface{}{
		"data_dir":  dir,
		"audit_log": "-",
		"logging":   map[string]interface{}{"level": "warn", "console": false},
	}
	for k, v := range sections {
		cfg[k] = v
	}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	path := filepath.Join(dir, "studymate.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		output, err := execute(t, "--version")
		require.NoError(t, err)

		assert.Contains(t, output, "studymate version")
		assert.Contains(t, output, GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		output, err := execute(t, "--help")
		require.NoError(t, err)

		assert.Contains(t, output, "Studymate")
		assert.Contains(t, output, "JSON-RPC")
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "info", logLevelFlag.DefValue)
	})

	t.Run("subcommands", func(t *testing.T) {
		names := make(map[string]bool)
		for _, c := range GetRootCmd().Commands() {
			names[c.Name()] = true
		}
		for _, want := range []string{"serve", "chat", "conversations", "config", "status", "stop", "version"} {
			assert.True(t, names[want], "%s command should exist", want)
		}
	})
}

func TestVersionCommand(t *testing.T) {
	output, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "studymate version "+GetVersion()+"\n", output)
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	assert.NotEmpty(t, version)
	assert.True(t, strings.HasPrefix(version, "0."))
}

func TestLoadConfig_InvalidConfig(t *testing.T) {
	path := writeConfig(t, map[string]interface{}{
		"store": map[string]interface{}{"driver": "postgres"},
	})

	_, err := execute(t, "--config", path, "conversations", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestServeCommand_Help(t *testing.T) {
	output, err := execute(t, "serve", "--help")
	require.NoError(t, err)

	assert.Contains(t, output, "foreground")
	assert.Contains(t, output, "--port")
}
