package cli

import (
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/harun/studymate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		output, err := execute(t, "status", "--help")
		require.NoError(t, err)
		assert.Contains(t, output, "status")
	})

	t.Run("stopped without PID file", func(t *testing.T) {
		path := writeConfig(t, nil)

		output, err := execute(t, "--config", path, "status")
		require.NoError(t, err)
		assert.Equal(t, "Status: stopped\n", output)
	})

	t.Run("running and healthy", func(t *testing.T) {
		health := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/healthz" {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}))
		defer health.Close()

		host, port, err := net.SplitHostPort(health.Listener.Addr().String())
		require.NoError(t, err)
		portNum, err := strconv.Atoi(port)
		require.NoError(t, err)

		path := writeConfig(t, map[string]interface{}{
			"server": map[string]interface{}{"host": host, "port": portNum},
		})
		writePIDFile(t, path, os.Getpid())

		output, err := execute(t, "--config", path, "status")
		require.NoError(t, err)
		assert.Contains(t, output, "Status: running")
		assert.Contains(t, output, "PID: "+strconv.Itoa(os.Getpid()))
		assert.Contains(t, output, "Uptime:")
		assert.Contains(t, output, "(healthy)")
	})

	t.Run("stale PID file", func(t *testing.T) {
		path := writeConfig(t, nil)
		writePIDFile(t, path, 999999999)

		output, err := execute(t, "--config", path, "status")
		require.NoError(t, err)
		assert.Equal(t, "Status: stopped\n", output)
	})
}

// writePIDFile places a PID file in the data directory of the config at path
func writePIDFile(t *testing.T, path string, pid int) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "studymate.pid"), []byte(strconv.Itoa(pid)), 0o644))
}

func TestHealthAddr(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Equal(t, "127.0.0.1:8080", healthAddr(cfg))

	cfg.Server.Host = "10.0.0.5"
	cfg.Server.Port = 9090
	assert.Equal(t, "10.0.0.5:9090", healthAddr(cfg))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatDuration(tt.duration)
			assert.Equal(t, tt.expected, result)
		})
	}
}
