package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/studymate/internal/config"
	"github.com/harun/studymate/internal/logger"
	"github.com/harun/studymate/internal/observability"
	"github.com/harun/studymate/internal/tracing"
	"github.com/harun/studymate/pkg/chat"
	"github.com/harun/studymate/pkg/conversation"
	"github.com/harun/studymate/pkg/gateway"
	"github.com/harun/studymate/pkg/lane"
	"github.com/harun/studymate/pkg/provider"
	"github.com/harun/studymate/pkg/session"
	"github.com/harun/studymate/pkg/store"
)

// Daemon owns every long-lived component of a studymate process
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	store     conversation.Store
	lanes     *lane.Locker
	cache     *session.Cache
	janitor   *session.Janitor
	providers *provider.Registry
	chat      *chat.Orchestrator

	gatewayServer *gateway.Server
	lifecycle     *LifecycleManager

	startTime time.Time
	running   bool
	closed    bool
	mu        sync.RWMutex

	tracingEnabled bool
	auditFile      bool
}

// Status represents daemon status
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Addr      string
}

// New builds the component graph. Nothing listens until Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, cfg.Tracing.SampleRatio); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Msg("Tracing initialized successfully")
		}
	}

	if cfg.AuditLog != "" && cfg.AuditLog != "-" {
		if err := observability.InitAuditLogger(cfg.AuditLog); err != nil {
			log.Warn().Err(err).Str("path", cfg.AuditLog).Msg("Failed to open audit log, using stderr")
		} else {
			d.auditFile = true
		}
	}

	if err := d.initializeComponents(); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)
	return d, nil
}

func (d *Daemon) initializeComponents() error {
	cfg := d.config

	st, err := store.Open(store.Config{
		Driver: cfg.Store.Driver,
		Path:   cfg.Store.Path,
		Logger: d.logger.Component("store"),
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	d.store = st

	d.lanes = lane.New(lane.Config{
		WarnAfter: cfg.Chat.LaneWarnAfter,
		Logger:    d.logger.Component("lane"),
	})

	d.cache = session.NewCache(session.CacheConfig{
		MaxEntries: cfg.Cache.MaxEntries,
		TTL:        cfg.Cache.TTL,
		Lanes:      d.lanes,
		Logger:     d.logger.Component("session"),
	})
	d.janitor = session.NewJanitor(d.cache, cfg.Cache.SweepSchedule, d.logger.Component("janitor"))

	registry, err := provider.NewRegistryFromSettings(cfg.Providers.Settings(), d.logger.Component("provider"))
	if err != nil {
		return fmt.Errorf("failed to build provider registry: %w", err)
	}
	d.providers = registry
	if len(registry.Names()) == 0 {
		d.logger.Warn().Msg("No provider API keys configured; every turn will fail validation")
	}

	orchestrator, err := chat.New(chat.Config{
		Store:            d.store,
		Cache:            d.cache,
		Lanes:            d.lanes,
		Providers:        d.providers,
		SystemPrompt:     cfg.Chat.SystemPrompt,
		DefaultOwner:     cfg.Chat.DefaultOwner,
		HistoryLimit:     cfg.Chat.HistoryLimit,
		ListLimit:        cfg.Chat.ListLimit,
		ErrorDetailLimit: cfg.Chat.ErrorDetailLimit,
		Logger:           d.logger.Component("chat"),
		Redactor:         d.logger.Redactor(),
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	d.chat = orchestrator

	server, err := gateway.NewServer(gateway.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		RequestTimeout:  cfg.Server.RequestTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		Chat:            d.chat,
		Logger:          d.logger.Component("gateway"),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gatewayServer = server

	return nil
}

// Start writes the PID file, schedules the cache janitor and starts serving
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("daemon is closed")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.Zerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting studymate daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.janitor.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start session janitor: %w", err)
	}

	if err := d.gatewayServer.Start(); err != nil {
		_ = d.janitor.Stop()
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}

	logger.Info().
		Str("addr", d.gatewayServer.Addr()).
		Strs("providers", providerNames(d.providers)).
		Str("store", d.config.Store.Driver).
		Msg("Daemon started successfully")

	return nil
}

// Stop drains the gateway, stops the janitor and releases every resource
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.Zerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping studymate daemon")

	if err := d.gatewayServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop gateway server")
	}

	if d.janitor.IsRunning() {
		if err := d.janitor.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop session janitor")
		}
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.Close()

	logger.Info().Msg("Daemon stopped successfully")
	return nil
}

// Close releases the store, tracer provider and audit log. It is used directly
// by one-shot commands that never Start the daemon.
func (d *Daemon) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	logger := d.logger.Zerolog()

	if d.store != nil {
		if err := d.store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close store")
		}
	}

	if d.tracingEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if d.auditFile {
		if err := observability.GetAuditLogger().Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close audit logger")
		}
		d.auditFile = false
	}
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Addr = d.gatewayServer.Addr()
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetChat returns the session orchestrator
func (d *Daemon) GetChat() *chat.Orchestrator {
	return d.chat
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}

// GetStore returns the durable store
func (d *Daemon) GetStore() conversation.Store {
	return d.store
}

// GetCache returns the session cache
func (d *Daemon) GetCache() *session.Cache {
	return d.cache
}

func providerNames(r *provider.Registry) []string {
	names := r.Names()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}
