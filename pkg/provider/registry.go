package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/studymate/internal/observability"
	"github.com/harun/studymate/internal/tracing"
	"github.com/harun/studymate/pkg/conversation"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Registry holds the configured adapters
type Registry struct {
	mu        sync.RWMutex
	providers map[Name]Provider
	logger    zerolog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger zerolog.Logger) *Registry {
	observability.EnsureRegistered()
	return &Registry{
		providers: make(map[Name]Provider),
		logger:    logger,
	}
}

// NewRegistryFromSettings builds every adapter that has credentials.
// Providers without an API key are left unregistered.
func NewRegistryFromSettings(settings map[Name]Settings, logger zerolog.Logger) (*Registry, error) {
	r := NewRegistry(logger)

	for _, name := range AllNames() {
		s, ok := settings[name]
		if !ok || s.APIKey == "" {
			logger.Debug().Str("provider", string(name)).Msg("Provider not configured; skipping")
			continue
		}

		var (
			p   Provider
			err error
		)
		switch name {
		case OpenAI:
			p, err = NewOpenAIProvider(s)
		case Anthropic:
			p, err = NewAnthropicProvider(s)
		case Google:
			p, err = NewGoogleProvider(s)
		case HTTP:
			p, err = NewHTTPProvider(s)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create %s provider: %w", name, err)
		}
		r.Register(p)
	}

	return r, nil
}

// Register adds or replaces an adapter
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := p.(*instrumented); !ok {
		p = &instrumented{next: p, logger: r.logger}
	}
	r.providers[p.Name()] = p
	r.logger.Info().Str("provider", string(p.Name())).Msg("Provider registered")
}

// Get returns the adapter for name
func (r *Registry) Get(name Name) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names, sorted
func (r *Registry) Names() []Name {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]Name, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// instrumented traces and measures every call and normalises failures into *Error
type instrumented struct {
	next   Provider
	logger zerolog.Logger
}

func (p *instrumented) Name() Name {
	return p.next.Name()
}

func (p *instrumented) Complete(ctx context.Context, turns []conversation.Turn) (string, error) {
	name := p.next.Name()
	ctx = tracing.WithProvider(ctx, string(name))
	ctx, span := tracing.StartSpan(
		ctx,
		"studymate.provider",
		"provider.complete",
		attribute.String("provider", string(name)),
		attribute.Int("turns", len(turns)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, p.logger)

	start := time.Now()
	reply, err := p.next.Complete(ctx, turns)
	duration := time.Since(start)

	if err != nil {
		perr := Classify(name, err)
		observability.RecordProviderCall(string(name), duration, string(perr.Kind))
		tracing.FailSpan(span, perr)
		logger.Debug().
			Err(err).
			Str("kind", string(perr.Kind)).
			Int("status", perr.Status).
			Dur("duration", duration).
			Msg("Provider call failed")
		return "", perr
	}

	observability.RecordProviderCall(string(name), duration, "")
	logger.Debug().
		Dur("duration", duration).
		Int("reply_bytes", len(reply)).
		Msg("Provider call completed")
	return reply, nil
}
