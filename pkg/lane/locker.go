package lane

import (
	"context"
	"sync"
	"time"

	"github.com/harun/studymate/internal/observability"
	"github.com/harun/studymate/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ReleaseFunc gives a lane back. Calling it more than once is a no-op.
type ReleaseFunc func()

// laneState tracks one key. sem has capacity 1; holding the slot is holding the lane.
type laneState struct {
	sem  chan struct{}
	refs int // holders + waiters
}

// Config configures a Locker
type Config struct {
	// WarnAfter logs a warning when a waiter has not acquired its lane in time. Zero disables it.
	WarnAfter time.Duration
	Logger    zerolog.Logger
}

// Locker serializes work per key
type Locker struct {
	mu        sync.Mutex
	lanes     map[string]*laneState
	warnAfter time.Duration
	logger    zerolog.Logger
}

// New creates a Locker
func New(cfg Config) *Locker {
	observability.EnsureRegistered()

	return &Locker{
		lanes:     make(map[string]*laneState),
		warnAfter: cfg.WarnAfter,
		logger:    cfg.Logger,
	}
}

// ref returns the lane for key with its reference count incremented
func (l *Locker) ref(key string) *laneState {
	l.mu.Lock()
	defer l.mu.Unlock()

	ls, exists := l.lanes[key]
	if !exists {
		ls = &laneState{sem: make(chan struct{}, 1)}
		l.lanes[key] = ls
	}
	ls.refs++
	observability.SetActiveLanes(len(l.lanes))
	return ls
}

// unref drops one reference and forgets the lane when it is unused
func (l *Locker) unref(key string, ls *laneState) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ls.refs--
	if ls.refs == 0 {
		delete(l.lanes, key)
	}
	observability.SetActiveLanes(len(l.lanes))
}

// Acquire blocks until the lane for key is held or ctx is done
func (l *Locker) Acquire(ctx context.Context, key string) (ReleaseFunc, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"studymate.lane",
		"lane.acquire",
		attribute.String("lane", key),
	)
	defer span.End()

	ls := l.ref(key)
	start := time.Now()

	var warnTimer *time.Timer
	if l.warnAfter > 0 {
		logger := tracing.LoggerFromContext(ctx, l.logger)
		warnTimer = time.AfterFunc(l.warnAfter, func() {
			logger.Warn().
				Str("lane", key).
				Dur("waited", time.Since(start)).
				Msg("Waiting longer than expected for conversation lane")
		})
	}

	select {
	case ls.sem <- struct{}{}:
	case <-ctx.Done():
		if warnTimer != nil {
			warnTimer.Stop()
		}
		l.unref(key, ls)
		tracing.FailSpan(span, ctx.Err())
		return nil, ctx.Err()
	}

	if warnTimer != nil {
		warnTimer.Stop()
	}
	observability.RecordLaneWait(time.Since(start))

	return l.releaser(key, ls), nil
}

// TryAcquire takes the lane only if nobody holds or awaits it
func (l *Locker) TryAcquire(key string) (ReleaseFunc, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ls, exists := l.lanes[key]; exists && ls.refs > 0 {
		return nil, false
	}

	ls := &laneState{sem: make(chan struct{}, 1), refs: 1}
	ls.sem <- struct{}{}
	l.lanes[key] = ls
	observability.SetActiveLanes(len(l.lanes))

	return l.releaser(key, ls), true
}

func (l *Locker) releaser(key string, ls *laneState) ReleaseFunc {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-ls.sem
			l.unref(key, ls)
		})
	}
}

// Held reports whether the lane for key is held or awaited
func (l *Locker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ls, exists := l.lanes[key]
	return exists && ls.refs > 0
}

// Len returns the number of lanes currently held or awaited
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}
