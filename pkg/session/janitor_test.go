package session

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJanitor_DefaultSchedule(t *testing.T) {
	cache, _, _ := newTestCache(t, 10, time.Minute)
	j := NewJanitor(cache, "", zerolog.Nop())
	assert.Equal(t, DefaultSweepSchedule, j.schedule)
}

func TestJanitor_StartStop(t *testing.T) {
	cache, _, _ := newTestCache(t, 10, time.Minute)
	j := NewJanitor(cache, "@every 1h", zerolog.Nop())

	require.NoError(t, j.Start())
	assert.True(t, j.IsRunning())
	assert.Error(t, j.Start())

	require.NoError(t, j.Stop())
	assert.False(t, j.IsRunning())
	assert.Error(t, j.Stop())
}

func TestJanitor_InvalidSchedule(t *testing.T) {
	cache, _, _ := newTestCache(t, 10, time.Minute)
	j := NewJanitor(cache, "not a schedule", zerolog.Nop())

	assert.Error(t, j.Start())
	assert.False(t, j.IsRunning())
}

func TestJanitor_Sweep(t *testing.T) {
	cache, _, clock := newTestCache(t, 10, time.Minute)
	cache.Put("old", turns("a"))
	clock.Advance(5 * time.Minute)
	cache.Put("new", turns("b"))

	NewJanitor(cache, "", zerolog.Nop()).Sweep()

	assert.Equal(t, 1, cache.Len())
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("@every 30s"))
	assert.NoError(t, ValidateSchedule("*/5 * * * *"))
	assert.Error(t, ValidateSchedule("every minute"))
}
