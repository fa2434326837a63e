package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/harun/studymate/pkg/conversation"
	"github.com/harun/studymate/pkg/lane"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T, maxEntries int, ttl time.Duration) (*Cache, *lane.Locker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	locker := lane.New(lane.Config{Logger: zerolog.Nop()})
	cache := NewCache(CacheConfig{
		MaxEntries: maxEntries,
		TTL:        ttl,
		Lanes:      locker,
		Logger:     zerolog.Nop(),
		Now:        clock.Now,
	})
	return cache, locker, clock
}

func turns(contents ...string) []conversation.Turn {
	out := []conversation.Turn{{Role: conversation.RoleSystem, Content: "sys"}}
	for _, c := range contents {
		out = append(out, conversation.Turn{Role: conversation.RoleUser, Content: c})
	}
	return out
}

func TestNewCache_Defaults(t *testing.T) {
	cache := NewCache(CacheConfig{})
	assert.Equal(t, DefaultMaxEntries, cache.maxEntries)
	assert.Equal(t, DefaultTTL, cache.ttl)
}

func TestCache_PutGet(t *testing.T) {
	cache, _, _ := newTestCache(t, 10, time.Minute)

	_, ok := cache.Get("missing")
	assert.False(t, ok)

	cache.Put("c1", turns("hello"))
	got, ok := cache.Get("c1")
	require.True(t, ok)
	assert.Equal(t, turns("hello"), got)
	assert.Equal(t, 1, cache.Len())
}

func TestCache_CopiesValues(t *testing.T) {
	cache, _, _ := newTestCache(t, 10, time.Minute)

	src := turns("hello")
	cache.Put("c1", src)
	src[1].Content = "mutated after put"

	got, ok := cache.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "hello", got[1].Content)

	got[1].Content = "mutated after get"
	got = append(got, conversation.Turn{Role: conversation.RoleAssistant, Content: "x"})

	again, ok := cache.Get("c1")
	require.True(t, ok)
	assert.Len(t, again, 2)
	assert.Equal(t, "hello", again[1].Content)
}

func TestCache_Remove(t *testing.T) {
	cache, _, _ := newTestCache(t, 10, time.Minute)

	cache.Put("c1", turns("a"))
	cache.Remove("c1")
	cache.Remove("never-there")

	_, ok := cache.Get("c1")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestCache_CapacityEvictsLeastRecentlyUsed(t *testing.T) {
	cache, _, _ := newTestCache(t, 2, time.Hour)

	cache.Put("c1", turns("1"))
	cache.Put("c2", turns("2"))
	_, _ = cache.Get("c1") // c2 becomes least recently used
	cache.Put("c3", turns("3"))

	assert.Equal(t, 2, cache.Len())
	_, ok := cache.Get("c2")
	assert.False(t, ok)
	_, ok = cache.Get("c1")
	assert.True(t, ok)
	_, ok = cache.Get("c3")
	assert.True(t, ok)
}

func TestCache_CapacitySkipsHeldLanes(t *testing.T) {
	cache, locker, _ := newTestCache(t, 1, time.Hour)

	cache.Put("c1", turns("1"))

	release, err := locker.Acquire(context.Background(), "c1")
	require.NoError(t, err)

	cache.Put("c2", turns("2"))

	// c1 is in use, so the cache temporarily exceeds capacity
	assert.Equal(t, 2, cache.Len())
	_, ok := cache.Get("c1")
	assert.True(t, ok)

	release()

	cache.Put("c3", turns("3"))
	_, ok = cache.Get("c3")
	assert.True(t, ok)
	assert.Equal(t, 1, cache.Len())
}

func TestCache_EvictExpired(t *testing.T) {
	cache, locker, clock := newTestCache(t, 10, time.Minute)

	cache.Put("idle", turns("a"))
	cache.Put("busy", turns("b"))

	release, err := locker.Acquire(context.Background(), "busy")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	cache.Put("fresh", turns("c"))

	evicted := cache.EvictExpired()
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 2, cache.Len())

	release()
	assert.Equal(t, 1, cache.EvictExpired())
	assert.Equal(t, 1, cache.Len())

	_, ok := cache.Get("fresh")
	assert.True(t, ok)
}

func TestCache_GetExpiredIsMiss(t *testing.T) {
	cache, _, clock := newTestCache(t, 10, time.Minute)

	cache.Put("c1", turns("a"))
	clock.Advance(time.Minute)

	_, ok := cache.Get("c1")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestCache_GetRefreshesIdleTime(t *testing.T) {
	cache, _, clock := newTestCache(t, 10, time.Minute)

	cache.Put("c1", turns("a"))
	clock.Advance(40 * time.Second)
	_, ok := cache.Get("c1")
	require.True(t, ok)

	clock.Advance(40 * time.Second)
	assert.Equal(t, 0, cache.EvictExpired())
	_, ok = cache.Get("c1")
	assert.True(t, ok)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache, _, _ := newTestCache(t, 5, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%8))
			cache.Put(id, turns(id))
			if got, ok := cache.Get(id); ok {
				assert.Equal(t, conversation.RoleSystem, got[0].Role)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, cache.Len(), 5)
}
