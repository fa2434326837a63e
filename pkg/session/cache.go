package session

import (
	"container/list"
	"sync"
	"time"

	"github.com/harun/studymate/internal/observability"
	"github.com/harun/studymate/pkg/conversation"
	"github.com/harun/studymate/pkg/lane"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxEntries = 1000
	DefaultTTL        = 30 * time.Minute
)

// Eviction reasons reported to metrics
const (
	reasonCapacity = "capacity"
	reasonExpired  = "expired"
)

// CacheConfig configures a Cache
type CacheConfig struct {
	MaxEntries int
	TTL        time.Duration
	// Lanes guards eviction; entries whose lane is held are skipped. Nil evicts unconditionally.
	Lanes  *lane.Locker
	Logger zerolog.Logger
	Now    func() time.Time
}

type entry struct {
	id       string
	turns    []conversation.Turn
	lastUsed time.Time
}

// Cache maps conversation IDs to their in-memory sessions
type Cache struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List // front is most recently used
	maxEntries int
	ttl        time.Duration
	lanes      *lane.Locker
	logger     zerolog.Logger
	now        func() time.Time
}

// NewCache creates a Cache
func NewCache(cfg CacheConfig) *Cache {
	observability.EnsureRegistered()

	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Cache{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: cfg.MaxEntries,
		ttl:        cfg.TTL,
		lanes:      cfg.Lanes,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
}

// Get returns a copy of the session for id
func (c *Cache) Get(id string) ([]conversation.Turn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[id]
	if !ok {
		observability.RecordCacheLookup(false)
		return nil, false
	}

	e := elem.Value.(*entry)
	now := c.now()
	if now.Sub(e.lastUsed) >= c.ttl {
		// Stale entries read as misses; the store is authoritative.
		c.removeElement(elem)
		observability.RecordCacheEviction(reasonExpired, 1)
		observability.RecordCacheLookup(false)
		return nil, false
	}

	e.lastUsed = now
	c.order.MoveToFront(elem)
	observability.RecordCacheLookup(true)
	return conversation.CloneTurns(e.turns), true
}

// Put stores a copy of turns as the session for id
func (c *Cache) Put(id string, turns []conversation.Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.items[id]; ok {
		e := elem.Value.(*entry)
		e.turns = conversation.CloneTurns(turns)
		e.lastUsed = now
		c.order.MoveToFront(elem)
		return
	}

	c.items[id] = c.order.PushFront(&entry{
		id:       id,
		turns:    conversation.CloneTurns(turns),
		lastUsed: now,
	})

	if c.order.Len() > c.maxEntries {
		evicted := c.evictLocked(func(e *entry) bool {
			return c.order.Len() > c.maxEntries && e.id != id
		})
		observability.RecordCacheEviction(reasonCapacity, evicted)
		if c.order.Len() > c.maxEntries {
			c.logger.Debug().
				Int("entries", c.order.Len()).
				Int("max_entries", c.maxEntries).
				Msg("Session cache over capacity; remaining entries are in use")
		}
	}
	observability.SetCacheEntries(c.order.Len())
}

// Remove drops the session for id. Callers should hold the conversation lane.
func (c *Cache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[id]; ok {
		c.removeElement(elem)
	}
}

// Len returns the number of cached sessions
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// EvictExpired drops idle sessions whose lanes are free and returns how many were dropped
func (c *Cache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	evicted := c.evictLocked(func(e *entry) bool {
		return now.Sub(e.lastUsed) >= c.ttl
	})
	observability.RecordCacheEviction(reasonExpired, evicted)
	return evicted
}

// evictLocked walks from least to most recently used and removes entries
// matching want whose lane can be taken without blocking.
func (c *Cache) evictLocked(want func(*entry) bool) int {
	evicted := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		e := elem.Value.(*entry)

		if want(e) {
			if c.lanes == nil {
				c.removeElement(elem)
				evicted++
			} else if release, ok := c.lanes.TryAcquire(e.id); ok {
				c.removeElement(elem)
				release()
				evicted++
			}
		}
		elem = prev
	}
	return evicted
}

func (c *Cache) removeElement(elem *list.Element) {
	e := elem.Value.(*entry)
	c.order.Remove(elem)
	delete(c.items, e.id)
	observability.SetCacheEntries(c.order.Len())
}
