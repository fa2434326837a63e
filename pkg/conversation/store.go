package conversation

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when an identifier references no conversation
var ErrNotFound = errors.New("conversation not found")

// TimeFormat is the only textual timestamp format exposed at the boundary.
// It is fixed width so lexical order matches chronological order.
const TimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t in UTC using TimeFormat
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime parses a timestamp produced by FormatTime
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeFormat, s)
}

// Store is the durable conversation store.
// Each operation is individually atomic; callers must not assume atomicity across calls.
type Store interface {
	// CreateConversation creates a conversation and returns it with its store-assigned ID
	CreateConversation(ctx context.Context, ownerID, title, provider string) (Conversation, error)

	// GetConversation returns the conversation or ErrNotFound
	GetConversation(ctx context.Context, id string) (Conversation, error)

	// AppendMessage persists a message and bumps the conversation's updated timestamp
	AppendMessage(ctx context.Context, conversationID string, role Role, content string) (Message, error)

	// ListMessages returns messages oldest first; limit <= 0 returns all
	ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)

	// ListConversations returns the owner's conversations, most recently updated first
	ListConversations(ctx context.Context, ownerID string, limit int) ([]Conversation, error)

	// DeleteConversation removes the conversation and all of its messages
	DeleteConversation(ctx context.Context, id string) error

	// Close releases the store's resources
	Close() error
}

// Clock hands out strictly increasing timestamps so that timestamp order
// always equals append order within one store.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewClock creates a clock backed by time.Now
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Now returns max(now, last+1ns) in UTC
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC()
	if !now.After(c.last) {
		now = c.last.Add(time.Nanosecond)
	}
	c.last = now
	return now
}

// Observe advances the clock past t, used when reopening persisted data
func (c *Clock) Observe(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.After(c.last) {
		c.last = t.UTC()
	}
}
