package conversation

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTitleFrom(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"short message", "Help me pick a career", "Help me pick a career"},
		{"blank message", "   ", DefaultTitle},
		{"long message", strings.Repeat("a", 40), strings.Repeat("a", 30)},
		{"multibyte runes", strings.Repeat("é", 35), strings.Repeat("é", 30)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TitleFrom(tt.input))
		})
	}
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleSystem.Valid())
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.False(t, Role("tool").Valid())
}

func TestLastUser(t *testing.T) {
	turns := []Turn{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "reply"},
		{Role: RoleUser, Content: "second"},
		{Role: RoleAssistant, Content: "reply 2"},
	}

	text, ok := LastUser(turns)
	assert.True(t, ok)
	assert.Equal(t, "second", text)

	_, ok = LastUser(turns[:1])
	assert.False(t, ok)
}

func TestCloneTurns_Independent(t *testing.T) {
	src := []Turn{{Role: RoleUser, Content: "a"}}
	dst := CloneTurns(src)
	dst[0].Content = "b"
	assert.Equal(t, "a", src[0].Content)
	assert.Nil(t, CloneTurns(nil))
}

func TestFormatTime_RoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 20, 30, 123456789, time.FixedZone("X", 3600))
	s := FormatTime(ts)
	assert.Equal(t, "2024-03-01T09:20:30.123456789Z", s)

	parsed, err := ParseTime(s)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))
}

func TestClock_StrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &Clock{now: func() time.Time { return fixed }}

	a := c.Now()
	b := c.Now()
	assert.True(t, b.After(a))

	c.Observe(fixed.Add(time.Hour))
	assert.True(t, c.Now().After(fixed.Add(time.Hour)))
}

func TestClock_ConcurrentUnique(t *testing.T) {
	c := NewClock()
	var mu sync.Mutex
	seen := make(map[time.Time]bool)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := c.Now()
			mu.Lock()
			seen[ts] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 50)
}
