package cli

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// completionServer is an OpenAI-compatible endpoint recording the messages it receives
type completionServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests [][]map[string]string
	reply    string
	status   int
}

func newCompletionServer(t *testing.T, reply string) *completionServer {
	t.Helper()

	cs := &completionServer{reply: reply, status: http.StatusOK}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body struct {
			Messages []map[string]string `json:"messages"`
		}
		_ = json.Unmarshal(raw, &body)

		cs.mu.Lock()
		cs.requests = append(cs.requests, body.Messages)
		status, reply := cs.status, cs.reply
		cs.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":"slow down"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
		})
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *completionServer) setStatus(status int) {
	cs.mu.Lock()
	cs.status = status
	cs.mu.Unlock()
}

func (cs *completionServer) setReply(reply string) {
	cs.mu.Lock()
	cs.reply = reply
	cs.mu.Unlock()
}

func (cs *completionServer) lastMessages() []map[string]string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.requests) == 0 {
		return nil
	}
	return cs.requests[len(cs.requests)-1]
}

func chatConfig(t *testing.T, cs *completionServer, driver string) string {
	t.Helper()
	return writeConfig(t, map[string]interface{}{
		"store": map[string]interface{}{"driver": driver},
		"providers": map[string]interface{}{
			"http": map[string]interface{}{"api_key": "grok-test-key", "base_url": cs.URL},
		},
	})
}

// conversationID extracts the ID printed for a new conversation
func conversationID(t *testing.T, output string) string {
	t.Helper()
	for _, line := range strings.Split(output, "\n") {
		if id, ok := strings.CutPrefix(line, "conversation: "); ok {
			return id
		}
	}
	t.Fatalf("no conversation id in output %q", output)
	return ""
}

func TestChatCommand_Conversation(t *testing.T) {
	for _, driver := range []string{"sqlite", "bolt"} {
		t.Run(driver, func(t *testing.T) {
			cs := newCompletionServer(t, "Start with SQL.")
			path := chatConfig(t, cs, driver)

			output, err := execute(t, "--config", path, "chat", "--provider", "grok", "How", "do", "I", "start?")
			require.NoError(t, err)
			id := conversationID(t, output)
			assert.Contains(t, output, "Start with SQL.")

			first := cs.lastMessages()
			require.Len(t, first, 2)
			assert.Equal(t, "system", first[0]["role"])
			assert.Equal(t, map[string]string{"role": "user", "content": "How do I start?"}, first[1])

			// A second process hydrates the session from the store
			cs.setReply("Then Python.")
			output, err = execute(t, "--config", path, "chat", "-p", "custom", "-c", id, "And then?")
			require.NoError(t, err)
			assert.Equal(t, "Then Python.\n", output)

			second := cs.lastMessages()
			require.Len(t, second, 4)
			assert.Equal(t, "system", second[0]["role"])
			assert.Equal(t, "Start with SQL.", second[2]["content"])
			assert.Equal(t, "And then?", second[3]["content"])

			output, err = execute(t, "--config", path, "conversations", "list")
			require.NoError(t, err)
			assert.Contains(t, output, id)
			assert.Contains(t, output, "How do I start?")
			assert.Contains(t, output, "http")

			output, err = execute(t, "--config", path, "conversations", "history", id)
			require.NoError(t, err)
			lines := strings.Split(strings.TrimSpace(output), "\n")
			require.Len(t, lines, 5)
			assert.Contains(t, lines[0], "system:")
			assert.Contains(t, lines[4], "assistant: Then Python.")

			output, err = execute(t, "--config", path, "conversations", "history", "--limit", "2", id)
			require.NoError(t, err)
			assert.Len(t, strings.Split(strings.TrimSpace(output), "\n"), 2)

			output, err = execute(t, "--config", path, "conversations", "delete", id)
			require.NoError(t, err)
			assert.Contains(t, output, "Deleted conversation "+id)

			_, err = execute(t, "--config", path, "conversations", "history", id)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "not found")

			output, err = execute(t, "--config", path, "conversations", "list")
			require.NoError(t, err)
			assert.Contains(t, output, "No conversations")
		})
	}
}

func TestChatCommand_RetryAfterProviderFailure(t *testing.T) {
	cs := newCompletionServer(t, "Here is a plan.")
	cs.setStatus(http.StatusTooManyRequests)
	path := chatConfig(t, cs, "sqlite")

	output, err := execute(t, "--config", path, "chat", "--provider", "grok", "Plan my week")
	require.Error(t, err)
	id := conversationID(t, output)

	cs.setStatus(http.StatusOK)
	output, err = execute(t, "--config", path, "chat", "--provider", "grok", "--conversation", id, "--retry")
	require.NoError(t, err)
	assert.Equal(t, "Here is a plan.\n", output)

	// The unanswered user turn is sent once, not duplicated
	msgs := cs.lastMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Plan my week", msgs[1]["content"])
}

func TestChatCommand_Validation(t *testing.T) {
	cs := newCompletionServer(t, "unused")
	path := chatConfig(t, cs, "memory")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing provider flag", []string{"chat", "hello"}, "provider"},
		{"empty message", []string{"chat", "-p", "grok", "  "}, "message is required"},
		{"retry without conversation", []string{"chat", "-p", "grok", "--retry"}, "--retry requires --conversation"},
		{"retry with message", []string{"chat", "-p", "grok", "-c", "abc", "--retry", "hi"}, "--retry takes no message"},
		{"unknown provider", []string{"chat", "-p", "bard", "hello"}, "provider"},
		{"unconfigured provider", []string{"chat", "-p", "openai", "hello"}, "provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"--config", path}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	assert.Empty(t, cs.requests)
}
