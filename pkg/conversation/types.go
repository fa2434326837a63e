package conversation

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultOwner is used when a request carries no owner identifier
	DefaultOwner = "anonymous"
	// DefaultTitle is used when the first user message is blank
	DefaultTitle = "New Chat"
	// TitleLength is the maximum number of characters taken from the first user message
	TitleLength = 30
)

// Role identifies the author of a turn
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Turn is a single {role, content} entry of a session sequence
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is the durable record grouping the messages of one chat
type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one persisted turn of a conversation
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// Turn returns the message restricted to its role and content
func (m Message) Turn() Turn {
	return Turn{Role: m.Role, Content: m.Content}
}

// TitleFrom derives a conversation title from the first user message
func TitleFrom(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(text) <= TitleLength {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:TitleLength]))
}

// CloneTurns returns an independent copy of turns
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// LastUser returns the content of the latest user turn
func LastUser(turns []Turn) (string, bool) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			return turns[i].Content, true
		}
	}
	return "", false
}
