package store

import (
	"context"
	"sync"

	"github.com/harun/studymate/pkg/conversation"
)

type memConversation struct {
	conv     conversation.Conversation
	messages []conversation.Message
}

// Memory is a process-local store
type Memory struct {
	mu            sync.RWMutex
	clock         *conversation.Clock
	conversations map[string]*memConversation
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		clock:         conversation.NewClock(),
		conversations: make(map[string]*memConversation),
	}
}

func (m *Memory) CreateConversation(ctx context.Context, ownerID, title, provider string) (conversation.Conversation, error) {
	id, err := newID()
	if err != nil {
		return conversation.Conversation{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	conv := conversation.Conversation{
		ID:        id,
		OwnerID:   ownerID,
		Title:     title,
		Provider:  provider,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.conversations[id] = &memConversation{conv: conv}
	return conv, nil
}

func (m *Memory) GetConversation(ctx context.Context, id string) (conversation.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mc, ok := m.conversations[id]
	if !ok {
		return conversation.Conversation{}, notFound(id)
	}
	return mc.conv, nil
}

func (m *Memory) AppendMessage(ctx context.Context, conversationID string, role conversation.Role, content string) (conversation.Message, error) {
	id, err := newID()
	if err != nil {
		return conversation.Message{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.conversations[conversationID]
	if !ok {
		return conversation.Message{}, notFound(conversationID)
	}

	msg := conversation.Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      m.clock.Now(),
	}
	mc.messages = append(mc.messages, msg)
	mc.conv.UpdatedAt = msg.Timestamp
	return msg, nil
}

func (m *Memory) ListMessages(ctx context.Context, conversationID string, limit int) ([]conversation.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mc, ok := m.conversations[conversationID]
	if !ok {
		return []conversation.Message{}, nil
	}

	n := len(mc.messages)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]conversation.Message, n)
	copy(out, mc.messages[:n])
	return out, nil
}

func (m *Memory) ListConversations(ctx context.Context, ownerID string, limit int) ([]conversation.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []conversation.Conversation{}
	for _, mc := range m.conversations {
		if mc.conv.OwnerID == ownerID {
			out = append(out, mc.conv)
		}
	}
	sortConversations(out)
	return limitConversations(out, limit), nil
}

func (m *Memory) DeleteConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[id]; !ok {
		return notFound(id)
	}
	delete(m.conversations, id)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
