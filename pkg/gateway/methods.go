package gateway

import (
	"context"

	"github.com/harun/studymate/internal/tracing"
	"github.com/harun/studymate/pkg/chat"
	"github.com/harun/studymate/pkg/conversation"
	"github.com/harun/studymate/pkg/provider"
)

// ChatService is the orchestrator surface the gateway exposes
type ChatService interface {
	HandleTurn(ctx context.Context, req chat.TurnRequest) (chat.TurnResult, error)
	RetryTurn(ctx context.Context, conversationID, providerName string) (chat.TurnResult, error)
	ListConversations(ctx context.Context, ownerID string, limit int) ([]conversation.Conversation, error)
	GetHistory(ctx context.Context, conversationID string, limit int) ([]conversation.Message, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	Providers() []provider.Name
}

const (
	submitSchema = `{
		"type": "object",
		"properties": {
			"conversationId": {"type": ["string", "null"], "minLength": 1},
			"provider": {"type": "string", "minLength": 1},
			"message": {"type": "string", "minLength": 1},
			"ownerId": {"type": "string"}
		},
		"required": ["provider", "message"]
	}`

	retrySchema = `{
		"type": "object",
		"properties": {
			"conversationId": {"type": "string", "minLength": 1},
			"provider": {"type": "string", "minLength": 1}
		},
		"required": ["conversationId", "provider"]
	}`

	listSchema = `{
		"type": "object",
		"properties": {
			"ownerId": {"type": "string"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 1000}
		}
	}`

	historySchema = `{
		"type": "object",
		"properties": {
			"conversationId": {"type": "string", "minLength": 1},
			"limit": {"type": "integer", "minimum": 1, "maximum": 1000}
		},
		"required": ["conversationId"]
	}`

	deleteSchema = `{
		"type": "object",
		"properties": {
			"conversationId": {"type": "string", "minLength": 1}
		},
		"required": ["conversationId"]
	}`
)

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() error {
	methods := []struct {
		name    string
		schema  string
		handler RequestHandler
	}{
		{"chat.submit", submitSchema, s.handleChatSubmit},
		{"chat.retry", retrySchema, s.handleChatRetry},
		{"conversations.list", listSchema, s.handleConversationsList},
		{"conversations.history", historySchema, s.handleConversationsHistory},
		{"conversations.delete", deleteSchema, s.handleConversationsDelete},
		{"providers.list", "", s.handleProvidersList},
		{"gateway.clients", "", s.handleGatewayClients},
	}

	for _, m := range methods {
		if err := s.router.RegisterMethodWithSchema(m.name, m.schema, m.handler); err != nil {
			return err
		}
	}
	return nil
}

// handleChatSubmit handles chat.submit
func (s *Server) handleChatSubmit(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	req := chat.TurnRequest{
		ConversationID: stringParam(params, "conversationId"),
		Provider:       stringParam(params, "provider"),
		Message:        stringParam(params, "message"),
		OwnerID:        stringParam(params, "ownerId"),
	}
	if req.ConversationID != "" {
		ctx = tracing.WithConversationID(ctx, req.ConversationID)
	}

	result, err := s.chat.HandleTurn(ctx, req)
	if err != nil {
		return nil, err
	}

	s.broadcaster.Broadcast(ctx, "conversation.updated", map[string]interface{}{
		"conversationId": result.ConversationID,
	})

	return map[string]interface{}{
		"conversationId": result.ConversationID,
		"response":       result.Response,
	}, nil
}

// handleChatRetry handles chat.retry
func (s *Server) handleChatRetry(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	conversationID := stringParam(params, "conversationId")
	ctx = tracing.WithConversationID(ctx, conversationID)

	result, err := s.chat.RetryTurn(ctx, conversationID, stringParam(params, "provider"))
	if err != nil {
		return nil, err
	}

	s.broadcaster.Broadcast(ctx, "conversation.updated", map[string]interface{}{
		"conversationId": result.ConversationID,
	})

	return map[string]interface{}{
		"conversationId": result.ConversationID,
		"response":       result.Response,
	}, nil
}

// handleConversationsList handles conversations.list
func (s *Server) handleConversationsList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	convs, err := s.chat.ListConversations(ctx, stringParam(params, "ownerId"), intParam(params, "limit"))
	if err != nil {
		return nil, err
	}

	items := make([]map[string]interface{}, 0, len(convs))
	for _, c := range convs {
		items = append(items, map[string]interface{}{
			"id":        c.ID,
			"title":     c.Title,
			"provider":  c.Provider,
			"createdAt": conversation.FormatTime(c.CreatedAt),
			"updatedAt": conversation.FormatTime(c.UpdatedAt),
		})
	}

	return map[string]interface{}{
		"conversations": items,
	}, nil
}

// handleConversationsHistory handles conversations.history
func (s *Server) handleConversationsHistory(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	conversationID := stringParam(params, "conversationId")
	ctx = tracing.WithConversationID(ctx, conversationID)

	messages, err := s.chat.GetHistory(ctx, conversationID, intParam(params, "limit"))
	if err != nil {
		return nil, err
	}

	items := make([]map[string]interface{}, 0, len(messages))
	for _, m := range messages {
		items = append(items, map[string]interface{}{
			"role":      string(m.Role),
			"content":   m.Content,
			"timestamp": conversation.FormatTime(m.Timestamp),
		})
	}

	return map[string]interface{}{
		"messages": items,
	}, nil
}

// handleConversationsDelete handles conversations.delete
func (s *Server) handleConversationsDelete(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	conversationID := stringParam(params, "conversationId")
	ctx = tracing.WithConversationID(ctx, conversationID)

	if err := s.chat.DeleteConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	s.broadcaster.Broadcast(ctx, "conversation.deleted", map[string]interface{}{
		"conversationId": conversationID,
	})

	return map[string]interface{}{
		"success": true,
	}, nil
}

// handleProvidersList handles providers.list
func (s *Server) handleProvidersList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	names := s.chat.Providers()
	providers := make([]string, 0, len(names))
	for _, name := range names {
		providers = append(providers, string(name))
	}
	return map[string]interface{}{
		"providers": providers,
	}, nil
}

func stringParam(params map[string]interface{}, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// intParam reads a JSON number; absent or non-numeric values yield 0
func intParam(params map[string]interface{}, key string) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// handleGatewayClients handles gateway.clients
func (s *Server) handleGatewayClients(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"clients": s.GetConnectedClients(),
	}, nil
}
