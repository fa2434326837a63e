package store

import (
	"context"
	"errors"
	"time"

	"github.com/harun/studymate/internal/observability"
	"github.com/harun/studymate/internal/tracing"
	"github.com/harun/studymate/pkg/conversation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// instrumented records spans and metrics around every store operation
type instrumented struct {
	next conversation.Store
}

// Instrument wraps st with tracing spans and operation metrics
func Instrument(st conversation.Store) conversation.Store {
	observability.EnsureRegistered()
	if _, ok := st.(*instrumented); ok {
		return st
	}
	return &instrumented{next: st}
}

func (s *instrumented) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span, func(error)) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, "studymate.store", "store."+op, attrs...)
	started := time.Now()

	return ctx, span, func(err error) {
		// A missing conversation is an answer, not a store failure.
		failed := err != nil && !errors.Is(err, conversation.ErrNotFound)
		observability.RecordStoreOp(op, time.Since(started), !failed)
		if failed {
			tracing.FailSpan(span, err)
		}
		span.End()
	}
}

func (s *instrumented) CreateConversation(ctx context.Context, ownerID, title, provider string) (conversation.Conversation, error) {
	ctx, span, done := s.start(ctx, "create_conversation", attribute.String("owner_id", ownerID))
	conv, err := s.next.CreateConversation(ctx, ownerID, title, provider)
	if err == nil {
		span.SetAttributes(attribute.String("conversation_id", conv.ID))
	}
	done(err)
	return conv, err
}

func (s *instrumented) GetConversation(ctx context.Context, id string) (conversation.Conversation, error) {
	ctx, _, done := s.start(ctx, "get_conversation", attribute.String("conversation_id", id))
	conv, err := s.next.GetConversation(ctx, id)
	done(err)
	return conv, err
}

func (s *instrumented) AppendMessage(ctx context.Context, conversationID string, role conversation.Role, content string) (conversation.Message, error) {
	ctx, _, done := s.start(ctx, "append_message",
		attribute.String("conversation_id", conversationID),
		attribute.String("role", string(role)),
	)
	msg, err := s.next.AppendMessage(ctx, conversationID, role, content)
	done(err)
	return msg, err
}

func (s *instrumented) ListMessages(ctx context.Context, conversationID string, limit int) ([]conversation.Message, error) {
	ctx, span, done := s.start(ctx, "list_messages",
		attribute.String("conversation_id", conversationID),
		attribute.Int("limit", limit),
	)
	msgs, err := s.next.ListMessages(ctx, conversationID, limit)
	span.SetAttributes(attribute.Int("count", len(msgs)))
	done(err)
	return msgs, err
}

func (s *instrumented) ListConversations(ctx context.Context, ownerID string, limit int) ([]conversation.Conversation, error) {
	ctx, span, done := s.start(ctx, "list_conversations",
		attribute.String("owner_id", ownerID),
		attribute.Int("limit", limit),
	)
	convs, err := s.next.ListConversations(ctx, ownerID, limit)
	span.SetAttributes(attribute.Int("count", len(convs)))
	done(err)
	return convs, err
}

func (s *instrumented) DeleteConversation(ctx context.Context, id string) error {
	ctx, _, done := s.start(ctx, "delete_conversation", attribute.String("conversation_id", id))
	err := s.next.DeleteConversation(ctx, id)
	done(err)
	return err
}

func (s *instrumented) Close() error {
	return s.next.Close()
}
