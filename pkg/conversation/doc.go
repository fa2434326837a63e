// Package conversation defines the durable data model shared by the store,
// the session cache and the orchestrator.
//
// Invariants:
// - Every conversation holds exactly one system message, first in order.
// - Messages are immutable once persisted and ordered by append order.
// - Identifiers and timestamps cross boundaries as strings (see FormatTime).
//
// Usage:
//
//	conv, _ := store.CreateConversation(ctx, conversation.DefaultOwner, conversation.TitleFrom(text), "openai")
//	_, _ = store.AppendMessage(ctx, conv.ID, conversation.RoleUser, text)
package conversation
