// Package provider adapts a conversation session to the language-model backends.
//
// Every adapter receives the full ordered session (system, history and the new
// user turn) and returns exactly one reply or a *Error. Adapters never retry.
//
// Translation differs per backend:
// - openai sends the sequence as-is.
// - anthropic lifts the system entry into the top-level system field.
// - google replays every user and assistant entry into a fresh chat, then re-sends the latest user text.
// - http posts the flattened sequence with a bearer token and reads choices[0].message.content.
package provider
