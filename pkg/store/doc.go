// Package store implements conversation.Store on SQLite, BoltDB and memory.
//
// Invariants:
// - Identifiers are store-assigned nano ids.
// - Message timestamps are strictly increasing per store, so timestamp order equals append order.
// - ListMessages returns the oldest messages first, at most limit when limit > 0.
// - Deleting a conversation removes its messages.
//
// Usage:
//
//	st, err := store.Open(store.Config{Driver: store.DriverSQLite, Path: "studymate.db"})
//	if err != nil {
//		return err
//	}
//	defer st.Close()
package store
