package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/harun/studymate/pkg/conversation"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL,
		provider TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_owner_updated ON conversations(owner_id, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
`

// SQLite stores conversations in a SQLite database
type SQLite struct {
	db    *sql.DB
	clock *conversation.Clock
}

// NewSQLite opens (or creates) the database at path
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLite{db: db, clock: conversation.NewClock()}
	if err := s.observeLatest(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// observeLatest advances the clock past every persisted timestamp
func (s *SQLite) observeLatest() error {
	var latest sql.NullString
	err := s.db.QueryRow(`
		SELECT MAX(ts) FROM (
			SELECT MAX(timestamp) AS ts FROM messages
			UNION ALL
			SELECT MAX(updated_at) AS ts FROM conversations
		)`).Scan(&latest)
	if err != nil {
		return fmt.Errorf("failed to read latest timestamp: %w", err)
	}
	if !latest.Valid {
		return nil
	}
	ts, err := conversation.ParseTime(latest.String)
	if err != nil {
		return fmt.Errorf("invalid persisted timestamp %q: %w", latest.String, err)
	}
	s.clock.Observe(ts)
	return nil
}

func (s *SQLite) CreateConversation(ctx context.Context, ownerID, title, provider string) (conversation.Conversation, error) {
	id, err := newID()
	if err != nil {
		return conversation.Conversation{}, err
	}

	now := s.clock.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_id, title, provider, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, ownerID, title, provider, conversation.FormatTime(now), conversation.FormatTime(now),
	)
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("failed to insert conversation: %w", err)
	}

	return conversation.Conversation{
		ID:        id,
		OwnerID:   ownerID,
		Title:     title,
		Provider:  provider,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLite) GetConversation(ctx context.Context, id string) (conversation.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, provider, created_at, updated_at FROM conversations WHERE id = ?`, id)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.Conversation{}, notFound(id)
	}
	return conv, err
}

func (s *SQLite) AppendMessage(ctx context.Context, conversationID string, role conversation.Role, content string) (conversation.Message, error) {
	id, err := newID()
	if err != nil {
		return conversation.Message{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return conversation.Message{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ts := s.clock.Now()
	stamp := conversation.FormatTime(ts)

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, stamp, conversationID)
	if err != nil {
		return conversation.Message{}, fmt.Errorf("failed to update conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return conversation.Message{}, fmt.Errorf("failed to update conversation: %w", err)
	} else if n == 0 {
		return conversation.Message{}, notFound(conversationID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
		id, conversationID, string(role), content, stamp,
	)
	if err != nil {
		return conversation.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return conversation.Message{}, fmt.Errorf("failed to commit message: %w", err)
	}

	return conversation.Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      ts,
	}, nil
}

func (s *SQLite) ListMessages(ctx context.Context, conversationID string, limit int) ([]conversation.Message, error) {
	query := `SELECT id, conversation_id, role, content, timestamp FROM messages WHERE conversation_id = ? ORDER BY seq ASC`
	args := []interface{}{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []conversation.Message{}
	for rows.Next() {
		var (
			msg   conversation.Message
			role  string
			stamp string
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &stamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = conversation.Role(role)
		if msg.Timestamp, err = conversation.ParseTime(stamp); err != nil {
			return nil, fmt.Errorf("invalid message timestamp %q: %w", stamp, err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return messages, nil
}

func (s *SQLite) ListConversations(ctx context.Context, ownerID string, limit int) ([]conversation.Conversation, error) {
	query := `SELECT id, owner_id, title, provider, created_at, updated_at FROM conversations
		WHERE owner_id = ? ORDER BY updated_at DESC, id DESC`
	args := []interface{}{ownerID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	convs := []conversation.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conversations: %w", err)
	}
	return convs, nil
}

func (s *SQLite) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (conversation.Conversation, error) {
	var (
		conv             conversation.Conversation
		created, updated string
	)
	if err := row.Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.Provider, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conversation.Conversation{}, err
		}
		return conversation.Conversation{}, fmt.Errorf("failed to scan conversation: %w", err)
	}

	var err error
	if conv.CreatedAt, err = conversation.ParseTime(created); err != nil {
		return conversation.Conversation{}, fmt.Errorf("invalid created_at %q: %w", created, err)
	}
	if conv.UpdatedAt, err = conversation.ParseTime(updated); err != nil {
		return conversation.Conversation{}, fmt.Errorf("invalid updated_at %q: %w", updated, err)
	}
	return conv, nil
}
