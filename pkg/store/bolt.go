package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/studymate/pkg/conversation"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketConversations = []byte("conversations")
	bucketMessages      = []byte("messages")
)

// boltConversation and boltMessage are the persisted documents.
// Timestamps are stored as text so the file stays readable and ordered.
type boltConversation struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Title     string `json:"title"`
	Provider  string `json:"provider"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type boltMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Bolt stores conversations in a BoltDB file: one document bucket for
// conversations and one nested bucket of sequence-keyed messages per conversation.
type Bolt struct {
	db    *bolt.DB
	clock *conversation.Clock
}

// NewBolt opens (or creates) the BoltDB file at path
func NewBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	b := &Bolt{db: db, clock: conversation.NewClock()}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketConversations); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMessages); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	if err := b.observeLatest(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bolt) observeLatest() error {
	return b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(k, v []byte) error {
			var doc boltConversation
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("invalid conversation document %q: %w", k, err)
			}
			if ts, err := conversation.ParseTime(doc.UpdatedAt); err == nil {
				b.clock.Observe(ts)
			}
			return nil
		})
	})
}

func (b *Bolt) CreateConversation(ctx context.Context, ownerID, title, provider string) (conversation.Conversation, error) {
	id, err := newID()
	if err != nil {
		return conversation.Conversation{}, err
	}

	var conv conversation.Conversation
	err = b.db.Update(func(tx *bolt.Tx) error {
		now := b.clock.Now()
		conv = conversation.Conversation{
			ID:        id,
			OwnerID:   ownerID,
			Title:     title,
			Provider:  provider,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return putConversation(tx, conv)
	})
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (b *Bolt) GetConversation(ctx context.Context, id string) (conversation.Conversation, error) {
	var conv conversation.Conversation
	err := b.db.View(func(tx *bolt.Tx) error {
		var err error
		conv, err = getConversation(tx, id)
		return err
	})
	return conv, err
}

func (b *Bolt) AppendMessage(ctx context.Context, conversationID string, role conversation.Role, content string) (conversation.Message, error) {
	id, err := newID()
	if err != nil {
		return conversation.Message{}, err
	}

	var msg conversation.Message
	err = b.db.Update(func(tx *bolt.Tx) error {
		conv, err := getConversation(tx, conversationID)
		if err != nil {
			return err
		}

		msgs, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(conversationID))
		if err != nil {
			return err
		}
		seq, err := msgs.NextSequence()
		if err != nil {
			return err
		}

		msg = conversation.Message{
			ID:             id,
			ConversationID: conversationID,
			Role:           role,
			Content:        content,
			Timestamp:      b.clock.Now(),
		}
		enc, err := json.Marshal(boltMessage{
			ID:        msg.ID,
			Role:      string(msg.Role),
			Content:   msg.Content,
			Timestamp: conversation.FormatTime(msg.Timestamp),
		})
		if err != nil {
			return err
		}
		if err := msgs.Put(sequenceKey(seq), enc); err != nil {
			return err
		}

		conv.UpdatedAt = msg.Timestamp
		return putConversation(tx, conv)
	})
	if err != nil {
		return conversation.Message{}, fmt.Errorf("failed to append message: %w", err)
	}
	return msg, nil
}

func (b *Bolt) ListMessages(ctx context.Context, conversationID string, limit int) ([]conversation.Message, error) {
	messages := []conversation.Message{}
	err := b.db.View(func(tx *bolt.Tx) error {
		msgs := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if msgs == nil {
			return nil
		}

		c := msgs.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if limit > 0 && len(messages) >= limit {
				break
			}
			var doc boltMessage
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("invalid message document: %w", err)
			}
			ts, err := conversation.ParseTime(doc.Timestamp)
			if err != nil {
				return fmt.Errorf("invalid message timestamp %q: %w", doc.Timestamp, err)
			}
			messages = append(messages, conversation.Message{
				ID:             doc.ID,
				ConversationID: conversationID,
				Role:           conversation.Role(doc.Role),
				Content:        doc.Content,
				Timestamp:      ts,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

func (b *Bolt) ListConversations(ctx context.Context, ownerID string, limit int) ([]conversation.Conversation, error) {
	convs := []conversation.Conversation{}
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(k, v []byte) error {
			conv, err := decodeConversation(v)
			if err != nil {
				return err
			}
			if conv.OwnerID == ownerID {
				convs = append(convs, conv)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	sortConversations(convs)
	return limitConversations(convs, limit), nil
}

func (b *Bolt) DeleteConversation(ctx context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		convs := tx.Bucket(bucketConversations)
		if convs.Get([]byte(id)) == nil {
			return notFound(id)
		}
		if err := convs.Delete([]byte(id)); err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}

		msgs := tx.Bucket(bucketMessages)
		if msgs.Bucket([]byte(id)) != nil {
			if err := msgs.DeleteBucket([]byte(id)); err != nil {
				return fmt.Errorf("failed to delete messages: %w", err)
			}
		}
		return nil
	})
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func getConversation(tx *bolt.Tx, id string) (conversation.Conversation, error) {
	v := tx.Bucket(bucketConversations).Get([]byte(id))
	if v == nil {
		return conversation.Conversation{}, notFound(id)
	}
	return decodeConversation(v)
}

func putConversation(tx *bolt.Tx, conv conversation.Conversation) error {
	enc, err := json.Marshal(boltConversation{
		ID:        conv.ID,
		OwnerID:   conv.OwnerID,
		Title:     conv.Title,
		Provider:  conv.Provider,
		CreatedAt: conversation.FormatTime(conv.CreatedAt),
		UpdatedAt: conversation.FormatTime(conv.UpdatedAt),
	})
	if err != nil {
		return err
	}
	return tx.Bucket(bucketConversations).Put([]byte(conv.ID), enc)
}

func decodeConversation(v []byte) (conversation.Conversation, error) {
	var doc boltConversation
	if err := json.Unmarshal(v, &doc); err != nil {
		return conversation.Conversation{}, fmt.Errorf("invalid conversation document: %w", err)
	}

	created, err := conversation.ParseTime(doc.CreatedAt)
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("invalid created_at %q: %w", doc.CreatedAt, err)
	}
	updated, err := conversation.ParseTime(doc.UpdatedAt)
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("invalid updated_at %q: %w", doc.UpdatedAt, err)
	}

	return conversation.Conversation{
		ID:        doc.ID,
		OwnerID:   doc.OwnerID,
		Title:     doc.Title,
		Provider:  doc.Provider,
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}
