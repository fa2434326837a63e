package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harun/studymate/pkg/conversation"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Supported drivers
const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
	DriverMemory = "memory"
)

// Config selects and configures a store implementation
type Config struct {
	Driver string
	Path   string
	Logger zerolog.Logger
}

// Open creates the configured store wrapped with metrics and tracing
func Open(cfg Config) (conversation.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverSQLite
	}

	if driver != DriverMemory {
		if cfg.Path == "" {
			return nil, fmt.Errorf("store path is required for driver %q", driver)
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	var (
		st  conversation.Store
		err error
	)
	switch driver {
	case DriverSQLite:
		st, err = NewSQLite(cfg.Path)
	case DriverBolt:
		st, err = NewBolt(cfg.Path)
	case DriverMemory:
		st = NewMemory()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	cfg.Logger.Info().Str("driver", driver).Str("path", cfg.Path).Msg("Conversation store opened")
	return Instrument(st), nil
}

func newID() (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return id, nil
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", conversation.ErrNotFound, id)
}

// sortConversations orders newest-updated first with a stable tie-break
func sortConversations(convs []conversation.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		if !convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
		}
		return convs[i].ID > convs[j].ID
	})
}

func limitConversations(convs []conversation.Conversation, limit int) []conversation.Conversation {
	if limit > 0 && len(convs) > limit {
		return convs[:limit]
	}
	return convs
}
