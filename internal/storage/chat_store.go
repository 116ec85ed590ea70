package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/tursodatabase/go-libsql"
)

// SQLStore implements KVStore and ConversationStore on a local libsql database
type SQLStore struct {
	db *sql.DB
}

// NewDefaultSQLStore opens the store in the user's data directory
func NewDefaultSQLStore(pm *PathManager) (*SQLStore, error) {
	dbPath, err := pm.GetDatabasePath()
	if err != nil {
		return nil, fmt.Errorf("failed to get default database path: %w", err)
	}
	return NewSQLStore(dbPath)
}

// NewSQLStore opens (creating if needed) the database at dbPath
func NewSQLStore(dbPath string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("libsql", "file:"+dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLStore{db: db}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug("chat store initialized", "path", dbPath)
	return store, nil
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("key %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// SaveConversation upserts the conversation and evicts the oldest ones past the cap
func (s *SQLStore) SaveConversation(ctx context.Context, conv *Conversation) error {
	conv.trim()
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, title, created_at, updated_at, total_tokens, total_cost, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at,
		   total_tokens = excluded.total_tokens, total_cost = excluded.total_cost, data = excluded.data`,
		conv.ID, conv.Title, formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt),
		conv.TotalTokens, conv.TotalCost, string(data))
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM conversations WHERE id NOT IN (
		   SELECT id FROM conversations ORDER BY updated_at DESC LIMIT ?)`, MaxConversations)
	if err != nil {
		return fmt.Errorf("failed to evict old conversations: %w", err)
	}

	return tx.Commit()
}

// LoadConversations returns all conversations, most recently updated first
func (s *SQLStore) LoadConversations(ctx context.Context) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		var conv Conversation
		if err := json.Unmarshal([]byte(data), &conv); err != nil {
			log.Warn("skipping unreadable conversation", "err", err)
			continue
		}
		convs = append(convs, &conv)
	}
	return convs, rows.Err()
}

func (s *SQLStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM conversations WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	var conv Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return &conv, nil
}

func (s *SQLStore) DeleteConversation(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// sortableTime keeps fixed width fractions so timestamps order as text
const sortableTime = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(sortableTime)
}

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT 'New Chat',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    total_tokens INTEGER NOT NULL DEFAULT 0,
    total_cost REAL NOT NULL DEFAULT 0,
    data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC);
`
