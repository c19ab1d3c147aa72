package sequence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"templogger/internal/db"
	"templogger/internal/db/migrate"
)

// WarmStore keeps the counter alive across process restarts within one
// power session. It is never written to the log volume.
type WarmStore interface {
	Load(ctx context.Context) (int64, error)
	Save(ctx context.Context, next int64) error
	Close() error
}

// MemoryStore lives only as long as the process.
type MemoryStore struct {
	mu   sync.Mutex
	next int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next, nil
}

func (m *MemoryStore) Save(_ context.Context, next int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next = next
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// SQLiteStore persists the counter in a single-row table. Placed on tmpfs it
// survives restarts and is wiped by a reboot.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path and applies the schema.
func OpenSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	conn, err := db.Open(path, logger)
	if err != nil {
		return nil, err
	}
	if err := migrate.Run(ctx, conn, logger); err != nil {
		_ = db.Close(conn)
		return nil, fmt.Errorf("migrate warm store: %w", err)
	}
	return &SQLiteStore{db: conn}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx, `SELECT next_id FROM sequencer WHERE id = 1`).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load counter: %w", err)
	}
	return next, nil
}

func (s *SQLiteStore) Save(ctx context.Context, next int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sequencer (id, next_id) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET
			next_id = excluded.next_id,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')`, next)
	if err != nil {
		return fmt.Errorf("save counter: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return db.Close(s.db)
}

// Ping reports whether the database still answers.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
