// Package session persists conversation sessions. A session binds a Slack
// (channel, thread) pair to a stable ID that upstream components use to
// correlate exchanges.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"slackflow/internal/domain"
)

// Store implements domain.SessionStore using SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time // for testing
}

// Open opens (or creates) a SQLite database at dbPath and runs the schema
// migration.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session db: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			channel     TEXT NOT NULL,
			thread_ts   TEXT NOT NULL DEFAULT '',
			created_at  INTEGER NOT NULL,
			last_active INTEGER NOT NULL,
			UNIQUE (channel, thread_ts)
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewID generates a sortable session ID.
func NewID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// GetOrCreate implements domain.SessionStore.
func (s *Store) GetOrCreate(ctx context.Context, channel, threadTS string) (*domain.Session, error) {
	if channel == "" {
		return nil, domain.NewConnectorError("session.GetOrCreate", domain.ErrNoChannel, "")
	}
	now := s.now().Unix()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, channel, thread_ts, created_at, last_active FROM sessions WHERE channel = ? AND thread_ts = ?",
		channel, threadTS,
	)
	var sess domain.Session
	err := row.Scan(&sess.ID, &sess.Channel, &sess.ThreadTS, &sess.CreatedAt, &sess.LastActive)
	switch {
	case err == nil:
		if _, err := s.db.ExecContext(ctx,
			"UPDATE sessions SET last_active = ? WHERE id = ?", now, sess.ID); err != nil {
			return nil, fmt.Errorf("touch session: %w", err)
		}
		sess.LastActive = now
		return &sess, nil
	case errors.Is(err, sql.ErrNoRows):
		sess = domain.Session{
			ID:         NewID(),
			Channel:    channel,
			ThreadTS:   threadTS,
			CreatedAt:  now,
			LastActive: now,
		}
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO sessions (id, channel, thread_ts, created_at, last_active) VALUES (?, ?, ?, ?, ?)",
			sess.ID, sess.Channel, sess.ThreadTS, sess.CreatedAt, sess.LastActive,
		); err != nil {
			return nil, fmt.Errorf("insert session: %w", err)
		}
		return &sess, nil
	default:
		return nil, fmt.Errorf("query session: %w", err)
	}
}

// Get returns the session with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, channel, thread_ts, created_at, last_active FROM sessions WHERE id = ?", id,
	)
	var sess domain.Session
	err := row.Scan(&sess.ID, &sess.Channel, &sess.ThreadTS, &sess.CreatedAt, &sess.LastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return &sess, nil
}

// Reap implements domain.SessionStore.
func (s *Store) Reap(ctx context.Context, ttlSeconds int64) (int64, error) {
	cutoff := s.now().Unix() - ttlSeconds
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE last_active < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

var _ domain.SessionStore = (*Store)(nil)
