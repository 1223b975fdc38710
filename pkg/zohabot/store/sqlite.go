// Package store provides the durable state of the message pipeline: the
// last-seen marker of each conversation and the set of media events already
// relayed. Rows older than their TTL are evicted so the database stays small.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds SQLite state store configuration.
type Config struct {
	// Path is the database file.
	Path string `yaml:"path"`

	// BusyTimeout is the SQLite busy timeout in milliseconds.
	BusyTimeout int `yaml:"busy_timeout"`

	// MarkerTTL is how long a conversation marker is kept after its last update.
	MarkerTTL time.Duration `yaml:"marker_ttl"`

	// MediaTTL is how long a forwarded media id is remembered.
	MediaTTL time.Duration `yaml:"media_ttl"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Path:        "./data/zohabot.db",
		BusyTimeout: 5000,
		MarkerTTL:   30 * 24 * time.Hour,
		MediaTTL:    7 * 24 * time.Hour,
	}
}

// schemaVersion is the latest migration applied by Open.
const schemaVersion = 1

var migrations = map[int]string{
	1: `
		CREATE TABLE IF NOT EXISTS markers (
			conversation_id TEXT PRIMARY KEY,
			marker          TEXT NOT NULL,
			updated_at      INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS forwarded_media (
			media_id        TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			forwarded_at    INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_markers_updated ON markers(updated_at);
		CREATE INDEX IF NOT EXISTS idx_forwarded_at ON forwarded_media(forwarded_at);
	`,
}

// Store is the SQLite-backed state store.
type Store struct {
	db  *sql.DB
	cfg Config

	// now is replaceable in tests.
	now func() time.Time
}

// Open opens or creates the database and applies migrations.
func Open(cfg Config) (*Store, error) {
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = def.BusyTimeout
	}
	if cfg.MarkerTTL == 0 {
		cfg.MarkerTTL = def.MarkerTTL
	}
	if cfg.MediaTTL == 0 {
		cfg.MediaTTL = def.MediaTTL
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory %q: %w", dir, err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d", cfg.Path, cfg.BusyTimeout)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state db %q: %w", cfg.Path, err)
	}
	// SQLite allows a single writer; keep one connection to avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping state db: %w", err)
	}

	s := &Store{db: db, cfg: cfg, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrate applies pending migrations in order.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for v := current + 1; v <= schemaVersion; v++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", v, err)
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", v, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", v); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.cfg.Path }

// Marker returns the stored marker of a conversation.
func (s *Store) Marker(ctx context.Context, conversationID string) (string, bool, error) {
	var marker string
	err := s.db.QueryRowContext(ctx,
		"SELECT marker FROM markers WHERE conversation_id = ?", conversationID,
	).Scan(&marker)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read marker: %w", err)
	}
	return marker, true, nil
}

// SetMarker overwrites the marker of a conversation.
func (s *Store) SetMarker(ctx context.Context, conversationID, marker string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO markers (conversation_id, marker, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET marker = excluded.marker, updated_at = excluded.updated_at
	`, conversationID, marker, s.now().Unix())
	if err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}

// Forwarded reports whether a media id was already relayed.
func (s *Store) Forwarded(ctx context.Context, mediaID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM forwarded_media WHERE media_id = ?", mediaID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read forwarded media: %w", err)
	}
	return true, nil
}

// MarkForwarded records a media id as relayed. Marking twice is a no-op.
func (s *Store) MarkForwarded(ctx context.Context, mediaID, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO forwarded_media (media_id, conversation_id, forwarded_at) VALUES (?, ?, ?)
		ON CONFLICT(media_id) DO NOTHING
	`, mediaID, conversationID, s.now().Unix())
	if err != nil {
		return fmt.Errorf("write forwarded media: %w", err)
	}
	return nil
}

// EvictExpired deletes markers and media ids older than their TTL and
// returns the number of rows removed.
func (s *Store) EvictExpired(ctx context.Context) (int64, error) {
	now := s.now()
	var total int64

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM markers WHERE updated_at < ?", now.Add(-s.cfg.MarkerTTL).Unix())
	if err != nil {
		return 0, fmt.Errorf("evict markers: %w", err)
	}
	n, _ := res.RowsAffected()
	total += n

	res, err = s.db.ExecContext(ctx,
		"DELETE FROM forwarded_media WHERE forwarded_at < ?", now.Add(-s.cfg.MediaTTL).Unix())
	if err != nil {
		return total, fmt.Errorf("evict forwarded media: %w", err)
	}
	n, _ = res.RowsAffected()
	total += n

	return total, nil
}

// Stats returns row counts, used by the status surface.
func (s *Store) Stats(ctx context.Context) (markers, media int, err error) {
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM markers").Scan(&markers); err != nil {
		return 0, 0, fmt.Errorf("count markers: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM forwarded_media").Scan(&media); err != nil {
		return 0, 0, fmt.Errorf("count forwarded media: %w", err)
	}
	return markers, media, nil
}
