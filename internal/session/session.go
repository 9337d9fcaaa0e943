// Package session persists small user preferences between runs: the
// active relay, display toggles and the selected channel.
package session

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ompomz/flowgazer/internal/ops"
)

// Well-known preference keys.
const (
	KeyRelayURL            = "relay_url"
	KeyShowChannelMessages = "show_channel_messages"
	KeyAutoUpdate          = "auto_update"
	KeyCurrentChannel      = "current_channel"
)

const schema = `
CREATE TABLE IF NOT EXISTS preferences (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store is a sqlite-backed key/value preference store.
type Store struct {
	db  *sqlx.DB
	log *ops.Logger
}

// Open opens (creating if needed) the preference database at path.
func Open(path string, logger *ops.Logger) (*Store, error) {
	if logger == nil {
		logger = ops.Default()
	}
	if path == "" {
		return nil, errors.New("session path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize session schema: %w", err)
	}

	return &Store{db: db, log: logger.WithComponent("session")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the stored value for key, or fallback when unset.
func (s *Store) Get(key, fallback string) string {
	var value string
	err := s.db.Get(&value, `SELECT value FROM preferences WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback
	}
	if err != nil {
		s.log.Warn("preference read failed", "key", key, "error", err)
		return fallback
	}
	return value
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO preferences (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("preference write failed for %s: %w", key, err)
	}
	return nil
}

// GetBool reads a boolean preference.
func (s *Store) GetBool(key string, fallback bool) bool {
	switch s.Get(key, "") {
	case "true":
		return true
	case "false":
		return false
	default:
		return fallback
	}
}

// SetBool stores a boolean preference.
func (s *Store) SetBool(key string, value bool) error {
	if value {
		return s.Set(key, "true")
	}
	return s.Set(key, "false")
}

// Delete removes a preference. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM preferences WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("preference delete failed for %s: %w", key, err)
	}
	return nil
}
