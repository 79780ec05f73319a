package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store reads and writes sessions.
type Store interface {
	// Load returns the data of session id.
	// Returns ErrSessionNotFound if it does not exist.
	Load(ctx context.Context, id string) (map[string]any, error)

	// Save creates or replaces session id.
	Save(ctx context.Context, id string, data map[string]any) error

	// Delete removes session id. Unknown IDs are not an error.
	Delete(ctx context.Context, id string) error
}

// NewID returns a fresh random session ID.
func NewID() string {
	return uuid.NewString()
}

// maxIDLen bounds client-supplied session IDs.
const maxIDLen = 128

// ValidID reports whether id is usable as a session key: 1 to 128
// characters drawn from letters, digits, comma and hyphen.
func ValidID(id string) bool {
	if id == "" || len(id) > maxIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		switch c := id[i]; {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == ',' || c == '-':
		default:
			return false
		}
	}
	return true
}

// SQLiteStore implements Store on the sessions table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a store over an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// Load returns the data of session id.
func (s *SQLiteStore) Load(ctx context.Context, id string) (map[string]any, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ?`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("querying session: %w", err)
	}

	data := make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return data, nil
}

// Save creates or replaces session id.
func (s *SQLiteStore) Save(ctx context.Context, id string, data map[string]any) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	if data == nil {
		data = map[string]any{}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", id, err)
	}

	now := s.now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		id, string(raw), now, now)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Delete removes session id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// Expire deletes sessions not written since before cutoff and returns how
// many were removed.
func (s *SQLiteStore) Expire(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("expiring sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting expired sessions: %w", err)
	}
	return n, nil
}
