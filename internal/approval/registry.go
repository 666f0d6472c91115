// Package approval binds one-shot approval tokens to drafts. The raw
// token is handed to the operator exactly once; only its fingerprint
// (first 8 hex of SHA-256) is ever persisted or logged.
package approval

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// FingerprintLen is the number of hex characters kept from the token
// digest.
const FingerprintLen = 8

// Record is one approval binding as persisted
type Record struct {
	ID          int64      `json:"id"`
	Fingerprint string     `json:"fingerprint"`
	DraftID     string     `json:"draft_id"`
	ApprovedBy  string     `json:"approved_by"`
	Reason      string     `json:"reason"`
	Ticket      string     `json:"ticket,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	Consumed    bool       `json:"consumed"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
}

// Fingerprint derives the persistable form of a token
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:FingerprintLen]
}

// Registry is the SQLite-backed approval store
type Registry struct {
	db   *sql.DB
	path string
}

// OpenRegistry opens (and initialises) the approval database
func OpenRegistry(dbPath string) (*Registry, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open approval database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	r := &Registry{db: db, path: dbPath}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return r, nil
}

func (r *Registry) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS approvals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		fingerprint TEXT UNIQUE NOT NULL,
		draft_id TEXT NOT NULL,
		approved_by TEXT NOT NULL,
		reason TEXT NOT NULL,
		ticket TEXT,
		created_at TIMESTAMP NOT NULL,
		consumed INTEGER NOT NULL DEFAULT 0,
		consumed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_approvals_fingerprint ON approvals(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_approvals_draft_id ON approvals(draft_id);
	`

	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Create mints a new single-use token bound to the draft and stores
// its fingerprint. The returned raw token is never written anywhere.
func (r *Registry) Create(draftID, approvedBy, reason, ticket string) (token string, record *Record, err error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("failed to generate approval token: %w", err)
	}
	token = hex.EncodeToString(buf)
	fingerprint := Fingerprint(token)
	createdAt := time.Now().UTC()

	res, err := r.db.Exec(
		`INSERT INTO approvals (fingerprint, draft_id, approved_by, reason, ticket, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		fingerprint, draftID, approvedBy, reason, ticket, createdAt,
	)
	if err != nil {
		return "", nil, fmt.Errorf("failed to store approval: %w", err)
	}

	id, _ := res.LastInsertId()
	return token, &Record{
		ID:          id,
		Fingerprint: fingerprint,
		DraftID:     draftID,
		ApprovedBy:  approvedBy,
		Reason:      reason,
		Ticket:      ticket,
		CreatedAt:   createdAt,
	}, nil
}

// Lookup returns the approval bound to a fingerprint, or nil when no
// such approval exists.
func (r *Registry) Lookup(fingerprint string) (*Record, error) {
	row := r.db.QueryRow(
		`SELECT id, fingerprint, draft_id, approved_by, reason, COALESCE(ticket, ''), created_at, consumed, consumed_at
		 FROM approvals WHERE fingerprint = ?`, fingerprint)

	var rec Record
	var consumed int
	var consumedAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.Fingerprint, &rec.DraftID, &rec.ApprovedBy, &rec.Reason, &rec.Ticket, &rec.CreatedAt, &consumed, &consumedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up approval: %w", err)
	}

	rec.Consumed = consumed != 0
	if consumedAt.Valid {
		t := consumedAt.Time
		rec.ConsumedAt = &t
	}

	return &rec, nil
}

// LookupByDraft returns the most recent approval for a draft, or nil
func (r *Registry) LookupByDraft(draftID string) (*Record, error) {
	row := r.db.QueryRow(
		`SELECT id, fingerprint, draft_id, approved_by, reason, COALESCE(ticket, ''), created_at, consumed, consumed_at
		 FROM approvals WHERE draft_id = ? ORDER BY id DESC LIMIT 1`, draftID)

	var rec Record
	var consumed int
	var consumedAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.Fingerprint, &rec.DraftID, &rec.ApprovedBy, &rec.Reason, &rec.Ticket, &rec.CreatedAt, &consumed, &consumedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up approval by draft: %w", err)
	}

	rec.Consumed = consumed != 0
	if consumedAt.Valid {
		t := consumedAt.Time
		rec.ConsumedAt = &t
	}

	return &rec, nil
}

// Burn consumes a token. It is an error to burn a token twice or to
// burn a fingerprint that was never issued.
func (r *Registry) Burn(fingerprint string) error {
	res, err := r.db.Exec(
		`UPDATE approvals SET consumed = 1, consumed_at = ? WHERE fingerprint = ? AND consumed = 0`,
		time.Now().UTC(), fingerprint)
	if err != nil {
		return fmt.Errorf("failed to burn approval: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check burn result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("approval %s not found or already consumed", fingerprint)
	}

	return nil
}

// Close closes the database
func (r *Registry) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
