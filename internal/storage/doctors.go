// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned when no doctor matches the lookup.
	ErrNotFound = errors.New("doctor not found")

	// ErrDuplicateEmail is returned when a signup reuses an existing email.
	ErrDuplicateEmail = errors.New("email already registered")
)

// =============================================================================
// DOCTOR RECORD
// =============================================================================

// Doctor is a registered account. PasswordHash and HistoryPINHash are bcrypt
// digests; the store never sees plaintext secrets.
type Doctor struct {
	ID             string
	Email          string
	PasswordHash   string
	HistoryPINHash string // empty until a history PIN is created
	CreatedAt      time.Time
}

// HasHistoryPIN reports whether a history PIN has been set for the account.
func (d *Doctor) HasHistoryPIN() bool {
	return d.HistoryPINHash != ""
}

// =============================================================================
// STORE
// =============================================================================

// schema is applied on every open; CREATE TABLE IF NOT EXISTS makes it
// idempotent across restarts.
const schema = `
CREATE TABLE IF NOT EXISTS doctors (
	id               TEXT PRIMARY KEY,
	email            TEXT NOT NULL UNIQUE,
	password_hash    TEXT NOT NULL,
	history_pin_hash TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_doctors_email ON doctors(email);
`

// Store persists doctor accounts in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the accounts database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	// PERFORMANCE: WAL allows concurrent readers during writes;
	// busy_timeout avoids spurious SQLITE_BUSY under contention.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// ACCOUNT OPERATIONS
// =============================================================================

// CreateDoctor inserts a new account and returns it with a generated ID.
// Email comparison is case-insensitive: the address is stored lowercased.
func (s *Store) CreateDoctor(ctx context.Context, email, passwordHash string) (*Doctor, error) {
	d := &Doctor{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(email),
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO doctors (id, email, password_hash, history_pin_hash, created_at)
		 VALUES (?, ?, ?, '', ?)`,
		d.ID, d.Email, d.PasswordHash, d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create doctor: %w", err)
	}

	return d, nil
}

// DoctorByEmail looks up an account by email address.
func (s *Store) DoctorByEmail(ctx context.Context, email string) (*Doctor, error) {
	return s.scanDoctor(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, history_pin_hash, created_at
		 FROM doctors WHERE email = ?`, normalizeEmail(email)))
}

// DoctorByID looks up an account by ID.
func (s *Store) DoctorByID(ctx context.Context, id string) (*Doctor, error) {
	return s.scanDoctor(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, history_pin_hash, created_at
		 FROM doctors WHERE id = ?`, id))
}

// SetHistoryPIN stores the bcrypt hash of the account's history PIN,
// replacing any previous one.
func (s *Store) SetHistoryPIN(ctx context.Context, doctorID, pinHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE doctors SET history_pin_hash = ? WHERE id = ?`, pinHash, doctorID)
	if err != nil {
		return fmt.Errorf("failed to set history PIN: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set history PIN: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (s *Store) scanDoctor(row *sql.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Email, &d.PasswordHash, &d.HistoryPINHash, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan doctor: %w", err)
	}
	return &d, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// isUniqueViolation detects a UNIQUE constraint failure without depending on
// driver-specific error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
