// Package store manages the SQLite database that caches health24 patient
// records, their versioned sub-entities, and the address classification
// dictionaries.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods; multi-step writes go through an
// explicit [*Tx] so one failed step rolls back the whole operation.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS patients (
    health24_id     INTEGER PRIMARY KEY,
    api_id          TEXT    NOT NULL,
    personality_id  TEXT    NOT NULL,
    employee_id     INTEGER,
    last_name       TEXT    NOT NULL,
    first_name      TEXT    NOT NULL,
    second_name     TEXT    NOT NULL DEFAULT '',
    birth_date      TEXT    NOT NULL DEFAULT '',
    gender          TEXT    NOT NULL DEFAULT '',
    created_at      TEXT    NOT NULL DEFAULT '',
    updated_at      TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_patients_last_name   ON patients (last_name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_patients_first_name  ON patients (first_name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_patients_second_name ON patients (second_name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_patients_employee_id ON patients (employee_id);
CREATE INDEX IF NOT EXISTS idx_patients_birth_date  ON patients (birth_date);

CREATE TABLE IF NOT EXISTS patient_snapshots (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    health24_id INTEGER NOT NULL,
    api_id      TEXT    NOT NULL,
    doc         TEXT    NOT NULL,
    created_at  TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_health24_id ON patient_snapshots (health24_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_created_at  ON patient_snapshots (created_at);

CREATE TABLE IF NOT EXISTS patient_phones (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    health24_id INTEGER NOT NULL,
    phone       TEXT    NOT NULL,
    type        TEXT    NOT NULL DEFAULT '',
    source      TEXT    NOT NULL DEFAULT '',
    is_active   INTEGER NOT NULL DEFAULT 0,
    valid_from  TEXT    NOT NULL,
    valid_to    TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_phones_patient       ON patient_phones (health24_id);
CREATE INDEX IF NOT EXISTS idx_phones_patient_phone ON patient_phones (health24_id, phone);

CREATE TABLE IF NOT EXISTS patient_addresses (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    health24_id      INTEGER NOT NULL,
    address_type_id  INTEGER,
    country_id       INTEGER,
    region_id        INTEGER,
    district_id      INTEGER,
    settlement_id    INTEGER,
    city_district_id INTEGER,
    street_type_id   INTEGER,
    street           TEXT    NOT NULL DEFAULT '',
    building         TEXT    NOT NULL DEFAULT '',
    apartment        TEXT    NOT NULL DEFAULT '',
    zip              TEXT    NOT NULL DEFAULT '',
    is_active        INTEGER NOT NULL DEFAULT 0,
    valid_from       TEXT    NOT NULL,
    valid_to         TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_addresses_patient ON patient_addresses (health24_id, is_active);

CREATE TABLE IF NOT EXISTS patient_documents (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    health24_id      INTEGER NOT NULL,
    document_type_id INTEGER NOT NULL DEFAULT 0,
    number           TEXT    NOT NULL DEFAULT '',
    issued_at        TEXT    NOT NULL DEFAULT '',
    expiration_date  TEXT    NOT NULL DEFAULT '',
    issued_by        TEXT    NOT NULL DEFAULT '',
    is_active        INTEGER NOT NULL DEFAULT 0,
    valid_from       TEXT    NOT NULL,
    valid_to         TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_documents_patient ON patient_documents (health24_id, is_active);

CREATE TABLE IF NOT EXISTS patient_medical_attributes (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    health24_id INTEGER NOT NULL,
    code        TEXT    NOT NULL,
    value       TEXT    NOT NULL DEFAULT '',
    is_active   INTEGER NOT NULL DEFAULT 0,
    valid_from  TEXT    NOT NULL,
    valid_to    TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_attributes_patient ON patient_medical_attributes (health24_id, is_active);

CREATE TABLE IF NOT EXISTS patient_declarations (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    health24_id    INTEGER NOT NULL,
    declaration_id INTEGER NOT NULL,
    employee_id    INTEGER,
    employee_name  TEXT    NOT NULL DEFAULT '',
    division_id    INTEGER,
    division_name  TEXT    NOT NULL DEFAULT '',
    start_date     TEXT    NOT NULL DEFAULT '',
    end_date       TEXT    NOT NULL DEFAULT '',
    number         TEXT    NOT NULL DEFAULT '',
    is_active      INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_declarations_patient ON patient_declarations (health24_id);
CREATE INDEX IF NOT EXISTS idx_declarations_id      ON patient_declarations (declaration_id);

CREATE TABLE IF NOT EXISTS countries (
    id    INTEGER PRIMARY KEY,
    code  TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS address_types (
    id    INTEGER PRIMARY KEY,
    code  TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS street_types (
    id    INTEGER PRIMARY KEY,
    code  TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS settlement_types (
    id    INTEGER PRIMARY KEY,
    code  TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS document_types (
    id    INTEGER PRIMARY KEY,
    code  TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS regions (
    id     INTEGER PRIMARY KEY,
    api_id TEXT NOT NULL DEFAULT '',
    koatuu TEXT NOT NULL DEFAULT '',
    title  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS districts (
    id        INTEGER PRIMARY KEY,
    api_id    TEXT NOT NULL DEFAULT '',
    koatuu    TEXT NOT NULL DEFAULT '',
    title     TEXT NOT NULL DEFAULT '',
    region_id INTEGER
);

CREATE TABLE IF NOT EXISTS settlements (
    id                   INTEGER PRIMARY KEY,
    api_id               TEXT NOT NULL DEFAULT '',
    koatuu               TEXT NOT NULL DEFAULT '',
    title                TEXT NOT NULL DEFAULT '',
    region_id            INTEGER,
    district_id          INTEGER,
    settlement_type_id   INTEGER,
    parent_settlement_id INTEGER
);

CREATE TABLE IF NOT EXISTS city_districts (
    id            INTEGER PRIMARY KEY,
    koatuu        TEXT NOT NULL DEFAULT '',
    title         TEXT NOT NULL DEFAULT '',
    settlement_id INTEGER
);

CREATE TABLE IF NOT EXISTS sync_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Store is the SQLite-backed local cache.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Tx is one explicit write transaction. Obtain it with [Store.Begin] and
// finish it with exactly one of Commit or Rollback.
type Tx struct {
	tx *sql.Tx
}

// Begin starts a write transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Safe to call after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// WithTx runs fn inside one transaction, committing on nil and rolling
// back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// dbtx is the querying surface shared by *sql.DB and *sql.Tx, so read
// helpers can serve both the store and an open transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scan helpers can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// nullInt64 converts an optional id to its SQL representation.
func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
