package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Patient is one row of the identity table. The row is overwritten in
// place on every successful sync — history lives in the snapshot journal,
// not here.
type Patient struct {
	Health24ID    int64
	APIID         string
	PersonalityID string
	EmployeeID    *int64
	LastName      string
	FirstName     string
	SecondName    string
	BirthDate     string
	Gender        string
	UpdatedAt     time.Time
}

const upsertPatientSQL = `
	INSERT INTO patients (
	    health24_id, api_id, personality_id, employee_id,
	    last_name, first_name, second_name, birth_date, gender,
	    created_at, updated_at
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(health24_id) DO UPDATE SET
	    api_id         = excluded.api_id,
	    personality_id = excluded.personality_id,
	    employee_id    = excluded.employee_id,
	    last_name      = excluded.last_name,
	    first_name     = excluded.first_name,
	    second_name    = excluded.second_name,
	    birth_date     = excluded.birth_date,
	    gender         = excluded.gender,
	    updated_at     = excluded.updated_at`

func upsertPatient(ctx context.Context, q dbtx, p *Patient, now time.Time) error {
	if p.Health24ID == 0 {
		return fmt.Errorf("patient is missing health24_id")
	}
	if p.APIID == "" || p.PersonalityID == "" {
		return fmt.Errorf("patient %d is missing identity fields", p.Health24ID)
	}
	_, err := q.ExecContext(ctx, upsertPatientSQL,
		p.Health24ID,
		p.APIID,
		p.PersonalityID,
		nullInt64(p.EmployeeID),
		p.LastName,
		p.FirstName,
		p.SecondName,
		p.BirthDate,
		p.Gender,
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("upserting patient %d: %w", p.Health24ID, err)
	}
	return nil
}

// UpsertPatient writes the identity row outside any transaction. Used by
// the roster sync, where each row is an independent best-effort write.
func (s *Store) UpsertPatient(ctx context.Context, p *Patient) error {
	return upsertPatient(ctx, s.db, p, time.Now().UTC())
}

// UpsertPatient writes the identity row inside the transaction.
func (t *Tx) UpsertPatient(ctx context.Context, p *Patient, now time.Time) error {
	return upsertPatient(ctx, t.tx, p, now)
}

const selectPatientSQL = `
	SELECT health24_id, api_id, personality_id, employee_id,
	       last_name, first_name, second_name, birth_date, gender, updated_at
	FROM patients`

func scanPatient(sc scanner) (*Patient, error) {
	var p Patient
	var employeeID sql.NullInt64
	var updatedAt string

	err := sc.Scan(
		&p.Health24ID,
		&p.APIID,
		&p.PersonalityID,
		&employeeID,
		&p.LastName,
		&p.FirstName,
		&p.SecondName,
		&p.BirthDate,
		&p.Gender,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning patient row: %w", err)
	}

	if employeeID.Valid {
		v := employeeID.Int64
		p.EmployeeID = &v
	}
	p.UpdatedAt, _ = parseTime(updatedAt)
	return &p, nil
}

// GetPatient returns the identity row for the given patient,
// or (nil, nil) if no such row exists.
func (s *Store) GetPatient(ctx context.Context, health24ID int64) (*Patient, error) {
	row := s.db.QueryRowContext(ctx, selectPatientSQL+` WHERE health24_id = ?`, health24ID)
	return scanPatient(row)
}

// SearchFilter narrows and orders a patient search. Name fields match as
// case-insensitive prefixes.
type SearchFilter struct {
	LastName   string
	FirstName  string
	SecondName string
	EmployeeID *int64
	OrderBy    string // one of the allowed column names; default last_name
	Descending bool
}

// allowed ORDER BY targets, keyed by the caller-facing field name.
var searchOrderColumns = map[string]string{
	"health24_id": "health24_id",
	"last_name":   "last_name COLLATE NOCASE",
	"first_name":  "first_name COLLATE NOCASE",
	"second_name": "second_name COLLATE NOCASE",
	"birth_date":  "DATE(birth_date)",
	"gender":      "gender",
}

// SearchPatients returns identity rows matching the filter, for the
// read-side of the presentation layer.
func (s *Store) SearchPatients(ctx context.Context, f SearchFilter) ([]*Patient, error) {
	var sb strings.Builder
	sb.WriteString(selectPatientSQL)
	sb.WriteString(` WHERE 1 = 1`)

	var args []any
	if f.LastName != "" {
		sb.WriteString(` AND last_name LIKE ? COLLATE NOCASE`)
		args = append(args, f.LastName+"%")
	}
	if f.FirstName != "" {
		sb.WriteString(` AND first_name LIKE ? COLLATE NOCASE`)
		args = append(args, f.FirstName+"%")
	}
	if f.SecondName != "" {
		sb.WriteString(` AND second_name LIKE ? COLLATE NOCASE`)
		args = append(args, f.SecondName+"%")
	}
	if f.EmployeeID != nil {
		sb.WriteString(` AND employee_id = ?`)
		args = append(args, *f.EmployeeID)
	}

	orderCol, ok := searchOrderColumns[f.OrderBy]
	if !ok {
		orderCol = searchOrderColumns["last_name"]
	}
	direction := "ASC"
	if f.Descending {
		direction = "DESC"
	}
	fmt.Fprintf(&sb, " ORDER BY %s %s", orderCol, direction)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("searching patients: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

// --- snapshot journal --------------------------------------------------------

// AppendSnapshot stores one fetched document verbatim. The journal is
// append-only; rows are never mutated or deleted.
func (t *Tx) AppendSnapshot(ctx context.Context, health24ID int64, apiID string, doc []byte, now time.Time) error {
	const q = `
		INSERT INTO patient_snapshots (health24_id, api_id, doc, created_at)
		VALUES (?, ?, ?, ?)`
	if _, err := t.tx.ExecContext(ctx, q, health24ID, apiID, string(doc), formatTime(now)); err != nil {
		return fmt.Errorf("appending snapshot for patient %d: %w", health24ID, err)
	}
	return nil
}

// SnapshotExists reports whether any journal entry exists for the patient.
// This is the offline-fallback gate.
func (s *Store) SnapshotExists(ctx context.Context, health24ID int64) (bool, error) {
	const q = `SELECT 1 FROM patient_snapshots WHERE health24_id = ? LIMIT 1`
	var one int
	err := s.db.QueryRowContext(ctx, q, health24ID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking snapshots for patient %d: %w", health24ID, err)
	}
	return true, nil
}

// LatestSnapshot returns the newest stored document for the patient,
// or (nil, nil) when the journal has no entry.
func (s *Store) LatestSnapshot(ctx context.Context, health24ID int64) ([]byte, error) {
	const q = `
		SELECT doc FROM patient_snapshots
		WHERE health24_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	var doc string
	err := s.db.QueryRowContext(ctx, q, health24ID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest snapshot for patient %d: %w", health24ID, err)
	}
	return []byte(doc), nil
}

// SnapshotCount returns the number of journal rows for the patient.
func (s *Store) SnapshotCount(ctx context.Context, health24ID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM patient_snapshots WHERE health24_id = ?`, health24ID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting snapshots for patient %d: %w", health24ID, err)
	}
	return count, nil
}
