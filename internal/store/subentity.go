package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/medassist/medsync/internal/model"
)

// --- phones ------------------------------------------------------------------

// Phone is one row of the phone history table.
type Phone struct {
	ID        int64
	Number    string
	Type      string
	Source    string
	Active    bool
	ValidFrom time.Time
	ValidTo   time.Time
}

// PhoneExists reports whether the patient already has a row with this
// exact number, active or not. Rows inserted earlier in the same
// transaction are visible, so in-pass duplicates dedupe naturally.
func (t *Tx) PhoneExists(ctx context.Context, health24ID int64, number string) (bool, error) {
	const q = `SELECT 1 FROM patient_phones WHERE health24_id = ? AND phone = ? LIMIT 1`
	var one int
	err := t.tx.QueryRowContext(ctx, q, health24ID, number).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking phone %q for patient %d: %w", number, health24ID, err)
	}
	return true, nil
}

// InsertPhone records a newly observed phone number as inactive; the
// single active row is elected afterwards by [Tx.ActivateLatestPhone].
func (t *Tx) InsertPhone(ctx context.Context, health24ID int64, number, phoneType, source string, now time.Time) error {
	const q = `
		INSERT INTO patient_phones (health24_id, phone, type, source, is_active, valid_from)
		VALUES (?, ?, ?, ?, 0, ?)`
	if _, err := t.tx.ExecContext(ctx, q, health24ID, number, phoneType, source, formatTime(now)); err != nil {
		return fmt.Errorf("inserting phone %q for patient %d: %w", number, health24ID, err)
	}
	return nil
}

// ActivateLatestPhone deactivates every phone row of the patient and then
// activates only the most recently inserted one (greatest valid_from,
// highest id breaking ties). At most one phone is active per patient.
func (t *Tx) ActivateLatestPhone(ctx context.Context, health24ID int64) error {
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE patient_phones SET is_active = 0 WHERE health24_id = ?`, health24ID); err != nil {
		return fmt.Errorf("deactivating phones for patient %d: %w", health24ID, err)
	}

	const q = `
		UPDATE patient_phones
		SET is_active = 1
		WHERE id = (
		    SELECT id FROM patient_phones
		    WHERE health24_id = ?
		    ORDER BY valid_from DESC, id DESC
		    LIMIT 1
		)`
	if _, err := t.tx.ExecContext(ctx, q, health24ID); err != nil {
		return fmt.Errorf("activating latest phone for patient %d: %w", health24ID, err)
	}
	return nil
}

// Phones returns the patient's phone history, oldest first.
func (s *Store) Phones(ctx context.Context, health24ID int64) ([]Phone, error) {
	const q = `
		SELECT id, phone, type, source, is_active, valid_from, valid_to
		FROM patient_phones
		WHERE health24_id = ?
		ORDER BY valid_from ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, q, health24ID)
	if err != nil {
		return nil, fmt.Errorf("querying phones for patient %d: %w", health24ID, err)
	}
	defer func() { _ = rows.Close() }()

	var phones []Phone
	for rows.Next() {
		var p Phone
		var active int
		var validFrom, validTo string
		if err := rows.Scan(&p.ID, &p.Number, &p.Type, &p.Source, &active, &validFrom, &validTo); err != nil {
			return nil, fmt.Errorf("scanning phone row: %w", err)
		}
		p.Active = active != 0
		p.ValidFrom, _ = parseTime(validFrom)
		p.ValidTo, _ = parseTime(validTo)
		phones = append(phones, p)
	}
	return phones, rows.Err()
}

// --- addresses ---------------------------------------------------------------

// AddressRow is one row of the address history table.
type AddressRow struct {
	ID             int64
	AddressTypeID  *int64
	CountryID      *int64
	RegionID       *int64
	DistrictID     *int64
	SettlementID   *int64
	CityDistrictID *int64
	StreetTypeID   *int64
	Street         string
	Building       string
	Apartment      string
	Zip            string
	Active         bool
	ValidFrom      time.Time
	ValidTo        time.Time
}

// DeactivateActiveAddresses closes out every currently active address,
// stamping valid_to. The follow-up inserts replace the whole active set.
func (t *Tx) DeactivateActiveAddresses(ctx context.Context, health24ID int64, now time.Time) error {
	const q = `
		UPDATE patient_addresses
		SET is_active = 0, valid_to = ?
		WHERE health24_id = ? AND is_active = 1`
	if _, err := t.tx.ExecContext(ctx, q, formatTime(now), health24ID); err != nil {
		return fmt.Errorf("deactivating addresses for patient %d: %w", health24ID, err)
	}
	return nil
}

// InsertAddress stores one document address as newly active.
func (t *Tx) InsertAddress(ctx context.Context, health24ID int64, a model.Address, now time.Time) error {
	const q = `
		INSERT INTO patient_addresses (
		    health24_id, address_type_id, country_id, region_id, district_id,
		    settlement_id, city_district_id, street_type_id,
		    street, building, apartment, zip,
		    is_active, valid_from
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`
	_, err := t.tx.ExecContext(ctx, q,
		health24ID,
		nullInt64(a.AddressTypeID),
		nullInt64(a.CountryID),
		nullInt64(a.RegionID),
		nullInt64(a.DistrictID),
		nullInt64(a.SettlementID),
		nullInt64(a.CityDistrictID),
		nullInt64(a.StreetTypeID),
		a.Street,
		a.Building,
		a.Apartment,
		a.Zip,
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("inserting address for patient %d: %w", health24ID, err)
	}
	return nil
}

// ActiveAddresses returns the patient's currently active addresses,
// newest first.
func (s *Store) ActiveAddresses(ctx context.Context, health24ID int64) ([]AddressRow, error) {
	const q = `
		SELECT id, address_type_id, country_id, region_id, district_id,
		       settlement_id, city_district_id, street_type_id,
		       street, building, apartment, zip, is_active, valid_from, valid_to
		FROM patient_addresses
		WHERE health24_id = ? AND is_active = 1
		ORDER BY valid_from DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, q, health24ID)
	if err != nil {
		return nil, fmt.Errorf("querying addresses for patient %d: %w", health24ID, err)
	}
	defer func() { _ = rows.Close() }()

	var addrs []AddressRow
	for rows.Next() {
		var a AddressRow
		var ids [7]sql.NullInt64
		var active int
		var validFrom, validTo string
		err := rows.Scan(&a.ID, &ids[0], &ids[1], &ids[2], &ids[3], &ids[4], &ids[5], &ids[6],
			&a.Street, &a.Building, &a.Apartment, &a.Zip, &active, &validFrom, &validTo)
		if err != nil {
			return nil, fmt.Errorf("scanning address row: %w", err)
		}
		targets := []**int64{
			&a.AddressTypeID, &a.CountryID, &a.RegionID, &a.DistrictID,
			&a.SettlementID, &a.CityDistrictID, &a.StreetTypeID,
		}
		for i, id := range ids {
			if id.Valid {
				v := id.Int64
				*targets[i] = &v
			}
		}
		a.Active = active != 0
		a.ValidFrom, _ = parseTime(validFrom)
		a.ValidTo, _ = parseTime(validTo)
		addrs = append(addrs, a)
	}
	return addrs, rows.Err()
}

// --- documents ---------------------------------------------------------------

// DocumentKey is the natural identity of an identity document. Absent
// fields are normalised to their zero values so set comparison is exact.
type DocumentKey struct {
	TypeID         int64
	Number         string
	IssuedAt       string
	ExpirationDate string
	IssuedBy       string
}

// DocumentRow is one row of the document history table.
type DocumentRow struct {
	ID     int64
	Key    DocumentKey
	Active bool
}

// DocumentTypeIDByCode resolves a document type classifier code to its id.
func (t *Tx) DocumentTypeIDByCode(ctx context.Context, code string) (int64, bool, error) {
	const q = `SELECT id FROM document_types WHERE code = ?`
	var id int64
	err := t.tx.QueryRowContext(ctx, q, code).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolving document type %q: %w", code, err)
	}
	return id, true, nil
}

// ActiveDocumentExists reports whether an active row with this exact key
// is already present for the patient.
func (t *Tx) ActiveDocumentExists(ctx context.Context, health24ID int64, k DocumentKey) (bool, error) {
	const q = `
		SELECT 1 FROM patient_documents
		WHERE health24_id = ? AND document_type_id = ? AND number = ?
		  AND issued_at = ? AND expiration_date = ? AND issued_by = ?
		  AND is_active = 1
		LIMIT 1`
	var one int
	err := t.tx.QueryRowContext(ctx, q,
		health24ID, k.TypeID, k.Number, k.IssuedAt, k.ExpirationDate, k.IssuedBy).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking document for patient %d: %w", health24ID, err)
	}
	return true, nil
}

// InsertDocument stores one identity document as newly active.
func (t *Tx) InsertDocument(ctx context.Context, health24ID int64, k DocumentKey, now time.Time) error {
	const q = `
		INSERT INTO patient_documents (
		    health24_id, document_type_id, number, issued_at, expiration_date, issued_by,
		    is_active, valid_from
		)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)`
	_, err := t.tx.ExecContext(ctx, q,
		health24ID, k.TypeID, k.Number, k.IssuedAt, k.ExpirationDate, k.IssuedBy, formatTime(now))
	if err != nil {
		return fmt.Errorf("inserting document for patient %d: %w", health24ID, err)
	}
	return nil
}

// DeactivateDocumentsExcept closes out every active document whose key is
// not in keep. An empty keep set deactivates all active rows — the branch
// is explicit rather than an emergent property of the generated SQL.
func (t *Tx) DeactivateDocumentsExcept(ctx context.Context, health24ID int64, keep []DocumentKey, now time.Time) error {
	if len(keep) == 0 {
		const q = `
			UPDATE patient_documents
			SET is_active = 0, valid_to = ?
			WHERE health24_id = ? AND is_active = 1`
		if _, err := t.tx.ExecContext(ctx, q, formatTime(now), health24ID); err != nil {
			return fmt.Errorf("deactivating documents for patient %d: %w", health24ID, err)
		}
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("(?,?,?,?,?),", len(keep)), ",")
	q := fmt.Sprintf(`
		UPDATE patient_documents
		SET is_active = 0, valid_to = ?
		WHERE health24_id = ? AND is_active = 1
		  AND (document_type_id, number, issued_at, expiration_date, issued_by)
		      NOT IN (VALUES %s)`, placeholders)

	args := make([]any, 0, 2+len(keep)*5)
	args = append(args, formatTime(now), health24ID)
	for _, k := range keep {
		args = append(args, k.TypeID, k.Number, k.IssuedAt, k.ExpirationDate, k.IssuedBy)
	}
	if _, err := t.tx.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("deactivating stale documents for patient %d: %w", health24ID, err)
	}
	return nil
}

// ActiveDocuments returns the patient's currently active document keys.
func (s *Store) ActiveDocuments(ctx context.Context, health24ID int64) ([]DocumentRow, error) {
	const q = `
		SELECT id, document_type_id, number, issued_at, expiration_date, issued_by, is_active
		FROM patient_documents
		WHERE health24_id = ? AND is_active = 1
		ORDER BY issued_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, q, health24ID)
	if err != nil {
		return nil, fmt.Errorf("querying documents for patient %d: %w", health24ID, err)
	}
	defer func() { _ = rows.Close() }()

	var docs []DocumentRow
	for rows.Next() {
		var d DocumentRow
		var active int
		err := rows.Scan(&d.ID, &d.Key.TypeID, &d.Key.Number, &d.Key.IssuedAt,
			&d.Key.ExpirationDate, &d.Key.IssuedBy, &active)
		if err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		d.Active = active != 0
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// --- medical attributes ------------------------------------------------------

// AttributeKey is the natural identity of a medical attribute.
type AttributeKey struct {
	Code  string
	Value string
}

// ActiveAttributeExists reports whether an active row with this key is
// already present for the patient.
func (t *Tx) ActiveAttributeExists(ctx context.Context, health24ID int64, k AttributeKey) (bool, error) {
	const q = `
		SELECT 1 FROM patient_medical_attributes
		WHERE health24_id = ? AND code = ? AND value = ? AND is_active = 1
		LIMIT 1`
	var one int
	err := t.tx.QueryRowContext(ctx, q, health24ID, k.Code, k.Value).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking attribute for patient %d: %w", health24ID, err)
	}
	return true, nil
}

// InsertMedicalAttribute stores one attribute observation as newly active.
func (t *Tx) InsertMedicalAttribute(ctx context.Context, health24ID int64, k AttributeKey, now time.Time) error {
	const q = `
		INSERT INTO patient_medical_attributes (health24_id, code, value, is_active, valid_from)
		VALUES (?, ?, ?, 1, ?)`
	if _, err := t.tx.ExecContext(ctx, q, health24ID, k.Code, k.Value, formatTime(now)); err != nil {
		return fmt.Errorf("inserting attribute for patient %d: %w", health24ID, err)
	}
	return nil
}

// DeactivateAttributesExcept closes out every active attribute whose
// (code, value) pair is not in keep; empty keep deactivates all.
func (t *Tx) DeactivateAttributesExcept(ctx context.Context, health24ID int64, keep []AttributeKey, now time.Time) error {
	if len(keep) == 0 {
		const q = `
			UPDATE patient_medical_attributes
			SET is_active = 0, valid_to = ?
			WHERE health24_id = ? AND is_active = 1`
		if _, err := t.tx.ExecContext(ctx, q, formatTime(now), health24ID); err != nil {
			return fmt.Errorf("deactivating attributes for patient %d: %w", health24ID, err)
		}
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("(?,?),", len(keep)), ",")
	q := fmt.Sprintf(`
		UPDATE patient_medical_attributes
		SET is_active = 0, valid_to = ?
		WHERE health24_id = ? AND is_active = 1
		  AND (code, value) NOT IN (VALUES %s)`, placeholders)

	args := make([]any, 0, 2+len(keep)*2)
	args = append(args, formatTime(now), health24ID)
	for _, k := range keep {
		args = append(args, k.Code, k.Value)
	}
	if _, err := t.tx.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("deactivating stale attributes for patient %d: %w", health24ID, err)
	}
	return nil
}

// ActiveMedicalAttributes returns the patient's currently active
// attribute keys.
func (s *Store) ActiveMedicalAttributes(ctx context.Context, health24ID int64) ([]AttributeKey, error) {
	const q = `
		SELECT code, value FROM patient_medical_attributes
		WHERE health24_id = ? AND is_active = 1
		ORDER BY code ASC, value ASC`
	rows, err := s.db.QueryContext(ctx, q, health24ID)
	if err != nil {
		return nil, fmt.Errorf("querying attributes for patient %d: %w", health24ID, err)
	}
	defer func() { _ = rows.Close() }()

	var keys []AttributeKey
	for rows.Next() {
		var k AttributeKey
		if err := rows.Scan(&k.Code, &k.Value); err != nil {
			return nil, fmt.Errorf("scanning attribute row: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- declarations ------------------------------------------------------------

// DeclarationRow is one row of the declaration history table.
type DeclarationRow struct {
	ID            int64
	DeclarationID int64
	EmployeeID    *int64
	EmployeeName  string
	DivisionID    *int64
	DivisionName  string
	StartDate     string
	EndDate       string
	Number        string
	Active        bool
}

// DeclarationExistsForPatient reports whether this declaration id is
// already stored for this patient. The same upstream declaration id
// attached to a different patient must not update that patient's
// history, so the check is patient-scoped.
func (t *Tx) DeclarationExistsForPatient(ctx context.Context, declarationID, health24ID int64) (bool, error) {
	const q = `
		SELECT 1 FROM patient_declarations
		WHERE declaration_id = ? AND health24_id = ?
		LIMIT 1`
	var one int
	err := t.tx.QueryRowContext(ctx, q, declarationID, health24ID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking declaration %d: %w", declarationID, err)
	}
	return true, nil
}

func declarationFields(d *model.Declaration) (employeeID any, employeeName string, divisionID any, divisionName string) {
	if d.Employee != nil {
		if d.Employee.ID != 0 {
			employeeID = d.Employee.ID
		}
		employeeName = d.Employee.Name
		if d.Employee.Division != nil {
			if d.Employee.Division.ID != 0 {
				divisionID = d.Employee.Division.ID
			}
			divisionName = d.Employee.Division.Name
		}
	}
	return
}

// UpdateDeclaration refreshes the mutable fields of a known declaration in
// place, without touching is_active.
func (t *Tx) UpdateDeclaration(ctx context.Context, health24ID int64, d *model.Declaration) error {
	employeeID, employeeName, divisionID, divisionName := declarationFields(d)
	const q = `
		UPDATE patient_declarations
		SET employee_id   = ?,
		    employee_name = ?,
		    division_id   = ?,
		    division_name = ?,
		    start_date    = ?,
		    end_date      = ?,
		    number        = ?
		WHERE declaration_id = ? AND health24_id = ?`
	_, err := t.tx.ExecContext(ctx, q,
		employeeID, employeeName, divisionID, divisionName,
		d.StartDate, d.EndDate, d.Number,
		d.ID, health24ID)
	if err != nil {
		return fmt.Errorf("updating declaration %d: %w", d.ID, err)
	}
	return nil
}

// DeactivateActiveDeclarations closes out the patient's active
// declarations, stamping end_date.
func (t *Tx) DeactivateActiveDeclarations(ctx context.Context, health24ID int64, now time.Time) error {
	const q = `
		UPDATE patient_declarations
		SET is_active = 0, end_date = ?
		WHERE health24_id = ? AND is_active = 1`
	if _, err := t.tx.ExecContext(ctx, q, formatTime(now), health24ID); err != nil {
		return fmt.Errorf("deactivating declarations for patient %d: %w", health24ID, err)
	}
	return nil
}

// InsertDeclaration stores a declaration as the patient's active one.
func (t *Tx) InsertDeclaration(ctx context.Context, health24ID int64, d *model.Declaration) error {
	employeeID, employeeName, divisionID, divisionName := declarationFields(d)
	const q = `
		INSERT INTO patient_declarations (
		    health24_id, declaration_id, employee_id, employee_name,
		    division_id, division_name, start_date, end_date, number, is_active
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`
	_, err := t.tx.ExecContext(ctx, q,
		health24ID, d.ID, employeeID, employeeName,
		divisionID, divisionName, d.StartDate, d.EndDate, d.Number)
	if err != nil {
		return fmt.Errorf("inserting declaration %d for patient %d: %w", d.ID, health24ID, err)
	}
	return nil
}

// Declarations returns the patient's declaration history, active first,
// then newest start date.
func (s *Store) Declarations(ctx context.Context, health24ID int64) ([]DeclarationRow, error) {
	const q = `
		SELECT id, declaration_id, employee_id, employee_name,
		       division_id, division_name, start_date, end_date, number, is_active
		FROM patient_declarations
		WHERE health24_id = ?
		ORDER BY is_active DESC, start_date DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, q, health24ID)
	if err != nil {
		return nil, fmt.Errorf("querying declarations for patient %d: %w", health24ID, err)
	}
	defer func() { _ = rows.Close() }()

	var decls []DeclarationRow
	for rows.Next() {
		var d DeclarationRow
		var employeeID, divisionID sql.NullInt64
		var active int
		err := rows.Scan(&d.ID, &d.DeclarationID, &employeeID, &d.EmployeeName,
			&divisionID, &d.DivisionName, &d.StartDate, &d.EndDate, &d.Number, &active)
		if err != nil {
			return nil, fmt.Errorf("scanning declaration row: %w", err)
		}
		if employeeID.Valid {
			v := employeeID.Int64
			d.EmployeeID = &v
		}
		if divisionID.Valid {
			v := divisionID.Int64
			d.DivisionID = &v
		}
		d.Active = active != 0
		decls = append(decls, d)
	}
	return decls, rows.Err()
}

// LatestDeclaration returns the patient's most relevant declaration row,
// or (nil, nil) when none is stored.
func (s *Store) LatestDeclaration(ctx context.Context, health24ID int64) (*DeclarationRow, error) {
	decls, err := s.Declarations(ctx, health24ID)
	if err != nil {
		return nil, err
	}
	if len(decls) == 0 {
		return nil, nil
	}
	return &decls[0], nil
}
