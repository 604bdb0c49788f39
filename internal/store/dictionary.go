package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/medassist/medsync/internal/model"
)

// upsertClassifier writes one flat (id, code, title) reference table.
// Rows are idempotent upserts keyed by the externally assigned id.
func (t *Tx) upsertClassifier(ctx context.Context, table string, items []model.Classifier) error {
	q := fmt.Sprintf(`
		INSERT INTO %s (id, code, title)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    code  = excluded.code,
		    title = excluded.title`, table)
	for _, it := range items {
		if _, err := t.tx.ExecContext(ctx, q, it.ID, it.Code, it.Title); err != nil {
			return fmt.Errorf("upserting %s id=%d: %w", table, it.ID, err)
		}
	}
	return nil
}

// UpsertCountries writes the countries classifier.
func (t *Tx) UpsertCountries(ctx context.Context, items []model.Classifier) error {
	return t.upsertClassifier(ctx, "countries", items)
}

// UpsertAddressTypes writes the address types classifier.
func (t *Tx) UpsertAddressTypes(ctx context.Context, items []model.Classifier) error {
	return t.upsertClassifier(ctx, "address_types", items)
}

// UpsertStreetTypes writes the street types classifier.
func (t *Tx) UpsertStreetTypes(ctx context.Context, items []model.Classifier) error {
	return t.upsertClassifier(ctx, "street_types", items)
}

// UpsertDocumentTypes writes the document types classifier.
func (t *Tx) UpsertDocumentTypes(ctx context.Context, items []model.Classifier) error {
	return t.upsertClassifier(ctx, "document_types", items)
}

// UpsertSettlementTypes derives the settlement types classifier from the
// full settlement list — the upstream has no standalone endpoint for it.
func (t *Tx) UpsertSettlementTypes(ctx context.Context, settlements []model.Settlement) error {
	seen := make(map[int64]bool)
	var items []model.Classifier
	for _, s := range settlements {
		st := s.SettlementType
		if st == nil || st.ID == 0 || seen[st.ID] {
			continue
		}
		seen[st.ID] = true
		items = append(items, *st)
	}
	return t.upsertClassifier(ctx, "settlement_types", items)
}

// UpsertRegions writes the regions table.
func (t *Tx) UpsertRegions(ctx context.Context, items []model.Region) error {
	const q = `
		INSERT INTO regions (id, api_id, koatuu, title)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    api_id = excluded.api_id,
		    koatuu = excluded.koatuu,
		    title  = excluded.title`
	for _, it := range items {
		if _, err := t.tx.ExecContext(ctx, q, it.ID, it.APIID, it.Koatuu, it.Title); err != nil {
			return fmt.Errorf("upserting region id=%d: %w", it.ID, err)
		}
	}
	return nil
}

// UpsertDistricts writes the districts table.
func (t *Tx) UpsertDistricts(ctx context.Context, items []model.District) error {
	const q = `
		INSERT INTO districts (id, api_id, koatuu, title, region_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    api_id    = excluded.api_id,
		    koatuu    = excluded.koatuu,
		    title     = excluded.title,
		    region_id = excluded.region_id`
	for _, it := range items {
		if _, err := t.tx.ExecContext(ctx, q, it.ID, it.APIID, it.Koatuu, it.Title, nullInt64(it.RegionID)); err != nil {
			return fmt.Errorf("upserting district id=%d: %w", it.ID, err)
		}
	}
	return nil
}

// UpsertSettlements writes the settlements table, flattening the nested
// region, district, and settlement type references.
func (t *Tx) UpsertSettlements(ctx context.Context, items []model.Settlement) error {
	const q = `
		INSERT INTO settlements (
		    id, api_id, koatuu, title,
		    region_id, district_id, settlement_type_id, parent_settlement_id
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    api_id               = excluded.api_id,
		    koatuu               = excluded.koatuu,
		    title                = excluded.title,
		    region_id            = excluded.region_id,
		    district_id          = excluded.district_id,
		    settlement_type_id   = excluded.settlement_type_id,
		    parent_settlement_id = excluded.parent_settlement_id`
	for _, it := range items {
		var regionID, districtID, typeID any
		if it.Region != nil && it.Region.ID != 0 {
			regionID = it.Region.ID
		}
		if it.District != nil && it.District.ID != 0 {
			districtID = it.District.ID
		}
		if it.SettlementType != nil && it.SettlementType.ID != 0 {
			typeID = it.SettlementType.ID
		}
		_, err := t.tx.ExecContext(ctx, q,
			it.ID, it.APIID, it.Koatuu, it.Title,
			regionID, districtID, typeID, nullInt64(it.ParentSettlementID))
		if err != nil {
			return fmt.Errorf("upserting settlement id=%d: %w", it.ID, err)
		}
	}
	return nil
}

// UpsertCityDistricts writes the city districts table.
func (t *Tx) UpsertCityDistricts(ctx context.Context, items []model.CityDistrict) error {
	const q = `
		INSERT INTO city_districts (id, koatuu, title, settlement_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    koatuu        = excluded.koatuu,
		    title         = excluded.title,
		    settlement_id = excluded.settlement_id`
	for _, it := range items {
		if _, err := t.tx.ExecContext(ctx, q, it.ID, it.Koatuu, it.Title, nullInt64(it.SettlementID)); err != nil {
			return fmt.Errorf("upserting city district id=%d: %w", it.ID, err)
		}
	}
	return nil
}

// ClassifierTitle resolves the title of a flat reference-table entry for
// read-side display. Returns ("", nil) when the id is unknown.
func (s *Store) ClassifierTitle(ctx context.Context, table string, id int64) (string, error) {
	switch table {
	case "countries", "address_types", "street_types", "settlement_types",
		"document_types", "regions", "districts", "settlements", "city_districts":
	default:
		return "", fmt.Errorf("unknown classifier table %q", table)
	}
	var title string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT title FROM %s WHERE id = ?`, table), id).Scan(&title)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolving %s id=%d: %w", table, id, err)
	}
	return title, nil
}

// CountRows returns the row count of a known table, for status display.
func (s *Store) CountRows(ctx context.Context, table string) (int, error) {
	switch table {
	case "countries", "address_types", "street_types", "settlement_types",
		"document_types", "regions", "districts", "settlements", "city_districts",
		"patients", "patient_snapshots":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return count, nil
}

// --- sync checkpoints --------------------------------------------------------

// Checkpoint returns the last successful completion time of the named sync
// job. The second return value is false when no checkpoint exists or the
// stored value does not parse — both mean the job is due.
func (s *Store) Checkpoint(ctx context.Context, job string) (time.Time, bool, error) {
	const q = `SELECT value FROM sync_meta WHERE key = ?`
	var value string
	err := s.db.QueryRowContext(ctx, q, job).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading checkpoint %q: %w", job, err)
	}
	ts, err := parseTime(value)
	if err != nil || ts.IsZero() {
		return time.Time{}, false, nil
	}
	return ts, true, nil
}

// SetCheckpoint records the completion time of the named sync job inside
// the job's own transaction, so a rollback also discards the checkpoint.
func (t *Tx) SetCheckpoint(ctx context.Context, job string, ts time.Time) error {
	const q = `
		INSERT INTO sync_meta (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := t.tx.ExecContext(ctx, q, job, formatTime(ts)); err != nil {
		return fmt.Errorf("writing checkpoint %q: %w", job, err)
	}
	return nil
}
