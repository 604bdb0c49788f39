package store

import (
	"context"
	"testing"
	"time"

	"github.com/medassist/medsync/internal/model"
)

func TestUpsertCountries_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	items := []model.Classifier{
		{ID: 1, Code: "UA", Title: "Україна"},
		{ID: 2, Code: "PL", Title: "Польща"},
	}
	inTx(t, s, func(tx *Tx) error {
		return tx.UpsertCountries(ctx, items)
	})

	// Second pass with a changed title updates, never duplicates.
	items[1].Title = "Республіка Польща"
	inTx(t, s, func(tx *Tx) error {
		return tx.UpsertCountries(ctx, items)
	})

	n, err := s.CountRows(ctx, "countries")
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if n != 2 {
		t.Errorf("countries rows = %d, want 2", n)
	}

	title, err := s.ClassifierTitle(ctx, "countries", 2)
	if err != nil {
		t.Fatalf("ClassifierTitle: %v", err)
	}
	if title != "Республіка Польща" {
		t.Errorf("title = %q", title)
	}
}

func TestUpsertSettlementTypes_DerivedAndDeduped(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	city := &model.Classifier{ID: 1, Code: "CITY", Title: "місто"}
	village := &model.Classifier{ID: 2, Code: "VILLAGE", Title: "село"}
	settlements := []model.Settlement{
		{ID: 10, Title: "Київ", SettlementType: city},
		{ID: 11, Title: "Львів", SettlementType: city},
		{ID: 12, Title: "Пирогів", SettlementType: village},
		{ID: 13, Title: "Безтипне"}, // no type — skipped
	}

	inTx(t, s, func(tx *Tx) error {
		return tx.UpsertSettlementTypes(ctx, settlements)
	})

	n, err := s.CountRows(ctx, "settlement_types")
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if n != 2 {
		t.Errorf("settlement_types rows = %d, want 2", n)
	}
}

func TestUpsertSettlements_FlattensNestedRefs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	parent := int64(99)
	inTx(t, s, func(tx *Tx) error {
		return tx.UpsertSettlements(ctx, []model.Settlement{
			{
				ID:                 10,
				Koatuu:             "8000000000",
				Title:              "Київ",
				Region:             &model.SettlementRef{ID: 3},
				District:           &model.SettlementRef{ID: 4},
				SettlementType:     &model.Classifier{ID: 1},
				ParentSettlementID: &parent,
			},
			{ID: 11, Title: "Самітне"}, // all refs absent
		})
	})

	title, err := s.ClassifierTitle(ctx, "settlements", 10)
	if err != nil {
		t.Fatalf("ClassifierTitle: %v", err)
	}
	if title != "Київ" {
		t.Errorf("title = %q", title)
	}
	n, err := s.CountRows(ctx, "settlements")
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if n != 2 {
		t.Errorf("settlements rows = %d, want 2", n)
	}
}

func TestUpsertRegionsAndDistricts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	regionID := int64(3)
	inTx(t, s, func(tx *Tx) error {
		if err := tx.UpsertRegions(ctx, []model.Region{
			{ID: 3, APIID: "r-3", Koatuu: "0500000000", Title: "Вінницька"},
		}); err != nil {
			return err
		}
		return tx.UpsertDistricts(ctx, []model.District{
			{ID: 40, Title: "Вінницький", RegionID: &regionID},
			{ID: 41, Title: "Без області"},
		})
	})

	if title, _ := s.ClassifierTitle(ctx, "regions", 3); title != "Вінницька" {
		t.Errorf("region title = %q", title)
	}
	if n, _ := s.CountRows(ctx, "districts"); n != 2 {
		t.Errorf("districts rows = %d, want 2", n)
	}
}

func TestClassifierTitle_UnknownIDAndTable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	title, err := s.ClassifierTitle(ctx, "countries", 404)
	if err != nil {
		t.Fatalf("ClassifierTitle: %v", err)
	}
	if title != "" {
		t.Errorf("title = %q, want empty for unknown id", title)
	}

	if _, err := s.ClassifierTitle(ctx, "patients; --", 1); err == nil {
		t.Error("expected error for table outside allow-list")
	}
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Checkpoint(ctx, "countries_last_sync")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if ok {
		t.Fatal("checkpoint present on fresh store")
	}

	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	inTx(t, s, func(tx *Tx) error {
		return tx.SetCheckpoint(ctx, "countries_last_sync", ts)
	})

	got, ok, err := s.Checkpoint(ctx, "countries_last_sync")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if !ok || !got.Equal(ts) {
		t.Errorf("Checkpoint = (%v, %v), want (%v, true)", got, ok, ts)
	}
}

func TestCheckpoint_Overwrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	t1 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)
	inTx(t, s, func(tx *Tx) error {
		return tx.SetCheckpoint(ctx, "regions_last_sync", t1)
	})
	inTx(t, s, func(tx *Tx) error {
		return tx.SetCheckpoint(ctx, "regions_last_sync", t2)
	})

	got, ok, err := s.Checkpoint(ctx, "regions_last_sync")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if !ok || !got.Equal(t2) {
		t.Errorf("Checkpoint = (%v, %v), want latest write", got, ok)
	}
}

func TestCheckpoint_UnparseableValueMeansDue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// A corrupted value must read as "no checkpoint", not an error.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_meta (key, value) VALUES ('districts_last_sync', 'not-a-time')`)
	if err != nil {
		t.Fatalf("seeding corrupt value: %v", err)
	}

	_, ok, err := s.Checkpoint(ctx, "districts_last_sync")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if ok {
		t.Error("corrupt checkpoint reported as valid")
	}
}
