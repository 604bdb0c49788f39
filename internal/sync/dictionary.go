package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/medassist/medsync/internal/model"
	"github.com/medassist/medsync/internal/store"
)

// Per-table sync TTLs. A table whose checkpoint is older than its TTL (or
// missing) is due for a refresh on the next Run.
const (
	day = 24 * time.Hour

	ttlCountries       = 30 * day
	ttlAddressTypes    = 30 * day
	ttlStreetTypes     = 30 * day
	ttlDocumentTypes   = 30 * day
	ttlSettlementTypes = 30 * day
	ttlRegions         = 7 * day
	ttlDistricts       = 7 * day
	ttlSettlements     = 5 * day
	ttlCityDistricts   = 2 * day
)

// DictStats summarises one scheduler pass.
type DictStats struct {
	Run     int // jobs executed and committed
	Failed  int // jobs rolled back, checkpoint left stale
	Skipped int // jobs still within their TTL
}

// DictionarySync keeps the classification tables fresh without refetching
// on every call. Jobs are evaluated in a fixed order that places parent
// tables before their dependents (settlements reference regions, city
// districts reference settlements), even though checkpoints are
// independent per table.
type DictionarySync struct {
	source DictionarySource
	store  *store.Store
	log    *slog.Logger

	now func() time.Time // injectable for tests
}

// NewDictionarySync creates a DictionarySync.
func NewDictionarySync(source DictionarySource, st *store.Store, logger *slog.Logger) *DictionarySync {
	return &DictionarySync{
		source: source,
		store:  st,
		log:    logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// runState carries the per-run settlements cache. Fetching every
// settlement across all regions is expensive nested pagination, and up to
// three jobs need the result — it is built at most once per Run and
// discarded afterwards, never cached across runs.
type runState struct {
	settlements []model.Settlement
	loaded      bool
}

// dictJob is one TTL-gated fetch-and-upsert unit.
type dictJob struct {
	name string // checkpoint key
	ttl  time.Duration
	run  func(ctx context.Context, tx *store.Tx, rs *runState) error
}

// Run evaluates every configured table once. Each due job executes inside
// its own transaction; on success the checkpoint advances to now, on
// failure the transaction rolls back and the table stays due for the next
// Run — there is no in-process retry. Job failures are logged and do not
// stop the pass; the first error is returned for the caller's log.
func (d *DictionarySync) Run(ctx context.Context) (DictStats, error) {
	jobs := []dictJob{
		{"countries_last_sync", ttlCountries, d.syncCountries},
		{"address_types_last_sync", ttlAddressTypes, d.syncAddressTypes},
		{"street_types_last_sync", ttlStreetTypes, d.syncStreetTypes},
		{"document_types_last_sync", ttlDocumentTypes, d.syncDocumentTypes},
		{"settlement_types_last_sync", ttlSettlementTypes, d.syncSettlementTypes},
		{"regions_last_sync", ttlRegions, d.syncRegions},
		{"districts_last_sync", ttlDistricts, d.syncDistricts},
		{"settlements_last_sync", ttlSettlements, d.syncSettlements},
		{"city_districts_last_sync", ttlCityDistricts, d.syncCityDistricts},
	}

	var stats DictStats
	var firstErr error
	rs := &runState{}

	for _, job := range jobs {
		due, err := d.isDue(ctx, job)
		if err != nil {
			return stats, err
		}
		if !due {
			stats.Skipped++
			continue
		}

		d.log.Info("dictionary sync started", "job", job.name)
		err = d.store.WithTx(ctx, func(tx *store.Tx) error {
			if err := job.run(ctx, tx, rs); err != nil {
				return err
			}
			return tx.SetCheckpoint(ctx, job.name, d.now())
		})
		if err != nil {
			stats.Failed++
			d.log.Error("dictionary sync failed", "job", job.name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("job %s: %w", job.name, err)
			}
			continue
		}
		stats.Run++
		d.log.Info("dictionary sync finished", "job", job.name)
	}

	return stats, firstErr
}

// isDue reports whether a job's TTL window has elapsed. A missing or
// unparseable checkpoint counts as due.
func (d *DictionarySync) isDue(ctx context.Context, job dictJob) (bool, error) {
	last, ok, err := d.store.Checkpoint(ctx, job.name)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return d.now().Sub(last) >= job.ttl, nil
}

// cachedSettlements builds the run-scoped settlements cache on first use:
// an outer loop over all regions with inner pagination per region. A
// failure leaves the cache unloaded so the next dependent job retries.
func (d *DictionarySync) cachedSettlements(ctx context.Context, rs *runState) ([]model.Settlement, error) {
	if rs.loaded {
		return rs.settlements, nil
	}

	d.log.Info("loading all settlements across regions")
	regions, err := d.source.FetchRegions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching regions for settlements cache: %w", err)
	}

	var all []model.Settlement
	for _, region := range regions {
		if region.ID == 0 {
			continue
		}
		items, err := d.source.FetchAllSettlements(ctx, region.ID)
		if err != nil {
			return nil, fmt.Errorf("fetching settlements for region %d: %w", region.ID, err)
		}
		all = append(all, items...)
	}
	if len(all) == 0 {
		d.log.Warn("api returned no settlements")
	}

	rs.settlements = all
	rs.loaded = true
	return all, nil
}

func (d *DictionarySync) syncCountries(ctx context.Context, tx *store.Tx, _ *runState) error {
	items, err := d.source.FetchCountries(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		d.log.Warn("api returned no countries")
		return nil
	}
	return tx.UpsertCountries(ctx, items)
}

func (d *DictionarySync) syncAddressTypes(ctx context.Context, tx *store.Tx, _ *runState) error {
	items, err := d.source.FetchAddressTypes(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		d.log.Warn("api returned no address types")
		return nil
	}
	return tx.UpsertAddressTypes(ctx, items)
}

func (d *DictionarySync) syncStreetTypes(ctx context.Context, tx *store.Tx, _ *runState) error {
	items, err := d.source.FetchStreetTypes(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		d.log.Warn("api returned no street types")
		return nil
	}
	return tx.UpsertStreetTypes(ctx, items)
}

func (d *DictionarySync) syncDocumentTypes(ctx context.Context, tx *store.Tx, _ *runState) error {
	items, err := d.source.FetchDocumentTypes(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		d.log.Warn("api returned no document types")
		return nil
	}
	return tx.UpsertDocumentTypes(ctx, items)
}

func (d *DictionarySync) syncSettlementTypes(ctx context.Context, tx *store.Tx, rs *runState) error {
	settlements, err := d.cachedSettlements(ctx, rs)
	if err != nil {
		return err
	}
	if len(settlements) == 0 {
		return nil
	}
	return tx.UpsertSettlementTypes(ctx, settlements)
}

func (d *DictionarySync) syncRegions(ctx context.Context, tx *store.Tx, _ *runState) error {
	items, err := d.source.FetchRegions(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		d.log.Warn("api returned no regions")
		return nil
	}
	return tx.UpsertRegions(ctx, items)
}

func (d *DictionarySync) syncDistricts(ctx context.Context, tx *store.Tx, _ *runState) error {
	items, err := d.source.FetchDistricts(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		d.log.Warn("api returned no districts")
		return nil
	}
	return tx.UpsertDistricts(ctx, items)
}

func (d *DictionarySync) syncSettlements(ctx context.Context, tx *store.Tx, rs *runState) error {
	settlements, err := d.cachedSettlements(ctx, rs)
	if err != nil {
		return err
	}
	if len(settlements) == 0 {
		return nil
	}
	return tx.UpsertSettlements(ctx, settlements)
}

func (d *DictionarySync) syncCityDistricts(ctx context.Context, tx *store.Tx, rs *runState) error {
	settlements, err := d.cachedSettlements(ctx, rs)
	if err != nil {
		return err
	}
	for _, s := range settlements {
		if s.ID == 0 {
			continue
		}
		items, err := d.source.FetchCityDistricts(ctx, s.ID)
		if err != nil {
			return fmt.Errorf("fetching city districts for settlement %d: %w", s.ID, err)
		}
		if len(items) == 0 {
			continue
		}
		if err := tx.UpsertCityDistricts(ctx, items); err != nil {
			return err
		}
	}
	return nil
}
