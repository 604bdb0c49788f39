package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/medassist/medsync/internal/store"
)

// Load failure taxonomy. Callers must keep "offline, possibly stale data"
// (a nil return after a failed fetch) distinguishable from "no data at
// all" (ErrAPIUnavailable) — they map to different user-facing messaging.
var (
	// ErrAPIUnavailable means the remote fetch failed and no cached
	// snapshot exists for the patient. The underlying fetch error is
	// attached as context.
	ErrAPIUnavailable = errors.New("api unavailable and no cached patient data")

	// ErrSyncFailed means the fetch succeeded but reconciliation failed;
	// the transaction was rolled back and the store is unchanged.
	ErrSyncFailed = errors.New("patient sync failed")
)

// Loader orchestrates one patient load: remote fetch first, offline
// fallback second. It borrows the source and store handles for the
// duration of one call and performs no retries of its own.
type Loader struct {
	source     PatientSource
	store      *store.Store
	reconciler *Reconciler
	log        *slog.Logger

	now func() time.Time // injectable for tests
}

// NewLoader creates a Loader wired to the given source and store.
func NewLoader(source PatientSource, st *store.Store, logger *slog.Logger) *Loader {
	return &Loader{
		source:     source,
		store:      st,
		reconciler: NewReconciler(logger),
		log:        logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Load fetches the patient from the API and reconciles the document into
// the store inside one transaction. Exactly one remote attempt is made:
// on fetch failure the call succeeds silently when a cached snapshot
// exists (the caller then reads possibly-stale data from the store), and
// fails with [ErrAPIUnavailable] when it does not.
func (l *Loader) Load(ctx context.Context, health24ID int64) error {
	doc, fetchErr := l.source.FetchPatient(ctx, health24ID)
	if fetchErr != nil {
		l.log.Warn("patient fetch failed", "health24_id", health24ID, "error", fetchErr)

		exists, err := l.store.SnapshotExists(ctx, health24ID)
		if err != nil {
			return err
		}
		if exists {
			l.log.Info("serving cached patient data", "health24_id", health24ID)
			return nil
		}
		return fmt.Errorf("%w (patient %d): %w", ErrAPIUnavailable, health24ID, fetchErr)
	}

	err := l.store.WithTx(ctx, func(tx *store.Tx) error {
		return l.reconciler.Apply(ctx, tx, doc, l.now())
	})
	if err != nil {
		return fmt.Errorf("%w (patient %d): %w", ErrSyncFailed, health24ID, err)
	}

	l.log.Info("patient loaded", "health24_id", health24ID)
	return nil
}
