package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/medassist/medsync/internal/model"
	"github.com/medassist/medsync/internal/store"
)

// RosterSync refreshes the roster of patients assigned to one clinician.
// Only identity rows are written — no sub-entity reconciliation and no
// snapshot journal entries.
type RosterSync struct {
	source   PatientSource
	store    *store.Store
	pageSize int
	log      *slog.Logger
}

// NewRosterSync creates a RosterSync fetching pageSize entries per page.
func NewRosterSync(source PatientSource, st *store.Store, pageSize int, logger *slog.Logger) *RosterSync {
	return &RosterSync{source: source, store: st, pageSize: pageSize, log: logger}
}

// SyncList fetches every roster page for the clinician and upserts the
// identity row of each entry best-effort: a row that fails to upsert is
// logged and skipped, not fatal to the batch. Returns the number of rows
// successfully upserted, which may be less than the number fetched.
func (r *RosterSync) SyncList(ctx context.Context, employeeID string) (int, error) {
	r.log.Info("roster sync started", "employee_id", employeeID)

	count := 0
	fetched := 0
	for page := 1; ; page++ {
		items, hasMore, err := r.source.FetchPatientsPage(ctx, employeeID, page, r.pageSize)
		if err != nil {
			return count, fmt.Errorf("fetching roster page %d: %w", page, err)
		}
		fetched += len(items)

		for i := range items {
			row := rosterRow(&items[i], employeeID)
			if err := r.store.UpsertPatient(ctx, row); err != nil {
				r.log.Warn("skipping roster entry", "health24_id", items[i].ID, "error", err)
				continue
			}
			count++
		}

		if len(items) == 0 || !hasMore {
			break
		}
	}

	r.log.Info("roster sync finished", "employee_id", employeeID, "fetched", fetched, "upserted", count)
	return count, nil
}

// rosterRow maps one roster entry to an identity row. Roster entries are
// thinner than full documents: missing api_id/personality_id fall back to
// the numeric id, and a missing declaration path falls back to the
// clinician the roster was requested for.
func rosterRow(doc *model.PatientDocument, employeeID string) *store.Patient {
	p := &store.Patient{
		Health24ID:    doc.ID,
		APIID:         doc.APIID,
		PersonalityID: doc.PersonalityID,
		EmployeeID:    doc.EmployeeID(),
		LastName:      doc.LastName,
		FirstName:     doc.FirstName,
		SecondName:    doc.SecondName,
		BirthDate:     doc.BirthDate,
		Gender:        doc.Gender,
	}

	if doc.ID != 0 {
		if p.APIID == "" {
			p.APIID = strconv.FormatInt(doc.ID, 10)
		}
		if p.PersonalityID == "" {
			p.PersonalityID = strconv.FormatInt(doc.ID, 10)
		}
	}
	if p.EmployeeID == nil {
		if id, err := strconv.ParseInt(employeeID, 10, 64); err == nil {
			p.EmployeeID = &id
		}
	}
	return p
}
