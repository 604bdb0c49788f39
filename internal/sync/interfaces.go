// Package sync implements the synchronization engine between the health24
// API and the local SQLite cache. It contains four components:
//
//   - [Reconciler] applies one fetched patient document atomically.
//   - [Loader] decides between remote fetch and offline fallback.
//   - [RosterSync] refreshes the patient roster of one clinician.
//   - [DictionarySync] keeps the classification tables fresh on
//     per-table TTLs.
package sync

import (
	"context"

	"github.com/medassist/medsync/internal/model"
)

// PatientSource provides read access to patient data on the remote API.
// Implemented by [health24.Client].
type PatientSource interface {
	FetchPatient(ctx context.Context, health24ID int64) (*model.PatientDocument, error)
	FetchPatientsPage(ctx context.Context, employeeID string, page, pageSize int) (items []model.PatientDocument, hasMore bool, err error)
}

// DictionarySource provides read access to the address and document
// classification tables on the remote API.
// Implemented by [health24.Client].
type DictionarySource interface {
	FetchCountries(ctx context.Context) ([]model.Classifier, error)
	FetchAddressTypes(ctx context.Context) ([]model.Classifier, error)
	FetchStreetTypes(ctx context.Context) ([]model.Classifier, error)
	FetchDocumentTypes(ctx context.Context) ([]model.Classifier, error)
	FetchRegions(ctx context.Context) ([]model.Region, error)
	FetchDistricts(ctx context.Context) ([]model.District, error)
	FetchAllSettlements(ctx context.Context, regionID int64) ([]model.Settlement, error)
	FetchCityDistricts(ctx context.Context, settlementID int64) ([]model.CityDistrict, error)
}
