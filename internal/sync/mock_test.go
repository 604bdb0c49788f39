package sync

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/medassist/medsync/internal/model"
	"github.com/medassist/medsync/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test-medsync.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// --- Mock patient source -----------------------------------------------------

type rosterPage struct {
	items   []model.PatientDocument
	hasMore bool
}

type mockPatientSource struct {
	docs     map[int64]*model.PatientDocument
	fetchErr error

	pages     []rosterPage
	pageErrAt int // 1-based page that fails; 0 = never
	pageCalls int
}

func newMockPatientSource(docs ...*model.PatientDocument) *mockPatientSource {
	m := &mockPatientSource{docs: make(map[int64]*model.PatientDocument)}
	for _, d := range docs {
		m.docs[d.ID] = d
	}
	return m
}

func (m *mockPatientSource) FetchPatient(_ context.Context, health24ID int64) (*model.PatientDocument, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	doc, ok := m.docs[health24ID]
	if !ok {
		return nil, fmt.Errorf("patient %d not found", health24ID)
	}
	return doc, nil
}

func (m *mockPatientSource) FetchPatientsPage(_ context.Context, _ string, page, _ int) ([]model.PatientDocument, bool, error) {
	m.pageCalls++
	if m.pageErrAt != 0 && page == m.pageErrAt {
		return nil, false, fmt.Errorf("page %d unavailable", page)
	}
	if page < 1 || page > len(m.pages) {
		return nil, false, nil
	}
	p := m.pages[page-1]
	return p.items, p.hasMore, nil
}

// --- Mock dictionary source --------------------------------------------------

type mockDictionarySource struct {
	countries     []model.Classifier
	addressTypes  []model.Classifier
	streetTypes   []model.Classifier
	documentTypes []model.Classifier
	regions       []model.Region
	districts     []model.District
	settlements   map[int64][]model.Settlement   // by region id
	cityDistricts map[int64][]model.CityDistrict // by settlement id

	errOn map[string]error // method name → forced failure
	calls map[string]int
}

func newMockDictionarySource() *mockDictionarySource {
	return &mockDictionarySource{
		countries:     []model.Classifier{{ID: 1, Code: "UA", Title: "Україна"}},
		addressTypes:  []model.Classifier{{ID: 1, Code: "RESIDENCE", Title: "місце проживання"}},
		streetTypes:   []model.Classifier{{ID: 1, Code: "STREET", Title: "вулиця"}},
		documentTypes: []model.Classifier{{ID: 7, Code: "PASSPORT", Title: "Паспорт"}},
		regions: []model.Region{
			{ID: 3, Title: "Вінницька"},
			{ID: 4, Title: "Львівська"},
		},
		districts: []model.District{{ID: 40, Title: "Вінницький"}},
		settlements: map[int64][]model.Settlement{
			3: {{ID: 10, Title: "Вінниця", SettlementType: &model.Classifier{ID: 1, Code: "CITY", Title: "місто"}}},
			4: {{ID: 11, Title: "Львів", SettlementType: &model.Classifier{ID: 1, Code: "CITY", Title: "місто"}}},
		},
		cityDistricts: map[int64][]model.CityDistrict{
			11: {{ID: 100, Title: "Галицький"}},
		},
		errOn: make(map[string]error),
		calls: make(map[string]int),
	}
}

func (m *mockDictionarySource) call(name string) error {
	m.calls[name]++
	return m.errOn[name]
}

func (m *mockDictionarySource) FetchCountries(context.Context) ([]model.Classifier, error) {
	if err := m.call("countries"); err != nil {
		return nil, err
	}
	return m.countries, nil
}

func (m *mockDictionarySource) FetchAddressTypes(context.Context) ([]model.Classifier, error) {
	if err := m.call("address_types"); err != nil {
		return nil, err
	}
	return m.addressTypes, nil
}

func (m *mockDictionarySource) FetchStreetTypes(context.Context) ([]model.Classifier, error) {
	if err := m.call("street_types"); err != nil {
		return nil, err
	}
	return m.streetTypes, nil
}

func (m *mockDictionarySource) FetchDocumentTypes(context.Context) ([]model.Classifier, error) {
	if err := m.call("document_types"); err != nil {
		return nil, err
	}
	return m.documentTypes, nil
}

func (m *mockDictionarySource) FetchRegions(context.Context) ([]model.Region, error) {
	if err := m.call("regions"); err != nil {
		return nil, err
	}
	return m.regions, nil
}

func (m *mockDictionarySource) FetchDistricts(context.Context) ([]model.District, error) {
	if err := m.call("districts"); err != nil {
		return nil, err
	}
	return m.districts, nil
}

func (m *mockDictionarySource) FetchAllSettlements(_ context.Context, regionID int64) ([]model.Settlement, error) {
	if err := m.call("settlements"); err != nil {
		return nil, err
	}
	return m.settlements[regionID], nil
}

func (m *mockDictionarySource) FetchCityDistricts(_ context.Context, settlementID int64) ([]model.CityDistrict, error) {
	if err := m.call("city_districts"); err != nil {
		return nil, err
	}
	return m.cityDistricts[settlementID], nil
}
