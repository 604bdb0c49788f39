package sync

import (
	"context"
	"testing"

	"github.com/medassist/medsync/internal/model"
)

func rosterDoc(id int64, lastName string) model.PatientDocument {
	return model.PatientDocument{
		ID:            id,
		APIID:         "api",
		PersonalityID: "pers",
		LastName:      lastName,
		FirstName:     "Т",
	}
}

func TestSyncList_UpsertsAllEntries(t *testing.T) {
	s := newTestStore(t)
	src := newMockPatientSource()
	src.pages = []rosterPage{{
		items: []model.PatientDocument{rosterDoc(1, "Перша"), rosterDoc(2, "Друга")},
	}}

	r := NewRosterSync(src, s, 100, testLogger)
	count, err := r.SyncList(context.Background(), "77")
	if err != nil {
		t.Fatalf("SyncList: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	p, err := s.GetPatient(context.Background(), 2)
	if err != nil {
		t.Fatalf("GetPatient: %v", err)
	}
	if p == nil || p.LastName != "Друга" {
		t.Errorf("patient = %+v", p)
	}
	// No journal entries and no sub-entity reconciliation on this path.
	if n, _ := s.SnapshotCount(context.Background(), 1); n != 0 {
		t.Error("roster sync wrote journal rows")
	}
}

func TestSyncList_SkipsBadEntries(t *testing.T) {
	s := newTestStore(t)
	src := newMockPatientSource()
	src.pages = []rosterPage{{
		items: []model.PatientDocument{
			rosterDoc(1, "Перша"),
			{LastName: "Безідентифікатора"}, // no id at all — upsert fails
			rosterDoc(3, "Третя"),
		},
	}}

	r := NewRosterSync(src, s, 100, testLogger)
	count, err := r.SyncList(context.Background(), "77")
	if err != nil {
		t.Fatalf("SyncList: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2 (bad entry skipped)", count)
	}
}

func TestSyncList_FollowsPagination(t *testing.T) {
	s := newTestStore(t)
	src := newMockPatientSource()
	src.pages = []rosterPage{
		{items: []model.PatientDocument{rosterDoc(1, "Перша")}, hasMore: true},
		{items: []model.PatientDocument{rosterDoc(2, "Друга")}},
	}

	r := NewRosterSync(src, s, 1, testLogger)
	count, err := r.SyncList(context.Background(), "77")
	if err != nil {
		t.Fatalf("SyncList: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if src.pageCalls != 2 {
		t.Errorf("page fetches = %d, want 2", src.pageCalls)
	}
}

func TestSyncList_PageErrorReturnsPartialCount(t *testing.T) {
	s := newTestStore(t)
	src := newMockPatientSource()
	src.pages = []rosterPage{
		{items: []model.PatientDocument{rosterDoc(1, "Перша")}, hasMore: true},
		{items: []model.PatientDocument{rosterDoc(2, "Друга")}},
	}
	src.pageErrAt = 2

	r := NewRosterSync(src, s, 1, testLogger)
	count, err := r.SyncList(context.Background(), "77")
	if err == nil {
		t.Fatal("expected error from failing page")
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 (first page committed)", count)
	}
}

func TestRosterRow_Fallbacks(t *testing.T) {
	// Thin roster entries: identifiers fall back to the numeric id, and
	// the owning clinician falls back to the requested employee.
	doc := model.PatientDocument{ID: 42, LastName: "Тонка", FirstName: "Анкета"}

	row := rosterRow(&doc, "77")
	if row.APIID != "42" || row.PersonalityID != "42" {
		t.Errorf("fallback ids = %q/%q, want 42/42", row.APIID, row.PersonalityID)
	}
	if row.EmployeeID == nil || *row.EmployeeID != 77 {
		t.Errorf("EmployeeID = %v, want 77", row.EmployeeID)
	}

	// An explicit declaration path wins over the fallback.
	doc.Declaration = &model.Declaration{Employee: &model.Employee{ID: 88}}
	row = rosterRow(&doc, "77")
	if row.EmployeeID == nil || *row.EmployeeID != 88 {
		t.Errorf("EmployeeID = %v, want 88 from declaration", row.EmployeeID)
	}

	// A non-numeric employee parameter leaves the field unset.
	doc.Declaration = nil
	row = rosterRow(&doc, "not-a-number")
	if row.EmployeeID != nil {
		t.Errorf("EmployeeID = %v, want nil", row.EmployeeID)
	}
}
