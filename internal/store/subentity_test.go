package store

import (
	"context"
	"testing"
	"time"

	"github.com/medassist/medsync/internal/model"
)

func activePhones(phones []Phone) []Phone {
	var out []Phone
	for _, p := range phones {
		if p.Active {
			out = append(out, p)
		}
	}
	return out
}

func TestPhones_ActivateLatestKeepsSingleActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	inTx(t, s, func(tx *Tx) error {
		if err := tx.InsertPhone(ctx, 1, "+380001", "mobile", "patient.phones", t0); err != nil {
			return err
		}
		if err := tx.InsertPhone(ctx, 1, "+380002", "mobile", "person.phones", t0.Add(time.Second)); err != nil {
			return err
		}
		return tx.ActivateLatestPhone(ctx, 1)
	})

	phones, err := s.Phones(ctx, 1)
	if err != nil {
		t.Fatalf("Phones: %v", err)
	}
	if len(phones) != 2 {
		t.Fatalf("phones = %d, want 2", len(phones))
	}

	active := activePhones(phones)
	if len(active) != 1 {
		t.Fatalf("active phones = %d, want 1", len(active))
	}
	if active[0].Number != "+380002" {
		t.Errorf("active = %q, want the latest insert", active[0].Number)
	}
}

func TestPhones_ActivateLatestTieBreaksOnID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Identical valid_from — the higher row id must win.
	inTx(t, s, func(tx *Tx) error {
		if err := tx.InsertPhone(ctx, 1, "+380001", "mobile", "patient.phones", now); err != nil {
			return err
		}
		if err := tx.InsertPhone(ctx, 1, "+380002", "otp", "primary_auth", now); err != nil {
			return err
		}
		return tx.ActivateLatestPhone(ctx, 1)
	})

	active := mustActivePhone(t, s, 1)
	if active.Number != "+380002" {
		t.Errorf("active = %q, want %q", active.Number, "+380002")
	}
}

func TestPhones_ActivateLatestIsRepeatable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	inTx(t, s, func(tx *Tx) error {
		if err := tx.InsertPhone(ctx, 1, "+380001", "mobile", "patient.phones", now); err != nil {
			return err
		}
		return tx.ActivateLatestPhone(ctx, 1)
	})
	// A pass with no new candidates re-elects the same winner.
	inTx(t, s, func(tx *Tx) error {
		return tx.ActivateLatestPhone(ctx, 1)
	})

	active := mustActivePhone(t, s, 1)
	if active.Number != "+380001" {
		t.Errorf("active = %q, want %q", active.Number, "+380001")
	}
}

func mustActivePhone(t *testing.T, s *Store, health24ID int64) Phone {
	t.Helper()
	phones, err := s.Phones(context.Background(), health24ID)
	if err != nil {
		t.Fatalf("Phones: %v", err)
	}
	active := activePhones(phones)
	if len(active) != 1 {
		t.Fatalf("active phones = %d, want 1", len(active))
	}
	return active[0]
}

func TestPhoneExists(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	inTx(t, s, func(tx *Tx) error {
		return tx.InsertPhone(ctx, 1, "+380001", "mobile", "patient.phones", now)
	})

	inTx(t, s, func(tx *Tx) error {
		exists, err := tx.PhoneExists(ctx, 1, "+380001")
		if err != nil {
			return err
		}
		if !exists {
			t.Error("PhoneExists = false for stored number")
		}

		exists, err = tx.PhoneExists(ctx, 1, "+380999")
		if err != nil {
			return err
		}
		if exists {
			t.Error("PhoneExists = true for unknown number")
		}

		// Other patients' numbers do not count.
		exists, err = tx.PhoneExists(ctx, 2, "+380001")
		if err != nil {
			return err
		}
		if exists {
			t.Error("PhoneExists leaked across patients")
		}
		return nil
	})
}

func TestAddresses_FullReplace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	typeID, country := int64(1), int64(2)
	inTx(t, s, func(tx *Tx) error {
		return tx.InsertAddress(ctx, 1, model.Address{
			AddressTypeID: &typeID, CountryID: &country, Street: "Хрещатик", Building: "1",
		}, t0)
	})

	// Replacement pass: close out old, insert two new.
	t1 := t0.Add(time.Minute)
	inTx(t, s, func(tx *Tx) error {
		if err := tx.DeactivateActiveAddresses(ctx, 1, t1); err != nil {
			return err
		}
		if err := tx.InsertAddress(ctx, 1, model.Address{Street: "Володимирська", Building: "2"}, t1); err != nil {
			return err
		}
		return tx.InsertAddress(ctx, 1, model.Address{Street: "Саксаганського", Building: "3"}, t1)
	})

	active, err := s.ActiveAddresses(ctx, 1)
	if err != nil {
		t.Fatalf("ActiveAddresses: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active addresses = %d, want 2", len(active))
	}
	for _, a := range active {
		if a.Street == "Хрещатик" {
			t.Error("replaced address still active")
		}
	}
}

func TestAddresses_NullableClassifierIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	region := int64(5)
	inTx(t, s, func(tx *Tx) error {
		return tx.InsertAddress(ctx, 1, model.Address{RegionID: &region, Zip: "01001"}, time.Now().UTC())
	})

	active, err := s.ActiveAddresses(ctx, 1)
	if err != nil {
		t.Fatalf("ActiveAddresses: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active addresses = %d, want 1", len(active))
	}
	a := active[0]
	if a.RegionID == nil || *a.RegionID != 5 {
		t.Errorf("RegionID = %v, want 5", a.RegionID)
	}
	if a.CountryID != nil || a.SettlementID != nil {
		t.Errorf("absent ids must stay nil: %+v", a)
	}
	if a.Zip != "01001" {
		t.Errorf("Zip = %q", a.Zip)
	}
}

func TestDocuments_SetDifference(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	passport := DocumentKey{TypeID: 1, Number: "AA123456"}
	taxID := DocumentKey{TypeID: 2, Number: "1234567890"}

	inTx(t, s, func(tx *Tx) error {
		if err := tx.InsertDocument(ctx, 1, passport, t0); err != nil {
			return err
		}
		return tx.InsertDocument(ctx, 1, taxID, t0)
	})

	// New observation keeps only the passport.
	inTx(t, s, func(tx *Tx) error {
		return tx.DeactivateDocumentsExcept(ctx, 1, []DocumentKey{passport}, t0.Add(time.Minute))
	})

	active, err := s.ActiveDocuments(ctx, 1)
	if err != nil {
		t.Fatalf("ActiveDocuments: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active documents = %d, want 1", len(active))
	}
	if active[0].Key != passport {
		t.Errorf("active key = %+v, want passport", active[0].Key)
	}
}

func TestDocuments_EmptyKeepDeactivatesAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	inTx(t, s, func(tx *Tx) error {
		return tx.InsertDocument(ctx, 1, DocumentKey{TypeID: 1, Number: "AA123456"}, t0)
	})
	inTx(t, s, func(tx *Tx) error {
		return tx.DeactivateDocumentsExcept(ctx, 1, nil, t0.Add(time.Minute))
	})

	active, err := s.ActiveDocuments(ctx, 1)
	if err != nil {
		t.Fatalf("ActiveDocuments: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("active documents = %d, want 0", len(active))
	}
}

func TestDocumentTypeIDByCode(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	inTx(t, s, func(tx *Tx) error {
		return tx.UpsertDocumentTypes(ctx, []model.Classifier{
			{ID: 7, Code: "PASSPORT", Title: "Паспорт"},
		})
	})

	inTx(t, s, func(tx *Tx) error {
		id, ok, err := tx.DocumentTypeIDByCode(ctx, "PASSPORT")
		if err != nil {
			return err
		}
		if !ok || id != 7 {
			t.Errorf("DocumentTypeIDByCode = (%d, %v), want (7, true)", id, ok)
		}

		_, ok, err = tx.DocumentTypeIDByCode(ctx, "UNKNOWN")
		if err != nil {
			return err
		}
		if ok {
			t.Error("unknown code resolved")
		}
		return nil
	})
}

func TestAttributes_SetDifference(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	blood := AttributeKey{Code: "blood_type", Value: "0+"}
	allergy := AttributeKey{Code: "allergy", Value: "penicillin"}

	inTx(t, s, func(tx *Tx) error {
		if err := tx.InsertMedicalAttribute(ctx, 1, blood, t0); err != nil {
			return err
		}
		return tx.InsertMedicalAttribute(ctx, 1, allergy, t0)
	})
	inTx(t, s, func(tx *Tx) error {
		return tx.DeactivateAttributesExcept(ctx, 1, []AttributeKey{blood}, t0.Add(time.Minute))
	})

	active, err := s.ActiveMedicalAttributes(ctx, 1)
	if err != nil {
		t.Fatalf("ActiveMedicalAttributes: %v", err)
	}
	if len(active) != 1 || active[0] != blood {
		t.Errorf("active attributes = %+v, want only blood type", active)
	}
}

func sampleDeclaration() *model.Declaration {
	return &model.Declaration{
		ID:        500,
		StartDate: "2024-01-01",
		Number:    "D-500",
		Employee: &model.Employee{
			ID:   77,
			Name: "Лікар Перший",
			Division: &model.Division{
				ID:   9,
				Name: "Амбулаторія №1",
			},
		},
	}
}

func TestDeclarations_InsertAndRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	inTx(t, s, func(tx *Tx) error {
		return tx.InsertDeclaration(ctx, 1, sampleDeclaration())
	})

	decl, err := s.LatestDeclaration(ctx, 1)
	if err != nil {
		t.Fatalf("LatestDeclaration: %v", err)
	}
	if decl == nil {
		t.Fatal("LatestDeclaration = nil")
	}
	if decl.DeclarationID != 500 || !decl.Active {
		t.Errorf("declaration = %+v", decl)
	}
	if decl.EmployeeID == nil || *decl.EmployeeID != 77 {
		t.Errorf("EmployeeID = %v, want 77", decl.EmployeeID)
	}
	if decl.DivisionName != "Амбулаторія №1" {
		t.Errorf("DivisionName = %q", decl.DivisionName)
	}
}

func TestDeclarations_ExistsIsPatientScoped(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	inTx(t, s, func(tx *Tx) error {
		return tx.InsertDeclaration(ctx, 1, sampleDeclaration())
	})

	inTx(t, s, func(tx *Tx) error {
		exists, err := tx.DeclarationExistsForPatient(ctx, 500, 1)
		if err != nil {
			return err
		}
		if !exists {
			t.Error("declaration not found for owning patient")
		}

		// Same declaration id under another patient must not match.
		exists, err = tx.DeclarationExistsForPatient(ctx, 500, 2)
		if err != nil {
			return err
		}
		if exists {
			t.Error("declaration id matched across patients")
		}
		return nil
	})
}

func TestDeclarations_UpdateInPlace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	inTx(t, s, func(tx *Tx) error {
		return tx.InsertDeclaration(ctx, 1, sampleDeclaration())
	})

	updated := sampleDeclaration()
	updated.Number = "D-500-R"
	updated.Employee.Name = "Лікар Другий"
	inTx(t, s, func(tx *Tx) error {
		return tx.UpdateDeclaration(ctx, 1, updated)
	})

	decls, err := s.Declarations(ctx, 1)
	if err != nil {
		t.Fatalf("Declarations: %v", err)
	}
	if len(decls) != 1 {
		t.Fatalf("declarations = %d, want 1 (update must not add rows)", len(decls))
	}
	if decls[0].Number != "D-500-R" || decls[0].EmployeeName != "Лікар Другий" {
		t.Errorf("declaration = %+v", decls[0])
	}
	if !decls[0].Active {
		t.Error("update must not change is_active")
	}
}

func TestDeclarations_ReplaceKeepsHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	inTx(t, s, func(tx *Tx) error {
		return tx.InsertDeclaration(ctx, 1, sampleDeclaration())
	})

	replacement := sampleDeclaration()
	replacement.ID = 501
	replacement.Number = "D-501"
	replacement.StartDate = "2025-01-01"
	inTx(t, s, func(tx *Tx) error {
		if err := tx.DeactivateActiveDeclarations(ctx, 1, now); err != nil {
			return err
		}
		return tx.InsertDeclaration(ctx, 1, replacement)
	})

	decls, err := s.Declarations(ctx, 1)
	if err != nil {
		t.Fatalf("Declarations: %v", err)
	}
	if len(decls) != 2 {
		t.Fatalf("declarations = %d, want 2 (history preserved)", len(decls))
	}
	// Active row sorts first.
	if decls[0].DeclarationID != 501 || !decls[0].Active {
		t.Errorf("first = %+v, want active 501", decls[0])
	}
	if decls[1].DeclarationID != 500 || decls[1].Active {
		t.Errorf("second = %+v, want inactive 500", decls[1])
	}
	if decls[1].EndDate == "" {
		t.Error("deactivation must stamp end_date")
	}
}
