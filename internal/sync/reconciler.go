package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/medassist/medsync/internal/model"
	"github.com/medassist/medsync/internal/store"
)

// Reconciler applies one fetched patient document to the local store. It
// is stateless between calls — all persistent state lives in the store,
// and every Apply runs inside a transaction owned by the caller.
//
// Each sub-entity keeps its own reconciliation rule because each upstream
// sub-resource has different identity and cardinality semantics:
//
//   - phones: single winner — at most one active row per patient;
//   - addresses: full replace — the active set mirrors the document;
//   - documents, medical attributes: set difference on the natural key;
//   - declaration: id-keyed update-or-replace, absent means no-op.
type Reconciler struct {
	log *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(logger *slog.Logger) *Reconciler {
	return &Reconciler{log: logger}
}

// Apply performs all reconciliation steps for one document inside tx.
// Any step's error aborts the whole transaction — the caller must roll
// back, leaving the previous snapshot authoritative.
func (r *Reconciler) Apply(ctx context.Context, tx *store.Tx, doc *model.PatientDocument, now time.Time) error {
	if doc.ID == 0 {
		return fmt.Errorf("patient document carries no id")
	}

	// The journal row is written first and unconditionally — it is the
	// audit trail and the offline-fallback source.
	raw := doc.Raw
	if raw == nil {
		b, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshalling document for patient %d: %w", doc.ID, err)
		}
		raw = b
	}
	if err := tx.AppendSnapshot(ctx, doc.ID, doc.APIID, raw, now); err != nil {
		return err
	}

	if err := tx.UpsertPatient(ctx, &store.Patient{
		Health24ID:    doc.ID,
		APIID:         doc.APIID,
		PersonalityID: doc.PersonalityID,
		EmployeeID:    doc.EmployeeID(),
		LastName:      doc.LastName,
		FirstName:     doc.FirstName,
		SecondName:    doc.SecondName,
		BirthDate:     doc.BirthDate,
		Gender:        doc.Gender,
	}, now); err != nil {
		return err
	}

	if err := r.syncPhones(ctx, tx, doc, now); err != nil {
		return err
	}
	if err := r.syncAddresses(ctx, tx, doc, now); err != nil {
		return err
	}
	if err := r.syncDocuments(ctx, tx, doc, now); err != nil {
		return err
	}
	if err := r.syncMedicalAttributes(ctx, tx, doc, now); err != nil {
		return err
	}
	if err := r.syncDeclaration(ctx, tx, doc, now); err != nil {
		return err
	}

	r.log.Debug("document reconciled", "health24_id", doc.ID)
	return nil
}

// syncPhones records every candidate number not yet stored for the
// patient, then elects exactly one active row — the most recently
// inserted one. Candidates come from four document locations in priority
// order; an exact-number match against existing rows is a no-op, and
// rows inserted earlier in this same pass count as existing.
func (r *Reconciler) syncPhones(ctx context.Context, tx *store.Tx, doc *model.PatientDocument, now time.Time) error {
	for _, c := range doc.PhoneCandidates() {
		exists, err := tx.PhoneExists(ctx, doc.ID, c.Number)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := tx.InsertPhone(ctx, doc.ID, c.Number, c.TypeName, c.Source, now); err != nil {
			return err
		}
	}
	// Runs even with zero candidates: re-electing the latest historical
	// row keeps the single-active invariant across empty documents.
	return tx.ActivateLatestPhone(ctx, doc.ID)
}

// syncAddresses replaces the whole active address set: close out every
// active row, then insert each document address as active. Multiple
// addresses stay simultaneously active (one per type/location).
func (r *Reconciler) syncAddresses(ctx context.Context, tx *store.Tx, doc *model.PatientDocument, now time.Time) error {
	if err := tx.DeactivateActiveAddresses(ctx, doc.ID, now); err != nil {
		return err
	}
	addrs := doc.PersonAddresses()
	for _, a := range addrs {
		if err := tx.InsertAddress(ctx, doc.ID, a, now); err != nil {
			return err
		}
	}
	r.log.Debug("addresses reconciled", "health24_id", doc.ID, "count", len(addrs))
	return nil
}

// syncDocuments makes the active document set exactly equal to the
// freshly observed one: insert keys with no active row, then deactivate
// active rows whose key was not observed.
func (r *Reconciler) syncDocuments(ctx context.Context, tx *store.Tx, doc *model.PatientDocument, now time.Time) error {
	seen := make(map[store.DocumentKey]bool)
	var keys []store.DocumentKey

	for _, d := range doc.PersonDocuments() {
		typeID := d.Type.ID
		if typeID == 0 && d.Type.Code != "" {
			id, ok, err := tx.DocumentTypeIDByCode(ctx, d.Type.Code)
			if err != nil {
				return err
			}
			if ok {
				typeID = id
			}
		}
		key := store.DocumentKey{
			TypeID:         typeID,
			Number:         d.Number,
			IssuedAt:       d.IssuedAt,
			ExpirationDate: d.ExpirationDate,
			IssuedBy:       d.IssuedBy,
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)

		exists, err := tx.ActiveDocumentExists(ctx, doc.ID, key)
		if err != nil {
			return err
		}
		if !exists {
			if err := tx.InsertDocument(ctx, doc.ID, key, now); err != nil {
				return err
			}
		}
	}

	return tx.DeactivateDocumentsExcept(ctx, doc.ID, keys, now)
}

// syncMedicalAttributes applies the same set-difference rule as
// documents, keyed on (code, value).
func (r *Reconciler) syncMedicalAttributes(ctx context.Context, tx *store.Tx, doc *model.PatientDocument, now time.Time) error {
	seen := make(map[store.AttributeKey]bool)
	var keys []store.AttributeKey

	for _, a := range doc.MedicalAttributes {
		key := store.AttributeKey{Code: a.Code, Value: a.Value}
		if seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)

		exists, err := tx.ActiveAttributeExists(ctx, doc.ID, key)
		if err != nil {
			return err
		}
		if !exists {
			if err := tx.InsertMedicalAttribute(ctx, doc.ID, key, now); err != nil {
				return err
			}
		}
	}

	return tx.DeactivateAttributesExcept(ctx, doc.ID, keys, now)
}

// syncDeclaration handles the declaration's id-keyed lifecycle. A
// document without a declaration leaves existing declaration history
// untouched — unlike the full-replace policies above, absence here is
// not evidence of revocation.
func (r *Reconciler) syncDeclaration(ctx context.Context, tx *store.Tx, doc *model.PatientDocument, now time.Time) error {
	decl := doc.Declaration
	if decl == nil {
		r.log.Debug("document carries no declaration", "health24_id", doc.ID)
		return nil
	}

	exists, err := tx.DeclarationExistsForPatient(ctx, decl.ID, doc.ID)
	if err != nil {
		return err
	}
	if exists {
		return tx.UpdateDeclaration(ctx, doc.ID, decl)
	}

	if err := tx.DeactivateActiveDeclarations(ctx, doc.ID, now); err != nil {
		return err
	}
	return tx.InsertDeclaration(ctx, doc.ID, decl)
}
