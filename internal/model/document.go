// Package model defines the remote patient document and the shared types
// used across the sync engine and the health24 adapter.
package model

import (
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"
)

// PatientDocument is one patient record as returned by the health24 API.
// The upstream document shape is loose — nested objects may be absent or
// null — so every access that descends into the document goes through an
// accessor method that returns a zero value instead of panicking.
type PatientDocument struct {
	ID            int64  `json:"id"`
	APIID         string `json:"api_id"`
	PersonalityID string `json:"personality_id"`
	LastName      string `json:"last_name"`
	FirstName     string `json:"first_name"`
	SecondName    string `json:"second_name"`
	BirthDate     string `json:"birth_date"`
	Gender        string `json:"gender"`

	Phones                []Phone            `json:"phones"`
	Person                *Person            `json:"person"`
	PrimaryAuthMethod     *AuthMethod        `json:"primary_auth_method"`
	AuthenticationMethods []AuthMethod       `json:"authentication_methods"`
	MedicalAttributes     []MedicalAttribute `json:"medical_attributes"`
	Declaration           *Declaration       `json:"declaration"`

	// Raw is the undecoded response body. The adapter sets it after a
	// successful fetch so the snapshot journal stores the document
	// verbatim, not a re-marshalled approximation.
	Raw json.RawMessage `json:"-"`
}

// Person holds the nested person sub-object of a patient document.
type Person struct {
	Phones    []Phone            `json:"phones"`
	Addresses []Address          `json:"addresses"`
	Documents []IdentityDocument `json:"documents"`
}

// Phone is a phone entry from the patient or person phone lists.
type Phone struct {
	Number   string `json:"number"`
	TypeName string `json:"type_name"`
}

// AuthMethod is an authentication method entry; its phone number is one of
// the four phone candidate sources.
type AuthMethod struct {
	PhoneNumber string `json:"phone_number"`
	TypeName    string `json:"type_name"`
}

// Address is one address object from person.addresses. Classifier ids are
// pointers because the upstream omits the ones it does not know.
type Address struct {
	AddressTypeID  *int64 `json:"address_type_id"`
	CountryID      *int64 `json:"country_id"`
	RegionID       *int64 `json:"region_id"`
	DistrictID     *int64 `json:"district_id"`
	SettlementID   *int64 `json:"settlement_id"`
	CityDistrictID *int64 `json:"city_district_id"`
	StreetTypeID   *int64 `json:"street_type_id"`
	Street         string `json:"street"`
	Building       string `json:"building"`
	Apartment      string `json:"apartment"`
	Zip            string `json:"zip"`
}

// IdentityDocument is one entry from person.documents.
type IdentityDocument struct {
	Type           DocTypeRef `json:"type"`
	Number         string     `json:"number"`
	IssuedAt       string     `json:"issued_at"`
	ExpirationDate string     `json:"expiration_date"`
	IssuedBy       string     `json:"issued_by"`
}

// DocTypeRef is the document type reference, which the upstream sends
// either as an object carrying the classifier id or as a bare code string.
type DocTypeRef struct {
	ID   int64
	Code string
}

// UnmarshalJSON accepts {"id": N, ...}, "CODE", or null.
func (r *DocTypeRef) UnmarshalJSON(b []byte) error {
	*r = DocTypeRef{}
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "null" || trimmed == "" {
		return nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var obj struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		r.ID = obj.ID
		return nil
	}
	return json.Unmarshal(b, &r.Code)
}

// MarshalJSON mirrors UnmarshalJSON for symmetry in tests.
func (r DocTypeRef) MarshalJSON() ([]byte, error) {
	if r.ID != 0 {
		return json.Marshal(struct {
			ID int64 `json:"id"`
		}{ID: r.ID})
	}
	if r.Code != "" {
		return json.Marshal(r.Code)
	}
	return []byte("null"), nil
}

// MedicalAttribute is one coded attribute with a free-form value.
type MedicalAttribute struct {
	Code  string `json:"code"`
	Value string `json:"value"`
}

// Declaration is the patient's care declaration.
type Declaration struct {
	ID        int64     `json:"id"`
	StartDate string    `json:"start_date"`
	EndDate   string    `json:"end_date"`
	Number    string    `json:"number"`
	Employee  *Employee `json:"employee"`
}

// Employee is the declaring clinician.
type Employee struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Division *Division `json:"division"`
}

// Division is the clinician's division.
type Division struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// EmployeeID returns the owning clinician's id by descending the
// declaration→employee path. Nil when any link is absent — missing
// ownership is data, not an error.
func (d *PatientDocument) EmployeeID() *int64 {
	if d.Declaration == nil || d.Declaration.Employee == nil {
		return nil
	}
	id := d.Declaration.Employee.ID
	if id == 0 {
		return nil
	}
	return &id
}

// Phone candidate sources, in priority order. The source tag is persisted
// alongside each phone row so operators can see where a number came from.
const (
	PhoneSourcePatient     = "patient.phones"
	PhoneSourcePerson      = "person.phones"
	PhoneSourcePrimaryAuth = "primary_auth"
	PhoneSourceAuthMethod  = "auth_method"
)

// PhoneCandidate is one phone number observed in a document, tagged with
// the document location that produced it.
type PhoneCandidate struct {
	Number   string
	TypeName string
	Source   string
}

// phoneExtractor pulls candidates from one document location.
type phoneExtractor func(d *PatientDocument) []PhoneCandidate

// phoneExtractors is the fixed priority order for phone collection:
// direct phones, person phones, primary auth method, auth method list.
var phoneExtractors = []phoneExtractor{
	func(d *PatientDocument) []PhoneCandidate {
		out := make([]PhoneCandidate, 0, len(d.Phones))
		for _, p := range d.Phones {
			out = append(out, PhoneCandidate{Number: p.Number, TypeName: p.TypeName, Source: PhoneSourcePatient})
		}
		return out
	},
	func(d *PatientDocument) []PhoneCandidate {
		if d.Person == nil {
			return nil
		}
		out := make([]PhoneCandidate, 0, len(d.Person.Phones))
		for _, p := range d.Person.Phones {
			out = append(out, PhoneCandidate{Number: p.Number, TypeName: p.TypeName, Source: PhoneSourcePerson})
		}
		return out
	},
	func(d *PatientDocument) []PhoneCandidate {
		if d.PrimaryAuthMethod == nil {
			return nil
		}
		return []PhoneCandidate{{
			Number:   d.PrimaryAuthMethod.PhoneNumber,
			TypeName: d.PrimaryAuthMethod.TypeName,
			Source:   PhoneSourcePrimaryAuth,
		}}
	},
	func(d *PatientDocument) []PhoneCandidate {
		out := make([]PhoneCandidate, 0, len(d.AuthenticationMethods))
		for _, a := range d.AuthenticationMethods {
			out = append(out, PhoneCandidate{Number: a.PhoneNumber, TypeName: a.TypeName, Source: PhoneSourceAuthMethod})
		}
		return out
	},
}

// PhoneCandidates collects every non-empty phone number from the four
// source locations, in priority order. Duplicate numbers are kept —
// deduplication is the reconciler's job, since it must also consider
// numbers already stored for the patient.
func (d *PatientDocument) PhoneCandidates() []PhoneCandidate {
	var out []PhoneCandidate
	for _, extract := range phoneExtractors {
		for _, c := range extract(d) {
			if c.Number == "" {
				continue
			}
			c.TypeName = LowerFirst(c.TypeName)
			out = append(out, c)
		}
	}
	return out
}

// PersonAddresses returns the document's address list, empty when the
// person sub-object is absent.
func (d *PatientDocument) PersonAddresses() []Address {
	if d.Person == nil {
		return nil
	}
	return d.Person.Addresses
}

// PersonDocuments returns the document's identity document list, empty
// when the person sub-object is absent.
func (d *PatientDocument) PersonDocuments() []IdentityDocument {
	if d.Person == nil {
		return nil
	}
	return d.Person.Documents
}

// LowerFirst lowercases the first rune of s. The upstream capitalises
// phone type names inconsistently across its four phone sources.
func LowerFirst(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[size:]
}
