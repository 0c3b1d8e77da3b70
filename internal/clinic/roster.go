package clinic

import (
	"fmt"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
)

// EntryKind tells which roster an entry belongs to.
type EntryKind string

const (
	KindPatient EntryKind = "patient"
	KindDoctor  EntryKind = "doctor"
)

// KindFor returns the kind of entry an owner of role keeps on their roster.
func KindFor(role Role) (EntryKind, bool) {
	switch role {
	case RoleDoctor:
		return KindPatient, true
	case RoleHospitalAdmin:
		return KindDoctor, true
	case RolePatient:
		return "", false
	}
	return "", false
}

// Entry is a patient under a doctor or a doctor under a hospital.
type Entry struct {
	ID            string    `json:"id,omitempty"`
	Kind          EntryKind `json:"kind"`
	Name          string    `json:"name"`
	Address       string    `json:"address,omitempty"`
	Mobile        string    `json:"mobile,omitempty"`
	Email         string    `json:"email,omitempty"`
	AttachmentURL string    `json:"attachmentUrl,omitempty"`

	Disease      string `json:"disease,omitempty"`
	Cause        string `json:"cause,omitempty"`
	Prescription string `json:"prescription,omitempty"`

	Specialization   string `json:"specialization,omitempty"`
	Experience       string `json:"experience,omitempty"`
	Degree           string `json:"degree,omitempty"`
	Gender           string `json:"gender,omitempty"`
	CurrentlyWorking bool   `json:"currentlyWorking,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	VisitDate time.Time `json:"visitDate"`
}

// Normalized returns e with surrounding whitespace trimmed from text fields.
func (e Entry) Normalized() Entry {
	for _, s := range []*string{
		&e.Name, &e.Address, &e.Mobile, &e.Email, &e.AttachmentURL,
		&e.Disease, &e.Cause, &e.Prescription,
		&e.Specialization, &e.Experience, &e.Degree, &e.Gender,
	} {
		*s = strings.TrimSpace(*s)
	}
	return e
}

// ValidateEntry checks the required fields of e's kind.
func ValidateEntry(e Entry) error {
	var required []struct{ field, value string }
	switch e.Kind {
	case KindPatient:
		required = []struct{ field, value string }{
			{"name", e.Name}, {"address", e.Address}, {"disease", e.Disease}, {"mobile", e.Mobile},
		}
	case KindDoctor:
		required = []struct{ field, value string }{
			{"name", e.Name}, {"specialization", e.Specialization},
		}
	default:
		return invalid("kind", fmt.Sprintf("unknown entry kind %q", e.Kind))
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return invalid(r.field, "is required")
		}
	}
	// The mobile number keys the global record, so it must be a single path segment.
	if strings.Contains(e.Mobile, "/") {
		return invalid("mobile", "must not contain '/'")
	}
	return nil
}

// SameContent reports whether a and b hold the same editable content.
func SameContent(a, b Entry) bool {
	a.ID, a.CreatedAt, a.UpdatedAt, a.VisitDate = "", time.Time{}, time.Time{}, time.Time{}
	b.ID, b.CreatedAt, b.UpdatedAt, b.VisitDate = "", time.Time{}, time.Time{}, time.Time{}
	return a == b
}

func (e Entry) editable() map[string]any {
	m := map[string]any{
		"name":          e.Name,
		"address":       e.Address,
		"mobile":        e.Mobile,
		"email":         e.Email,
		"attachmentUrl": e.AttachmentURL,
	}
	switch e.Kind {
	case KindPatient:
		m["disease"] = e.Disease
		m["cause"] = e.Cause
		m["prescription"] = e.Prescription
	case KindDoctor:
		m["specialization"] = e.Specialization
		m["experience"] = e.Experience
		m["degree"] = e.Degree
		m["gender"] = e.Gender
		m["currentlyWorking"] = e.CurrentlyWorking
	}
	return m
}

// EntryFields encodes a new entry.
func EntryFields(e Entry) (directory.Fields, error) {
	f, err := directory.FieldsOf(e)
	if err != nil {
		return nil, err
	}
	delete(f, "id")
	return f, nil
}

// EntryUpdate encodes the editable fields of e as a full replace: blank text
// fields become deletions. Creation time and kind are left untouched.
func EntryUpdate(e Entry) directory.Fields {
	f := directory.Fields{}
	for k, v := range e.editable() {
		if s, ok := v.(string); ok && s == "" {
			f[k] = directory.Delete
			continue
		}
		f[k] = v
	}
	f["updatedAt"] = e.UpdatedAt.UTC().Format(time.RFC3339Nano)
	f["visitDate"] = e.VisitDate.UTC().Format(time.RFC3339Nano)
	return f
}

// EntryFromRecord decodes a stored roster entry.
func EntryFromRecord(rec directory.Record) (Entry, error) {
	var e Entry
	if err := rec.Fields.Decode(&e); err != nil {
		return Entry{}, fmt.Errorf("roster entry %s: %w", rec.ID, err)
	}
	e.ID = rec.ID
	return e, nil
}
