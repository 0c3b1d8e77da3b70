package clinic

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
)

// UnknownDoctor names visits recorded by a doctor without a profile name.
const UnknownDoctor = "Unknown Doctor"

// Visit is one entry of a global record's history.
type Visit struct {
	DoctorID   string    `json:"doctorId"`
	DoctorName string    `json:"doctorName"`
	Date       time.Time `json:"date"`
}

// GlobalPatient deduplicates a patient across doctors by mobile number.
// LinkedDoctors only grows and VisitHistory is append only; the scalar
// fields follow the last writer.
type GlobalPatient struct {
	Mobile        string    `json:"mobile"`
	Name          string    `json:"name"`
	Address       string    `json:"address"`
	Email         string    `json:"email"`
	LinkedDoctors []string  `json:"linkedDoctors"`
	VisitHistory  []Visit   `json:"visitHistory"`
	CreatedAt     time.Time `json:"createdAt"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

// Doctor identifies the roster owner recording a visit.
type Doctor struct {
	ID   string
	Name string
}

func (d Doctor) visit(at time.Time) Visit {
	name := d.Name
	if name == "" {
		name = UnknownDoctor
	}
	return Visit{DoctorID: d.ID, DoctorName: name, Date: at}
}

// HasDoctor reports whether id is linked to the record.
func (g GlobalPatient) HasDoctor(id string) bool {
	for _, d := range g.LinkedDoctors {
		if d == id {
			return true
		}
	}
	return false
}

// link returns a copy of g with doctor unioned in and a visit appended.
func (g GlobalPatient) link(doctor Doctor, at time.Time) GlobalPatient {
	out := g
	out.LinkedDoctors = append([]string(nil), g.LinkedDoctors...)
	if !g.HasDoctor(doctor.ID) {
		out.LinkedDoctors = append(out.LinkedDoctors, doctor.ID)
	}
	out.VisitHistory = append(append([]Visit(nil), g.VisitHistory...), doctor.visit(at))
	out.LastUpdated = at
	return out
}

// MergeAdd folds a newly added patient into the global record. A missing
// record is created with a single doctor and a single visit; an existing one
// keeps its scalar fields.
func MergeAdd(current *GlobalPatient, e Entry, doctor Doctor, at time.Time) GlobalPatient {
	if current == nil {
		return GlobalPatient{
			Mobile:        e.Mobile,
			Name:          e.Name,
			Address:       e.Address,
			Email:         e.Email,
			LinkedDoctors: []string{doctor.ID},
			VisitHistory:  []Visit{doctor.visit(at)},
			CreatedAt:     at,
			LastUpdated:   at,
		}
	}
	return current.link(doctor, at)
}

// MergeEdit applies an edited patient to an existing global record: name,
// address and email are overwritten, the doctor is linked and a visit appended.
func MergeEdit(current GlobalPatient, e Entry, doctor Doctor, at time.Time) GlobalPatient {
	out := current.link(doctor, at)
	out.Name = e.Name
	out.Address = e.Address
	out.Email = e.Email
	return out
}

// GlobalFromRecord decodes a stored global record.
func GlobalFromRecord(rec *directory.Record) (GlobalPatient, error) {
	var g GlobalPatient
	if err := rec.Fields.Decode(&g); err != nil {
		return GlobalPatient{}, err
	}
	if g.Mobile == "" {
		g.Mobile = rec.ID
	}
	return g, nil
}

// GlobalFields encodes g for storage.
func GlobalFields(g GlobalPatient) (directory.Fields, error) {
	return directory.FieldsOf(g)
}
