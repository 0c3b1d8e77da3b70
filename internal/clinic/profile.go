// Package clinic holds the records the clinic app stores in the directory:
// role-tagged profiles, roster entries and the cross-doctor patient record.
package clinic

import (
	"fmt"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
)

type Role string

const (
	RoleDoctor        Role = "doctor"
	RolePatient       Role = "patient"
	RoleHospitalAdmin Role = "hospitalAdmin"
)

// ParseRole accepts the three stored role tags.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleDoctor, RolePatient, RoleHospitalAdmin:
		return r, nil
	}
	return "", invalid("role", fmt.Sprintf("unknown role %q", s))
}

// Specializations lists the doctor specializations offered at registration.
var Specializations = []string{
	"Cardiologist",
	"Dermatologist",
	"Neurologist",
	"Pediatrician",
	"General Physician",
	"Orthopedic",
	"Ayurveda",
	"Homeopathy",
}

// ProfileBase carries the fields every profile variant shares.
type ProfileBase struct {
	ID        string    `json:"-"`
	FullName  string    `json:"fullName,omitempty"`
	Email     string    `json:"email,omitempty"`
	Mobile    string    `json:"mobile,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Profile is a closed set of variants; switch over DoctorProfile,
// PatientProfile and HospitalAdminProfile.
type Profile interface {
	Role() Role
	Base() ProfileBase
	editable() map[string]string
}

type DoctorProfile struct {
	ProfileBase
	Specialization string `json:"specialization,omitempty"`
}

type PatientProfile struct {
	ProfileBase
}

type HospitalAdminProfile struct {
	ProfileBase
	HospitalName string `json:"hospitalName,omitempty"`
	State        string `json:"state,omitempty"`
	City         string `json:"city,omitempty"`
}

func (p DoctorProfile) Role() Role        { return RoleDoctor }
func (p PatientProfile) Role() Role       { return RolePatient }
func (p HospitalAdminProfile) Role() Role { return RoleHospitalAdmin }

func (p DoctorProfile) Base() ProfileBase        { return p.ProfileBase }
func (p PatientProfile) Base() ProfileBase       { return p.ProfileBase }
func (p HospitalAdminProfile) Base() ProfileBase { return p.ProfileBase }

func (b ProfileBase) editable() map[string]string {
	return map[string]string{
		"fullName": b.FullName,
		"email":    b.Email,
		"mobile":   b.Mobile,
	}
}

func (p DoctorProfile) editable() map[string]string {
	m := p.ProfileBase.editable()
	m["specialization"] = p.Specialization
	return m
}

func (p PatientProfile) editable() map[string]string {
	return p.ProfileBase.editable()
}

func (p HospitalAdminProfile) editable() map[string]string {
	m := p.ProfileBase.editable()
	m["hospitalName"] = p.HospitalName
	m["state"] = p.State
	m["city"] = p.City
	return m
}

// NeedsContact reports whether the role must keep an email or a mobile number.
func NeedsContact(r Role) bool {
	return r == RoleDoctor || r == RolePatient
}

// ValidateProfile checks the invariants enforced when a profile is saved.
func ValidateProfile(p Profile) error {
	b := p.Base()
	if NeedsContact(p.Role()) && strings.TrimSpace(b.Email) == "" && strings.TrimSpace(b.Mobile) == "" {
		return invalid("contact", "enter an email or a mobile number")
	}
	return nil
}

// ProfileFields encodes p for a full write. Empty optional fields are omitted.
func ProfileFields(p Profile) directory.Fields {
	f := directory.Fields{"role": string(p.Role())}
	if b := p.Base(); !b.CreatedAt.IsZero() {
		f["createdAt"] = b.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	for k, v := range p.editable() {
		if v != "" {
			f[k] = v
		}
	}
	return f
}

// ProfileUpdate encodes p for a merge write: every editable field is present,
// empty ones as directory.Delete so they are removed instead of stored blank.
func ProfileUpdate(p Profile) directory.Fields {
	f := directory.Fields{"role": string(p.Role())}
	for k, v := range p.editable() {
		if strings.TrimSpace(v) == "" {
			f[k] = directory.Delete
			continue
		}
		f[k] = strings.TrimSpace(v)
	}
	return f
}

// ProfileFromRecord decodes a stored profile document.
func ProfileFromRecord(rec *directory.Record) (Profile, error) {
	role, err := ParseRole(rec.Fields.String("role"))
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", rec.ID, err)
	}
	return ProfileFromFields(role, rec.ID, rec.Fields)
}

// ProfileFromFields decodes fields into the variant for role.
func ProfileFromFields(role Role, id string, fields directory.Fields) (Profile, error) {
	switch role {
	case RoleDoctor:
		var p DoctorProfile
		if err := fields.Decode(&p); err != nil {
			return nil, err
		}
		p.ID = id
		return p, nil
	case RolePatient:
		var p PatientProfile
		if err := fields.Decode(&p); err != nil {
			return nil, err
		}
		p.ID = id
		return p, nil
	case RoleHospitalAdmin:
		var p HospitalAdminProfile
		if err := fields.Decode(&p); err != nil {
			return nil, err
		}
		p.ID = id
		return p, nil
	}
	return nil, invalid("role", fmt.Sprintf("unknown role %q", role))
}

// Hospital is the record a hospital admin owns at hospitals/{id}.
type Hospital struct {
	AdminID      string    `json:"adminId"`
	HospitalName string    `json:"hospitalName"`
	State        string    `json:"state"`
	City         string    `json:"city"`
	Email        string    `json:"email,omitempty"`
	Mobile       string    `json:"mobile,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HospitalOf derives the hospital record from its admin's profile.
func HospitalOf(p HospitalAdminProfile) Hospital {
	return Hospital{
		AdminID:      p.ID,
		HospitalName: p.HospitalName,
		State:        p.State,
		City:         p.City,
		Email:        p.Email,
		Mobile:       p.Mobile,
		CreatedAt:    p.CreatedAt,
	}
}

// HospitalUpdate encodes the hospital fields an admin's profile save keeps in sync.
func HospitalUpdate(p HospitalAdminProfile) directory.Fields {
	f := directory.Fields{"adminId": p.ID}
	for k, v := range map[string]string{
		"hospitalName": p.HospitalName,
		"state":        p.State,
		"city":         p.City,
		"email":        p.Email,
		"mobile":       p.Mobile,
	} {
		if strings.TrimSpace(v) == "" {
			f[k] = directory.Delete
			continue
		}
		f[k] = strings.TrimSpace(v)
	}
	return f
}

// WithID returns p carrying id and createdAt, whatever the caller set.
func WithID(p Profile, id string, createdAt time.Time) Profile {
	switch v := p.(type) {
	case DoctorProfile:
		v.ID, v.CreatedAt = id, createdAt
		return v
	case PatientProfile:
		v.ID, v.CreatedAt = id, createdAt
		return v
	case HospitalAdminProfile:
		v.ID, v.CreatedAt = id, createdAt
		return v
	}
	return p
}
