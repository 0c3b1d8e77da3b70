package dto

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/clinic"
)

type ProfileResponse struct {
	State   string         `json:"state"`
	Profile map[string]any `json:"profile,omitempty"`
	Latest  map[string]any `json:"latest,omitempty"`
	Draft   map[string]any `json:"draft,omitempty"`
}

// ProfileView renders a profile with its id; nil stays nil.
func ProfileView(p clinic.Profile) map[string]any {
	if p == nil {
		return nil
	}
	b := p.Base()
	out := map[string]any{
		"id":       b.ID,
		"role":     string(p.Role()),
		"fullName": b.FullName,
		"email":    b.Email,
		"mobile":   b.Mobile,
	}
	if !b.CreatedAt.IsZero() {
		out["createdAt"] = b.CreatedAt.UTC().Format(time.RFC3339)
	}
	switch v := p.(type) {
	case clinic.DoctorProfile:
		out["specialization"] = v.Specialization
	case clinic.HospitalAdminProfile:
		out["hospitalName"] = v.HospitalName
		out["state"] = v.State
		out["city"] = v.City
	case clinic.PatientProfile:
	}
	return out
}
