package clinic

import (
	"strings"
	"time"
)

// MinPasswordLength matches the identity provider's minimum.
const MinPasswordLength = 6

// Registration is what a new user submits to create an account.
type Registration struct {
	Role           Role   `json:"role"`
	FullName       string `json:"fullName"`
	Email          string `json:"email"`
	Mobile         string `json:"mobile"`
	Password       string `json:"password"`
	Specialization string `json:"specialization"`
	HospitalName   string `json:"hospitalName"`
	State          string `json:"state"`
	City           string `json:"city"`
}

// Identifier is the sign-in identifier: the email when given, otherwise the mobile number.
func (r Registration) Identifier() string {
	if e := strings.TrimSpace(r.Email); e != "" {
		return e
	}
	return strings.TrimSpace(r.Mobile)
}

// ValidateRegistration applies the per-role rules of the registration form.
func ValidateRegistration(r Registration) error {
	if _, err := ParseRole(string(r.Role)); err != nil {
		return err
	}
	if r.Identifier() == "" {
		return invalid("email", "an email or a mobile number is required")
	}
	if len(r.Password) < MinPasswordLength {
		return invalid("password", "must be at least 6 characters")
	}
	return validateRoleFields(r)
}

// ValidateCompletion checks the profile part of a registration submitted by
// an identity that already exists. Credentials are not part of it.
func ValidateCompletion(r Registration) error {
	if _, err := ParseRole(string(r.Role)); err != nil {
		return err
	}
	return validateRoleFields(r)
}

func validateRoleFields(r Registration) error {
	switch r.Role {
	case RoleDoctor:
		if strings.TrimSpace(r.FullName) == "" {
			return invalid("fullName", "is required")
		}
		if !knownSpecialization(r.Specialization) {
			return invalid("specialization", "select a specialization")
		}
	case RoleHospitalAdmin:
		for _, f := range []struct{ field, value string }{
			{"hospitalName", r.HospitalName},
			{"state", r.State},
			{"city", r.City},
			{"mobile", r.Mobile},
		} {
			if strings.TrimSpace(f.value) == "" {
				return invalid(f.field, "is required")
			}
		}
	case RolePatient:
	}
	return nil
}

func knownSpecialization(s string) bool {
	for _, known := range Specializations {
		if s == known {
			return true
		}
	}
	return false
}

// Profile builds the profile record written for a registered identity.
func (r Registration) Profile(id string, now time.Time) Profile {
	base := ProfileBase{
		ID:        id,
		FullName:  strings.TrimSpace(r.FullName),
		Email:     strings.TrimSpace(r.Email),
		Mobile:    strings.TrimSpace(r.Mobile),
		CreatedAt: now,
	}
	switch r.Role {
	case RoleDoctor:
		return DoctorProfile{ProfileBase: base, Specialization: r.Specialization}
	case RoleHospitalAdmin:
		if base.FullName == "" {
			base.FullName = strings.TrimSpace(r.HospitalName)
		}
		return HospitalAdminProfile{
			ProfileBase:  base,
			HospitalName: strings.TrimSpace(r.HospitalName),
			State:        strings.TrimSpace(r.State),
			City:         strings.TrimSpace(r.City),
		}
	case RolePatient:
	}
	return PatientProfile{ProfileBase: base}
}
