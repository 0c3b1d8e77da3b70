package clinic

import (
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
)

const (
	profilesCollection  = "profiles"
	doctorsCollection   = "doctors"
	hospitalsCollection = "hospitals"
	patientsCollection  = "patients"
)

func ProfilePath(identityID string) string {
	return directory.Join(profilesCollection, identityID)
}

func HospitalPath(hospitalID string) string {
	return directory.Join(hospitalsCollection, hospitalID)
}

// DoctorPatientsPath is the roster collection of a doctor.
func DoctorPatientsPath(doctorID string) string {
	return directory.Join(doctorsCollection, doctorID, patientsCollection)
}

// HospitalDoctorsPath is the roster collection of a hospital.
func HospitalDoctorsPath(hospitalID string) string {
	return directory.Join(hospitalsCollection, hospitalID, doctorsCollection)
}

// GlobalPatientPath is the cross-doctor record keyed by mobile number.
func GlobalPatientPath(mobile string) string {
	return directory.Join(patientsCollection, mobile)
}

// RosterPath returns the roster collection an owner of the given role manages.
func RosterPath(role Role, ownerID string) (string, bool) {
	switch role {
	case RoleDoctor:
		return DoctorPatientsPath(ownerID), true
	case RoleHospitalAdmin:
		return HospitalDoctorsPath(ownerID), true
	case RolePatient:
		return "", false
	}
	return "", false
}
