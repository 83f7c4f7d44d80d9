package types

import "time"

// UserRole represents the different actor roles known to the clinic
type UserRole string

const (
	RolePatient UserRole = "PATIENT"
	RoleDoctor  UserRole = "DOCTOR"
	RoleNurse   UserRole = "NURSE"
	RoleAdmin   UserRole = "ADMIN"
)

// Valid reports whether the role is one of the known roles
func (r UserRole) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleNurse, RoleAdmin:
		return true
	}
	return false
}

// Identity is the current actor as supplied by the identity provider.
// Doctor and patient profiles are keyed by the user id, so for those roles
// ID is also the doctor or patient id.
type Identity struct {
	ID   int64    `json:"id"`
	Role UserRole `json:"role"`
}

// Doctor represents a doctor profile from the directory
type Doctor struct {
	ID             int64     `json:"id" db:"id"`
	FullName       string    `json:"full_name" db:"full_name"`
	Email          string    `json:"email" db:"email"`
	Specialization string    `json:"specialization" db:"specialization"`
	LicenseNumber  string    `json:"license_number,omitempty" db:"license_number"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// DisplayName returns the name shown to patients
func (d *Doctor) DisplayName() string {
	return "Dr. " + d.FullName
}

// Patient represents a patient profile from the directory
type Patient struct {
	ID        int64     `json:"id" db:"id"`
	FullName  string    `json:"full_name" db:"full_name"`
	Email     string    `json:"email" db:"email"`
	Phone     string    `json:"phone,omitempty" db:"phone"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Nurse represents a nurse profile; a nurse works the queue of one doctor
type Nurse struct {
	ID               int64  `json:"id" db:"id"`
	FullName         string `json:"full_name" db:"full_name"`
	AssignedDoctorID *int64 `json:"assigned_doctor_id,omitempty" db:"assigned_doctor_id"`
}

// Specializations offered by the clinic
const (
	SpecializationCardiology  = "CARDIOLOGY"
	SpecializationDermatology = "DERMATOLOGY"
	SpecializationNeurology   = "NEUROLOGY"
	SpecializationOrthopedics = "ORTHOPEDICS"
	SpecializationPediatrics  = "PEDIATRICS"
	SpecializationPsychiatry  = "PSYCHIATRY"
	SpecializationGeneral     = "GENERAL"
)
