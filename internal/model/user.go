package model

import (
	"database/sql"
	"strings"
	"time"
)

// User type constants
const (
	UserTypeDoctor       = "doctor"
	UserTypeOrganization = "organization"
)

// User is an account in the shared store. Organizations have no names or
// specialization on the user row.
type User struct {
	ID             int64          `json:"id" db:"id"`
	Email          string         `json:"email" db:"email"`
	PasswordHash   string         `json:"-" db:"password"`
	FirstName      sql.NullString `json:"-" db:"first_name"`
	LastName       sql.NullString `json:"-" db:"last_name"`
	Specialization sql.NullString `json:"-" db:"specialization"`
	Type           string         `json:"type" db:"user_type"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// DisplayName joins first and last name, trimming the blanks organizations have.
func (u *User) DisplayName() string {
	return strings.TrimSpace(u.FirstName.String + " " + u.LastName.String)
}

type Doctor struct {
	ID             int64         `json:"id" db:"id"`
	UserID         int64         `json:"user_id" db:"user_id"`
	OrganizationID sql.NullInt64 `json:"-" db:"organization_id"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}

// DoctorProfile is a doctor joined with its user row.
type DoctorProfile struct {
	Doctor
	Email          string         `db:"email"`
	FirstName      string         `db:"first_name"`
	LastName       string         `db:"last_name"`
	Specialization sql.NullString `db:"specialization"`
}

type Organization struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Type      string    `json:"type" db:"type"`
	UserID    int64     `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NormalizeEmail lower-cases and trims an address. Emails are stored and
// looked up in this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignupDoctorRequest is the payload of POST /api/signup/doctor.
type SignupDoctorRequest struct {
	Email          string `json:"email" validate:"required,email"`
	Password       string `json:"password" validate:"required,max=72"`
	FirstName      string `json:"firstName" validate:"required"`
	LastName       string `json:"lastName" validate:"required"`
	Specialization string `json:"specialization" validate:"required"`
}

// SignupOrganizationRequest is the payload of POST /api/signup/organization.
type SignupOrganizationRequest struct {
	Name     string `json:"name" validate:"required"`
	Type     string `json:"type" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=72"`
}

// AffiliateDoctorRequest adds an existing doctor to the caller's organization.
type AffiliateDoctorRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// SignupResponse carries the id of the created owning row.
type SignupResponse struct {
	ID int64 `json:"id"`
}
