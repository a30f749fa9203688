package users

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MedicalHistory is stored as JSONB on the users row.
type MedicalHistory struct {
	Allergies   []string `json:"allergies,omitempty"`
	Medications []string `json:"medications,omitempty"`
	Conditions  []string `json:"conditions,omitempty"`
	Surgeries   []string `json:"surgeries,omitempty"`
}

type User struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	FirstName      string          `db:"first_name" json:"first_name"`
	LastName       string          `db:"last_name" json:"last_name"`
	Email          string          `db:"email" json:"email"`
	PasswordHash   string          `db:"password_hash" json:"-"`
	Role           string          `db:"role" json:"role"`
	PhoneNumber    *string         `db:"phone_number" json:"phone_number,omitempty"`
	DateOfBirth    *time.Time      `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Gender         *string         `db:"gender" json:"gender,omitempty"`
	Address        *string         `db:"address" json:"address,omitempty"`
	Specialization *string         `db:"specialization" json:"specialization,omitempty"`
	LicenseNumber  *string         `db:"license_number" json:"license_number,omitempty"`
	ProfilePicture *string         `db:"profile_picture" json:"profile_picture,omitempty"`
	IsActive       bool            `db:"is_active" json:"is_active"`
	LastLogin      *time.Time      `db:"last_login" json:"last_login,omitempty"`
	MedicalHistory *MedicalHistory `db:"medical_history" json:"medical_history,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Summary is the public card of a user embedded in other resources.
type Summary struct {
	ID             uuid.UUID `json:"id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	Specialization *string   `json:"specialization,omitempty"`
	ProfilePicture *string   `json:"profile_picture,omitempty"`
}

func (u *User) Summary() Summary {
	return Summary{
		ID:             u.ID,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Email:          u.Email,
		Role:           u.Role,
		Specialization: u.Specialization,
		ProfilePicture: u.ProfilePicture,
	}
}

type RegisterRequest struct {
	FirstName      string  `json:"first_name"`
	LastName       string  `json:"last_name"`
	Email          string  `json:"email"`
	Password       string  `json:"password"`
	Role           string  `json:"role"`
	PhoneNumber    *string `json:"phone_number"`
	DateOfBirth    *string `json:"date_of_birth"`
	Gender         *string `json:"gender"`
	Address        *string `json:"address"`
	Specialization *string `json:"specialization"`
	LicenseNumber  *string `json:"license_number"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user"`
}

// ProfileUpdate carries the fields a user may change on their own
// account. Nil fields are left untouched.
type ProfileUpdate struct {
	FirstName      *string         `json:"first_name"`
	LastName       *string         `json:"last_name"`
	PhoneNumber    *string         `json:"phone_number"`
	DateOfBirth    *string         `json:"date_of_birth"`
	Gender         *string         `json:"gender"`
	Address        *string         `json:"address"`
	Specialization *string         `json:"specialization"`
	LicenseNumber  *string         `json:"license_number"`
	ProfilePicture *string         `json:"profile_picture"`
	MedicalHistory *MedicalHistory `json:"medical_history"`
}

// AdminUpdate extends ProfileUpdate with the fields only an admin may set.
type AdminUpdate struct {
	ProfileUpdate
	Role     *string `json:"role"`
	IsActive *bool   `json:"is_active"`
}

// ListFilter narrows List.
type ListFilter struct {
	Role       string
	ActiveOnly bool
}

// ParseDate accepts a calendar date or an RFC 3339 timestamp.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
