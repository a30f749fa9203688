package appointments

import (
	"time"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/domain/users"
)

const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusRejected  = "rejected"
)

const (
	TypeConsultation = "consultation"
	TypeFollowUp     = "follow_up"
	TypeEmergency    = "emergency"
	TypeCheckup      = "checkup"
)

const (
	DefaultDuration = 30
	MinDuration     = 15
)

var validTypes = map[string]bool{
	TypeConsultation: true, TypeFollowUp: true, TypeEmergency: true, TypeCheckup: true,
}

// activeStatuses hold a slot in the doctor's calendar.
var activeStatuses = []string{StatusPending, StatusApproved}

type Metadata struct {
	CreatedBy *uuid.UUID `json:"created_by,omitempty"`
	UpdatedBy *uuid.UUID `json:"updated_by,omitempty"`
	Source    string     `json:"source,omitempty"`
}

type Appointment struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	PatientID          uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID           uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	AppointmentDate    time.Time  `db:"appointment_date" json:"appointment_date"`
	Duration           int        `db:"duration" json:"duration"`
	Type               string     `db:"type" json:"type"`
	Status             string     `db:"status" json:"status"`
	Symptoms           *string    `db:"symptoms" json:"symptoms,omitempty"`
	Notes              *string    `db:"notes" json:"notes,omitempty"`
	Diagnosis          *string    `db:"diagnosis" json:"diagnosis,omitempty"`
	Prescription       *string    `db:"prescription" json:"prescription,omitempty"`
	MeetingLink        *string    `db:"meeting_link" json:"meeting_link,omitempty"`
	CancellationReason *string    `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	IsEmergency        bool       `db:"is_emergency" json:"is_emergency"`
	FollowUpDate       *time.Time `db:"follow_up_date" json:"follow_up_date,omitempty"`
	Metadata           *Metadata  `db:"metadata" json:"metadata,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`

	Patient *users.Summary `db:"-" json:"patient,omitempty"`
	Doctor  *users.Summary `db:"-" json:"doctor,omitempty"`
}

// EndTime is the end of the booked slot.
func (a *Appointment) EndTime() time.Time {
	return a.AppointmentDate.Add(time.Duration(a.Duration) * time.Minute)
}

func (a *Appointment) IsParticipant(userID uuid.UUID) bool {
	return a.PatientID == userID || a.DoctorID == userID
}

// Overlaps reports whether a and the slot [start, end) intersect.
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.AppointmentDate.Before(end) && a.EndTime().After(start)
}

type CreateRequest struct {
	DoctorID        uuid.UUID `json:"doctor_id"`
	AppointmentDate time.Time `json:"appointment_date"`
	Duration        int       `json:"duration"`
	Type            string    `json:"type"`
	Symptoms        *string   `json:"symptoms"`
	Notes           *string   `json:"notes"`
	IsEmergency     bool      `json:"is_emergency"`
	Source          string    `json:"source"`
}

// UpdateRequest carries a partial update. Nil fields are left untouched.
type UpdateRequest struct {
	AppointmentDate    *time.Time `json:"appointment_date"`
	Duration           *int       `json:"duration"`
	Type               *string    `json:"type"`
	Symptoms           *string    `json:"symptoms"`
	Notes              *string    `json:"notes"`
	IsEmergency        *bool      `json:"is_emergency"`
	Diagnosis          *string    `json:"diagnosis"`
	Prescription       *string    `json:"prescription"`
	MeetingLink        *string    `json:"meeting_link"`
	FollowUpDate       *time.Time `json:"follow_up_date"`
	Status             *string    `json:"status"`
	CancellationReason *string    `json:"cancellation_reason"`
}

type StatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Statuses  []string
	From      *time.Time
	Ascending bool
}
