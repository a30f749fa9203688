package emr

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/domain/appointments"
	"github.com/telemed/telemed/internal/domain/users"
)

const (
	RecordConsultation   = "consultation"
	RecordDiagnosis      = "diagnosis"
	RecordTreatment      = "treatment"
	RecordTestResults    = "test_results"
	RecordVitalSigns     = "vital_signs"
	RecordAllergy        = "allergy"
	RecordTypeMedication = "medication"
	RecordSurgery        = "surgery"
)

var validRecordTypes = map[string]bool{
	RecordConsultation: true, RecordDiagnosis: true, RecordTreatment: true, RecordTestResults: true,
	RecordVitalSigns: true, RecordAllergy: true, RecordTypeMedication: true, RecordSurgery: true,
}

const (
	PrescriptionActive    = "active"
	PrescriptionCompleted = "completed"
	PrescriptionCancelled = "cancelled"
	PrescriptionExpired   = "expired"
)

// DefaultValidity is how long a prescription stays valid when no expiry
// date is given.
const DefaultValidity = 30 * 24 * time.Hour

type VitalSigns struct {
	BloodPressure    *string  `json:"blood_pressure,omitempty"`
	HeartRate        *float64 `json:"heart_rate,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	Weight           *float64 `json:"weight,omitempty"`
	Height           *float64 `json:"height,omitempty"`
	BMI              *float64 `json:"bmi,omitempty"`
	OxygenSaturation *float64 `json:"oxygen_saturation,omitempty"`
}

// DeriveBMI fills BMI from weight (kg) and height (cm) when it is missing.
func (v *VitalSigns) DeriveBMI() {
	if v == nil || v.BMI != nil || v.Weight == nil || v.Height == nil || *v.Height <= 0 {
		return
	}
	m := *v.Height / 100
	bmi := math.Round(*v.Weight/(m*m)*10) / 10
	v.BMI = &bmi
}

type TestResults struct {
	TestName    string     `json:"test_name,omitempty"`
	Result      string     `json:"result,omitempty"`
	NormalRange string     `json:"normal_range,omitempty"`
	Unit        string     `json:"unit,omitempty"`
	Date        *time.Time `json:"date,omitempty"`
}

type RecordMedication struct {
	Name         string `json:"name,omitempty"`
	Dosage       string `json:"dosage,omitempty"`
	Frequency    string `json:"frequency,omitempty"`
	Duration     string `json:"duration,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

type MedicalRecord struct {
	ID             uuid.UUID              `db:"id" json:"id"`
	PatientID      uuid.UUID              `db:"patient_id" json:"patient_id"`
	DoctorID       uuid.UUID              `db:"doctor_id" json:"doctor_id"`
	AppointmentID  *uuid.UUID             `db:"appointment_id" json:"appointment_id,omitempty"`
	Type           string                 `db:"type" json:"type"`
	Title          string                 `db:"title" json:"title"`
	Description    *string                `db:"description" json:"description,omitempty"`
	Symptoms       []string               `db:"symptoms" json:"symptoms"`
	Diagnosis      *string                `db:"diagnosis" json:"diagnosis,omitempty"`
	Treatment      *string                `db:"treatment" json:"treatment,omitempty"`
	Notes          *string                `db:"notes" json:"notes,omitempty"`
	VitalSigns     *VitalSigns            `db:"vital_signs" json:"vital_signs,omitempty"`
	Attachments    []string               `db:"attachments" json:"attachments"`
	TestResults    *TestResults           `db:"test_results" json:"test_results,omitempty"`
	Medications    *RecordMedication      `db:"medications" json:"medications,omitempty"`
	IsConfidential bool                   `db:"is_confidential" json:"is_confidential"`
	Metadata       map[string]interface{} `db:"metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time              `db:"updated_at" json:"updated_at"`

	Patient *users.Summary `db:"-" json:"patient,omitempty"`
	Doctor  *users.Summary `db:"-" json:"doctor,omitempty"`
}

type PrescribedMedication struct {
	MedicationName string `json:"medication_name"`
	GenericName    string `json:"generic_name,omitempty"`
	Strength       string `json:"strength,omitempty"`
	Dosage         string `json:"dosage"`
	Frequency      string `json:"frequency"`
	Duration       string `json:"duration"`
	Quantity       int    `json:"quantity"`
	Instructions   string `json:"instructions,omitempty"`
	Refills        int    `json:"refills"`
}

type Pharmacy struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

type Prescription struct {
	ID                 uuid.UUID              `db:"id" json:"id"`
	PatientID          uuid.UUID              `db:"patient_id" json:"patient_id"`
	DoctorID           uuid.UUID              `db:"doctor_id" json:"doctor_id"`
	AppointmentID      *uuid.UUID             `db:"appointment_id" json:"appointment_id,omitempty"`
	MedicalRecordID    *uuid.UUID             `db:"medical_record_id" json:"medical_record_id,omitempty"`
	PrescriptionNumber string                 `db:"prescription_number" json:"prescription_number"`
	Medications        []PrescribedMedication `db:"medications" json:"medications"`
	Diagnosis          *string                `db:"diagnosis" json:"diagnosis,omitempty"`
	Notes              *string                `db:"notes" json:"notes,omitempty"`
	Status             string                 `db:"status" json:"status"`
	IssueDate          time.Time              `db:"issue_date" json:"issue_date"`
	ExpiryDate         time.Time              `db:"expiry_date" json:"expiry_date"`
	Allergies          []string               `db:"allergies" json:"allergies"`
	Pharmacy           *Pharmacy              `db:"pharmacy" json:"pharmacy,omitempty"`
	PDFURL             *string                `db:"pdf_url" json:"pdf_url,omitempty"`
	Metadata           map[string]interface{} `db:"metadata" json:"metadata,omitempty"`
	CreatedAt          time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time              `db:"updated_at" json:"updated_at"`

	Patient *users.Summary `db:"-" json:"patient,omitempty"`
	Doctor  *users.Summary `db:"-" json:"doctor,omitempty"`
}

// IsExpired reports whether an active prescription is past its expiry.
func (p *Prescription) IsExpired(now time.Time) bool {
	return p.Status == PrescriptionActive && now.After(p.ExpiryDate)
}

type RecordRequest struct {
	PatientID      uuid.UUID              `json:"patient_id"`
	AppointmentID  *uuid.UUID             `json:"appointment_id"`
	Type           string                 `json:"type"`
	Title          string                 `json:"title"`
	Description    *string                `json:"description"`
	Symptoms       []string               `json:"symptoms"`
	Diagnosis      *string                `json:"diagnosis"`
	Treatment      *string                `json:"treatment"`
	Notes          *string                `json:"notes"`
	VitalSigns     *VitalSigns            `json:"vital_signs"`
	Attachments    []string               `json:"attachments"`
	TestResults    *TestResults           `json:"test_results"`
	Medications    *RecordMedication      `json:"medications"`
	IsConfidential bool                   `json:"is_confidential"`
	Metadata       map[string]interface{} `json:"metadata"`
}

// RecordUpdate is a partial update; nil fields are left untouched.
type RecordUpdate struct {
	AppointmentID  *uuid.UUID             `json:"appointment_id"`
	Type           *string                `json:"type"`
	Title          *string                `json:"title"`
	Description    *string                `json:"description"`
	Symptoms       []string               `json:"symptoms"`
	Diagnosis      *string                `json:"diagnosis"`
	Treatment      *string                `json:"treatment"`
	Notes          *string                `json:"notes"`
	VitalSigns     *VitalSigns            `json:"vital_signs"`
	Attachments    []string               `json:"attachments"`
	TestResults    *TestResults           `json:"test_results"`
	Medications    *RecordMedication      `json:"medications"`
	IsConfidential *bool                  `json:"is_confidential"`
	Metadata       map[string]interface{} `json:"metadata"`
}

type PrescriptionRequest struct {
	PatientID       uuid.UUID              `json:"patient_id"`
	AppointmentID   *uuid.UUID             `json:"appointment_id"`
	MedicalRecordID *uuid.UUID             `json:"medical_record_id"`
	Medications     []PrescribedMedication `json:"medications"`
	Diagnosis       *string                `json:"diagnosis"`
	Notes           *string                `json:"notes"`
	IssueDate       *time.Time             `json:"issue_date"`
	ExpiryDate      *time.Time             `json:"expiry_date"`
	Allergies       []string               `json:"allergies"`
	Pharmacy        *Pharmacy              `json:"pharmacy"`
	Metadata        map[string]interface{} `json:"metadata"`
}

type PrescriptionUpdate struct {
	AppointmentID   *uuid.UUID             `json:"appointment_id"`
	MedicalRecordID *uuid.UUID             `json:"medical_record_id"`
	Medications     []PrescribedMedication `json:"medications"`
	Diagnosis       *string                `json:"diagnosis"`
	Notes           *string                `json:"notes"`
	ExpiryDate      *time.Time             `json:"expiry_date"`
	Allergies       []string               `json:"allergies"`
	Pharmacy        *Pharmacy              `json:"pharmacy"`
	Metadata        map[string]interface{} `json:"metadata"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type RecordFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Type      string
}

type PrescriptionFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    string
}

// TimelineEntry is one event in a patient's history.
type TimelineEntry struct {
	Kind   string    `json:"kind"`
	ID     uuid.UUID `json:"id"`
	Date   time.Time `json:"date"`
	Title  string    `json:"title"`
	Status string    `json:"status,omitempty"`
}

type History struct {
	PatientID     uuid.UUID                   `json:"patient_id"`
	Records       []*MedicalRecord            `json:"records"`
	Prescriptions []*Prescription             `json:"prescriptions"`
	Appointments  []*appointments.Appointment `json:"appointments"`
	Timeline      []TimelineEntry             `json:"timeline"`
}

type SummaryCounts struct {
	Records             int `json:"records"`
	Prescriptions       int `json:"prescriptions"`
	ActivePrescriptions int `json:"active_prescriptions"`
	Appointments        int `json:"appointments"`
}

type Summary struct {
	Patient             *users.User               `json:"patient"`
	MedicalHistory      *users.MedicalHistory     `json:"medical_history,omitempty"`
	Counts              SummaryCounts             `json:"counts"`
	ActivePrescriptions []*Prescription           `json:"active_prescriptions"`
	LatestVitalSigns    *VitalSigns               `json:"latest_vital_signs,omitempty"`
	LatestVitalsDate    *time.Time                `json:"latest_vital_signs_date,omitempty"`
	RecentRecords       []*MedicalRecord          `json:"recent_records"`
	NextAppointment     *appointments.Appointment `json:"next_appointment,omitempty"`
}
