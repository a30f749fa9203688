package emr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/domain/users"
	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/internal/platform/pdf"
)

const (
	dateLayout      = "January 2, 2006"
	timestampLayout = "January 2, 2006 15:04 MST"
)

// PrescriptionPDF renders a prescription the caller is allowed to view.
func (s *Service) PrescriptionPDF(ctx context.Context, p *auth.Principal, id uuid.UUID) ([]byte, *Prescription, error) {
	rx, err := s.GetPrescription(ctx, p, id)
	if err != nil {
		return nil, nil, err
	}
	patient, doctor, err := s.parties(ctx, rx.PatientID, rx.DoctorID)
	if err != nil {
		return nil, nil, err
	}
	out, err := RenderPrescription(rx, patient, doctor, s.now())
	if err != nil {
		return nil, nil, err
	}
	return out, rx, nil
}

// RecordPDF renders a medical record the caller is allowed to view.
func (s *Service) RecordPDF(ctx context.Context, p *auth.Principal, id uuid.UUID) ([]byte, *MedicalRecord, error) {
	r, err := s.GetRecord(ctx, p, id)
	if err != nil {
		return nil, nil, err
	}
	patient, doctor, err := s.parties(ctx, r.PatientID, r.DoctorID)
	if err != nil {
		return nil, nil, err
	}
	out, err := RenderRecord(r, patient, doctor, s.now())
	if err != nil {
		return nil, nil, err
	}
	return out, r, nil
}

// parties loads the full patient and doctor accounts. Deleted accounts are
// rendered as unknown.
func (s *Service) parties(ctx context.Context, patientID, doctorID uuid.UUID) (*users.User, *users.User, error) {
	load := func(id uuid.UUID) (*users.User, error) {
		u, err := s.users.Get(ctx, id)
		if errors.Is(err, users.ErrNotFound) {
			return &users.User{ID: id, FirstName: "Unknown"}, nil
		}
		return u, err
	}
	patient, err := load(patientID)
	if err != nil {
		return nil, nil, err
	}
	doctor, err := load(doctorID)
	if err != nil {
		return nil, nil, err
	}
	return patient, doctor, nil
}

// RenderPrescription lays out a printable prescription.
func RenderPrescription(rx *Prescription, patient, doctor *users.User, now time.Time) ([]byte, error) {
	doc := pdf.New("Prescription "+rx.PrescriptionNumber, "Dr. "+doctor.FullName())

	doc.Title("PRESCRIPTION").
		Field("Prescription Number", rx.PrescriptionNumber).
		Field("Issue Date", rx.IssueDate.Format(dateLayout)).
		Field("Expiry Date", rx.ExpiryDate.Format(dateLayout))

	doc.Heading("Patient Information:").
		Field("Name", patient.FullName()).
		Field("Email", patient.Email).
		Field("Phone", deref(patient.PhoneNumber))
	if patient.DateOfBirth != nil {
		doc.Field("Date of Birth", patient.DateOfBirth.Format(dateLayout))
	}

	doc.Heading("Prescribed By:").
		Field("Name", "Dr. "+doctor.FullName()).
		Field("Specialization", orNA(doctor.Specialization)).
		Field("License", deref(doctor.LicenseNumber))

	if rx.Diagnosis != nil && *rx.Diagnosis != "" {
		doc.Heading("Diagnosis:").Text(*rx.Diagnosis)
	}

	doc.Heading("Medications:")
	for i, m := range rx.Medications {
		doc.Textf("%d. %s", i+1, m.MedicationName)
		if m.GenericName != "" {
			doc.Indent("Generic: " + m.GenericName)
		}
		if m.Strength != "" {
			doc.Indent("Strength: " + m.Strength)
		}
		doc.Indent("Dosage: " + m.Dosage).
			Indent("Frequency: " + m.Frequency).
			Indent("Duration: " + m.Duration).
			Indent("Quantity: " + strconv.Itoa(m.Quantity))
		if m.Instructions != "" {
			doc.Indent("Instructions: " + m.Instructions)
		}
		if m.Refills > 0 {
			doc.Indent("Refills: " + strconv.Itoa(m.Refills))
		}
		doc.Space(0.5)
	}

	if rx.Notes != nil && *rx.Notes != "" {
		doc.Heading("Additional Notes:").Text(*rx.Notes)
	}
	if len(rx.Allergies) > 0 {
		doc.Heading("Known Allergies:").Text(strings.Join(rx.Allergies, ", "))
	}
	if rx.Pharmacy != nil && rx.Pharmacy.Name != "" {
		doc.Heading("Pharmacy Information:").
			Field("Name", rx.Pharmacy.Name).
			Field("Address", rx.Pharmacy.Address).
			Field("Phone", rx.Pharmacy.Phone)
	}

	doc.Space(2).
		Small("This prescription is electronically generated and valid only when presented with proper identification.").
		Small("Generated on: " + now.Format(timestampLayout)).
		Signature("Doctor's Signature")

	return doc.Bytes()
}

// RenderRecord lays out a printable medical record.
func RenderRecord(r *MedicalRecord, patient, doctor *users.User, now time.Time) ([]byte, error) {
	doc := pdf.New("Medical Record "+r.ID.String(), "Dr. "+doctor.FullName())

	doc.Title("MEDICAL RECORD").
		Field("Record Type", strings.ToUpper(strings.ReplaceAll(r.Type, "_", " "))).
		Field("Date", r.CreatedAt.Format(dateLayout))

	doc.Heading("Patient Information:").
		Field("Name", patient.FullName()).
		Field("Email", patient.Email)

	doc.Heading("Attending Physician:").
		Field("Name", "Dr. "+doctor.FullName()).
		Field("Specialization", orNA(doctor.Specialization))

	doc.Heading("Medical Record Details:").
		Field("Title", r.Title).
		Field("Description", deref(r.Description)).
		Field("Symptoms", strings.Join(r.Symptoms, ", ")).
		Field("Diagnosis", deref(r.Diagnosis)).
		Field("Treatment", deref(r.Treatment))

	if v := r.VitalSigns; v != nil {
		doc.Heading("Vital Signs:").
			Field("Blood Pressure", deref(v.BloodPressure)).
			Field("Heart Rate", measure(v.HeartRate, "bpm")).
			Field("Temperature", measure(v.Temperature, "°C")).
			Field("Weight", measure(v.Weight, "kg")).
			Field("Height", measure(v.Height, "cm")).
			Field("BMI", measure(v.BMI, "")).
			Field("Oxygen Saturation", measure(v.OxygenSaturation, "%"))
	}

	if t := r.TestResults; t != nil && t.TestName != "" {
		doc.Heading("Test Results:").
			Field("Test", t.TestName).
			Field("Result", strings.TrimSpace(t.Result+" "+t.Unit)).
			Field("Normal Range", t.NormalRange)
		if t.Date != nil {
			doc.Field("Date", t.Date.Format(dateLayout))
		}
	}

	if m := r.Medications; m != nil && m.Name != "" {
		doc.Heading("Medications:").
			Field("Name", m.Name).
			Field("Dosage", m.Dosage).
			Field("Frequency", m.Frequency).
			Field("Duration", m.Duration).
			Field("Instructions", m.Instructions)
	}

	if r.Notes != nil && *r.Notes != "" {
		doc.Heading("Notes:").Text(*r.Notes)
	}

	doc.Space(2).
		Small("This medical record is electronically generated and confidential.").
		Small("Generated on: " + now.Format(timestampLayout))

	return doc.Bytes()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orNA(s *string) string {
	if s == nil || *s == "" {
		return "N/A"
	}
	return *s
}

func measure(v *float64, unit string) string {
	if v == nil {
		return ""
	}
	out := strconv.FormatFloat(*v, 'f', -1, 64)
	if unit == "" {
		return out
	}
	if unit == "%" || unit == "°C" {
		return out + unit
	}
	return fmt.Sprintf("%s %s", out, unit)
}
