package emr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/domain/appointments"
	"github.com/telemed/telemed/internal/domain/users"
	"github.com/telemed/telemed/internal/platform/auth"
)

var (
	ErrRecordNotFound       = errors.New("medical record not found")
	ErrPrescriptionNotFound = errors.New("prescription not found")
	ErrPatientNotFound      = errors.New("patient not found")
	ErrForbidden            = errors.New("access denied")
	ErrInvalidTransition    = errors.New("invalid prescription status transition")
	ErrDuplicateNumber      = errors.New("prescription number already exists")
	ErrInvalid              = errors.New("invalid request")
)

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// prescriptionTransitions lists the statuses reachable from each status.
var prescriptionTransitions = map[string]map[string]bool{
	PrescriptionActive: {
		PrescriptionCompleted: true,
		PrescriptionCancelled: true,
		PrescriptionExpired:   true,
	},
}

const numberAttempts = 5

// UserDirectory resolves the accounts referenced by records.
type UserDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*users.User, error)
	GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*users.User, error)
}

// AppointmentSource supplies a patient's appointments for history views.
type AppointmentSource interface {
	ForPatient(ctx context.Context, patientID uuid.UUID) ([]*appointments.Appointment, error)
	NextForPatient(ctx context.Context, patientID uuid.UUID) (*appointments.Appointment, error)
}

type Service struct {
	records       RecordRepository
	prescriptions PrescriptionRepository
	users         UserDirectory
	appointments  AppointmentSource
	now           func() time.Time
	newNumber     func(time.Time) string
}

func NewService(records RecordRepository, rx PrescriptionRepository, dir UserDirectory, appts AppointmentSource) *Service {
	return &Service{
		records:       records,
		prescriptions: rx,
		users:         dir,
		appointments:  appts,
		now:           time.Now,
		newNumber:     PrescriptionNumber,
	}
}

// PrescriptionNumber formats RX-YYYYMMDD-XXXXXX with a random suffix.
func PrescriptionNumber(issued time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("RX-%s-%s", issued.UTC().Format("20060102"), suffix)
}

// PrescriptionPDFPath is the download URL stored on each prescription.
func PrescriptionPDFPath(id uuid.UUID) string {
	return "/api/v1/emr/prescriptions/" + id.String() + "/pdf"
}

// -- Access rules --

// CanViewRecord: admins, the patient, and doctors who wrote the record or
// are its subject.
func CanViewRecord(p *auth.Principal, r *MedicalRecord) bool {
	switch {
	case p.IsAdmin():
		return true
	case p.IsDoctor():
		return r.DoctorID == p.UserID || r.PatientID == p.UserID
	default:
		return r.PatientID == p.UserID
	}
}

// CanViewPrescription: admins, the patient and the issuing doctor.
func CanViewPrescription(p *auth.Principal, rx *Prescription) bool {
	switch {
	case p.IsAdmin():
		return true
	case p.IsDoctor():
		return rx.DoctorID == p.UserID
	default:
		return rx.PatientID == p.UserID
	}
}

func (s *Service) requirePatient(ctx context.Context, id uuid.UUID) (*users.User, error) {
	if id == uuid.Nil {
		return nil, invalidf("patient_id is required")
	}
	u, err := s.users.Get(ctx, id)
	if errors.Is(err, users.ErrNotFound) {
		return nil, ErrPatientNotFound
	}
	return u, err
}

// -- Medical records --

func (s *Service) CreateRecord(ctx context.Context, p *auth.Principal, req *RecordRequest) (*MedicalRecord, error) {
	if !validRecordTypes[req.Type] {
		return nil, invalidf("invalid record type: %s", req.Type)
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, invalidf("title is required")
	}
	if _, err := s.requirePatient(ctx, req.PatientID); err != nil {
		return nil, err
	}

	r := &MedicalRecord{
		PatientID:      req.PatientID,
		DoctorID:       p.UserID,
		AppointmentID:  req.AppointmentID,
		Type:           req.Type,
		Title:          title,
		Description:    req.Description,
		Symptoms:       nonNilStrings(req.Symptoms),
		Diagnosis:      req.Diagnosis,
		Treatment:      req.Treatment,
		Notes:          req.Notes,
		VitalSigns:     req.VitalSigns,
		Attachments:    nonNilStrings(req.Attachments),
		TestResults:    req.TestResults,
		Medications:    req.Medications,
		IsConfidential: req.IsConfidential,
		Metadata:       req.Metadata,
	}
	r.VitalSigns.DeriveBMI()
	if err := s.records.Create(ctx, r); err != nil {
		return nil, err
	}
	s.populateRecords(ctx, r)
	return r, nil
}

func (s *Service) GetRecord(ctx context.Context, p *auth.Principal, id uuid.UUID) (*MedicalRecord, error) {
	r, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanViewRecord(p, r) {
		return nil, ErrForbidden
	}
	s.populateRecords(ctx, r)
	return r, nil
}

func (s *Service) ListRecords(ctx context.Context, f RecordFilter, limit, offset int) ([]*MedicalRecord, int, error) {
	if f.Type != "" && !validRecordTypes[f.Type] {
		return nil, 0, invalidf("invalid record type: %s", f.Type)
	}
	items, total, err := s.records.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	s.populateRecords(ctx, items...)
	return items, total, nil
}

// UpdateRecord lets the authoring doctor amend a record.
func (s *Service) UpdateRecord(ctx context.Context, p *auth.Principal, id uuid.UUID, upd *RecordUpdate) (*MedicalRecord, error) {
	r, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.DoctorID != p.UserID {
		return nil, ErrForbidden
	}

	if upd.Type != nil {
		if !validRecordTypes[*upd.Type] {
			return nil, invalidf("invalid record type: %s", *upd.Type)
		}
		r.Type = *upd.Type
	}
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return nil, invalidf("title must not be empty")
		}
		r.Title = title
	}
	if upd.AppointmentID != nil {
		r.AppointmentID = upd.AppointmentID
	}
	if upd.Description != nil {
		r.Description = upd.Description
	}
	if upd.Symptoms != nil {
		r.Symptoms = upd.Symptoms
	}
	if upd.Diagnosis != nil {
		r.Diagnosis = upd.Diagnosis
	}
	if upd.Treatment != nil {
		r.Treatment = upd.Treatment
	}
	if upd.Notes != nil {
		r.Notes = upd.Notes
	}
	if upd.VitalSigns != nil {
		r.VitalSigns = upd.VitalSigns
		r.VitalSigns.DeriveBMI()
	}
	if upd.Attachments != nil {
		r.Attachments = upd.Attachments
	}
	if upd.TestResults != nil {
		r.TestResults = upd.TestResults
	}
	if upd.Medications != nil {
		r.Medications = upd.Medications
	}
	if upd.IsConfidential != nil {
		r.IsConfidential = *upd.IsConfidential
	}
	if upd.Metadata != nil {
		r.Metadata = upd.Metadata
	}

	if err := s.records.Update(ctx, r); err != nil {
		return nil, err
	}
	s.populateRecords(ctx, r)
	return r, nil
}

// DeleteRecord is allowed to admins and the authoring doctor.
func (s *Service) DeleteRecord(ctx context.Context, p *auth.Principal, id uuid.UUID) error {
	r, err := s.records.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !p.IsAdmin() && r.DoctorID != p.UserID {
		return ErrForbidden
	}
	return s.records.Delete(ctx, id)
}

// -- Prescriptions --

func (s *Service) CreatePrescription(ctx context.Context, p *auth.Principal, req *PrescriptionRequest) (*Prescription, error) {
	if err := validateMedications(req.Medications); err != nil {
		return nil, err
	}
	if _, err := s.requirePatient(ctx, req.PatientID); err != nil {
		return nil, err
	}

	issue := s.now().UTC()
	if req.IssueDate != nil {
		issue = req.IssueDate.UTC()
	}
	expiry := issue.Add(DefaultValidity)
	if req.ExpiryDate != nil {
		expiry = req.ExpiryDate.UTC()
	}
	if !expiry.After(issue) {
		return nil, invalidf("expiry_date must be after issue_date")
	}

	id := uuid.New()
	pdfURL := PrescriptionPDFPath(id)
	rx := &Prescription{
		ID:              id,
		PatientID:       req.PatientID,
		DoctorID:        p.UserID,
		AppointmentID:   req.AppointmentID,
		MedicalRecordID: req.MedicalRecordID,
		Medications:     req.Medications,
		Diagnosis:       req.Diagnosis,
		Notes:           req.Notes,
		Status:          PrescriptionActive,
		IssueDate:       issue,
		ExpiryDate:      expiry,
		Allergies:       nonNilStrings(req.Allergies),
		Pharmacy:        req.Pharmacy,
		PDFURL:          &pdfURL,
		Metadata:        req.Metadata,
	}

	var err error
	for attempt := 0; attempt < numberAttempts; attempt++ {
		rx.PrescriptionNumber = s.newNumber(issue)
		err = s.prescriptions.Create(ctx, rx)
		if !errors.Is(err, ErrDuplicateNumber) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	s.populatePrescriptions(ctx, rx)
	return rx, nil
}

func validateMedications(meds []PrescribedMedication) error {
	if len(meds) == 0 {
		return invalidf("at least one medication is required")
	}
	for i, m := range meds {
		if strings.TrimSpace(m.MedicationName) == "" || strings.TrimSpace(m.Dosage) == "" ||
			strings.TrimSpace(m.Frequency) == "" || strings.TrimSpace(m.Duration) == "" {
			return invalidf("medications[%d]: medication_name, dosage, frequency and duration are required", i)
		}
		if m.Quantity < 1 {
			return invalidf("medications[%d]: quantity must be at least 1", i)
		}
		if m.Refills < 0 {
			return invalidf("medications[%d]: refills must not be negative", i)
		}
	}
	return nil
}

func (s *Service) GetPrescription(ctx context.Context, p *auth.Principal, id uuid.UUID) (*Prescription, error) {
	rx, err := s.prescriptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanViewPrescription(p, rx) {
		return nil, ErrForbidden
	}
	s.populatePrescriptions(ctx, rx)
	return rx, nil
}

func (s *Service) ListPrescriptions(ctx context.Context, f PrescriptionFilter, limit, offset int) ([]*Prescription, int, error) {
	items, total, err := s.prescriptions.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	s.populatePrescriptions(ctx, items...)
	return items, total, nil
}

// MyPrescriptions returns the prescriptions a doctor issued, or those a
// patient received.
func (s *Service) MyPrescriptions(ctx context.Context, p *auth.Principal, status string, limit, offset int) ([]*Prescription, int, error) {
	id := p.UserID
	f := PrescriptionFilter{Status: status}
	if p.IsDoctor() {
		f.DoctorID = &id
	} else {
		f.PatientID = &id
	}
	return s.ListPrescriptions(ctx, f, limit, offset)
}

// UpdatePrescription lets the issuing doctor amend an active prescription.
func (s *Service) UpdatePrescription(ctx context.Context, p *auth.Principal, id uuid.UUID, upd *PrescriptionUpdate) (*Prescription, error) {
	rx, err := s.prescriptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rx.DoctorID != p.UserID {
		return nil, ErrForbidden
	}
	if rx.Status != PrescriptionActive {
		return nil, invalidf("only active prescriptions can be edited")
	}

	if upd.Medications != nil {
		if err := validateMedications(upd.Medications); err != nil {
			return nil, err
		}
		rx.Medications = upd.Medications
	}
	if upd.ExpiryDate != nil {
		expiry := upd.ExpiryDate.UTC()
		if !expiry.After(rx.IssueDate) {
			return nil, invalidf("expiry_date must be after issue_date")
		}
		rx.ExpiryDate = expiry
	}
	if upd.AppointmentID != nil {
		rx.AppointmentID = upd.AppointmentID
	}
	if upd.MedicalRecordID != nil {
		rx.MedicalRecordID = upd.MedicalRecordID
	}
	if upd.Diagnosis != nil {
		rx.Diagnosis = upd.Diagnosis
	}
	if upd.Notes != nil {
		rx.Notes = upd.Notes
	}
	if upd.Allergies != nil {
		rx.Allergies = upd.Allergies
	}
	if upd.Pharmacy != nil {
		rx.Pharmacy = upd.Pharmacy
	}
	if upd.Metadata != nil {
		rx.Metadata = upd.Metadata
	}

	if err := s.prescriptions.Update(ctx, rx); err != nil {
		return nil, err
	}
	s.populatePrescriptions(ctx, rx)
	return rx, nil
}

// UpdatePrescriptionStatus moves an active prescription to a final state.
// Only the issuing doctor or an admin may do so.
func (s *Service) UpdatePrescriptionStatus(ctx context.Context, p *auth.Principal, id uuid.UUID, status string) (*Prescription, error) {
	rx, err := s.prescriptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && rx.DoctorID != p.UserID {
		return nil, ErrForbidden
	}
	if !prescriptionTransitions[rx.Status][status] {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rx.Status, status)
	}
	if err := s.prescriptions.UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}
	rx.Status = status
	s.populatePrescriptions(ctx, rx)
	return rx, nil
}

// DeletePrescription is allowed to admins and the issuing doctor.
func (s *Service) DeletePrescription(ctx context.Context, p *auth.Principal, id uuid.UUID) error {
	rx, err := s.prescriptions.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !p.IsAdmin() && rx.DoctorID != p.UserID {
		return ErrForbidden
	}
	return s.prescriptions.Delete(ctx, id)
}

// ExpireOverdue marks every active prescription past its expiry date as
// expired.
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	return s.prescriptions.ExpireBefore(ctx, s.now().UTC())
}

// -- Population --

func (s *Service) populateRecords(ctx context.Context, items ...*MedicalRecord) {
	ids := make([]uuid.UUID, 0, len(items)*2)
	for _, r := range items {
		ids = append(ids, r.PatientID, r.DoctorID)
	}
	found, err := s.users.GetMany(ctx, ids)
	if err != nil {
		return
	}
	for _, r := range items {
		r.Patient = summaryOf(found, r.PatientID)
		r.Doctor = summaryOf(found, r.DoctorID)
	}
}

func (s *Service) populatePrescriptions(ctx context.Context, items ...*Prescription) {
	ids := make([]uuid.UUID, 0, len(items)*2)
	for _, rx := range items {
		ids = append(ids, rx.PatientID, rx.DoctorID)
	}
	found, err := s.users.GetMany(ctx, ids)
	if err != nil {
		return
	}
	for _, rx := range items {
		rx.Patient = summaryOf(found, rx.PatientID)
		rx.Doctor = summaryOf(found, rx.DoctorID)
	}
}

func summaryOf(found map[uuid.UUID]*users.User, id uuid.UUID) *users.Summary {
	u, ok := found[id]
	if !ok {
		return nil
	}
	sum := u.Summary()
	return &sum
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
