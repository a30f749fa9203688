package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/domain/users"
	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/internal/platform/db"
)

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrForbidden         = errors.New("access to this appointment is not allowed")
	ErrConflict          = errors.New("the doctor already has an appointment at this time")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDoctorUnavailable = errors.New("doctor not found or not accepting appointments")
	ErrInvalid           = errors.New("invalid request")
)

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// transitions lists, per current status, the reachable statuses and the
// roles allowed to move there. Admins may apply any listed transition.
var transitions = map[string]map[string][]string{
	StatusPending: {
		StatusApproved:  {auth.RoleDoctor},
		StatusRejected:  {auth.RoleDoctor},
		StatusCancelled: {auth.RolePatient, auth.RoleDoctor},
	},
	StatusApproved: {
		StatusCompleted: {auth.RoleDoctor},
		StatusCancelled: {auth.RolePatient, auth.RoleDoctor},
	},
}

// UserDirectory resolves the accounts referenced by appointments.
type UserDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*users.User, error)
	GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*users.User, error)
}

type Service struct {
	repo  Repository
	tx    db.TxRunner
	users UserDirectory
	now   func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, dir UserDirectory) *Service {
	return &Service{repo: repo, tx: tx, users: dir, now: time.Now}
}

// Create books an appointment for the calling patient.
func (s *Service) Create(ctx context.Context, p *auth.Principal, req *CreateRequest) (*Appointment, error) {
	if req.DoctorID == uuid.Nil {
		return nil, invalidf("doctor_id is required")
	}
	if req.AppointmentDate.IsZero() {
		return nil, invalidf("appointment_date is required")
	}
	if !req.AppointmentDate.After(s.now()) {
		return nil, invalidf("appointment_date must be in the future")
	}
	if req.Duration == 0 {
		req.Duration = DefaultDuration
	}
	if req.Duration < MinDuration {
		return nil, invalidf("duration must be at least %d minutes", MinDuration)
	}
	if req.Type == "" {
		req.Type = TypeConsultation
	}
	if !validTypes[req.Type] {
		return nil, invalidf("invalid appointment type: %s", req.Type)
	}
	if req.IsEmergency {
		req.Type = TypeEmergency
	}

	doctor, err := s.users.Get(ctx, req.DoctorID)
	if errors.Is(err, users.ErrNotFound) {
		return nil, ErrDoctorUnavailable
	}
	if err != nil {
		return nil, err
	}
	if doctor.Role != auth.RoleDoctor || !doctor.IsActive {
		return nil, ErrDoctorUnavailable
	}

	createdBy := p.UserID
	source := req.Source
	if source == "" {
		source = "web"
	}
	a := &Appointment{
		PatientID:       p.UserID,
		DoctorID:        req.DoctorID,
		AppointmentDate: req.AppointmentDate.UTC(),
		Duration:        req.Duration,
		Type:            req.Type,
		Status:          StatusPending,
		Symptoms:        req.Symptoms,
		Notes:           req.Notes,
		IsEmergency:     req.IsEmergency,
		Metadata:        &Metadata{CreatedBy: &createdBy, Source: source},
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.checkSlot(ctx, a); err != nil {
			return err
		}
		return s.repo.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.populate(ctx, a)
	return a, nil
}

// checkSlot must run inside a transaction so the doctor lock is held until
// the write commits.
func (s *Service) checkSlot(ctx context.Context, a *Appointment) error {
	if err := s.repo.LockDoctor(ctx, a.DoctorID); err != nil {
		return fmt.Errorf("lock doctor calendar: %w", err)
	}
	clash, err := s.repo.FindOverlapping(ctx, a.DoctorID, a.AppointmentDate, a.EndTime(), a.ID)
	if err != nil {
		return err
	}
	if len(clash) > 0 {
		return ErrConflict
	}
	return nil
}

func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*Appointment, int, error) {
	var f Filter
	if status != "" {
		f.Statuses = []string{status}
	}
	items, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	s.populate(ctx, items...)
	return items, total, nil
}

// ListMine returns the caller's appointments: booked ones for patients,
// assigned ones for doctors, everything for admins.
func (s *Service) ListMine(ctx context.Context, p *auth.Principal, status string, limit, offset int) ([]*Appointment, int, error) {
	f := ownFilter(p)
	if status != "" {
		f.Statuses = []string{status}
	}
	items, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	s.populate(ctx, items...)
	return items, total, nil
}

// Upcoming returns the caller's future pending or approved appointments,
// soonest first.
func (s *Service) Upcoming(ctx context.Context, p *auth.Principal, limit int) ([]*Appointment, error) {
	f := ownFilter(p)
	now := s.now()
	f.From = &now
	f.Statuses = activeStatuses
	f.Ascending = true
	items, _, err := s.repo.List(ctx, f, limit, 0)
	if err != nil {
		return nil, err
	}
	s.populate(ctx, items...)
	return items, nil
}

// ForPatient returns every appointment of a patient, newest first.
func (s *Service) ForPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	items, _, err := s.repo.List(ctx, Filter{PatientID: &patientID}, 0, 0)
	if err != nil {
		return nil, err
	}
	s.populate(ctx, items...)
	return items, nil
}

// NextForPatient returns the patient's next pending or approved
// appointment, or nil.
func (s *Service) NextForPatient(ctx context.Context, patientID uuid.UUID) (*Appointment, error) {
	now := s.now()
	items, _, err := s.repo.List(ctx, Filter{
		PatientID: &patientID,
		Statuses:  activeStatuses,
		From:      &now,
		Ascending: true,
	}, 1, 0)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	s.populate(ctx, items[0])
	return items[0], nil
}

func ownFilter(p *auth.Principal) Filter {
	var f Filter
	id := p.UserID
	switch p.Role {
	case auth.RolePatient:
		f.PatientID = &id
	case auth.RoleDoctor:
		f.DoctorID = &id
	}
	return f
}

func (s *Service) Get(ctx context.Context, p *auth.Principal, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && !a.IsParticipant(p.UserID) {
		return nil, ErrForbidden
	}
	s.populate(ctx, a)
	return a, nil
}

// Update applies a partial update. Patients may only reschedule or edit
// their own pending appointments; doctors may record clinical outcome
// fields. A status change goes through the transition table.
func (s *Service) Update(ctx context.Context, p *auth.Principal, id uuid.UUID, req *UpdateRequest) (*Appointment, error) {
	var out *Appointment
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !p.IsAdmin() && !a.IsParticipant(p.UserID) {
			return ErrForbidden
		}

		rescheduled, err := s.applyUpdate(p, a, req)
		if err != nil {
			return err
		}
		if req.Status != nil && *req.Status != a.Status {
			reason := ""
			if req.CancellationReason != nil {
				reason = *req.CancellationReason
			}
			if err := transition(p, a, *req.Status, reason); err != nil {
				return err
			}
		}
		if rescheduled && isActive(a.Status) {
			if err := s.checkSlot(ctx, a); err != nil {
				return err
			}
		}

		touch(a, p)
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.populate(ctx, out)
	return out, nil
}

func (s *Service) applyUpdate(p *auth.Principal, a *Appointment, req *UpdateRequest) (bool, error) {
	patientFields := req.AppointmentDate != nil || req.Duration != nil || req.Type != nil ||
		req.Symptoms != nil || req.IsEmergency != nil
	doctorFields := req.Diagnosis != nil || req.Prescription != nil || req.MeetingLink != nil ||
		req.FollowUpDate != nil

	switch {
	case p.IsAdmin():
	case a.PatientID == p.UserID:
		if doctorFields {
			return false, fmt.Errorf("%w: patients cannot set clinical fields", ErrForbidden)
		}
		if (patientFields || req.Notes != nil) && a.Status != StatusPending {
			return false, invalidf("only pending appointments can be edited")
		}
	case a.DoctorID == p.UserID:
		if patientFields {
			return false, fmt.Errorf("%w: doctors cannot reschedule or edit symptoms", ErrForbidden)
		}
	default:
		return false, ErrForbidden
	}

	rescheduled := false
	if req.AppointmentDate != nil && !req.AppointmentDate.Equal(a.AppointmentDate) {
		if !req.AppointmentDate.After(s.now()) {
			return false, invalidf("appointment_date must be in the future")
		}
		a.AppointmentDate = req.AppointmentDate.UTC()
		rescheduled = true
	}
	if req.Duration != nil && *req.Duration != a.Duration {
		if *req.Duration < MinDuration {
			return false, invalidf("duration must be at least %d minutes", MinDuration)
		}
		a.Duration = *req.Duration
		rescheduled = true
	}
	if req.Type != nil {
		if !validTypes[*req.Type] {
			return false, invalidf("invalid appointment type: %s", *req.Type)
		}
		a.Type = *req.Type
	}
	if req.IsEmergency != nil {
		a.IsEmergency = *req.IsEmergency
	}
	if a.IsEmergency {
		a.Type = TypeEmergency
	}
	setString(&a.Symptoms, req.Symptoms)
	setString(&a.Notes, req.Notes)
	setString(&a.Diagnosis, req.Diagnosis)
	setString(&a.Prescription, req.Prescription)
	setString(&a.MeetingLink, req.MeetingLink)
	if req.FollowUpDate != nil {
		t := req.FollowUpDate.UTC()
		a.FollowUpDate = &t
	}
	return rescheduled, nil
}

func (s *Service) UpdateStatus(ctx context.Context, p *auth.Principal, id uuid.UUID, req *StatusRequest) (*Appointment, error) {
	var out *Appointment
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !p.IsAdmin() && !a.IsParticipant(p.UserID) {
			return ErrForbidden
		}
		if err := transition(p, a, req.Status, req.Reason); err != nil {
			return err
		}
		touch(a, p)
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.populate(ctx, out)
	return out, nil
}

// transition moves a to status when the table allows it for the caller.
func transition(p *auth.Principal, a *Appointment, status, reason string) error {
	allowed, ok := transitions[a.Status][status]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, status)
	}
	if !p.IsAdmin() {
		permitted := false
		for _, role := range allowed {
			if role != p.Role {
				continue
			}
			if (role == auth.RolePatient && a.PatientID == p.UserID) ||
				(role == auth.RoleDoctor && a.DoctorID == p.UserID) {
				permitted = true
			}
		}
		if !permitted {
			return fmt.Errorf("%w: %s cannot move an appointment to %s", ErrForbidden, p.Role, status)
		}
	}

	reason = strings.TrimSpace(reason)
	if (status == StatusCancelled || status == StatusRejected) && reason == "" {
		return invalidf("a reason is required to %s an appointment", verb(status))
	}
	if reason != "" {
		a.CancellationReason = &reason
	}
	a.Status = status
	return nil
}

func verb(status string) string {
	if status == StatusRejected {
		return "reject"
	}
	return "cancel"
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// populate attaches patient and doctor summaries. Lookup failures leave
// the summaries empty.
func (s *Service) populate(ctx context.Context, items ...*Appointment) {
	ids := make([]uuid.UUID, 0, len(items)*2)
	for _, a := range items {
		ids = append(ids, a.PatientID, a.DoctorID)
	}
	found, err := s.users.GetMany(ctx, ids)
	if err != nil {
		return
	}
	for _, a := range items {
		if u, ok := found[a.PatientID]; ok {
			sum := u.Summary()
			a.Patient = &sum
		}
		if u, ok := found[a.DoctorID]; ok {
			sum := u.Summary()
			a.Doctor = &sum
		}
	}
}

func touch(a *Appointment, p *auth.Principal) {
	if a.Metadata == nil {
		a.Metadata = &Metadata{}
	}
	by := p.UserID
	a.Metadata.UpdatedBy = &by
}

func isActive(status string) bool {
	return status == StatusPending || status == StatusApproved
}

func setString(dst **string, v *string) {
	if v == nil {
		return
	}
	if *v == "" {
		*dst = nil
		return
	}
	val := *v
	*dst = &val
}
