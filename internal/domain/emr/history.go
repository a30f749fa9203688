package emr

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/domain/appointments"
)

const recentRecords = 5

// History collects a patient's records, prescriptions and appointments,
// each newest first, plus a merged timeline.
func (s *Service) History(ctx context.Context, patientID uuid.UUID) (*History, error) {
	if _, err := s.requirePatient(ctx, patientID); err != nil {
		return nil, err
	}

	records, _, err := s.ListRecords(ctx, RecordFilter{PatientID: &patientID}, 0, 0)
	if err != nil {
		return nil, err
	}
	rxs, _, err := s.ListPrescriptions(ctx, PrescriptionFilter{PatientID: &patientID}, 0, 0)
	if err != nil {
		return nil, err
	}
	appts, err := s.appointments.ForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	h := &History{
		PatientID:     patientID,
		Records:       records,
		Prescriptions: rxs,
		Appointments:  appts,
	}
	if h.Records == nil {
		h.Records = []*MedicalRecord{}
	}
	if h.Prescriptions == nil {
		h.Prescriptions = []*Prescription{}
	}
	if h.Appointments == nil {
		h.Appointments = []*appointments.Appointment{}
	}

	for _, r := range records {
		h.Timeline = append(h.Timeline, TimelineEntry{Kind: "medical_record", ID: r.ID, Date: r.CreatedAt, Title: r.Title})
	}
	for _, rx := range rxs {
		h.Timeline = append(h.Timeline, TimelineEntry{
			Kind: "prescription", ID: rx.ID, Date: rx.IssueDate, Title: rx.PrescriptionNumber, Status: rx.Status,
		})
	}
	for _, a := range appts {
		h.Timeline = append(h.Timeline, TimelineEntry{
			Kind: "appointment", ID: a.ID, Date: a.AppointmentDate, Title: a.Type, Status: a.Status,
		})
	}
	sort.SliceStable(h.Timeline, func(i, j int) bool { return h.Timeline[i].Date.After(h.Timeline[j].Date) })
	if h.Timeline == nil {
		h.Timeline = []TimelineEntry{}
	}
	return h, nil
}

// Summary condenses a patient's chart for the dashboard.
func (s *Service) Summary(ctx context.Context, patientID uuid.UUID) (*Summary, error) {
	patient, err := s.requirePatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	records, recordTotal, err := s.records.List(ctx, RecordFilter{PatientID: &patientID}, 0, 0)
	if err != nil {
		return nil, err
	}
	rxs, rxTotal, err := s.prescriptions.List(ctx, PrescriptionFilter{PatientID: &patientID}, 0, 0)
	if err != nil {
		return nil, err
	}
	appts, err := s.appointments.ForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	next, err := s.appointments.NextForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		Patient:             patient,
		MedicalHistory:      patient.MedicalHistory,
		ActivePrescriptions: []*Prescription{},
		RecentRecords:       []*MedicalRecord{},
		NextAppointment:     next,
		Counts: SummaryCounts{
			Records:       recordTotal,
			Prescriptions: rxTotal,
			Appointments:  len(appts),
		},
	}

	now := s.now()
	for _, rx := range rxs {
		if rx.Status == PrescriptionActive && !rx.IsExpired(now) {
			sum.ActivePrescriptions = append(sum.ActivePrescriptions, rx)
		}
	}
	sum.Counts.ActivePrescriptions = len(sum.ActivePrescriptions)

	// records are newest first
	for _, r := range records {
		if r.VitalSigns != nil {
			sum.LatestVitalSigns = r.VitalSigns
			at := r.CreatedAt
			sum.LatestVitalsDate = &at
			break
		}
	}
	if len(records) > recentRecords {
		records = records[:recentRecords]
	}
	sum.RecentRecords = append(sum.RecentRecords, records...)

	s.populateRecords(ctx, sum.RecentRecords...)
	s.populatePrescriptions(ctx, sum.ActivePrescriptions...)
	return sum, nil
}
