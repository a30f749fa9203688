package emr

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type RecordRepository interface {
	Create(ctx context.Context, r *MedicalRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	Update(ctx context.Context, r *MedicalRecord) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f RecordFilter, limit, offset int) ([]*MedicalRecord, int, error)
}

type PrescriptionRepository interface {
	// Create returns ErrDuplicateNumber when the prescription number is taken.
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	Update(ctx context.Context, p *Prescription) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f PrescriptionFilter, limit, offset int) ([]*Prescription, int, error)
	// ExpireBefore marks active prescriptions whose expiry is before t as
	// expired and returns how many changed.
	ExpireBefore(ctx context.Context, t time.Time) (int64, error)
}
