package encounter

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, enc *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	Update(ctx context.Context, enc *Encounter) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error)
	SetInpatient(ctx context.Context, id uuid.UUID, recordID *uuid.UUID, status *string) error
	ListIDsByInpatientRecord(ctx context.Context, recordID uuid.UUID) ([]uuid.UUID, error)
}
