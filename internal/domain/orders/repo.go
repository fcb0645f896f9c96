package orders

import (
	"context"

	"github.com/google/uuid"
)

type ServiceRequestRepository interface {
	Create(ctx context.Context, sr *ServiceRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*ServiceRequest, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*ServiceRequest, error)
	Update(ctx context.Context, sr *ServiceRequest) error
	List(ctx context.Context, f Filter) ([]*ServiceRequest, error)
	StampInpatient(ctx context.Context, orderGroup uuid.UUID, recordID uuid.UUID, status string) (int64, error)
}

type MedicationRequestRepository interface {
	Create(ctx context.Context, mr *MedicationRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicationRequest, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*MedicationRequest, error)
	Update(ctx context.Context, mr *MedicationRequest) error
	List(ctx context.Context, f Filter) ([]*MedicationRequest, error)
	StampInpatient(ctx context.Context, orderGroup uuid.UUID, recordID uuid.UUID, status string) (int64, error)
}
