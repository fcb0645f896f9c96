package inpatient

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists stays together with their occupancy entries, line
// items and the service units they reference.
type Repository interface {
	// WithTx runs fn in a transaction, joining one already carried by ctx.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateStay(ctx context.Context, s *Stay) error
	GetStay(ctx context.Context, id uuid.UUID) (*Stay, error)
	// GetStayForUpdate loads the stay and locks its row until the
	// transaction ends.
	GetStayForUpdate(ctx context.Context, id uuid.UUID) (*Stay, error)
	// UpdateStay writes the stay's own columns. It fails with
	// ErrConcurrentUpdate when the stored version differs from s.Version and
	// increments s.Version on success.
	UpdateStay(ctx context.Context, s *Stay) error
	ListStays(ctx context.Context, f StayFilter, limit, offset int) ([]*Stay, int, error)
	ListStayIDsByStatus(ctx context.Context, statuses ...string) ([]uuid.UUID, error)
	// FindActiveStayForPatient returns the patient's scheduled or admitted
	// stay, or nil when there is none.
	FindActiveStayForPatient(ctx context.Context, patientID uuid.UUID) (*Stay, error)

	AddOccupancy(ctx context.Context, e *OccupancyEntry) error
	UpdateOccupancy(ctx context.Context, e *OccupancyEntry) error
	DeleteOccupancies(ctx context.Context, stayID uuid.UUID) error
	// FindActiveOccupant returns the stay holding a live entry on the unit,
	// or uuid.Nil.
	FindActiveOccupant(ctx context.Context, unitID uuid.UUID) (uuid.UUID, error)

	AddLineItem(ctx context.Context, it *BillableLineItem) error
	UpdateLineItem(ctx context.Context, it *BillableLineItem) error

	CreateServiceUnit(ctx context.Context, u *ServiceUnit) error
	GetServiceUnit(ctx context.Context, id uuid.UUID) (*ServiceUnit, error)
	GetServiceUnitForUpdate(ctx context.Context, id uuid.UUID) (*ServiceUnit, error)
	ListServiceUnits(ctx context.Context, limit, offset int) ([]*ServiceUnit, int, error)
	ListServiceUnitIDs(ctx context.Context) ([]uuid.UUID, error)
	SetUnitStatus(ctx context.Context, id uuid.UUID, status string) error

	CreateServiceUnitType(ctx context.Context, t *ServiceUnitType) error
	GetServiceUnitType(ctx context.Context, id uuid.UUID) (*ServiceUnitType, error)
	ListServiceUnitTypes(ctx context.Context, limit, offset int) ([]*ServiceUnitType, int, error)
}
