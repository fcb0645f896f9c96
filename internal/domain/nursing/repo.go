package nursing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TemplateRepository interface {
	Create(ctx context.Context, t *ChecklistTemplate) error
	GetByID(ctx context.Context, id uuid.UUID) (*ChecklistTemplate, error)
	List(ctx context.Context, limit, offset int) ([]*ChecklistTemplate, int, error)
	AddTask(ctx context.Context, tt *TemplateTask) error
	GetTasks(ctx context.Context, templateID uuid.UUID) ([]*TemplateTask, error)
}

type TaskRepository interface {
	Create(ctx context.Context, t *Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*Task, error)
	Update(ctx context.Context, t *Task) error
	List(ctx context.Context, f TaskFilter, limit, offset int) ([]*Task, int, error)
	// ListOpenMandatory returns mandatory tasks of a reference that are
	// neither completed nor cancelled.
	ListOpenMandatory(ctx context.Context, referenceID uuid.UUID) ([]*Task, error)
	// ExistsForService reports whether a task for the service document,
	// activity and requested start already exists.
	ExistsForService(ctx context.Context, serviceID uuid.UUID, activity string, start time.Time) (bool, error)
	CountForService(ctx context.Context, serviceID uuid.UUID, activity string) (int, error)
	CancelOpen(ctx context.Context, referenceID uuid.UUID) (int64, error)
}
