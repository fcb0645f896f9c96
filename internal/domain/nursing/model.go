package nursing

import (
	"time"

	"github.com/google/uuid"
)

// Task statuses.
const (
	StatusRequested  = "Requested"
	StatusInProgress = "In Progress"
	StatusCompleted  = "Completed"
	StatusCancelled  = "Cancelled"
)

const (
	ReferenceInpatientRecord = "Inpatient Record"
	ServiceMedicationRequest = "Medication Request"
)

var taskTransitions = map[string][]string{
	StatusRequested:  {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// ChecklistTemplate maps to the nursing_checklist_template table.
type ChecklistTemplate struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Description *string         `db:"description" json:"description,omitempty"`
	IsActive    bool            `db:"is_active" json:"is_active"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
	Tasks       []*TemplateTask `db:"-" json:"tasks,omitempty"`
}

// TemplateTask maps to the nursing_checklist_template_task table.
// TimeOffsetSeconds shifts the requested start from the triggering event,
// forward when PostEvent is set and backward otherwise.
type TemplateTask struct {
	ID                uuid.UUID `db:"id" json:"id"`
	TemplateID        uuid.UUID `db:"template_id" json:"template_id"`
	Activity          string    `db:"activity" json:"activity"`
	Mandatory         bool      `db:"mandatory" json:"mandatory"`
	TimeOffsetSeconds int       `db:"time_offset_seconds" json:"time_offset_seconds"`
	PostEvent         bool      `db:"post_event" json:"post_event"`
	DurationSeconds   int       `db:"duration_seconds" json:"duration_seconds"`
	TaskDoctype       *string   `db:"task_doctype" json:"task_doctype,omitempty"`
	SortOrder         int       `db:"sort_order" json:"sort_order"`
}

// Task maps to the nursing_task table.
type Task struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	Activity           string     `db:"activity" json:"activity"`
	Mandatory          bool       `db:"mandatory" json:"mandatory"`
	Status             string     `db:"status" json:"status"`
	PatientID          uuid.UUID  `db:"patient_id" json:"patient_id"`
	ReferenceDoctype   string     `db:"reference_doctype" json:"reference_doctype"`
	ReferenceID        uuid.UUID  `db:"reference_id" json:"reference_id"`
	ServiceUnitID      *uuid.UUID `db:"service_unit_id" json:"service_unit_id,omitempty"`
	ServiceDoctype     *string    `db:"service_doctype" json:"service_doctype,omitempty"`
	ServiceID          *uuid.UUID `db:"service_id" json:"service_id,omitempty"`
	TaskDoctype        *string    `db:"task_doctype" json:"task_doctype,omitempty"`
	RequestedStartTime time.Time  `db:"requested_start_time" json:"requested_start_time"`
	DurationSeconds    int        `db:"duration_seconds" json:"duration_seconds"`
	CompletedAt        *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CompletedBy        *string    `db:"completed_by" json:"completed_by,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// IsOpen reports whether the task still needs attention.
func (t *Task) IsOpen() bool {
	return t.Status != StatusCompleted && t.Status != StatusCancelled
}

// Target identifies the stay tasks are created for.
type Target struct {
	StayID        uuid.UUID
	PatientID     uuid.UUID
	ServiceUnitID *uuid.UUID
}

// MedicationSchedule describes the administration times of a medication
// request. DoseTimes are "HH:MM" in the schedule's day.
type MedicationSchedule struct {
	MedicationRequestID uuid.UUID
	PatientID           uuid.UUID
	DoseTimes           []string
	PeriodDays          int
}

// TaskFilter narrows task listings.
type TaskFilter struct {
	ReferenceID *uuid.UUID
	PatientID   *uuid.UUID
	Status      string
}
