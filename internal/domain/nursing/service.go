package nursing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/inpatient/internal/platform/clock"
)

var ErrNotFound = errors.New("nursing record not found")

// Settings controls checklist enforcement and medication task creation.
type Settings struct {
	ValidateChecklists        bool
	DefaultMedicationActivity string
}

type Service struct {
	templates TemplateRepository
	tasks     TaskRepository
	settings  Settings
	clock     clock.Clock
}

func NewService(templates TemplateRepository, tasks TaskRepository, settings Settings) *Service {
	return &Service{templates: templates, tasks: tasks, settings: settings, clock: clock.NewSystem()}
}

// SetClock replaces the time source used for task scheduling.
func (s *Service) SetClock(c clock.Clock) {
	s.clock = c
}

// -- Checklist Template --

func (s *Service) CreateTemplate(ctx context.Context, t *ChecklistTemplate) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if err := s.templates.Create(ctx, t); err != nil {
		return err
	}
	for i, tt := range t.Tasks {
		tt.TemplateID = t.ID
		if tt.SortOrder == 0 {
			tt.SortOrder = i + 1
		}
		if err := s.AddTemplateTask(ctx, tt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) GetTemplate(ctx context.Context, id uuid.UUID) (*ChecklistTemplate, error) {
	t, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	tasks, err := s.templates.GetTasks(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Tasks = tasks
	return t, nil
}

func (s *Service) ListTemplates(ctx context.Context, limit, offset int) ([]*ChecklistTemplate, int, error) {
	return s.templates.List(ctx, limit, offset)
}

func (s *Service) AddTemplateTask(ctx context.Context, tt *TemplateTask) error {
	if tt.TemplateID == uuid.Nil {
		return fmt.Errorf("template_id is required")
	}
	if strings.TrimSpace(tt.Activity) == "" {
		return fmt.Errorf("activity is required")
	}
	if tt.TimeOffsetSeconds < 0 || tt.DurationSeconds < 0 {
		return fmt.Errorf("time_offset_seconds and duration_seconds must not be negative")
	}
	return s.templates.AddTask(ctx, tt)
}

// -- Tasks --

func (s *Service) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	return s.tasks.GetByID(ctx, id)
}

func (s *Service) ListTasks(ctx context.Context, f TaskFilter, limit, offset int) ([]*Task, int, error) {
	return s.tasks.List(ctx, f, limit, offset)
}

// UpdateTaskStatus moves a task along its lifecycle. Completed tasks cannot
// be cancelled.
func (s *Service) UpdateTaskStatus(ctx context.Context, id uuid.UUID, status, by string) (*Task, error) {
	t, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, next := range taskTransitions[t.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("cannot move nursing task from %q to %q", t.Status, status)
	}
	t.Status = status
	if status == StatusCompleted {
		now := s.clock.Now()
		t.CompletedAt = &now
		if by != "" {
			t.CompletedBy = &by
		}
	}
	if err := s.tasks.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// OutstandingMandatoryTasks lists the mandatory tasks of a stay that are
// neither completed nor cancelled. It returns nothing when checklist
// validation is disabled.
func (s *Service) OutstandingMandatoryTasks(ctx context.Context, stayID uuid.UUID) ([]string, error) {
	if !s.settings.ValidateChecklists {
		return nil, nil
	}
	open, err := s.tasks.ListOpenMandatory(ctx, stayID)
	if err != nil {
		return nil, fmt.Errorf("list mandatory nursing tasks: %w", err)
	}
	out := make([]string, 0, len(open))
	for _, t := range open {
		out = append(out, fmt.Sprintf("%s (%s)", t.Activity, t.Status))
	}
	return out, nil
}

// CreateTasksFromTemplate instantiates every task of a checklist template
// for the target stay, relative to start.
func (s *Service) CreateTasksFromTemplate(ctx context.Context, templateID uuid.UUID, target Target, start time.Time) ([]*Task, error) {
	items, err := s.templates.GetTasks(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("load checklist template %s: %w", templateID, err)
	}
	if start.IsZero() {
		start = s.clock.Now()
	}

	created := make([]*Task, 0, len(items))
	for _, tt := range items {
		offset := time.Duration(tt.TimeOffsetSeconds) * time.Second
		if !tt.PostEvent {
			offset = -offset
		}
		t := &Task{
			Activity:           tt.Activity,
			Mandatory:          tt.Mandatory,
			Status:             StatusRequested,
			PatientID:          target.PatientID,
			ReferenceDoctype:   ReferenceInpatientRecord,
			ReferenceID:        target.StayID,
			ServiceUnitID:      target.ServiceUnitID,
			TaskDoctype:        tt.TaskDoctype,
			RequestedStartTime: start.Add(offset),
			DurationSeconds:    tt.DurationSeconds,
		}
		if err := s.tasks.Create(ctx, t); err != nil {
			return nil, fmt.Errorf("create nursing task %q: %w", tt.Activity, err)
		}
		created = append(created, t)
	}
	return created, nil
}

// CreateMedicationTasks creates one administration task for each dose time
// remaining today. Doses that already have a task are skipped, and no more
// than PeriodDays times the daily dose count are ever scheduled.
func (s *Service) CreateMedicationTasks(ctx context.Context, sched MedicationSchedule, target Target) ([]*Task, error) {
	if len(sched.DoseTimes) == 0 || sched.PeriodDays <= 0 {
		return nil, nil
	}
	activity := s.settings.DefaultMedicationActivity
	if activity == "" {
		return nil, fmt.Errorf("default medication activity is not configured")
	}

	existing, err := s.tasks.CountForService(ctx, sched.MedicationRequestID, activity)
	if err != nil {
		return nil, err
	}
	limit := sched.PeriodDays * len(sched.DoseTimes)

	now := s.clock.Now()
	starts, err := doseStarts(now, sched.DoseTimes)
	if err != nil {
		return nil, err
	}

	var created []*Task
	serviceDoctype := ServiceMedicationRequest
	medID := sched.MedicationRequestID
	for _, start := range starts {
		if existing >= limit {
			break
		}
		exists, err := s.tasks.ExistsForService(ctx, medID, activity, start)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		t := &Task{
			Activity:           activity,
			Status:             StatusRequested,
			PatientID:          sched.PatientID,
			ReferenceDoctype:   ReferenceInpatientRecord,
			ReferenceID:        target.StayID,
			ServiceUnitID:      target.ServiceUnitID,
			ServiceDoctype:     &serviceDoctype,
			ServiceID:          &medID,
			RequestedStartTime: start,
		}
		if err := s.tasks.Create(ctx, t); err != nil {
			return nil, fmt.Errorf("create medication task: %w", err)
		}
		created = append(created, t)
		existing++
	}
	return created, nil
}

// CancelOpenTasks cancels every task of a stay that is not yet finished.
func (s *Service) CancelOpenTasks(ctx context.Context, stayID uuid.UUID) (int64, error) {
	return s.tasks.CancelOpen(ctx, stayID)
}

// doseStarts returns today's dose times that are not yet in the past.
func doseStarts(now time.Time, doseTimes []string) ([]time.Time, error) {
	y, m, d := now.Date()
	var out []time.Time
	for _, dt := range doseTimes {
		hm, err := time.Parse("15:04", dt)
		if err != nil {
			return nil, fmt.Errorf("invalid dose time %q: %w", dt, err)
		}
		start := time.Date(y, m, d, hm.Hour(), hm.Minute(), 0, 0, now.Location())
		if start.Before(now.Truncate(time.Minute)) {
			continue
		}
		out = append(out, start)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}
