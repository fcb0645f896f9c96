package nursing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/inpatient/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func connFor(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// -- Checklist Template --

type templateRepoPG struct {
	pool *pgxpool.Pool
}

func NewTemplateRepo(pool *pgxpool.Pool) TemplateRepository {
	return &templateRepoPG{pool: pool}
}

const tmplCols = `id, name, description, is_active, created_at, updated_at`

func (r *templateRepoPG) Create(ctx context.Context, t *ChecklistTemplate) error {
	t.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO nursing_checklist_template (id, name, description, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		t.ID, t.Name, t.Description, t.IsActive,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *templateRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ChecklistTemplate, error) {
	var t ChecklistTemplate
	err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+tmplCols+` FROM nursing_checklist_template WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Description, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *templateRepoPG) List(ctx context.Context, limit, offset int) ([]*ChecklistTemplate, int, error) {
	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM nursing_checklist_template`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := connFor(ctx, r.pool).Query(ctx, `SELECT `+tmplCols+` FROM nursing_checklist_template ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ChecklistTemplate
	for rows.Next() {
		var t ChecklistTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &t)
	}
	return items, total, rows.Err()
}

func (r *templateRepoPG) AddTask(ctx context.Context, tt *TemplateTask) error {
	tt.ID = uuid.New()
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO nursing_checklist_template_task (
			id, template_id, activity, mandatory, time_offset_seconds, post_event,
			duration_seconds, task_doctype, sort_order
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		tt.ID, tt.TemplateID, tt.Activity, tt.Mandatory, tt.TimeOffsetSeconds, tt.PostEvent,
		tt.DurationSeconds, tt.TaskDoctype, tt.SortOrder,
	)
	return err
}

func (r *templateRepoPG) GetTasks(ctx context.Context, templateID uuid.UUID) ([]*TemplateTask, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT id, template_id, activity, mandatory, time_offset_seconds, post_event,
			duration_seconds, task_doctype, sort_order
		FROM nursing_checklist_template_task WHERE template_id = $1 ORDER BY sort_order`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*TemplateTask
	for rows.Next() {
		var tt TemplateTask
		if err := rows.Scan(&tt.ID, &tt.TemplateID, &tt.Activity, &tt.Mandatory, &tt.TimeOffsetSeconds,
			&tt.PostEvent, &tt.DurationSeconds, &tt.TaskDoctype, &tt.SortOrder); err != nil {
			return nil, err
		}
		items = append(items, &tt)
	}
	return items, rows.Err()
}

// -- Task --

type taskRepoPG struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) TaskRepository {
	return &taskRepoPG{pool: pool}
}

const taskCols = `id, activity, mandatory, status, patient_id, reference_doctype, reference_id,
	service_unit_id, service_doctype, service_id, task_doctype, requested_start_time,
	duration_seconds, completed_at, completed_by, created_at, updated_at`

func (r *taskRepoPG) scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.Activity, &t.Mandatory, &t.Status, &t.PatientID, &t.ReferenceDoctype, &t.ReferenceID,
		&t.ServiceUnitID, &t.ServiceDoctype, &t.ServiceID, &t.TaskDoctype, &t.RequestedStartTime,
		&t.DurationSeconds, &t.CompletedAt, &t.CompletedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *taskRepoPG) Create(ctx context.Context, t *Task) error {
	t.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO nursing_task (
			id, activity, mandatory, status, patient_id, reference_doctype, reference_id,
			service_unit_id, service_doctype, service_id, task_doctype, requested_start_time,
			duration_seconds
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		t.ID, t.Activity, t.Mandatory, t.Status, t.PatientID, t.ReferenceDoctype, t.ReferenceID,
		t.ServiceUnitID, t.ServiceDoctype, t.ServiceID, t.TaskDoctype, t.RequestedStartTime,
		t.DurationSeconds,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *taskRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Task, error) {
	t, err := r.scanTask(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+taskCols+` FROM nursing_task WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (r *taskRepoPG) Update(ctx context.Context, t *Task) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE nursing_task SET status=$2, completed_at=$3, completed_by=$4, updated_at=NOW()
		WHERE id = $1`,
		t.ID, t.Status, t.CompletedAt, t.CompletedBy,
	)
	return err
}

func (r *taskRepoPG) List(ctx context.Context, f TaskFilter, limit, offset int) ([]*Task, int, error) {
	var conds []string
	var args []interface{}
	if f.ReferenceID != nil {
		args = append(args, *f.ReferenceID)
		conds = append(conds, fmt.Sprintf("reference_id = $%d", len(args)))
	}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		conds = append(conds, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM nursing_task`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM nursing_task%s ORDER BY requested_start_time LIMIT $%d OFFSET $%d`,
		taskCols, where, len(args)-1, len(args))
	rows, err := connFor(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Task
	for rows.Next() {
		t, err := r.scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *taskRepoPG) ListOpenMandatory(ctx context.Context, referenceID uuid.UUID) ([]*Task, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT `+taskCols+` FROM nursing_task
		WHERE reference_id = $1 AND mandatory AND status NOT IN ($2, $3)
		ORDER BY requested_start_time`, referenceID, StatusCompleted, StatusCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Task
	for rows.Next() {
		t, err := r.scanTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *taskRepoPG) ExistsForService(ctx context.Context, serviceID uuid.UUID, activity string, start time.Time) (bool, error) {
	var exists bool
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM nursing_task
			WHERE service_id = $1 AND activity = $2 AND requested_start_time = $3
		)`, serviceID, activity, start).Scan(&exists)
	return exists, err
}

func (r *taskRepoPG) CountForService(ctx context.Context, serviceID uuid.UUID, activity string) (int, error) {
	var n int
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM nursing_task
		WHERE service_id = $1 AND activity = $2 AND status <> $3`,
		serviceID, activity, StatusCancelled).Scan(&n)
	return n, err
}

func (r *taskRepoPG) CancelOpen(ctx context.Context, referenceID uuid.UUID) (int64, error) {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE nursing_task SET status = $2, updated_at = NOW()
		WHERE reference_id = $1 AND status NOT IN ($2, $3)`,
		referenceID, StatusCancelled, StatusCompleted)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
