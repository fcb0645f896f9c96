package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

// whereClause renders the filter as a WHERE clause with positional args.
func whereClause(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.InpatientRecordID != nil {
		add("inpatient_record_id = $%d", *f.InpatientRecordID)
	}
	if len(f.OrderGroups) > 0 {
		groups := make([]string, len(f.OrderGroups))
		for i, g := range f.OrderGroups {
			groups[i] = g.String()
		}
		add("order_group = ANY($%d::uuid[])", groups)
	}
	if f.BillingStatus != "" {
		add("billing_status = $%d", f.BillingStatus)
	}
	if f.ExcludeStatus != "" {
		add("status <> $%d", f.ExcludeStatus)
	}
	if f.ExcludeTemplateDT != "" {
		add("template_dt <> $%d", f.ExcludeTemplateDT)
	}
	if f.SubmittedOnly {
		conds = append(conds, "submitted")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// -- Service Request --

type serviceRequestRepoPG struct {
	pool *pgxpool.Pool
}

func NewServiceRequestRepo(pool *pgxpool.Pool) ServiceRequestRepository {
	return &serviceRequestRepoPG{pool: pool}
}

const srCols = `id, patient_id, practitioner_id, order_group, source_doc, inpatient_record_id,
	inpatient_status, status, billing_status, submitted, template_dt, template_dn,
	quantity, qty_invoiced, order_date, result_summary, created_at, updated_at`

func (r *serviceRequestRepoPG) Create(ctx context.Context, sr *ServiceRequest) error {
	sr.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO service_request (
			id, patient_id, practitioner_id, order_group, source_doc, inpatient_record_id,
			inpatient_status, status, billing_status, submitted, template_dt, template_dn,
			quantity, qty_invoiced, order_date
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at, updated_at`,
		sr.ID, sr.PatientID, sr.PractitionerID, sr.OrderGroup, sr.SourceDoc, sr.InpatientRecordID,
		sr.InpatientStatus, sr.Status, sr.BillingStatus, sr.Submitted, sr.TemplateDT, sr.TemplateDN,
		sr.Quantity, sr.QtyInvoiced, sr.OrderDate,
	).Scan(&sr.CreatedAt, &sr.UpdatedAt)
}

func (r *serviceRequestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ServiceRequest, error) {
	return r.get(ctx, `SELECT `+srCols+` FROM service_request WHERE id = $1`, id)
}

func (r *serviceRequestRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*ServiceRequest, error) {
	return r.get(ctx, `SELECT `+srCols+` FROM service_request WHERE id = $1 FOR UPDATE`, id)
}

func (r *serviceRequestRepoPG) get(ctx context.Context, query string, id uuid.UUID) (*ServiceRequest, error) {
	sr, err := scanServiceRequest(connFor(ctx, r.pool).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sr, err
}

func (r *serviceRequestRepoPG) Update(ctx context.Context, sr *ServiceRequest) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE service_request SET
			status=$2, billing_status=$3, submitted=$4, qty_invoiced=$5,
			inpatient_record_id=$6, inpatient_status=$7, result_summary=$8, updated_at=NOW()
		WHERE id = $1`,
		sr.ID, sr.Status, sr.BillingStatus, sr.Submitted, sr.QtyInvoiced,
		sr.InpatientRecordID, sr.InpatientStatus, sr.ResultSummary,
	)
	return err
}

func (r *serviceRequestRepoPG) List(ctx context.Context, f Filter) ([]*ServiceRequest, error) {
	where, args := whereClause(f)
	rows, err := connFor(ctx, r.pool).Query(ctx, `SELECT `+srCols+` FROM service_request`+where+` ORDER BY order_date, created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ServiceRequest
	for rows.Next() {
		sr, err := scanServiceRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (r *serviceRequestRepoPG) StampInpatient(ctx context.Context, orderGroup uuid.UUID, recordID uuid.UUID, status string) (int64, error) {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE service_request SET inpatient_record_id=$2, inpatient_status=$3, updated_at=NOW()
		WHERE order_group = $1 AND submitted`, orderGroup, recordID, status)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanServiceRequest(row pgx.Row) (*ServiceRequest, error) {
	var sr ServiceRequest
	err := row.Scan(
		&sr.ID, &sr.PatientID, &sr.PractitionerID, &sr.OrderGroup, &sr.SourceDoc, &sr.InpatientRecordID,
		&sr.InpatientStatus, &sr.Status, &sr.BillingStatus, &sr.Submitted, &sr.TemplateDT, &sr.TemplateDN,
		&sr.Quantity, &sr.QtyInvoiced, &sr.OrderDate, &sr.ResultSummary, &sr.CreatedAt, &sr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sr, nil
}

// -- Medication Request --

type medicationRequestRepoPG struct {
	pool *pgxpool.Pool
}

func NewMedicationRequestRepo(pool *pgxpool.Pool) MedicationRequestRepository {
	return &medicationRequestRepoPG{pool: pool}
}

const mrCols = `id, patient_id, practitioner_id, order_group, inpatient_record_id, inpatient_status,
	status, billing_status, submitted, medication_code, quantity, number_of_repeats_allowed,
	qty_invoiced, dose_times, period_days, order_date, created_at, updated_at`

func (r *medicationRequestRepoPG) Create(ctx context.Context, mr *MedicationRequest) error {
	mr.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO medication_request (
			id, patient_id, practitioner_id, order_group, inpatient_record_id, inpatient_status,
			status, billing_status, submitted, medication_code, quantity, number_of_repeats_allowed,
			qty_invoiced, dose_times, period_days, order_date
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at, updated_at`,
		mr.ID, mr.PatientID, mr.PractitionerID, mr.OrderGroup, mr.InpatientRecordID, mr.InpatientStatus,
		mr.Status, mr.BillingStatus, mr.Submitted, mr.MedicationCode, mr.Quantity, mr.NumberOfRepeatsAllowed,
		mr.QtyInvoiced, mr.DoseTimes, mr.PeriodDays, mr.OrderDate,
	).Scan(&mr.CreatedAt, &mr.UpdatedAt)
}

func (r *medicationRequestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicationRequest, error) {
	return r.get(ctx, `SELECT `+mrCols+` FROM medication_request WHERE id = $1`, id)
}

func (r *medicationRequestRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*MedicationRequest, error) {
	return r.get(ctx, `SELECT `+mrCols+` FROM medication_request WHERE id = $1 FOR UPDATE`, id)
}

func (r *medicationRequestRepoPG) get(ctx context.Context, query string, id uuid.UUID) (*MedicationRequest, error) {
	mr, err := scanMedicationRequest(connFor(ctx, r.pool).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return mr, err
}

func (r *medicationRequestRepoPG) Update(ctx context.Context, mr *MedicationRequest) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE medication_request SET
			status=$2, billing_status=$3, submitted=$4, qty_invoiced=$5,
			inpatient_record_id=$6, inpatient_status=$7, updated_at=NOW()
		WHERE id = $1`,
		mr.ID, mr.Status, mr.BillingStatus, mr.Submitted, mr.QtyInvoiced,
		mr.InpatientRecordID, mr.InpatientStatus,
	)
	return err
}

func (r *medicationRequestRepoPG) List(ctx context.Context, f Filter) ([]*MedicationRequest, error) {
	f.ExcludeTemplateDT = ""
	where, args := whereClause(f)
	rows, err := connFor(ctx, r.pool).Query(ctx, `SELECT `+mrCols+` FROM medication_request`+where+` ORDER BY order_date, created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*MedicationRequest
	for rows.Next() {
		mr, err := scanMedicationRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mr)
	}
	return out, rows.Err()
}

func (r *medicationRequestRepoPG) StampInpatient(ctx context.Context, orderGroup uuid.UUID, recordID uuid.UUID, status string) (int64, error) {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE medication_request SET inpatient_record_id=$2, inpatient_status=$3, updated_at=NOW()
		WHERE order_group = $1 AND submitted`, orderGroup, recordID, status)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanMedicationRequest(row pgx.Row) (*MedicationRequest, error) {
	var mr MedicationRequest
	err := row.Scan(
		&mr.ID, &mr.PatientID, &mr.PractitionerID, &mr.OrderGroup, &mr.InpatientRecordID, &mr.InpatientStatus,
		&mr.Status, &mr.BillingStatus, &mr.Submitted, &mr.MedicationCode, &mr.Quantity, &mr.NumberOfRepeatsAllowed,
		&mr.QtyInvoiced, &mr.DoseTimes, &mr.PeriodDays, &mr.OrderDate, &mr.CreatedAt, &mr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &mr, nil
}
