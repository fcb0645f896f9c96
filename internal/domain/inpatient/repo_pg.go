package inpatient

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

// Partial unique indexes backing the occupancy and active-stay invariants.
const (
	activeStayIndex    = "inpatient_record_one_active_per_patient"
	activeUnitIndex    = "inpatient_occupancy_one_live_per_unit"
	activePrimaryIndex = "inpatient_occupancy_one_primary_per_stay"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func conn(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, r.pool, fn)
}

// -- Stay --

const stayCols = `id, patient_id, status, scheduled_date, admitted_at, expected_discharge,
	discharge_ordered_date, discharge_at, currency, price_list, total, cancellation_reason,
	admission_encounter_id, discharge_encounter_id, primary_practitioner_id, discharge_practitioner_id,
	admission_unit_type_id, expected_length_of_stay, admission_instruction, discharge_note,
	admission_checklist_id, discharge_checklist_id, clinical_seed, version, created_at, updated_at`

func scanStay(row pgx.Row) (*Stay, error) {
	var s Stay
	err := row.Scan(
		&s.ID, &s.PatientID, &s.Status, &s.ScheduledDate, &s.AdmittedAt, &s.ExpectedDischarge,
		&s.DischargeOrderedDate, &s.DischargeAt, &s.Currency, &s.PriceList, &s.Total, &s.CancellationReason,
		&s.AdmissionEncounterID, &s.DischargeEncounterID, &s.PrimaryPractitionerID, &s.DischargePractitionerID,
		&s.AdmissionUnitTypeID, &s.ExpectedLengthOfStay, &s.AdmissionInstruction, &s.DischargeNote,
		&s.AdmissionChecklistID, &s.DischargeChecklistID, &s.Seed, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) CreateStay(ctx context.Context, s *Stay) error {
	s.ID = uuid.New()
	s.Version = 1
	err := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO inpatient_record (
			id, patient_id, status, scheduled_date, expected_discharge, currency, price_list, total,
			admission_encounter_id, primary_practitioner_id, admission_unit_type_id,
			expected_length_of_stay, admission_instruction, admission_checklist_id,
			discharge_checklist_id, clinical_seed, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING created_at, updated_at`,
		s.ID, s.PatientID, s.Status, s.ScheduledDate, s.ExpectedDischarge, s.Currency, s.PriceList, s.Total,
		s.AdmissionEncounterID, s.PrimaryPractitionerID, s.AdmissionUnitTypeID,
		s.ExpectedLengthOfStay, s.AdmissionInstruction, s.AdmissionChecklistID,
		s.DischargeChecklistID, s.Seed, s.Version,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if db.IsUniqueViolation(err, activeStayIndex) {
		return &DuplicateActiveStayError{PatientID: s.PatientID}
	}
	return err
}

func (r *repoPG) GetStay(ctx context.Context, id uuid.UUID) (*Stay, error) {
	return r.loadStay(ctx, `SELECT `+stayCols+` FROM inpatient_record WHERE id = $1`, id)
}

func (r *repoPG) GetStayForUpdate(ctx context.Context, id uuid.UUID) (*Stay, error) {
	return r.loadStay(ctx, `SELECT `+stayCols+` FROM inpatient_record WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) loadStay(ctx context.Context, query string, id uuid.UUID) (*Stay, error) {
	s, err := scanStay(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("inpatient record", id)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *repoPG) loadChildren(ctx context.Context, s *Stay) error {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, `
		SELECT id, stay_id, service_unit_id, check_in, check_out, left_unit,
			transferred_for_procedure, invoiced, scheduled_billing_time, seq
		FROM inpatient_occupancy WHERE stay_id = $1 ORDER BY seq`, s.ID)
	if err != nil {
		return fmt.Errorf("load occupancies: %w", err)
	}
	s.Occupancies = nil
	for rows.Next() {
		var e OccupancyEntry
		if err := rows.Scan(&e.ID, &e.StayID, &e.ServiceUnitID, &e.CheckIn, &e.CheckOut, &e.Left,
			&e.TransferredForProcedure, &e.Invoiced, &e.ScheduledBillingTime, &e.Seq); err != nil {
			rows.Close()
			return err
		}
		s.Occupancies = append(s.Occupancies, &e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx, `
		SELECT id, stay_id, item_code, uom, quantity, rate, amount, invoiced, seq
		FROM inpatient_record_item WHERE stay_id = $1 ORDER BY seq`, s.ID)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()
	s.Items = nil
	for rows.Next() {
		var it BillableLineItem
		if err := rows.Scan(&it.ID, &it.StayID, &it.ItemCode, &it.UOM, &it.Quantity, &it.Rate,
			&it.Amount, &it.Invoiced, &it.Seq); err != nil {
			return err
		}
		s.Items = append(s.Items, &it)
	}
	return rows.Err()
}

func (r *repoPG) UpdateStay(ctx context.Context, s *Stay) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE inpatient_record SET
			status=$3, admitted_at=$4, expected_discharge=$5, discharge_ordered_date=$6,
			discharge_at=$7, currency=$8, price_list=$9, total=$10, cancellation_reason=$11,
			discharge_encounter_id=$12, discharge_practitioner_id=$13, discharge_note=$14,
			discharge_checklist_id=$15, version = version + 1, updated_at=NOW()
		WHERE id = $1 AND version = $2`,
		s.ID, s.Version, s.Status, s.AdmittedAt, s.ExpectedDischarge, s.DischargeOrderedDate,
		s.DischargeAt, s.Currency, s.PriceList, s.Total, s.CancellationReason,
		s.DischargeEncounterID, s.DischargePractitionerID, s.DischargeNote,
		s.DischargeChecklistID,
	)
	if db.IsUniqueViolation(err, activeStayIndex) {
		return &DuplicateActiveStayError{PatientID: s.PatientID}
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentUpdate
	}
	s.Version++
	return nil
}

func (r *repoPG) ListStays(ctx context.Context, f StayFilter, limit, offset int) ([]*Stay, int, error) {
	var conds []string
	var args []interface{}
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

	q := conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM inpatient_record`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT %s FROM inpatient_record%s
		ORDER BY scheduled_date DESC, created_at DESC LIMIT $%d OFFSET $%d`,
		stayCols, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	var items []*Stay
	for rows.Next() {
		s, err := scanStay(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, s := range items {
		if err := r.loadChildren(ctx, s); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

func (r *repoPG) ListStayIDsByStatus(ctx context.Context, statuses ...string) ([]uuid.UUID, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT id FROM inpatient_record WHERE status = ANY($1) ORDER BY scheduled_date, id`, statuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repoPG) FindActiveStayForPatient(ctx context.Context, patientID uuid.UUID) (*Stay, error) {
	s, err := scanStay(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+stayCols+` FROM inpatient_record
		WHERE patient_id = $1 AND status IN ($2, $3)
		LIMIT 1`, patientID, StatusAdmissionScheduled, StatusAdmitted))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// -- Occupancy --

func (r *repoPG) AddOccupancy(ctx context.Context, e *OccupancyEntry) error {
	e.ID = uuid.New()
	err := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO inpatient_occupancy (
			id, stay_id, service_unit_id, check_in, check_out, left_unit,
			transferred_for_procedure, invoiced, scheduled_billing_time, seq
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM inpatient_occupancy WHERE stay_id = $2))
		RETURNING seq`,
		e.ID, e.StayID, e.ServiceUnitID, e.CheckIn, e.CheckOut, e.Left,
		e.TransferredForProcedure, e.Invoiced, e.ScheduledBillingTime,
	).Scan(&e.Seq)
	if db.IsUniqueViolation(err, activeUnitIndex) {
		return &UnitUnavailableError{UnitID: e.ServiceUnitID}
	}
	if db.IsUniqueViolation(err, activePrimaryIndex) {
		return validationf("inpatient record %s already has a current service unit", e.StayID)
	}
	return err
}

func (r *repoPG) UpdateOccupancy(ctx context.Context, e *OccupancyEntry) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE inpatient_occupancy SET
			check_out=$2, left_unit=$3, invoiced=$4, scheduled_billing_time=$5
		WHERE id = $1`,
		e.ID, e.CheckOut, e.Left, e.Invoiced, e.ScheduledBillingTime,
	)
	return err
}

func (r *repoPG) DeleteOccupancies(ctx context.Context, stayID uuid.UUID) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM inpatient_occupancy WHERE stay_id = $1`, stayID)
	return err
}

func (r *repoPG) FindActiveOccupant(ctx context.Context, unitID uuid.UUID) (uuid.UUID, error) {
	var stayID uuid.UUID
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT stay_id FROM inpatient_occupancy
		WHERE service_unit_id = $1 AND NOT left_unit
		LIMIT 1`, unitID).Scan(&stayID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, nil
	}
	return stayID, err
}

// -- Line Items --

func (r *repoPG) AddLineItem(ctx context.Context, it *BillableLineItem) error {
	it.ID = uuid.New()
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO inpatient_record_item (id, stay_id, item_code, uom, quantity, rate, amount, invoiced, seq)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM inpatient_record_item WHERE stay_id = $2))
		RETURNING seq`,
		it.ID, it.StayID, it.ItemCode, it.UOM, it.Quantity, it.Rate, it.Amount, it.Invoiced,
	).Scan(&it.Seq)
}

// UpdateLineItem never touches a row that is already invoiced.
func (r *repoPG) UpdateLineItem(ctx context.Context, it *BillableLineItem) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE inpatient_record_item SET quantity=$2, rate=$3, amount=$4, invoiced=$5
		WHERE id = $1 AND NOT invoiced`,
		it.ID, it.Quantity, it.Rate, it.Amount, it.Invoiced,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return validationf("line item %s is invoiced and cannot change", it.ItemCode)
	}
	return nil
}

// -- Service Units --

func (r *repoPG) CreateServiceUnit(ctx context.Context, u *ServiceUnit) error {
	u.ID = uuid.New()
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO healthcare_service_unit (id, name, service_unit_type_id, occupancy_status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		u.ID, u.Name, u.UnitTypeID, u.OccupancyStatus,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
}

const unitCols = `id, name, service_unit_type_id, occupancy_status, created_at, updated_at`

func scanUnit(row pgx.Row) (*ServiceUnit, error) {
	var u ServiceUnit
	if err := row.Scan(&u.ID, &u.Name, &u.UnitTypeID, &u.OccupancyStatus, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *repoPG) GetServiceUnit(ctx context.Context, id uuid.UUID) (*ServiceUnit, error) {
	u, err := scanUnit(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+unitCols+` FROM healthcare_service_unit WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("service unit", id)
	}
	return u, err
}

func (r *repoPG) GetServiceUnitForUpdate(ctx context.Context, id uuid.UUID) (*ServiceUnit, error) {
	u, err := scanUnit(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+unitCols+` FROM healthcare_service_unit WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("service unit", id)
	}
	return u, err
}

func (r *repoPG) ListServiceUnits(ctx context.Context, limit, offset int) ([]*ServiceUnit, int, error) {
	q := conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM healthcare_service_unit`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+unitCols+` FROM healthcare_service_unit ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ServiceUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListServiceUnitIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT id FROM healthcare_service_unit ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repoPG) SetUnitStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE healthcare_service_unit SET occupancy_status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

// -- Service Unit Types --

const unitTypeCols = `id, name, item_code, uom, rate, no_of_hours, minimum_billable_qty, is_billable`

func scanUnitType(row pgx.Row) (*ServiceUnitType, error) {
	var t ServiceUnitType
	if err := row.Scan(&t.ID, &t.Name, &t.ItemCode, &t.UOM, &t.Rate, &t.NoOfHours,
		&t.MinimumBillableQty, &t.IsBillable); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repoPG) CreateServiceUnitType(ctx context.Context, t *ServiceUnitType) error {
	t.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO healthcare_service_unit_type (`+unitTypeCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, t.Name, t.ItemCode, t.UOM, t.Rate, t.NoOfHours, t.MinimumBillableQty, t.IsBillable,
	)
	return err
}

func (r *repoPG) GetServiceUnitType(ctx context.Context, id uuid.UUID) (*ServiceUnitType, error) {
	t, err := scanUnitType(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+unitTypeCols+` FROM healthcare_service_unit_type WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("service unit type", id)
	}
	return t, err
}

func (r *repoPG) ListServiceUnitTypes(ctx context.Context, limit, offset int) ([]*ServiceUnitType, int, error) {
	q := conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM healthcare_service_unit_type`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+unitTypeCols+` FROM healthcare_service_unit_type ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ServiceUnitType
	for rows.Next() {
		t, err := scanUnitType(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}
