package encounter

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/inpatient/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const encCols = `id, patient_id, practitioner_id, appointment_id, status, encounter_date,
	inpatient_record_id, inpatient_status,
	symptoms, diagnoses, drug_prescriptions, lab_test_prescriptions, procedure_prescriptions,
	therapy_plan_id, therapies, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, enc *Encounter) error {
	enc.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO encounter (
			id, patient_id, practitioner_id, appointment_id, status, encounter_date,
			symptoms, diagnoses, drug_prescriptions, lab_test_prescriptions, procedure_prescriptions,
			therapy_plan_id, therapies
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		enc.ID, enc.PatientID, enc.PractitionerID, enc.AppointmentID, enc.Status, enc.EncounterDate,
		enc.Symptoms, enc.Diagnoses, enc.DrugPrescriptions, enc.LabTestPrescriptions, enc.ProcedurePrescriptions,
		enc.TherapyPlanID, enc.Therapies,
	).Scan(&enc.CreatedAt, &enc.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	enc, err := scanEnc(r.conn(ctx).QueryRow(ctx, `SELECT `+encCols+` FROM encounter WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return enc, err
}

func (r *repoPG) Update(ctx context.Context, enc *Encounter) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE encounter SET
			practitioner_id=$2, appointment_id=$3, status=$4, encounter_date=$5,
			symptoms=$6, diagnoses=$7, drug_prescriptions=$8, lab_test_prescriptions=$9,
			procedure_prescriptions=$10, therapy_plan_id=$11, therapies=$12, updated_at=NOW()
		WHERE id = $1`,
		enc.ID, enc.PractitionerID, enc.AppointmentID, enc.Status, enc.EncounterDate,
		enc.Symptoms, enc.Diagnoses, enc.DrugPrescriptions, enc.LabTestPrescriptions,
		enc.ProcedurePrescriptions, enc.TherapyPlanID, enc.Therapies,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM encounter WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+encCols+` FROM encounter WHERE patient_id = $1 ORDER BY encounter_date DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var encs []*Encounter
	for rows.Next() {
		e, err := scanEnc(rows)
		if err != nil {
			return nil, 0, err
		}
		encs = append(encs, e)
	}
	return encs, total, rows.Err()
}

func (r *repoPG) SetInpatient(ctx context.Context, id uuid.UUID, recordID *uuid.UUID, status *string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE encounter SET inpatient_record_id=$2, inpatient_status=$3, updated_at=NOW()
		WHERE id = $1`, id, recordID, status)
	if err != nil {
		return fmt.Errorf("set encounter inpatient fields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListIDsByInpatientRecord(ctx context.Context, recordID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id FROM encounter WHERE inpatient_record_id = $1 ORDER BY encounter_date, created_at`, recordID)
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

func scanEnc(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(
		&e.ID, &e.PatientID, &e.PractitionerID, &e.AppointmentID, &e.Status, &e.EncounterDate,
		&e.InpatientRecordID, &e.InpatientStatus,
		&e.Symptoms, &e.Diagnoses, &e.DrugPrescriptions, &e.LabTestPrescriptions, &e.ProcedurePrescriptions,
		&e.TherapyPlanID, &e.Therapies, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
