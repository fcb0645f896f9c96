package inpatient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	CounsellingActive    = "Active"
	CounsellingClosed    = "Closed"
	CounsellingCancelled = "Cancelled"
)

// TreatmentPlanTemplate maps to the treatment_plan_template table.
type TreatmentPlanTemplate struct {
	ID                    uuid.UUID                    `db:"id" json:"id"`
	Name                  string                       `db:"name" json:"name"`
	CounsellingRequiredIP bool                         `db:"counselling_required_for_ip" json:"counselling_required_for_ip"`
	Items                 []*TreatmentPlanTemplateItem `db:"-" json:"items"`
}

// TreatmentPlanTemplateItem is one service the plan orders.
type TreatmentPlanTemplateItem struct {
	ID         uuid.UUID `db:"id" json:"id"`
	TemplateID uuid.UUID `db:"template_id" json:"template_id"`
	TemplateDT string    `db:"template_dt" json:"template_dt"`
	TemplateDN string    `db:"template_dn" json:"template_dn"`
}

// TreatmentCounselling maps to the treatment_counselling table. It stands in
// for the stay when the treatment plan requires counselling before admission.
type TreatmentCounselling struct {
	ID                      uuid.UUID          `db:"id" json:"id"`
	PatientID               uuid.UUID          `db:"patient_id" json:"patient_id"`
	AdmissionEncounterID    uuid.UUID          `db:"admission_encounter_id" json:"admission_encounter_id"`
	PrimaryPractitionerID   *uuid.UUID         `db:"primary_practitioner_id" json:"primary_practitioner_id,omitempty"`
	TreatmentPlanTemplateID uuid.UUID          `db:"treatment_plan_template_id" json:"treatment_plan_template_id"`
	InpatientRecordID       *uuid.UUID         `db:"inpatient_record_id" json:"inpatient_record_id,omitempty"`
	Status                  string             `db:"status" json:"status"`
	EncounterStatus         string             `db:"encounter_status" json:"encounter_status"`
	AmendedFrom             *uuid.UUID         `db:"amended_from" json:"amended_from,omitempty"`
	CreatedAt               time.Time          `db:"created_at" json:"created_at"`
	Items                   []*CounsellingItem `db:"-" json:"items"`
}

// CounsellingItem maps to the treatment_counselling_item table.
type CounsellingItem struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	CounsellingID    uuid.UUID  `db:"counselling_id" json:"counselling_id"`
	TemplateDT       string     `db:"template_dt" json:"template_dt"`
	TemplateDN       string     `db:"template_dn" json:"template_dn"`
	ServiceRequestID *uuid.UUID `db:"service_request_id" json:"service_request_id,omitempty"`
}

type CounsellingPG struct {
	pool *pgxpool.Pool
}

// NewCounsellingPG returns the Postgres-backed CounsellingService.
func NewCounsellingPG(pool *pgxpool.Pool) *CounsellingPG {
	return &CounsellingPG{pool: pool}
}

// CreateTemplate stores a treatment plan template with its items.
func (c *CounsellingPG) CreateTemplate(ctx context.Context, t *TreatmentPlanTemplate) error {
	if t.Name == "" {
		return validationf("name is required")
	}
	t.ID = uuid.New()
	q := conn(ctx, c.pool)
	if _, err := q.Exec(ctx, `
		INSERT INTO treatment_plan_template (id, name, counselling_required_for_ip) VALUES ($1, $2, $3)`,
		t.ID, t.Name, t.CounsellingRequiredIP); err != nil {
		return err
	}
	for _, it := range t.Items {
		it.ID = uuid.New()
		it.TemplateID = t.ID
		if _, err := q.Exec(ctx, `
			INSERT INTO treatment_plan_template_item (id, template_id, template_dt, template_dn) VALUES ($1, $2, $3, $4)`,
			it.ID, it.TemplateID, it.TemplateDT, it.TemplateDN); err != nil {
			return err
		}
	}
	return nil
}

func (c *CounsellingPG) RequiresCounselling(ctx context.Context, templateID uuid.UUID) (bool, error) {
	var required bool
	err := conn(ctx, c.pool).QueryRow(ctx,
		`SELECT counselling_required_for_ip FROM treatment_plan_template WHERE id = $1`, templateID).Scan(&required)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, notFound("treatment plan template", templateID)
	}
	return required, err
}

// CreateCounselling stores the counselling record and copies the template's
// items onto it.
func (c *CounsellingPG) CreateCounselling(ctx context.Context, tc *TreatmentCounselling) error {
	tc.ID = uuid.New()
	q := conn(ctx, c.pool)
	err := q.QueryRow(ctx, `
		INSERT INTO treatment_counselling (
			id, patient_id, admission_encounter_id, primary_practitioner_id,
			treatment_plan_template_id, inpatient_record_id, status, encounter_status, amended_from
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		tc.ID, tc.PatientID, tc.AdmissionEncounterID, tc.PrimaryPractitionerID,
		tc.TreatmentPlanTemplateID, tc.InpatientRecordID, tc.Status, tc.EncounterStatus, tc.AmendedFrom,
	).Scan(&tc.CreatedAt)
	if err != nil {
		return err
	}

	rows, err := q.Query(ctx, `
		INSERT INTO treatment_counselling_item (id, counselling_id, template_dt, template_dn)
		SELECT gen_random_uuid(), $1, template_dt, template_dn
		FROM treatment_plan_template_item WHERE template_id = $2
		RETURNING id, counselling_id, template_dt, template_dn, service_request_id`,
		tc.ID, tc.TreatmentPlanTemplateID)
	if err != nil {
		return err
	}
	items, err := collectCounsellingItems(rows)
	if err != nil {
		return err
	}
	tc.Items = items
	return nil
}

func (c *CounsellingPG) GetCounselling(ctx context.Context, id uuid.UUID) (*TreatmentCounselling, error) {
	var tc TreatmentCounselling
	q := conn(ctx, c.pool)
	err := q.QueryRow(ctx, `
		SELECT id, patient_id, admission_encounter_id, primary_practitioner_id,
			treatment_plan_template_id, inpatient_record_id, status, encounter_status, amended_from, created_at
		FROM treatment_counselling WHERE id = $1`, id).Scan(
		&tc.ID, &tc.PatientID, &tc.AdmissionEncounterID, &tc.PrimaryPractitionerID,
		&tc.TreatmentPlanTemplateID, &tc.InpatientRecordID, &tc.Status, &tc.EncounterStatus, &tc.AmendedFrom, &tc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("treatment counselling", id)
	}
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, `
		SELECT id, counselling_id, template_dt, template_dn, service_request_id
		FROM treatment_counselling_item WHERE counselling_id = $1 ORDER BY template_dt, template_dn`, id)
	if err != nil {
		return nil, err
	}
	if tc.Items, err = collectCounsellingItems(rows); err != nil {
		return nil, err
	}
	return &tc, nil
}

func (c *CounsellingPG) AttachStay(ctx context.Context, counsellingID, stayID uuid.UUID) error {
	tag, err := conn(ctx, c.pool).Exec(ctx, `
		UPDATE treatment_counselling SET inpatient_record_id = $2, status = $3 WHERE id = $1`,
		counsellingID, stayID, CounsellingClosed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("treatment counselling", counsellingID)
	}
	return nil
}

// CancelCounselling cancels an active counselling record.
func (c *CounsellingPG) CancelCounselling(ctx context.Context, id uuid.UUID) error {
	tag, err := conn(ctx, c.pool).Exec(ctx,
		`UPDATE treatment_counselling SET status = $2 WHERE id = $1 AND status = $3`,
		id, CounsellingCancelled, CounsellingActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return validationf("treatment counselling %s is not active", id)
	}
	return nil
}

func (c *CounsellingPG) PendingItems(ctx context.Context, stayID uuid.UUID) ([]*CounsellingItem, error) {
	rows, err := conn(ctx, c.pool).Query(ctx, `
		SELECT i.id, i.counselling_id, i.template_dt, i.template_dn, i.service_request_id
		FROM treatment_counselling_item i
		JOIN treatment_counselling c ON c.id = i.counselling_id
		WHERE c.inpatient_record_id = $1 AND i.service_request_id IS NULL
		ORDER BY i.template_dt, i.template_dn`, stayID)
	if err != nil {
		return nil, err
	}
	return collectCounsellingItems(rows)
}

func (c *CounsellingPG) MarkItemOrdered(ctx context.Context, itemID, serviceRequestID uuid.UUID) error {
	_, err := conn(ctx, c.pool).Exec(ctx,
		`UPDATE treatment_counselling_item SET service_request_id = $2 WHERE id = $1`, itemID, serviceRequestID)
	return err
}

func collectCounsellingItems(rows pgx.Rows) ([]*CounsellingItem, error) {
	defer rows.Close()
	var out []*CounsellingItem
	for rows.Next() {
		var it CounsellingItem
		if err := rows.Scan(&it.ID, &it.CounsellingID, &it.TemplateDT, &it.TemplateDN, &it.ServiceRequestID); err != nil {
			return nil, err
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}
