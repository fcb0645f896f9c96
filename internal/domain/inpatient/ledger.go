package inpatient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Obligation categories reported by GetPendingObligations.
const (
	CategoryOccupancy         = "Inpatient Occupancy"
	CategoryItems             = "Items"
	CategoryAppointment       = "Patient Appointment"
	CategoryEncounter         = "Patient Encounter"
	CategoryLabTest           = "Lab Test"
	CategoryProcedure         = "Clinical Procedure"
	CategoryServiceRequest    = "Service Request"
	CategoryMedicationRequest = "Medication Request"
)

var ledgerCategories = map[string]bool{
	CategoryAppointment: true,
	CategoryEncounter:   true,
	CategoryLabTest:     true,
	CategoryProcedure:   true,
}

// LedgerDocument maps to the billable_document table. BilledVia is set when
// the document is charged through a parent appointment or service request,
// in which case it never blocks discharge on its own.
type LedgerDocument struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	PatientID uuid.UUID  `db:"patient_id" json:"patient_id"`
	StayID    *uuid.UUID `db:"stay_id" json:"inpatient_record_id,omitempty"`
	Category  string     `db:"category" json:"category"`
	Reference string     `db:"reference" json:"reference"`
	BilledVia *string    `db:"billed_via" json:"billed_via,omitempty"`
	Invoiced  bool       `db:"invoiced" json:"invoiced"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

type ledgerPG struct {
	pool *pgxpool.Pool
}

// NewLedgerPG returns the Postgres-backed BillingLedger.
func NewLedgerPG(pool *pgxpool.Pool) BillingLedger {
	return &ledgerPG{pool: pool}
}

const ledgerCols = `id, patient_id, stay_id, category, reference, billed_via, invoiced, created_at, updated_at`

func scanLedgerDocument(row pgx.Row) (*LedgerDocument, error) {
	var d LedgerDocument
	if err := row.Scan(&d.ID, &d.PatientID, &d.StayID, &d.Category, &d.Reference, &d.BilledVia,
		&d.Invoiced, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (l *ledgerPG) RegisterDocument(ctx context.Context, d *LedgerDocument) error {
	if !ledgerCategories[d.Category] {
		return validationf("unknown billing document category %q", d.Category)
	}
	if d.Reference == "" {
		return validationf("reference is required")
	}
	d.ID = uuid.New()
	return conn(ctx, l.pool).QueryRow(ctx, `
		INSERT INTO billable_document (id, patient_id, stay_id, category, reference, billed_via, invoiced)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		d.ID, d.PatientID, d.StayID, d.Category, d.Reference, d.BilledVia, d.Invoiced,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (l *ledgerPG) UnbilledDocuments(ctx context.Context, patientID, stayID uuid.UUID) ([]*LedgerDocument, error) {
	rows, err := conn(ctx, l.pool).Query(ctx, `
		SELECT `+ledgerCols+` FROM billable_document
		WHERE patient_id = $1 AND stay_id = $2 AND NOT invoiced AND billed_via IS NULL
		ORDER BY category, created_at`, patientID, stayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*LedgerDocument
	for rows.Next() {
		d, err := scanLedgerDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (l *ledgerPG) SetDocumentInvoiced(ctx context.Context, stayID, id uuid.UUID, invoiced bool) (*LedgerDocument, error) {
	d, err := scanLedgerDocument(conn(ctx, l.pool).QueryRow(ctx,
		`SELECT `+ledgerCols+` FROM billable_document WHERE id = $1 AND stay_id = $2 FOR UPDATE`, id, stayID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("billing document", id)
	}
	if err != nil {
		return nil, err
	}
	if d.Invoiced == invoiced {
		if invoiced {
			return nil, validationf("%s %s is already invoiced", d.Category, d.Reference)
		}
		return nil, validationf("%s %s is not invoiced", d.Category, d.Reference)
	}
	d.Invoiced = invoiced
	_, err = conn(ctx, l.pool).Exec(ctx,
		`UPDATE billable_document SET invoiced = $2, updated_at = NOW() WHERE id = $1`, id, invoiced)
	if err != nil {
		return nil, err
	}
	return d, nil
}
