package inpatient

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/inpatient/internal/domain/encounter"
	"github.com/ehr/inpatient/internal/domain/nursing"
	"github.com/ehr/inpatient/internal/domain/orders"
	"github.com/ehr/inpatient/internal/domain/patient"
	"github.com/ehr/inpatient/internal/platform/pricing"
)

// PatientDirectory reads patients and stamps their current stay.
type PatientDirectory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
	SetInpatientStatus(ctx context.Context, id uuid.UUID, recordID *uuid.UUID, status *string) error
}

// EncounterService reads the admitting encounter and stamps stay linkage
// back onto encounters.
type EncounterService interface {
	GetEncounter(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error)
	SetInpatientStatus(ctx context.Context, id uuid.UUID, recordID *uuid.UUID, status *string) error
	ListInpatientEncounterIDs(ctx context.Context, recordID uuid.UUID) ([]uuid.UUID, error)
}

// NursingTaskGate reports outstanding mandatory care and creates tasks.
type NursingTaskGate interface {
	OutstandingMandatoryTasks(ctx context.Context, stayID uuid.UUID) ([]string, error)
	CreateTasksFromTemplate(ctx context.Context, templateID uuid.UUID, target nursing.Target, start time.Time) ([]*nursing.Task, error)
	CreateMedicationTasks(ctx context.Context, sched nursing.MedicationSchedule, target nursing.Target) ([]*nursing.Task, error)
	CancelOpenTasks(ctx context.Context, stayID uuid.UUID) (int64, error)
}

// OrderService covers the service and medication requests tied to a stay.
type OrderService interface {
	StampOrderGroup(ctx context.Context, orderGroup, recordID uuid.UUID, status string) error
	CreateServiceRequest(ctx context.Context, sr *orders.ServiceRequest) error
	ListServiceRequests(ctx context.Context, f orders.Filter) ([]*orders.ServiceRequest, error)
	ListMedicationRequests(ctx context.Context, f orders.Filter) ([]*orders.MedicationRequest, error)
	ListPendingServiceRequests(ctx context.Context, patientID, recordID uuid.UUID) ([]*orders.ServiceRequest, error)
	ListPendingMedicationRequests(ctx context.Context, patientID, recordID uuid.UUID) ([]*orders.MedicationRequest, error)
	ListIncompleteServiceRequests(ctx context.Context, recordID uuid.UUID) ([]*orders.ServiceRequest, error)
	AdjustServiceRequestInvoice(ctx context.Context, id uuid.UUID, delta float64) (*orders.ServiceRequest, error)
	AdjustMedicationRequestInvoice(ctx context.Context, id uuid.UUID, delta float64) (*orders.MedicationRequest, error)
}

// PricingService resolves item rates from a price list.
type PricingService interface {
	ItemRate(ctx context.Context, q pricing.Query) (decimal.Decimal, error)
}

// BillingLedger tracks the invoiced flag of documents billed outside the
// stay, such as appointments, encounters, lab tests and procedures.
type BillingLedger interface {
	RegisterDocument(ctx context.Context, d *LedgerDocument) error
	UnbilledDocuments(ctx context.Context, patientID, stayID uuid.UUID) ([]*LedgerDocument, error)
	// SetDocumentInvoiced only touches documents registered against stayID.
	SetDocumentInvoiced(ctx context.Context, stayID, id uuid.UUID, invoiced bool) (*LedgerDocument, error)
}

// CounsellingService manages pre-admission treatment counselling.
type CounsellingService interface {
	CreateTemplate(ctx context.Context, t *TreatmentPlanTemplate) error
	RequiresCounselling(ctx context.Context, templateID uuid.UUID) (bool, error)
	CreateCounselling(ctx context.Context, c *TreatmentCounselling) error
	GetCounselling(ctx context.Context, id uuid.UUID) (*TreatmentCounselling, error)
	CancelCounselling(ctx context.Context, id uuid.UUID) error
	AttachStay(ctx context.Context, counsellingID, stayID uuid.UUID) error
	PendingItems(ctx context.Context, stayID uuid.UUID) ([]*CounsellingItem, error)
	MarkItemOrdered(ctx context.Context, itemID, serviceRequestID uuid.UUID) error
}
