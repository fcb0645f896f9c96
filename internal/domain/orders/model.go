package orders

import (
	"time"

	"github.com/google/uuid"
)

// Billing statuses shared by service and medication requests.
const (
	BillingPending        = "Pending"
	BillingPartlyInvoiced = "Partly Invoiced"
	BillingInvoiced       = "Invoiced"
)

// Service request statuses.
const (
	StatusDraft     = "Draft"
	StatusActive    = "Active"
	StatusOnHold    = "On Hold"
	StatusCompleted = "Completed"
	StatusRevoked   = "Revoked"
)

// TemplateHealthcareActivity marks service requests for nursing activities,
// which are never billed on their own.
const TemplateHealthcareActivity = "Healthcare Activity"

// ServiceRequest maps to the service_request table.
type ServiceRequest struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	PractitionerID    *uuid.UUID `db:"practitioner_id" json:"practitioner_id,omitempty"`
	OrderGroup        *uuid.UUID `db:"order_group" json:"order_group,omitempty"`
	SourceDoc         *string    `db:"source_doc" json:"source_doc,omitempty"`
	InpatientRecordID *uuid.UUID `db:"inpatient_record_id" json:"inpatient_record_id,omitempty"`
	InpatientStatus   *string    `db:"inpatient_status" json:"inpatient_status,omitempty"`
	Status            string     `db:"status" json:"status"`
	BillingStatus     string     `db:"billing_status" json:"billing_status"`
	Submitted         bool       `db:"submitted" json:"submitted"`
	TemplateDT        string     `db:"template_dt" json:"template_dt"`
	TemplateDN        string     `db:"template_dn" json:"template_dn"`
	Quantity          float64    `db:"quantity" json:"quantity"`
	QtyInvoiced       float64    `db:"qty_invoiced" json:"qty_invoiced"`
	OrderDate         time.Time  `db:"order_date" json:"order_date"`
	ResultSummary     *string    `db:"result_summary" json:"result_summary,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// MedicationRequest maps to the medication_request table. DoseTimes holds
// the daily administration times as "HH:MM".
type MedicationRequest struct {
	ID                     uuid.UUID  `db:"id" json:"id"`
	PatientID              uuid.UUID  `db:"patient_id" json:"patient_id"`
	PractitionerID         *uuid.UUID `db:"practitioner_id" json:"practitioner_id,omitempty"`
	OrderGroup             *uuid.UUID `db:"order_group" json:"order_group,omitempty"`
	InpatientRecordID      *uuid.UUID `db:"inpatient_record_id" json:"inpatient_record_id,omitempty"`
	InpatientStatus        *string    `db:"inpatient_status" json:"inpatient_status,omitempty"`
	Status                 string     `db:"status" json:"status"`
	BillingStatus          string     `db:"billing_status" json:"billing_status"`
	Submitted              bool       `db:"submitted" json:"submitted"`
	MedicationCode         string     `db:"medication_code" json:"medication_code"`
	Quantity               float64    `db:"quantity" json:"quantity"`
	NumberOfRepeatsAllowed int        `db:"number_of_repeats_allowed" json:"number_of_repeats_allowed"`
	QtyInvoiced            float64    `db:"qty_invoiced" json:"qty_invoiced"`
	DoseTimes              []string   `db:"dose_times" json:"dose_times"`
	PeriodDays             int        `db:"period_days" json:"period_days"`
	OrderDate              time.Time  `db:"order_date" json:"order_date"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at" json:"updated_at"`
}

// TotalDispensable is the quantity plus every allowed repeat.
func (m *MedicationRequest) TotalDispensable() float64 {
	return m.Quantity + float64(m.NumberOfRepeatsAllowed)*m.Quantity
}

// Filter narrows request listings. Nil or empty fields are ignored.
type Filter struct {
	PatientID         *uuid.UUID
	InpatientRecordID *uuid.UUID
	OrderGroups       []uuid.UUID
	BillingStatus     string
	SubmittedOnly     bool
	ExcludeStatus     string
	ExcludeTemplateDT string
}

func billingStatusFor(invoiced, total float64) string {
	switch {
	case invoiced <= 0:
		return BillingPending
	case invoiced < total:
		return BillingPartlyInvoiced
	default:
		return BillingInvoiced
	}
}
