package inpatient

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Stay statuses.
const (
	StatusAdmissionScheduled = "Admission Scheduled"
	StatusAdmitted           = "Admitted"
	StatusDischargeScheduled = "Discharge Scheduled"
	StatusDischarged         = "Discharged"
	StatusCancelled          = "Cancelled"
)

// Service unit occupancy states.
const (
	UnitVacant   = "Vacant"
	UnitOccupied = "Occupied"
)

// Billing units of a service unit type.
const (
	UOMHour = "Hour"
	UOMDay  = "Day"
)

// Stay maps to the inpatient_record table. Occupancies and Items are loaded
// from their child tables in insertion order.
type Stay struct {
	ID                      uuid.UUID       `db:"id" json:"id"`
	PatientID               uuid.UUID       `db:"patient_id" json:"patient_id"`
	Status                  string          `db:"status" json:"status"`
	ScheduledDate           time.Time       `db:"scheduled_date" json:"scheduled_date"`
	AdmittedAt              *time.Time      `db:"admitted_at" json:"admitted_at,omitempty"`
	ExpectedDischarge       *time.Time      `db:"expected_discharge" json:"expected_discharge,omitempty"`
	DischargeOrderedDate    *time.Time      `db:"discharge_ordered_date" json:"discharge_ordered_date,omitempty"`
	DischargeAt             *time.Time      `db:"discharge_at" json:"discharge_at,omitempty"`
	Currency                *string         `db:"currency" json:"currency,omitempty"`
	PriceList               *string         `db:"price_list" json:"price_list,omitempty"`
	Total                   decimal.Decimal `db:"total" json:"total"`
	CancellationReason      *string         `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	AdmissionEncounterID    uuid.UUID       `db:"admission_encounter_id" json:"admission_encounter_id"`
	DischargeEncounterID    *uuid.UUID      `db:"discharge_encounter_id" json:"discharge_encounter_id,omitempty"`
	PrimaryPractitionerID   *uuid.UUID      `db:"primary_practitioner_id" json:"primary_practitioner_id,omitempty"`
	DischargePractitionerID *uuid.UUID      `db:"discharge_practitioner_id" json:"discharge_practitioner_id,omitempty"`
	AdmissionUnitTypeID     *uuid.UUID      `db:"admission_unit_type_id" json:"admission_service_unit_type_id,omitempty"`
	ExpectedLengthOfStay    *int            `db:"expected_length_of_stay" json:"expected_length_of_stay,omitempty"`
	AdmissionInstruction    *string         `db:"admission_instruction" json:"admission_instruction,omitempty"`
	DischargeNote           *string         `db:"discharge_note" json:"discharge_note,omitempty"`
	AdmissionChecklistID    *uuid.UUID      `db:"admission_checklist_id" json:"admission_nursing_checklist_template_id,omitempty"`
	DischargeChecklistID    *uuid.UUID      `db:"discharge_checklist_id" json:"discharge_nursing_checklist_template_id,omitempty"`
	Seed                    ClinicalSeed    `db:"clinical_seed" json:"clinical_seed"`
	Version                 int             `db:"version" json:"version"`
	CreatedAt               time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time       `db:"updated_at" json:"updated_at"`

	Occupancies []*OccupancyEntry   `json:"occupancies"`
	Items       []*BillableLineItem `json:"items"`
}

// ActiveEntries returns the occupancy entries that have not been left.
func (s *Stay) ActiveEntries() []*OccupancyEntry {
	var out []*OccupancyEntry
	for _, e := range s.Occupancies {
		if !e.Left {
			out = append(out, e)
		}
	}
	return out
}

// PrimaryEntry returns the active non-procedure entry, if any.
func (s *Stay) PrimaryEntry() *OccupancyEntry {
	for _, e := range s.Occupancies {
		if e.IsActivePrimary() {
			return e
		}
	}
	return nil
}

// IsOpen reports whether the stay still counts as the patient's active stay.
func (s *Stay) IsOpen() bool {
	return s.Status == StatusAdmissionScheduled || s.Status == StatusAdmitted
}

// RecomputeTotal sets every item amount to rate x quantity and Total to the sum.
func (s *Stay) RecomputeTotal() {
	total := decimal.Zero
	for _, it := range s.Items {
		it.Amount = it.Rate.Mul(it.Quantity)
		total = total.Add(it.Amount)
	}
	s.Total = total
}

// OccupancyEntry maps to the inpatient_occupancy table.
type OccupancyEntry struct {
	ID                      uuid.UUID  `db:"id" json:"id"`
	StayID                  uuid.UUID  `db:"stay_id" json:"stay_id"`
	ServiceUnitID           uuid.UUID  `db:"service_unit_id" json:"service_unit_id"`
	CheckIn                 time.Time  `db:"check_in" json:"check_in"`
	CheckOut                *time.Time `db:"check_out" json:"check_out,omitempty"`
	Left                    bool       `db:"left_unit" json:"left"`
	TransferredForProcedure bool       `db:"transferred_for_procedure" json:"transferred_for_procedure"`
	Invoiced                bool       `db:"invoiced" json:"invoiced"`
	ScheduledBillingTime    *time.Time `db:"scheduled_billing_time" json:"scheduled_billing_time,omitempty"`
	Seq                     int        `db:"seq" json:"-"`
}

func (e *OccupancyEntry) IsActivePrimary() bool {
	return !e.Left && !e.TransferredForProcedure
}

// ServiceUnit maps to the healthcare_service_unit table. OccupancyStatus is
// a projection of live occupancy entries.
type ServiceUnit struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	UnitTypeID      uuid.UUID `db:"service_unit_type_id" json:"service_unit_type_id"`
	OccupancyStatus string    `db:"occupancy_status" json:"occupancy_status"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// ServiceUnitType maps to the healthcare_service_unit_type table.
type ServiceUnitType struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	Name               string          `db:"name" json:"name"`
	ItemCode           string          `db:"item_code" json:"item_code"`
	UOM                string          `db:"uom" json:"uom"`
	Rate               decimal.Decimal `db:"rate" json:"rate"`
	NoOfHours          int             `db:"no_of_hours" json:"no_of_hours"`
	MinimumBillableQty decimal.Decimal `db:"minimum_billable_qty" json:"minimum_billable_qty"`
	IsBillable         bool            `db:"is_billable" json:"is_billable"`
}

// UnitMinutes returns the length of one billing unit in minutes.
func (t *ServiceUnitType) UnitMinutes() int64 {
	if t.UOM == UOMDay {
		return 1440
	}
	return 60
}

// BillableLineItem maps to the inpatient_record_item table.
type BillableLineItem struct {
	ID       uuid.UUID       `db:"id" json:"id"`
	StayID   uuid.UUID       `db:"stay_id" json:"stay_id"`
	ItemCode string          `db:"item_code" json:"item_code"`
	UOM      *string         `db:"uom" json:"uom,omitempty"`
	Quantity decimal.Decimal `db:"quantity" json:"quantity"`
	Rate     decimal.Decimal `db:"rate" json:"rate"`
	Amount   decimal.Decimal `db:"amount" json:"amount"`
	Invoiced bool            `db:"invoiced" json:"invoiced"`
	Seq      int             `db:"seq" json:"-"`
}

// AdmissionOrder is the request to schedule an admission.
type AdmissionOrder struct {
	PatientID               uuid.UUID  `json:"patient_id"`
	AdmissionEncounterID    uuid.UUID  `json:"admission_encounter_id"`
	PrimaryPractitionerID   *uuid.UUID `json:"primary_practitioner_id,omitempty"`
	AdmissionUnitTypeID     *uuid.UUID `json:"admission_service_unit_type_id,omitempty"`
	ExpectedLengthOfStay    *int       `json:"expected_length_of_stay,omitempty"`
	AdmissionInstruction    *string    `json:"admission_instruction,omitempty"`
	AdmissionChecklistID    *uuid.UUID `json:"admission_nursing_checklist_template_id,omitempty"`
	DischargeChecklistID    *uuid.UUID `json:"discharge_nursing_checklist_template_id,omitempty"`
	TreatmentPlanTemplateID *uuid.UUID `json:"treatment_plan_template_id,omitempty"`
	TreatmentCounsellingID  *uuid.UUID `json:"treatment_counselling_id,omitempty"`
}

// DischargeOrder is the request to schedule a discharge. Only the fields
// listed here are applied to the stay.
type DischargeOrder struct {
	PatientID               uuid.UUID  `json:"patient_id"`
	DischargeEncounterID    *uuid.UUID `json:"discharge_encounter_id,omitempty"`
	DischargePractitionerID *uuid.UUID `json:"discharge_practitioner_id,omitempty"`
	DischargeOrderedDate    *time.Time `json:"discharge_ordered_date,omitempty"`
	ExpectedDischarge       *time.Time `json:"expected_discharge,omitempty"`
	DischargeNote           *string    `json:"discharge_note,omitempty"`
	DischargeChecklistID    *uuid.UUID `json:"discharge_nursing_checklist_template_id,omitempty"`
}

type AdmitRequest struct {
	ServiceUnitID     uuid.UUID  `json:"service_unit_id"`
	CheckIn           time.Time  `json:"check_in"`
	ExpectedDischarge *time.Time `json:"expected_discharge,omitempty"`
	Currency          *string    `json:"currency,omitempty"`
	PriceList         *string    `json:"price_list,omitempty"`
}

type TransferRequest struct {
	ServiceUnitID *uuid.UUID `json:"service_unit_id,omitempty"`
	CheckIn       time.Time  `json:"check_in"`
	LeaveFrom     *uuid.UUID `json:"leave_from,omitempty"`
	IsProcedure   bool       `json:"is_procedure"`
}

type CancelRequest struct {
	Reason      string     `json:"reason"`
	EncounterID *uuid.UUID `json:"encounter_id,omitempty"`
}

// ScheduleResult carries the outcome of Schedule: either a new stay or, when
// the treatment plan requires counselling first, the counselling record.
type ScheduleResult struct {
	Stay        *Stay                 `json:"inpatient_record,omitempty"`
	Counselling *TreatmentCounselling `json:"treatment_counselling,omitempty"`
}

// Policy holds the discharge and billing switches.
type Policy struct {
	AllowDischargeDespiteUnbilled   bool
	AutoGenerateBillable            bool
	ProcessServiceRequestOnlyIfPaid bool
	DefaultPriceList                string
	DefaultCurrency                 string
}

// StayFilter narrows ListStays.
type StayFilter struct {
	PatientID *uuid.UUID
	Status    string
}
