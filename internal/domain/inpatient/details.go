package inpatient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/inpatient/internal/domain/orders"
)

// TemplateLabTest is the template_dt of lab test service requests.
const TemplateLabTest = "Lab Test Template"

// StayServiceRequest is a service request ordered under one of the stay's
// encounters. Lab tests carry their result summary once it is recorded.
type StayServiceRequest struct {
	*orders.ServiceRequest
	LabDetails *string `json:"lab_details,omitempty"`
}

// EncounterDetails lists the submitted orders of every encounter linked to
// a stay.
type EncounterDetails struct {
	MedicationRequests []*orders.MedicationRequest `json:"medication_requests"`
	ServiceRequests    []*StayServiceRequest       `json:"service_requests"`
}

// EncounterDetails collects the medication and service requests placed
// under the stay's admission, discharge and follow-up encounters.
func (s *Service) EncounterDetails(ctx context.Context, stayID uuid.UUID) (*EncounterDetails, error) {
	stay, err := s.repo.GetStay(ctx, stayID)
	if err != nil {
		return nil, err
	}
	details := &EncounterDetails{
		MedicationRequests: []*orders.MedicationRequest{},
		ServiceRequests:    []*StayServiceRequest{},
	}
	encounterIDs, err := s.encounters.ListInpatientEncounterIDs(ctx, stay.ID)
	if err != nil {
		return nil, fmt.Errorf("list encounters: %w", err)
	}
	if len(encounterIDs) == 0 {
		return details, nil
	}

	f := orders.Filter{PatientID: &stay.PatientID, OrderGroups: encounterIDs, SubmittedOnly: true}
	mrs, err := s.orders.ListMedicationRequests(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list medication requests: %w", err)
	}
	details.MedicationRequests = append(details.MedicationRequests, mrs...)

	srs, err := s.orders.ListServiceRequests(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list service requests: %w", err)
	}
	for _, sr := range srs {
		d := &StayServiceRequest{ServiceRequest: sr}
		if sr.TemplateDT == TemplateLabTest {
			d.LabDetails = sr.ResultSummary
		}
		details.ServiceRequests = append(details.ServiceRequests, d)
	}
	return details, nil
}

// DischargeSummary is an unsaved discharge summary drafted from a stay. The
// stay's status, complaints and diagnoses are left for the clinician.
type DischargeSummary struct {
	InpatientRecordID       uuid.UUID       `json:"inpatient_record_id"`
	PatientID               uuid.UUID       `json:"patient_id"`
	AdmissionEncounterID    uuid.UUID       `json:"admission_encounter_id"`
	DischargeEncounterID    *uuid.UUID      `json:"discharge_encounter_id,omitempty"`
	PrimaryPractitionerID   *uuid.UUID      `json:"primary_practitioner_id,omitempty"`
	DischargePractitionerID *uuid.UUID      `json:"discharge_practitioner_id,omitempty"`
	ScheduledDate           time.Time       `json:"scheduled_date"`
	AdmittedAt              time.Time       `json:"admitted_at"`
	DischargeOrderedDate    *time.Time      `json:"discharge_ordered_date,omitempty"`
	ExpectedDischarge       *time.Time      `json:"expected_discharge,omitempty"`
	DischargeAt             *time.Time      `json:"discharge_at,omitempty"`
	AdmissionInstruction    *string         `json:"admission_instruction,omitempty"`
	DischargeNote           *string         `json:"discharge_note,omitempty"`
	DrugPrescriptions       []SeedDrug      `json:"drug_prescriptions"`
	LabTestPrescriptions    []SeedLabTest   `json:"lab_test_prescriptions"`
	ProcedurePrescriptions  []SeedProcedure `json:"procedure_prescriptions"`
	TherapyPlanID           *uuid.UUID      `json:"therapy_plan_id,omitempty"`
	Therapies               []SeedTherapy   `json:"therapies"`
	Occupancies             []SummaryUnit   `json:"occupancies"`
}

// SummaryUnit is one service unit the patient stayed in.
type SummaryUnit struct {
	ServiceUnitID           uuid.UUID  `json:"service_unit_id"`
	ServiceUnit             string     `json:"service_unit"`
	CheckIn                 time.Time  `json:"check_in"`
	CheckOut                *time.Time `json:"check_out,omitempty"`
	TransferredForProcedure bool       `json:"transferred_for_procedure"`
}

// DischargeSummary drafts a discharge summary for a stay that was admitted.
// Nothing is stored.
func (s *Service) DischargeSummary(ctx context.Context, stayID uuid.UUID) (*DischargeSummary, error) {
	stay, err := s.repo.GetStay(ctx, stayID)
	if err != nil {
		return nil, err
	}
	if stay.AdmittedAt == nil {
		return nil, validationf("inpatient record %s was never admitted", stay.ID)
	}

	sum := &DischargeSummary{
		InpatientRecordID:       stay.ID,
		PatientID:               stay.PatientID,
		AdmissionEncounterID:    stay.AdmissionEncounterID,
		DischargeEncounterID:    stay.DischargeEncounterID,
		PrimaryPractitionerID:   stay.PrimaryPractitionerID,
		DischargePractitionerID: stay.DischargePractitionerID,
		ScheduledDate:           stay.ScheduledDate,
		AdmittedAt:              *stay.AdmittedAt,
		DischargeOrderedDate:    stay.DischargeOrderedDate,
		ExpectedDischarge:       stay.ExpectedDischarge,
		DischargeAt:             stay.DischargeAt,
		AdmissionInstruction:    stay.AdmissionInstruction,
		DischargeNote:           stay.DischargeNote,
		DrugPrescriptions:       append([]SeedDrug{}, stay.Seed.DrugPrescriptions...),
		LabTestPrescriptions:    append([]SeedLabTest{}, stay.Seed.LabTestPrescriptions...),
		ProcedurePrescriptions:  append([]SeedProcedure{}, stay.Seed.ProcedurePrescriptions...),
		TherapyPlanID:           stay.Seed.TherapyPlanID,
		Therapies:               append([]SeedTherapy{}, stay.Seed.Therapies...),
		Occupancies:             make([]SummaryUnit, 0, len(stay.Occupancies)),
	}
	for _, e := range stay.Occupancies {
		unit, err := s.repo.GetServiceUnit(ctx, e.ServiceUnitID)
		if err != nil {
			return nil, fmt.Errorf("load service unit %s: %w", e.ServiceUnitID, err)
		}
		sum.Occupancies = append(sum.Occupancies, SummaryUnit{
			ServiceUnitID:           e.ServiceUnitID,
			ServiceUnit:             unit.Name,
			CheckIn:                 e.CheckIn,
			CheckOut:                e.CheckOut,
			TransferredForProcedure: e.TransferredForProcedure,
		})
	}
	return sum, nil
}
