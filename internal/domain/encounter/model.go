package encounter

import (
	"time"

	"github.com/google/uuid"
)

// Encounter maps to the encounter table. Clinical detail rows are stored as
// JSONB arrays on the encounter.
type Encounter struct {
	ID                     uuid.UUID               `db:"id" json:"id"`
	PatientID              uuid.UUID               `db:"patient_id" json:"patient_id"`
	PractitionerID         *uuid.UUID              `db:"practitioner_id" json:"practitioner_id,omitempty"`
	AppointmentID          *uuid.UUID              `db:"appointment_id" json:"appointment_id,omitempty"`
	Status                 string                  `db:"status" json:"status"`
	EncounterDate          time.Time               `db:"encounter_date" json:"encounter_date"`
	InpatientRecordID      *uuid.UUID              `db:"inpatient_record_id" json:"inpatient_record_id,omitempty"`
	InpatientStatus        *string                 `db:"inpatient_status" json:"inpatient_status,omitempty"`
	Symptoms               []Symptom               `db:"symptoms" json:"symptoms"`
	Diagnoses              []Diagnosis             `db:"diagnoses" json:"diagnoses"`
	DrugPrescriptions      []DrugPrescription      `db:"drug_prescriptions" json:"drug_prescriptions"`
	LabTestPrescriptions   []LabTestPrescription   `db:"lab_test_prescriptions" json:"lab_test_prescriptions"`
	ProcedurePrescriptions []ProcedurePrescription `db:"procedure_prescriptions" json:"procedure_prescriptions"`
	TherapyPlanID          *uuid.UUID              `db:"therapy_plan_id" json:"therapy_plan_id,omitempty"`
	Therapies              []Therapy               `db:"therapies" json:"therapies"`
	CreatedAt              time.Time               `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time               `db:"updated_at" json:"updated_at"`
}

type Symptom struct {
	Complaint string `json:"complaint"`
}

type Diagnosis struct {
	Code        string  `json:"code"`
	Description *string `json:"description,omitempty"`
}

type DrugPrescription struct {
	MedicationCode string  `json:"medication_code"`
	DrugName       *string `json:"drug_name,omitempty"`
	Dosage         *string `json:"dosage,omitempty"`
	Period         *string `json:"period,omitempty"`
	DosageForm     *string `json:"dosage_form,omitempty"`
	Comment        *string `json:"comment,omitempty"`
}

type LabTestPrescription struct {
	LabTestCode string  `json:"lab_test_code"`
	LabTestName *string `json:"lab_test_name,omitempty"`
	Comment     *string `json:"comment,omitempty"`
}

type ProcedurePrescription struct {
	ProcedureCode string     `json:"procedure_code"`
	ProcedureName *string    `json:"procedure_name,omitempty"`
	Date          *time.Time `json:"date,omitempty"`
	Comment       *string    `json:"comment,omitempty"`
}

type Therapy struct {
	TherapyType  string `json:"therapy_type"`
	NoOfSessions int    `json:"no_of_sessions"`
	SessionsDone int    `json:"sessions_completed"`
}

// Valid encounter statuses.
var validStatuses = map[string]bool{
	"Open":      true,
	"Completed": true,
	"Cancelled": true,
}
