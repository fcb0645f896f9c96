package inpatient

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/inpatient/internal/domain/encounter"
)

// SeedVersion identifies the layout of ClinicalSeed. Bump it whenever a
// field is added, renamed or removed so stored seeds can be told apart.
const SeedVersion = 1

// ClinicalSeed is the snapshot of the admitting encounter copied onto a stay
// at schedule time. It is stored as JSONB on inpatient_record.
type ClinicalSeed struct {
	Version                int             `json:"version"`
	ChiefComplaints        []SeedComplaint `json:"chief_complaints"`
	Diagnoses              []SeedDiagnosis `json:"diagnoses"`
	DrugPrescriptions      []SeedDrug      `json:"drug_prescriptions"`
	LabTestPrescriptions   []SeedLabTest   `json:"lab_test_prescriptions"`
	ProcedurePrescriptions []SeedProcedure `json:"procedure_prescriptions"`
	TherapyPlanID          *uuid.UUID      `json:"therapy_plan_id,omitempty"`
	Therapies              []SeedTherapy   `json:"therapies"`
}

type SeedComplaint struct {
	Complaint string `json:"complaint"`
}

type SeedDiagnosis struct {
	Code        string  `json:"code"`
	Description *string `json:"description,omitempty"`
}

type SeedDrug struct {
	MedicationCode string  `json:"medication_code"`
	DrugName       *string `json:"drug_name,omitempty"`
	Dosage         *string `json:"dosage,omitempty"`
	Period         *string `json:"period,omitempty"`
	DosageForm     *string `json:"dosage_form,omitempty"`
	Comment        *string `json:"comment,omitempty"`
}

type SeedLabTest struct {
	LabTestCode string  `json:"lab_test_code"`
	LabTestName *string `json:"lab_test_name,omitempty"`
	Comment     *string `json:"comment,omitempty"`
}

type SeedProcedure struct {
	ProcedureCode string     `json:"procedure_code"`
	ProcedureName *string    `json:"procedure_name,omitempty"`
	Date          *time.Time `json:"date,omitempty"`
	Comment       *string    `json:"comment,omitempty"`
}

type SeedTherapy struct {
	TherapyType  string `json:"therapy_type"`
	NoOfSessions int    `json:"no_of_sessions"`
	SessionsDone int    `json:"sessions_completed"`
}

// SeedFromEncounter maps the encounter's clinical detail onto a new seed.
// Every field is copied explicitly; nothing is carried over by name.
func SeedFromEncounter(enc *encounter.Encounter) ClinicalSeed {
	seed := ClinicalSeed{
		Version:                SeedVersion,
		ChiefComplaints:        make([]SeedComplaint, 0, len(enc.Symptoms)),
		Diagnoses:              make([]SeedDiagnosis, 0, len(enc.Diagnoses)),
		DrugPrescriptions:      make([]SeedDrug, 0, len(enc.DrugPrescriptions)),
		LabTestPrescriptions:   make([]SeedLabTest, 0, len(enc.LabTestPrescriptions)),
		ProcedurePrescriptions: make([]SeedProcedure, 0, len(enc.ProcedurePrescriptions)),
		TherapyPlanID:          enc.TherapyPlanID,
		Therapies:              make([]SeedTherapy, 0, len(enc.Therapies)),
	}
	for _, s := range enc.Symptoms {
		seed.ChiefComplaints = append(seed.ChiefComplaints, SeedComplaint{Complaint: s.Complaint})
	}
	for _, d := range enc.Diagnoses {
		seed.Diagnoses = append(seed.Diagnoses, SeedDiagnosis{Code: d.Code, Description: d.Description})
	}
	for _, d := range enc.DrugPrescriptions {
		seed.DrugPrescriptions = append(seed.DrugPrescriptions, SeedDrug{
			MedicationCode: d.MedicationCode,
			DrugName:       d.DrugName,
			Dosage:         d.Dosage,
			Period:         d.Period,
			DosageForm:     d.DosageForm,
			Comment:        d.Comment,
		})
	}
	for _, l := range enc.LabTestPrescriptions {
		seed.LabTestPrescriptions = append(seed.LabTestPrescriptions, SeedLabTest{
			LabTestCode: l.LabTestCode,
			LabTestName: l.LabTestName,
			Comment:     l.Comment,
		})
	}
	for _, p := range enc.ProcedurePrescriptions {
		seed.ProcedurePrescriptions = append(seed.ProcedurePrescriptions, SeedProcedure{
			ProcedureCode: p.ProcedureCode,
			ProcedureName: p.ProcedureName,
			Date:          p.Date,
			Comment:       p.Comment,
		})
	}
	for _, t := range enc.Therapies {
		seed.Therapies = append(seed.Therapies, SeedTherapy{
			TherapyType:  t.TherapyType,
			NoOfSessions: t.NoOfSessions,
			SessionsDone: t.SessionsDone,
		})
	}
	return seed
}
