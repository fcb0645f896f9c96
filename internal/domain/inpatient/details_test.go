package inpatient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/inpatient/internal/domain/encounter"
	"github.com/ehr/inpatient/internal/domain/orders"
)

// addEncounter registers another encounter of the fixture patient.
func (f *fixture) addEncounter(at time.Time) uuid.UUID {
	enc := &encounter.Encounter{ID: uuid.New(), PatientID: f.patientID, Status: "Open", EncounterDate: at}
	f.encounters.encounters[enc.ID] = enc
	return enc.ID
}

func (f *fixture) order(group uuid.UUID, templateDT, templateDN string, submitted bool) *orders.ServiceRequest {
	g := group
	sr := &orders.ServiceRequest{
		ID:         uuid.New(),
		PatientID:  f.patientID,
		OrderGroup: &g,
		Status:     orders.StatusActive,
		Submitted:  submitted,
		TemplateDT: templateDT,
		TemplateDN: templateDN,
		Quantity:   1,
	}
	f.orders.serviceRequests = append(f.orders.serviceRequests, sr)
	return sr
}

func TestEncounterDetails_CollectsOrdersAcrossEncounters(t *testing.T) {
	f := newFixture(t, Policy{})
	ward := f.addUnit(t, "Ward A-1", hourlyType("BED-GEN", 100))
	stay := f.admit(t, f.schedule(t), ward)
	ctx := context.Background()

	dischargeEncounter := f.addEncounter(testStart.Add(48 * time.Hour))
	if _, err := f.svc.ScheduleDischarge(ctx, &DischargeOrder{PatientID: f.patientID, DischargeEncounterID: &dischargeEncounter}); err != nil {
		t.Fatalf("schedule discharge: %v", err)
	}
	unrelated := f.addEncounter(testStart)

	summary := "Hb 13.2 g/dL"
	cbc := f.order(f.encounterID, TemplateLabTest, "CBC", true)
	cbc.Status, cbc.ResultSummary = orders.StatusCompleted, &summary
	xray := f.order(dischargeEncounter, "Observation Template", "Chest X-ray", true)
	f.order(f.encounterID, TemplateLabTest, "LFT", false)
	f.order(unrelated, TemplateLabTest, "ESR", true)

	group := dischargeEncounter
	f.orders.medicationRequests = append(f.orders.medicationRequests,
		&orders.MedicationRequest{ID: uuid.New(), PatientID: f.patientID, OrderGroup: &group, Submitted: true, MedicationCode: "PCM-500"},
		&orders.MedicationRequest{ID: uuid.New(), PatientID: f.patientID, OrderGroup: &unrelated, Submitted: true, MedicationCode: "AMOX-500"},
	)

	details, err := f.svc.EncounterDetails(ctx, stay.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(details.ServiceRequests) != 2 {
		t.Fatalf("expected 2 service requests, got %d", len(details.ServiceRequests))
	}
	byID := map[uuid.UUID]*StayServiceRequest{}
	for _, sr := range details.ServiceRequests {
		byID[sr.ID] = sr
	}
	if got := byID[cbc.ID]; got == nil || got.LabDetails == nil || *got.LabDetails != summary {
		t.Errorf("expected CBC with lab details, got %+v", got)
	}
	if got := byID[xray.ID]; got == nil || got.LabDetails != nil {
		t.Errorf("expected chest X-ray without lab details, got %+v", got)
	}
	if len(details.MedicationRequests) != 1 || details.MedicationRequests[0].MedicationCode != "PCM-500" {
		t.Errorf("expected only PCM-500, got %+v", details.MedicationRequests)
	}
}

func TestEncounterDetails_NoLinkedEncounters(t *testing.T) {
	f := newFixture(t, Policy{})
	stay := f.schedule(t)
	ctx := context.Background()
	f.order(f.encounterID, TemplateLabTest, "CBC", true)

	if _, err := f.svc.Cancel(ctx, stay.ID, CancelRequest{Reason: "Patient declined"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	details, err := f.svc.EncounterDetails(ctx, stay.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if details.ServiceRequests == nil || len(details.ServiceRequests) != 0 || len(details.MedicationRequests) != 0 {
		t.Errorf("expected empty lists, got %+v", details)
	}

	var nf *NotFoundError
	if _, err := f.svc.EncounterDetails(ctx, uuid.New()); !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestDischargeSummary_MapsStay(t *testing.T) {
	f := newFixture(t, Policy{})
	name := "Ceftriaxone"
	f.encounters.encounters[f.encounterID].DrugPrescriptions = []encounter.DrugPrescription{{MedicationCode: "CEF-1G", DrugName: &name}}
	wardA := f.addUnit(t, "Ward A-1", hourlyType("BED-GEN", 100))
	wardB := f.addUnit(t, "Ward B-4", hourlyType("BED-GEN", 100))
	stay := f.admit(t, f.schedule(t), wardA)
	ctx := context.Background()

	f.clk.Advance(6 * time.Hour)
	if _, err := f.svc.Transfer(ctx, stay.ID, TransferRequest{LeaveFrom: &wardA.ID, ServiceUnitID: &wardB.ID, CheckIn: f.clk.Now()}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	note := "Review in OPD after a week"
	if _, err := f.svc.ScheduleDischarge(ctx, &DischargeOrder{PatientID: f.patientID, DischargeNote: &note}); err != nil {
		t.Fatalf("schedule discharge: %v", err)
	}

	sum, err := f.svc.DischargeSummary(ctx, stay.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.InpatientRecordID != stay.ID || sum.PatientID != f.patientID || sum.AdmissionEncounterID != f.encounterID {
		t.Errorf("unexpected links %+v", sum)
	}
	if !sum.AdmittedAt.Equal(testStart) {
		t.Errorf("expected admitted at %s, got %s", testStart, sum.AdmittedAt)
	}
	if sum.DischargeNote == nil || *sum.DischargeNote != note {
		t.Errorf("expected discharge note copied, got %v", sum.DischargeNote)
	}
	if len(sum.DrugPrescriptions) != 1 || sum.DrugPrescriptions[0].MedicationCode != "CEF-1G" {
		t.Errorf("expected drug prescriptions from the seed, got %+v", sum.DrugPrescriptions)
	}
	if len(sum.Occupancies) != 2 || sum.Occupancies[0].ServiceUnit != "Ward A-1" || sum.Occupancies[1].ServiceUnit != "Ward B-4" {
		t.Fatalf("unexpected occupancies %+v", sum.Occupancies)
	}
	if sum.Occupancies[0].CheckOut == nil || !sum.Occupancies[0].CheckOut.Equal(f.clk.Now()) {
		t.Errorf("expected first unit checked out at transfer, got %v", sum.Occupancies[0].CheckOut)
	}
}

func TestDischargeSummary_RequiresAdmission(t *testing.T) {
	f := newFixture(t, Policy{})
	stay := f.schedule(t)

	var ve *ValidationError
	if _, err := f.svc.DischargeSummary(context.Background(), stay.ID); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for a stay never admitted, got %v", err)
	}
}

func TestAmendCounselling(t *testing.T) {
	f := newFixture(t, Policy{})
	ctx := context.Background()
	knee := &TreatmentPlanTemplate{
		Name:                  "Knee replacement",
		CounsellingRequiredIP: true,
		Items:                 []*TreatmentPlanTemplateItem{{TemplateDT: TemplateLabTest, TemplateDN: "CBC"}},
	}
	hip := &TreatmentPlanTemplate{
		Name:                  "Hip replacement",
		CounsellingRequiredIP: true,
		Items: []*TreatmentPlanTemplateItem{
			{TemplateDT: TemplateLabTest, TemplateDN: "CBC"},
			{TemplateDT: "Clinical Procedure Template", TemplateDN: "THR"},
		},
	}
	for _, tpl := range []*TreatmentPlanTemplate{knee, hip} {
		if err := f.svc.CreateTreatmentPlanTemplate(ctx, tpl); err != nil {
			t.Fatalf("create template: %v", err)
		}
	}
	res, err := f.svc.Schedule(ctx, &AdmissionOrder{PatientID: f.patientID, AdmissionEncounterID: f.encounterID, TreatmentPlanTemplateID: &knee.ID})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	original := res.Counselling

	amended, err := f.svc.AmendCounselling(ctx, original.ID, &AdmissionOrder{TreatmentPlanTemplateID: &hip.ID})
	if err != nil {
		t.Fatalf("amend: %v", err)
	}
	if original.Status != CounsellingCancelled {
		t.Errorf("expected original cancelled, got %s", original.Status)
	}
	if amended.Status != CounsellingActive || amended.AmendedFrom == nil || *amended.AmendedFrom != original.ID {
		t.Errorf("unexpected amended counselling %+v", amended)
	}
	if amended.PatientID != f.patientID || amended.AdmissionEncounterID != f.encounterID || len(amended.Items) != 2 {
		t.Errorf("expected patient, encounter and the new plan's items, got %+v", amended)
	}

	var ve *ValidationError
	if _, err := f.svc.AmendCounselling(ctx, original.ID, &AdmissionOrder{}); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError amending a cancelled counselling, got %v", err)
	}
	if _, err := f.svc.Schedule(ctx, &AdmissionOrder{PatientID: f.patientID, AdmissionEncounterID: f.encounterID, TreatmentCounsellingID: &original.ID}); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError scheduling from a cancelled counselling, got %v", err)
	}

	res, err = f.svc.Schedule(ctx, &AdmissionOrder{PatientID: f.patientID, AdmissionEncounterID: f.encounterID, TreatmentCounsellingID: &amended.ID})
	if err != nil {
		t.Fatalf("schedule from amended counselling: %v", err)
	}
	if res.Stay == nil || len(f.orders.serviceRequests) != 2 {
		t.Errorf("expected a stay with both plan items ordered, got %+v (%d orders)", res, len(f.orders.serviceRequests))
	}
}

func TestAmendCounselling_OtherPatient(t *testing.T) {
	f := newFixture(t, Policy{})
	ctx := context.Background()
	tpl := &TreatmentPlanTemplate{Name: "Knee replacement", CounsellingRequiredIP: true}
	if err := f.svc.CreateTreatmentPlanTemplate(ctx, tpl); err != nil {
		t.Fatalf("create template: %v", err)
	}
	res, err := f.svc.Schedule(ctx, &AdmissionOrder{PatientID: f.patientID, AdmissionEncounterID: f.encounterID, TreatmentPlanTemplateID: &tpl.ID})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	otherPatient, otherEncounter := f.addPatient()

	var ve *ValidationError
	_, err = f.svc.AmendCounselling(ctx, res.Counselling.ID, &AdmissionOrder{PatientID: otherPatient, AdmissionEncounterID: otherEncounter})
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if res.Counselling.Status != CounsellingActive {
		t.Errorf("expected the counselling to stay active, got %s", res.Counselling.Status)
	}
}
