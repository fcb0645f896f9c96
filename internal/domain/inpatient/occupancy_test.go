package inpatient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestReconcileUnits_RewritesDrift(t *testing.T) {
	f := newFixture(t, Policy{})
	ward := f.addUnit(t, "Ward A-1", hourlyType("BED-GEN", 100))
	spare := f.addUnit(t, "Ward A-2", hourlyType("BED-GEN", 100))
	idle := f.addUnit(t, "Ward A-3", hourlyType("BED-GEN", 100))
	f.admit(t, f.schedule(t), ward)
	ctx := context.Background()

	if err := f.repo.SetUnitStatus(ctx, ward.ID, UnitVacant); err != nil {
		t.Fatal(err)
	}
	if err := f.repo.SetUnitStatus(ctx, spare.ID, UnitOccupied); err != nil {
		t.Fatal(err)
	}

	report, err := f.svc.ReconcileUnits(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Checked != 3 || report.Fixed != 2 {
		t.Errorf("expected 3 checked and 2 fixed, got %+v", report)
	}
	if f.unitStatus(t, ward.ID) != UnitOccupied {
		t.Error("expected held unit restored to Occupied")
	}
	if f.unitStatus(t, spare.ID) != UnitVacant || f.unitStatus(t, idle.ID) != UnitVacant {
		t.Error("expected free units Vacant")
	}

	report, err = f.svc.ReconcileUnits(ctx)
	if err != nil || report.Fixed != 0 {
		t.Errorf("expected a second pass to change nothing, got %+v (%v)", report, err)
	}
}

func TestAllocator_CloseAllKeepsCheckOutAfterCheckIn(t *testing.T) {
	f := newFixture(t, Policy{})
	ward := f.addUnit(t, "Ward A-1", hourlyType("BED-GEN", 100))
	stay := f.schedule(t)
	later := testStart.Add(3 * time.Hour)
	if _, err := f.svc.Admit(context.Background(), stay.ID, AdmitRequest{ServiceUnitID: ward.ID, CheckIn: later}); err != nil {
		t.Fatalf("admit: %v", err)
	}

	got, err := f.svc.ScheduleDischarge(context.Background(), &DischargeOrder{PatientID: f.patientID})
	if err != nil {
		t.Fatalf("schedule discharge: %v", err)
	}
	if out := got.Occupancies[0].CheckOut; out == nil || !out.Equal(later) {
		t.Errorf("expected check-out clamped to check-in %s, got %v", later, out)
	}
}

func TestAllocator_Vacate(t *testing.T) {
	f := newFixture(t, Policy{})
	ward := f.addUnit(t, "Ward A-1", hourlyType("BED-GEN", 100))
	stay := f.admit(t, f.schedule(t), ward)
	alloc := NewAllocator(f.repo, zerolog.Nop())
	ctx := context.Background()

	left, err := alloc.Vacate(ctx, stay, uuid.New(), testStart.Add(time.Hour))
	if err != nil || left {
		t.Errorf("expected no-op for a unit the stay does not hold, got %v (%v)", left, err)
	}

	_, err = alloc.Vacate(ctx, stay, ward.ID, testStart.Add(-time.Minute))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for check-out before check-in, got %v", err)
	}

	left, err = alloc.Vacate(ctx, stay, ward.ID, testStart.Add(time.Hour))
	if err != nil || !left {
		t.Fatalf("expected unit vacated, got %v (%v)", left, err)
	}
	if f.unitStatus(t, ward.ID) != UnitVacant {
		t.Error("expected unit Vacant")
	}
}

func TestAllocator_ClearRemovesEntries(t *testing.T) {
	f := newFixture(t, Policy{})
	ward := f.addUnit(t, "Ward A-1", hourlyType("BED-GEN", 100))
	stay := f.schedule(t)
	alloc := NewAllocator(f.repo, zerolog.Nop())
	ctx := context.Background()

	if _, err := alloc.Assign(ctx, stay, ward.ID, testStart, false); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if f.unitStatus(t, ward.ID) != UnitOccupied {
		t.Fatal("expected unit Occupied after assign")
	}
	if err := alloc.Clear(ctx, stay); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(stay.Occupancies) != 0 || len(f.reload(t, stay.ID).Occupancies) != 0 {
		t.Error("expected all entries removed")
	}
	if f.unitStatus(t, ward.ID) != UnitVacant {
		t.Error("expected unit Vacant after clear")
	}
}

func TestAllocator_OneLiveEntryPerUnit(t *testing.T) {
	f := newFixture(t, Policy{})
	ward := f.addUnit(t, "Ward A-1", hourlyType("BED-GEN", 100))
	first := f.admit(t, f.schedule(t), ward)
	alloc := NewAllocator(f.repo, zerolog.Nop())

	other := &Stay{ID: uuid.New(), Status: StatusAdmitted}
	_, err := alloc.Assign(context.Background(), other, ward.ID, testStart, true)
	var ua *UnitUnavailableError
	if !errors.As(err, &ua) || ua.HeldBy != first.ID {
		t.Errorf("expected unit held by %s, got %v", first.ID, err)
	}
}
