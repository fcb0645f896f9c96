package inpatient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Allocator assigns service units to a stay and keeps each unit's
// occupancy_status in step with the live entries. Every method must run
// inside the caller's transaction.
type Allocator struct {
	repo   Repository
	logger zerolog.Logger
}

func NewAllocator(repo Repository, logger zerolog.Logger) *Allocator {
	return &Allocator{repo: repo, logger: logger}
}

// Assign places the stay in unitID from checkIn. A unit the stay already
// holds is left untouched. A primary assignment closes the stay's other
// primary entries at checkIn; a procedure assignment runs alongside them.
func (a *Allocator) Assign(ctx context.Context, stay *Stay, unitID uuid.UUID, checkIn time.Time, isProcedure bool) (*OccupancyEntry, error) {
	for _, e := range stay.ActiveEntries() {
		if e.ServiceUnitID == unitID {
			return e, nil
		}
	}

	if _, err := a.repo.GetServiceUnitForUpdate(ctx, unitID); err != nil {
		return nil, err
	}
	holder, err := a.repo.FindActiveOccupant(ctx, unitID)
	if err != nil {
		return nil, fmt.Errorf("find occupant of unit %s: %w", unitID, err)
	}
	if holder != uuid.Nil && holder != stay.ID {
		return nil, &UnitUnavailableError{UnitID: unitID, HeldBy: holder}
	}

	if !isProcedure {
		for _, e := range stay.ActiveEntries() {
			if !e.IsActivePrimary() {
				continue
			}
			if checkIn.Before(e.CheckIn) {
				return nil, validationf("check-in %s is before the current check-in %s",
					checkIn.Format(time.RFC3339), e.CheckIn.Format(time.RFC3339))
			}
			if err := a.close(ctx, e, checkIn); err != nil {
				return nil, err
			}
		}
	}

	entry := &OccupancyEntry{
		StayID:                  stay.ID,
		ServiceUnitID:           unitID,
		CheckIn:                 checkIn,
		TransferredForProcedure: isProcedure,
	}
	if err := a.repo.AddOccupancy(ctx, entry); err != nil {
		return nil, err
	}
	if err := a.repo.SetUnitStatus(ctx, unitID, UnitOccupied); err != nil {
		return nil, fmt.Errorf("mark unit %s occupied: %w", unitID, err)
	}
	stay.Occupancies = append(stay.Occupancies, entry)
	return entry, nil
}

// Vacate closes the stay's live entry on unitID at the given time. It
// reports false when the stay does not hold the unit.
func (a *Allocator) Vacate(ctx context.Context, stay *Stay, unitID uuid.UUID, at time.Time) (bool, error) {
	for _, e := range stay.ActiveEntries() {
		if e.ServiceUnitID != unitID {
			continue
		}
		if at.Before(e.CheckIn) {
			return false, validationf("check-out %s is before check-in %s",
				at.Format(time.RFC3339), e.CheckIn.Format(time.RFC3339))
		}
		return true, a.close(ctx, e, at)
	}
	return false, nil
}

// CloseAll closes every live entry of the stay, procedure entries included.
// An entry checked in after at is closed at its own check-in.
func (a *Allocator) CloseAll(ctx context.Context, stay *Stay, at time.Time) error {
	for _, e := range stay.ActiveEntries() {
		out := at
		if out.Before(e.CheckIn) {
			out = e.CheckIn
		}
		if err := a.close(ctx, e, out); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every entry of a stay that has not been admitted yet.
func (a *Allocator) Clear(ctx context.Context, stay *Stay) error {
	for _, e := range stay.ActiveEntries() {
		if err := a.repo.SetUnitStatus(ctx, e.ServiceUnitID, UnitVacant); err != nil {
			return err
		}
	}
	if err := a.repo.DeleteOccupancies(ctx, stay.ID); err != nil {
		return fmt.Errorf("clear occupancies: %w", err)
	}
	stay.Occupancies = nil
	return nil
}

func (a *Allocator) close(ctx context.Context, e *OccupancyEntry, at time.Time) error {
	e.Left = true
	e.CheckOut = &at
	if err := a.repo.UpdateOccupancy(ctx, e); err != nil {
		return fmt.Errorf("close occupancy %s: %w", e.ID, err)
	}
	if err := a.repo.SetUnitStatus(ctx, e.ServiceUnitID, UnitVacant); err != nil {
		return fmt.Errorf("mark unit %s vacant: %w", e.ServiceUnitID, err)
	}
	return nil
}

// ReconcileReport summarises a ReconcileUnits pass.
type ReconcileReport struct {
	Checked int `json:"checked"`
	Fixed   int `json:"fixed"`
}

// ReconcileUnits recomputes each unit's occupancy_status from the live
// entries and rewrites the units that drifted. Each unit is fixed in its own
// transaction under the same row lock Assign takes.
func (a *Allocator) ReconcileUnits(ctx context.Context) (*ReconcileReport, error) {
	ids, err := a.repo.ListServiceUnitIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list service units: %w", err)
	}
	report := &ReconcileReport{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		unitID := id
		err := a.repo.WithTx(ctx, func(ctx context.Context) error {
			unit, err := a.repo.GetServiceUnitForUpdate(ctx, unitID)
			if err != nil {
				return err
			}
			holder, err := a.repo.FindActiveOccupant(ctx, unitID)
			if err != nil {
				return err
			}
			want := UnitVacant
			if holder != uuid.Nil {
				want = UnitOccupied
			}
			report.Checked++
			if unit.OccupancyStatus == want {
				return nil
			}
			a.logger.Warn().
				Str("service_unit_id", unitID.String()).
				Str("stored", unit.OccupancyStatus).
				Str("derived", want).
				Msg("service unit status drifted, rewriting")
			report.Fixed++
			return a.repo.SetUnitStatus(ctx, unitID, want)
		})
		if err != nil {
			return report, fmt.Errorf("reconcile unit %s: %w", unitID, err)
		}
	}
	return report, nil
}
