package inpatient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/inpatient/internal/domain/encounter"
	"github.com/ehr/inpatient/internal/domain/nursing"
	"github.com/ehr/inpatient/internal/domain/orders"
	"github.com/ehr/inpatient/internal/domain/patient"
	"github.com/ehr/inpatient/internal/platform/clock"
)

// SourceInpatientRecord is the source_doc of service requests ordered on
// behalf of a stay.
const SourceInpatientRecord = "Inpatient Record"

// Deps wires the Service to its store and collaborators. Pricing, Ledger
// and Counselling are optional.
type Deps struct {
	Repo        Repository
	Patients    PatientDirectory
	Encounters  EncounterService
	Nursing     NursingTaskGate
	Orders      OrderService
	Pricing     PricingService
	Ledger      BillingLedger
	Counselling CounsellingService
	Policy      Policy
	Logger      zerolog.Logger
}

// Service drives a stay through its lifecycle. Every mutating operation runs
// in one transaction holding the stay's row lock.
type Service struct {
	repo        Repository
	alloc       *Allocator
	billing     *Reconciler
	patients    PatientDirectory
	encounters  EncounterService
	nursing     NursingTaskGate
	orders      OrderService
	ledger      BillingLedger
	counselling CounsellingService
	clock       clock.Clock
	logger      zerolog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		repo:        d.Repo,
		alloc:       NewAllocator(d.Repo, d.Logger),
		billing:     NewReconciler(d.Repo, d.Orders, d.Ledger, d.Pricing, d.Policy, d.Logger),
		patients:    d.Patients,
		encounters:  d.Encounters,
		nursing:     d.Nursing,
		orders:      d.Orders,
		ledger:      d.Ledger,
		counselling: d.Counselling,
		clock:       clock.NewSystem(),
		logger:      d.Logger,
	}
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(c clock.Clock) {
	s.clock = c
	s.billing.SetClock(c)
}

// Billing returns the reconciler sharing this service's store.
func (s *Service) Billing() *Reconciler { return s.billing }

// dateOf truncates t to its UTC calendar day.
func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func statusPtr(s string) *string { return &s }

// -- Admission --

// Schedule records an admission order. When the order's treatment plan
// requires counselling first, a counselling record is created instead of a
// stay.
func (s *Service) Schedule(ctx context.Context, order *AdmissionOrder) (*ScheduleResult, error) {
	if order.PatientID == uuid.Nil {
		return nil, validationf("patient is required")
	}
	if order.AdmissionEncounterID == uuid.Nil {
		return nil, validationf("admission encounter is required")
	}

	result := &ScheduleResult{}
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.patients.GetPatient(ctx, order.PatientID)
		if err != nil {
			return referenceError(err, "patient", order.PatientID)
		}
		enc, err := s.encounters.GetEncounter(ctx, order.AdmissionEncounterID)
		if err != nil {
			return referenceError(err, "encounter", order.AdmissionEncounterID)
		}
		if enc.PatientID != p.ID {
			return validationf("encounter %s does not belong to patient %s", enc.ID, p.ID)
		}

		if order.TreatmentCounsellingID == nil && order.TreatmentPlanTemplateID != nil && s.counselling != nil {
			required, err := s.counselling.RequiresCounselling(ctx, *order.TreatmentPlanTemplateID)
			if err != nil {
				return err
			}
			if required {
				tc := &TreatmentCounselling{
					PatientID:               p.ID,
					AdmissionEncounterID:    enc.ID,
					PrimaryPractitionerID:   order.PrimaryPractitionerID,
					TreatmentPlanTemplateID: *order.TreatmentPlanTemplateID,
					Status:                  CounsellingActive,
					EncounterStatus:         enc.Status,
				}
				if err := s.counselling.CreateCounselling(ctx, tc); err != nil {
					return fmt.Errorf("create treatment counselling: %w", err)
				}
				result.Counselling = tc
				return nil
			}
		}

		stay, err := s.scheduleStay(ctx, order, p, enc)
		if err != nil {
			return err
		}
		result.Stay = stay
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Stay != nil {
		s.logger.Info().Str("inpatient_record_id", result.Stay.ID.String()).
			Str("patient_id", result.Stay.PatientID.String()).Msg("admission scheduled")
	}
	return result, nil
}

func (s *Service) scheduleStay(ctx context.Context, order *AdmissionOrder, p *patient.Patient, enc *encounter.Encounter) (*Stay, error) {
	if err := s.ValidateUniqueActiveStay(ctx, p.ID); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	stay := &Stay{
		PatientID:             p.ID,
		Status:                StatusAdmissionScheduled,
		ScheduledDate:         dateOf(now),
		AdmissionEncounterID:  enc.ID,
		PrimaryPractitionerID: order.PrimaryPractitionerID,
		AdmissionUnitTypeID:   order.AdmissionUnitTypeID,
		ExpectedLengthOfStay:  order.ExpectedLengthOfStay,
		AdmissionInstruction:  order.AdmissionInstruction,
		AdmissionChecklistID:  order.AdmissionChecklistID,
		DischargeChecklistID:  order.DischargeChecklistID,
		Seed:                  SeedFromEncounter(enc),
	}
	if err := s.repo.CreateStay(ctx, stay); err != nil {
		return nil, err
	}

	status := statusPtr(StatusAdmissionScheduled)
	if err := s.patients.SetInpatientStatus(ctx, p.ID, &stay.ID, status); err != nil {
		return nil, fmt.Errorf("stamp patient: %w", err)
	}
	if err := s.encounters.SetInpatientStatus(ctx, enc.ID, &stay.ID, status); err != nil {
		return nil, fmt.Errorf("stamp encounter: %w", err)
	}
	if err := s.orders.StampOrderGroup(ctx, enc.ID, stay.ID, *status); err != nil {
		return nil, fmt.Errorf("stamp orders: %w", err)
	}

	if stay.AdmissionChecklistID != nil {
		target := nursing.Target{StayID: stay.ID, PatientID: stay.PatientID}
		if _, err := s.nursing.CreateTasksFromTemplate(ctx, *stay.AdmissionChecklistID, target, now); err != nil {
			return nil, fmt.Errorf("create admission checklist tasks: %w", err)
		}
	}

	if order.TreatmentCounsellingID != nil {
		if err := s.orderFromCounselling(ctx, stay, *order.TreatmentCounsellingID); err != nil {
			return nil, err
		}
	}
	return stay, nil
}

// orderFromCounselling links the counselling to the stay and orders every
// plan item that has no service request yet.
func (s *Service) orderFromCounselling(ctx context.Context, stay *Stay, counsellingID uuid.UUID) error {
	if s.counselling == nil {
		return &ConfigurationError{Msg: "treatment counselling is not configured"}
	}
	tc, err := s.counselling.GetCounselling(ctx, counsellingID)
	if err != nil {
		return err
	}
	if tc.Status == CounsellingCancelled {
		return validationf("treatment counselling %s is cancelled", tc.ID)
	}
	if tc.PatientID != stay.PatientID {
		return validationf("treatment counselling %s belongs to another patient", tc.ID)
	}
	if err := s.counselling.AttachStay(ctx, tc.ID, stay.ID); err != nil {
		return fmt.Errorf("attach counselling: %w", err)
	}
	items, err := s.counselling.PendingItems(ctx, stay.ID)
	if err != nil {
		return fmt.Errorf("list counselling items: %w", err)
	}
	source := SourceInpatientRecord
	practitioner := stay.PrimaryPractitionerID
	if practitioner == nil {
		practitioner = tc.PrimaryPractitionerID
	}
	for _, it := range items {
		sr := &orders.ServiceRequest{
			PatientID:         stay.PatientID,
			PractitionerID:    practitioner,
			OrderGroup:        &stay.ID,
			SourceDoc:         &source,
			InpatientRecordID: &stay.ID,
			InpatientStatus:   statusPtr(stay.Status),
			Submitted:         true,
			TemplateDT:        it.TemplateDT,
			TemplateDN:        it.TemplateDN,
			Quantity:          1,
			OrderDate:         s.clock.Now(),
		}
		if err := s.orders.CreateServiceRequest(ctx, sr); err != nil {
			return fmt.Errorf("order %s %s: %w", it.TemplateDT, it.TemplateDN, err)
		}
		if err := s.counselling.MarkItemOrdered(ctx, it.ID, sr.ID); err != nil {
			return err
		}
	}
	return nil
}

// ValidateUniqueActiveStay fails when the patient already has a scheduled
// or admitted stay. The partial unique index on inpatient_record is the
// real guard; this only produces the friendlier error.
func (s *Service) ValidateUniqueActiveStay(ctx context.Context, patientID uuid.UUID) error {
	existing, err := s.repo.FindActiveStayForPatient(ctx, patientID)
	if err != nil {
		return err
	}
	if existing != nil {
		return &DuplicateActiveStayError{
			PatientID:      patientID,
			ExistingStayID: existing.ID,
			ExistingStatus: existing.Status,
		}
	}
	return nil
}

// Admit moves a scheduled stay into its first service unit.
func (s *Service) Admit(ctx context.Context, stayID uuid.UUID, req AdmitRequest) (*Stay, error) {
	if req.ServiceUnitID == uuid.Nil {
		return nil, validationf("service_unit_id is required")
	}
	checkIn := req.CheckIn
	if checkIn.IsZero() {
		checkIn = s.clock.Now()
	}

	var stay *Stay
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if stay, err = s.repo.GetStayForUpdate(ctx, stayID); err != nil {
			return err
		}
		if err := ValidateTransition(stay.Status, StatusAdmitted); err != nil {
			return err
		}
		if err := s.checkNursingTasks(ctx, stay); err != nil {
			return err
		}
		if req.ExpectedDischarge != nil {
			if dateOf(*req.ExpectedDischarge).Before(stay.ScheduledDate) {
				return validationf("expected discharge cannot be before the scheduled date %s", stay.ScheduledDate.Format("2006-01-02"))
			}
			stay.ExpectedDischarge = req.ExpectedDischarge
		}
		if req.Currency != nil {
			stay.Currency = req.Currency
		}
		if req.PriceList != nil {
			stay.PriceList = req.PriceList
		}

		if err := s.alloc.Clear(ctx, stay); err != nil {
			return err
		}
		if _, err := s.alloc.Assign(ctx, stay, req.ServiceUnitID, checkIn, false); err != nil {
			return err
		}
		stay.Status = StatusAdmitted
		stay.AdmittedAt = &checkIn
		if err := s.repo.UpdateStay(ctx, stay); err != nil {
			return err
		}
		if err := s.patients.SetInpatientStatus(ctx, stay.PatientID, &stay.ID, statusPtr(StatusAdmitted)); err != nil {
			return fmt.Errorf("stamp patient: %w", err)
		}
		unit := req.ServiceUnitID
		_, err = s.createMedicationTasks(ctx, stay, &unit)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("inpatient_record_id", stay.ID.String()).
		Str("service_unit_id", req.ServiceUnitID.String()).Msg("patient admitted")
	return stay, nil
}

func (s *Service) checkNursingTasks(ctx context.Context, stay *Stay) error {
	outstanding, err := s.nursing.OutstandingMandatoryTasks(ctx, stay.ID)
	if err != nil {
		return fmt.Errorf("check nursing tasks: %w", err)
	}
	if len(outstanding) > 0 {
		return &IncompleteCareError{Reason: "mandatory nursing tasks are not completed", Items: outstanding}
	}
	return nil
}

// createMedicationTasks schedules administration tasks for every submitted
// medication request of the stay that is still running.
func (s *Service) createMedicationTasks(ctx context.Context, stay *Stay, unitID *uuid.UUID) (int, error) {
	mrs, err := s.orders.ListMedicationRequests(ctx, orders.Filter{InpatientRecordID: &stay.ID, SubmittedOnly: true})
	if err != nil {
		return 0, fmt.Errorf("list medication requests: %w", err)
	}
	created := 0
	for _, mr := range mrs {
		if mr.Status == orders.StatusCompleted || mr.Status == orders.StatusRevoked {
			continue
		}
		sched := nursing.MedicationSchedule{
			MedicationRequestID: mr.ID,
			PatientID:           stay.PatientID,
			DoseTimes:           mr.DoseTimes,
			PeriodDays:          mr.PeriodDays,
		}
		target := nursing.Target{StayID: stay.ID, PatientID: stay.PatientID, ServiceUnitID: unitID}
		tasks, err := s.nursing.CreateMedicationTasks(ctx, sched, target)
		if err != nil {
			return created, fmt.Errorf("medication tasks for %s: %w", mr.ID, err)
		}
		created += len(tasks)
	}
	return created, nil
}

// RefreshMedicationTasks tops up today's medication tasks for every
// admitted stay. A failing stay is logged and skipped.
func (s *Service) RefreshMedicationTasks(ctx context.Context) (int, error) {
	ids, err := s.repo.ListStayIDsByStatus(ctx, StatusAdmitted)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		stay, err := s.repo.GetStay(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("inpatient_record_id", id.String()).Msg("load stay for medication tasks")
			continue
		}
		var unit *uuid.UUID
		if e := stay.PrimaryEntry(); e != nil {
			u := e.ServiceUnitID
			unit = &u
		}
		n, err := s.createMedicationTasks(ctx, stay, unit)
		total += n
		if err != nil {
			s.logger.Warn().Err(err).Str("inpatient_record_id", id.String()).Msg("create medication tasks")
		}
	}
	return total, nil
}

// -- Transfer --

// Transfer leaves a unit, enters a unit, or both. Entering a unit the stay
// already holds changes nothing.
func (s *Service) Transfer(ctx context.Context, stayID uuid.UUID, req TransferRequest) (*Stay, error) {
	if req.ServiceUnitID == nil && req.LeaveFrom == nil {
		return nil, validationf("service_unit_id or leave_from is required")
	}
	checkIn := req.CheckIn
	if checkIn.IsZero() {
		checkIn = s.clock.Now()
	}

	var stay *Stay
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if stay, err = s.repo.GetStayForUpdate(ctx, stayID); err != nil {
			return err
		}
		if !canTransfer(stay.Status) {
			return &ValidationError{
				Msg: fmt.Sprintf("cannot transfer an inpatient record in status %q", stay.Status),
				Err: ErrInvalidStateTransition,
			}
		}
		if req.LeaveFrom != nil {
			if _, err := s.alloc.Vacate(ctx, stay, *req.LeaveFrom, checkIn); err != nil {
				return err
			}
		}
		if req.ServiceUnitID != nil {
			if _, err := s.alloc.Assign(ctx, stay, *req.ServiceUnitID, checkIn, req.IsProcedure); err != nil {
				return err
			}
		}
		return s.repo.UpdateStay(ctx, stay)
	})
	if err != nil {
		return nil, err
	}
	return stay, nil
}

// LeaveFromCandidates returns the units the stay can be transferred out of.
func (s *Service) LeaveFromCandidates(ctx context.Context, stayID uuid.UUID) ([]*ServiceUnit, error) {
	stay, err := s.repo.GetStay(ctx, stayID)
	if err != nil {
		return nil, err
	}
	var units []*ServiceUnit
	for _, e := range stay.ActiveEntries() {
		u, err := s.repo.GetServiceUnit(ctx, e.ServiceUnitID)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

// -- Discharge --

// ScheduleDischarge records a discharge order against the patient's current
// stay and releases every unit it holds.
func (s *Service) ScheduleDischarge(ctx context.Context, order *DischargeOrder) (*Stay, error) {
	if order.PatientID == uuid.Nil {
		return nil, validationf("patient is required")
	}

	var stay *Stay
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.patients.GetPatient(ctx, order.PatientID)
		if err != nil {
			return referenceError(err, "patient", order.PatientID)
		}
		if p.InpatientRecordID == nil {
			return &NotFoundError{Entity: "inpatient record for patient", ID: p.ID.String()}
		}
		if stay, err = s.repo.GetStayForUpdate(ctx, *p.InpatientRecordID); err != nil {
			return err
		}
		if err := ValidateTransition(stay.Status, StatusDischargeScheduled); err != nil {
			return err
		}
		if order.ExpectedDischarge != nil && dateOf(*order.ExpectedDischarge).Before(stay.ScheduledDate) {
			return validationf("expected discharge cannot be before the scheduled date %s", stay.ScheduledDate.Format("2006-01-02"))
		}
		if order.DischargeOrderedDate != nil && dateOf(*order.DischargeOrderedDate).Before(stay.ScheduledDate) {
			return validationf("discharge ordered date cannot be before the scheduled date %s", stay.ScheduledDate.Format("2006-01-02"))
		}

		now := s.clock.Now()
		if err := s.alloc.CloseAll(ctx, stay, now); err != nil {
			return err
		}
		applyDischargeOrder(stay, order)
		stay.Status = StatusDischargeScheduled
		if err := s.repo.UpdateStay(ctx, stay); err != nil {
			return err
		}

		status := statusPtr(StatusDischargeScheduled)
		if err := s.patients.SetInpatientStatus(ctx, p.ID, &stay.ID, status); err != nil {
			return fmt.Errorf("stamp patient: %w", err)
		}
		if stay.DischargeEncounterID != nil {
			if err := s.encounters.SetInpatientStatus(ctx, *stay.DischargeEncounterID, &stay.ID, status); err != nil {
				return fmt.Errorf("stamp discharge encounter: %w", err)
			}
		}
		if stay.DischargeChecklistID != nil {
			target := nursing.Target{StayID: stay.ID, PatientID: stay.PatientID}
			if _, err := s.nursing.CreateTasksFromTemplate(ctx, *stay.DischargeChecklistID, target, now); err != nil {
				return fmt.Errorf("create discharge checklist tasks: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stay, nil
}

// applyDischargeOrder copies the discharge order fields that were given.
func applyDischargeOrder(stay *Stay, order *DischargeOrder) {
	if order.DischargeEncounterID != nil {
		stay.DischargeEncounterID = order.DischargeEncounterID
	}
	if order.DischargePractitionerID != nil {
		stay.DischargePractitionerID = order.DischargePractitionerID
	}
	if order.DischargeOrderedDate != nil {
		stay.DischargeOrderedDate = order.DischargeOrderedDate
	}
	if order.ExpectedDischarge != nil {
		stay.ExpectedDischarge = order.ExpectedDischarge
	}
	if order.DischargeNote != nil {
		stay.DischargeNote = order.DischargeNote
	}
	if order.DischargeChecklistID != nil {
		stay.DischargeChecklistID = order.DischargeChecklistID
	}
}

// Discharge completes a stay once nursing care is done and, unless the
// policy allows otherwise, everything has been billed.
func (s *Service) Discharge(ctx context.Context, stayID uuid.UUID) (*Stay, error) {
	var stay *Stay
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if stay, err = s.repo.GetStayForUpdate(ctx, stayID); err != nil {
			return err
		}
		if err := ValidateTransition(stay.Status, StatusDischarged); err != nil {
			return err
		}
		if err := s.checkNursingTasks(ctx, stay); err != nil {
			return err
		}
		if err := s.billing.ValidateFullyBilled(ctx, stay); err != nil {
			return err
		}
		if err := s.billing.ValidateIncompleteServiceRequests(ctx, stay); err != nil {
			return err
		}

		now := s.clock.Now()
		if err := s.alloc.CloseAll(ctx, stay, now); err != nil {
			return err
		}
		stay.DischargeAt = &now
		stay.Status = StatusDischarged
		if err := s.repo.UpdateStay(ctx, stay); err != nil {
			return err
		}
		return s.clearPatient(ctx, stay)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("inpatient_record_id", stay.ID.String()).Msg("patient discharged")
	return stay, nil
}

// Cancel withdraws a stay that was never admitted.
func (s *Service) Cancel(ctx context.Context, stayID uuid.UUID, req CancelRequest) (*Stay, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, validationf("cancellation reason is required")
	}

	var stay *Stay
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if stay, err = s.repo.GetStayForUpdate(ctx, stayID); err != nil {
			return err
		}
		if err := ValidateTransition(stay.Status, StatusCancelled); err != nil {
			return err
		}
		stay.Status = StatusCancelled
		stay.CancellationReason = &reason
		if err := s.repo.UpdateStay(ctx, stay); err != nil {
			return err
		}

		encounterID := stay.AdmissionEncounterID
		if req.EncounterID != nil {
			encounterID = *req.EncounterID
		}
		if err := s.encounters.SetInpatientStatus(ctx, encounterID, nil, nil); err != nil {
			return fmt.Errorf("clear encounter: %w", err)
		}
		if err := s.clearPatient(ctx, stay); err != nil {
			return err
		}
		if _, err := s.nursing.CancelOpenTasks(ctx, stay.ID); err != nil {
			return fmt.Errorf("cancel nursing tasks: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stay, nil
}

// clearPatient drops the patient's link to the stay. A patient already
// linked to a different stay is left alone.
func (s *Service) clearPatient(ctx context.Context, stay *Stay) error {
	p, err := s.patients.GetPatient(ctx, stay.PatientID)
	if err != nil {
		return referenceError(err, "patient", stay.PatientID)
	}
	if p.InpatientRecordID != nil && *p.InpatientRecordID != stay.ID {
		return nil
	}
	if err := s.patients.SetInpatientStatus(ctx, p.ID, nil, nil); err != nil {
		return fmt.Errorf("clear patient: %w", err)
	}
	return nil
}

// -- Reads --

func (s *Service) GetStay(ctx context.Context, id uuid.UUID) (*Stay, error) {
	return s.repo.GetStay(ctx, id)
}

func (s *Service) ListStays(ctx context.Context, f StayFilter, limit, offset int) ([]*Stay, int, error) {
	return s.repo.ListStays(ctx, f, limit, offset)
}

// -- Billing --

func (s *Service) GetPendingObligations(ctx context.Context, stayID uuid.UUID) (Obligations, error) {
	return s.billing.GetPendingObligations(ctx, stayID)
}

func (s *Service) ComputeOccupancyBilling(ctx context.Context, stayID uuid.UUID) (*Stay, error) {
	return s.billing.ComputeOccupancyBilling(ctx, stayID)
}

func (s *Service) ApplyRates(ctx context.Context, stayID uuid.UUID) (*Stay, error) {
	return s.billing.ApplyRates(ctx, stayID)
}

func (s *Service) AddItem(ctx context.Context, stayID uuid.UUID, it *BillableLineItem) (*Stay, error) {
	return s.billing.AddItem(ctx, stayID, it)
}

func (s *Service) RecordInvoice(ctx context.Context, stayID uuid.UUID, ev InvoiceEvent) (*Stay, error) {
	return s.billing.RecordInvoice(ctx, stayID, ev)
}

// RegisterDocument adds a separately billed document to the stay's ledger.
func (s *Service) RegisterDocument(ctx context.Context, stayID uuid.UUID, d *LedgerDocument) error {
	if s.ledger == nil {
		return &ConfigurationError{Msg: "no billing ledger configured"}
	}
	if !ledgerCategories[d.Category] {
		return validationf("unknown billing document category %q", d.Category)
	}
	if strings.TrimSpace(d.Reference) == "" {
		return validationf("reference is required")
	}
	stay, err := s.repo.GetStay(ctx, stayID)
	if err != nil {
		return err
	}
	d.PatientID = stay.PatientID
	d.StayID = &stay.ID
	return s.ledger.RegisterDocument(ctx, d)
}

// -- Service units --

func (s *Service) CreateServiceUnitType(ctx context.Context, t *ServiceUnitType) error {
	if strings.TrimSpace(t.Name) == "" {
		return validationf("name is required")
	}
	if t.UOM == "" {
		t.UOM = UOMHour
	}
	if t.UOM != UOMHour && t.UOM != UOMDay {
		return validationf("uom must be %s or %s", UOMHour, UOMDay)
	}
	if t.Rate.IsNegative() || t.MinimumBillableQty.IsNegative() {
		return validationf("rate and minimum billable quantity must not be negative")
	}
	if t.IsBillable {
		if t.ItemCode == "" {
			return validationf("item_code is required for a billable unit type")
		}
		if t.NoOfHours <= 0 {
			return validationf("no_of_hours must be positive for a billable unit type")
		}
	}
	return s.repo.CreateServiceUnitType(ctx, t)
}

func (s *Service) GetServiceUnitType(ctx context.Context, id uuid.UUID) (*ServiceUnitType, error) {
	return s.repo.GetServiceUnitType(ctx, id)
}

func (s *Service) ListServiceUnitTypes(ctx context.Context, limit, offset int) ([]*ServiceUnitType, int, error) {
	return s.repo.ListServiceUnitTypes(ctx, limit, offset)
}

func (s *Service) CreateServiceUnit(ctx context.Context, u *ServiceUnit) error {
	if strings.TrimSpace(u.Name) == "" {
		return validationf("name is required")
	}
	if _, err := s.repo.GetServiceUnitType(ctx, u.UnitTypeID); err != nil {
		return err
	}
	u.OccupancyStatus = UnitVacant
	return s.repo.CreateServiceUnit(ctx, u)
}

func (s *Service) GetServiceUnit(ctx context.Context, id uuid.UUID) (*ServiceUnit, error) {
	return s.repo.GetServiceUnit(ctx, id)
}

func (s *Service) ListServiceUnits(ctx context.Context, limit, offset int) ([]*ServiceUnit, int, error) {
	return s.repo.ListServiceUnits(ctx, limit, offset)
}

func (s *Service) ReconcileUnits(ctx context.Context) (*ReconcileReport, error) {
	return s.alloc.ReconcileUnits(ctx)
}

// -- Counselling --

func (s *Service) CreateTreatmentPlanTemplate(ctx context.Context, t *TreatmentPlanTemplate) error {
	if s.counselling == nil {
		return &ConfigurationError{Msg: "treatment counselling is not configured"}
	}
	return s.counselling.CreateTemplate(ctx, t)
}

func (s *Service) GetCounselling(ctx context.Context, id uuid.UUID) (*TreatmentCounselling, error) {
	if s.counselling == nil {
		return nil, &ConfigurationError{Msg: "treatment counselling is not configured"}
	}
	return s.counselling.GetCounselling(ctx, id)
}

// AmendCounselling cancels an active counselling record and replaces it with
// one built from order. Fields the order leaves empty are taken from the
// cancelled record.
func (s *Service) AmendCounselling(ctx context.Context, id uuid.UUID, order *AdmissionOrder) (*TreatmentCounselling, error) {
	if s.counselling == nil {
		return nil, &ConfigurationError{Msg: "treatment counselling is not configured"}
	}
	var amended *TreatmentCounselling
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		old, err := s.counselling.GetCounselling(ctx, id)
		if err != nil {
			return err
		}
		if old.Status != CounsellingActive {
			return validationf("treatment counselling %s is %s and cannot be amended", old.ID, old.Status)
		}
		if order.PatientID != uuid.Nil && order.PatientID != old.PatientID {
			return validationf("treatment counselling %s belongs to another patient", old.ID)
		}

		encounterID := old.AdmissionEncounterID
		if order.AdmissionEncounterID != uuid.Nil {
			encounterID = order.AdmissionEncounterID
		}
		enc, err := s.encounters.GetEncounter(ctx, encounterID)
		if err != nil {
			return referenceError(err, "encounter", encounterID)
		}
		if enc.PatientID != old.PatientID {
			return validationf("encounter %s does not belong to patient %s", enc.ID, old.PatientID)
		}
		templateID := old.TreatmentPlanTemplateID
		if order.TreatmentPlanTemplateID != nil {
			templateID = *order.TreatmentPlanTemplateID
		}
		practitioner := old.PrimaryPractitionerID
		if order.PrimaryPractitionerID != nil {
			practitioner = order.PrimaryPractitionerID
		}

		if err := s.counselling.CancelCounselling(ctx, old.ID); err != nil {
			return err
		}
		amended = &TreatmentCounselling{
			PatientID:               old.PatientID,
			AdmissionEncounterID:    enc.ID,
			PrimaryPractitionerID:   practitioner,
			TreatmentPlanTemplateID: templateID,
			Status:                  CounsellingActive,
			EncounterStatus:         enc.Status,
			AmendedFrom:             &old.ID,
		}
		if err := s.counselling.CreateCounselling(ctx, amended); err != nil {
			return fmt.Errorf("create amended treatment counselling: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("treatment_counselling_id", amended.ID.String()).
		Str("amended_from", id.String()).Msg("treatment counselling amended")
	return amended, nil
}

// referenceError turns a collaborator's not-found sentinel into a
// ValidationError naming the missing reference.
func referenceError(err error, entity string, id uuid.UUID) error {
	if errors.Is(err, patient.ErrNotFound) || errors.Is(err, encounter.ErrNotFound) {
		return &ValidationError{Msg: fmt.Sprintf("%s %s not found", entity, id), Err: err}
	}
	return err
}
