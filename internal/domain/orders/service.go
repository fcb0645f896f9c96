package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("order not found")

	// ErrOverInvoiced is returned when invoicing would exceed the ordered
	// quantity of a request.
	ErrOverInvoiced = errors.New("invoiced quantity exceeds ordered quantity")
)

var serviceRequestTransitions = map[string][]string{
	StatusDraft:  {StatusActive, StatusRevoked},
	StatusActive: {StatusOnHold, StatusCompleted, StatusRevoked},
	StatusOnHold: {StatusActive, StatusRevoked},
}

type Service struct {
	services    ServiceRequestRepository
	medications MedicationRequestRepository
}

func NewService(services ServiceRequestRepository, medications MedicationRequestRepository) *Service {
	return &Service{services: services, medications: medications}
}

// -- Service Requests --

func (s *Service) CreateServiceRequest(ctx context.Context, sr *ServiceRequest) error {
	if sr.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if strings.TrimSpace(sr.TemplateDT) == "" || strings.TrimSpace(sr.TemplateDN) == "" {
		return fmt.Errorf("template_dt and template_dn are required")
	}
	if sr.Quantity < 0 {
		return fmt.Errorf("quantity must not be negative")
	}
	if sr.Quantity == 0 {
		sr.Quantity = 1
	}
	if sr.Status == "" {
		sr.Status = StatusDraft
	}
	if sr.Submitted && sr.Status == StatusDraft {
		sr.Status = StatusActive
	}
	if sr.OrderDate.IsZero() {
		sr.OrderDate = time.Now().UTC()
	}
	sr.QtyInvoiced = 0
	sr.BillingStatus = BillingPending
	return s.services.Create(ctx, sr)
}

func (s *Service) GetServiceRequest(ctx context.Context, id uuid.UUID) (*ServiceRequest, error) {
	return s.services.GetByID(ctx, id)
}

func (s *Service) ListServiceRequests(ctx context.Context, f Filter) ([]*ServiceRequest, error) {
	return s.services.List(ctx, f)
}

// UpdateServiceRequestStatus moves a request along its status lifecycle.
func (s *Service) UpdateServiceRequestStatus(ctx context.Context, id uuid.UUID, status string) (*ServiceRequest, error) {
	sr, err := s.services.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, next := range serviceRequestTransitions[sr.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("cannot move service request from %q to %q", sr.Status, status)
	}
	sr.Status = status
	if status == StatusActive {
		sr.Submitted = true
	}
	if err := s.services.Update(ctx, sr); err != nil {
		return nil, err
	}
	return sr, nil
}

// RecordResult stores the result summary of an active or completed request
// and completes it.
func (s *Service) RecordResult(ctx context.Context, id uuid.UUID, summary string) (*ServiceRequest, error) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, fmt.Errorf("result summary is required")
	}
	sr, err := s.services.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if sr.Status != StatusActive && sr.Status != StatusCompleted {
		return nil, fmt.Errorf("cannot record a result on a %q service request", sr.Status)
	}
	sr.Status = StatusCompleted
	sr.ResultSummary = &summary
	if err := s.services.Update(ctx, sr); err != nil {
		return nil, err
	}
	return sr, nil
}

// ListPendingServiceRequests returns submitted, unbilled service requests
// of a patient's inpatient record. Nursing activity requests are excluded.
func (s *Service) ListPendingServiceRequests(ctx context.Context, patientID, recordID uuid.UUID) ([]*ServiceRequest, error) {
	return s.services.List(ctx, Filter{
		PatientID:         &patientID,
		InpatientRecordID: &recordID,
		BillingStatus:     BillingPending,
		SubmittedOnly:     true,
		ExcludeTemplateDT: TemplateHealthcareActivity,
	})
}

// ListIncompleteServiceRequests returns submitted service requests of an
// inpatient record that have not been completed.
func (s *Service) ListIncompleteServiceRequests(ctx context.Context, recordID uuid.UUID) ([]*ServiceRequest, error) {
	return s.services.List(ctx, Filter{
		InpatientRecordID: &recordID,
		SubmittedOnly:     true,
		ExcludeStatus:     StatusCompleted,
	})
}

// AdjustServiceRequestInvoice adds delta (negative on invoice cancellation)
// to the invoiced quantity and recomputes the billing status.
func (s *Service) AdjustServiceRequestInvoice(ctx context.Context, id uuid.UUID, delta float64) (*ServiceRequest, error) {
	sr, err := s.services.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	invoiced := sr.QtyInvoiced + delta
	if invoiced < 0 {
		invoiced = 0
	}
	if invoiced > sr.Quantity {
		return nil, fmt.Errorf("service request %s: %w", id, ErrOverInvoiced)
	}
	sr.QtyInvoiced = invoiced
	sr.BillingStatus = billingStatusFor(invoiced, sr.Quantity)
	if err := s.services.Update(ctx, sr); err != nil {
		return nil, err
	}
	return sr, nil
}

// -- Medication Requests --

func (s *Service) CreateMedicationRequest(ctx context.Context, mr *MedicationRequest) error {
	if mr.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if strings.TrimSpace(mr.MedicationCode) == "" {
		return fmt.Errorf("medication_code is required")
	}
	if mr.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if mr.NumberOfRepeatsAllowed < 0 {
		return fmt.Errorf("number_of_repeats_allowed must not be negative")
	}
	for _, t := range mr.DoseTimes {
		if _, err := time.Parse("15:04", t); err != nil {
			return fmt.Errorf("invalid dose time %q: expected HH:MM", t)
		}
	}
	if mr.Status == "" {
		mr.Status = StatusDraft
	}
	if mr.Submitted && mr.Status == StatusDraft {
		mr.Status = StatusActive
	}
	if mr.OrderDate.IsZero() {
		mr.OrderDate = time.Now().UTC()
	}
	mr.QtyInvoiced = 0
	mr.BillingStatus = BillingPending
	return s.medications.Create(ctx, mr)
}

func (s *Service) GetMedicationRequest(ctx context.Context, id uuid.UUID) (*MedicationRequest, error) {
	return s.medications.GetByID(ctx, id)
}

func (s *Service) ListMedicationRequests(ctx context.Context, f Filter) ([]*MedicationRequest, error) {
	return s.medications.List(ctx, f)
}

// ListPendingMedicationRequests returns submitted, unbilled medication
// requests of a patient's inpatient record.
func (s *Service) ListPendingMedicationRequests(ctx context.Context, patientID, recordID uuid.UUID) ([]*MedicationRequest, error) {
	return s.medications.List(ctx, Filter{
		PatientID:         &patientID,
		InpatientRecordID: &recordID,
		BillingStatus:     BillingPending,
		SubmittedOnly:     true,
	})
}

// AdjustMedicationRequestInvoice adds delta to the invoiced quantity. The
// total may not exceed the quantity including all allowed repeats.
func (s *Service) AdjustMedicationRequestInvoice(ctx context.Context, id uuid.UUID, delta float64) (*MedicationRequest, error) {
	mr, err := s.medications.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	invoiced := mr.QtyInvoiced + delta
	if invoiced < 0 {
		invoiced = 0
	}
	total := mr.TotalDispensable()
	if invoiced > total {
		return nil, fmt.Errorf("medication request %s: %w (max %.2f)", id, ErrOverInvoiced, total)
	}
	mr.QtyInvoiced = invoiced
	mr.BillingStatus = billingStatusFor(invoiced, total)
	if err := s.medications.Update(ctx, mr); err != nil {
		return nil, err
	}
	return mr, nil
}

// StampOrderGroup links every submitted request ordered under orderGroup
// (an encounter) to the inpatient record.
func (s *Service) StampOrderGroup(ctx context.Context, orderGroup, recordID uuid.UUID, status string) error {
	if _, err := s.services.StampInpatient(ctx, orderGroup, recordID, status); err != nil {
		return fmt.Errorf("stamp service requests: %w", err)
	}
	if _, err := s.medications.StampInpatient(ctx, orderGroup, recordID, status); err != nil {
		return fmt.Errorf("stamp medication requests: %w", err)
	}
	return nil
}
