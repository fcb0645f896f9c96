package encounter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("encounter not found")

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateEncounter(ctx context.Context, enc *Encounter) error {
	if enc.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if enc.Status == "" {
		enc.Status = "Open"
	}
	if !validStatuses[enc.Status] {
		return fmt.Errorf("invalid status: %s", enc.Status)
	}
	if enc.EncounterDate.IsZero() {
		enc.EncounterDate = time.Now().UTC()
	}
	for i, sym := range enc.Symptoms {
		if sym.Complaint == "" {
			return fmt.Errorf("symptoms[%d]: complaint is required", i)
		}
	}
	for i, d := range enc.Diagnoses {
		if d.Code == "" {
			return fmt.Errorf("diagnoses[%d]: code is required", i)
		}
	}
	return s.repo.Create(ctx, enc)
}

func (s *Service) GetEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdateEncounter(ctx context.Context, enc *Encounter) error {
	if enc.Status != "" && !validStatuses[enc.Status] {
		return fmt.Errorf("invalid status: %s", enc.Status)
	}
	return s.repo.Update(ctx, enc)
}

func (s *Service) ListEncountersByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// SetInpatientStatus links the encounter to an inpatient record. Passing
// nil for both clears the link.
func (s *Service) SetInpatientStatus(ctx context.Context, id uuid.UUID, recordID *uuid.UUID, status *string) error {
	return s.repo.SetInpatient(ctx, id, recordID, status)
}

// ListInpatientEncounterIDs returns the encounters linked to an inpatient
// record, oldest first.
func (s *Service) ListInpatientEncounterIDs(ctx context.Context, recordID uuid.UUID) ([]uuid.UUID, error) {
	return s.repo.ListIDsByInpatientRecord(ctx, recordID)
}
