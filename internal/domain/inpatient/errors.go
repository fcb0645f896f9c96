package inpatient

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrInvalidStateTransition is wrapped by the ValidationError returned
	// for a disallowed status change.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrConcurrentUpdate is returned when a stay changed between read and write.
	ErrConcurrentUpdate = errors.New("inpatient record was modified concurrently")

	// ErrNotBillable is wrapped when occupancy billing is asked for a stay
	// that is neither admitted nor scheduled for discharge.
	ErrNotBillable = errors.New("inpatient record is not billable")
)

// ValidationError reports a bad request or a business rule violation.
type ValidationError struct {
	Msg string
	Err error
}

func (e *ValidationError) Error() string { return e.Msg }
func (e *ValidationError) Unwrap() error { return e.Err }

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func transitionError(from, to string) error {
	return &ValidationError{
		Msg: fmt.Sprintf("cannot move inpatient record from %q to %q", from, to),
		Err: ErrInvalidStateTransition,
	}
}

// DuplicateActiveStayError is returned when the patient already has a
// scheduled or admitted stay.
type DuplicateActiveStayError struct {
	PatientID      uuid.UUID
	ExistingStayID uuid.UUID
	ExistingStatus string
}

func (e *DuplicateActiveStayError) Error() string {
	if e.ExistingStayID == uuid.Nil {
		return fmt.Sprintf("patient %s already has an active inpatient record", e.PatientID)
	}
	return fmt.Sprintf("already %s patient %s with inpatient record %s", e.ExistingStatus, e.PatientID, e.ExistingStayID)
}

// UnitUnavailableError is returned when a service unit is held by another stay.
type UnitUnavailableError struct {
	UnitID uuid.UUID
	HeldBy uuid.UUID
}

func (e *UnitUnavailableError) Error() string {
	if e.HeldBy == uuid.Nil {
		return fmt.Sprintf("service unit %s is occupied", e.UnitID)
	}
	return fmt.Sprintf("service unit %s is occupied by inpatient record %s", e.UnitID, e.HeldBy)
}

// IncompleteCareError lists mandatory care that is still outstanding.
type IncompleteCareError struct {
	Reason string
	Items  []string
}

func (e *IncompleteCareError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, strings.Join(e.Items, ", "))
}

// Obligations maps a billing category to the unbilled document references.
type Obligations map[string][]string

// Categories returns the categories in a stable order.
func (o Obligations) Categories() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (o Obligations) add(category string, refs ...string) {
	if len(refs) == 0 {
		return
	}
	o[category] = append(o[category], refs...)
}

// BillingBlockedError is returned when discharge is blocked by unbilled services.
type BillingBlockedError struct {
	Pending Obligations
}

func (e *BillingBlockedError) Error() string {
	parts := make([]string, 0, len(e.Pending))
	for _, cat := range e.Pending.Categories() {
		parts = append(parts, fmt.Sprintf("%s: %s", cat, strings.Join(e.Pending[cat], ", ")))
	}
	return "cannot discharge with unbilled services (" + strings.Join(parts, "; ") + ")"
}

// ConfigurationError reports missing reference data, such as a price list
// without a rate or a service unit type without billing hours.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NotFoundError is returned when a referenced entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func notFound(entity string, id uuid.UUID) error {
	return &NotFoundError{Entity: entity, ID: id.String()}
}
