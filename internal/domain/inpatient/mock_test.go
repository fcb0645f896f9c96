package inpatient

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/inpatient/internal/domain/encounter"
	"github.com/ehr/inpatient/internal/domain/nursing"
	"github.com/ehr/inpatient/internal/domain/orders"
	"github.com/ehr/inpatient/internal/domain/patient"
	"github.com/ehr/inpatient/internal/platform/clock"
	"github.com/ehr/inpatient/internal/platform/pricing"
)

// -- Mock Repository --

// repoState holds rows by value so a transaction can be rolled back by
// restoring a copy.
type repoState struct {
	stays     map[uuid.UUID]Stay
	entries   []OccupancyEntry
	items     []BillableLineItem
	units     map[uuid.UUID]ServiceUnit
	unitTypes map[uuid.UUID]ServiceUnitType
}

func (s repoState) clone() repoState {
	c := repoState{
		stays:     make(map[uuid.UUID]Stay, len(s.stays)),
		entries:   append([]OccupancyEntry(nil), s.entries...),
		items:     append([]BillableLineItem(nil), s.items...),
		units:     make(map[uuid.UUID]ServiceUnit, len(s.units)),
		unitTypes: make(map[uuid.UUID]ServiceUnitType, len(s.unitTypes)),
	}
	for k, v := range s.stays {
		c.stays[k] = v
	}
	for k, v := range s.units {
		c.units[k] = v
	}
	for k, v := range s.unitTypes {
		c.unitTypes[k] = v
	}
	return c
}

type mockRepo struct {
	repoState
	txDepth int
	// beforeUpdate runs ahead of the version check in UpdateStay and may
	// change the stored row to simulate a concurrent writer.
	beforeUpdate func(stored *Stay)
}

func newMockRepo() *mockRepo {
	return &mockRepo{repoState: repoState{
		stays:     make(map[uuid.UUID]Stay),
		units:     make(map[uuid.UUID]ServiceUnit),
		unitTypes: make(map[uuid.UUID]ServiceUnitType),
	}}
}

func (m *mockRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.txDepth > 0 {
		return fn(ctx)
	}
	snap := m.repoState.clone()
	m.txDepth++
	err := fn(ctx)
	m.txDepth--
	if err != nil {
		m.repoState = snap
	}
	return err
}

func (m *mockRepo) CreateStay(_ context.Context, s *Stay) error {
	for _, other := range m.stays {
		if other.PatientID == s.PatientID && (other.Status == StatusAdmissionScheduled || other.Status == StatusAdmitted) {
			return &DuplicateActiveStayError{PatientID: s.PatientID}
		}
	}
	s.ID = uuid.New()
	s.Version = 1
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	row := *s
	row.Occupancies, row.Items = nil, nil
	m.stays[s.ID] = row
	return nil
}

func (m *mockRepo) GetStay(_ context.Context, id uuid.UUID) (*Stay, error) {
	row, ok := m.stays[id]
	if !ok {
		return nil, notFound("inpatient record", id)
	}
	s := row
	for i := range m.entries {
		if m.entries[i].StayID == id {
			e := m.entries[i]
			s.Occupancies = append(s.Occupancies, &e)
		}
	}
	for i := range m.items {
		if m.items[i].StayID == id {
			it := m.items[i]
			s.Items = append(s.Items, &it)
		}
	}
	return &s, nil
}

func (m *mockRepo) GetStayForUpdate(ctx context.Context, id uuid.UUID) (*Stay, error) {
	return m.GetStay(ctx, id)
}

func (m *mockRepo) UpdateStay(_ context.Context, s *Stay) error {
	stored, ok := m.stays[s.ID]
	if !ok {
		return notFound("inpatient record", s.ID)
	}
	if m.beforeUpdate != nil {
		m.beforeUpdate(&stored)
		m.stays[s.ID] = stored
	}
	if stored.Version != s.Version {
		return ErrConcurrentUpdate
	}
	s.Version++
	s.UpdatedAt = time.Now()
	row := *s
	row.Occupancies, row.Items = nil, nil
	m.stays[s.ID] = row
	return nil
}

func (m *mockRepo) ListStays(ctx context.Context, f StayFilter, limit, offset int) ([]*Stay, int, error) {
	var out []*Stay
	for id, row := range m.stays {
		if f.PatientID != nil && row.PatientID != *f.PatientID {
			continue
		}
		if f.Status != "" && row.Status != f.Status {
			continue
		}
		s, _ := m.GetStay(ctx, id)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *mockRepo) ListStayIDsByStatus(_ context.Context, statuses ...string) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for id, row := range m.stays {
		for _, st := range statuses {
			if row.Status == st {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

func (m *mockRepo) FindActiveStayForPatient(ctx context.Context, patientID uuid.UUID) (*Stay, error) {
	for id, row := range m.stays {
		if row.PatientID == patientID && (row.Status == StatusAdmissionScheduled || row.Status == StatusAdmitted) {
			return m.GetStay(ctx, id)
		}
	}
	return nil, nil
}

func (m *mockRepo) AddOccupancy(_ context.Context, e *OccupancyEntry) error {
	for _, other := range m.entries {
		if other.ServiceUnitID == e.ServiceUnitID && !other.Left {
			return &UnitUnavailableError{UnitID: e.ServiceUnitID, HeldBy: other.StayID}
		}
	}
	e.ID = uuid.New()
	e.Seq = len(m.entries) + 1
	m.entries = append(m.entries, *e)
	return nil
}

func (m *mockRepo) UpdateOccupancy(_ context.Context, e *OccupancyEntry) error {
	for i := range m.entries {
		if m.entries[i].ID == e.ID {
			m.entries[i] = *e
			return nil
		}
	}
	return notFound("occupancy", e.ID)
}

func (m *mockRepo) DeleteOccupancies(_ context.Context, stayID uuid.UUID) error {
	kept := m.entries[:0:0]
	for _, e := range m.entries {
		if e.StayID != stayID {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	return nil
}

func (m *mockRepo) FindActiveOccupant(_ context.Context, unitID uuid.UUID) (uuid.UUID, error) {
	for _, e := range m.entries {
		if e.ServiceUnitID == unitID && !e.Left {
			return e.StayID, nil
		}
	}
	return uuid.Nil, nil
}

func (m *mockRepo) AddLineItem(_ context.Context, it *BillableLineItem) error {
	it.ID = uuid.New()
	it.Seq = len(m.items) + 1
	m.items = append(m.items, *it)
	return nil
}

func (m *mockRepo) UpdateLineItem(_ context.Context, it *BillableLineItem) error {
	for i := range m.items {
		if m.items[i].ID == it.ID {
			if m.items[i].Invoiced {
				return validationf("line item %s is invoiced", it.ItemCode)
			}
			m.items[i] = *it
			return nil
		}
	}
	return notFound("line item", it.ID)
}

func (m *mockRepo) CreateServiceUnit(_ context.Context, u *ServiceUnit) error {
	u.ID = uuid.New()
	m.units[u.ID] = *u
	return nil
}

func (m *mockRepo) GetServiceUnit(_ context.Context, id uuid.UUID) (*ServiceUnit, error) {
	u, ok := m.units[id]
	if !ok {
		return nil, notFound("service unit", id)
	}
	return &u, nil
}

func (m *mockRepo) GetServiceUnitForUpdate(ctx context.Context, id uuid.UUID) (*ServiceUnit, error) {
	return m.GetServiceUnit(ctx, id)
}

func (m *mockRepo) ListServiceUnits(_ context.Context, limit, offset int) ([]*ServiceUnit, int, error) {
	var out []*ServiceUnit
	for _, u := range m.units {
		u := u
		out = append(out, &u)
	}
	return out, len(out), nil
}

func (m *mockRepo) ListServiceUnitIDs(_ context.Context) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for id := range m.units {
		out = append(out, id)
	}
	return out, nil
}

func (m *mockRepo) SetUnitStatus(_ context.Context, id uuid.UUID, status string) error {
	u, ok := m.units[id]
	if !ok {
		return notFound("service unit", id)
	}
	u.OccupancyStatus = status
	m.units[id] = u
	return nil
}

func (m *mockRepo) CreateServiceUnitType(_ context.Context, t *ServiceUnitType) error {
	t.ID = uuid.New()
	m.unitTypes[t.ID] = *t
	return nil
}

func (m *mockRepo) GetServiceUnitType(_ context.Context, id uuid.UUID) (*ServiceUnitType, error) {
	t, ok := m.unitTypes[id]
	if !ok {
		return nil, notFound("service unit type", id)
	}
	return &t, nil
}

func (m *mockRepo) ListServiceUnitTypes(_ context.Context, limit, offset int) ([]*ServiceUnitType, int, error) {
	var out []*ServiceUnitType
	for _, t := range m.unitTypes {
		t := t
		out = append(out, &t)
	}
	return out, len(out), nil
}

// -- Mock Collaborators --

type mockPatients struct {
	patients map[uuid.UUID]*patient.Patient
}

func (m *mockPatients) GetPatient(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPatients) SetInpatientStatus(_ context.Context, id uuid.UUID, recordID *uuid.UUID, status *string) error {
	p, ok := m.patients[id]
	if !ok {
		return patient.ErrNotFound
	}
	p.InpatientRecordID = recordID
	p.InpatientStatus = status
	return nil
}

type mockEncounters struct {
	encounters map[uuid.UUID]*encounter.Encounter
}

func (m *mockEncounters) GetEncounter(_ context.Context, id uuid.UUID) (*encounter.Encounter, error) {
	e, ok := m.encounters[id]
	if !ok {
		return nil, encounter.ErrNotFound
	}
	return e, nil
}

func (m *mockEncounters) ListInpatientEncounterIDs(_ context.Context, recordID uuid.UUID) ([]uuid.UUID, error) {
	var linked []*encounter.Encounter
	for _, e := range m.encounters {
		if e.InpatientRecordID != nil && *e.InpatientRecordID == recordID {
			linked = append(linked, e)
		}
	}
	sort.Slice(linked, func(i, j int) bool { return linked[i].EncounterDate.Before(linked[j].EncounterDate) })
	ids := make([]uuid.UUID, 0, len(linked))
	for _, e := range linked {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func (m *mockEncounters) SetInpatientStatus(_ context.Context, id uuid.UUID, recordID *uuid.UUID, status *string) error {
	e, ok := m.encounters[id]
	if !ok {
		return encounter.ErrNotFound
	}
	e.InpatientRecordID = recordID
	e.InpatientStatus = status
	return nil
}

type templateRun struct {
	templateID uuid.UUID
	target     nursing.Target
	start      time.Time
}

type mockNursing struct {
	outstanding map[uuid.UUID][]string
	runs        []templateRun
	medication  []nursing.MedicationSchedule
	cancelled   []uuid.UUID
}

func (m *mockNursing) OutstandingMandatoryTasks(_ context.Context, stayID uuid.UUID) ([]string, error) {
	return m.outstanding[stayID], nil
}

func (m *mockNursing) CreateTasksFromTemplate(_ context.Context, templateID uuid.UUID, target nursing.Target, start time.Time) ([]*nursing.Task, error) {
	m.runs = append(m.runs, templateRun{templateID: templateID, target: target, start: start})
	return []*nursing.Task{{ID: uuid.New(), ReferenceID: target.StayID}}, nil
}

func (m *mockNursing) CreateMedicationTasks(_ context.Context, sched nursing.MedicationSchedule, target nursing.Target) ([]*nursing.Task, error) {
	m.medication = append(m.medication, sched)
	tasks := make([]*nursing.Task, len(sched.DoseTimes))
	for i := range tasks {
		tasks[i] = &nursing.Task{ID: uuid.New(), ReferenceID: target.StayID, ServiceUnitID: target.ServiceUnitID}
	}
	return tasks, nil
}

func (m *mockNursing) CancelOpenTasks(_ context.Context, stayID uuid.UUID) (int64, error) {
	m.cancelled = append(m.cancelled, stayID)
	return 1, nil
}

type stampCall struct {
	orderGroup, recordID uuid.UUID
	status               string
}

type mockOrders struct {
	serviceRequests    []*orders.ServiceRequest
	medicationRequests []*orders.MedicationRequest
	stamps             []stampCall
}

func (m *mockOrders) StampOrderGroup(_ context.Context, orderGroup, recordID uuid.UUID, status string) error {
	m.stamps = append(m.stamps, stampCall{orderGroup, recordID, status})
	return nil
}

func (m *mockOrders) CreateServiceRequest(_ context.Context, sr *orders.ServiceRequest) error {
	sr.ID = uuid.New()
	if sr.Status == "" {
		sr.Status = orders.StatusActive
	}
	if sr.BillingStatus == "" {
		sr.BillingStatus = orders.BillingPending
	}
	m.serviceRequests = append(m.serviceRequests, sr)
	return nil
}

func (m *mockOrders) ListMedicationRequests(_ context.Context, f orders.Filter) ([]*orders.MedicationRequest, error) {
	var out []*orders.MedicationRequest
	for _, mr := range m.medicationRequests {
		if !matchesFilter(f, mr.PatientID, mr.InpatientRecordID, mr.OrderGroup, mr.Submitted) {
			continue
		}
		out = append(out, mr)
	}
	return out, nil
}

func (m *mockOrders) ListServiceRequests(_ context.Context, f orders.Filter) ([]*orders.ServiceRequest, error) {
	var out []*orders.ServiceRequest
	for _, sr := range m.serviceRequests {
		if !matchesFilter(f, sr.PatientID, sr.InpatientRecordID, sr.OrderGroup, sr.Submitted) {
			continue
		}
		out = append(out, sr)
	}
	return out, nil
}

func matchesFilter(f orders.Filter, patientID uuid.UUID, recordID, orderGroup *uuid.UUID, submitted bool) bool {
	if f.PatientID != nil && patientID != *f.PatientID {
		return false
	}
	if f.InpatientRecordID != nil && !linkedTo(recordID, *f.InpatientRecordID) {
		return false
	}
	if f.SubmittedOnly && !submitted {
		return false
	}
	if len(f.OrderGroups) == 0 {
		return true
	}
	for _, g := range f.OrderGroups {
		if linkedTo(orderGroup, g) {
			return true
		}
	}
	return false
}

func linkedTo(recordID *uuid.UUID, stayID uuid.UUID) bool {
	return recordID != nil && *recordID == stayID
}

func (m *mockOrders) ListPendingServiceRequests(_ context.Context, patientID, recordID uuid.UUID) ([]*orders.ServiceRequest, error) {
	var out []*orders.ServiceRequest
	for _, sr := range m.serviceRequests {
		if sr.PatientID == patientID && linkedTo(sr.InpatientRecordID, recordID) && sr.Submitted &&
			sr.BillingStatus == orders.BillingPending && sr.TemplateDT != orders.TemplateHealthcareActivity {
			out = append(out, sr)
		}
	}
	return out, nil
}

func (m *mockOrders) ListPendingMedicationRequests(_ context.Context, patientID, recordID uuid.UUID) ([]*orders.MedicationRequest, error) {
	var out []*orders.MedicationRequest
	for _, mr := range m.medicationRequests {
		if mr.PatientID == patientID && linkedTo(mr.InpatientRecordID, recordID) && mr.Submitted &&
			mr.BillingStatus == orders.BillingPending {
			out = append(out, mr)
		}
	}
	return out, nil
}

func (m *mockOrders) ListIncompleteServiceRequests(_ context.Context, recordID uuid.UUID) ([]*orders.ServiceRequest, error) {
	var out []*orders.ServiceRequest
	for _, sr := range m.serviceRequests {
		if linkedTo(sr.InpatientRecordID, recordID) && sr.Submitted && sr.Status != orders.StatusCompleted {
			out = append(out, sr)
		}
	}
	return out, nil
}

func (m *mockOrders) AdjustServiceRequestInvoice(_ context.Context, id uuid.UUID, delta float64) (*orders.ServiceRequest, error) {
	for _, sr := range m.serviceRequests {
		if sr.ID != id {
			continue
		}
		next := sr.QtyInvoiced + delta
		if next > sr.Quantity {
			return nil, orders.ErrOverInvoiced
		}
		if next < 0 {
			next = 0
		}
		sr.QtyInvoiced = next
		switch {
		case next == 0:
			sr.BillingStatus = orders.BillingPending
		case next < sr.Quantity:
			sr.BillingStatus = orders.BillingPartlyInvoiced
		default:
			sr.BillingStatus = orders.BillingInvoiced
		}
		return sr, nil
	}
	return nil, orders.ErrNotFound
}

func (m *mockOrders) AdjustMedicationRequestInvoice(_ context.Context, id uuid.UUID, delta float64) (*orders.MedicationRequest, error) {
	for _, mr := range m.medicationRequests {
		if mr.ID != id {
			continue
		}
		next := mr.QtyInvoiced + delta
		if next > mr.TotalDispensable() {
			return nil, orders.ErrOverInvoiced
		}
		if next < 0 {
			next = 0
		}
		mr.QtyInvoiced = next
		if next >= mr.TotalDispensable() {
			mr.BillingStatus = orders.BillingInvoiced
		} else if next > 0 {
			mr.BillingStatus = orders.BillingPartlyInvoiced
		} else {
			mr.BillingStatus = orders.BillingPending
		}
		return mr, nil
	}
	return nil, orders.ErrNotFound
}

type mockPricing struct {
	rates   map[string]decimal.Decimal
	queries []pricing.Query
}

func (m *mockPricing) ItemRate(_ context.Context, q pricing.Query) (decimal.Decimal, error) {
	m.queries = append(m.queries, q)
	r, ok := m.rates[q.ItemCode]
	if !ok {
		return decimal.Zero, pricing.ErrNoPrice
	}
	return r, nil
}

type mockLedger struct {
	docs []*LedgerDocument
}

func (m *mockLedger) RegisterDocument(_ context.Context, d *LedgerDocument) error {
	d.ID = uuid.New()
	m.docs = append(m.docs, d)
	return nil
}

func (m *mockLedger) UnbilledDocuments(_ context.Context, patientID, stayID uuid.UUID) ([]*LedgerDocument, error) {
	var out []*LedgerDocument
	for _, d := range m.docs {
		if d.PatientID == patientID && d.StayID != nil && *d.StayID == stayID && !d.Invoiced && d.BilledVia == nil {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockLedger) SetDocumentInvoiced(_ context.Context, stayID, id uuid.UUID, invoiced bool) (*LedgerDocument, error) {
	for _, d := range m.docs {
		if d.ID != id || d.StayID == nil || *d.StayID != stayID {
			continue
		}
		if d.Invoiced == invoiced {
			return nil, validationf("document %s invoiced flag is already %t", id, invoiced)
		}
		d.Invoiced = invoiced
		return d, nil
	}
	return nil, notFound("billing document", id)
}

type mockCounselling struct {
	templates   map[uuid.UUID]*TreatmentPlanTemplate
	counselling map[uuid.UUID]*TreatmentCounselling
}

func newMockCounselling() *mockCounselling {
	return &mockCounselling{
		templates:   make(map[uuid.UUID]*TreatmentPlanTemplate),
		counselling: make(map[uuid.UUID]*TreatmentCounselling),
	}
}

func (m *mockCounselling) CreateTemplate(_ context.Context, t *TreatmentPlanTemplate) error {
	t.ID = uuid.New()
	for _, it := range t.Items {
		it.ID = uuid.New()
		it.TemplateID = t.ID
	}
	m.templates[t.ID] = t
	return nil
}

func (m *mockCounselling) RequiresCounselling(_ context.Context, templateID uuid.UUID) (bool, error) {
	t, ok := m.templates[templateID]
	if !ok {
		return false, notFound("treatment plan template", templateID)
	}
	return t.CounsellingRequiredIP, nil
}

func (m *mockCounselling) CreateCounselling(_ context.Context, c *TreatmentCounselling) error {
	t, ok := m.templates[c.TreatmentPlanTemplateID]
	if !ok {
		return notFound("treatment plan template", c.TreatmentPlanTemplateID)
	}
	c.ID = uuid.New()
	for _, it := range t.Items {
		c.Items = append(c.Items, &CounsellingItem{ID: uuid.New(), CounsellingID: c.ID, TemplateDT: it.TemplateDT, TemplateDN: it.TemplateDN})
	}
	m.counselling[c.ID] = c
	return nil
}

func (m *mockCounselling) GetCounselling(_ context.Context, id uuid.UUID) (*TreatmentCounselling, error) {
	c, ok := m.counselling[id]
	if !ok {
		return nil, notFound("treatment counselling", id)
	}
	return c, nil
}

func (m *mockCounselling) CancelCounselling(_ context.Context, id uuid.UUID) error {
	c, ok := m.counselling[id]
	if !ok || c.Status != CounsellingActive {
		return validationf("treatment counselling %s is not active", id)
	}
	c.Status = CounsellingCancelled
	return nil
}

func (m *mockCounselling) AttachStay(_ context.Context, counsellingID, stayID uuid.UUID) error {
	c := m.counselling[counsellingID]
	c.InpatientRecordID = &stayID
	c.Status = CounsellingClosed
	return nil
}

func (m *mockCounselling) PendingItems(_ context.Context, stayID uuid.UUID) ([]*CounsellingItem, error) {
	var out []*CounsellingItem
	for _, c := range m.counselling {
		if c.InpatientRecordID == nil || *c.InpatientRecordID != stayID {
			continue
		}
		for _, it := range c.Items {
			if it.ServiceRequestID == nil {
				out = append(out, it)
			}
		}
	}
	return out, nil
}

func (m *mockCounselling) MarkItemOrdered(_ context.Context, itemID, serviceRequestID uuid.UUID) error {
	for _, c := range m.counselling {
		for _, it := range c.Items {
			if it.ID == itemID {
				it.ServiceRequestID = &serviceRequestID
				return nil
			}
		}
	}
	return errors.New("counselling item not found")
}

// -- Fixture --

var testStart = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

type fixture struct {
	svc         *Service
	repo        *mockRepo
	patients    *mockPatients
	encounters  *mockEncounters
	nursing     *mockNursing
	orders      *mockOrders
	pricing     *mockPricing
	ledger      *mockLedger
	counselling *mockCounselling
	clk         *clock.Manual

	patientID   uuid.UUID
	encounterID uuid.UUID
}

func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()
	f := &fixture{
		repo:        newMockRepo(),
		patients:    &mockPatients{patients: make(map[uuid.UUID]*patient.Patient)},
		encounters:  &mockEncounters{encounters: make(map[uuid.UUID]*encounter.Encounter)},
		nursing:     &mockNursing{outstanding: make(map[uuid.UUID][]string)},
		orders:      &mockOrders{},
		pricing:     &mockPricing{rates: make(map[string]decimal.Decimal)},
		ledger:      &mockLedger{},
		counselling: newMockCounselling(),
		clk:         clock.NewManual(testStart),
	}
	if policy.DefaultPriceList == "" {
		policy.DefaultPriceList = "Standard Selling"
	}
	f.svc = NewService(Deps{
		Repo:        f.repo,
		Patients:    f.patients,
		Encounters:  f.encounters,
		Nursing:     f.nursing,
		Orders:      f.orders,
		Pricing:     f.pricing,
		Ledger:      f.ledger,
		Counselling: f.counselling,
		Policy:      policy,
		Logger:      zerolog.Nop(),
	})
	f.svc.SetClock(f.clk)
	f.patientID, f.encounterID = f.addPatient()
	return f
}

// addPatient registers a patient with an open encounter.
func (f *fixture) addPatient() (uuid.UUID, uuid.UUID) {
	p := &patient.Patient{ID: uuid.New(), MRN: "MRN-" + uuid.NewString()[:8], FirstName: "Asha"}
	f.patients.patients[p.ID] = p
	desc := "Community acquired pneumonia"
	enc := &encounter.Encounter{
		ID:        uuid.New(),
		PatientID: p.ID,
		Status:    "Open",
		Symptoms:  []encounter.Symptom{{Complaint: "Fever"}},
		Diagnoses: []encounter.Diagnosis{{Code: "J18.9", Description: &desc}},
	}
	f.encounters.encounters[enc.ID] = enc
	return p.ID, enc.ID
}

// hourlyType returns a billable unit type charged per hour.
func hourlyType(itemCode string, rate int64) *ServiceUnitType {
	return &ServiceUnitType{
		Name:       itemCode + " type",
		ItemCode:   itemCode,
		UOM:        UOMHour,
		Rate:       decimal.NewFromInt(rate),
		NoOfHours:  1,
		IsBillable: true,
	}
}

func (f *fixture) addUnit(t *testing.T, name string, ut *ServiceUnitType) *ServiceUnit {
	t.Helper()
	ctx := context.Background()
	if ut.ID == uuid.Nil {
		if err := f.repo.CreateServiceUnitType(ctx, ut); err != nil {
			t.Fatalf("create unit type: %v", err)
		}
	}
	u := &ServiceUnit{Name: name, UnitTypeID: ut.ID, OccupancyStatus: UnitVacant}
	if err := f.repo.CreateServiceUnit(ctx, u); err != nil {
		t.Fatalf("create unit: %v", err)
	}
	return u
}

func (f *fixture) schedule(t *testing.T) *Stay {
	t.Helper()
	res, err := f.svc.Schedule(context.Background(), &AdmissionOrder{
		PatientID:            f.patientID,
		AdmissionEncounterID: f.encounterID,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if res.Stay == nil {
		t.Fatal("expected a stay")
	}
	return res.Stay
}

func (f *fixture) admit(t *testing.T, stay *Stay, unit *ServiceUnit) *Stay {
	t.Helper()
	admitted, err := f.svc.Admit(context.Background(), stay.ID, AdmitRequest{ServiceUnitID: unit.ID, CheckIn: f.clk.Now()})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	return admitted
}

func (f *fixture) unitStatus(t *testing.T, id uuid.UUID) string {
	t.Helper()
	u, err := f.repo.GetServiceUnit(context.Background(), id)
	if err != nil {
		t.Fatalf("get unit: %v", err)
	}
	return u.OccupancyStatus
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *Stay {
	t.Helper()
	s, err := f.repo.GetStay(context.Background(), id)
	if err != nil {
		t.Fatalf("reload stay: %v", err)
	}
	return s
}
