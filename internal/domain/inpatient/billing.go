package inpatient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/inpatient/internal/domain/orders"
	"github.com/ehr/inpatient/internal/platform/clock"
	"github.com/ehr/inpatient/internal/platform/pricing"
)

// maxBillingAttempts bounds optimistic retries of ComputeOccupancyBilling.
const maxBillingAttempts = 3

var (
	half = decimal.New(5, -1)
	one  = decimal.NewFromInt(1)
)

// Invoice event kinds accepted by RecordInvoice.
const (
	InvoiceItem              = "item"
	InvoiceOccupancy         = "occupancy"
	InvoiceDocument          = "document"
	InvoiceServiceRequest    = "service_request"
	InvoiceMedicationRequest = "medication_request"
)

// InvoiceEvent reports that a billed document was invoiced or, with Cancel,
// that its invoice was cancelled. Quantity applies to orders only.
type InvoiceEvent struct {
	Kind     string    `json:"kind"`
	ID       uuid.UUID `json:"id"`
	Quantity float64   `json:"quantity,omitempty"`
	Cancel   bool      `json:"cancel,omitempty"`
}

// Reconciler turns occupancy into billable line items and decides whether a
// stay still has unbilled obligations.
type Reconciler struct {
	repo    Repository
	orders  OrderService
	ledger  BillingLedger
	pricing PricingService
	policy  Policy
	clock   clock.Clock
	logger  zerolog.Logger
}

func NewReconciler(repo Repository, orderSvc OrderService, ledger BillingLedger, prices PricingService, policy Policy, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		repo:    repo,
		orders:  orderSvc,
		ledger:  ledger,
		pricing: prices,
		policy:  policy,
		clock:   clock.NewSystem(),
		logger:  logger,
	}
}

// SetClock overrides the time source, for tests.
func (r *Reconciler) SetClock(c clock.Clock) { r.clock = c }

// RoundOccupancyQuantity rounds a finalized occupancy to billing units: a
// fraction above one half rounds up to the next unit, any smaller positive
// fraction bills half a unit, and nothing bills less than half a unit.
func RoundOccupancyQuantity(actual decimal.Decimal) decimal.Decimal {
	floor := actual.Floor()
	frac := actual.Sub(floor)
	q := floor
	switch {
	case frac.GreaterThan(half):
		q = floor.Add(one)
	case frac.IsPositive():
		q = floor.Add(half)
	}
	if !q.IsPositive() {
		return half
	}
	return q
}

// billingChanges collects the rows a billing pass must write.
type billingChanges struct {
	added   []*BillableLineItem
	updated []*BillableLineItem
	swept   []*OccupancyEntry
}

func (c *billingChanges) markUpdated(it *BillableLineItem) {
	for _, a := range c.added {
		if a == it {
			return
		}
	}
	for _, u := range c.updated {
		if u == it {
			return
		}
	}
	c.updated = append(c.updated, it)
}

func (c *billingChanges) empty() bool {
	return len(c.added) == 0 && len(c.updated) == 0 && len(c.swept) == 0
}

type itemQuantity struct {
	itemCode string
	uom      string
	qty      decimal.Decimal
	unitType *ServiceUnitType
}

// ComputeOccupancyBilling brings the stay's occupancy line items up to date.
// It does not lock the stay; a concurrent change is detected through the
// version column and the computation is retried.
func (r *Reconciler) ComputeOccupancyBilling(ctx context.Context, stayID uuid.UUID) (*Stay, error) {
	stay, _, err := r.computeWithRetry(ctx, stayID)
	return stay, err
}

func (r *Reconciler) computeWithRetry(ctx context.Context, stayID uuid.UUID) (*Stay, bool, error) {
	var (
		stay    *Stay
		changed bool
		err     error
	)
	for attempt := 1; attempt <= maxBillingAttempts; attempt++ {
		stay, changed, err = r.computeOnce(ctx, stayID)
		if !errors.Is(err, ErrConcurrentUpdate) {
			return stay, changed, err
		}
		r.logger.Debug().Str("inpatient_record_id", stayID.String()).Int("attempt", attempt).
			Msg("inpatient record changed during billing, retrying")
	}
	return nil, false, err
}

func (r *Reconciler) computeOnce(ctx context.Context, stayID uuid.UUID) (*Stay, bool, error) {
	var (
		stay    *Stay
		changed bool
	)
	err := r.repo.WithTx(ctx, func(ctx context.Context) error {
		var err error
		stay, err = r.repo.GetStay(ctx, stayID)
		if err != nil {
			return err
		}
		if stay.Status != StatusAdmitted && stay.Status != StatusDischargeScheduled {
			return &ValidationError{
				Msg: fmt.Sprintf("occupancy billing is only computed for admitted stays, inpatient record %s is %s", stay.ID, stay.Status),
				Err: ErrNotBillable,
			}
		}
		ch, err := r.computeOccupancyBilling(ctx, stay, r.clock.Now())
		if err != nil {
			return err
		}
		if ch.empty() {
			return nil
		}
		changed = len(ch.added) > 0 || len(ch.updated) > 0
		return r.persist(ctx, stay, ch)
	})
	if err != nil {
		return nil, false, err
	}
	return stay, changed, nil
}

// computeOccupancyBilling updates stay.Items in memory and reports what
// must be written.
func (r *Reconciler) computeOccupancyBilling(ctx context.Context, stay *Stay, now time.Time) (*billingChanges, error) {
	quantities, swept, err := r.occupancyQuantities(ctx, stay, now)
	if err != nil {
		return nil, err
	}
	ch := &billingChanges{swept: swept}
	for _, q := range quantities {
		qty := q.qty
		if qty.LessThan(q.unitType.MinimumBillableQty) {
			qty = q.unitType.MinimumBillableQty
		}
		rate := q.unitType.Rate.Div(decimal.NewFromInt(int64(q.unitType.NoOfHours)))
		r.applyLineItem(stay, ch, q.itemCode, q.uom, qty, rate)
	}
	for _, e := range swept {
		t := now
		e.ScheduledBillingTime = &t
	}

	priced, err := r.applyRates(ctx, stay)
	if err != nil {
		return nil, err
	}
	for _, it := range priced {
		ch.markUpdated(it)
	}
	stay.RecomputeTotal()
	return ch, nil
}

// occupancyQuantities sums billing units per item across the stay's entries
// on billable unit types, in order of first appearance.
func (r *Reconciler) occupancyQuantities(ctx context.Context, stay *Stay, now time.Time) ([]*itemQuantity, []*OccupancyEntry, error) {
	var (
		order []*itemQuantity
		swept []*OccupancyEntry
	)
	byItem := map[string]*itemQuantity{}
	for _, e := range stay.Occupancies {
		ut, err := r.unitTypeOf(ctx, e.ServiceUnitID)
		if err != nil {
			return nil, nil, err
		}
		if !ut.IsBillable || ut.ItemCode == "" {
			continue
		}
		if ut.NoOfHours <= 0 {
			return nil, nil, &ConfigurationError{Msg: fmt.Sprintf("service unit type %s has no billing hours configured", ut.Name)}
		}

		end := now
		if e.Left && e.CheckOut != nil {
			end = *e.CheckOut
		}
		minutes := int64(end.Sub(e.CheckIn) / time.Minute)
		if minutes < 0 {
			minutes = 0
		}
		units := decimal.NewFromInt(minutes).Div(decimal.NewFromInt(ut.UnitMinutes()))
		if e.Left {
			units = RoundOccupancyQuantity(units)
		} else {
			units = units.Round(2)
		}

		q, ok := byItem[ut.ItemCode]
		if !ok {
			q = &itemQuantity{itemCode: ut.ItemCode, uom: ut.UOM, unitType: ut}
			byItem[ut.ItemCode] = q
			order = append(order, q)
		}
		q.qty = q.qty.Add(units)
		swept = append(swept, e)
	}
	return order, swept, nil
}

func (r *Reconciler) unitTypeOf(ctx context.Context, unitID uuid.UUID) (*ServiceUnitType, error) {
	unit, err := r.repo.GetServiceUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	return r.repo.GetServiceUnitType(ctx, unit.UnitTypeID)
}

// applyLineItem reconciles the stay's rows for one item with the freshly
// computed quantity. Invoiced rows are never changed; growth beyond the
// invoiced quantity goes to a single open row.
func (r *Reconciler) applyLineItem(stay *Stay, ch *billingChanges, itemCode, uom string, qty, rate decimal.Decimal) {
	var open *BillableLineItem
	invoicedQty := decimal.Zero
	anyInvoiced := false
	for _, it := range stay.Items {
		if it.ItemCode != itemCode {
			continue
		}
		if it.Invoiced {
			invoicedQty = invoicedQty.Add(it.Quantity)
			anyInvoiced = true
		} else {
			open = it
		}
	}

	target := qty
	if anyInvoiced {
		target = qty.Sub(invoicedQty)
		if !target.IsPositive() {
			return
		}
	}

	if open == nil {
		u := uom
		it := &BillableLineItem{StayID: stay.ID, ItemCode: itemCode, UOM: &u, Quantity: target, Rate: rate}
		stay.Items = append(stay.Items, it)
		ch.added = append(ch.added, it)
		return
	}
	if open.Quantity.Equal(target) && open.Rate.Equal(rate) {
		return
	}
	open.Quantity = target
	open.Rate = rate
	ch.markUpdated(open)
}

// applyRates prices every open item that has no rate yet from the stay's
// price list, falling back to the default one.
func (r *Reconciler) applyRates(ctx context.Context, stay *Stay) ([]*BillableLineItem, error) {
	priceList := r.policy.DefaultPriceList
	if stay.PriceList != nil && *stay.PriceList != "" {
		priceList = *stay.PriceList
	}
	currency := r.policy.DefaultCurrency
	if stay.Currency != nil && *stay.Currency != "" {
		currency = *stay.Currency
	}

	var changed []*BillableLineItem
	for _, it := range stay.Items {
		if it.Invoiced || !it.Rate.IsZero() {
			continue
		}
		if r.pricing == nil {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("no pricing service configured to rate item %s", it.ItemCode)}
		}
		rate, err := r.pricing.ItemRate(ctx, pricing.Query{ItemCode: it.ItemCode, PriceList: priceList, Currency: currency})
		if errors.Is(err, pricing.ErrNoPrice) {
			return nil, &ConfigurationError{
				Msg: fmt.Sprintf("no rate for item %s in price list %q (%s)", it.ItemCode, priceList, currency),
				Err: err,
			}
		}
		if err != nil {
			return nil, fmt.Errorf("resolve rate for item %s: %w", it.ItemCode, err)
		}
		it.Rate = rate
		changed = append(changed, it)
	}
	stay.RecomputeTotal()
	return changed, nil
}

// persist writes the stay first so that a concurrent modification aborts
// the pass before any child row is touched.
func (r *Reconciler) persist(ctx context.Context, stay *Stay, ch *billingChanges) error {
	if err := r.repo.UpdateStay(ctx, stay); err != nil {
		return err
	}
	for _, it := range ch.added {
		if err := r.repo.AddLineItem(ctx, it); err != nil {
			return fmt.Errorf("add line item %s: %w", it.ItemCode, err)
		}
	}
	for _, it := range ch.updated {
		if err := r.repo.UpdateLineItem(ctx, it); err != nil {
			return fmt.Errorf("update line item %s: %w", it.ItemCode, err)
		}
	}
	for _, e := range ch.swept {
		if err := r.repo.UpdateOccupancy(ctx, e); err != nil {
			return fmt.Errorf("stamp occupancy %s: %w", e.ID, err)
		}
	}
	return nil
}

// ApplyRates prices the stay's unrated items and saves them.
func (r *Reconciler) ApplyRates(ctx context.Context, stayID uuid.UUID) (*Stay, error) {
	var stay *Stay
	err := r.repo.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if stay, err = r.repo.GetStayForUpdate(ctx, stayID); err != nil {
			return err
		}
		changed, err := r.applyRates(ctx, stay)
		if err != nil {
			return err
		}
		return r.persist(ctx, stay, &billingChanges{updated: changed})
	})
	if err != nil {
		return nil, err
	}
	return stay, nil
}

// AddItem appends a manually billed item to an open stay.
func (r *Reconciler) AddItem(ctx context.Context, stayID uuid.UUID, it *BillableLineItem) (*Stay, error) {
	if it.ItemCode == "" {
		return nil, validationf("item_code is required")
	}
	if !it.Quantity.IsPositive() {
		return nil, validationf("quantity must be positive")
	}
	if it.Rate.IsNegative() {
		return nil, validationf("rate must not be negative")
	}
	var stay *Stay
	err := r.repo.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if stay, err = r.repo.GetStayForUpdate(ctx, stayID); err != nil {
			return err
		}
		if stay.Status == StatusDischarged || stay.Status == StatusCancelled {
			return validationf("cannot add items to a %s inpatient record", stay.Status)
		}
		item := &BillableLineItem{StayID: stay.ID, ItemCode: it.ItemCode, UOM: it.UOM, Quantity: it.Quantity, Rate: it.Rate}
		stay.Items = append(stay.Items, item)
		ch := &billingChanges{added: []*BillableLineItem{item}}
		priced, err := r.applyRates(ctx, stay)
		if err != nil {
			return err
		}
		for _, p := range priced {
			ch.markUpdated(p)
		}
		return r.persist(ctx, stay, ch)
	})
	if err != nil {
		return nil, err
	}
	return stay, nil
}

// GetPendingObligations lists everything still unbilled for the stay,
// grouped by category.
func (r *Reconciler) GetPendingObligations(ctx context.Context, stayID uuid.UUID) (Obligations, error) {
	stay, err := r.repo.GetStay(ctx, stayID)
	if err != nil {
		return nil, err
	}
	return r.pendingObligations(ctx, stay)
}

func (r *Reconciler) pendingObligations(ctx context.Context, stay *Stay) (Obligations, error) {
	pending := Obligations{}
	if !r.policy.AutoGenerateBillable {
		var units []string
		for _, e := range stay.Occupancies {
			if e.Invoiced {
				continue
			}
			unit, err := r.repo.GetServiceUnit(ctx, e.ServiceUnitID)
			if err != nil {
				return nil, err
			}
			ut, err := r.repo.GetServiceUnitType(ctx, unit.UnitTypeID)
			if err != nil {
				return nil, err
			}
			if ut.IsBillable {
				units = append(units, unit.Name)
			}
		}
		pending.add(CategoryOccupancy, units...)
	} else {
		var codes []string
		for _, it := range stay.Items {
			if !it.Invoiced {
				codes = append(codes, it.ItemCode)
			}
		}
		pending.add(CategoryItems, codes...)
	}

	if r.ledger != nil {
		docs, err := r.ledger.UnbilledDocuments(ctx, stay.PatientID, stay.ID)
		if err != nil {
			return nil, fmt.Errorf("list unbilled documents: %w", err)
		}
		for _, d := range docs {
			pending.add(d.Category, d.Reference)
		}
	}

	srs, err := r.orders.ListPendingServiceRequests(ctx, stay.PatientID, stay.ID)
	if err != nil {
		return nil, fmt.Errorf("list pending service requests: %w", err)
	}
	for _, sr := range srs {
		pending.add(CategoryServiceRequest, sr.ID.String())
	}
	mrs, err := r.orders.ListPendingMedicationRequests(ctx, stay.PatientID, stay.ID)
	if err != nil {
		return nil, fmt.Errorf("list pending medication requests: %w", err)
	}
	for _, mr := range mrs {
		pending.add(CategoryMedicationRequest, mr.ID.String())
	}
	return pending, nil
}

// ValidateFullyBilled fails with BillingBlockedError while anything is
// unbilled, unless discharge despite unbilled services is allowed.
func (r *Reconciler) ValidateFullyBilled(ctx context.Context, stay *Stay) error {
	if r.policy.AllowDischargeDespiteUnbilled {
		return nil
	}
	pending, err := r.pendingObligations(ctx, stay)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return &BillingBlockedError{Pending: pending}
	}
	return nil
}

// ValidateIncompleteServiceRequests fails with IncompleteCareError while a
// submitted service request of the stay is not completed. It only applies
// when service requests are processed after payment.
func (r *Reconciler) ValidateIncompleteServiceRequests(ctx context.Context, stay *Stay) error {
	if !r.policy.ProcessServiceRequestOnlyIfPaid {
		return nil
	}
	srs, err := r.orders.ListIncompleteServiceRequests(ctx, stay.ID)
	if err != nil {
		return fmt.Errorf("list incomplete service requests: %w", err)
	}
	if len(srs) == 0 {
		return nil
	}
	items := make([]string, 0, len(srs))
	for _, sr := range srs {
		items = append(items, fmt.Sprintf("%s %s (%s)", sr.TemplateDN, sr.ID, sr.Status))
	}
	return &IncompleteCareError{Reason: "service requests are not completed", Items: items}
}

// RecordInvoice applies an invoicing event to the stay or to one of the
// documents billed with it.
func (r *Reconciler) RecordInvoice(ctx context.Context, stayID uuid.UUID, ev InvoiceEvent) (*Stay, error) {
	var stay *Stay
	err := r.repo.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if stay, err = r.repo.GetStayForUpdate(ctx, stayID); err != nil {
			return err
		}
		switch ev.Kind {
		case InvoiceItem:
			if err := r.invoiceItem(ctx, stay, ev); err != nil {
				return err
			}
			// A billing pass holding the previous version must not write
			// the row back as open.
			return r.repo.UpdateStay(ctx, stay)
		case InvoiceOccupancy:
			if err := r.invoiceOccupancy(ctx, stay, ev); err != nil {
				return err
			}
			return r.repo.UpdateStay(ctx, stay)
		case InvoiceDocument:
			if r.ledger == nil {
				return &ConfigurationError{Msg: "no billing ledger configured"}
			}
			_, err := r.ledger.SetDocumentInvoiced(ctx, stay.ID, ev.ID, !ev.Cancel)
			return err
		case InvoiceServiceRequest:
			sr, err := r.orders.AdjustServiceRequestInvoice(ctx, ev.ID, invoiceDelta(ev))
			if err != nil {
				return mapOrderError(err, "service request", ev.ID)
			}
			if sr.InpatientRecordID == nil || *sr.InpatientRecordID != stay.ID {
				return validationf("service request %s does not belong to inpatient record %s", ev.ID, stay.ID)
			}
			return nil
		case InvoiceMedicationRequest:
			mr, err := r.orders.AdjustMedicationRequestInvoice(ctx, ev.ID, invoiceDelta(ev))
			if err != nil {
				return mapOrderError(err, "medication request", ev.ID)
			}
			if mr.InpatientRecordID == nil || *mr.InpatientRecordID != stay.ID {
				return validationf("medication request %s does not belong to inpatient record %s", ev.ID, stay.ID)
			}
			return nil
		default:
			return validationf("unknown invoice kind %q", ev.Kind)
		}
	})
	if err != nil {
		return nil, err
	}
	return stay, nil
}

func (r *Reconciler) invoiceItem(ctx context.Context, stay *Stay, ev InvoiceEvent) error {
	for _, it := range stay.Items {
		if it.ID != ev.ID {
			continue
		}
		if ev.Cancel {
			return validationf("invoiced line item %s cannot be reverted", it.ItemCode)
		}
		if it.Invoiced {
			return validationf("line item %s is already invoiced", it.ItemCode)
		}
		it.Invoiced = true
		return r.repo.UpdateLineItem(ctx, it)
	}
	return notFound("line item", ev.ID)
}

func (r *Reconciler) invoiceOccupancy(ctx context.Context, stay *Stay, ev InvoiceEvent) error {
	for _, e := range stay.Occupancies {
		if e.ID != ev.ID {
			continue
		}
		if ev.Cancel {
			return validationf("invoiced occupancy %s cannot be reverted", e.ID)
		}
		if e.Invoiced {
			return validationf("occupancy %s is already invoiced", e.ID)
		}
		e.Invoiced = true
		return r.repo.UpdateOccupancy(ctx, e)
	}
	return notFound("occupancy", ev.ID)
}

func invoiceDelta(ev InvoiceEvent) float64 {
	qty := ev.Quantity
	if qty <= 0 {
		qty = 1
	}
	if ev.Cancel {
		return -qty
	}
	return qty
}

func mapOrderError(err error, entity string, id uuid.UUID) error {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		return notFound(entity, id)
	case errors.Is(err, orders.ErrOverInvoiced):
		return &ValidationError{Msg: err.Error(), Err: err}
	}
	return err
}
