package inpatient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/ehr/inpatient/internal/platform/db"
	"github.com/ehr/inpatient/internal/platform/kv"
)

// SweepLeaseName is the lease that keeps sweeps from overlapping across
// server instances.
const SweepLeaseName = "inpatient-billing-sweep"

// SweepReport summarises one sweep over the admitted and discharge
// scheduled stays.
type SweepReport struct {
	Skipped    bool `json:"skipped"`
	Swept      int  `json:"swept"`
	Updated    int  `json:"updated"`
	Closed     int  `json:"closed"`
	Transient  int  `json:"transient_failures"`
	Structural int  `json:"structural_failures"`
}

// Sweeper periodically recomputes occupancy billing for every admitted
// stay. It only runs when billable items are generated automatically.
type Sweeper struct {
	billing  *Reconciler
	repo     Repository
	locker   kv.Locker
	leaseTTL time.Duration
	policy   Policy
	logger   zerolog.Logger
}

func NewSweeper(billing *Reconciler, repo Repository, locker kv.Locker, leaseTTL time.Duration, policy Policy, logger zerolog.Logger) *Sweeper {
	if locker == nil {
		locker = kv.LocalLocker{}
	}
	return &Sweeper{
		billing:  billing,
		repo:     repo,
		locker:   locker,
		leaseTTL: leaseTTL,
		policy:   policy,
		logger:   logger,
	}
}

// Run sweeps once. A failure on one stay is logged and counted; it never
// stops the sweep.
func (s *Sweeper) Run(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}
	if !s.policy.AutoGenerateBillable {
		report.Skipped = true
		return report, nil
	}

	lease, err := s.locker.Acquire(ctx, SweepLeaseName, s.leaseTTL)
	if errors.Is(err, kv.ErrLeaseHeld) {
		s.logger.Debug().Msg("billing sweep already running elsewhere")
		report.Skipped = true
		return report, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			s.logger.Warn().Err(err).Msg("release billing sweep lease")
		}
	}()

	ids, err := s.repo.ListStayIDsByStatus(ctx, StatusAdmitted, StatusDischargeScheduled)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.sweepOne(ctx, id, report)
	}
	s.logger.Info().
		Int("swept", report.Swept).
		Int("updated", report.Updated).
		Int("closed", report.Closed).
		Int("transient_failures", report.Transient).
		Int("structural_failures", report.Structural).
		Dur("duration", time.Since(start)).
		Msg("billing sweep finished")
	return report, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, id uuid.UUID, report *SweepReport) {
	_, changed, err := s.billing.computeWithRetry(ctx, id)
	if err == nil {
		report.Swept++
		if changed {
			report.Updated++
		}
		return
	}
	if errors.Is(err, ErrNotBillable) {
		// Discharged or cancelled after the stay list was read.
		report.Closed++
		s.logger.Debug().Str("inpatient_record_id", id.String()).
			Msg("inpatient record left billing before the sweep reached it")
		return
	}
	if isTransient(err) {
		report.Transient++
		s.logger.Warn().Err(err).Str("inpatient_record_id", id.String()).
			Msg("billing sweep skipped inpatient record, will retry next run")
		return
	}
	report.Structural++
	s.logger.Error().Err(err).Str("inpatient_record_id", id.String()).
		Msg("billing sweep failed for inpatient record")
}

// isTransient reports whether a failed stay is expected to succeed on a
// later run without operator action.
func isTransient(err error) bool {
	if errors.Is(err, ErrConcurrentUpdate) || db.IsRetryable(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	return false
}
