// Package sweep runs the background jobs spec.md §4.8 names: voiding
// tentative vouchers once their reservation window lapses, and
// refreshing breeder-filing compliance status against the clock. Both
// are idempotent and safe to run concurrently with live command
// traffic since each goes through the same locked, idempotency-backed
// command path as a user-initiated request.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/commands"
	"github.com/wvsnp/grantcore/internal/logging"
)

// Runner holds the dependencies every sweep needs. It is the
// background-job analogue of commands.Deps: one Runner is built at
// startup and driven by a Scheduler.
type Runner struct {
	Deps commands.Deps
}

// ExpireTentativeVouchers voids every tentative voucher whose
// reservation window has lapsed, releasing its encumbrance back to the
// grant bucket it came from. It runs each void through
// commands.VoidVoucher, so a voucher already voided or redeemed by the
// time the sweep reaches it is a harmless no-op rather than an error.
func (r Runner) ExpireTentativeVouchers(ctx context.Context) (int, error) {
	expired, err := r.Deps.Stores.Vouchers.ListExpiredTentative(ctx)
	if err != nil {
		return 0, err
	}

	voided := 0
	for _, v := range expired {
		env := commands.Envelope{
			IdempotencyKey: "sweep:expire_tentative_voucher:" + v.VoucherID,
			OperationKind:  "VoidVoucher",
			ActorID:        "sweep",
			ActorKind:      "SYSTEM",
		}
		_, err := commands.VoidVoucher(ctx, r.Deps, env, commands.VoidVoucherInput{
			VoucherID: v.VoucherID,
			Reason:    "tentative reservation expired",
		})
		if err != nil {
			if apperrors.Is(err, apperrors.VoucherNotVoidable) {
				continue
			}
			return voided, fmt.Errorf("expire tentative voucher %s: %w", v.VoucherID, err)
		}
		voided++
	}
	return voided, nil
}

// RecomputeComplianceDeadlines re-derives ON_TIME/DUE_SOON/OVERDUE
// status for every registered breeder filing. Status is time-driven
// (a filing can cross into DUE_SOON or OVERDUE with no new event ever
// arriving), so this sweep is the only thing that keeps the projection
// from going stale between submissions and cures.
func (r Runner) RecomputeComplianceDeadlines(ctx context.Context) (int, error) {
	filings, err := r.Deps.Stores.Filings.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, f := range filings {
		if err := r.Deps.Engine.RefreshBreederFiling(ctx, f.FilingID, r.now()); err != nil {
			return refreshed, fmt.Errorf("refresh breeder filing %s: %w", f.FilingID, err)
		}
		refreshed++
	}
	return refreshed, nil
}

func (r Runner) now() time.Time {
	if r.Deps.Now != nil {
		return r.Deps.Now()
	}
	return time.Now().UTC()
}

// Scheduler drives Runner's jobs on cron schedules, generalizing the
// teacher's trigger-polling loop in
// services/automation/automation_triggers.go to a real cron parser
// instead of its hand-rolled five-field check.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	logger *logging.Logger
}

// NewScheduler builds a Scheduler. voucherSweepSpec and
// complianceSweepSpec are standard five-field cron expressions, e.g.
// "*/5 * * * *" for every five minutes.
func NewScheduler(runner Runner, logger *logging.Logger, voucherSweepSpec, complianceSweepSpec string) (*Scheduler, error) {
	c := cron.New()
	s := &Scheduler{cron: c, runner: runner, logger: logger}

	if _, err := c.AddFunc(voucherSweepSpec, s.runVoucherSweep); err != nil {
		return nil, fmt.Errorf("schedule voucher expiry sweep: %w", err)
	}
	if _, err := c.AddFunc(complianceSweepSpec, s.runComplianceSweep); err != nil {
		return nil, fmt.Errorf("schedule compliance sweep: %w", err)
	}
	return s, nil
}

// Start begins running scheduled jobs in the background. It returns
// immediately; call Stop to drain in-flight jobs and halt the
// scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for any running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runVoucherSweep() {
	ctx := context.Background()
	voided, err := s.runner.ExpireTentativeVouchers(ctx)
	commands.RecordSweepRun("expire_tentative_vouchers", voided, err)
	if err != nil {
		s.log().WithError(err).Error("tentative voucher expiry sweep failed")
		return
	}
	if voided > 0 {
		s.log().WithField("voided", voided).Info("tentative voucher expiry sweep completed")
	}
}

func (s *Scheduler) runComplianceSweep() {
	ctx := context.Background()
	refreshed, err := s.runner.RecomputeComplianceDeadlines(ctx)
	commands.RecordSweepRun("recompute_compliance_deadlines", refreshed, err)
	if err != nil {
		s.log().WithError(err).Error("compliance deadline sweep failed")
		return
	}
	if refreshed > 0 {
		s.log().WithField("refreshed", refreshed).Info("compliance deadline sweep completed")
	}
}

func (s *Scheduler) log() *logrus.Entry {
	if s.logger == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return s.logger.WithField("component", "sweep")
}
