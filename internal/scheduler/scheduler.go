package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FundLedger/internal/ledger"
	"FundLedger/internal/model"
	"FundLedger/internal/store"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs the background jobs: the periodic invariant audit and
// the daily fund snapshot.
type Scheduler struct {
	Cron      *cron.Cron
	Ledger    *ledger.Service
	Snapshots store.SnapshotStore
	Ctx       context.Context

	log          zerolog.Logger
	storeTimeout time.Duration
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, svc *ledger.Service, snaps store.SnapshotStore,
	storeTimeout time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		Cron:         cron.New(cron.WithSeconds()),
		Ledger:       svc,
		Snapshots:    snaps,
		Ctx:          ctx,
		log:          log.With().Str("component", "scheduler").Logger(),
		storeTimeout: storeTimeout,
	}
}

// RegisterAll registers the audit and snapshot tasks.
func (s *Scheduler) RegisterAll(auditCron, snapshotCron string) error {
	if _, err := s.Cron.AddFunc(auditCron, s.auditTask); err != nil {
		return fmt.Errorf("register audit task: %w", err)
	}
	if _, err := s.Cron.AddFunc(snapshotCron, s.snapshotTask); err != nil {
		return fmt.Errorf("register snapshot task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	s.Cron.Stop()
	s.log.Info().Msg("scheduler stopped")
}

// RunAuditNow executes the invariant audit immediately (manual trigger).
func (s *Scheduler) RunAuditNow() {
	s.auditTask()
}

// auditTask re-verifies the accounting identities of every initialized
// fund. A violation is an alerting condition: state is only ever written
// after the same check, so a failure here means corruption at rest.
func (s *Scheduler) auditTask() {
	for _, ft := range model.AllFundTypes {
		ctx, cancel := context.WithTimeout(s.Ctx, s.storeTimeout)
		state, err := s.Ledger.GetFundState(ctx, ft)
		cancel()
		if errors.Is(err, ledger.ErrFundNotFound) {
			continue
		}
		if err != nil {
			s.log.Error().Err(err).Str("fund", string(ft)).Msg("audit: load fund")
			continue
		}
		if err := ledger.CheckInvariants(state); err != nil {
			s.log.Error().Err(err).Str("fund", string(ft)).Msg("audit: invariant violation")
			continue
		}
		s.log.Debug().Str("fund", string(ft)).Msg("audit: invariants hold")
	}
}

// snapshotTask records one dashboard row per active fund.
func (s *Scheduler) snapshotTask() {
	for _, ft := range model.AllFundTypes {
		ctx, cancel := context.WithTimeout(s.Ctx, s.storeTimeout)
		state, err := s.Ledger.GetFundState(ctx, ft)
		if err != nil {
			cancel()
			if !errors.Is(err, ledger.ErrFundNotFound) {
				s.log.Error().Err(err).Str("fund", string(ft)).Msg("snapshot: load fund")
			}
			continue
		}
		if state.Status != model.FundActive {
			cancel()
			continue
		}
		if err := s.Snapshots.RecordSnapshot(ctx, state); err != nil {
			s.log.Error().Err(err).Str("fund", string(ft)).Msg("snapshot: record")
		}
		cancel()
	}
}
