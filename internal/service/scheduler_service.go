package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ledgercraft/be-recurring-billing/internal/logger"
	"github.com/ledgercraft/be-recurring-billing/internal/recurrence"
	"github.com/ledgercraft/be-recurring-billing/internal/repository"
)

// sweepBatchSize bounds how many due profiles one sweep picks up.
const sweepBatchSize = 100

// Dispatcher hands a due issuance to the external document/email pipeline.
// The core never renders or sends anything itself.
type Dispatcher interface {
	DispatchIssue(ctx context.Context, profile *repository.ScheduleProfile, occurredAt time.Time) error
}

// LogDispatcher is the default Dispatcher: it records the issuance and does
// nothing else. It stands in until the document service is wired up.
type LogDispatcher struct {
	log *logger.Logger
}

// NewLogDispatcher creates a logging dispatcher.
func NewLogDispatcher(log *logger.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

// DispatchIssue logs the occurrence that would be issued.
func (d *LogDispatcher) DispatchIssue(_ context.Context, profile *repository.ScheduleProfile, occurredAt time.Time) error {
	d.log.Info().
		Str("profile_id", profile.ID).
		Str("organization_id", profile.OrganizationID).
		Str("template_document_id", profile.TemplateDocumentID).
		Time("occurred_at", occurredAt).
		Bool("auto_dispatch", profile.AutoDispatch).
		Msg("Issuance dispatched")
	return nil
}

// DueProfileStore is the persistence surface the scheduler needs.
// *repository.ProfileRepository satisfies it.
type DueProfileStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*repository.ScheduleProfile, error)
	AdvanceNextRun(ctx context.Context, id string, prev, next time.Time) (bool, error)
}

// SchedulerService runs the periodic materialization sweep: each due ACTIVE
// profile is handed to the dispatcher and its next run advanced by one
// interval. Only ACTIVE profiles are ever eligible; PAUSED profiles keep
// their next_run_at untouched so resuming does not lose the schedule.
type SchedulerService struct {
	cron       *cron.Cron
	profiles   DueProfileStore
	dispatcher Dispatcher
	log        *logger.Logger
	now        func() time.Time
}

// NewSchedulerService creates a new scheduler service.
func NewSchedulerService(profiles DueProfileStore, dispatcher Dispatcher, log *logger.Logger) *SchedulerService {
	return &SchedulerService{
		cron:       cron.New(),
		profiles:   profiles,
		dispatcher: dispatcher,
		log:        log,
		now:        time.Now,
	}
}

// Start registers the sweep on the given cron spec and starts the scheduler.
func (s *SchedulerService) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.RunSweep(ctx); err != nil {
			s.log.Error().Err(err).Msg("Materialization sweep failed")
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().Str("cron", spec).Msg("Materialization scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *SchedulerService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunSweep processes every due profile once and returns how many issuances
// were dispatched. The next-run advance is guarded on the previous value, so
// two overlapping sweeps cannot both dispatch the same occurrence: the loser
// of the guard skips dispatching.
func (s *SchedulerService) RunSweep(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.profiles.ListDue(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, profile := range due {
		policy := recurrence.Policy{
			Unit:     recurrence.IntervalUnit(profile.IntervalUnit),
			Count:    profile.IntervalCount,
			AnchorAt: profile.AnchorAt,
		}
		next := policy.Next(profile.NextRunAt)

		// Claim the occurrence first; dispatch only if we won the claim.
		ok, err := s.profiles.AdvanceNextRun(ctx, profile.ID, profile.NextRunAt, next)
		if err != nil {
			return dispatched, err
		}
		if !ok {
			continue
		}

		if err := s.dispatcher.DispatchIssue(ctx, profile, profile.NextRunAt); err != nil {
			s.log.Error().
				Err(err).
				Str("profile_id", profile.ID).
				Msg("Issuance dispatch failed")
			continue
		}
		dispatched++
	}

	if len(due) > 0 {
		s.log.Info().
			Int("due", len(due)).
			Int("dispatched", dispatched).
			Msg("Materialization sweep finished")
	}
	return dispatched, nil
}
