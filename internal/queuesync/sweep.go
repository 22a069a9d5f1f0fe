package queuesync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"reminder-notify-backend/internal/logger"
	"reminder-notify-backend/internal/model"
	"reminder-notify-backend/internal/recurrence"
	"reminder-notify-backend/internal/store"
)

// SweepReport summarizes one reconciliation pass.
type SweepReport struct {
	OutboxApplied    int
	OutboxFailed     int
	OutboxDropped    int
	StaleReleased    int64
	RemindersCreated int
	RoutineErrors    int
	Synced           int
	Writes           int64
	Orphans          int
	Errors           int
}

// Enqueue records a sync request in the outbox so the next sweep applies it.
func (s *Syncer) Enqueue(ctx context.Context, req *model.SyncRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}
	return s.store.EnqueueSyncRequest(ctx, req)
}

// Run starts the reconciliation sweep in a loop.
func (s *Syncer) Run(ctx context.Context) {
	logger.Info("starting reconciliation sweep", "interval", s.opts.SweepInterval)

	s.sweepAndLog(ctx)

	timer := time.NewTimer(s.opts.SweepInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("reconciliation sweep shutting down")
			return
		case <-timer.C:
			s.sweepAndLog(ctx)
			timer.Reset(s.opts.SweepInterval)
		}
	}
}

func (s *Syncer) sweepAndLog(ctx context.Context) {
	report, err := s.Sweep(ctx)
	if err != nil {
		logger.Error("reconciliation sweep failed", "err", err)
		return
	}
	logger.Info("reconciliation sweep finished",
		"outbox", report.OutboxApplied, "synced", report.Synced, "writes", report.Writes,
		"orphans", report.Orphans, "stale_claims", report.StaleReleased, "errors", report.Errors)
}

// Sweep compares every active reminder against the queue and repairs the difference.
// It drains the outbox, returns abandoned claims, extends routines, syncs reminders and
// removes rows nothing references any more. Per-record failures are counted and logged
// without stopping the pass; only a failure to read the record sets aborts it.
func (s *Syncer) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := s.now()

	s.drainOutbox(ctx, &report)

	released, err := s.store.ReleaseStaleClaims(ctx, now.Add(-s.opts.ClaimTimeout))
	if err != nil {
		return report, err
	}
	report.StaleReleased = released
	if released > 0 {
		logger.Warn("released abandoned claims", "count", released)
	}

	routines, err := s.store.ListRoutines(ctx)
	if err != nil {
		return report, err
	}
	routineIDs := make(map[string]bool, len(routines))
	for i := range routines {
		r := &routines[i]
		routineIDs[r.ID] = true
		if s.materializer == nil {
			continue
		}
		created, err := s.materializer.Extend(ctx, r, now)
		var recErr *recurrence.Error
		switch {
		case errors.As(err, &recErr):
			report.RoutineErrors++
			logger.Warn("skipping routine with malformed recurrence", "routine", r.ID, "err", err)
		case err != nil:
			report.Errors++
			logger.Error("failed to extend routine", "routine", r.ID, "err", err)
		}
		report.RemindersCreated += len(created)
	}
	routineExists := func(_ context.Context, id string) (bool, error) {
		return routineIDs[id], nil
	}

	reminders, err := s.store.ListReminders(ctx, store.ReminderFilter{
		ExcludeStatus: []model.ReminderStatus{model.ReminderCompleted},
	})
	if err != nil {
		return report, err
	}
	active := make(map[string]bool, len(reminders))
	for i := range reminders {
		rem := &reminders[i]
		res, err := s.syncReminder(ctx, rem, routineExists)
		if err != nil {
			report.Errors++
			logger.Error("failed to sync reminder", "reminder", rem.ID, "err", err)
			active[rem.ID] = true
			continue
		}
		report.Synced++
		report.Writes += res.Writes()
		if ok, _ := s.active(ctx, rem, routineExists); ok {
			active[rem.ID] = true
		}
	}

	queued, err := s.store.QueueReminderIDs(ctx)
	if err != nil {
		return report, err
	}
	for _, id := range queued {
		if active[id] {
			continue
		}
		// Sync re-reads the reminder, so one created after the listing above keeps its rows.
		res, err := s.Sync(ctx, id)
		if err != nil {
			report.Errors++
			logger.Error("failed to reconcile queued reminder", "reminder", id, "err", err)
			continue
		}
		report.Writes += res.Writes()
		if res.Orphaned && res.Deleted > 0 {
			report.Orphans++
		}
	}

	return report, nil
}

func (s *Syncer) drainOutbox(ctx context.Context, report *SweepReport) {
	reqs, err := s.store.PendingSyncRequests(ctx, s.opts.OutboxBatch, s.opts.OutboxMaxAttempts)
	if err != nil {
		report.Errors++
		logger.Error("failed to read sync outbox", "err", err)
		return
	}
	for i := range reqs {
		req := &reqs[i]
		if _, err := s.Apply(ctx, req); err != nil {
			if permanent(err) {
				report.OutboxDropped++
				logger.Warn("dropping outbox sync request that cannot succeed", "id", req.ID, "action", req.Action, "err", err)
				if cerr := s.store.CompleteSyncRequest(ctx, req.ID); cerr != nil {
					report.Errors++
					logger.Error("failed to drop outbox request", "id", req.ID, "err", cerr)
				}
				continue
			}
			report.OutboxFailed++
			attempts := req.Attempts + 1
			if attempts >= s.opts.OutboxMaxAttempts {
				logger.Error("outbox sync request gave up, left as dead letter", "id", req.ID, "action", req.Action, "attempts", attempts, "err", err)
			} else {
				logger.Warn("outbox sync request failed", "id", req.ID, "action", req.Action, "attempts", attempts, "err", err)
			}
			if ferr := s.store.FailSyncRequest(ctx, req.ID, err.Error()); ferr != nil {
				logger.Error("failed to record outbox failure", "id", req.ID, "err", ferr)
			}
			continue
		}
		if err := s.store.CompleteSyncRequest(ctx, req.ID); err != nil {
			report.Errors++
			logger.Error("failed to complete outbox request", "id", req.ID, "err", err)
			continue
		}
		report.OutboxApplied++
	}
}

// permanent reports whether a failed request would fail the same way on every retry.
func permanent(err error) bool {
	var rerr *recurrence.Error
	return errors.As(err, &rerr) || errors.Is(err, ErrUnknownAction)
}
