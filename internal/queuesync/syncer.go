// Package queuesync keeps the delivery queue consistent with reminders and routines.
package queuesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reminder-notify-backend/internal/logger"
	"reminder-notify-backend/internal/model"
	"reminder-notify-backend/internal/routine"
	"reminder-notify-backend/internal/store"
	"reminder-notify-backend/internal/window"
)

// ErrUnknownAction is returned by Apply for an action it does not handle.
var ErrUnknownAction = errors.New("unknown sync action")

// Result counts the queue writes one operation performed.
type Result struct {
	Inserted int   `json:"inserted"`
	Reset    int   `json:"reset"`
	Deleted  int64 `json:"deleted"`

	// Orphaned is set when queue rows referenced a reminder that no longer exists.
	Orphaned bool `json:"orphaned,omitempty"`

	RemindersCreated int   `json:"remindersCreated,omitempty"`
	RemindersDeleted int64 `json:"remindersDeleted,omitempty"`
}

// Writes is the number of queue rows inserted, reset or deleted.
func (r Result) Writes() int64 {
	return int64(r.Inserted+r.Reset) + r.Deleted
}

func (r *Result) add(o Result) {
	r.Inserted += o.Inserted
	r.Reset += o.Reset
	r.Deleted += o.Deleted
	r.Orphaned = r.Orphaned || o.Orphaned
	r.RemindersCreated += o.RemindersCreated
	r.RemindersDeleted += o.RemindersDeleted
}

// Options tunes the background sweep.
type Options struct {
	SweepInterval time.Duration
	ClaimTimeout  time.Duration
	OutboxBatch   int
	// OutboxMaxAttempts is how often a failing outbox request is retried before it is
	// left in place as a dead letter.
	OutboxMaxAttempts int
}

// Syncer reconciles queue items against their reminders.
type Syncer struct {
	store        store.Store
	policy       *window.Policy
	materializer *routine.Materializer
	opts         Options

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// NewSyncer creates a Syncer.
func NewSyncer(s store.Store, policy *window.Policy, m *routine.Materializer, opts Options) *Syncer {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 15 * time.Minute
	}
	if opts.ClaimTimeout <= 0 {
		opts.ClaimTimeout = 10 * time.Minute
	}
	if opts.OutboxBatch <= 0 {
		opts.OutboxBatch = 100
	}
	if opts.OutboxMaxAttempts <= 0 {
		opts.OutboxMaxAttempts = 5
	}
	return &Syncer{
		store:        s,
		policy:       policy,
		materializer: m,
		opts:         opts,
		Now:          time.Now,
	}
}

func (s *Syncer) now() time.Time {
	return s.Now().UTC()
}

// Sync brings the queue rows of one reminder in line with its current trigger instant.
// Rows of a missing, completed or detached reminder are removed. Calling Sync again
// without an intervening change writes nothing.
func (s *Syncer) Sync(ctx context.Context, reminderID string) (Result, error) {
	rem, err := s.store.GetReminder(ctx, reminderID)
	if errors.Is(err, store.ErrNotFound) {
		n, err := s.store.DeleteQueueItems(ctx, reminderID)
		if err != nil {
			return Result{}, err
		}
		if n > 0 {
			logger.Warn("removed queue rows of missing reminder", "reminder", reminderID, "rows", n)
		}
		return Result{Deleted: n, Orphaned: true}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to load reminder %s: %w", reminderID, err)
	}
	return s.syncReminder(ctx, rem, s.store.RoutineExists)
}

func (s *Syncer) syncReminder(ctx context.Context, rem *model.Reminder, routineExists func(context.Context, string) (bool, error)) (Result, error) {
	active, err := s.active(ctx, rem, routineExists)
	if err != nil {
		return Result{}, err
	}
	if !active {
		n, err := s.store.DeleteQueueItems(ctx, rem.ID)
		return Result{Deleted: n}, err
	}

	existing, err := s.store.ListQueueItems(ctx, rem.ID)
	if err != nil {
		return Result{}, err
	}
	byType := make(map[string]model.QueueItem, len(existing))
	for _, it := range existing {
		byType[it.WindowType] = it
	}

	var res Result
	for _, w := range s.policy.Windows(rem.TriggerAt) {
		cur, ok := byType[w.Type]
		delete(byType, w.Type)
		if ok && cur.ScheduledAt.Equal(w.ScheduledAt) {
			continue
		}

		item := &model.QueueItem{
			ReminderID:    rem.ID,
			WindowType:    w.Type,
			OwnerID:       rem.OwnerID,
			ScheduledAt:   w.ScheduledAt,
			NextAttemptAt: w.ScheduledAt,
			Status:        model.QueuePending,
		}
		if err := s.store.UpsertQueueItem(ctx, item); err != nil {
			return res, fmt.Errorf("failed to upsert %s window of reminder %s: %w", w.Type, rem.ID, err)
		}
		if ok {
			res.Reset++
		} else {
			res.Inserted++
		}
	}

	if len(byType) > 0 {
		stale := make([]string, 0, len(byType))
		for t := range byType {
			stale = append(stale, t)
		}
		n, err := s.store.DeleteQueueItems(ctx, rem.ID, stale...)
		if err != nil {
			return res, err
		}
		res.Deleted += n
	}
	return res, nil
}

// active reports whether a reminder should have queue rows at all.
func (s *Syncer) active(ctx context.Context, rem *model.Reminder, routineExists func(context.Context, string) (bool, error)) (bool, error) {
	if rem.Status == model.ReminderCompleted {
		return false, nil
	}
	if rem.RoutineID == nil || *rem.RoutineID == "" {
		return true, nil
	}
	return routineExists(ctx, *rem.RoutineID)
}

// Remove deletes every queue row of a reminder.
func (s *Syncer) Remove(ctx context.Context, reminderID string) (Result, error) {
	n, err := s.store.DeleteQueueItems(ctx, reminderID)
	return Result{Deleted: n}, err
}

// RemoveRoutine deletes the queue rows of every reminder linked to the routine. With
// deleteFuture set, linked reminders that have not occurred and are not completed are
// deleted as well.
func (s *Syncer) RemoveRoutine(ctx context.Context, routineID string, deleteFuture bool) (Result, error) {
	linked, err := s.store.ListReminders(ctx, store.ReminderFilter{RoutineID: routineID})
	if err != nil {
		return Result{}, err
	}

	now := s.now()
	var (
		res    Result
		future []string
	)
	for _, rem := range linked {
		n, err := s.store.DeleteQueueItems(ctx, rem.ID)
		if err != nil {
			return res, err
		}
		res.Deleted += n
		if deleteFuture && rem.TriggerAt.After(now) && rem.Status != model.ReminderCompleted {
			future = append(future, rem.ID)
		}
	}

	if len(future) > 0 {
		n, err := s.store.DeleteReminders(ctx, future)
		if err != nil {
			return res, err
		}
		res.RemindersDeleted = n
	}
	logger.Info("routine removed from queue", "routine", routineID,
		"rows", res.Deleted, "reminders_deleted", res.RemindersDeleted)
	return res, nil
}

// SyncRoutine rebuilds a routine's future reminders after an edit and syncs each of
// them. A routine that no longer exists is treated like RemoveRoutine without deleting
// reminders.
func (s *Syncer) SyncRoutine(ctx context.Context, routineID string) (Result, error) {
	r, err := s.store.GetRoutine(ctx, routineID)
	if errors.Is(err, store.ErrNotFound) {
		return s.RemoveRoutine(ctx, routineID, false)
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to load routine %s: %w", routineID, err)
	}

	rec, err := s.materializer.Reconcile(ctx, r, s.now())
	if err != nil {
		return Result{}, err
	}

	res := Result{
		RemindersCreated: len(rec.Created),
		RemindersDeleted: int64(len(rec.Deleted)),
	}
	for _, id := range rec.Deleted {
		n, err := s.store.DeleteQueueItems(ctx, id)
		if err != nil {
			return res, err
		}
		res.Deleted += n
	}
	for _, ids := range [][]string{rec.Kept, rec.Created} {
		for _, id := range ids {
			r, err := s.Sync(ctx, id)
			if err != nil {
				return res, err
			}
			res.add(r)
		}
	}
	return res, nil
}

// Apply runs the operation a sync request names.
func (s *Syncer) Apply(ctx context.Context, req *model.SyncRequest) (Result, error) {
	switch req.Action {
	case model.ActionSync:
		return s.Sync(ctx, req.ReminderID)
	case model.ActionRemove:
		return s.Remove(ctx, req.ReminderID)
	case model.ActionRemoveRoutine:
		return s.RemoveRoutine(ctx, req.RoutineID, req.DeleteFutureReminders)
	case model.ActionSyncRoutine:
		return s.SyncRoutine(ctx, req.RoutineID)
	}
	return Result{}, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
}
