// Package routine turns recurring routines into concrete Reminder rows.
package routine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"reminder-notify-backend/internal/logger"
	"reminder-notify-backend/internal/model"
	"reminder-notify-backend/internal/recurrence"
	"reminder-notify-backend/internal/store"
)

// occurrenceNamespace scopes the name-based UUIDs of generated reminders.
var occurrenceNamespace = uuid.MustParse("8f1d3c52-5b7e-4c2a-9d0e-6a4f1b2c3d4e")

// OccurrenceID is the reminder ID of a routine occurrence. Materializing the same
// occurrence twice therefore always addresses the same row.
func OccurrenceID(routineID string, at time.Time) string {
	return uuid.NewSHA1(occurrenceNamespace, []byte(routineID+"|"+at.UTC().Format(time.RFC3339))).String()
}

// Reconciled describes what Reconcile changed for one routine.
type Reconciled struct {
	Created []string
	Deleted []string
	Kept    []string
}

// Materializer writes routine occurrences inside a rolling horizon.
type Materializer struct {
	store          store.Store
	horizon        time.Duration
	maxOccurrences int
}

// NewMaterializer creates a materializer looking horizon ahead of now, writing at most
// maxOccurrences reminders per routine and pass.
func NewMaterializer(s store.Store, horizon time.Duration, maxOccurrences int) *Materializer {
	return &Materializer{store: s, horizon: horizon, maxOccurrences: maxOccurrences}
}

func (m *Materializer) reminderFor(r *model.Routine, at time.Time) model.Reminder {
	routineID := r.ID
	return model.Reminder{
		ID:        OccurrenceID(r.ID, at),
		OwnerID:   r.OwnerID,
		Title:     r.Title,
		TriggerAt: at,
		Timezone:  r.Timezone,
		Status:    model.ReminderPending,
		RoutineID: &routineID,
		Channels:  r.Channels,
	}
}

// Extend writes the occurrences past the routine's watermark up to now+horizon and
// advances the watermark. Occurrences already written, or deleted by the user behind the
// watermark, are left alone. It returns the IDs of the reminders it created.
func (m *Materializer) Extend(ctx context.Context, r *model.Routine, now time.Time) ([]string, error) {
	after := now
	if r.MaterializedThrough != nil && r.MaterializedThrough.After(now) {
		after = *r.MaterializedThrough
	}
	through := now.Add(m.horizon)
	if !after.Before(through) {
		return nil, nil
	}

	occurrences, err := recurrence.Expand(r, recurrence.Horizon{Until: through, Limit: m.maxOccurrences}, after)
	if err != nil {
		return nil, err
	}

	created, err := m.create(ctx, r, occurrences)
	if err != nil {
		return nil, err
	}
	if err := m.store.SetRoutineMaterializedThrough(ctx, r.ID, watermark(occurrences, through, m.maxOccurrences)); err != nil {
		return nil, fmt.Errorf("failed to advance routine %s watermark: %w", r.ID, err)
	}
	return created, nil
}

// Reconcile rebuilds the routine's future occurrences after the routine was edited.
// Future linked reminders that the current rule no longer produces are deleted and
// missing ones created. Past and completed reminders are not touched.
func (m *Materializer) Reconcile(ctx context.Context, r *model.Routine, now time.Time) (*Reconciled, error) {
	through := now.Add(m.horizon)
	occurrences, err := recurrence.Expand(r, recurrence.Horizon{Until: through, Limit: m.maxOccurrences}, now)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(occurrences))
	for _, at := range occurrences {
		wanted[OccurrenceID(r.ID, at)] = true
	}

	existing, err := m.store.ListReminders(ctx, store.ReminderFilter{
		RoutineID:     r.ID,
		ExcludeStatus: []model.ReminderStatus{model.ReminderCompleted},
		TriggerAfter:  &now,
	})
	if err != nil {
		return nil, err
	}

	res := &Reconciled{}
	for _, rem := range existing {
		if wanted[rem.ID] {
			res.Kept = append(res.Kept, rem.ID)
			continue
		}
		res.Deleted = append(res.Deleted, rem.ID)
	}
	if _, err := m.store.DeleteReminders(ctx, res.Deleted); err != nil {
		return nil, err
	}

	res.Created, err = m.create(ctx, r, occurrences)
	if err != nil {
		return nil, err
	}
	if err := m.store.SetRoutineMaterializedThrough(ctx, r.ID, watermark(occurrences, through, m.maxOccurrences)); err != nil {
		return nil, fmt.Errorf("failed to advance routine %s watermark: %w", r.ID, err)
	}

	logger.Debug("routine reconciled", "routine", r.ID,
		"created", len(res.Created), "deleted", len(res.Deleted), "kept", len(res.Kept))
	return res, nil
}

// create inserts the occurrences that do not exist yet and returns their IDs.
func (m *Materializer) create(ctx context.Context, r *model.Routine, occurrences []time.Time) ([]string, error) {
	if len(occurrences) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(occurrences))
	reminders := make([]model.Reminder, 0, len(occurrences))
	for _, at := range occurrences {
		rem := m.reminderFor(r, at)
		ids = append(ids, rem.ID)
		reminders = append(reminders, rem)
	}

	existing := make(map[string]bool)
	for _, id := range ids {
		if _, err := m.store.GetReminder(ctx, id); err == nil {
			existing[id] = true
		}
	}

	if _, err := m.store.CreateRemindersIfAbsent(ctx, reminders); err != nil {
		return nil, fmt.Errorf("failed to materialize routine %s: %w", r.ID, err)
	}

	var created []string
	for _, id := range ids {
		if !existing[id] {
			created = append(created, id)
		}
	}
	return created, nil
}

// watermark is how far the routine counts as materialized. When the occurrence cap was
// hit, only the last written occurrence is covered so the next pass continues from it.
func watermark(occurrences []time.Time, through time.Time, limit int) time.Time {
	if limit > 0 && len(occurrences) >= limit {
		return occurrences[len(occurrences)-1]
	}
	return through
}
