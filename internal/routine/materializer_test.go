package routine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"reminder-notify-backend/internal/model"
	"reminder-notify-backend/internal/store"
	"reminder-notify-backend/internal/testutil"
)

func dailyRoutine(t *testing.T, gormDB *gorm.DB) *model.Routine {
	t.Helper()
	r := &model.Routine{
		ID:      "routine-1",
		OwnerID: "user-1",
		Title:   "Take vitamins",
		Rule: model.RecurrenceRule{
			Frequency:  model.FrequencyDaily,
			AnchorTime: "08:00",
			StartDate:  "2026-01-01",
		},
		Timezone: "UTC",
		Channels: []model.Channel{model.ChannelPush, model.ChannelEmail},
	}
	require.NoError(t, gormDB.Create(r).Error)
	return r
}

func TestOccurrenceID_Deterministic(t *testing.T) {
	at := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	assert.Equal(t, OccurrenceID("routine-1", at), OccurrenceID("routine-1", at.In(berlin)))
	assert.NotEqual(t, OccurrenceID("routine-1", at), OccurrenceID("routine-2", at))
	assert.NotEqual(t, OccurrenceID("routine-1", at), OccurrenceID("routine-1", at.Add(24*time.Hour)))
}

func TestMaterializer_Extend(t *testing.T) {
	ctx := context.Background()
	gormDB := testutil.NewDB(t)
	s := store.NewGormStore(gormDB)
	r := dailyRoutine(t, gormDB)
	m := NewMaterializer(s, 72*time.Hour, 10)
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	created, err := m.Extend(ctx, r, now)
	require.NoError(t, err)
	require.Len(t, created, 3)

	reminders, err := s.ListReminders(ctx, store.ReminderFilter{RoutineID: r.ID})
	require.NoError(t, err)
	require.Len(t, reminders, 3)
	assert.True(t, reminders[0].TriggerAt.Equal(time.Date(2026, 1, 6, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Take vitamins", reminders[0].Title)
	assert.ElementsMatch(t, []model.Channel{model.ChannelPush, model.ChannelEmail}, reminders[0].Channels)

	// A user-deleted occurrence behind the watermark is not recreated.
	_, err = s.DeleteReminders(ctx, []string{reminders[0].ID})
	require.NoError(t, err)
	r, err = s.GetRoutine(ctx, r.ID)
	require.NoError(t, err)

	created, err = m.Extend(ctx, r, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, created)

	// The horizon rolls forward with time.
	r, err = s.GetRoutine(ctx, r.ID)
	require.NoError(t, err)
	created, err = m.Extend(ctx, r, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestMaterializer_ExtendRespectsOccurrenceCap(t *testing.T) {
	ctx := context.Background()
	gormDB := testutil.NewDB(t)
	s := store.NewGormStore(gormDB)
	r := dailyRoutine(t, gormDB)
	m := NewMaterializer(s, 30*24*time.Hour, 2)
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	created, err := m.Extend(ctx, r, now)
	require.NoError(t, err)
	assert.Len(t, created, 2)

	r, err = s.GetRoutine(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, r.MaterializedThrough)
	assert.True(t, r.MaterializedThrough.Equal(time.Date(2026, 1, 7, 8, 0, 0, 0, time.UTC)))

	created, err = m.Extend(ctx, r, now)
	require.NoError(t, err)
	assert.Len(t, created, 2, "the next pass continues after the cap")
}

func TestMaterializer_Reconcile(t *testing.T) {
	ctx := context.Background()
	gormDB := testutil.NewDB(t)
	s := store.NewGormStore(gormDB)
	r := dailyRoutine(t, gormDB)
	m := NewMaterializer(s, 72*time.Hour, 10)
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	past := testutil.Reminder(OccurrenceID(r.ID, now.Add(-time.Hour)), r.OwnerID, now.Add(-time.Hour))
	past.RoutineID = &r.ID
	_, err := s.CreateRemindersIfAbsent(ctx, []model.Reminder{past})
	require.NoError(t, err)

	_, err = m.Extend(ctx, r, now)
	require.NoError(t, err)

	// Move the anchor: every future occurrence changes identity.
	r.Rule.AnchorTime = "20:00"
	res, err := m.Reconcile(ctx, r, now)
	require.NoError(t, err)
	assert.Len(t, res.Deleted, 3)
	assert.Len(t, res.Created, 3)
	assert.Empty(t, res.Kept)

	reminders, err := s.ListReminders(ctx, store.ReminderFilter{RoutineID: r.ID})
	require.NoError(t, err)
	require.Len(t, reminders, 4)
	assert.Equal(t, past.ID, reminders[0].ID, "past occurrences are left alone")
	for _, rem := range reminders[1:] {
		assert.Equal(t, 20, rem.TriggerAt.Hour())
	}

	// Reconciling an unchanged routine is a no-op.
	res, err = m.Reconcile(ctx, r, now)
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Empty(t, res.Deleted)
	assert.Len(t, res.Kept, 3)
}

func TestMaterializer_MalformedRule(t *testing.T) {
	ctx := context.Background()
	gormDB := testutil.NewDB(t)
	s := store.NewGormStore(gormDB)
	r := dailyRoutine(t, gormDB)
	r.Rule.AnchorTime = "25:99"
	m := NewMaterializer(s, 72*time.Hour, 10)

	_, err := m.Extend(ctx, r, time.Now())
	assert.Error(t, err)

	reminders, err := s.ListReminders(ctx, store.ReminderFilter{RoutineID: r.ID})
	require.NoError(t, err)
	assert.Empty(t, reminders)
}
