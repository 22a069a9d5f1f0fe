package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"reminder-notify-backend/internal/model"
	"reminder-notify-backend/internal/testutil"
)

// A helper function to create a mock database connection.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func newItem(reminderID, windowType string, at time.Time) *model.QueueItem {
	return &model.QueueItem{
		ReminderID:    reminderID,
		WindowType:    windowType,
		OwnerID:       "user-1",
		ScheduledAt:   at,
		NextAttemptAt: at,
		Status:        model.QueuePending,
	}
}

func getItem(t *testing.T, s Store, reminderID, windowType string) model.QueueItem {
	t.Helper()
	items, err := s.ListQueueItems(context.Background(), reminderID)
	require.NoError(t, err)
	for _, it := range items {
		if it.WindowType == windowType {
			return it
		}
	}
	t.Fatalf("queue item %s/%s not found", reminderID, windowType)
	return model.QueueItem{}
}

func TestGormStore_ClaimQueueItem_Postgres(t *testing.T) {
	key := model.QueueKey{ReminderID: "r1", WindowType: "exact"}
	now := time.Now()

	testCases := []struct {
		name             string
		mockExpectations func(mock sqlmock.Sqlmock)
		wantErr          error
		wantAnyErr       bool
	}{
		{
			name: "Row already moved on, should report a conflict",
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "queue_items" SET`)).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit()
			},
			wantErr: ErrClaimConflict,
		},
		{
			name: "Driver failure, should surface the error",
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "queue_items" SET`)).
					WillReturnError(errors.New("connection reset"))
				mock.ExpectRollback()
			},
			wantAnyErr: true,
		},
		{
			name: "Claim wins, should re-read the claimed row",
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "queue_items" SET`)).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "queue_items"`)).
					WithArgs("r1", "exact", Any{}).
					WillReturnRows(sqlmock.NewRows([]string{"reminder_id", "window_type", "status", "version"}).
						AddRow("r1", "exact", "claimed", 8))
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gormDB, mock := newMockDB(t)
			s := NewGormStore(gormDB)

			tc.mockExpectations(mock)

			item, err := s.ClaimQueueItem(context.Background(), key, 7, now)

			switch {
			case tc.wantErr != nil:
				assert.ErrorIs(t, err, tc.wantErr)
			case tc.wantAnyErr:
				assert.Error(t, err)
				assert.NotErrorIs(t, err, ErrClaimConflict)
			default:
				require.NoError(t, err)
				assert.Equal(t, model.QueueClaimed, item.Status)
				assert.Equal(t, int64(8), item.Version)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormStore_UpsertQueueItem_BumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(testutil.NewDB(t))
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertQueueItem(ctx, newItem("r1", "exact", at)))
	first := getItem(t, s, "r1", "exact")
	assert.Equal(t, int64(0), first.Version)

	moved := newItem("r1", "exact", at.Add(time.Hour))
	require.NoError(t, s.UpsertQueueItem(ctx, moved))

	second := getItem(t, s, "r1", "exact")
	assert.Equal(t, int64(1), second.Version)
	assert.True(t, second.ScheduledAt.Equal(at.Add(time.Hour)))

	items, err := s.ListQueueItems(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestGormStore_ClaimQueueItem_ExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(testutil.NewDB(t))
	at := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, s.UpsertQueueItem(ctx, newItem("r1", "near", at)))
	item := getItem(t, s, "r1", "near")

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ClaimQueueItem(ctx, item.Key(), item.Version, time.Now())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, ErrClaimConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, conflicts)

	claimed := getItem(t, s, "r1", "near")
	assert.Equal(t, model.QueueClaimed, claimed.Status)
	assert.NotNil(t, claimed.ClaimedAt)
}

func TestGormStore_ClaimQueueItem_RejectsFinishedItems(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(testutil.NewDB(t))
	it := newItem("r1", "exact", time.Now().UTC())
	it.Status = model.QueueSent
	require.NoError(t, s.UpsertQueueItem(ctx, it))
	stored := getItem(t, s, "r1", "exact")

	_, err := s.ClaimQueueItem(ctx, stored.Key(), stored.Version, time.Now())
	assert.ErrorIs(t, err, ErrClaimConflict)
}

func TestGormStore_FinishQueueItem(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(testutil.NewDB(t))
	now := time.Now().UTC()
	require.NoError(t, s.UpsertQueueItem(ctx, newItem("r1", "exact", now)))
	item := getItem(t, s, "r1", "exact")

	claimed, err := s.ClaimQueueItem(ctx, item.Key(), item.Version, now)
	require.NoError(t, err)

	reason := "smtp: 421 try later"
	outcome := QueueOutcome{
		Status:        model.QueueFailedRetryable,
		Attempts:      1,
		NextAttemptAt: now.Add(time.Minute),
		LastError:     &reason,
		ChannelResults: map[model.Channel]model.ChannelResult{
			model.ChannelPush:  {Status: model.ChannelSent, At: now},
			model.ChannelEmail: {Status: model.ChannelFailedRetryable, Error: reason, At: now},
		},
	}

	// A stale version must not overwrite the claim.
	assert.ErrorIs(t, s.FinishQueueItem(ctx, claimed.Key(), item.Version, outcome), ErrClaimConflict)

	require.NoError(t, s.FinishQueueItem(ctx, claimed.Key(), claimed.Version, outcome))

	done := getItem(t, s, "r1", "exact")
	assert.Equal(t, model.QueueFailedRetryable, done.Status)
	assert.Equal(t, 1, done.Attempts)
	assert.Nil(t, done.ClaimedAt)
	require.NotNil(t, done.LastError)
	assert.Equal(t, reason, *done.LastError)
	assert.Equal(t, model.ChannelSent, done.ChannelResults[model.ChannelPush].Status)
	assert.Equal(t, model.ChannelFailedRetryable, done.ChannelResults[model.ChannelEmail].Status)
	assert.True(t, done.ScheduledAt.Equal(item.ScheduledAt), "backoff must not move scheduledAt")
	assert.WithinDuration(t, now.Add(time.Minute), done.NextAttemptAt, time.Millisecond)

	due, err := s.DueQueueItems(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
	due, err = s.DueQueueItems(ctx, now.Add(2*time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestGormStore_DueQueueItems_OnlyDispatchable(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(testutil.NewDB(t))
	now := time.Now().UTC()

	statuses := map[string]model.QueueStatus{
		"pending":  model.QueuePending,
		"retrying": model.QueueFailedRetryable,
		"sent":     model.QueueSent,
		"terminal": model.QueueFailedTerminal,
		"skipped":  model.QueueSkipped,
		"claimed":  model.QueueClaimed,
	}
	for id, st := range statuses {
		it := newItem(id, "exact", now.Add(-time.Minute))
		it.Status = st
		require.NoError(t, s.UpsertQueueItem(ctx, it))
	}
	require.NoError(t, s.UpsertQueueItem(ctx, newItem("future", "exact", now.Add(time.Hour))))

	due, err := s.DueQueueItems(ctx, now, 0)
	require.NoError(t, err)

	var ids []string
	for _, it := range due {
		ids = append(ids, it.ReminderID)
	}
	assert.ElementsMatch(t, []string{"pending", "retrying"}, ids)
}

func TestGormStore_ReleaseStaleClaims(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(testutil.NewDB(t))
	now := time.Now().UTC()

	for _, id := range []string{"old", "fresh"} {
		require.NoError(t, s.UpsertQueueItem(ctx, newItem(id, "exact", now)))
	}
	old := getItem(t, s, "old", "exact")
	_, err := s.ClaimQueueItem(ctx, old.Key(), old.Version, now.Add(-time.Hour))
	require.NoError(t, err)
	fresh := getItem(t, s, "fresh", "exact")
	_, err = s.ClaimQueueItem(ctx, fresh.Key(), fresh.Version, now)
	require.NoError(t, err)

	released, err := s.ReleaseStaleClaims(ctx, now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)
	assert.Equal(t, model.QueuePending, getItem(t, s, "old", "exact").Status)
	assert.Equal(t, model.QueueClaimed, getItem(t, s, "fresh", "exact").Status)
}

func TestGormStore_DeleteQueueItems(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(testutil.NewDB(t))
	now := time.Now().UTC()
	for _, w := range []string{"day_ahead", "near", "exact"} {
		require.NoError(t, s.UpsertQueueItem(ctx, newItem("r1", w, now)))
	}
	require.NoError(t, s.UpsertQueueItem(ctx, newItem("r2", "exact", now)))

	n, err := s.DeleteQueueItems(ctx, "r1", "day_ahead")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ids, err := s.QueueReminderIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r1", "r2"}, ids)

	n, err = s.DeleteQueueItems(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestGormStore_Reminders(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(testutil.NewDB(t))
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	r1 := testutil.Reminder("r1", "user-1", base)
	r1.RoutineID = testutil.Ptr("routine-1")
	r2 := testutil.Reminder("r2", "user-1", base.Add(24*time.Hour))
	r2.RoutineID = testutil.Ptr("routine-1")
	r2.Status = model.ReminderCompleted
	r3 := testutil.Reminder("r3", "user-1", base.Add(48*time.Hour))

	n, err := s.CreateRemindersIfAbsent(ctx, []model.Reminder{r1, r2, r3})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.CreateRemindersIfAbsent(ctx, []model.Reminder{r1})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "existing IDs are skipped")

	linked, err := s.ListReminders(ctx, ReminderFilter{
		RoutineID:     "routine-1",
		ExcludeStatus: []model.ReminderStatus{model.ReminderCompleted},
	})
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, "r1", linked[0].ID)

	after := base
	future, err := s.ListReminders(ctx, ReminderFilter{TriggerAfter: &after})
	require.NoError(t, err)
	assert.Len(t, future, 2)

	got, err := s.GetReminder(ctx, "r3")
	require.NoError(t, err)
	assert.Equal(t, []model.Channel{model.ChannelPush}, got.Channels)

	_, err = s.GetReminder(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err = s.DeleteReminders(ctx, []string{"r1", "r2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestGormStore_Routines(t *testing.T) {
	ctx := context.Background()
	gormDB := testutil.NewDB(t)
	s := NewGormStore(gormDB)

	routine := model.Routine{
		ID:      "routine-1",
		OwnerID: "user-1",
		Title:   "Stretch",
		Rule: model.RecurrenceRule{
			Frequency:  model.FrequencyDaily,
			AnchorTime: "07:30",
			StartDate:  "2026-05-01",
		},
		Timezone: "Europe/Berlin",
	}
	require.NoError(t, gormDB.Create(&routine).Error)

	ok, err := s.RoutineExists(ctx, "routine-1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.RoutineExists(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)

	through := time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetRoutineMaterializedThrough(ctx, "routine-1", through))

	got, err := s.GetRoutine(ctx, "routine-1")
	require.NoError(t, err)
	require.NotNil(t, got.MaterializedThrough)
	assert.True(t, got.MaterializedThrough.Equal(through))
	assert.Equal(t, "07:30", got.Rule.AnchorTime)

	all, err := s.ListRoutines(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGormStore_ReplacePushEndpoint(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(testutil.NewDB(t))

	old := &model.PushSubscription{
		ID: "old-id", OwnerID: "user-1", Endpoint: "https://push.example/old",
		P256DH: "k1", Auth: "a1", UserAgent: "Firefox",
	}
	require.NoError(t, s.UpsertPushSubscription(ctx, old))

	_, err := s.ReplacePushEndpoint(ctx, "user-2", old.Endpoint, &model.PushSubscription{
		ID: "new-id", OwnerID: "user-2", Endpoint: "https://push.example/new", P256DH: "k2", Auth: "a2",
	})
	assert.ErrorIs(t, err, ErrNotFound, "another user's endpoint cannot be rotated")

	n, err := s.ReplacePushEndpoint(ctx, "user-1", old.Endpoint, &model.PushSubscription{
		ID: "new-id", OwnerID: "user-1", Endpoint: "https://push.example/new", P256DH: "k2", Auth: "a2",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	subs, err := s.ListPushSubscriptions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://push.example/new", subs[0].Endpoint)
	assert.Equal(t, "Firefox", subs[0].UserAgent)

	assert.NoError(t, s.DeletePushSubscription(ctx, "new-id"))
	assert.ErrorIs(t, s.DeletePushSubscription(ctx, "new-id"), ErrNotFound)
}

func TestGormStore_SyncOutbox(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(testutil.NewDB(t))
	base := time.Now().UTC()

	for i, id := range []string{"a", "b"} {
		require.NoError(t, s.EnqueueSyncRequest(ctx, &model.SyncRequest{
			ID: id, OwnerID: "user-1", Action: model.ActionSync, ReminderID: "r" + id,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	require.NoError(t, s.FailSyncRequest(ctx, "a", "database is locked"))
	pending, err := s.PendingSyncRequests(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "b", pending[0].ID, "untried requests go before failing ones")
	assert.Equal(t, "a", pending[1].ID)
	assert.Equal(t, 1, pending[1].Attempts)
	require.NotNil(t, pending[1].LastError)

	// With a batch of one the failing request cannot hold up the queue.
	pending, err = s.PendingSyncRequests(ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ID)

	// Exhausted rows are left out but kept.
	require.NoError(t, s.FailSyncRequest(ctx, "a", "database is locked"))
	require.NoError(t, s.FailSyncRequest(ctx, "a", "database is locked"))
	pending, err = s.PendingSyncRequests(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ID)
	pending, err = s.PendingSyncRequests(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, s.CompleteSyncRequest(ctx, "a"))
	pending, err = s.PendingSyncRequests(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ID)
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}
