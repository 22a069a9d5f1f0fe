package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"reminder-notify-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	// Reminders and routines.
	GetReminder(ctx context.Context, id string) (*model.Reminder, error)
	ListReminders(ctx context.Context, filter ReminderFilter) ([]model.Reminder, error)
	CreateRemindersIfAbsent(ctx context.Context, reminders []model.Reminder) (int64, error)
	DeleteReminders(ctx context.Context, ids []string) (int64, error)
	GetRoutine(ctx context.Context, id string) (*model.Routine, error)
	ListRoutines(ctx context.Context) ([]model.Routine, error)
	RoutineExists(ctx context.Context, id string) (bool, error)
	SetRoutineMaterializedThrough(ctx context.Context, id string, through time.Time) error
	GetUserProfile(ctx context.Context, userID string) (*model.UserProfile, error)

	// Delivery queue.
	ListQueueItems(ctx context.Context, reminderID string) ([]model.QueueItem, error)
	UpsertQueueItem(ctx context.Context, item *model.QueueItem) error
	DeleteQueueItems(ctx context.Context, reminderID string, windowTypes ...string) (int64, error)
	QueueReminderIDs(ctx context.Context) ([]string, error)
	DueQueueItems(ctx context.Context, until time.Time, limit int) ([]model.QueueItem, error)
	ClaimQueueItem(ctx context.Context, key model.QueueKey, version int64, now time.Time) (*model.QueueItem, error)
	FinishQueueItem(ctx context.Context, key model.QueueKey, version int64, outcome QueueOutcome) error
	ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) (int64, error)

	// Push subscriptions.
	UpsertPushSubscription(ctx context.Context, sub *model.PushSubscription) error
	ReplacePushEndpoint(ctx context.Context, ownerID, oldEndpoint string, replacement *model.PushSubscription) (int64, error)
	ListPushSubscriptions(ctx context.Context, ownerID string) ([]model.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, id string) error

	// Sync outbox.
	EnqueueSyncRequest(ctx context.Context, req *model.SyncRequest) error
	PendingSyncRequests(ctx context.Context, limit, maxAttempts int) ([]model.SyncRequest, error)
	CompleteSyncRequest(ctx context.Context, id string) error
	FailSyncRequest(ctx context.Context, id string, reason string) error

	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB exposes the underlying connection for migrations and tests.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// encodeChannelResults serializes channel results for map-based updates, which bypass
// the model's json serializer.
func encodeChannelResults(results map[model.Channel]model.ChannelResult) interface{} {
	if len(results) == 0 {
		return nil
	}
	b, err := json.Marshal(results)
	if err != nil {
		return nil
	}
	return string(b)
}

// --- Reminders and routines ---

func (s *gormStore) GetReminder(ctx context.Context, id string) (*model.Reminder, error) {
	var r model.Reminder
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *gormStore) ListReminders(ctx context.Context, filter ReminderFilter) ([]model.Reminder, error) {
	q := s.db.WithContext(ctx).Model(&model.Reminder{})
	if filter.RoutineID != "" {
		q = q.Where("routine_id = ?", filter.RoutineID)
	}
	if len(filter.ExcludeStatus) > 0 {
		q = q.Where("status NOT IN ?", filter.ExcludeStatus)
	}
	if filter.TriggerAfter != nil {
		q = q.Where("trigger_at > ?", filter.TriggerAfter.UTC())
	}

	var reminders []model.Reminder
	if err := q.Order("trigger_at").Find(&reminders).Error; err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	return reminders, nil
}

// CreateRemindersIfAbsent inserts reminders, skipping IDs that already exist.
func (s *gormStore) CreateRemindersIfAbsent(ctx context.Context, reminders []model.Reminder) (int64, error) {
	if len(reminders) == 0 {
		return 0, nil
	}
	for i := range reminders {
		reminders[i].TriggerAt = reminders[i].TriggerAt.UTC()
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&reminders)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to create reminders: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *gormStore) DeleteReminders(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.Reminder{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete reminders: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *gormStore) GetRoutine(ctx context.Context, id string) (*model.Routine, error) {
	var r model.Routine
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *gormStore) ListRoutines(ctx context.Context) ([]model.Routine, error) {
	var routines []model.Routine
	if err := s.db.WithContext(ctx).Order("id").Find(&routines).Error; err != nil {
		return nil, fmt.Errorf("failed to list routines: %w", err)
	}
	return routines, nil
}

func (s *gormStore) RoutineExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Routine{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *gormStore) SetRoutineMaterializedThrough(ctx context.Context, id string, through time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Routine{}).
		Where("id = ?", id).
		UpdateColumn("materialized_through", through.UTC()).Error
}

func (s *gormStore) GetUserProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	var p model.UserProfile
	if err := s.db.WithContext(ctx).First(&p, "id = ?", userID).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// --- Delivery queue ---

func (s *gormStore) ListQueueItems(ctx context.Context, reminderID string) ([]model.QueueItem, error) {
	var items []model.QueueItem
	if err := s.db.WithContext(ctx).
		Where("reminder_id = ?", reminderID).
		Order("scheduled_at").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list queue items for reminder %s: %w", reminderID, err)
	}
	return items, nil
}

// UpsertQueueItem writes the item keyed by (reminder_id, window_type), bumping its version.
func (s *gormStore) UpsertQueueItem(ctx context.Context, item *model.QueueItem) error {
	item.ScheduledAt = item.ScheduledAt.UTC()
	item.NextAttemptAt = item.NextAttemptAt.UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "reminder_id"}, {Name: "window_type"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"owner_id":        gorm.Expr("excluded.owner_id"),
			"scheduled_at":    gorm.Expr("excluded.scheduled_at"),
			"next_attempt_at": gorm.Expr("excluded.next_attempt_at"),
			"status":          gorm.Expr("excluded.status"),
			"attempts":        gorm.Expr("excluded.attempts"),
			"last_error":      gorm.Expr("excluded.last_error"),
			"channel_results": gorm.Expr("excluded.channel_results"),
			"claimed_at":      gorm.Expr("excluded.claimed_at"),
			"updated_at":      gorm.Expr("excluded.updated_at"),
			"version":         gorm.Expr("queue_items.version + 1"),
		}),
	}).Create(item).Error
}

func (s *gormStore) DeleteQueueItems(ctx context.Context, reminderID string, windowTypes ...string) (int64, error) {
	q := s.db.WithContext(ctx).Where("reminder_id = ?", reminderID)
	if len(windowTypes) > 0 {
		q = q.Where("window_type IN ?", windowTypes)
	}
	res := q.Delete(&model.QueueItem{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete queue items for reminder %s: %w", reminderID, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *gormStore) QueueReminderIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&model.QueueItem{}).
		Distinct("reminder_id").
		Pluck("reminder_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list queued reminders: %w", err)
	}
	return ids, nil
}

// DueQueueItems returns dispatchable items whose next attempt is at or before until.
func (s *gormStore) DueQueueItems(ctx context.Context, until time.Time, limit int) ([]model.QueueItem, error) {
	var items []model.QueueItem
	q := s.db.WithContext(ctx).
		Where("status IN ?", []model.QueueStatus{model.QueuePending, model.QueueFailedRetryable}).
		Where("next_attempt_at <= ?", until.UTC()).
		Order("next_attempt_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to query due queue items: %w", err)
	}
	return items, nil
}

// ClaimQueueItem moves a dispatchable item to claimed, provided nobody wrote it since
// version was read. It returns the claimed row or ErrClaimConflict.
func (s *gormStore) ClaimQueueItem(ctx context.Context, key model.QueueKey, version int64, now time.Time) (*model.QueueItem, error) {
	now = now.UTC()
	res := s.db.WithContext(ctx).Model(&model.QueueItem{}).
		Where("reminder_id = ? AND window_type = ?", key.ReminderID, key.WindowType).
		Where("version = ?", version).
		Where("status IN ?", []model.QueueStatus{model.QueuePending, model.QueueFailedRetryable}).
		Updates(map[string]interface{}{
			"status":     model.QueueClaimed,
			"claimed_at": now,
			"version":    gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to claim queue item %s/%s: %w", key.ReminderID, key.WindowType, res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, ErrClaimConflict
	}

	var item model.QueueItem
	if err := s.db.WithContext(ctx).
		First(&item, "reminder_id = ? AND window_type = ?", key.ReminderID, key.WindowType).Error; err != nil {
		return nil, notFound(err)
	}
	if item.Version != version+1 || item.Status != model.QueueClaimed {
		return nil, ErrClaimConflict
	}
	return &item, nil
}

// FinishQueueItem records a dispatch outcome. version must be the claimed version; a
// mismatch means the row was resynced or reclaimed meanwhile and the outcome is dropped.
func (s *gormStore) FinishQueueItem(ctx context.Context, key model.QueueKey, version int64, outcome QueueOutcome) error {
	updates := map[string]interface{}{
		"status":          outcome.Status,
		"attempts":        outcome.Attempts,
		"last_error":      outcome.LastError,
		"claimed_at":      nil,
		"version":         gorm.Expr("version + 1"),
		"channel_results": encodeChannelResults(outcome.ChannelResults),
	}
	if !outcome.NextAttemptAt.IsZero() {
		updates["next_attempt_at"] = outcome.NextAttemptAt.UTC()
	}

	res := s.db.WithContext(ctx).Model(&model.QueueItem{}).
		Where("reminder_id = ? AND window_type = ?", key.ReminderID, key.WindowType).
		Where("version = ?", version).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to finish queue item %s/%s: %w", key.ReminderID, key.WindowType, res.Error)
	}
	if res.RowsAffected != 1 {
		return ErrClaimConflict
	}
	return nil
}

// ReleaseStaleClaims returns claims older than claimedBefore to pending.
func (s *gormStore) ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.QueueItem{}).
		Where("status = ?", model.QueueClaimed).
		Where("claimed_at < ?", claimedBefore.UTC()).
		Updates(map[string]interface{}{
			"status":     model.QueuePending,
			"claimed_at": nil,
			"version":    gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to release stale claims: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// --- Push subscriptions ---

func (s *gormStore) UpsertPushSubscription(ctx context.Context, sub *model.PushSubscription) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner_id", "endpoint", "p256dh", "auth", "user_agent", "updated_at"}),
	}).Create(sub).Error
}

// ReplacePushEndpoint swaps every row of ownerID registered at oldEndpoint for the
// replacement row, in one transaction. It returns how many rows were replaced.
func (s *gormStore) ReplacePushEndpoint(ctx context.Context, ownerID, oldEndpoint string, replacement *model.PushSubscription) (int64, error) {
	var replaced int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []model.PushSubscription
		if err := tx.Where("owner_id = ? AND endpoint = ?", ownerID, oldEndpoint).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return ErrNotFound
		}
		if replacement.UserAgent == "" {
			replacement.UserAgent = rows[0].UserAgent
		}

		ids := make([]string, 0, len(rows))
		for _, r := range rows {
			if r.ID != replacement.ID {
				ids = append(ids, r.ID)
			}
		}
		if len(ids) > 0 {
			if err := tx.Where("id IN ?", ids).Delete(&model.PushSubscription{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"owner_id", "endpoint", "p256dh", "auth", "user_agent", "updated_at"}),
		}).Create(replacement).Error; err != nil {
			return err
		}
		replaced = int64(len(rows))
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to rotate push endpoint: %w", err)
	}
	return replaced, nil
}

func (s *gormStore) ListPushSubscriptions(ctx context.Context, ownerID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("updated_at DESC").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list push subscriptions: %w", err)
	}
	return subs, nil
}

func (s *gormStore) DeletePushSubscription(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.PushSubscription{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Sync outbox ---

func (s *gormStore) EnqueueSyncRequest(ctx context.Context, req *model.SyncRequest) error {
	return s.db.WithContext(ctx).Create(req).Error
}

// PendingSyncRequests returns outbox rows that failed fewer than maxAttempts times,
// least-tried first so fresh requests are never starved by ones that keep failing. Rows
// that used up their attempts stay in the table as dead letters. A maxAttempts of zero
// disables the cap.
func (s *gormStore) PendingSyncRequests(ctx context.Context, limit, maxAttempts int) ([]model.SyncRequest, error) {
	var reqs []model.SyncRequest
	q := s.db.WithContext(ctx).Order("attempts").Order("created_at")
	if maxAttempts > 0 {
		q = q.Where("attempts < ?", maxAttempts)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("failed to read sync outbox: %w", err)
	}
	return reqs, nil
}

func (s *gormStore) CompleteSyncRequest(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.SyncRequest{}).Error
}

func (s *gormStore) FailSyncRequest(ctx context.Context, id string, reason string) error {
	return s.db.WithContext(ctx).Model(&model.SyncRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
		}).Error
}
