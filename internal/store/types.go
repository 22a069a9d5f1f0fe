package store

import (
	"errors"
	"time"

	"reminder-notify-backend/internal/model"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrClaimConflict means a conditional queue transition lost its race: another
	// writer changed the item first. It is expected under concurrent dispatch.
	ErrClaimConflict = errors.New("queue item claimed or changed concurrently")
)

// QueueOutcome is the final state a dispatcher writes for a claimed item.
type QueueOutcome struct {
	Status         model.QueueStatus
	Attempts       int
	NextAttemptAt  time.Time
	LastError      *string
	ChannelResults map[model.Channel]model.ChannelResult
}

// ReminderFilter narrows ListReminders.
type ReminderFilter struct {
	RoutineID     string
	ExcludeStatus []model.ReminderStatus
	TriggerAfter  *time.Time
}
