package model

import "time"

// SyncAction names a queue reconciliation operation requested after a mutation.
type SyncAction string

const (
	ActionSync          SyncAction = "sync"
	ActionRemove        SyncAction = "remove"
	ActionRemoveRoutine SyncAction = "removeRoutine"
	ActionSyncRoutine   SyncAction = "syncRoutine"
)

// SyncRequest is an outbox row for sync work that was accepted but not yet applied.
type SyncRequest struct {
	ID                    string     `gorm:"primaryKey;size:36" json:"id"`
	OwnerID               string     `gorm:"index;size:64;not null" json:"ownerId"`
	Action                SyncAction `gorm:"size:24;not null" json:"action"`
	ReminderID            string     `gorm:"size:64" json:"reminderId,omitempty"`
	RoutineID             string     `gorm:"size:64" json:"routineId,omitempty"`
	DeleteFutureReminders bool       `gorm:"not null" json:"deleteFutureReminders"`
	Attempts              int        `gorm:"not null;default:0" json:"attempts"`
	LastError             *string    `json:"lastError,omitempty"`
	CreatedAt             time.Time  `gorm:"index" json:"createdAt"`
}
