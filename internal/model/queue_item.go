package model

import "time"

// QueueStatus is the delivery state of a queue item.
type QueueStatus string

const (
	QueuePending         QueueStatus = "pending"
	QueueClaimed         QueueStatus = "claimed"
	QueueSent            QueueStatus = "sent"
	QueueFailedRetryable QueueStatus = "failed_retryable"
	QueueFailedTerminal  QueueStatus = "failed_terminal"
	// QueueSkipped marks a window that elapsed before it could be delivered.
	QueueSkipped QueueStatus = "skipped"
)

// Dispatchable reports whether an item in this status may still be claimed.
func (s QueueStatus) Dispatchable() bool {
	return s == QueuePending || s == QueueFailedRetryable
}

// ChannelStatus is the outcome of one delivery attempt on one channel.
type ChannelStatus string

const (
	ChannelSent            ChannelStatus = "sent"
	ChannelFailedRetryable ChannelStatus = "failed_retryable"
	ChannelFailedTerminal  ChannelStatus = "failed_terminal"
)

// ChannelResult records the latest outcome for a channel of a queue item.
type ChannelResult struct {
	Status ChannelStatus `json:"status"`
	Error  string        `json:"error,omitempty"`
	At     time.Time     `json:"at"`
}

// QueueItem is one notification window of one reminder. (ReminderID, WindowType) is its
// identity; ScheduledAt is always derived from the reminder's trigger instant.
type QueueItem struct {
	ReminderID     string                    `gorm:"primaryKey;size:64" json:"reminderId"`
	WindowType     string                    `gorm:"primaryKey;size:32" json:"windowType"`
	OwnerID        string                    `gorm:"index;size:64;not null" json:"ownerId"`
	ScheduledAt    time.Time                 `gorm:"not null" json:"scheduledAt"`
	NextAttemptAt  time.Time                 `gorm:"index:idx_queue_due,priority:2;not null" json:"nextAttemptAt"`
	Status         QueueStatus               `gorm:"index:idx_queue_due,priority:1;size:24;not null" json:"status"`
	Attempts       int                       `gorm:"not null;default:0" json:"attempts"`
	LastError      *string                   `json:"lastError,omitempty"`
	ChannelResults map[Channel]ChannelResult `gorm:"serializer:json" json:"channelResults,omitempty"`
	ClaimedAt      *time.Time                `json:"claimedAt,omitempty"`
	Version        int64                     `gorm:"not null;default:0" json:"version"`
	CreatedAt      time.Time                 `json:"createdAt"`
	UpdatedAt      time.Time                 `json:"updatedAt"`
}

// QueueKey is the composite identity of a QueueItem.
type QueueKey struct {
	ReminderID string
	WindowType string
}

// Key returns the item's composite identity.
func (q *QueueItem) Key() QueueKey {
	return QueueKey{ReminderID: q.ReminderID, WindowType: q.WindowType}
}
