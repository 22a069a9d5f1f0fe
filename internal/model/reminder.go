package model

import "time"

// Channel is a notification transport a reminder can be delivered through.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// AllChannels lists the supported channels in dispatch order.
var AllChannels = []Channel{ChannelPush, ChannelEmail, ChannelSMS}

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelPush, ChannelEmail, ChannelSMS:
		return true
	}
	return false
}

// ReminderStatus is the user-facing lifecycle state of a reminder.
type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderCompleted ReminderStatus = "completed"
	ReminderSnoozed   ReminderStatus = "snoozed"
)

// Reminder is a single time-bound event. Reminders generated from a routine keep a
// back-reference to it in RoutineID.
type Reminder struct {
	ID        string         `gorm:"primaryKey;size:64" json:"id"`
	OwnerID   string         `gorm:"index;size:64;not null" json:"ownerId"`
	Title     string         `gorm:"size:512;not null" json:"title"`
	TriggerAt time.Time      `gorm:"index;not null" json:"triggerAt"`
	Timezone  string         `gorm:"size:64" json:"timezone"`
	Status    ReminderStatus `gorm:"size:16;not null;default:pending" json:"status"`
	RoutineID *string        `gorm:"index;size:64" json:"routineId,omitempty"`
	Channels  []Channel      `gorm:"serializer:json" json:"channels"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Location resolves the reminder's timezone, falling back to UTC.
func (r *Reminder) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
