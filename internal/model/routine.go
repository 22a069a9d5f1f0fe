package model

import "time"

// Frequency is the base cadence of a recurrence rule.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyNDays   Frequency = "n_days"
	FrequencyMonthly Frequency = "monthly"
)

// RecurrenceRule describes when a routine produces occurrences. AnchorTime is a local
// wall-clock time (HH:MM) and StartDate/Until are local calendar dates (YYYY-MM-DD).
type RecurrenceRule struct {
	Frequency  Frequency      `json:"frequency"`
	Interval   int            `json:"interval,omitempty"`
	Weekdays   []time.Weekday `json:"weekdays,omitempty"`
	AnchorTime string         `json:"anchorTime"`
	StartDate  string         `json:"startDate"`
	Until      string         `json:"until,omitempty"`
	Count      int            `json:"count,omitempty"`
}

// Routine generates a stream of Reminder occurrences. It is never delivered itself.
type Routine struct {
	ID       string         `gorm:"primaryKey;size:64" json:"id"`
	OwnerID  string         `gorm:"index;size:64;not null" json:"ownerId"`
	Title    string         `gorm:"size:512;not null" json:"title"`
	Rule     RecurrenceRule `gorm:"serializer:json" json:"rule"`
	Timezone string         `gorm:"size:64" json:"timezone"`
	Channels []Channel      `gorm:"serializer:json" json:"channels"`

	// MaterializedThrough is the latest instant up to which occurrences have been
	// written as reminders.
	MaterializedThrough *time.Time `json:"materializedThrough,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
