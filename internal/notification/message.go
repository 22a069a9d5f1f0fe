package notification

import (
	"encoding/json"
	"fmt"
	"time"

	"reminder-notify-backend/internal/model"
	"reminder-notify-backend/internal/window"
)

// Message is the rendered notification for one window of a reminder. Push payloads are
// its JSON encoding.
type Message struct {
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	ReminderID string    `json:"reminderId"`
	Window     string    `json:"window"`
	TriggerAt  time.Time `json:"triggerAt"`
	// Tag lets the client collapse notifications of the same reminder.
	Tag string `json:"tag"`
}

// NewMessage renders the notification sent for category c of rem. Clock times are
// shown in the reminder's timezone.
func NewMessage(rem *model.Reminder, c window.Category) *Message {
	return &Message{
		Title:      rem.Title,
		Body:       body(rem.TriggerAt.In(rem.Location()), c.Lead),
		ReminderID: rem.ID,
		Window:     c.Type,
		TriggerAt:  rem.TriggerAt.UTC(),
		Tag:        "reminder-" + rem.ID,
	}
}

func body(at time.Time, lead time.Duration) string {
	clock := at.Format("15:04")
	switch {
	case lead <= 0:
		return "Now"
	case lead == 24*time.Hour:
		return "Tomorrow at " + clock
	case lead%(24*time.Hour) == 0:
		return fmt.Sprintf("In %d days, on %s at %s", int(lead/(24*time.Hour)), at.Format("Mon Jan 2"), clock)
	case lead == time.Hour:
		return "In 1 hour, at " + clock
	case lead%time.Hour == 0:
		return fmt.Sprintf("In %d hours, at %s", int(lead/time.Hour), clock)
	default:
		return fmt.Sprintf("In %d minutes, at %s", int(lead/time.Minute), clock)
	}
}

// Payload is the push payload.
func (m *Message) Payload() ([]byte, error) {
	return json.Marshal(m)
}

// Text is the plain-text form used by email and SMS.
func (m *Message) Text() string {
	return m.Title + ": " + m.Body
}
