package notification

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"

	"reminder-notify-backend/internal/model"
	"reminder-notify-backend/internal/window"
)

func TestNewMessage_Golden(t *testing.T) {
	rem := &model.Reminder{
		ID:        "r-dentist",
		OwnerID:   "user-1",
		Title:     "Dentist appointment",
		TriggerAt: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		Timezone:  "Europe/Berlin",
	}

	var msgs []*Message
	for _, c := range window.DefaultPolicy().Categories() {
		msgs = append(msgs, NewMessage(rem, c))
	}
	msgs = append(msgs,
		NewMessage(rem, window.Category{Type: "two_days", Lead: 48 * time.Hour}),
		NewMessage(rem, window.Category{Type: "ninety_minutes", Lead: 90 * time.Minute}),
	)

	g := goldie.New(t)
	g.AssertJson(t, "messages", msgs)
}

func TestMessage_Text(t *testing.T) {
	rem := &model.Reminder{ID: "r1", Title: "Stretch", TriggerAt: time.Date(2026, 3, 2, 18, 30, 0, 0, time.UTC)}
	msg := NewMessage(rem, window.Category{Type: window.Near, Lead: 3 * time.Hour})

	assert.Equal(t, "Stretch: In 3 hours, at 18:30", msg.Text())
	assert.Equal(t, "reminder-r1", msg.Tag)
}
