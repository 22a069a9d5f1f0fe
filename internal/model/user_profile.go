package model

import "time"

// UserProfile holds a user's contact points and channel preferences.
type UserProfile struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"`
	Email        string    `gorm:"size:320" json:"email"`
	Phone        string    `gorm:"size:32" json:"phone"`
	PushEnabled  bool      `gorm:"not null" json:"pushEnabled"`
	EmailEnabled bool      `gorm:"not null" json:"emailEnabled"`
	SMSEnabled   bool      `gorm:"column:sms_enabled;not null" json:"smsEnabled"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// DefaultProfile is used for users without a stored profile: push only.
func DefaultProfile(userID string) *UserProfile {
	return &UserProfile{ID: userID, PushEnabled: true}
}

// Enabled reports whether the user accepts notifications on c.
func (p *UserProfile) Enabled(c Channel) bool {
	switch c {
	case ChannelPush:
		return p.PushEnabled
	case ChannelEmail:
		return p.EmailEnabled && p.Email != ""
	case ChannelSMS:
		return p.SMSEnabled && p.Phone != ""
	}
	return false
}
