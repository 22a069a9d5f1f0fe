package model

import "time"

// PushSubscription holds the information for a browser push subscription.
// ID is derived from Endpoint, so one device registration maps to one row.
type PushSubscription struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	OwnerID   string    `gorm:"index;size:64;not null" json:"ownerId"`
	Endpoint  string    `gorm:"index;not null" json:"endpoint"`
	P256DH    string    `gorm:"column:p256dh;not null" json:"p256dh"`
	Auth      string    `gorm:"not null" json:"auth"`
	UserAgent string    `gorm:"size:512" json:"userAgent"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}
