package model

import "time"

// PushSubscription holds the information for a browser push subscription.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Rooms []RoomSubscription `gorm:"foreignKey:Endpoint;constraint:OnDelete:CASCADE"`
}

// RoomSubscription links a push subscription to a room it wants
// "room available" pushes for.
type RoomSubscription struct {
	Endpoint   string `gorm:"primaryKey"`
	ResourceID string `gorm:"primaryKey;size:64;index"`
}
