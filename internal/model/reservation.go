package model

import "time"

// Reservation is one active hold on a resource. A resource has at most one
// occupancy (IsReservation=false) and at most one pre-reservation
// (IsReservation=true) at a time; the composite unique index enforces it.
type Reservation struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	ResourceID      string `gorm:"size:64;not null;uniqueIndex:idx_reservation_slot,priority:1"`
	MessageRef      string `gorm:"size:128;not null;default:''"`
	HolderUserID    string `gorm:"size:64;not null;default:''"`
	DurationSeconds int64  `gorm:"not null"`
	EndTime         int64  `gorm:"not null;index"` // unix seconds
	CCUserID        string `gorm:"size:64;not null;default:''"`
	IsReservation   bool   `gorm:"not null;uniqueIndex:idx_reservation_slot,priority:2"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Duration returns the originally requested hold duration.
func (r Reservation) Duration() time.Duration {
	return time.Duration(r.DurationSeconds) * time.Second
}

// EndsAt returns EndTime as a time.Time.
func (r Reservation) EndsAt() time.Time {
	return time.Unix(r.EndTime, 0)
}

// RoomStats is the per-resource usage counter. Rows are created lazily on the
// first occupancy and never deleted by the engine.
type RoomStats struct {
	ResourceID         string  `gorm:"primaryKey;size:64"`
	RentCount          int64   `gorm:"not null;default:0"`
	ExtensionCount     int64   `gorm:"not null;default:0"`
	RentTotalTimeHours float64 `gorm:"not null;default:0"`
	UpdatedAt          time.Time
}
