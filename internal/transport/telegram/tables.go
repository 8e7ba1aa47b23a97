package telegram

import (
	"time"

	"gorm.io/gorm"
)

// AuthoredMessage remembers a message the bot sent into a channel so it can
// be purged later. The Bot API has no way to list them.
type AuthoredMessage struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Channel   string `gorm:"size:64;not null;index"`
	ChatID    int64  `gorm:"not null"`
	MessageID int    `gorm:"not null"`
	CreatedAt time.Time
}

// ResourceLabel is one label currently applied to a resource.
type ResourceLabel struct {
	ResourceID string `gorm:"primaryKey;size:64"`
	Label      string `gorm:"primaryKey;size:32"`
	Position   int    `gorm:"not null"`
}

// Migrate creates the adapter's bookkeeping tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&AuthoredMessage{}, &ResourceLabel{})
}
