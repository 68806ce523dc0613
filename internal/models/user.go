package models

import "time"

type User struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Username  string `gorm:"uniqueIndex;not null"`
	Password  string `gorm:"not null"`
	Role      string `gorm:"not null;default:'user'"`

	// Credit balance. TokensRemaining is decremented at reservation time
	// and only ever re-incremented by a release; TokensTotal tracks the
	// lifetime grant for display purposes.
	TokensRemaining int `gorm:"not null;default:0"`
	TokensTotal     int `gorm:"not null;default:0"`

	// Version guards concurrent balance writes (optimistic locking).
	Version int `gorm:"default:1"`
}
