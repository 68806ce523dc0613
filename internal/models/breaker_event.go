package models

import "time"

// BreakerEvent is an append-only observability record of circuit breaker
// outcomes. Writes are best-effort; breaker state itself is process-local
// and never reconstructed from these rows.
type BreakerEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Service   string    `gorm:"index;not null" json:"service"`
	Class     string    `gorm:"index;not null" json:"class"`
	Event     string    `gorm:"not null" json:"event"` // success|failure|rejected|opened|half_open|closed|reset
	State     string    `gorm:"not null" json:"state"`
	Failures  int       `json:"failures"`
	Detail    string    `gorm:"type:text" json:"detail,omitempty"`
}
