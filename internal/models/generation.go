package models

import (
	"time"

	"gorm.io/datatypes"
)

// GenerationStatus defines the lifecycle state of a generation
type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusProcessing GenerationStatus = "processing"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s GenerationStatus) Terminal() bool {
	return s == GenerationStatusCompleted || s == GenerationStatusFailed
}

// Generation represents one user request to produce an AI artifact via an
// external provider.
type Generation struct {
	ID          string     `gorm:"primarykey;type:varchar(32)" json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	UserID      uint   `gorm:"index;not null" json:"user_id"`
	Username    string `json:"username"`
	ModelID     uint   `gorm:"index;not null" json:"model_id"`
	Provider    string `gorm:"index;not null" json:"provider"`
	ContentType string `gorm:"not null" json:"content_type"`

	Prompt   string         `gorm:"type:text" json:"prompt"`
	Settings datatypes.JSON `gorm:"type:jsonb" json:"settings"`

	// Provider-assigned identifier, empty until async dispatch succeeds.
	ProviderTaskID string `gorm:"index" json:"provider_task_id"`

	Status GenerationStatus `gorm:"index;not null;default:'pending'" json:"status"`

	// TokensUsed is the reserved cost, fixed at creation. TokensCharged is
	// 0 until settlement and then equals TokensUsed; never a partial value.
	TokensUsed    int `gorm:"not null;default:0" json:"tokens_used"`
	TokensCharged int `gorm:"not null;default:0" json:"tokens_charged"`

	OutputURL   string `json:"output_url"`
	ErrorDetail string `gorm:"type:text" json:"error_detail,omitempty"`
}

// TableName overrides the table name
func (Generation) TableName() string {
	return "generations"
}
