package models

import (
	"time"

	"gorm.io/datatypes"
)

type GenerationModelStatus string

const (
	GenerationModelStatusOpen   GenerationModelStatus = "open"
	GenerationModelStatusClosed GenerationModelStatus = "closed"
	GenerationModelStatusDraft  GenerationModelStatus = "draft"
)

// Content types served by the catalog.
const (
	ContentTypePromptToImage = "prompt_to_image"
	ContentTypePromptToVideo = "prompt_to_video"
	ContentTypeImageToVideo  = "image_to_video"
	ContentTypeImageEditing  = "image_editing"
	ContentTypePromptToAudio = "prompt_to_audio"
)

// GenerationModel is a catalog entry for a provider model users can
// generate with. BaseCost is in tokens; the effective cost of a request
// also depends on resolution/duration multipliers.
type GenerationModel struct {
	ID          uint                  `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	Name        string                `gorm:"index;not null" json:"name"`
	Description string                `json:"description"`
	Provider    string                `gorm:"index;not null" json:"provider"`
	ContentType string                `gorm:"index;not null" json:"content_type"`
	Status      GenerationModelStatus `gorm:"index;not null;default:'draft'" json:"status"`
	BaseCost    int                   `gorm:"not null;default:0" json:"base_cost"`

	// Env variable holding the provider API key for this model. Some
	// providers issue separate keys per content type.
	APIKeyEnv string `json:"api_key_env"`

	Parameters datatypes.JSON `gorm:"type:jsonb" json:"parameters"`
}
