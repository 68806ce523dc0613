package generation

import (
	"encoding/json"
	"time"

	"github.com/ampersands-ai/mymedia-studio-sub000/internal/models"
)

type SubmitRequest struct {
	ModelID         uint                   `json:"model_id" binding:"required"`
	Prompt          string                 `json:"prompt" binding:"required"`
	Resolution      string                 `json:"resolution" binding:"omitempty,oneof=720p 1080p 4k"`
	DurationSeconds int                    `json:"duration_seconds" binding:"omitempty,min=1,max=60"`
	Settings        map[string]interface{} `json:"settings"`
}

type GenerationResponse struct {
	ID            string                  `json:"id"`
	CreatedAt     time.Time               `json:"created_at"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
	ModelID       uint                    `json:"model_id"`
	Provider      string                  `json:"provider"`
	ContentType   string                  `json:"content_type"`
	Prompt        string                  `json:"prompt"`
	Settings      json.RawMessage         `json:"settings,omitempty"`
	Status        models.GenerationStatus `json:"status"`
	TokensUsed    int                     `json:"tokens_used"`
	TokensCharged int                     `json:"tokens_charged"`
	OutputURL     string                  `json:"output_url,omitempty"`
	ErrorDetail   string                  `json:"error_detail,omitempty"`
}

type GenerationListResponse struct {
	Generations []GenerationResponse `json:"generations"`
	Total       int64                `json:"total"`
	Page        int                  `json:"page"`
	Limit       int                  `json:"limit"`
}

type CancelResponse struct {
	Generation     GenerationResponse `json:"generation"`
	TokensRefunded int                `json:"tokens_refunded"`
}

type ModelListItem struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Provider    string `json:"provider"`
	ContentType string `json:"content_type"`
	BaseCost    int    `json:"base_cost"`
}

func toResponse(g *models.Generation) GenerationResponse {
	return GenerationResponse{
		ID:            g.ID,
		CreatedAt:     g.CreatedAt,
		CompletedAt:   g.CompletedAt,
		ModelID:       g.ModelID,
		Provider:      g.Provider,
		ContentType:   g.ContentType,
		Prompt:        g.Prompt,
		Settings:      json.RawMessage(g.Settings),
		Status:        g.Status,
		TokensUsed:    g.TokensUsed,
		TokensCharged: g.TokensCharged,
		OutputURL:     g.OutputURL,
		ErrorDetail:   g.ErrorDetail,
	}
}
