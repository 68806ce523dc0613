package services

import (
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/database"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/models"
)

// FindOpenModels lists catalog entries users may generate with,
// optionally filtered by content type. Draft and closed models are
// never shown.
func FindOpenModels(contentType string) ([]models.GenerationModel, error) {
	var catalog []models.GenerationModel
	query := database.DB.Where("status = ?", models.GenerationModelStatusOpen)
	if contentType != "" {
		query = query.Where("content_type = ?", contentType)
	}
	if err := query.Order("provider, name").Find(&catalog).Error; err != nil {
		return nil, err
	}
	return catalog, nil
}
