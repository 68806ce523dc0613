package webhook

import (
	"errors"
	"net/http"

	"github.com/ampersands-ai/mymedia-studio-sub000/internal/services"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/utils"
	"github.com/ampersands-ai/mymedia-studio-sub000/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ProviderCallbackRequest struct {
	TaskID      string `json:"task_id" binding:"required"`
	Status      string `json:"status" binding:"required,oneof=success failure in_progress"`
	ArtifactURL string `json:"artifact_url"`
	Error       string `json:"error"`
}

// ProviderCallback receives async completion notices from providers.
// Deliveries are at-least-once; duplicates are acknowledged with 200
// without changing anything.
func ProviderCallback(c *gin.Context) {
	var req ProviderCallbackRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	gen, err := services.HandleProviderOutcome(req.TaskID, req.Status, req.ArtifactURL, req.Error)
	if err != nil {
		if errors.Is(err, services.ErrGenerationNotFound) {
			c.JSON(http.StatusNotFound, utils.NewErrorResponse(http.StatusNotFound, "Unknown task"))
			return
		}
		logger.Log.Error("webhook processing failed",
			zap.String("task_id", req.TaskID),
			zap.String("status", req.Status),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, utils.NewErrorResponse(http.StatusInternalServerError, "Failed to process callback"))
		return
	}

	c.JSON(http.StatusOK, utils.NewSuccessResponse("Callback processed", gin.H{
		"generation_id": gen.ID,
		"status":        gen.Status,
	}))
}
