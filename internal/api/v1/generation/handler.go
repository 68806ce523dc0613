package generation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ampersands-ai/mymedia-studio-sub000/internal/breaker"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/models"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/services"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/utils"

	"github.com/gin-gonic/gin"
)

func currentUser(c *gin.Context) (models.User, bool) {
	userVal, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusUnauthorized, utils.NewErrorResponse(http.StatusUnauthorized, "Unauthorized"))
		return models.User{}, false
	}
	u, ok := userVal.(models.User)
	if !ok {
		c.JSON(http.StatusUnauthorized, utils.NewErrorResponse(http.StatusUnauthorized, "Unauthorized"))
		return models.User{}, false
	}
	return u, true
}

// Submit accepts a generation request, reserves the token cost and
// dispatches it to the provider.
func Submit(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}

	var req SubmitRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	gen, err := services.SubmitGeneration(c.Request.Context(), services.SubmitGenerationInput{
		UserID:          u.ID,
		Username:        u.Username,
		ModelID:         req.ModelID,
		Prompt:          req.Prompt,
		Resolution:      req.Resolution,
		DurationSeconds: req.DurationSeconds,
		Settings:        req.Settings,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrModelUnavailable):
			c.JSON(http.StatusBadRequest, utils.NewErrorResponse(http.StatusBadRequest, "Model is not available"))
		case errors.Is(err, services.ErrInsufficientCredits):
			c.JSON(http.StatusPaymentRequired, utils.NewErrorResponse(http.StatusPaymentRequired, "Insufficient token balance"))
		case errors.Is(err, services.ErrConcurrencyExhausted):
			c.JSON(http.StatusServiceUnavailable, utils.NewErrorResponse(http.StatusServiceUnavailable, "Balance is contended, please retry"))
		case errors.Is(err, breaker.ErrCircuitOpen):
			c.JSON(http.StatusServiceUnavailable, utils.NewErrorResponse(http.StatusServiceUnavailable, "Provider temporarily unavailable"))
		case errors.Is(err, services.ErrUnknownProvider):
			c.JSON(http.StatusInternalServerError, utils.NewErrorResponse(http.StatusInternalServerError, "Model is misconfigured"))
		default:
			c.JSON(http.StatusBadGateway, utils.NewErrorResponse(http.StatusBadGateway, "Generation failed: "+err.Error()))
		}
		return
	}

	resp := toResponse(gen)
	c.JSON(http.StatusCreated, utils.NewSuccessResponse("Generation submitted", resp))
}

// List returns the caller's generations, newest first.
func List(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, utils.NewErrorResponse(http.StatusBadRequest, "Invalid page number"))
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, utils.NewErrorResponse(http.StatusBadRequest, "Invalid limit number"))
		return
	}

	var status *models.GenerationStatus
	if statusStr, exists := c.GetQuery("status"); exists {
		s := models.GenerationStatus(statusStr)
		status = &s
	}

	gens, total, err := services.FindGenerations(u.ID, status, page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.NewErrorResponse(http.StatusInternalServerError, "Failed to fetch generations"))
		return
	}

	var items []GenerationResponse
	for i := range gens {
		items = append(items, toResponse(&gens[i]))
	}

	c.JSON(http.StatusOK, utils.NewSuccessResponse("Generations retrieved successfully", GenerationListResponse{
		Generations: items,
		Total:       total,
		Page:        page,
		Limit:       limit,
	}))
}

// Get returns one generation by id, scoped to its owner.
func Get(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}

	gen, err := services.GetGenerationByID(c.Param("id"), u.ID)
	if err != nil {
		if errors.Is(err, services.ErrGenerationNotFound) || errors.Is(err, services.ErrNotOwner) {
			// Hide other users' generations behind a plain 404.
			c.JSON(http.StatusNotFound, utils.NewErrorResponse(http.StatusNotFound, "Generation not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, utils.NewErrorResponse(http.StatusInternalServerError, "Failed to fetch generation"))
		return
	}

	c.JSON(http.StatusOK, utils.NewSuccessResponse("Generation retrieved successfully", toResponse(gen)))
}

// Cancel aborts a non-terminal generation and refunds its reservation.
func Cancel(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}

	gen, refunded, err := services.CancelGeneration(c.Param("id"), u.ID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrGenerationNotFound), errors.Is(err, services.ErrNotOwner):
			c.JSON(http.StatusNotFound, utils.NewErrorResponse(http.StatusNotFound, "Generation not found"))
		case errors.Is(err, services.ErrNotCancellable):
			c.JSON(http.StatusConflict, utils.NewErrorResponse(http.StatusConflict, "Generation already finished"))
		default:
			c.JSON(http.StatusInternalServerError, utils.NewErrorResponse(http.StatusInternalServerError, "Failed to cancel generation"))
		}
		return
	}

	c.JSON(http.StatusOK, utils.NewSuccessResponse("Generation canceled", CancelResponse{
		Generation:     toResponse(gen),
		TokensRefunded: refunded,
	}))
}

// ListModels returns the open model catalog.
func ListModels(c *gin.Context) {
	catalog, err := services.FindOpenModels(c.Query("content_type"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.NewErrorResponse(http.StatusInternalServerError, "Failed to fetch models"))
		return
	}

	var items []ModelListItem
	for _, m := range catalog {
		items = append(items, ModelListItem{
			ID:          m.ID,
			Name:        m.Name,
			Description: m.Description,
			Provider:    m.Provider,
			ContentType: m.ContentType,
			BaseCost:    m.BaseCost,
		})
	}

	c.JSON(http.StatusOK, utils.NewSuccessResponse("Models retrieved successfully", items))
}
