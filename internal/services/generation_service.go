package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ampersands-ai/mymedia-studio-sub000/internal/breaker"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/database"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/models"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/providers"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrModelUnavailable = errors.New("model is not available")
	ErrUnknownProvider  = errors.New("no adapter registered for provider")
	ErrNotCancellable   = errors.New("generation is not cancellable")
	ErrNotOwner         = errors.New("generation does not belong to this user")
)

var resolutionMultipliers = map[string]float64{
	"":      1,
	"720p":  1,
	"1080p": 1.5,
	"4k":    3,
}

// videoCostSliceSeconds is the billing unit for timed content: each
// started slice of this many seconds multiplies the base cost once.
const videoCostSliceSeconds = 5

// SubmitGenerationInput is the validated shape the handler passes down.
type SubmitGenerationInput struct {
	UserID          uint
	Username        string
	ModelID         uint
	Prompt          string
	Resolution      string
	DurationSeconds int
	Settings        map[string]interface{}
}

// ComputeCost prices a request from the model base cost and the chosen
// parameters. The result is fixed on the generation at creation time.
func ComputeCost(model *models.GenerationModel, resolution string, durationSeconds int) (int, error) {
	mult, ok := resolutionMultipliers[resolution]
	if !ok {
		return 0, fmt.Errorf("unknown resolution %q", resolution)
	}

	cost := float64(model.BaseCost) * mult
	if durationSeconds > 0 {
		cost *= math.Ceil(float64(durationSeconds) / videoCostSliceSeconds)
	}
	return int(math.Ceil(cost)), nil
}

// SubmitGeneration runs the submission leg of the lifecycle: validate,
// price, reserve credits, insert the generation and dispatch to the
// provider behind its circuit breaker. The reservation strictly precedes
// dispatch; any dispatch failure releases it again.
func SubmitGeneration(ctx context.Context, input SubmitGenerationInput) (*models.Generation, error) {
	var model models.GenerationModel
	if err := database.DB.First(&model, "id = ? AND status = ?", input.ModelID, models.GenerationModelStatusOpen).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrModelUnavailable
		}
		return nil, err
	}

	provider := providers.Get(model.Provider)
	if provider == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, model.Provider)
	}

	cost, err := ComputeCost(&model, input.Resolution, input.DurationSeconds)
	if err != nil {
		return nil, err
	}

	settings := map[string]interface{}{}
	for k, v := range input.Settings {
		settings[k] = v
	}
	if input.Resolution != "" {
		settings["resolution"] = input.Resolution
	}
	if input.DurationSeconds > 0 {
		settings["duration"] = input.DurationSeconds
	}
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return nil, err
	}

	genID := strings.ReplaceAll(uuid.New().String(), "-", "")

	// Credits are reserved before the provider is contacted; no paid call
	// is ever attempted against an uncovered balance.
	reason := fmt.Sprintf("Reservation for generation %s (%s/%s)", genID, model.Provider, model.Name)
	if err := Reserve(input.UserID, cost, genID, reason); err != nil {
		return nil, err
	}

	gen := models.Generation{
		ID:          genID,
		UserID:      input.UserID,
		Username:    input.Username,
		ModelID:     model.ID,
		Provider:    model.Provider,
		ContentType: model.ContentType,
		Prompt:      input.Prompt,
		Settings:    datatypes.JSON(settingsJSON),
		Status:      models.GenerationStatusProcessing,
		TokensUsed:  cost,
	}
	if err := database.DB.Create(&gen).Error; err != nil {
		// The row never existed, so the guarded release path cannot run;
		// refund directly.
		if refundErr := database.DB.Transaction(func(tx *gorm.DB) error {
			return refundUserTx(tx, input.UserID, cost, genID, "Refund: generation row creation failed")
		}); refundErr != nil {
			zap.L().Error("refund after failed insert also failed",
				zap.String("generation_id", genID), zap.Error(refundErr))
		}
		invalidateUserCache(input.UserID)
		return nil, err
	}

	var result *providers.DispatchResult
	dispatchErr := breaker.Execute("provider:"+model.Provider, breaker.ClassAIProvider, func() error {
		var callErr error
		result, callErr = provider.Dispatch(ctx, providers.DispatchRequest{
			Model:    &model,
			Prompt:   input.Prompt,
			Settings: settings,
		})
		return callErr
	})
	if dispatchErr != nil {
		detail := fmt.Sprintf("dispatch failed: %v", dispatchErr)
		if errors.Is(dispatchErr, breaker.ErrCircuitOpen) {
			detail = "provider temporarily unavailable (circuit open)"
		}
		if _, relErr := Release(gen.ID, detail); relErr != nil {
			zap.L().Error("release after dispatch failure failed",
				zap.String("generation_id", gen.ID), zap.Error(relErr))
		}
		// The dispatch error is what the caller needs to see; a failed
		// reload must not mask it, but it must not hand back stale state
		// as if it were fresh either.
		if err := database.DB.First(&gen, "id = ?", gen.ID).Error; err != nil {
			zap.L().Error("reload after dispatch failure failed",
				zap.String("generation_id", gen.ID), zap.Error(err))
			return nil, dispatchErr
		}
		return &gen, dispatchErr
	}

	if result.ArtifactURL != "" {
		// Synchronous provider: the artifact came back inline.
		if err := finishWithArtifact(&gen, result.ArtifactURL); err != nil {
			if reloadErr := database.DB.First(&gen, "id = ?", gen.ID).Error; reloadErr != nil {
				zap.L().Error("reload after artifact failure failed",
					zap.String("generation_id", gen.ID), zap.Error(reloadErr))
				return nil, err
			}
			return &gen, err
		}
		if err := database.DB.First(&gen, "id = ?", gen.ID).Error; err != nil {
			return nil, err
		}
		return &gen, nil
	}

	// Async path: remember the provider task id, completion arrives via
	// webhook or reconciler poll.
	if err := database.DB.Model(&models.Generation{}).
		Where("id = ?", gen.ID).
		Update("provider_task_id", result.TaskID).Error; err != nil {
		return &gen, err
	}
	gen.ProviderTaskID = result.TaskID
	return &gen, nil
}

// finishWithArtifact persists the provider's artifact and drives the
// generation to its terminal state. The provider already did billable
// work, but a user is never charged for an artifact they cannot
// retrieve: a storage failure releases the reservation.
func finishWithArtifact(gen *models.Generation, artifactURL string) error {
	outputURL, err := StoreArtifactFromURL(gen, artifactURL)
	if err != nil {
		detail := fmt.Sprintf("artifact storage failed: %v", err)
		if _, relErr := Release(gen.ID, detail); relErr != nil {
			zap.L().Error("release after storage failure failed",
				zap.String("generation_id", gen.ID), zap.Error(relErr))
			return relErr
		}
		return err
	}

	completed, err := completeGeneration(gen.ID, outputURL)
	if err != nil {
		return err
	}
	if !completed {
		zap.L().Info("completion lost terminal race, keeping earlier outcome",
			zap.String("generation_id", gen.ID))
	}
	return nil
}

// completeGeneration flips a non-terminal generation to completed and
// settles the reservation in one database transaction. The conditional
// update makes duplicate completions (webhook replay racing the
// reconciler) harmless: whoever passes the not-yet-terminal check first
// wins, the loser's write affects zero rows.
func completeGeneration(generationID, outputURL string) (bool, error) {
	var completed bool
	err := database.DB.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&models.Generation{}).
			Where("id = ? AND status IN ?", generationID, nonTerminalStatuses).
			Updates(map[string]interface{}{
				"status":       models.GenerationStatusCompleted,
				"output_url":   outputURL,
				"completed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		settled, err := settleTx(tx, generationID)
		if err != nil {
			return err
		}
		if !settled {
			zap.L().Warn("generation completed but was already settled",
				zap.String("generation_id", generationID))
		}
		completed = true
		return nil
	})
	return completed, err
}

// HandleProviderOutcome is the single idempotent entry point for
// webhook deliveries, keyed by the provider task id. Duplicate
// deliveries find the generation already terminal and change nothing.
func HandleProviderOutcome(taskID, status, artifactURL, errorMessage string) (*models.Generation, error) {
	var gen models.Generation
	if err := database.DB.First(&gen, "provider_task_id = ?", taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGenerationNotFound
		}
		return nil, err
	}

	if gen.Status.Terminal() {
		return &gen, nil
	}

	switch status {
	case "success":
		if artifactURL == "" {
			_, err := Release(gen.ID, "provider reported success without an artifact url")
			if err != nil {
				return nil, err
			}
		} else if err := finishWithArtifact(&gen, artifactURL); err != nil {
			return nil, err
		}
	case "failure":
		detail := "provider reported failure"
		if errorMessage != "" {
			detail = fmt.Sprintf("provider reported failure: %s", errorMessage)
		}
		if _, err := Release(gen.ID, detail); err != nil {
			return nil, err
		}
	default:
		// Still in progress; nothing to do.
		return &gen, nil
	}

	if err := database.DB.First(&gen, "id = ?", gen.ID).Error; err != nil {
		return nil, err
	}
	return &gen, nil
}

// CancelGeneration handles a user-initiated cancel. It only succeeds
// while the generation is still non-terminal; the in-flight provider
// call is not signalled, its late result is swallowed by the terminal
// guard.
func CancelGeneration(generationID string, userID uint) (*models.Generation, int, error) {
	var gen models.Generation
	if err := database.DB.First(&gen, "id = ?", generationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrGenerationNotFound
		}
		return nil, 0, err
	}

	if gen.UserID != userID {
		return nil, 0, ErrNotOwner
	}
	if gen.Status.Terminal() {
		return nil, 0, ErrNotCancellable
	}

	released, err := Release(gen.ID, "canceled by user")
	if err != nil {
		return nil, 0, err
	}
	if !released {
		// Lost the race against a webhook or the reconciler.
		return nil, 0, ErrNotCancellable
	}

	if err := database.DB.First(&gen, "id = ?", gen.ID).Error; err != nil {
		return nil, 0, err
	}
	return &gen, gen.TokensUsed, nil
}

// GetGenerationByID retrieves a single generation scoped to its owner.
func GetGenerationByID(generationID string, userID uint) (*models.Generation, error) {
	var gen models.Generation
	if err := database.DB.First(&gen, "id = ?", generationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGenerationNotFound
		}
		return nil, err
	}
	if gen.UserID != userID {
		return nil, ErrNotOwner
	}
	return &gen, nil
}

// FindGenerations retrieves a paginated list for one user.
func FindGenerations(userID uint, status *models.GenerationStatus, page, limit int) ([]models.Generation, int64, error) {
	var gens []models.Generation
	var total int64

	query := database.DB.Model(&models.Generation{}).Where("user_id = ?", userID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&gens).Error; err != nil {
		return nil, 0, err
	}

	return gens, total, nil
}
