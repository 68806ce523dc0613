package services

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ampersands-ai/mymedia-studio-sub000/internal/database"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/models"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/providers"

	"github.com/stretchr/testify/assert"
)

func testReconciler() *Reconciler {
	return &Reconciler{
		Interval:     time.Minute,
		Grace:        time.Minute,
		Ceiling:      30 * time.Minute,
		AbandonAfter: 24 * time.Hour,
		BatchSize:    10,
	}
}

func createStuckGeneration(t *testing.T, id string, userID uint, modelID uint, provider, taskID string, age time.Duration) {
	t.Helper()
	gen := models.Generation{
		ID:             id,
		CreatedAt:      time.Now().Add(-age),
		UserID:         userID,
		ModelID:        modelID,
		Provider:       provider,
		Status:         models.GenerationStatusProcessing,
		ProviderTaskID: taskID,
		TokensUsed:     250,
	}
	if err := database.DB.Create(&gen).Error; err != nil {
		t.Fatalf("failed to create generation: %v", err)
	}
}

func TestReconcilerForceFailsMissingTaskID(t *testing.T) {
	setupServiceTest(t)
	u := createTestUser(t, 750, 1000)

	createStuckGeneration(t, "gen1", u.ID, 1, "fake_rec1", "", 5*time.Minute)

	summary := testReconciler().RunOnce()
	assert.Equal(t, 1, summary.Examined)
	assert.Equal(t, 1, summary.Failed)

	var gen models.Generation
	database.DB.First(&gen, "id = ?", "gen1")
	assert.Equal(t, models.GenerationStatusFailed, gen.Status)
	assert.Contains(t, gen.ErrorDetail, "dispatch never completed")
	assert.Equal(t, 1000, reloadUser(t, u.ID).TokensRemaining)
}

func TestReconcilerSkipsFreshGenerations(t *testing.T) {
	setupServiceTest(t)
	u := createTestUser(t, 750, 1000)

	createStuckGeneration(t, "gen1", u.ID, 1, "fake_rec2", "task-1", 10*time.Second)

	summary := testReconciler().RunOnce()
	assert.Equal(t, 0, summary.Examined)

	var gen models.Generation
	database.DB.First(&gen, "id = ?", "gen1")
	assert.Equal(t, models.GenerationStatusProcessing, gen.Status)
}

func TestReconcilerIgnoresAbandonedGenerations(t *testing.T) {
	setupServiceTest(t)
	u := createTestUser(t, 750, 1000)

	createStuckGeneration(t, "gen1", u.ID, 1, "fake_rec3", "task-1", 48*time.Hour)

	summary := testReconciler().RunOnce()
	assert.Equal(t, 0, summary.Examined)

	var gen models.Generation
	database.DB.First(&gen, "id = ?", "gen1")
	assert.Equal(t, models.GenerationStatusProcessing, gen.Status)
}

func TestReconcilerCompletesFinishedTask(t *testing.T) {
	setupServiceTest(t)
	u := createTestUser(t, 750, 1000)
	model := createTestModel(t, "fake_rec4", 250, models.GenerationModelStatusOpen)

	providers.Register("fake_rec4", &fakeProvider{
		name: "fake_rec4",
		pollResult: &providers.PollResult{
			State:       providers.PollStateSuccess,
			ArtifactURL: "https://provider.example.com/img.png",
		},
	})
	useFakeArtifacts(t, &fakeStore{})

	createStuckGeneration(t, "gen1", u.ID, model.ID, "fake_rec4", "task-1", 5*time.Minute)

	summary := testReconciler().RunOnce()
	assert.Equal(t, 1, summary.Examined)
	assert.Equal(t, 1, summary.Completed)

	var gen models.Generation
	database.DB.First(&gen, "id = ?", "gen1")
	assert.Equal(t, models.GenerationStatusCompleted, gen.Status)
	assert.Equal(t, 250, gen.TokensCharged)
	assert.Contains(t, gen.OutputURL, "https://bucket.example.com/")
	assert.Equal(t, 750, reloadUser(t, u.ID).TokensRemaining)
}

func TestReconcilerRefundsFailedTask(t *testing.T) {
	setupServiceTest(t)
	u := createTestUser(t, 750, 1000)
	model := createTestModel(t, "fake_rec5", 250, models.GenerationModelStatusOpen)

	providers.Register("fake_rec5", &fakeProvider{
		name: "fake_rec5",
		pollResult: &providers.PollResult{
			State: providers.PollStateFailure,
			Error: "generation rejected",
		},
	})

	createStuckGeneration(t, "gen1", u.ID, model.ID, "fake_rec5", "task-1", 5*time.Minute)

	summary := testReconciler().RunOnce()
	assert.Equal(t, 1, summary.Failed)

	var gen models.Generation
	database.DB.First(&gen, "id = ?", "gen1")
	assert.Equal(t, models.GenerationStatusFailed, gen.Status)
	assert.Contains(t, gen.ErrorDetail, "generation rejected")
	assert.Equal(t, 1000, reloadUser(t, u.ID).TokensRemaining)
}

func TestReconcilerPollErrorLeavesGenerationAlone(t *testing.T) {
	setupServiceTest(t)
	u := createTestUser(t, 750, 1000)
	model := createTestModel(t, "fake_rec6", 250, models.GenerationModelStatusOpen)

	providers.Register("fake_rec6", &fakeProvider{
		name:    "fake_rec6",
		pollErr: errors.New("provider timeout"),
	})

	createStuckGeneration(t, "gen1", u.ID, model.ID, "fake_rec6", "task-1", 5*time.Minute)

	summary := testReconciler().RunOnce()
	assert.Equal(t, 1, summary.Examined)
	assert.Equal(t, 1, summary.Skipped)

	// A transient poll failure must not burn the user's reservation.
	var gen models.Generation
	database.DB.First(&gen, "id = ?", "gen1")
	assert.Equal(t, models.GenerationStatusProcessing, gen.Status)
	assert.Equal(t, 750, reloadUser(t, u.ID).TokensRemaining)
}

func TestReconcilerCeilingForcesTimeout(t *testing.T) {
	setupServiceTest(t)
	u := createTestUser(t, 750, 1000)
	model := createTestModel(t, "fake_rec7", 250, models.GenerationModelStatusOpen)

	providers.Register("fake_rec7", &fakeProvider{
		name:       "fake_rec7",
		pollResult: &providers.PollResult{State: providers.PollStateInProgress},
	})

	createStuckGeneration(t, "gen1", u.ID, model.ID, "fake_rec7", "task-1", 2*time.Hour)

	summary := testReconciler().RunOnce()
	assert.Equal(t, 1, summary.Failed)

	var gen models.Generation
	database.DB.First(&gen, "id = ?", "gen1")
	assert.Equal(t, models.GenerationStatusFailed, gen.Status)
	assert.Contains(t, gen.ErrorDetail, "timed out")
	assert.Equal(t, 1000, reloadUser(t, u.ID).TokensRemaining)
}

func TestReconcilerBatchIsBounded(t *testing.T) {
	setupServiceTest(t)
	u := createTestUser(t, 1000, 1000)

	for i := 0; i < 5; i++ {
		createStuckGeneration(t, fmt.Sprintf("gen%d", i), u.ID, 1, "fake_rec8", "", 5*time.Minute)
	}

	r := testReconciler()
	r.BatchSize = 2

	summary := r.RunOnce()
	assert.Equal(t, 2, summary.Examined)

	var remaining int64
	database.DB.Model(&models.Generation{}).
		Where("status = ?", models.GenerationStatusProcessing).
		Count(&remaining)
	assert.Equal(t, int64(3), remaining)
}

func TestReconcilerSkipsTerminalGenerations(t *testing.T) {
	setupServiceTest(t)
	u := createTestUser(t, 750, 1000)

	gen := models.Generation{
		ID:            "gen1",
		CreatedAt:     time.Now().Add(-5 * time.Minute),
		UserID:        u.ID,
		Provider:      "fake_rec9",
		Status:        models.GenerationStatusCompleted,
		TokensUsed:    250,
		TokensCharged: 250,
	}
	assert.NoError(t, database.DB.Create(&gen).Error)

	summary := testReconciler().RunOnce()
	assert.Equal(t, 0, summary.Examined)
	assert.Equal(t, 750, reloadUser(t, u.ID).TokensRemaining)
}
