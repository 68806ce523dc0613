package services

import (
	"testing"

	"github.com/ampersands-ai/mymedia-studio-sub000/internal/breaker"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/database"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/models"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupServiceTest(t *testing.T) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}

	db.Migrator().DropTable(
		&models.User{},
		&models.Generation{},
		&models.GenerationModel{},
		&models.Transaction{},
		&models.BreakerEvent{},
	)
	if err := db.AutoMigrate(
		&models.User{},
		&models.Generation{},
		&models.GenerationModel{},
		&models.Transaction{},
		&models.BreakerEvent{},
	); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	database.DB = db
	database.RedisClient = nil
	breaker.ResetAll()
}

func createTestUser(t *testing.T, remaining, total int) *models.User {
	t.Helper()
	u := models.User{
		Username:        "testuser",
		Password:        "hashed",
		Role:            "user",
		TokensRemaining: remaining,
		TokensTotal:     total,
		Version:         1,
	}
	if err := database.DB.Create(&u).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return &u
}

func reloadUser(t *testing.T, id uint) models.User {
	t.Helper()
	var u models.User
	if err := database.DB.First(&u, id).Error; err != nil {
		t.Fatalf("failed to reload user: %v", err)
	}
	return u
}

func countTransactions(txType models.TransactionType) int64 {
	var n int64
	database.DB.Model(&models.Transaction{}).Where("type = ?", txType).Count(&n)
	return n
}

func TestReserveDecrementsBalance(t *testing.T) {
	setupServiceTest(t)
	u := createTestUser(t, 1000, 1000)

	err := Reserve(u.ID, 250, "gen1", "image generation")
	assert.NoError(t, err)

	updated := reloadUser(t, u.ID)
	assert.Equal(t, 750, updated.TokensRemaining)
	assert.Equal(t, 2, updated.Version)

	var txn models.Transaction
	assert.NoError(t, database.DB.Last(&txn).Error)
	assert.Equal(t, -250, txn.Amount)
	assert.Equal(t, 1000, txn.BalanceBefore)
	assert.Equal(t, 750, txn.BalanceAfter)
	assert.Equal(t, "gen1", txn.GenerationID)
	assert.Equal(t, models.TransactionTypeTokenReserve, txn.Type)
	assert.NotEmpty(t, txn.Hash)
}

func TestReserveInsufficientBalance(t *testing.T) {
	setupServiceTest(t)
	u := createTestUser(t, 100, 1000)

	err := Reserve(u.ID, 250, "gen1", "image generation")
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	updated := reloadUser(t, u.ID)
	assert.Equal(t, 100, updated.TokensRemaining)
	assert.Equal(t, int64(0), countTransactions(models.TransactionTypeTokenReserve))
}

func TestReserveExactBalanceThenNothingLeft(t *testing.T) {
	setupServiceTest(t)
	u := createTestUser(t, 250, 250)

	assert.NoError(t, Reserve(u.ID, 250, "gen1", "image generation"))
	assert.Equal(t, 0, reloadUser(t, u.ID).TokensRemaining)

	err := Reserve(u.ID, 1, "gen2", "image generation")
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Equal(t, 0, reloadUser(t, u.ID).TokensRemaining)
}

func TestReserveRejectsNonPositiveAmount(t *testing.T) {
	setupServiceTest(t)
	u := createTestUser(t, 1000, 1000)

	assert.Error(t, Reserve(u.ID, 0, "gen1", "zero"))
	assert.Error(t, Reserve(u.ID, -10, "gen1", "negative"))
	assert.Equal(t, 1000, reloadUser(t, u.ID).TokensRemaining)
}

func TestReserveUnknownUser(t *testing.T) {
	setupServiceTest(t)

	err := Reserve(9999, 250, "gen1", "image generation")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSettleIsIdempotent(t *testing.T) {
	setupServiceTest(t)
	u := createTestUser(t, 750, 1000)

	gen := models.Generation{
		ID:         "gen1",
		UserID:     u.ID,
		Provider:   "kie_ai",
		Status:     models.GenerationStatusProcessing,
		TokensUsed: 250,
	}
	assert.NoError(t, database.DB.Create(&gen).Error)

	settled, err := Settle("gen1")
	assert.NoError(t, err)
	assert.True(t, settled)

	var reloaded models.Generation
	database.DB.First(&reloaded, "id = ?", "gen1")
	assert.Equal(t, 250, reloaded.TokensCharged)

	// Replay: reports already-settled without changing anything.
	settled, err = Settle("gen1")
	assert.NoError(t, err)
	assert.False(t, settled)

	database.DB.First(&reloaded, "id = ?", "gen1")
	assert.Equal(t, 250, reloaded.TokensCharged)

	// Settlement never touches the balance.
	assert.Equal(t, 750, reloadUser(t, u.ID).TokensRemaining)
}

func TestSettleUnknownGeneration(t *testing.T) {
	setupServiceTest(t)

	_, err := Settle("missing")
	assert.ErrorIs(t, err, ErrGenerationNotFound)
}

func TestReleaseRefundsExactlyOnce(t *testing.T) {
	setupServiceTest(t)
	u := createTestUser(t, 750, 1000)

	gen := models.Generation{
		ID:         "gen1",
		UserID:     u.ID,
		Provider:   "kie_ai",
		Status:     models.GenerationStatusProcessing,
		TokensUsed: 250,
	}
	assert.NoError(t, database.DB.Create(&gen).Error)

	released, err := Release("gen1", "provider reported failure")
	assert.NoError(t, err)
	assert.True(t, released)

	var reloaded models.Generation
	database.DB.First(&reloaded, "id = ?", "gen1")
	assert.Equal(t, models.GenerationStatusFailed, reloaded.Status)
	assert.Equal(t, "provider reported failure", reloaded.ErrorDetail)
	assert.Equal(t, 0, reloaded.TokensCharged)
	assert.NotNil(t, reloaded.CompletedAt)

	assert.Equal(t, 1000, reloadUser(t, u.ID).TokensRemaining)

	// The losing side of a release race must not double-refund.
	released, err = Release("gen1", "duplicate release")
	assert.NoError(t, err)
	assert.False(t, released)
	assert.Equal(t, 1000, reloadUser(t, u.ID).TokensRemaining)
	assert.Equal(t, int64(1), countTransactions(models.TransactionTypeTokenRelease))
}

func TestReleaseAfterCompletionIsNoOp(t *testing.T) {
	setupServiceTest(t)
	u := createTestUser(t, 750, 1000)

	gen := models.Generation{
		ID:            "gen1",
		UserID:        u.ID,
		Provider:      "kie_ai",
		Status:        models.GenerationStatusCompleted,
		TokensUsed:    250,
		TokensCharged: 250,
	}
	assert.NoError(t, database.DB.Create(&gen).Error)

	released, err := Release("gen1", "late timeout")
	assert.NoError(t, err)
	assert.False(t, released)

	var reloaded models.Generation
	database.DB.First(&reloaded, "id = ?", "gen1")
	assert.Equal(t, models.GenerationStatusCompleted, reloaded.Status)
	assert.Equal(t, 250, reloaded.TokensCharged)
	assert.Equal(t, 750, reloadUser(t, u.ID).TokensRemaining)
}

func TestReleaseUnknownGeneration(t *testing.T) {
	setupServiceTest(t)

	_, err := Release("missing", "whatever")
	assert.ErrorIs(t, err, ErrGenerationNotFound)
}

func TestAdjustBalanceTopUpRaisesTotal(t *testing.T) {
	setupServiceTest(t)
	u := createTestUser(t, 100, 500)

	updated, err := AdjustBalance(u.ID, 400, "monthly grant", "admin", 1)
	assert.NoError(t, err)
	assert.Equal(t, 500, updated.TokensRemaining)
	assert.Equal(t, 900, updated.TokensTotal)
	assert.Equal(t, int64(1), countTransactions(models.TransactionTypeSystemAdmin))
}

func TestAdjustBalanceDeductionFloorsAtZero(t *testing.T) {
	setupServiceTest(t)
	u := createTestUser(t, 100, 500)

	updated, err := AdjustBalance(u.ID, -300, "clawback", "admin", 1)
	assert.NoError(t, err)
	assert.Equal(t, 0, updated.TokensRemaining)
	assert.Equal(t, 500, updated.TokensTotal)

	var txn models.Transaction
	database.DB.Last(&txn)
	assert.Equal(t, -100, txn.Amount)
}

// bumpVersionOnUserReads registers a query hook that increments the user's
// version column right after every read of the users table, so a guarded
// write that follows the read always sees a stale version.
func bumpVersionOnUserReads(t *testing.T, userID uint, times int) {
	t.Helper()
	remaining := times
	err := database.DB.Callback().Query().After("gorm:query").
		Register("ledger_test_bump_user_version", func(tx *gorm.DB) {
			if tx.Statement.Table != "users" || remaining == 0 {
				return
			}
			remaining--
			tx.Session(&gorm.Session{NewDB: true}).
				Exec("UPDATE users SET version = version + 1 WHERE id = ?", userID)
		})
	if err != nil {
		t.Fatalf("failed to register query callback: %v", err)
	}
}

func TestReserveContentionExhaustsRetries(t *testing.T) {
	setupServiceTest(t)
	u := createTestUser(t, 1000, 1000)

	// Every attempt loses the version race.
	bumpVersionOnUserReads(t, u.ID, reserveMaxAttempts)

	err := Reserve(u.ID, 250, "gen1", "image generation")
	assert.ErrorIs(t, err, ErrConcurrencyExhausted)

	assert.Equal(t, 1000, reloadUser(t, u.ID).TokensRemaining)
	assert.Equal(t, int64(0), countTransactions(models.TransactionTypeTokenReserve))
}

func TestReserveRetriesPastTransientConflict(t *testing.T) {
	setupServiceTest(t)
	u := createTestUser(t, 1000, 1000)

	// The first two attempts lose the version race, the third wins.
	bumpVersionOnUserReads(t, u.ID, 2)

	assert.NoError(t, Reserve(u.ID, 250, "gen1", "image generation"))

	after := reloadUser(t, u.ID)
	assert.Equal(t, 750, after.TokensRemaining)
	assert.Equal(t, int64(1), countTransactions(models.TransactionTypeTokenReserve))
}

func TestTransactionHashUsesConfiguredSecret(t *testing.T) {
	setupServiceTest(t)
	u := createTestUser(t, 1000, 1000)

	assert.NoError(t, Reserve(u.ID, 100, "gen1", "image generation"))

	var txn models.Transaction
	assert.NoError(t, database.DB.
		Where("type = ?", models.TransactionTypeTokenReserve).
		First(&txn).Error)
	assert.NotEmpty(t, txn.Hash)
	assert.Equal(t, txn.GenerateHash(ledgerHashSecret()), txn.Hash)
}
