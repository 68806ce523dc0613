package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ampersands-ai/mymedia-studio-sub000/config"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/database"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrConcurrencyExhausted = errors.New("balance update conflicted with concurrent requests, please retry")
	ErrGenerationNotFound   = errors.New("generation not found")
)

// reserveMaxAttempts bounds the optimistic-lock retry loop in Reserve.
const reserveMaxAttempts = 5

var (
	hashSecretOnce sync.Once
	hashSecret     string
)

// ledgerHashSecret resolves the transaction hash secret once per process.
func ledgerHashSecret() string {
	hashSecretOnce.Do(func() {
		cfg, err := config.LoadConfig()
		if err != nil {
			zap.L().Error("loading config for ledger hashing failed", zap.Error(err))
			return
		}
		hashSecret = cfg.LedgerHashSecret
	})
	return hashSecret
}

var nonTerminalStatuses = []models.GenerationStatus{
	models.GenerationStatusPending,
	models.GenerationStatusProcessing,
}

// Reserve atomically decrements a user's token balance by amount before a
// paid provider call is made. Two concurrent requests from the same user
// must not both succeed against a stale read, so the write is guarded by
// the user's version column and retried a bounded number of times.
func Reserve(userID uint, amount int, generationID, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("reserve amount must be positive, got %d", amount)
	}

	for attempt := 0; attempt < reserveMaxAttempts; attempt++ {
		var user models.User
		if err := database.DB.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		if user.TokensRemaining < amount {
			return ErrInsufficientCredits
		}

		res := database.DB.Model(&models.User{}).
			Where("id = ? AND version = ?", user.ID, user.Version).
			Updates(map[string]interface{}{
				"tokens_remaining": user.TokensRemaining - amount,
				"version":          user.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Balance changed under us, re-read and try again.
			continue
		}

		recordTransaction(models.Transaction{
			UserID:        user.ID,
			GenerationID:  generationID,
			Amount:        -amount,
			BalanceBefore: user.TokensRemaining,
			BalanceAfter:  user.TokensRemaining - amount,
			Reason:        reason,
			Operator:      "system",
			Type:          models.TransactionTypeTokenReserve,
		})
		invalidateUserCache(user.ID)
		return nil
	}

	return ErrConcurrencyExhausted
}

// Settle marks a reservation as finalized after successful completion.
// It never touches the balance (already decremented at reservation time)
// and is idempotent: a second call reports already-settled and changes
// nothing.
func Settle(generationID string) (bool, error) {
	var gen models.Generation
	if err := database.DB.First(&gen, "id = ?", generationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrGenerationNotFound
		}
		return false, err
	}
	if gen.TokensCharged != 0 {
		return false, nil // already settled
	}
	return settleTx(database.DB, generationID)
}

// settleTx applies the settlement write guarded on tokens_charged still
// being zero, so duplicate invocations (webhook replays) are no-ops.
func settleTx(tx *gorm.DB, generationID string) (bool, error) {
	res := tx.Model(&models.Generation{}).
		Where("id = ? AND tokens_charged = 0", generationID).
		Update("tokens_charged", gorm.Expr("tokens_used"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Release refunds a reservation on failure, cancellation or timeout. The
// refund is tied to the terminal status transition: the generation is
// flipped processing->failed with a conditional update, and the balance
// is credited only when this call won that transition. A release racing a
// webhook completion or a second release is therefore a no-op.
func Release(generationID, errorDetail string) (bool, error) {
	var released bool
	var refundedUser uint

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		var gen models.Generation
		if err := tx.First(&gen, "id = ?", generationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrGenerationNotFound
			}
			return err
		}

		now := time.Now()
		res := tx.Model(&models.Generation{}).
			Where("id = ? AND status IN ?", gen.ID, nonTerminalStatuses).
			Updates(map[string]interface{}{
				"status":         models.GenerationStatusFailed,
				"error_detail":   errorDetail,
				"tokens_charged": 0,
				"completed_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Already terminal: the other side of the race settled or
			// released first.
			return nil
		}

		if err := refundUserTx(tx, gen.UserID, gen.TokensUsed, gen.ID, errorDetail); err != nil {
			return err
		}
		released = true
		refundedUser = gen.UserID
		return nil
	})
	if err != nil {
		return false, err
	}

	if released {
		invalidateUserCache(refundedUser)
	}
	return released, nil
}

// refundUserTx credits tokens back with an atomic in-database increment;
// a read-modify-write here would be vulnerable to lost updates against
// concurrent reservations.
func refundUserTx(tx *gorm.DB, userID uint, amount int, generationID, reason string) error {
	var user models.User
	if err := tx.First(&user, userID).Error; err != nil {
		return err
	}

	res := tx.Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"tokens_remaining": gorm.Expr("tokens_remaining + ?", amount),
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}

	txn := models.Transaction{
		UserID:        userID,
		GenerationID:  generationID,
		Amount:        amount,
		BalanceBefore: user.TokensRemaining,
		BalanceAfter:  user.TokensRemaining + amount,
		Reason:        reason,
		Operator:      "system",
		Type:          models.TransactionTypeTokenRelease,
	}
	txn.CreatedAt = time.Now()
	txn.Hash = txn.GenerateHash(ledgerHashSecret())
	return tx.Create(&txn).Error
}

// AdjustBalance applies an admin balance change (top-up or deduction).
// Deductions floor at zero; they never push the balance negative.
func AdjustBalance(userID uint, delta int, reason, operator string, operatorID uint) (*models.User, error) {
	if delta == 0 {
		return nil, errors.New("adjustment amount must be non-zero")
	}

	for attempt := 0; attempt < reserveMaxAttempts; attempt++ {
		var user models.User
		if err := database.DB.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, err
		}

		newRemaining := user.TokensRemaining + delta
		if newRemaining < 0 {
			newRemaining = 0
		}
		newTotal := user.TokensTotal
		if delta > 0 {
			newTotal += delta
		}

		res := database.DB.Model(&models.User{}).
			Where("id = ? AND version = ?", user.ID, user.Version).
			Updates(map[string]interface{}{
				"tokens_remaining": newRemaining,
				"tokens_total":     newTotal,
				"version":          user.Version + 1,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}

		recordTransaction(models.Transaction{
			UserID:        user.ID,
			Amount:        newRemaining - user.TokensRemaining,
			BalanceBefore: user.TokensRemaining,
			BalanceAfter:  newRemaining,
			Reason:        reason,
			Operator:      operator,
			OperatorID:    operatorID,
			Type:          models.TransactionTypeSystemAdmin,
		})
		invalidateUserCache(user.ID)

		user.TokensRemaining = newRemaining
		user.TokensTotal = newTotal
		user.Version++
		return &user, nil
	}

	return nil, ErrConcurrencyExhausted
}

// recordTransaction writes the audit row for a balance mutation. An audit
// write failure must not undo the balance change, but it breaks the
// ledger trail, so it is logged at error level for operational alerting.
func recordTransaction(txn models.Transaction) {
	txn.CreatedAt = time.Now()
	txn.Hash = txn.GenerateHash(ledgerHashSecret())

	if err := database.DB.Create(&txn).Error; err != nil {
		zap.L().Error("transaction audit write failed",
			zap.Uint("user_id", txn.UserID),
			zap.String("generation_id", txn.GenerationID),
			zap.Int("amount", txn.Amount),
			zap.Error(err),
		)
	}
}

func invalidateUserCache(userID uint) {
	if database.RedisClient != nil {
		cacheKey := fmt.Sprintf("user:%d", userID)
		database.RedisClient.Del(database.Ctx, cacheKey)
	}
}
