package services

import (
	"context"
	"fmt"
	"time"

	"github.com/ampersands-ai/mymedia-studio-sub000/config"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/breaker"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/database"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/models"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/providers"
	"go.uber.org/zap"
)

// Reconciler drives generations whose completion signal never arrived to
// a terminal state. Candidates are non-terminal generations older than
// the grace window; entries older than AbandonAfter are left alone
// (presumed handled out of band). Between Ceiling and AbandonAfter a
// still-unresolved generation is force-failed and refunded.
type Reconciler struct {
	Interval     time.Duration
	Grace        time.Duration
	Ceiling      time.Duration
	AbandonAfter time.Duration
	BatchSize    int

	stopChan chan struct{}
}

// ReconcileSummary reports what one sweep did.
type ReconcileSummary struct {
	Examined  int `json:"examined"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

func NewReconciler(cfg *config.Config) *Reconciler {
	return &Reconciler{
		Interval:     cfg.ReconcileInterval,
		Grace:        cfg.GraceWindow,
		Ceiling:      cfg.AgeCeiling,
		AbandonAfter: cfg.AbandonAfter,
		BatchSize:    cfg.ReconcileBatch,
		stopChan:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called.
func (r *Reconciler) Start() {
	zap.L().Info("reconciler started",
		zap.Duration("interval", r.Interval),
		zap.Duration("grace", r.Grace),
		zap.Duration("ceiling", r.Ceiling),
		zap.Int("batch", r.BatchSize),
	)

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			summary := r.RunOnce()
			if summary.Examined > 0 {
				zap.L().Info("reconcile sweep",
					zap.Int("examined", summary.Examined),
					zap.Int("completed", summary.Completed),
					zap.Int("failed", summary.Failed),
					zap.Int("skipped", summary.Skipped),
					zap.Int("errors", summary.Errors),
				)
			}
		case <-r.stopChan:
			return
		}
	}
}

func (r *Reconciler) Stop() {
	close(r.stopChan)
}

// RunOnce performs a single bounded sweep. Items are processed
// sequentially to bound load on the provider; a failure on one item is
// recorded and never aborts the batch.
func (r *Reconciler) RunOnce() ReconcileSummary {
	now := time.Now()
	var summary ReconcileSummary

	var candidates []models.Generation
	err := database.DB.
		Where("status IN ?", nonTerminalStatuses).
		Where("created_at < ?", now.Add(-r.Grace)).
		Where("created_at > ?", now.Add(-r.AbandonAfter)).
		Order("created_at asc").
		Limit(r.BatchSize).
		Find(&candidates).Error
	if err != nil {
		zap.L().Error("reconciler candidate query failed", zap.Error(err))
		summary.Errors++
		return summary
	}

	for i := range candidates {
		gen := &candidates[i]
		summary.Examined++

		outcome, err := r.reconcileOne(gen, now)
		if err != nil {
			summary.Errors++
			zap.L().Error("reconcile item failed",
				zap.String("generation_id", gen.ID),
				zap.Error(err),
			)
			continue
		}
		switch outcome {
		case reconcileCompleted:
			summary.Completed++
		case reconcileFailed:
			summary.Failed++
		default:
			summary.Skipped++
		}
	}

	return summary
}

type reconcileOutcome int

const (
	reconcileSkipped reconcileOutcome = iota
	reconcileCompleted
	reconcileFailed
)

func (r *Reconciler) reconcileOne(gen *models.Generation, now time.Time) (reconcileOutcome, error) {
	age := now.Sub(gen.CreatedAt)

	// Dispatch never completed: there is nothing to poll.
	if gen.ProviderTaskID == "" {
		released, err := Release(gen.ID, "dispatch never completed; timed out")
		if err != nil {
			return reconcileSkipped, err
		}
		if !released {
			return reconcileSkipped, nil
		}
		return reconcileFailed, nil
	}

	result, pollErr := r.poll(gen)
	if pollErr != nil {
		// A single poll failure (network blip, provider outage, circuit
		// open) never force-fails a generation on its own; only the age
		// ceiling does.
		if age >= r.Ceiling {
			return r.forceTimeout(gen)
		}
		zap.L().Warn("reconciler poll failed, will retry next run",
			zap.String("generation_id", gen.ID),
			zap.Error(pollErr),
		)
		return reconcileSkipped, nil
	}

	switch result.State {
	case providers.PollStateSuccess:
		if err := finishWithArtifact(gen, result.ArtifactURL); err != nil {
			return reconcileSkipped, err
		}
		return reconcileCompleted, nil
	case providers.PollStateFailure:
		detail := "provider reported failure"
		if result.Error != "" {
			detail = fmt.Sprintf("provider reported failure: %s", result.Error)
		}
		released, err := Release(gen.ID, detail)
		if err != nil {
			return reconcileSkipped, err
		}
		if !released {
			return reconcileSkipped, nil
		}
		return reconcileFailed, nil
	default:
		// Still in progress upstream.
		if age >= r.Ceiling {
			return r.forceTimeout(gen)
		}
		return reconcileSkipped, nil
	}
}

func (r *Reconciler) forceTimeout(gen *models.Generation) (reconcileOutcome, error) {
	released, err := Release(gen.ID, fmt.Sprintf("timed out: no terminal provider response within %s", r.Ceiling))
	if err != nil {
		return reconcileSkipped, err
	}
	if !released {
		return reconcileSkipped, nil
	}
	return reconcileFailed, nil
}

func (r *Reconciler) poll(gen *models.Generation) (*providers.PollResult, error) {
	provider := providers.Get(gen.Provider)
	if provider == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, gen.Provider)
	}

	var model models.GenerationModel
	if err := database.DB.First(&model, gen.ModelID).Error; err != nil {
		return nil, err
	}

	var result *providers.PollResult
	err := breaker.Execute("provider:"+gen.Provider, breaker.ClassAIProvider, func() error {
		var pollErr error
		result, pollErr = provider.PollStatus(context.Background(), &model, gen.ProviderTaskID)
		return pollErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
