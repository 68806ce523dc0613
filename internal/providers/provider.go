package providers

import (
	"context"

	"github.com/ampersands-ai/mymedia-studio-sub000/internal/models"
)

// PollState is the normalized status of an asynchronous provider task.
type PollState string

const (
	PollStateSuccess    PollState = "success"
	PollStateFailure    PollState = "failure"
	PollStateInProgress PollState = "in_progress"
)

// DispatchRequest carries the provider-independent shape of a generation
// request. Vendor payload shaping happens inside each adapter.
type DispatchRequest struct {
	Model    *models.GenerationModel
	Prompt   string
	Settings map[string]interface{}
}

// DispatchResult is what a provider returns from a dispatch call. Exactly
// one of TaskID (async path) or ArtifactURL (synchronous result) is set.
type DispatchResult struct {
	TaskID      string
	ArtifactURL string
	ContentType string
}

// PollResult is the normalized answer from a provider status endpoint.
type PollResult struct {
	State       PollState
	ArtifactURL string
	Error       string
}

// Provider adapts one external generation vendor to a uniform
// dispatch/poll contract.
type Provider interface {
	Name() string
	Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error)
	PollStatus(ctx context.Context, model *models.GenerationModel, taskID string) (*PollResult, error)
}
