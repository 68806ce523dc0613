package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ampersands-ai/mymedia-studio-sub000/config"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/models"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/utils"
	"github.com/google/uuid"
)

// ErrPollNotSupported is returned by providers that only ever answer
// synchronously; there is no remote task to reconcile.
var ErrPollNotSupported = errors.New("provider does not support status polling")

// RunwareProvider adapts the Runware inference API. Runware answers
// synchronously: the artifact URL comes back on the dispatch call itself.
type RunwareProvider struct {
	BaseURL string
	Client  *http.Client
}

func (p *RunwareProvider) Name() string { return "runware" }

func (p *RunwareProvider) baseURL() string {
	if p.BaseURL != "" {
		return p.BaseURL
	}
	cfg, _ := config.LoadConfig()
	return cfg.RunwareBaseURL
}

func (p *RunwareProvider) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	// Synchronous generation can take a while.
	return utils.NewHTTPClient(120 * time.Second)
}

func (p *RunwareProvider) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	task := map[string]interface{}{
		"taskType":       taskTypeFor(req.Model.ContentType),
		"taskUUID":       uuid.New().String(),
		"model":          req.Model.Name,
		"positivePrompt": req.Prompt,
	}
	for k, v := range req.Settings {
		task[k] = v
	}

	payloadBytes, err := json.Marshal([]interface{}{task})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL()+"/v1", bytes.NewBuffer(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", apiKey(req.Model)))

	resp, err := p.client().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("runware api returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData struct {
		Data []struct {
			ImageURL string `json:"imageURL"`
			VideoURL string `json:"videoURL"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("failed to decode response: %v", err)
	}
	if len(respData.Errors) > 0 {
		return nil, fmt.Errorf("runware task failed: %s", respData.Errors[0].Message)
	}
	if len(respData.Data) == 0 {
		return nil, errors.New("runware response contained no results")
	}

	artifactURL := respData.Data[0].ImageURL
	if artifactURL == "" {
		artifactURL = respData.Data[0].VideoURL
	}
	if artifactURL == "" {
		return nil, errors.New("runware result missing artifact url")
	}

	return &DispatchResult{ArtifactURL: artifactURL}, nil
}

func (p *RunwareProvider) PollStatus(ctx context.Context, model *models.GenerationModel, taskID string) (*PollResult, error) {
	return nil, ErrPollNotSupported
}

func taskTypeFor(contentType string) string {
	switch contentType {
	case models.ContentTypeImageToVideo, models.ContentTypePromptToVideo:
		return "videoInference"
	case models.ContentTypeImageEditing:
		return "imageInference"
	default:
		return "imageInference"
	}
}

func init() {
	Register("runware", &RunwareProvider{})
}
