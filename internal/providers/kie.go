package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ampersands-ai/mymedia-studio-sub000/config"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/models"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/utils"
)

// KieProvider adapts the kie.ai job API. Dispatch is always asynchronous:
// the API returns a task id and completion arrives via webhook or polling.
type KieProvider struct {
	// BaseURL overrides the configured endpoint (tests).
	BaseURL string
	Client  *http.Client
}

func (p *KieProvider) Name() string { return "kie_ai" }

func (p *KieProvider) baseURL() string {
	if p.BaseURL != "" {
		return p.BaseURL
	}
	cfg, _ := config.LoadConfig()
	return cfg.KieBaseURL
}

func (p *KieProvider) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return utils.NewHTTPClient(30 * time.Second)
}

// apiKey resolves the key for a model. Kie issues separate keys per
// content type, so the env variable name lives on the catalog entry.
func apiKey(model *models.GenerationModel) string {
	if model.APIKeyEnv != "" {
		return os.Getenv(model.APIKeyEnv)
	}
	return os.Getenv("KIE_AI_API_KEY")
}

func (p *KieProvider) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	input := map[string]interface{}{
		"prompt": req.Prompt,
	}
	for k, v := range req.Settings {
		input[k] = v
	}

	payload := map[string]interface{}{
		"model": req.Model.Name,
		"input": input,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL()+"/api/v1/jobs/createTask", bytes.NewBuffer(payloadBytes))
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
		return nil, fmt.Errorf("kie api returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("failed to decode response: %v", err)
	}
	if respData.Code != 200 {
		return nil, fmt.Errorf("kie api rejected task: code=%d msg=%s", respData.Code, respData.Msg)
	}
	if respData.Data.TaskID == "" {
		return nil, errors.New("kie api response missing taskId")
	}

	return &DispatchResult{TaskID: respData.Data.TaskID}, nil
}

func (p *KieProvider) PollStatus(ctx context.Context, model *models.GenerationModel, taskID string) (*PollResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", p.baseURL()+"/api/v1/jobs/recordInfo?taskId="+taskID, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", apiKey(model)))

	resp, err := p.client().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("poll request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("kie api returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData struct {
		Code int `json:"code"`
		Data struct {
			State      string `json:"state"`
			FailMsg    string `json:"failMsg"`
			ResultJSON string `json:"resultJson"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("failed to decode poll response: %v", err)
	}

	switch respData.Data.State {
	case "success":
		// resultJson is a stringified object holding the artifact URLs.
		var result struct {
			ResultUrls []string `json:"resultUrls"`
		}
		if err := json.Unmarshal([]byte(respData.Data.ResultJSON), &result); err != nil {
			return nil, fmt.Errorf("failed to parse resultJson: %v", err)
		}
		if len(result.ResultUrls) == 0 {
			return &PollResult{State: PollStateFailure, Error: "task succeeded but no result urls"}, nil
		}
		return &PollResult{State: PollStateSuccess, ArtifactURL: result.ResultUrls[0]}, nil
	case "fail":
		return &PollResult{State: PollStateFailure, Error: respData.Data.FailMsg}, nil
	default:
		// waiting / queuing / generating
		return &PollResult{State: PollStateInProgress}, nil
	}
}

func init() {
	Register("kie_ai", &KieProvider{})
}
