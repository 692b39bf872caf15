package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elmerpm/elmer/internal/models"
)

// WebhookHandler hands a job to an external agent service over HTTP. The
// service receives the job as JSON and answers with an output object.
type WebhookHandler struct {
	URL    string
	Client *http.Client
}

type webhookRequest struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	ProjectID   string         `json:"project_id"`
	Type        string         `json:"type"`
	Input       map[string]any `json:"input,omitempty"`
	Attempt     int            `json:"attempt"`
}

type webhookResponse struct {
	Output map[string]any `json:"output"`
	Error  string         `json:"error"`
}

// NewWebhookHandler creates a handler posting to url.
func NewWebhookHandler(url string) *WebhookHandler {
	return &WebhookHandler{URL: url, Client: &http.Client{Timeout: 10 * time.Minute}}
}

// Handle posts the job and decodes the service's answer.
func (h *WebhookHandler) Handle(ctx context.Context, j *models.Job, progress ProgressFunc) (map[string]any, error) {
	body, err := json.Marshal(webhookRequest{
		ID:          j.ID,
		WorkspaceID: j.WorkspaceID,
		ProjectID:   j.ProjectID,
		Type:        string(j.Type),
		Input:       j.Input,
		Attempt:     j.Attempts,
	})
	if err != nil {
		return nil, fmt.Errorf("worker: encode job %s: %w", j.ID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("worker: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	progress(0.1)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worker: post job %s: %w", j.ID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("worker: read response for %s: %w", j.ID, err)
	}
	var out webhookResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("worker: decode response for %s: %w", j.ID, err)
		}
	}
	if resp.StatusCode >= 300 {
		if out.Error != "" {
			return nil, fmt.Errorf("worker: job %s: %s: %s", j.ID, resp.Status, out.Error)
		}
		return nil, fmt.Errorf("worker: job %s: %s", j.ID, resp.Status)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("worker: job %s: %s", j.ID, out.Error)
	}
	return out.Output, nil
}
