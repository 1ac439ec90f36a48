// Package executor bridges admitted tasks to the external execution
// engine over HTTP. The engine runs the model loop and reports one
// Result per task; queueing and retries stay on this side.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hcengineering/huly-ai-agent/internal/errs"
	"github.com/hcengineering/huly-ai-agent/internal/logging"
	"github.com/hcengineering/huly-ai-agent/internal/task"
)

// Config holds the execution engine endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client implements scheduler.Executor against the engine's HTTP API.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     logging.Logger
}

// New creates an executor client.
func New(cfg Config, logger logging.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errs.NewValidation("executor.base_url", "must not be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logging.OrNop(logger),
	}, nil
}

type executeRequest struct {
	TaskID    int64  `json:"task_id"`
	Type      string `json:"type"`
	CardID    string `json:"card_id,omitempty"`
	CardTitle string `json:"card_title,omitempty"`
	Payload   string `json:"payload"`
}

type executeResponse struct {
	Output     string `json:"output"`
	Complexity *int   `json:"complexity,omitempty"`
	Message    string `json:"message,omitempty"`
	FollowUps  []struct {
		Type      string `json:"type"`
		CardID    string `json:"card_id,omitempty"`
		CardTitle string `json:"card_title,omitempty"`
		Payload   string `json:"payload"`
	} `json:"follow_ups,omitempty"`
}

// Execute runs one task on the engine.
func (c *Client) Execute(ctx context.Context, t task.Task) (task.Result, error) {
	body, err := json.Marshal(executeRequest{
		TaskID:    t.ID,
		Type:      string(t.Type),
		CardID:    t.CardID,
		CardTitle: t.CardTitle,
		Payload:   t.Payload,
	})
	if err != nil {
		return task.Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.config.BaseURL+"/v1/execute", bytes.NewReader(body))
	if err != nil {
		return task.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return task.Result{}, errs.Transientf("execute request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			return task.Result{}, errs.Transientf("engine error %d: %s", resp.StatusCode, detail)
		}
		return task.Result{}, fmt.Errorf("engine error %d: %s", resp.StatusCode, detail)
	}

	var er executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return task.Result{}, fmt.Errorf("decode response: %w", err)
	}

	res := task.Result{
		Output:     er.Output,
		Complexity: task.UnknownComplexity,
		Message:    er.Message,
	}
	if er.Complexity != nil {
		res.Complexity = *er.Complexity
	}
	for _, f := range er.FollowUps {
		res.FollowUps = append(res.FollowUps, task.Draft{
			Type:       task.Type(f.Type),
			CardID:     f.CardID,
			CardTitle:  f.CardTitle,
			Payload:    f.Payload,
			Complexity: task.UnknownComplexity,
		})
	}
	return res, nil
}
