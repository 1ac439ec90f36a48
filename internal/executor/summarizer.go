package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hcengineering/huly-ai-agent/internal/errs"
	"github.com/hcengineering/huly-ai-agent/internal/memory"
)

// Summarizer asks the execution engine to synthesize semantic
// observations during memory consolidation.
type Summarizer struct {
	client *Client
}

// NewSummarizer wraps an executor client as a memory.Summarizer.
func NewSummarizer(client *Client) *Summarizer {
	return &Summarizer{client: client}
}

type summarizeRequest struct {
	Name         string   `json:"name"`
	Category     string   `json:"category"`
	Observations []string `json:"observations"`
	Existing     []string `json:"existing,omitempty"`
	Related      []string `json:"related,omitempty"`
}

type summarizeResponse struct {
	Observations []string `json:"observations"`
	Relations    []string `json:"relations,omitempty"`
}

// Summarize posts one consolidation group to the engine.
func (s *Summarizer) Summarize(ctx context.Context, req memory.SummaryRequest) (memory.Summary, error) {
	body, err := json.Marshal(summarizeRequest{
		Name:         req.Name,
		Category:     req.Category,
		Observations: req.Observations,
		Existing:     req.Existing,
		Related:      req.Related,
	})
	if err != nil {
		return memory.Summary{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.client.config.BaseURL+"/v1/summarize", bytes.NewReader(body))
	if err != nil {
		return memory.Summary{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.client.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.client.config.APIKey)
	}

	resp, err := s.client.httpClient.Do(httpReq)
	if err != nil {
		return memory.Summary{}, errs.Transientf("summarize request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			return memory.Summary{}, errs.Transientf("engine error %d: %s", resp.StatusCode, detail)
		}
		return memory.Summary{}, fmt.Errorf("engine error %d: %s", resp.StatusCode, detail)
	}

	var sr summarizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return memory.Summary{}, fmt.Errorf("decode response: %w", err)
	}
	return memory.Summary{Observations: sr.Observations, Relations: sr.Relations}, nil
}
