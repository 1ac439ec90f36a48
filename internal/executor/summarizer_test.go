package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcengineering/huly-ai-agent/internal/memory"
)

func TestSummarize(t *testing.T) {
	var got summarizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/summarize", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{
			"observations": []string{"ana leads the platform team in berlin"},
			"relations":    []string{"platform", "berlin"},
		})
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	summary, err := NewSummarizer(c).Summarize(context.Background(), memory.SummaryRequest{
		Name:         "ana",
		Category:     "person",
		Observations: []string{"works on platform", "based in berlin"},
		Related:      []string{"platform"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ana", got.Name)
	assert.Equal(t, []string{"platform"}, got.Related)
	assert.Equal(t, []string{"ana leads the platform team in berlin"}, summary.Observations)
	assert.Equal(t, []string{"platform", "berlin"}, summary.Relations)
}
