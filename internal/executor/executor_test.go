package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcengineering/huly-ai-agent/internal/errs"
	"github.com/hcengineering/huly-ai-agent/internal/task"
)

func TestExecuteRoundTrip(t *testing.T) {
	var got executeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/execute", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{
			"output":     "done",
			"complexity": 40,
			"message":    "Here is the summary.",
			"follow_ups": []map[string]any{
				{"type": "assistant_task", "payload": "archive thread"},
			},
		})
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, APIKey: "secret"}, nil)
	require.NoError(t, err)

	res, err := c.Execute(context.Background(), task.Task{
		ID: 7, Type: task.TypeAssistantChat, CardID: "c1", Payload: "summarize",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.TaskID)
	assert.Equal(t, "assistant_chat", got.Type)
	assert.Equal(t, "done", res.Output)
	assert.Equal(t, 40, res.Complexity)
	assert.Equal(t, "Here is the summary.", res.Message)
	require.Len(t, res.FollowUps, 1)
	assert.Equal(t, task.TypeAssistantTask, res.FollowUps[0].Type)
	assert.Equal(t, task.UnknownComplexity, res.FollowUps[0].Complexity)
}

func TestExecuteMissingComplexity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"output": "done"})
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	res, err := c.Execute(context.Background(), task.Task{Type: task.TypeSleep})
	require.NoError(t, err)
	assert.Equal(t, task.UnknownComplexity, res.Complexity)
}

func TestExecuteErrorClassification(t *testing.T) {
	status := 500
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", status)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), task.Task{Type: task.TypeSleep})
	assert.True(t, errs.IsTransient(err), "5xx is retryable")

	status = 429
	_, err = c.Execute(context.Background(), task.Task{Type: task.TypeSleep})
	assert.True(t, errs.IsTransient(err), "429 is retryable")

	status = 400
	_, err = c.Execute(context.Background(), task.Task{Type: task.TypeSleep})
	require.Error(t, err)
	assert.False(t, errs.IsTransient(err), "4xx is terminal")
}

func TestNewValidatesBaseURL(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.True(t, errs.IsValidation(err))
}
