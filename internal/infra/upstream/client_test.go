package upstream

import (
	"casequeue/internal/domain"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerPostsPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/case_analysis", r.URL.Path)
		assert.Equal(t, "user-1", r.Header.Get("X-User-ID"))

		var body struct {
			TaskID  int64          `json:"task_id"`
			Payload map[string]any `json:"payload"`
			Owner   string         `json:"owner"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 7, body.TaskID)
		assert.Equal(t, "tenant dispute", body.Payload["user_query"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"case_analysis":{"summary":"s"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second)
	res, err := c.Handler(domain.ServiceCaseAnalysis)(context.Background(), domain.Task{
		ID:      7,
		Payload: domain.Payload{"user_query": "tenant dispute"},
		Owner:   "user-1",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"case_analysis":{"summary":"s"}}`, string(res.(json.RawMessage)))
}

func TestHandlerReportsUpstreamErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Handler(domain.ServiceSearch)(context.Background(), domain.Task{ID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search service: 503 Service Unavailable: model not loaded")
}

func TestHandlerRejectsNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Handler(domain.ServiceChat)(context.Background(), domain.Task{ID: 1})
	assert.ErrorContains(t, err, "not json")
}

func TestHandlersCoverEveryServiceType(t *testing.T) {
	hs := New("http://inference:8000", time.Second).Handlers(domain.DefaultLimits)
	assert.Len(t, hs, len(domain.DefaultLimits))
	for st := range domain.DefaultLimits {
		assert.NotNil(t, hs[st], st)
	}
}
