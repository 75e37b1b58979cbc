// Package upstream binds service types to the inference service that
// actually performs analysis, search, consultation, structuring and chat.
package upstream

import (
	"bytes"
	"casequeue/internal/domain"
	"casequeue/internal/usecase"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxResponseBytes bounds how much of an upstream reply is buffered.
const maxResponseBytes = 8 << 20

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type request struct {
	TaskID  int64          `json:"task_id"`
	Payload domain.Payload `json:"payload"`
	Owner   string         `json:"owner"`
}

// Handler returns a task handler posting to <BaseURL>/<service type>.
func (c *Client) Handler(st domain.ServiceType) usecase.Handler {
	url := c.BaseURL + "/" + string(st)
	return func(ctx context.Context, t domain.Task) (any, error) {
		body, err := json.Marshal(request{TaskID: t.ID, Payload: t.Payload, Owner: t.Owner})
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", t.Owner)

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s service: %w", st, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("%s service: read response: %w", st, err)
		}
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%s service: %s: %s", st, resp.Status, strings.TrimSpace(string(raw)))
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("%s service: response is not json", st)
		}
		return json.RawMessage(raw), nil
	}
}

// Handlers returns one handler per service type in limits.
func (c *Client) Handlers(limits domain.Limits) map[domain.ServiceType]usecase.Handler {
	out := make(map[domain.ServiceType]usecase.Handler, len(limits))
	for _, st := range limits.Types() {
		out[st] = c.Handler(st)
	}
	return out
}
