// File: internal/session/client.go
package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to a session's control agent over loopback HTTP.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient builds a client for the given session record.
func NewClient(s *WebSession) (*Client, error) {
	base := s.ControlURL()
	if base == "" {
		return nil, fmt.Errorf("session control agent offline: no control port configured")
	}
	return &Client{
		BaseURL: base,
		HTTP:    &http.Client{Timeout: 4 * time.Second},
	}, nil
}

// State fetches the agent's /state snapshot.
func (c *Client) State(ctx context.Context) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, "/state", nil)
}

// PostEvent forwards one observer event; errors are the caller's to swallow.
func (c *Client) PostEvent(ctx context.Context, event map[string]any) error {
	_, err := c.do(ctx, http.MethodPost, "/event", event)
	return err
}

// PostAction performs refresh|release|close|ack.
func (c *Client) PostAction(ctx context.Context, action string) (map[string]any, error) {
	payload, err := c.do(ctx, http.MethodPost, "/action", map[string]any{"action": action})
	if err != nil {
		return nil, fmt.Errorf("session control action failed (%s): %w", action, err)
	}
	return payload, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON from control agent: %w", err)
	}
	if resp.StatusCode >= 400 {
		reason, _ := payload["error"].(string)
		if reason == "" {
			reason = resp.Status
		}
		return payload, fmt.Errorf("%s", reason)
	}
	return payload, nil
}
