package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client wraps HTTP operations against the leaderboard service.
type Client struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// NewClient creates a leaderboard client with the given request timeout.
func NewClient(baseURL, authToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		client:    &http.Client{Timeout: timeout},
	}
}

// SyncResponse is the acceptance status returned by the remote service. The
// trust level annotation is owned by the service, not this client.
type SyncResponse struct {
	Accepted   bool   `json:"accepted"`
	TrustLevel string `json:"trust_level,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Submit posts a payload to the sync endpoint.
func (c *Client) Submit(ctx context.Context, userID string, payload Payload) (*SyncResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync payload: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/users/%s/sync", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to leaderboard at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp.StatusCode, body)
	}

	var result SyncResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &result, nil
}

func parseError(statusCode int, body []byte) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Error == "" {
		switch statusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("authentication failed. Check your auth token")
		case http.StatusServiceUnavailable:
			return fmt.Errorf("leaderboard service unavailable")
		default:
			return fmt.Errorf("server error (status %d)", statusCode)
		}
	}

	switch statusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("authentication failed. Check your auth token")
	case http.StatusBadRequest:
		return fmt.Errorf("invalid request: %s", apiErr.Error)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("leaderboard service unavailable: %s", apiErr.Error)
	default:
		return fmt.Errorf("server error: %s", apiErr.Error)
	}
}
