package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lucky401/codex-autorunner-sub004/internal/models"
	"github.com/lucky401/codex-autorunner-sub004/internal/payload"
)

// TransportError is a network or HTTP-level failure with the most useful
// message the transport could extract.
type TransportError struct {
	Status  int
	Message string
}

func (e *TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("request failed (%d): %s", e.Status, e.Message)
	}
	return e.Message
}

// Client talks to the agent server: auth headers, path resolution, and
// JSON/text negotiation with HTTP-error-to-message extraction.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	// Streaming connections are long-lived and get no timeout
	streamClient *http.Client
}

// NewClient creates a client for the given base URL. The token is sent as
// a bearer Authorization header when non-empty.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		token:        token,
		client:       &http.Client{Timeout: 60 * time.Second},
		streamClient: &http.Client{},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// Request performs a non-streaming call and returns the parsed body. The
// body goes through the recovery parser, so a malformed-but-salvageable
// payload still comes back structured; a raw string result is the
// unparsed fallback.
func (c *Client) Request(ctx context.Context, method, path string, body interface{}) (interface{}, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Message: err.Error()}
	}
	if resp.StatusCode >= 400 {
		return nil, &TransportError{Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, data)}
	}

	return payload.Parse(string(data)), nil
}

// RequestJSON performs a non-streaming call and unmarshals the response
// into out. Used where the response shape is known and strict.
func (c *Client) RequestJSON(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &TransportError{Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Message: err.Error()}
	}
	if resp.StatusCode >= 400 {
		return &TransportError{Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Stream opens a streaming call and returns the raw body for the frame
// decoder. The caller owns closing it.
func (c *Client) Stream(ctx context.Context, method, path string, body interface{}) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, &TransportError{Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &TransportError{Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, data)}
	}
	return resp.Body, nil
}

// errorMessage pulls the most specific failure message out of an HTTP
// error body, falling back to the status text.
func errorMessage(status int, body []byte) string {
	var m map[string]interface{}
	if json.Unmarshal(body, &m) == nil {
		for _, key := range []string{"detail", "error", "message"} {
			if s, ok := m[key].(string); ok && s != "" {
				return s
			}
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 200 {
		return text
	}
	return http.StatusText(status)
}

// TargetPath resolves the API path for a target-scoped endpoint.
func TargetPath(t models.Target, suffix string) string {
	return fmt.Sprintf("/v1/targets/%s/%s%s", t.Kind, url.PathEscape(t.ID), suffix)
}

// Chat opens the streaming turn endpoint for a target.
func (c *Client) Chat(ctx context.Context, t models.Target, body interface{}) (io.ReadCloser, error) {
	return c.Stream(ctx, http.MethodPost, TargetPath(t, "/chat"), body)
}

// Interrupt asks the server to stop in-flight work for a target.
// Best effort: callers do not wait on or propagate its outcome.
func (c *Client) Interrupt(ctx context.Context, t models.Target) error {
	_, err := c.Request(ctx, http.MethodPost, TargetPath(t, "/interrupt"), nil)
	return err
}

// Content fetches the live content for a target.
func (c *Client) Content(ctx context.Context, t models.Target) (string, error) {
	value, err := c.Request(ctx, http.MethodGet, TargetPath(t, "/content"), nil)
	if err != nil {
		return "", err
	}
	return payload.ParseEnvelope(value).Content, nil
}

// ReplaceContent overwrites the live content for a target.
func (c *Client) ReplaceContent(ctx context.Context, t models.Target, content string) error {
	_, err := c.Request(ctx, http.MethodPut, TargetPath(t, "/content"), map[string]string{"content": content})
	return err
}

// Models lists the model catalog for an agent.
func (c *Client) Models(ctx context.Context, agent string) ([]string, error) {
	var out struct {
		Models []string `json:"models"`
	}
	path := fmt.Sprintf("/v1/agents/%s/models", url.PathEscape(agent))
	if err := c.RequestJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// Dispatches fetches the agent dispatch log for the inbox view.
func (c *Client) Dispatches(ctx context.Context) ([]models.TimelineEntry, error) {
	return c.inboxSource(ctx, "/v1/inbox/dispatches")
}

// Replies fetches the agent reply log for the inbox view.
func (c *Client) Replies(ctx context.Context) ([]models.TimelineEntry, error) {
	return c.inboxSource(ctx, "/v1/inbox/replies")
}

func (c *Client) inboxSource(ctx context.Context, path string) ([]models.TimelineEntry, error) {
	var out struct {
		Entries []models.TimelineEntry `json:"entries"`
	}
	if err := c.RequestJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}
