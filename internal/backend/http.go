package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Client is an HTTP/JSON backend talking to the execution service's task
// API:
//
//	POST   {base}/v1/tasks           submit, returns {"id": ...}
//	GET    {base}/v1/tasks/{id}      status
//	GET    {base}/v1/tasks/{id}/result
//	DELETE {base}/v1/tasks/{id}      cancel
//
// HTTP 429 responses surface as ThrottleError so the dispatcher can back
// off and retry.
type Client struct {
	name    string
	baseURL string
	client  *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.client = hc }
}

// NewClient returns a Client for the named target at baseURL.
func NewClient(name, baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

type submitRequest struct {
	Backend string `json:"backend"`
	Spec
}

type submitResponse struct {
	ID string `json:"id"`
}

func (c *Client) Submit(ctx context.Context, spec Spec) (string, error) {
	body, err := json.Marshal(submitRequest{Backend: c.name, Spec: spec})
	if err != nil {
		return "", fmt.Errorf("encode task: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tasks", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp submitResponse
	if err := c.do(req, &resp); err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("submit task: backend returned no task id")
	}
	return resp.ID, nil
}

func (c *Client) Status(ctx context.Context, id string) (StatusInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/tasks/"+id, nil)
	if err != nil {
		return StatusInfo{}, err
	}
	var info StatusInfo
	if err := c.do(req, &info); err != nil {
		return StatusInfo{}, fmt.Errorf("task %s status: %w", id, err)
	}
	return info, nil
}

func (c *Client) Result(ctx context.Context, id string) (*ResultSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/tasks/"+id+"/result", nil)
	if err != nil {
		return nil, err
	}
	var rs ResultSet
	if err := c.do(req, &rs); err != nil {
		return nil, fmt.Errorf("task %s result: %w", id, err)
	}
	if rs.TaskID == "" {
		rs.TaskID = id
	}
	return &rs, nil
}

func (c *Client) Cancel(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/tasks/"+id, nil)
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("cancel task %s: %w", id, err)
	}
	return nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &ThrottleError{RetryAfter: retryAfter(resp)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("backend returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
