// Package github is a minimal REST client for the issue-tracking and
// review-request surface of the GitHub API. Only the handful of endpoints
// the evolution loop needs are wrapped.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds client settings.
type Config struct {
	Token   string
	Repo    string // "owner/name"
	BaseURL string // defaults to the public API
	Timeout time.Duration
}

// Client talks to a single repository.
type Client struct {
	token      string
	repo       string
	baseURL    string
	httpClient *http.Client
}

// Issue is the subset of the issue payload the loop consumes.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	Labels    []Label   `json:"labels"`
	CreatedAt time.Time `json:"created_at"`
}

// Label is a GitHub issue label.
type Label struct {
	Name string `json:"name"`
}

// HasLabel reports whether the issue carries the named label.
func (i Issue) HasLabel(name string) bool {
	for _, l := range i.Labels {
		if l.Name == name {
			return true
		}
	}
	return false
}

// PullRequest is the payload for opening a review request.
type PullRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"`
	Base  string `json:"base"`
}

// PullRequestInfo is the subset of the created-PR response the loop uses.
type PullRequestInfo struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github API request failed with status %d: %s", e.StatusCode, e.Body)
}

// NewClient creates a client for the configured repository.
func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.github.com"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		token:   cfg.Token,
		repo:    cfg.Repo,
		baseURL: base,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ListIssues returns open issues carrying the given label.
func (c *Client) ListIssues(ctx context.Context, label string) ([]Issue, error) {
	path := fmt.Sprintf("/issues?labels=%s&state=open&per_page=100", url.QueryEscape(label))
	var issues []Issue
	if err := c.do(ctx, http.MethodGet, path, nil, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// AddLabels attaches labels to an issue.
func (c *Client) AddLabels(ctx context.Context, number int, labels ...string) error {
	path := fmt.Sprintf("/issues/%d/labels", number)
	body := map[string][]string{"labels": labels}
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// RemoveLabel detaches a label from an issue. A 404 is tolerated: the label
// may already be gone.
func (c *Client) RemoveLabel(ctx context.Context, number int, label string) error {
	path := fmt.Sprintf("/issues/%d/labels/%s", number, url.PathEscape(label))
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	var apiErr *APIError
	if err != nil && errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// CreateComment posts a comment on an issue.
func (c *Client) CreateComment(ctx context.Context, number int, body string) error {
	path := fmt.Sprintf("/issues/%d/comments", number)
	return c.do(ctx, http.MethodPost, path, map[string]string{"body": body}, nil)
}

// CloseIssue marks an issue closed.
func (c *Client) CloseIssue(ctx context.Context, number int) error {
	path := fmt.Sprintf("/issues/%d", number)
	return c.do(ctx, http.MethodPatch, path, map[string]string{"state": "closed"}, nil)
}

// CreatePullRequest opens a review request.
func (c *Client) CreatePullRequest(ctx context.Context, pr PullRequest) (*PullRequestInfo, error) {
	var info PullRequestInfo
	if err := c.do(ctx, http.MethodPost, "/pulls", pr, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// do performs one API call with bounded retries on rate limiting and server
// errors. A 5xx does not prove the write was not applied, so only idempotent
// methods are replayed on server errors; a 429 always is, the server acted on
// nothing. The response body, when out is non-nil, is JSON-decoded into it.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	endpoint := fmt.Sprintf("%s/repos/%s%s", c.baseURL, c.repo, path)

	const maxRetries = 3
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/vnd.github.v3+json")
		req.Header.Set("Authorization", "token "+c.token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		idempotent := method == http.MethodGet || method == http.MethodDelete
		if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && idempotent) {
			lastErr = &APIError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
