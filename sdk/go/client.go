// Package bugtrailsdk is a minimal Bugtrail HTTP API client for dashboards
// and board frontends.
package bugtrailsdk

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
)

// Client is a minimal Bugtrail HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Bug represents the API bug model.
type Bug struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	ReportedBy  string   `json:"reported_by"`
	AssignedTo  *string  `json:"assigned_to,omitempty"`
	SprintID    *string  `json:"sprint_id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	Severity    string   `json:"severity"`
	Type        string   `json:"type"`
	Tags        []string `json:"tags,omitempty"`
	Validated   bool     `json:"validated"`
	Version     int64    `json:"version"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// Activity represents one enriched feed entry.
type Activity struct {
	ID           string  `json:"id"`
	Seq          int64   `json:"seq"`
	BugID        string  `json:"bug_id"`
	BugTitle     string  `json:"bug_title"`
	ProjectID    string  `json:"project_id,omitempty"`
	ProjectName  string  `json:"project_name"`
	Action       string  `json:"action"`
	NewStatus    *string `json:"new_status,omitempty"`
	AssigneeID   *string `json:"assignee_id,omitempty"`
	AssigneeName *string `json:"assignee_name,omitempty"`
	ActorID      string  `json:"actor_id"`
	ActorName    string  `json:"actor_name"`
	TS           string  `json:"ts"`
}

// Comment represents a bug comment.
type Comment struct {
	ID        string `json:"id"`
	BugID     string `json:"bug_id"`
	AuthorID  string `json:"author_id"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// BugFilters narrow a ListBugs call. Zero values are omitted.
type BugFilters struct {
	ProjectID  string
	Status     string
	AssigneeID string
	Limit      int
}

// CreateBug reports a new bug.
func (c *Client) CreateBug(ctx context.Context, title string, fields map[string]any) (Bug, error) {
	body := map[string]any{"title": title}
	for k, v := range fields {
		body[k] = v
	}
	var resp Bug
	err := c.do(ctx, http.MethodPost, "v0/bugs", body, &resp)
	return resp, err
}

// ListBugs returns bugs matching the filters.
func (c *Client) ListBugs(ctx context.Context, f BugFilters) ([]Bug, error) {
	q := url.Values{}
	if f.ProjectID != "" {
		q.Set("project_id", f.ProjectID)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.AssigneeID != "" {
		q.Set("assignee_id", f.AssigneeID)
	}
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", f.Limit))
	}
	endpoint := "v0/bugs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Bug `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// GetBug fetches one bug by id.
func (c *Client) GetBug(ctx context.Context, id string) (Bug, error) {
	var resp Bug
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/bugs/%s", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// UpdateStatus moves a bug to a new status. expectedVersion, when non-nil,
// makes the write conditional; a stale version yields a 409 APIError.
func (c *Client) UpdateStatus(ctx context.Context, id, status string, expectedVersion *int64) (Bug, error) {
	body := map[string]any{"status": status}
	if expectedVersion != nil {
		body["expected_version"] = *expectedVersion
	}
	var resp Bug
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("v0/bugs/%s/status", url.PathEscape(id)), body, &resp)
	return resp, err
}

// Assign sets the bug's assignee.
func (c *Client) Assign(ctx context.Context, id, assigneeID string) (Bug, error) {
	body := map[string]any{"assignee_id": assigneeID}
	var resp Bug
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("v0/bugs/%s/assignee", url.PathEscape(id)), body, &resp)
	return resp, err
}

// UpdateTags replaces the bug's tag set.
func (c *Client) UpdateTags(ctx context.Context, id string, tags []string) (Bug, error) {
	body := map[string]any{"tags": tags}
	var resp Bug
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("v0/bugs/%s/tags", url.PathEscape(id)), body, &resp)
	return resp, err
}

// Validate marks a resolved bug's fix as acceptable.
func (c *Client) Validate(ctx context.Context, id string) (Bug, error) {
	var resp Bug
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/bugs/%s/validate", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// Comment records a comment on a bug.
func (c *Client) Comment(ctx context.Context, id, message string) (Comment, error) {
	body := map[string]any{"message": message}
	var resp Comment
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/bugs/%s/comments", url.PathEscape(id)), body, &resp)
	return resp, err
}

// Activities returns the enriched activity feed, newest first. bugID narrows
// the feed to one bug.
func (c *Client) Activities(ctx context.Context, bugID string, limit int) ([]Activity, error) {
	q := url.Values{}
	if bugID != "" {
		q.Set("bug_id", bugID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	endpoint := "v0/activities"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Activity `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
