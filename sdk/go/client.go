// Package hivesdk is a minimal Hive HTTP API client.
package hivesdk

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

// Client talks to a running hive server.
type Client struct {
	BaseURL     string
	AgentName   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, agentName string) *Client {
	return &Client{
		BaseURL:   baseURL,
		AgentName: agentName,
		Timeout:   10 * time.Second,
	}
}

// Claim is a coordinator lease.
type Claim struct {
	ClaimID   string `json:"claim_id"`
	ProjectID string `json:"project_id"`
	AgentName string `json:"agent_name"`
	CreatedAt string `json:"created_at"`
	ExpiresAt string `json:"expires_at"`
}

// ClaimStatus reports whether a project is claimed.
type ClaimStatus struct {
	ProjectID string `json:"project_id"`
	IsClaimed bool   `json:"is_claimed"`
	Claim     *Claim `json:"claim,omitempty"`
}

// ReadyItem is one claimable record.
type ReadyItem struct {
	ID           string   `json:"id"`
	Priority     string   `json:"priority"`
	Tags         []string `json:"tags,omitempty"`
	LastModified string   `json:"last_modified"`
}

// Record is the API record model.
type Record struct {
	ID             string   `json:"id"`
	Status         string   `json:"status"`
	Owner          *string  `json:"owner,omitempty"`
	Blocked        bool     `json:"blocked"`
	BlockingReason string   `json:"blocking_reason,omitempty"`
	Priority       string   `json:"priority"`
	Tags           []string `json:"tags,omitempty"`
	LastModified   string   `json:"last_modified"`
}

// GraphSummary mirrors the /graph response.
type GraphSummary struct {
	Nodes    map[string]GraphNode `json:"nodes"`
	Edges    map[string][]string  `json:"edges"`
	Cycles   [][]string           `json:"cycles"`
	Warnings []json.RawMessage    `json:"warnings"`
}

type GraphNode struct {
	Status          string   `json:"status"`
	Priority        string   `json:"priority"`
	Owner           string   `json:"owner,omitempty"`
	InCycle         bool     `json:"in_cycle"`
	BlockingReasons []string `json:"blocking_reasons,omitempty"`
}

// Event is one row of the server's change log.
type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts"`
	Type     string `json:"type"`
	RecordID string `json:"record_id,omitempty"`
	ActorID  string `json:"actor_id"`
	Payload  string `json:"payload_json"`
}

// APIError wraps non-2xx responses. Code and Details carry the server's
// error envelope when it could be parsed.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsConflict reports a 409 response.
func (e *APIError) IsConflict() bool { return e.StatusCode == http.StatusConflict }

// Acquire claims a project. A 409 surfaces as *APIError with
// code "already_claimed" and the holder in Details.
func (c *Client) Acquire(ctx context.Context, projectID string, ttlSeconds int) (Claim, error) {
	body := map[string]any{
		"project_id":  projectID,
		"agent_name":  c.AgentName,
		"ttl_seconds": ttlSeconds,
	}
	var resp struct {
		Claim Claim `json:"claim"`
	}
	err := c.do(ctx, http.MethodPost, "v0/claims", body, &resp)
	return resp.Claim, err
}

// Release frees a claim using its token.
func (c *Client) Release(ctx context.Context, projectID, claimID string) error {
	endpoint := fmt.Sprintf("v0/claims/%s", url.PathEscape(projectID))
	return c.do(ctx, http.MethodDelete, endpoint, map[string]any{"claim_id": claimID}, nil)
}

// Extend renews a claim lease.
func (c *Client) Extend(ctx context.Context, projectID, claimID string, ttlSeconds int) (Claim, error) {
	endpoint := fmt.Sprintf("v0/claims/%s/extend", url.PathEscape(projectID))
	body := map[string]any{"claim_id": claimID, "ttl_seconds": ttlSeconds}
	var resp struct {
		Claim Claim `json:"claim"`
	}
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp.Claim, err
}

// Status returns the claim state of a project.
func (c *Client) Status(ctx context.Context, projectID string) (ClaimStatus, error) {
	var resp ClaimStatus
	endpoint := fmt.Sprintf("v0/claims/%s", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Reservations lists live claims.
func (c *Client) Reservations(ctx context.Context) ([]Claim, error) {
	var resp struct {
		Claims []Claim `json:"claims"`
	}
	err := c.do(ctx, http.MethodGet, "v0/reservations", nil, &resp)
	return resp.Claims, err
}

// Ready returns the ordered ready-work list.
func (c *Client) Ready(ctx context.Context) ([]ReadyItem, error) {
	var resp struct {
		Items []ReadyItem `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/ready", nil, &resp)
	return resp.Items, err
}

// Graph returns the dependency graph summary.
func (c *Client) Graph(ctx context.Context) (GraphSummary, error) {
	var resp GraphSummary
	err := c.do(ctx, http.MethodGet, "v0/graph", nil, &resp)
	return resp, err
}

// Events returns the newest events first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("v0/events?limit=%d", limit)
	}
	var resp struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Events, err
}

// ClaimOwner durably claims record ownership via the server.
func (c *Client) ClaimOwner(ctx context.Context, recordID string) (Record, error) {
	endpoint := fmt.Sprintf("v0/records/%s/claim", url.PathEscape(recordID))
	var resp Record
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"agent_name": c.AgentName}, &resp)
	return resp, err
}

// ReleaseOwner clears durable record ownership via the server.
func (c *Client) ReleaseOwner(ctx context.Context, recordID string, force bool) (Record, error) {
	endpoint := fmt.Sprintf("v0/records/%s/release", url.PathEscape(recordID))
	var resp Record
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"agent_name": c.AgentName, "force": force}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.AgentName != "":
		req.Header.Set("X-Agent-Name", c.AgentName)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return parseAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	}
	return apiErr
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
