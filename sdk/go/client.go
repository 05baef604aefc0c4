package fieldlinesdk

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

// Client is a minimal Fieldline HTTP API client.
type Client struct {
	BaseURL     string
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

// Location is a geographic point.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Address is a reverse-geocoded street address.
type Address struct {
	Road        string `json:"road,omitempty"`
	Suburb      string `json:"suburb,omitempty"`
	City        string `json:"city,omitempty"`
	Postcode    string `json:"postcode,omitempty"`
	Country     string `json:"country,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// StatusEntry is one step of a solicitation's history.
type StatusEntry struct {
	Status    string `json:"status"`
	ActorName string `json:"actor_name"`
	Timestamp string `json:"timestamp"`
}

// Solicitation represents the API solicitation model.
type Solicitation struct {
	ID            string        `json:"id"`
	SubmitterID   string        `json:"submitter_id"`
	SubmitterName string        `json:"submitter_name"`
	PhotoRef      string        `json:"photo_ref"`
	Location      Location      `json:"location"`
	Address       *Address      `json:"address,omitempty"`
	Note          string        `json:"note,omitempty"`
	CreatedAt     string        `json:"created_at"`
	CurrentStatus string        `json:"current_status"`
	History       []StatusEntry `json:"history"`
	SentBy        string        `json:"sent_by,omitempty"`
}

// ReviewerQueue holds pending and already-processed solicitations.
type ReviewerQueue struct {
	Pending   []Solicitation `json:"pending"`
	Processed []Solicitation `json:"processed"`
}

// ExecutorQueue holds active and finished solicitations.
type ExecutorQueue struct {
	Active   []Solicitation `json:"active"`
	Finished []Solicitation `json:"finished"`
}

// Event represents an audit log entry.
type Event struct {
	ID             int64          `json:"id"`
	TS             string         `json:"ts"`
	Type           string         `json:"type"`
	SolicitationID string         `json:"solicitation_id,omitempty"`
	ActorID        string         `json:"actor_id"`
	Payload        map[string]any `json:"payload"`
}

// CreateSolicitationOptions are the create parameters.
type CreateSolicitationOptions struct {
	ID       string   `json:"id,omitempty"`
	PhotoRef string   `json:"photo_ref"`
	Location Location `json:"location"`
	Address  *Address `json:"address,omitempty"`
	Note     string   `json:"note,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateSolicitation files a new solicitation.
func (c *Client) CreateSolicitation(ctx context.Context, opts CreateSolicitationOptions) (Solicitation, error) {
	var resp Solicitation
	err := c.do(ctx, http.MethodPost, "v0/solicitations", opts, &resp)
	return resp, err
}

// GetSolicitation fetches one record by id.
func (c *Client) GetSolicitation(ctx context.Context, id string) (Solicitation, error) {
	var resp Solicitation
	err := c.do(ctx, http.MethodGet, "v0/solicitations/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListSolicitations returns every record, newest first.
func (c *Client) ListSolicitations(ctx context.Context) ([]Solicitation, error) {
	var resp []Solicitation
	err := c.do(ctx, http.MethodGet, "v0/solicitations", nil, &resp)
	return resp, err
}

// Transition moves a solicitation to the target status.
func (c *Client) Transition(ctx context.Context, id, targetStatus string) (Solicitation, error) {
	body := map[string]any{"target_status": targetStatus}
	var resp Solicitation
	err := c.do(ctx, http.MethodPost, "v0/solicitations/"+url.PathEscape(id)+"/transition", body, &resp)
	return resp, err
}

// GetReviewerQueue returns the reviewer's pending and processed buckets.
func (c *Client) GetReviewerQueue(ctx context.Context) (ReviewerQueue, error) {
	var resp ReviewerQueue
	err := c.do(ctx, http.MethodGet, "v0/queues/reviewer", nil, &resp)
	return resp, err
}

// GetExecutorQueue returns the executor's active and finished buckets.
func (c *Client) GetExecutorQueue(ctx context.Context) (ExecutorQueue, error) {
	var resp ExecutorQueue
	err := c.do(ctx, http.MethodGet, "v0/queues/executor", nil, &resp)
	return resp, err
}

// Events returns recent audit events, newest first.
func (c *Client) Events(ctx context.Context, limit int, solicitationID string) ([]Event, error) {
	endpoint := "v0/events"
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	if solicitationID != "" {
		params.Set("solicitation_id", solicitationID)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MintDevToken requests a development token from the server. Only works when
// the server runs with dev tokens enabled.
func (c *Client) MintDevToken(ctx context.Context, actorID, displayName, role string) (string, error) {
	body := map[string]any{
		"actor_id":     actorID,
		"display_name": displayName,
		"role":         role,
	}
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "v0/auth/dev/token", body, &resp)
	return resp.Token, err
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
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
