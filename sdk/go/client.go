package certdesksdk

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

// Client is a minimal certdesk HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// JobOrder represents the API job order model (partial).
type JobOrder struct {
	ID            string   `json:"id"`
	ClientID      string   `json:"clientId"`
	ClientName    string   `json:"clientName"`
	ServiceTypes  []string `json:"serviceTypes"`
	Status        string   `json:"status"`
	PaymentStatus string   `json:"paymentStatus"`
	AssignedTo    string   `json:"assignedTo,omitempty"`
}

type Payment struct {
	ID         string  `json:"id"`
	JobOrderID string  `json:"jobOrderId"`
	Amount     float64 `json:"amount"`
	Status     string  `json:"status"`
}

// Certificate represents an issued certificate (partial).
type Certificate struct {
	ID                string    `json:"id"`
	CertificateNumber string    `json:"certificateNumber"`
	JobOrderID        string    `json:"jobOrderId,omitempty"`
	TrainingSessionID string    `json:"trainingSessionId,omitempty"`
	ParticipantName   string    `json:"participantName,omitempty"`
	ClientName        string    `json:"clientName,omitempty"`
	VerificationCode  string    `json:"verificationCode"`
	Status            string    `json:"status"`
	ExpiryDate        time.Time `json:"expiryDate"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	Collection string `json:"collection"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateJobOrder opens a job order for a client.
func (c *Client) CreateJobOrder(ctx context.Context, clientID string, serviceTypes []string, scheduled time.Time) (JobOrder, error) {
	body := map[string]any{
		"clientId":      clientID,
		"serviceTypes":  serviceTypes,
		"scheduledDate": scheduled.UTC().Format(time.RFC3339),
	}
	var resp JobOrder
	err := c.do(ctx, http.MethodPost, "job-orders", body, &resp)
	return resp, err
}

func (c *Client) GetJobOrder(ctx context.Context, id string) (JobOrder, error) {
	var resp JobOrder
	err := c.do(ctx, http.MethodGet, "job-orders/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ApproveJobOrder advances a job order through supervisor approval.
func (c *Client) ApproveJobOrder(ctx context.Context, id string) (JobOrder, error) {
	var resp JobOrder
	err := c.do(ctx, http.MethodPost, "job-orders/"+url.PathEscape(id)+"/approve", nil, &resp)
	return resp, err
}

// SubmitReport attaches the report payload, passed through as JSON.
func (c *Client) SubmitReport(ctx context.Context, id string, reportData any) (JobOrder, error) {
	var resp JobOrder
	err := c.do(ctx, http.MethodPost, "job-orders/"+url.PathEscape(id)+"/report", map[string]any{"reportData": reportData}, &resp)
	return resp, err
}

func (c *Client) CreatePayment(ctx context.Context, jobOrderID string, amount float64, method string) (Payment, error) {
	body := map[string]any{"jobOrderId": jobOrderID, "amount": amount}
	if method != "" {
		body["method"] = method
	}
	var resp Payment
	err := c.do(ctx, http.MethodPost, "payments", body, &resp)
	return resp, err
}

// ConfirmPayment confirms a payment; the server issues the job's certificate.
func (c *Client) ConfirmPayment(ctx context.Context, paymentID string) (Payment, error) {
	var resp Payment
	err := c.do(ctx, http.MethodPost, "payments/"+url.PathEscape(paymentID)+"/confirm", nil, &resp)
	return resp, err
}

// VerifyCertificate looks up a certificate by number or verification code.
// It needs no credentials.
func (c *Client) VerifyCertificate(ctx context.Context, query string) (Certificate, error) {
	var resp Certificate
	err := c.do(ctx, http.MethodGet, "certificates/verify?q="+url.QueryEscape(query), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
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
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
