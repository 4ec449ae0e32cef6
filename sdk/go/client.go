package pwdemosdk

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

// Client is a minimal protocol API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 15 * time.Second,
	}
}

type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Section struct {
	Title     string `json:"title"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

type Item struct {
	SectionPath string `json:"sectionPath"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Remark      string `json:"remark,omitempty"`
	Comment     string `json:"comment,omitempty"`
}

// Protocol represents the API protocol model.
type Protocol struct {
	ID           string    `json:"id"`
	AssigneeID   string    `json:"assigneeId"`
	Status       string    `json:"status"`
	Title        string    `json:"title"`
	SiteName     string    `json:"siteName,omitempty"`
	TurbineID    string    `json:"turbineId,omitempty"`
	Date         string    `json:"date,omitempty"`
	TemplateName string    `json:"templateName,omitempty"`
	Sections     []Section `json:"sections"`
	Items        []Item    `json:"items"`
	CompletedAt  *string   `json:"completedAt"`
}

// ProtocolDetail is a protocol with its assignee and remaining open count.
type ProtocolDetail struct {
	Protocol
	Assignee               *User `json:"assignee,omitempty"`
	OpenProtocolsRemaining int   `json:"openProtocolsRemaining"`
}

// WebhookPayload is the notification body sent on completion (partial).
type WebhookPayload struct {
	Event          string `json:"event"`
	ProtocolID     string `json:"protocolId"`
	ProtocolTitle  string `json:"protocolTitle"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	RemainingCount int    `json:"remainingCount"`
	AllDone        bool   `json:"allDone"`
	CompletedAt    string `json:"completedAt"`
}

type WebhookResult struct {
	Sent   bool   `json:"sent"`
	Status int    `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

type Completion struct {
	Protocol      Protocol       `json:"protocol"`
	Webhook       WebhookPayload `json:"webhook"`
	WebhookSent   bool           `json:"webhookSent"`
	WebhookDetail WebhookResult  `json:"webhookDetail"`
}

type WebhookConfig struct {
	URL     *string `json:"url"`
	Enabled bool    `json:"enabled"`
	Source  string  `json:"source,omitempty"`
}

type Health struct {
	OK       bool   `json:"ok"`
	Service  string `json:"service"`
	Database string `json:"database"`
}

type ResetResult struct {
	Message       string `json:"message"`
	ProtocolCount int    `json:"protocolCount"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode    int
	Message       string
	CurrentStatus string
	Body          string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		if e.CurrentStatus != "" {
			return fmt.Sprintf("api error: status=%d %s (current status %s)", e.StatusCode, e.Message, e.CurrentStatus)
		}
		return fmt.Sprintf("api error: status=%d %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var resp Health
	err := c.do(ctx, http.MethodGet, "health", nil, &resp)
	return resp, err
}

func (c *Client) Users(ctx context.Context) ([]User, error) {
	var resp []User
	err := c.do(ctx, http.MethodGet, "users", nil, &resp)
	return resp, err
}

// Protocols lists protocols; empty arguments do not filter.
func (c *Client) Protocols(ctx context.Context, userID, status string) ([]Protocol, error) {
	q := url.Values{}
	if userID != "" {
		q.Set("userId", userID)
	}
	if status != "" {
		q.Set("status", status)
	}
	endpoint := "protocols"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Protocol
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Protocol(ctx context.Context, id string) (ProtocolDetail, error) {
	var resp ProtocolDetail
	err := c.do(ctx, http.MethodGet, "protocols/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Complete closes a protocol and returns the webhook outcome.
func (c *Client) Complete(ctx context.Context, id string) (Completion, error) {
	var resp Completion
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("protocols/%s/complete", url.PathEscape(id)), nil, &resp)
	return resp, err
}

func (c *Client) WebhookConfig(ctx context.Context) (WebhookConfig, error) {
	var resp WebhookConfig
	err := c.do(ctx, http.MethodGet, "webhook-config", nil, &resp)
	return resp, err
}

// SetWebhookConfig updates the fields that are non-nil.
func (c *Client) SetWebhookConfig(ctx context.Context, webhookURL *string, enabled *bool) (WebhookConfig, error) {
	body := map[string]any{}
	if webhookURL != nil {
		body["url"] = *webhookURL
	}
	if enabled != nil {
		body["enabled"] = *enabled
	}
	var resp WebhookConfig
	err := c.do(ctx, http.MethodPost, "webhook-config", body, &resp)
	return resp, err
}

func (c *Client) Reset(ctx context.Context) (ResetResult, error) {
	var resp ResetResult
	err := c.do(ctx, http.MethodPost, "reset", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/api/" + strings.TrimLeft(endpoint, "/")
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error         string `json:"error"`
			CurrentStatus string `json:"currentStatus"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Message = envelope.Error
			apiErr.CurrentStatus = envelope.CurrentStatus
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
