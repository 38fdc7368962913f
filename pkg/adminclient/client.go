/**
 * @description
 * Typed client for the rent service's admin outbox API, used by the outboxctl operator CLI.
 */

package adminclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client calls the admin routes of a running rent service.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// OutboxItem mirrors the admin view of an outbox item. Payload is kept raw since its shape
// depends on the tx type.
type OutboxItem struct {
	ID          string          `json:"id" yaml:"id"`
	TxType      string          `json:"txType" yaml:"txType"`
	TxID        string          `json:"txId" yaml:"txId"`
	ExternalRef string          `json:"externalRef" yaml:"externalRef"`
	Status      string          `json:"status" yaml:"status"`
	Attempts    int             `json:"attempts" yaml:"attempts"`
	LastError   *string         `json:"lastError" yaml:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt" yaml:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt" yaml:"updatedAt"`
	Payload     json.RawMessage `json:"payload,omitempty" yaml:"-"`
}

type OutboxList struct {
	Items []OutboxItem `json:"items" yaml:"items"`
	Total int          `json:"total" yaml:"total"`
}

type RetryResult struct {
	Sent    bool       `json:"sent" yaml:"sent"`
	Item    OutboxItem `json:"item" yaml:"item"`
	Message string     `json:"message" yaml:"message"`
}

type RetryAllResult struct {
	Succeeded int    `json:"succeeded" yaml:"succeeded"`
	Failed    int    `json:"failed" yaml:"failed"`
	Message   string `json:"message" yaml:"message"`
}

// APIError is an error envelope returned by the service.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (status %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

// ListOutbox lists outbox items. An empty status lists every item newest first.
func (c *Client) ListOutbox(ctx context.Context, status string, limit int) (*OutboxList, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/admin/outbox"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var out OutboxList
	if err := c.do(ctx, http.MethodGet, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Retry(ctx context.Context, id string) (*RetryResult, error) {
	var out RetryResult
	if err := c.do(ctx, http.MethodPost, "/api/admin/outbox/"+url.PathEscape(id)+"/retry", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RetryAll(ctx context.Context) (*RetryAllResult, error) {
	var out RetryAllResult
	if err := c.do(ctx, http.MethodPost, "/api/admin/outbox/retry-all", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create admin request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute admin request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read admin response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode}
		}
		return fmt.Errorf("failed to decode admin response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || env.Error != nil {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode admin response data: %w", err)
	}
	return nil
}
