package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// GatewayClient talks to an HTTP ledger gateway that fronts the receipt contract.
type GatewayClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	cfg        Config
	logger     *slog.Logger
}

func NewGatewayClient(baseURL, apiKey string, cfg Config, logger *slog.Logger) *GatewayClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &GatewayClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// GatewayError is a non-2xx response from the gateway.
type GatewayError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ledger gateway error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("ledger gateway error (status %d)", e.StatusCode)
}

type balanceResponse struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

// RecordReceipt posts the receipt with txId as the idempotency key. The gateway answers 409
// when the contract already holds that txId, which counts as success.
func (c *GatewayClient) RecordReceipt(ctx context.Context, req ReceiptRequest) error {
	err := c.do(ctx, http.MethodPost, "/receipts", req, req.TxID, nil)
	if gwErr, ok := err.(*GatewayError); ok && gwErr.StatusCode == http.StatusConflict {
		c.logger.Info("ledger gateway: receipt already recorded", "tx_id", req.TxID)
		return nil
	}
	return err
}

func (c *GatewayClient) GetBalance(ctx context.Context, account string) (int64, error) {
	var resp balanceResponse
	if err := c.do(ctx, http.MethodGet, "/balances/"+url.PathEscape(account), nil, "", &resp); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

func (c *GatewayClient) Credit(ctx context.Context, account string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return c.do(ctx, http.MethodPost, "/balances/"+url.PathEscape(account)+"/credit", amountRequest{Amount: amount}, "", nil)
}

func (c *GatewayClient) Debit(ctx context.Context, account string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	err := c.do(ctx, http.MethodPost, "/balances/"+url.PathEscape(account)+"/debit", amountRequest{Amount: amount}, "", nil)
	if gwErr, ok := err.(*GatewayError); ok && gwErr.Code == "INSUFFICIENT_BALANCE" {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, gwErr.Message)
	}
	return err
}

func (c *GatewayClient) Config() Config {
	return c.cfg
}

func (c *GatewayClient) do(ctx context.Context, method, path string, payload any, idempotencyKey string, out any) error {
	var body io.Reader
	if payload != nil {
		blob, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal ledger request: %w", err)
		}
		body = bytes.NewReader(blob)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create ledger request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute ledger request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read ledger response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gwErr := &GatewayError{StatusCode: resp.StatusCode}
		if len(bodyBytes) > 0 {
			if err := json.Unmarshal(bodyBytes, gwErr); err != nil {
				c.logger.Warn("ledger gateway: non-2xx response with unparsable body", "path", path, "status", resp.StatusCode)
			}
		}
		if resp.StatusCode != http.StatusConflict {
			c.logger.Warn("ledger gateway: request failed", "path", path, "status", resp.StatusCode, "code", gwErr.Code)
		}
		return gwErr
	}

	if out == nil || len(bodyBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode ledger response: %w", err)
	}
	return nil
}
