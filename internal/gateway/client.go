// Package gateway is the outbound adapter to the Cashfree payment gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	SandboxBaseURL    = "https://sandbox.cashfree.com/pg"
	ProductionBaseURL = "https://api.cashfree.com/pg"

	DefaultAPIVersion = "2023-08-01"
	DefaultTimeout    = 15 * time.Second
)

// Config holds the gateway credentials and endpoint.
type Config struct {
	Environment string
	BaseURL     string
	AppID       string
	Secret      string
	APIVersion  string
	Timeout     time.Duration
}

// BaseURLFor returns the API root for an environment name.
func BaseURLFor(env string) string {
	if env == "production" {
		return ProductionBaseURL
	}
	return SandboxBaseURL
}

// Client talks to the gateway's order API.
type Client struct {
	baseURL    string
	appID      string
	secret     string
	apiVersion string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a Client. Every call is bounded by cfg.Timeout.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = BaseURLFor(cfg.Environment)
	}
	version := cfg.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		appID:      cfg.AppID,
		secret:     cfg.Secret,
		apiVersion: version,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// CreateRemoteOrder opens an order on the gateway under the given correlation id.
func (c *Client) CreateRemoteOrder(ctx context.Context, req CreateOrderRequest) (*RemoteOrder, error) {
	currency := req.Currency
	if currency == "" {
		currency = "INR"
	}
	payload := createOrderPayload{
		OrderID:         req.CorrelationID,
		OrderAmount:     req.Amount,
		OrderCurrency:   currency,
		CustomerDetails: req.Customer.withDefaults(),
		OrderMeta: orderMeta{
			ReturnURL: req.ReturnURL,
			NotifyURL: req.NotifyURL,
		},
		OrderNote: req.Note,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal create order: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/orders", body)
}

// FetchRemoteOrder returns the authoritative state of a remote order.
func (c *Client) FetchRemoteOrder(ctx context.Context, correlationID string) (*RemoteOrder, error) {
	return c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(correlationID), nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*RemoteOrder, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-client-id", c.appID)
	req.Header.Set("x-client-secret", c.secret)
	req.Header.Set("x-api-version", c.apiVersion)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("gateway request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		c.logger.Warn("gateway unavailable",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: %s %s returned %d", ErrTransport, method, path, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &e) == nil {
			apiErr.Code = e.Code
			apiErr.Message = e.Message
		}
		c.logger.Info("gateway rejected request",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code))
		return nil, apiErr
	}

	var order RemoteOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	order.Raw = json.RawMessage(raw)
	return &order, nil
}

// IsTransport reports whether err is a retryable transport failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}
