package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Payment intent status
const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrNotConfigured is returned when no gateway base URL is set
var ErrNotConfigured = errors.New("payment gateway not configured")

// PaymentIntent is the gateway's view of a pending top-up.
type PaymentIntent struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	CheckoutURL  string          `json:"checkout_url,omitempty"`
	ClientSecret string          `json:"client_secret,omitempty"`
}

// Config holds gateway configuration
type Config struct {
	BaseURL  string
	APIKey   string
	Currency string
	Timeout  time.Duration
}

// Client talks to the payment gateway's intent API.
type Client struct {
	baseURL    string
	apiKey     string
	currency   string
	httpClient *http.Client
}

func NewClient(config *Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	currency := config.Currency
	if currency == "" {
		currency = "NGN"
	}
	return &Client{
		baseURL:    config.BaseURL,
		apiKey:     config.APIKey,
		currency:   currency,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// IsConfigured returns true if a gateway endpoint is set
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

// CreatePaymentIntent opens an intent for amount, tagged with the account.
func (c *Client) CreatePaymentIntent(ctx context.Context, accountID string, amount decimal.Decimal) (*PaymentIntent, error) {
	body := map[string]any{
		"amount":   amount.StringFixed(2),
		"currency": c.currency,
		"metadata": map[string]string{"account_id": accountID},
	}

	resp, err := c.makeRequest(ctx, http.MethodPost, "/payment_intents", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	var intent PaymentIntent
	if err := json.Unmarshal(resp, &intent); err != nil {
		return nil, fmt.Errorf("failed to parse payment intent response: %w", err)
	}
	if intent.ID == "" {
		return nil, fmt.Errorf("payment intent response has no id")
	}
	return &intent, nil
}

// GetStatus returns the current status of an intent.
func (c *Client) GetStatus(ctx context.Context, intentID string) (string, error) {
	resp, err := c.makeRequest(ctx, http.MethodGet, "/payment_intents/"+intentID, nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch payment intent: %w", err)
	}

	var intent PaymentIntent
	if err := json.Unmarshal(resp, &intent); err != nil {
		return "", fmt.Errorf("failed to parse payment intent response: %w", err)
	}
	return intent.Status, nil
}

func (c *Client) makeRequest(ctx context.Context, method, path string, data any) ([]byte, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	var reader io.Reader
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("gateway API error: %s - %s", resp.Status, string(respBody))
	}
	return respBody, nil
}
