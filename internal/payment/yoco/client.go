package yoco

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultAPIURL is the Yoco payments API base.
const DefaultAPIURL = "https://payments.yoco.com/api/"

// ErrNotConfigured is returned when no secret key is set.
var ErrNotConfigured = errors.New("yoco: secret key not configured")

// APIError is a non-2xx response from Yoco.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("yoco: api status %d: %s", e.StatusCode, e.Body)
}

// Client calls the Yoco checkout API.
type Client struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Client. An empty baseURL uses DefaultAPIURL.
func NewClient(secretKey, baseURL string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultAPIURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		secretKey:  strings.TrimSpace(secretKey),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether the client has a secret key.
func (c *Client) Configured() bool {
	return c != nil && c.secretKey != ""
}

// CheckoutRequest is the body of POST /checkouts.
type CheckoutRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	SuccessURL  string            `json:"successUrl,omitempty"`
	CancelURL   string            `json:"cancelUrl,omitempty"`
	FailureURL  string            `json:"failureUrl,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Checkout is the Yoco checkout object.
type Checkout struct {
	ID          string          `json:"id"`
	RedirectURL string          `json:"redirectUrl"`
	Status      string          `json:"status"`
	Amount      int64           `json:"amount"`
	Currency    string          `json:"currency"`
	Raw         json.RawMessage `json:"-"`
}

// CreateCheckout creates a hosted checkout. idempotencyKey is sent as Idempotency-Key.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest, idempotencyKey string) (*Checkout, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"checkouts", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("yoco: create checkout: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("yoco: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var checkout Checkout
	if errDecode := json.Unmarshal(body, &checkout); errDecode != nil {
		return nil, fmt.Errorf("yoco: decode checkout: %w", errDecode)
	}
	if checkout.ID == "" {
		return nil, errors.New("yoco: checkout response missing id")
	}
	checkout.Raw = body
	return &checkout, nil
}
