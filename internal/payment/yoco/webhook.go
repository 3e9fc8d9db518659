package yoco

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Event types handled by the webhook.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
)

// Webhook verification headers.
const (
	HeaderWebhookID        = "webhook-id"
	HeaderWebhookTimestamp = "webhook-timestamp"
	HeaderWebhookSignature = "webhook-signature"
)

// DefaultTolerance bounds the accepted webhook timestamp skew.
const DefaultTolerance = 5 * time.Minute

// Webhook errors.
var (
	ErrMalformedEvent   = errors.New("yoco: malformed event")
	ErrInvalidSignature = errors.New("yoco: invalid webhook signature")
	ErrStaleTimestamp   = errors.New("yoco: webhook timestamp outside tolerance")
)

// Event is a webhook delivery.
type Event struct {
	ID          string        `json:"id"`
	Type        string        `json:"type"`
	CreatedDate string        `json:"createdDate"`
	Payload     *EventPayload `json:"payload"`
}

// EventPayload is the payment object inside an event.
type EventPayload struct {
	ID                   string          `json:"id"`
	Type                 string          `json:"type"`
	CreatedDate          string          `json:"createdDate"`
	Amount               int64           `json:"amount"`
	Currency             string          `json:"currency"`
	Status               string          `json:"status"`
	Mode                 string          `json:"mode"`
	CheckoutID           string          `json:"checkoutId"`
	FailureReason        string          `json:"failureReason"`
	Metadata             map[string]any  `json:"metadata"`
	PaymentMethodDetails json.RawMessage `json:"paymentMethodDetails"`
}

// ParseEvent decodes a webhook body.
func ParseEvent(body []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if strings.TrimSpace(event.Type) == "" || event.Payload == nil {
		return nil, ErrMalformedEvent
	}
	if event.Payload.CorrelationID() == "" {
		return nil, ErrMalformedEvent
	}
	return &event, nil
}

// MetadataString returns a string metadata value.
func (p *EventPayload) MetadataString(key string) string {
	if p == nil || p.Metadata == nil {
		return ""
	}
	switch v := p.Metadata[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// CorrelationID returns the checkout id linking the event to a payment:
// metadata.checkoutId, then checkoutId, then the payment id.
func (p *EventPayload) CorrelationID() string {
	if p == nil {
		return ""
	}
	if id := p.MetadataString("checkoutId"); id != "" {
		return id
	}
	if id := strings.TrimSpace(p.CheckoutID); id != "" {
		return id
	}
	return strings.TrimSpace(p.ID)
}

// VerifyWebhook checks the webhook-signature header against the raw body.
// secret is the "whsec_" prefixed base64 key from the Yoco dashboard.
func VerifyWebhook(secret string, header http.Header, body []byte, now time.Time, tolerance time.Duration) error {
	id := header.Get(HeaderWebhookID)
	timestamp := header.Get(HeaderWebhookTimestamp)
	signatures := header.Get(HeaderWebhookSignature)
	if id == "" || timestamp == "" || signatures == "" {
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if tolerance > 0 {
		skew := now.Sub(time.Unix(unix, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return ErrStaleTimestamp
		}
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(strings.TrimSpace(secret), "whsec_"))
	if err != nil {
		return fmt.Errorf("yoco: decode webhook secret: %w", err)
	}
	expected := Sign(key, id, timestamp, body)
	for _, candidate := range strings.Fields(signatures) {
		version, sig, ok := strings.Cut(candidate, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Sign computes the base64 HMAC-SHA256 of "id.timestamp.body".
func Sign(key []byte, id, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id))
	mac.Write([]byte{'.'})
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
