package payfast

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// Process URLs for the hosted payment page.
const (
	LiveProcessURL    = "https://www.payfast.co.za/eng/process"
	SandboxProcessURL = "https://sandbox.payfast.co.za/eng/process"
)

// ITN payment_status values.
const (
	StatusComplete  = "COMPLETE"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

// ErrMalformedNotification is returned when an ITN body cannot be parsed.
var ErrMalformedNotification = errors.New("payfast: malformed notification")

// Field is one name/value pair. PayFast signs fields in the order they are sent.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Fields is an ordered parameter list.
type Fields []Field

// Get returns the value of key, or "".
func (f Fields) Get(key string) string {
	for _, field := range f {
		if field.Key == key {
			return field.Value
		}
	}
	return ""
}

// Map flattens the fields for JSON responses.
func (f Fields) Map() map[string]string {
	out := make(map[string]string, len(f))
	for _, field := range f {
		out[field.Key] = field.Value
	}
	return out
}

// Signature computes the checkout form signature over the fields in their given order.
// Empty values and any "signature" field are skipped; a non-empty passphrase is appended.
func Signature(fields Fields, passphrase string) string {
	pairs := make(Fields, 0, len(fields))
	for _, field := range fields {
		value := strings.TrimSpace(field.Value)
		if field.Key == "signature" || value == "" {
			continue
		}
		pairs = append(pairs, Field{Key: field.Key, Value: value})
	}
	return digest(pairs, passphrase)
}

// ITNSignature computes the signature of a received notification: every posted field
// except "signature", in the order received, empty values included and untrimmed.
func ITNSignature(fields Fields, passphrase string) string {
	pairs := make(Fields, 0, len(fields))
	for _, field := range fields {
		if field.Key == "signature" {
			continue
		}
		pairs = append(pairs, field)
	}
	return digest(pairs, passphrase)
}

func digest(pairs Fields, passphrase string) string {
	var b strings.Builder
	for i, field := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(field.Key)
		b.WriteByte('=')
		b.WriteString(encode(field.Value))
	}
	if passphrase = strings.TrimSpace(passphrase); passphrase != "" {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString("passphrase=")
		b.WriteString(encode(passphrase))
	}
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// encode matches PHP urlencode: spaces as '+', upper-case hex, '~' escaped.
func encode(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "~", "%7E")
}

// FormatAmount renders cents as a rand amount with two decimals.
func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// CheckoutRequest describes a hosted payment page submission.
type CheckoutRequest struct {
	MerchantID  string
	MerchantKey string
	ReturnURL   string
	CancelURL   string
	NotifyURL   string
	NameFirst   string
	NameLast    string
	Email       string
	PaymentID   string // m_payment_id, our order id.
	AmountCents int64
	ItemName    string
	ItemDesc    string
	CustomStr1  string
}

// BuildCheckout returns the form fields in PayFast's documented order, signature last.
func BuildCheckout(req CheckoutRequest, passphrase string) Fields {
	fields := Fields{
		{Key: "merchant_id", Value: req.MerchantID},
		{Key: "merchant_key", Value: req.MerchantKey},
		{Key: "return_url", Value: req.ReturnURL},
		{Key: "cancel_url", Value: req.CancelURL},
		{Key: "notify_url", Value: req.NotifyURL},
		{Key: "name_first", Value: req.NameFirst},
		{Key: "name_last", Value: req.NameLast},
		{Key: "email_address", Value: req.Email},
		{Key: "m_payment_id", Value: req.PaymentID},
		{Key: "amount", Value: FormatAmount(req.AmountCents)},
		{Key: "item_name", Value: req.ItemName},
		{Key: "item_description", Value: req.ItemDesc},
		{Key: "custom_str1", Value: req.CustomStr1},
	}
	out := make(Fields, 0, len(fields)+1)
	for _, field := range fields {
		if strings.TrimSpace(field.Value) != "" {
			out = append(out, field)
		}
	}
	return append(out, Field{Key: "signature", Value: Signature(out, passphrase)})
}

// Notification is a parsed ITN.
type Notification struct {
	Fields        Fields
	PaymentStatus string
	MPaymentID    string
	PFPaymentID   string
	AmountGross   string
	Signature     string
}

// ParseNotification parses a form-encoded or JSON ITN body, keeping field order.
func ParseNotification(contentType string, body []byte) (*Notification, error) {
	var (
		fields Fields
		err    error
	)
	if strings.Contains(strings.ToLower(contentType), "json") {
		fields, err = parseJSONFields(body)
	} else {
		fields, err = parseFormFields(string(body))
	}
	if err != nil {
		return nil, err
	}
	n := &Notification{
		Fields:        fields,
		PaymentStatus: strings.ToUpper(strings.TrimSpace(fields.Get("payment_status"))),
		MPaymentID:    strings.TrimSpace(fields.Get("m_payment_id")),
		PFPaymentID:   strings.TrimSpace(fields.Get("pf_payment_id")),
		AmountGross:   fields.Get("amount_gross"),
		Signature:     strings.ToLower(strings.TrimSpace(fields.Get("signature"))),
	}
	if n.PaymentStatus == "" || n.MPaymentID == "" {
		return nil, ErrMalformedNotification
	}
	return n, nil
}

// VerifySignature recomputes the ITN signature over the received fields.
func (n *Notification) VerifySignature(passphrase string) bool {
	if n == nil || n.Signature == "" {
		return false
	}
	return ITNSignature(n.Fields, passphrase) == n.Signature
}

func parseFormFields(body string) (Fields, error) {
	var fields Fields
	for _, pair := range strings.Split(body, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, errKey := url.QueryUnescape(rawKey)
		if errKey != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, errKey)
		}
		value, errValue := url.QueryUnescape(rawValue)
		if errValue != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, errValue)
		}
		fields = append(fields, Field{Key: key, Value: value})
	}
	if len(fields) == 0 {
		return nil, ErrMalformedNotification
	}
	return fields, nil
}

// parseJSONFields walks a flat JSON object token by token to keep key order.
func parseJSONFields(body []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil, ErrMalformedNotification
	}
	var fields Fields
	for dec.More() {
		keyTok, errKey := dec.Token()
		if errKey != nil {
			return nil, ErrMalformedNotification
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, ErrMalformedNotification
		}
		var raw json.RawMessage
		if errValue := dec.Decode(&raw); errValue != nil {
			return nil, ErrMalformedNotification
		}
		fields = append(fields, Field{Key: key, Value: jsonScalar(raw)})
	}
	if _, errEnd := dec.Token(); errEnd != nil && errEnd != io.EOF {
		return nil, ErrMalformedNotification
	}
	return fields, nil
}

func jsonScalar(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "null" {
		return ""
	}
	return trimmed
}
