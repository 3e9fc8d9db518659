package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/watchlistpro/cardstore/internal/config"
	"github.com/watchlistpro/cardstore/internal/models"
	"github.com/watchlistpro/cardstore/internal/payment/payfast"
	"github.com/watchlistpro/cardstore/internal/payment/yoco"
	"github.com/watchlistpro/cardstore/internal/settings"
)

const testPassphrase = "jt7NOE43FZPn"

func withPayFast(cfg *config.Config) {
	cfg.PayFast.MerchantID = "10000100"
	cfg.PayFast.MerchantKey = "46f0cd694581a"
	cfg.PayFast.Passphrase = testPassphrase
	cfg.Server.BackendURL = "https://api.example.com"
	cfg.Server.FrontendURL = "https://shop.example.com"
}

// itnBody builds a form-encoded ITN, signed over the fields in the given order.
func itnBody(passphrase string, pairs ...string) []byte {
	var fields payfast.Fields
	values := make([]string, 0, len(pairs)/2+1)
	for i := 0; i+1 < len(pairs); i += 2 {
		fields = append(fields, payfast.Field{Key: pairs[i], Value: pairs[i+1]})
		values = append(values, url.QueryEscape(pairs[i])+"="+url.QueryEscape(pairs[i+1]))
	}
	values = append(values, "signature="+payfast.ITNSignature(fields, passphrase))
	return []byte(strings.Join(values, "&"))
}

func (e *testEnv) createPayFast(t *testing.T, token string, body map[string]any) map[string]any {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/payment/payfast/create-payment", body, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("create payfast status = %d body=%s", rec.Code, rec.Body.String())
	}
	return decodeBody(t, rec)
}

func TestCreatePayFastPaymentReusesPendingPayment(t *testing.T) {
	env := newTestEnv(t, withPayFast)
	user := env.seedUser(t, "pf@example.com", "hunter22", false)
	token := env.token(t, user)

	first := env.createPayFast(t, token, map[string]any{"productCode": "wp002", "amountInCents": 5000})
	data, _ := first["paymentData"].(map[string]any)
	if data["m_payment_id"] != first["orderId"] || data["amount"] != "50.00" || data["signature"] == "" {
		t.Fatalf("paymentData = %v", data)
	}
	if data["notify_url"] != "https://api.example.com/payment/payfast/webhook" || data["name_first"] != "Test" || data["name_last"] != "User" {
		t.Fatalf("paymentData urls/names = %v", data)
	}
	if first["redirectUrl"] != env.cfg.PayFast.ProcessURL {
		t.Fatalf("redirectUrl = %v", first["redirectUrl"])
	}

	second := env.createPayFast(t, token, map[string]any{"productCode": "WP002", "amountInCents": 6000})
	if second["orderId"] != first["orderId"] {
		t.Fatalf("pending payment not reused: %v vs %v", second["orderId"], first["orderId"])
	}
	var payment models.Payment
	env.db.Where("order_id = ?", first["orderId"]).First(&payment)
	if payment.Amount != 6000 || payment.ProductCode != "WP002" || payment.Status != models.PaymentStatusCreated {
		t.Fatalf("payment = %+v", payment)
	}

	other := env.createPayFast(t, token, map[string]any{"productCode": "WP001", "amountInCents": 1000})
	if other["orderId"] == first["orderId"] {
		t.Fatalf("different product must not reuse the payment")
	}

	// A zero window disables reuse.
	settings.Replace(time.Now(), map[string]json.RawMessage{settings.PaymentDedupeWindowSecondsKey: json.RawMessage(`0`)})
	env.cfg.Payments.DedupeWindow = 0
	fresh := env.createPayFast(t, token, map[string]any{"productCode": "WP002", "amountInCents": 6000})
	if fresh["orderId"] == first["orderId"] {
		t.Fatalf("payment reused with dedupe disabled")
	}

	var count int64
	env.db.Model(&models.Payment{}).Count(&count)
	if count != 3 {
		t.Fatalf("payments = %d, want 3", count)
	}
}

func TestCreatePaymentValidation(t *testing.T) {
	env := newTestEnv(t, withPayFast)
	token := env.token(t, env.seedUser(t, "v@example.com", "hunter22", false))

	cases := []map[string]any{
		{"amountInCents": 100},
		{"productCode": "NOPE", "amountInCents": 100},
		{"productCode": "WP001", "amountInCents": 0},
	}
	for _, body := range cases {
		if rec := env.do(t, http.MethodPost, "/payment/create-payment", body, token); rec.Code != http.StatusBadRequest {
			t.Fatalf("body %v status = %d", body, rec.Code)
		}
	}
	if rec := env.do(t, http.MethodPost, "/payment/create-payment", map[string]any{"productCode": "WP001", "amountInCents": 100}, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", rec.Code)
	}

	settings.Replace(time.Now(), map[string]json.RawMessage{
		settings.ProductCatalogKey: json.RawMessage(`[{"code":"WP001","name":"One","cardCount":1,"amountCents":4999}]`),
	})
	rec := env.do(t, http.MethodPost, "/payment/create-payment", map[string]any{"productCode": "WP001", "amountInCents": 1}, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("catalog priced status = %d", rec.Code)
	}
	data, _ := decodeBody(t, rec)["paymentData"].(map[string]any)
	if data["amount"] != "49.99" {
		t.Fatalf("catalog price not applied: %v", data["amount"])
	}
}

func TestCreatePayFastRequiresMerchant(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.token(t, env.seedUser(t, "nm@example.com", "hunter22", false))
	rec := env.do(t, http.MethodPost, "/payment/payfast/create-payment", map[string]any{"productCode": "WP001", "amountInCents": 100}, token)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPayFastWebhookAllocatesCardsAndRecordsShortfall(t *testing.T) {
	env := newTestEnv(t, withPayFast)
	user := env.seedUser(t, "buyer@example.com", "hunter22", false)
	token := env.token(t, user)
	env.seedCards(t, "PF", 3)

	created := env.createPayFast(t, token, map[string]any{"productCode": "WP002", "amountInCents": 5000})
	orderID, _ := created["orderId"].(string)

	body := itnBody(testPassphrase,
		"m_payment_id", orderID,
		"pf_payment_id", "1089250",
		"payment_status", "COMPLETE",
		"item_name", "Watchlist Pro Subscription",
		"amount_gross", "50.00",
		"amount_fee", "-2.30",
		"custom_str1", "WP002",
		"custom_str2", "",
		"name_first", "Test",
		"name_last", "",
		"payment_method", "cc",
		"card_last_four", "4242",
	)
	for attempt := 0; attempt < 2; attempt++ {
		rec := env.doRaw(t, "/payment/payfast/webhook", "application/x-www-form-urlencoded", body, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d status = %d body=%s", attempt, rec.Code, rec.Body.String())
		}
		resp := decodeBody(t, rec)
		if resp["received"] != true || resp["error"] != nil {
			t.Fatalf("attempt %d body = %v", attempt, resp)
		}
	}

	var payment models.Payment
	env.db.Where("order_id = ?", orderID).First(&payment)
	if payment.Status != models.PaymentStatusSucceeded || payment.ProviderPaymentID != "1089250" || payment.CardsAllocated != 3 || payment.CardsOwed != 2 {
		t.Fatalf("payment = %+v", payment)
	}
	var metadata struct {
		PaymentMethodDetails struct {
			Type  string  `json:"type"`
			Last4 *string `json:"last4"`
		} `json:"paymentMethodDetails"`
	}
	if errDecode := json.Unmarshal(payment.Metadata, &metadata); errDecode != nil {
		t.Fatalf("decode metadata: %v", errDecode)
	}
	if metadata.PaymentMethodDetails.Type != "cc" || metadata.PaymentMethodDetails.Last4 == nil || *metadata.PaymentMethodDetails.Last4 != "4242" {
		t.Fatalf("payment method metadata = %s", payment.Metadata)
	}

	rec := env.do(t, http.MethodGet, "/cards/fetch-user-cards", nil, token)
	var mine struct {
		Cards []map[string]any `json:"cards"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &mine); errDecode != nil || len(mine.Cards) != 3 {
		t.Fatalf("user cards = %s", rec.Body.String())
	}
	if mine.Cards[0]["password"] != "secret" {
		t.Fatalf("purchaser should see card secrets: %v", mine.Cards[0])
	}

	var owed []models.CardOwed
	env.db.Find(&owed)
	if len(owed) != 1 || owed[0].OwedToID != user.ID || owed[0].NumberOfCards != 2 {
		t.Fatalf("owed = %+v", owed)
	}
}

func TestPayFastWebhookRejections(t *testing.T) {
	env := newTestEnv(t, withPayFast)
	user := env.seedUser(t, "rej@example.com", "hunter22", false)
	created := env.createPayFast(t, env.token(t, user), map[string]any{"productCode": "WP001", "amountInCents": 1000})
	orderID, _ := created["orderId"].(string)

	forged := itnBody("wrong-passphrase", "m_payment_id", orderID, "payment_status", "COMPLETE", "amount_gross", "10.00")
	if rec := env.doRaw(t, "/payment/payfast/webhook", "application/x-www-form-urlencoded", forged, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged status = %d", rec.Code)
	}

	malformed := itnBody(testPassphrase, "pf_payment_id", "1")
	if rec := env.doRaw(t, "/payment/payfast/webhook", "application/x-www-form-urlencoded", malformed, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed status = %d", rec.Code)
	}

	mismatch := itnBody(testPassphrase, "m_payment_id", orderID, "payment_status", "COMPLETE", "amount_gross", "1.00")
	rec := env.doRaw(t, "/payment/payfast/webhook", "application/x-www-form-urlencoded", mismatch, nil)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["error"] != "amount mismatch" {
		t.Fatalf("mismatch status = %d body=%s", rec.Code, rec.Body.String())
	}

	unknown := itnBody(testPassphrase, "m_payment_id", "no-such-order", "payment_status", "CANCELLED")
	rec = env.doRaw(t, "/payment/payfast/webhook", "application/x-www-form-urlencoded", unknown, nil)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["error"] == nil {
		t.Fatalf("unknown order status = %d body=%s", rec.Code, rec.Body.String())
	}

	cancelled := itnBody(testPassphrase, "m_payment_id", orderID, "payment_status", "CANCELLED")
	if rec = env.doRaw(t, "/payment/webhook", "application/x-www-form-urlencoded", cancelled, nil); rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", rec.Code)
	}
	var payment models.Payment
	env.db.Where("order_id = ?", orderID).First(&payment)
	if payment.Status != models.PaymentStatusCancelled {
		t.Fatalf("payment status = %s", payment.Status)
	}

	// Success after cancellation is acknowledged with an error and changes nothing.
	late := itnBody(testPassphrase, "m_payment_id", orderID, "payment_status", "COMPLETE", "amount_gross", "10.00")
	rec = env.doRaw(t, "/payment/payfast/webhook", "application/x-www-form-urlencoded", late, nil)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["error"] == nil {
		t.Fatalf("late success status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func yocoServer(t *testing.T, checkoutID string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/checkouts" || r.Header.Get("Authorization") != "Bearer sk_test_123" {
			t.Errorf("unexpected yoco request %s auth=%q", r.URL.Path, r.Header.Get("Authorization"))
		}
		var req yoco.CheckoutRequest
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &req)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":%q,"redirectUrl":"https://c.yoco.com/checkout/%s","status":"created","amount":%d,"currency":%q}`,
			checkoutID, checkoutID, req.Amount, req.Currency)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func signedYocoHeader(t *testing.T, secretKey []byte, body []byte) http.Header {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	header := http.Header{}
	header.Set(yoco.HeaderWebhookID, "msg_"+ts)
	header.Set(yoco.HeaderWebhookTimestamp, ts)
	header.Set(yoco.HeaderWebhookSignature, "v1,"+yoco.Sign(secretKey, "msg_"+ts, ts, body))
	return header
}

func TestYocoCheckoutAndWebhook(t *testing.T) {
	webhookKey := []byte("yoco-webhook-key")
	srv, calls := yocoServer(t, "ch_abc")
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Yoco.SecretKey = "sk_test_123"
		cfg.Yoco.APIURL = srv.URL
		cfg.Yoco.WebhookSecret = "whsec_" + base64.StdEncoding.EncodeToString(webhookKey)
		cfg.Payments.DefaultProvider = models.ProviderYoco
	})
	user := env.seedUser(t, "yoco@example.com", "hunter22", false)
	token := env.token(t, user)
	env.seedCards(t, "YC", 2)

	rec := env.do(t, http.MethodPost, "/payment/create-payment", map[string]any{"productCode": "WP001", "amountInCents": 2500, "currency": "zar"}, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("create yoco status = %d body=%s", rec.Code, rec.Body.String())
	}
	created := decodeBody(t, rec)
	if created["id"] != "ch_abc" || created["redirectUrl"] == "" || calls.Load() != 1 {
		t.Fatalf("checkout response = %v", created)
	}
	var payment models.Payment
	env.db.Where("order_id = ?", created["orderId"]).First(&payment)
	if payment.CheckoutID == nil || *payment.CheckoutID != "ch_abc" || payment.Currency != "ZAR" || payment.Provider != models.ProviderYoco {
		t.Fatalf("payment = %+v", payment)
	}

	event := []byte(`{"id":"evt_1","type":"payment.succeeded","createdDate":"2024-01-01T00:00:00Z","payload":{"id":"p_1","type":"payment","amount":2500,"currency":"ZAR","status":"succeeded","mode":"test","metadata":{"checkoutId":"ch_abc","productCode":"WP001"},"paymentMethodDetails":{"type":"card"}}}`)

	if rec = env.doRaw(t, "/payment/yoco/webhook", "application/json", event, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned webhook status = %d", rec.Code)
	}

	rec = env.doRaw(t, "/payment/webhook", "application/json", event, signedYocoHeader(t, webhookKey, event))
	if rec.Code != http.StatusOK || decodeBody(t, rec)["error"] != nil {
		t.Fatalf("webhook status = %d body=%s", rec.Code, rec.Body.String())
	}

	env.db.First(&payment, payment.ID)
	if payment.Status != models.PaymentStatusSucceeded || payment.ProviderPaymentID != "p_1" || payment.CardsAllocated != 1 {
		t.Fatalf("payment after webhook = %+v", payment)
	}
	if !strings.Contains(string(payment.Metadata), `"mode":"test"`) {
		t.Fatalf("metadata = %s", payment.Metadata)
	}

	if rec = env.doRaw(t, "/payment/yoco/webhook", "application/json", []byte(`{"type":"payment.succeeded"}`), signedYocoHeader(t, webhookKey, []byte(`{"type":"payment.succeeded"}`))); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed event status = %d", rec.Code)
	}
}

func TestYocoPaymentFailed(t *testing.T) {
	srv, _ := yocoServer(t, "ch_fail")
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Yoco.SecretKey = "sk_test_123"
		cfg.Yoco.APIURL = srv.URL
	})
	token := env.token(t, env.seedUser(t, "f@example.com", "hunter22", false))
	rec := env.do(t, http.MethodPost, "/payment/yoco/create-payment", map[string]any{"productCode": "WP003", "amountInCents": 9900}, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d", rec.Code)
	}

	event := []byte(`{"id":"evt_2","type":"payment.failed","payload":{"id":"p_2","status":"failed","checkoutId":"ch_fail","failureReason":"card declined"}}`)
	rec = env.doRaw(t, "/payment/yoco/webhook", "application/json", event, nil)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["error"] != nil {
		t.Fatalf("failed webhook status = %d body=%s", rec.Code, rec.Body.String())
	}
	var payment models.Payment
	env.db.Where("checkout_id = ?", "ch_fail").First(&payment)
	if payment.Status != models.PaymentStatusFailed || payment.ErrorMessage != "card declined" {
		t.Fatalf("payment = %+v", payment)
	}
}

func TestPurchaseHistoryOwnerScope(t *testing.T) {
	env := newTestEnv(t, withPayFast)
	alice := env.seedUser(t, "alice@example.com", "hunter22", false)
	bob := env.seedUser(t, "bob@example.com", "hunter22", false)
	admin := env.seedUser(t, "admin@example.com", "hunter22", true)
	env.createPayFast(t, env.token(t, alice), map[string]any{"productCode": "WP001", "amountInCents": 1000})

	rec := env.do(t, http.MethodPost, "/payment/fetch-purchase-history", nil, env.token(t, alice))
	var own struct {
		Payments []map[string]any `json:"payments"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &own); errDecode != nil || len(own.Payments) != 1 {
		t.Fatalf("own history = %s", rec.Body.String())
	}

	if rec = env.do(t, http.MethodPost, "/payment/fetch-purchase-history", map[string]any{"ownerId": alice.ID}, env.token(t, bob)); rec.Code != http.StatusForbidden {
		t.Fatalf("foreign history status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/payment/fetch-purchase-history", map[string]any{"ownerId": alice.ID}, env.token(t, admin))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"productCode":"WP001"`) {
		t.Fatalf("admin history status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestProductsListsCatalog(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/payment/products", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "WP003") {
		t.Fatalf("products status = %d body=%s", rec.Code, rec.Body.String())
	}
}
