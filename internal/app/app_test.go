package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/watchlistpro/cardstore/internal/config"
	"github.com/watchlistpro/cardstore/internal/db"
	"github.com/watchlistpro/cardstore/internal/fulfillment"
	"github.com/watchlistpro/cardstore/internal/http/api/front"
	"github.com/watchlistpro/cardstore/internal/mail"
	"github.com/watchlistpro/cardstore/internal/models"
	"github.com/watchlistpro/cardstore/internal/payment/payfast"
	"github.com/watchlistpro/cardstore/internal/payment/yoco"
	"github.com/watchlistpro/cardstore/internal/settings"
	"gorm.io/gorm"
)

type outbox struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (o *outbox) Send(_ context.Context, msg mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

func (o *outbox) last() (mail.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.sent) == 0 {
		return mail.Message{}, false
	}
	return o.sent[len(o.sent)-1], true
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Open(fmt.Sprintf("file:app_e2e_%d?mode=memory&cache=shared", time.Now().UnixNano()))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	settings.Replace(time.Time{}, nil)
	t.Cleanup(func() { settings.Replace(time.Time{}, nil) })
	return conn
}

func call(t *testing.T, engine *gin.Engine, method, path string, body any, token string) (int, map[string]any) {
	t.Helper()
	var payload []byte
	if body != nil {
		data, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			t.Fatalf("marshal: %v", errMarshal)
		}
		payload = data
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	out := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec.Code, out
}

func TestPurchaseFlowThroughEngine(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn := openTestDB(t)

	cfg := config.Default()
	cfg.JWT.Secret = "e2e-secret"
	cfg.Auth.RequireEmailVerification = false
	cfg.Auth.AdminEmails = []string{"ops@example.com"}
	cfg.PayFast.MerchantID = "10000100"
	cfg.PayFast.MerchantKey = "46f0cd694581a"
	cfg.PayFast.Passphrase = "e2e-pass"

	box := &outbox{}
	engine := NewEngine(front.Deps{
		DB:         conn,
		Config:     cfg,
		Mailer:     box,
		Yoco:       yoco.NewClient("", "", time.Second),
		Reconciler: fulfillment.NewReconciler(conn, nil, fulfillment.NewMailNotifier(box)),
	})

	if code, _ := call(t, engine, http.MethodGet, "/", nil, ""); code != http.StatusOK {
		t.Fatalf("root status = %d", code)
	}
	if code, body := call(t, engine, http.MethodGet, "/missing", nil, ""); code != http.StatusNotFound || body["error"] != "not found" {
		t.Fatalf("no route = %d %v", code, body)
	}

	for _, email := range []string{"ops@example.com", "shopper@example.com"} {
		if code, body := call(t, engine, http.MethodPost, "/auth/user/register", map[string]any{"email": email, "password": "hunter22", "username": "Jane Doe"}, ""); code != http.StatusCreated {
			t.Fatalf("register %s = %d %v", email, code, body)
		}
	}
	_, login := call(t, engine, http.MethodPost, "/auth/user/login", map[string]any{"email": "shopper@example.com", "password": "hunter22"}, "")
	shopper, _ := login["token"].(string)
	_, adminLogin := call(t, engine, http.MethodPost, "/auth/user/login", map[string]any{"email": "ops@example.com", "password": "hunter22"}, "")
	adminToken, _ := adminLogin["token"].(string)
	if !strings.HasPrefix(shopper, "Bearer ") || !strings.HasPrefix(adminToken, "Bearer ") {
		t.Fatalf("tokens = %q %q", shopper, adminToken)
	}

	code, batch := call(t, engine, http.MethodPost, "/cards/batch", map[string]any{"cards": []map[string]any{
		{"batchId": "b1", "product": "WP", "cardNo": "E2E-1", "password": "s1"},
	}}, adminToken)
	if code != http.StatusCreated {
		t.Fatalf("batch = %d %v", code, batch)
	}
	if code, _ = call(t, engine, http.MethodPost, "/cards/batch", map[string]any{"cards": []map[string]any{}}, shopper); code != http.StatusForbidden {
		t.Fatalf("shopper batch status = %d", code)
	}

	code, created := call(t, engine, http.MethodPost, "/payment/create-payment", map[string]any{"productCode": "WP002", "amountInCents": 12500}, shopper)
	if code != http.StatusOK {
		t.Fatalf("create payment = %d %v", code, created)
	}
	orderID, _ := created["orderId"].(string)

	fields := payfast.Fields{
		{Key: "m_payment_id", Value: orderID},
		{Key: "pf_payment_id", Value: "42"},
		{Key: "payment_status", Value: "COMPLETE"},
		{Key: "amount_gross", Value: "125.00"},
	}
	encoded := "m_payment_id=" + url.QueryEscape(orderID) + "&pf_payment_id=42&payment_status=COMPLETE&amount_gross=125.00&signature=" + payfast.ITNSignature(fields, cfg.PayFast.Passphrase)
	req := httptest.NewRequest(http.MethodPost, "/payment/webhook", strings.NewReader(encoded))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), "error") {
		t.Fatalf("webhook = %d %s", rec.Code, rec.Body.String())
	}

	receipt, ok := box.last()
	if !ok || receipt.To != "shopper@example.com" || !strings.Contains(receipt.HTMLBody, "E2E-1") {
		t.Fatalf("receipt = %+v", receipt)
	}

	code, owing := call(t, engine, http.MethodGet, "/cards/fetch-cards-owing", nil, adminToken)
	list, _ := owing["cardsOwing"].([]any)
	if code != http.StatusOK || len(list) != 1 {
		t.Fatalf("owing = %d %v", code, owing)
	}
	entry, _ := list[0].(map[string]any)
	if entry["numberOfCards"] != float64(4) {
		t.Fatalf("owed entry = %v", entry)
	}

	code, health := call(t, engine, http.MethodGet, "/healthz", nil, "")
	if code != http.StatusOK || health["availableCards"] != float64(0) {
		t.Fatalf("healthz = %d %v", code, health)
	}
}

func TestPromoteAdmin(t *testing.T) {
	conn := openTestDB(t)
	user := models.User{Email: "someone@example.com", Password: "x"}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}

	if err := promoteAdmin(context.Background(), conn, "someone@example.com"); err != nil {
		t.Fatalf("promote: %v", err)
	}
	var stored models.User
	conn.First(&stored, user.ID)
	if !stored.IsAdmin {
		t.Fatalf("user not promoted")
	}

	if err := promoteAdmin(context.Background(), conn, "nobody@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}
