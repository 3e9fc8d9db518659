package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/watchlistpro/cardstore/internal/config"
	dbutil "github.com/watchlistpro/cardstore/internal/db"
	"github.com/watchlistpro/cardstore/internal/fulfillment"
	apihttp "github.com/watchlistpro/cardstore/internal/http"
	"github.com/watchlistpro/cardstore/internal/mail"
	"github.com/watchlistpro/cardstore/internal/models"
	"github.com/watchlistpro/cardstore/internal/payment/yoco"
	"github.com/watchlistpro/cardstore/internal/security"
	"github.com/watchlistpro/cardstore/internal/settings"
	"gorm.io/gorm"
)

type captureSender struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (s *captureSender) Send(_ context.Context, msg mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *captureSender) messages() []mail.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mail.Message(nil), s.sent...)
}

type testEnv struct {
	db     *gorm.DB
	cfg    *config.Config
	mailer *captureSender
	router *gin.Engine
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:front_handlers_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("sql db: %v", errDB)
	}
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := dbutil.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	settings.Replace(time.Time{}, nil)
	t.Cleanup(func() { settings.Replace(time.Time{}, nil) })

	cfg := config.Default()
	cfg.Database.DSN = dsn
	cfg.JWT.Secret = "test-secret"
	if mutate != nil {
		mutate(cfg)
	}

	env := &testEnv{db: conn, cfg: cfg, mailer: &captureSender{}}
	env.router = env.routes()
	return env
}

func (e *testEnv) routes() *gin.Engine {
	r := gin.New()
	requireUser := apihttp.UserAuthMiddleware(e.db, e.cfg.JWT)

	authHandler := NewAuthHandler(e.db, e.cfg, e.mailer)
	r.POST("/auth/user/register", authHandler.Register)
	r.POST("/auth/user/verify-email", authHandler.VerifyEmail)
	r.GET("/auth/user/verify-email/:token", authHandler.VerifyEmail)
	r.POST("/auth/user/login", authHandler.Login)
	r.POST("/auth/user/login-web", authHandler.LoginWeb)
	r.POST("/auth/user/logout-web", authHandler.LogoutWeb)
	r.POST("/auth/user/forgot-password", authHandler.ForgotPassword)
	r.POST("/auth/user/reset-password", authHandler.ResetPassword)
	r.GET("/auth/user/fetch-user", requireUser, authHandler.FetchUser)

	cardHandler := NewCardHandler(e.db)
	r.GET("/cards/available", requireUser, cardHandler.Available)
	r.GET("/cards/fetch-user-cards", requireUser, cardHandler.Mine)
	r.POST("/cards/:cardId/use", requireUser, cardHandler.Use)

	r.POST("/error", requireUser, NewErrorReportHandler(e.db).Create)

	reconciler := fulfillment.NewReconciler(e.db, nil, nil)
	yocoClient := yoco.NewClient(e.cfg.Yoco.SecretKey, e.cfg.Yoco.APIURL, e.cfg.Yoco.Timeout)
	paymentHandler := NewPaymentHandler(e.db, e.cfg, yocoClient, reconciler)
	r.GET("/payment/products", Products)
	r.POST("/payment/yoco/webhook", paymentHandler.YocoWebhook)
	r.POST("/payment/payfast/webhook", paymentHandler.PayFastWebhook)
	r.POST("/payment/webhook", paymentHandler.Webhook)
	r.POST("/payment/create-payment", requireUser, paymentHandler.Create)
	r.POST("/payment/yoco/create-payment", requireUser, paymentHandler.CreateYoco)
	r.POST("/payment/payfast/create-payment", requireUser, paymentHandler.CreatePayFast)
	r.POST("/payment/fetch-purchase-history", requireUser, paymentHandler.PurchaseHistory)
	return r
}

func (e *testEnv) seedUser(t *testing.T, email, password string, admin bool) models.User {
	t.Helper()
	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		t.Fatalf("hash: %v", errHash)
	}
	user := models.User{Email: email, Username: "Test User", Password: hash, EmailVerified: true, IsAdmin: admin}
	if errCreate := e.db.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	return user
}

func (e *testEnv) token(t *testing.T, user models.User) string {
	t.Helper()
	token, errToken := security.GenerateToken(e.cfg.JWT.Secret, user.ID, user.Email, time.Hour)
	if errToken != nil {
		t.Fatalf("token: %v", errToken)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		data, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			t.Fatalf("marshal: %v", errMarshal)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doRaw(t *testing.T, path, contentType string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &out); errDecode != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), errDecode)
	}
	return out
}

func (e *testEnv) seedCards(t *testing.T, prefix string, n int) []models.Card {
	t.Helper()
	cards := make([]models.Card, 0, n)
	for i := 0; i < n; i++ {
		card := models.Card{BatchID: "batch-1", Product: "WP", CardNo: fmt.Sprintf("%s-%03d", prefix, i), Password: "secret", Status: models.CardStatusCreated}
		if errCreate := e.db.Create(&card).Error; errCreate != nil {
			t.Fatalf("create card: %v", errCreate)
		}
		cards = append(cards, card)
	}
	return cards
}
