package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/watchlistpro/cardstore/internal/catalog"
	"github.com/watchlistpro/cardstore/internal/config"
	"github.com/watchlistpro/cardstore/internal/fulfillment"
	apihttp "github.com/watchlistpro/cardstore/internal/http"
	"github.com/watchlistpro/cardstore/internal/models"
	"github.com/watchlistpro/cardstore/internal/payment/payfast"
	"github.com/watchlistpro/cardstore/internal/payment/yoco"
	"github.com/watchlistpro/cardstore/internal/settings"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentHandler creates provider checkouts and records purchases.
type PaymentHandler struct {
	db         *gorm.DB
	cfg        *config.Config
	yoco       *yoco.Client
	reconciler *fulfillment.Reconciler
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(db *gorm.DB, cfg *config.Config, yocoClient *yoco.Client, reconciler *fulfillment.Reconciler) *PaymentHandler {
	return &PaymentHandler{db: db, cfg: cfg, yoco: yocoClient, reconciler: reconciler}
}

// createPaymentRequest is shared by both providers.
type createPaymentRequest struct {
	AmountInCents int64  `json:"amountInCents"`
	Currency      string `json:"currency"`
	Description   string `json:"description"`
	ProductCode   string `json:"productCode"`
}

// paymentIntent is a validated purchase request.
type paymentIntent struct {
	product     catalog.Product
	amountCents int64
	currency    string
	description string
}

// Create dispatches to the default provider.
func (h *PaymentHandler) Create(c *gin.Context) {
	if h.cfg.Payments.DefaultProvider == models.ProviderYoco {
		h.CreateYoco(c)
		return
	}
	h.CreatePayFast(c)
}

// Webhook dispatches to the default provider's webhook.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	if h.cfg.Payments.DefaultProvider == models.ProviderYoco {
		h.YocoWebhook(c)
		return
	}
	h.PayFastWebhook(c)
}

// CreateYoco creates a Yoco hosted checkout and records the pending payment.
func (h *PaymentHandler) CreateYoco(c *gin.Context) {
	intent, ok := h.bindIntent(c)
	if !ok {
		return
	}
	if !h.yoco.Configured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "yoco is not configured"})
		return
	}
	ctx := c.Request.Context()
	userID := getUserID(c)

	existing, errFind := h.findPending(ctx, userID, models.ProviderYoco, intent.product.Code)
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query payments failed"})
		return
	}
	orderID := uuid.NewString()
	if existing != nil {
		orderID = existing.OrderID
	}

	frontend := strings.TrimRight(h.cfg.Server.FrontendURL, "/")
	checkout, errCheckout := h.yoco.CreateCheckout(ctx, yoco.CheckoutRequest{
		Amount:      intent.amountCents,
		Currency:    intent.currency,
		Description: intent.description,
		SuccessURL:  frontend + "/payment/success?orderId=" + orderID,
		CancelURL:   frontend + "/payment/cancel?orderId=" + orderID,
		FailureURL:  frontend + "/payment/failure?orderId=" + orderID,
		Metadata: map[string]string{
			"orderId":     orderID,
			"productCode": intent.product.Code,
			"userId":      fmt.Sprint(userID),
		},
	}, fmt.Sprintf("%s-%d", orderID, intent.amountCents))
	if errCheckout != nil {
		log.WithError(errCheckout).WithField("order_id", orderID).Error("payment: yoco checkout failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "create yoco checkout failed"})
		return
	}

	checkoutID := checkout.ID
	payment, errSave := h.savePending(ctx, existing, models.Payment{
		UserID:      userID,
		Provider:    models.ProviderYoco,
		CheckoutID:  &checkoutID,
		OrderID:     orderID,
		Amount:      intent.amountCents,
		Currency:    intent.currency,
		ProductCode: intent.product.Code,
		Metadata:    datatypes.JSON(checkout.Raw),
	})
	if errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save payment failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":          checkout.ID,
		"redirectUrl": checkout.RedirectURL,
		"status":      checkout.Status,
		"orderId":     payment.OrderID,
		"paymentId":   payment.ID,
		"checkout":    json.RawMessage(checkout.Raw),
	})
}

// CreatePayFast builds the signed PayFast form and records the pending payment.
func (h *PaymentHandler) CreatePayFast(c *gin.Context) {
	intent, ok := h.bindIntent(c)
	if !ok {
		return
	}
	pf := h.cfg.PayFast
	if pf.MerchantID == "" || pf.MerchantKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payfast is not configured"})
		return
	}
	ctx := c.Request.Context()
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	existing, errFind := h.findPending(ctx, user.ID, models.ProviderPayFast, intent.product.Code)
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query payments failed"})
		return
	}
	orderID := uuid.NewString()
	if existing != nil {
		orderID = existing.OrderID
	}

	firstName, lastName := splitName(user.Username)
	frontend := strings.TrimRight(h.cfg.Server.FrontendURL, "/")
	itemName := pf.ItemName
	if itemName == "" {
		itemName = intent.product.Name
	}
	fields := payfast.BuildCheckout(payfast.CheckoutRequest{
		MerchantID:  pf.MerchantID,
		MerchantKey: pf.MerchantKey,
		ReturnURL:   frontend + "/payment/success?orderId=" + orderID,
		CancelURL:   frontend + "/payment/cancel?orderId=" + orderID,
		NotifyURL:   strings.TrimRight(h.cfg.Server.BackendURL, "/") + "/payment/payfast/webhook",
		NameFirst:   firstName,
		NameLast:    lastName,
		Email:       user.Email,
		PaymentID:   orderID,
		AmountCents: intent.amountCents,
		ItemName:    itemName,
		ItemDesc:    intent.description,
		CustomStr1:  intent.product.Code,
	}, pf.Passphrase)

	metadata, _ := json.Marshal(map[string]any{"productCode": intent.product.Code, "itemName": itemName})
	payment, errSave := h.savePending(ctx, existing, models.Payment{
		UserID:      user.ID,
		Provider:    models.ProviderPayFast,
		OrderID:     orderID,
		Amount:      intent.amountCents,
		Currency:    intent.currency,
		ProductCode: intent.product.Code,
		Metadata:    datatypes.JSON(metadata),
	})
	if errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save payment failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"redirectUrl": pf.ProcessURL,
		"paymentData": fields.Map(),
		"fields":      fields,
		"orderId":     payment.OrderID,
		"paymentId":   payment.ID,
	})
}

// purchaseHistoryRequest optionally names another user (admins only).
type purchaseHistoryRequest struct {
	OwnerID uint64 `json:"ownerId"`
}

// PurchaseHistory lists the payments of the caller, or of ownerId for admins.
func (h *PaymentHandler) PurchaseHistory(c *gin.Context) {
	var body purchaseHistoryRequest
	if c.Request.ContentLength > 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	ownerID := user.ID
	if body.OwnerID != 0 && body.OwnerID != user.ID {
		if !user.IsAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		ownerID = body.OwnerID
	}

	var payments []models.Payment
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", ownerID).
		Order("created_at DESC, id DESC").
		Find(&payments).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query payments failed"})
		return
	}
	out := make([]gin.H, 0, len(payments))
	for i := range payments {
		out = append(out, apihttp.PaymentView(&payments[i]))
	}
	c.JSON(http.StatusOK, gin.H{"payments": out})
}

// bindIntent validates the create-payment body against the catalog.
func (h *PaymentHandler) bindIntent(c *gin.Context) (paymentIntent, bool) {
	var body createPaymentRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return paymentIntent{}, false
	}
	if strings.TrimSpace(body.ProductCode) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing productCode"})
		return paymentIntent{}, false
	}
	product, found := catalog.Lookup(body.ProductCode)
	if !found {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown productCode"})
		return paymentIntent{}, false
	}
	amount := body.AmountInCents
	if product.AmountCents > 0 {
		amount = product.AmountCents
	}
	if amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amountInCents must be positive"})
		return paymentIntent{}, false
	}
	currency := strings.ToUpper(strings.TrimSpace(body.Currency))
	if product.Currency != "" {
		currency = product.Currency
	}
	if currency == "" {
		currency = h.cfg.Payments.Currency
	}
	description := strings.TrimSpace(body.Description)
	if description == "" {
		description = product.Name
	}
	return paymentIntent{product: product, amountCents: amount, currency: currency, description: description}, true
}

// dedupeWindow returns the window in which a pending payment is reused.
func (h *PaymentHandler) dedupeWindow() time.Duration {
	if seconds, ok := settings.IntValue(settings.PaymentDedupeWindowSecondsKey); ok {
		return time.Duration(seconds) * time.Second
	}
	return h.cfg.Payments.DedupeWindow
}

// findPending returns a recent created payment for the same user, provider and product.
func (h *PaymentHandler) findPending(ctx context.Context, userID uint64, provider, productCode string) (*models.Payment, error) {
	window := h.dedupeWindow()
	if window <= 0 {
		return nil, nil
	}
	var payment models.Payment
	errFind := h.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND product_code = ? AND status = ? AND created_at >= ?",
			userID, provider, productCode, models.PaymentStatusCreated, time.Now().UTC().Add(-window)).
		Order("created_at DESC, id DESC").
		First(&payment).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if errFind != nil {
		return nil, errFind
	}
	return &payment, nil
}

// savePending updates the reused payment or inserts a new one.
func (h *PaymentHandler) savePending(ctx context.Context, existing *models.Payment, next models.Payment) (*models.Payment, error) {
	if existing == nil {
		next.Status = models.PaymentStatusCreated
		if errCreate := h.db.WithContext(ctx).Create(&next).Error; errCreate != nil {
			return nil, errCreate
		}
		return &next, nil
	}
	updates := map[string]any{
		"amount":     next.Amount,
		"currency":   next.Currency,
		"metadata":   next.Metadata,
		"updated_at": time.Now().UTC(),
	}
	if next.CheckoutID != nil {
		updates["checkout_id"] = *next.CheckoutID
	}
	if errUpdate := h.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", existing.ID).Updates(updates).Error; errUpdate != nil {
		return nil, errUpdate
	}
	if errReload := h.db.WithContext(ctx).First(existing, existing.ID).Error; errReload != nil {
		return nil, errReload
	}
	return existing, nil
}

func splitName(username string) (string, string) {
	parts := strings.Fields(username)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
