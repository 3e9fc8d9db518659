package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/watchlistpro/cardstore/internal/fulfillment"
	"github.com/watchlistpro/cardstore/internal/models"
	"github.com/watchlistpro/cardstore/internal/payment/payfast"
	"github.com/watchlistpro/cardstore/internal/payment/yoco"
)

// maxWebhookBody bounds the webhook payload size.
const maxWebhookBody = 1 << 20

// YocoWebhook verifies and applies a Yoco payment event.
func (h *PaymentHandler) YocoWebhook(c *gin.Context) {
	body, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return
	}
	if secret := h.cfg.Yoco.WebhookSecret; secret != "" {
		if errVerify := yoco.VerifyWebhook(secret, c.Request.Header, body, time.Now(), yoco.DefaultTolerance); errVerify != nil {
			log.WithError(errVerify).Warn("payment: rejected yoco webhook")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}
	event, errParse := yoco.ParseEvent(body)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
		return
	}

	ctx := c.Request.Context()
	payload := event.Payload
	ref := fulfillment.Ref{Provider: models.ProviderYoco, CheckoutID: payload.CorrelationID()}
	fallback := fulfillment.Ref{Provider: models.ProviderYoco, OrderID: payload.MetadataString("orderId")}
	entry := log.WithFields(log.Fields{"event_id": event.ID, "type": event.Type, "correlation_id": ref.CheckoutID})

	var errProcess error
	switch event.Type {
	case yoco.EventPaymentSucceeded:
		outcome := fulfillment.Outcome{
			ProviderPaymentID: payload.ID,
			ProductCode:       payload.MetadataString("productCode"),
			Metadata: map[string]any{
				"paymentMethodDetails": rawOrNil(payload.PaymentMethodDetails),
				"mode":                 payload.Mode,
				"completedAt":          time.Now().UTC().Format(time.RFC3339),
			},
		}
		_, errProcess = h.reconciler.Succeed(ctx, ref, outcome)
		if errors.Is(errProcess, fulfillment.ErrPaymentNotFound) && fallback.OrderID != "" {
			_, errProcess = h.reconciler.Succeed(ctx, fallback, outcome)
		}
	case yoco.EventPaymentFailed:
		reason := payload.FailureReason
		if reason == "" {
			reason = "payment failed"
		}
		_, errProcess = h.reconciler.Fail(ctx, ref, models.PaymentStatusFailed, reason)
		if errors.Is(errProcess, fulfillment.ErrPaymentNotFound) && fallback.OrderID != "" {
			_, errProcess = h.reconciler.Fail(ctx, fallback, models.PaymentStatusFailed, reason)
		}
	default:
		entry.Info("payment: ignoring yoco event type")
	}
	acknowledge(c, entry, errProcess)
}

// PayFastWebhook verifies and applies a PayFast ITN.
func (h *PaymentHandler) PayFastWebhook(c *gin.Context) {
	body, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return
	}
	notification, errParse := payfast.ParseNotification(c.ContentType(), body)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed notification"})
		return
	}
	if passphrase := h.cfg.PayFast.Passphrase; passphrase != "" && !notification.VerifySignature(passphrase) {
		log.WithField("order_id", notification.MPaymentID).Warn("payment: rejected payfast notification with bad signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	ctx := c.Request.Context()
	ref := fulfillment.Ref{Provider: models.ProviderPayFast, OrderID: notification.MPaymentID}
	entry := log.WithFields(log.Fields{"order_id": notification.MPaymentID, "payment_status": notification.PaymentStatus})

	var errProcess error
	switch notification.PaymentStatus {
	case payfast.StatusComplete:
		if errProcess = h.checkPayFastAmount(c, notification); errProcess != nil {
			break
		}
		_, errProcess = h.reconciler.Succeed(ctx, ref, fulfillment.Outcome{
			ProviderPaymentID: notification.PFPaymentID,
			ProductCode:       notification.Fields.Get("custom_str1"),
			Metadata: map[string]any{
				"pfPaymentId":          notification.PFPaymentID,
				"paymentMethodDetails": payFastMethod(notification.Fields),
				"amountGross":          notification.AmountGross,
				"amountFee":            notification.Fields.Get("amount_fee"),
				"completedAt":          time.Now().UTC().Format(time.RFC3339),
			},
		})
	case payfast.StatusFailed:
		_, errProcess = h.reconciler.Fail(ctx, ref, models.PaymentStatusFailed, "payfast reported FAILED")
	case payfast.StatusCancelled:
		_, errProcess = h.reconciler.Fail(ctx, ref, models.PaymentStatusCancelled, "payfast reported CANCELLED")
	default:
		entry.Info("payment: ignoring payfast status")
	}
	acknowledge(c, entry, errProcess)
}

// checkPayFastAmount rejects a notification whose gross amount differs from the stored payment.
func (h *PaymentHandler) checkPayFastAmount(c *gin.Context, n *payfast.Notification) error {
	if n.AmountGross == "" {
		return nil
	}
	gross, errParse := decimal.NewFromString(n.AmountGross)
	if errParse != nil {
		return errors.New("invalid amount_gross")
	}
	var payment models.Payment
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("order_id = ? AND provider = ?", n.MPaymentID, models.ProviderPayFast).
		First(&payment).Error; errFind != nil {
		return fulfillment.ErrPaymentNotFound
	}
	if !gross.Equal(decimal.New(payment.Amount, -2)) {
		return errors.New("amount mismatch")
	}
	return nil
}

// acknowledge answers a parsed webhook with 200, attaching any processing error.
func acknowledge(c *gin.Context, entry *log.Entry, errProcess error) {
	if errProcess != nil {
		entry.WithError(errProcess).Warn("payment: webhook processing failed")
		c.JSON(http.StatusOK, gin.H{"received": true, "error": errProcess.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// payFastMethod describes how the buyer paid; last4 is null when PayFast sends none.
func payFastMethod(fields payfast.Fields) map[string]any {
	var last4 any
	if v := strings.TrimSpace(fields.Get("card_last_four")); v != "" {
		last4 = v
	}
	return map[string]any{"type": fields.Get("payment_method"), "last4": last4}
}

func rawOrNil(raw []byte) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.RawMessage(raw)
}
