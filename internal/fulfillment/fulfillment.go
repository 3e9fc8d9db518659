package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/watchlistpro/cardstore/internal/catalog"
	dbutil "github.com/watchlistpro/cardstore/internal/db"
	"github.com/watchlistpro/cardstore/internal/inventory"
	"github.com/watchlistpro/cardstore/internal/lock"
	"github.com/watchlistpro/cardstore/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Reconciliation errors.
var (
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrInvalidTransition = errors.New("invalid payment status transition")
	// ErrPaidAfterClose marks a success reported for a failed or cancelled payment.
	ErrPaidAfterClose = errors.New("payment reported paid after it was closed")
)

// lockTTL bounds how long one reconciliation may hold the per-payment lock.
const lockTTL = 30 * time.Second

// Ref identifies the payment a notification refers to.
type Ref struct {
	Provider   string
	CheckoutID string // Yoco checkout id; preferred when set.
	OrderID    string // Our order id (PayFast m_payment_id).
}

func (r Ref) key() string {
	if r.CheckoutID != "" {
		return r.Provider + ":checkout:" + r.CheckoutID
	}
	return r.Provider + ":order:" + r.OrderID
}

// Outcome carries provider details recorded on a succeeded payment.
type Outcome struct {
	ProviderPaymentID string
	ProductCode       string         // Used only when the stored payment has none.
	Metadata          map[string]any // Merged into the stored metadata.
}

// Result describes a reconciled payment.
type Result struct {
	Payment   models.Payment
	Cards     []models.Card
	Shortfall int
	Replayed  bool // The payment had already succeeded; nothing changed.
}

// Notifier is told about completed purchases after commit.
type Notifier interface {
	PurchaseCompleted(ctx context.Context, user models.User, payment models.Payment, cards []models.Card)
}

// Reconciler applies provider notifications to payments and inventory.
type Reconciler struct {
	db       *gorm.DB
	locker   lock.Locker
	notifier Notifier
	now      func() time.Time
}

// NewReconciler wires a Reconciler. notifier may be nil.
func NewReconciler(db *gorm.DB, locker lock.Locker, notifier Notifier) *Reconciler {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &Reconciler{
		db:       db,
		locker:   locker,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Succeed marks the payment succeeded and allocates its cards, recording a CardOwed shortfall.
// Replays for an already succeeded payment return the original allocation with Replayed set.
func (r *Reconciler) Succeed(ctx context.Context, ref Ref, out Outcome) (*Result, error) {
	unlock, errLock := r.locker.Lock(ctx, ref.key(), lockTTL)
	if errLock != nil {
		return nil, fmt.Errorf("lock payment: %w", errLock)
	}
	defer unlock()

	now := r.now()
	var (
		result  Result
		errLate error
	)
	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, errFind := findForUpdate(tx, ref)
		if errFind != nil {
			return errFind
		}
		if payment.Status == models.PaymentStatusSucceeded {
			var cards []models.Card
			if errCards := tx.Where("payment_id = ?", payment.ID).Order("id ASC").Find(&cards).Error; errCards != nil {
				return errCards
			}
			result = Result{Payment: *payment, Cards: cards, Shortfall: payment.CardsOwed, Replayed: true}
			return nil
		}
		if !models.CanTransitionPayment(payment.Status, models.PaymentStatusSucceeded) {
			if errNote := notePaidAfterClose(tx, payment, out, now); errNote != nil {
				return errNote
			}
			result = Result{Payment: *payment}
			errLate = fmt.Errorf("%w: %w: %s -> %s", ErrInvalidTransition, ErrPaidAfterClose, payment.Status, models.PaymentStatusSucceeded)
			return nil
		}

		productCode := payment.ProductCode
		if productCode == "" {
			productCode = strings.TrimSpace(out.ProductCode)
		}
		count := catalog.CardCount(productCode)

		paymentID := payment.ID
		cards, errAlloc := inventory.Allocate(ctx, tx, payment.UserID, count, &paymentID, now)
		if errAlloc != nil {
			return fmt.Errorf("allocate cards: %w", errAlloc)
		}
		shortfall := count - len(cards)
		if _, errOwed := inventory.RecordShortfall(ctx, tx, payment.UserID, shortfall, &paymentID, now); errOwed != nil {
			return fmt.Errorf("record shortfall: %w", errOwed)
		}

		metadata, errMeta := mergeMetadata(payment.Metadata, out.Metadata)
		if errMeta != nil {
			return errMeta
		}
		updates := map[string]any{
			"status":          models.PaymentStatusSucceeded,
			"product_code":    productCode,
			"metadata":        metadata,
			"cards_allocated": len(cards),
			"cards_owed":      shortfall,
			"completed_at":    now,
			"updated_at":      now,
			"error_message":   "",
		}
		if out.ProviderPaymentID != "" {
			updates["provider_payment_id"] = out.ProviderPaymentID
		}
		if errUpdate := tx.Model(&models.Payment{}).Where("id = ?", payment.ID).Updates(updates).Error; errUpdate != nil {
			return errUpdate
		}
		if errReload := tx.First(payment, payment.ID).Error; errReload != nil {
			return errReload
		}
		result = Result{Payment: *payment, Cards: cards, Shortfall: shortfall}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}

	entry := log.WithFields(log.Fields{
		"payment_id": result.Payment.ID,
		"order_id":   result.Payment.OrderID,
		"provider":   result.Payment.Provider,
	})
	if errLate != nil {
		entry.WithFields(log.Fields{
			"status":              result.Payment.Status,
			"provider_payment_id": out.ProviderPaymentID,
		}).Error("fulfillment: paid after close, needs manual reconciliation")
		return nil, errLate
	}
	if result.Replayed {
		entry.Info("fulfillment: replayed notification for succeeded payment ignored")
		return &result, nil
	}
	entry.WithFields(log.Fields{"allocated": len(result.Cards), "owed": result.Shortfall}).Info("fulfillment: payment succeeded")
	r.notify(ctx, result)
	return &result, nil
}

// Fail moves a pending payment to failed or cancelled. Terminal payments are left unchanged.
func (r *Reconciler) Fail(ctx context.Context, ref Ref, status, reason string) (*models.Payment, error) {
	if status != models.PaymentStatusFailed && status != models.PaymentStatusCancelled {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTransition, status)
	}
	unlock, errLock := r.locker.Lock(ctx, ref.key(), lockTTL)
	if errLock != nil {
		return nil, fmt.Errorf("lock payment: %w", errLock)
	}
	defer unlock()

	now := r.now()
	var payment *models.Payment
	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, errFind := findForUpdate(tx, ref)
		if errFind != nil {
			return errFind
		}
		if found.Status == status {
			payment = found
			return nil
		}
		if !models.CanTransitionPayment(found.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, found.Status, status)
		}
		if errUpdate := tx.Model(&models.Payment{}).Where("id = ?", found.ID).Updates(map[string]any{
			"status":        status,
			"error_message": reason,
			"completed_at":  now,
			"updated_at":    now,
		}).Error; errUpdate != nil {
			return errUpdate
		}
		found.Status = status
		found.ErrorMessage = reason
		found.CompletedAt = &now
		payment = found
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	log.WithFields(log.Fields{"order_id": payment.OrderID, "status": status, "reason": reason}).Info("fulfillment: payment not completed")
	return payment, nil
}

func (r *Reconciler) notify(ctx context.Context, result Result) {
	if r.notifier == nil {
		return
	}
	var user models.User
	if errFind := r.db.WithContext(ctx).First(&user, result.Payment.UserID).Error; errFind != nil {
		log.WithError(errFind).WithField("user_id", result.Payment.UserID).Warn("fulfillment: load buyer for receipt failed")
		return
	}
	r.notifier.PurchaseCompleted(ctx, user, result.Payment, result.Cards)
}

func findForUpdate(tx *gorm.DB, ref Ref) (*models.Payment, error) {
	query := tx.Clauses(dbutil.ForUpdate())
	switch {
	case ref.CheckoutID != "":
		query = query.Where("checkout_id = ?", ref.CheckoutID)
	case ref.OrderID != "":
		query = query.Where("order_id = ?", ref.OrderID)
	default:
		return nil, ErrPaymentNotFound
	}
	if ref.Provider != "" {
		query = query.Where("provider = ?", ref.Provider)
	}
	var payment models.Payment
	if errFind := query.First(&payment).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, errFind
	}
	return &payment, nil
}

// notePaidAfterClose keeps the closed status but stores the late success on the row for an operator.
func notePaidAfterClose(tx *gorm.DB, payment *models.Payment, out Outcome, now time.Time) error {
	metadata, errMeta := mergeMetadata(payment.Metadata, map[string]any{
		"paidAfterClose": map[string]any{
			"status":            payment.Status,
			"providerPaymentId": out.ProviderPaymentID,
			"receivedAt":        now.Format(time.RFC3339),
		},
	})
	if errMeta != nil {
		return errMeta
	}
	reason := "paid after " + payment.Status + ", needs manual reconciliation"
	if errUpdate := tx.Model(&models.Payment{}).Where("id = ?", payment.ID).Updates(map[string]any{
		"metadata":      metadata,
		"error_message": reason,
		"updated_at":    now,
	}).Error; errUpdate != nil {
		return errUpdate
	}
	payment.Metadata = metadata
	payment.ErrorMessage = reason
	return nil
}

func mergeMetadata(existing datatypes.JSON, extra map[string]any) (datatypes.JSON, error) {
	merged := map[string]any{}
	if len(existing) > 0 {
		if errDecode := json.Unmarshal(existing, &merged); errDecode != nil {
			merged = map[string]any{}
		}
	}
	for k, v := range extra {
		if v == nil {
			continue
		}
		merged[k] = v
	}
	encoded, errEncode := json.Marshal(merged)
	if errEncode != nil {
		return nil, fmt.Errorf("encode metadata: %w", errEncode)
	}
	return datatypes.JSON(encoded), nil
}
