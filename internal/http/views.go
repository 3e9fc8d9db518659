package http

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/watchlistpro/cardstore/internal/models"
)

// UserView renders a user without secrets.
func UserView(u *models.User) gin.H {
	if u == nil {
		return nil
	}
	return gin.H{
		"id":              u.ID,
		"username":        u.Username,
		"phone":           u.Phone,
		"email":           u.Email,
		"avatar":          u.Avatar,
		"emailVerified":   u.EmailVerified,
		"passwordUpdated": u.PasswordUpdated,
		"isAdmin":         u.IsAdmin,
		"createdAt":       u.CreatedAt,
	}
}

// CardView renders a card. The password is included only when revealSecret is set.
func CardView(card *models.Card, revealSecret bool) gin.H {
	out := gin.H{
		"id":          card.ID,
		"batchId":     card.BatchID,
		"product":     card.Product,
		"cardNo":      card.CardNo,
		"account":     card.Account,
		"status":      card.Status,
		"usedBy":      card.UsedByID,
		"usedAt":      formatTime(card.UsedAt),
		"purchasedBy": card.PurchasedByID,
		"purchasedAt": formatTime(card.PurchasedAt),
		"paymentId":   card.PaymentID,
		"createdAt":   card.CreatedAt,
	}
	if revealSecret {
		out["password"] = card.Password
	}
	return out
}

// CardViews renders a slice of cards.
func CardViews(cards []models.Card, revealSecret bool) []gin.H {
	out := make([]gin.H, 0, len(cards))
	for i := range cards {
		out = append(out, CardView(&cards[i], revealSecret))
	}
	return out
}

// PaymentView renders a payment.
func PaymentView(p *models.Payment) gin.H {
	var metadata any
	if len(p.Metadata) > 0 {
		_ = json.Unmarshal(p.Metadata, &metadata)
	}
	return gin.H{
		"id":                p.ID,
		"userId":            p.UserID,
		"provider":          p.Provider,
		"checkoutId":        p.CheckoutID,
		"orderId":           p.OrderID,
		"amount":            p.Amount,
		"currency":          p.Currency,
		"productCode":       p.ProductCode,
		"status":            p.Status,
		"providerPaymentId": p.ProviderPaymentID,
		"metadata":          metadata,
		"errorMessage":      p.ErrorMessage,
		"cardsAllocated":    p.CardsAllocated,
		"cardsOwed":         p.CardsOwed,
		"completedAt":       formatTime(p.CompletedAt),
		"createdAt":         p.CreatedAt,
		"updatedAt":         p.UpdatedAt,
	}
}

// CardOwedView renders an owed record with its creditor when preloaded.
func CardOwedView(o *models.CardOwed) gin.H {
	return gin.H{
		"id":            o.ID,
		"owedTo":        o.OwedToID,
		"user":          UserView(o.OwedTo),
		"numberOfCards": o.NumberOfCards,
		"paymentId":     o.PaymentID,
		"createdAt":     o.CreatedAt,
		"updatedAt":     o.UpdatedAt,
	}
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
