package fulfillment

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/watchlistpro/cardstore/internal/mail"
	"github.com/watchlistpro/cardstore/internal/models"
)

// MailNotifier emails the buyer a receipt listing the allocated cards.
type MailNotifier struct {
	sender mail.Sender
}

// NewMailNotifier wraps a mail sender.
func NewMailNotifier(sender mail.Sender) *MailNotifier {
	return &MailNotifier{sender: sender}
}

// PurchaseCompleted sends the receipt. Failures are logged only.
func (n *MailNotifier) PurchaseCompleted(ctx context.Context, user models.User, payment models.Payment, cards []models.Card) {
	if n == nil || n.sender == nil || user.Email == "" {
		return
	}
	lines := make([]mail.CardLine, 0, len(cards))
	for _, card := range cards {
		lines = append(lines, mail.CardLine{CardNo: card.CardNo, Password: card.Password, Product: card.Product})
	}
	msg, err := mail.PurchaseReceipt(user.Email, payment.OrderID, lines, payment.CardsOwed)
	if err != nil {
		log.WithError(err).Warn("fulfillment: render receipt failed")
		return
	}
	if errSend := n.sender.Send(ctx, msg); errSend != nil {
		log.WithError(errSend).WithField("order_id", payment.OrderID).Warn("fulfillment: send receipt failed")
	}
}
