package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	dbutil "github.com/watchlistpro/cardstore/internal/db"
	"github.com/watchlistpro/cardstore/internal/models"
	"gorm.io/gorm"
)

// Inventory errors.
var (
	ErrCardNotFound      = errors.New("card not found")
	ErrInvalidTransition = errors.New("invalid card status transition")
	ErrNotCardOwner      = errors.New("card belongs to another user")
	ErrDuplicateCardNo   = errors.New("card number already exists")
	ErrEmptyBatch        = errors.New("no cards provided")
	ErrOwedNotFound      = errors.New("owed record not found")
	ErrInsufficientCards = errors.New("insufficient cards available")
)

// maxAllocationRounds bounds re-selection when candidates are taken concurrently.
const maxAllocationRounds = 3

var validate = validator.New()

// CardInput is one card to import.
type CardInput struct {
	BatchID  string `json:"batchId" validate:"required"`
	Product  string `json:"product" validate:"required"`
	CardNo   string `json:"cardNo" validate:"required"`
	Account  string `json:"account"`
	Password string `json:"password" validate:"required"`
}

func (in CardInput) normalized() CardInput {
	return CardInput{
		BatchID:  strings.TrimSpace(in.BatchID),
		Product:  strings.TrimSpace(in.Product),
		CardNo:   strings.TrimSpace(in.CardNo),
		Account:  strings.TrimSpace(in.Account),
		Password: strings.TrimSpace(in.Password),
	}
}

// Validate checks required fields.
func (in CardInput) Validate() error {
	return validate.Struct(in.normalized())
}

// BatchError reports why a batch import was rejected. Nothing is inserted when it is returned.
type BatchError struct {
	InvalidCards []string // Card numbers (or positions) missing required fields.
	Duplicates   []string // Card numbers repeated in the batch or already stored.
}

func (e *BatchError) Error() string {
	switch {
	case len(e.InvalidCards) > 0:
		return "some cards have missing required fields"
	case len(e.Duplicates) > 0:
		return "duplicate card numbers found"
	default:
		return "invalid batch"
	}
}

// CreateCard inserts a single card in created status.
func CreateCard(ctx context.Context, db *gorm.DB, input CardInput) (*models.Card, error) {
	in := input.normalized()
	if errValidate := validate.Struct(in); errValidate != nil {
		return nil, errValidate
	}
	var existing int64
	if errCount := db.WithContext(ctx).Model(&models.Card{}).Where("card_no = ?", in.CardNo).Count(&existing).Error; errCount != nil {
		return nil, errCount
	}
	if existing > 0 {
		return nil, ErrDuplicateCardNo
	}
	card := newCard(in)
	if errCreate := db.WithContext(ctx).Create(&card).Error; errCreate != nil {
		return nil, fmt.Errorf("create card: %w", errCreate)
	}
	return &card, nil
}

// CreateBatch validates every card and inserts all of them in one transaction, or none.
func CreateBatch(ctx context.Context, db *gorm.DB, inputs []CardInput) ([]models.Card, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyBatch
	}

	normalized := make([]CardInput, 0, len(inputs))
	var invalid []string
	for i, input := range inputs {
		in := input.normalized()
		if errValidate := validate.Struct(in); errValidate != nil {
			label := in.CardNo
			if label == "" {
				label = fmt.Sprintf("#%d", i+1)
			}
			invalid = append(invalid, label)
			continue
		}
		normalized = append(normalized, in)
	}
	if len(invalid) > 0 {
		return nil, &BatchError{InvalidCards: invalid}
	}

	seen := make(map[string]struct{}, len(normalized))
	cardNos := make([]string, 0, len(normalized))
	var duplicates []string
	for _, in := range normalized {
		if _, ok := seen[in.CardNo]; ok {
			duplicates = append(duplicates, in.CardNo)
			continue
		}
		seen[in.CardNo] = struct{}{}
		cardNos = append(cardNos, in.CardNo)
	}
	if len(duplicates) > 0 {
		return nil, &BatchError{Duplicates: duplicates}
	}

	cards := make([]models.Card, 0, len(normalized))
	for _, in := range normalized {
		cards = append(cards, newCard(in))
	}

	errTx := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []string
		if errFind := tx.Model(&models.Card{}).Where("card_no IN ?", cardNos).Pluck("card_no", &existing).Error; errFind != nil {
			return errFind
		}
		if len(existing) > 0 {
			return &BatchError{Duplicates: existing}
		}
		return tx.CreateInBatches(&cards, 200).Error
	})
	if errTx != nil {
		return nil, errTx
	}
	return cards, nil
}

func newCard(in CardInput) models.Card {
	return models.Card{
		BatchID:  in.BatchID,
		Product:  in.Product,
		CardNo:   in.CardNo,
		Account:  in.Account,
		Password: in.Password,
		Status:   models.CardStatusCreated,
	}
}

// MarkUsed redeems a card for userID. Created cards may be used by anyone;
// sold cards only by their purchaser.
func MarkUsed(ctx context.Context, db *gorm.DB, cardID, userID uint64, now time.Time) (*models.Card, error) {
	var card models.Card
	errTx := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errFind := tx.Clauses(dbutil.ForUpdate()).First(&card, cardID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrCardNotFound
			}
			return errFind
		}
		if !models.CanTransitionCard(card.Status, models.CardStatusUsed) {
			return ErrInvalidTransition
		}
		if card.Status == models.CardStatusSold && (card.PurchasedByID == nil || *card.PurchasedByID != userID) {
			return ErrNotCardOwner
		}
		res := tx.Model(&models.Card{}).
			Where("id = ? AND status = ?", card.ID, card.Status).
			Updates(map[string]any{
				"status":     models.CardStatusUsed,
				"used_by_id": userID,
				"used_at":    now,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrInvalidTransition
		}
		card.Status = models.CardStatusUsed
		card.UsedByID = &userID
		card.UsedAt = &now
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return &card, nil
}
