package inventory

import (
	"context"
	"errors"
	"time"

	dbutil "github.com/watchlistpro/cardstore/internal/db"
	"github.com/watchlistpro/cardstore/internal/models"
	"gorm.io/gorm"
)

// Allocate marks up to count created cards as sold to userID inside tx.
// It returns the cards actually allocated, which may be fewer than count.
// Candidate rows are locked with SKIP LOCKED and the update is conditional on
// status, so concurrent allocations never hand out the same card.
func Allocate(ctx context.Context, tx *gorm.DB, userID uint64, count int, paymentID *uint64, now time.Time) ([]models.Card, error) {
	if count <= 0 {
		return nil, nil
	}
	tx = tx.WithContext(ctx)

	var allocated []models.Card
	for round := 0; round < maxAllocationRounds && len(allocated) < count; round++ {
		var candidates []uint64
		if errFind := tx.Model(&models.Card{}).
			Clauses(dbutil.ForUpdateSkipLocked()).
			Where("status = ?", models.CardStatusCreated).
			Order("id ASC").
			Limit(count-len(allocated)).
			Pluck("id", &candidates).Error; errFind != nil {
			return nil, errFind
		}
		if len(candidates) == 0 {
			break
		}

		res := tx.Model(&models.Card{}).
			Where("id IN ? AND status = ?", candidates, models.CardStatusCreated).
			Updates(map[string]any{
				"status":          models.CardStatusSold,
				"purchased_by_id": userID,
				"purchased_at":    now,
				"payment_id":      paymentID,
				"updated_at":      now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}

		var won []models.Card
		if errFind := tx.Where("id IN ? AND status = ? AND purchased_by_id = ?", candidates, models.CardStatusSold, userID).
			Order("id ASC").
			Find(&won).Error; errFind != nil {
			return nil, errFind
		}
		allocated = append(allocated, won...)
	}
	return allocated, nil
}

// RecordShortfall creates or increments the user's CardOwed record by shortfall.
func RecordShortfall(ctx context.Context, tx *gorm.DB, userID uint64, shortfall int, paymentID *uint64, now time.Time) (*models.CardOwed, error) {
	if shortfall <= 0 {
		return nil, nil
	}
	tx = tx.WithContext(ctx)

	var owed models.CardOwed
	errFind := tx.Clauses(dbutil.ForUpdate()).Where("owed_to_id = ?", userID).Order("id ASC").First(&owed).Error
	switch {
	case errors.Is(errFind, gorm.ErrRecordNotFound):
		owed = models.CardOwed{OwedToID: userID, NumberOfCards: shortfall, PaymentID: paymentID, CreatedAt: now, UpdatedAt: now}
		if errCreate := tx.Create(&owed).Error; errCreate != nil {
			return nil, errCreate
		}
		return &owed, nil
	case errFind != nil:
		return nil, errFind
	}

	if errUpdate := tx.Model(&models.CardOwed{}).Where("id = ?", owed.ID).Updates(map[string]any{
		"number_of_cards": gorm.Expr("number_of_cards + ?", shortfall),
		"payment_id":      paymentID,
		"updated_at":      now,
	}).Error; errUpdate != nil {
		return nil, errUpdate
	}
	owed.NumberOfCards += shortfall
	owed.PaymentID = paymentID
	owed.UpdatedAt = now
	return &owed, nil
}

// SettleOwed allocates the cards of one CardOwed record and deletes it, atomically.
// If inventory cannot cover the whole debt nothing changes and ErrInsufficientCards is returned.
func SettleOwed(ctx context.Context, db *gorm.DB, owedID uint64, now time.Time) ([]models.Card, error) {
	var cards []models.Card
	errTx := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owed models.CardOwed
		if errFind := tx.Clauses(dbutil.ForUpdate()).First(&owed, owedID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrOwedNotFound
			}
			return errFind
		}

		var available int64
		if errCount := tx.Model(&models.Card{}).Where("status = ?", models.CardStatusCreated).Count(&available).Error; errCount != nil {
			return errCount
		}
		if available < int64(owed.NumberOfCards) {
			return ErrInsufficientCards
		}

		allocated, errAlloc := Allocate(ctx, tx, owed.OwedToID, owed.NumberOfCards, owed.PaymentID, now)
		if errAlloc != nil {
			return errAlloc
		}
		if len(allocated) < owed.NumberOfCards {
			return ErrInsufficientCards
		}
		if errDelete := tx.Delete(&models.CardOwed{}, owed.ID).Error; errDelete != nil {
			return errDelete
		}
		cards = allocated
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return cards, nil
}

// AvailableCount returns the number of cards in created status.
func AvailableCount(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&models.Card{}).Where("status = ?", models.CardStatusCreated).Count(&n).Error
	return n, err
}
