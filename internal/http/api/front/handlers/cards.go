package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	apihttp "github.com/watchlistpro/cardstore/internal/http"
	"github.com/watchlistpro/cardstore/internal/inventory"
	"github.com/watchlistpro/cardstore/internal/models"
	"gorm.io/gorm"
)

// CardHandler serves card endpoints for signed-in users.
type CardHandler struct {
	db *gorm.DB
}

// NewCardHandler constructs a CardHandler.
func NewCardHandler(db *gorm.DB) *CardHandler {
	return &CardHandler{db: db}
}

// Available lists cards that are still in stock. Secrets are not included.
func (h *CardHandler) Available(c *gin.Context) {
	var cards []models.Card
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("status = ?", models.CardStatusCreated).
		Order("id ASC").
		Find(&cards).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query cards failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cards": apihttp.CardViews(cards, false), "count": len(cards)})
}

// Mine lists the cards purchased by the caller, including secrets.
func (h *CardHandler) Mine(c *gin.Context) {
	userID := getUserID(c)
	var cards []models.Card
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("purchased_by_id = ?", userID).
		Order("purchased_at DESC, id DESC").
		Find(&cards).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query cards failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cards": apihttp.CardViews(cards, true)})
}

// Use marks a card as used by the caller.
func (h *CardHandler) Use(c *gin.Context) {
	cardID, errParse := strconv.ParseUint(c.Param("cardId"), 10, 64)
	if errParse != nil || cardID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid card id"})
		return
	}

	card, err := inventory.MarkUsed(c.Request.Context(), h.db, cardID, getUserID(c), time.Now().UTC())
	switch {
	case err == nil:
	case errors.Is(err, inventory.ErrCardNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "card not found"})
		return
	case errors.Is(err, inventory.ErrInvalidTransition), errors.Is(err, inventory.ErrNotCardOwner):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update card failed"})
		return
	}
	c.JSON(http.StatusOK, apihttp.CardView(card, true))
}
