package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	dbutil "github.com/watchlistpro/cardstore/internal/db"
	apihttp "github.com/watchlistpro/cardstore/internal/http"
	"github.com/watchlistpro/cardstore/internal/inventory"
	"github.com/watchlistpro/cardstore/internal/models"
	"gorm.io/gorm"
)

// CardHandler handles admin operations on the card inventory.
type CardHandler struct {
	db *gorm.DB
}

// NewCardHandler constructs a CardHandler.
func NewCardHandler(db *gorm.DB) *CardHandler {
	return &CardHandler{db: db}
}

// Create inserts a single card.
func (h *CardHandler) Create(c *gin.Context) {
	var body inventory.CardInput
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errValidate := body.Validate(); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batchId, product, cardNo and password are required"})
		return
	}
	card, errCreate := inventory.CreateCard(c.Request.Context(), h.db, body)
	if errCreate != nil {
		if errors.Is(errCreate, inventory.ErrDuplicateCardNo) {
			c.JSON(http.StatusConflict, gin.H{"error": errCreate.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create card failed"})
		return
	}
	c.JSON(http.StatusCreated, apihttp.CardView(card, true))
}

// batchCreateRequest carries the cards of one import.
type batchCreateRequest struct {
	Cards []inventory.CardInput `json:"cards"`
}

// BatchCreate imports a batch of cards in one transaction. Any invalid or duplicate card rejects the batch.
func (h *CardHandler) BatchCreate(c *gin.Context) {
	var body batchCreateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	cards, errCreate := inventory.CreateBatch(c.Request.Context(), h.db, body.Cards)
	if errCreate != nil {
		var batchErr *inventory.BatchError
		switch {
		case errors.Is(errCreate, inventory.ErrEmptyBatch):
			c.JSON(http.StatusBadRequest, gin.H{"error": errCreate.Error()})
		case errors.As(errCreate, &batchErr):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":        batchErr.Error(),
				"invalidCards": batchErr.InvalidCards,
				"duplicates":   batchErr.Duplicates,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "batch create cards failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "cards created",
		"count":   len(cards),
		"cards":   apihttp.CardViews(cards, true),
	})
}

// List returns cards filtered by query parameters.
func (h *CardHandler) List(c *gin.Context) {
	var (
		statusQ  = strings.TrimSpace(c.Query("status"))
		productQ = strings.TrimSpace(c.Query("product"))
		batchQ   = strings.TrimSpace(c.Query("batch_id"))
		cardNoQ  = strings.TrimSpace(c.Query("card_no"))
		ownerQ   = strings.TrimSpace(c.Query("purchased_by"))
	)

	q := h.db.WithContext(c.Request.Context()).Model(&models.Card{})
	if statusQ != "" {
		q = q.Where("status = ?", statusQ)
	}
	if productQ != "" {
		q = q.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "product"), dbutil.NormalizeLikePattern(h.db, productQ))
	}
	if batchQ != "" {
		q = q.Where("batch_id = ?", batchQ)
	}
	if cardNoQ != "" {
		q = q.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "card_no"), dbutil.NormalizeLikePattern(h.db, cardNoQ))
	}
	if ownerQ != "" {
		ownerID, errParse := strconv.ParseUint(ownerQ, 10, 64)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid purchased_by"})
			return
		}
		q = q.Where("purchased_by_id = ?", ownerID)
	}

	var cards []models.Card
	if errFind := q.Order("id DESC").Find(&cards).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list cards failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cards": apihttp.CardViews(cards, true), "count": len(cards)})
}

// fetchOwnerRequest names the user to load.
type fetchOwnerRequest struct {
	OwnerID uint64 `json:"ownerId"`
}

// FetchOwner returns the user who owns a card.
func (h *CardHandler) FetchOwner(c *gin.Context) {
	var body fetchOwnerRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || body.OwnerID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing ownerId"})
		return
	}
	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, body.OwnerID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": apihttp.UserView(&user)})
}

// ListOwing returns every outstanding CardOwed record.
func (h *CardHandler) ListOwing(c *gin.Context) {
	owing, errList := h.listOwing(c)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list cards owing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cardsOwing": owing})
}

// settleOwingRequest names the CardOwed record to settle.
type settleOwingRequest struct {
	ID uint64 `json:"_id"`
}

// SettleOwing allocates in-stock cards to a creditor and removes the debt.
func (h *CardHandler) SettleOwing(c *gin.Context) {
	var body settleOwingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || body.ID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing _id"})
		return
	}
	cards, errSettle := inventory.SettleOwed(c.Request.Context(), h.db, body.ID, time.Now().UTC())
	if errSettle != nil {
		switch {
		case errors.Is(errSettle, inventory.ErrOwedNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": errSettle.Error()})
		case errors.Is(errSettle, inventory.ErrInsufficientCards):
			c.JSON(http.StatusConflict, gin.H{"error": "Insufficient cards available"})
		default:
			log.WithError(errSettle).WithField("owed_id", body.ID).Error("admin: settle cards owing failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "settle cards owing failed"})
		}
		return
	}

	owing, errList := h.listOwing(c)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list cards owing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "cards owing settled",
		"cards":      apihttp.CardViews(cards, true),
		"cardsOwing": owing,
	})
}

func (h *CardHandler) listOwing(c *gin.Context) ([]gin.H, error) {
	var rows []models.CardOwed
	if errFind := h.db.WithContext(c.Request.Context()).
		Preload("OwedTo").
		Order("created_at ASC, id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, apihttp.CardOwedView(&rows[i]))
	}
	return out, nil
}
