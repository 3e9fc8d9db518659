package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	apihttp "github.com/watchlistpro/cardstore/internal/http"
	"github.com/watchlistpro/cardstore/internal/models"
	"github.com/watchlistpro/cardstore/internal/settings"
	"gorm.io/gorm"
)

// SettingHandler exposes the runtime settings table.
type SettingHandler struct {
	db *gorm.DB
}

// NewSettingHandler constructs a SettingHandler.
func NewSettingHandler(db *gorm.DB) *SettingHandler {
	return &SettingHandler{db: db}
}

// List returns all stored settings.
func (h *SettingHandler) List(c *gin.Context) {
	var rows []models.Setting
	if errFind := h.db.WithContext(c.Request.Context()).Order("key ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list settings failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{"key": row.Key, "value": row.Value, "updatedBy": row.UpdatedBy, "updatedAt": row.UpdatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"settings": out})
}

// updateSettingRequest carries any JSON value.
type updateSettingRequest struct {
	Value json.RawMessage `json:"value"`
}

// Update upserts one setting and refreshes the in-memory snapshot.
func (h *SettingHandler) Update(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing key"})
		return
	}
	var body updateSettingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || len(body.Value) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing value"})
		return
	}
	if key == settings.ProductCatalogKey {
		var probe []map[string]any
		if errDecode := json.Unmarshal(body.Value, &probe); errDecode != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "PRODUCT_CATALOG must be a JSON array"})
			return
		}
	}

	var updatedBy *uint64
	if user, ok := apihttp.CurrentUser(c); ok {
		updatedBy = &user.ID
	}
	row, errUpsert := settings.Upsert(c.Request.Context(), h.db, key, body.Value, updatedBy)
	if errUpsert != nil {
		log.WithError(errUpsert).WithField("key", key).Error("admin: upsert setting failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update setting failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": row.Key, "value": row.Value, "updatedBy": row.UpdatedBy, "updatedAt": row.UpdatedAt})
}
