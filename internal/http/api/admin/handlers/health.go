package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	dbutil "github.com/watchlistpro/cardstore/internal/db"
	"github.com/watchlistpro/cardstore/internal/inventory"
	"gorm.io/gorm"
)

// HealthHandler serves the health check.
type HealthHandler struct {
	db *gorm.DB
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Healthz pings the database and reports remaining stock.
func (h *HealthHandler) Healthz(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
		return
	}
	if errPing := sqlDB.PingContext(c.Request.Context()); errPing != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "database unreachable"})
		return
	}
	available, errCount := inventory.AvailableCount(c.Request.Context(), h.db)
	if errCount != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "count cards failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":             true,
		"dialect":        dbutil.DialectName(h.db),
		"availableCards": available,
	})
}
