package admin

import (
	"github.com/gin-gonic/gin"
	"github.com/watchlistpro/cardstore/internal/config"
	apihttp "github.com/watchlistpro/cardstore/internal/http"
	"github.com/watchlistpro/cardstore/internal/http/api/admin/handlers"
	"gorm.io/gorm"
)

// RegisterAdminRoutes registers the health check and admin-only routes.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, cfg *config.Config) {
	if r == nil || db == nil || cfg == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/healthz", healthHandler.Healthz)

	adminOnly := []gin.HandlerFunc{apihttp.UserAuthMiddleware(db, cfg.JWT), apihttp.AdminOnlyMiddleware()}

	userHandler := handlers.NewUserHandler(db, cfg.Auth.MinPasswordLength)
	r.GET("/users-info", append(adminOnly, userHandler.List)...)
	r.POST("/auth/user/update-password", append(adminOnly, userHandler.UpdatePassword)...)

	cardHandler := handlers.NewCardHandler(db)
	cards := r.Group("/cards", adminOnly...)
	cards.GET("", cardHandler.List)
	cards.POST("", cardHandler.Create)
	cards.POST("/batch", cardHandler.BatchCreate)
	cards.POST("/fetch-card-owner", cardHandler.FetchOwner)
	cards.GET("/fetch-cards-owing", cardHandler.ListOwing)
	cards.POST("/settle-cards-owing", cardHandler.SettleOwing)

	settingHandler := handlers.NewSettingHandler(db)
	settingsGroup := r.Group("/admin/settings", adminOnly...)
	settingsGroup.GET("", settingHandler.List)
	settingsGroup.PUT("/:key", settingHandler.Update)
}
