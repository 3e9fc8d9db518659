package handlers

import (
	"github.com/gin-gonic/gin"
	apihttp "github.com/watchlistpro/cardstore/internal/http"
	"github.com/watchlistpro/cardstore/internal/models"
)

// getUserID extracts the user ID from gin context.
func getUserID(c *gin.Context) uint64 {
	val, exists := c.Get(apihttp.ContextUserIDKey)
	if !exists {
		return 0
	}
	switch v := val.(type) {
	case uint64:
		return v
	case int64:
		return uint64(v)
	case uint:
		return uint64(v)
	case int:
		return uint64(v)
	default:
		return 0
	}
}

// currentUser returns the authenticated user, or nil.
func currentUser(c *gin.Context) *models.User {
	user, ok := apihttp.CurrentUser(c)
	if !ok {
		return nil
	}
	return user
}
