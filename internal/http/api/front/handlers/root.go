package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/watchlistpro/cardstore/internal/catalog"
)

// Root reports that the server is up.
func Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"msg": "server running..."})
}

// Products returns the active product catalog.
func Products(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"products": catalog.Products()})
}
