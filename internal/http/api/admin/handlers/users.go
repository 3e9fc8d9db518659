package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	apihttp "github.com/watchlistpro/cardstore/internal/http"
	"github.com/watchlistpro/cardstore/internal/models"
	"github.com/watchlistpro/cardstore/internal/security"
	"gorm.io/gorm"
)

// UserHandler serves admin user management.
type UserHandler struct {
	db                *gorm.DB
	minPasswordLength int
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(db *gorm.DB, minPasswordLength int) *UserHandler {
	return &UserHandler{db: db, minPasswordLength: minPasswordLength}
}

// List returns every user without password hashes.
func (h *UserHandler) List(c *gin.Context) {
	var users []models.User
	if errFind := h.db.WithContext(c.Request.Context()).Order("id ASC").Find(&users).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list users failed"})
		return
	}
	out := make([]gin.H, 0, len(users))
	for i := range users {
		out = append(out, apihttp.UserView(&users[i]))
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

// updatePasswordRequest locates a user by username or phone.
type updatePasswordRequest struct {
	Username string `json:"username"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// UpdatePassword overwrites a user's password and flags it as updated.
func (h *UserHandler) UpdatePassword(c *gin.Context) {
	var body updatePasswordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	username := strings.TrimSpace(body.Username)
	phone := strings.TrimSpace(body.Phone)
	if username == "" && phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username or phone is required"})
		return
	}
	if len(body.Password) < h.minPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password too short"})
		return
	}

	q := h.db.WithContext(c.Request.Context())
	if username != "" {
		q = q.Where("username = ?", username)
	} else {
		q = q.Where("phone = ?", phone)
	}
	var user models.User
	if errFind := q.First(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}

	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]any{
		"password":         hash,
		"password_updated": true,
		"updated_at":       time.Now().UTC(),
	}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update password failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "password updated"})
}
