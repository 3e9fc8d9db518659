package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/watchlistpro/cardstore/internal/mail"
	"github.com/watchlistpro/cardstore/internal/models"
	"github.com/watchlistpro/cardstore/internal/security"
)

// forgotPasswordRequest identifies the account to reset.
type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword issues a reset token and emails it. Unknown emails get the same response.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var body forgotPasswordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing email"})
		return
	}
	ok := gin.H{"success": true, "message": "if the account exists a reset email has been sent"}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).Where("email = ?", email).First(&user).Error; errFind != nil {
		c.JSON(http.StatusOK, ok)
		return
	}

	token, errToken := security.GenerateVerificationToken()
	if errToken != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate token failed"})
		return
	}
	expires := time.Now().UTC().Add(h.authCfg.ResetTokenTTL)
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]any{
		"reset_password_token":   token,
		"reset_password_expires": expires,
	}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store reset token failed"})
		return
	}

	link := strings.TrimRight(h.serverCfg.FrontendURL, "/") + "/reset-password/" + token
	h.sendMail(c, func() (mail.Message, error) {
		return mail.ResetPassword(user.Email, link, h.authCfg.ResetTokenTTL.String())
	})
	c.JSON(http.StatusOK, ok)
}

// resetPasswordRequest carries the reset token and new password.
type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ResetPassword redeems a reset token and overwrites the password.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var body resetPasswordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	token := strings.TrimSpace(body.Token)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	if len(body.Password) < h.authCfg.MinPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password too short"})
		return
	}

	now := time.Now().UTC()
	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("reset_password_token = ? AND reset_password_expires > ?", token, now).
		First(&user).Error; errFind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password reset token is invalid or has expired"})
		return
	}

	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]any{
		"password":               hash,
		"password_updated":       true,
		"reset_password_token":   nil,
		"reset_password_expires": nil,
		"updated_at":             now,
	}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update password failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "password updated"})
}
