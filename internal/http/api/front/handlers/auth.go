package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"github.com/watchlistpro/cardstore/internal/config"
	apihttp "github.com/watchlistpro/cardstore/internal/http"
	"github.com/watchlistpro/cardstore/internal/mail"
	"github.com/watchlistpro/cardstore/internal/models"
	"github.com/watchlistpro/cardstore/internal/security"
	"gorm.io/gorm"
)

var validate = validator.New()

// AuthHandler handles user authentication endpoints.
type AuthHandler struct {
	db        *gorm.DB
	jwtCfg    config.JWTConfig
	authCfg   config.AuthConfig
	serverCfg config.ServerConfig
	mailer    mail.Sender
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, cfg *config.Config, mailer mail.Sender) *AuthHandler {
	return &AuthHandler{db: db, jwtCfg: cfg.JWT, authCfg: cfg.Auth, serverCfg: cfg.Server, mailer: mailer}
}

// registerRequest defines the request body for user registration.
type registerRequest struct {
	Username string `json:"username"`
	Phone    string `json:"phone"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Register creates a new user account and sends the verification email.
func (h *AuthHandler) Register(c *gin.Context) {
	var body registerRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	body.Email = strings.ToLower(strings.TrimSpace(body.Email))
	if errValidate := validate.Struct(body); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a valid email and password are required"})
		return
	}
	if len(body.Password) < h.authCfg.MinPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password too short"})
		return
	}

	ctx := c.Request.Context()
	var exists int64
	if errCount := h.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", body.Email).Count(&exists).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if exists > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "email already exists"})
		return
	}

	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	username := strings.TrimSpace(body.Username)
	if username == "" {
		username = strings.SplitN(body.Email, "@", 2)[0]
	}
	user := models.User{
		Username:      username,
		Phone:         strings.TrimSpace(body.Phone),
		Email:         body.Email,
		Password:      hash,
		EmailVerified: !h.authCfg.RequireEmailVerification,
		IsAdmin:       h.authCfg.IsAdminEmail(body.Email),
	}
	if h.authCfg.RequireEmailVerification {
		token, errToken := security.GenerateVerificationToken()
		if errToken != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "generate token failed"})
			return
		}
		user.VerifyToken = &token
	}
	if errCreate := h.db.WithContext(ctx).Create(&user).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}

	if user.VerifyToken != nil {
		link := strings.TrimRight(h.serverCfg.BackendURL, "/") + "/auth/user/verify-email/" + *user.VerifyToken
		h.sendMail(c, func() (mail.Message, error) { return mail.VerifyEmail(user.Email, link) })
	}

	c.JSON(http.StatusCreated, gin.H{
		"user":                      apihttp.UserView(&user),
		"emailVerificationRequired": !user.EmailVerified,
	})
}

// verifyEmailRequest carries the token from the verification link.
type verifyEmailRequest struct {
	Token string `json:"token"`
}

// VerifyEmail redeems a verification token from the JSON body or the :token path parameter.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		var body verifyEmailRequest
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		token = strings.TrimSpace(body.Token)
	}
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("verify_token = ?", token).
		Updates(map[string]any{"email_verified": true, "verify_token": nil, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verify email failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or used verification token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "email verified"})
}

// loginRequest defines the request body for login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates a user and returns a bearer token.
func (h *AuthHandler) Login(c *gin.Context) {
	user, ok := h.authenticate(c)
	if !ok {
		return
	}
	token, errToken := security.GenerateToken(h.jwtCfg.Secret, user.ID, user.Email, h.jwtCfg.Expiry)
	if errToken != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"token":     "Bearer " + token,
		"expiresIn": int64(h.jwtCfg.Expiry.Seconds()),
		"user":      apihttp.UserView(user),
	})
}

// LoginWeb authenticates a user and stores the token in an HttpOnly cookie.
func (h *AuthHandler) LoginWeb(c *gin.Context) {
	user, ok := h.authenticate(c)
	if !ok {
		return
	}
	token, errToken := security.GenerateToken(h.jwtCfg.Secret, user.ID, user.Email, h.jwtCfg.Expiry)
	if errToken != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate token failed"})
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(apihttp.AccessTokenCookie, token, int(h.jwtCfg.Expiry.Seconds()), "/", "", h.authCfg.CookieSecure, true)
	c.JSON(http.StatusOK, gin.H{"isAuthenticated": true, "user": apihttp.UserView(user)})
}

// LogoutWeb clears the session cookie.
func (h *AuthHandler) LogoutWeb(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(apihttp.AccessTokenCookie, "", -1, "/", "", h.authCfg.CookieSecure, true)
	c.JSON(http.StatusOK, gin.H{"isAuthenticated": false})
}

// FetchUser returns the authenticated user's profile.
func (h *AuthHandler) FetchUser(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, apihttp.UserView(user))
}

// authenticate checks credentials and verification status, writing the error response itself.
func (h *AuthHandler) authenticate(c *gin.Context) (*models.User, bool) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return nil, false
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if email == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing email or password"})
		return nil, false
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).Where("email = ?", email).First(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return nil, false
	}
	if !user.EmailVerified {
		c.JSON(http.StatusForbidden, gin.H{"error": "email not verified"})
		return nil, false
	}
	if !security.CheckPassword(user.Password, body.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return nil, false
	}
	return &user, true
}

// sendMail renders and sends a message, logging failures.
func (h *AuthHandler) sendMail(c *gin.Context, build func() (mail.Message, error)) {
	if h.mailer == nil {
		return
	}
	msg, errRender := build()
	if errRender != nil {
		log.WithError(errRender).Warn("auth: render email failed")
		return
	}
	if errSend := h.mailer.Send(c.Request.Context(), msg); errSend != nil {
		log.WithError(errSend).WithField("to", msg.To).Warn("auth: send email failed")
	}
}
