package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/watchlistpro/cardstore/internal/models"
	"gorm.io/gorm"
)

// ErrorReportHandler stores client-side errors.
type ErrorReportHandler struct {
	db *gorm.DB
}

// NewErrorReportHandler constructs an ErrorReportHandler.
func NewErrorReportHandler(db *gorm.DB) *ErrorReportHandler {
	return &ErrorReportHandler{db: db}
}

// errorReportRequest accepts {"error": "..."} or {"error": {"message": "..."}}.
type errorReportRequest struct {
	Error json.RawMessage `json:"error"`
}

// Create records an error reported by the caller.
func (h *ErrorReportHandler) Create(c *gin.Context) {
	var body errorReportRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	message := errorMessage(body.Error)
	if message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing error"})
		return
	}

	report := models.ErrorReport{UserID: getUserID(c), Error: message}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&report).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store error report failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": report.ID, "user": report.UserID, "error": report.Error, "date": report.Date})
}

func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && strings.TrimSpace(obj.Message) != "" {
		return strings.TrimSpace(obj.Message)
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "null" || trimmed == "{}" {
		return ""
	}
	return trimmed
}
