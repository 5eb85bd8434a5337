package handlers

import (
	"errors"
	"net/http"

	"github.com/IshanKhanpara/tokenguard1/internal/ledger"
	"github.com/IshanKhanpara/tokenguard1/internal/models"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// UsageHandler handles quota checks, usage recording, and the caller-facing
// usage summary.
type UsageHandler struct {
	db     *gorm.DB
	ledger *ledger.Ledger
}

// NewUsageHandler constructs a UsageHandler.
func NewUsageHandler(db *gorm.DB, quota *ledger.Ledger) *UsageHandler {
	return &UsageHandler{db: db, ledger: quota}
}

// checkRequest defines the internal usage-check request body.
type checkRequest struct {
	UserID      uint64 `json:"userId"`
	TokensToUse int64  `json:"tokensToUse"`
}

// Check answers an admission-control check for another service.
func (h *UsageHandler) Check(c *gin.Context) {
	var body checkRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	if body.TokensToUse < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tokensToUse must not be negative"})
		return
	}

	result, errCheck := h.ledger.Check(c.Request.Context(), body.UserID, body.TokensToUse)
	if errCheck != nil {
		log.WithError(errCheck).WithField("user_id", body.UserID).Error("usage: check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "usage check failed"})
		return
	}

	payload := gin.H{
		"allowed":      result.Allowed,
		"currentUsage": result.CurrentUsage,
		"limit":        result.Limit,
		"percentUsed":  result.PercentUsed,
		"shouldWarn":   result.ShouldWarn,
	}
	if !result.Allowed {
		payload["reason"] = result.Reason
	}
	c.JSON(http.StatusOK, payload)
}

// recordRequest defines the internal usage-record request body.
type recordRequest struct {
	UserID     uint64  `json:"userId"`
	TokensUsed int64   `json:"tokensUsed"`
	CostUSD    float64 `json:"costUsd"`
	Model      string  `json:"model"`
	Endpoint   string  `json:"endpoint"`
	APIKeyID   string  `json:"apiKeyId"`
}

// Record commits usage reported by another service.
func (h *UsageHandler) Record(c *gin.Context) {
	var body recordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	if body.TokensUsed < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tokensUsed must not be negative"})
		return
	}

	input := ledger.CommitInput{
		UserID:     body.UserID,
		TokensUsed: body.TokensUsed,
		CostUSD:    body.CostUSD,
		Model:      body.Model,
		Endpoint:   body.Endpoint,
	}
	if body.APIKeyID != "" {
		input.APIKeyID = &body.APIKeyID
	}

	result, errCommit := h.ledger.Commit(c.Request.Context(), input)
	if errCommit != nil {
		log.WithError(errCommit).WithField("user_id", body.UserID).Error("usage: record failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "usage record failed"})
		return
	}
	if result.Blocked {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   result.Reason,
			"blocked": true,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"shouldWarn":  result.ShouldWarn,
		"percentUsed": result.PercentUsed,
	})
}

// Summary returns the caller's current-month usage against their limit.
func (h *UsageHandler) Summary(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	result, errCheck := h.ledger.Check(c.Request.Context(), userID, 0)
	if errCheck != nil {
		log.WithError(errCheck).WithField("user_id", userID).Error("usage: summary failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "usage summary failed"})
		return
	}

	var aggregate models.MonthlyUsage
	monthYear := ledger.MonthKey(timeNow())
	errFind := h.db.WithContext(c.Request.Context()).
		Where("user_id = ? AND month_year = ?", userID, monthYear).
		Take(&aggregate).Error
	if errFind != nil && !errors.Is(errFind, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "usage summary failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"monthYear":    monthYear,
		"totalTokens":  aggregate.TotalTokens,
		"totalCostUsd": aggregate.TotalCostUSD,
		"requestCount": aggregate.RequestCount,
		"limit":        result.Limit,
		"percentUsed":  result.PercentUsed,
		"shouldWarn":   result.ShouldWarn,
	})
}
