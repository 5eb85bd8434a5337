package handlers

import (
	"net/http"
	"strconv"

	"github.com/IshanKhanpara/tokenguard1/internal/proxy"
	"github.com/IshanKhanpara/tokenguard1/internal/ratelimit"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ProxyHandler handles the metered proxy endpoint.
type ProxyHandler struct {
	db            *gorm.DB
	orchestrator  *proxy.Orchestrator
	limiter       *ratelimit.PerUserLimiter
	fallbackLimit int
}

// NewProxyHandler constructs a ProxyHandler. The limiter may be nil, which
// disables per-user rate limiting.
func NewProxyHandler(db *gorm.DB, orchestrator *proxy.Orchestrator, limiter *ratelimit.PerUserLimiter, fallbackLimit int) *ProxyHandler {
	return &ProxyHandler{
		db:            db,
		orchestrator:  orchestrator,
		limiter:       limiter,
		fallbackLimit: fallbackLimit,
	}
}

// Execute forwards one metered call for the authenticated user.
func (h *ProxyHandler) Execute(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if h.limiter != nil {
		limit, errResolve := ratelimit.ResolveLimit(c.Request.Context(), h.db, userID, h.fallbackLimit)
		if errResolve != nil {
			log.WithError(errResolve).WithField("user_id", userID).Warn("proxy: rate limit resolve failed")
			limit = h.fallbackLimit
		}
		result := h.limiter.Allow(c.Request.Context(), userID, limit)
		if !result.Allowed {
			c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
	}

	var body proxy.Request
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	outcome := h.orchestrator.Execute(c.Request.Context(), userID, body)
	c.JSON(outcome.Status, outcome.Payload)
}
