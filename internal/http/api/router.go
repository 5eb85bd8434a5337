package api

import (
	"github.com/IshanKhanpara/tokenguard1/internal/http/api/handlers"
	"github.com/IshanKhanpara/tokenguard1/internal/keyvault"
	"github.com/IshanKhanpara/tokenguard1/internal/ledger"
	"github.com/IshanKhanpara/tokenguard1/internal/proxy"
	"github.com/IshanKhanpara/tokenguard1/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps collects everything the HTTP surface needs.
type Deps struct {
	DB            *gorm.DB
	Ledger        *ledger.Ledger
	Vault         *keyvault.Vault
	Orchestrator  *proxy.Orchestrator
	Limiter       *ratelimit.PerUserLimiter
	FallbackLimit int
	JWTSecret     string
	InternalToken string
}

// Register mounts all routes on the engine.
func Register(engine *gin.Engine, deps Deps) {
	health := handlers.NewHealthHandler(deps.DB)
	engine.GET("/healthz", health.Check)

	usage := handlers.NewUsageHandler(deps.DB, deps.Ledger)
	keys := handlers.NewKeysHandler(deps.DB, deps.Vault)
	proxyHandler := handlers.NewProxyHandler(deps.DB, deps.Orchestrator, deps.Limiter, deps.FallbackLimit)

	v1 := engine.Group("/v1")

	authed := v1.Group("")
	authed.Use(UserAuth(deps.DB, deps.JWTSecret))
	{
		authed.POST("/proxy", proxyHandler.Execute)
		authed.POST("/keys", keys.Action)
		authed.GET("/keys", keys.List)
		authed.GET("/usage/summary", usage.Summary)
	}

	internal := v1.Group("/internal")
	internal.Use(InternalAuth(deps.InternalToken))
	{
		internal.POST("/usage/check", usage.Check)
		internal.POST("/usage/record", usage.Record)
	}
}
