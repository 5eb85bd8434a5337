// Package app boots the metering service: configuration, database,
// background workers, and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/IshanKhanpara/tokenguard1/internal/config"
	"github.com/IshanKhanpara/tokenguard1/internal/db"
	"github.com/IshanKhanpara/tokenguard1/internal/http/api"
	"github.com/IshanKhanpara/tokenguard1/internal/keyvault"
	"github.com/IshanKhanpara/tokenguard1/internal/ledger"
	"github.com/IshanKhanpara/tokenguard1/internal/mail"
	"github.com/IshanKhanpara/tokenguard1/internal/notifier"
	"github.com/IshanKhanpara/tokenguard1/internal/proxy"
	"github.com/IshanKhanpara/tokenguard1/internal/ratelimit"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(config.ResolveConfigPath(configPath))
	if errLoad != nil {
		return errLoad
	}
	conn, errOpen := db.Open(cfg.DatabaseDSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the service and blocks until ctx is cancelled.
func RunServer(ctx context.Context, configPath string, port int) error {
	cfg, errLoad := config.Load(config.ResolveConfigPath(configPath))
	if errLoad != nil {
		return errLoad
	}

	conn, errOpen := db.Open(cfg.DatabaseDSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	if strings.TrimSpace(cfg.EncryptionKey) == "" {
		return config.ErrMissingEncryptionKey
	}
	vault, errVault := keyvault.New(cfg.EncryptionKey)
	if errVault != nil {
		return errVault
	}

	var mailer mail.Mailer = mail.LogMailer{}
	if strings.TrimSpace(cfg.Mail.ResendAPIKey) != "" {
		mailer = mail.NewResendMailer(cfg.Mail.ResendAPIKey, cfg.Mail.From)
	}

	alerts := notifier.New(conn, mailer, notifier.WithSupportEmail(cfg.Mail.SupportEmail))
	alerts.Start(ctx)

	quota := ledger.New(conn, alerts)
	orchestrator := proxy.New(conn, quota, vault, nil)
	limiter := ratelimit.New(ratelimit.FromConfig(cfg.Redis))

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	api.Register(engine, api.Deps{
		DB:            conn,
		Ledger:        quota,
		Vault:         vault,
		Orchestrator:  orchestrator,
		Limiter:       limiter,
		FallbackLimit: cfg.DefaultRateLimit,
		JWTSecret:     cfg.JWT.Secret,
		InternalToken: cfg.InternalToken,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			return errShutdown
		}
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

// requestLogger emits one structured line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Info("request")
	}
}
