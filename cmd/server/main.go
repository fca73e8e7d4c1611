// Command server runs the marja chat HTTP API.
//
// @title                      Marja Chat API
// @version                    1.0
// @description                Token-metered chat with AI replies attributed to a marja.
// @BasePath                   /api/v1
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	_ "github.com/tbourn/marja-chat-backend/docs"
	"github.com/tbourn/marja-chat-backend/internal/auth"
	"github.com/tbourn/marja-chat-backend/internal/config"
	httpapi "github.com/tbourn/marja-chat-backend/internal/http"
	"github.com/tbourn/marja-chat-backend/internal/jobs"
	"github.com/tbourn/marja-chat-backend/internal/observability"
	"github.com/tbourn/marja-chat-backend/internal/repo"
	"github.com/tbourn/marja-chat-backend/internal/services"
	"github.com/tbourn/marja-chat-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.ConfigureLogger(os.Stdout, cfg.LogPretty, sysutil.FirstNonEmpty(cfg.OTEL.ServiceName, "marja-chat-backend"), version)
	sysutil.SetLogLevel(cfg.LogLevel)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}
	if cfg.DB.SeedDemo {
		if err := repo.SeedDemoCatalog(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("seed demo catalog")
		}
	}

	responder, closeResponder, err := services.NewResponder(ctx, cfg.AI)
	if err != nil {
		log.Fatal().Err(err).Str("provider", cfg.AI.Provider).Msg("ai responder")
	}
	defer func() { _ = closeResponder() }()

	boot := &services.AuthService{
		DB:         db,
		Tokens:     auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		BcryptCost: cfg.Auth.BcryptCost,
		AdminEmail: cfg.Auth.AdminEmail,
	}
	if err := boot.EnsureAdmin(ctx, cfg.Auth.AdminName, cfg.Auth.AdminPassword); err != nil {
		log.Fatal().Err(err).Msg("bootstrap admin")
	}

	sched, err := jobs.New(db)
	if err != nil {
		log.Fatal().Err(err).Msg("schedule jobs")
	}
	sched.Start(ctx)

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{DB: db, Responder: responder}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("ai", cfg.AI.Provider).Str("db", cfg.DB.Driver).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
