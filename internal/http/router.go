// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, authentication, idempotency, and rate
// limiting.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/marja-chat-backend/internal/auth"
	"github.com/tbourn/marja-chat-backend/internal/config"
	"github.com/tbourn/marja-chat-backend/internal/domain"
	"github.com/tbourn/marja-chat-backend/internal/http/handlers"
	"github.com/tbourn/marja-chat-backend/internal/http/middleware"
	"github.com/tbourn/marja-chat-backend/internal/repo"
	"github.com/tbourn/marja-chat-backend/internal/services"
)

// Deps are the runtime dependencies of the HTTP API.
type Deps struct {
	DB        *gorm.DB
	Responder services.Responder
	// Now overrides the clock of time-dependent services; nil means time.Now.
	Now func() time.Time
}

// NewServices builds the handler dependencies from the database, the reply
// generator and configuration.
func NewServices(d Deps, cfg config.Config) handlers.Services {
	tokens := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	return handlers.Services{
		Auth: &services.AuthService{
			DB:         d.DB,
			Tokens:     tokens,
			BcryptCost: cfg.Auth.BcryptCost,
			AdminEmail: cfg.Auth.AdminEmail,
		},
		Users:         &services.UserService{DB: d.DB, BcryptCost: cfg.Auth.BcryptCost},
		Conversations: &services.ConversationService{DB: d.DB, TitleMaxRunes: cfg.Chat.TitleMaxRunes},
		Messages: &services.MessageService{
			DB:                d.DB,
			Responder:         d.Responder,
			AllowEmptyBalance: cfg.Chat.AllowEmptyBalance,
			MaxMessageRunes:   cfg.Chat.MaxMessageRunes,
			TitleMaxRunes:     cfg.Chat.TitleMaxRunes,
			IdempotencyTTL:    cfg.IdempotencyTTL,
			Now:               d.Now,
		},
		Reports:   &services.ReportService{DB: d.DB},
		AdminLogs: &services.AdminLogService{DB: d.DB},
		Catalog:   &services.CatalogService{DB: d.DB},
		Settings:  &services.SettingsService{DB: d.DB},
		Gifts:     &services.GiftService{DB: d.DB, Now: d.Now},
	}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the versioned API under cfg.APIBasePath.
//
// Global middleware order:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RequestLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Gzip (event streams and /metrics excluded)
//  8. CORS and security headers, so that 401/403/429 carry them too
//
// Per group: Authenticate → IdempotencyValidator → per-user rate limiter
// (bypassed on replay), with RequireRole on admin routes. /login and
// /register share a stricter per-IP limiter.
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	apiBase := cfg.APIBasePath // e.g. "/api/v1"

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RequestLogger(middleware.RedactOptions{}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	r.Use(limitBody(cfg.MaxBodyBytes))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())

	// 7) Response compression; SSE must reach the client unbuffered
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{
		"/metrics",
		joinPath(apiBase, "/messages/stream"),
	})))

	// 8) CORS posture and security headers
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		DefaultCache: middleware.CacheNoStore,
		CacheRules: map[string]string{
			middleware.CacheRule(http.MethodGet, joinPath(apiBase, "/settings")):      middleware.CachePublicShort,
			middleware.CacheRule(http.MethodGet, joinPath(apiBase, "/conversations")): middleware.CacheRevalidate,
		},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health, metrics and docs
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	svc := NewServices(d, cfg)
	h := handlers.New(svc)
	tokens := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	authed := []gin.HandlerFunc{
		middleware.Authenticate(tokens),
		middleware.IdempotencyValidator(
			middleware.IdempotencyOptions{MaxLen: 200},
			idempotencyLookup(d.DB),
		),
		middleware.NewRateLimiter(middleware.ScopeAPI, cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP()).Handler(),
	}

	api := groupWithPrefix(r, apiBase)
	{
		// Public
		authLimit := middleware.NewRateLimiter(middleware.ScopeAuth, cfg.AuthRateRPS, cfg.AuthRateBurst, middleware.KeyByIP()).Handler()
		api.POST("/register", authLimit, h.Register)
		api.POST("/login", authLimit, h.Login)
		api.GET("/settings", h.GetSettings)

		// Any signed-in user
		user := api.Group("", authed...)
		user.GET("/current-user", h.CurrentUser)

		user.GET("/conversations", h.ListConversations)
		user.GET("/conversations/:id", h.GetConversation)
		user.PUT("/conversations/:id", h.RenameConversation)
		user.DELETE("/conversations/:id", h.DeleteConversation)

		user.POST("/messages", h.SendMessage)
		user.POST("/messages/stream", h.StreamMessage)

		user.POST("/reports", h.CreateReport)

		user.GET("/spiritual-gift", h.GiftStatus)
		user.POST("/spiritual-gift/claim", h.ClaimGift)

		// Admin only
		admin := api.Group("", append(authed, middleware.RequireRole(domain.RoleAdmin))...)
		admin.GET("/users", h.ListUsers)
		admin.POST("/users", h.CreateUser)
		admin.GET("/users/:id", h.GetUser)
		admin.PUT("/users/:id", h.UpdateUser)
		admin.DELETE("/users/:id", h.DeleteUser)

		admin.GET("/reports", h.ListReports)
		admin.GET("/reports/:id", h.GetReport)
		admin.PUT("/reports/:id", h.UpdateReport)

		admin.GET("/logs", h.ListAdminLogs)
		admin.POST("/logs", h.CreateAdminLog)

		admin.GET("/token-packages", h.ListTokenPackages)
		admin.GET("/discount-codes", h.ListDiscountCodes)
		admin.GET("/gift-cards", h.ListGiftCards)
		admin.GET("/transactions", h.ListTransactions)

		admin.PUT("/settings", h.UpdateSettings)
	}
}

// idempotencyLookup reports whether the caller already has an unexpired
// message send recorded under key.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, userID, key string, now time.Time) (bool, error) {
		uid, err := strconv.ParseUint(userID, 10, 64)
		if err != nil {
			return false, nil
		}
		rec, err := repo.GetIdempotencyKey(ctx, db, uint(uid), domain.IdempotencyScopeMessages, key, now)
		if err != nil || rec == nil {
			return false, nil
		}
		return true, nil
	}
}

// corsMiddleware returns the CORS posture: allow all origins when none are
// configured, otherwise echo allowlisted origins.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After", handlers.HeaderIdempotencyReplayed}
	methods := []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}

	if len(origins) == 0 {
		return []gin.HandlerFunc{
			// Force ACAO: * even for requests without an Origin header.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     methods,
				AllowHeaders:     allowHeaders,
				ExposeHeaders:    exposeHeaders,
				AllowCredentials: false, // must remain false with AllowAllOrigins
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     methods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// joinPath appends p to a normalized base path.
func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}
