package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/marja-chat-backend/internal/config"
	"github.com/tbourn/marja-chat-backend/internal/domain"
	"github.com/tbourn/marja-chat-backend/internal/http/middleware"
	"github.com/tbourn/marja-chat-backend/internal/repo"
	"github.com/tbourn/marja-chat-backend/internal/services"
)

const testMarja = "آیت‌الله سیستانی"

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.Open(config.DBConfig{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "router.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:   "/api/v1",
		MaxBodyBytes:  1 << 20,
		RateRPS:       1000,
		RateBurst:     1000,
		AuthRateRPS:   1000,
		AuthRateBurst: 1000,
		Auth: config.AuthConfig{
			JWTSecret:  "test-secret",
			TokenTTL:   time.Hour,
			BcryptCost: bcrypt.MinCost,
			AdminEmail: "admin@example.com",
		},
		Chat:           config.ChatConfig{TitleMaxRunes: 40},
		IdempotencyTTL: time.Hour,
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newTestServer(t *testing.T, cfg config.Config) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	RegisterRoutes(r, Deps{DB: db, Responder: services.SimulatedResponder{}}, cfg)
	return r, db
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _ := newTestServer(t, testConfig())

	// /health works
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	// Swagger is off unless enabled
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("swagger should be disabled, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _ := newTestServer(t, cfg)

	// Any request runs through CORS middleware; header should reflect origin.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	// Rejections carry CORS headers too.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v2/current-user", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized || w.Header().Get("Access-Control-Allow-Origin") != "http://example.com" {
		t.Fatalf("401 without CORS: code=%d acao=%q", w.Code, w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

func Test_joinPath(t *testing.T) {
	cases := map[[2]string]string{
		{"", "/messages/stream"}:        "/messages/stream",
		{"/", "/messages/stream"}:       "/messages/stream",
		{"/api/v1", "/messages/stream"}: "/api/v1/messages/stream",
	}
	for in, want := range cases {
		if got := joinPath(in[0], in[1]); got != want {
			t.Fatalf("joinPath(%q,%q)=%q want %q", in[0], in[1], got, want)
		}
	}
}

// Smoke test that a request traverses the otel + security headers pipeline.
func TestPipeline_Smoke(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour}
	r, _ := newTestServer(t, cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.URL.Scheme = "https"
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("pipeline GET /health = %d", w.Code)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestIdempotencyLookup_MissHitAndError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	lookup := idempotencyLookup(db)

	u := &domain.User{Name: "a", Email: "a@x.io", PasswordHash: "x", Role: domain.RoleUser, Status: domain.UserActive, JoinDate: "2025-01-01"}
	require.NoError(t, repo.CreateUser(ctx, db, u))
	conv := &domain.Conversation{ID: "11111111-1111-1111-1111-111111111111", UserID: u.ID, Marja: testMarja, Title: "t", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.CreateConversation(ctx, db, conv))

	uid := u.ID
	hit, err := lookup(ctx, "7", "k", now)
	assert.NoError(t, err)
	assert.False(t, hit, "miss before any record")

	require.NoError(t, repo.CreateIdempotencyKey(ctx, db, &domain.IdempotencyKey{
		UserID:         uid,
		Scope:          domain.IdempotencyScopeMessages,
		Key:            "k",
		ConversationID: conv.ID,
		ExpiresAt:      now.Add(time.Hour),
	}))
	hit, _ = lookup(ctx, jsonNumber(uid), "k", now)
	assert.True(t, hit)

	hit, _ = lookup(ctx, jsonNumber(uid), "k", now.Add(2*time.Hour))
	assert.False(t, hit, "expired records do not count")

	hit, err = lookup(ctx, "not-a-number", "k", now)
	assert.NoError(t, err)
	assert.False(t, hit)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	_ = sqlDB.Close()
	hit, err = lookup(ctx, jsonNumber(uid), "k", now)
	assert.NoError(t, err, "lookup errors never block the request")
	assert.False(t, hit)
}

// ---------- end to end ----------

type apiClient struct {
	t     *testing.T
	r     http.Handler
	token string
}

func (c apiClient) do(method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	c.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func register(t *testing.T, r http.Handler, name, email string) (apiClient, services.AuthResult) {
	t.Helper()
	w := apiClient{t: t, r: r}.do(http.MethodPost, "/register",
		map[string]string{"name": name, "email": email, "password": "pw-" + name}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[services.AuthResult](t, w)
	return apiClient{t: t, r: r, token: res.Token}, res
}

func TestE2E_RegisterSendAndBalance(t *testing.T) {
	r, _ := newTestServer(t, testConfig())
	alice, reg := register(t, r, "Alice", "alice@example.com")
	assert.Equal(t, 100, reg.User.TokenBalance)
	assert.Equal(t, domain.RoleUser, reg.User.Role)

	// Login yields the same identity.
	w := apiClient{t: t, r: r}.do(http.MethodPost, "/login", map[string]string{"email": "ALICE@example.com", "password": "pw-Alice"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, reg.User.ID, decode[services.AuthResult](t, w).User.ID)

	w = alice.do(http.MethodPost, "/messages", map[string]string{"marjaName": testMarja, "message": "  What breaks   a fast? "}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	conv := decode[domain.Conversation](t, w)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, domain.SenderUser, conv.Messages[0].Sender)
	assert.Equal(t, domain.SenderAI, conv.Messages[1].Sender)
	assert.Equal(t, "What breaks a fast?", conv.Title)
	assert.Equal(t, testMarja, conv.Marja)
	assert.Equal(t, reg.User.ID, conv.UserID)

	w = alice.do(http.MethodGet, "/current-user", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 99, decode[domain.User](t, w).TokenBalance)

	// Continue the same conversation; the marja never changes.
	w = alice.do(http.MethodPost, "/messages", map[string]string{"conversationId": conv.ID, "marjaName": "other", "message": "and travel?"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	conv2 := decode[domain.Conversation](t, w)
	assert.Equal(t, conv.ID, conv2.ID)
	assert.Equal(t, testMarja, conv2.Marja)
	assert.Len(t, conv2.Messages, 4)

	w = alice.do(http.MethodGet, "/conversations", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("ETag"))

	// Empty message → 400, no debit.
	w = alice.do(http.MethodPost, "/messages", map[string]string{"conversationId": conv.ID, "message": "   "}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = alice.do(http.MethodGet, "/current-user", nil, nil)
	assert.Equal(t, 98, decode[domain.User](t, w).TokenBalance)
}

func TestE2E_StreamEndsWithDone(t *testing.T) {
	r, _ := newTestServer(t, testConfig())
	alice, _ := register(t, r, "Alice", "alice@example.com")

	w := alice.do(http.MethodPost, "/messages/stream", map[string]string{"marjaName": testMarja, "message": "salam"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "event:chunk")
	assert.True(t, strings.Contains(body, "event:done"), body)
}

func TestE2E_AdminOnlyRoutes(t *testing.T) {
	r, _ := newTestServer(t, testConfig())
	user, _ := register(t, r, "User", "user@example.com")
	admin, res := register(t, r, "Admin", "admin@example.com")
	require.Equal(t, domain.RoleAdmin, res.User.Role)

	w := user.do(http.MethodGet, "/users", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = admin.do(http.MethodGet, "/users", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = apiClient{t: t, r: r}.do(http.MethodGet, "/users", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = apiClient{t: t, r: r, token: "garbage"}.do(http.MethodGet, "/users", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Settings are public to read, admin-only to write.
	assert.Equal(t, http.StatusOK, apiClient{t: t, r: r}.do(http.MethodGet, "/settings", nil, nil).Code)
	assert.Equal(t, http.StatusForbidden, user.do(http.MethodPut, "/settings", map[string]int{"defaultUserTokens": 5}, nil).Code)
	assert.Equal(t, http.StatusOK, admin.do(http.MethodPut, "/settings", map[string]int{"defaultUserTokens": 5}, nil).Code)
	_, late := register(t, r, "Late", "late@example.com")
	assert.Equal(t, 5, late.User.TokenBalance)
}

func TestE2E_ReportRefundOnce(t *testing.T) {
	r, _ := newTestServer(t, testConfig())
	alice, _ := register(t, r, "Alice", "alice@example.com")
	admin, _ := register(t, r, "Admin", "admin@example.com")

	w := alice.do(http.MethodPost, "/messages", map[string]string{"marjaName": testMarja, "message": "q"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	conv := decode[domain.Conversation](t, w)

	w = alice.do(http.MethodPost, "/reports", map[string]any{"conversationId": conv.ID, "feedback": "disliked", "category": "incorrect"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rep := decode[domain.Report](t, w)
	assert.Equal(t, domain.ReportNew, rep.Status)
	assert.False(t, rep.Refunded)

	balance := func() int {
		w := alice.do(http.MethodGet, "/current-user", nil, nil)
		return decode[domain.User](t, w).TokenBalance
	}
	require.Equal(t, 99, balance())

	path := "/reports/" + jsonNumber(rep.ID)
	w = admin.do(http.MethodPut, path, map[string]string{"status": "reviewed"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 99, balance(), "status-only update leaves balances alone")

	for i := 0; i < 3; i++ {
		w = admin.do(http.MethodPut, path, map[string]bool{"refunded": true}, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	assert.Equal(t, 100, balance(), "refund credits exactly once")

	w = admin.do(http.MethodPut, path, map[string]bool{"refunded": false}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = admin.do(http.MethodGet, "/logs", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Updated report")
}

func TestE2E_TwoFirstSendsCreateTwoConversations(t *testing.T) {
	r, _ := newTestServer(t, testConfig())
	alice, _ := register(t, r, "Alice", "alice@example.com")

	body := map[string]string{"marjaName": testMarja, "message": "same"}
	a := decode[domain.Conversation](t, alice.do(http.MethodPost, "/messages", body, nil))
	b := decode[domain.Conversation](t, alice.do(http.MethodPost, "/messages", body, nil))
	assert.NotEqual(t, a.ID, b.ID)

	// With a key the retry is replayed without a second debit.
	hdr := map[string]string{middleware.HeaderIdempotencyKey: "send-1"}
	w := alice.do(http.MethodPost, "/messages", body, hdr)
	require.Equal(t, http.StatusOK, w.Code)
	first := decode[domain.Conversation](t, w)
	w = alice.do(http.MethodPost, "/messages", body, hdr)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get("Idempotency-Replayed"))
	assert.Equal(t, first.ID, decode[domain.Conversation](t, w).ID)

	w = alice.do(http.MethodGet, "/current-user", nil, nil)
	assert.Equal(t, 97, decode[domain.User](t, w).TokenBalance)
}

func TestE2E_AuthRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.AuthRateRPS = 0.001
	cfg.AuthRateBurst = 2
	r, _ := newTestServer(t, cfg)

	anon := apiClient{t: t, r: r}
	creds := map[string]string{"email": "nobody@example.com", "password": "x"}
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusBadRequest, anon.do(http.MethodPost, "/login", creds, nil).Code)
	}
	w := anon.do(http.MethodPost, "/login", creds, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func jsonNumber(n uint) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestE2E_CachePolicyPerRoute(t *testing.T) {
	r, _ := newTestServer(t, testConfig())
	alice, _ := register(t, r, "Alice", "alice@example.com")

	w := alice.do(http.MethodGet, "/settings", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, middleware.CachePublicShort, w.Header().Get("Cache-Control"))

	w = alice.do(http.MethodGet, "/conversations", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, middleware.CacheRevalidate, w.Header().Get("Cache-Control"))
	assert.NotEmpty(t, w.Header().Get("ETag"))

	w = alice.do(http.MethodGet, "/current-user", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, middleware.CacheNoStore, w.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}
