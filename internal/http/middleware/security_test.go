package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newSecurityRouter(opt SecurityOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeaders(opt))
	r.GET("/api/v1/settings", func(c *gin.Context) { c.String(http.StatusOK, "{}") })
	r.PUT("/api/v1/settings", func(c *gin.Context) { c.String(http.StatusOK, "{}") })
	r.GET("/api/v1/conversations", func(c *gin.Context) { c.String(http.StatusOK, "[]") })
	r.GET("/api/v1/current-user", func(c *gin.Context) { c.String(http.StatusOK, "{}") })
	r.GET("/override", func(c *gin.Context) {
		c.Header("Cache-Control", "max-age=5")
		c.String(http.StatusOK, "ok")
	})
	return r
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	r := newSecurityRouter(SecurityOptions{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/current-user", nil))

	h := w.Header()
	want := map[string]string{
		"X-Content-Type-Options":            "nosniff",
		"X-Frame-Options":                   "DENY",
		"Referrer-Policy":                   "no-referrer",
		"X-Permitted-Cross-Domain-Policies": "none",
	}
	for k, v := range want {
		if got := h.Get(k); got != v {
			t.Fatalf("%s = %q, want %q", k, got, v)
		}
	}
	if h.Get("Permissions-Policy") == "" {
		t.Fatalf("Permissions-Policy missing")
	}
	if h.Get("Cache-Control") != "" || h.Get("Strict-Transport-Security") != "" {
		t.Fatalf("unexpected optional headers: %#v", h)
	}
}

func TestSecurityHeaders_CacheRules(t *testing.T) {
	r := newSecurityRouter(SecurityOptions{
		DefaultCache: CacheNoStore,
		CacheRules: map[string]string{
			CacheRule(http.MethodGet, "/api/v1/settings"):      CachePublicShort,
			CacheRule(http.MethodGet, "/api/v1/conversations"): CacheRevalidate,
		},
	})

	cases := []struct {
		method, path string
		want         string
		pragma       bool
	}{
		{http.MethodGet, "/api/v1/settings", CachePublicShort, false},
		{http.MethodHead, "/api/v1/settings", "", false},
		{http.MethodPut, "/api/v1/settings", CacheNoStore, true},
		{http.MethodGet, "/api/v1/conversations", CacheRevalidate, false},
		{http.MethodGet, "/api/v1/current-user", CacheNoStore, true},
		{http.MethodGet, "/nope", CacheNoStore, true},
		{http.MethodGet, "/override", "max-age=5", true},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
			if tc.want == "" {
				return
			}
			if got := w.Header().Get("Cache-Control"); got != tc.want {
				t.Fatalf("Cache-Control = %q, want %q", got, tc.want)
			}
			if got := w.Header().Get("Pragma") == "no-cache"; got != tc.pragma {
				t.Fatalf("Pragma no-cache = %v, want %v", got, tc.pragma)
			}
		})
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	cases := []struct {
		name   string
		opt    SecurityOptions
		setup  func(*http.Request)
		expect string
	}{
		{"disabled", SecurityOptions{}, func(r *http.Request) { r.TLS = &tls.ConnectionState{} }, ""},
		{"plain http", SecurityOptions{EnableHSTS: true}, func(*http.Request) {}, ""},
		{"tls default age", SecurityOptions{EnableHSTS: true}, func(r *http.Request) { r.TLS = &tls.ConnectionState{} },
			"max-age=15552000; includeSubDomains"},
		{"forwarded proto", SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour}, func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "HTTPS") },
			"max-age=3600; includeSubDomains"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newSecurityRouter(tc.opt)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/current-user", nil)
			tc.setup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if got := w.Header().Get("Strict-Transport-Security"); got != tc.expect {
				t.Fatalf("HSTS = %q, want %q", got, tc.expect)
			}
		})
	}
}
