package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Cache-Control values used by the API.
const (
	// CacheNoStore keeps balances and conversations out of shared caches.
	CacheNoStore = "no-store"
	// CacheRevalidate lets a client keep a response but forces a conditional
	// request (If-None-Match) before reuse.
	CacheRevalidate = "private, no-cache"
	// CachePublicShort suits public documents such as the site settings.
	CachePublicShort = "public, max-age=60"
)

// defaultHSTSMaxAge applies when SecurityOptions.HSTSMaxAge is not positive.
const defaultHSTSMaxAge = 180 * 24 * time.Hour

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// EnableHSTS emits Strict-Transport-Security on HTTPS requests. Enable it
	// only when traffic is HTTPS end-to-end.
	EnableHSTS bool
	HSTSMaxAge time.Duration

	// CacheRules maps "METHOD /registered/route" to a Cache-Control value.
	CacheRules map[string]string
	// DefaultCache is used for routes without a rule; empty sets nothing.
	DefaultCache string
}

// CacheRule formats a CacheRules key.
func CacheRule(method, route string) string { return method + " " + route }

// SecurityHeaders adds baseline hardening headers and the per-route
// Cache-Control policy. Handlers may still override Cache-Control.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := "max-age=" + strconv.Itoa(int(maxAge.Seconds())) + "; includeSubDomains"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
		h.Set("X-Permitted-Cross-Domain-Policies", "none")

		if cc := cachePolicy(opt, c); cc != "" {
			h.Set("Cache-Control", cc)
			if cc == CacheNoStore {
				h.Set("Pragma", "no-cache")
			}
		}

		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		c.Next()
	}
}

func cachePolicy(opt SecurityOptions, c *gin.Context) string {
	route := c.FullPath()
	if route == "" {
		return opt.DefaultCache
	}
	method := c.Request.Method
	if method == http.MethodHead {
		method = http.MethodGet
	}
	if cc, ok := opt.CacheRules[CacheRule(method, route)]; ok {
		return cc
	}
	return opt.DefaultCache
}

// isHTTPS reports whether the request arrived over TLS, directly or through
// a proxy that set X-Forwarded-Proto.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
