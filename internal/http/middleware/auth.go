package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/marja-chat-backend/internal/auth"
)

const (
	// ctxKeyUserID holds the authenticated user id as a decimal string.
	ctxKeyUserID = "userID"
	// ctxKeyClaims holds the verified *auth.Claims.
	ctxKeyClaims = "auth.claims"
)

// TokenParser verifies a raw bearer token. *auth.Issuer satisfies it.
type TokenParser interface {
	Parse(raw string) (*auth.Claims, error)
}

// Authenticate requires a valid bearer token. A missing token answers 401;
// a malformed, expired or wrongly signed one answers 403. On success the
// claims and the user id are stored in the context.
func Authenticate(p TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "Access denied. No token provided.")
			return
		}
		claims, err := p.Parse(raw)
		if err != nil {
			abortJSON(c, http.StatusForbidden, "forbidden", "Invalid token.")
			return
		}
		c.Set(ctxKeyClaims, claims)
		c.Set(ctxKeyUserID, strconv.FormatUint(uint64(claims.ID), 10))
		c.Next()
	}
}

// RequireRole lets the request through only when the authenticated caller
// holds role. It must run after Authenticate.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok || claims.Role != role {
			abortJSON(c, http.StatusForbidden, "forbidden", "Access denied")
			return
		}
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by Authenticate.
func ClaimsFrom(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(ctxKeyClaims)
	if !ok {
		return nil, false
	}
	cl, ok := v.(*auth.Claims)
	return cl, ok && cl != nil
}

// bearerToken extracts the token of an "Authorization: Bearer <t>" header.
// The scheme is matched case-insensitively.
func bearerToken(h string) (string, bool) {
	scheme, tok, found := strings.Cut(strings.TrimSpace(h), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
