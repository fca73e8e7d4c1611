package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// idemResult is what the downstream handler observed.
type idemResult struct {
	Key    string `json:"key"`
	HasKey bool   `json:"has_key"`
	Replay bool   `json:"replay"`
	Bypass bool   `json:"bypass"`
}

func idemRouter(opts IdempotencyOptions, user string, lookup IdempotencyLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	if user != "" {
		r.Use(func(c *gin.Context) { c.Set(ctxKeyUserID, user); c.Next() })
	}
	r.Use(IdempotencyValidator(opts, lookup))
	r.POST("/api/v1/messages", func(c *gin.Context) {
		key, ok := GetIdempotencyKey(c)
		c.JSON(http.StatusOK, idemResult{Key: key, HasKey: ok, Replay: IsReplay(c), Bypass: IsRateBypass(c)})
	})
	return r
}

func postMessage(r http.Handler, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(`{"message":"hi"}`))
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyValidator(t *testing.T) {
	stored := map[string]bool{"9|client-msg-1": true}
	var calls int
	lookup := func(_ context.Context, uid, key string, now time.Time) (bool, error) {
		calls++
		if now.IsZero() || now.Location() != time.UTC {
			t.Fatalf("lookup time must be UTC, got %v", now)
		}
		return stored[uid+"|"+key], nil
	}
	failing := func(context.Context, string, string, time.Time) (bool, error) {
		calls++
		return false, errors.New("db down")
	}

	cases := []struct {
		name      string
		opts      IdempotencyOptions
		user      string
		lookup    IdempotencyLookup
		key       string
		status    int
		want      idemResult
		wantCalls int
	}{
		{name: "no header", user: "9", lookup: lookup, status: 200},
		{name: "anonymous skips lookup", lookup: lookup, key: "client-msg-1", status: 200,
			want: idemResult{Key: "client-msg-1", HasKey: true}},
		{name: "miss", user: "9", lookup: lookup, key: "client-msg-2", status: 200,
			want: idemResult{Key: "client-msg-2", HasKey: true}, wantCalls: 1},
		{name: "hit is replay and bypass", user: "9", lookup: lookup, key: "client-msg-1", status: 200,
			want: idemResult{Key: "client-msg-1", HasKey: true, Replay: true, Bypass: true}, wantCalls: 1},
		{name: "other user's key is a miss", user: "10", lookup: lookup, key: "client-msg-1", status: 200,
			want: idemResult{Key: "client-msg-1", HasKey: true}, wantCalls: 1},
		{name: "lookup error ignored", user: "9", lookup: failing, key: "k", status: 200,
			want: idemResult{Key: "k", HasKey: true}, wantCalls: 1},
		{name: "nil lookup", user: "9", key: "uuid:3f1c2a7e", status: 200,
			want: idemResult{Key: "uuid:3f1c2a7e", HasKey: true}},
		{name: "too long", user: "9", lookup: lookup, key: strings.Repeat("a", 201), status: 400},
		{name: "custom max len", opts: IdempotencyOptions{MaxLen: 5}, lookup: lookup, key: "abcdef", status: 400},
		{name: "bad characters", user: "9", lookup: lookup, key: "key with spaces", status: 400},
		{name: "custom pattern", opts: IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, key: "abc", status: 400},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls = 0
			w := postMessage(idemRouter(tc.opts, tc.user, tc.lookup), tc.key)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.status, w.Body.String())
			}
			if calls != tc.wantCalls {
				t.Fatalf("lookup calls = %d, want %d", calls, tc.wantCalls)
			}
			if tc.status != http.StatusOK {
				var env map[string]string
				if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
					t.Fatalf("invalid json: %v", err)
				}
				if env["code"] != "bad_idempotency_key" || env["request_id"] == "" {
					t.Fatalf("unexpected envelope: %v", env)
				}
				return
			}
			var got idemResult
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if got != tc.want {
				t.Fatalf("handler saw %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestIdempotencyContextHelpers_WrongTypes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	c.Set(ctxKeyIdemKey, 123)
	c.Set(ctxKeyIdemReplay, "yes")
	c.Set(ctxKeyRateBypass, 1)
	c.Set(ctxKeyUserID, 42)
	if _, ok := GetIdempotencyKey(c); ok {
		t.Fatalf("non-string key accepted")
	}
	if IsReplay(c) || IsRateBypass(c) {
		t.Fatalf("non-bool flags accepted")
	}
	if got := userIDFromCtx(c); got != "" {
		t.Fatalf("non-string user id accepted: %q", got)
	}
}
