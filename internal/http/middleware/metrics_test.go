package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RoutesStreamsAndUnmatched(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/v1/conversations/:id", func(c *gin.Context) { c.String(http.StatusOK, "conv") })
	r.POST("/api/v1/messages/stream", func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.SSEvent("done", "{}")
	})
	r.DELETE("/api/v1/conversations/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	const convRoute = "/api/v1/conversations/:id"
	const streamRoute = "/api/v1/messages/stream"
	baseConv := testutil.ToFloat64(httpReqs.WithLabelValues("GET", convRoute, "200"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", unmatchedPath, "404"))
	baseStream := testutil.CollectAndCount(httpStreamDur)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/v1/conversations/a", nil),
		httptest.NewRequest(http.MethodGet, "/api/v1/conversations/b", nil),
		httptest.NewRequest(http.MethodGet, "/nope", nil),
		httptest.NewRequest(http.MethodPost, streamRoute, nil),
		httptest.NewRequest(http.MethodDelete, "/api/v1/conversations/a", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", convRoute, "200")); got != baseConv+2 {
		t.Fatalf("route counter = %v, want %v (ids must collapse to the route)", got, baseConv+2)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", unmatchedPath, "404")); got != base404+1 {
		t.Fatalf("unmatched counter = %v, want %v", got, base404+1)
	}
	if got := testutil.CollectAndCount(httpStreamDur); got < 1 || got < baseStream {
		t.Fatalf("stream histogram series = %d", got)
	}
	if got := testutil.ToFloat64(httpInflight); got != 0 {
		t.Fatalf("inflight = %v, want 0", got)
	}
}

func TestIsEventStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if isEventStream(c) {
		t.Fatalf("empty content type is not a stream")
	}
	c.Header("Content-Type", "text/event-stream; charset=utf-8")
	if !isEventStream(c) {
		t.Fatalf("event-stream content type not detected")
	}
}
