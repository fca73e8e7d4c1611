package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_LoginStoresTokenAndSendsBearer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a@example.com", body["email"])
		writeJSON(w, http.StatusOK, map[string]any{
			"user":  map[string]any{"id": 7, "name": "Ali", "email": "a@example.com", "tokenBalance": 12},
			"token": "tok-1",
		})
	})
	mux.HandleFunc("/api/v1/current-user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "unauthorized", "message": "missing token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": 7, "tokenBalance": 11})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL + "/api/v1/")
	ctx := context.Background()

	_, err := c.CurrentUser(ctx)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))

	res, err := c.Login(ctx, "a@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", res.Token)
	assert.Equal(t, 12, res.User.TokenBalance)
	assert.Equal(t, "tok-1", c.Token())

	u, err := c.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, 11, u.TokenBalance)
}

func TestClient_ErrorEnvelopeDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/envelope":
			w.Header().Set("Retry-After", "30")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"request_id": "rid-1", "code": "rate_limited", "message": "slow down",
			})
		default:
			w.Header().Set("X-Request-ID", "rid-2")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, "upstream down\n")
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.do(context.Background(), http.MethodGet, "/envelope", nil, nil, nil)
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusTooManyRequests, ae.Status)
	assert.Equal(t, "rate_limited", ae.Code)
	assert.Equal(t, "slow down", ae.Message)
	assert.Equal(t, "rid-1", ae.RequestID)
	assert.Equal(t, 30*time.Second, ae.RetryAfter)
	assert.Contains(t, ae.Error(), "rate_limited")

	_, err = c.do(context.Background(), http.MethodGet, "/plain", nil, nil, nil)
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusBadGateway, ae.Status)
	assert.Empty(t, ae.Code)
	assert.Equal(t, "upstream down", ae.Message)
	assert.Equal(t, "rid-2", ae.RequestID)
}

func TestClient_ListConversationsIfChanged(t *testing.T) {
	const etag = `W/"conv:7:1"`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		writeJSON(w, http.StatusOK, map[string]any{
			"conversations": []map[string]any{{"id": "c1", "title": "t"}},
			"pagination":    map[string]any{"page": 2, "page_size": 10, "total": 11, "total_pages": 2},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	page, changed, err := c.ListConversationsIfChanged(context.Background(), 2, 10, "")
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, etag, page.ETag)
	require.Len(t, page.Conversations, 1)
	assert.Equal(t, "c1", page.Conversations[0].ID)
	assert.Equal(t, int64(11), page.Pagination.Total)

	page, changed, err = c.ListConversationsIfChanged(context.Background(), 2, 10, etag)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, page)
}

func TestClient_SendMessageIdempotencyHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["message"])
		_, hasConv := body["conversationId"]
		assert.False(t, hasConv, "empty conversation id must be omitted")
		writeJSON(w, http.StatusOK, map[string]any{"id": "c9", "marja": "m"})
	}))
	defer srv.Close()

	conv, err := New(srv.URL).SendMessage(context.Background(), SendRequest{
		MarjaName: "m", Message: "hello", IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "c9", conv.ID)
}

func sse(w http.ResponseWriter, event, data string) {
	_, _ = fmt.Fprintf(w, "event:%s\ndata:%s\n\n", event, data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestClient_StreamMessage(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		chunks  []string
		check   func(t *testing.T, err error)
	}{
		{
			name: "chunks then done",
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
				w.Header().Set("Content-Type", "text/event-stream")
				sse(w, "chunk", `{"text":"سلام"}`)
				_, _ = io.WriteString(w, ": keep-alive\n\n")
				sse(w, "chunk", `{"text":" دوست"}`)
				sse(w, "done", `{"id":"c1","messages":[{"id":"m1","sender":"user"},{"id":"m2","sender":"ai"}]}`)
			},
			chunks: []string{"سلام", " دوست"},
		},
		{
			name: "error event after a chunk",
			handler: func(w http.ResponseWriter, r *http.Request) {
				sse(w, "chunk", `{"text":"a"}`)
				sse(w, "error", `{"code":"internal_error","message":"boom"}`)
			},
			chunks: []string{"a"},
			check: func(t *testing.T, err error) {
				var ae *APIError
				require.ErrorAs(t, err, &ae)
				assert.Equal(t, 0, ae.Status)
				assert.Equal(t, "internal_error", ae.Code)
			},
		},
		{
			name: "done over one MiB",
			handler: func(w http.ResponseWriter, r *http.Request) {
				long := strings.Repeat("ن", 400_000)
				done, _ := json.Marshal(map[string]any{
					"id": "c1",
					"messages": []map[string]string{
						{"id": "m1", "sender": "user", "text": long},
						{"id": "m2", "sender": "ai", "text": long},
					},
				})
				assert.Greater(t, len(done), 1<<20)
				sse(w, "done", string(done))
			},
		},
		{
			name: "malformed error event",
			handler: func(w http.ResponseWriter, r *http.Request) {
				sse(w, "error", `{"code":`)
			},
			check: func(t *testing.T, err error) {
				require.Error(t, err)
				var ae *APIError
				assert.False(t, errors.As(err, &ae))
				assert.Contains(t, err.Error(), "decode error event")
			},
		},
		{
			name: "json error before stream",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusPaymentRequired, map[string]string{"code": "insufficient_tokens", "message": "no tokens"})
			},
			check: func(t *testing.T, err error) {
				assert.True(t, IsStatus(err, http.StatusPaymentRequired))
			},
		},
		{
			name: "truncated",
			handler: func(w http.ResponseWriter, r *http.Request) {
				sse(w, "chunk", `{"text":"a"}`)
			},
			chunks: []string{"a"},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrStreamTruncated)
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			var got []string
			conv, err := New(srv.URL).StreamMessage(context.Background(), SendRequest{MarjaName: "m", Message: "hi"}, func(s string) {
				got = append(got, s)
			})
			assert.Equal(t, tc.chunks, got)
			if tc.check != nil {
				tc.check(t, err)
				assert.Nil(t, conv)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "c1", conv.ID)
			assert.Len(t, conv.Messages, 2)
		})
	}
}

func TestReadEvents(t *testing.T) {
	in := strings.Join([]string{
		": comment",
		"event: a",
		"data: one",
		"data: two",
		"",
		"data:plain",
		"id: 5",
		"",
		"event:tail",
		"data:x",
	}, "\n")

	var got []Event
	err := ReadEvents(strings.NewReader(in), func(ev Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, Event{Name: "a", Data: []byte("one\ntwo")}, got[0])
	assert.Equal(t, Event{Name: "message", Data: []byte("plain")}, got[1])
	assert.Equal(t, Event{Name: "tail", Data: []byte("x")}, got[2])

	crlf := "event: done\r\ndata: " + strings.Repeat("x", 2<<20) + "\r\n\r\n"
	got = nil
	require.NoError(t, ReadEvents(strings.NewReader(crlf), func(ev Event) error {
		got = append(got, ev)
		return nil
	}))
	require.Len(t, got, 1)
	assert.Equal(t, "done", got[0].Name)
	assert.Len(t, got[0].Data, 2<<20)

	stop := errors.New("stop")
	n := 0
	err = ReadEvents(strings.NewReader(in), func(Event) error { n++; return stop })
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
}
