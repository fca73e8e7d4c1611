// Package client is a typed Go client for the chat API. It injects the
// bearer token, decodes the error envelope into *APIError and reads the
// streaming send as server-sent events.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tbourn/marja-chat-backend/internal/domain"
)

// APIError is a non-2xx response.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
	// RetryAfter is parsed from the Retry-After header of 429 responses.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: %d %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsStatus reports whether err is an *APIError with the given status.
func IsStatus(err error, status int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == status
}

// Client talks to one API base URL, e.g. http://localhost:8080/api/v1.
// It is safe for concurrent use.
type Client struct {
	base string
	http *http.Client

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken starts the client with a bearer token.
func WithToken(tok string) Option {
	return func(c *Client) { c.token = tok }
}

// New returns a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetToken replaces the bearer token; empty clears it.
func (c *Client) SetToken(tok string) {
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any, hdr http.Header) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

// do sends a JSON request and decodes a 2xx body into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out any, hdr http.Header) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, body, hdr)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotModified {
		return resp, decodeError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotModified {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp, nil
}

// decodeError builds an *APIError from a failed response. Bodies that are
// not the JSON envelope (proxies, plain-text 502s) keep their text as the
// message.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	e := &APIError{Status: resp.StatusCode}
	if gjson.ValidBytes(raw) {
		env := gjson.ParseBytes(raw)
		e.Code = env.Get("code").String()
		e.Message = env.Get("message").String()
		e.RequestID = env.Get("request_id").String()
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(raw))
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	if e.RequestID == "" {
		e.RequestID = resp.Header.Get("X-Request-ID")
	}
	if s := resp.Header.Get("Retry-After"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			e.RetryAfter = time.Duration(n) * time.Second
		}
	}
	return e
}

//
// Auth
//

// AuthResult is the response of Register and Login.
type AuthResult struct {
	User  domain.User `json:"user"`
	Token string      `json:"token"`
}

// Register creates an account and adopts its token.
func (c *Client) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	var out AuthResult
	body := map[string]string{"name": name, "email": email, "password": password}
	if _, err := c.do(ctx, http.MethodPost, "/register", body, &out, nil); err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

// Login signs in and adopts the returned token.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	var out AuthResult
	body := map[string]string{"email": email, "password": password}
	if _, err := c.do(ctx, http.MethodPost, "/login", body, &out, nil); err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

// CurrentUser re-reads the signed-in user.
func (c *Client) CurrentUser(ctx context.Context) (*domain.User, error) {
	var u domain.User
	if _, err := c.do(ctx, http.MethodGet, "/current-user", nil, &u, nil); err != nil {
		return nil, err
	}
	return &u, nil
}

//
// Conversations
//

// Pagination mirrors the list metadata of the API.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ConversationPage is one page of conversations.
type ConversationPage struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
	// ETag validates this page for ListConversationsIfChanged.
	ETag string `json:"-"`
}

// ListConversations returns one page of the caller's conversations.
func (c *Client) ListConversations(ctx context.Context, page, pageSize int) (*ConversationPage, error) {
	p, _, err := c.ListConversationsIfChanged(ctx, page, pageSize, "")
	return p, err
}

// ListConversationsIfChanged sends etag as If-None-Match. It returns
// changed=false and a nil page when the server answers 304.
func (c *Client) ListConversationsIfChanged(ctx context.Context, page, pageSize int, etag string) (*ConversationPage, bool, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	path := "/conversations"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var hdr http.Header
	if etag != "" {
		hdr = http.Header{"If-None-Match": []string{etag}}
	}
	var out ConversationPage
	resp, err := c.do(ctx, http.MethodGet, path, nil, &out, hdr)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode == http.StatusNotModified {
		return nil, false, nil
	}
	out.ETag = resp.Header.Get("ETag")
	return &out, true, nil
}

// GetConversation returns one conversation with its messages.
func (c *Client) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var out domain.Conversation
	if _, err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// RenameConversation sets a new title.
func (c *Client) RenameConversation(ctx context.Context, id, title string) (*domain.Conversation, error) {
	var out domain.Conversation
	body := map[string]string{"title": title}
	if _, err := c.do(ctx, http.MethodPut, "/conversations/"+url.PathEscape(id), body, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteConversation removes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(id), nil, nil, nil)
	return err
}

//
// Messages
//

// SendRequest is one message send. An empty ConversationID starts a
// conversation bound to MarjaName.
type SendRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	MarjaName      string `json:"marjaName,omitempty"`
	Message        string `json:"message"`
	// IdempotencyKey, when set, makes a retry replay the first result.
	IdempotencyKey string `json:"-"`
}

func (r SendRequest) header() http.Header {
	if r.IdempotencyKey == "" {
		return nil
	}
	return http.Header{"Idempotency-Key": []string{r.IdempotencyKey}}
}

// SendMessage posts a message and returns the committed conversation.
func (c *Client) SendMessage(ctx context.Context, in SendRequest) (*domain.Conversation, error) {
	var out domain.Conversation
	if _, err := c.do(ctx, http.MethodPost, "/messages", in, &out, in.header()); err != nil {
		return nil, err
	}
	return &out, nil
}

//
// Reports, settings and the spiritual gift
//

// ReportRequest flags a conversation.
type ReportRequest struct {
	ConversationID string  `json:"conversationId"`
	Feedback       *string `json:"feedback,omitempty"`
	ReportText     *string `json:"reportText,omitempty"`
	Category       *string `json:"category,omitempty"`
}

// CreateReport files a report on one of the caller's conversations.
func (c *Client) CreateReport(ctx context.Context, in ReportRequest) (*domain.Report, error) {
	var out domain.Report
	if _, err := c.do(ctx, http.MethodPost, "/reports", in, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settings returns the public site settings.
func (c *Client) Settings(ctx context.Context) (*domain.AppSettings, error) {
	var out domain.AppSettings
	if _, err := c.do(ctx, http.MethodGet, "/settings", nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// GiftStatus mirrors the spiritual gift status.
type GiftStatus struct {
	Enabled        bool       `json:"enabled"`
	TokensPerClick int        `json:"tokensPerClick"`
	MaxDailyTokens int        `json:"maxDailyTokens"`
	ClaimedToday   int        `json:"claimedToday"`
	RemainingToday int        `json:"remainingToday"`
	NextClaimAt    *time.Time `json:"nextClaimAt"`
}

// GiftClaim is the result of a successful claim.
type GiftClaim struct {
	Tokens       int        `json:"tokens"`
	TokenBalance int        `json:"tokenBalance"`
	Status       GiftStatus `json:"status"`
}

// GiftStatus returns the caller's spiritual gift status.
func (c *Client) GiftStatus(ctx context.Context) (*GiftStatus, error) {
	var out GiftStatus
	if _, err := c.do(ctx, http.MethodGet, "/spiritual-gift", nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClaimGift claims the spiritual gift. A cooldown answers an *APIError with
// status 429 and RetryAfter set.
func (c *Client) ClaimGift(ctx context.Context) (*GiftClaim, error) {
	var out GiftClaim
	if _, err := c.do(ctx, http.MethodPost, "/spiritual-gift/claim", nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}
