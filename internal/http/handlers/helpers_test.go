package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/marja-chat-backend/internal/auth"
	"github.com/tbourn/marja-chat-backend/internal/domain"
	"github.com/tbourn/marja-chat-backend/internal/http/middleware"
	"github.com/tbourn/marja-chat-backend/internal/repo"
	"github.com/tbourn/marja-chat-backend/internal/services"
)

// ---------- auth shim ----------

// fakeParser accepts the tokens "user" (id 7) and "admin" (id 1).
type fakeParser struct{}

func (fakeParser) Parse(raw string) (*auth.Claims, error) {
	switch raw {
	case "user":
		return &auth.Claims{ID: 7, Name: "Ali", Email: "ali@x.io", Role: domain.RoleUser}, nil
	case "admin":
		return &auth.Claims{ID: 1, Name: "Root", Email: "root@x.io", Role: domain.RoleAdmin, IsAdmin: true}, nil
	}
	return nil, auth.ErrInvalidToken
}

// newTestRouter mounts one authenticated route.
func newTestRouter(method, path string, h gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Handle(method, path, middleware.Authenticate(fakeParser{}), h)
	return r
}

// newOpenRouter mounts one public route.
func newOpenRouter(method, path string, h gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Handle(method, path, h)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path, token string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error envelope %q: %v", w.Body.String(), err)
	}
	return e
}

var errNotStubbed = errors.New("not stubbed")

// ---------- service stubs ----------

type stubAuth struct {
	register func(ctx context.Context, name, email, password string) (*services.AuthResult, error)
	login    func(ctx context.Context, email, password string) (*services.AuthResult, error)
	current  func(ctx context.Context, id uint) (*domain.User, error)
}

func (s stubAuth) Register(ctx context.Context, name, email, password string) (*services.AuthResult, error) {
	if s.register != nil {
		return s.register(ctx, name, email, password)
	}
	return nil, errNotStubbed
}

func (s stubAuth) Login(ctx context.Context, email, password string) (*services.AuthResult, error) {
	if s.login != nil {
		return s.login(ctx, email, password)
	}
	return nil, errNotStubbed
}

func (s stubAuth) CurrentUser(ctx context.Context, id uint) (*domain.User, error) {
	if s.current != nil {
		return s.current(ctx, id)
	}
	return nil, errNotStubbed
}

type stubUsers struct {
	update func(ctx context.Context, admin services.Actor, id uint, p repo.UserPatch) (*domain.User, error)
	del    func(ctx context.Context, admin services.Actor, id uint) error
}

func (stubUsers) List(context.Context, int, int) ([]domain.User, int64, error) {
	return nil, 0, errNotStubbed
}

func (stubUsers) Get(context.Context, uint) (*domain.User, error) { return nil, errNotStubbed }

func (stubUsers) Create(context.Context, services.Actor, services.CreateUserInput) (*domain.User, error) {
	return nil, errNotStubbed
}

func (s stubUsers) Update(ctx context.Context, admin services.Actor, id uint, p repo.UserPatch) (*domain.User, error) {
	if s.update != nil {
		return s.update(ctx, admin, id, p)
	}
	return nil, errNotStubbed
}

func (s stubUsers) Delete(ctx context.Context, admin services.Actor, id uint) error {
	if s.del != nil {
		return s.del(ctx, admin, id)
	}
	return errNotStubbed
}

type stubConversations struct {
	list   func(ctx context.Context, a services.Actor, filter uint, page, size int) ([]domain.Conversation, int64, error)
	stats  func(ctx context.Context, a services.Actor, filter uint) (int64, *time.Time, error)
	get    func(ctx context.Context, a services.Actor, id string) (*domain.Conversation, error)
	rename func(ctx context.Context, a services.Actor, id, title string) (*domain.Conversation, error)
}

func (s stubConversations) List(ctx context.Context, a services.Actor, filter uint, page, size int) ([]domain.Conversation, int64, error) {
	if s.list != nil {
		return s.list(ctx, a, filter, page, size)
	}
	return nil, 0, errNotStubbed
}

func (s stubConversations) Stats(ctx context.Context, a services.Actor, filter uint) (int64, *time.Time, error) {
	if s.stats != nil {
		return s.stats(ctx, a, filter)
	}
	return 0, nil, errNotStubbed
}

func (s stubConversations) Get(ctx context.Context, a services.Actor, id string) (*domain.Conversation, error) {
	if s.get != nil {
		return s.get(ctx, a, id)
	}
	return nil, errNotStubbed
}

func (s stubConversations) Rename(ctx context.Context, a services.Actor, id, title string) (*domain.Conversation, error) {
	if s.rename != nil {
		return s.rename(ctx, a, id, title)
	}
	return nil, errNotStubbed
}

func (stubConversations) Delete(context.Context, services.Actor, string) error { return nil }

type stubMessages struct {
	send func(ctx context.Context, a services.Actor, in services.SendInput, onChunk func(string)) (*services.SendResult, error)
}

func (s stubMessages) Send(ctx context.Context, a services.Actor, in services.SendInput, onChunk func(string)) (*services.SendResult, error) {
	return s.send(ctx, a, in, onChunk)
}

type stubReports struct {
	create func(ctx context.Context, a services.Actor, in services.CreateReportInput) (*domain.Report, error)
	update func(ctx context.Context, a services.Actor, id uint, in services.UpdateReportInput) (*domain.Report, error)
}

func (s stubReports) Create(ctx context.Context, a services.Actor, in services.CreateReportInput) (*domain.Report, error) {
	return s.create(ctx, a, in)
}

func (stubReports) List(context.Context, string, int, int) ([]domain.Report, int64, error) {
	return nil, 0, errNotStubbed
}

func (stubReports) Get(context.Context, uint) (*domain.Report, error) { return nil, errNotStubbed }

func (s stubReports) Update(ctx context.Context, a services.Actor, id uint, in services.UpdateReportInput) (*domain.Report, error) {
	return s.update(ctx, a, id, in)
}

type stubCatalog struct{}

func (stubCatalog) TokenPackages(context.Context) ([]domain.TokenPackage, error) { return nil, nil }
func (stubCatalog) DiscountCodes(context.Context) ([]domain.DiscountCode, error) { return nil, nil }
func (stubCatalog) GiftCards(context.Context) ([]domain.GiftCard, error)         { return nil, nil }
func (stubCatalog) Transactions(context.Context) ([]domain.Transaction, error) {
	return nil, errors.New("db down")
}

type stubSettings struct {
	update func(ctx context.Context, a services.Actor, patch []byte) (domain.AppSettings, error)
}

func (stubSettings) Get(context.Context) (domain.AppSettings, error) {
	return domain.DefaultAppSettings(), nil
}

func (s stubSettings) Update(ctx context.Context, a services.Actor, patch []byte) (domain.AppSettings, error) {
	return s.update(ctx, a, patch)
}

type stubGifts struct {
	claim func(ctx context.Context, userID uint) (*services.GiftClaimResult, error)
}

func (stubGifts) Status(context.Context, uint) (*services.GiftStatus, error) {
	return &services.GiftStatus{Enabled: true}, nil
}

func (s stubGifts) Claim(ctx context.Context, userID uint) (*services.GiftClaimResult, error) {
	return s.claim(ctx, userID)
}
