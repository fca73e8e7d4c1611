package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/marja-chat-backend/internal/domain"
	"github.com/tbourn/marja-chat-backend/internal/http/middleware"
	"github.com/tbourn/marja-chat-backend/internal/repo"
	"github.com/tbourn/marja-chat-backend/internal/services"
	"github.com/tbourn/marja-chat-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// AuthService registers and signs in users.
type AuthService interface {
	Register(ctx context.Context, name, email, password string) (*services.AuthResult, error)
	Login(ctx context.Context, email, password string) (*services.AuthResult, error)
	CurrentUser(ctx context.Context, userID uint) (*domain.User, error)
}

// UserService is admin user management.
type UserService interface {
	List(ctx context.Context, page, pageSize int) ([]domain.User, int64, error)
	Get(ctx context.Context, id uint) (*domain.User, error)
	Create(ctx context.Context, admin services.Actor, in services.CreateUserInput) (*domain.User, error)
	Update(ctx context.Context, admin services.Actor, id uint, p repo.UserPatch) (*domain.User, error)
	Delete(ctx context.Context, admin services.Actor, id uint) error
}

// ConversationService reads and edits conversations.
type ConversationService interface {
	List(ctx context.Context, actor services.Actor, filterUserID uint, page, pageSize int) ([]domain.Conversation, int64, error)
	Stats(ctx context.Context, actor services.Actor, filterUserID uint) (int64, *time.Time, error)
	Get(ctx context.Context, actor services.Actor, id string) (*domain.Conversation, error)
	Rename(ctx context.Context, actor services.Actor, id, title string) (*domain.Conversation, error)
	Delete(ctx context.Context, actor services.Actor, id string) error
}

// MessageService runs the send transaction; onChunk receives the reply as
// it is generated.
type MessageService interface {
	Send(ctx context.Context, actor services.Actor, in services.SendInput, onChunk func(string)) (*services.SendResult, error)
}

// ReportService files and triages reports.
type ReportService interface {
	Create(ctx context.Context, actor services.Actor, in services.CreateReportInput) (*domain.Report, error)
	List(ctx context.Context, status string, page, pageSize int) ([]domain.Report, int64, error)
	Get(ctx context.Context, id uint) (*domain.Report, error)
	Update(ctx context.Context, admin services.Actor, id uint, in services.UpdateReportInput) (*domain.Report, error)
}

// AdminLogService is the audit trail.
type AdminLogService interface {
	List(ctx context.Context, page, pageSize int) ([]domain.AdminLog, int64, error)
	Create(ctx context.Context, adminName, action string) (*domain.AdminLog, error)
}

// CatalogService serves the store catalog reads.
type CatalogService interface {
	TokenPackages(ctx context.Context) ([]domain.TokenPackage, error)
	DiscountCodes(ctx context.Context) ([]domain.DiscountCode, error)
	GiftCards(ctx context.Context) ([]domain.GiftCard, error)
	Transactions(ctx context.Context) ([]domain.Transaction, error)
}

// SettingsService reads and patches the site settings document.
type SettingsService interface {
	Get(ctx context.Context) (domain.AppSettings, error)
	Update(ctx context.Context, admin services.Actor, patch []byte) (domain.AppSettings, error)
}

// GiftService runs the spiritual gift.
type GiftService interface {
	Status(ctx context.Context, userID uint) (*services.GiftStatus, error)
	Claim(ctx context.Context, userID uint) (*services.GiftClaimResult, error)
}

//
// Handler wiring
//

// Services bundles the dependencies of Handlers.
type Services struct {
	Auth          AuthService
	Users         UserService
	Conversations ConversationService
	Messages      MessageService
	Reports       ReportService
	AdminLogs     AdminLogService
	Catalog       CatalogService
	Settings      SettingsService
	Gifts         GiftService
}

// Handlers groups the HTTP endpoints. It depends on service interfaces only.
type Handlers struct {
	svc Services
}

// New constructs Handlers bound to s.
func New(s Services) *Handlers {
	return &Handlers{svc: s}
}

// actor builds the caller from the claims stored by middleware.Authenticate.
// Routes using it are always mounted behind Authenticate.
func actor(c *gin.Context) services.Actor {
	cl, ok := middleware.ClaimsFrom(c)
	if !ok {
		return services.Actor{}
	}
	return services.Actor{UserID: cl.ID, Name: cl.Name, Email: cl.Email, Role: cl.Role}
}

//
// Shared DTOs and helpers
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// SuccessResponse acknowledges a delete.
type SuccessResponse struct {
	Success bool   `json:"success" example:"true"`
	ID      string `json:"id" example:"42"`
}

// clampPagination parses page and page_size, applying defaults and caps.
func clampPagination(c *gin.Context) (page, pageSize int) {
	page, pageSize, _ = utils.Paginate(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), utils.DefaultPageSize),
	)
	return
}

func pagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// uintParam parses a positive numeric path parameter.
func uintParam(c *gin.Context, name string) (uint, bool) {
	n, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}
