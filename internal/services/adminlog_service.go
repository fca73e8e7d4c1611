package services

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/marja-chat-backend/internal/domain"
	"github.com/tbourn/marja-chat-backend/internal/observability"
	"github.com/tbourn/marja-chat-backend/internal/repo"
	"github.com/tbourn/marja-chat-backend/internal/utils"
)

// AdminLogService reads and appends the audit trail.
type AdminLogService struct {
	DB *gorm.DB
}

// List returns a page of entries, newest first.
func (s *AdminLogService) List(ctx context.Context, page, pageSize int) ([]domain.AdminLog, int64, error) {
	ctx, span := observability.Tracer("services/AdminLogService").Start(ctx, "List")
	defer span.End()

	_, size, offset := utils.Paginate(page, pageSize)
	total, err := repo.CountAdminLogs(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.AdminLog{}, 0, nil
	}
	items, err := repo.ListAdminLogsPage(ctx, s.DB, offset, size)
	return items, total, err
}

// Create appends an entry. Both fields are required.
func (s *AdminLogService) Create(ctx context.Context, adminName, action string) (*domain.AdminLog, error) {
	ctx, span := observability.Tracer("services/AdminLogService").Start(ctx, "Create")
	defer span.End()

	adminName, action = strings.TrimSpace(adminName), strings.TrimSpace(action)
	if adminName == "" || action == "" {
		return nil, invalid("adminName and action are required")
	}
	l := &domain.AdminLog{AdminName: adminName, Action: action, Timestamp: time.Now().UTC()}
	if err := repo.CreateAdminLog(ctx, s.DB, l); err != nil {
		return nil, err
	}
	return l, nil
}
