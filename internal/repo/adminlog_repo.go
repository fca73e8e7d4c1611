package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/marja-chat-backend/internal/domain"
)

// CreateAdminLog appends an audit entry.
func CreateAdminLog(ctx context.Context, db *gorm.DB, l *domain.AdminLog) error {
	return db.WithContext(ctx).Create(l).Error
}

// CountAdminLogs returns the number of audit entries.
func CountAdminLogs(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.AdminLog{}).Count(&n).Error
	return n, err
}

// ListAdminLogsPage returns audit entries newest first.
func ListAdminLogsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.AdminLog, error) {
	out := []domain.AdminLog{}
	err := db.WithContext(ctx).
		Order("timestamp DESC").Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, err
}
