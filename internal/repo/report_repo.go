package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/marja-chat-backend/internal/domain"
)

// reportsWithEmail selects reports joined with the owner's email.
func reportsWithEmail(db *gorm.DB) *gorm.DB {
	return db.Model(&domain.Report{}).
		Select("reports.*, users.email AS email").
		Joins("JOIN users ON users.id = reports.user_id")
}

func reportsByStatus(db *gorm.DB, status string) *gorm.DB {
	if status == "" {
		return db
	}
	return db.Where("reports.status = ?", status)
}

// CreateReport inserts r.
func CreateReport(ctx context.Context, db *gorm.DB, r *domain.Report) error {
	return db.WithContext(ctx).Omit("User", "Conversation").Create(r).Error
}

// CountReports counts reports, optionally filtered by status.
func CountReports(ctx context.Context, db *gorm.DB, status string) (int64, error) {
	var n int64
	err := reportsByStatus(db.WithContext(ctx).Model(&domain.Report{}), status).Count(&n).Error
	return n, err
}

// ListReportsPage returns reports newest first with the owner's email.
func ListReportsPage(ctx context.Context, db *gorm.DB, status string, offset, limit int) ([]domain.Report, error) {
	out := []domain.Report{}
	err := reportsByStatus(reportsWithEmail(db.WithContext(ctx)), status).
		Order("reports.date DESC").Order("reports.id DESC").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, err
}

// GetReport loads a report with the owner's email.
func GetReport(ctx context.Context, db *gorm.DB, id uint) (*domain.Report, error) {
	var r domain.Report
	err := reportsWithEmail(db.WithContext(ctx)).
		Where("reports.id = ?", id).
		Take(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReportDetail loads a report with its conversation and messages.
func GetReportDetail(ctx context.Context, db *gorm.DB, id uint) (*domain.Report, error) {
	var r domain.Report
	err := reportsWithEmail(db.WithContext(ctx)).
		Preload("Conversation").
		Preload("Conversation.Messages", messagesChronological).
		Where("reports.id = ?", id).
		Take(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateReportFields sets the given columns on a report.
func UpdateReportFields(ctx context.Context, db *gorm.DB, id uint, cols map[string]any) error {
	if len(cols) == 0 {
		return nil
	}
	res := db.WithContext(ctx).Model(&domain.Report{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkReportRefunded flips refunded from false to true. It reports whether
// this call performed the flip; a concurrent or repeated call gets false.
func MarkReportRefunded(ctx context.Context, db *gorm.DB, id uint) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.Report{}).
		Where("id = ? AND refunded = ?", id, false).
		Update("refunded", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
