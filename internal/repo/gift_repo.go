package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/marja-chat-backend/internal/domain"
)

// LastGiftClaim returns the user's most recent claim.
func LastGiftClaim(ctx context.Context, db *gorm.DB, userID uint) (*domain.GiftClaim, error) {
	var c domain.GiftClaim
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("claimed_at DESC").Order("id DESC").
		Take(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SumGiftTokensSince totals the tokens the user claimed at or after since.
func SumGiftTokensSince(ctx context.Context, db *gorm.DB, userID uint, since time.Time) (int, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.GiftClaim{}).
		Where("user_id = ? AND claimed_at >= ?", userID, since).
		Select("COALESCE(SUM(tokens), 0)").
		Scan(&total).Error
	return int(total), err
}

// CreateGiftClaim records a claim.
func CreateGiftClaim(ctx context.Context, db *gorm.DB, c *domain.GiftClaim) error {
	return db.WithContext(ctx).Omit("User").Create(c).Error
}

// DeleteGiftClaimsBefore prunes claims older than before. Only the current
// UTC day and the latest claim are ever read back.
func DeleteGiftClaimsBefore(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("claimed_at < ?", before).Delete(&domain.GiftClaim{})
	return res.RowsAffected, res.Error
}
