package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/marja-chat-backend/internal/domain"
)

// GetIdempotencyKey returns the unexpired record for (userID, scope, key).
func GetIdempotencyKey(ctx context.Context, db *gorm.DB, userID uint, scope, key string, now time.Time) (*domain.IdempotencyKey, error) {
	var rec domain.IdempotencyKey
	err := db.WithContext(ctx).
		Where("user_id = ? AND scope = ? AND idem_key = ? AND expires_at > ?", userID, scope, key, now).
		Take(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotencyKey stores rec. A concurrent holder of the same key
// yields ErrDuplicate.
func CreateIdempotencyKey(ctx context.Context, db *gorm.DB, rec *domain.IdempotencyKey) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// DeleteExpiredIdempotencyKeys removes records that expired before now.
// Expired rows would otherwise keep their key reserved on the unique index.
func DeleteExpiredIdempotencyKeys(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.IdempotencyKey{})
	return res.RowsAffected, res.Error
}

// ReleaseExpiredIdempotencyKey deletes an expired record for (userID,
// scope, key) so the key can be recorded again.
func ReleaseExpiredIdempotencyKey(ctx context.Context, db *gorm.DB, userID uint, scope, key string, now time.Time) error {
	return db.WithContext(ctx).
		Where("user_id = ? AND scope = ? AND idem_key = ? AND expires_at <= ?", userID, scope, key, now).
		Delete(&domain.IdempotencyKey{}).Error
}
