package repo

import (
	"context"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/marja-chat-backend/internal/domain"
)

// LoadSettings returns the stored settings document. found is false (and
// the built-in defaults are returned) when nothing has been saved yet.
func LoadSettings(ctx context.Context, db *gorm.DB) (s domain.AppSettings, found bool, err error) {
	var rec domain.SettingsRecord
	err = db.WithContext(ctx).Where("id = ?", domain.SettingsRowID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.DefaultAppSettings(), false, nil
	}
	if err != nil {
		return domain.AppSettings{}, false, err
	}
	return rec.Data.Data(), true, nil
}

// SaveSettings upserts the singleton settings row.
func SaveSettings(ctx context.Context, db *gorm.DB, s domain.AppSettings) error {
	rec := domain.SettingsRecord{
		ID:   domain.SettingsRowID,
		Data: datatypes.NewJSONType(s),
	}
	return db.WithContext(ctx).Save(&rec).Error
}
