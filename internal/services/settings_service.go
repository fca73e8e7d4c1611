package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/marja-chat-backend/internal/domain"
	"github.com/tbourn/marja-chat-backend/internal/observability"
	"github.com/tbourn/marja-chat-backend/internal/repo"
)

// SettingsService reads and updates the site settings document.
type SettingsService struct {
	DB *gorm.DB
}

// Get returns the stored settings, or the defaults when none are stored.
func (s *SettingsService) Get(ctx context.Context) (domain.AppSettings, error) {
	ctx, span := observability.Tracer("services/SettingsService").Start(ctx, "Get")
	defer span.End()

	st, _, err := repo.LoadSettings(ctx, s.DB)
	return st, err
}

// Update merges patch, a partial settings JSON document, onto the stored
// settings, validates the result and persists it with an audit entry.
// Objects merge field by field; arrays are replaced whole.
func (s *SettingsService) Update(ctx context.Context, admin Actor, patch []byte) (domain.AppSettings, error) {
	ctx, span := observability.Tracer("services/SettingsService").Start(ctx, "Update",
		trace.WithAttributes(attribute.Int("patch.bytes", len(patch))),
	)
	defer span.End()

	if len(bytes.TrimSpace(patch)) == 0 {
		return domain.AppSettings{}, invalid("settings body required")
	}

	var out domain.AppSettings
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, _, err := repo.LoadSettings(ctx, tx)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(patch, &cur); err != nil {
			return invalid("malformed settings: %v", err)
		}
		if err := cur.Validate(); err != nil {
			if errors.Is(err, domain.ErrInvalidSettings) {
				return fmt.Errorf("%w: %v", ErrInvalidInput, err)
			}
			return err
		}
		if err := repo.SaveSettings(ctx, tx, cur); err != nil {
			return err
		}
		if err := writeAdminLog(ctx, tx, admin, "Updated site settings"); err != nil {
			return err
		}
		out = cur
		return nil
	})
	return out, err
}

// writeAdminLog appends an audit entry attributed to admin.
func writeAdminLog(ctx context.Context, tx *gorm.DB, admin Actor, action string) error {
	name := admin.Name
	if name == "" {
		name = admin.Email
	}
	return repo.CreateAdminLog(ctx, tx, &domain.AdminLog{
		AdminName: name,
		Action:    action,
		Timestamp: time.Now().UTC(),
	})
}
