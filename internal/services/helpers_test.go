package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/marja-chat-backend/internal/config"
	"github.com/tbourn/marja-chat-backend/internal/domain"
	"github.com/tbourn/marja-chat-backend/internal/repo"
)

// newServiceDB opens a migrated SQLite database in a temp dir.
func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.Open(config.DBConfig{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "svc.db")})
	require.NoError(t, err)
	db.Logger = logger.Default.LogMode(logger.Silent)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, repo.AutoMigrate(db))
	return db
}

// mkUser stores a user and returns it as an Actor.
func mkUser(t *testing.T, db *gorm.DB, email string, balance int, role string) Actor {
	t.Helper()
	u := &domain.User{
		Name:         "name-" + email,
		Email:        email,
		PasswordHash: "x",
		TokenBalance: balance,
		Role:         role,
		Status:       domain.UserActive,
		JoinDate:     time.Now().UTC().Format(domain.JoinDateLayout),
	}
	require.NoError(t, repo.CreateUser(context.Background(), db, u))
	return Actor{UserID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

func balanceOf(t *testing.T, db *gorm.DB, id uint) int {
	t.Helper()
	u, err := repo.GetUser(context.Background(), db, id)
	require.NoError(t, err)
	return u.TokenBalance
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

// defaultMarja is the first active marja of the built-in settings.
func defaultMarja() string {
	for _, m := range domain.DefaultAppSettings().Maraji {
		if m.Active {
			return m.Name
		}
	}
	return ""
}

// mockResponder is a testify mock of Responder. The reply is also passed
// to onChunk as a single chunk.
type mockResponder struct{ mock.Mock }

func (m *mockResponder) Reply(ctx context.Context, req ReplyRequest, onChunk func(string)) (string, error) {
	args := m.Called(ctx, req, onChunk)
	reply, err := args.String(0), args.Error(1)
	if err == nil && onChunk != nil {
		onChunk(reply)
	}
	return reply, err
}
