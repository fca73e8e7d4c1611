package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/marja-chat-backend/internal/domain"
)

// ErrInsufficientBalance is returned by DebitToken in strict mode when the
// user has no tokens left.
var ErrInsufficientBalance = errors.New("insufficient token balance")

// debitClamp decrements without going below zero. CASE keeps it portable
// between MySQL and SQLite (which lacks GREATEST).
const debitClamp = "CASE WHEN token_balance > 0 THEN token_balance - 1 ELSE 0 END"

// UserPatch carries the optional columns of an admin update; nil fields are
// left untouched.
type UserPatch struct {
	Name         *string
	TokenBalance *int
	Status       *string
	Role         *string
}

// CreateUser inserts u. A taken email yields ErrDuplicate.
func CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetUser loads a user by id.
func GetUser(ctx context.Context, db *gorm.DB, id uint) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail loads a user by (case-insensitive) email.
func GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CountUsers returns the number of users.
func CountUsers(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.User{}).Count(&n).Error
	return n, err
}

// ListUsersPage returns users newest first.
func ListUsersPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateUser applies the non-nil fields of p and returns the fresh row.
func UpdateUser(ctx context.Context, db *gorm.DB, id uint, p UserPatch) (*domain.User, error) {
	cols := map[string]any{}
	if p.Name != nil {
		cols["name"] = *p.Name
	}
	if p.TokenBalance != nil {
		cols["token_balance"] = *p.TokenBalance
	}
	if p.Status != nil {
		cols["status"] = *p.Status
	}
	if p.Role != nil {
		cols["role"] = *p.Role
	}
	tx := db.WithContext(ctx)
	if len(cols) > 0 {
		res := tx.Model(&domain.User{}).Where("id = ?", id).Updates(cols)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, ErrNotFound
		}
	}
	return GetUser(ctx, db, id)
}

// DeleteUser hard-deletes a user; owned conversations, messages, reports
// and gift claims go with it through ON DELETE CASCADE.
func DeleteUser(ctx context.Context, db *gorm.DB, id uint) error {
	res := db.WithContext(ctx).Delete(&domain.User{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DebitToken removes one token from the user.
//
// In strict mode the update only matches a positive balance; when it matches
// nothing the user is re-read to tell ErrNotFound from
// ErrInsufficientBalance. Otherwise the balance is clamped at zero and the
// returned flag reports whether a token was actually taken.
func DebitToken(ctx context.Context, db *gorm.DB, userID uint, strict bool) (debited bool, err error) {
	tx := db.WithContext(ctx)
	if strict {
		res := tx.Model(&domain.User{}).
			Where("id = ? AND token_balance > 0", userID).
			Update("token_balance", gorm.Expr("token_balance - 1"))
		if res.Error != nil {
			return false, res.Error
		}
		if res.RowsAffected == 1 {
			return true, nil
		}
		if _, err := GetUser(ctx, db, userID); err != nil {
			return false, err
		}
		return false, ErrInsufficientBalance
	}

	u, err := GetUser(ctx, db, userID)
	if err != nil {
		return false, err
	}
	res := tx.Model(&domain.User{}).
		Where("id = ?", userID).
		Update("token_balance", gorm.Expr(debitClamp))
	if res.Error != nil {
		return false, res.Error
	}
	return u.TokenBalance > 0, nil
}

// CreditTokens adds n tokens to the user.
func CreditTokens(ctx context.Context, db *gorm.DB, userID uint, n int) error {
	res := db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Update("token_balance", gorm.Expr("token_balance + ?", n))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchUser bumps updated_at. As the first write of a transaction it takes
// the user's row lock (MySQL) or the database write lock (SQLite), which
// serializes per-user read-then-write sequences such as gift claims.
func TouchUser(ctx context.Context, db *gorm.DB, userID uint) error {
	res := db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Update("updated_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
