package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/marja-chat-backend/internal/domain"
)

// ListTokenPackages returns packages cheapest first.
func ListTokenPackages(ctx context.Context, db *gorm.DB) ([]domain.TokenPackage, error) {
	out := []domain.TokenPackage{}
	err := db.WithContext(ctx).Order("price ASC").Order("id ASC").Find(&out).Error
	return out, err
}

// ListDiscountCodes returns discount codes in creation order.
func ListDiscountCodes(ctx context.Context, db *gorm.DB) ([]domain.DiscountCode, error) {
	out := []domain.DiscountCode{}
	err := db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}

// ListGiftCards returns gift cards in creation order.
func ListGiftCards(ctx context.Context, db *gorm.DB) ([]domain.GiftCard, error) {
	out := []domain.GiftCard{}
	err := db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}

// ListTransactions returns purchases newest first.
func ListTransactions(ctx context.Context, db *gorm.DB) ([]domain.Transaction, error) {
	out := []domain.Transaction{}
	err := db.WithContext(ctx).Order("date DESC").Order("id ASC").Find(&out).Error
	return out, err
}

// SeedDemoCatalog fills an empty catalog with sample packages, codes and
// gift cards. It is a no-op once any package exists.
func SeedDemoCatalog(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&domain.TokenPackage{}).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		packages := []domain.TokenPackage{
			{Name: "Starter", Tokens: 50, Price: decimal.RequireFromString("2.99")},
			{Name: "Standard", Tokens: 200, Price: decimal.RequireFromString("9.99")},
			{Name: "Premium", Tokens: 1000, Price: decimal.RequireFromString("39.99"), Special: true},
		}
		if err := tx.Create(&packages).Error; err != nil {
			return err
		}
		expiry := time.Now().UTC().AddDate(0, 3, 0)
		codes := []domain.DiscountCode{
			{Code: "WELCOME10", Value: 10, Expiry: &expiry, UsageLimit: 100},
		}
		if err := tx.Create(&codes).Error; err != nil {
			return err
		}
		cards := []domain.GiftCard{
			{Title: "Welcome gift", Code: "GIFT-" + uuid.NewString()[:8], Tokens: 25},
		}
		return tx.Create(&cards).Error
	})
}

// CreateTransaction records a purchase. A missing ID or date is filled in.
func CreateTransaction(ctx context.Context, db *gorm.DB, t *domain.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Date.IsZero() {
		t.Date = time.Now().UTC()
	}
	return db.WithContext(ctx).Omit("User").Create(t).Error
}
