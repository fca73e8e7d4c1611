package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/marja-chat-backend/internal/domain"
	"github.com/tbourn/marja-chat-backend/internal/observability"
	"github.com/tbourn/marja-chat-backend/internal/repo"
)

// CatalogService serves the admin store catalog.
type CatalogService struct {
	DB *gorm.DB
}

// TokenPackages lists purchasable packages.
func (s *CatalogService) TokenPackages(ctx context.Context) ([]domain.TokenPackage, error) {
	ctx, span := observability.Tracer("services/CatalogService").Start(ctx, "TokenPackages")
	defer span.End()
	return repo.ListTokenPackages(ctx, s.DB)
}

// DiscountCodes lists discount codes.
func (s *CatalogService) DiscountCodes(ctx context.Context) ([]domain.DiscountCode, error) {
	ctx, span := observability.Tracer("services/CatalogService").Start(ctx, "DiscountCodes")
	defer span.End()
	return repo.ListDiscountCodes(ctx, s.DB)
}

// GiftCards lists gift cards.
func (s *CatalogService) GiftCards(ctx context.Context) ([]domain.GiftCard, error) {
	ctx, span := observability.Tracer("services/CatalogService").Start(ctx, "GiftCards")
	defer span.End()
	return repo.ListGiftCards(ctx, s.DB)
}

// Transactions lists purchases newest first.
func (s *CatalogService) Transactions(ctx context.Context) ([]domain.Transaction, error) {
	ctx, span := observability.Tracer("services/CatalogService").Start(ctx, "Transactions")
	defer span.End()
	return repo.ListTransactions(ctx, s.DB)
}
