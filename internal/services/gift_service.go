package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/marja-chat-backend/internal/domain"
	"github.com/tbourn/marja-chat-backend/internal/observability"
	"github.com/tbourn/marja-chat-backend/internal/repo"
)

// GiftStatus is a user's view of the spiritual gift.
type GiftStatus struct {
	Enabled        bool       `json:"enabled"`
	TokensPerClick int        `json:"tokensPerClick"`
	MaxDailyTokens int        `json:"maxDailyTokens"`
	ClaimedToday   int        `json:"claimedToday"`
	RemainingToday int        `json:"remainingToday"`
	NextClaimAt    *time.Time `json:"nextClaimAt"`
}

// GiftClaimResult is returned by a successful claim.
type GiftClaimResult struct {
	Tokens       int        `json:"tokens"`
	TokenBalance int        `json:"tokenBalance"`
	Status       GiftStatus `json:"status"`
}

// GiftService enforces the spiritual gift cooldown and daily cap. Days are
// UTC calendar days.
type GiftService struct {
	DB *gorm.DB

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (s *GiftService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Status reports the caller's claim window.
func (s *GiftService) Status(ctx context.Context, userID uint) (*GiftStatus, error) {
	ctx, span := observability.Tracer("services/GiftService").Start(ctx, "Status",
		trace.WithAttributes(attribute.Int64("user.id", int64(userID))),
	)
	defer span.End()

	settings, _, err := repo.LoadSettings(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	return s.status(ctx, s.DB, userID, settings.SpiritualGift, s.now())
}

func (s *GiftService) status(ctx context.Context, db *gorm.DB, userID uint, g domain.SpiritualGiftSettings, now time.Time) (*GiftStatus, error) {
	claimed, err := repo.SumGiftTokensSince(ctx, db, userID, startOfDay(now))
	if err != nil {
		return nil, err
	}
	st := &GiftStatus{
		Enabled:        g.Enabled,
		TokensPerClick: g.TokensPerClick,
		MaxDailyTokens: g.MaxDailyTokens,
		ClaimedToday:   claimed,
		RemainingToday: max(g.MaxDailyTokens-claimed, 0),
	}
	last, err := repo.LastGiftClaim(ctx, db, userID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		if next := last.ClaimedAt.UTC().Add(g.Cooldown()); next.After(now) {
			st.NextClaimAt = &next
		}
	}
	if st.NextClaimAt == nil && st.RemainingToday < g.TokensPerClick {
		tomorrow := startOfDay(now).AddDate(0, 0, 1)
		st.NextClaimAt = &tomorrow
	}
	return st, nil
}

// Claim credits tokensPerClick when the gift is enabled, the cooldown has
// passed and the day's cap allows it. The user row is written first so
// concurrent claims of one user serialize.
func (s *GiftService) Claim(ctx context.Context, userID uint) (res *GiftClaimResult, err error) {
	ctx, span := observability.Tracer("services/GiftService").Start(ctx, "Claim",
		trace.WithAttributes(attribute.Int64("user.id", int64(userID))),
	)
	defer func() {
		switch {
		case err == nil:
			observability.GiftClaims.WithLabelValues(observability.OutcomeOK).Inc()
		case errors.Is(err, ErrGiftDisabled), errors.Is(err, ErrGiftCooldown), errors.Is(err, ErrGiftDailyLimit):
			observability.GiftClaims.WithLabelValues(observability.OutcomeRejected).Inc()
		default:
			observability.GiftClaims.WithLabelValues(observability.OutcomeError).Inc()
		}
		span.End()
	}()

	settings, _, err := repo.LoadSettings(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	g := settings.SpiritualGift
	if !g.Enabled {
		return nil, ErrGiftDisabled
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.TouchUser(ctx, tx, userID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		now := s.now()
		st, err := s.status(ctx, tx, userID, g, now)
		if err != nil {
			return err
		}
		if st.NextClaimAt != nil && st.RemainingToday >= g.TokensPerClick {
			return &RetryError{Kind: ErrGiftCooldown, RetryAfter: st.NextClaimAt.Sub(now)}
		}
		if st.RemainingToday < g.TokensPerClick {
			return &RetryError{Kind: ErrGiftDailyLimit, RetryAfter: startOfDay(now).AddDate(0, 0, 1).Sub(now)}
		}
		if err := repo.CreateGiftClaim(ctx, tx, &domain.GiftClaim{UserID: userID, Tokens: g.TokensPerClick, ClaimedAt: now}); err != nil {
			return err
		}
		if err := repo.CreditTokens(ctx, tx, userID, g.TokensPerClick); err != nil {
			return err
		}
		u, err := repo.GetUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		after, err := s.status(ctx, tx, userID, g, now)
		if err != nil {
			return err
		}
		res = &GiftClaimResult{Tokens: g.TokensPerClick, TokenBalance: u.TokenBalance, Status: *after}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
