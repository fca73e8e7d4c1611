package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/marja-chat-backend/internal/domain"
	"github.com/tbourn/marja-chat-backend/internal/repo"
)

// newGiftService returns a service on a fake clock advanced by the
// returned function.
func newGiftService(t *testing.T, g domain.SpiritualGiftSettings) (*GiftService, func(time.Duration)) {
	t.Helper()
	db := newServiceDB(t)
	st := domain.DefaultAppSettings()
	st.SpiritualGift = g
	require.NoError(t, repo.SaveSettings(context.Background(), db, st))

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s := &GiftService{DB: db, Now: func() time.Time { return now }}
	return s, func(d time.Duration) { now = now.Add(d) }
}

func TestGiftClaim_CreditsAndCoolsDown(t *testing.T) {
	s, advance := newGiftService(t, domain.SpiritualGiftSettings{Enabled: true, CooldownSeconds: 60, TokensPerClick: 2, MaxDailyTokens: 10})
	ctx := context.Background()
	me := mkUser(t, s.DB, "g@x.io", 0, domain.RoleUser)

	res, err := s.Claim(ctx, me.UserID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Tokens)
	assert.Equal(t, 2, res.TokenBalance)
	assert.Equal(t, 2, res.Status.ClaimedToday)
	assert.Equal(t, 8, res.Status.RemainingToday)
	require.NotNil(t, res.Status.NextClaimAt)

	advance(30 * time.Second)
	_, err = s.Claim(ctx, me.UserID)
	require.ErrorIs(t, err, ErrGiftCooldown)
	var re *RetryError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 30*time.Second, re.RetryAfter)

	advance(31 * time.Second)
	_, err = s.Claim(ctx, me.UserID)
	require.NoError(t, err)
	assert.Equal(t, 4, balanceOf(t, s.DB, me.UserID))
}

func TestGiftClaim_DailyCapResetsAtUTCMidnight(t *testing.T) {
	s, advance := newGiftService(t, domain.SpiritualGiftSettings{Enabled: true, CooldownSeconds: 0, TokensPerClick: 3, MaxDailyTokens: 7})
	ctx := context.Background()
	me := mkUser(t, s.DB, "cap@x.io", 0, domain.RoleUser)

	for i := 0; i < 2; i++ {
		_, err := s.Claim(ctx, me.UserID)
		require.NoError(t, err)
		advance(time.Second)
	}
	// 6 claimed; another 3 would exceed 7
	_, err := s.Claim(ctx, me.UserID)
	require.ErrorIs(t, err, ErrGiftDailyLimit)

	st, err := s.Status(ctx, me.UserID)
	require.NoError(t, err)
	assert.Equal(t, 6, st.ClaimedToday)
	assert.Equal(t, 1, st.RemainingToday)
	require.NotNil(t, st.NextClaimAt)
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), *st.NextClaimAt)

	advance(12 * time.Hour)
	_, err = s.Claim(ctx, me.UserID)
	require.NoError(t, err)
	assert.Equal(t, 9, balanceOf(t, s.DB, me.UserID))
}

func TestGiftClaim_Disabled(t *testing.T) {
	s, _ := newGiftService(t, domain.SpiritualGiftSettings{Enabled: false, TokensPerClick: 1, MaxDailyTokens: 1})
	me := mkUser(t, s.DB, "off@x.io", 0, domain.RoleUser)

	_, err := s.Claim(context.Background(), me.UserID)
	require.ErrorIs(t, err, ErrGiftDisabled)
	assert.Equal(t, 0, balanceOf(t, s.DB, me.UserID))

	st, err := s.Status(context.Background(), me.UserID)
	require.NoError(t, err)
	assert.False(t, st.Enabled)
}

func TestGiftStatus_FreshUser(t *testing.T) {
	s, _ := newGiftService(t, domain.DefaultAppSettings().SpiritualGift)
	me := mkUser(t, s.DB, "fresh@x.io", 0, domain.RoleUser)

	st, err := s.Status(context.Background(), me.UserID)
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	assert.Zero(t, st.ClaimedToday)
	assert.Equal(t, st.MaxDailyTokens, st.RemainingToday)
	assert.Nil(t, st.NextClaimAt)
}

func TestGiftClaim_UnknownUser(t *testing.T) {
	s, _ := newGiftService(t, domain.DefaultAppSettings().SpiritualGift)
	_, err := s.Claim(context.Background(), 404)
	require.ErrorIs(t, err, ErrUserNotFound)
}
