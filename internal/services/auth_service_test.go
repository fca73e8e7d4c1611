package services

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/marja-chat-backend/internal/auth"
	"github.com/tbourn/marja-chat-backend/internal/domain"
	"github.com/tbourn/marja-chat-backend/internal/repo"
)

const testSecret = "test-secret"

func newAuthService(t *testing.T) *AuthService {
	return &AuthService{
		DB:         newServiceDB(t),
		Tokens:     auth.NewIssuer(testSecret, time.Hour),
		BcryptCost: 4,
		AdminEmail: "root@example.com",
	}
}

func TestRegister_TokenDecodesWithSecret(t *testing.T) {
	s := newAuthService(t)
	res, err := s.Register(context.Background(), "Ali", "Ali@Example.com", "pw")
	require.NoError(t, err)

	assert.Equal(t, "ali@example.com", res.User.Email)
	assert.Equal(t, 100, res.User.TokenBalance)
	assert.Equal(t, domain.RoleUser, res.User.Role)
	assert.Equal(t, time.Now().UTC().Format(domain.JoinDateLayout), res.User.JoinDate)

	var claims auth.Claims
	_, err = jwt.ParseWithClaims(res.Token, &claims, func(*jwt.Token) (any, error) { return []byte(testSecret), nil })
	require.NoError(t, err)
	assert.Equal(t, "ali@example.com", claims.Email)
	assert.Equal(t, res.User.ID, claims.ID)
	assert.False(t, claims.IsAdmin)
}

func TestRegister_UsesSettingsDefaultBalance(t *testing.T) {
	s := newAuthService(t)
	st := domain.DefaultAppSettings()
	st.DefaultUserTokens = 3
	require.NoError(t, repo.SaveSettings(context.Background(), s.DB, st))

	res, err := s.Register(context.Background(), "B", "b@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, 3, res.User.TokenBalance)
}

func TestRegister_Validation(t *testing.T) {
	s := newAuthService(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "", "a@b.co", "pw")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = s.Register(ctx, "A", "not-an-email", "pw")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = s.Register(ctx, "A", "a@b.co", "")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Register(ctx, "A", "a@b.co", "pw")
	require.NoError(t, err)
	_, err = s.Register(ctx, "A2", "A@B.CO", "pw2")
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_AdminEmailGetsAdminRole(t *testing.T) {
	s := newAuthService(t)
	res, err := s.Register(context.Background(), "Root", "ROOT@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, res.User.Role)

	c, err := s.Tokens.Parse(res.Token)
	require.NoError(t, err)
	assert.True(t, c.IsAdmin)
}

func TestLogin_IDMatchesRegister(t *testing.T) {
	s := newAuthService(t)
	ctx := context.Background()
	reg, err := s.Register(ctx, "Ali", "ali@example.com", "pw")
	require.NoError(t, err)

	in, err := s.Login(ctx, " ALI@example.com ", "pw")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, in.User.ID)

	a, err := s.Tokens.Parse(reg.Token)
	require.NoError(t, err)
	b, err := s.Tokens.Parse(in.Token)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
}

func TestLogin_Failures(t *testing.T) {
	s := newAuthService(t)
	ctx := context.Background()
	reg, err := s.Register(ctx, "Ali", "ali@example.com", "pw")
	require.NoError(t, err)

	_, err = s.Login(ctx, "nobody@example.com", "pw")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Login(ctx, "ali@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Login(ctx, "", "")
	require.ErrorIs(t, err, ErrInvalidInput)

	blocked := domain.UserBlocked
	_, err = repo.UpdateUser(ctx, s.DB, reg.User.ID, repo.UserPatch{Status: &blocked})
	require.NoError(t, err)
	_, err = s.Login(ctx, "ali@example.com", "pw")
	require.ErrorIs(t, err, ErrUserBlocked)
}

func TestCurrentUser(t *testing.T) {
	s := newAuthService(t)
	ctx := context.Background()
	reg, err := s.Register(ctx, "Ali", "ali@example.com", "pw")
	require.NoError(t, err)

	u, err := s.CurrentUser(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "ali@example.com", u.Email)

	_, err = s.CurrentUser(ctx, 999)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestEnsureAdmin(t *testing.T) {
	ctx := context.Background()

	t.Run("creates when missing", func(t *testing.T) {
		s := newAuthService(t)
		require.NoError(t, s.EnsureAdmin(ctx, "", "pw"))
		u, err := repo.GetUserByEmail(ctx, s.DB, "root@example.com")
		require.NoError(t, err)
		assert.True(t, u.IsAdmin())
		assert.Equal(t, "Admin", u.Name)
		require.NoError(t, s.EnsureAdmin(ctx, "", "pw"), "second run is a no-op")
	})

	t.Run("promotes existing", func(t *testing.T) {
		s := newAuthService(t)
		mkUser(t, s.DB, "root@example.com", 0, domain.RoleUser)
		require.NoError(t, s.EnsureAdmin(ctx, "", ""))
		u, err := repo.GetUserByEmail(ctx, s.DB, "root@example.com")
		require.NoError(t, err)
		assert.True(t, u.IsAdmin())
	})

	t.Run("skips without password", func(t *testing.T) {
		s := newAuthService(t)
		require.NoError(t, s.EnsureAdmin(ctx, "", ""))
		_, err := repo.GetUserByEmail(ctx, s.DB, "root@example.com")
		require.ErrorIs(t, err, repo.ErrNotFound)
	})
}
