package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/marja-chat-backend/internal/auth"
	"github.com/tbourn/marja-chat-backend/internal/domain"
	"github.com/tbourn/marja-chat-backend/internal/observability"
	"github.com/tbourn/marja-chat-backend/internal/repo"
)

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token"`
}

// AuthService registers users, checks credentials and issues tokens.
type AuthService struct {
	DB         *gorm.DB
	Tokens     *auth.Issuer
	BcryptCost int
	// AdminEmail receives the admin role on registration.
	AdminEmail string
}

// Register creates an account with the configured starting balance.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	ctx, span := observability.Tracer("services/AuthService").Start(ctx, "Register")
	defer span.End()

	name = normalizeTitle(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" || password == "" {
		return nil, invalid("name, email and password are required")
	}
	if !validEmail(email) {
		return nil, invalid("invalid email address")
	}

	settings, _, err := repo.LoadSettings(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(password, s.BcryptCost)
	if err != nil {
		return nil, err
	}
	role := domain.RoleUser
	if s.AdminEmail != "" && email == strings.ToLower(s.AdminEmail) {
		role = domain.RoleAdmin
	}
	u := &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		TokenBalance: settings.DefaultUserTokens,
		Role:         role,
		Status:       domain.UserActive,
		JoinDate:     time.Now().UTC().Format(domain.JoinDateLayout),
	}
	if err := repo.CreateUser(ctx, s.DB, u); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int64("user.id", int64(u.ID)))
	return s.result(u)
}

// Login verifies credentials. Unknown emails and wrong passwords are not
// told apart.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	ctx, span := observability.Tracer("services/AuthService").Start(ctx, "Login")
	defer span.End()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, invalid("email and password are required")
	}
	u, err := repo.GetUserByEmail(ctx, s.DB, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := auth.CheckPassword(u.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if u.Status == domain.UserBlocked {
		return nil, ErrUserBlocked
	}
	span.SetAttributes(attribute.Int64("user.id", int64(u.ID)))
	return s.result(u)
}

// CurrentUser re-reads the caller's account for session resync.
func (s *AuthService) CurrentUser(ctx context.Context, userID uint) (*domain.User, error) {
	ctx, span := observability.Tracer("services/AuthService").Start(ctx, "CurrentUser",
		trace.WithAttributes(attribute.Int64("user.id", int64(userID))),
	)
	defer span.End()

	u, err := repo.GetUser(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// EnsureAdmin promotes the account with AdminEmail to admin, creating it
// with password when it does not exist. An empty password skips creation.
func (s *AuthService) EnsureAdmin(ctx context.Context, name, password string) error {
	email := strings.ToLower(strings.TrimSpace(s.AdminEmail))
	if email == "" {
		return nil
	}
	u, err := repo.GetUserByEmail(ctx, s.DB, email)
	switch {
	case err == nil:
		if u.IsAdmin() {
			return nil
		}
		role := domain.RoleAdmin
		_, err = repo.UpdateUser(ctx, s.DB, u.ID, repo.UserPatch{Role: &role})
		if err == nil {
			log.Info().Str("email", email).Msg("promoted bootstrap admin")
		}
		return err
	case !errors.Is(err, repo.ErrNotFound):
		return err
	case password == "":
		return nil
	}
	if name == "" {
		name = "Admin"
	}
	_, err = s.Register(ctx, name, email, password)
	if err == nil {
		log.Info().Str("email", email).Msg("created bootstrap admin")
	}
	return err
}

func (s *AuthService) result(u *domain.User) (*AuthResult, error) {
	tok, err := s.Tokens.Issue(u)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: u, Token: tok}, nil
}
