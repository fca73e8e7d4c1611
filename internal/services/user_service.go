package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/marja-chat-backend/internal/auth"
	"github.com/tbourn/marja-chat-backend/internal/domain"
	"github.com/tbourn/marja-chat-backend/internal/observability"
	"github.com/tbourn/marja-chat-backend/internal/repo"
	"github.com/tbourn/marja-chat-backend/internal/utils"
)

// CreateUserInput is an admin-created account.
type CreateUserInput struct {
	Name         string
	Email        string
	Password     string
	TokenBalance *int
	Role         string
	Status       string
}

// UserService implements admin user management. Every mutation is recorded
// in the audit log inside the same transaction.
type UserService struct {
	DB         *gorm.DB
	BcryptCost int
}

// List returns a page of users, newest first, with the total count.
func (s *UserService) List(ctx context.Context, page, pageSize int) ([]domain.User, int64, error) {
	ctx, span := observability.Tracer("services/UserService").Start(ctx, "List",
		trace.WithAttributes(attribute.Int("page", page), attribute.Int("page_size", pageSize)),
	)
	defer span.End()

	_, size, offset := utils.Paginate(page, pageSize)
	total, err := repo.CountUsers(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.User{}, 0, nil
	}
	items, err := repo.ListUsersPage(ctx, s.DB, offset, size)
	return items, total, err
}

// Get returns a user with their conversations, most recent first.
func (s *UserService) Get(ctx context.Context, id uint) (*domain.User, error) {
	ctx, span := observability.Tracer("services/UserService").Start(ctx, "Get",
		trace.WithAttributes(attribute.Int64("user.id", int64(id))),
	)
	defer span.End()

	u, err := repo.GetUser(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	convs, err := repo.ListConversationsPage(ctx, s.DB, id, 0, -1)
	if err != nil {
		return nil, err
	}
	u.Conversations = convs
	return u, nil
}

// Create adds an account on behalf of an admin.
func (s *UserService) Create(ctx context.Context, admin Actor, in CreateUserInput) (*domain.User, error) {
	ctx, span := observability.Tracer("services/UserService").Start(ctx, "Create")
	defer span.End()

	in.Name = normalizeTitle(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Name == "" || in.Email == "" || in.Password == "" {
		return nil, invalid("name, email and password are required")
	}
	if !validEmail(in.Email) {
		return nil, invalid("invalid email address")
	}
	role, status, err := userEnums(in.Role, in.Status)
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password, s.BcryptCost)
	if err != nil {
		return nil, err
	}

	var out *domain.User
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance := 0
		if in.TokenBalance != nil {
			balance = *in.TokenBalance
		} else {
			st, _, err := repo.LoadSettings(ctx, tx)
			if err != nil {
				return err
			}
			balance = st.DefaultUserTokens
		}
		if balance < 0 {
			return invalid("tokenBalance must be >= 0")
		}
		u := &domain.User{
			Name:         in.Name,
			Email:        in.Email,
			PasswordHash: hash,
			TokenBalance: balance,
			Role:         role,
			Status:       status,
			JoinDate:     time.Now().UTC().Format(domain.JoinDateLayout),
		}
		if err := repo.CreateUser(ctx, tx, u); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return ErrEmailTaken
			}
			return err
		}
		out = u
		return writeAdminLog(ctx, tx, admin, fmt.Sprintf("Created user %s (#%d)", u.Email, u.ID))
	})
	return out, err
}

// Update applies the non-nil fields of p. Role changes apply to tokens
// issued afterwards.
func (s *UserService) Update(ctx context.Context, admin Actor, id uint, p repo.UserPatch) (*domain.User, error) {
	ctx, span := observability.Tracer("services/UserService").Start(ctx, "Update",
		trace.WithAttributes(attribute.Int64("user.id", int64(id))),
	)
	defer span.End()

	if p.Name != nil {
		n := normalizeTitle(*p.Name)
		if n == "" {
			return nil, invalid("name must not be empty")
		}
		p.Name = &n
	}
	if p.TokenBalance != nil && *p.TokenBalance < 0 {
		return nil, invalid("tokenBalance must be >= 0")
	}
	if p.Role != nil && *p.Role != domain.RoleUser && *p.Role != domain.RoleAdmin {
		return nil, invalid("role must be user or admin")
	}
	if p.Status != nil && *p.Status != domain.UserActive && *p.Status != domain.UserBlocked {
		return nil, invalid("status must be active or blocked")
	}

	var out *domain.User
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := repo.UpdateUser(ctx, tx, id, p)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		out = u
		return writeAdminLog(ctx, tx, admin, fmt.Sprintf("Updated user %s (#%d)%s", u.Email, u.ID, describePatch(p)))
	})
	return out, err
}

// Delete hard-deletes a user and everything they own.
func (s *UserService) Delete(ctx context.Context, admin Actor, id uint) error {
	ctx, span := observability.Tracer("services/UserService").Start(ctx, "Delete",
		trace.WithAttributes(attribute.Int64("user.id", int64(id))),
	)
	defer span.End()

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := repo.GetUser(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if err := repo.DeleteUser(ctx, tx, id); err != nil {
			return err
		}
		return writeAdminLog(ctx, tx, admin, fmt.Sprintf("Deleted user %s (#%d)", u.Email, u.ID))
	})
}

func userEnums(role, status string) (string, string, error) {
	if role == "" {
		role = domain.RoleUser
	}
	if status == "" {
		status = domain.UserActive
	}
	if role != domain.RoleUser && role != domain.RoleAdmin {
		return "", "", invalid("role must be user or admin")
	}
	if status != domain.UserActive && status != domain.UserBlocked {
		return "", "", invalid("status must be active or blocked")
	}
	return role, status, nil
}

func describePatch(p repo.UserPatch) string {
	var parts []string
	if p.Name != nil {
		parts = append(parts, "name="+*p.Name)
	}
	if p.TokenBalance != nil {
		parts = append(parts, fmt.Sprintf("tokenBalance=%d", *p.TokenBalance))
	}
	if p.Status != nil {
		parts = append(parts, "status="+*p.Status)
	}
	if p.Role != nil {
		parts = append(parts, "role="+*p.Role)
	}
	if len(parts) == 0 {
		return ""
	}
	return ": " + strings.Join(parts, ", ")
}
