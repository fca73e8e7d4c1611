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
	"github.com/tbourn/marja-chat-backend/internal/utils"
)

// ConversationService serves conversation reads and owner edits. Regular
// users only see their own conversations; admins read across users.
type ConversationService struct {
	DB *gorm.DB

	// TitleMaxRunes caps renamed titles.
	TitleMaxRunes int
}

// scope resolves whose conversations a list covers. Admins see everyone
// unless filterUserID narrows it; users always see their own.
func (s *ConversationService) scope(actor Actor, filterUserID uint) uint {
	if actor.IsAdmin() {
		return filterUserID
	}
	return actor.UserID
}

// List returns a page of conversations, most recently active first, each
// with its messages in chronological order.
func (s *ConversationService) List(ctx context.Context, actor Actor, filterUserID uint, page, pageSize int) ([]domain.Conversation, int64, error) {
	ctx, span := observability.Tracer("services/ConversationService").Start(ctx, "List",
		trace.WithAttributes(
			attribute.Int64("user.id", int64(actor.UserID)),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	owner := s.scope(actor, filterUserID)
	_, size, offset := utils.Paginate(page, pageSize)
	total, err := repo.CountConversations(ctx, s.DB, owner)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}
	items, err := repo.ListConversationsPage(ctx, s.DB, owner, offset, size)
	return items, total, err
}

// Stats returns the count and newest updatedAt of the conversations List
// would cover, for cache validators.
func (s *ConversationService) Stats(ctx context.Context, actor Actor, filterUserID uint) (int64, *time.Time, error) {
	return repo.ConversationsStats(ctx, s.DB, s.scope(actor, filterUserID))
}

// Get returns one conversation with its messages.
func (s *ConversationService) Get(ctx context.Context, actor Actor, id string) (*domain.Conversation, error) {
	ctx, span := observability.Tracer("services/ConversationService").Start(ctx, "Get",
		trace.WithAttributes(attribute.String("conversation.id", id)),
	)
	defer span.End()

	c, err := repo.GetConversationWithMessages(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if !actor.canAccess(c.UserID) {
		return nil, ErrForbidden
	}
	return c, nil
}

// Rename replaces the title of the actor's own conversation.
func (s *ConversationService) Rename(ctx context.Context, actor Actor, id, title string) (*domain.Conversation, error) {
	ctx, span := observability.Tracer("services/ConversationService").Start(ctx, "Rename",
		trace.WithAttributes(attribute.String("conversation.id", id)),
	)
	defer span.End()

	title = clipRunes(normalizeTitle(title), s.TitleMaxRunes)
	if title == "" {
		return nil, invalid("title must not be empty")
	}
	if err := s.ownerOnly(ctx, actor, id); err != nil {
		return nil, err
	}
	if err := repo.RenameConversation(ctx, s.DB, id, title); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return repo.GetConversationWithMessages(ctx, s.DB, id)
}

// Delete removes the actor's own conversation with its messages.
func (s *ConversationService) Delete(ctx context.Context, actor Actor, id string) error {
	ctx, span := observability.Tracer("services/ConversationService").Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("conversation.id", id)),
	)
	defer span.End()

	if err := s.ownerOnly(ctx, actor, id); err != nil {
		return err
	}
	if err := repo.DeleteConversation(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	return nil
}

func (s *ConversationService) ownerOnly(ctx context.Context, actor Actor, id string) error {
	c, err := repo.GetConversation(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	if c.UserID != actor.UserID {
		return ErrForbidden
	}
	return nil
}
