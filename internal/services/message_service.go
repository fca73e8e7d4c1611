// Package services – MessageService
//
// This file implements the message send transaction: a user message is
// answered by the configured Responder, and the conversation upsert, the
// token debit and both message inserts commit atomically. The reply is
// generated before the transaction opens so a slow model never holds locks.
//
// Sends may carry an idempotency key. The key is recorded in the same
// transaction, so a retried request replays the first result instead of
// spending another token.

package services

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/marja-chat-backend/internal/domain"
	"github.com/tbourn/marja-chat-backend/internal/observability"
	"github.com/tbourn/marja-chat-backend/internal/repo"
)

// SendInput is one user message.
type SendInput struct {
	// ConversationID continues an existing conversation; empty starts one.
	ConversationID string
	// MarjaName binds a new conversation; ignored when continuing.
	MarjaName string
	Message   string
	// IdempotencyKey, when set, makes retries of this send replay the
	// first result.
	IdempotencyKey string
}

// SendResult is the committed conversation after a send.
type SendResult struct {
	Conversation *domain.Conversation
	// Replayed is true when the result came from an earlier send with the
	// same idempotency key; no token was spent.
	Replayed bool
}

// MessageService runs the message send transaction.
type MessageService struct {
	DB        *gorm.DB
	Responder Responder

	// AllowEmptyBalance clamps the debit at zero instead of rejecting the
	// send when the balance is exhausted.
	AllowEmptyBalance bool
	// MaxMessageRunes rejects longer messages; zero disables the cap.
	MaxMessageRunes int
	// TitleMaxRunes bounds titles derived from the first message.
	TitleMaxRunes int
	// IdempotencyTTL is how long a key replays its result.
	IdempotencyTTL time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// errReplay aborts a transaction that lost an idempotency key race.
var errReplay = errors.New("idempotency key already used")

func (s *MessageService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Send validates the input, produces the AI reply (streamed to onChunk when
// it is not nil) and commits the exchange. The returned conversation is
// re-read after commit.
func (s *MessageService) Send(ctx context.Context, actor Actor, in SendInput, onChunk func(string)) (res *SendResult, err error) {
	ctx, span := observability.Tracer("services/MessageService").Start(ctx, "Send",
		trace.WithAttributes(
			attribute.Int64("user.id", int64(actor.UserID)),
			attribute.String("conversation.id", in.ConversationID),
			attribute.Bool("idempotent", in.IdempotencyKey != ""),
		),
	)
	defer func() {
		switch {
		case err == nil && res.Replayed:
			observability.MessagesSent.WithLabelValues(observability.OutcomeReplayed).Inc()
		case err == nil:
			observability.MessagesSent.WithLabelValues(observability.OutcomeOK).Inc()
		case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrMessageTooLong),
			errors.Is(err, ErrMarjaRequired), errors.Is(err, ErrInsufficientTokens), errors.Is(err, ErrForbidden),
			errors.Is(err, ErrConversationNotFound):
			observability.MessagesSent.WithLabelValues(observability.OutcomeRejected).Inc()
		default:
			observability.MessagesSent.WithLabelValues(observability.OutcomeError).Inc()
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	text := normalizeText(in.Message)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if s.MaxMessageRunes > 0 && utf8.RuneCountInString(text) > s.MaxMessageRunes {
		return nil, ErrMessageTooLong
	}

	if in.IdempotencyKey != "" {
		if res, err := s.replay(ctx, actor, in.IdempotencyKey); err == nil {
			return res, nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}

	settings, _, err := repo.LoadSettings(ctx, s.DB)
	if err != nil {
		return nil, err
	}

	// Resolve the target conversation before spending model time.
	convID, marja, isNew := in.ConversationID, "", in.ConversationID == ""
	if isNew {
		marja, err = resolveMarja(settings, in.MarjaName)
		if err != nil {
			return nil, err
		}
		convID = uuid.NewString()
	} else {
		c, err := repo.GetConversation(ctx, s.DB, convID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrConversationNotFound
			}
			return nil, err
		}
		if !actor.canAccess(c.UserID) {
			return nil, ErrForbidden
		}
		marja = c.Marja
	}

	strict := !s.AllowEmptyBalance
	if strict {
		u, err := repo.GetUser(ctx, s.DB, actor.UserID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, err
		}
		if u.TokenBalance <= 0 {
			return nil, ErrInsufficientTokens
		}
	}

	reply, err := s.Responder.Reply(ctx, ReplyRequest{
		Marja:             marja,
		Prompt:            text,
		SystemInstruction: settings.AI.SystemInstruction,
		Temperature:       settings.AI.Temperature,
	}, onChunk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	userTS := s.now().Truncate(time.Microsecond)
	var debited bool
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.IdempotencyKey != "" {
			if err := repo.ReleaseExpiredIdempotencyKey(ctx, tx, actor.UserID, domain.IdempotencyScopeMessages, in.IdempotencyKey, userTS); err != nil {
				return err
			}
			rec := &domain.IdempotencyKey{
				UserID:         actor.UserID,
				Scope:          domain.IdempotencyScopeMessages,
				Key:            in.IdempotencyKey,
				ConversationID: convID,
				CreatedAt:      userTS,
				ExpiresAt:      userTS.Add(s.idempotencyTTL()),
			}
			if err := repo.CreateIdempotencyKey(ctx, tx, rec); err != nil {
				if errors.Is(err, repo.ErrDuplicate) {
					return errReplay
				}
				return err
			}
		}

		if isNew {
			c := &domain.Conversation{
				ID:        convID,
				UserID:    actor.UserID,
				Marja:     marja,
				Title:     titleFromMessage(text, s.TitleMaxRunes),
				CreatedAt: userTS,
				UpdatedAt: userTS,
			}
			if err := repo.CreateConversation(ctx, tx, c); err != nil {
				return err
			}
		} else if err := repo.TouchConversation(ctx, tx, convID, userTS); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrConversationNotFound
			}
			return err
		}

		d, err := repo.DebitToken(ctx, tx, actor.UserID, strict)
		switch {
		case errors.Is(err, repo.ErrInsufficientBalance):
			return ErrInsufficientTokens
		case errors.Is(err, repo.ErrNotFound):
			return ErrUserNotFound
		case err != nil:
			return err
		}
		debited = d

		return repo.InsertMessages(ctx, tx,
			&domain.Message{ID: uuid.NewString(), ConversationID: convID, Sender: domain.SenderUser, Text: text, Timestamp: userTS, Status: domain.MessageSent},
			&domain.Message{ID: uuid.NewString(), ConversationID: convID, Sender: domain.SenderAI, Text: reply, Timestamp: userTS.Add(time.Millisecond), Status: domain.MessageSent},
		)
	})
	if errors.Is(err, errReplay) {
		return s.replay(ctx, actor, in.IdempotencyKey)
	}
	if err != nil {
		return nil, err
	}
	if debited {
		observability.TokensDebited.Inc()
	}

	c, err := repo.GetConversationWithMessages(ctx, s.DB, convID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("conversation.id", convID), attribute.Bool("debited", debited))
	return &SendResult{Conversation: c}, nil
}

// replay returns the conversation recorded under key.
func (s *MessageService) replay(ctx context.Context, actor Actor, key string) (*SendResult, error) {
	rec, err := repo.GetIdempotencyKey(ctx, s.DB, actor.UserID, domain.IdempotencyScopeMessages, key, s.now())
	if err != nil {
		return nil, err
	}
	c, err := repo.GetConversationWithMessages(ctx, s.DB, rec.ConversationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &SendResult{Conversation: c, Replayed: true}, nil
}

func (s *MessageService) idempotencyTTL() time.Duration {
	if s.IdempotencyTTL > 0 {
		return s.IdempotencyTTL
	}
	return 24 * time.Hour
}

// resolveMarja checks name against the configured maraji and returns its
// canonical spelling. Inactive maraji cannot start new conversations. An
// empty marja list accepts any non-empty name.
func resolveMarja(settings domain.AppSettings, name string) (string, error) {
	name = normalizeTitle(name)
	if name == "" {
		return "", ErrMarjaRequired
	}
	if len(settings.Maraji) == 0 {
		return name, nil
	}
	for _, m := range settings.Maraji {
		if sameName(m.Name, name) {
			if !m.Active {
				return "", invalid("marja %q is not active", m.Name)
			}
			return m.Name, nil
		}
	}
	return "", invalid("unknown marja %q", name)
}
