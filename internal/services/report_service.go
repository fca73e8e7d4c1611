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

	"github.com/tbourn/marja-chat-backend/internal/domain"
	"github.com/tbourn/marja-chat-backend/internal/observability"
	"github.com/tbourn/marja-chat-backend/internal/repo"
	"github.com/tbourn/marja-chat-backend/internal/utils"
)

// CreateReportInput flags a conversation.
type CreateReportInput struct {
	ConversationID string
	Feedback       *string
	ReportText     *string
	Category       *string
	IP             string
}

// UpdateReportInput is an admin triage edit. Nil fields are left alone.
type UpdateReportInput struct {
	Status   *string
	Category *string
	Refunded *bool
}

// ReportService files reports and runs admin triage, including the
// at-most-once token refund.
type ReportService struct {
	DB *gorm.DB
}

// Create files a report on the actor's own conversation.
func (s *ReportService) Create(ctx context.Context, actor Actor, in CreateReportInput) (*domain.Report, error) {
	ctx, span := observability.Tracer("services/ReportService").Start(ctx, "Create",
		trace.WithAttributes(attribute.String("conversation.id", in.ConversationID)),
	)
	defer span.End()

	if strings.TrimSpace(in.ConversationID) == "" {
		return nil, invalid("conversationId is required")
	}
	if in.Feedback != nil && !domain.ValidFeedback(*in.Feedback) {
		return nil, invalid("feedback must be liked, disliked or reported")
	}
	if in.Category != nil && !domain.ValidCategory(*in.Category) {
		return nil, invalid("unknown category %q", *in.Category)
	}
	if in.ReportText != nil {
		t := normalizeText(*in.ReportText)
		if t == "" {
			in.ReportText = nil
		} else {
			in.ReportText = &t
		}
	}

	c, err := repo.GetConversation(ctx, s.DB, in.ConversationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if c.UserID != actor.UserID {
		return nil, ErrForbidden
	}

	r := &domain.Report{
		UserID:         actor.UserID,
		IP:             in.IP,
		Marja:          c.Marja,
		ConversationID: c.ID,
		Feedback:       in.Feedback,
		Date:           time.Now().UTC(),
		ReportText:     in.ReportText,
		Category:       in.Category,
		Status:         domain.ReportNew,
	}
	if err := repo.CreateReport(ctx, s.DB, r); err != nil {
		return nil, err
	}
	r.Email = actor.Email
	return r, nil
}

// List returns a page of reports, newest first, optionally by status.
func (s *ReportService) List(ctx context.Context, status string, page, pageSize int) ([]domain.Report, int64, error) {
	ctx, span := observability.Tracer("services/ReportService").Start(ctx, "List",
		trace.WithAttributes(attribute.String("status", status), attribute.Int("page", page)),
	)
	defer span.End()

	if status != "" && !domain.ValidReportStatus(status) {
		return nil, 0, invalid("status must be new or reviewed")
	}
	_, size, offset := utils.Paginate(page, pageSize)
	total, err := repo.CountReports(ctx, s.DB, status)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Report{}, 0, nil
	}
	items, err := repo.ListReportsPage(ctx, s.DB, status, offset, size)
	return items, total, err
}

// Get returns a report with its conversation and messages.
func (s *ReportService) Get(ctx context.Context, id uint) (*domain.Report, error) {
	ctx, span := observability.Tracer("services/ReportService").Start(ctx, "Get",
		trace.WithAttributes(attribute.Int64("report.id", int64(id))),
	)
	defer span.End()

	r, err := repo.GetReportDetail(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrReportNotFound
	}
	return r, err
}

// Update applies an admin triage edit. Setting refunded credits the owner
// exactly one token the first time; repeating it is a no-op for balances,
// and clearing it is refused with ErrRefundIrreversible.
func (s *ReportService) Update(ctx context.Context, admin Actor, id uint, in UpdateReportInput) (*domain.Report, error) {
	ctx, span := observability.Tracer("services/ReportService").Start(ctx, "Update",
		trace.WithAttributes(attribute.Int64("report.id", int64(id))),
	)
	defer span.End()

	if in.Status != nil && !domain.ValidReportStatus(*in.Status) {
		return nil, invalid("status must be new or reviewed")
	}
	if in.Category != nil && !domain.ValidCategory(*in.Category) {
		return nil, invalid("unknown category %q", *in.Category)
	}

	var refunded bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := repo.GetReport(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrReportNotFound
			}
			return err
		}
		if in.Refunded != nil && !*in.Refunded && r.Refunded {
			return ErrRefundIrreversible
		}

		cols := map[string]any{}
		var changes []string
		if in.Status != nil {
			cols["status"] = *in.Status
			changes = append(changes, "status="+*in.Status)
		}
		if in.Category != nil {
			cols["category"] = *in.Category
			changes = append(changes, "category="+*in.Category)
		}
		if err := repo.UpdateReportFields(ctx, tx, id, cols); err != nil {
			return err
		}

		if in.Refunded != nil && *in.Refunded {
			flipped, err := repo.MarkReportRefunded(ctx, tx, id)
			if err != nil {
				return err
			}
			if flipped {
				if err := repo.CreditTokens(ctx, tx, r.UserID, 1); err != nil {
					return err
				}
				refunded = true
				changes = append(changes, "refunded 1 token")
			}
		}
		if len(changes) == 0 {
			return nil
		}
		return writeAdminLog(ctx, tx, admin, fmt.Sprintf("Updated report #%d for %s: %s", id, r.Email, strings.Join(changes, ", ")))
	})
	if err != nil {
		return nil, err
	}
	if refunded {
		observability.TokensRefunded.Inc()
	}
	span.SetAttributes(attribute.Bool("refunded", refunded))
	return repo.GetReport(ctx, s.DB, id)
}
