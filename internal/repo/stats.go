package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/marja-chat-backend/internal/domain"
)

// ConversationsStats returns the number of conversations visible to userID
// (AllUsers for all) and the newest updated_at among them, or nil when there
// are none. Handlers derive weak ETags from the pair.
func ConversationsStats(ctx context.Context, db *gorm.DB, userID uint) (count int64, maxUpdatedAt *time.Time, err error) {
	if count, err = CountConversations(ctx, db, userID); err != nil || count == 0 {
		return count, nil, err
	}
	// ORDER BY + LIMIT instead of MAX(): SQLite returns MAX over text as TEXT.
	var row struct {
		UpdatedAt time.Time
	}
	err = ownedBy(db.WithContext(ctx).Model(&domain.Conversation{}), userID).
		Select("updated_at").
		Order("updated_at DESC").
		Limit(1).
		Scan(&row).Error
	if err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
