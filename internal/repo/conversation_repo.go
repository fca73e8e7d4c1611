package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/marja-chat-backend/internal/domain"
)

// AllUsers selects every owner in conversation queries.
const AllUsers uint = 0

// messagesChronological orders preloaded messages oldest first.
func messagesChronological(db *gorm.DB) *gorm.DB {
	return db.Order("timestamp ASC").Order("id ASC")
}

func ownedBy(db *gorm.DB, userID uint) *gorm.DB {
	if userID == AllUsers {
		return db
	}
	return db.Where("user_id = ?", userID)
}

// CreateConversation inserts c as is; the caller assigns ID and timestamps.
func CreateConversation(ctx context.Context, db *gorm.DB, c *domain.Conversation) error {
	return db.WithContext(ctx).Omit("Messages").Create(c).Error
}

// GetConversation loads a conversation without its messages.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConversationWithMessages loads a conversation and its ordered messages.
func GetConversationWithMessages(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Preload("Messages", messagesChronological).
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	if c.Messages == nil {
		c.Messages = []domain.Message{}
	}
	return &c, nil
}

// TouchConversation sets updated_at to at.
func TouchConversation(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).Model(&domain.Conversation{}).
		Where("id = ?", id).
		UpdateColumn("updated_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountConversations counts the conversations of userID (AllUsers for all).
func CountConversations(ctx context.Context, db *gorm.DB, userID uint) (int64, error) {
	var n int64
	err := ownedBy(db.WithContext(ctx).Model(&domain.Conversation{}), userID).Count(&n).Error
	return n, err
}

// ListConversationsPage returns conversations most recently active first,
// each with its messages in chronological order.
func ListConversationsPage(ctx context.Context, db *gorm.DB, userID uint, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := ownedBy(db.WithContext(ctx), userID).
		Preload("Messages", messagesChronological).
		Order("updated_at DESC").Order("id ASC").
		Offset(offset).Limit(limit).
		Find(&out).Error
	for i := range out {
		if out[i].Messages == nil {
			out[i].Messages = []domain.Message{}
		}
	}
	return out, err
}

// RenameConversation replaces the title and bumps updated_at.
func RenameConversation(ctx context.Context, db *gorm.DB, id, title string) error {
	res := db.WithContext(ctx).Model(&domain.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{"title": title, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation removes a conversation; its messages and reports
// cascade.
func DeleteConversation(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Conversation{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertMessages appends messages in the given order.
func InsertMessages(ctx context.Context, db *gorm.DB, msgs ...*domain.Message) error {
	for _, m := range msgs {
		if err := db.WithContext(ctx).Create(m).Error; err != nil {
			return err
		}
	}
	return nil
}

// ListMessages returns a conversation's messages oldest first.
func ListMessages(ctx context.Context, db *gorm.DB, conversationID string) ([]domain.Message, error) {
	out := []domain.Message{}
	err := messagesChronological(db.WithContext(ctx)).
		Where("conversation_id = ?", conversationID).
		Find(&out).Error
	return out, err
}
