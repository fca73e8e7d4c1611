package domain

import "time"

// IdempotencyScopeMessages scopes keys sent with POST /messages.
const IdempotencyScopeMessages = "messages"

// IdempotencyKey records the conversation produced by a keyed request so a
// retry with the same (user, scope, key) replays it instead of spending
// another token. Rows are written in the same transaction as the effect.
type IdempotencyKey struct {
	ID             string    `gorm:"type:char(36);primaryKey"`
	UserID         uint      `gorm:"not null;uniqueIndex:ux_idem_user_scope_key,priority:1"`
	Scope          string    `gorm:"type:varchar(32);not null;uniqueIndex:ux_idem_user_scope_key,priority:2"`
	Key            string    `gorm:"column:idem_key;type:varchar(200);not null;uniqueIndex:ux_idem_user_scope_key,priority:3"`
	ConversationID string    `gorm:"type:char(36);not null"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt      time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (IdempotencyKey) TableName() string { return "idempotency_keys" }

// GiftClaim is one spiritual gift claim; the claims of a UTC day are summed
// against the daily cap.
type GiftClaim struct {
	ID        uint      `json:"id"        gorm:"primaryKey;autoIncrement"`
	UserID    uint      `json:"userId"    gorm:"not null;index:idx_gift_claims_user_at,priority:1"`
	Tokens    int       `json:"tokens"    gorm:"not null"`
	ClaimedAt time.Time `json:"claimedAt" gorm:"not null;precision:6;index:idx_gift_claims_user_at,priority:2"`

	User *User `json:"-" gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for GiftClaim.
func (GiftClaim) TableName() string { return "gift_claims" }
