// Package domain defines the persistence models of the chat platform: users
// and their token balances, conversations, messages, reports and the admin
// audit log. The types are mapped with GORM and serialized with the camelCase
// JSON names the web client expects.
package domain

import (
	"time"
)

// Roles carried on User.Role and in access tokens.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account states carried on User.Status.
const (
	UserActive  = "active"
	UserBlocked = "blocked"
)

// Message senders.
const (
	SenderUser = "user"
	SenderAI   = "ai"
)

// Message delivery states. The server only ever stores MessageSent; sending
// and error are client-side states.
const (
	MessageSending = "sending"
	MessageSent    = "sent"
	MessageError   = "error"
)

// JoinDateLayout is the format of User.JoinDate.
const JoinDateLayout = "2006-01-02"

// User is an account with a token balance. TokenBalance never goes below
// zero; it is changed only through the repo ledger helpers and admin edits.
type User struct {
	ID           uint      `json:"id"           gorm:"primaryKey;autoIncrement"`
	Name         string    `json:"name"         gorm:"type:varchar(120);not null"`
	Email        string    `json:"email"        gorm:"type:varchar(255);not null;uniqueIndex:ux_users_email"`
	PasswordHash string    `json:"-"            gorm:"column:password;type:varchar(255);not null"`
	TokenBalance int       `json:"tokenBalance" gorm:"not null;default:0;check:token_balance >= 0"`
	Role         string    `json:"role"         gorm:"type:varchar(16);not null;default:'user'"`
	Status       string    `json:"status"       gorm:"type:varchar(16);not null;default:'active';index"`
	JoinDate     string    `json:"joinDate"     gorm:"type:varchar(10);not null"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`

	// Conversations is only populated by admin detail reads.
	Conversations []Conversation `json:"conversations,omitempty" gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// Conversation is a thread owned by one user and bound to one marja. The
// marja is set at creation and never updated.
type Conversation struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	UserID    uint      `json:"userId"    gorm:"not null;index:idx_conversations_user_updated,priority:1"`
	Marja     string    `json:"marja"     gorm:"type:varchar(120);not null"`
	Title     string    `json:"title"     gorm:"type:varchar(255);not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"precision:6"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"precision:6;index:idx_conversations_user_updated,priority:2"`

	Messages []Message `json:"messages" gorm:"foreignKey:ConversationID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Message is one append-only utterance. Ordering inside a conversation is
// by Timestamp ascending.
type Message struct {
	ID             string    `json:"id"             gorm:"type:char(36);primaryKey"`
	ConversationID string    `json:"conversationId" gorm:"type:char(36);not null;index:idx_messages_conv_ts,priority:1"`
	Sender         string    `json:"sender"         gorm:"type:varchar(8);not null;check:sender IN ('user','ai')"`
	Text           string    `json:"text"           gorm:"type:text;not null"`
	Timestamp      time.Time `json:"timestamp"      gorm:"not null;precision:6;index:idx_messages_conv_ts,priority:2"`
	Status         string    `json:"status"         gorm:"type:varchar(8);not null;default:'sent'"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// AdminLog is an append-only audit entry.
type AdminLog struct {
	ID        uint      `json:"id"        gorm:"primaryKey;autoIncrement"`
	AdminName string    `json:"adminName" gorm:"type:varchar(120);not null"`
	Action    string    `json:"action"    gorm:"type:text;not null"`
	Timestamp time.Time `json:"timestamp" gorm:"not null;index"`
}

// TableName returns the database table name for AdminLog.
func (AdminLog) TableName() string { return "admin_logs" }
