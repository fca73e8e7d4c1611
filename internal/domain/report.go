package domain

import "time"

// Report states.
const (
	ReportNew      = "new"
	ReportReviewed = "reviewed"
)

// Feedback values a report may carry.
const (
	FeedbackLiked    = "liked"
	FeedbackDisliked = "disliked"
	FeedbackReported = "reported"
)

// Report categories.
const (
	CategoryIncorrect  = "incorrect"
	CategoryIrrelevant = "irrelevant"
	CategoryHarmful    = "harmful"
	CategoryTechnical  = "technical"
	CategoryOther      = "other"
)

// Report flags a conversation for admin triage. Refunded is a one-way flag:
// once true, exactly one token has been credited to UserID.
type Report struct {
	ID             uint      `json:"id"             gorm:"primaryKey;autoIncrement"`
	UserID         uint      `json:"userId"         gorm:"not null;index"`
	IP             string    `json:"ip"             gorm:"type:varchar(64)"`
	Marja          string    `json:"marja"          gorm:"type:varchar(120)"`
	ConversationID string    `json:"conversationId" gorm:"type:char(36);not null;index"`
	Feedback       *string   `json:"feedback"       gorm:"type:varchar(16)"`
	Date           time.Time `json:"date"           gorm:"not null;index"`
	ReportText     *string   `json:"reportText"     gorm:"type:text"`
	Category       *string   `json:"category"       gorm:"type:varchar(16)"`
	Refunded       bool      `json:"refunded"       gorm:"not null;default:false"`
	Status         string    `json:"status"         gorm:"type:varchar(16);not null;default:'new';index"`

	// Email is filled by list/detail queries joining users.
	Email string `json:"email,omitempty" gorm:"->;-:migration"`

	User         *User         `json:"-"                      gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Conversation *Conversation `json:"conversation,omitempty" gorm:"foreignKey:ConversationID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Report.
func (Report) TableName() string { return "reports" }

// ValidReportStatus reports whether s is a known report state.
func ValidReportStatus(s string) bool {
	return s == ReportNew || s == ReportReviewed
}

// ValidFeedback reports whether s is a known feedback value.
func ValidFeedback(s string) bool {
	switch s {
	case FeedbackLiked, FeedbackDisliked, FeedbackReported:
		return true
	}
	return false
}

// ValidCategory reports whether s is a known report category.
func ValidCategory(s string) bool {
	switch s {
	case CategoryIncorrect, CategoryIrrelevant, CategoryHarmful, CategoryTechnical, CategoryOther:
		return true
	}
	return false
}
