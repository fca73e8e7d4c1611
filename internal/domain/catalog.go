package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenPackage is a purchasable bundle of tokens.
type TokenPackage struct {
	ID      uint            `json:"id"      gorm:"primaryKey;autoIncrement"`
	Name    string          `json:"name"    gorm:"type:varchar(120);not null"`
	Tokens  int             `json:"tokens"  gorm:"not null"`
	Price   decimal.Decimal `json:"price"   gorm:"type:decimal(12,2);not null"`
	Special bool            `json:"special" gorm:"not null;default:false"`
}

// TableName returns the database table name for TokenPackage.
func (TokenPackage) TableName() string { return "token_packages" }

// DiscountCode is a percentage discount redeemable up to UsageLimit times.
type DiscountCode struct {
	ID         uint       `json:"id"         gorm:"primaryKey;autoIncrement"`
	Code       string     `json:"code"       gorm:"type:varchar(64);not null;uniqueIndex:ux_discount_codes_code"`
	Value      int        `json:"value"      gorm:"not null"`
	Expiry     *time.Time `json:"expiry"`
	UsageLimit int        `json:"usageLimit" gorm:"not null;default:0"`
	UsedCount  int        `json:"usedCount"  gorm:"not null;default:0"`
}

// TableName returns the database table name for DiscountCode.
func (DiscountCode) TableName() string { return "discount_codes" }

// GiftCard grants Tokens once; UsedBy holds the redeeming email.
type GiftCard struct {
	ID     uint    `json:"id"     gorm:"primaryKey;autoIncrement"`
	Title  string  `json:"title"  gorm:"type:varchar(120);not null"`
	Code   string  `json:"code"   gorm:"type:varchar(64);not null;uniqueIndex:ux_gift_cards_code"`
	Tokens int     `json:"tokens" gorm:"not null"`
	UsedBy *string `json:"usedBy" gorm:"type:varchar(255)"`
}

// TableName returns the database table name for GiftCard.
func (GiftCard) TableName() string { return "gift_cards" }

// Transaction states.
const (
	TxCompleted = "completed"
	TxPending   = "pending"
	TxFailed    = "failed"
)

// Transaction is a store purchase. UserEmail is a snapshot so the ledger
// survives user deletion.
type Transaction struct {
	ID          string          `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID      *uint           `json:"userId"      gorm:"index"`
	UserEmail   string          `json:"userEmail"   gorm:"type:varchar(255);not null"`
	PackageName string          `json:"packageName" gorm:"type:varchar(120);not null"`
	Amount      decimal.Decimal `json:"amount"      gorm:"type:decimal(12,2);not null"`
	Status      string          `json:"status"      gorm:"type:varchar(16);not null"`
	Date        time.Time       `json:"date"        gorm:"not null;index"`

	User *User `json:"-" gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

// TableName returns the database table name for Transaction.
func (Transaction) TableName() string { return "transactions" }
