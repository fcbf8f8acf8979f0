package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	PaymentPending   = "pending"
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
)

// PurposeAddFunds tags checkouts that top up a recruiter balance.
const PurposeAddFunds = "add_funds"

// Payment mirrors one provider-side top-up. ID is the provider's payment id.
type Payment struct {
	ID        string          `gorm:"primaryKey;size:64" json:"id"`
	AccountID string          `gorm:"size:64;not null;index" json:"account_id"`
	Amount    decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"amount"`
	Currency  string          `gorm:"size:8;not null" json:"currency"`
	Status    string          `gorm:"size:32;not null" json:"status"`
	Purpose   string          `gorm:"size:32" json:"purpose"`
	Metadata  datatypes.JSON  `json:"metadata"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Payment) TableName() string { return "payment" }
