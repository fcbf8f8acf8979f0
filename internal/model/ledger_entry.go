package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	Credit TransactionType = "credit"
	Debit  TransactionType = "debit"
)

// LedgerEntry is immutable once written. Balance is derived from these rows only.
type LedgerEntry struct {
	ID             string          `gorm:"primaryKey;size:36" json:"id"`
	AccountID      string          `gorm:"size:64;not null;index" json:"account_id"`
	Amount         decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"amount"`
	Currency       string          `gorm:"size:8;not null" json:"currency"`
	Type           TransactionType `gorm:"size:16;not null" json:"transaction_type"`
	Description    string          `gorm:"size:255" json:"description"`
	IdempotencyKey string          `gorm:"size:128;not null;uniqueIndex" json:"idempotency_key"`
	PaymentID      *string         `gorm:"size:64;index" json:"payment_id,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "ledger_entry" }
