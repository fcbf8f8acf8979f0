package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Submission statuses touched by settlement. The rest of the lifecycle
// belongs to the submission CRUD and is stored verbatim.
const (
	StatusPendingDeliveryReview = "Pending Delivery Review"
	StatusCompleted             = "Completed"
)

// Listing is a recruiter's paid gig. AccountID is the recruiter.
type Listing struct {
	ID        string          `gorm:"primaryKey;size:64" json:"id"`
	AccountID string          `gorm:"size:64;not null;index" json:"account_id"`
	Title     string          `gorm:"size:255" json:"title"`
	Amount    decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"amount"`
	Currency  string          `gorm:"size:8;not null" json:"currency"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (Listing) TableName() string { return "listing" }

// Submission is an earner's work against a listing. TransferID is set once,
// when the payout succeeds, and makes the submission payout-immutable.
type Submission struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	ListingID  string    `gorm:"size:64;not null;index" json:"listing_id"`
	Listing    Listing   `gorm:"foreignKey:ListingID" json:"listing"`
	EarnerID   string    `gorm:"size:64;not null;index" json:"earner_id"`
	Status     string    `gorm:"size:64;not null" json:"status"`
	TransferID *string   `gorm:"size:64;uniqueIndex" json:"transfer_id,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Submission) TableName() string { return "submission" }
