package model

import (
	"time"

	"gorm.io/datatypes"
)

// PayoutDestination is the earner's Whop company that transfers land in.
type PayoutDestination struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`
	EarnerID   string         `gorm:"size:64;not null;uniqueIndex" json:"earner_id"`
	ExternalID string         `gorm:"size:64;not null" json:"external_id"`
	Title      string         `gorm:"size:255" json:"title"`
	Metadata   datatypes.JSON `json:"-"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (PayoutDestination) TableName() string { return "payout_destination" }
