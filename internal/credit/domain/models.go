// Package domain contains persistence models for organization credits.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Credit is one entry in the credit ledger of an organization. The balance is
// the sum of Change over entries that have not expired.
type Credit struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	OrganizationID    snowflake.ID `gorm:"not null;index" json:"organization_id"`
	Description       string       `gorm:"type:text;not null" json:"description"`
	Change            int64        `gorm:"not null" json:"change"`
	AllowTransactions bool         `gorm:"not null;default:false" json:"allow_transactions"`
	ExpireAt          *time.Time   `json:"expire_at"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Credit) TableName() string { return "credits" }

func (c *Credit) IsExpiredAt(now time.Time) bool {
	return c.ExpireAt != nil && !c.ExpireAt.After(now)
}
