// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// State is derived from the numbering columns.
type State string

const (
	StateDraft    State = "Draft"
	StateNumbered State = "Numbered"
	StateReversed State = "Reversed"
)

// Invoice is a billing document. It is mutable until it receives a number.
type Invoice struct {
	ID                snowflake.ID                    `gorm:"primaryKey" json:"id"`
	OrganizationID    *snowflake.ID                   `gorm:"index" json:"organization_id"`
	CreditID          *snowflake.ID                   `json:"credit_id"`
	PaymentID         *snowflake.ID                   `gorm:"index" json:"payment_id"`
	Meta              datatypes.JSONType[InvoiceMeta] `gorm:"type:jsonb;not null" json:"meta"`
	Number            *int64                          `gorm:"uniqueIndex" json:"number"`
	PaidAt            *time.Time                      `json:"paid_at"`
	NegativeInvoiceID *snowflake.ID                   `json:"negative_invoice_id"`
	CreatedAt         time.Time                       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time                       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

func (i *Invoice) Data() InvoiceMeta {
	return i.Meta.Data()
}

func (i *Invoice) UpdateMeta(fn func(meta *InvoiceMeta)) {
	meta := i.Meta.Data()
	fn(&meta)
	i.Meta = datatypes.NewJSONType(meta)
}

func (i *Invoice) Owner() Owner {
	return OwnerOf(i.OrganizationID)
}

func (i *Invoice) State() State {
	switch {
	case i.NegativeInvoiceID != nil:
		return StateReversed
	case i.Number != nil:
		return StateNumbered
	default:
		return StateDraft
	}
}
