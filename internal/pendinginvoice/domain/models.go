// Package domain contains the per-organization accumulator of unbilled items.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/memberhub/internal/invoice/domain"
	"gorm.io/datatypes"
)

// PendingInvoice holds the items of an organization that were not invoiced yet.
// There is at most one row per organization. While InvoiceID is set an invoice
// is being collected against the items and no other may be created.
type PendingInvoice struct {
	ID             snowflake.ID                                  `gorm:"primaryKey" json:"id"`
	OrganizationID *snowflake.ID                                 `gorm:"uniqueIndex" json:"organization_id"`
	Meta           datatypes.JSONType[invoicedomain.InvoiceMeta] `gorm:"type:jsonb;not null" json:"meta"`
	InvoiceID      *snowflake.ID                                 `json:"invoice_id"`
	CreatedAt      time.Time                                     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time                                     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (PendingInvoice) TableName() string { return "pending_invoices" }

func (p *PendingInvoice) Data() invoicedomain.InvoiceMeta {
	return p.Meta.Data()
}

func (p *PendingInvoice) UpdateMeta(fn func(meta *invoicedomain.InvoiceMeta)) {
	meta := p.Meta.Data()
	fn(&meta)
	p.Meta = datatypes.NewJSONType(meta)
}

func (p *PendingInvoice) Owner() invoicedomain.Owner {
	return invoicedomain.OwnerOf(p.OrganizationID)
}

func (p *PendingInvoice) IsLocked() bool {
	return p.InvoiceID != nil
}

// LockedBy reports whether the row waits on invoiceID.
func (p *PendingInvoice) LockedBy(invoiceID snowflake.ID) bool {
	return p.InvoiceID != nil && *p.InvoiceID == invoiceID
}

// AppendItems adds items. They are compressed only while no invoice is in flight.
func (p *PendingInvoice) AppendItems(items []invoicedomain.InvoiceItem) {
	p.UpdateMeta(func(meta *invoicedomain.InvoiceMeta) {
		meta.Items = append(meta.Items, items...)
		if p.InvoiceID == nil {
			meta.Items = invoicedomain.Compress(meta.Items)
		}
	})
}

// PendingAmountFor sums the amount already queued for pkgID.
func (p *PendingInvoice) PendingAmountFor(pkgID snowflake.ID) int64 {
	var total int64
	for _, item := range p.Data().Items {
		if id, ok := item.PackageID(); ok && id == pkgID {
			total += item.Amount
		}
	}
	return total
}

// Total is the summed price of the queued items.
func (p *PendingInvoice) Total() int64 {
	var total int64
	for _, item := range p.Data().Items {
		total += item.Price()
	}
	return total
}

// PriceMismatch describes a settled item whose unit price differs from the queued copy.
type PriceMismatch struct {
	ItemID        string
	SettledPrice  int64
	PendingPrice  int64
	SettledAmount int64
	PendingAmount int64
}

// RemoveSettled strips settled items matched by id. A queued item with a larger
// amount keeps the difference. Mismatching unit prices are reported, not fatal.
func (p *PendingInvoice) RemoveSettled(settled []invoicedomain.InvoiceItem) []PriceMismatch {
	var mismatches []PriceMismatch
	p.UpdateMeta(func(meta *invoicedomain.InvoiceMeta) {
		for _, done := range settled {
			for index := 0; index < len(meta.Items); index++ {
				item := meta.Items[index]
				if item.ID != done.ID {
					continue
				}
				if item.UnitPrice != done.UnitPrice {
					mismatches = append(mismatches, PriceMismatch{
						ItemID:        item.ID,
						SettledPrice:  done.UnitPrice,
						PendingPrice:  item.UnitPrice,
						SettledAmount: done.Amount,
						PendingAmount: item.Amount,
					})
				}
				if item.Amount > done.Amount {
					meta.Items[index].Amount = item.Amount - done.Amount
				} else {
					meta.Items = append(meta.Items[:index], meta.Items[index+1:]...)
				}
				break
			}
		}
	})
	return mismatches
}

// Release unlocks the row when it waits on invoiceID and compresses the items
// that were appended meanwhile.
func (p *PendingInvoice) Release(invoiceID snowflake.ID) bool {
	if !p.LockedBy(invoiceID) {
		return false
	}
	p.InvoiceID = nil
	p.UpdateMeta(func(meta *invoicedomain.InvoiceMeta) {
		meta.Items = invoicedomain.Compress(meta.Items)
	})
	return true
}

// RefreshPackages replaces the package snapshots on queued items with fresh copies.
func (p *PendingInvoice) RefreshPackages(snapshots map[snowflake.ID]*invoicedomain.PackageSnapshot) {
	p.UpdateMeta(func(meta *invoicedomain.InvoiceMeta) {
		for index, item := range meta.Items {
			id, ok := item.PackageID()
			if !ok {
				continue
			}
			if fresh, ok := snapshots[id]; ok {
				meta.Items[index].Package = fresh
			}
		}
	})
}
