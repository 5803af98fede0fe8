package domain

import (
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	packagedomain "github.com/smallbiznis/memberhub/internal/billingpackage/domain"
	"github.com/smallbiznis/memberhub/internal/invoice/format"
)

// fullPriceDays is the part of a yearly per-member period that is never prorated.
const fullPriceDays = 30 * 3

// PackageSnapshot is the package data copied onto an invoice line.
type PackageSnapshot struct {
	ID         snowflake.ID              `json:"id"`
	Meta       packagedomain.PackageMeta `json:"meta"`
	ValidUntil *time.Time                `json:"validUntil"`
	RemoveAt   *time.Time                `json:"removeAt"`
}

func SnapshotOf(pkg *packagedomain.Package) *PackageSnapshot {
	return &PackageSnapshot{
		ID:         pkg.ID,
		Meta:       pkg.Data(),
		ValidUntil: pkg.ValidUntil,
		RemoveAt:   pkg.RemoveAt,
	}
}

type InvoiceItem struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	Amount        int64            `json:"amount"`
	UnitPrice     int64            `json:"unitPrice"`
	CanUseCredits bool             `json:"canUseCredits"`
	Package       *PackageSnapshot `json:"package,omitempty"`
	Date          *time.Time       `json:"date,omitempty"`
}

func NewItemID() string {
	return uuid.NewString()
}

func (i InvoiceItem) Price() int64 {
	return i.UnitPrice * i.Amount
}

func (i InvoiceItem) PackageID() (snowflake.ID, bool) {
	if i.Package == nil {
		return 0, false
	}
	return i.Package.ID, true
}

// CanMerge reports whether other describes the same charge as i.
func (i InvoiceItem) CanMerge(other InvoiceItem) bool {
	if (i.Package == nil) != (other.Package == nil) {
		return false
	}
	if i.Package != nil && i.Package.ID != other.Package.ID {
		return false
	}
	return i.Name == other.Name &&
		i.UnitPrice == other.UnitPrice &&
		i.Description == other.Description
}

// Merge adds the amount of other. The package snapshot of other is newer and wins.
func (i InvoiceItem) Merge(other InvoiceItem) InvoiceItem {
	i.Amount += other.Amount
	i.Package = other.Package
	return i
}

// Compress merges mergeable items into the first occurrence. The input is not modified.
func Compress(items []InvoiceItem) []InvoiceItem {
	out := make([]InvoiceItem, len(items))
	copy(out, items)

	for index := 0; index < len(out); index++ {
		item := out[index]
		for j := len(out) - 1; j > index; j-- {
			if item.CanMerge(out[j]) {
				item = item.Merge(out[j])
				out = append(out[:j], out[j+1:]...)
			}
		}
		out[index] = item
	}
	return out
}

// ItemFromPackage computes the line needed to bring pkg up to amount units.
// Minimum amount applies first, then pending and already paid units are subtracted.
func ItemFromPackage(pkg *packagedomain.Package, amount, pendingAmount int64, date time.Time) InvoiceItem {
	meta := pkg.Data()

	if amount < meta.MinimumAmount {
		amount = meta.MinimumAmount
	}
	amount -= pendingAmount
	amount -= meta.PaidAmount
	if amount < 0 {
		amount = 0
	}

	now := date
	if now.Before(meta.StartDate) {
		now = meta.StartDate
	}

	unitPrice := decimal.NewFromInt(meta.UnitPrice)
	if pkg.ValidUntil != nil && meta.PricingType != packagedomain.PricingTypeFixed {
		totalDays := roundDays(pkg.ValidUntil.Sub(meta.StartDate))
		remainingDays := roundDays(pkg.ValidUntil.Sub(now))
		if remainingDays > totalDays {
			remainingDays = totalDays
		}
		if totalDays > 366 {
			unitPrice = unitPrice.Mul(decimal.NewFromInt(totalDays)).Div(decimal.NewFromInt(365))
		}
		if meta.PricingType == packagedomain.PricingTypePerMember {
			prorated := unitPrice.
				Mul(decimal.NewFromInt(remainingDays)).
				Div(decimal.NewFromInt(max(365, totalDays) - fullPriceDays))
			unitPrice = decimal.Min(unitPrice, prorated)
		}
	}

	description := "Vanaf " + format.Date(meta.StartDate)
	if pkg.ValidUntil != nil {
		description = "Van " + format.Date(now) + " tot " + format.Date(*pkg.ValidUntil)
	}

	itemDate := now
	return InvoiceItem{
		ID:            NewItemID(),
		Name:          pkg.Name(),
		Description:   description,
		Amount:        amount,
		UnitPrice:     unitPrice.Round(0).IntPart(),
		CanUseCredits: true,
		Package:       SnapshotOf(pkg),
		Date:          &itemDate,
	}
}

func roundDays(d time.Duration) int64 {
	return int64(math.Round(d.Hours() / 24))
}
