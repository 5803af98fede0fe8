package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Package struct {
	ID             snowflake.ID                    `json:"id" gorm:"primaryKey"`
	OrganizationID snowflake.ID                    `json:"organization_id" gorm:"not null;index"`
	Meta           datatypes.JSONType[PackageMeta] `json:"meta" gorm:"type:jsonb;not null"`
	ValidAt        *time.Time                      `json:"valid_at"`
	ValidUntil     *time.Time                      `json:"valid_until"`
	RemoveAt       *time.Time                      `json:"remove_at"`
	EmailCount     int                             `json:"email_count" gorm:"not null;default:0"`
	LastEmailAt    *time.Time                      `json:"last_email_at"`
	CreatedAt      time.Time                       `json:"created_at"`
	UpdatedAt      time.Time                       `json:"updated_at"`
}

func (Package) TableName() string { return "packages" }

type PackageMeta struct {
	Type        PackageType `json:"type"`
	PricingType PricingType `json:"pricingType"`

	// Prices use four decimals: 1_0000 is one currency unit.
	UnitPrice     int64 `json:"unitPrice"`
	MinimumAmount int64 `json:"minimumAmount"`
	PaidAmount    int64 `json:"paidAmount"`
	PaidPrice     int64 `json:"paidPrice"`

	// ServiceFeePercentage uses two decimals: 2_00 is 2%.
	ServiceFeePercentage int64  `json:"serviceFeePercentage"`
	ServiceFeeFixed      int64  `json:"serviceFeeFixed"`
	ServiceFeeMinimum    *int64 `json:"serviceFeeMinimum"`
	ServiceFeeMaximum    *int64 `json:"serviceFeeMaximum"`

	StartDate  time.Time     `json:"startDate"`
	DidRenewID *snowflake.ID `json:"didRenewId,omitempty"`
	AllowRenew bool          `json:"allowRenew"`
	AutoRenew  bool          `json:"autorenew"`

	FirstFailedPayment *time.Time `json:"firstFailedPayment"`
	PaymentFailedCount int        `json:"paymentFailedCount"`
}

func (p *Package) Data() PackageMeta {
	return p.Meta.Data()
}

// UpdateMeta applies fn to a copy of the meta and stores the result.
func (p *Package) UpdateMeta(fn func(meta *PackageMeta)) {
	meta := p.Meta.Data()
	fn(&meta)
	p.Meta = datatypes.NewJSONType(meta)
}

func (p *Package) Type() PackageType {
	return p.Meta.Data().Type
}

func (p *Package) Name() string {
	return p.Type().Name()
}

// IsActiveAt reports whether the package has been activated and is not removed at now.
func (p *Package) IsActiveAt(now time.Time) bool {
	if p.ValidAt == nil {
		return false
	}
	return p.RemoveAt == nil || p.RemoveAt.After(now)
}

// Status projects the package onto a read-only status.
func (p *Package) Status() PackageStatus {
	meta := p.Meta.Data()
	var feeEnd *time.Time
	switch {
	case p.ValidUntil != nil && p.RemoveAt != nil:
		end := *p.ValidUntil
		if p.RemoveAt.Before(end) {
			end = *p.RemoveAt
		}
		feeEnd = &end
	case p.ValidUntil != nil:
		feeEnd = cloneTime(p.ValidUntil)
	default:
		feeEnd = cloneTime(p.RemoveAt)
	}

	return PackageStatus{
		StartDate:          meta.StartDate,
		ValidUntil:         cloneTime(p.ValidUntil),
		RemoveAt:           cloneTime(p.RemoveAt),
		FirstFailedPayment: cloneTime(meta.FirstFailedPayment),
		ServiceFees: []ServiceFee{{
			Fixed:      meta.ServiceFeeFixed,
			Percentage: meta.ServiceFeePercentage,
			Minimum:    meta.ServiceFeeMinimum,
			Maximum:    meta.ServiceFeeMaximum,
			StartDate:  meta.StartDate,
			EndDate:    feeEnd,
		}},
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
