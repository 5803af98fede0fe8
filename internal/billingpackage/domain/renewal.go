package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type RenewalPolicy struct {
	ValidFor    func(start time.Time) time.Time
	GraceMonths int
}

func DefaultRenewalPolicy() RenewalPolicy {
	return RenewalPolicy{
		ValidFor:    func(start time.Time) time.Time { return start.AddDate(1, 0, 0) },
		GraceMonths: 3,
	}
}

// CreateRenewed builds the unsaved, inactive successor of p.
func CreateRenewed(p *Package, id snowflake.ID, now time.Time, policy RenewalPolicy) (*Package, error) {
	meta := p.Meta.Data()
	if !meta.AllowRenew {
		return nil, ErrNotAllowed
	}

	start := now
	if p.ValidUntil != nil && p.ValidUntil.After(now) {
		start = *p.ValidUntil
	}
	validUntil := policy.ValidFor(start)
	removeAt := validUntil.AddDate(0, policy.GraceMonths, 0)

	renewedFrom := p.ID
	meta.StartDate = start
	meta.PaidAmount = 0
	meta.PaidPrice = 0
	meta.FirstFailedPayment = nil
	meta.PaymentFailedCount = 0
	meta.DidRenewID = &renewedFrom

	renewed := &Package{
		ID:             id,
		OrganizationID: p.OrganizationID,
		ValidUntil:     &validUntil,
		RemoveAt:       &removeAt,
	}

	adjust, err := Visit[func(*Package, *PackageMeta)](meta.Type, renewalVisitor{})
	if err != nil {
		return nil, err
	}
	adjust(renewed, &meta)

	renewed.Meta = datatypes.NewJSONType(meta)
	return renewed, nil
}

type renewalVisitor struct{}

func (renewalVisitor) LegacyMembers() func(*Package, *PackageMeta) { return keepPricing }
func (renewalVisitor) Members() func(*Package, *PackageMeta)       { return perMemberPricing }
func (renewalVisitor) Webshops() func(*Package, *PackageMeta)      { return webshopServiceFees }
func (renewalVisitor) SingleWebshop() func(*Package, *PackageMeta) {
	return func(p *Package, meta *PackageMeta) {
		meta.Type = PackageTypeWebshops
		webshopServiceFees(p, meta)
	}
}
func (renewalVisitor) TrialMembers() func(*Package, *PackageMeta)  { return keepPricing }
func (renewalVisitor) TrialWebshops() func(*Package, *PackageMeta) { return keepPricing }

func keepPricing(*Package, *PackageMeta) {}

func webshopServiceFees(p *Package, meta *PackageMeta) {
	zero, maximum := int64(0), int64(2000)
	meta.ServiceFeeFixed = 0
	meta.ServiceFeePercentage = 2_00
	meta.ServiceFeeMinimum = &zero
	meta.ServiceFeeMaximum = &maximum
	meta.UnitPrice = 0
	meta.PricingType = PricingTypeFixed
	p.ValidUntil = nil
	p.RemoveAt = nil
}

func perMemberPricing(_ *Package, meta *PackageMeta) {
	zero := int64(0)
	meta.ServiceFeeFixed = 0
	meta.ServiceFeePercentage = 0
	meta.ServiceFeeMinimum = &zero
	meta.ServiceFeeMaximum = &zero
	meta.UnitPrice = 1_0000
	meta.PricingType = PricingTypePerMember
}
