package domain

import (
	"errors"
	"fmt"
)

type PackageType string

const (
	PackageTypeLegacyMembers PackageType = "LegacyMembers"
	PackageTypeMembers       PackageType = "Members"
	PackageTypeWebshops      PackageType = "Webshops"
	PackageTypeSingleWebshop PackageType = "SingleWebshop"
	PackageTypeTrialMembers  PackageType = "TrialMembers"
	PackageTypeTrialWebshops PackageType = "TrialWebshops"
)

var ErrUnknownPackageType = errors.New("unknown_package_type")

// AllPackageTypes lists every variant in display order.
var AllPackageTypes = []PackageType{
	PackageTypeLegacyMembers,
	PackageTypeMembers,
	PackageTypeWebshops,
	PackageTypeSingleWebshop,
	PackageTypeTrialMembers,
	PackageTypeTrialWebshops,
}

// PackageTypeVisitor has one method per package type. Adding a type adds a
// method here, which breaks every visitor until it handles the new case.
type PackageTypeVisitor[T any] interface {
	LegacyMembers() T
	Members() T
	Webshops() T
	SingleWebshop() T
	TrialMembers() T
	TrialWebshops() T
}

// Visit dispatches t to the matching visitor method.
func Visit[T any](t PackageType, v PackageTypeVisitor[T]) (T, error) {
	switch t {
	case PackageTypeLegacyMembers:
		return v.LegacyMembers(), nil
	case PackageTypeMembers:
		return v.Members(), nil
	case PackageTypeWebshops:
		return v.Webshops(), nil
	case PackageTypeSingleWebshop:
		return v.SingleWebshop(), nil
	case PackageTypeTrialMembers:
		return v.TrialMembers(), nil
	case PackageTypeTrialWebshops:
		return v.TrialWebshops(), nil
	}
	var zero T
	return zero, fmt.Errorf("%w: %q", ErrUnknownPackageType, string(t))
}

type nameVisitor struct{}

func (nameVisitor) LegacyMembers() string { return "Ledenadministratie (legacy)" }
func (nameVisitor) Members() string       { return "Ledenadministratie" }
func (nameVisitor) Webshops() string      { return "Webshops" }
func (nameVisitor) SingleWebshop() string { return "Eén webshop" }
func (nameVisitor) TrialMembers() string  { return "Proefperiode ledenadministratie" }
func (nameVisitor) TrialWebshops() string { return "Proefperiode webshops" }

// Name is the label printed on invoices and emails.
func (t PackageType) Name() string {
	name, err := Visit[string](t, nameVisitor{})
	if err != nil {
		return string(t)
	}
	return name
}

// Entitlement is what an active package of a type unlocks.
type Entitlement struct {
	Members    bool
	Activities bool
	Webshops   bool
}

type entitlementVisitor struct{}

func (entitlementVisitor) LegacyMembers() Entitlement { return Entitlement{Members: true} }
func (entitlementVisitor) Members() Entitlement {
	return Entitlement{Members: true, Activities: true}
}
func (entitlementVisitor) Webshops() Entitlement      { return Entitlement{Webshops: true} }
func (entitlementVisitor) SingleWebshop() Entitlement { return Entitlement{Webshops: true} }
func (entitlementVisitor) TrialMembers() Entitlement {
	return Entitlement{Members: true, Activities: true}
}
func (entitlementVisitor) TrialWebshops() Entitlement { return Entitlement{Webshops: true} }

func (t PackageType) Entitlement() Entitlement {
	e, _ := Visit[Entitlement](t, entitlementVisitor{})
	return e
}

// reminderVisitor returns how many days before validUntil an expiry reminder may go out.
type reminderVisitor struct{}

func (reminderVisitor) LegacyMembers() int { return 0 }
func (reminderVisitor) Members() int       { return 32 }
func (reminderVisitor) Webshops() int      { return 32 }
func (reminderVisitor) SingleWebshop() int { return 7 }
func (reminderVisitor) TrialMembers() int  { return 3 }
func (reminderVisitor) TrialWebshops() int { return 3 }

// ReminderDays is zero for types that never get expiry reminders.
func (t PackageType) ReminderDays() int {
	days, _ := Visit[int](t, reminderVisitor{})
	return days
}

type PricingType string

const (
	PricingTypeFixed     PricingType = "Fixed"
	PricingTypePerYear   PricingType = "PerYear"
	PricingTypePerMember PricingType = "PerMember"
)
