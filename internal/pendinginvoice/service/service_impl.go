package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/memberhub/internal/billinglock"
	packagedomain "github.com/smallbiznis/memberhub/internal/billingpackage/domain"
	"github.com/smallbiznis/memberhub/internal/clock"
	"github.com/smallbiznis/memberhub/internal/config"
	invoicedomain "github.com/smallbiznis/memberhub/internal/invoice/domain"
	orgdomain "github.com/smallbiznis/memberhub/internal/organization/domain"
	"github.com/smallbiznis/memberhub/internal/pendinginvoice/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	OrgRepo     orgdomain.Repository
	PackageRepo packagedomain.Repository
	Packages    packagedomain.Service
	Locks       *billinglock.Locks
	Billing     *config.BillingConfigHolder
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	repo        domain.Repository
	orgRepo     orgdomain.Repository
	packageRepo packagedomain.Repository
	packages    packagedomain.Service
	locks       *billinglock.Locks
	billing     *config.BillingConfigHolder
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("pendinginvoice.service"),
		genID: p.GenID,
		clock: p.Clock,

		repo:        p.Repo,
		orgRepo:     p.OrgRepo,
		packageRepo: p.PackageRepo,
		packages:    p.Packages,
		locks:       p.Locks,
		billing:     p.Billing,
	}
}

func (s *Service) Get(ctx context.Context, orgID snowflake.ID) (*domain.PendingInvoice, error) {
	return s.repo.FindByOrganization(ctx, s.db, orgID)
}

func (s *Service) AddItems(ctx context.Context, scope billinglock.OrgScope, org *orgdomain.Organization, items []invoicedomain.InvoiceItem) (*domain.PendingInvoice, error) {
	if err := scope.Verify(org.ID); err != nil {
		return nil, err
	}

	pending, err := s.repo.FindByOrganization(ctx, s.db, org.ID)
	if err != nil {
		return nil, err
	}
	created := pending == nil
	if created {
		orgID := org.ID
		pending = &domain.PendingInvoice{
			ID:             s.genID.Generate(),
			OrganizationID: &orgID,
			Meta:           datatypes.NewJSONType(invoicedomain.InvoiceMeta{}),
		}
	}

	vat := s.billing.Get().VATPercentage
	company := org.Meta.Data().Company
	pending.UpdateMeta(func(meta *invoicedomain.InvoiceMeta) {
		meta.SetCompany(org.Name, company, vat)
	})
	pending.AppendItems(items)

	if created {
		err = s.repo.Insert(ctx, s.db, pending)
	} else {
		err = s.repo.Save(ctx, s.db, pending)
	}
	if err != nil {
		return nil, err
	}

	s.log.Debug("pendinginvoice.items_added",
		zap.String("organization_id", org.ID.String()),
		zap.Int("added", len(items)),
		zap.Int("items", len(pending.Data().Items)),
		zap.Bool("locked", pending.IsLocked()),
	)
	return pending, nil
}

func (s *Service) CreateItems(ctx context.Context, orgID snowflake.ID, pending *domain.PendingInvoice) ([]invoicedomain.InvoiceItem, error) {
	now := s.clock.Now()
	date := clock.StartOfDay(now)

	pkgs, err := s.packageRepo.ListActive(ctx, s.db, orgID, now)
	if err != nil {
		return nil, err
	}

	var members int64
	needsMembers := lo.SomeBy(pkgs, func(pkg *packagedomain.Package) bool {
		return pkg.Data().PricingType == packagedomain.PricingTypePerMember
	})
	if needsMembers {
		members, err = s.orgRepo.CountActiveMembers(ctx, orgID)
		if err != nil {
			return nil, err
		}
	}

	var items []invoicedomain.InvoiceItem
	for _, pkg := range pkgs {
		meta := pkg.Data()
		if meta.StartDate.After(now) {
			continue
		}

		var pendingAmount int64
		if pending != nil {
			pendingAmount = pending.PendingAmountFor(pkg.ID)
		}

		amount := int64(1)
		if meta.PricingType == packagedomain.PricingTypePerMember {
			amount = members
		}

		item := invoicedomain.ItemFromPackage(pkg, amount, pendingAmount, date)
		if item.Price() <= 0 {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Service) Queue(ctx context.Context, orgID snowflake.ID) (*domain.PendingInvoice, error) {
	var result *domain.PendingInvoice
	err := s.locks.WithOrganizationBillingLock(ctx, orgID, func(ctx context.Context, scope billinglock.OrgScope) error {
		org, err := s.orgRepo.FindByID(ctx, orgID)
		if err != nil {
			return err
		}
		if org == nil {
			return orgdomain.ErrOrganizationNotFound
		}

		pending, err := s.repo.FindByOrganization(ctx, s.db, orgID)
		if err != nil {
			return err
		}
		items, err := s.CreateItems(ctx, orgID, pending)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			result = pending
			return nil
		}
		result, err = s.AddItems(ctx, scope, org, items)
		return err
	})
	return result, err
}

func (s *Service) AddPackage(ctx context.Context, pkg *packagedomain.Package) (*domain.PendingInvoice, error) {
	var result *domain.PendingInvoice
	err := s.locks.WithOrganizationBillingLock(ctx, pkg.OrganizationID, func(ctx context.Context, scope billinglock.OrgScope) error {
		org, err := s.orgRepo.FindByID(ctx, pkg.OrganizationID)
		if err != nil {
			return err
		}
		if org == nil {
			return orgdomain.ErrOrganizationNotFound
		}
		result, err = s.addPackage(ctx, scope, org, pkg)
		return err
	})
	return result, err
}

func (s *Service) addPackage(ctx context.Context, scope billinglock.OrgScope, org *orgdomain.Organization, pkg *packagedomain.Package) (*domain.PendingInvoice, error) {
	pending, err := s.repo.FindByOrganization(ctx, s.db, org.ID)
	if err != nil {
		return nil, err
	}
	var pendingAmount int64
	if pending != nil {
		pendingAmount = pending.PendingAmountFor(pkg.ID)
	}

	amount := int64(1)
	if pkg.Data().PricingType == packagedomain.PricingTypePerMember {
		amount, err = s.orgRepo.CountActiveMembers(ctx, org.ID)
		if err != nil {
			return nil, err
		}
	}

	item := invoicedomain.ItemFromPackage(pkg, amount, pendingAmount, clock.StartOfDay(s.clock.Now()))
	if item.Price() > 0 {
		return s.AddItems(ctx, scope, org, []invoicedomain.InvoiceItem{item})
	}
	if pendingAmount > 0 || pkg.ValidAt != nil {
		return pending, nil
	}

	// Nothing to invoice: the package is free until its service fees run.
	if err := s.packages.Activate(ctx, pkg); err != nil {
		return nil, err
	}
	if err := s.packages.UpdateOrganizationPackages(ctx, org.ID); err != nil {
		return nil, err
	}
	s.log.Info("pendinginvoice.package_activated_free",
		zap.String("organization_id", org.ID.String()),
		zap.String("package_id", pkg.ID.String()),
	)
	return pending, nil
}

func (s *Service) Renew(ctx context.Context, packageID snowflake.ID) (*domain.RenewResult, error) {
	source, err := s.packages.Get(ctx, packageID)
	if err != nil {
		return nil, err
	}

	var result *domain.RenewResult
	err = s.locks.WithOrganizationBillingLock(ctx, source.OrganizationID, func(ctx context.Context, scope billinglock.OrgScope) error {
		org, err := s.orgRepo.FindByID(ctx, source.OrganizationID)
		if err != nil {
			return err
		}
		if org == nil {
			return orgdomain.ErrOrganizationNotFound
		}

		// Reload under the lock; an activated renewal clears AllowRenew.
		current, err := s.packages.Get(ctx, packageID)
		if err != nil {
			return err
		}
		existing, err := s.packageRepo.FindPendingRenewal(ctx, s.db, org.ID, current.ID, s.clock.Now())
		if err != nil {
			return err
		}
		if existing != nil {
			return packagedomain.ErrRenewalPending
		}

		renewed, err := s.packages.CreateRenewed(ctx, current)
		if err != nil {
			return err
		}
		if err := s.packages.Create(ctx, renewed); err != nil {
			return err
		}
		pending, err := s.addPackage(ctx, scope, org, renewed)
		if err != nil {
			return err
		}
		result = &domain.RenewResult{Package: renewed, Pending: pending}
		return nil
	})
	return result, err
}

func (s *Service) Settle(ctx context.Context, scope billinglock.OrgScope, inv *invoicedomain.Invoice) error {
	orgID, ok := invoicedomain.OrganizationID(inv.Owner())
	if !ok {
		return nil
	}
	if err := scope.Verify(orgID); err != nil {
		return err
	}

	pending, err := s.repo.FindByOrganization(ctx, s.db, orgID)
	if err != nil || pending == nil {
		return err
	}

	mismatches := pending.RemoveSettled(inv.Data().Items)
	for _, m := range mismatches {
		s.log.Warn("pendinginvoice.price_mismatch",
			zap.String("organization_id", orgID.String()),
			zap.String("invoice_id", inv.ID.String()),
			zap.String("item_id", m.ItemID),
			zap.Int64("settled_unit_price", m.SettledPrice),
			zap.Int64("pending_unit_price", m.PendingPrice),
			zap.Int64("settled_amount", m.SettledAmount),
			zap.Int64("pending_amount", m.PendingAmount),
		)
	}
	pending.Release(inv.ID)
	return s.repo.Save(ctx, s.db, pending)
}

func (s *Service) Unlock(ctx context.Context, scope billinglock.OrgScope, inv *invoicedomain.Invoice) error {
	orgID, ok := invoicedomain.OrganizationID(inv.Owner())
	if !ok {
		return nil
	}
	if err := scope.Verify(orgID); err != nil {
		return err
	}

	pending, err := s.repo.FindByOrganization(ctx, s.db, orgID)
	if err != nil || pending == nil {
		return err
	}
	if !pending.Release(inv.ID) {
		return nil
	}

	ids := pending.Data().PackageIDs()
	pkgs, err := s.packageRepo.FindByIDs(ctx, s.db, ids)
	if err != nil {
		return err
	}
	snapshots := lo.SliceToMap(pkgs, func(pkg *packagedomain.Package) (snowflake.ID, *invoicedomain.PackageSnapshot) {
		return pkg.ID, invoicedomain.SnapshotOf(pkg)
	})
	pending.RefreshPackages(snapshots)

	s.log.Info("pendinginvoice.unlocked",
		zap.String("organization_id", orgID.String()),
		zap.String("invoice_id", inv.ID.String()),
	)
	return s.repo.Save(ctx, s.db, pending)
}

func (s *Service) Lock(ctx context.Context, scope billinglock.OrgScope, pending *domain.PendingInvoice, invoiceID snowflake.ID) error {
	orgID, ok := invoicedomain.OrganizationID(pending.Owner())
	if !ok {
		return domain.ErrNoPendingInvoice
	}
	if err := scope.Verify(orgID); err != nil {
		return err
	}
	if pending.IsLocked() && !pending.LockedBy(invoiceID) {
		return domain.ErrPaymentPending
	}
	pending.InvoiceID = &invoiceID
	return s.repo.Save(ctx, s.db, pending)
}
