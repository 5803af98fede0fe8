package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/billinglock"
	packagedomain "github.com/smallbiznis/memberhub/internal/billingpackage/domain"
	"github.com/smallbiznis/memberhub/internal/clock"
	"github.com/smallbiznis/memberhub/internal/config"
	creditdomain "github.com/smallbiznis/memberhub/internal/credit/domain"
	invoicedomain "github.com/smallbiznis/memberhub/internal/invoice/domain"
	"github.com/smallbiznis/memberhub/internal/observability/metrics"
	"github.com/smallbiznis/memberhub/internal/observability/tracing"
	orgdomain "github.com/smallbiznis/memberhub/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/memberhub/internal/payment/domain"
	pendingdomain "github.com/smallbiznis/memberhub/internal/pendinginvoice/domain"
	"github.com/smallbiznis/memberhub/internal/providers/email"
	"github.com/smallbiznis/memberhub/internal/providers/pdf"
	"github.com/smallbiznis/memberhub/internal/providers/storage"
	referraldomain "github.com/smallbiznis/memberhub/internal/referral/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Cfg     config.Config
	Billing *config.BillingConfigHolder
	Locks   *billinglock.Locks
	Repo    invoicedomain.Repository

	OrgRepo     orgdomain.Repository
	PackageRepo packagedomain.Repository
	Packages    packagedomain.Service
	Pending     pendingdomain.Service
	Credits     creditdomain.Service
	Payments    paymentdomain.Service
	Referrals   referraldomain.Rewarder

	Email   email.Provider
	PDF     pdf.Renderer
	Storage storage.Uploader
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	platformName string
	billing      *config.BillingConfigHolder
	locks        *billinglock.Locks
	repo         invoicedomain.Repository

	orgRepo     orgdomain.Repository
	packageRepo packagedomain.Repository
	packages    packagedomain.Service
	pending     pendingdomain.Service
	credits     creditdomain.Service
	payments    paymentdomain.Service
	referrals   referraldomain.Rewarder

	email   email.Provider
	pdf     pdf.Renderer
	storage storage.Uploader
	metrics *metrics.Metrics
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,
		clock: p.Clock,

		platformName: p.Cfg.PlatformName,
		billing:      p.Billing,
		locks:        p.Locks,
		repo:         p.Repo,

		orgRepo:     p.OrgRepo,
		packageRepo: p.PackageRepo,
		packages:    p.Packages,
		pending:     p.Pending,
		credits:     p.Credits,
		payments:    p.Payments,
		referrals:   p.Referrals,

		email:   p.Email,
		pdf:     p.PDF,
		storage: p.Storage,
		metrics: p.Metrics,
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	inv, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return inv, nil
}

func (s *Service) CreateFor(ctx context.Context, org *orgdomain.Organization, items []invoicedomain.InvoiceItem) (*invoicedomain.Invoice, error) {
	if org == nil {
		return nil, orgdomain.ErrOrganizationNotFound
	}
	var meta invoicedomain.InvoiceMeta
	meta.SetCompany(org.Name, org.Meta.Data().Company, s.billing.Get().VATPercentage)
	meta.Items = append([]invoicedomain.InvoiceItem(nil), items...)

	orgID := org.ID
	return &invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		OrganizationID: &orgID,
		Meta:           datatypes.NewJSONType(meta),
	}, nil
}

func (s *Service) Insert(ctx context.Context, inv *invoicedomain.Invoice) error {
	if inv == nil || inv.ID == 0 {
		return invoicedomain.ErrInvalidInvoice
	}
	return s.repo.Insert(ctx, s.db, inv)
}

func (s *Service) Save(ctx context.Context, inv *invoicedomain.Invoice) error {
	return s.repo.Save(ctx, s.db, inv)
}

// AssignNextNumber gives inv the next free number. The counter is always read
// from storage; another instance may have numbered invoices since the last call.
func (s *Service) AssignNextNumber(ctx context.Context, scope billinglock.NumberingScope, inv *invoicedomain.Invoice) error {
	if err := scope.Verify(); err != nil {
		return err
	}

	fresh, err := s.repo.FindByID(ctx, s.db, inv.ID)
	if err != nil {
		return err
	}
	if fresh == nil {
		return invoicedomain.ErrInvoiceNotFound
	}
	if fresh.Number != nil {
		inv.Number = fresh.Number
		date := fresh.Data().Date
		inv.UpdateMeta(func(meta *invoicedomain.InvoiceMeta) { meta.Date = date })
		s.log.Info("invoice.already_numbered",
			zap.String("invoice_id", inv.ID.String()),
			zap.Int64("number", *fresh.Number),
		)
		return nil
	}

	highest, err := s.repo.MaxNumber(ctx, s.db)
	if err != nil {
		return err
	}
	number := highest + 1
	now := s.clock.Now()
	inv.Number = &number
	inv.UpdateMeta(func(meta *invoicedomain.InvoiceMeta) { meta.Date = &now })
	if err := s.repo.Save(ctx, s.db, inv); err != nil {
		inv.Number = nil
		return err
	}

	s.metrics.RecordInvoiceNumbered(ctx)
	s.log.Info("invoice.numbered",
		zap.String("invoice_id", inv.ID.String()),
		zap.Int64("number", number),
	)
	return nil
}

// withOwnerLock runs fn inside the billing lock of the owning organization.
// Orphaned invoices have nothing to serialize against and get a nil scope.
func (s *Service) withOwnerLock(ctx context.Context, inv *invoicedomain.Invoice, fn func(ctx context.Context, scope *billinglock.OrgScope) error) error {
	return invoicedomain.MatchOwner(inv.Owner(),
		func(owned invoicedomain.OwnedByOrganization) error {
			return s.locks.WithOrganizationBillingLock(ctx, owned.ID, func(ctx context.Context, scope billinglock.OrgScope) error {
				return fn(ctx, &scope)
			})
		},
		func(invoicedomain.Orphaned) error {
			return fn(ctx, nil)
		},
	)
}

func (s *Service) MarkPaid(ctx context.Context, inv *invoicedomain.Invoice, opts invoicedomain.MarkPaidOptions) error {
	ctx, span := tracing.StartSpan(ctx, "invoice.MarkPaid", attribute.String("invoice_id", inv.ID.String()))
	defer span.End()

	if inv.PaidAt != nil {
		return nil
	}
	return s.withOwnerLock(ctx, inv, func(ctx context.Context, scope *billinglock.OrgScope) error {
		return s.markPaid(ctx, scope, inv, opts)
	})
}

func (s *Service) markPaid(ctx context.Context, scope *billinglock.OrgScope, inv *invoicedomain.Invoice, opts invoicedomain.MarkPaidOptions) error {
	fresh, err := s.repo.FindByID(ctx, s.db, inv.ID)
	if err != nil {
		return err
	}
	if fresh != nil && fresh.PaidAt != nil {
		*inv = *fresh
		return nil
	}

	now := s.clock.Now()
	inv.PaidAt = &now
	meta := inv.Data()
	value := meta.PriceWithoutVAT()

	if value != 0 {
		err = s.locks.WithInvoiceNumberingLock(ctx, func(ctx context.Context, numbering billinglock.NumberingScope) error {
			return s.AssignNextNumber(ctx, numbering, inv)
		})
		if err != nil {
			inv.PaidAt = nil
			return err
		}
	}
	if err := s.repo.Save(ctx, s.db, inv); err != nil {
		return err
	}

	if inv.CreditID != nil {
		if err := s.credits.MarkUsed(ctx, *inv.CreditID); err != nil {
			return err
		}
	}

	orgID, owned := invoicedomain.OrganizationID(inv.Owner())

	pkgs, err := s.applyPaidCounters(ctx, meta)
	if err != nil {
		return err
	}
	if value >= 0 {
		for _, pkg := range pkgs {
			if err := s.resetFailure(ctx, pkg); err != nil {
				return err
			}
			if err := s.packages.Activate(ctx, pkg); err != nil {
				return err
			}
		}
		if len(pkgs) == 0 && owned {
			if err := s.clearFailures(ctx, orgID, now); err != nil {
				return err
			}
		}
	}

	if owned {
		if err := s.pending.Settle(ctx, *scope, inv); err != nil {
			return err
		}
		if err := s.packages.UpdateOrganizationPackages(ctx, orgID); err != nil {
			return err
		}
	}

	var document []byte
	if inv.Number != nil && inv.Data().PDF == nil {
		document, err = s.GeneratePDF(ctx, inv)
		if err != nil {
			s.log.Error("invoice.pdf_failed", zap.String("invoice_id", inv.ID.String()), zap.Error(err))
		}
	}

	if owned && opts.SendEmail && value > 0 {
		s.sendPaidEmail(ctx, orgID, inv, document)
	}

	if owned {
		if err := s.referrals.RewardIfEligible(ctx, orgID, value); err != nil {
			s.log.Error("invoice.referral_reward_failed",
				zap.String("organization_id", orgID.String()),
				zap.Error(err),
			)
		}
	}

	s.metrics.RecordSettlement(ctx, "paid")
	s.log.Info("invoice.paid",
		zap.String("invoice_id", inv.ID.String()),
		zap.Int64("price", value),
		zap.Bool("numbered", inv.Number != nil),
	)
	return nil
}

// applyPaidCounters books the package lines of meta onto their packages and
// returns the loaded packages in item order.
func (s *Service) applyPaidCounters(ctx context.Context, meta invoicedomain.InvoiceMeta) ([]*packagedomain.Package, error) {
	ids := meta.PackageIDs()
	if len(ids) == 0 {
		return nil, nil
	}
	loaded, err := s.packageRepo.FindByIDs(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[snowflake.ID]*packagedomain.Package, len(loaded))
	for _, pkg := range loaded {
		byID[pkg.ID] = pkg
	}

	for _, item := range meta.Items {
		id, ok := item.PackageID()
		if !ok {
			continue
		}
		pkg, ok := byID[id]
		if !ok {
			s.log.Warn("invoice.package_missing", zap.String("package_id", id.String()))
			continue
		}
		price := item.Price()
		pkg.UpdateMeta(func(m *packagedomain.PackageMeta) {
			if price >= 0 {
				m.PaidAmount += item.Amount
			} else if item.Amount > 0 {
				m.PaidAmount -= item.Amount
			}
			m.PaidPrice += price
		})
	}

	pkgs := make([]*packagedomain.Package, 0, len(ids))
	for _, id := range ids {
		pkg, ok := byID[id]
		if !ok {
			continue
		}
		if err := s.packageRepo.Save(ctx, s.db, pkg); err != nil {
			return nil, err
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, nil
}

func (s *Service) clearFailures(ctx context.Context, orgID snowflake.ID, now time.Time) error {
	active, err := s.packageRepo.ListActive(ctx, s.db, orgID, now)
	if err != nil {
		return err
	}
	for _, pkg := range active {
		if err := s.resetFailure(ctx, pkg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) resetFailure(ctx context.Context, pkg *packagedomain.Package) error {
	meta := pkg.Data()
	if meta.FirstFailedPayment == nil && meta.PaymentFailedCount == 0 {
		return nil
	}
	pkg.UpdateMeta(func(m *packagedomain.PackageMeta) {
		m.FirstFailedPayment = nil
		m.PaymentFailedCount = 0
	})
	return s.packageRepo.Save(ctx, s.db, pkg)
}

func isNotFound(err error) bool {
	return errors.Is(err, paymentdomain.ErrPaymentNotFound) || errors.Is(err, orgdomain.ErrOrganizationNotFound)
}
