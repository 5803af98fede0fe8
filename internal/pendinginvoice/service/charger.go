package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/billinglock"
	"github.com/smallbiznis/memberhub/internal/clock"
	"github.com/smallbiznis/memberhub/internal/config"
	creditdomain "github.com/smallbiznis/memberhub/internal/credit/domain"
	invoicedomain "github.com/smallbiznis/memberhub/internal/invoice/domain"
	"github.com/smallbiznis/memberhub/internal/invoice/format"
	"github.com/smallbiznis/memberhub/internal/observability/metrics"
	"github.com/smallbiznis/memberhub/internal/observability/tracing"
	orgdomain "github.com/smallbiznis/memberhub/internal/organization/domain"
	"github.com/smallbiznis/memberhub/internal/payment/adapters/mollie"
	paymentdomain "github.com/smallbiznis/memberhub/internal/payment/domain"
	"github.com/smallbiznis/memberhub/internal/pendinginvoice/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ChargerParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Cfg      config.Config
	Billing  *config.BillingConfigHolder
	Locks    *billinglock.Locks
	Repo     domain.Repository
	Pending  domain.Service
	OrgRepo  orgdomain.Repository
	Invoices invoicedomain.Service
	Credits  creditdomain.Service
	Payments paymentdomain.Service
	Mollie   mollie.Client
	Metrics  *metrics.Metrics `optional:"true"`
}

type Charger struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock

	platformName string
	mollieCfg    config.MollieConfig
	billing      *config.BillingConfigHolder
	locks        *billinglock.Locks

	repo     domain.Repository
	pending  domain.Service
	orgRepo  orgdomain.Repository
	invoices invoicedomain.Service
	credits  creditdomain.Service
	payments paymentdomain.Service
	mollie   mollie.Client
	metrics  *metrics.Metrics
}

func NewCharger(p ChargerParams) domain.Charger {
	return &Charger{
		db:    p.DB,
		log:   p.Log.Named("pendinginvoice.charger"),
		clock: p.Clock,

		platformName: p.Cfg.PlatformName,
		mollieCfg:    p.Cfg.Mollie,
		billing:      p.Billing,
		locks:        p.Locks,

		repo:     p.Repo,
		pending:  p.Pending,
		orgRepo:  p.OrgRepo,
		invoices: p.Invoices,
		credits:  p.Credits,
		payments: p.Payments,
		mollie:   p.Mollie,
		metrics:  p.Metrics,
	}
}

func (c *Charger) ChargeOrganization(ctx context.Context, orgID snowflake.ID) (*domain.ChargeResult, error) {
	var result *domain.ChargeResult
	err := c.locks.WithOrganizationBillingLock(ctx, orgID, func(ctx context.Context, scope billinglock.OrgScope) error {
		org, err := c.orgRepo.FindByID(ctx, orgID)
		if err != nil {
			return err
		}
		if org == nil {
			return orgdomain.ErrOrganizationNotFound
		}
		result, err = c.Charge(ctx, scope, org)
		return err
	})
	return result, err
}

func (c *Charger) Charge(ctx context.Context, scope billinglock.OrgScope, org *orgdomain.Organization) (*domain.ChargeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "pendinginvoice.Charge", attribute.String("organization_id", org.ID.String()))
	defer span.End()

	if err := scope.Verify(org.ID); err != nil {
		return nil, err
	}

	pending, err := c.repo.FindByOrganization(ctx, c.db, org.ID)
	if err != nil {
		return nil, err
	}
	if pending == nil || len(pending.Data().Items) == 0 || pending.Total() == 0 {
		c.metrics.RecordPendingCharge(ctx, "empty")
		return nil, domain.ErrNoPendingInvoice
	}
	if pending.IsLocked() {
		c.metrics.RecordPendingCharge(ctx, "payment_pending")
		return nil, domain.ErrPaymentPending
	}

	customer, err := c.payments.GetMollieCustomer(ctx, org.ID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		c.metrics.RecordPendingCharge(ctx, "no_customer")
		return nil, domain.ErrNoMollieCustomer
	}

	inv, err := c.invoices.CreateFor(ctx, org, pending.Data().Items)
	if err != nil {
		return nil, err
	}
	if err := c.invoices.Insert(ctx, inv); err != nil {
		return nil, err
	}
	if err := c.credits.ApplyCredits(ctx, org.ID, inv); err != nil {
		return nil, err
	}

	price := inv.Data().PriceWithVAT()
	orgID := org.ID
	payment := &paymentdomain.Payment{
		OrganizationID: &orgID,
		Method:         paymentdomain.MethodUnknown,
		Status:         paymentdomain.StatusCreated,
		Price:          price,
		Provider:       paymentdomain.ProviderMollie,
	}
	if err := c.payments.Create(ctx, payment); err != nil {
		return nil, err
	}
	inv.PaymentID = &payment.ID
	if err := c.invoices.Save(ctx, inv); err != nil {
		return nil, err
	}

	log := c.log.With(
		zap.String("organization_id", org.ID.String()),
		zap.String("invoice_id", inv.ID.String()),
		zap.String("payment_id", payment.ID.String()),
	)

	if price <= 0 {
		now := c.clock.Now()
		payment.Status = paymentdomain.StatusSucceeded
		payment.PaidAt = &now
		if err := c.payments.Save(ctx, payment); err != nil {
			return nil, err
		}
		if err := c.invoices.MarkPaid(ctx, inv, invoicedomain.MarkPaidOptions{SendEmail: true}); err != nil {
			return nil, err
		}
		c.metrics.RecordPendingCharge(ctx, "covered")
		log.Info("pendinginvoice.charged_without_payment")
		return &domain.ChargeResult{Invoice: inv}, nil
	}

	mandates, err := c.mollie.ListMandates(ctx, customer.CustomerID)
	if err != nil {
		return nil, c.abort(ctx, inv, payment, fmt.Errorf("%w: %v", paymentdomain.ErrProviderFailure, err))
	}
	mandate, ok := mollie.FirstValidMandate(mandates)
	if !ok {
		return nil, c.abort(ctx, inv, payment, domain.ErrNoMandate)
	}

	created, err := c.mollie.CreatePayment(ctx, mollie.CreatePaymentRequest{
		Amount: mollie.Amount{
			Currency: c.billing.Get().Currency,
			Value:    format.MollieAmount(price),
		},
		Description:  fmt.Sprintf("%s - %s", c.platformName, org.Name),
		SequenceType: mollie.SequenceRecurring,
		CustomerID:   customer.CustomerID,
		MandateID:    mandate.ID,
		RedirectURL:  c.mollieCfg.RedirectURL,
		WebhookURL:   c.mollieCfg.WebhookURL,
		Metadata: map[string]string{
			"invoiceId":      inv.ID.String(),
			"paymentId":      payment.ID.String(),
			"organizationId": org.ID.String(),
		},
	})
	if err != nil {
		return nil, c.abort(ctx, inv, payment, fmt.Errorf("%w: %v", paymentdomain.ErrProviderFailure, err))
	}

	providerID := created.ID
	payment.ProviderID = &providerID
	payment.Status = paymentdomain.StatusPending
	payment.Method = mollie.MethodFor(mandate.Method)
	if err := c.payments.Save(ctx, payment); err != nil {
		return nil, err
	}

	if err := c.pending.Lock(ctx, scope, pending, inv.ID); err != nil {
		return nil, err
	}

	if payment.Method == paymentdomain.MethodDirectDebit {
		c.invoices.SendProForma(ctx, org, inv)
	}

	c.metrics.RecordPendingCharge(ctx, "pending")
	log.Info("pendinginvoice.charged",
		zap.String("provider_id", providerID),
		zap.String("method", string(payment.Method)),
		zap.Int64("price", price),
	)
	return &domain.ChargeResult{Invoice: inv, CheckoutURL: created.CheckoutURL()}, nil
}

// abort fails the payment and releases the credit reserved for it.
func (c *Charger) abort(ctx context.Context, inv *invoicedomain.Invoice, payment *paymentdomain.Payment, cause error) error {
	payment.Status = paymentdomain.StatusFailed
	if err := c.payments.Save(ctx, payment); err != nil {
		c.log.Error("pendinginvoice.payment_save_failed", zap.Error(err))
	}
	if err := c.invoices.MarkFailed(ctx, inv, payment, invoicedomain.MarkFailedOptions{MarkFailed: false}); err != nil {
		c.log.Error("pendinginvoice.mark_failed_failed", zap.Error(err))
	}
	c.metrics.RecordPendingCharge(ctx, "failed")
	c.log.Warn("pendinginvoice.charge_failed",
		zap.String("invoice_id", inv.ID.String()),
		zap.Error(cause),
	)
	return cause
}
