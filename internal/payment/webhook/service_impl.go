package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/billinglock"
	"github.com/smallbiznis/memberhub/internal/clock"
	invoicedomain "github.com/smallbiznis/memberhub/internal/invoice/domain"
	"github.com/smallbiznis/memberhub/internal/observability/metrics"
	"github.com/smallbiznis/memberhub/internal/payment/adapters/mollie"
	paymentdomain "github.com/smallbiznis/memberhub/internal/payment/domain"
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
	Locks       *billinglock.Locks
	Repo        paymentdomain.Repository
	Payments    paymentdomain.Service
	InvoiceRepo invoicedomain.Repository
	Invoices    invoicedomain.Service
	Mollie      mollie.Client
	Metrics     *metrics.Metrics `optional:"true"`
}

// Service settles invoices from Mollie payment status callbacks. Mollie only
// posts the payment id, so the status is always fetched from the API.
type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	locks *billinglock.Locks

	repo        paymentdomain.Repository
	payments    paymentdomain.Service
	invoiceRepo invoicedomain.Repository
	invoices    invoicedomain.Service
	mollie      mollie.Client
	metrics     *metrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("payment.webhook"),
		genID: p.GenID,
		clock: p.Clock,
		locks: p.Locks,

		repo:        p.Repo,
		payments:    p.Payments,
		invoiceRepo: p.InvoiceRepo,
		invoices:    p.Invoices,
		mollie:      p.Mollie,
		metrics:     p.Metrics,
	}
}

// EventTypeFor classifies a Mollie payment. An empty result means the payment
// is still in flight.
func EventTypeFor(remote *mollie.Payment) string {
	switch remote.Status {
	case mollie.StatusPaid:
		if remote.ChargedBack() {
			return paymentdomain.EventTypeChargedBack
		}
		return paymentdomain.EventTypePaymentSucceeded
	case mollie.StatusFailed, mollie.StatusCanceled, mollie.StatusExpired:
		return paymentdomain.EventTypePaymentFailed
	default:
		return ""
	}
}

func (s *Service) HandleMollieWebhook(ctx context.Context, providerPaymentID string) error {
	providerPaymentID = strings.TrimSpace(providerPaymentID)
	if providerPaymentID == "" {
		return paymentdomain.ErrInvalidEvent
	}

	remote, err := s.mollie.GetPayment(ctx, providerPaymentID)
	if err != nil {
		return fmt.Errorf("%w: %v", paymentdomain.ErrProviderFailure, err)
	}

	payment, err := s.payments.FindByProviderID(ctx, paymentdomain.ProviderMollie, providerPaymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		s.log.Warn("payment.webhook_unknown_payment", zap.String("provider_id", providerPaymentID))
		return nil
	}

	eventType := EventTypeFor(remote)
	if eventType == "" {
		return nil
	}

	payload, err := json.Marshal(remote)
	if err != nil {
		return err
	}
	event := &paymentdomain.EventRecord{
		ID:                s.genID.Generate(),
		PaymentID:         payment.ID,
		Provider:          paymentdomain.ProviderMollie,
		ProviderPaymentID: providerPaymentID,
		EventType:         eventType,
		Payload:           datatypes.JSON(payload),
		ReceivedAt:        s.clock.Now(),
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, event)
	if err != nil {
		return err
	}
	if !inserted {
		existing, err := s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderPaymentID, event.EventType)
		if err != nil {
			return err
		}
		if existing == nil || existing.ProcessedAt != nil {
			return nil
		}
		event = existing
	}
	s.metrics.RecordPaymentEvent(ctx, paymentdomain.ProviderMollie, eventType)

	process := func(ctx context.Context) error {
		return s.apply(ctx, payment, remote, eventType)
	}
	if payment.OrganizationID != nil {
		err = s.locks.WithOrganizationBillingLock(ctx, *payment.OrganizationID, func(ctx context.Context, _ billinglock.OrgScope) error {
			return process(ctx)
		})
	} else {
		err = process(ctx)
	}
	if err != nil {
		return err
	}
	return s.repo.MarkProcessed(ctx, s.db, event.ID, s.clock.Now())
}

func (s *Service) apply(ctx context.Context, payment *paymentdomain.Payment, remote *mollie.Payment, eventType string) error {
	log := s.log.With(
		zap.String("payment_id", payment.ID.String()),
		zap.String("provider_id", remote.ID),
		zap.String("event_type", eventType),
	)

	inv, err := s.invoiceRepo.FindByPaymentID(ctx, s.db, payment.ID)
	if err != nil {
		return err
	}

	if method := mollie.MethodFor(remote.Method); method != paymentdomain.MethodUnknown {
		payment.Method = method
	}

	switch eventType {
	case paymentdomain.EventTypePaymentSucceeded:
		paidAt := s.clock.Now()
		if remote.PaidAt != nil {
			paidAt = remote.PaidAt.UTC()
		}
		payment.Status = paymentdomain.StatusSucceeded
		payment.PaidAt = &paidAt
		if err := s.payments.Save(ctx, payment); err != nil {
			return err
		}
		if payment.OrganizationID != nil && remote.CustomerID != "" {
			if err := s.payments.LinkMollieCustomer(ctx, *payment.OrganizationID, remote.CustomerID); err != nil {
				log.Error("payment.link_customer_failed", zap.Error(err))
			}
		}
		if inv == nil {
			log.Warn("payment.webhook_without_invoice")
			return nil
		}
		return s.invoices.MarkPaid(ctx, inv, invoicedomain.MarkPaidOptions{SendEmail: true})

	case paymentdomain.EventTypePaymentFailed, paymentdomain.EventTypeChargedBack:
		payment.Status = paymentdomain.StatusFailed
		if err := s.payments.Save(ctx, payment); err != nil {
			return err
		}
		if inv == nil {
			log.Warn("payment.webhook_without_invoice")
			return nil
		}
		return s.invoices.MarkFailed(ctx, inv, payment, invoicedomain.MarkFailedOptions{MarkFailed: true})
	}
	return nil
}
