package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/billinglock"
	packagedomain "github.com/smallbiznis/memberhub/internal/billingpackage/domain"
	invoicedomain "github.com/smallbiznis/memberhub/internal/invoice/domain"
	"github.com/smallbiznis/memberhub/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/memberhub/internal/payment/domain"
	"github.com/smallbiznis/memberhub/internal/providers/email"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

func (s *Service) MarkFailed(ctx context.Context, inv *invoicedomain.Invoice, payment *paymentdomain.Payment, opts invoicedomain.MarkFailedOptions) error {
	ctx, span := tracing.StartSpan(ctx, "invoice.MarkFailed", attribute.String("invoice_id", inv.ID.String()))
	defer span.End()

	if inv.NegativeInvoiceID != nil {
		return nil
	}
	return s.withOwnerLock(ctx, inv, func(ctx context.Context, scope *billinglock.OrgScope) error {
		return s.markFailed(ctx, scope, inv, payment, opts)
	})
}

func (s *Service) markFailed(ctx context.Context, scope *billinglock.OrgScope, inv *invoicedomain.Invoice, payment *paymentdomain.Payment, opts invoicedomain.MarkFailedOptions) error {
	if fresh, err := s.repo.FindByID(ctx, s.db, inv.ID); err != nil {
		return err
	} else if fresh != nil {
		*inv = *fresh
	}
	if inv.NegativeInvoiceID != nil {
		return nil
	}

	now := s.clock.Now()
	orgID, owned := invoicedomain.OrganizationID(inv.Owner())

	if owned && opts.MarkFailed && payment != nil && payment.Method.FailureCountsAgainstPackages() {
		if err := s.markPackagesFailed(ctx, orgID, inv.Data(), now); err != nil {
			return err
		}
	}

	if owned {
		if err := s.pending.Unlock(ctx, *scope, inv); err != nil {
			return err
		}
	}

	if inv.CreditID != nil && inv.PaidAt == nil {
		if err := s.credits.Expire(ctx, *inv.CreditID, now.Add(-time.Second)); err != nil {
			return err
		}
	}

	if inv.Number == nil {
		if owned && payment != nil {
			s.sendFailedEmail(ctx, orgID, inv, payment.Method)
		}
	} else if err := s.UndoMarkPaid(ctx, inv, invoicedomain.UndoMarkPaidOptions{SendEmail: true}); err != nil {
		return err
	}

	if owned {
		if err := s.packages.UpdateOrganizationPackages(ctx, orgID); err != nil {
			return err
		}
	}

	s.metrics.RecordSettlement(ctx, "failed")
	s.log.Info("invoice.failed",
		zap.String("invoice_id", inv.ID.String()),
		zap.Bool("numbered", inv.Number != nil),
	)
	return nil
}

// markPackagesFailed stamps a failed payment on the packages of meta, or on
// every active package when the invoice did not reference any.
func (s *Service) markPackagesFailed(ctx context.Context, orgID snowflake.ID, meta invoicedomain.InvoiceMeta, now time.Time) error {
	var (
		pkgs []*packagedomain.Package
		err  error
	)
	if ids := meta.PackageIDs(); len(ids) > 0 {
		pkgs, err = s.packageRepo.FindByIDs(ctx, s.db, ids)
	} else {
		pkgs, err = s.packageRepo.ListActive(ctx, s.db, orgID, now)
	}
	if err != nil {
		return err
	}

	for _, pkg := range pkgs {
		pkg.UpdateMeta(func(m *packagedomain.PackageMeta) {
			m.PaymentFailedCount++
			if m.FirstFailedPayment == nil {
				failed := now
				m.FirstFailedPayment = &failed
			}
		})
		if err := s.packageRepo.Save(ctx, s.db, pkg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) UndoMarkPaid(ctx context.Context, inv *invoicedomain.Invoice, opts invoicedomain.UndoMarkPaidOptions) error {
	if inv.PaidAt == nil || inv.NegativeInvoiceID != nil || inv.PaymentID == nil {
		return nil
	}
	if inv.Data().PriceWithoutVAT() <= 0 {
		return nil
	}
	orgID, owned := invoicedomain.OrganizationID(inv.Owner())
	if !owned {
		return nil
	}

	return s.locks.WithOrganizationBillingLock(ctx, orgID, func(ctx context.Context, scope billinglock.OrgScope) error {
		// A concurrent reversal may have settled inv since the caller loaded it.
		fresh, err := s.repo.FindByID(ctx, s.db, inv.ID)
		if err != nil {
			return err
		}
		if fresh != nil {
			*inv = *fresh
		}
		if inv.PaidAt == nil || inv.NegativeInvoiceID != nil || inv.PaymentID == nil {
			return nil
		}

		org, err := s.orgRepo.FindByID(ctx, orgID)
		if err != nil {
			return err
		}
		if org == nil {
			s.log.Warn("invoice.undo_without_organization", zap.String("invoice_id", inv.ID.String()))
			return nil
		}
		payment, err := s.payments.Get(ctx, *inv.PaymentID)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}

		var requeue []invoicedomain.InvoiceItem
		for _, item := range inv.Data().Items {
			// Credit and discount lines are settled with the refund itself.
			if item.Price() < 0 && !item.CanUseCredits {
				continue
			}
			requeue = append(requeue, item)
		}
		if len(requeue) > 0 {
			if _, err := s.pending.AddItems(ctx, scope, org, requeue); err != nil {
				return err
			}
		}
		if err := s.packages.UpdateOrganizationPackages(ctx, orgID); err != nil {
			return err
		}

		if opts.SendEmail {
			template := email.TemplatePaymentReversed
			if payment.Method == paymentdomain.MethodTransfer {
				template = email.TemplateTransferFailed
			}
			s.notifyAdmins(ctx, org, template, s.emailData(org, inv))
		}

		if _, err := s.CreateRefundInvoice(ctx, inv); err != nil {
			return err
		}
		s.metrics.RecordSettlement(ctx, "reversed")
		return nil
	})
}

// CreateRefundInvoice creates and pays the credit note of inv once. Later calls
// return the existing credit note.
func (s *Service) CreateRefundInvoice(ctx context.Context, inv *invoicedomain.Invoice) (*invoicedomain.Invoice, error) {
	if inv.NegativeInvoiceID != nil {
		return s.Get(ctx, *inv.NegativeInvoiceID)
	}

	var refund *invoicedomain.Invoice
	err := s.withOwnerLock(ctx, inv, func(ctx context.Context, _ *billinglock.OrgScope) error {
		fresh, err := s.repo.FindByID(ctx, s.db, inv.ID)
		if err != nil {
			return err
		}
		if fresh != nil && fresh.NegativeInvoiceID != nil {
			inv.NegativeInvoiceID = fresh.NegativeInvoiceID
			refund, err = s.Get(ctx, *fresh.NegativeInvoiceID)
			return err
		}

		meta := inv.Data()
		meta.Date = nil
		meta.PDF = nil
		items := make([]invoicedomain.InvoiceItem, 0, len(meta.Items))
		for _, item := range meta.Items {
			item.ID = invoicedomain.NewItemID()
			item.UnitPrice = -item.UnitPrice
			items = append(items, item)
		}
		meta.Items = items

		refund = &invoicedomain.Invoice{
			ID:             s.genID.Generate(),
			OrganizationID: inv.OrganizationID,
			PaymentID:      inv.PaymentID,
			Meta:           datatypes.NewJSONType(meta),
		}
		if err := s.repo.Insert(ctx, s.db, refund); err != nil {
			return err
		}
		if err := s.MarkPaid(ctx, refund, invoicedomain.MarkPaidOptions{SendEmail: false}); err != nil {
			return err
		}

		inv.NegativeInvoiceID = &refund.ID
		if err := s.repo.Save(ctx, s.db, inv); err != nil {
			return err
		}

		s.metrics.RecordSettlement(ctx, "refunded")
		s.log.Info("invoice.refunded",
			zap.String("invoice_id", inv.ID.String()),
			zap.String("refund_id", refund.ID.String()),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refund, nil
}
