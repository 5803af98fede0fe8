package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/memberhub/internal/invoice/domain"
	"github.com/smallbiznis/memberhub/internal/invoice/format"
	orgdomain "github.com/smallbiznis/memberhub/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/memberhub/internal/payment/domain"
	"github.com/smallbiznis/memberhub/internal/providers/email"
	"go.uber.org/zap"
)

const pdfContentType = "application/pdf"

func (s *Service) emailData(org *orgdomain.Organization, inv *invoicedomain.Invoice) map[string]any {
	number := ""
	if inv.Number != nil {
		number = fmt.Sprintf("%d", *inv.Number)
	}
	return map[string]any{
		"OrganizationName": org.Name,
		"InvoiceNumber":    number,
		"Price":            format.Price(inv.Data().PriceWithVAT()),
	}
}

// notifyAdmins mails the organization admins. Failures are logged, never returned.
func (s *Service) notifyAdmins(ctx context.Context, org *orgdomain.Organization, template string, data map[string]any, attachments ...email.Attachment) {
	admins, err := s.orgRepo.ListAdmins(ctx, org.ID)
	if err != nil {
		s.log.Error("invoice.email_recipients_failed", zap.String("organization_id", org.ID.String()), zap.Error(err))
		return
	}
	if len(admins) == 0 {
		return
	}
	to := make([]string, 0, len(admins))
	for _, admin := range admins {
		to = append(to, admin.Email)
	}

	msg, err := email.Render(template, to, data, attachments...)
	if err == nil {
		err = s.email.Send(ctx, msg)
	}
	if err != nil {
		s.log.Error("invoice.email_failed",
			zap.String("organization_id", org.ID.String()),
			zap.String("template", template),
			zap.Error(err),
		)
	}
}

func (s *Service) loadOrganization(ctx context.Context, orgID snowflake.ID) *orgdomain.Organization {
	org, err := s.orgRepo.FindByID(ctx, orgID)
	if err != nil {
		s.log.Error("invoice.organization_lookup_failed", zap.String("organization_id", orgID.String()), zap.Error(err))
		return nil
	}
	return org
}

func (s *Service) sendPaidEmail(ctx context.Context, orgID snowflake.ID, inv *invoicedomain.Invoice, document []byte) {
	org := s.loadOrganization(ctx, orgID)
	if org == nil {
		return
	}
	if document == nil {
		var err error
		document, err = s.renderDocument(ctx, inv)
		if err != nil {
			s.log.Error("invoice.pdf_failed", zap.String("invoice_id", inv.ID.String()), zap.Error(err))
		}
	}

	var attachments []email.Attachment
	if document != nil {
		attachments = append(attachments, email.Attachment{
			Filename:    s.filename(inv),
			ContentType: pdfContentType,
			Data:        document,
		})
	}
	s.notifyAdmins(ctx, org, email.TemplateInvoicePaid, s.emailData(org, inv), attachments...)
}

func (s *Service) sendFailedEmail(ctx context.Context, orgID snowflake.ID, inv *invoicedomain.Invoice, method paymentdomain.Method) {
	var template string
	switch method {
	case paymentdomain.MethodDirectDebit:
		template = email.TemplatePaymentFailed
	case paymentdomain.MethodTransfer:
		template = email.TemplateTransferFailed
	default:
		return
	}
	org := s.loadOrganization(ctx, orgID)
	if org == nil {
		return
	}
	s.notifyAdmins(ctx, org, template, s.emailData(org, inv))
}

// SendProForma mails the unnumbered invoice to the admins before collection.
func (s *Service) SendProForma(ctx context.Context, org *orgdomain.Organization, inv *invoicedomain.Invoice) {
	document, err := s.RenderProForma(ctx, inv)
	if err != nil {
		s.log.Error("invoice.proforma_failed", zap.String("invoice_id", inv.ID.String()), zap.Error(err))
		return
	}
	s.notifyAdmins(ctx, org, email.TemplateProFormaDirectDebit, s.emailData(org, inv), email.Attachment{
		Filename:    "pro-forma.pdf",
		ContentType: pdfContentType,
		Data:        document,
	})
}
