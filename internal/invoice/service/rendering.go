package service

import (
	"context"
	"fmt"
	"strings"

	invoicedomain "github.com/smallbiznis/memberhub/internal/invoice/domain"
	"github.com/smallbiznis/memberhub/internal/invoice/format"
	"github.com/smallbiznis/memberhub/internal/providers/pdf"
	"go.uber.org/zap"
)

// GeneratePDF renders the invoice, stores the file and records it on the meta.
// Unnumbered invoices are rendered as pro forma and not stored.
func (s *Service) GeneratePDF(ctx context.Context, inv *invoicedomain.Invoice) ([]byte, error) {
	if inv.Number == nil {
		return s.RenderProForma(ctx, inv)
	}

	data, err := s.renderDocument(ctx, inv)
	if err != nil {
		return nil, err
	}
	obj, err := s.storage.Upload(ctx, s.filename(inv), pdfContentType, data)
	if err != nil {
		return nil, err
	}

	inv.UpdateMeta(func(meta *invoicedomain.InvoiceMeta) {
		meta.PDF = &invoicedomain.File{ID: obj.ID, URL: obj.URL, Size: obj.Size}
	})
	if err := s.repo.Save(ctx, s.db, inv); err != nil {
		return nil, err
	}

	s.log.Debug("invoice.pdf_stored",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("file_id", obj.ID),
		zap.Int64("size", obj.Size),
	)
	return data, nil
}

func (s *Service) RenderProForma(ctx context.Context, inv *invoicedomain.Invoice) ([]byte, error) {
	return s.renderDocument(ctx, inv)
}

func (s *Service) renderDocument(ctx context.Context, inv *invoicedomain.Invoice) ([]byte, error) {
	return s.pdf.RenderInvoice(ctx, s.document(inv))
}

func (s *Service) filename(inv *invoicedomain.Invoice) string {
	if inv.Number == nil {
		return "pro-forma.pdf"
	}
	return fmt.Sprintf("factuur-%d.pdf", *inv.Number)
}

func (s *Service) document(inv *invoicedomain.Invoice) pdf.Document {
	meta := inv.Data()

	doc := pdf.Document{
		Title:           "Pro forma",
		SellerName:      s.platformName,
		CustomerName:    meta.CompanyName,
		CustomerContact: meta.CompanyContact,
		Subtotal:        format.Price(meta.PriceWithoutVAT()),
		VATLabel:        fmt.Sprintf("BTW %d%%", meta.VATPercentage),
		VAT:             format.Price(meta.VAT()),
		Total:           format.Price(meta.PriceWithVAT()),
		ReverseCharge:   meta.VATPercentage == 0 && meta.CompanyVATNumber != nil,
	}
	if inv.Number != nil {
		doc.Title = "Factuur"
		if meta.PriceWithoutVAT() < 0 {
			doc.Title = "Creditnota"
		}
		doc.Number = fmt.Sprintf("%d", *inv.Number)
	}
	if meta.Date != nil {
		doc.Date = format.Date(*meta.Date)
	} else if inv.PaidAt != nil {
		doc.Date = format.Date(*inv.PaidAt)
	}

	addr := meta.CompanyAddress
	if addr.Street != "" {
		doc.CustomerAddress = append(doc.CustomerAddress, addr.Street)
	}
	if city := strings.TrimSpace(addr.PostalCode + " " + addr.City); city != "" {
		doc.CustomerAddress = append(doc.CustomerAddress, city)
	}
	if addr.Country != "" {
		doc.CustomerAddress = append(doc.CustomerAddress, addr.Country)
	}
	if meta.CompanyVATNumber != nil {
		doc.CustomerVAT = *meta.CompanyVATNumber
	}
	if meta.CompanyNumber != nil {
		doc.CustomerNumber = *meta.CompanyNumber
	}

	for _, item := range meta.Items {
		doc.Lines = append(doc.Lines, pdf.Line{
			Name:        item.Name,
			Description: item.Description,
			Amount:      item.Amount,
			UnitPrice:   format.Price(item.UnitPrice),
			Price:       format.Price(item.Price()),
		})
	}
	return doc
}
