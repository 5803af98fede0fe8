package email

import (
	"bytes"
	"fmt"
	"text/template"
)

// Template names for billing and DNS notices.
const (
	TemplateInvoicePaid         = "invoice_paid"
	TemplateProFormaDirectDebit = "proforma_direct_debit"
	TemplatePaymentFailed       = "payment_failed"
	TemplateTransferFailed      = "transfer_failed"
	TemplatePaymentReversed     = "payment_reversed"
	TemplatePackageExpiring     = "package_expiring"
	TemplateMailDomainActive    = "mail_domain_active"
	TemplateDNSInvalid          = "dns_invalid"
	TemplateDNSInvalidRepeat    = "dns_invalid_repeat"
)

type textTemplate struct {
	subject *template.Template
	body    *template.Template
}

var templates = map[string]textTemplate{
	TemplateInvoicePaid: parse(
		"Factuur {{.InvoiceNumber}} voor {{.OrganizationName}}",
		"Bedankt voor je betaling van {{.Price}}. In bijlage vind je factuur {{.InvoiceNumber}}.\n",
	),
	TemplateProFormaDirectDebit: parse(
		"Domiciliëring voor {{.OrganizationName}}",
		"We zullen binnenkort {{.Price}} via domiciliëring innen. In bijlage vind je het overzicht.\n",
	),
	TemplatePaymentFailed: parse(
		"Betaling mislukt voor {{.OrganizationName}}",
		"De domiciliëring van {{.Price}} is mislukt. Controleer je betaalgegevens om je pakketten actief te houden.\n",
	),
	TemplateTransferFailed: parse(
		"Overschrijving niet ontvangen voor {{.OrganizationName}}",
		"We hebben je overschrijving van {{.Price}} niet ontvangen. Betaal opnieuw om je pakketten actief te houden.\n",
	),
	TemplatePaymentReversed: parse(
		"Betaling teruggedraaid voor {{.OrganizationName}}",
		"Je betaling van {{.Price}} werd teruggedraaid. Er werd een creditnota aangemaakt en de kosten staan opnieuw open.\n",
	),
	TemplatePackageExpiring: parse(
		"{{.PackageName}} vervalt op {{.ValidUntil}}",
		"Het pakket {{.PackageName}} van {{.OrganizationName}} vervalt op {{.ValidUntil}}. Verleng het via {{.RenewURL}}.\n",
	),
	TemplateMailDomainActive: parse(
		"Je e-maildomein {{.Domain}} is actief",
		"Alle DNS-records voor {{.Domain}} zijn correct ingesteld. E-mails van {{.OrganizationName}} worden nu vanaf dit domein verstuurd.\n",
	),
	TemplateDNSInvalid: parse(
		"DNS-records van {{.Domain}} zijn ongeldig",
		"Sommige DNS-records voor {{.Domain}} zijn niet (meer) correct. Tot dit opgelost is versturen we e-mails vanaf ons eigen domein.\n",
	),
	TemplateDNSInvalidRepeat: parse(
		"Herinnering: DNS-records van {{.Domain}} zijn nog steeds ongeldig",
		"De DNS-records voor {{.Domain}} zijn nog steeds niet correct. Kijk je instellingen na.\n",
	),
}

func parse(subject, body string) textTemplate {
	return textTemplate{
		subject: template.Must(template.New("subject").Parse(subject)),
		body:    template.Must(template.New("body").Parse(body)),
	}
}

// Render builds a message from a named template.
func Render(name string, to []string, data any, attachments ...Attachment) (Message, error) {
	tmpl, ok := templates[name]
	if !ok {
		return Message{}, fmt.Errorf("unknown email template %q", name)
	}
	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := tmpl.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render %s body: %w", name, err)
	}
	return Message{
		To:          to,
		Subject:     subject.String(),
		Text:        body.String(),
		Attachments: attachments,
	}, nil
}
