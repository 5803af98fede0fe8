package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	orgdomain "github.com/smallbiznis/memberhub/internal/organization/domain"
)

// File references a generated document in object storage.
type File struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

type InvoiceMeta struct {
	// Date is set when the invoice receives its number.
	Date *time.Time `json:"date,omitempty"`
	PDF  *File      `json:"pdf,omitempty"`

	VATPercentage int           `json:"VATPercentage"`
	Items         []InvoiceItem `json:"items"`

	// AreItemsIncludingVAT marks item prices as VAT inclusive.
	AreItemsIncludingVAT bool `json:"areItemsIncludingVAT"`

	CompanyName      string            `json:"companyName"`
	CompanyContact   string            `json:"companyContact"`
	CompanyAddress   orgdomain.Address `json:"companyAddress"`
	CompanyVATNumber *string           `json:"companyVATNumber"`
	CompanyNumber    *string           `json:"companyNumber"`
}

func (m InvoiceMeta) itemPrice() int64 {
	var total int64
	for _, item := range m.Items {
		total += item.Price()
	}
	return total
}

// VAT is rounded once on the invoice total, never per line.
func (m InvoiceMeta) VAT() int64 {
	price := decimal.NewFromInt(m.itemPrice())
	vat := decimal.NewFromInt(int64(m.VATPercentage))
	if m.AreItemsIncludingVAT {
		return price.Mul(vat).Div(vat.Add(decimal.NewFromInt(100))).Round(0).IntPart()
	}
	return price.Mul(vat).Div(decimal.NewFromInt(100)).Round(0).IntPart()
}

func (m InvoiceMeta) PriceWithoutVAT() int64 {
	if m.AreItemsIncludingVAT {
		return m.itemPrice() - m.VAT()
	}
	return m.itemPrice()
}

func (m InvoiceMeta) PriceWithVAT() int64 {
	if m.AreItemsIncludingVAT {
		return m.itemPrice()
	}
	return m.itemPrice() + m.VAT()
}

// CreditablePrice is the positive total of lines that credits may cover.
func (m InvoiceMeta) CreditablePrice() int64 {
	var total int64
	for _, item := range m.Items {
		if item.CanUseCredits && item.Price() > 0 {
			total += item.Price()
		}
	}
	return total
}

// PackageIDs lists the distinct packages referenced by the items, in item order.
func (m InvoiceMeta) PackageIDs() []snowflake.ID {
	seen := make(map[snowflake.ID]struct{})
	var ids []snowflake.ID
	for _, item := range m.Items {
		id, ok := item.PackageID()
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// homeCountry is where the platform itself is VAT registered.
const homeCountry = "BE"

var euCountries = map[string]struct{}{
	"AT": {}, "BE": {}, "BG": {}, "CY": {}, "CZ": {}, "DE": {}, "DK": {}, "EE": {}, "ES": {},
	"FI": {}, "FR": {}, "GR": {}, "HR": {}, "HU": {}, "IE": {}, "IT": {}, "LT": {}, "LU": {},
	"LV": {}, "MT": {}, "NL": {}, "PL": {}, "PT": {}, "RO": {}, "SE": {}, "SI": {}, "SK": {},
}

// VATPercentageFor returns zero for VAT registered companies in another EU
// country (reverse charge) and defaultVAT otherwise.
func VATPercentageFor(company orgdomain.Company, defaultVAT int) int {
	country := strings.ToUpper(strings.TrimSpace(company.Address.Country))
	if company.VATNumber == nil || strings.TrimSpace(*company.VATNumber) == "" {
		return defaultVAT
	}
	if country == homeCountry {
		return defaultVAT
	}
	if _, ok := euCountries[country]; ok {
		return 0
	}
	return defaultVAT
}

// SetCompany copies the billing contact of an organization onto the meta.
func (m *InvoiceMeta) SetCompany(name string, company orgdomain.Company, defaultVAT int) {
	m.CompanyName = company.Name
	if m.CompanyName == "" {
		m.CompanyName = name
	}
	m.CompanyContact = company.Contact
	m.CompanyAddress = company.Address
	m.CompanyVATNumber = company.VATNumber
	m.CompanyNumber = company.CompanyNumber
	m.VATPercentage = VATPercentageFor(company, defaultVAT)
}
