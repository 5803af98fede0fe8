package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/billingerror"
	"github.com/smallbiznis/memberhub/internal/billinglock"
	packagedomain "github.com/smallbiznis/memberhub/internal/billingpackage/domain"
	invoicedomain "github.com/smallbiznis/memberhub/internal/invoice/domain"
	orgdomain "github.com/smallbiznis/memberhub/internal/organization/domain"
	"gorm.io/gorm"
)

var (
	ErrNoPendingInvoice = billingerror.New("no_pending_invoice", "nothing to charge", "Er is niets om aan te rekenen.")
	ErrPaymentPending   = billingerror.New("payment_pending", "a payment is still in progress", "Er is al een betaling in behandeling. Wacht tot die verwerkt is.")
	ErrNoMollieCustomer = billingerror.New("no_mollie_customer", "no payment method on file", "Er is nog geen betaalmethode gekoppeld aan deze vereniging.")
	ErrNoMandate        = billingerror.New("no_mandate", "no valid mandate", "Er is geen geldige domiciliëring of kaart gekoppeld.")
)

type Repository interface {
	FindByOrganization(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*PendingInvoice, error)
	FindByInvoiceID(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (*PendingInvoice, error)
	Insert(ctx context.Context, db *gorm.DB, pending *PendingInvoice) error
	Save(ctx context.Context, db *gorm.DB, pending *PendingInvoice) error
	// ListChargeable returns organizations with an unlocked pending invoice.
	ListChargeable(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error)
}

// Service mutates pending invoices. Every mutation takes the organization
// scope, so it can only run inside the organization billing lock.
type Service interface {
	Get(ctx context.Context, orgID snowflake.ID) (*PendingInvoice, error)
	AddItems(ctx context.Context, scope billinglock.OrgScope, org *orgdomain.Organization, items []invoicedomain.InvoiceItem) (*PendingInvoice, error)
	// CreateItems computes the items the active packages of orgID still need. Nothing is stored.
	CreateItems(ctx context.Context, orgID snowflake.ID, pending *PendingInvoice) ([]invoicedomain.InvoiceItem, error)
	// Queue runs CreateItems and AddItems inside the organization billing lock.
	Queue(ctx context.Context, orgID snowflake.ID) (*PendingInvoice, error)
	// AddPackage bills pkg right away, whether or not it is active yet. A
	// package with nothing to bill is activated instead.
	AddPackage(ctx context.Context, pkg *packagedomain.Package) (*PendingInvoice, error)
	// Renew stores the successor of the package and bills it with AddPackage.
	Renew(ctx context.Context, packageID snowflake.ID) (*RenewResult, error)
	// Settle strips the items of a paid invoice and unlocks the row when it waited on it.
	Settle(ctx context.Context, scope billinglock.OrgScope, inv *invoicedomain.Invoice) error
	// Unlock releases the row when it waits on inv and refreshes package snapshots.
	Unlock(ctx context.Context, scope billinglock.OrgScope, inv *invoicedomain.Invoice) error
	// Lock reserves the row for invoiceID. It fails with ErrPaymentPending while
	// another invoice holds it.
	Lock(ctx context.Context, scope billinglock.OrgScope, pending *PendingInvoice, invoiceID snowflake.ID) error
}

type RenewResult struct {
	Package *packagedomain.Package
	Pending *PendingInvoice
}

type ChargeResult struct {
	Invoice     *invoicedomain.Invoice
	CheckoutURL string
}

// Charger converts the pending invoice of an organization into a collected invoice.
type Charger interface {
	Charge(ctx context.Context, scope billinglock.OrgScope, org *orgdomain.Organization) (*ChargeResult, error)
	// ChargeOrganization acquires the organization billing lock and charges.
	ChargeOrganization(ctx context.Context, orgID snowflake.ID) (*ChargeResult, error)
}
