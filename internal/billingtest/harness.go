// Package billingtest wires the billing services against an in-memory
// database for package tests.
package billingtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/memberhub/internal/billinglock"
	packagedomain "github.com/smallbiznis/memberhub/internal/billingpackage/domain"
	packagerepository "github.com/smallbiznis/memberhub/internal/billingpackage/repository"
	packageservice "github.com/smallbiznis/memberhub/internal/billingpackage/service"
	"github.com/smallbiznis/memberhub/internal/clock"
	"github.com/smallbiznis/memberhub/internal/config"
	creditdomain "github.com/smallbiznis/memberhub/internal/credit/domain"
	creditrepository "github.com/smallbiznis/memberhub/internal/credit/repository"
	creditservice "github.com/smallbiznis/memberhub/internal/credit/service"
	invoicedomain "github.com/smallbiznis/memberhub/internal/invoice/domain"
	invoicerepository "github.com/smallbiznis/memberhub/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/memberhub/internal/invoice/service"
	orgdomain "github.com/smallbiznis/memberhub/internal/organization/domain"
	orgrepository "github.com/smallbiznis/memberhub/internal/organization/repository"
	"github.com/smallbiznis/memberhub/internal/payment/adapters/mollie"
	paymentdomain "github.com/smallbiznis/memberhub/internal/payment/domain"
	paymentrepository "github.com/smallbiznis/memberhub/internal/payment/repository"
	paymentservice "github.com/smallbiznis/memberhub/internal/payment/service"
	pendingdomain "github.com/smallbiznis/memberhub/internal/pendinginvoice/domain"
	pendingrepository "github.com/smallbiznis/memberhub/internal/pendinginvoice/repository"
	pendingservice "github.com/smallbiznis/memberhub/internal/pendinginvoice/service"
	"github.com/smallbiznis/memberhub/internal/providers/email"
	"github.com/smallbiznis/memberhub/internal/providers/pdf"
	"github.com/smallbiznis/memberhub/internal/providers/storage"
	referraldomain "github.com/smallbiznis/memberhub/internal/referral/domain"
	referralrepository "github.com/smallbiznis/memberhub/internal/referral/repository"
	referralservice "github.com/smallbiznis/memberhub/internal/referral/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Start is the fixed time every harness clock starts at.
var Start = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type Harness struct {
	DB    *gorm.DB
	Clock *clock.FakeClock
	Node  *snowflake.Node
	Locks *billinglock.Locks

	Outbox  *email.Recorder
	Storage *storage.Memory
	Mollie  *FakeMollie

	OrgRepo     orgdomain.Repository
	PackageRepo packagedomain.Repository
	InvoiceRepo invoicedomain.Repository
	PendingRepo pendingdomain.Repository

	Packages  packagedomain.Service
	Pending   pendingdomain.Service
	Charger   pendingdomain.Charger
	Invoices  invoicedomain.Service
	Credits   creditdomain.Service
	Payments  paymentdomain.Service
	Referrals referraldomain.Service

	Org *orgdomain.Organization
}

func New(t *testing.T) *Harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&orgdomain.Organization{},
		&orgdomain.Admin{},
		&orgdomain.Member{},
		&packagedomain.Package{},
		&invoicedomain.Invoice{},
		&pendingdomain.PendingInvoice{},
		&creditdomain.Credit{},
		&paymentdomain.Payment{},
		&paymentdomain.MollieCustomer{},
		&paymentdomain.EventRecord{},
		&referraldomain.RegisterCode{},
		&referraldomain.UsedRegisterCode{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zaptest.NewLogger(t)
	billing := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	cfg := config.Config{
		PlatformName:    "Memberhub",
		DashboardDomain: "dashboard.test",
		Mollie: config.MollieConfig{
			RedirectURL: "https://dashboard.test/settings/billing",
			WebhookURL:  "https://api.test/webhooks/mollie",
		},
	}

	h := &Harness{
		DB:          db,
		Clock:       clock.NewFakeClock(Start),
		Node:        node,
		Locks:       billinglock.NewLocks(billinglock.NewLocalLocker(), log),
		Outbox:      &email.Recorder{},
		Storage:     storage.NewMemory("https://files.test"),
		Mollie:      NewFakeMollie(),
		OrgRepo:     orgrepository.NewRepository(db),
		PackageRepo: packagerepository.Provide(),
		InvoiceRepo: invoicerepository.Provide(),
		PendingRepo: pendingrepository.Provide(),
	}

	h.Payments = paymentservice.NewService(paymentservice.Params{
		DB: db, Log: log, GenID: node, Clock: h.Clock, Repo: paymentrepository.Provide(),
	})
	h.Credits = creditservice.NewService(creditservice.Params{
		DB: db, Log: log, GenID: node, Clock: h.Clock, Repo: creditrepository.Provide(),
	})
	h.Referrals = referralservice.NewService(referralservice.Params{
		DB: db, Log: log, GenID: node, Clock: h.Clock,
		Repo: referralrepository.Provide(), Credits: h.Credits, Billing: billing,
	})
	h.Packages = packageservice.NewService(packageservice.Params{
		DB: db, Log: log, GenID: node, Clock: h.Clock,
		Repo: h.PackageRepo, OrgRepo: h.OrgRepo, Bootstrapper: orgdomain.NoopGroupBootstrapper{},
		Email: h.Outbox, Billing: billing, Cfg: cfg,
	})
	h.Pending = pendingservice.NewService(pendingservice.Params{
		DB: db, Log: log, GenID: node, Clock: h.Clock,
		Repo: h.PendingRepo, OrgRepo: h.OrgRepo, PackageRepo: h.PackageRepo,
		Packages: h.Packages, Locks: h.Locks, Billing: billing,
	})
	h.Invoices = invoiceservice.NewService(invoiceservice.Params{
		DB: db, Log: log, GenID: node, Clock: h.Clock, Cfg: cfg, Billing: billing,
		Locks: h.Locks, Repo: h.InvoiceRepo,
		OrgRepo: h.OrgRepo, PackageRepo: h.PackageRepo, Packages: h.Packages,
		Pending: h.Pending, Credits: h.Credits, Payments: h.Payments, Referrals: h.Referrals,
		Email: h.Outbox, PDF: StubRenderer{}, Storage: h.Storage,
	})
	h.Charger = pendingservice.NewCharger(pendingservice.ChargerParams{
		DB: db, Log: log, Clock: h.Clock, Cfg: cfg, Billing: billing, Locks: h.Locks,
		Repo: h.PendingRepo, Pending: h.Pending, OrgRepo: h.OrgRepo, Invoices: h.Invoices,
		Credits: h.Credits, Payments: h.Payments, Mollie: h.Mollie,
	})

	h.Org = h.NewOrganization(t, "KSA Noord")
	return h
}

// NewOrganization stores an organization with one admin.
func (h *Harness) NewOrganization(t *testing.T, name string) *orgdomain.Organization {
	t.Helper()
	org := &orgdomain.Organization{
		ID:   h.Node.Generate(),
		Name: name,
		Meta: datatypes.NewJSONType(orgdomain.Meta{Company: orgdomain.Company{
			Name:    name + " vzw",
			Address: orgdomain.Address{Street: "Kerkstraat 1", PostalCode: "9000", City: "Gent", Country: "BE"},
		}}),
		PrivateMeta: datatypes.NewJSONType(orgdomain.PrivateMeta{}),
		ServerMeta:  datatypes.NewJSONType(orgdomain.ServerMeta{}),
	}
	ctx := context.Background()
	require.NoError(t, h.OrgRepo.Create(ctx, org))
	require.NoError(t, h.DB.Create(&orgdomain.Admin{
		ID:             h.Node.Generate(),
		OrganizationID: org.ID,
		Email:          "admin@" + fmt.Sprint(org.ID) + ".test",
	}).Error)
	return org
}

// AddMembers stores n active members for org.
func (h *Harness) AddMembers(t *testing.T, org *orgdomain.Organization, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, h.DB.Create(&orgdomain.Member{
			ID:             h.Node.Generate(),
			OrganizationID: org.ID,
			Active:         true,
		}).Error)
	}
}

// NewPackage stores and activates a package that started at the harness start.
func (h *Harness) NewPackage(t *testing.T, org *orgdomain.Organization, meta packagedomain.PackageMeta) *packagedomain.Package {
	t.Helper()
	if meta.StartDate.IsZero() {
		meta.StartDate = Start
	}
	pkg := &packagedomain.Package{
		OrganizationID: org.ID,
		Meta:           datatypes.NewJSONType(meta),
	}
	ctx := context.Background()
	require.NoError(t, h.Packages.Create(ctx, pkg))
	require.NoError(t, h.Packages.Activate(ctx, pkg))
	return pkg
}

// MembersPackage is a per-member package at unitPrice with minimum amount one.
func MembersPackage(unitPrice int64) packagedomain.PackageMeta {
	return packagedomain.PackageMeta{
		Type:          packagedomain.PackageTypeMembers,
		PricingType:   packagedomain.PricingTypePerMember,
		UnitPrice:     unitPrice,
		MinimumAmount: 1,
		AllowRenew:    true,
	}
}

// LinkMollie gives org a Mollie customer with one valid mandate of method.
func (h *Harness) LinkMollie(t *testing.T, org *orgdomain.Organization, method string) string {
	t.Helper()
	customerID := "cst_" + org.ID.String()
	require.NoError(t, h.Payments.LinkMollieCustomer(context.Background(), org.ID, customerID))
	h.Mollie.SetMandates(customerID, mollie.Mandate{
		ID:        "mdt_" + org.ID.String(),
		Status:    mollie.MandateValid,
		Method:    method,
		CreatedAt: Start.Add(-24 * time.Hour),
	})
	return customerID
}

// Invoice reloads an invoice from storage.
func (h *Harness) Invoice(t *testing.T, id snowflake.ID) *invoicedomain.Invoice {
	t.Helper()
	inv, err := h.InvoiceRepo.FindByID(context.Background(), h.DB, id)
	require.NoError(t, err)
	require.NotNil(t, inv)
	return inv
}

// Package reloads a package from storage.
func (h *Harness) Package(t *testing.T, id snowflake.ID) *packagedomain.Package {
	t.Helper()
	pkg, err := h.PackageRepo.FindByID(context.Background(), h.DB, id)
	require.NoError(t, err)
	require.NotNil(t, pkg)
	return pkg
}

// PendingFor reloads the pending invoice of org. Nil when there is none.
func (h *Harness) PendingFor(t *testing.T, org *orgdomain.Organization) *pendingdomain.PendingInvoice {
	t.Helper()
	pending, err := h.PendingRepo.FindByOrganization(context.Background(), h.DB, org.ID)
	require.NoError(t, err)
	return pending
}

// StubRenderer returns a fixed document.
type StubRenderer struct{}

func (StubRenderer) RenderInvoice(ctx context.Context, doc pdf.Document) ([]byte, error) {
	return []byte("%PDF-1.7 " + doc.Title + " " + doc.Number), nil
}

// FakeMollie records created payments and serves configured mandates.
type FakeMollie struct {
	mu       sync.Mutex
	seq      int
	mandates map[string][]mollie.Mandate
	payments map[string]*mollie.Payment
	Created  []mollie.CreatePaymentRequest
	Err      error
}

func NewFakeMollie() *FakeMollie {
	return &FakeMollie{
		mandates: map[string][]mollie.Mandate{},
		payments: map[string]*mollie.Payment{},
	}
}

func (f *FakeMollie) SetMandates(customerID string, mandates ...mollie.Mandate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mandates[customerID] = mandates
}

func (f *FakeMollie) CreatePayment(ctx context.Context, req mollie.CreatePaymentRequest) (*mollie.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.seq++
	payment := &mollie.Payment{
		ID:         fmt.Sprintf("tr_test%d", f.seq),
		Status:     mollie.StatusOpen,
		Method:     req.Method,
		Amount:     req.Amount,
		CustomerID: req.CustomerID,
		MandateID:  req.MandateID,
		Metadata:   req.Metadata,
	}
	f.Created = append(f.Created, req)
	f.payments[payment.ID] = payment
	return payment, nil
}

func (f *FakeMollie) GetPayment(ctx context.Context, id string) (*mollie.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	payment, ok := f.payments[id]
	if !ok {
		return nil, &mollie.Error{StatusCode: 404, Title: "Not Found"}
	}
	return payment, nil
}

func (f *FakeMollie) ListMandates(ctx context.Context, customerID string) ([]mollie.Mandate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return f.mandates[customerID], nil
}

// SetStatus changes the remote status of a created payment.
func (f *FakeMollie) SetStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if payment, ok := f.payments[id]; ok {
		payment.Status = status
	}
}
