package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/billinglock"
	orgdomain "github.com/smallbiznis/memberhub/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/memberhub/internal/payment/domain"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindByPaymentID(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (*Invoice, error)
	Insert(ctx context.Context, db *gorm.DB, inv *Invoice) error
	Save(ctx context.Context, db *gorm.DB, inv *Invoice) error
	// MaxNumber reads the highest assigned number from storage. Zero when none.
	MaxNumber(ctx context.Context, db *gorm.DB) (int64, error)
}

type MarkPaidOptions struct {
	SendEmail bool
}

type MarkFailedOptions struct {
	// MarkFailed stamps payment failures on the referenced packages.
	MarkFailed bool
}

type UndoMarkPaidOptions struct {
	SendEmail bool
}

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Invoice, error)
	// CreateFor builds an unsaved draft for org with a company snapshot.
	CreateFor(ctx context.Context, org *orgdomain.Organization, items []InvoiceItem) (*Invoice, error)
	Insert(ctx context.Context, inv *Invoice) error
	Save(ctx context.Context, inv *Invoice) error
	AssignNextNumber(ctx context.Context, scope billinglock.NumberingScope, inv *Invoice) error
	MarkPaid(ctx context.Context, inv *Invoice, opts MarkPaidOptions) error
	MarkFailed(ctx context.Context, inv *Invoice, payment *paymentdomain.Payment, opts MarkFailedOptions) error
	UndoMarkPaid(ctx context.Context, inv *Invoice, opts UndoMarkPaidOptions) error
	CreateRefundInvoice(ctx context.Context, inv *Invoice) (*Invoice, error)
	GeneratePDF(ctx context.Context, inv *Invoice) ([]byte, error)
	// RenderProForma renders a PDF for an unnumbered invoice without storing it.
	RenderProForma(ctx context.Context, inv *Invoice) ([]byte, error)
	// SendProForma mails the pro forma to the organization admins. Failures are logged.
	SendProForma(ctx context.Context, org *orgdomain.Organization, inv *Invoice)
}
