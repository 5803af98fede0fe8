package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/memberhub/internal/invoice/domain"
	"gorm.io/gorm"
)

var (
	ErrCreditNotFound = errors.New("credit_not_found")
	ErrInvalidCredit  = errors.New("invalid_credit")
)

const (
	UsageDescription   = "Tegoed gebruikt"
	PendingDescription = "Tegoed gereserveerd voor openstaande betaling"
	ItemName           = "Tegoed"
)

// ReservationTTL bounds how long a usage credit stays reserved for an unsettled payment.
const ReservationTTL = time.Hour

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Credit, error)
	Insert(ctx context.Context, db *gorm.DB, credit *Credit) error
	Save(ctx context.Context, db *gorm.DB, credit *Credit) error
	// Balance sums the changes of credits that are not expired at now.
	Balance(ctx context.Context, db *gorm.DB, orgID snowflake.ID, now time.Time) (int64, error)
	ListForOrganization(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*Credit, error)
}

type GrantRequest struct {
	OrganizationID    snowflake.ID
	Description       string
	Change            int64
	AllowTransactions bool
	ExpireAt          *time.Time
}

type Service interface {
	Grant(ctx context.Context, req GrantRequest) (*Credit, error)
	Get(ctx context.Context, id snowflake.ID) (*Credit, error)
	GetBalance(ctx context.Context, orgID snowflake.ID) (int64, error)
	List(ctx context.Context, orgID snowflake.ID) ([]*Credit, error)
	// ApplyCredits reserves available balance against the creditable lines of
	// inv. The invoice must not be numbered yet.
	ApplyCredits(ctx context.Context, orgID snowflake.ID, inv *invoicedomain.Invoice) error
	MarkUsed(ctx context.Context, id snowflake.ID) error
	Expire(ctx context.Context, id snowflake.ID, at time.Time) error
}
