package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrPaymentNotFound = errors.New("payment_not_found")
	ErrInvalidEvent    = errors.New("invalid_event")
	ErrProviderFailure = errors.New("payment_provider_failure")
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByProviderID(ctx context.Context, db *gorm.DB, provider, providerID string) (*Payment, error)
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	Save(ctx context.Context, db *gorm.DB, payment *Payment) error

	FindMollieCustomer(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*MollieCustomer, error)
	UpsertMollieCustomer(ctx context.Context, db *gorm.DB, customer *MollieCustomer) error

	// InsertEvent returns false when the event was already recorded.
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerPaymentID, eventType string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Payment, error)
	Create(ctx context.Context, payment *Payment) error
	Save(ctx context.Context, payment *Payment) error
	FindByProviderID(ctx context.Context, provider, providerID string) (*Payment, error)
	GetMollieCustomer(ctx context.Context, orgID snowflake.ID) (*MollieCustomer, error)
	LinkMollieCustomer(ctx context.Context, orgID snowflake.ID, customerID string) error
}
