package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Where("id = ?", id).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repo) FindByProviderID(ctx context.Context, db *gorm.DB, provider, providerID string) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_id = ?", provider, providerID).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Create(payment).Error
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Save(payment).Error
}

func (r *repo) FindMollieCustomer(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*domain.MollieCustomer, error) {
	var customer domain.MollieCustomer
	err := db.WithContext(ctx).Where("organization_id = ?", orgID).First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

func (r *repo) UpsertMollieCustomer(ctx context.Context, db *gorm.DB, customer *domain.MollieCustomer) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "organization_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"customer_id", "mandate_id", "updated_at"}),
	}).Create(customer).Error
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, payment_id, provider, provider_payment_id, event_type,
			payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_payment_id, event_type) DO NOTHING`,
		event.ID,
		event.PaymentID,
		event.Provider,
		event.ProviderPaymentID,
		event.EventType,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider, providerPaymentID, eventType string) (*domain.EventRecord, error) {
	var event domain.EventRecord
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_payment_id = ? AND event_type = ?", provider, providerPaymentID, eventType).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}
