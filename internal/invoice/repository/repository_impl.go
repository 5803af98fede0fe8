package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/invoice/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) FindByPaymentID(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (*domain.Invoice, error) {
	// A reversed payment also owns its refund invoice. The original comes first.
	return r.findOne(ctx, db, "payment_id = ?", paymentID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := db.WithContext(ctx).Where(query, args...).Order("id ASC").First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &inv, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, inv *domain.Invoice) error {
	return db.WithContext(ctx).Create(inv).Error
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, inv *domain.Invoice) error {
	return db.WithContext(ctx).Save(inv).Error
}

func (r *repo) MaxNumber(ctx context.Context, db *gorm.DB) (int64, error) {
	var highest int64
	err := db.WithContext(ctx).Raw(`SELECT COALESCE(MAX(number), 0) FROM invoices`).Scan(&highest).Error
	return highest, err
}
