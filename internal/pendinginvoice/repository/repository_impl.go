package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/pendinginvoice/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByOrganization(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*domain.PendingInvoice, error) {
	return r.findOne(ctx, db, "organization_id = ?", orgID)
}

func (r *repo) FindByInvoiceID(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (*domain.PendingInvoice, error) {
	return r.findOne(ctx, db, "invoice_id = ?", invoiceID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.PendingInvoice, error) {
	var pending domain.PendingInvoice
	err := db.WithContext(ctx).Where(query, args...).First(&pending).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pending, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, pending *domain.PendingInvoice) error {
	return db.WithContext(ctx).Create(pending).Error
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, pending *domain.PendingInvoice) error {
	return db.WithContext(ctx).Save(pending).Error
}

func (r *repo) ListChargeable(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&domain.PendingInvoice{}).
		Where("organization_id IS NOT NULL").
		Where("invoice_id IS NULL").
		Order("organization_id ASC").
		Pluck("organization_id", &ids).Error
	return ids, err
}
