package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/organization/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&org).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &org, nil
}

func (r *repository) Create(ctx context.Context, org *domain.Organization) error {
	return r.db.WithContext(ctx).Create(org).Error
}

func (r *repository) Save(ctx context.Context, org *domain.Organization) error {
	return r.db.WithContext(ctx).Save(org).Error
}

func (r *repository) SaveDomainState(ctx context.Context, org *domain.Organization) error {
	return r.db.WithContext(ctx).
		Model(org).
		Select("private_meta", "server_meta", "updated_at").
		Updates(org).Error
}

func (r *repository) ListIDs(ctx context.Context) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := r.db.WithContext(ctx).Raw(`SELECT id FROM organizations ORDER BY id ASC`).Scan(&ids).Error
	return ids, err
}

func (r *repository) ListAdmins(ctx context.Context, orgID snowflake.ID) ([]domain.Admin, error) {
	var admins []domain.Admin
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("id ASC").
		Find(&admins).Error
	return admins, err
}

func (r *repository) CountActiveMembers(ctx context.Context, orgID snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Member{}).
		Where("organization_id = ? AND active = ?", orgID, true).
		Count(&count).Error
	return count, err
}
