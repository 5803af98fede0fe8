package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/billingpackage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Package, error) {
	var pkg domain.Package
	err := db.WithContext(ctx).Where("id = ?", id).First(&pkg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pkg, nil
}

func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]*domain.Package, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var pkgs []*domain.Package
	err := db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&pkgs).Error
	return pkgs, err
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, pkg *domain.Package) error {
	return db.WithContext(ctx).Create(pkg).Error
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, pkg *domain.Package) error {
	return db.WithContext(ctx).Save(pkg).Error
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB, orgID snowflake.ID, now time.Time) ([]*domain.Package, error) {
	var pkgs []*domain.Package
	err := db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Where("valid_at IS NOT NULL").
		Where("(remove_at IS NULL OR remove_at > ?)", now).
		Order("id ASC").
		Find(&pkgs).Error
	return pkgs, err
}

func (r *repo) FindPendingRenewal(ctx context.Context, db *gorm.DB, orgID, sourceID snowflake.ID, now time.Time) (*domain.Package, error) {
	var pkgs []*domain.Package
	err := db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Where("valid_at IS NULL").
		Where("(remove_at IS NULL OR remove_at > ?)", now).
		Order("id ASC").
		Find(&pkgs).Error
	if err != nil {
		return nil, err
	}
	for _, pkg := range pkgs {
		if id := pkg.Data().DidRenewID; id != nil && *id == sourceID {
			return pkg, nil
		}
	}
	return nil, nil
}

func (r *repo) ListReminderCandidates(ctx context.Context, db *gorm.DB, until time.Time, maxEmails int) ([]*domain.Package, error) {
	var pkgs []*domain.Package
	err := db.WithContext(ctx).
		Where("valid_at IS NOT NULL").
		Where("email_count < ?", maxEmails).
		Where("valid_until IS NOT NULL AND valid_until <= ?", until).
		Order("id ASC").
		Find(&pkgs).Error
	return pkgs, err
}
