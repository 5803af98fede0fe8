package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/credit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Credit, error) {
	var credit domain.Credit
	err := db.WithContext(ctx).Where("id = ?", id).First(&credit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &credit, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, credit *domain.Credit) error {
	return db.WithContext(ctx).Create(credit).Error
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, credit *domain.Credit) error {
	return db.WithContext(ctx).Save(credit).Error
}

func (r *repo) Balance(ctx context.Context, db *gorm.DB, orgID snowflake.ID, now time.Time) (int64, error) {
	var balance int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(change), 0)
		 FROM credits
		 WHERE organization_id = ?
		   AND (expire_at IS NULL OR expire_at > ?)`,
		orgID, now,
	).Scan(&balance).Error
	return balance, err
}

func (r *repo) ListForOrganization(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*domain.Credit, error) {
	var credits []*domain.Credit
	err := db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at DESC, id DESC").
		Find(&credits).Error
	return credits, err
}
