package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/referral/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindCode(ctx context.Context, db *gorm.DB, code string) (*domain.RegisterCode, error) {
	var rc domain.RegisterCode
	err := db.WithContext(ctx).Where("code = ?", code).First(&rc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rc, nil
}

func (r *repo) InsertCode(ctx context.Context, db *gorm.DB, code *domain.RegisterCode) error {
	return db.WithContext(ctx).Create(code).Error
}

func (r *repo) FindUsedByOrganization(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*domain.UsedRegisterCode, error) {
	var used domain.UsedRegisterCode
	err := db.WithContext(ctx).Where("organization_id = ?", orgID).First(&used).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &used, nil
}

func (r *repo) InsertUsed(ctx context.Context, db *gorm.DB, used *domain.UsedRegisterCode) error {
	return db.WithContext(ctx).Create(used).Error
}

func (r *repo) SaveUsed(ctx context.Context, db *gorm.DB, used *domain.UsedRegisterCode) error {
	return db.WithContext(ctx).Save(used).Error
}
