// Package domain contains register codes that reward the referring organization.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrCodeNotFound = errors.New("register_code_not_found")
	ErrCodeExists   = errors.New("register_code_exists")
	ErrAlreadyUsed  = errors.New("register_code_already_used")
)

// RegisterCode belongs to the organization that shares it.
type RegisterCode struct {
	Code           string       `gorm:"primaryKey;type:text" json:"code"`
	OrganizationID snowflake.ID `gorm:"not null;index" json:"organization_id"`
	Description    string       `gorm:"type:text" json:"description"`
	// Value is credited to the owner once a referred organization pays enough.
	Value     int64     `gorm:"not null" json:"value"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (RegisterCode) TableName() string { return "register_codes" }

// UsedRegisterCode records that an organization signed up with a code.
type UsedRegisterCode struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	Code           string        `gorm:"type:text;not null;index" json:"code"`
	OrganizationID snowflake.ID  `gorm:"not null;uniqueIndex" json:"organization_id"`
	CreditID       *snowflake.ID `json:"credit_id"`
	RewardedAt     *time.Time    `json:"rewarded_at"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (UsedRegisterCode) TableName() string { return "used_register_codes" }

type Repository interface {
	FindCode(ctx context.Context, db *gorm.DB, code string) (*RegisterCode, error)
	InsertCode(ctx context.Context, db *gorm.DB, code *RegisterCode) error
	FindUsedByOrganization(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*UsedRegisterCode, error)
	InsertUsed(ctx context.Context, db *gorm.DB, used *UsedRegisterCode) error
	SaveUsed(ctx context.Context, db *gorm.DB, used *UsedRegisterCode) error
}

// Rewarder is called after an invoice of a referred organization is paid.
type Rewarder interface {
	RewardIfEligible(ctx context.Context, orgID snowflake.ID, invoiceValue int64) error
}

type Service interface {
	Rewarder
	CreateCode(ctx context.Context, code *RegisterCode) error
	// Use links orgID to the code it registered with.
	Use(ctx context.Context, orgID snowflake.ID, code string) (*UsedRegisterCode, error)
}
