package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Package, error)
	FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]*Package, error)
	Insert(ctx context.Context, db *gorm.DB, pkg *Package) error
	Save(ctx context.Context, db *gorm.DB, pkg *Package) error
	// FindPendingRenewal returns the renewal of sourceID that is neither
	// activated nor removed at now.
	FindPendingRenewal(ctx context.Context, db *gorm.DB, orgID, sourceID snowflake.ID, now time.Time) (*Package, error)
	// ListActive returns activated packages that are not removed at now.
	ListActive(ctx context.Context, db *gorm.DB, orgID snowflake.ID, now time.Time) ([]*Package, error)
	// ListReminderCandidates returns activated packages expiring before until with
	// fewer than maxEmails reminders sent.
	ListReminderCandidates(ctx context.Context, db *gorm.DB, until time.Time, maxEmails int) ([]*Package, error)
}

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Package, error)
	Create(ctx context.Context, pkg *Package) error
	Activate(ctx context.Context, pkg *Package) error
	Deactivate(ctx context.Context, pkg *Package) error
	CreateRenewed(ctx context.Context, pkg *Package) (*Package, error)
	GetActiveForOrganization(ctx context.Context, orgID snowflake.ID) ([]*Package, error)
	UpdateOrganizationPackages(ctx context.Context, orgID snowflake.ID) error
	SendExpiryReminders(ctx context.Context) (int, error)
}
