package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrOrganizationNotFound = errors.New("organization_not_found")

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id snowflake.ID) (*Organization, error)
	Create(ctx context.Context, org *Organization) error
	Save(ctx context.Context, org *Organization) error
	// SaveDomainState only writes the private and server meta columns.
	SaveDomainState(ctx context.Context, org *Organization) error
	ListIDs(ctx context.Context) ([]snowflake.ID, error)
	ListAdmins(ctx context.Context, orgID snowflake.ID) ([]Admin, error)
	CountActiveMembers(ctx context.Context, orgID snowflake.ID) (int64, error)
}

// GroupBootstrapper sets up default groups and categories once an organization
// first has both member administration and activities.
type GroupBootstrapper interface {
	Bootstrap(ctx context.Context, org *Organization) error
}

type NoopGroupBootstrapper struct{}

func (NoopGroupBootstrapper) Bootstrap(context.Context, *Organization) error { return nil }
