package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/memberhub/internal/billingpackage/domain"
	"github.com/smallbiznis/memberhub/internal/billingpackage/repository"
	"github.com/smallbiznis/memberhub/internal/billingpackage/service"
	"github.com/smallbiznis/memberhub/internal/clock"
	"github.com/smallbiznis/memberhub/internal/config"
	orgdomain "github.com/smallbiznis/memberhub/internal/organization/domain"
	orgrepository "github.com/smallbiznis/memberhub/internal/organization/repository"
	"github.com/smallbiznis/memberhub/internal/providers/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type countingBootstrapper struct {
	calls int
}

func (b *countingBootstrapper) Bootstrap(context.Context, *orgdomain.Organization) error {
	b.calls++
	return nil
}

type fixture struct {
	db           *gorm.DB
	svc          domain.Service
	repo         domain.Repository
	clock        *clock.FakeClock
	node         *snowflake.Node
	outbox       *email.Recorder
	bootstrapper *countingBootstrapper
	org          *orgdomain.Organization
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&orgdomain.Organization{},
		&orgdomain.Admin{},
		&domain.Package{},
	))
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		db:           db,
		repo:         repository.Provide(),
		clock:        clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)),
		node:         node,
		outbox:       &email.Recorder{},
		bootstrapper: &countingBootstrapper{},
	}
	orgRepo := orgrepository.NewRepository(db)
	f.svc = service.NewService(service.Params{
		DB:           db,
		Log:          zaptest.NewLogger(t),
		GenID:        node,
		Clock:        f.clock,
		Repo:         f.repo,
		OrgRepo:      orgRepo,
		Bootstrapper: f.bootstrapper,
		Email:        f.outbox,
		Billing:      config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
		Cfg:          config.Config{DashboardDomain: "dashboard.test"},
	})

	f.org = &orgdomain.Organization{
		ID:          node.Generate(),
		Name:        "KSA Noord",
		Meta:        datatypes.NewJSONType(orgdomain.Meta{}),
		PrivateMeta: datatypes.NewJSONType(orgdomain.PrivateMeta{}),
		ServerMeta:  datatypes.NewJSONType(orgdomain.ServerMeta{}),
	}
	require.NoError(t, orgRepo.Create(context.Background(), f.org))
	require.NoError(t, db.Create(&orgdomain.Admin{
		ID:             node.Generate(),
		OrganizationID: f.org.ID,
		Email:          "admin@ksa.test",
	}).Error)
	return f
}

func (f *fixture) newPackage(t *testing.T, pt domain.PackageType, mutate func(*domain.Package)) *domain.Package {
	t.Helper()
	now := f.clock.Now()
	pkg := &domain.Package{
		OrganizationID: f.org.ID,
		Meta: datatypes.NewJSONType(domain.PackageMeta{
			Type:          pt,
			PricingType:   domain.PricingTypePerYear,
			UnitPrice:     40_0000,
			MinimumAmount: 1,
			StartDate:     now,
			AllowRenew:    true,
		}),
	}
	if mutate != nil {
		mutate(pkg)
	}
	require.NoError(t, f.svc.Create(context.Background(), pkg))
	return pkg
}

func TestActivateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pkg := f.newPackage(t, domain.PackageTypeMembers, nil)

	require.NoError(t, f.svc.Activate(ctx, pkg))
	require.NotNil(t, pkg.ValidAt)
	first := *pkg.ValidAt

	f.clock.Advance(time.Hour)
	require.NoError(t, f.svc.Activate(ctx, pkg))

	stored, err := f.svc.Get(ctx, pkg.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ValidAt)
	assert.True(t, stored.ValidAt.Equal(first))
}

func TestActivateClosesRenewedPackage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	validUntil := f.clock.Now().AddDate(0, 1, 0)
	previous := f.newPackage(t, domain.PackageTypeLegacyMembers, func(p *domain.Package) {
		p.ValidUntil = &validUntil
	})
	require.NoError(t, f.svc.Activate(ctx, previous))

	renewed, err := f.svc.CreateRenewed(ctx, previous)
	require.NoError(t, err)
	require.NoError(t, f.svc.Create(ctx, renewed))
	require.NoError(t, f.svc.Activate(ctx, renewed))

	stored, err := f.svc.Get(ctx, previous.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RemoveAt)
	assert.True(t, stored.RemoveAt.Equal(validUntil))
	assert.False(t, stored.Data().AllowRenew)

	_, err = f.svc.CreateRenewed(ctx, stored)
	assert.ErrorIs(t, err, domain.ErrNotAllowed)
}

func TestDeactivateKeepsPastRemoval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pkg := f.newPackage(t, domain.PackageTypeWebshops, nil)

	require.NoError(t, f.svc.Deactivate(ctx, pkg))
	require.NotNil(t, pkg.RemoveAt)
	removedAt := *pkg.RemoveAt

	f.clock.Advance(24 * time.Hour)
	require.NoError(t, f.svc.Deactivate(ctx, pkg))
	assert.True(t, pkg.RemoveAt.Equal(removedAt))
}

func TestGetActiveForOrganizationFiltersInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	active := f.newPackage(t, domain.PackageTypeMembers, nil)
	require.NoError(t, f.svc.Activate(ctx, active))
	f.newPackage(t, domain.PackageTypeWebshops, nil)
	removed := f.newPackage(t, domain.PackageTypeTrialMembers, nil)
	require.NoError(t, f.svc.Activate(ctx, removed))
	require.NoError(t, f.svc.Deactivate(ctx, removed))

	f.clock.Advance(time.Minute)
	pkgs, err := f.svc.GetActiveForOrganization(ctx, f.org.ID)
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	assert.Equal(t, active.ID, pkgs[0].ID)
}

func TestUpdateOrganizationPackagesBootstrapsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	webshops := f.newPackage(t, domain.PackageTypeWebshops, nil)
	require.NoError(t, f.svc.Activate(ctx, webshops))
	require.NoError(t, f.svc.UpdateOrganizationPackages(ctx, f.org.ID))
	assert.Equal(t, 0, f.bootstrapper.calls)

	members := f.newPackage(t, domain.PackageTypeMembers, nil)
	require.NoError(t, f.svc.Activate(ctx, members))
	require.NoError(t, f.svc.UpdateOrganizationPackages(ctx, f.org.ID))
	assert.Equal(t, 1, f.bootstrapper.calls)

	require.NoError(t, f.svc.UpdateOrganizationPackages(ctx, f.org.ID))
	assert.Equal(t, 1, f.bootstrapper.calls)

	var org orgdomain.Organization
	require.NoError(t, f.db.First(&org, "id = ?", f.org.ID).Error)
	statuses := org.Meta.Data().Packages.Packages
	assert.Contains(t, statuses, domain.PackageTypeMembers)
	assert.Contains(t, statuses, domain.PackageTypeWebshops)
}

func TestUpdateOrganizationPackagesUnknownOrganization(t *testing.T) {
	f := newFixture(t)
	err := f.svc.UpdateOrganizationPackages(context.Background(), f.node.Generate())
	assert.ErrorIs(t, err, orgdomain.ErrOrganizationNotFound)
}

func TestSendExpiryRemindersOncePerPackage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	soon := f.clock.Now().AddDate(0, 0, 10)
	pkg := f.newPackage(t, domain.PackageTypeMembers, func(p *domain.Package) {
		p.ValidUntil = &soon
	})
	require.NoError(t, f.svc.Activate(ctx, pkg))

	far := f.clock.Now().AddDate(0, 6, 0)
	other := f.newPackage(t, domain.PackageTypeMembers, func(p *domain.Package) {
		p.ValidUntil = &far
	})
	require.NoError(t, f.svc.Activate(ctx, other))

	sent, err := f.svc.SendExpiryReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Equal(t, 1, f.outbox.Count())
	msg := f.outbox.Messages()[0]
	assert.Equal(t, []string{"admin@ksa.test"}, msg.To)
	assert.Contains(t, msg.Text, "KSA Noord")

	sent, err = f.svc.SendExpiryReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Equal(t, 1, f.outbox.Count())

	stored, err := f.svc.Get(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.EmailCount)
	assert.NotNil(t, stored.LastEmailAt)
}
