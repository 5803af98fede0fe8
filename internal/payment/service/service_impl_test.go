package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/memberhub/internal/clock"
	"github.com/smallbiznis/memberhub/internal/payment/domain"
	"github.com/smallbiznis/memberhub/internal/payment/repository"
	"github.com/smallbiznis/memberhub/internal/payment/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.Payment{}, &domain.MollieCustomer{}, &domain.EventRecord{}))
	return db
}

func newService(t *testing.T) domain.Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return service.NewService(service.Params{
		DB:    setupTestDB(t),
		Log:   zaptest.NewLogger(t),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func TestCreateFillsDefaults(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	payment := &domain.Payment{Price: 12_1000, Provider: domain.ProviderMollie}
	require.NoError(t, svc.Create(ctx, payment))
	assert.NotZero(t, payment.ID)

	stored, err := svc.Get(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, stored.Status)
	assert.Equal(t, domain.MethodUnknown, stored.Method)
}

func TestGetUnknownPayment(t *testing.T) {
	_, err := newService(t).Get(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestFindByProviderID(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	providerID := "tr_WDqYK6vllg"
	payment := &domain.Payment{Price: 5_0000, Provider: domain.ProviderMollie, ProviderID: &providerID}
	require.NoError(t, svc.Create(ctx, payment))

	found, err := svc.FindByProviderID(ctx, "Mollie", providerID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, payment.ID, found.ID)

	missing, err := svc.FindByProviderID(ctx, domain.ProviderMollie, "tr_other")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLinkMollieCustomerReplacesCustomer(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	org := snowflake.ID(3)

	require.NoError(t, svc.LinkMollieCustomer(ctx, org, " cst_first "))
	require.NoError(t, svc.LinkMollieCustomer(ctx, org, "cst_second"))
	require.NoError(t, svc.LinkMollieCustomer(ctx, org, ""))

	customer, err := svc.GetMollieCustomer(ctx, org)
	require.NoError(t, err)
	require.NotNil(t, customer)
	assert.Equal(t, "cst_second", customer.CustomerID)
}
