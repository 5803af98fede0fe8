package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(embeddedMigrations, migrationsDir+"/*.up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)

	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		_, err := fs.Stat(embeddedMigrations, down)
		assert.NoError(t, err, "missing %s", down)
	}
}

func TestBillingTablesAreCreated(t *testing.T) {
	data, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_billing.up.sql")
	require.NoError(t, err)
	sql := string(data)

	for _, table := range []string{
		"organizations", "organization_admins", "members", "packages",
		"pending_invoices", "invoices", "credits", "payments", "payment_events",
		"mollie_customers", "register_codes", "used_register_codes",
	} {
		assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS "+table+" (", table)
	}
}

func TestBillingSourceStartsAtFirstVersion(t *testing.T) {
	src, err := billingSource()
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	_, err = src.Next(first)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestNewMigratorRequiresDB(t *testing.T) {
	_, err := NewMigrator(nil, nil)
	assert.ErrorIs(t, err, ErrNoDatabase)
}
