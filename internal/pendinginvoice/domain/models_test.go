package domain_test

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/memberhub/internal/invoice/domain"
	"github.com/smallbiznis/memberhub/internal/pendinginvoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func pendingWith(items ...invoicedomain.InvoiceItem) *domain.PendingInvoice {
	org := snowflake.ID(1)
	return &domain.PendingInvoice{
		ID:             2,
		OrganizationID: &org,
		Meta:           datatypes.NewJSONType(invoicedomain.InvoiceMeta{Items: items}),
	}
}

func membersItem(id string, amount int64) invoicedomain.InvoiceItem {
	return invoicedomain.InvoiceItem{
		ID:        id,
		Name:      "Ledenadministratie",
		Amount:    amount,
		UnitPrice: 500,
		Package:   &invoicedomain.PackageSnapshot{ID: 9},
	}
}

func TestAppendItemsCompressesWhenUnlocked(t *testing.T) {
	pending := pendingWith(membersItem("a", 3))
	pending.AppendItems([]invoicedomain.InvoiceItem{membersItem("b", 5)})

	items := pending.Data().Items
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, int64(8), items[0].Amount)
	assert.Equal(t, int64(8), pending.PendingAmountFor(9))
	assert.Equal(t, int64(4000), pending.Total())
}

func TestAppendItemsKeepsLockedItemsApart(t *testing.T) {
	pending := pendingWith(membersItem("a", 3))
	invoiceID := snowflake.ID(77)
	pending.InvoiceID = &invoiceID

	pending.AppendItems([]invoicedomain.InvoiceItem{membersItem("b", 5)})
	assert.Len(t, pending.Data().Items, 2)

	assert.False(t, pending.Release(78))
	assert.True(t, pending.Release(invoiceID))
	assert.False(t, pending.IsLocked())
	assert.Len(t, pending.Data().Items, 1)
}

func TestRemoveSettled(t *testing.T) {
	pending := pendingWith(
		membersItem("a", 8),
		invoicedomain.InvoiceItem{ID: "fee", Name: "Transactiekosten", Amount: 1, UnitPrice: 100},
		invoicedomain.InvoiceItem{ID: "other", Name: "Webshop", Amount: 1, UnitPrice: 900},
	)

	settledMembers := membersItem("a", 3)
	settledMembers.UnitPrice = 450
	mismatches := pending.RemoveSettled([]invoicedomain.InvoiceItem{
		settledMembers,
		{ID: "fee", Amount: 1, UnitPrice: 100},
		{ID: "missing", Amount: 1, UnitPrice: 100},
	})

	items := pending.Data().Items
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, int64(5), items[0].Amount)
	assert.Equal(t, "other", items[1].ID)

	require.Len(t, mismatches, 1)
	assert.Equal(t, "a", mismatches[0].ItemID)
	assert.Equal(t, int64(450), mismatches[0].SettledPrice)
	assert.Equal(t, int64(500), mismatches[0].PendingPrice)
}

func TestRefreshPackagesReplacesSnapshots(t *testing.T) {
	pending := pendingWith(membersItem("a", 1), invoicedomain.InvoiceItem{ID: "fee", Amount: 1, UnitPrice: 100})
	fresh := &invoicedomain.PackageSnapshot{ID: 9}
	fresh.Meta.PaidAmount = 4

	pending.RefreshPackages(map[snowflake.ID]*invoicedomain.PackageSnapshot{9: fresh})

	items := pending.Data().Items
	require.NotNil(t, items[0].Package)
	assert.Equal(t, int64(4), items[0].Package.Meta.PaidAmount)
	assert.Nil(t, items[1].Package)
}

func TestOwner(t *testing.T) {
	pending := pendingWith()
	id, ok := invoicedomain.OrganizationID(pending.Owner())
	require.True(t, ok)
	assert.Equal(t, snowflake.ID(1), id)

	pending.OrganizationID = nil
	_, ok = invoicedomain.OrganizationID(pending.Owner())
	assert.False(t, ok)
}
