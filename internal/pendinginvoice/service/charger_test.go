package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/memberhub/internal/billingtest"
	creditdomain "github.com/smallbiznis/memberhub/internal/credit/domain"
	invoicedomain "github.com/smallbiznis/memberhub/internal/invoice/domain"
	"github.com/smallbiznis/memberhub/internal/payment/adapters/mollie"
	paymentdomain "github.com/smallbiznis/memberhub/internal/payment/domain"
	"github.com/smallbiznis/memberhub/internal/pendinginvoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChargeWithoutPendingInvoice(t *testing.T) {
	h := billingtest.New(t)
	_, err := h.Charger.ChargeOrganization(context.Background(), h.Org.ID)
	assert.ErrorIs(t, err, domain.ErrNoPendingInvoice)
}

func TestChargeWithoutMollieCustomer(t *testing.T) {
	h := billingtest.New(t)
	ctx := context.Background()
	h.NewPackage(t, h.Org, billingtest.MembersPackage(500))
	h.AddMembers(t, h.Org, 3)
	_, err := h.Pending.Queue(ctx, h.Org.ID)
	require.NoError(t, err)

	_, err = h.Charger.ChargeOrganization(ctx, h.Org.ID)
	assert.ErrorIs(t, err, domain.ErrNoMollieCustomer)
	assert.False(t, h.PendingFor(t, h.Org).IsLocked())
}

func TestEndToEndPerMemberCharge(t *testing.T) {
	h := billingtest.New(t)
	ctx := context.Background()
	pkg := h.NewPackage(t, h.Org, billingtest.MembersPackage(500))
	h.AddMembers(t, h.Org, 10)
	h.LinkMollie(t, h.Org, mollie.MethodDirectDebit)

	items, err := h.Pending.CreateItems(ctx, h.Org.ID, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(10), items[0].Amount)
	assert.Equal(t, int64(5000), items[0].Price())

	_, err = h.Pending.Queue(ctx, h.Org.ID)
	require.NoError(t, err)

	result, err := h.Charger.ChargeOrganization(ctx, h.Org.ID)
	require.NoError(t, err)
	inv := result.Invoice
	require.Len(t, inv.Data().Items, 1)
	assert.Equal(t, items[0].Price(), inv.Data().Items[0].Price())
	assert.Nil(t, inv.Number)

	require.Len(t, h.Mollie.Created, 1)
	assert.Equal(t, "0.61", h.Mollie.Created[0].Amount.Value)
	assert.Equal(t, mollie.SequenceRecurring, h.Mollie.Created[0].SequenceType)
	assert.Equal(t, inv.ID.String(), h.Mollie.Created[0].Metadata["invoiceId"])

	pending := h.PendingFor(t, h.Org)
	assert.True(t, pending.LockedBy(inv.ID))

	payment, err := h.Payments.Get(ctx, *inv.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPending, payment.Status)
	assert.Equal(t, paymentdomain.MethodDirectDebit, payment.Method)

	messages := h.Outbox.Messages()
	require.Len(t, messages, 1)
	require.Len(t, messages[0].Attachments, 1)
	assert.Equal(t, "pro-forma.pdf", messages[0].Attachments[0].Filename)

	_, err = h.Charger.ChargeOrganization(ctx, h.Org.ID)
	assert.ErrorIs(t, err, domain.ErrPaymentPending)

	stored := h.Invoice(t, inv.ID)
	require.NoError(t, h.Invoices.MarkPaid(ctx, stored, invoicedomain.MarkPaidOptions{SendEmail: true}))

	stored = h.Invoice(t, inv.ID)
	require.NotNil(t, stored.Number)
	assert.Equal(t, int64(1), *stored.Number)
	assert.Equal(t, int64(10), h.Package(t, pkg.ID).Data().PaidAmount)

	pending = h.PendingFor(t, h.Org)
	assert.False(t, pending.IsLocked())
	assert.Empty(t, pending.Data().Items)
}

func TestChargeCoveredByCredit(t *testing.T) {
	h := billingtest.New(t)
	ctx := context.Background()
	h.NewPackage(t, h.Org, billingtest.MembersPackage(500))
	h.AddMembers(t, h.Org, 2)
	h.LinkMollie(t, h.Org, mollie.MethodDirectDebit)
	_, err := h.Credits.Grant(ctx, creditdomain.GrantRequest{OrganizationID: h.Org.ID, Description: "Welkom", Change: 50_0000})
	require.NoError(t, err)
	_, err = h.Pending.Queue(ctx, h.Org.ID)
	require.NoError(t, err)

	result, err := h.Charger.ChargeOrganization(ctx, h.Org.ID)
	require.NoError(t, err)
	assert.Empty(t, h.Mollie.Created)

	inv := h.Invoice(t, result.Invoice.ID)
	require.NotNil(t, inv.PaidAt)
	assert.Nil(t, inv.Number)
	require.NotNil(t, inv.CreditID)

	credit, err := h.Credits.Get(ctx, *inv.CreditID)
	require.NoError(t, err)
	assert.Nil(t, credit.ExpireAt)
	assert.Equal(t, int64(-1000), credit.Change)

	balance, err := h.Credits.GetBalance(ctx, h.Org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(49_9000), balance)
	assert.Empty(t, h.PendingFor(t, h.Org).Data().Items)
}

func TestChargeWithoutMandateReleasesCredit(t *testing.T) {
	h := billingtest.New(t)
	ctx := context.Background()
	h.NewPackage(t, h.Org, billingtest.MembersPackage(500))
	h.AddMembers(t, h.Org, 2)
	require.NoError(t, h.Payments.LinkMollieCustomer(ctx, h.Org.ID, "cst_nomandate"))
	_, err := h.Credits.Grant(ctx, creditdomain.GrantRequest{OrganizationID: h.Org.ID, Description: "Welkom", Change: 400})
	require.NoError(t, err)
	_, err = h.Pending.Queue(ctx, h.Org.ID)
	require.NoError(t, err)

	_, err = h.Charger.ChargeOrganization(ctx, h.Org.ID)
	assert.ErrorIs(t, err, domain.ErrNoMandate)

	balance, err := h.Credits.GetBalance(ctx, h.Org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(400), balance)
	assert.False(t, h.PendingFor(t, h.Org).IsLocked())
	assert.Zero(t, h.Outbox.Count())
}

func TestChargeProviderFailure(t *testing.T) {
	h := billingtest.New(t)
	ctx := context.Background()
	h.NewPackage(t, h.Org, billingtest.MembersPackage(500))
	h.AddMembers(t, h.Org, 2)
	h.LinkMollie(t, h.Org, mollie.MethodCreditCard)
	_, err := h.Pending.Queue(ctx, h.Org.ID)
	require.NoError(t, err)
	h.Mollie.Err = errors.New("503 service unavailable")

	_, err = h.Charger.ChargeOrganization(ctx, h.Org.ID)
	assert.ErrorIs(t, err, paymentdomain.ErrProviderFailure)
	assert.False(t, h.PendingFor(t, h.Org).IsLocked())

	assert.Zero(t, h.Outbox.Count())
}
