package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	packagedomain "github.com/smallbiznis/memberhub/internal/billingpackage/domain"
	"github.com/smallbiznis/memberhub/internal/billingtest"
	"github.com/smallbiznis/memberhub/internal/config"
	invoicedomain "github.com/smallbiznis/memberhub/internal/invoice/domain"
	maildomain "github.com/smallbiznis/memberhub/internal/maildomain/domain"
	orgdomain "github.com/smallbiznis/memberhub/internal/organization/domain"
	"github.com/smallbiznis/memberhub/internal/payment/adapters/mollie"
	paymentdomain "github.com/smallbiznis/memberhub/internal/payment/domain"
	pendingdomain "github.com/smallbiznis/memberhub/internal/pendinginvoice/domain"
	"github.com/smallbiznis/memberhub/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeWebhooks struct {
	ids []string
	err error
}

func (f *fakeWebhooks) HandleMollieWebhook(ctx context.Context, providerPaymentID string) error {
	f.ids = append(f.ids, providerPaymentID)
	return f.err
}

type fakeMailDomains struct {
	maildomain.Service
	result *maildomain.ReconcileResult
	err    error
	orgIDs []snowflake.ID
}

func (f *fakeMailDomains) UpdateDNSRecords(ctx context.Context, orgID snowflake.ID) (*maildomain.ReconcileResult, error) {
	f.orgIDs = append(f.orgIDs, orgID)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type testServer struct {
	h      *billingtest.Harness
	router *gin.Engine
	srv    *Server
	hooks  *fakeWebhooks
	mail   *fakeMailDomains
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := billingtest.New(t)
	log := zaptest.NewLogger(t)
	router := NewEngine(log)
	mail := &fakeMailDomains{}
	srv := NewServer(ServerParams{
		Gin:         router,
		Cfg:         cfg,
		Log:         log,
		OrgRepo:     h.OrgRepo,
		PackageSvc:  h.Packages,
		PendingSvc:  h.Pending,
		Charger:     h.Charger,
		InvoiceSvc:  h.Invoices,
		CreditSvc:   h.Credits,
		MailDomains: mail,
	})
	hooks := &fakeWebhooks{}
	srv.webhooks = hooks

	return &testServer{h: h, router: router, srv: srv, hooks: hooks, mail: mail}
}

func (ts *testServer) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp := httptest.NewRecorder()
	ts.router.ServeHTTP(resp, req)
	return resp
}

func orgPath(org *orgdomain.Organization, suffix string) string {
	return "/v1/organizations/" + org.ID.String() + suffix
}

func decodeData(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body), resp.Body.String())
	return body.Data
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body), resp.Body.String())
	return body.Error
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	resp := ts.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.NotEmpty(t, resp.Header().Get("X-Request-Id"))
}

func TestQueueAndChargeOrganization(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	h := ts.h
	h.NewPackage(t, h.Org, billingtest.MembersPackage(500))
	h.AddMembers(t, h.Org, 4)
	h.LinkMollie(t, h.Org, mollie.MethodCreditCard)

	resp := ts.do(t, http.MethodPost, orgPath(h.Org, "/billing/queue"), nil, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	pending := decodeData(t, resp)
	assert.EqualValues(t, 2000, pending["total"])
	assert.Equal(t, false, pending["locked"])

	resp = ts.do(t, http.MethodPost, orgPath(h.Org, "/billing/charge"), nil, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	charged := decodeData(t, resp)
	assert.NotEmpty(t, charged["invoice_id"])
	assert.Equal(t, false, charged["paid"])
	require.Len(t, h.Mollie.Created, 1)

	resp = ts.do(t, http.MethodPost, orgPath(h.Org, "/billing/charge"), nil, nil)
	assert.Equal(t, http.StatusConflict, resp.Code)
	payload := decodeError(t, resp)
	assert.Equal(t, "payment_pending", payload.Type)
	assert.NotEmpty(t, payload.Human)
	assert.Len(t, h.Mollie.Created, 1)
}

func TestChargeOrganizationErrors(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	resp := ts.do(t, http.MethodPost, orgPath(ts.h.Org, "/billing/charge"), nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, "no_pending_invoice", decodeError(t, resp).Type)

	resp = ts.do(t, http.MethodPost, "/v1/organizations/424242/billing/charge", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = ts.do(t, http.MethodPost, "/v1/organizations/abc/billing/charge", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	payload := decodeError(t, resp)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_id", payload.Errors[0].Code)
}

func TestGetBillingStatus(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	h := ts.h
	h.NewPackage(t, h.Org, billingtest.MembersPackage(500))

	resp := ts.do(t, http.MethodGet, orgPath(h.Org, "/billing/status"), nil, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	status := decodeData(t, resp)
	assert.Equal(t, h.Org.ID.String(), status["organization_id"])
	assert.Nil(t, status["pending"])
	assert.Len(t, status["packages"], 1)
	assert.EqualValues(t, 0, status["credit_balance"])

	resp = ts.do(t, http.MethodGet, "/v1/organizations/424242/billing/status", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestRenewPackageBillsSuccessor(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	h := ts.h
	pkg := h.NewPackage(t, h.Org, billingtest.MembersPackage(500))
	h.AddMembers(t, h.Org, 3)

	resp := ts.do(t, http.MethodPost, "/v1/packages/"+pkg.ID.String()+"/renew", nil, nil)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	data := decodeData(t, resp)

	renewedView, ok := data["package"].(map[string]any)
	require.True(t, ok)
	renewedID, err := snowflake.ParseString(fmt.Sprint(renewedView["id"]))
	require.NoError(t, err)
	assert.NotEqual(t, pkg.ID, renewedID)

	renewed := h.Package(t, renewedID)
	assert.Nil(t, renewed.ValidAt)
	require.NotNil(t, renewed.Data().DidRenewID)
	assert.Equal(t, pkg.ID, *renewed.Data().DidRenewID)

	pending := h.PendingFor(t, h.Org)
	require.NotNil(t, pending)
	assert.Positive(t, pending.Total())
	assert.Equal(t, []snowflake.ID{renewedID}, pending.Data().PackageIDs())

	resp = ts.do(t, http.MethodPost, "/v1/packages/"+pkg.ID.String()+"/renew", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "renewal_pending", decodeError(t, resp).Type)
	assert.Equal(t, pending.Total(), h.PendingFor(t, h.Org).Total())
}

func TestRenewPackageErrors(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	h := ts.h
	fixed := h.NewPackage(t, h.Org, packagedomain.PackageMeta{
		Type:          packagedomain.PackageTypeWebshops,
		PricingType:   packagedomain.PricingTypeFixed,
		UnitPrice:     10_0000,
		MinimumAmount: 1,
	})

	resp := ts.do(t, http.MethodPost, "/v1/packages/"+fixed.ID.String()+"/renew", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, "not_allowed", decodeError(t, resp).Type)

	resp = ts.do(t, http.MethodPost, "/v1/packages/424242/renew", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "package_not_found", decodeError(t, resp).Type)
}

func TestRefundInvoice(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	h := ts.h
	ctx := context.Background()
	h.NewPackage(t, h.Org, billingtest.MembersPackage(500))
	h.AddMembers(t, h.Org, 4)
	h.LinkMollie(t, h.Org, mollie.MethodCreditCard)

	_, err := h.Pending.Queue(ctx, h.Org.ID)
	require.NoError(t, err)
	result, err := h.Charger.ChargeOrganization(ctx, h.Org.ID)
	require.NoError(t, err)
	invoicePath := "/v1/invoices/" + result.Invoice.ID.String()

	resp := ts.do(t, http.MethodPost, invoicePath+"/refund", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, "not_reversible", decodeError(t, resp).Type)

	inv := h.Invoice(t, result.Invoice.ID)
	require.NoError(t, h.Invoices.MarkPaid(ctx, inv, invoicedomain.MarkPaidOptions{}))
	assert.Zero(t, h.PendingFor(t, h.Org).Total())

	resp = ts.do(t, http.MethodPost, invoicePath+"/refund", strings.NewReader(`{"send_email":false}`), nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.NotNil(t, decodeData(t, resp)["negative_invoice_id"])

	assert.NotNil(t, h.Invoice(t, result.Invoice.ID).NegativeInvoiceID)
	assert.Equal(t, int64(2000), h.PendingFor(t, h.Org).Total())

	resp = ts.do(t, http.MethodPost, invoicePath+"/refund", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	resp = ts.do(t, http.MethodGet, "/v1/invoices/424242", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "invoice_not_found", decodeError(t, resp).Type)
}

func TestValidateDNSRecords(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.mail.result = &maildomain.ReconcileResult{
		Validation:       maildomain.ValidationResult{AllValid: true, HasAllNonTXT: true},
		MailDomainActive: true,
		BecameActive:     true,
		Records: []orgdomain.DNSRecord{
			{ID: "r1", Type: orgdomain.DNSRecordTypeCNAME, Name: "mail.ksa.be", Value: "mail.memberhub.app", Status: orgdomain.DNSRecordStatusValid},
		},
	}

	resp := ts.do(t, http.MethodPost, orgPath(ts.h.Org, "/dns/validate"), nil, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	data := decodeData(t, resp)
	assert.Equal(t, true, data["all_valid"])
	assert.Equal(t, true, data["became_active"])
	assert.Len(t, data["records"], 1)
	assert.Equal(t, []snowflake.ID{ts.h.Org.ID}, ts.mail.orgIDs)

	ts.mail.err = orgdomain.ErrOrganizationNotFound
	resp = ts.do(t, http.MethodPost, orgPath(ts.h.Org, "/dns/validate"), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestMollieWebhook(t *testing.T) {
	ts := newTestServer(t, config.Config{APIToken: "secret"})
	form := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}

	resp := ts.do(t, http.MethodPost, "/webhooks/mollie", strings.NewReader("id=tr_abc"), form)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []string{"tr_abc"}, ts.hooks.ids)

	resp = ts.do(t, http.MethodPost, "/webhooks/mollie", strings.NewReader(""), form)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Len(t, ts.hooks.ids, 1)

	ts.hooks.err = fmt.Errorf("%w: timeout", paymentdomain.ErrProviderFailure)
	resp = ts.do(t, http.MethodPost, "/webhooks/mollie", strings.NewReader("id=tr_def"), form)
	assert.Equal(t, http.StatusBadGateway, resp.Code)
}

func TestAPITokenRequired(t *testing.T) {
	ts := newTestServer(t, config.Config{APIToken: "secret"})
	path := orgPath(ts.h.Org, "/billing/status")

	resp := ts.do(t, http.MethodGet, path, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = ts.do(t, http.MethodGet, path, nil, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = ts.do(t, http.MethodGet, path, nil, map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, resp.Code)

	prod := newTestServer(t, config.Config{Environment: "production"})
	resp = prod.do(t, http.MethodGet, orgPath(prod.h.Org, "/billing/status"), nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ts.srv.limiter = ratelimit.NewRequestLimiterWithClient(client, config.RateLimitConfig{Enabled: true, Rate: 0.001, Burst: 1}, zaptest.NewLogger(t))
	form := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}

	resp := ts.do(t, http.MethodPost, "/webhooks/mollie", strings.NewReader("id=tr_1"), form)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = ts.do(t, http.MethodPost, "/webhooks/mollie", strings.NewReader("id=tr_2"), form)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.NotEmpty(t, resp.Header().Get("Retry-After"))
	assert.Equal(t, []string{"tr_1"}, ts.hooks.ids)

	resp = ts.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"billing not found", invoicedomain.ErrInvoiceNotFound, http.StatusNotFound, "invoice_not_found"},
		{"payment pending", fmt.Errorf("charge: %w", pendingdomain.ErrPaymentPending), http.StatusConflict, "payment_pending"},
		{"rate limited", ErrTooManyRequests, http.StatusTooManyRequests, "too_many_requests"},
		{"business rule", packagedomain.ErrNotAllowed, http.StatusUnprocessableEntity, "not_allowed"},
		{"organization", orgdomain.ErrOrganizationNotFound, http.StatusNotFound, "not_found"},
		{"invalid event", paymentdomain.ErrInvalidEvent, http.StatusBadRequest, "validation_error"},
		{"provider", paymentdomain.ErrProviderFailure, http.StatusBadGateway, "payment_provider_failure"},
		{"mail domain", maildomain.ErrIdentityNotOwned, http.StatusUnprocessableEntity, "mail_identity_not_owned"},
		{"validation", invalidRequestError(), http.StatusBadRequest, "validation_error"},
		{"unknown", bytes.ErrTooLarge, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.typ, payload.Type)
			assert.Equal(t, tc.typ, classifyErrorForLog(tc.err))
		})
	}
}
