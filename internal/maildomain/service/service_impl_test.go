package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/smallbiznis/memberhub/internal/billingtest"
	"github.com/smallbiznis/memberhub/internal/config"
	"github.com/smallbiznis/memberhub/internal/maildomain/domain"
	"github.com/smallbiznis/memberhub/internal/maildomain/service"
	orgdomain "github.com/smallbiznis/memberhub/internal/organization/domain"
	"github.com/smallbiznis/memberhub/internal/providers/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"
)

type fakeSES struct {
	mu         sync.Mutex
	identities map[string]*sesv2.GetEmailIdentityOutput
	created    []*sesv2.CreateEmailIdentityInput
	deleted    []string
	feedback   []*sesv2.PutEmailIdentityFeedbackAttributesInput
	mailFrom   []*sesv2.PutEmailIdentityMailFromAttributesInput
}

func newFakeSES() *fakeSES {
	return &fakeSES{identities: map[string]*sesv2.GetEmailIdentityOutput{}}
}

func (f *fakeSES) GetEmailIdentity(_ context.Context, in *sesv2.GetEmailIdentityInput, _ ...func(*sesv2.Options)) (*sesv2.GetEmailIdentityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	identity, ok := f.identities[aws.ToString(in.EmailIdentity)]
	if !ok {
		return nil, &sestypes.NotFoundException{Message: aws.String("identity not found")}
	}
	return identity, nil
}

func (f *fakeSES) CreateEmailIdentity(_ context.Context, in *sesv2.CreateEmailIdentityInput, _ ...func(*sesv2.Options)) (*sesv2.CreateEmailIdentityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	f.identities[aws.ToString(in.EmailIdentity)] = &sesv2.GetEmailIdentityOutput{
		ConfigurationSetName: in.ConfigurationSetName,
	}
	return &sesv2.CreateEmailIdentityOutput{VerifiedForSendingStatus: false}, nil
}

func (f *fakeSES) DeleteEmailIdentity(_ context.Context, in *sesv2.DeleteEmailIdentityInput, _ ...func(*sesv2.Options)) (*sesv2.DeleteEmailIdentityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.EmailIdentity))
	delete(f.identities, aws.ToString(in.EmailIdentity))
	return &sesv2.DeleteEmailIdentityOutput{}, nil
}

func (f *fakeSES) PutEmailIdentityFeedbackAttributes(_ context.Context, in *sesv2.PutEmailIdentityFeedbackAttributesInput, _ ...func(*sesv2.Options)) (*sesv2.PutEmailIdentityFeedbackAttributesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedback = append(f.feedback, in)
	return &sesv2.PutEmailIdentityFeedbackAttributesOutput{}, nil
}

func (f *fakeSES) PutEmailIdentityMailFromAttributes(_ context.Context, in *sesv2.PutEmailIdentityMailFromAttributesInput, _ ...func(*sesv2.Options)) (*sesv2.PutEmailIdentityMailFromAttributesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mailFrom = append(f.mailFrom, in)
	return &sesv2.PutEmailIdentityMailFromAttributesOutput{}, nil
}

type fixture struct {
	h        *billingtest.Harness
	resolver *fakeResolver
	ses      *fakeSES
	svc      domain.Service
}

func newFixture(t *testing.T, withSES bool) *fixture {
	t.Helper()
	h := billingtest.New(t)
	resolver := newFakeResolver()
	log := zaptest.NewLogger(t)

	f := &fixture{h: h, resolver: resolver}
	params := service.Params{
		Log:   log,
		Clock: h.Clock,
		Cfg: config.Config{
			PlatformName: "Memberhub",
			Environment:  "production",
		},
		Billing:   config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
		Locks:     h.Locks,
		OrgRepo:   h.OrgRepo,
		Validator: service.NewValidator(resolver, log).WithRetryDelay(0),
		Email:     h.Outbox,
	}
	if withSES {
		f.ses = newFakeSES()
		params.SES = f.ses
	}
	f.svc = service.NewService(params)
	return f
}

func (f *fixture) setDomains(t *testing.T, org *orgdomain.Organization, private orgdomain.PrivateMeta, server orgdomain.ServerMeta) {
	t.Helper()
	org.PrivateMeta = datatypes.NewJSONType(private)
	org.ServerMeta = datatypes.NewJSONType(server)
	require.NoError(t, f.h.OrgRepo.Save(context.Background(), org))
}

func (f *fixture) reload(t *testing.T, org *orgdomain.Organization) (orgdomain.PrivateMeta, orgdomain.ServerMeta) {
	t.Helper()
	fresh, err := f.h.OrgRepo.FindByID(context.Background(), org.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	return fresh.PrivateMeta.Data(), fresh.ServerMeta.Data()
}

func ksaRecords() []orgdomain.DNSRecord {
	return []orgdomain.DNSRecord{
		cnameRecord("inschrijven.ksa.be.", "register.memberhub.app."),
		txtRecord("memberhub._domainkey.ksa.be.", "p=MIGfMA0"),
	}
}

func TestUpdateDNSRecordsPromotesRegisterDomainBeforeMail(t *testing.T) {
	f := newFixture(t, false)
	org := f.h.Org
	f.setDomains(t, org, orgdomain.PrivateMeta{
		DNSRecords:            ksaRecords(),
		PendingMailDomain:     aws.String("ksa.be"),
		PendingRegisterDomain: aws.String("inschrijven.ksa.be"),
	}, orgdomain.ServerMeta{})
	f.resolver.cname["inschrijven.ksa.be."] = []string{"register.memberhub.app."}

	result, err := f.svc.UpdateDNSRecords(context.Background(), org.ID)
	require.NoError(t, err)
	assert.True(t, result.Validation.HasAllNonTXT)
	assert.False(t, result.Validation.AllValid)

	private, server := f.reload(t, org)
	assert.Equal(t, "inschrijven.ksa.be", aws.ToString(private.RegisterDomain))
	assert.Nil(t, private.PendingRegisterDomain)
	assert.Nil(t, private.MailDomain)
	assert.Equal(t, "ksa.be", aws.ToString(private.PendingMailDomain))
	assert.False(t, private.MailDomainActive)
	assert.Equal(t, orgdomain.DNSRecordStatusValid, private.DNSRecords[0].Status)
	assert.Equal(t, orgdomain.DNSRecordStatusPending, private.DNSRecords[1].Status)
	require.NotNil(t, server.FirstInvalidDNSRecords)
	assert.True(t, server.FirstInvalidDNSRecords.Equal(billingtest.Start))
	assert.Zero(t, f.h.Outbox.Count())
}

func TestUpdateDNSRecordsActivatesMailDomainOnce(t *testing.T) {
	f := newFixture(t, false)
	org := f.h.Org
	invalidSince := billingtest.Start.Add(-time.Hour)
	f.setDomains(t, org, orgdomain.PrivateMeta{
		DNSRecords:            ksaRecords(),
		PendingMailDomain:     aws.String("ksa.be"),
		PendingRegisterDomain: aws.String("inschrijven.ksa.be"),
	}, orgdomain.ServerMeta{FirstInvalidDNSRecords: &invalidSince, DNSRecordWarningCount: 1})
	f.resolver.cname["inschrijven.ksa.be."] = []string{"register.memberhub.app."}
	f.resolver.txt["memberhub._domainkey.ksa.be."] = [][]string{{"p=MIGfMA0"}}

	result, err := f.svc.UpdateDNSRecords(context.Background(), org.ID)
	require.NoError(t, err)
	assert.True(t, result.BecameActive)

	private, server := f.reload(t, org)
	assert.Equal(t, "ksa.be", aws.ToString(private.MailDomain))
	assert.Nil(t, private.PendingMailDomain)
	assert.True(t, private.MailDomainActive)
	assert.Nil(t, server.FirstInvalidDNSRecords)
	assert.Zero(t, server.DNSRecordWarningCount)

	messages := f.h.Outbox.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "Je e-maildomein ksa.be is actief", messages[0].Subject)

	result, err = f.svc.UpdateDNSRecords(context.Background(), org.ID)
	require.NoError(t, err)
	assert.False(t, result.BecameActive)
	assert.Equal(t, 1, f.h.Outbox.Count())
}

func TestUpdateDNSRecordsDemotionKeepsPendingValue(t *testing.T) {
	f := newFixture(t, false)
	org := f.h.Org
	f.setDomains(t, org, orgdomain.PrivateMeta{
		DNSRecords:            ksaRecords(),
		MailDomain:            aws.String("ksa.be"),
		PendingMailDomain:     aws.String("nieuw.ksa.be"),
		RegisterDomain:        aws.String("inschrijven.ksa.be"),
		PendingRegisterDomain: aws.String("leden.ksa.be"),
		MailDomainActive:      true,
	}, orgdomain.ServerMeta{})

	_, err := f.svc.UpdateDNSRecords(context.Background(), org.ID)
	require.NoError(t, err)

	private, _ := f.reload(t, org)
	assert.Nil(t, private.MailDomain)
	assert.Equal(t, "nieuw.ksa.be", aws.ToString(private.PendingMailDomain))
	assert.Nil(t, private.RegisterDomain)
	assert.Equal(t, "leden.ksa.be", aws.ToString(private.PendingRegisterDomain))
	assert.False(t, private.MailDomainActive)
}

func TestUpdateDNSRecordsDemotesIntoEmptyPending(t *testing.T) {
	f := newFixture(t, false)
	org := f.h.Org
	f.setDomains(t, org, orgdomain.PrivateMeta{
		DNSRecords:       ksaRecords(),
		MailDomain:       aws.String("ksa.be"),
		RegisterDomain:   aws.String("inschrijven.ksa.be"),
		MailDomainActive: true,
	}, orgdomain.ServerMeta{})

	_, err := f.svc.UpdateDNSRecords(context.Background(), org.ID)
	require.NoError(t, err)

	private, _ := f.reload(t, org)
	assert.Equal(t, "ksa.be", aws.ToString(private.PendingMailDomain))
	assert.Equal(t, "inschrijven.ksa.be", aws.ToString(private.PendingRegisterDomain))
}

func TestUpdateDNSRecordsWarningSchedule(t *testing.T) {
	f := newFixture(t, false)
	org := f.h.Org
	f.setDomains(t, org, orgdomain.PrivateMeta{
		DNSRecords:        ksaRecords(),
		PendingMailDomain: aws.String("ksa.be"),
	}, orgdomain.ServerMeta{})

	ctx := context.Background()
	run := func() *domain.ReconcileResult {
		result, err := f.svc.UpdateDNSRecords(ctx, org.ID)
		require.NoError(t, err)
		return result
	}

	assert.False(t, run().WarningSent)

	f.h.Clock.Advance(time.Hour)
	assert.False(t, run().WarningSent)

	f.h.Clock.Advance(time.Hour)
	assert.True(t, run().WarningSent)

	f.h.Clock.Advance(23 * time.Hour)
	assert.False(t, run().WarningSent)

	f.h.Clock.Advance(time.Hour)
	assert.True(t, run().WarningSent)

	f.h.Clock.Advance(7 * 24 * time.Hour)
	assert.False(t, run().WarningSent)

	_, server := f.reload(t, org)
	assert.Equal(t, 2, server.DNSRecordWarningCount)
	assert.True(t, server.FirstInvalidDNSRecords.Equal(billingtest.Start))

	messages := f.h.Outbox.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "DNS-records van ksa.be zijn ongeldig", messages[0].Subject)
	assert.Equal(t, "Herinnering: DNS-records van ksa.be zijn nog steeds ongeldig", messages[1].Subject)
}

func TestUpdateDNSRecordsConcurrentRunsWarnOnce(t *testing.T) {
	f := newFixture(t, false)
	org := f.h.Org
	firstInvalid := billingtest.Start.Add(-3 * time.Hour)
	f.setDomains(t, org, orgdomain.PrivateMeta{
		DNSRecords:        ksaRecords(),
		PendingMailDomain: aws.String("ksa.be"),
	}, orgdomain.ServerMeta{FirstInvalidDNSRecords: &firstInvalid})

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.UpdateDNSRecords(ctx, org.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, server := f.reload(t, org)
	assert.Equal(t, 1, server.DNSRecordWarningCount)
	assert.Len(t, f.h.Outbox.Messages(), 1)
}

func TestUpdateDNSRecordsWithoutRecordsIsSkipped(t *testing.T) {
	f := newFixture(t, false)

	result, err := f.svc.UpdateDNSRecords(context.Background(), f.h.Org.ID)
	require.NoError(t, err)
	assert.False(t, result.Validation.AllValid)

	private, server := f.reload(t, f.h.Org)
	assert.Empty(t, private.DNSRecords)
	assert.Nil(t, server.FirstInvalidDNSRecords)
}

func TestUpdateDNSRecordsUnknownOrganization(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.UpdateDNSRecords(context.Background(), f.h.Node.Generate())
	assert.ErrorIs(t, err, orgdomain.ErrOrganizationNotFound)
}

func TestListWithDNSRecords(t *testing.T) {
	f := newFixture(t, false)
	other := f.h.NewOrganization(t, "Chiro Zuid")
	f.setDomains(t, other, orgdomain.PrivateMeta{DNSRecords: ksaRecords()}, orgdomain.ServerMeta{})

	ids, err := f.svc.ListWithDNSRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{other.ID.String()}, idStrings(ids))
}

func withMailDomain(org *orgdomain.Organization, mailDomain string) {
	org.PrivateMeta = datatypes.NewJSONType(orgdomain.PrivateMeta{
		MailDomain:     aws.String(mailDomain),
		MailFromDomain: aws.String("bounces." + mailDomain),
	})
	org.ServerMeta = datatypes.NewJSONType(orgdomain.ServerMeta{
		PrivateDKIMKey: aws.String("MIIEvQIBADANBgkqhkiG9w0BAQEFAASC"),
	})
}

func TestUpdateMailIdentityCreatesIdentity(t *testing.T) {
	f := newFixture(t, true)
	org := f.h.Org
	withMailDomain(org, "ksa.be")

	require.NoError(t, f.svc.UpdateMailIdentity(context.Background(), org))

	require.Len(t, f.ses.created, 1)
	created := f.ses.created[0]
	assert.Equal(t, "ksa.be", aws.ToString(created.EmailIdentity))
	assert.Equal(t, "memberhub-domains", aws.ToString(created.ConfigurationSetName))
	assert.Equal(t, "memberhub", aws.ToString(created.DkimSigningAttributes.DomainSigningSelector))
	assert.Equal(t, "MIIEvQIBADANBgkqhkiG9w0BAQEFAASC", aws.ToString(created.DkimSigningAttributes.DomainSigningPrivateKey))
	require.Len(t, created.Tags, 2)
	assert.Equal(t, org.ID.String(), aws.ToString(created.Tags[0].Value))
	assert.Equal(t, "production", aws.ToString(created.Tags[1].Value))

	require.Len(t, f.ses.feedback, 1)
	assert.False(t, f.ses.feedback[0].EmailForwardingEnabled)

	require.Len(t, f.ses.mailFrom, 1)
	assert.Equal(t, "bounces.ksa.be", aws.ToString(f.ses.mailFrom[0].MailFromDomain))
	assert.Equal(t, sestypes.BehaviorOnMxFailureUseDefaultValue, f.ses.mailFrom[0].BehaviorOnMxFailure)

	assert.False(t, org.PrivateMeta.Data().MailDomainActive)
}

func TestUpdateMailIdentityUsesVerifiedIdentity(t *testing.T) {
	f := newFixture(t, true)
	org := f.h.Org
	withMailDomain(org, "ksa.be")
	f.ses.identities["ksa.be"] = &sesv2.GetEmailIdentityOutput{
		ConfigurationSetName:     aws.String("memberhub-domains"),
		VerifiedForSendingStatus: true,
		MailFromAttributes: &sestypes.MailFromAttributes{
			MailFromDomain: aws.String("bounces.ksa.be"),
		},
	}

	require.NoError(t, f.svc.UpdateMailIdentity(context.Background(), org))

	assert.True(t, org.PrivateMeta.Data().MailDomainActive)
	assert.Empty(t, f.ses.created)
	assert.Empty(t, f.ses.mailFrom)
}

func TestUpdateMailIdentityRefusesForeignIdentity(t *testing.T) {
	f := newFixture(t, true)
	org := f.h.Org
	withMailDomain(org, "ksa.be")
	private := org.PrivateMeta.Data()
	private.MailDomainActive = true
	org.PrivateMeta = datatypes.NewJSONType(private)
	f.ses.identities["ksa.be"] = &sesv2.GetEmailIdentityOutput{
		ConfigurationSetName:     aws.String("other-platform-domains"),
		VerifiedForSendingStatus: true,
	}

	err := f.svc.UpdateMailIdentity(context.Background(), org)
	assert.ErrorIs(t, err, domain.ErrIdentityNotOwned)
	assert.False(t, org.PrivateMeta.Data().MailDomainActive)
	assert.Empty(t, f.ses.created)
	assert.Empty(t, f.ses.deleted)
}

func TestUpdateMailIdentityRecreatesAfterDKIMFailure(t *testing.T) {
	f := newFixture(t, true)
	org := f.h.Org
	withMailDomain(org, "ksa.be")
	f.ses.identities["ksa.be"] = &sesv2.GetEmailIdentityOutput{
		ConfigurationSetName: aws.String("memberhub-domains"),
		DkimAttributes:       &sestypes.DkimAttributes{Status: sestypes.DkimStatusFailed},
		MailFromAttributes: &sestypes.MailFromAttributes{
			MailFromDomain: aws.String("bounces.ksa.be"),
		},
	}

	require.NoError(t, f.svc.UpdateMailIdentity(context.Background(), org))

	assert.Equal(t, []string{"ksa.be"}, f.ses.deleted)
	assert.Len(t, f.ses.created, 1)
	assert.Len(t, f.ses.mailFrom, 1)
}

func TestUpdateMailIdentityProtectedDomain(t *testing.T) {
	f := newFixture(t, true)
	org := f.h.Org
	withMailDomain(org, "mail.memberhub.app")

	err := f.svc.UpdateMailIdentity(context.Background(), org)
	assert.ErrorIs(t, err, domain.ErrProtectedDomain)
	assert.False(t, org.PrivateMeta.Data().MailDomainActive)
	assert.Empty(t, f.ses.created)
}

func TestUpdateMailIdentityRequiresDKIMKey(t *testing.T) {
	f := newFixture(t, true)
	org := f.h.Org
	withMailDomain(org, "ksa.be")
	org.ServerMeta = datatypes.NewJSONType(orgdomain.ServerMeta{})

	err := f.svc.UpdateMailIdentity(context.Background(), org)
	assert.ErrorIs(t, err, domain.ErrMissingDKIMKey)
	assert.Empty(t, f.ses.created)
}

func TestUpdateMailIdentityWithoutSESActivates(t *testing.T) {
	f := newFixture(t, false)
	org := f.h.Org
	withMailDomain(org, "ksa.be")

	require.NoError(t, f.svc.UpdateMailIdentity(context.Background(), org))
	assert.True(t, org.PrivateMeta.Data().MailDomainActive)
}

func TestDeleteMailIdentity(t *testing.T) {
	f := newFixture(t, true)
	org := f.h.Org
	ctx := context.Background()
	f.ses.identities["verified.be"] = &sesv2.GetEmailIdentityOutput{VerifiedForSendingStatus: true}
	f.ses.identities["stale.be"] = &sesv2.GetEmailIdentityOutput{}

	assert.ErrorIs(t, f.svc.DeleteMailIdentity(ctx, org, "verified.be"), domain.ErrIdentityVerified)
	assert.NoError(t, f.svc.DeleteMailIdentity(ctx, org, "stale.be"))
	assert.NoError(t, f.svc.DeleteMailIdentity(ctx, org, "unknown.be"))
	assert.ErrorIs(t, f.svc.DeleteMailIdentity(ctx, org, "memberhub.be"), domain.ErrProtectedDomain)
	assert.ErrorIs(t, f.svc.DeleteMailIdentity(ctx, org, " "), domain.ErrNoDomainConfigured)

	assert.Equal(t, []string{"stale.be"}, f.ses.deleted)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, ses.IsNotFound(&sestypes.NotFoundException{}))
	assert.False(t, ses.IsNotFound(context.Canceled))
}

func idStrings[T interface{ String() string }](ids []T) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
