package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/memberhub/internal/billinglock"
	"github.com/smallbiznis/memberhub/internal/clock"
	"github.com/smallbiznis/memberhub/internal/config"
	"github.com/smallbiznis/memberhub/internal/maildomain/domain"
	"github.com/smallbiznis/memberhub/internal/observability/metrics"
	"github.com/smallbiznis/memberhub/internal/observability/tracing"
	orgdomain "github.com/smallbiznis/memberhub/internal/organization/domain"
	"github.com/smallbiznis/memberhub/internal/providers/email"
	"github.com/smallbiznis/memberhub/internal/providers/ses"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Cfg       config.Config
	Billing   *config.BillingConfigHolder
	Locks     *billinglock.Locks
	OrgRepo   orgdomain.Repository
	Validator domain.Validator
	Email     email.Provider
	SES       ses.API          `optional:"true"`
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	log   *zap.Logger
	clock clock.Clock

	platformName string
	environment  string
	billing      *config.BillingConfigHolder

	locks     *billinglock.Locks
	orgRepo   orgdomain.Repository
	validator domain.Validator
	email     email.Provider
	ses       ses.API
	metrics   *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		log:   p.Log.Named("maildomain.service"),
		clock: p.Clock,

		platformName: p.Cfg.PlatformName,
		environment:  p.Cfg.Environment,
		billing:      p.Billing,

		locks:     p.Locks,
		orgRepo:   p.OrgRepo,
		validator: p.Validator,
		email:     p.Email,
		ses:       p.SES,
		metrics:   p.Metrics,
	}
}

func (s *Service) ListWithDNSRecords(ctx context.Context) ([]snowflake.ID, error) {
	ids, err := s.orgRepo.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		org, err := s.orgRepo.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if org != nil && len(org.PrivateMeta.Data().DNSRecords) > 0 {
			result = append(result, id)
		}
	}
	return result, nil
}

func (s *Service) UpdateDNSRecords(ctx context.Context, orgID snowflake.ID) (*domain.ReconcileResult, error) {
	ctx, span := tracing.StartSpan(ctx, "maildomain.UpdateDNSRecords", attribute.String("organization_id", orgID.String()))
	defer span.End()

	var result *domain.ReconcileResult
	err := s.locks.WithOrganizationMailLock(ctx, orgID, func(ctx context.Context) error {
		var err error
		result, err = s.updateDNSRecords(ctx, orgID)
		return err
	})
	return result, err
}

func (s *Service) updateDNSRecords(ctx context.Context, orgID snowflake.ID) (*domain.ReconcileResult, error) {
	org, err := s.orgRepo.FindByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, orgdomain.ErrOrganizationNotFound
	}

	private := org.PrivateMeta.Data()
	if len(private.DNSRecords) == 0 {
		s.metrics.RecordDNSReconcile(ctx, "skipped")
		return &domain.ReconcileResult{}, nil
	}

	log := s.log.With(zap.String("organization_id", orgID.String()))
	records := slices.Clone(private.DNSRecords)
	validation := s.validator.Validate(ctx, records)
	private.DNSRecords = records

	if validation.HasAllNonTXT {
		if private.PendingRegisterDomain != nil {
			private.RegisterDomain = private.PendingRegisterDomain
			private.PendingRegisterDomain = nil
		}
	} else if private.RegisterDomain != nil {
		if private.PendingRegisterDomain == nil {
			private.PendingRegisterDomain = private.RegisterDomain
		}
		private.RegisterDomain = nil
	}

	server := org.ServerMeta.Data()
	now := s.clock.Now()
	result := &domain.ReconcileResult{Validation: validation, Records: records}

	if validation.AllValid {
		if private.PendingMailDomain != nil {
			private.MailDomain = private.PendingMailDomain
			private.PendingMailDomain = nil
		}
		server.FirstInvalidDNSRecords = nil
		server.DNSRecordWarningCount = 0

		wasActive := private.MailDomainActive
		org.PrivateMeta = datatypes.NewJSONType(private)
		org.ServerMeta = datatypes.NewJSONType(server)
		if !wasActive {
			if err := s.UpdateMailIdentity(ctx, org); err != nil {
				log.Error("maildomain.identity_failed", zap.Error(err))
			}
		}
		if err := s.orgRepo.SaveDomainState(ctx, org); err != nil {
			return nil, err
		}

		private = org.PrivateMeta.Data()
		result.MailDomainActive = private.MailDomainActive
		if !wasActive && private.MailDomainActive && private.MailDomain != nil {
			result.BecameActive = true
			s.notifyAdmins(ctx, org, email.TemplateMailDomainActive, *private.MailDomain)
		}
		s.metrics.RecordDNSReconcile(ctx, "valid")
		log.Info("maildomain.records_valid", zap.Bool("mail_domain_active", private.MailDomainActive))
		return result, nil
	}

	if private.MailDomain != nil {
		if private.PendingMailDomain == nil {
			private.PendingMailDomain = private.MailDomain
		}
		private.MailDomain = nil
	}
	private.MailDomainActive = false

	template := ""
	if server.FirstInvalidDNSRecords == nil {
		server.FirstInvalidDNSRecords = &now
	} else if s.warningDue(*server.FirstInvalidDNSRecords, server.DNSRecordWarningCount, now) {
		server.DNSRecordWarningCount++
		template = email.TemplateDNSInvalid
		if server.DNSRecordWarningCount > 1 {
			template = email.TemplateDNSInvalidRepeat
		}
	}

	org.PrivateMeta = datatypes.NewJSONType(private)
	org.ServerMeta = datatypes.NewJSONType(server)
	if err := s.orgRepo.SaveDomainState(ctx, org); err != nil {
		return nil, err
	}

	if template != "" {
		result.WarningSent = true
		s.notifyAdmins(ctx, org, template, domainName(private))
	}
	s.metrics.RecordDNSReconcile(ctx, "invalid")
	log.Info("maildomain.records_invalid",
		zap.Bool("has_all_non_txt", validation.HasAllNonTXT),
		zap.Int("warning_count", server.DNSRecordWarningCount),
	)
	return result, nil
}

// warningDue reports whether the next notice may go out. Every warning already
// sent pushes the next one back by the repeat interval.
func (s *Service) warningDue(firstInvalid time.Time, count int, now time.Time) bool {
	cfg := s.billing.Get().DNS
	if count >= cfg.MaxWarnings {
		return false
	}
	threshold := now.Add(-cfg.WarningBackoff - time.Duration(count)*cfg.WarningRepeat)
	return !firstInvalid.After(threshold)
}

func (s *Service) UpdateMailIdentity(ctx context.Context, org *orgdomain.Organization) error {
	private := org.PrivateMeta.Data()
	if private.MailDomain == nil {
		return nil
	}
	defer func() {
		org.PrivateMeta = datatypes.NewJSONType(private)
	}()

	mailDomain := *private.MailDomain
	log := s.log.With(
		zap.String("organization_id", org.ID.String()),
		zap.String("mail_domain", mailDomain),
	)

	if s.billing.Get().IsProtectedDomain(mailDomain) {
		private.MailDomainActive = false
		return domain.ErrProtectedDomain
	}

	if s.ses == nil {
		private.MailDomainActive = true
		return nil
	}

	expectedSet := s.configurationSetName()
	existing, err := s.ses.GetEmailIdentity(ctx, &sesv2.GetEmailIdentityInput{
		EmailIdentity: aws.String(mailDomain),
	})
	exists := err == nil
	if err != nil && !ses.IsNotFound(err) {
		return fmt.Errorf("get email identity: %w", err)
	}

	if exists {
		if aws.ToString(existing.ConfigurationSetName) != expectedSet {
			private.MailDomainActive = false
			log.Error("maildomain.identity_not_owned", zap.String("configuration_set", aws.ToString(existing.ConfigurationSetName)))
			return domain.ErrIdentityNotOwned
		}

		private.MailDomainActive = existing.VerifiedForSendingStatus
		if !existing.VerifiedForSendingStatus && existing.DkimAttributes != nil && existing.DkimAttributes.Status == sestypes.DkimStatusFailed {
			log.Warn("maildomain.dkim_failed_recreate")
			if _, err := s.ses.DeleteEmailIdentity(ctx, &sesv2.DeleteEmailIdentityInput{
				EmailIdentity: aws.String(mailDomain),
			}); err != nil {
				return fmt.Errorf("delete email identity: %w", err)
			}
			exists = false
		}
	}

	if !exists {
		key := org.ServerMeta.Data().PrivateDKIMKey
		if key == nil || *key == "" {
			private.MailDomainActive = false
			return domain.ErrMissingDKIMKey
		}

		created, err := s.ses.CreateEmailIdentity(ctx, &sesv2.CreateEmailIdentityInput{
			EmailIdentity:        aws.String(mailDomain),
			ConfigurationSetName: aws.String(expectedSet),
			DkimSigningAttributes: &sestypes.DkimSigningAttributes{
				DomainSigningPrivateKey: key,
				DomainSigningSelector:   aws.String(slug.Make(s.platformName)),
			},
			Tags: []sestypes.Tag{
				{Key: aws.String("OrganizationId"), Value: aws.String(org.ID.String())},
				{Key: aws.String("Environment"), Value: aws.String(s.environment)},
			},
		})
		if err != nil {
			private.MailDomainActive = false
			return fmt.Errorf("create email identity: %w", err)
		}
		private.MailDomainActive = created.VerifiedForSendingStatus
		log.Info("maildomain.identity_created", zap.Bool("verified", created.VerifiedForSendingStatus))

		if _, err := s.ses.PutEmailIdentityFeedbackAttributes(ctx, &sesv2.PutEmailIdentityFeedbackAttributesInput{
			EmailIdentity:          aws.String(mailDomain),
			EmailForwardingEnabled: false,
		}); err != nil {
			return fmt.Errorf("disable feedback forwarding: %w", err)
		}
	}

	if private.MailFromDomain != nil && mailFromOutdated(exists, existing, *private.MailFromDomain) {
		log.Info("maildomain.mail_from_update", zap.String("mail_from_domain", *private.MailFromDomain))
		if _, err := s.ses.PutEmailIdentityMailFromAttributes(ctx, &sesv2.PutEmailIdentityMailFromAttributesInput{
			EmailIdentity:       aws.String(mailDomain),
			MailFromDomain:      private.MailFromDomain,
			BehaviorOnMxFailure: sestypes.BehaviorOnMxFailureUseDefaultValue,
		}); err != nil {
			return fmt.Errorf("put mail from attributes: %w", err)
		}
	}
	return nil
}

func mailFromOutdated(exists bool, existing *sesv2.GetEmailIdentityOutput, want string) bool {
	if !exists || existing == nil || existing.MailFromAttributes == nil {
		return true
	}
	return aws.ToString(existing.MailFromAttributes.MailFromDomain) != want
}

func (s *Service) DeleteMailIdentity(ctx context.Context, org *orgdomain.Organization, mailDomain string) error {
	if strings.TrimSpace(mailDomain) == "" {
		return domain.ErrNoDomainConfigured
	}
	if s.billing.Get().IsProtectedDomain(mailDomain) {
		return domain.ErrProtectedDomain
	}
	if s.ses == nil {
		return nil
	}

	existing, err := s.ses.GetEmailIdentity(ctx, &sesv2.GetEmailIdentityInput{
		EmailIdentity: aws.String(mailDomain),
	})
	if err != nil {
		if ses.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("get email identity: %w", err)
	}
	if existing.VerifiedForSendingStatus {
		return domain.ErrIdentityVerified
	}

	if _, err := s.ses.DeleteEmailIdentity(ctx, &sesv2.DeleteEmailIdentityInput{
		EmailIdentity: aws.String(mailDomain),
	}); err != nil {
		return fmt.Errorf("delete email identity: %w", err)
	}
	s.log.Info("maildomain.identity_deleted",
		zap.String("organization_id", org.ID.String()),
		zap.String("mail_domain", mailDomain),
	)
	return nil
}

func (s *Service) configurationSetName() string {
	return slug.Make(s.platformName + "-domains")
}

// notifyAdmins is best effort; failures are logged.
func (s *Service) notifyAdmins(ctx context.Context, org *orgdomain.Organization, template, mailDomain string) {
	log := s.log.With(
		zap.String("organization_id", org.ID.String()),
		zap.String("template", template),
	)
	admins, err := s.orgRepo.ListAdmins(ctx, org.ID)
	if err != nil {
		log.Error("maildomain.list_admins_failed", zap.Error(err))
		return
	}
	if len(admins) == 0 {
		return
	}
	to := make([]string, 0, len(admins))
	for _, admin := range admins {
		to = append(to, admin.Email)
	}
	msg, err := email.Render(template, to, map[string]any{
		"Domain":           mailDomain,
		"OrganizationName": org.Name,
	})
	if err != nil {
		log.Error("maildomain.render_failed", zap.Error(err))
		return
	}
	if err := s.email.Send(ctx, msg); err != nil {
		log.Error("maildomain.notify_failed", zap.Error(err))
	}
}

func domainName(private orgdomain.PrivateMeta) string {
	for _, d := range []*string{private.MailDomain, private.PendingMailDomain, private.RegisterDomain, private.PendingRegisterDomain} {
		if d != nil {
			return *d
		}
	}
	return ""
}
