package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/billingpackage/domain"
	"github.com/smallbiznis/memberhub/internal/clock"
	"github.com/smallbiznis/memberhub/internal/config"
	orgdomain "github.com/smallbiznis/memberhub/internal/organization/domain"
	"github.com/smallbiznis/memberhub/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const renewURLFormat = "https://%s/settings/packages"

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	OrgRepo      orgdomain.Repository
	Bootstrapper orgdomain.GroupBootstrapper
	Email        email.Provider
	Billing      *config.BillingConfigHolder
	Cfg          config.Config
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	repo         domain.Repository
	orgRepo      orgdomain.Repository
	bootstrapper orgdomain.GroupBootstrapper
	email        email.Provider
	billing      *config.BillingConfigHolder
	dashboard    string
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("package.service"),
		genID: p.GenID,
		clock: p.Clock,

		repo:         p.Repo,
		orgRepo:      p.OrgRepo,
		bootstrapper: p.Bootstrapper,
		email:        p.Email,
		billing:      p.Billing,
		dashboard:    p.Cfg.DashboardDomain,
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Package, error) {
	pkg, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, domain.ErrPackageNotFound
	}
	return pkg, nil
}

func (s *Service) Create(ctx context.Context, pkg *domain.Package) error {
	if pkg == nil || pkg.OrganizationID == 0 {
		return domain.ErrInvalidPackage
	}
	if pkg.ID == 0 {
		pkg.ID = s.genID.Generate()
	}
	return s.repo.Insert(ctx, s.db, pkg)
}

// Activate starts the entitlement. Repeated calls keep the first validAt.
func (s *Service) Activate(ctx context.Context, pkg *domain.Package) error {
	if pkg.ValidAt != nil {
		return nil
	}
	now := s.clock.Now()
	pkg.ValidAt = &now
	if err := s.repo.Save(ctx, s.db, pkg); err != nil {
		return err
	}

	meta := pkg.Data()
	if meta.DidRenewID == nil {
		return nil
	}
	previous, err := s.repo.FindByID(ctx, s.db, *meta.DidRenewID)
	if err != nil {
		return err
	}
	if previous == nil || previous.OrganizationID != pkg.OrganizationID {
		s.log.Warn("package.renewal_source_missing",
			zap.String("package_id", pkg.ID.String()),
			zap.String("did_renew_id", meta.DidRenewID.String()),
		)
		return nil
	}
	return s.didRenew(ctx, previous, pkg)
}

func (s *Service) didRenew(ctx context.Context, previous, renewed *domain.Package) error {
	removeAt := renewed.Data().StartDate
	previous.RemoveAt = &removeAt
	previous.UpdateMeta(func(meta *domain.PackageMeta) {
		meta.AllowRenew = false
	})
	return s.repo.Save(ctx, s.db, previous)
}

func (s *Service) Deactivate(ctx context.Context, pkg *domain.Package) error {
	now := s.clock.Now()
	if pkg.RemoveAt != nil && !pkg.RemoveAt.After(now) {
		return nil
	}
	pkg.RemoveAt = &now
	return s.repo.Save(ctx, s.db, pkg)
}

// CreateRenewed returns an unsaved successor of pkg.
func (s *Service) CreateRenewed(ctx context.Context, pkg *domain.Package) (*domain.Package, error) {
	policy := domain.DefaultRenewalPolicy()
	policy.GraceMonths = s.billing.Get().RenewalGraceMonths
	return domain.CreateRenewed(pkg, s.genID.Generate(), s.clock.Now(), policy)
}

func (s *Service) GetActiveForOrganization(ctx context.Context, orgID snowflake.ID) ([]*domain.Package, error) {
	return s.repo.ListActive(ctx, s.db, orgID, s.clock.Now())
}

// UpdateOrganizationPackages recomputes the cached package status of an organization.
func (s *Service) UpdateOrganizationPackages(ctx context.Context, orgID snowflake.ID) error {
	now := s.clock.Now()
	grace := s.billing.Get().FailedPaymentGrace

	org, err := s.orgRepo.FindByID(ctx, orgID)
	if err != nil {
		return err
	}
	if org == nil {
		return orgdomain.ErrOrganizationNotFound
	}

	pkgs, err := s.repo.ListActive(ctx, s.db, orgID, now)
	if err != nil {
		return err
	}

	statuses := make(map[domain.PackageType]domain.PackageStatus, len(pkgs))
	for _, pkg := range pkgs {
		status := pkg.Status()
		if existing, ok := statuses[pkg.Type()]; ok {
			status = existing.Merge(status)
		}
		statuses[pkg.Type()] = status
	}

	meta := org.Meta.Data()
	before := meta.Packages.Entitlement(now, grace)
	meta.Packages = orgdomain.OrganizationPackages{Packages: statuses}
	after := meta.Packages.Entitlement(now, grace)
	org.Meta = datatypes.NewJSONType(meta)

	if err := s.orgRepo.Save(ctx, org); err != nil {
		return err
	}

	if !(before.Members && before.Activities) && after.Members && after.Activities {
		s.log.Info("organization.bootstrap_groups", zap.String("organization_id", orgID.String()))
		if err := s.bootstrapper.Bootstrap(ctx, org); err != nil {
			return fmt.Errorf("bootstrap groups: %w", err)
		}
	}
	return nil
}

// SendExpiryReminders mails admins about packages that expire soon. It returns
// the number of reminders sent.
func (s *Service) SendExpiryReminders(ctx context.Context) (int, error) {
	now := s.clock.Now()
	until := now.AddDate(0, 0, domain.MaxReminderDays())

	pkgs, err := s.repo.ListReminderCandidates(ctx, s.db, until, 1)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, pkg := range pkgs {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		switch pkg.ReminderAction(now) {
		case domain.ReminderSkip:
			continue
		case domain.ReminderSend:
			if err := s.sendReminder(ctx, pkg); err != nil {
				s.log.Error("package.reminder_failed",
					zap.String("package_id", pkg.ID.String()),
					zap.Error(err),
				)
			} else {
				sent++
			}
			pkg.LastEmailAt = &now
		}
		pkg.EmailCount++
		if err := s.repo.Save(ctx, s.db, pkg); err != nil {
			return sent, err
		}
	}
	return sent, nil
}

func (s *Service) sendReminder(ctx context.Context, pkg *domain.Package) error {
	org, err := s.orgRepo.FindByID(ctx, pkg.OrganizationID)
	if err != nil {
		return err
	}
	if org == nil {
		return errors.New("package organization not found")
	}
	admins, err := s.orgRepo.ListAdmins(ctx, org.ID)
	if err != nil {
		return err
	}
	if len(admins) == 0 {
		return nil
	}

	to := make([]string, 0, len(admins))
	for _, admin := range admins {
		to = append(to, admin.Email)
	}
	msg, err := email.Render(email.TemplatePackageExpiring, to, map[string]any{
		"OrganizationName": org.Name,
		"PackageName":      pkg.Name(),
		"ValidUntil":       pkg.ValidUntil.Format("02/01/2006"),
		"RenewURL":         fmt.Sprintf(renewURLFormat, s.dashboard),
	})
	if err != nil {
		return err
	}
	return s.email.Send(ctx, msg)
}
