package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/memberhub/internal/billingerror"
	packagedomain "github.com/smallbiznis/memberhub/internal/billingpackage/domain"
	"github.com/smallbiznis/memberhub/internal/clock"
	maildomain "github.com/smallbiznis/memberhub/internal/maildomain/domain"
	obsmetrics "github.com/smallbiznis/memberhub/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/memberhub/internal/organization/domain"
	pendingdomain "github.com/smallbiznis/memberhub/internal/pendinginvoice/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobDNSReconcile     = "dns_reconcile"
	JobBillingRun       = "billing_run"
	JobPackageReminders = "package_reminders"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	OrgRepo     orgdomain.Repository
	PendingRepo pendingdomain.Repository
	Pending     pendingdomain.Service
	Charger     pendingdomain.Charger
	Packages    packagedomain.Service
	MailDomains maildomain.Service
	Config      Config `optional:"true"`
}

type Scheduler struct {
	db    *gorm.DB
	log   *zap.Logger
	cfg   Config
	genID *snowflake.Node
	clock clock.Clock

	orgRepo     orgdomain.Repository
	pendingRepo pendingdomain.Repository
	pending     pendingdomain.Service
	charger     pendingdomain.Charger
	packages    packagedomain.Service
	mailDomains maildomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.OrgRepo == nil ||
		p.PendingRepo == nil || p.Pending == nil || p.Charger == nil || p.Packages == nil || p.MailDomains == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:    p.DB,
		log:   p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:   p.Config.withDefaults(),
		genID: p.GenID,
		clock: p.Clock,

		orgRepo:     p.OrgRepo,
		pendingRepo: p.PendingRepo,
		pending:     p.Pending,
		charger:     p.Charger,
		packages:    p.Packages,
		mailDomains: p.MailDomains,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// Register adds every job to c.
func (s *Scheduler) Register(c *cron.Cron) error {
	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{JobDNSReconcile, s.cfg.DNSReconcile, s.RunDNSReconcile},
		{JobBillingRun, s.cfg.BillingRun, s.RunBilling},
		{JobPackageReminders, s.cfg.PackageReminders, s.RunPackageReminders},
	}
	for _, job := range jobs {
		run := job.run
		name := job.name
		if _, err := c.AddFunc(job.schedule, func() {
			if err := run(context.Background()); err != nil {
				s.log.Warn("scheduler run failed", zap.String("job", name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s %q: %w", job.name, job.schedule, err)
		}
	}
	return nil
}

// RunOnce runs every job sequentially.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return errors.Join(
		s.RunDNSReconcile(ctx),
		s.RunBilling(ctx),
		s.RunPackageReminders(ctx),
	)
}

func (s *Scheduler) RunDNSReconcile(ctx context.Context) error {
	return s.runJob(ctx, JobDNSReconcile, s.cfg.DNSReconcileTimeout, s.DNSReconcileJob)
}

func (s *Scheduler) RunBilling(ctx context.Context) error {
	return s.runJob(ctx, JobBillingRun, s.cfg.BillingRunTimeout, s.BillingRunJob)
}

func (s *Scheduler) RunPackageReminders(ctx context.Context) error {
	return s.runJob(ctx, JobPackageReminders, s.cfg.PackageRemindersTimeout, s.PackageRemindersJob)
}

// DNSReconcileJob runs one reconciliation pass per organization with DNS records.
func (s *Scheduler) DNSReconcileJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	ids, err := s.mailDomains.ListWithDNSRecords(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.mailDomains.UpdateDNSRecords(ctx, id); err != nil {
			s.logOrganizationError(ctx, run, "scheduler.dns_reconcile_failed", id, err)
			continue
		}
		run.AddProcessed(1)
	}
	return nil
}

// BillingRunJob queues the items every organization owes and charges every
// organization with an unlocked pending invoice.
func (s *Scheduler) BillingRunJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	ids, err := s.orgRepo.ListIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.pending.Queue(ctx, id); err != nil {
			s.logOrganizationError(ctx, run, "scheduler.queue_failed", id, err)
		}
	}

	chargeable, err := s.pendingRepo.ListChargeable(ctx, s.db)
	if err != nil {
		return err
	}
	for _, id := range chargeable {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := s.charger.ChargeOrganization(ctx, id)
		if err != nil {
			if be, ok := billingerror.As(err); ok {
				s.logger(s.withLogContext(ctx, id)).Info("scheduler.charge_skipped", zap.String("code", be.Code))
				run.AddSkipped(1)
				continue
			}
			s.logOrganizationError(ctx, run, "scheduler.charge_failed", id, err)
			continue
		}
		run.AddProcessed(1)
		s.logger(s.withLogContext(ctx, id)).Info("scheduler.charged",
			zap.String("invoice_id", result.Invoice.ID.String()),
		)
	}
	return nil
}

func (s *Scheduler) PackageRemindersJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	sent, err := s.packages.SendExpiryReminders(ctx)
	run.AddProcessed(sent)
	return err
}
