package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/memberhub/internal/billingtest"
	"github.com/smallbiznis/memberhub/internal/clock"
	maildomain "github.com/smallbiznis/memberhub/internal/maildomain/domain"
	obsmetrics "github.com/smallbiznis/memberhub/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/memberhub/internal/organization/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "memberhub",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	err = s.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{
		"service": "memberhub",
		"env":     "test",
		"job":     "timeout_job",
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "memberhub_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "memberhub",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "memberhub_scheduler_job_errors_total", errorLabels))
}

func TestRunJobWrapsErrors(t *testing.T) {
	restore := swapPrometheusRegistry(prometheus.NewRegistry())
	defer restore()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	boom := errors.New("boom")
	err = s.runJob(context.Background(), "failing_job", time.Second, func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing_job")
}

type fakeMailDomains struct {
	maildomain.Service

	mu      sync.Mutex
	ids     []snowflake.ID
	failing map[snowflake.ID]bool
	updated []snowflake.ID
}

func (f *fakeMailDomains) ListWithDNSRecords(context.Context) ([]snowflake.ID, error) {
	return f.ids, nil
}

func (f *fakeMailDomains) UpdateDNSRecords(_ context.Context, orgID snowflake.ID) (*maildomain.ReconcileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, orgID)
	if f.failing[orgID] {
		return nil, orgdomain.ErrOrganizationNotFound
	}
	return &maildomain.ReconcileResult{}, nil
}

func newTestScheduler(t *testing.T, h *billingtest.Harness, mail maildomain.Service) *Scheduler {
	t.Helper()
	restore := swapPrometheusRegistry(prometheus.NewRegistry())
	t.Cleanup(restore)

	s, err := New(Params{
		DB:          h.DB,
		Log:         zaptest.NewLogger(t),
		GenID:       h.Node,
		Clock:       h.Clock,
		OrgRepo:     h.OrgRepo,
		PendingRepo: h.PendingRepo,
		Pending:     h.Pending,
		Charger:     h.Charger,
		Packages:    h.Packages,
		MailDomains: mail,
	})
	require.NoError(t, err)
	return s
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBillingRunQueuesAndCharges(t *testing.T) {
	h := billingtest.New(t)
	h.AddMembers(t, h.Org, 10)
	h.NewPackage(t, h.Org, billingtest.MembersPackage(500))
	h.LinkMollie(t, h.Org, "directdebit")

	other := h.NewOrganization(t, "Chiro Zuid")
	h.AddMembers(t, other, 4)
	h.NewPackage(t, other, billingtest.MembersPackage(500))

	s := newTestScheduler(t, h, &fakeMailDomains{})
	require.NoError(t, s.RunBilling(context.Background()))

	require.Len(t, h.Mollie.Created, 1)
	assert.Equal(t, "0.61", h.Mollie.Created[0].Amount.Value)

	pending := h.PendingFor(t, h.Org)
	require.NotNil(t, pending)
	assert.True(t, pending.IsLocked())

	otherPending := h.PendingFor(t, other)
	require.NotNil(t, otherPending)
	assert.False(t, otherPending.IsLocked())
	assert.Equal(t, int64(2000), otherPending.Total())

	require.NoError(t, s.RunBilling(context.Background()))
	assert.Len(t, h.Mollie.Created, 1)
}

func TestDNSReconcileContinuesAfterFailure(t *testing.T) {
	h := billingtest.New(t)
	first, second := h.Node.Generate(), h.Node.Generate()
	mail := &fakeMailDomains{
		ids:     []snowflake.ID{first, second},
		failing: map[snowflake.ID]bool{first: true},
	}

	s := newTestScheduler(t, h, mail)
	require.NoError(t, s.RunDNSReconcile(context.Background()))
	assert.Equal(t, []snowflake.ID{first, second}, mail.updated)
}

func TestPackageRemindersRuns(t *testing.T) {
	h := billingtest.New(t)
	s := newTestScheduler(t, h, &fakeMailDomains{})
	require.NoError(t, s.RunPackageReminders(context.Background()))
}

func TestRegisterRejectsInvalidSchedule(t *testing.T) {
	h := billingtest.New(t)
	s := newTestScheduler(t, h, &fakeMailDomains{})

	require.NoError(t, s.Register(cron.New()))

	s.cfg.BillingRun = "not a schedule"
	assert.Error(t, s.Register(cron.New()))
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	obsmetrics.ResetSchedulerMetricsForTest()
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
