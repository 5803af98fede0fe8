package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	obscontext "github.com/smallbiznis/memberhub/internal/observability/context"
	obslogger "github.com/smallbiznis/memberhub/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/memberhub/internal/observability/metrics"
	"go.uber.org/zap"
)

type jobRun struct {
	job            string
	runID          string
	startedAt      time.Time
	processedCount int
	skippedCount   int
	errorCount     int
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processedCount += count
}

func (r *jobRun) AddSkipped(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.skippedCount += count
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.errorCount++
}

func (s *Scheduler) ensureJobRun(ctx context.Context, job string) (context.Context, *jobRun, bool) {
	if existing := jobRunFromContext(ctx); existing != nil {
		return ctx, existing, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		startedAt: time.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = s.withLogContext(ctx, 0)
	return ctx, run, true
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return run
	}
	return nil
}

func (s *Scheduler) withLogContext(ctx context.Context, orgID snowflake.ID) context.Context {
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	if orgID != 0 {
		ctx = obscontext.WithOrgID(ctx, orgID.String())
	}
	return ctx
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
		zap.Int("skipped_count", run.skippedCount),
		zap.Int("error_count", run.errorCount),
	}

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.AddBatchProcessed(run.job, "processed", run.processedCount)
	schedMetrics.AddBatchProcessed(run.job, "skipped", run.skippedCount)
	schedMetrics.AddBatchProcessed(run.job, "error", run.errorCount)

	log := s.logger(ctx)
	if run.errorCount > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

// logOrganizationError records a failure for one organization; the job continues.
func (s *Scheduler) logOrganizationError(ctx context.Context, run *jobRun, msg string, orgID snowflake.ID, err error) {
	run.IncError()
	ctx = s.withLogContext(ctx, orgID)
	s.logger(ctx).Error(msg,
		zap.String("job", run.job),
		zap.String("org_id", orgID.String()),
		zap.String("reason", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Error(err),
	)
}
