package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/finledger/internal/clock"
	csvdomain "github.com/smallbiznis/finledger/internal/csvimport/domain"
	dailydomain "github.com/smallbiznis/finledger/internal/dailyimport/domain"
	obsmetrics "github.com/smallbiznis/finledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	Log      *zap.Logger
	DailySvc dailydomain.Service
	Imports  csvdomain.Service
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   Config `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	dailySvc dailydomain.Service
	imports  csvdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.DailySvc == nil || p.Imports == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		dailySvc: p.DailySvc,
		imports:  p.Imports,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
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

	// a deadline is a soft timeout; the next tick retries
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

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobDailyCSVImport, s.isJobEnabled(JobDailyCSVImport), func(ctx context.Context) error {
			return s.runJob(ctx, JobDailyCSVImport, 1, s.cfg.ImportTimeout, s.DailyImportJob)
		}},
		{JobImportRunsRetention, s.isJobEnabled(JobImportRunsRetention), func(ctx context.Context) error {
			return s.runJob(ctx, JobImportRunsRetention, s.cfg.BatchSize, s.cfg.RetentionTimeout, s.ImportRunsRetentionJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// If EnabledJobs is empty, all jobs are enabled by default (monolith mode)
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// DailyImportJob runs the trigger when the stored config says an import is due today.
func (s *Scheduler) DailyImportJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobDailyCSVImport, 1)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()

	res, ran, err := s.dailySvc.RunIfDue(ctx)
	if errors.Is(err, dailydomain.ErrAlreadyRunning) {
		schedMetrics.IncJobSkipped(JobDailyCSVImport, "already_running")
		return nil
	}
	if !ran && err == nil {
		schedMetrics.IncJobSkipped(JobDailyCSVImport, "not_due")
		return nil
	}
	if err != nil {
		run.IncError()
		return err
	}

	if res != nil && res.Stats != nil {
		run.AddProcessed(res.Stats.Processed)
		schedMetrics.AddBatchProcessed(JobDailyCSVImport, "ledger_entries", res.Stats.DatesWritten)
	}
	return nil
}

// ImportRunsRetentionJob prunes import history older than the retention window.
func (s *Scheduler) ImportRunsRetentionJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobImportRunsRetention, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()

	if s.cfg.RetentionDays <= 0 {
		schedMetrics.IncJobSkipped(JobImportRunsRetention, "disabled")
		return nil
	}

	cutoff := s.clock.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	deleted, err := s.imports.PruneRuns(ctx, cutoff, s.cfg.BatchSize)
	run.AddProcessed(deleted)
	schedMetrics.AddBatchProcessed(JobImportRunsRetention, "import_runs", deleted)
	if err != nil {
		run.IncError()
		return err
	}
	if deleted == 0 {
		schedMetrics.IncJobSkipped(JobImportRunsRetention, "nothing_to_prune")
	}
	return nil
}
