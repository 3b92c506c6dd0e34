package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/snappy"
	"github.com/smallbiznis/finledger/internal/clock"
	"github.com/smallbiznis/finledger/internal/config"
	"github.com/smallbiznis/finledger/internal/csvimport/aggregate"
	"github.com/smallbiznis/finledger/internal/csvimport/domain"
	"github.com/smallbiznis/finledger/internal/csvimport/parser"
	"github.com/smallbiznis/finledger/internal/csvimport/reconcile"
	"github.com/smallbiznis/finledger/internal/csvimport/render"
	"github.com/smallbiznis/finledger/internal/csvimport/report"
	"github.com/smallbiznis/finledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/finledger/internal/observability/metrics"
	"github.com/smallbiznis/finledger/internal/ratelimit"
	"github.com/smallbiznis/finledger/pkg/db/pagination"
	"github.com/smallbiznis/finledger/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Clock      clock.Clock
	Settings   *config.ImportSettingsHolder
	Limiter    *ratelimit.ImportLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics      `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	clock      clock.Clock
	settings   *config.ImportSettingsHolder
	limiter    *ratelimit.ImportLimiter
	obsMetrics *obsmetrics.Metrics
	tracer     trace.Tracer

	// mu serializes imports within this process; the limiter covers replicas.
	mu sync.Mutex
}

func New(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("csvimport.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		clock:      c,
		settings:   p.Settings,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
		tracer:     otel.Tracer("finledger/csvimport"),
	}
}

// pipelineResult is everything an execution produced before it touched storage.
type pipelineResult struct {
	builder   *report.Builder
	plan      reconcile.Plan
	format    domain.Format
	delimiter string
}

func (s *Service) RunImport(ctx context.Context, req domain.ImportRequest) (*domain.ImportReport, error) {
	source := req.Source
	if source == "" {
		source = domain.RunSourceUpload
	}
	return s.runImport(ctx, req.Content, source)
}

func (s *Service) Replay(ctx context.Context, id string) (*domain.ImportReport, error) {
	runID, err := domain.ParseID(strings.TrimSpace(id))
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	run, err := s.repo.FindRun(ctx, s.db, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, domain.ErrNotFound
	}
	if !run.HasSource() {
		return nil, domain.ErrSourceNotStored
	}
	content, err := snappy.Decode(nil, run.SourceBlob)
	if err != nil {
		return nil, fmt.Errorf("decode stored source for run %s: %w", run.ID, err)
	}

	s.log.Info("replaying import run", zap.String("replayed_run_id", run.ID.String()))
	return s.runImport(ctx, string(content), domain.RunSourceReplay)
}

func (s *Service) runImport(ctx context.Context, content string, source domain.RunSource) (*domain.ImportReport, error) {
	ctx, correlationID := correlation.EnsureCorrelationID(ctx)
	ctx, span := s.tracer.Start(ctx, "csvimport.RunImport", trace.WithAttributes(
		attribute.String("import.source", string(source)),
		attribute.Int("csv.size_bytes", len(content)),
	))
	defer span.End()

	log := logger.WithContext(ctx, s.log)

	s.mu.Lock()
	defer s.mu.Unlock()

	release, err := s.limiter.AcquireImport(ctx)
	if errors.Is(err, ratelimit.ErrLockHeld) {
		span.SetStatus(codes.Error, "import in progress")
		return nil, domain.ErrImportInProgress
	}
	if err != nil {
		log.Warn("import lock unavailable, continuing with process lock only", zap.Error(err))
	}
	defer release(context.WithoutCancel(ctx))

	settings := s.settings.Get()
	startedAt := s.clock.Now()
	runID := s.genID.Generate()
	span.SetAttributes(attribute.String("import.run_id", runID.String()))

	run := &domain.ImportRun{
		ID:            runID,
		CorrelationID: correlationID,
		Source:        source,
		StartedAt:     startedAt,
	}
	if settings.StoreSource && content != "" {
		run.SourceBlob = snappy.Encode(nil, []byte(content))
		run.SourceSize = int64(len(content))
	}

	result, err := s.execute(content, settings, startedAt)
	if result != nil {
		result.builder.SetRunID(runID.String())
		run.Format = string(result.format)
		run.Delimiter = result.delimiter
	}
	if err == nil {
		err = s.persist(ctx, run, result, startedAt)
	}

	var out *domain.ImportReport
	if result != nil {
		built := result.builder.Build()
		out = &built
		s.recordLineMetrics(ctx, built)
	}

	if err != nil {
		s.recordFailure(ctx, run, out, err)
		s.obsMetrics.RecordImportRun(ctx, string(source), string(domain.RunStatusFailed))
		span.RecordError(err)
		span.SetStatus(codes.Error, failureReason(err))
		log.Warn("import failed",
			zap.String("run_id", runID.String()),
			zap.String("source", string(source)),
			zap.Error(err),
		)
		return out, err
	}

	s.obsMetrics.RecordImportRun(ctx, string(source), string(domain.RunStatusSucceeded))
	s.obsMetrics.RecordLedgerEntries(ctx, out.DatesWritten)
	log.Info("import completed",
		zap.String("run_id", runID.String()),
		zap.String("source", string(source)),
		zap.String("format", string(out.Format)),
		zap.Int("total_lines", out.TotalLines),
		zap.Int("processed", out.Processed),
		zap.Int("errors", out.Errors),
		zap.Int("skipped", out.Skipped),
		zap.Int("dates_written", out.DatesWritten),
		zap.Int("channel_count", out.ChannelCount),
	)
	return out, nil
}

// execute runs detection, parsing, aggregation and reconciliation without side effects.
// A nil result means the document never reached row parsing.
func (s *Service) execute(content string, settings config.ImportSettings, now time.Time) (*pipelineResult, error) {
	doc, err := parser.NewDocument(content, settings.Delimiter)
	if err != nil {
		return nil, err
	}
	detection, err := parser.Detect(doc.Header)
	if err != nil {
		return nil, err
	}

	result := &pipelineResult{
		builder:   report.NewBuilder(),
		format:    detection.Format,
		delimiter: doc.DelimiterString(),
	}
	result.builder.SetFormat(detection.Format, result.delimiter)

	rows := parser.NewRowParser(detection, parser.Options{
		DecimalComma:   settings.DecimalComma,
		DefaultChannel: settings.DefaultChannel,
		Today:          func() time.Time { return now },
	})
	agg := aggregate.New()

	for {
		fields, line, err := doc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var rowErr *domain.RowError
			if errors.As(err, &rowErr) {
				result.builder.Record(rowErr)
				continue
			}
			return result, err
		}

		rec, err := rows.Parse(fields, line)
		result.builder.Record(err)
		if err != nil {
			continue
		}
		agg.Add(rec)
	}

	if result.builder.Processed() == 0 || agg.Empty() {
		return result, domain.ErrNoValidData
	}

	result.plan = reconcile.Build(agg.Days(), agg.Channels(), now)
	totals := result.plan.Totals()
	result.builder.SetWritten(len(result.plan.Entries), agg.ChannelNames(), &totals)
	return result, nil
}

// persist writes ledger rows, the channel statistics blob and the run record in one transaction.
func (s *Service) persist(ctx context.Context, run *domain.ImportRun, result *pipelineResult, now time.Time) error {
	built := result.builder.Build()
	stats := result.plan.ChannelStatistics
	stats.ImportSummary = built.Summary()

	blob, err := json.Marshal(stats)
	if err != nil {
		return &domain.StoreError{Op: "encode channel statistics", Err: err}
	}
	reportJSON, err := json.Marshal(built)
	if err != nil {
		return &domain.StoreError{Op: "encode report", Err: err}
	}

	finishedAt := s.clock.Now()
	run.Status = domain.RunStatusSucceeded
	run.Stats = datatypes.JSON(reportJSON)
	run.FinishedAt = &finishedAt

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.repo.UpsertLedgerEntries(ctx, tx, result.plan.Entries); err != nil {
			return &domain.StoreError{Op: "upsert ledger entries", Err: err}
		}
		if err := s.repo.UpsertSetting(ctx, tx, &domain.AppSetting{
			SettingKey:   domain.SettingKeyChannelStatistics,
			SettingValue: datatypes.JSON(blob),
			UpdatedAt:    now,
		}); err != nil {
			return &domain.StoreError{Op: "replace channel statistics", Err: err}
		}
		if err := s.repo.InsertRun(ctx, tx, run); err != nil {
			return &domain.StoreError{Op: "insert import run", Err: err}
		}
		return nil
	})
}

// recordFailure stores a failed run outside the rolled-back transaction. Errors are logged only.
func (s *Service) recordFailure(ctx context.Context, run *domain.ImportRun, rep *domain.ImportReport, cause error) {
	if rep != nil && errors.Is(cause, domain.ErrStoreWriteFailed) {
		rep.DatesWritten = 0
		rep.Totals = nil
	}

	finishedAt := s.clock.Now()
	run.Status = domain.RunStatusFailed
	run.ErrorMessage = cause.Error()
	run.FinishedAt = &finishedAt
	if rep != nil {
		if raw, err := json.Marshal(rep); err == nil {
			run.Stats = datatypes.JSON(raw)
		}
	}

	if err := s.repo.InsertRun(context.WithoutCancel(ctx), s.db, run); err != nil {
		s.log.Warn("failed to record failed import run",
			zap.String("run_id", run.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) recordLineMetrics(ctx context.Context, rep domain.ImportReport) {
	s.obsMetrics.RecordImportLines(ctx, "processed", "", rep.Processed)
	for reason, count := range rep.ErrorReasons {
		s.obsMetrics.RecordImportLines(ctx, "error", reason, count)
	}
	for reason, count := range rep.SkipReasons {
		s.obsMetrics.RecordImportLines(ctx, "skipped", reason, count)
	}
}

func (s *Service) GetRun(ctx context.Context, id string) (*domain.RunResponse, error) {
	runID, err := domain.ParseID(strings.TrimSpace(id))
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	run, err := s.repo.FindRun(ctx, s.db, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, domain.ErrNotFound
	}
	resp := toRunResponse(*run)
	return &resp, nil
}

func (s *Service) ListRuns(ctx context.Context, req domain.ListRunsRequest) (*domain.ListRunsResponse, error) {
	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}
	limit := page.Limit()

	filter := domain.RunFilter{Limit: limit + 1}
	if strings.TrimSpace(page.PageToken) != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, domain.ErrInvalidQuery
		}
		startedAt, err := time.Parse(time.RFC3339Nano, cursor.StartedAt)
		if err != nil {
			return nil, domain.ErrInvalidQuery
		}
		beforeID, err := domain.ParseID(cursor.ID)
		if err != nil {
			return nil, domain.ErrInvalidQuery
		}
		filter.BeforeStarted = &startedAt
		filter.BeforeID = beforeID
	}

	rows, err := s.repo.ListRuns(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}

	items := make([]*domain.ImportRun, 0, len(rows))
	for i := range rows {
		items = append(items, &rows[i])
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(run *domain.ImportRun) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        run.ID.String(),
			StartedAt: run.StartedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	resp := &domain.ListRunsResponse{
		Runs:          make([]domain.RunResponse, 0, len(items)),
		NextPageToken: pageInfo.NextPageToken,
		HasMore:       pageInfo.HasMore,
	}
	for _, run := range items {
		resp.Runs = append(resp.Runs, toRunResponse(*run))
	}
	return resp, nil
}

func (s *Service) RenderRunReport(ctx context.Context, id string) ([]byte, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	return render.RunReportPDF(*run)
}

// PruneRuns deletes runs started before the cutoff in batches and returns the total removed.
func (s *Service) PruneRuns(ctx context.Context, before time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		deleted, err := s.repo.DeleteRunsBefore(ctx, s.db, before, batchSize)
		if err != nil {
			return total, err
		}
		total += int(deleted)
		if deleted < int64(batchSize) {
			break
		}
	}
	if total > 0 {
		s.log.Info("pruned import runs", zap.Int("deleted", total), zap.Time("before", before))
	}
	return total, nil
}

func (s *Service) QueryLedger(ctx context.Context, req domain.LedgerQuery) ([]domain.LedgerEntry, error) {
	filter := domain.LedgerFilter{Order: domain.SortAsc, Limit: domain.DefaultLedgerLimit}

	from, err := normalizeQueryDate(req.From)
	if err != nil {
		return nil, err
	}
	to, err := normalizeQueryDate(req.To)
	if err != nil {
		return nil, err
	}
	if from != "" && to != "" && from > to {
		return nil, domain.ErrInvalidQuery
	}
	filter.From, filter.To = from, to

	switch strings.ToLower(strings.TrimSpace(req.Order)) {
	case "", string(domain.SortAsc):
	case string(domain.SortDesc):
		filter.Order = domain.SortDesc
	default:
		return nil, domain.ErrInvalidQuery
	}

	switch {
	case req.Limit < 0:
		return nil, domain.ErrInvalidQuery
	case req.Limit > domain.MaxLedgerLimit:
		filter.Limit = domain.MaxLedgerLimit
	case req.Limit > 0:
		filter.Limit = req.Limit
	}

	entries, err := s.repo.QueryLedgerEntries(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	return entries, nil
}

func normalizeQueryDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	if _, err := time.Parse("2006-01-02", value); err != nil {
		return "", domain.ErrInvalidQuery
	}
	return value, nil
}

func (s *Service) ChannelStatistics(ctx context.Context) (*domain.ChannelStatistics, error) {
	setting, err := s.repo.GetSetting(ctx, s.db, domain.SettingKeyChannelStatistics)
	if err != nil {
		return nil, err
	}
	if setting == nil {
		return nil, domain.ErrNotFound
	}
	var stats domain.ChannelStatistics
	if err := json.Unmarshal(setting.SettingValue, &stats); err != nil {
		return nil, fmt.Errorf("decode channel statistics: %w", err)
	}
	return &stats, nil
}

func failureReason(err error) string {
	for _, sentinel := range []error{
		domain.ErrEmptyDocument,
		domain.ErrUnrecognizedSchema,
		domain.ErrNoValidData,
		domain.ErrStoreWriteFailed,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal"
}

func toRunResponse(run domain.ImportRun) domain.RunResponse {
	resp := domain.RunResponse{
		ID:            run.ID.String(),
		CorrelationID: run.CorrelationID,
		Source:        run.Source,
		Status:        run.Status,
		Format:        run.Format,
		Delimiter:     run.Delimiter,
		Error:         run.ErrorMessage,
		SourceStored:  run.SourceSize > 0,
		SourceSize:    run.SourceSize,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
	}
	if len(run.Stats) > 0 {
		var rep domain.ImportReport
		if err := json.Unmarshal(run.Stats, &rep); err == nil {
			resp.Stats = &rep
		}
	}
	return resp
}
