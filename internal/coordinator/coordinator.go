// Package coordinator wires the session controller, pagination driver,
// transformer and delivery orchestrator into one end-to-end run and turns
// every outcome, including panics, into an ingest.RunReport.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/polmsg-collector/internal/clock/system"
	"github.com/JakeFAU/polmsg-collector/internal/delivery"
	"github.com/JakeFAU/polmsg-collector/internal/export"
	"github.com/JakeFAU/polmsg-collector/internal/extract"
	"github.com/JakeFAU/polmsg-collector/internal/id/uuid"
	"github.com/JakeFAU/polmsg-collector/internal/ingest"
	"github.com/JakeFAU/polmsg-collector/internal/metrics"
	"github.com/JakeFAU/polmsg-collector/internal/pagination"
	"github.com/JakeFAU/polmsg-collector/internal/session"
	"github.com/JakeFAU/polmsg-collector/internal/transform"
)

// EventRunCompleted is published after every run.
const EventRunCompleted = "run.completed"

// SignatureNoRecords marks a run whose page stalled before showing any record.
const SignatureNoRecords = "stalled_without_records"

const notifyTimeout = 10 * time.Second

var tracer = otel.Tracer("github.com/JakeFAU/polmsg-collector/internal/coordinator")

// Exporter writes run snapshots. *export.Exporter satisfies it.
type Exporter interface {
	Export(ctx context.Context, s export.Snapshot) (string, error)
}

// Config holds run defaults. Request fields override them when set.
type Config struct {
	AntiDetection session.AntiDetection
	Pagination    pagination.Config
	BatchSize     int
	// SourceName replaces the target identity as the canonical source name.
	SourceName     string
	IncludeReplies bool
	IncludeReposts bool
	DateLimitDays  int
	// Concurrency bounds RunMany. Zero runs every target at once.
	Concurrency int
}

// Coordinator executes scrape runs.
type Coordinator struct {
	controller *session.Controller
	delivery   *delivery.Orchestrator
	exporter   Exporter
	notifier   ingest.Publisher
	ids        ingest.IDGenerator
	clock      ingest.Clock
	cfg        Config
	logger     *zap.Logger
	pageOpts   []pagination.Option
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithExporter enables snapshot export.
func WithExporter(e Exporter) Option {
	return func(c *Coordinator) { c.exporter = e }
}

// WithNotifier enables run.completed notifications.
func WithNotifier(p ingest.Publisher) Option {
	return func(c *Coordinator) { c.notifier = p }
}

// WithIDGenerator replaces the run id source.
func WithIDGenerator(ids ingest.IDGenerator) Option {
	return func(c *Coordinator) { c.ids = ids }
}

// WithClock replaces the report clock.
func WithClock(clock ingest.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithPaginationOptions passes options to every pagination driver.
func WithPaginationOptions(opts ...pagination.Option) Option {
	return func(c *Coordinator) { c.pageOpts = append(c.pageOpts, opts...) }
}

// New creates a Coordinator.
func New(
	controller *session.Controller,
	orchestrator *delivery.Orchestrator,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		controller: controller,
		delivery:   orchestrator,
		ids:        uuid.New(),
		clock:      system.New(),
		cfg:        cfg,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunScrape executes req under a fresh run id.
func (c *Coordinator) RunScrape(ctx context.Context, req ingest.ScrapeRequest) ingest.RunReport {
	runID, err := c.ids.NewID()
	if err != nil {
		runID = fmt.Sprintf("run-%d", c.clock.Now().UnixNano())
	}
	return c.Run(ctx, runID, req)
}

// RunMany executes reqs concurrently, each with its own session and state.
// Reports are returned in request order.
func (c *Coordinator) RunMany(ctx context.Context, reqs []ingest.ScrapeRequest) []ingest.RunReport {
	reports := make([]ingest.RunReport, len(reqs))
	limit := c.cfg.Concurrency
	if limit <= 0 || limit > len(reqs) {
		limit = len(reqs)
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req ingest.ScrapeRequest) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			reports[i] = c.RunScrape(ctx, req)
		}(i, req)
	}
	wg.Wait()
	return reports
}

// Run executes req as runID. It always returns a settled report and never
// panics; the browser session is closed before Run returns.
func (c *Coordinator) Run(ctx context.Context, runID string, req ingest.ScrapeRequest) (report ingest.RunReport) {
	report = ingest.RunReport{
		RunID:      runID,
		Target:     req.Target,
		SourceKind: req.Kind,
		StartedAt:  c.clock.Now(),
	}
	logger := c.logger.With(
		zap.String("run_id", runID),
		zap.String("target", req.Target),
		zap.String("source_kind", string(req.Kind)),
	)
	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	ctx, span := tracer.Start(ctx, "coordinator.Run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.target", req.Target),
		attribute.String("run.source_kind", string(req.Kind)),
	))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("run panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			report.AddError(ingest.StageInternal, fmt.Errorf("panic: %v", r))
		}
		c.finish(ctx, &report, logger)
		endSpan(span, report)
	}()

	if err := req.Validate(); err != nil {
		report.AddError(ingest.StageRequest, err)
		return report
	}
	target, err := session.ResolveTarget(req.Target, req.Kind, req.Alternates)
	if err != nil {
		report.AddError(ingest.StageSession, &ingest.SessionError{
			Kind:   ingest.SessionNavigationFailed,
			Target: req.Target,
			Err:    err,
		})
		return report
	}

	state := &ingest.RunState{StartedAt: report.StartedAt}
	handle, err := c.controller.Open(ctx, target, c.cfg.AntiDetection, state)
	if err != nil {
		report.AddError(ingest.StageSession, err)
		return report
	}
	defer func() {
		if err := c.controller.Close(handle); err != nil {
			logger.Warn("session close failed", zap.Error(err))
		}
	}()
	report.EntryURL = handle.EntryURL

	resolver := extract.NewResolver(extract.NewExtractor(logger), extract.DefaultPlans(req.Kind)...)
	driver := pagination.NewDriver(c.paginationConfig(req), c.filter(req), logger, c.pageOpts...)
	res := driver.Run(ctx, handle.Tab, resolver, state)
	report.Outcome = string(res.Outcome)
	report.Extracted = len(res.Records)
	metrics.ObserveExtracted(string(req.Kind), len(res.Records))
	c.recordPaginationErrors(&report, res, target, handle.EntryURL)

	// The browser is no longer needed once records are in hand.
	if err := c.controller.Close(handle); err != nil {
		logger.Warn("session close failed", zap.Error(err))
	}

	if c.exporter != nil {
		uri, err := c.exporter.Export(ctx, export.Snapshot{
			RunID:      runID,
			Target:     target.Identity,
			SourceKind: req.Kind,
			EntryURL:   handle.EntryURL,
			Plan:       res.Plan,
			CapturedAt: c.clock.Now(),
			Records:    res.Records,
		})
		if err != nil {
			logger.Warn("snapshot export failed", zap.Error(err))
			report.AddError(ingest.StageExport, err)
		} else {
			report.SnapshotURI = uri
		}
	}

	msgs := c.transform(&report, res.Records, req, target, handle.EntryURL)
	if len(msgs) > 0 && ctx.Err() == nil {
		report.MergeDelivery(c.delivery.Deliver(ctx, msgs, c.cfg.BatchSize))
	}
	return report
}

func endSpan(span trace.Span, report ingest.RunReport) {
	span.SetAttributes(
		attribute.String("run.status", string(report.Status)),
		attribute.Int("run.extracted", report.Extracted),
		attribute.Int("run.submitted", report.Submitted),
		attribute.Int("run.duplicates", report.Duplicates),
		attribute.Int("run.failed", report.Failed),
	)
	if report.Status == ingest.RunFailed && len(report.Errors) > 0 {
		span.SetStatus(codes.Error, report.Errors[0].Message)
	}
	span.End()
}

func (c *Coordinator) finish(ctx context.Context, report *ingest.RunReport, logger *zap.Logger) {
	report.FinishedAt = c.clock.Now()
	canceled := errors.Is(ctx.Err(), context.Canceled)
	report.Settle(canceled)

	if c.notifier != nil {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		_, err := c.notifier.Publish(notifyCtx, EventRunCompleted, *report)
		cancel()
		if err != nil {
			logger.Warn("run notification failed", zap.Error(err))
			report.AddError(ingest.StageNotify, err)
			report.Settle(canceled)
		}
	}

	metrics.ObserveRun(string(report.SourceKind), string(report.Status))
	logger.Info("run finished",
		zap.String("status", string(report.Status)),
		zap.String("outcome", report.Outcome),
		zap.Int("extracted", report.Extracted),
		zap.Int("submitted", report.Submitted),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("failed", report.Failed),
		zap.Int("dropped", report.Dropped),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("elapsed", report.Duration()),
	)
}

func (c *Coordinator) recordPaginationErrors(report *ingest.RunReport, res pagination.Result, target session.Target, entry string) {
	for _, err := range res.Errors {
		var extractErr *ingest.ExtractionError
		if errors.As(err, &extractErr) {
			report.AddError(ingest.StageExtraction, err)
			continue
		}
		var sessErr *ingest.SessionError
		if errors.As(err, &sessErr) && sessErr.Target == "" {
			sessErr.Target = target.Identity
		}
		report.AddError(ingest.StagePagination, err)
	}
	if res.Outcome == pagination.OutcomeBlocked {
		report.AddError(ingest.StageSession, &ingest.SessionError{
			Kind:      ingest.SessionBlocked,
			Target:    target.Identity,
			URL:       entry,
			Signature: SignatureNoRecords,
		})
	}
}

func (c *Coordinator) transform(
	report *ingest.RunReport,
	records []ingest.RawRecord,
	req ingest.ScrapeRequest,
	target session.Target,
	entry string,
) []ingest.CanonicalMessage {
	sc := transform.SourceContext{
		SourceName: firstNonEmpty(req.SourceName, c.cfg.SourceName, target.Identity),
		SourceURL:  entry,
		Platform:   platformType(req.Platform),
	}
	msgs := make([]ingest.CanonicalMessage, 0, len(records))
	for i, rec := range records {
		msg, err := transform.Transform(rec, req.Kind, sc)
		if err != nil {
			report.Dropped++
			re := ingest.NewReportError(ingest.StageTransform, err)
			re.Index = i
			re.MessageURL = rec.ExternalURL
			report.Errors = append(report.Errors, re)
			metrics.ObserveTransformDrop(re.Kind)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func (c *Coordinator) paginationConfig(req ingest.ScrapeRequest) pagination.Config {
	cfg := c.cfg.Pagination
	if req.MaxRecords > 0 {
		cfg.MaxRecords = req.MaxRecords
	}
	if req.MaxScrollAttempts > 0 {
		cfg.MaxScrollAttempts = req.MaxScrollAttempts
	}
	if req.ScrollDelaySeconds > 0 {
		cfg.ScrollDelay = time.Duration(req.ScrollDelaySeconds * float64(time.Second))
	}
	return cfg
}

func (c *Coordinator) filter(req ingest.ScrapeRequest) extract.Filter {
	days := c.cfg.DateLimitDays
	if req.DateLimitDays != nil {
		days = *req.DateLimitDays
	}
	return extract.Filter{
		IncludeReplies: boolOr(req.IncludeReplies, c.cfg.IncludeReplies),
		IncludeReposts: boolOr(req.IncludeReposts, c.cfg.IncludeReposts),
		DateLimit:      time.Duration(days) * 24 * time.Hour,
		Now:            c.clock.Now(),
	}
}

func boolOr(override *bool, fallback bool) bool {
	if override != nil {
		return *override
	}
	return fallback
}

// platformType maps a request platform name onto a social source type.
// Unknown names pass through so the transformer can reject them.
func platformType(platform string) ingest.SourceType {
	switch p := strings.ToLower(strings.TrimSpace(platform)); p {
	case "", "x", "twitter":
		return ""
	case "y":
		return ingest.SourceTypeSocialY
	default:
		return ingest.SourceType(p)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
