package delivery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/polmsg-collector/internal/clock/system"
	"github.com/JakeFAU/polmsg-collector/internal/ingest"
	"github.com/JakeFAU/polmsg-collector/internal/metrics"
)

// MaxBatchSize is the largest batch the storage boundary accepts.
const MaxBatchSize = 100

// Defaults.
const (
	DefaultBatchSize      = 25
	DefaultMaxRetries     = 3
	DefaultBaseDelay      = time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultRateLimitDelay = 60 * time.Second
)

// Config tunes delivery. Zero durations and batch size take defaults;
// MaxRetries is used as given, negative meaning zero.
type Config struct {
	BatchSize      int
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RateLimitDelay time.Duration
	// BatchPause is waited between consecutive batches.
	BatchPause time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:      DefaultBatchSize,
		MaxRetries:     DefaultMaxRetries,
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		RateLimitDelay: DefaultRateLimitDelay,
	}
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	c.BatchSize = clampBatch(c.BatchSize)
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.RateLimitDelay <= 0 {
		c.RateLimitDelay = DefaultRateLimitDelay
	}
	return c
}

func clampBatch(n int) int {
	switch {
	case n < 1:
		return 1
	case n > MaxBatchSize:
		return MaxBatchSize
	default:
		return n
	}
}

// Orchestrator delivers messages for one or more runs. It keeps no state
// between Deliver calls, so runs back off independently.
type Orchestrator struct {
	ingestor ingest.Ingestor
	cfg      Config
	policy   Policy
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
	logger   *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSleep replaces the backoff wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithClock replaces the clock used for latency metrics.
func WithClock(clock ingest.Clock) Option {
	return func(o *Orchestrator) { o.now = clock.Now }
}

// New creates an Orchestrator.
func New(ingestor ingest.Ingestor, cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		ingestor: ingestor,
		cfg:      cfg,
		policy: Policy{
			MaxRetries:     cfg.MaxRetries,
			Backoff:        Backoff{Base: cfg.BaseDelay, Max: cfg.MaxDelay},
			RateLimitDelay: cfg.RateLimitDelay,
		},
		sleep:  system.Sleep,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// batchOutcome is what one batch contributed.
type batchOutcome struct {
	results  []ingest.ItemResult
	err      error
	class    ingest.DeliveryClass
	retries  int
	cooldown time.Duration
}

// Deliver submits msgs in order, in batches of at most batchSize (the
// configured size when batchSize is zero). Every message ends up counted as
// submitted, duplicate or failed.
func (o *Orchestrator) Deliver(ctx context.Context, msgs []ingest.CanonicalMessage, batchSize int) ingest.DeliveryReport {
	report := ingest.DeliveryReport{}
	size := o.cfg.BatchSize
	if batchSize > 0 {
		size = clampBatch(batchSize)
	}

	var cooldown time.Duration
	for start := 0; start < len(msgs); start += size {
		end := min(start+size, len(msgs))
		batch := msgs[start:end]

		if start > 0 {
			if err := o.sleep(ctx, max(cooldown, o.cfg.BatchPause)); err != nil {
				o.failItems(&report, msgs[start:], start, ingest.DeliveryTerminal, err)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			o.failItems(&report, msgs[start:], start, ingest.DeliveryTerminal, fmt.Errorf("delivery canceled: %w", err))
			break
		}

		report.Batches++
		out := o.submit(ctx, batch, report.Batches)
		report.Retries += out.retries
		cooldown = out.cooldown

		if out.err != nil && out.class == ingest.DeliveryTerminal && len(batch) > 1 && ctx.Err() == nil {
			o.logger.Warn("isolating batch after terminal failure",
				zap.Int("batch", report.Batches),
				zap.Int("size", len(batch)),
				zap.Error(out.err),
			)
			for i := range batch {
				single := o.submit(ctx, batch[i:i+1], report.Batches)
				report.Retries += single.retries
				if single.cooldown > cooldown {
					cooldown = single.cooldown
				}
				o.record(&report, batch[i:i+1], start+i, single)
			}
			continue
		}
		o.record(&report, batch, start, out)
	}

	metrics.ObserveDeliveryItems("submitted", report.Submitted)
	metrics.ObserveDeliveryItems("duplicate", report.Duplicates)
	metrics.ObserveDeliveryItems("failed", report.Failed)
	o.logger.Info("delivery finished",
		zap.Int("messages", len(msgs)),
		zap.Int("batches", report.Batches),
		zap.Int("submitted", report.Submitted),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("failed", report.Failed),
		zap.Int("retries", report.Retries),
	)
	return report
}

// submit runs the retry machine for one batch.
func (o *Orchestrator) submit(ctx context.Context, batch []ingest.CanonicalMessage, batchNo int) batchOutcome {
	var out batchOutcome
	for attempt := 0; ; attempt++ {
		started := o.now()
		results, err := o.call(ctx, batch)
		metrics.ObserveDeliveryBatch(o.now().Sub(started))

		step := o.policy.Next(attempt, err)
		switch step.Outcome {
		case StepDone:
			out.results = results
			return out
		case StepGiveUp:
			out.err = err
			out.class = step.Class
			if step.Class == ingest.DeliveryRateLimited {
				out.cooldown = step.Delay
			}
			o.logger.Warn("batch failed",
				zap.Int("batch", batchNo),
				zap.Int("attempt", attempt+1),
				zap.String("class", string(step.Class)),
				zap.Error(err),
			)
			return out
		}

		out.retries++
		metrics.ObserveDeliveryRetry(string(step.Class))
		o.logger.Info("retrying batch",
			zap.Int("batch", batchNo),
			zap.Int("attempt", attempt+1),
			zap.String("class", string(step.Class)),
			zap.Duration("delay", step.Delay),
			zap.Error(err),
		)
		if sleepErr := o.sleep(ctx, step.Delay); sleepErr != nil {
			out.err = fmt.Errorf("%w (retry aborted: %v)", err, sleepErr)
			out.class = step.Class
			return out
		}
	}
}

func (o *Orchestrator) call(ctx context.Context, batch []ingest.CanonicalMessage) ([]ingest.ItemResult, error) {
	if len(batch) == 1 {
		result, err := o.ingestor.IngestOne(ctx, batch[0])
		if err != nil {
			return nil, err
		}
		return []ingest.ItemResult{result}, nil
	}
	return o.ingestor.IngestBulk(ctx, batch)
}

// record folds one batch outcome into report. offset is the index of the
// batch's first message in the delivered sequence.
func (o *Orchestrator) record(report *ingest.DeliveryReport, batch []ingest.CanonicalMessage, offset int, out batchOutcome) {
	if out.err != nil {
		o.failItems(report, batch, offset, out.class, out.err)
		return
	}
	for i, msg := range batch {
		if i >= len(out.results) {
			o.failItems(report, batch[i:], offset+i, ingest.DeliveryTerminal,
				fmt.Errorf("storage returned %d results for %d messages", len(out.results), len(batch)))
			return
		}
		result := out.results[i]
		switch result.Status {
		case ingest.ItemCreated:
			report.Submitted++
			report.IDs = append(report.IDs, result.ID)
		case ingest.ItemDuplicate:
			report.Duplicates++
		default:
			reason := result.Reason
			if reason == "" {
				reason = fmt.Sprintf("unexpected status %q", result.Status)
			}
			report.Failed++
			report.Errors = append(report.Errors, ingest.ReportError{
				Stage:      ingest.StageDelivery,
				Kind:       string(ingest.DeliveryTerminal),
				Message:    "rejected: " + reason,
				Index:      offset + i,
				MessageURL: msg.URL,
			})
		}
	}
}

func (o *Orchestrator) failItems(
	report *ingest.DeliveryReport,
	items []ingest.CanonicalMessage,
	offset int,
	class ingest.DeliveryClass,
	err error,
) {
	for i, msg := range items {
		report.Failed++
		report.Errors = append(report.Errors, ingest.ReportError{
			Stage:      ingest.StageDelivery,
			Kind:       string(class),
			Message:    err.Error(),
			Index:      offset + i,
			MessageURL: msg.URL,
		})
	}
}
