// Package pagination drives incremental loading of a page and collects the
// records that appear, stopping on record, attempt, stall or time limits.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/polmsg-collector/internal/browser"
	"github.com/JakeFAU/polmsg-collector/internal/clock/system"
	"github.com/JakeFAU/polmsg-collector/internal/extract"
	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

// State is a pagination machine state.
type State string

// Machine states. STALLED is the flavor of DONE reached by the stall rule.
const (
	StateLoading   State = "LOADING"
	StateStable    State = "STABLE"
	StateScrolling State = "SCROLLING"
	StateDone      State = "DONE"
	StateStalled   State = "STALLED"
)

// Terminal reports whether s ends the run.
func (s State) Terminal() bool {
	return s == StateDone || s == StateStalled
}

// Outcome explains why pagination stopped.
type Outcome string

// Pagination outcomes.
const (
	OutcomeLimitReached      Outcome = "limit_reached"
	OutcomeAttemptsExhausted Outcome = "attempts_exhausted"
	// OutcomeExhausted is a stall after records were seen: the page ran out.
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeBlocked is a stall before any record was seen.
	OutcomeBlocked        Outcome = "blocked"
	OutcomeLoadTimeout    Outcome = "load_timeout"
	OutcomeTimeLimit      Outcome = "time_limit"
	OutcomeCanceled       Outcome = "canceled"
	OutcomeSnapshotFailed Outcome = "snapshot_failed"
)

// Config bounds one pagination run. Zero fields take defaults.
type Config struct {
	MaxRecords        int
	MaxScrollAttempts int
	// StallThreshold is the number of consecutive unchanged fingerprints that ends the run.
	StallThreshold int
	ScrollDelay    time.Duration
	LoadTimeout    time.Duration
	// MaxDuration caps the whole run. Zero means no cap beyond the caller's context.
	MaxDuration time.Duration
}

// Defaults.
const (
	DefaultMaxRecords        = 100
	DefaultMaxScrollAttempts = 10
	DefaultStallThreshold    = 3
	DefaultScrollDelay       = 2 * time.Second
	DefaultLoadTimeout       = 15 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxRecords <= 0 {
		c.MaxRecords = DefaultMaxRecords
	}
	if c.MaxScrollAttempts <= 0 {
		c.MaxScrollAttempts = DefaultMaxScrollAttempts
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = DefaultStallThreshold
	}
	if c.ScrollDelay <= 0 {
		c.ScrollDelay = DefaultScrollDelay
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = DefaultLoadTimeout
	}
	return c
}

// Result is what a pagination run produced.
type Result struct {
	// Records are the kept records in page order, never more than MaxRecords.
	Records  []ingest.RawRecord
	State    State
	Outcome  Outcome
	Plan     string
	Cycles   int
	Filtered int
	// Errors are non-fatal: extraction errors and a load timeout.
	Errors []error
}

// Driver runs the pagination state machine against a tab.
type Driver struct {
	cfg    Config
	filter extract.Filter
	sleep  func(ctx context.Context, d time.Duration) error
	logger *zap.Logger
}

// Option customizes a Driver.
type Option func(*Driver)

// WithSleep replaces the scroll-settle wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Driver) { d.sleep = fn }
}

// NewDriver creates a Driver.
func NewDriver(cfg Config, filter extract.Filter, logger *zap.Logger, opts ...Option) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Driver{
		cfg:    cfg.withDefaults(),
		filter: filter,
		sleep:  system.Sleep,
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Config returns the effective configuration.
func (d *Driver) Config() Config {
	return d.cfg
}

// Run drives tab until a terminal state. Extraction happens only while the
// machine is STABLE; state is updated in place.
func (d *Driver) Run(parent context.Context, tab browser.Tab, resolver *extract.Resolver, state *ingest.RunState) Result {
	if state == nil {
		state = &ingest.RunState{}
	}
	if state.StartedAt.IsZero() {
		state.StartedAt = time.Now()
	}
	ctx := parent
	if d.cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, d.cfg.MaxDuration)
		defer cancel()
	}

	res := Result{State: StateLoading}
	defer func() { state.Elapsed = time.Since(state.StartedAt) }()

	if err := d.load(ctx, tab, resolver); err != nil {
		if stop := d.interrupted(parent, ctx); stop != "" {
			return d.finish(res, StateDone, stop)
		}
		res.Errors = append(res.Errors, &ingest.SessionError{
			Kind: ingest.SessionTimeout,
			URL:  state.EntryURL,
			Err:  fmt.Errorf("wait for content: %w", err),
		})
		return d.finish(res, StateDone, OutcomeLoadTimeout)
	}

	seen := make(map[string]bool)
	for {
		res.State = StateStable
		records, err := d.snapshot(ctx, tab, resolver, state, &res)
		if err != nil {
			if stop := d.interrupted(parent, ctx); stop != "" {
				return d.finish(res, StateDone, stop)
			}
			res.Errors = append(res.Errors, err)
			return d.finish(res, StateDone, OutcomeSnapshotFailed)
		}
		res.Cycles++

		for _, rec := range records {
			key := extract.Key(rec)
			if seen[key] {
				continue
			}
			seen[key] = true
			if !d.filter.Keep(rec) {
				res.Filtered++
				continue
			}
			res.Records = append(res.Records, rec)
			state.Collected = len(res.Records)
			if len(res.Records) >= d.cfg.MaxRecords {
				return d.finish(res, StateDone, OutcomeLimitReached)
			}
		}

		fingerprint := extract.Fingerprint(records)
		if res.Cycles > 1 && fingerprint == state.LastFingerprint {
			state.ConsecutiveStalls++
		} else {
			state.ConsecutiveStalls = 0
		}
		state.LastFingerprint = fingerprint
		d.logger.Debug("pagination cycle",
			zap.String("state", string(res.State)),
			zap.Int("cycle", res.Cycles),
			zap.Int("collected", state.Collected),
			zap.Int("stalls", state.ConsecutiveStalls),
			zap.String("plan", res.Plan),
		)

		if state.ConsecutiveStalls >= d.cfg.StallThreshold {
			if len(seen) > 0 {
				return d.finish(res, StateStalled, OutcomeExhausted)
			}
			return d.finish(res, StateStalled, OutcomeBlocked)
		}
		if state.ScrollAttempts >= d.cfg.MaxScrollAttempts {
			return d.finish(res, StateDone, OutcomeAttemptsExhausted)
		}

		res.State = StateScrolling
		state.ScrollAttempts++
		if err := tab.ScrollToBottom(ctx); err != nil {
			if stop := d.interrupted(parent, ctx); stop != "" {
				return d.finish(res, StateDone, stop)
			}
			d.logger.Warn("scroll failed", zap.Int("attempt", state.ScrollAttempts), zap.Error(err))
		}
		if err := d.sleep(ctx, d.cfg.ScrollDelay); err != nil {
			stop := d.interrupted(parent, ctx)
			if stop == "" {
				stop = OutcomeCanceled
			}
			return d.finish(res, StateDone, stop)
		}
	}
}

func (d *Driver) load(ctx context.Context, tab browser.Tab, resolver *extract.Resolver) error {
	selector := resolver.Containers()
	if selector == "" {
		return nil
	}
	loadCtx, cancel := context.WithTimeout(ctx, d.cfg.LoadTimeout)
	defer cancel()
	if err := tab.WaitVisible(loadCtx, selector); err != nil {
		return fmt.Errorf("wait visible %q: %w", selector, err)
	}
	return nil
}

func (d *Driver) snapshot(
	ctx context.Context,
	tab browser.Tab,
	resolver *extract.Resolver,
	state *ingest.RunState,
	res *Result,
) ([]ingest.RawRecord, error) {
	html, err := tab.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	location := state.EntryURL
	if loc, err := tab.Location(ctx); err == nil && loc != "" {
		location = loc
	}
	page, err := extract.Parse(extract.Snapshot{URL: location, HTML: html})
	if err != nil {
		return nil, err
	}
	plan, records, errs := resolver.Resolve(page)
	if plan != nil {
		res.Plan = plan.Name()
	}
	res.Errors = append(res.Errors, errs...)
	return records, nil
}

// interrupted names the outcome when a context ended the run, or "".
func (d *Driver) interrupted(parent, ctx context.Context) Outcome {
	switch {
	case parent.Err() != nil:
		return OutcomeCanceled
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return OutcomeTimeLimit
	default:
		return ""
	}
}

func (d *Driver) finish(res Result, state State, outcome Outcome) Result {
	res.State = state
	res.Outcome = outcome
	d.logger.Info("pagination finished",
		zap.String("state", string(state)),
		zap.String("outcome", string(outcome)),
		zap.Int("records", len(res.Records)),
		zap.Int("cycles", res.Cycles),
		zap.Int("filtered", res.Filtered),
	)
	return res
}
