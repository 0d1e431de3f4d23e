package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/polmsg-collector/internal/browser"
	"github.com/JakeFAU/polmsg-collector/internal/clock/system"
	"github.com/JakeFAU/polmsg-collector/internal/ingest"
	"github.com/JakeFAU/polmsg-collector/internal/metrics"
)

// Pacer delays navigations to a host. *ratelimit.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// SleepFunc waits for d unless ctx ends first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Controller opens browser sessions against targets. It holds no per-run
// state; every Open returns an independent Handle.
type Controller struct {
	launcher browser.Launcher
	detector *Detector
	pacer    Pacer
	logger   *zap.Logger
	sleep    SleepFunc
	clock    ingest.Clock

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option customizes a Controller.
type Option func(*Controller)

// WithPacer paces navigations per host.
func WithPacer(p Pacer) Option {
	return func(c *Controller) { c.pacer = p }
}

// WithRand fixes the source used for profile randomization.
func WithRand(rng *rand.Rand) Option {
	return func(c *Controller) { c.rng = rng }
}

// WithSleep replaces the load-delay wait.
func WithSleep(fn SleepFunc) Option {
	return func(c *Controller) { c.sleep = fn }
}

// WithClock replaces the clock used for elapsed-time logging.
func WithClock(clock ingest.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// NewController creates a Controller.
func NewController(launcher browser.Launcher, detector *Detector, logger *zap.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if detector == nil {
		detector = NewDetector(0)
	}
	c := &Controller{
		launcher: launcher,
		detector: detector,
		logger:   logger,
		sleep:    system.Sleep,
		clock:    system.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // identity jitter, not security
	}
	return c
}

// Handle is a live session. It must be released with Controller.Close.
type Handle struct {
	Target   Target
	Profile  browser.Profile
	EntryURL string
	Tab      browser.Tab

	openedAt  time.Time
	closeOnce sync.Once
	closeErr  error
}

// Open launches a tab with a randomized profile and loads the target. When the
// primary entry point is challenged or fails to load, the first alternate is
// tried once. If every entry fails and any of them was challenged the result is
// BLOCKED; otherwise it is the last load error.
func (c *Controller) Open(ctx context.Context, target Target, cfg AntiDetection, state *ingest.RunState) (*Handle, error) {
	if state == nil {
		state = &ingest.RunState{}
	}
	start := c.clock.Now()
	if state.StartedAt.IsZero() {
		state.StartedAt = start
	}
	profile := c.profile(cfg)
	logger := c.logger.With(zap.String("target", target.Identity), zap.String("source_kind", string(target.Kind)))

	tab, err := c.launcher.Launch(ctx, profile)
	if err != nil {
		return nil, &ingest.SessionError{Kind: kindOf(err), Target: target.Identity, URL: target.URL, Err: err}
	}
	logger.Debug("browser launched",
		zap.String("user_agent", profile.UserAgent),
		zap.String("viewport", profile.Viewport.String()),
		zap.String("locale", profile.Locale),
	)

	entries := []string{target.URL}
	if len(target.Alternates) > 0 {
		entries = append(entries, target.Alternates[0])
	}

	var lastErr error
	var challenge *ingest.SessionError
	for i, entry := range entries {
		if i > 0 {
			logger.Info("trying alternate entry point", zap.String("entry_url", entry), zap.Error(lastErr))
		}
		lastErr = c.visit(ctx, tab, target, entry, cfg, state, start, logger)
		if lastErr == nil {
			state.EntryURL = entry
			state.Elapsed = c.clock.Now().Sub(state.StartedAt)
			return &Handle{Target: target, Profile: profile, EntryURL: entry, Tab: tab, openedAt: start}, nil
		}
		if ctx.Err() != nil {
			challenge = nil
			break
		}
		var sessErr *ingest.SessionError
		if errors.As(lastErr, &sessErr) && sessErr.Kind == ingest.SessionBlocked {
			challenge = sessErr
		}
	}
	// A challenge seen on any entry point outranks a later load failure.
	if challenge != nil && challenge != lastErr {
		if challenge.Err == nil {
			challenge.Err = lastErr
		}
		lastErr = challenge
	}
	if err := tab.Close(); err != nil {
		logger.Warn("failed to close tab", zap.Error(err))
	}
	logger.Warn("session open failed", zap.Duration("elapsed", c.clock.Now().Sub(start)), zap.Error(lastErr))
	return nil, lastErr
}

func (c *Controller) visit(
	ctx context.Context,
	tab browser.Tab,
	target Target,
	entry string,
	cfg AntiDetection,
	state *ingest.RunState,
	start time.Time,
	logger *zap.Logger,
) error {
	fail := func(kind ingest.SessionErrorKind, signature string, err error) error {
		return &ingest.SessionError{Kind: kind, Target: target.Identity, URL: entry, Signature: signature, Err: err}
	}

	if c.pacer != nil {
		if err := c.pacer.Wait(ctx, entry); err != nil {
			return fail(kindOf(err), "", err)
		}
	}

	state.NavigationAttempts++
	navCtx, cancel := ctx, context.CancelFunc(func() {})
	if cfg.NavigationTimeout > 0 {
		navCtx, cancel = context.WithTimeout(ctx, cfg.NavigationTimeout)
	}
	status, err := tab.Navigate(navCtx, entry)
	cancel()
	if err != nil {
		logger.Warn("navigation failed",
			zap.String("entry_url", entry),
			zap.Duration("elapsed", c.clock.Now().Sub(start)),
			zap.Error(err),
		)
		return fail(kindOf(err), "", err)
	}
	logger.Info("navigated",
		zap.String("entry_url", entry),
		zap.Int("status", status),
		zap.Duration("elapsed", c.clock.Now().Sub(start)),
	)

	if err := c.sleep(ctx, cfg.LoadDelay); err != nil {
		return fail(kindOf(err), "", err)
	}
	verdict, err := c.inspect(ctx, tab, status)
	if err != nil {
		return fail(kindOf(err), "", err)
	}
	if verdict.Empty && cfg.EmptyBodyWait > 0 {
		if err := c.sleep(ctx, cfg.EmptyBodyWait); err != nil {
			return fail(kindOf(err), "", err)
		}
		if verdict, err = c.inspect(ctx, tab, status); err != nil {
			return fail(kindOf(err), "", err)
		}
	}
	if verdict.Challenged() {
		metrics.ObserveChallenge(verdict.Signature)
		logger.Warn("challenge detected",
			zap.String("entry_url", entry),
			zap.String("signature", verdict.Signature),
			zap.Duration("elapsed", c.clock.Now().Sub(start)),
		)
		return fail(ingest.SessionBlocked, verdict.Signature, nil)
	}
	return nil
}

func (c *Controller) inspect(ctx context.Context, tab browser.Tab, status int) (Verdict, error) {
	html, err := tab.HTML(ctx)
	if err != nil {
		return Verdict{}, err
	}
	return c.detector.Inspect(status, html), nil
}

// Close releases the handle's browser resources. It is nil-safe and idempotent.
func (c *Controller) Close(h *Handle) error {
	if h == nil {
		return nil
	}
	h.closeOnce.Do(func() {
		if h.Tab != nil {
			h.closeErr = h.Tab.Close()
		}
		c.logger.Info("session closed",
			zap.String("target", h.Target.Identity),
			zap.String("entry_url", h.EntryURL),
			zap.Duration("elapsed", c.clock.Now().Sub(h.openedAt)),
			zap.Error(h.closeErr),
		)
	})
	return h.closeErr
}

func (c *Controller) profile(cfg AntiDetection) browser.Profile {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return RandomProfile(cfg, c.rng)
}

func kindOf(err error) ingest.SessionErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ingest.SessionTimeout
	}
	return ingest.SessionNavigationFailed
}
