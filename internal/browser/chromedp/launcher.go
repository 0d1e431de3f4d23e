// Package chromedpbrowser drives headless Chrome through chromedp. Each Launch
// starts its own browser process so runs share no cookies, storage or identity.
package chromedpbrowser

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/JakeFAU/polmsg-collector/internal/browser"
)

// Config controls browser processes.
type Config struct {
	Headless          bool
	ExecPath          string
	Stealth           bool
	MaxParallel       int
	NavigationTimeout time.Duration
}

// Launcher implements browser.Launcher.
type Launcher struct {
	cfg     Config
	limiter chan struct{}
	logger  *zap.Logger
	// run is chromedp.Run. The first call on a tab context allocates the
	// browser and binds its lifetime to that context.
	run func(ctx context.Context, actions ...chromedp.Action) error
}

var _ browser.Launcher = (*Launcher)(nil)

// New creates a Launcher. MaxParallel bounds live browsers; zero means unbounded.
func New(cfg Config, logger *zap.Logger) (*Launcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Launcher{cfg: cfg, limiter: limiter, logger: logger, run: chromedp.Run}, nil
}

// Launch starts a browser presenting profile. The process is bound to ctx:
// canceling ctx kills it even if Close is never reached.
func (l *Launcher) Launch(ctx context.Context, profile browser.Profile) (browser.Tab, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, l.allocatorOptions(profile)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(l.logger.Sugar().Debugf),
	)
	tab := &Tab{
		ctx:        tabCtx,
		navTimeout: l.cfg.NavigationTimeout,
		meta:       &responseMeta{},
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		release: l.release,
	}
	chromedp.ListenTarget(tabCtx, tab.meta.captureEvent)

	// The browser starts here and lives until tabCtx ends, so this must not
	// run on a context that is canceled when Launch returns.
	if err := l.run(tabCtx, profileActions(profile, l.cfg.Stealth)...); err != nil {
		_ = tab.Close()
		return nil, fmt.Errorf("chromedp launch: %w", err)
	}
	return tab, nil
}

func (l *Launcher) allocatorOptions(profile browser.Profile) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if l.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	if profile.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(profile.UserAgent))
	}
	if profile.Viewport.Width > 0 && profile.Viewport.Height > 0 {
		opts = append(opts, chromedp.WindowSize(profile.Viewport.Width, profile.Viewport.Height))
	}
	if profile.Locale != "" {
		opts = append(opts, chromedp.Flag("lang", profile.Locale))
	}
	return opts
}

// profileActions apply the identity before the first navigation.
func profileActions(profile browser.Profile, withStealth bool) []chromedp.Action {
	actions := []chromedp.Action{network.Enable()}
	if withStealth {
		actions = append(actions,
			addScript(stealth.JS),
			addScript(languagesScript(profile)),
		)
	}
	if profile.UserAgent != "" {
		override := emulation.SetUserAgentOverride(profile.UserAgent).
			WithPlatform(navigatorPlatform(profile.UserAgent))
		if profile.AcceptLanguage != "" {
			override = override.WithAcceptLanguage(profile.AcceptLanguage)
		}
		actions = append(actions, override)
	}
	if profile.Viewport.Width > 0 && profile.Viewport.Height > 0 {
		actions = append(actions, emulation.SetDeviceMetricsOverride(
			int64(profile.Viewport.Width), int64(profile.Viewport.Height), 1, false))
	}
	if profile.Locale != "" {
		actions = append(actions, emulation.SetLocaleOverride().WithLocale(profile.Locale))
	}
	if profile.Timezone != "" {
		actions = append(actions, emulation.SetTimezoneOverride(profile.Timezone))
	}
	if profile.AcceptLanguage != "" {
		actions = append(actions, network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": profile.AcceptLanguage,
		}))
	}
	return actions
}

func addScript(source string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if _, err := page.AddScriptToEvaluateOnNewDocument(source).Do(ctx); err != nil {
			return fmt.Errorf("add init script: %w", err)
		}
		return nil
	})
}

// languagesScript keeps navigator.languages consistent with the Accept-Language header.
func languagesScript(profile browser.Profile) string {
	langs := []string{}
	for _, part := range strings.Split(profile.AcceptLanguage, ",") {
		tag, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if tag != "" {
			langs = append(langs, strconv.Quote(tag))
		}
	}
	if len(langs) == 0 {
		langs = append(langs, strconv.Quote("en-US"), strconv.Quote("en"))
	}
	return "Object.defineProperty(navigator, 'languages', { get: () => [" + strings.Join(langs, ",") + "] });"
}

func navigatorPlatform(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "windows"):
		return "Win32"
	case strings.Contains(ua, "macintosh"):
		return "MacIntel"
	case strings.Contains(ua, "linux"):
		return "Linux x86_64"
	default:
		return "Win32"
	}
}

func (l *Launcher) acquire(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}
	select {
	case l.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("acquire browser slot: %w", ctx.Err())
	}
}

func (l *Launcher) release() {
	if l.limiter == nil {
		return
	}
	select {
	case <-l.limiter:
	default:
	}
}
