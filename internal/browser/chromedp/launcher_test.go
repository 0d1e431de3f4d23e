package chromedpbrowser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polmsg-collector/internal/browser"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxParallel: -1}, nil)
	require.Error(t, err)

	l, err := New(Config{MaxParallel: 2}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, cap(l.limiter))
	require.Equal(t, 45*time.Second, l.cfg.NavigationTimeout)
}

func TestLimiterBlocksUntilRelease(t *testing.T) {
	t.Parallel()

	l, err := New(Config{MaxParallel: 1}, nil)
	require.NoError(t, err)
	require.NoError(t, l.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.acquire(ctx), context.DeadlineExceeded)

	l.release()
	require.NoError(t, l.acquire(context.Background()))
}

func TestProfileActions(t *testing.T) {
	t.Parallel()

	full := browser.Profile{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/124.0.0.0",
		Viewport:       browser.Viewport{Width: 1280, Height: 800},
		Locale:         "en-GB",
		AcceptLanguage: "en-GB,en;q=0.9",
		Timezone:       "Europe/London",
	}
	// network enable, two scripts, UA, metrics, locale, timezone, headers
	require.Len(t, profileActions(full, true), 8)
	require.Len(t, profileActions(full, false), 6)
	require.Len(t, profileActions(browser.Profile{}, false), 1)
}

func TestLanguagesScript(t *testing.T) {
	t.Parallel()

	got := languagesScript(browser.Profile{AcceptLanguage: "en-GB,en;q=0.9"})
	require.Equal(t, `Object.defineProperty(navigator, 'languages', { get: () => ["en-GB","en"] });`, got)
	require.Contains(t, languagesScript(browser.Profile{}), `"en-US","en"`)
}

func TestNavigatorPlatform(t *testing.T) {
	t.Parallel()

	require.Equal(t, "MacIntel", navigatorPlatform("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)"))
	require.Equal(t, "Linux x86_64", navigatorPlatform("Mozilla/5.0 (X11; Linux x86_64)"))
	require.Equal(t, "Win32", navigatorPlatform("Mozilla/5.0 (Windows NT 10.0)"))
}

func TestResponseMetaCapturesFirstDocument(t *testing.T) {
	t.Parallel()

	meta := &responseMeta{}
	meta.captureEvent(&network.EventResponseReceived{Type: network.ResourceTypeScript, Response: &network.Response{Status: 500}})
	require.Zero(t, meta.status())

	meta.captureEvent(&network.EventResponseReceived{Type: network.ResourceTypeDocument, Response: &network.Response{Status: 403}})
	meta.captureEvent(&network.EventResponseReceived{Type: network.ResourceTypeDocument, Response: &network.Response{Status: 200}})
	require.Equal(t, 403, meta.status())

	meta.reset()
	require.Zero(t, meta.status())
	meta.captureEvent("not an event")
	require.Zero(t, meta.status())
}

func TestTabCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	var canceled, released int
	tab := &Tab{
		cancel:  func() { canceled++ },
		release: func() { released++ },
	}
	require.NoError(t, tab.Close())
	require.NoError(t, tab.Close())
	require.Equal(t, 1, canceled)
	require.Equal(t, 1, released)
}

func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()
	stop := forwardCancel(parent, cancelChild)
	defer stop()

	cancelParent()
	select {
	case <-child.Done():
		require.True(t, errors.Is(child.Err(), context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("expected child cancellation")
	}
}

func TestLaunchStartsBrowserOnTabContext(t *testing.T) {
	t.Parallel()

	l, err := New(Config{MaxParallel: 1}, nil)
	require.NoError(t, err)
	var started context.Context
	var actionCount int
	l.run = func(ctx context.Context, actions ...chromedp.Action) error {
		started = ctx
		actionCount = len(actions)
		return nil
	}

	got, err := l.Launch(context.Background(), browser.Profile{UserAgent: "Mozilla/5.0 (X11; Linux x86_64)"})
	require.NoError(t, err)
	tab, ok := got.(*Tab)
	require.True(t, ok)

	require.True(t, started == tab.ctx, "browser must be allocated on the tab context")
	require.NotNil(t, chromedp.FromContext(started))
	require.NoError(t, started.Err(), "allocating context must outlive Launch")
	require.Equal(t, 2, actionCount)

	require.NoError(t, tab.Close())
	require.ErrorIs(t, started.Err(), context.Canceled)
	require.NoError(t, l.acquire(context.Background()), "Close releases the slot")
}

func TestLaunchFailureReleasesSlot(t *testing.T) {
	t.Parallel()

	l, err := New(Config{MaxParallel: 1}, nil)
	require.NoError(t, err)
	var started context.Context
	l.run = func(ctx context.Context, _ ...chromedp.Action) error {
		started = ctx
		return errors.New("chrome not found")
	}

	_, err = l.Launch(context.Background(), browser.Profile{})
	require.ErrorContains(t, err, "chrome not found")
	require.ErrorIs(t, started.Err(), context.Canceled)
	require.NoError(t, l.acquire(context.Background()))
}
