package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

func newTestController(l *fakeLauncher, s *recordingSleeper) *Controller {
	return NewController(l, NewDetector(0), nil,
		WithRand(rand.New(rand.NewSource(7))),
		WithSleep(s.Sleep),
	)
}

func socialTarget(t *testing.T) Target {
	t.Helper()
	target, err := ResolveTarget("@campaignhq", ingest.SourceKindSocialPost, nil)
	require.NoError(t, err)
	return target
}

func TestControllerOpenPrimary(t *testing.T) {
	t.Parallel()
	target := socialTarget(t)
	tab := newFakeTab(map[string]*fakePage{
		target.URL: {status: 200, renders: []string{timelineHTML}},
	})
	launcher := &fakeLauncher{tab: tab}
	sleeper := &recordingSleeper{}
	c := newTestController(launcher, sleeper)

	state := &ingest.RunState{}
	cfg := AntiDetection{LoadDelay: 3 * time.Second, EmptyBodyWait: 2 * time.Second}
	h, err := c.Open(context.Background(), target, cfg, state)
	require.NoError(t, err)
	require.Equal(t, target.URL, h.EntryURL)
	require.Equal(t, target.URL, state.EntryURL)
	require.Equal(t, 1, state.NavigationAttempts)
	require.Equal(t, []time.Duration{3 * time.Second}, sleeper.waits)
	require.Len(t, launcher.profiles, 1)
	require.NotEmpty(t, launcher.profiles[0].UserAgent)

	require.NoError(t, c.Close(h))
	require.NoError(t, c.Close(h))
	require.Equal(t, 1, tab.closed)
	require.NoError(t, c.Close(nil))
}

func TestControllerFallsBackToFirstAlternate(t *testing.T) {
	t.Parallel()
	target := socialTarget(t)
	blocked := `<html><body><h1>This browser is no longer supported.</h1></body></html>`
	tab := newFakeTab(map[string]*fakePage{
		target.URL:           {status: 200, renders: []string{blocked}},
		target.Alternates[0]: {status: 200, renders: []string{timelineHTML}},
	})
	c := newTestController(&fakeLauncher{tab: tab}, &recordingSleeper{})

	state := &ingest.RunState{}
	h, err := c.Open(context.Background(), target, AntiDetection{}, state)
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close(h)) }()

	require.Equal(t, target.Alternates[0], h.EntryURL)
	require.Equal(t, 2, state.NavigationAttempts)
	require.Equal(t, []string{target.URL, target.Alternates[0]}, tab.visited)
}

func TestControllerBlockedOnEveryEntry(t *testing.T) {
	t.Parallel()
	target := socialTarget(t)
	captcha := `<html><body><div class="g-recaptcha"></div><p>Please complete the check to continue browsing.</p></body></html>`
	tab := newFakeTab(map[string]*fakePage{
		target.URL:           {status: 200, renders: []string{captcha}},
		target.Alternates[0]: {status: 429, renders: []string{"<html><body>Rate limit exceeded</body></html>"}},
		target.Alternates[1]: {status: 200, renders: []string{timelineHTML}},
	})
	c := newTestController(&fakeLauncher{tab: tab}, &recordingSleeper{})

	h, err := c.Open(context.Background(), target, AntiDetection{}, nil)
	require.Nil(t, h)
	var sessErr *ingest.SessionError
	require.ErrorAs(t, err, &sessErr)
	require.Equal(t, ingest.SessionBlocked, sessErr.Kind)
	require.Equal(t, SignatureRateLimited, sessErr.Signature)
	require.Equal(t, target.Alternates[0], sessErr.URL)
	require.Len(t, tab.visited, 2, "only one alternate is tried")
	require.Equal(t, 1, tab.closed)
}

func TestControllerBlockedWhenAlternateUnreachable(t *testing.T) {
	t.Parallel()
	target := socialTarget(t)
	blocked := `<html><body><h1>Something went wrong. Try reloading.</h1></body></html>`
	tab := newFakeTab(map[string]*fakePage{
		target.URL: {status: 200, renders: []string{blocked}},
	})
	c := newTestController(&fakeLauncher{tab: tab}, &recordingSleeper{})

	h, err := c.Open(context.Background(), target, AntiDetection{}, nil)
	require.Nil(t, h)
	var sessErr *ingest.SessionError
	require.ErrorAs(t, err, &sessErr)
	require.Equal(t, ingest.SessionBlocked, sessErr.Kind)
	require.Equal(t, SignatureBlockPage, sessErr.Signature)
	require.Equal(t, target.URL, sessErr.URL)
	require.ErrorContains(t, err, "no route to host")
	require.Equal(t, []string{target.URL, target.Alternates[0]}, tab.visited)
	require.Equal(t, 1, tab.closed)
}

func TestControllerEmptyBodyGetsRenderWait(t *testing.T) {
	t.Parallel()
	target, err := ResolveTarget("https://party.example/news", ingest.SourceKindWebsite, nil)
	require.NoError(t, err)

	tab := newFakeTab(map[string]*fakePage{
		target.URL: {status: 200, renders: []string{"<html><body></body></html>", timelineHTML}},
	})
	sleeper := &recordingSleeper{}
	c := newTestController(&fakeLauncher{tab: tab}, sleeper)

	cfg := AntiDetection{LoadDelay: time.Second, EmptyBodyWait: 2 * time.Second}
	h, err := c.Open(context.Background(), target, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close(h))
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.waits)
}

func TestControllerEmptyBodyStaysEmpty(t *testing.T) {
	t.Parallel()
	target, err := ResolveTarget("https://party.example/news", ingest.SourceKindWebsite, nil)
	require.NoError(t, err)

	tab := newFakeTab(map[string]*fakePage{
		target.URL: {status: 200, renders: []string{"<html><body>  </body></html>"}},
	})
	c := newTestController(&fakeLauncher{tab: tab}, &recordingSleeper{})

	_, err = c.Open(context.Background(), target, AntiDetection{EmptyBodyWait: time.Second}, nil)
	var sessErr *ingest.SessionError
	require.ErrorAs(t, err, &sessErr)
	require.Equal(t, ingest.SessionBlocked, sessErr.Kind)
	require.Equal(t, SignatureEmptyBody, sessErr.Signature)
}

func TestControllerNavigationErrors(t *testing.T) {
	t.Parallel()
	target, err := ResolveTarget("https://party.example/news", ingest.SourceKindWebsite, nil)
	require.NoError(t, err)

	testCases := []struct {
		name   string
		navErr error
		want   ingest.SessionErrorKind
	}{
		{"timeout", fmt.Errorf("navigate: %w", context.DeadlineExceeded), ingest.SessionTimeout},
		{"dns", errors.New("net::ERR_NAME_NOT_RESOLVED"), ingest.SessionNavigationFailed},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tab := newFakeTab(map[string]*fakePage{target.URL: {navErr: tc.navErr}})
			c := newTestController(&fakeLauncher{tab: tab}, &recordingSleeper{})

			_, err := c.Open(context.Background(), target, AntiDetection{NavigationTimeout: time.Second}, nil)
			kind, ok := ingest.SessionKindOf(err)
			require.True(t, ok)
			require.Equal(t, tc.want, kind)
			require.Equal(t, 1, tab.closed)
		})
	}
}

func TestControllerLaunchFailure(t *testing.T) {
	t.Parallel()
	c := newTestController(&fakeLauncher{err: errors.New("chrome not found")}, &recordingSleeper{})

	_, err := c.Open(context.Background(), socialTarget(t), AntiDetection{}, nil)
	kind, ok := ingest.SessionKindOf(err)
	require.True(t, ok)
	require.Equal(t, ingest.SessionNavigationFailed, kind)
}

func TestControllerCanceledContextSkipsAlternate(t *testing.T) {
	t.Parallel()
	target := socialTarget(t)
	tab := newFakeTab(map[string]*fakePage{
		target.URL:           {status: 200, renders: []string{timelineHTML}},
		target.Alternates[0]: {status: 200, renders: []string{timelineHTML}},
	})
	c := newTestController(&fakeLauncher{tab: tab}, &recordingSleeper{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Open(ctx, target, AntiDetection{}, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, tab.visited, 1)
	require.Equal(t, 1, tab.closed)
}

type countingPacer struct{ calls []string }

func (p *countingPacer) Wait(_ context.Context, rawURL string) error {
	p.calls = append(p.calls, rawURL)
	return nil
}

func TestControllerPacesNavigations(t *testing.T) {
	t.Parallel()
	target := socialTarget(t)
	tab := newFakeTab(map[string]*fakePage{target.URL: {status: 200, renders: []string{timelineHTML}}})
	pacer := &countingPacer{}
	c := NewController(&fakeLauncher{tab: tab}, nil, nil, WithPacer(pacer), WithSleep((&recordingSleeper{}).Sleep))

	h, err := c.Open(context.Background(), target, AntiDetection{}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close(h))
	require.Equal(t, []string{target.URL}, pacer.calls)
}
