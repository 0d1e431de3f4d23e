package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/polmsg-collector/internal/browser"
)

type fakePage struct {
	status int
	// renders are returned in order by HTML; the last one repeats.
	renders []string
	navErr  error
}

type fakeTab struct {
	mu       sync.Mutex
	pages    map[string]*fakePage
	current  *fakePage
	served   int
	visited  []string
	closed   int
	location string
}

func newFakeTab(pages map[string]*fakePage) *fakeTab {
	return &fakeTab{pages: pages}
}

func (t *fakeTab) Navigate(ctx context.Context, url string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visited = append(t.visited, url)
	page, ok := t.pages[url]
	if !ok {
		return 0, errors.New("no route to host")
	}
	if page.navErr != nil {
		return 0, page.navErr
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t.current = page
	t.served = 0
	t.location = url
	return page.status, nil
}

func (t *fakeTab) WaitVisible(context.Context, string) error { return nil }

func (t *fakeTab) HTML(context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil || len(t.current.renders) == 0 {
		return "", nil
	}
	i := t.served
	if i >= len(t.current.renders) {
		i = len(t.current.renders) - 1
	}
	t.served++
	return t.current.renders[i], nil
}

func (t *fakeTab) Location(context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.location, nil
}

func (t *fakeTab) ScrollToBottom(context.Context) error { return nil }

func (t *fakeTab) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

type fakeLauncher struct {
	tab      *fakeTab
	err      error
	profiles []browser.Profile
}

func (l *fakeLauncher) Launch(_ context.Context, p browser.Profile) (browser.Tab, error) {
	l.profiles = append(l.profiles, p)
	if l.err != nil {
		return nil, l.err
	}
	return l.tab, nil
}

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

const timelineHTML = `<html><body><main><article data-testid="tweet"><div data-testid="tweetText">` +
	`Our plan for the economy puts working families first and keeps bills down this winter.</div></article></main></body></html>`
