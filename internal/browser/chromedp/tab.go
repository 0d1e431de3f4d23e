package chromedpbrowser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/polmsg-collector/internal/browser"
)

const scrollScript = `window.scrollTo(0, document.body ? document.body.scrollHeight : 0)`

// Tab is a chromedp-backed browser.Tab.
type Tab struct {
	ctx        context.Context
	cancel     context.CancelFunc
	release    func()
	navTimeout time.Duration
	meta       *responseMeta
	closeOnce  sync.Once
}

var _ browser.Tab = (*Tab)(nil)

// Navigate implements browser.Tab.
func (t *Tab) Navigate(ctx context.Context, url string) (int, error) {
	t.meta.reset()
	navCtx, cancel := context.WithTimeout(ctx, t.navTimeout)
	defer cancel()
	if err := t.run(navCtx, chromedp.Navigate(url)); err != nil {
		return t.meta.status(), fmt.Errorf("navigate %s: %w", url, err)
	}
	return t.meta.status(), nil
}

// WaitVisible implements browser.Tab. It waits for the selector to be present
// in the DOM, which is what extraction needs.
func (t *Tab) WaitVisible(ctx context.Context, selector string) error {
	if err := t.run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

// HTML implements browser.Tab.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	var html string
	if err := t.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// Location implements browser.Tab.
func (t *Tab) Location(ctx context.Context) (string, error) {
	var loc string
	if err := t.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// ScrollToBottom implements browser.Tab.
func (t *Tab) ScrollToBottom(ctx context.Context) error {
	if err := t.run(ctx, chromedp.Evaluate(scrollScript, nil)); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

// Close implements browser.Tab.
func (t *Tab) Close() error {
	t.closeOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		if t.release != nil {
			t.release()
		}
	})
	return nil
}

// run executes actions on the tab while honoring the caller's deadline and
// cancellation. Canceling the derived context does not close the tab.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("chromedp run: %w", ctxErr)
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// responseMeta records the status of the last document response.
type responseMeta struct {
	mu   sync.Mutex
	code int
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.code == 0 {
		m.code = int(resp.Response.Status)
	}
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.code = 0
}

func (m *responseMeta) status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.code
}
