// Package static implements browser tabs over plain HTTP with gocolly. It does
// not run JavaScript, so it suits server-rendered sites and mirror renderings.
// Scrolling is a no-op: a static page never grows, and the pagination driver
// ends the run through stall detection.
package static

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/polmsg-collector/internal/browser"
)

// ErrClosed is returned by operations on a closed tab.
var ErrClosed = errors.New("tab closed")

// Config controls the HTTP collector.
type Config struct {
	Timeout time.Duration
}

// Launcher implements browser.Launcher.
type Launcher struct {
	cfg       Config
	transport http.RoundTripper
}

var _ browser.Launcher = (*Launcher)(nil)

// New creates a Launcher.
func New(cfg Config) *Launcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Launcher{cfg: cfg, transport: newHTTPTransport()}
}

// Launch implements browser.Launcher.
func (l *Launcher) Launch(_ context.Context, profile browser.Profile) (browser.Tab, error) {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	if profile.UserAgent != "" {
		c.UserAgent = profile.UserAgent
	}
	c.SetRequestTimeout(l.cfg.Timeout)
	c.WithTransport(l.transport)
	return &Tab{collector: c, profile: profile}, nil
}

// Tab is a static browser.Tab holding the last fetched document.
type Tab struct {
	mu        sync.Mutex
	collector *colly.Collector
	profile   browser.Profile
	html      string
	location  string
	closed    bool
}

var _ browser.Tab = (*Tab)(nil)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type visitResult struct {
	status int
	body   []byte
	url    string
	err    error
}

// Navigate implements browser.Tab.
func (t *Tab) Navigate(ctx context.Context, url string) (int, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, ErrClosed
	}
	collector := t.collector.Clone()
	t.mu.Unlock()

	var result visitResult
	configureHooks(collector, t.profile, &result)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("navigate %s: %w", url, ctx.Err())
	case err := <-done:
		if err != nil && result.status == 0 {
			return 0, fmt.Errorf("navigate %s: %w", url, err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.html = string(result.body)
	t.location = result.url
	if t.location == "" {
		t.location = url
	}
	// Error pages still carry markup worth inspecting for block signatures.
	return result.status, nil
}

func configureHooks(hooks collectorHooks, profile browser.Profile, result *visitResult) {
	hooks.OnRequest(func(r *colly.Request) {
		if profile.AcceptLanguage != "" {
			r.Headers.Set("Accept-Language", profile.AcceptLanguage)
		}
		r.Headers.Set("Accept", "text/html,application/xhtml+xml")
	})
	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
		result.url = r.Request.URL.String()
	})
	hooks.OnError(func(r *colly.Response, err error) {
		result.err = err
		if r != nil && r.StatusCode != 0 {
			result.status = r.StatusCode
			result.body = append([]byte(nil), r.Body...)
			if r.Request != nil && r.Request.URL != nil {
				result.url = r.Request.URL.String()
			}
		}
	})
}

// WaitVisible implements browser.Tab. A static document either contains the
// selector or never will, so there is nothing to wait for.
func (t *Tab) WaitVisible(ctx context.Context, selector string) error {
	html, err := t.HTML(ctx)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	if doc.Find(selector).Length() > 0 {
		return nil
	}
	<-ctx.Done()
	return fmt.Errorf("wait for %q: %w", selector, ctx.Err())
}

// HTML implements browser.Tab.
func (t *Tab) HTML(_ context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", ErrClosed
	}
	return t.html, nil
}

// Location implements browser.Tab.
func (t *Tab) Location(_ context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", ErrClosed
	}
	return t.location, nil
}

// ScrollToBottom implements browser.Tab.
func (t *Tab) ScrollToBottom(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	return nil
}

// Close implements browser.Tab.
func (t *Tab) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.html = ""
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
