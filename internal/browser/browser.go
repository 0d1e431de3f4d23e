// Package browser defines the page-driving abstraction the session controller
// and pagination driver work against. Implementations live in subpackages:
// chromedp drives a real Chrome; static fetches markup without JavaScript.
package browser

import (
	"context"
	"fmt"
	"strings"
)

// Viewport is the emulated window size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ParseViewport reads "WIDTHxHEIGHT".
func ParseViewport(s string) (Viewport, error) {
	var v Viewport
	if _, err := fmt.Sscanf(strings.ToLower(strings.TrimSpace(s)), "%dx%d", &v.Width, &v.Height); err != nil {
		return Viewport{}, fmt.Errorf("parse viewport %q: %w", s, err)
	}
	if v.Width <= 0 || v.Height <= 0 {
		return Viewport{}, fmt.Errorf("parse viewport %q: dimensions must be positive", s)
	}
	return v, nil
}

func (v Viewport) String() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// Profile is the identity a browser presents for one run.
type Profile struct {
	UserAgent      string   `json:"user_agent"`
	Viewport       Viewport `json:"viewport"`
	Locale         string   `json:"locale"`
	AcceptLanguage string   `json:"accept_language"`
	Timezone       string   `json:"timezone,omitempty"`
}

// Tab is one live page. Methods are called sequentially by a single run.
type Tab interface {
	// Navigate loads url and returns the document's HTTP status, 0 when unknown.
	Navigate(ctx context.Context, url string) (int, error)
	WaitVisible(ctx context.Context, selector string) error
	HTML(ctx context.Context) (string, error)
	Location(ctx context.Context) (string, error)
	// ScrollToBottom triggers the page's load-more behavior.
	ScrollToBottom(ctx context.Context) error
	// Close releases the tab and any process behind it. It is safe to call more than once.
	Close() error
}

// Launcher starts tabs configured with a profile.
type Launcher interface {
	Launch(ctx context.Context, profile Profile) (Tab, error)
}
