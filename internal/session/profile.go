package session

import (
	"math/rand"
	"strings"
	"time"

	"github.com/JakeFAU/polmsg-collector/internal/browser"
)

// AntiDetection configures identity randomization and navigation timing.
// Empty pools fall back to built-in defaults.
type AntiDetection struct {
	UserAgents        []string
	Viewports         []browser.Viewport
	Locales           []string
	Timezones         []string
	NavigationTimeout time.Duration
	// LoadDelay is waited after navigation before the page is inspected.
	LoadDelay time.Duration
	// EmptyBodyWait is how long an empty page gets to render before it counts as a challenge.
	EmptyBodyWait time.Duration
}

var (
	defaultUserAgents = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	}
	defaultViewports = []browser.Viewport{
		{Width: 1280, Height: 800},
		{Width: 1366, Height: 768},
		{Width: 1440, Height: 900},
		{Width: 1920, Height: 1080},
	}
	defaultLocales = []string{"en-US", "en-GB"}
)

// RandomProfile draws a browser identity from the configured pools.
func RandomProfile(cfg AntiDetection, rng *rand.Rand) browser.Profile {
	locale := pick(rng, cfg.Locales, defaultLocales)
	profile := browser.Profile{
		UserAgent:      pick(rng, cfg.UserAgents, defaultUserAgents),
		Viewport:       pick(rng, cfg.Viewports, defaultViewports),
		Locale:         locale,
		AcceptLanguage: AcceptLanguage(locale),
	}
	if len(cfg.Timezones) > 0 {
		profile.Timezone = pick(rng, cfg.Timezones, nil)
	}
	return profile
}

// AcceptLanguage builds a header value for locale, e.g. "en-GB,en;q=0.9".
func AcceptLanguage(locale string) string {
	base, _, found := strings.Cut(locale, "-")
	if !found || base == "" {
		return locale
	}
	return locale + "," + base + ";q=0.9"
}

func pick[T any](rng *rand.Rand, pool, fallback []T) T {
	if len(pool) == 0 {
		pool = fallback
	}
	if len(pool) == 0 {
		var zero T
		return zero
	}
	return pool[rng.Intn(len(pool))]
}
