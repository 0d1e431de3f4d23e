package session

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

// Target is one account or page to scrape, with its entry points.
type Target struct {
	Identity   string            `json:"identity"`
	Kind       ingest.SourceKind `json:"source_kind"`
	URL        string            `json:"url"`
	Alternates []string          `json:"alternates,omitempty"`
}

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,50}$`)

// ResolveTarget derives entry points for identity. Explicit alternates replace
// the derived ones.
func ResolveTarget(identity string, kind ingest.SourceKind, alternates []string) (Target, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Target{}, fmt.Errorf("target identity is required")
	}
	t := Target{Identity: identity, Kind: kind}
	switch kind {
	case ingest.SourceKindSocialPost:
		handle, err := socialHandle(identity)
		if err != nil {
			return Target{}, err
		}
		t.URL = "https://x.com/" + handle
		t.Alternates = []string{
			"https://nitter.net/" + handle,
			"https://mobile.twitter.com/" + handle,
		}
	case ingest.SourceKindSocialAd:
		if isHTTPURL(identity) {
			t.URL = identity
		} else {
			q := url.Values{}
			q.Set("active_status", "all")
			q.Set("ad_type", "political_and_issue_ads")
			q.Set("q", identity)
			t.URL = "https://www.facebook.com/ads/library/?" + q.Encode()
		}
	case ingest.SourceKindWebsite:
		if !isHTTPURL(identity) {
			return Target{}, fmt.Errorf("website target %q must be an absolute http(s) URL", identity)
		}
		t.URL = identity
	default:
		return Target{}, fmt.Errorf("unsupported source kind %q", kind)
	}
	if len(alternates) > 0 {
		t.Alternates = append([]string(nil), alternates...)
	}
	return t, nil
}

func socialHandle(identity string) (string, error) {
	handle := identity
	if isHTTPURL(identity) {
		u, _ := url.Parse(identity)
		handle, _, _ = strings.Cut(strings.Trim(u.Path, "/"), "/")
	}
	handle = strings.TrimPrefix(handle, "@")
	if !handlePattern.MatchString(handle) {
		return "", fmt.Errorf("invalid account handle %q", identity)
	}
	return handle, nil
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
