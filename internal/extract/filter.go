package extract

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

// Filter selects which extracted records count toward a run.
type Filter struct {
	IncludeReplies bool
	IncludeReposts bool
	// DateLimit excludes records published before Now minus DateLimit. Zero disables it.
	DateLimit time.Duration
	Now       time.Time
}

// Keep reports whether r passes the filter. Records whose timestamp cannot be
// parsed pass the date check; the transformer reports them.
func (f Filter) Keep(r ingest.RawRecord) bool {
	if !f.IncludeReposts && IsRepost(r) {
		return false
	}
	if !f.IncludeReplies && IsReply(r) {
		return false
	}
	if f.DateLimit > 0 && r.PublishedAt != "" {
		published, err := dateparse.ParseIn(r.PublishedAt, time.UTC)
		if err == nil && published.Before(f.Now.Add(-f.DateLimit)) {
			return false
		}
	}
	return true
}

// IsRepost reports whether r re-shares another account's post.
func IsRepost(r ingest.RawRecord) bool {
	return r.Identifiers[ingest.IdentifierRepost] == "true" || strings.HasPrefix(r.Content, "RT @")
}

// IsReply reports whether r answers another post.
func IsReply(r ingest.RawRecord) bool {
	return r.Identifiers[ingest.IdentifierReply] == "true" || strings.HasPrefix(r.Content, "@")
}
