package ingest

import (
	"time"
	"unicode/utf8"
)

// SourceKind identifies the shape of a raw platform record.
type SourceKind string

// Supported raw record kinds.
const (
	SourceKindWebsite    SourceKind = "website"
	SourceKindSocialPost SourceKind = "social_post"
	SourceKindSocialAd   SourceKind = "social_ad"
)

// Valid reports whether k is a known kind.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceKindWebsite, SourceKindSocialPost, SourceKindSocialAd:
		return true
	default:
		return false
	}
}

// SourceType is the canonical source classification stored with each message.
type SourceType string

// Canonical source types.
const (
	SourceTypeWebsite   SourceType = "website"
	SourceTypeSocialX   SourceType = "social_x"
	SourceTypeSocialY   SourceType = "social_y"
	SourceTypeAdLibrary SourceType = "ad_library"
)

// MaxContentLength bounds canonical message content, in characters.
const MaxContentLength = 10000

const maxSourceNameLength = 255

// Valid reports whether t belongs to the fixed enum.
func (t SourceType) Valid() bool {
	switch t {
	case SourceTypeWebsite, SourceTypeSocialX, SourceTypeSocialY, SourceTypeAdLibrary:
		return true
	default:
		return false
	}
}

// GeographicScope is derived from message content.
type GeographicScope string

// Geographic scopes, from widest to narrowest.
const (
	ScopeNational GeographicScope = "national"
	ScopeRegional GeographicScope = "regional"
	ScopeLocal    GeographicScope = "local"
)

// Payload is an opaque structured map carried through the pipeline untouched.
type Payload map[string]any

// Clone returns a deep copy of p. Nested maps and slices are copied so that the
// clone shares no mutable state with p.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case Payload:
		return typed.Clone()
	case map[string]any:
		return map[string]any(Payload(typed).Clone())
	case map[string]string:
		out := make(map[string]string, len(typed))
		for k, s := range typed {
			out[k] = s
		}
		return out
	case map[string]float64:
		out := make(map[string]float64, len(typed))
		for k, f := range typed {
			out[k] = f
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), typed...)
	default:
		return v
	}
}

// RawRecord is one item pulled from a page, before normalization.
//
// PublishedAt holds the timestamp exactly as found in the markup (usually an
// ISO datetime attribute); an empty value means the page carried none. Parsing
// is the transformer's job so that a malformed value surfaces as a transform
// error instead of being silently discarded during extraction.
type RawRecord struct {
	Content     string             `json:"content"`
	ExternalURL string             `json:"external_url,omitempty"`
	PublishedAt string             `json:"published_at,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Identifiers map[string]string  `json:"identifiers,omitempty"`
	Attributes  Payload            `json:"attributes,omitempty"`
	SourceKind  SourceKind         `json:"source_kind"`
}

// Identifier keys set by the extraction plans.
const (
	IdentifierStatusID = "status_id"
	IdentifierAuthor   = "author"
	IdentifierReply    = "reply"
	IdentifierRepost   = "repost"
	IdentifierAdID     = "ad_id"
)

// AsPayload renders the record as a plain map, used verbatim as a message's raw data.
func (r RawRecord) AsPayload() Payload {
	out := Payload{
		"content":     r.Content,
		"source_kind": string(r.SourceKind),
	}
	if r.ExternalURL != "" {
		out["external_url"] = r.ExternalURL
	}
	if r.PublishedAt != "" {
		out["published_at"] = r.PublishedAt
	}
	if len(r.Metrics) > 0 {
		out["metrics"] = cloneValue(r.Metrics)
	}
	if len(r.Identifiers) > 0 {
		out["identifiers"] = cloneValue(r.Identifiers)
	}
	if len(r.Attributes) > 0 {
		out["attributes"] = map[string]any(r.Attributes.Clone())
	}
	return out
}

// CanonicalMessage is the storage-ready unit of ingestion. Values are never
// mutated after the transformer builds them; retries resubmit the same value.
type CanonicalMessage struct {
	SourceType      SourceType      `json:"source_type"`
	SourceName      string          `json:"source_name"`
	SourceURL       string          `json:"source_url,omitempty"`
	Content         string          `json:"content"`
	URL             string          `json:"url,omitempty"`
	PublishedAt     *time.Time      `json:"published_at,omitempty"`
	MessageType     string          `json:"message_type"`
	GeographicScope GeographicScope `json:"geographic_scope"`
	Metadata        Payload         `json:"metadata"`
	RawData         Payload         `json:"raw_data"`
}

// Validate enforces the canonical message invariants.
func (m CanonicalMessage) Validate() error {
	if !m.SourceType.Valid() {
		return &ValidationError{Field: "source_type", Reason: "unknown source type " + quoteOrEmpty(string(m.SourceType))}
	}
	if m.SourceName == "" {
		return &ValidationError{Field: "source_name", Reason: "source name is required"}
	}
	if utf8.RuneCountInString(m.SourceName) > maxSourceNameLength {
		return &ValidationError{Field: "source_name", Reason: "source name exceeds 255 characters"}
	}
	if !utf8.ValidString(m.Content) {
		return &ValidationError{Field: "content", Reason: "content is not valid UTF-8"}
	}
	n := utf8.RuneCountInString(m.Content)
	if n == 0 {
		return &ValidationError{Field: "content", Reason: "content is empty"}
	}
	if n > MaxContentLength {
		return &ValidationError{Field: "content", Reason: "content exceeds 10000 characters"}
	}
	switch m.GeographicScope {
	case ScopeNational, ScopeRegional, ScopeLocal:
	default:
		return &ValidationError{Field: "geographic_scope", Reason: "unknown scope " + quoteOrEmpty(string(m.GeographicScope))}
	}
	return nil
}

func quoteOrEmpty(s string) string {
	if s == "" {
		return `""`
	}
	return `"` + s + `"`
}

// RunState is the per-run bookkeeping owned by the pagination driver and the
// session controller. It is never shared across runs and never persisted.
type RunState struct {
	ScrollAttempts     int
	ConsecutiveStalls  int
	Collected          int
	NavigationAttempts int
	StartedAt          time.Time
	Elapsed            time.Duration
	LastFingerprint    string
	EntryURL           string
}
