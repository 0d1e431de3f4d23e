package transform

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

// SourceContext carries run-level facts about where records came from.
type SourceContext struct {
	SourceName string
	SourceURL  string
	// Platform selects the canonical type for social posts; empty means social_x.
	Platform ingest.SourceType
}

// mapping describes how one source kind becomes a canonical message.
type mapping struct {
	sourceType  func(SourceContext) (ingest.SourceType, bool)
	messageType func(ingest.RawRecord) string
	url         func(ingest.RawRecord, ingest.SourceType) string
	metadata    func(raw ingest.RawRecord, content string) ingest.Payload
}

var mappings = map[ingest.SourceKind]mapping{
	ingest.SourceKindWebsite: {
		sourceType:  fixedType(ingest.SourceTypeWebsite),
		messageType: fixedMessageType("article"),
		url:         func(r ingest.RawRecord, _ ingest.SourceType) string { return r.ExternalURL },
		metadata:    websiteMetadata,
	},
	ingest.SourceKindSocialPost: {
		sourceType:  socialType,
		messageType: socialMessageType,
		url:         socialURL,
		metadata:    socialMetadata,
	},
	ingest.SourceKindSocialAd: {
		sourceType:  fixedType(ingest.SourceTypeAdLibrary),
		messageType: fixedMessageType("ad"),
		url:         adURL,
		metadata:    adMetadata,
	},
}

// Transform maps raw into a canonical message for kind.
func Transform(raw ingest.RawRecord, kind ingest.SourceKind, sc SourceContext) (ingest.CanonicalMessage, error) {
	m, ok := mappings[kind]
	if !ok {
		return ingest.CanonicalMessage{}, &ingest.TransformError{
			Kind:  ingest.TransformUnsupportedSource,
			Field: "source_kind",
			Err:   fmt.Errorf("no mapping for source kind %q", kind),
		}
	}
	sourceType, ok := m.sourceType(sc)
	if !ok {
		return ingest.CanonicalMessage{}, &ingest.TransformError{
			Kind:  ingest.TransformUnsupportedSource,
			Field: "source_type",
			Err:   fmt.Errorf("platform %q is not valid for %s", sc.Platform, kind),
		}
	}

	content := CleanContent(raw.Content)
	if content == "" {
		return ingest.CanonicalMessage{}, &ingest.TransformError{
			Kind:  ingest.TransformMissingContent,
			Field: "content",
			Err:   errors.New("content is empty after cleaning"),
		}
	}

	published, err := ParseTimestamp(raw.PublishedAt)
	if err != nil {
		return ingest.CanonicalMessage{}, &ingest.TransformError{
			Kind:  ingest.TransformInvalidTimestamp,
			Field: "published_at",
			Err:   err,
		}
	}

	msg := ingest.CanonicalMessage{
		SourceType:      sourceType,
		SourceName:      sourceName(raw, sc),
		SourceURL:       sc.SourceURL,
		Content:         content,
		URL:             m.url(raw, sourceType),
		PublishedAt:     published,
		MessageType:     messageType(raw, m),
		GeographicScope: GeographicScope(content),
		Metadata:        m.metadata(raw, content),
		RawData:         raw.AsPayload(),
	}
	if err := msg.Validate(); err != nil {
		return ingest.CanonicalMessage{}, &ingest.TransformError{
			Kind: ingest.TransformInvalidMessage,
			Err:  err,
		}
	}
	return msg, nil
}

// ParseTimestamp parses a raw timestamp into UTC. Empty input yields nil.
func ParseTimestamp(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, "·", " "))
	if raw == "" {
		return nil, nil
	}
	raw = strings.Join(strings.Fields(raw), " ")
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	if t.Year() < 1990 {
		return nil, fmt.Errorf("timestamp %q predates the web", raw)
	}
	t = t.UTC()
	return &t, nil
}

func fixedType(t ingest.SourceType) func(SourceContext) (ingest.SourceType, bool) {
	return func(SourceContext) (ingest.SourceType, bool) { return t, true }
}

func fixedMessageType(name string) func(ingest.RawRecord) string {
	return func(ingest.RawRecord) string { return name }
}

func messageType(raw ingest.RawRecord, m mapping) string {
	if override, ok := raw.Attributes["message_type"].(string); ok && override != "" {
		return override
	}
	return m.messageType(raw)
}

func sourceName(raw ingest.RawRecord, sc SourceContext) string {
	if sc.SourceName != "" {
		return sc.SourceName
	}
	if author := raw.Identifiers[ingest.IdentifierAuthor]; author != "" {
		return "@" + author
	}
	if name, ok := raw.Attributes["page_name"].(string); ok && name != "" {
		return name
	}
	for _, candidate := range []string{sc.SourceURL, raw.ExternalURL} {
		if u, err := url.Parse(candidate); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	return ""
}

// basePayload copies record attributes, metrics and identifiers verbatim.
func basePayload(raw ingest.RawRecord) ingest.Payload {
	out := raw.Attributes.Clone()
	if out == nil {
		out = ingest.Payload{}
	}
	if len(raw.Metrics) > 0 {
		metrics := make(map[string]any, len(raw.Metrics))
		for k, v := range raw.Metrics {
			metrics[k] = v
		}
		out["metrics"] = metrics
	}
	if len(raw.Identifiers) > 0 {
		ids := make(map[string]any, len(raw.Identifiers))
		for k, v := range raw.Identifiers {
			ids[k] = v
		}
		out["identifiers"] = ids
	}
	return out
}

// setDerived adds a derived key unless the platform already supplied it.
func setDerived(p ingest.Payload, key string, value any) {
	if _, exists := p[key]; !exists {
		p[key] = value
	}
}
