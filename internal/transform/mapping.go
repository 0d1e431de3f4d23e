package transform

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/polmsg-collector/internal/extract"
	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

func websiteMetadata(raw ingest.RawRecord, content string) ingest.Payload {
	meta := basePayload(raw)
	if t := title(raw.Content); t != "" {
		setDerived(meta, "title", t)
	}
	setDerived(meta, "word_count", len(strings.Fields(content)))
	if u, err := url.Parse(raw.ExternalURL); err == nil && raw.ExternalURL != "" {
		setDerived(meta, "url_path", u.Path)
	}
	return meta
}

func socialType(sc SourceContext) (ingest.SourceType, bool) {
	switch sc.Platform {
	case "":
		return ingest.SourceTypeSocialX, true
	case ingest.SourceTypeSocialX, ingest.SourceTypeSocialY:
		return sc.Platform, true
	default:
		return "", false
	}
}

func socialMessageType(raw ingest.RawRecord) string {
	switch {
	case extract.IsRepost(raw):
		return "repost"
	case extract.IsReply(raw):
		return "reply"
	default:
		return "post"
	}
}

func socialURL(raw ingest.RawRecord, sourceType ingest.SourceType) string {
	if raw.ExternalURL != "" {
		return raw.ExternalURL
	}
	id := raw.Identifiers[ingest.IdentifierStatusID]
	if id == "" {
		return ""
	}
	if sourceType == ingest.SourceTypeSocialY {
		// Page post ids arrive as "<page>_<post>".
		if page, post, ok := strings.Cut(id, "_"); ok {
			return "https://www.facebook.com/" + page + "/posts/" + post
		}
		return "https://www.facebook.com/" + id
	}
	author := raw.Identifiers[ingest.IdentifierAuthor]
	if author == "" {
		return ""
	}
	return "https://x.com/" + author + "/status/" + id
}

func socialMetadata(raw ingest.RawRecord, content string) ingest.Payload {
	meta := basePayload(raw)
	setDerived(meta, "hashtags", Hashtags(content))
	setDerived(meta, "mentions", Mentions(content))
	setDerived(meta, "urls", URLs(content))
	setDerived(meta, "tweet_type", socialMessageType(raw))
	return meta
}

func adURL(raw ingest.RawRecord, _ ingest.SourceType) string {
	if raw.ExternalURL != "" {
		return raw.ExternalURL
	}
	if id := raw.Identifiers[ingest.IdentifierAdID]; id != "" {
		return "https://www.facebook.com/ads/library/?id=" + id
	}
	return ""
}

func adMetadata(raw ingest.RawRecord, _ string) ingest.Payload {
	meta := basePayload(raw)
	if id := raw.Identifiers[ingest.IdentifierAdID]; id != "" {
		setDerived(meta, "ad_id", id)
	}
	return meta
}
