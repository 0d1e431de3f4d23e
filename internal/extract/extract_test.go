package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

func mustParse(t *testing.T, url, html string) *Page {
	t.Helper()
	page, err := Parse(Snapshot{URL: url, HTML: html})
	require.NoError(t, err)
	return page
}

func TestXPrimaryPlanExtractsFields(t *testing.T) {
	t.Parallel()

	page := mustParse(t, "https://x.com/candidate", xTimeline(2))
	records, errs := NewExtractor(nil).Extract(page, xPrimary())
	require.Empty(t, errs)
	require.Len(t, records, 2)

	first := records[0]
	require.Equal(t, "Post number 1 about the council budget", first.Content)
	require.Equal(t, "https://x.com/candidate/status/1001", first.ExternalURL)
	require.Equal(t, "2024-05-02T10:00:00.000Z", first.PublishedAt)
	require.Equal(t, ingest.SourceKindSocialPost, first.SourceKind)
	require.Equal(t, "1001", first.Identifiers[ingest.IdentifierStatusID])
	require.Equal(t, "candidate", first.Identifiers[ingest.IdentifierAuthor])
	require.InDelta(t, 1, first.Metrics["replies"], 0)
	require.InDelta(t, 1200, first.Metrics["reposts"], 0)
	require.InDelta(t, 12345, first.Metrics["likes"], 0)
	require.NotContains(t, first.Metrics, "views")
}

func TestExtractorKeepsPartialRecordsAndDropsEmpty(t *testing.T) {
	t.Parallel()

	page := mustParse(t, "https://example.org/news", newsPage)
	records, errs := NewExtractor(nil).Extract(page, websitePrimary())
	require.Empty(t, errs)
	require.Len(t, records, 2)

	require.Equal(t, "We will build homes in every ward.\nResidents deserve better.", records[0].Content)
	require.Equal(t, "https://example.org/news/housing", records[0].ExternalURL)
	require.Equal(t, "Housing plan", records[0].Attributes["title"])

	require.Equal(t, "National manifesto launch.", records[1].Content)
	require.Empty(t, records[1].ExternalURL)
	require.Empty(t, records[1].PublishedAt)
}

func TestExtractIsIdempotent(t *testing.T) {
	t.Parallel()

	page := mustParse(t, "https://x.com/candidate", xTimeline(5))
	ex := NewExtractor(nil)
	a, _ := ex.Extract(page, xPrimary())
	b, _ := ex.Extract(page, xPrimary())
	require.Equal(t, a, b)
	require.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestMinimalPlanReadsMirrorMarkup(t *testing.T) {
	t.Parallel()

	page := mustParse(t, "https://nitter.net/candidate", nitterTimeline)
	records, errs := NewExtractor(nil).Extract(page, xMinimal())
	require.Empty(t, errs)
	require.Len(t, records, 2)
	require.Equal(t, "https://nitter.net/candidate/status/77#m", records[0].ExternalURL)
	require.Equal(t, "May 5, 2024 · 3:04 PM UTC", records[0].PublishedAt)
	require.Equal(t, "true", records[1].Identifiers[ingest.IdentifierRepost])
}

func TestResolverStickyChoice(t *testing.T) {
	t.Parallel()

	r := NewResolver(NewExtractor(nil), DefaultPlans(ingest.SourceKindSocialPost)...)
	require.Nil(t, r.Chosen())
	require.Contains(t, r.Containers(), `[data-testid="primaryColumn"]`)
	require.Contains(t, r.Containers(), `.timeline`)

	plan, records, _ := r.Resolve(mustParse(t, "https://nitter.net/candidate", nitterTimeline))
	require.NotNil(t, plan)
	require.Equal(t, "x-minimal", plan.Name())
	require.Len(t, records, 2)

	// The page now renders primary markup, but the run keeps its plan.
	plan, records, _ = r.Resolve(mustParse(t, "https://x.com/candidate", xTimeline(3)))
	require.Equal(t, "x-minimal", plan.Name())
	require.Empty(t, records)
	require.Equal(t, ".timeline", r.Containers())
}

func TestResolverNoMatch(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil, DefaultPlans(ingest.SourceKindSocialPost)...)
	plan, records, _ := r.Resolve(mustParse(t, "https://x.com/a", "<html><body><p>hi</p></body></html>"))
	require.Nil(t, plan)
	require.Nil(t, records)
	require.Nil(t, r.Chosen())
}

func TestFingerprintOrderSensitive(t *testing.T) {
	t.Parallel()

	a := ingest.RawRecord{Content: "a", ExternalURL: "u1"}
	b := ingest.RawRecord{Content: "b", ExternalURL: "u2"}
	require.NotEqual(t, Fingerprint([]ingest.RawRecord{a, b}), Fingerprint([]ingest.RawRecord{b, a}))
	require.Equal(t, Fingerprint(nil), Fingerprint([]ingest.RawRecord{}))
	require.NotEqual(t, Key(a), Key(b))
}

func TestDefaultPlansUnknownKind(t *testing.T) {
	t.Parallel()

	require.Nil(t, DefaultPlans("forum"))
	require.Len(t, DefaultPlans(ingest.SourceKindSocialAd), 2)
}

func TestXPrimaryReplyMarkerIgnoresPostText(t *testing.T) {
	t.Parallel()

	html := `<html><body><div data-testid="primaryColumn">
<article data-testid="tweet">
  <div data-testid="User-Name"><a href="/candidate">Candidate</a></div>
  <div><div>Replying to <a href="/rival">@rival</a></div></div>
  <a href="/candidate/status/11"><time datetime="2024-05-01T10:00:00Z">May 1</time></a>
  <div data-testid="tweetText"><span>We costed every pledge.</span></div>
</article>
<article data-testid="tweet">
  <div data-testid="User-Name"><a href="/candidate">Candidate</a></div>
  <a href="/candidate/status/12"><time datetime="2024-05-01T11:00:00Z">May 1</time></a>
  <div data-testid="tweetText"><span>Replying to critics, </span><a href="/rival">@rival</a><span> our plan is funded.</span></div>
</article>
</div></body></html>`

	records, errs := NewExtractor(nil).Extract(mustParse(t, "https://x.com/candidate", html), xPrimary())
	require.Empty(t, errs)
	require.Len(t, records, 2)
	require.True(t, IsReply(records[0]))
	require.False(t, IsReply(records[1]))
	require.Contains(t, records[1].Content, "Replying to critics")
}
