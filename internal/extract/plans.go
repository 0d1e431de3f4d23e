package extract

import (
	"regexp"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

// Platform markup changes often; keep every selector in this file.

var (
	statusPattern = regexp.MustCompile(`/(?P<author>[A-Za-z0-9_]+)/status(?:es)?/(?P<status_id>\d+)`)
	adIDPattern   = regexp.MustCompile(`(?i)library id:?\s*(?P<ad_id>\d+)`)
)

func xPrimary() *SelectorPlan {
	return &SelectorPlan{
		PlanName:   "x-primary",
		SourceKind: ingest.SourceKindSocialPost,
		Root:       `[data-testid="primaryColumn"]`,
		Item:       `article[data-testid="tweet"]`,
		Content:    []string{`[data-testid="tweetText"]`},
		Timestamp:  `time[datetime]`,
		Link:       `a[href*="/status/"]:has(time)`,
		IDPattern:  statusPattern,
		Metrics: map[string]string{
			"replies": `[data-testid="reply"]`,
			"reposts": `[data-testid="retweet"]`,
			"likes":   `[data-testid="like"]`,
			"views":   `a[href$="/analytics"]`,
		},
		RepostMarker: `[data-testid="socialContext"]:contains("reposted")`,
		// The reply header sits beside the post body and links the parent author.
		ReplyMarker: `div:not([data-testid="tweetText"]):not(:has([data-testid="tweetText"]))` +
			`:contains("Replying to"):has(a[href^="/"])`,
	}
}

func xLegacy() *SelectorPlan {
	return &SelectorPlan{
		PlanName:   "x-legacy",
		SourceKind: ingest.SourceKindSocialPost,
		Item:       `article[role="article"], div.tweet`,
		Content:    []string{`[data-testid="tweetText"]`, `.tweet-text`, `div[lang]`},
		Timestamp:  `time`,
		Link:       `a[href*="/status"]`,
		IDPattern:  statusPattern,
		Metrics: map[string]string{
			"replies": `[data-testid="reply"], .ProfileTweet-action--reply .ProfileTweet-actionCount`,
			"reposts": `[data-testid="retweet"], .ProfileTweet-action--retweet .ProfileTweet-actionCount`,
			"likes":   `[data-testid="like"], .ProfileTweet-action--favorite .ProfileTweet-actionCount`,
		},
		RepostMarker: `.js-retweet-text, [data-testid="socialContext"]`,
		ReplyMarker:  `.ReplyingToContextBelowAuthor`,
	}
}

// xMinimal covers the mirror and mobile renderings used as alternate entry points.
func xMinimal() *SelectorPlan {
	return &SelectorPlan{
		PlanName:   "x-minimal",
		SourceKind: ingest.SourceKindSocialPost,
		Root:       `.timeline`,
		Item:       `.timeline-item`,
		Content:    []string{`.tweet-content`},
		Timestamp:  `.tweet-date a`,
		Link:       `a.tweet-link`,
		IDPattern:  statusPattern,
		Metrics: map[string]string{
			"replies": `.tweet-stat .icon-comment + *, .tweet-stats span:nth-child(1)`,
			"reposts": `.tweet-stat .icon-retweet + *, .tweet-stats span:nth-child(2)`,
			"likes":   `.tweet-stat .icon-heart + *, .tweet-stats span:nth-child(4)`,
		},
		RepostMarker: `.retweet-header`,
		ReplyMarker:  `.replying-to`,
	}
}

func websitePrimary() *SelectorPlan {
	return &SelectorPlan{
		PlanName:   "article-primary",
		SourceKind: ingest.SourceKindWebsite,
		Item:       `article`,
		Content:    []string{`.entry-content p, .article-body p, .post-content p`, `p`},
		Timestamp:  `time`,
		Link:       `h1 a[href], h2 a[href], h3 a[href], a[rel="bookmark"]`,
		Attributes: map[string]string{
			"title":  `h1, h2, h3`,
			"byline": `.byline, [rel="author"]`,
		},
	}
}

func websiteLegacy() *SelectorPlan {
	return &SelectorPlan{
		PlanName:   "post-legacy",
		SourceKind: ingest.SourceKindWebsite,
		Item:       `.post, .news-item, .entry`,
		Content:    []string{`.content p, .summary, .excerpt`, `p`},
		Timestamp:  `.date, .published, time`,
		Link:       `a[href]`,
		Attributes: map[string]string{
			"title": `h2, h3, .title`,
		},
	}
}

// websiteMinimal treats the whole page body as one record.
func websiteMinimal() *SelectorPlan {
	return &SelectorPlan{
		PlanName:   "page-minimal",
		SourceKind: ingest.SourceKindWebsite,
		Item:       `body`,
		Content:    []string{`main p`, `p`},
		Timestamp:  `time`,
		Attributes: map[string]string{
			"title": `title`,
		},
	}
}

func adLibraryPrimary() *SelectorPlan {
	return &SelectorPlan{
		PlanName:         "ad-library-primary",
		SourceKind:       ingest.SourceKindSocialAd,
		Item:             `div[data-testid="ad-card"]`,
		Content:          []string{`[data-testid="ad-creative-body"]`, `div[style*="white-space: pre-wrap"]`},
		Timestamp:        `[data-testid="ad-delivery-start"]`,
		Link:             `a[href*="/ads/library/?id="]`,
		IDPattern:        regexp.MustCompile(`id=(?P<ad_id>\d+)`),
		ContentIDPattern: adIDPattern,
		Attributes: map[string]string{
			"page_name":           `[data-testid="ad-page-name"]`,
			"funding_entity":      `[data-testid="ad-disclaimer"]`,
			"delivery_dates":      `[data-testid="ad-delivery-dates"]`,
			"spend":               `[data-testid="ad-spend"]`,
			"impressions":         `[data-testid="ad-impressions"]`,
			"publisher_platforms": `[data-testid="ad-platforms"]`,
			"link_title":          `[data-testid="ad-creative-link-title"]`,
		},
	}
}

func adLibraryMinimal() *SelectorPlan {
	return &SelectorPlan{
		PlanName:         "ad-library-minimal",
		SourceKind:       ingest.SourceKindSocialAd,
		Item:             `div[role="article"]`,
		ContentIDPattern: adIDPattern,
		Attributes: map[string]string{
			"page_name": `a[href*="facebook.com/"] span, strong`,
		},
	}
}

// DefaultPlans returns the built-in plans for kind in priority order: current
// layout, legacy layout, minimal or mobile layout.
func DefaultPlans(kind ingest.SourceKind) []Plan {
	switch kind {
	case ingest.SourceKindSocialPost:
		return []Plan{xPrimary(), xLegacy(), xMinimal()}
	case ingest.SourceKindWebsite:
		return []Plan{websitePrimary(), websiteLegacy(), websiteMinimal()}
	case ingest.SourceKindSocialAd:
		return []Plan{adLibraryPrimary(), adLibraryMinimal()}
	default:
		return nil
	}
}
