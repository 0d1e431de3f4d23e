package session

import (
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Challenge signatures reported by the detector.
const (
	SignatureBlockPage   = "block_page"
	SignatureCaptcha     = "captcha"
	SignatureRateLimited = "rate_limited"
	SignatureForbidden   = "forbidden"
	SignatureEmptyBody   = "empty_body"
	SignatureScriptShell = "script_shell"
)

var blockTexts = []string{
	"this browser is no longer supported",
	"rate limit exceeded",
	"something went wrong. try reloading.",
	"access denied",
	"checking your browser",
	"unusual traffic",
	"verify you are human",
}

// captchaMarkers are matched against element class, id, src and action
// attributes only.
var captchaMarkers = []string{
	"g-recaptcha",
	"h-captcha",
	"cf-challenge",
	"challenge-form",
	"captcha",
}

// contentNodes hold published posts and articles. Their text is never read as a
// block notice.
const contentNodes = `article, [role="article"], [data-testid="tweet"], [data-testid="ad-card"], ` +
	`.timeline-item, .tweet, .post, .news-item, .entry`

// maxNoticeText bounds the page chrome scanned for block texts. Interstitials
// are short; longer pages only have their title and headings scanned.
const maxNoticeText = 1500

// Verdict is the detector's reading of a loaded page.
type Verdict struct {
	Signature string
	// Empty marks verdicts that may clear once the page finishes rendering.
	Empty bool
}

// Challenged reports whether the page is a bot-mitigation state.
func (v Verdict) Challenged() bool {
	return v.Signature != ""
}

// Detector recognizes block pages, CAPTCHAs and empty shells.
type Detector struct {
	// MinTextLength is the visible text below which a script-heavy page counts as a shell.
	MinTextLength int
}

// NewDetector creates a Detector.
func NewDetector(minTextLength int) *Detector {
	if minTextLength <= 0 {
		minTextLength = 64
	}
	return &Detector{MinTextLength: minTextLength}
}

// Inspect classifies a page from its document status and markup.
func (d *Detector) Inspect(status int, html string) Verdict {
	lower := strings.ToLower(html)
	page := readPage(html)

	for _, marker := range blockTexts {
		if strings.Contains(page.notice, marker) {
			if marker == "rate limit exceeded" {
				return Verdict{Signature: SignatureRateLimited}
			}
			return Verdict{Signature: SignatureBlockPage}
		}
	}
	for _, marker := range captchaMarkers {
		if strings.Contains(page.attrs, marker) {
			return Verdict{Signature: SignatureCaptcha}
		}
	}
	switch status {
	case http.StatusTooManyRequests:
		return Verdict{Signature: SignatureRateLimited}
	case http.StatusForbidden:
		return Verdict{Signature: SignatureForbidden}
	}
	if strings.TrimSpace(page.text) == "" {
		return Verdict{Signature: SignatureEmptyBody, Empty: true}
	}
	if len(page.text) < d.MinTextLength && scriptDensityHigh(lower) {
		return Verdict{Signature: SignatureScriptShell, Empty: true}
	}
	return Verdict{}
}

type pageView struct {
	// text is the visible body text.
	text string
	// notice is the lowercased text outside content nodes that may carry a block message.
	notice string
	// attrs is the lowercased class, id, src and action values of every element.
	attrs string
}

func readPage(html string) pageView {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return pageView{}
	}

	var attrs strings.Builder
	doc.Find("[class], [id], [src], [action]").Each(func(_ int, s *goquery.Selection) {
		for _, name := range []string{"class", "id", "src", "action"} {
			if v, ok := s.Attr(name); ok {
				attrs.WriteString(strings.ToLower(v))
				attrs.WriteByte(' ')
			}
		}
	})

	doc.Find("script, style, noscript, template").Remove()
	view := pageView{
		text:  squash(doc.Find("body").Text()),
		attrs: attrs.String(),
	}

	doc.Find(contentNodes).Remove()
	chrome := squash(doc.Find("body").Text())
	if len(chrome) > maxNoticeText {
		chrome = squash(doc.Find("title, h1, h2, h3").Text())
	}
	view.notice = strings.ToLower(squash(doc.Find("title").Text()) + " " + chrome)
	return view
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// scriptDensityHigh reports whether script tags cover at least a quarter of the document.
func scriptDensityHigh(lower string) bool {
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	return scriptCoverage*100/total >= 25
}
