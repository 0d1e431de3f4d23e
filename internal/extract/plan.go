package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

// Plan extracts records from one markup version of a page.
type Plan interface {
	Name() string
	Kind() ingest.SourceKind
	// Container is the CSS selector that must be present before extraction runs.
	Container() string
	// Records returns candidate records in page order. Per-item failures are
	// returned as errors and do not stop the remaining items.
	Records(page *Page) ([]ingest.RawRecord, []error)
}

// SelectorPlan is a Plan driven entirely by CSS selectors.
type SelectorPlan struct {
	PlanName   string
	SourceKind ingest.SourceKind
	Root       string
	Item       string
	// Content selectors are tried in order; the first with non-blank text wins.
	// An empty list uses the item's own text.
	Content   []string
	Timestamp string
	Link      string
	// IDPattern is matched against the resolved link; named groups become identifiers.
	IDPattern *regexp.Regexp
	Metrics   map[string]string
	// Attributes maps attribute names to selectors whose text is captured verbatim.
	Attributes   map[string]string
	ReplyMarker  string
	RepostMarker string
	// ContentIDPattern is matched against the item text when the link carries no id.
	ContentIDPattern *regexp.Regexp
}

var _ Plan = (*SelectorPlan)(nil)

// Name implements Plan.
func (p *SelectorPlan) Name() string { return p.PlanName }

// Kind implements Plan.
func (p *SelectorPlan) Kind() ingest.SourceKind { return p.SourceKind }

// Container implements Plan.
func (p *SelectorPlan) Container() string {
	if p.Root != "" {
		return p.Root
	}
	return p.Item
}

// Records implements Plan.
func (p *SelectorPlan) Records(page *Page) ([]ingest.RawRecord, []error) {
	scope := page.Doc.Selection
	if p.Root != "" {
		scope = page.Doc.Find(p.Root)
	}
	var (
		records []ingest.RawRecord
		errs    []error
	)
	scope.Find(p.Item).Each(func(i int, item *goquery.Selection) {
		rec, err := p.record(page, item)
		if err != nil {
			errs = append(errs, &ingest.ExtractionError{Plan: p.PlanName, Index: i, Err: err})
			return
		}
		records = append(records, rec)
	})
	return records, errs
}

func (p *SelectorPlan) record(page *Page, item *goquery.Selection) (rec ingest.RawRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered: %v", r)
		}
	}()

	content := p.content(item)
	if !utf8.ValidString(content) {
		return ingest.RawRecord{}, fmt.Errorf("content is not valid UTF-8")
	}
	rec = ingest.RawRecord{
		Content:    content,
		SourceKind: p.SourceKind,
	}
	if p.Timestamp != "" {
		rec.PublishedAt = timestampOf(item.Find(p.Timestamp).First())
	}
	if p.Link != "" {
		if href, ok := item.Find(p.Link).First().Attr("href"); ok {
			rec.ExternalURL = page.Resolve(href)
		}
	}
	rec.Identifiers = p.identifiers(item, rec.ExternalURL)
	rec.Metrics = p.metrics(item)
	rec.Attributes = p.attributes(item)
	return rec, nil
}

func (p *SelectorPlan) content(item *goquery.Selection) string {
	if len(p.Content) == 0 {
		return strings.TrimSpace(item.Text())
	}
	for _, sel := range p.Content {
		if text := joinedText(item.Find(sel)); text != "" {
			return text
		}
	}
	return ""
}

func (p *SelectorPlan) identifiers(item *goquery.Selection, link string) map[string]string {
	ids := map[string]string{}
	if p.IDPattern != nil && link != "" {
		collectGroups(p.IDPattern, link, ids)
	}
	if p.ContentIDPattern != nil && len(ids) == 0 {
		collectGroups(p.ContentIDPattern, item.Text(), ids)
	}
	if p.ReplyMarker != "" && item.Find(p.ReplyMarker).Length() > 0 {
		ids[ingest.IdentifierReply] = "true"
	}
	if p.RepostMarker != "" && item.Find(p.RepostMarker).Length() > 0 {
		ids[ingest.IdentifierRepost] = "true"
	}
	if len(ids) == 0 {
		return nil
	}
	return ids
}

func collectGroups(re *regexp.Regexp, s string, into map[string]string) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return
	}
	for i, name := range re.SubexpNames() {
		if name != "" && m[i] != "" {
			into[name] = m[i]
		}
	}
}

func (p *SelectorPlan) metrics(item *goquery.Selection) map[string]float64 {
	if len(p.Metrics) == 0 {
		return nil
	}
	out := map[string]float64{}
	for _, name := range sortedKeys(p.Metrics) {
		el := item.Find(p.Metrics[name]).First()
		if el.Length() == 0 {
			continue
		}
		if v, ok := ParseCount(el.Text()); ok {
			out[name] = v
			continue
		}
		if label, ok := el.Attr("aria-label"); ok {
			if v, ok := ParseCount(label); ok {
				out[name] = v
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (p *SelectorPlan) attributes(item *goquery.Selection) ingest.Payload {
	if len(p.Attributes) == 0 {
		return nil
	}
	out := ingest.Payload{}
	for _, name := range sortedKeys(p.Attributes) {
		if text := joinedText(item.Find(p.Attributes[name])); text != "" {
			out[name] = text
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func timestampOf(el *goquery.Selection) string {
	if el.Length() == 0 {
		return ""
	}
	for _, attr := range []string{"datetime", "title", "data-time"} {
		if v, ok := el.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(el.Text())
}

func joinedText(sel *goquery.Selection) string {
	parts := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Page is a parsed snapshot.
type Page struct {
	Doc  *goquery.Document
	Base *url.URL
}

// Snapshot is the raw state of a loaded page.
type Snapshot struct {
	URL  string
	HTML string
}

// Parse builds a Page from a snapshot.
func Parse(snap Snapshot) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	page := &Page{Doc: doc}
	if snap.URL != "" {
		if base, err := url.Parse(snap.URL); err == nil {
			page.Base = base
		}
	}
	return page, nil
}

// Resolve turns href into an absolute URL against the page location. Hrefs that
// do not parse are returned unchanged.
func (p *Page) Resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil || p.Base == nil {
		return href
	}
	return p.Base.ResolveReference(ref).String()
}
