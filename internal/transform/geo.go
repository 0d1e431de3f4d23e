package transform

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

var (
	localMarkers = []string{
		"constituency", "local", "ward", "council", "councillor", "mayor", "town", "city",
		"neighbourhood", "neighborhood", "community", "residents", "voters in", "parish", "borough",
	}
	regionalMarkers = []string{
		"region", "regional", "county", "district", "scotland", "wales", "northern ireland",
		"yorkshire", "midlands", "north", "south", "east", "west",
	}

	localPattern    = markerPattern(localMarkers)
	regionalPattern = markerPattern(regionalMarkers)
)

func markerPattern(markers []string) *regexp.Regexp {
	quoted := make([]string, len(markers))
	for i, m := range markers {
		quoted[i] = regexp.QuoteMeta(m)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// GeographicScope classifies content by keyword markers. Local markers win
// over regional ones; content with neither is national.
func GeographicScope(content string) ingest.GeographicScope {
	normalized := strings.ToLower(content)
	switch {
	case localPattern.MatchString(normalized):
		return ingest.ScopeLocal
	case regionalPattern.MatchString(normalized):
		return ingest.ScopeRegional
	default:
		return ingest.ScopeNational
	}
}
