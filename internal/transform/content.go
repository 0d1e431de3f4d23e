package transform

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

const ellipsis = "..."

// CleanContent collapses whitespace runs, strips NUL bytes and invalid UTF-8,
// and caps the result at ingest.MaxContentLength characters.
func CleanContent(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= ingest.MaxContentLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:ingest.MaxContentLength-len(ellipsis)]) + ellipsis
}

var (
	hashtagPattern = regexp.MustCompile(`#(\w+)`)
	mentionPattern = regexp.MustCompile(`@(\w+)`)
	urlPattern     = regexp.MustCompile(`https?://[^\s<>"]+`)
)

// Hashtags returns the tags in content without the leading '#', in order of appearance.
func Hashtags(content string) []string {
	return submatches(hashtagPattern, content)
}

// Mentions returns mentioned handles without the leading '@'.
func Mentions(content string) []string {
	return submatches(mentionPattern, content)
}

// URLs returns the links embedded in content.
func URLs(content string) []string {
	found := urlPattern.FindAllString(content, -1)
	if len(found) == 0 {
		return []string{}
	}
	return found
}

func submatches(re *regexp.Regexp, s string) []string {
	out := []string{}
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		out = append(out, m[1])
	}
	return out
}

// title returns the first line of raw content when it is short enough to be a headline.
func title(raw string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(raw), "\n")
	first = strings.TrimSpace(first)
	if first == "" || utf8.RuneCountInString(first) >= 200 {
		return ""
	}
	return first
}
