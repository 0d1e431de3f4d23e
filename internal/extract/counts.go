package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var countPattern = regexp.MustCompile(`(\d+(?:[.,]\d+)*)\s*([KkMmBb]?)`)

// ParseCount reads engagement counters such as "1.2K", "3M" or "12,345".
// The boolean is false when s holds no number.
func ParseCount(s string) (float64, bool) {
	m := countPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	num := m[1]
	if strings.Count(num, ",") > 0 && !strings.Contains(num, ".") && groupedThousands(num) {
		num = strings.ReplaceAll(num, ",", "")
	} else {
		num = strings.ReplaceAll(num, ",", ".")
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToUpper(m[2]) {
	case "K":
		v *= 1_000
	case "M":
		v *= 1_000_000
	case "B":
		v *= 1_000_000_000
	}
	return v, true
}

func groupedThousands(num string) bool {
	parts := strings.Split(num, ",")
	for _, p := range parts[1:] {
		if len(p) != 3 {
			return false
		}
	}
	return true
}
