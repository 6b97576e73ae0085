package diff

import (
	"strconv"
	"strings"
)

// ParseMetric converts a rendered engagement counter to an integer.
// TikTok abbreviates and localises numbers ("1.2M", "12.5K", "1,234",
// "1.2만"), and extraction stamps unavailable fields with "N/A", so this is
// deliberately forgiving: anything unparseable is 0.
func ParseMetric(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	mult := int64(1)
	switch {
	case hasSuffixFold(s, "K"):
		mult, s = 1_000, s[:len(s)-1]
	case hasSuffixFold(s, "M"):
		mult, s = 1_000_000, s[:len(s)-1]
	case hasSuffixFold(s, "B"):
		mult, s = 1_000_000_000, s[:len(s)-1]
	case strings.HasSuffix(s, "만"):
		mult, s = 10_000, strings.TrimSuffix(s, "만")
	case strings.HasSuffix(s, "억"):
		mult, s = 100_000_000, strings.TrimSuffix(s, "억")
	}

	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n * mult
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f * float64(mult))
	}
	return 0
}

func hasSuffixFold(s, suffix string) bool {
	return len(s) > len(suffix) &&
		strings.EqualFold(s[len(s)-len(suffix):], suffix)
}
