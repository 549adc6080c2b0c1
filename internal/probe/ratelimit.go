package probe

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Reset values above this are treated as unix epoch seconds, below as a
// delta in seconds from now.
const epochThreshold = 1_000_000_000

// Bounds past which a reset value is garbage: the last second of year 9999
// (the JSON encoder rejects later times) and roughly three years of delta.
const (
	maxResetEpoch = 253402300799
	maxResetDelta = 1e8
)

// ParseRateLimit extracts quota metadata from h. It returns nil unless both
// limit and remaining parse as integers. A malformed reset header leaves
// ResetAt nil without discarding the rest.
func ParseRateLimit(h http.Header, aliases RateLimitHeaders, now time.Time) *RateLimit {
	limit, ok := firstInt(h, aliases.Limit)
	if !ok {
		return nil
	}
	remaining, ok := firstInt(h, aliases.Remaining)
	if !ok {
		return nil
	}

	rl := &RateLimit{Limit: limit, Remaining: remaining}
	if raw := firstValue(h, aliases.Reset); raw != "" {
		if resetAt, ok := parseReset(raw, now); ok {
			rl.ResetAt = &resetAt
		}
	}
	return rl
}

func firstValue(h http.Header, names []string) string {
	for _, name := range names {
		if value := strings.TrimSpace(h.Get(name)); value != "" {
			return value
		}
	}
	return ""
}

func firstInt(h http.Header, names []string) (int, bool) {
	for _, name := range names {
		value := strings.TrimSpace(h.Get(name))
		if value == "" {
			continue
		}
		// Some vendors send "100, 100;w=60"; the leading number is the quota.
		if idx := strings.IndexAny(value, ",;"); idx >= 0 {
			value = strings.TrimSpace(value[:idx])
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		return n, true
	}
	return 0, false
}

func parseReset(raw string, now time.Time) (time.Time, bool) {
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		if n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
			return time.Time{}, false
		}
		if n >= epochThreshold {
			if n > maxResetEpoch {
				return time.Time{}, false
			}
			return time.Unix(int64(n), 0).UTC(), true
		}
		if n > maxResetDelta {
			return time.Time{}, false
		}
		return now.Add(time.Duration(n * float64(time.Second))).UTC(), true
	}
	if when, err := http.ParseTime(raw); err == nil {
		return when.UTC(), true
	}
	if when, err := time.Parse(time.RFC3339, raw); err == nil {
		return when.UTC(), true
	}
	return time.Time{}, false
}
