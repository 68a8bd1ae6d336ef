package planner

import (
	"strings"
	"time"

	"github.com/tigerroll/rorefcat/internal/occlist"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
)

// ParseDateRange parses "A,B" or "A:B" into an inclusive range of days. A
// single date selects that day. Bounds may carry a time of day, which is
// dropped; such ranges must use the comma form. An empty string selects yesterday and today.
func ParseDateRange(s string, now time.Time) ([2]time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		today := now.UTC().Truncate(24 * time.Hour)
		return [2]time.Time{today.AddDate(0, 0, -1), today}, nil
	}
	parts := rangeBounds(s)
	if len(parts) == 1 {
		parts = append(parts, parts[0])
	}
	if len(parts) != 2 {
		return [2]time.Time{}, exception.NewInvalidQueryError(module, "invalid date range %q, want FROM,TO", s)
	}
	var out [2]time.Time
	for i, p := range parts {
		t, err := occlist.ParseTime(strings.TrimSpace(p))
		if err != nil {
			return [2]time.Time{}, exception.NewInvalidQueryError(module, "invalid date %q in range %q", p, s)
		}
		out[i] = t.Truncate(24 * time.Hour)
	}
	if out[0].After(out[1]) {
		return [2]time.Time{}, exception.NewInvalidQueryError(module, "date range %q ends before it starts", s)
	}
	return out, nil
}

func rangeBounds(s string) []string {
	if strings.Contains(s, ",") {
		return strings.Split(s, ",")
	}
	if _, err := occlist.ParseTime(s); err == nil {
		return []string{s}
	}
	return strings.Split(s, ":")
}
