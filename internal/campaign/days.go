package campaign

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FormatDays renders a day set as "1,3,5" (sorted, deduplicated).
func FormatDays(days []int) string {
	norm := NormalizeDays(days)
	parts := make([]string, len(norm))
	for i, d := range norm {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

// ParseDays parses "1, 3,5" into a sorted, deduplicated set. Empty input yields nil.
func ParseDays(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: bad day %q", ErrInvalid, p)
		}
		out = append(out, n)
	}
	return NormalizeDays(out), nil
}

func NormalizeDays(days []int) []int {
	if len(days) == 0 {
		return nil
	}
	seen := make(map[int]struct{}, len(days))
	out := make([]int, 0, len(days))
	for _, d := range days {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}
