package domain

import "sort"

// Matcher answers whether a source span overlaps any changed range of one
// file. It is built once per file.
type Matcher struct {
	ranges []LineRange // sorted by From
	maxTo  []int       // maxTo[i] is the largest To among ranges[:i+1]
}

// NewMatcher indexes the given ranges. Ranges with From > To are ignored.
func NewMatcher(ranges []LineRange) *Matcher {
	sorted := make([]LineRange, 0, len(ranges))
	for _, r := range ranges {
		if r.From <= r.To {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].From < sorted[j].From })

	maxTo := make([]int, len(sorted))
	for i, r := range sorted {
		maxTo[i] = r.To
		if i > 0 && maxTo[i-1] > r.To {
			maxTo[i] = maxTo[i-1]
		}
	}
	return &Matcher{ranges: sorted, maxTo: maxTo}
}

// Overlaps reports whether some stored range [from, to] shares at least one
// line with [start, end], i.e. from <= end && start <= to.
func (m *Matcher) Overlaps(start, end int) bool {
	if start > end {
		return false
	}
	// Ranges at index >= n start after end and cannot overlap.
	n := sort.Search(len(m.ranges), func(i int) bool { return m.ranges[i].From > end })
	if n == 0 {
		return false
	}
	return m.maxTo[n-1] >= start
}

// OverlapsSpan applies Overlaps to a definition span. A span without an end
// line (or without a start line) never overlaps.
func (m *Matcher) OverlapsSpan(span SourceSpan) bool {
	if !span.HasStart() || !span.HasEnd() {
		return false
	}
	return m.Overlaps(span.StartLine, span.EndLine)
}
