package domain

import (
	"regexp"
	"strconv"
	"strings"
)

// LineRange is an inclusive, 1-based range of lines in the head revision.
type LineRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Hunk is the new-file side of one unified diff hunk.
type Hunk struct {
	NewStart int
	NewLines int
}

// hunkHeader matches "@@ -a,b +c,d @@" where the counts are optional.
var hunkHeader = regexp.MustCompile(`^@@ -\d+(?:,\d+)? \+(\d+)(?:,(\d+))? @@`)

// ParseHunks reads the hunk headers out of a unified diff patch. Lines that
// are not hunk headers are ignored, so both GitHub's header-less patch field
// and full "---/+++" diffs are accepted.
func ParseHunks(patch string) []Hunk {
	var hunks []Hunk
	for _, line := range strings.Split(patch, "\n") {
		m := hunkHeader.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		start, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		count := 1
		if m[2] != "" {
			count, err = strconv.Atoi(m[2])
			if err != nil {
				continue
			}
		}
		hunks = append(hunks, Hunk{NewStart: start, NewLines: count})
	}
	return hunks
}

// RangesFromHunks converts hunks into changed line ranges. Overlapping hunks
// are not merged. A hunk that adds no lines to the new file (a pure deletion)
// has no range in the head revision and is dropped.
func RangesFromHunks(hunks []Hunk) []LineRange {
	var ranges []LineRange
	for _, h := range hunks {
		if h.NewLines <= 0 || h.NewStart <= 0 {
			continue
		}
		ranges = append(ranges, LineRange{From: h.NewStart, To: h.NewStart + h.NewLines - 1})
	}
	return ranges
}

// ChangedRanges is ParseHunks followed by RangesFromHunks.
func ChangedRanges(patch string) []LineRange {
	return RangesFromHunks(ParseHunks(patch))
}
