// Package linediff computes line-based unified diffs between two revisions of
// a file, for running the changed-range logic without a pull request.
package linediff

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/nathantilsley/machine-sentry/internal/visualize/domain"
)

// Adapter produces unified diffs with go-difflib.
type Adapter struct{}

// New creates a new line diff adapter.
func New() *Adapter {
	return &Adapter{}
}

// ComputeDiff returns a unified diff of base and head with three lines of
// context, or an empty string when they are identical.
func (a *Adapter) ComputeDiff(baseName, headName string, base, head []byte) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(base)),
		B:        difflib.SplitLines(string(head)),
		FromFile: baseName,
		ToFile:   headName,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// ChangedRanges returns the line ranges of head that differ from base, as a
// pull request patch would report them.
func (a *Adapter) ChangedRanges(base, head []byte) []domain.LineRange {
	diff := difflib.UnifiedDiff{
		A:       splitLines(base),
		B:       splitLines(head),
		Context: 0,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return nil
	}
	return domain.ChangedRanges(text)
}

// splitLines keeps line terminators and, unlike difflib.SplitLines, does not
// invent an empty line after a trailing newline.
func splitLines(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	lines := strings.SplitAfter(string(b), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
