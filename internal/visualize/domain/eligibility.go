package domain

import (
	"path"
	"strings"
)

// ChangedFile is one entry of a pull request's file listing.
type ChangedFile struct {
	Filename string
	Status   string // added, modified, removed, renamed, changed
	Patch    string
}

// DefaultExtensions are the source files machine definitions are looked for in.
var DefaultExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs", ".mts", ".cts"}

var eligibleStatuses = map[string]struct{}{
	"added":    {},
	"modified": {},
	"changed":  {},
}

// IsEligibleStatus reports whether a file with the given change status can
// carry new machine definitions in the head revision.
func IsEligibleStatus(status string) bool {
	_, ok := eligibleStatuses[status]
	return ok
}

// HasEligibleExtension reports whether filename ends in one of extensions.
// Matching is case-insensitive.
func HasEligibleExtension(filename string, extensions []string) bool {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		return false
	}
	for _, e := range extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// PendingFiles filters a PR file listing down to the files worth processing
// and derives each one's changed ranges from its patch. Listing order is
// preserved.
func PendingFiles(files []ChangedFile, extensions []string) []FileChange {
	var pending []FileChange
	for _, f := range files {
		if !IsEligibleStatus(f.Status) || !HasEligibleExtension(f.Filename, extensions) {
			continue
		}
		pending = append(pending, FileChange{
			Path:          f.Filename,
			ChangedRanges: ChangedRanges(f.Patch),
		})
	}
	return pending
}
