package domain

import "fmt"

// WorkflowContext holds everything one pull request run needs between
// transitions. It must stay plain data: a run may be suspended after any
// transition and resumed in another process from its JSON form.
type WorkflowContext struct {
	InstallationID int64        `json:"installationId"`
	Owner          string       `json:"ownerLogin"`
	Repo           string       `json:"repoName"`
	PRNumber       int          `json:"prNumber"`
	BaseCommit     string       `json:"baseCommit"`
	HeadCommit     string       `json:"headCommit"`
	PendingFiles   []FileChange `json:"pendingFiles"`
}

// FileChange is a changed file eligible for processing along with the line
// ranges its diff touched in the head revision.
type FileChange struct {
	Path          string      `json:"path"`
	ChangedRanges []LineRange `json:"changedRanges"`
}

// WorkflowID returns the deterministic identifier for a run, e.g.
// "octo/app#7@deadbeef". Redelivered events for the same head commit map to
// the same run.
func (c WorkflowContext) WorkflowID() string {
	return WorkflowID(c.Owner, c.Repo, c.PRNumber, c.HeadCommit)
}

// WorkflowID builds a run identifier from its parts.
func WorkflowID(owner, repo string, prNumber int, headCommit string) string {
	return fmt.Sprintf("%s/%s#%d@%s", owner, repo, prNumber, headCommit)
}

// LastPending returns the file the next ProcessingFile step works on. The
// queue drains from the end.
func (c WorkflowContext) LastPending() (FileChange, bool) {
	if len(c.PendingFiles) == 0 {
		return FileChange{}, false
	}
	return c.PendingFiles[len(c.PendingFiles)-1], true
}

// WithoutLastPending returns a copy of the context with the last pending file
// removed. The receiver's slice is never mutated.
func (c WorkflowContext) WithoutLastPending() WorkflowContext {
	if len(c.PendingFiles) == 0 {
		return c
	}
	next := c
	next.PendingFiles = append([]FileChange(nil), c.PendingFiles[:len(c.PendingFiles)-1]...)
	return next
}
