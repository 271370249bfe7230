package domain

// Pull request actions that start a workflow run.
const (
	ActionOpened      = "opened"
	ActionSynchronize = "synchronize"
)

// PullRequestEvent holds the fields of a pull_request webhook delivery the
// workflow copies into its context.
type PullRequestEvent struct {
	Action         string `json:"action"`
	InstallationID int64  `json:"installationId"`
	Owner          string `json:"owner"`
	Repo           string `json:"repo"`
	Number         int    `json:"number"`
	BaseSHA        string `json:"baseSha"`
	HeadSHA        string `json:"headSha"`
}

// Triggers reports whether the action starts a run.
func (e PullRequestEvent) Triggers() bool {
	return e.Action == ActionOpened || e.Action == ActionSynchronize
}

// WorkflowID returns the identifier of the run this event starts.
func (e PullRequestEvent) WorkflowID() string {
	return WorkflowID(e.Owner, e.Repo, e.Number, e.HeadSHA)
}

// ReviewComment is a single-line review comment on a pull request.
type ReviewComment struct {
	Owner    string
	Repo     string
	PRNumber int
	CommitID string
	Path     string
	Line     int
	Body     string
}
