// Package workflow drives a pull request through the visualization state
// machine: resolve the changed files, then drain them one at a time through
// the per-file stage.
package workflow

import (
	"fmt"

	"github.com/nathantilsley/machine-sentry/internal/visualize/domain"
)

// Event moves a snapshot from one state to the next.
type Event interface {
	eventName() string
}

// PullRequestReceived starts a run from an opened or synchronized PR.
type PullRequestReceived struct {
	PullRequest domain.PullRequestEvent
}

// FilesResolved carries the filtered file list out of ResolvingFiles.
type FilesResolved struct {
	Files []domain.FileChange
}

// ResolutionFailed ends the run when the file list cannot be fetched.
type ResolutionFailed struct {
	Reason string
}

// Dispatched leaves the Dispatch guard.
type Dispatched struct{}

// FileProcessed reports that the per-file stage settled for Path. Reason is
// set when the stage failed; the queue advances either way.
type FileProcessed struct {
	Path   string
	Reason string
}

func (PullRequestReceived) eventName() string { return "pull_request_received" }
func (FilesResolved) eventName() string       { return "files_resolved" }
func (ResolutionFailed) eventName() string    { return "resolution_failed" }
func (Dispatched) eventName() string          { return "dispatched" }
func (FileProcessed) eventName() string       { return "file_processed" }

// Transition applies ev to snap and returns the next snapshot. It performs no
// I/O and never mutates snap.
func Transition(snap domain.Snapshot, ev Event) (domain.Snapshot, error) {
	if snap.State.Terminal() {
		return snap, fmt.Errorf("%s: %w", snap.State, domain.ErrTerminal)
	}

	next := snap
	switch snap.State {
	case domain.StateStart:
		e, ok := ev.(PullRequestReceived)
		if !ok || !e.PullRequest.Triggers() {
			break
		}
		pr := e.PullRequest
		next.Context = domain.WorkflowContext{
			InstallationID: pr.InstallationID,
			Owner:          pr.Owner,
			Repo:           pr.Repo,
			PRNumber:       pr.Number,
			BaseCommit:     pr.BaseSHA,
			HeadCommit:     pr.HeadSHA,
		}
		next.State = domain.StateResolvingFiles
		return next, nil

	case domain.StateResolvingFiles:
		switch e := ev.(type) {
		case FilesResolved:
			next.Context.PendingFiles = append([]domain.FileChange(nil), e.Files...)
			next.State = domain.StateDispatch
			return next, nil
		case ResolutionFailed:
			next.Error = e.Reason
			next.State = domain.StateFailed
			return next, nil
		}

	case domain.StateDispatch:
		if _, ok := ev.(Dispatched); !ok {
			break
		}
		if len(snap.Context.PendingFiles) > 0 {
			next.State = domain.StateProcessingFile
		} else {
			next.State = domain.StateDone
		}
		return next, nil

	case domain.StateProcessingFile:
		e, ok := ev.(FileProcessed)
		if !ok {
			break
		}
		last, ok := snap.Context.LastPending()
		if !ok || last.Path != e.Path {
			break
		}
		next.Context = snap.Context.WithoutLastPending()
		next.State = domain.StateDispatch
		return next, nil
	}

	name := "<nil>"
	if ev != nil {
		name = ev.eventName()
	}
	return snap, fmt.Errorf("%s on %s: %w", name, snap.State, domain.ErrInvalidTransition)
}
