package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nathantilsley/machine-sentry/internal/metrics"
	"github.com/nathantilsley/machine-sentry/internal/visualize/domain"
	"github.com/nathantilsley/machine-sentry/internal/visualize/ports"
)

// FileProcessor runs the per-file stage for one pending file.
type FileProcessor interface {
	Process(ctx context.Context, wctx domain.WorkflowContext, file domain.FileChange) (domain.FileResult, error)
}

// DefaultLeaseTTL bounds how long a crashed runner blocks its workflow. The
// lease is renewed after every step, so it only has to outlive one step.
const DefaultLeaseTTL = 5 * time.Minute

// ErrRunInProgress is returned when another runner holds the workflow's lease.
var ErrRunInProgress = errors.New("workflow is being run elsewhere")

// Orchestrator is the durable runner around Transition. Exactly one
// transition is in flight at a time and the snapshot is saved after each one,
// so a run can stop between any two steps and continue with Resume, possibly
// in another process. A run holds a lease on its workflow for its whole
// duration, so at most one runner drives a given workflow.
type Orchestrator struct {
	files      ports.FileChangesPort
	stage      FileProcessor
	store      ports.StateStorePort
	extensions []string
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
	leaseTTL   time.Duration
	newOwner   func() string
}

// NewOrchestrator wires an orchestrator. extensions selects eligible files;
// nil means domain.DefaultExtensions.
func NewOrchestrator(
	files ports.FileChangesPort,
	stage FileProcessor,
	store ports.StateStorePort,
	extensions []string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	if extensions == nil {
		extensions = domain.DefaultExtensions
	}
	return &Orchestrator{
		files:      files,
		stage:      stage,
		store:      store,
		extensions: extensions,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
		leaseTTL:   DefaultLeaseTTL,
		newOwner:   uuid.NewString,
	}
}

// FailedError is returned by Run when the workflow ended in the failed state.
type FailedError struct {
	ID     string
	Reason string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("workflow %s failed: %s", e.ID, e.Reason)
}

// Start creates and persists the run for a pull request event and returns
// its snapshot. A run that already exists for the same head commit is
// returned untouched so redeliveries resume instead of duplicating work.
func (o *Orchestrator) Start(ctx context.Context, pr domain.PullRequestEvent) (domain.Snapshot, error) {
	id := pr.WorkflowID()

	existing, err := o.store.Load(ctx, id)
	if err == nil {
		o.logger.Info("workflow already exists", "workflow", id, "state", existing.State)
		return existing, nil
	}
	if !domain.IsNotFound(err) {
		return domain.Snapshot{}, fmt.Errorf("loading workflow %s: %w", id, err)
	}

	next, err := Transition(domain.NewSnapshot(id), PullRequestReceived{PullRequest: pr})
	if err != nil {
		return domain.Snapshot{}, err
	}
	return o.commit(ctx, next)
}

// Handle starts the run for pr and drives it to a terminal state.
func (o *Orchestrator) Handle(ctx context.Context, pr domain.PullRequestEvent) (domain.Snapshot, error) {
	snap, err := o.Start(ctx, pr)
	if err != nil {
		return snap, err
	}
	return o.run(ctx, snap)
}

// Resume loads a persisted run and drives it to a terminal state.
func (o *Orchestrator) Resume(ctx context.Context, id string) (domain.Snapshot, error) {
	snap, err := o.store.Load(ctx, id)
	if err != nil {
		return snap, fmt.Errorf("loading workflow %s: %w", id, err)
	}
	return o.run(ctx, snap)
}

// ResumeActive resumes every non-terminal run in the store, one after the
// other. Failures of individual runs are logged and do not stop the sweep.
func (o *Orchestrator) ResumeActive(ctx context.Context) error {
	ids, err := o.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing active workflows: %w", err)
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.logger.Info("resuming workflow", "workflow", id)
		_, err := o.Resume(ctx, id)
		switch {
		case err == nil:
		case errors.Is(err, ErrRunInProgress):
			o.logger.Info("workflow is already running", "workflow", id)
		default:
			o.logger.Error("resumed workflow did not complete", "workflow", id, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, snap domain.Snapshot) (domain.Snapshot, error) {
	if !snap.State.Terminal() {
		owner := o.newOwner()
		if err := o.acquire(ctx, snap.ID, owner); err != nil {
			return snap, err
		}
		defer func() {
			if err := o.store.ReleaseLease(context.WithoutCancel(ctx), snap.ID, owner); err != nil {
				o.logger.Warn("releasing lease failed", "workflow", snap.ID, "error", err)
			}
		}()

		// The caller's snapshot may predate a run that finished in between.
		latest, err := o.store.Load(ctx, snap.ID)
		if err != nil {
			return snap, fmt.Errorf("loading workflow %s: %w", snap.ID, err)
		}
		snap = latest

		for !snap.State.Terminal() {
			next, err := o.Step(ctx, snap)
			if err != nil {
				return snap, err
			}
			snap = next
			if snap.State.Terminal() {
				break
			}
			if err := o.acquire(ctx, snap.ID, owner); err != nil {
				return snap, err
			}
		}
	}

	o.metrics.WorkflowsTotal.WithLabelValues(string(snap.State)).Inc()
	if snap.State == domain.StateFailed {
		return snap, &FailedError{ID: snap.ID, Reason: snap.Error}
	}
	o.logger.Info("workflow done", "workflow", snap.ID)
	return snap, nil
}

// Step performs the action of the current state, applies the resulting
// event and persists the new snapshot. When ctx is cancelled while an action
// is outstanding the snapshot is left as it was, so the action runs again on
// resume.
func (o *Orchestrator) Step(ctx context.Context, snap domain.Snapshot) (domain.Snapshot, error) {
	var ev Event

	switch snap.State {
	case domain.StateResolvingFiles:
		c := snap.Context
		files, err := o.files.ListChangedFiles(ctx, c.InstallationID, c.Owner, c.Repo, c.PRNumber)
		if err != nil {
			if ctx.Err() != nil {
				return snap, ctx.Err()
			}
			o.logger.Error("resolving files failed", "workflow", snap.ID, "error", err)
			ev = ResolutionFailed{Reason: err.Error()}
			break
		}
		pending := domain.PendingFiles(files, o.extensions)
		o.logger.Info("resolved files", "workflow", snap.ID, "changed", len(files), "eligible", len(pending))
		ev = FilesResolved{Files: pending}

	case domain.StateDispatch:
		ev = Dispatched{}

	case domain.StateProcessingFile:
		file, _ := snap.Context.LastPending()
		ev = o.processFile(ctx, snap, file)
		if ctx.Err() != nil {
			return snap, ctx.Err()
		}

	case domain.StateStart:
		return snap, fmt.Errorf("workflow %s has not received a pull request event: %w", snap.ID, domain.ErrInvalidTransition)

	default:
		return snap, fmt.Errorf("workflow %s is %s: %w", snap.ID, snap.State, domain.ErrTerminal)
	}

	next, err := Transition(snap, ev)
	if err != nil {
		return snap, err
	}
	committed, err := o.commit(ctx, next)
	if err != nil {
		return snap, err
	}
	return committed, nil
}

// processFile runs the stage and turns its outcome into a FileProcessed
// event. Stage errors stop here.
func (o *Orchestrator) processFile(ctx context.Context, snap domain.Snapshot, file domain.FileChange) Event {
	started := o.now()
	result, err := o.stage.Process(ctx, snap.Context, file)
	o.metrics.FileStageDuration.Observe(o.now().Sub(started).Seconds())

	if err != nil {
		o.metrics.FilesTotal.WithLabelValues("error").Inc()
		o.logger.Warn("file failed", "workflow", snap.ID, "path", file.Path, "error", err)
		return FileProcessed{Path: file.Path, Reason: err.Error()}
	}

	skipped, commented, failed := result.CountByOutcome()
	o.metrics.FilesTotal.WithLabelValues("ok").Inc()
	o.logger.Info("file processed",
		"workflow", snap.ID,
		"path", file.Path,
		"commented", commented,
		"skipped", skipped,
		"failed", failed,
	)
	return FileProcessed{Path: file.Path}
}

// acquire takes or renews the run lease on id for owner.
func (o *Orchestrator) acquire(ctx context.Context, id, owner string) error {
	ok, err := o.store.AcquireLease(ctx, id, owner, o.leaseTTL)
	if err != nil {
		return fmt.Errorf("leasing workflow %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("workflow %s: %w", id, ErrRunInProgress)
	}
	return nil
}

func (o *Orchestrator) commit(ctx context.Context, snap domain.Snapshot) (domain.Snapshot, error) {
	snap.UpdatedAt = o.now().UTC()
	if err := o.store.Save(ctx, snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("saving workflow %s: %w", snap.ID, err)
	}
	o.metrics.TransitionsTotal.WithLabelValues(string(snap.State)).Inc()
	return snap, nil
}

// IsFailed reports whether err is a workflow-level failure.
func IsFailed(err error) bool {
	var failed *FailedError
	return errors.As(err, &failed)
}
