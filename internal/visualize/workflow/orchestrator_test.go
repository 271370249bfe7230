package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathantilsley/machine-sentry/internal/visualize/domain"
)

// Scenario: one hunk [10,14], one definition on [11,13].
func TestOrchestrator_CommentsOnChangedMachine(t *testing.T) {
	h := newHarness(0)
	h.files.files = []domain.ChangedFile{
		{Filename: "a.ts", Status: "modified", Patch: "@@ -10,3 +10,5 @@\n ctx\n+one\n+two\n ctx\n ctx"},
	}
	h.extractor.defs["a.ts"] = []domain.ExtractedDefinition{machine("toggle", 11, 13)}

	snap, err := h.orch.Handle(context.Background(), prEvent(domain.ActionOpened, 7))
	require.NoError(t, err)

	assert.Equal(t, domain.StateDone, snap.State)
	assert.Empty(t, snap.Context.PendingFiles)

	key := expectedKey("toggle")
	assert.Equal(t, 1, h.store.puts)
	assert.True(t, h.store.Exists(context.Background(), key))

	require.Len(t, h.comments.comments, 1)
	c := h.comments.comments[0]
	assert.Equal(t, domain.ReviewComment{
		Owner:    "octo",
		Repo:     "app",
		PRNumber: 7,
		CommitID: "head-sha",
		Path:     "a.ts",
		Line:     11,
		Body:     CommentBody("toggle", testBaseURL+"/"+key),
	}, c)
}

// Scenario: the definition lies outside every changed range.
func TestOrchestrator_SkipsUnchangedMachine(t *testing.T) {
	h := newHarness(0)
	h.files.files = []domain.ChangedFile{
		{Filename: "a.ts", Status: "modified", Patch: "@@ -10,5 +10,5 @@"},
	}
	h.extractor.defs["a.ts"] = []domain.ExtractedDefinition{machine("toggle", 20, 25)}

	snap, err := h.orch.Handle(context.Background(), prEvent(domain.ActionOpened, 7))
	require.NoError(t, err)

	assert.Equal(t, domain.StateDone, snap.State)
	assert.Empty(t, h.comments.comments)
	assert.Zero(t, h.store.puts)
}

// Scenario: files drain last-in-first-out.
func TestOrchestrator_DrainsQueueFromTheEnd(t *testing.T) {
	h := newHarness(0)
	h.files.files = []domain.ChangedFile{
		{Filename: "a.ts", Status: "added", Patch: "@@ -0,0 +1,3 @@"},
		{Filename: "b.ts", Status: "modified", Patch: "@@ -1,1 +1,2 @@"},
	}

	snap, err := h.orch.Handle(context.Background(), prEvent(domain.ActionSynchronize, 3))
	require.NoError(t, err)

	assert.Equal(t, []string{"b.ts", "a.ts"}, h.source.fetched)
	assert.Empty(t, snap.Context.PendingFiles)
	assert.Equal(t, domain.StateDone, snap.State)
}

// Scenario: rendering fails for one of two definitions in a file.
func TestOrchestrator_IsolatesMachineFailure(t *testing.T) {
	h := newHarness(0)
	h.files.files = []domain.ChangedFile{
		{Filename: "a.ts", Status: "modified", Patch: "@@ -1,40 +1,40 @@"},
	}
	h.extractor.defs["a.ts"] = []domain.ExtractedDefinition{
		machine("broken", 2, 5),
		machine("toggle", 10, 20),
	}

	snap, err := h.orch.Handle(context.Background(), prEvent(domain.ActionOpened, 7))
	require.NoError(t, err)

	assert.Equal(t, domain.StateDone, snap.State)
	assert.Equal(t, 1, h.store.puts)
	require.Len(t, h.comments.comments, 1)
	assert.Equal(t, 10, h.comments.comments[0].Line)
}

// Scenario: the file list cannot be fetched.
func TestOrchestrator_ResolutionFailureFailsWorkflow(t *testing.T) {
	h := newHarness(0)
	h.files.err = errors.New("listing PR files: 502 Bad Gateway")

	snap, err := h.orch.Handle(context.Background(), prEvent(domain.ActionOpened, 7))

	require.Error(t, err)
	assert.True(t, IsFailed(err))
	assert.Equal(t, domain.StateFailed, snap.State)
	assert.Nil(t, snap.Context.PendingFiles)
	assert.Empty(t, h.source.fetched)
	assert.Equal(t, []domain.State{domain.StateResolvingFiles, domain.StateFailed}, h.states.states)

	stored, err := h.states.Load(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, stored.State)
	assert.Contains(t, stored.Error, "502")
}

func TestOrchestrator_ProcessesEveryFileExactlyOnce(t *testing.T) {
	for k := 0; k <= 6; k++ {
		t.Run(fmt.Sprintf("%d files", k), func(t *testing.T) {
			h := newHarness(0)
			for i := 0; i < k; i++ {
				name := fmt.Sprintf("f%d.ts", i)
				h.files.files = append(h.files.files, domain.ChangedFile{Filename: name, Status: "modified", Patch: "@@ -1 +1 @@"})
				if i%2 == 0 {
					h.source.fail[name] = errors.New("404 Not Found")
				}
			}

			snap, err := h.orch.Handle(context.Background(), prEvent(domain.ActionOpened, 1))
			require.NoError(t, err)

			assert.Equal(t, domain.StateDone, snap.State)
			assert.Len(t, h.source.fetched, k)

			processing := 0
			for _, s := range h.states.states {
				if s == domain.StateProcessingFile {
					processing++
				}
			}
			assert.Equal(t, k, processing)
		})
	}
}

func TestOrchestrator_StageFailureDoesNotAbort(t *testing.T) {
	h := newHarness(0)
	h.files.files = []domain.ChangedFile{
		{Filename: "a.ts", Status: "modified", Patch: "@@ -1,10 +1,10 @@"},
		{Filename: "b.ts", Status: "modified", Patch: "@@ -1,10 +1,10 @@"},
	}
	h.extractor.defs["a.ts"] = []domain.ExtractedDefinition{machine("ok", 1, 2)}
	h.extractor.defs["b.ts"] = []domain.ExtractedDefinition{machine("broken", 1, 2)}

	snap, err := h.orch.Handle(context.Background(), prEvent(domain.ActionOpened, 2))
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, snap.State)
	require.Len(t, h.comments.comments, 1)
	assert.Equal(t, "a.ts", h.comments.comments[0].Path)
}

func TestOrchestrator_IgnoresIneligibleFiles(t *testing.T) {
	h := newHarness(0)
	h.files.files = []domain.ChangedFile{
		{Filename: "gone.ts", Status: "removed", Patch: "@@ -1,3 +0,0 @@"},
		{Filename: "notes.md", Status: "modified", Patch: "@@ -1 +1 @@"},
		{Filename: "keep.ts", Status: "modified", Patch: "@@ -1 +1 @@"},
	}

	_, err := h.orch.Handle(context.Background(), prEvent(domain.ActionOpened, 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.ts"}, h.source.fetched)
}

func TestOrchestrator_RedeliveryReusesRun(t *testing.T) {
	h := newHarness(0)
	h.files.files = []domain.ChangedFile{{Filename: "a.ts", Status: "modified", Patch: "@@ -1,5 +1,5 @@"}}
	h.extractor.defs["a.ts"] = []domain.ExtractedDefinition{machine("toggle", 1, 3)}

	_, err := h.orch.Handle(context.Background(), prEvent(domain.ActionOpened, 7))
	require.NoError(t, err)
	snap, err := h.orch.Handle(context.Background(), prEvent(domain.ActionSynchronize, 7))
	require.NoError(t, err)

	assert.Equal(t, domain.StateDone, snap.State)
	assert.Equal(t, 1, h.files.calls)
	assert.Len(t, h.comments.comments, 1)
}

func TestOrchestrator_ResumeContinuesPersistedRun(t *testing.T) {
	h := newHarness(0)
	ctx := context.Background()

	// A run that stopped after dispatching the second of three files.
	snap := domain.Snapshot{
		ID:    "octo/app#4@head-sha",
		State: domain.StateProcessingFile,
		Context: domain.WorkflowContext{
			Owner:      "octo",
			Repo:       "app",
			PRNumber:   4,
			HeadCommit: "head-sha",
			PendingFiles: []domain.FileChange{
				{Path: "a.ts"},
				{Path: "b.ts"},
			},
		},
	}
	require.NoError(t, h.states.Store.Save(ctx, snap))

	require.NoError(t, h.orch.ResumeActive(ctx))

	got, err := h.states.Load(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, got.State)
	assert.Equal(t, []string{"b.ts", "a.ts"}, h.source.fetched)
	assert.Zero(t, h.files.calls, "completed resolution is not replayed")

	active, err := h.states.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

// Two runners racing on one workflow, as after a redelivery lands while the
// startup sweep is resuming the same run.
func TestOrchestrator_ConcurrentResumeRunsOnce(t *testing.T) {
	h := newHarness(0)
	h.renderer.delay = 50 * time.Millisecond
	h.files.files = []domain.ChangedFile{{Filename: "a.ts", Status: "modified", Patch: "@@ -1,5 +1,5 @@"}}
	h.extractor.defs["a.ts"] = []domain.ExtractedDefinition{machine("toggle", 1, 3)}
	ctx := context.Background()

	snap, err := h.orch.Start(ctx, prEvent(domain.ActionOpened, 7))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.orch.Resume(ctx, snap.ID)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrRunInProgress)
		}
	}
	assert.Equal(t, []string{"a.ts"}, h.source.fetched)
	assert.Len(t, h.comments.comments, 1)

	got, err := h.states.Load(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, got.State)
}

func TestOrchestrator_ResumeRefusesLeasedRun(t *testing.T) {
	h := newHarness(0)
	h.files.files = []domain.ChangedFile{{Filename: "a.ts", Status: "modified", Patch: "@@ -1,5 +1,5 @@"}}
	ctx := context.Background()

	snap, err := h.orch.Start(ctx, prEvent(domain.ActionOpened, 7))
	require.NoError(t, err)
	ok, err := h.states.AcquireLease(ctx, snap.ID, "other-replica", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.orch.Resume(ctx, snap.ID)
	require.ErrorIs(t, err, ErrRunInProgress)
	assert.Zero(t, h.files.calls)
	require.NoError(t, h.orch.ResumeActive(ctx), "sweep skips runs owned elsewhere")
	assert.Zero(t, h.files.calls)

	require.NoError(t, h.states.ReleaseLease(ctx, snap.ID, "other-replica"))
	got, err := h.orch.Resume(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, got.State)
	assert.Equal(t, 1, h.files.calls)
}

// A runner that lost the race must not replay a run that finished while it
// was waiting with a stale snapshot.
func TestOrchestrator_StaleSnapshotIsReloaded(t *testing.T) {
	h := newHarness(0)
	h.files.files = []domain.ChangedFile{{Filename: "a.ts", Status: "modified", Patch: "@@ -1,5 +1,5 @@"}}
	h.extractor.defs["a.ts"] = []domain.ExtractedDefinition{machine("toggle", 1, 3)}
	ctx := context.Background()

	stale, err := h.orch.Start(ctx, prEvent(domain.ActionOpened, 7))
	require.NoError(t, err)
	_, err = h.orch.Resume(ctx, stale.ID)
	require.NoError(t, err)

	got, err := h.orch.run(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, got.State)
	assert.Equal(t, 1, h.files.calls)
	assert.Len(t, h.comments.comments, 1)
}

func TestOrchestrator_CancelledStepIsNotCommitted(t *testing.T) {
	h := newHarness(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap := domain.Snapshot{
		ID:      "octo/app#4@head-sha",
		State:   domain.StateProcessingFile,
		Context: domain.WorkflowContext{PendingFiles: []domain.FileChange{{Path: "a.ts"}}},
	}
	require.NoError(t, h.states.Store.Save(context.Background(), snap))

	_, err := h.orch.Resume(ctx, snap.ID)
	require.ErrorIs(t, err, context.Canceled)

	got, err := h.states.Load(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateProcessingFile, got.State)
	assert.Len(t, got.Context.PendingFiles, 1)
}

func TestOrchestrator_ResumeUnknownWorkflow(t *testing.T) {
	h := newHarness(0)
	_, err := h.orch.Resume(context.Background(), "nope")
	assert.True(t, domain.IsNotFound(err))
}

func TestOrchestrator_RejectsUnsupportedAction(t *testing.T) {
	h := newHarness(0)
	_, err := h.orch.Handle(context.Background(), prEvent("closed", 7))
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Empty(t, h.states.states)
}
