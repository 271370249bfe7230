package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nathantilsley/machine-sentry/internal/metrics"
	memorystate "github.com/nathantilsley/machine-sentry/internal/visualize/adapters/memory_state"
	"github.com/nathantilsley/machine-sentry/internal/visualize/domain"
)

const testBaseURL = "https://machines.example.com"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFiles struct {
	files []domain.ChangedFile
	err   error
	calls int
}

func (f *fakeFiles) ListChangedFiles(_ context.Context, _ int64, _, _ string, _ int) ([]domain.ChangedFile, error) {
	f.calls++
	return f.files, f.err
}

// fakeSource returns the path itself as file content so the extractor can
// key definitions by path.
type fakeSource struct {
	mu      sync.Mutex
	fetched []string
	fail    map[string]error
}

func (f *fakeSource) FetchFileContent(ctx context.Context, _ int64, _, _, path, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, path)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := f.fail[path]; err != nil {
		return "", err
	}
	return path, nil
}

type fakeExtractor struct {
	defs map[string][]domain.ExtractedDefinition
}

func (f *fakeExtractor) ExtractMachines(_ context.Context, source string) ([]domain.ExtractedDefinition, error) {
	return f.defs[source], nil
}

// fakeRenderer fails for configs containing "broken" and tracks how many
// renders run at once.
type fakeRenderer struct {
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeRenderer) Render(_ context.Context, config json.RawMessage, direction domain.Direction) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if strings.Contains(string(config), "broken") {
		return "", errors.New("layout failed")
	}
	return fmt.Sprintf("<svg data-direction='%s'><desc>%s</desc></svg>", direction, config), nil
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Exists(_ context.Context, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func (f *fakeStore) Put(_ context.Context, key string, body []byte, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.objects[key] = append([]byte(nil), body...)
	return nil
}

type fakeComments struct {
	mu       sync.Mutex
	comments []domain.ReviewComment
	err      error
}

func (f *fakeComments) CreateReviewComment(_ context.Context, _ int64, c domain.ReviewComment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.comments = append(f.comments, c)
	return nil
}

// recordingStore remembers every state it was asked to save.
type recordingStore struct {
	*memorystate.Store
	mu     sync.Mutex
	states []domain.State
}

func (r *recordingStore) Save(ctx context.Context, snap domain.Snapshot) error {
	r.mu.Lock()
	r.states = append(r.states, snap.State)
	r.mu.Unlock()
	return r.Store.Save(ctx, snap)
}

type harness struct {
	files     *fakeFiles
	source    *fakeSource
	extractor *fakeExtractor
	renderer  *fakeRenderer
	store     *fakeStore
	comments  *fakeComments
	states    *recordingStore
	pipeline  *MachinePipeline
	stage     *FileStage
	orch      *Orchestrator
}

func newHarness(maxConcurrent int) *harness {
	h := &harness{
		files:     &fakeFiles{},
		source:    &fakeSource{fail: map[string]error{}},
		extractor: &fakeExtractor{defs: map[string][]domain.ExtractedDefinition{}},
		renderer:  &fakeRenderer{},
		store:     newFakeStore(),
		comments:  &fakeComments{},
		states:    &recordingStore{Store: memorystate.New()},
	}
	m := metrics.NewUnregistered()
	logger := discardLogger()
	h.pipeline = NewMachinePipeline(h.renderer, h.store, h.comments, testBaseURL, domain.DirectionHorizontal, m, logger)
	h.stage = NewFileStage(h.source, h.extractor, h.pipeline, maxConcurrent, m, logger)
	h.orch = NewOrchestrator(h.files, h.stage, h.states, nil, m, logger)
	return h
}

func prEvent(action string, number int) domain.PullRequestEvent {
	return domain.PullRequestEvent{
		Action:         action,
		InstallationID: 99,
		Owner:          "octo",
		Repo:           "app",
		Number:         number,
		BaseSHA:        "base-sha",
		HeadSHA:        "head-sha",
	}
}

func machine(name string, start, end int) domain.ExtractedDefinition {
	return domain.ExtractedDefinition{
		Name:   name,
		Config: json.RawMessage(fmt.Sprintf(`{"id":%q}`, name)),
		Span:   domain.SourceSpan{StartLine: start, EndLine: end},
	}
}

// expectedKey is the storage key the pipeline derives for machine(name, ...).
func expectedKey(name string) string {
	markup := fmt.Sprintf("<svg data-direction='%s'><desc>%s</desc></svg>", domain.DirectionHorizontal, fmt.Sprintf(`{"id":%q}`, name))
	return domain.NewArtifact(domain.NormalizeSVG(markup)).StorageKey
}
