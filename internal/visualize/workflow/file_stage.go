package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/nathantilsley/machine-sentry/internal/metrics"
	"github.com/nathantilsley/machine-sentry/internal/visualize/domain"
	"github.com/nathantilsley/machine-sentry/internal/visualize/ports"
)

// DefaultMaxConcurrentMachines bounds the per-file fan-out when no limit is
// configured.
const DefaultMaxConcurrentMachines = 8

// FileStage fetches one file at the head commit, extracts its machine
// definitions and runs a MachinePipeline for every definition whose span
// overlaps a changed range.
type FileStage struct {
	source        ports.SourceControlPort
	extractor     ports.ExtractorPort
	pipeline      *MachinePipeline
	maxConcurrent int
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// NewFileStage creates a per-file stage. maxConcurrent <= 0 selects
// DefaultMaxConcurrentMachines.
func NewFileStage(
	source ports.SourceControlPort,
	extractor ports.ExtractorPort,
	pipeline *MachinePipeline,
	maxConcurrent int,
	m *metrics.Metrics,
	logger *slog.Logger,
) *FileStage {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentMachines
	}
	return &FileStage{
		source:        source,
		extractor:     extractor,
		pipeline:      pipeline,
		maxConcurrent: maxConcurrent,
		metrics:       m,
		logger:        logger,
	}
}

// Process runs the stage for file. Every pipeline runs to completion
// regardless of its siblings. The returned error is non-nil when fetching or
// extraction fails, or when every pipeline that ran failed.
func (s *FileStage) Process(ctx context.Context, wctx domain.WorkflowContext, file domain.FileChange) (domain.FileResult, error) {
	result := domain.FileResult{Path: file.Path}

	content, err := s.source.FetchFileContent(ctx, wctx.InstallationID, wctx.Owner, wctx.Repo, file.Path, wctx.HeadCommit)
	if err != nil {
		return result, fmt.Errorf("fetching %s: %w", file.Path, err)
	}

	defs, err := s.extractor.ExtractMachines(ctx, content)
	if err != nil {
		return result, fmt.Errorf("extracting machines from %s: %w", file.Path, err)
	}

	matcher := domain.NewMatcher(file.ChangedRanges)
	result.Machines = make([]domain.MachineResult, len(defs))

	var g errgroup.Group
	g.SetLimit(s.maxConcurrent)
	for i, def := range defs {
		if !def.HasConfig() || !def.Span.HasStart() || !matcher.OverlapsSpan(def.Span) {
			result.Machines[i] = domain.MachineResult{
				Name:    def.Name,
				Line:    def.Span.StartLine,
				Outcome: domain.OutcomeSkipped,
			}
			continue
		}
		g.Go(func() error {
			// Each goroutine owns its slot; failures are carried in the result.
			result.Machines[i] = s.pipeline.Run(ctx, wctx, file.Path, def)
			return nil
		})
	}
	_ = g.Wait()

	for _, m := range result.Machines {
		s.metrics.MachinesTotal.WithLabelValues(m.Outcome.String()).Inc()
	}

	_, commented, failed := result.CountByOutcome()
	if failed > 0 && commented == 0 {
		return result, fmt.Errorf("all %d machines in %s failed: %w", failed, file.Path, errors.Join(result.Errors()...))
	}
	return result, nil
}
