package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nathantilsley/machine-sentry/internal/metrics"
	"github.com/nathantilsley/machine-sentry/internal/visualize/domain"
	"github.com/nathantilsley/machine-sentry/internal/visualize/ports"
)

// MachinePipeline renders one definition, stores the diagram under its
// content hash and comments on the definition's start line.
type MachinePipeline struct {
	renderer      ports.RendererPort
	store         ports.ArtifactStorePort
	comments      ports.CommentPort
	publicBaseURL string
	direction     domain.Direction
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// NewMachinePipeline creates a pipeline. publicBaseURL is where stored
// artifacts are served from, e.g. "https://machines.example.com".
func NewMachinePipeline(
	renderer ports.RendererPort,
	store ports.ArtifactStorePort,
	comments ports.CommentPort,
	publicBaseURL string,
	direction domain.Direction,
	m *metrics.Metrics,
	logger *slog.Logger,
) *MachinePipeline {
	if direction == "" {
		direction = domain.DirectionHorizontal
	}
	return &MachinePipeline{
		renderer:      renderer,
		store:         store,
		comments:      comments,
		publicBaseURL: publicBaseURL,
		direction:     direction,
		metrics:       m,
		logger:        logger,
	}
}

// Run executes the pipeline for def found in path. Nothing already committed
// (a stored artifact) is rolled back when a later step fails.
func (p *MachinePipeline) Run(ctx context.Context, wctx domain.WorkflowContext, path string, def domain.ExtractedDefinition) domain.MachineResult {
	res := domain.MachineResult{Name: def.Name, Line: def.Span.StartLine}
	log := p.logger.With("path", path, "line", res.Line, "machine", def.Name)

	markup, err := p.renderer.Render(ctx, def.Config, p.direction)
	if err != nil {
		return p.fail(log, res, fmt.Errorf("rendering: %w", err))
	}

	artifact := domain.NewArtifact(domain.NormalizeSVG(markup))
	res.StorageKey = artifact.StorageKey

	stored, err := p.Publish(ctx, artifact)
	if err != nil {
		return p.fail(log, res, fmt.Errorf("storing %s: %w", artifact.StorageKey, err))
	}
	res.Stored = stored

	comment := domain.ReviewComment{
		Owner:    wctx.Owner,
		Repo:     wctx.Repo,
		PRNumber: wctx.PRNumber,
		CommitID: wctx.HeadCommit,
		Path:     path,
		Line:     res.Line,
		Body:     CommentBody(def.Name, ArtifactURL(p.publicBaseURL, artifact.StorageKey)),
	}
	if err := p.comments.CreateReviewComment(ctx, wctx.InstallationID, comment); err != nil {
		return p.fail(log, res, fmt.Errorf("commenting: %w", err))
	}

	log.Info("machine commented", "key", artifact.StorageKey, "stored", stored)
	res.Outcome = domain.OutcomeCommented
	return res
}

// Publish writes artifact unless an object already exists under its key. It
// reports whether a write happened. The check and the write are not atomic;
// a concurrent writer of the same key writes identical bytes.
func (p *MachinePipeline) Publish(ctx context.Context, artifact domain.Artifact) (bool, error) {
	if p.store.Exists(ctx, artifact.StorageKey) {
		p.metrics.ArtifactWritesTotal.WithLabelValues("reused").Inc()
		return false, nil
	}
	err := p.store.Put(ctx, artifact.StorageKey, artifact.Body, domain.SVGContentType, domain.ImmutableCacheControl)
	if err != nil {
		p.metrics.ArtifactWritesTotal.WithLabelValues("error").Inc()
		return false, err
	}
	p.metrics.ArtifactWritesTotal.WithLabelValues("stored").Inc()
	return true, nil
}

func (p *MachinePipeline) fail(log *slog.Logger, res domain.MachineResult, err error) domain.MachineResult {
	log.Warn("machine pipeline failed", "error", err)
	res.Outcome = domain.OutcomeFailed
	res.Err = err
	return res
}
