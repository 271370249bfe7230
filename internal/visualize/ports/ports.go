// Package ports defines the collaborators the workflow talks to. Adapters
// under internal/visualize/adapters implement them.
package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nathantilsley/machine-sentry/internal/visualize/domain"
)

// FileChangesPort lists every file changed in a pull request. Implementations
// must exhaust pagination.
type FileChangesPort interface {
	ListChangedFiles(ctx context.Context, installationID int64, owner, repo string, prNumber int) ([]domain.ChangedFile, error)
}

// SourceControlPort fetches the decoded text of a file at a ref.
type SourceControlPort interface {
	FetchFileContent(ctx context.Context, installationID int64, owner, repo, path, ref string) (string, error)
}

// ExtractorPort finds machine definitions in source text.
type ExtractorPort interface {
	ExtractMachines(ctx context.Context, source string) ([]domain.ExtractedDefinition, error)
}

// RendererPort lays out a machine configuration as SVG markup.
type RendererPort interface {
	Render(ctx context.Context, config json.RawMessage, direction domain.Direction) (string, error)
}

// ArtifactStorePort is a content-addressed object store. Exists never fails:
// any backend error reads as "absent", which at worst causes a redundant
// write of identical bytes.
type ArtifactStorePort interface {
	Exists(ctx context.Context, key string) bool
	Put(ctx context.Context, key string, body []byte, contentType, cacheControl string) error
}

// CommentPort publishes a review comment on a pull request.
type CommentPort interface {
	CreateReviewComment(ctx context.Context, installationID int64, comment domain.ReviewComment) error
}

// StateStorePort persists workflow snapshots between transitions.
type StateStorePort interface {
	Save(ctx context.Context, snap domain.Snapshot) error
	// Load returns a *domain.NotFoundError when no snapshot exists.
	Load(ctx context.Context, id string) (domain.Snapshot, error)
	// ListActive returns the IDs of snapshots not in a terminal state.
	ListActive(ctx context.Context) ([]string, error)
	// AcquireLease claims run id for owner until ttl elapses. It succeeds
	// when the run is unclaimed, the previous lease expired, or owner already
	// holds it, in which case the lease is extended.
	AcquireLease(ctx context.Context, id, owner string, ttl time.Duration) (bool, error)
	// ReleaseLease drops owner's claim on id. A lease held by another owner
	// is left alone.
	ReleaseLease(ctx context.Context, id, owner string) error
}
