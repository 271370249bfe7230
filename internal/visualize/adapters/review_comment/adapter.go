// Package reviewcomment publishes single-line review comments.
package reviewcomment

import (
	"context"
	"fmt"

	"github.com/google/go-github/v68/github"

	ghclient "github.com/nathantilsley/machine-sentry/internal/visualize/adapters/gh_client"
	"github.com/nathantilsley/machine-sentry/internal/visualize/domain"
)

// Adapter implements ports.CommentPort. Comments are not retried.
type Adapter struct {
	clients ghclient.Provider
}

// New creates a new review comment adapter.
func New(clients ghclient.Provider) *Adapter {
	return &Adapter{clients: clients}
}

// CreateReviewComment comments on the right-hand side of c.Line in c.Path.
func (a *Adapter) CreateReviewComment(ctx context.Context, installationID int64, c domain.ReviewComment) error {
	client, err := a.clients.ForInstallation(installationID)
	if err != nil {
		return err
	}

	_, _, err = client.PullRequests.CreateComment(ctx, c.Owner, c.Repo, c.PRNumber, &github.PullRequestComment{
		Body:     github.Ptr(c.Body),
		CommitID: github.Ptr(c.CommitID),
		Path:     github.Ptr(c.Path),
		Line:     github.Ptr(c.Line),
		Side:     github.Ptr("RIGHT"),
	})
	if err != nil {
		return fmt.Errorf("creating review comment on %s:%d: %w", c.Path, c.Line, err)
	}
	return nil
}
