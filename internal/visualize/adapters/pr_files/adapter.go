// Package prfiles lists the files changed in a pull request.
package prfiles

import (
	"context"
	"fmt"

	"github.com/google/go-github/v68/github"

	ghclient "github.com/nathantilsley/machine-sentry/internal/visualize/adapters/gh_client"
	"github.com/nathantilsley/machine-sentry/internal/visualize/domain"
)

// Adapter implements ports.FileChangesPort by querying the GitHub API
// for files changed in a pull request.
type Adapter struct {
	clients ghclient.Provider
}

// New creates a new PR files adapter.
func New(clients ghclient.Provider) *Adapter {
	return &Adapter{clients: clients}
}

// ListChangedFiles returns every file modified in the PR with its status and
// patch. All pages are read.
func (a *Adapter) ListChangedFiles(ctx context.Context, installationID int64, owner, repo string, prNumber int) ([]domain.ChangedFile, error) {
	client, err := a.clients.ForInstallation(installationID)
	if err != nil {
		return nil, err
	}

	var changedFiles []domain.ChangedFile
	opts := &github.ListOptions{
		PerPage: 100,
	}

	for {
		files, resp, err := client.PullRequests.ListFiles(ctx, owner, repo, prNumber, opts)
		if err != nil {
			return nil, fmt.Errorf("listing PR files: %w", err)
		}

		for _, file := range files {
			changedFiles = append(changedFiles, domain.ChangedFile{
				Filename: file.GetFilename(),
				Status:   file.GetStatus(),
				Patch:    file.GetPatch(),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return changedFiles, nil
}
