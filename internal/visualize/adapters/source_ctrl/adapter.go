// Package sourcectrl provides source code fetching from GitHub repositories.
package sourcectrl

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gogithub "github.com/google/go-github/v68/github"

	ghclient "github.com/nathantilsley/machine-sentry/internal/visualize/adapters/gh_client"
	"github.com/nathantilsley/machine-sentry/internal/visualize/domain"
)

// Adapter implements ports.SourceControlPort with the repository contents
// API.
type Adapter struct {
	clients ghclient.Provider
}

// New creates a new source control adapter.
func New(clients ghclient.Provider) *Adapter {
	return &Adapter{clients: clients}
}

// FetchFileContent returns the text of path at ref. A missing file is
// reported as a *domain.NotFoundError.
func (a *Adapter) FetchFileContent(ctx context.Context, installationID int64, owner, repo, path, ref string) (string, error) {
	client, err := a.clients.ForInstallation(installationID)
	if err != nil {
		return "", err
	}

	file, _, resp, err := client.Repositories.GetContents(ctx, owner, repo, path, &gogithub.RepositoryContentGetOptions{
		Ref: ref,
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", domain.NewNotFoundError(path, ref)
		}
		return "", fmt.Errorf("getting contents of %s: %w", path, err)
	}
	if file == nil {
		return "", fmt.Errorf("%s is a directory", path)
	}

	// Files over 1 MB come back with encoding "none" and no content.
	if file.GetEncoding() != "base64" || file.Content == nil {
		return "", errors.New("unsupported content encoding " + file.GetEncoding() + " for " + path)
	}

	return domain.DecodeContent(*file.Content)
}
