// Package ghclient builds go-github clients authenticated as a GitHub App
// installation.
package ghclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v68/github"
)

// Provider hands out a client acting on behalf of an installation.
type Provider interface {
	ForInstallation(installationID int64) (*github.Client, error)
}

// AppProvider creates one installation client per installation ID and keeps
// it, so each installation's access token is cached by its transport. It is
// built once at start-up and passed to the adapters that need it.
type AppProvider struct {
	appID      int64
	privateKey []byte
	baseURL    string
	transport  http.RoundTripper

	mu      sync.Mutex
	clients map[int64]*github.Client
}

// NewAppProvider validates the App credentials. apiBaseURL is empty for
// github.com, or the API root of a GitHub Enterprise Server.
func NewAppProvider(appID int64, privateKey []byte, apiBaseURL string) (*AppProvider, error) {
	if appID == 0 {
		return nil, errors.New("github app id is required")
	}
	if _, err := ghinstallation.NewAppsTransport(http.DefaultTransport, appID, privateKey); err != nil {
		return nil, fmt.Errorf("parsing github app private key: %w", err)
	}
	return &AppProvider{
		appID:      appID,
		privateKey: privateKey,
		baseURL:    apiBaseURL,
		transport:  http.DefaultTransport,
		clients:    make(map[int64]*github.Client),
	}, nil
}

// ForInstallation returns the client for installationID.
func (p *AppProvider) ForInstallation(installationID int64) (*github.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[installationID]; ok {
		return c, nil
	}

	itr, err := ghinstallation.New(p.transport, p.appID, installationID, p.privateKey)
	if err != nil {
		return nil, fmt.Errorf("creating installation transport: %w", err)
	}

	client := github.NewClient(&http.Client{Transport: itr})
	if p.baseURL != "" {
		itr.BaseURL = strings.TrimRight(p.baseURL, "/")
		client, err = client.WithEnterpriseURLs(p.baseURL, p.baseURL)
		if err != nil {
			return nil, fmt.Errorf("configuring enterprise URL: %w", err)
		}
	}

	p.clients[installationID] = client
	return client, nil
}

// StaticProvider returns the same client for every installation. Used with
// a personal access token during development and in tests.
type StaticProvider struct {
	Client *github.Client
}

// NewTokenProvider creates a StaticProvider authenticated with token.
func NewTokenProvider(token string) *StaticProvider {
	return &StaticProvider{Client: github.NewClient(nil).WithAuthToken(token)}
}

// ForInstallation returns the static client.
func (p *StaticProvider) ForInstallation(int64) (*github.Client, error) {
	return p.Client, nil
}

// ListInstallationRepos returns the full names of every repository the
// installation can access.
func ListInstallationRepos(ctx context.Context, provider Provider, installationID int64) ([]string, error) {
	client, err := provider.ForInstallation(installationID)
	if err != nil {
		return nil, err
	}

	var names []string
	opts := &github.ListOptions{
		PerPage: 100,
	}

	for {
		repos, resp, err := client.Apps.ListRepos(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("listing installation repositories: %w", err)
		}

		for _, r := range repos.Repositories {
			names = append(names, r.GetFullName())
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return names, nil
}
