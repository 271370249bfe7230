package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nathantilsley/machine-sentry/internal/config"
	"github.com/nathantilsley/machine-sentry/internal/metrics"
	ghclient "github.com/nathantilsley/machine-sentry/internal/visualize/adapters/gh_client"
	memorystate "github.com/nathantilsley/machine-sentry/internal/visualize/adapters/memory_state"
	objectstore "github.com/nathantilsley/machine-sentry/internal/visualize/adapters/object_store"
	prfiles "github.com/nathantilsley/machine-sentry/internal/visualize/adapters/pr_files"
	redisstate "github.com/nathantilsley/machine-sentry/internal/visualize/adapters/redis_state"
	reviewcomment "github.com/nathantilsley/machine-sentry/internal/visualize/adapters/review_comment"
	"github.com/nathantilsley/machine-sentry/internal/visualize/adapters/sidecar"
	sourcectrl "github.com/nathantilsley/machine-sentry/internal/visualize/adapters/source_ctrl"
	sqlitestate "github.com/nathantilsley/machine-sentry/internal/visualize/adapters/sqlite_state"
	"github.com/nathantilsley/machine-sentry/internal/visualize/ports"
	"github.com/nathantilsley/machine-sentry/internal/visualize/workflow"
)

// app holds the wired service. close releases every opened resource.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	registry     *prometheus.Registry
	metrics      *metrics.Metrics
	clients      ghclient.Provider
	store        ports.StateStorePort
	artifacts    *objectstore.Store
	orchestrator *workflow.Orchestrator
	closers      []func() error
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// openStateStore opens the configured state store.
func openStateStore(ctx context.Context, cfg *config.Config) (ports.StateStorePort, func() error, error) {
	switch cfg.State.Driver {
	case config.StateDriverRedis:
		redisURL, err := cfg.RedisURL()
		if err != nil {
			return nil, nil, err
		}
		s, err := redisstate.NewStoreFromURL(ctx, redisURL, cfg.State.RedisPrefix, cfg.State.TerminalTTL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.StateDriverSQLite:
		s, err := sqlitestate.Open("file:" + cfg.State.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.StateDriverMemory:
		return memorystate.New(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown state driver %q", cfg.State.Driver)
	}
}

func newClientProvider(cfg *config.Config) (ghclient.Provider, error) {
	if cfg.Secrets.GitHubToken != "" {
		return ghclient.NewTokenProvider(cfg.Secrets.GitHubToken), nil
	}
	if cfg.GitHub.AppID == 0 || len(cfg.Secrets.GitHubPrivateKey) == 0 {
		return nil, fmt.Errorf("github credentials are not configured")
	}
	return ghclient.NewAppProvider(cfg.GitHub.AppID, cfg.Secrets.GitHubPrivateKey, cfg.GitHub.APIURL)
}

// newApp wires every collaborator of the workflow from cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   newLogger(cfg.Server.LogLevel),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry, "machine_sentry")

	clients, err := newClientProvider(cfg)
	if err != nil {
		return nil, err
	}
	a.clients = clients

	store, closeStore, err := openStateStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	artifacts, err := objectstore.New(objectstore.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Secrets.S3AccessKey,
		SecretKey: cfg.Secrets.S3SecretKey,
		Region:    cfg.Storage.Region,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	}, a.logger.With("component", "object_store"))
	if err != nil {
		a.close()
		return nil, err
	}
	a.artifacts = artifacts

	extractorClient, err := sidecar.NewClient(cfg.Render.ExtractorURL, cfg.Render.Timeout)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("extractor: %w", err)
	}
	rendererClient, err := sidecar.NewClient(cfg.Render.RendererURL, cfg.Render.Timeout)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("renderer: %w", err)
	}

	pipeline := workflow.NewMachinePipeline(
		sidecar.NewRenderer(rendererClient),
		artifacts,
		reviewcomment.New(clients),
		cfg.Storage.PublicBaseURL,
		cfg.Render.Direction,
		a.metrics,
		a.logger.With("component", "machine_pipeline"),
	)
	stage := workflow.NewFileStage(
		sourcectrl.New(clients),
		sidecar.NewExtractor(extractorClient),
		pipeline,
		cfg.Workflow.MaxConcurrentMachines,
		a.metrics,
		a.logger.With("component", "file_stage"),
	)
	a.orchestrator = workflow.NewOrchestrator(
		prfiles.New(clients),
		stage,
		store,
		cfg.Workflow.Extensions,
		a.metrics,
		a.logger.With("component", "orchestrator"),
	)

	return a, nil
}

func (a *app) listRepositories(ctx context.Context, installationID int64) ([]string, error) {
	return ghclient.ListInstallationRepos(ctx, a.clients, installationID)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to close resource", "error", err)
		}
	}
	a.closers = nil
}
