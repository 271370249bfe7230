// Package webhook is the HTTP surface of the service: GitHub webhook
// ingestion, workflow status, installation repositories, metrics and health.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/go-github/v68/github"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nathantilsley/machine-sentry/internal/auth"
	"github.com/nathantilsley/machine-sentry/internal/metrics"
	"github.com/nathantilsley/machine-sentry/internal/visualize/domain"
	"github.com/nathantilsley/machine-sentry/internal/visualize/ports"
	"github.com/nathantilsley/machine-sentry/internal/visualize/workflow"
)

const maxPayloadBytes = 25 << 20

// Runner starts and drives workflow runs.
type Runner interface {
	Start(ctx context.Context, pr domain.PullRequestEvent) (domain.Snapshot, error)
	Resume(ctx context.Context, id string) (domain.Snapshot, error)
}

// RepositoryLister returns the full names of the repositories an
// installation can access.
type RepositoryLister func(ctx context.Context, installationID int64) ([]string, error)

// Options configures a Server.
type Options struct {
	WebhookSecret []byte
	Tokens        *auth.Tokens
	Runner        Runner
	Store         ports.StateStorePort
	Repositories  RepositoryLister
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer
	Logger        *slog.Logger
	// BaseContext is the parent of every background run. Cancelling it stops
	// runs between steps; they continue on the next resume.
	BaseContext context.Context
}

// Server handles HTTP requests. Accepted deliveries run in the background.
type Server struct {
	opts Options

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

func New(opts Options) *Server {
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.Tokens == nil {
		opts.Tokens = auth.NewTokens("")
	}
	return &Server{opts: opts, inFlight: make(map[string]struct{})}
}

// Routes returns the HTTP handler for every endpoint.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /workflows/{id...}", s.requireRead(s.handleWorkflow))
	mux.HandleFunc("GET /installations/{id}/repositories", s.requireRead(s.handleRepositories))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if s.opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Wait blocks until every background run has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	eventType := github.WebHookType(r)

	payload, principal, err := s.authenticateDelivery(r)
	if err != nil {
		s.record(eventType, "unauthorized")
		s.opts.Logger.Warn("rejected webhook delivery", "event", eventType, "error", err)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	ctx := auth.WithPrincipal(r.Context(), principal)
	if !auth.AllowWrite(ctx) {
		s.record(eventType, "forbidden")
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	if eventType == "" {
		s.record(eventType, "invalid")
		writeError(w, http.StatusBadRequest, "missing X-GitHub-Event header")
		return
	}
	if eventType != "pull_request" {
		s.record(eventType, "ignored")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	event, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		s.record(eventType, "invalid")
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	prEvent, ok := event.(*github.PullRequestEvent)
	if !ok {
		s.record(eventType, "invalid")
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	pr := toDomainEvent(prEvent)
	if !pr.Triggers() {
		s.record(eventType, "ignored")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "action": pr.Action})
		return
	}
	if pr.Owner == "" || pr.Repo == "" || pr.Number == 0 || pr.HeadSHA == "" {
		s.record(eventType, "invalid")
		writeError(w, http.StatusBadRequest, "incomplete pull_request payload")
		return
	}

	snap, err := s.opts.Runner.Start(ctx, pr)
	if err != nil {
		s.record(eventType, "error")
		s.opts.Logger.Error("failed to start workflow", "workflow", pr.WorkflowID(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start workflow")
		return
	}

	s.record(eventType, "accepted")
	s.opts.Logger.Info("accepted pull request",
		"workflow", snap.ID,
		"action", pr.Action,
		"state", snap.State,
	)
	s.runInBackground(snap)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"workflowId": snap.ID,
		"state":      string(snap.State),
	})
}

// authenticateDelivery accepts a delivery signed with the webhook secret or
// a bearer token. Signed deliveries act as the webhook subject.
func (s *Server) authenticateDelivery(r *http.Request) ([]byte, auth.Principal, error) {
	if r.Header.Get(github.SHA256SignatureHeader) != "" || r.Header.Get(github.SHA1SignatureHeader) != "" {
		if len(s.opts.WebhookSecret) == 0 {
			return nil, auth.Principal{}, fmt.Errorf("webhook secret is not configured")
		}
		payload, err := github.ValidatePayload(r, s.opts.WebhookSecret)
		if err != nil {
			return nil, auth.Principal{}, err
		}
		return payload, auth.Principal{Subject: auth.WebhookSubject}, nil
	}

	principal, err := s.bearerPrincipal(r)
	if err != nil {
		return nil, auth.Principal{}, err
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		return nil, auth.Principal{}, fmt.Errorf("reading payload: %w", err)
	}
	return payload, principal, nil
}

func (s *Server) bearerPrincipal(r *http.Request) (auth.Principal, error) {
	token, err := auth.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return auth.Principal{}, err
	}
	return s.opts.Tokens.Parse(token)
}

// runInBackground drives snap to a terminal state unless it is already
// terminal or running in this process.
func (s *Server) runInBackground(snap domain.Snapshot) {
	if snap.State.Terminal() {
		return
	}

	s.mu.Lock()
	if _, running := s.inFlight[snap.ID]; running {
		s.mu.Unlock()
		return
	}
	s.inFlight[snap.ID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, snap.ID)
			s.mu.Unlock()
		}()

		final, err := s.opts.Runner.Resume(s.opts.BaseContext, snap.ID)
		if errors.Is(err, workflow.ErrRunInProgress) {
			s.opts.Logger.Info("workflow is already running", "workflow", snap.ID)
			return
		}
		if err != nil {
			s.opts.Logger.Error("workflow did not complete", "workflow", snap.ID, "error", err)
			return
		}
		s.opts.Logger.Info("workflow finished", "workflow", final.ID, "state", final.State)
	}()
}

// requireRead rejects requests whose bearer principal may not read.
func (s *Server) requireRead(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.bearerPrincipal(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		ctx := auth.WithPrincipal(r.Context(), principal)
		if !auth.AllowRead(ctx) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := s.opts.Store.Load(r.Context(), id)
	if err != nil {
		if domain.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "workflow not found")
			return
		}
		s.opts.Logger.Error("failed to load workflow", "workflow", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load workflow")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRepositories(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid installation id")
		return
	}
	if s.opts.Repositories == nil {
		writeError(w, http.StatusNotImplemented, "repository listing is not configured")
		return
	}

	repos, err := s.opts.Repositories(r.Context(), id)
	if err != nil {
		s.opts.Logger.Error("failed to list repositories", "installation", id, "error", err)
		writeError(w, http.StatusBadGateway, "failed to list repositories")
		return
	}
	if repos == nil {
		repos = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"installationId": id,
		"repositories":   repos,
	})
}

func (s *Server) record(event, result string) {
	if s.opts.Metrics == nil {
		return
	}
	if event == "" {
		event = "unknown"
	}
	s.opts.Metrics.WebhooksTotal.WithLabelValues(event, result).Inc()
}

func toDomainEvent(e *github.PullRequestEvent) domain.PullRequestEvent {
	return domain.PullRequestEvent{
		Action:         e.GetAction(),
		InstallationID: e.GetInstallation().GetID(),
		Owner:          e.GetRepo().GetOwner().GetLogin(),
		Repo:           e.GetRepo().GetName(),
		Number:         e.GetNumber(),
		BaseSHA:        e.GetPullRequest().GetBase().GetSHA(),
		HeadSHA:        e.GetPullRequest().GetHead().GetSHA(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
