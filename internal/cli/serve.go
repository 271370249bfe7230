package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nathantilsley/machine-sentry/internal/auth"
	"github.com/nathantilsley/machine-sentry/internal/config"
	"github.com/nathantilsley/machine-sentry/internal/webhook"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	Long: `Run the webhook server. Non-terminal workflow runs left behind by a previous
process are resumed on start-up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if port, _ := cmd.Flags().GetString("port"); port != "" {
			cfg.Server.Port = port
		}
		if err := cfg.ValidateServe(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.artifacts.EnsureBucket(ctx); err != nil {
			return err
		}

		srv := webhook.New(webhook.Options{
			WebhookSecret: []byte(cfg.Secrets.WebhookSecret),
			Tokens:        auth.NewTokens(cfg.Secrets.JWTSecret),
			Runner:        a.orchestrator,
			Store:         a.store,
			Repositories:  a.listRepositories,
			Metrics:       a.metrics,
			Gatherer:      a.registry,
			Logger:        a.logger.With("component", "webhook"),
			BaseContext:   ctx,
		})

		httpSrv := &http.Server{
			Addr:              net.JoinHostPort("", cfg.Server.Port),
			Handler:           srv.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		if cfg.State.Driver == config.StateDriverMemory {
			a.logger.Warn("workflow state is kept in memory; runs are lost on restart and not shared between replicas")
		}

		resumed := make(chan struct{})
		go func() {
			defer close(resumed)
			if err := a.orchestrator.ResumeActive(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("failed to resume active workflows", "error", err)
			}
		}()

		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("listening", "addr", httpSrv.Addr, "config", cfg.String())
			errCh <- httpSrv.ListenAndServe()
		}()

		var serveErr error
		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				serveErr = fmt.Errorf("http server: %w", err)
			}
		case <-ctx.Done():
			a.logger.Info("shutting down")
		}
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("http shutdown", "error", err)
		}
		// Background runs observe ctx and stop between steps.
		srv.Wait()
		<-resumed
		return serveErr
	},
}

func init() {
	serveCmd.Flags().String("port", "", "Port to listen on (overrides config)")
}
