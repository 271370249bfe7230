// Package main sends a signed pull_request webhook for an existing pull
// request to a machine-sentry server. Useful for replaying a PR locally.
package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/google/go-github/v68/github"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := parseCliConfig(os.Args[1:])
	if err != nil {
		return err
	}

	target, err := parsePRURL(cfg.prURL)
	if err != nil {
		return fmt.Errorf("parsing PR URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	pr, err := fetchPRDetails(ctx, cfg.token, target)
	if err != nil {
		return err
	}

	payload, err := buildWebhookPayload(pr, target, cfg.action, cfg.installID)
	if err != nil {
		return err
	}
	return sendWebhook(ctx, cfg, payload, target, pr)
}

type cliConfig struct {
	token      string
	webhookURL string
	secret     string
	action     string
	installID  int64
	timeout    time.Duration
	prURL      string
}

type prTarget struct {
	owner  string
	repo   string
	number int
}

func parseCliConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("machine-sentry-cli", flag.ContinueOnError)
	var (
		token      = fs.String("token", "", "GitHub personal access token (or use GITHUB_TOKEN env var)")
		webhookURL = fs.String("url", "http://localhost:8080/webhook", "Webhook URL")
		secret     = fs.String(
			"secret",
			"",
			"Webhook secret for signing (read from WEBHOOK_SECRET env var if not set)",
		)
		action    = fs.String("action", "synchronize", "Pull request action to send: opened or synchronize")
		installID = fs.Int64(
			"installation-id",
			0,
			"GitHub App installation ID (read from GITHUB_INSTALLATION_ID env var if not set)",
		)
		timeout = fs.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		token:      getEnvOrFlag(*token, "GITHUB_TOKEN"),
		secret:     getEnvOrFlag(*secret, "WEBHOOK_SECRET"),
		webhookURL: *webhookURL,
		action:     *action,
		timeout:    *timeout,
	}

	if cfg.token == "" {
		return cfg, errors.New("github token required\nProvide via -token flag or GITHUB_TOKEN env var")
	}
	if cfg.secret == "" {
		return cfg, errors.New("webhook secret required\nProvide via -secret flag or WEBHOOK_SECRET env var")
	}
	if cfg.action != "opened" && cfg.action != "synchronize" {
		return cfg, fmt.Errorf("action must be opened or synchronize, got %q", cfg.action)
	}

	cfg.installID = *installID
	if cfg.installID == 0 {
		if idStr := os.Getenv("GITHUB_INSTALLATION_ID"); idStr != "" {
			id, err := strconv.ParseInt(idStr, 10, 64)
			if err != nil {
				return cfg, fmt.Errorf("invalid GITHUB_INSTALLATION_ID: %w", err)
			}
			cfg.installID = id
		}
	}
	if cfg.installID == 0 {
		return cfg, errors.New(
			"github App installation ID required\nProvide via -installation-id flag or GITHUB_INSTALLATION_ID env var",
		)
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return cfg, errors.New("missing PR URL argument")
	}
	cfg.prURL = fs.Arg(0)

	return cfg, nil
}

func getEnvOrFlag(flagValue, envKey string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(envKey)
}

func fetchPRDetails(ctx context.Context, token string, t prTarget) (*github.PullRequest, error) {
	client := github.NewClient(nil).WithAuthToken(token)
	fmt.Printf("Fetching PR details from GitHub...\n")
	pr, _, err := client.PullRequests.Get(ctx, t.owner, t.repo, t.number)
	if err != nil {
		return nil, fmt.Errorf("fetching PR: %w", err)
	}
	return pr, nil
}

// buildWebhookPayload mirrors the subset of a pull_request delivery the
// server reads.
func buildWebhookPayload(pr *github.PullRequest, t prTarget, action string, installID int64) ([]byte, error) {
	payload := map[string]any{
		"action": action,
		"number": t.number,
		"pull_request": map[string]any{
			"number": t.number,
			"base": map[string]any{
				"ref": pr.GetBase().GetRef(),
				"sha": pr.GetBase().GetSHA(),
			},
			"head": map[string]any{
				"ref": pr.GetHead().GetRef(),
				"sha": pr.GetHead().GetSHA(),
			},
		},
		"repository": map[string]any{
			"name":      t.repo,
			"full_name": t.owner + "/" + t.repo,
			"owner":     map[string]any{"login": t.owner},
		},
		"installation": map[string]any{"id": installID},
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	return b, nil
}

func sendWebhook(ctx context.Context, cfg cliConfig, payload []byte, t prTarget, pr *github.PullRequest) error {
	fmt.Printf("\nSending webhook to %s...\n", cfg.webhookURL)
	fmt.Printf("  Repo:   %s/%s\n", t.owner, t.repo)
	fmt.Printf("  PR:     #%d (%s)\n", t.number, cfg.action)
	fmt.Printf("  Base:   %s (%s)\n", pr.GetBase().GetRef(), pr.GetBase().GetSHA())
	fmt.Printf("  Head:   %s (%s)\n", pr.GetHead().GetRef(), pr.GetHead().GetSHA())
	fmt.Println()

	req, err := newWebhookRequest(ctx, cfg.webhookURL, cfg.secret, payload, t.number)
	if err != nil {
		return err
	}

	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", "error", err)
		}
	}()

	//nolint:errcheck // Best effort read for logging only
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted {
		fmt.Printf("✓ Webhook accepted (status %d)\n", resp.StatusCode)
		if len(body) > 0 {
			fmt.Printf("Response: %s\n", string(body))
		}
		fmt.Printf("\nDiagrams will appear as review comments on:\n%s\n", cfg.prURL)
		return nil
	}

	fmt.Printf("✗ Webhook failed (status %d)\n", resp.StatusCode)
	if len(body) > 0 {
		fmt.Printf("Response: %s\n", string(body))
	}
	return fmt.Errorf("webhook returned status %d", resp.StatusCode)
}

func newWebhookRequest(ctx context.Context, webhookURL, secret string, payload []byte, prNum int) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "pull_request")
	req.Header.Set("X-Hub-Signature-256", "sha256="+signPayload(payload, secret))
	req.Header.Set("X-GitHub-Delivery", "replay-"+strconv.Itoa(prNum))
	return req, nil
}

var prURLPattern = regexp.MustCompile(`github\.com/([^/]+)/([^/]+)/pull/(\d+)(?:/.*)?$`)

// parsePRURL extracts owner, repo, and PR number from a GitHub PR URL.
// Handles formats:
//   - https://github.com/owner/repo/pull/123
//   - https://github.com/owner/repo/pull/123/files
func parsePRURL(url string) (prTarget, error) {
	matches := prURLPattern.FindStringSubmatch(url)
	if len(matches) != 4 {
		return prTarget{}, fmt.Errorf(
			"invalid PR URL format, expected: https://github.com/owner/repo/pull/123, got: %s",
			url,
		)
	}

	n, err := strconv.Atoi(matches[3])
	if err != nil {
		return prTarget{}, fmt.Errorf("invalid PR number: %w", err)
	}
	return prTarget{owner: matches[1], repo: matches[2], number: n}, nil
}

// signPayload creates the HMAC SHA256 hex digest GitHub sends.
func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
