// Package config loads service configuration.
//
// Load order:
//  1. .env supplies secrets and APP_ENV
//  2. configs/{APP_ENV}.yaml overrides the coded defaults
//  3. environment variables override YAML
//
// Secrets are never read from YAML.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nathantilsley/machine-sentry/internal/visualize/domain"
)

// Environment is the deployment environment.
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// State store drivers.
const (
	StateDriverMemory = "memory"
	StateDriverRedis  = "redis"
	StateDriverSQLite = "sqlite"
)

type ServerConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

type GitHubConfig struct {
	AppID int64 `yaml:"app_id"`
	// APIURL is empty for github.com, or a GitHub Enterprise Server API root.
	APIURL         string `yaml:"api_url"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

type StorageConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	UseSSL        bool   `yaml:"use_ssl"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type StateConfig struct {
	Driver      string        `yaml:"driver"`
	RedisURL    string        `yaml:"redis_url"`
	RedisPrefix string        `yaml:"redis_prefix"`
	SQLitePath  string        `yaml:"sqlite_path"`
	TerminalTTL time.Duration `yaml:"terminal_ttl"`
}

type RenderConfig struct {
	ExtractorURL string           `yaml:"extractor_url"`
	RendererURL  string           `yaml:"renderer_url"`
	Direction    domain.Direction `yaml:"direction"`
	Timeout      time.Duration    `yaml:"timeout"`
}

type WorkflowConfig struct {
	Extensions            []string `yaml:"extensions"`
	MaxConcurrentMachines int      `yaml:"max_concurrent_machines"`
}

// Secrets come only from the environment.
type Secrets struct {
	WebhookSecret    string
	GitHubPrivateKey []byte
	GitHubToken      string
	S3AccessKey      string
	S3SecretKey      string
	JWTSecret        string
	RedisPassword    string
}

// Config is the resolved service configuration.
type Config struct {
	Env      Environment    `yaml:"-"`
	Server   ServerConfig   `yaml:"server"`
	GitHub   GitHubConfig   `yaml:"github"`
	Storage  StorageConfig  `yaml:"storage"`
	State    StateConfig    `yaml:"state"`
	Render   RenderConfig   `yaml:"render"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Secrets  Secrets        `yaml:"-"`
}

var configPaths = []string{
	"configs",
	"../configs",
	"../../configs",
}

var envPaths = []string{
	".env",
	"../.env",
	"../../.env",
}

// Default returns the coded defaults.
func Default() *Config {
	return &Config{
		Env:    EnvDevelopment,
		Server: ServerConfig{Port: "8080", LogLevel: "info"},
		Storage: StorageConfig{
			Endpoint: "localhost:9000",
			Bucket:   "machine-diagrams",
			Region:   "us-east-1",
		},
		State: StateConfig{
			Driver:      StateDriverMemory,
			RedisURL:    "redis://localhost:6379/0",
			RedisPrefix: "machine-sentry",
			SQLitePath:  "machine-sentry.db",
			TerminalTTL: 7 * 24 * time.Hour,
		},
		Render: RenderConfig{
			ExtractorURL: "http://localhost:3000",
			RendererURL:  "http://localhost:3000",
			Direction:    domain.DirectionHorizontal,
			Timeout:      30 * time.Second,
		},
		Workflow: WorkflowConfig{
			Extensions:            append([]string(nil), domain.DefaultExtensions...),
			MaxConcurrentMachines: 8,
		},
	}
}

// Load resolves configuration from .env, YAML and the environment.
func Load() (*Config, error) {
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}
	return load(configPaths, os.Getenv)
}

func load(dirs []string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	cfg.Env = parseEnv(getenv("APP_ENV"))

	if err := cfg.loadYAML(dirs); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.loadSecrets(getenv); err != nil {
		return nil, err
	}
	if cfg.Storage.PublicBaseURL == "" {
		cfg.Storage.PublicBaseURL = cfg.defaultPublicBaseURL()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(dirs []string) error {
	filename := fmt.Sprintf("%s.yaml", c.Env)
	for _, base := range dirs {
		path := filepath.Join(base, filename)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		return nil
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString(&c.Server.Port, getenv("PORT"))
	setString(&c.Server.LogLevel, getenv("LOG_LEVEL"))
	setString(&c.GitHub.APIURL, getenv("GITHUB_API_URL"))
	setString(&c.GitHub.PrivateKeyPath, getenv("GITHUB_PRIVATE_KEY_PATH"))
	setString(&c.Storage.Endpoint, getenv("S3_ENDPOINT"))
	setString(&c.Storage.Bucket, getenv("S3_BUCKET"))
	setString(&c.Storage.Region, getenv("S3_REGION"))
	setString(&c.Storage.PublicBaseURL, getenv("PUBLIC_BASE_URL"))
	setString(&c.State.Driver, getenv("STATE_DRIVER"))
	setString(&c.State.RedisURL, getenv("REDIS_URL"))
	setString(&c.State.SQLitePath, getenv("SQLITE_PATH"))
	setString(&c.Render.ExtractorURL, getenv("EXTRACTOR_URL"))
	setString(&c.Render.RendererURL, getenv("RENDERER_URL"))

	if v := getenv("GITHUB_APP_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("GITHUB_APP_ID: %w", err)
		}
		c.GitHub.AppID = id
	}
	if v := getenv("S3_USE_SSL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("S3_USE_SSL: %w", err)
		}
		c.Storage.UseSSL = b
	}
	if v := getenv("MAX_CONCURRENT_MACHINES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_CONCURRENT_MACHINES: %w", err)
		}
		c.Workflow.MaxConcurrentMachines = n
	}
	return nil
}

func (c *Config) loadSecrets(getenv func(string) string) error {
	c.Secrets = Secrets{
		WebhookSecret: getenv("WEBHOOK_SECRET"),
		GitHubToken:   getenv("GITHUB_TOKEN"),
		S3AccessKey:   getenv("S3_ACCESS_KEY"),
		S3SecretKey:   getenv("S3_SECRET_KEY"),
		JWTSecret:     getenv("JWT_SECRET"),
		RedisPassword: getenv("REDIS_PASSWORD"),
	}

	if key := getenv("GITHUB_PRIVATE_KEY"); key != "" {
		// Single-line env values carry escaped newlines.
		c.Secrets.GitHubPrivateKey = []byte(strings.ReplaceAll(key, `\n`, "\n"))
		return nil
	}
	if c.GitHub.PrivateKeyPath != "" {
		key, err := os.ReadFile(c.GitHub.PrivateKeyPath)
		if err != nil {
			return fmt.Errorf("reading github private key: %w", err)
		}
		c.Secrets.GitHubPrivateKey = key
	}
	return nil
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	var errs []error

	switch c.State.Driver {
	case StateDriverMemory, StateDriverRedis, StateDriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("state.driver %q: want memory, redis or sqlite", c.State.Driver))
	}
	switch c.Render.Direction {
	case domain.DirectionHorizontal, domain.DirectionVertical:
	default:
		errs = append(errs, fmt.Errorf("render.direction %q: want horizontal or vertical", c.Render.Direction))
	}
	if c.Workflow.MaxConcurrentMachines < 1 {
		errs = append(errs, fmt.Errorf("workflow.max_concurrent_machines must be positive"))
	}
	if len(c.Workflow.Extensions) == 0 {
		errs = append(errs, fmt.Errorf("workflow.extensions must not be empty"))
	}

	return errors.Join(errs...)
}

// ValidateServe checks the settings the webhook server cannot run without.
func (c *Config) ValidateServe() error {
	var errs []error
	if c.Secrets.WebhookSecret == "" {
		errs = append(errs, fmt.Errorf("WEBHOOK_SECRET is required"))
	}
	if c.Secrets.GitHubToken == "" && (c.GitHub.AppID == 0 || len(c.Secrets.GitHubPrivateKey) == 0) {
		errs = append(errs, fmt.Errorf("either GITHUB_TOKEN or GITHUB_APP_ID with a private key is required"))
	}
	return errors.Join(errs...)
}

// RedisURL returns the state redis URL with the password applied.
func (c *Config) RedisURL() (string, error) {
	if c.Secrets.RedisPassword == "" {
		return c.State.RedisURL, nil
	}
	u, err := url.Parse(c.State.RedisURL)
	if err != nil {
		return "", fmt.Errorf("parsing redis url: %w", err)
	}
	user := ""
	if u.User != nil {
		user = u.User.Username()
	}
	u.User = url.UserPassword(user, c.Secrets.RedisPassword)
	return u.String(), nil
}

func (c *Config) defaultPublicBaseURL() string {
	scheme := "http"
	if c.Storage.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, c.Storage.Endpoint, c.Storage.Bucket)
}

// String summarises the configuration without secrets.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Port: %s, State: %s, Bucket: %s}",
		c.Env, c.Server.Port, c.State.Driver, c.Storage.Bucket)
}

func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
