package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/pkg/models"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted after the yaml file is read
const (
	EnvGitHubToken   = "GITHUB_TOKEN"
	EnvWebhookSecret = "SELFSWITCH_WEBHOOK_SECRET"
)

// LoadEnvFile loads variables from a .env file into the process environment.
// A missing file is not an error; variables already set are kept.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file.
// ${VAR} references in the file are expanded from the environment.
func LoadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses, defaults and validates raw YAML configuration
func Parse(data []byte) (*models.Config, error) {
	var cfg models.Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnv fills secrets that were left out of the file
func applyEnv(cfg *models.Config) {
	if cfg.Registry.Token == "" {
		cfg.Registry.Token = os.Getenv(EnvGitHubToken)
	}
	if cfg.Update.Webhook != nil && cfg.Update.Webhook.Secret == "" {
		cfg.Update.Webhook.Secret = os.Getenv(EnvWebhookSecret)
	}
}

// DefaultArtifactSuffix is the platform artifact suffix, e.g. "-linux-amd64"
// or "-windows-amd64.exe"
func DefaultArtifactSuffix() string {
	suffix := "-" + runtime.GOOS + "-" + runtime.GOARCH
	if runtime.GOOS == "windows" {
		suffix += ".exe"
	}
	return suffix
}

// setDefaults sets default values for configuration
func setDefaults(cfg *models.Config) {
	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 50051
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	// Registry defaults
	if cfg.Registry.BaseURL == "" {
		cfg.Registry.BaseURL = "https://api.github.com"
	}
	cfg.Registry.BaseURL = strings.TrimRight(cfg.Registry.BaseURL, "/")
	if cfg.Registry.Timeout == 0 {
		cfg.Registry.Timeout = 10 * time.Second
	}

	// Artifact defaults
	if cfg.Artifact.Suffix == "" {
		cfg.Artifact.Suffix = DefaultArtifactSuffix()
	}
	if cfg.Artifact.CacheDir == "" {
		cfg.Artifact.CacheDir = ".jar"
	}
	if cfg.Artifact.BackupName == "" {
		cfg.Artifact.BackupName = "selfswitch-ori-bak" + cfg.Artifact.Suffix
	}

	// Update defaults
	if cfg.Update.RemovalDelay == 0 {
		cfg.Update.RemovalDelay = 10 * time.Second
	}
	if cfg.Update.Poll != nil && cfg.Update.Poll.Interval == 0 {
		cfg.Update.Poll.Interval = time.Hour
	}
	if cfg.Update.Webhook != nil && cfg.Update.Webhook.Path == "" {
		cfg.Update.Webhook.Path = "/webhook/github"
	}

	// Metrics defaults
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Log defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// validate validates the configuration
func validate(cfg *models.Config) error {
	owner, name, ok := strings.Cut(cfg.Registry.Repository, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("registry.repository must be in owner/name form, got %q", cfg.Registry.Repository)
	}

	if strings.ContainsAny(cfg.Artifact.CacheDir, `/\`) || cfg.Artifact.CacheDir == ".." {
		return fmt.Errorf("artifact.cache_dir must be a single directory name")
	}
	if strings.ContainsAny(cfg.Artifact.BackupName, `/\`) {
		return fmt.Errorf("artifact.backup_name must be a file name")
	}

	if cfg.Update.RemovalDelay < 0 {
		return fmt.Errorf("update.removal_delay must not be negative")
	}
	if cfg.Update.Poll != nil && cfg.Update.Poll.Enabled && cfg.Update.Poll.Interval < time.Minute {
		return fmt.Errorf("update.poll.interval must be at least 1m")
	}
	if cfg.Update.Webhook != nil && cfg.Update.Webhook.Enabled {
		if !strings.HasPrefix(cfg.Update.Webhook.Path, "/") {
			return fmt.Errorf("update.webhook.path must start with /")
		}
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}

	return nil
}
