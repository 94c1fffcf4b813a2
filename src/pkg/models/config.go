package models

import "time"

// Config represents the main configuration for selfswitch
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Registry RegistryConfig `yaml:"registry"`
	Artifact ArtifactConfig `yaml:"artifact"`
	Update   UpdateConfig   `yaml:"update"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains the host server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	GRPCPort        int           `yaml:"grpc_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RegistryConfig contains the release registry (GitHub) configuration
type RegistryConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Repository string        `yaml:"repository"` // owner/name
	Token      string        `yaml:"token,omitempty"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ArtifactConfig describes release artifacts and their on-disk layout
type ArtifactConfig struct {
	// Suffix identifies artifact files, e.g. "-linux-amd64" or ".jar"
	Suffix         string `yaml:"suffix"`
	CacheDir       string `yaml:"cache_dir"`
	BackupName     string `yaml:"backup_name"`
	VerifyChecksum bool   `yaml:"verify_checksum"`
}

// UpdateConfig contains switch and update trigger configuration
type UpdateConfig struct {
	// CurrentVersion overrides the version linked into the binary
	CurrentVersion string         `yaml:"current_version,omitempty"`
	RemovalDelay   time.Duration  `yaml:"removal_delay"`
	Poll           *PollingConfig `yaml:"poll,omitempty"`
	Webhook        *WebhookConfig `yaml:"webhook,omitempty"`
}

// PollingConfig contains polling mode configuration
type PollingConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	AutoDownload bool          `yaml:"auto_download"`
}

// WebhookConfig contains webhook mode configuration
type WebhookConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Path         string `yaml:"path"`
	Secret       string `yaml:"secret,omitempty"`
	AutoDownload bool   `yaml:"auto_download"`
}

// MetricsConfig contains Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}
