package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	t.Setenv(EnvGitHubToken, "")

	cfg, err := Parse([]byte("registry:\n  repository: halo-dev/halo\n"))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 50051, cfg.Server.GRPCPort)
	assert.Equal(t, "https://api.github.com", cfg.Registry.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Registry.Timeout)
	assert.Equal(t, DefaultArtifactSuffix(), cfg.Artifact.Suffix)
	assert.Equal(t, ".jar", cfg.Artifact.CacheDir)
	assert.Equal(t, "selfswitch-ori-bak"+DefaultArtifactSuffix(), cfg.Artifact.BackupName)
	assert.Equal(t, 10*time.Second, cfg.Update.RemovalDelay)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Nil(t, cfg.Update.Poll)
}

func TestParse_ExpandsEnvAndToken(t *testing.T) {
	t.Setenv("SELFSWITCH_REPO", "halo-dev/halo")
	t.Setenv(EnvGitHubToken, "ghp_test")
	t.Setenv(EnvWebhookSecret, "s3cret")

	data := `
registry:
  repository: ${SELFSWITCH_REPO}
  base_url: http://registry.local/
artifact:
  suffix: .jar
update:
  poll:
    enabled: true
  webhook:
    enabled: true
`
	cfg, err := Parse([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, "halo-dev/halo", cfg.Registry.Repository)
	assert.Equal(t, "http://registry.local", cfg.Registry.BaseURL)
	assert.Equal(t, "ghp_test", cfg.Registry.Token)
	assert.Equal(t, "selfswitch-ori-bak.jar", cfg.Artifact.BackupName)
	require.NotNil(t, cfg.Update.Poll)
	assert.Equal(t, time.Hour, cfg.Update.Poll.Interval)
	require.NotNil(t, cfg.Update.Webhook)
	assert.Equal(t, "/webhook/github", cfg.Update.Webhook.Path)
	assert.Equal(t, "s3cret", cfg.Update.Webhook.Secret)
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing repository", "server:\n  port: 9000\n"},
		{"bad repository", "registry:\n  repository: halo\n"},
		{"nested cache dir", "registry:\n  repository: a/b\nartifact:\n  cache_dir: a/b\n"},
		{"short poll interval", "registry:\n  repository: a/b\nupdate:\n  poll:\n    enabled: true\n    interval: 5s\n"},
		{"bad log level", "registry:\n  repository: a/b\nlog:\n  level: trace\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_WithEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	cfgPath := filepath.Join(dir, "config.yaml")

	require.NoError(t, os.WriteFile(envPath, []byte("SELFSWITCH_TEST_REPO=owner/app\n"), 0o644))
	require.NoError(t, os.WriteFile(cfgPath, []byte("registry:\n  repository: ${SELFSWITCH_TEST_REPO}\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("SELFSWITCH_TEST_REPO") })

	require.NoError(t, LoadEnvFile(envPath))
	cfg, err := LoadConfig(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "owner/app", cfg.Registry.Repository)
}

func TestLoadEnvFile_MissingIsIgnored(t *testing.T) {
	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")))
	assert.NoError(t, LoadEnvFile(""))
}

func TestLoadConfig_Example(t *testing.T) {
	t.Setenv(EnvGitHubToken, "")

	cfg, err := LoadConfig(filepath.Join("..", "..", "..", "config.example.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "halo-dev/halo", cfg.Registry.Repository)
	assert.Equal(t, ".jar", cfg.Artifact.Suffix)
	assert.True(t, cfg.Artifact.VerifyChecksum)
	require.NotNil(t, cfg.Update.Poll)
	assert.True(t, cfg.Update.Poll.AutoDownload)
	require.NotNil(t, cfg.Update.Webhook)
	assert.False(t, cfg.Update.Webhook.Enabled)
}
