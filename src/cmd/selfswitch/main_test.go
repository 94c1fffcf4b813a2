package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	grpcserver "github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/grpc"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/poller"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/update/updatetest"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/webhook"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/pkg/models"
)

// serveFake points the remote commands at an in-memory instance
func serveFake(t *testing.T, fake *updatetest.Fake) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer()
	grpcserver.RegisterUpdaterServer(srv, grpcserver.NewServer(fake, nil))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	orig := dial
	dial = func(string) (*grpcserver.Client, io.Closer, error) {
		conn, err := grpc.NewClient("passthrough:///bufnet",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		if err != nil {
			return nil, nil, err
		}
		return grpcserver.NewClient(conn), conn, nil
	}
	t.Cleanup(func() { dial = orig })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func newFake() *updatetest.Fake {
	return &updatetest.Fake{
		Current: "v1.9",
		Releases: []models.ReleaseInfo{
			{Tag: "v2.0", ArtifactName: "app.jar", DownloadURL: "https://example/v2.0/app.jar"},
			{Tag: "v1.9", ArtifactName: "app.jar", DownloadURL: "https://example/v1.9/app.jar"},
		},
		Cached: map[string]bool{"v1.9": true},
	}
}

func TestReleasesCommand(t *testing.T) {
	serveFake(t, newFake())

	out, err := run(t, "releases")
	require.NoError(t, err)
	assert.Contains(t, out, "TAG")
	assert.Contains(t, out, "v2.0")
	assert.Contains(t, out, "v1.9 *")
}

func TestLatestAndCachedCommands(t *testing.T) {
	serveFake(t, newFake())

	out, err := run(t, "latest")
	require.NoError(t, err)
	assert.Contains(t, out, "v2.0")

	out, err = run(t, "cached", "1.9")
	require.NoError(t, err)
	assert.Contains(t, out, "1.9 cached: true")
}

func TestDownloadCommand(t *testing.T) {
	fake := newFake()
	serveFake(t, fake)

	out, err := run(t, "download", "v2.0")
	require.NoError(t, err)
	assert.Contains(t, out, "Cached v2.0 at .jar/v2.0/app.jar")
	assert.True(t, fake.IsCachedLocally("v2.0"))
}

func TestSwitchCommand(t *testing.T) {
	fake := newFake()
	serveFake(t, fake)

	out, err := run(t, "switch", "v1.9")
	require.NoError(t, err)
	assert.Contains(t, out, "Already running v1.9")

	out, err = run(t, "switch", "v2.0", "--download")
	require.NoError(t, err)
	assert.Contains(t, out, "Switching to v2.0 (operation op-1)")
	assert.Contains(t, fake.Calls(), "DownloadAndSwitch")

	out, err = run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: v1.9")
	assert.Contains(t, out, "Target: v2.0")
}

func TestStatusCommand_NoSwitch(t *testing.T) {
	serveFake(t, newFake())

	out, err := run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No switch has run")
}

func TestRemoteCommand_Error(t *testing.T) {
	serveFake(t, newFake())

	_, err := run(t, "switch", "v9.9", "--download=false")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "selfswitch ")
	assert.Contains(t, out, "platform:")
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selfswitch.log")

	logger, closeLog, err := newLogger(models.LogConfig{Level: "warn", File: path}, false)
	require.NoError(t, err)
	assert.Equal(t, log.WarnLevel, logger.GetLevel())

	logger.Warn("written to file")
	closeLog()
	closeLog()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")

	logger, _, err = newLogger(models.LogConfig{Level: "info"}, true)
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, logger.GetLevel())

	_, _, err = newLogger(models.LogConfig{Level: "loud"}, false)
	assert.Error(t, err)
}

type shutdownRecorder struct {
	names []string
	steps []func(ctx context.Context) error
}

func (r *shutdownRecorder) OnShutdown(name string, fn func(ctx context.Context) error) {
	r.names = append(r.names, name)
	r.steps = append(r.steps, fn)
}

func TestRegisterShutdown_WebhookAfterHTTP(t *testing.T) {
	fake := newFake()
	hook := webhook.NewHandler(fake, "", "", true, nil)
	releasePoller := poller.NewReleasePoller(fake, time.Hour, false, nil)

	rec := &shutdownRecorder{}
	registerShutdown(rec, releasePoller, grpc.NewServer(), &http.Server{}, hook)
	assert.Equal(t, []string{"poller", "grpc", "http", "webhook"}, rec.names)

	for _, step := range rec.steps {
		assert.NoError(t, step(context.Background()))
	}

	rec = &shutdownRecorder{}
	registerShutdown(rec, nil, grpc.NewServer(), &http.Server{}, nil)
	assert.Equal(t, []string{"grpc", "http"}, rec.names)
}
