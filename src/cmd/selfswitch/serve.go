package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/improbable-eng/grpc-web/go/grpcweb"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/api"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/config"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/download"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/github"
	grpcserver "github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/grpc"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/launch"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/lifecycle"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/metrics"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/poller"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/process"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/repository"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/server"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/update"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/version"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/webhook"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/pkg/models"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the updater with its HTTP and gRPC endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := config.LoadEnvFile(flagEnvFile); err != nil {
		return err
	}
	cfg, err := config.LoadConfig(flagConfig)
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg.Log, flagVerbose)
	if err != nil {
		return err
	}
	defer closeLog()

	current := cfg.Update.CurrentVersion
	if current == "" {
		current = version.Current()
	}
	logger.Info("selfswitch starting", "version", current, "repository", cfg.Registry.Repository)

	// The cache lives next to the running artifact
	inspector := launch.NewInspector(cfg.Artifact.Suffix)
	runDir, err := runDirectory(ctx, inspector)
	if err != nil {
		logger.Warn("Launch context unavailable, using working directory", "err", err)
	}
	repo := repository.New(filepath.Join(runDir, cfg.Artifact.CacheDir), cfg.Artifact.Suffix)
	logger.Info("Artifact repository ready", "root", repo.Root(), "suffix", cfg.Artifact.Suffix)

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New()
	}

	if cfg.Registry.Token != "" {
		logger.Info("GitHub API authentication enabled (rate limit: 5000/hour)")
	} else {
		logger.Warn("No GitHub token configured (rate limit: 60/hour)")
	}

	userAgent := "selfswitch/" + version.Normalize(current)
	registry := github.NewClient(github.Options{
		BaseURL:    cfg.Registry.BaseURL,
		Repository: cfg.Registry.Repository,
		Token:      cfg.Registry.Token,
		Suffix:     cfg.Artifact.Suffix,
		UserAgent:  userAgent,
		Timeout:    cfg.Registry.Timeout,
		Cache:      repo,
		Metrics:    collector,
		Logger:     logger,
	})

	terminator := lifecycle.NewTerminator(cfg.Server.ShutdownTimeout, logger)
	exitCode := make(chan int, 1)
	terminator.SetExitFunc(func(code int) { exitCode <- code })

	manager := update.NewManager(update.Deps{
		Registry:   registry,
		Cache:      repo,
		Downloader: download.NewDownloader(nil, userAgent, cfg.Registry.Token, collector, logger),
		Inspector:  inspector,
		Remover:    process.NewDeferredRemover(logger),
		Spawner:    process.NewSpawner(logger),
		Terminator: terminator,
		Metrics:    collector,
		Logger:     logger,
	}, update.Config{
		CurrentVersion: current,
		BackupName:     cfg.Artifact.BackupName,
		RemovalDelay:   cfg.Update.RemovalDelay,
		VerifyChecksum: cfg.Artifact.VerifyChecksum,
	})
	if tags, err := repo.Tags(); err == nil {
		collector.SetCachedArtifacts(len(tags))
	}

	// gRPC server, also reachable as gRPC-Web on the HTTP port
	grpcSrv := grpc.NewServer()
	grpcserver.RegisterUpdaterServer(grpcSrv, grpcserver.NewServer(manager, logger))
	wrappedGrpc := grpcweb.WrapServer(grpcSrv,
		grpcweb.WithCorsForRegisteredEndpointsOnly(false),
		grpcweb.WithOriginFunc(func(origin string) bool { return true }),
		grpcweb.WithWebsockets(true),
		grpcweb.WithWebsocketOriginFunc(func(req *http.Request) bool { return true }),
	)

	apiServer := api.NewServer(manager, logger)
	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)

	var hook *webhook.Handler
	if wh := cfg.Update.Webhook; wh != nil && wh.Enabled {
		if wh.Secret == "" {
			logger.Warn("Webhook secret not set, signatures are not verified")
		}
		hook = webhook.NewHandler(manager, cfg.Registry.Repository, wh.Secret, wh.AutoDownload, logger)
		mux.HandleFunc(wh.Path, hook.HandleGitHubWebhook)
		logger.Info("GitHub webhook enabled", "path", wh.Path)
	}
	if collector != nil {
		mux.Handle(cfg.Metrics.Path, collector.Handler())
	}

	httpServer := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if wrappedGrpc.IsGrpcWebRequest(r) || wrappedGrpc.IsAcceptableGrpcCorsRequest(r) {
				wrappedGrpc.ServeHTTP(w, r)
				return
			}
			mux.ServeHTTP(w, r)
		}),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// A relaunched instance may start before its predecessor released the ports
	listenOpts := server.DefaultListenOptions()
	grpcAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort))
	grpcLis, err := server.Listen(ctx, grpcAddr, listenOpts, logger)
	if err != nil {
		return err
	}
	httpAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpLis, err := server.Listen(ctx, httpAddr, listenOpts, logger)
	if err != nil {
		grpcLis.Close()
		return err
	}

	var releasePoller *poller.ReleasePoller
	if p := cfg.Update.Poll; p != nil && p.Enabled {
		releasePoller = poller.NewReleasePoller(manager, p.Interval, p.AutoDownload, logger)
		releasePoller.Start()
		apiServer.SetAvailabilityReporter(releasePoller)
	}

	// Orderly shutdown runs before the exit hooks registered by a switch
	registerShutdown(terminator, releasePoller, grpcSrv, httpServer, hook)

	go func() {
		logger.Info("gRPC server listening", "addr", grpcLis.Addr().String())
		if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("gRPC server error", "err", err)
			terminator.Terminate(1)
		}
	}()
	go func() {
		logger.Info("HTTP server listening (with gRPC-Web support)", "addr", httpLis.Addr().String())
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "err", err)
			terminator.Terminate(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Shutting down gracefully...", "signal", sig.String())
		terminator.Terminate(0)
	}()

	code := <-exitCode
	logger.Info("Shutdown complete", "code", code)
	closeLog()
	os.Exit(code)
	return nil
}

// shutdownRegistrar collects the host's orderly shutdown steps
type shutdownRegistrar interface {
	OnShutdown(name string, fn func(ctx context.Context) error)
}

// registerShutdown orders the host shutdown: the poller first, then the
// servers, then in-flight webhook prefetches. The HTTP server must be down
// before waiting on the webhook so no request can start another prefetch.
func registerShutdown(t shutdownRegistrar, releasePoller *poller.ReleasePoller, grpcSrv *grpc.Server, httpServer *http.Server, hook *webhook.Handler) {
	if releasePoller != nil {
		t.OnShutdown("poller", func(context.Context) error {
			releasePoller.Stop()
			return nil
		})
	}
	t.OnShutdown("grpc", func(ctx context.Context) error {
		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
			return nil
		case <-ctx.Done():
			grpcSrv.Stop()
			return ctx.Err()
		}
	})
	t.OnShutdown("http", httpServer.Shutdown)
	if hook != nil {
		t.OnShutdown("webhook", func(ctx context.Context) error {
			waited := make(chan struct{})
			go func() {
				hook.Wait()
				close(waited)
			}()
			select {
			case <-waited:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
}

// runDirectory is the directory holding the running artifact
func runDirectory(ctx context.Context, inspector *launch.Inspector) (string, error) {
	lc, err := inspector.CurrentContext(ctx)
	if err != nil {
		wd, wdErr := os.Getwd()
		if wdErr != nil {
			return ".", err
		}
		return wd, err
	}
	return filepath.Dir(lc.ArtifactPath()), nil
}

// newLogger builds the root logger writing to stderr and, when configured,
// to a log file. The returned func closes the file and is safe to call twice.
func newLogger(cfg models.LogConfig, verbose bool) (*log.Logger, func(), error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}
	if verbose {
		level = log.DebugLevel
	}

	var out io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.File != "" {
		logFile, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		// Log to both file and console
		out = io.MultiWriter(os.Stderr, logFile)
		closed := false
		closeFn = func() {
			if !closed {
				closed = true
				logFile.Close()
			}
		}
	}

	logger := log.NewWithOptions(out, log.Options{
		Level:           level,
		ReportTimestamp: true,
		ReportCaller:    verbose,
	})
	log.SetDefault(logger)
	return logger, closeFn, nil
}
