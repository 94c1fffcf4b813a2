package poller

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/version"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/pkg/models"
)

// Updater is the part of the update service the poller needs
type Updater interface {
	CurrentVersion() string
	GetLatestRelease(ctx context.Context) (*models.ReleaseInfo, error)
	IsCachedLocally(tag string) bool
	DownloadToCache(ctx context.Context, tag string) (string, error)
}

// ReleasePoller periodically checks the registry for a newer release
type ReleasePoller struct {
	updater      Updater
	interval     time.Duration
	autoDownload bool
	log          *log.Logger

	mu     sync.RWMutex
	latest *models.ReleaseInfo

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReleasePoller creates a new release poller. With autoDownload a newer
// release is fetched into the local cache as soon as it is seen.
func NewReleasePoller(updater Updater, interval time.Duration, autoDownload bool, logger *log.Logger) *ReleasePoller {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &ReleasePoller{
		updater:      updater,
		interval:     interval,
		autoDownload: autoDownload,
		log:          logger.WithPrefix("poller"),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts the polling loop
func (p *ReleasePoller) Start() {
	p.log.Info("Starting release poller", "interval", p.interval, "auto_download", p.autoDownload)

	p.wg.Add(1)
	go p.pollLoop()
}

// Stop stops the polling loop and waits for an in-flight check
func (p *ReleasePoller) Stop() {
	p.cancel()
	p.wg.Wait()
	p.log.Info("Release poller stopped")
}

// Available returns the newest release seen that is newer than the running
// version, or nil
func (p *ReleasePoller) Available() *models.ReleaseInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// pollLoop runs the polling loop
func (p *ReleasePoller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Poll immediately on start
	p.poll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *ReleasePoller) poll() {
	if _, _, err := p.Check(p.ctx); err != nil && p.ctx.Err() == nil {
		p.log.Warn("Release check failed", "err", err)
	}
}

// Check looks up the latest release once. It reports the release and whether
// it is newer than the running version.
func (p *ReleasePoller) Check(ctx context.Context) (*models.ReleaseInfo, bool, error) {
	latest, err := p.updater.GetLatestRelease(ctx)
	if err != nil {
		return nil, false, err
	}

	current := p.updater.CurrentVersion()
	if !version.Newer(latest.Tag, current) {
		p.log.Debug("Running version is up to date", "current", current, "latest", latest.Tag)
		return latest, false, nil
	}

	p.mu.Lock()
	p.latest = latest
	p.mu.Unlock()
	p.log.Info("Newer release available", "current", current, "latest", latest.Tag)

	if p.autoDownload && !p.updater.IsCachedLocally(latest.Tag) {
		path, err := p.updater.DownloadToCache(ctx, latest.Tag)
		if err != nil {
			return latest, true, err
		}
		p.log.Info("Prefetched release", "tag", latest.Tag, "path", path)
	}

	return latest, true, nil
}
