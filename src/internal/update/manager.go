// Package update implements release discovery, artifact caching and the live
// version switch of the running process.
package update

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/download"
	uerrors "github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/errors"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/launch"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/metrics"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/version"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/pkg/models"
)

// Registry resolves releases
type Registry interface {
	ListReleases(ctx context.Context) ([]models.ReleaseInfo, error)
	GetLatestRelease(ctx context.Context) (*models.ReleaseInfo, error)
	GetRelease(ctx context.Context, tag string) (*models.ReleaseInfo, error)
}

// Cache is the local artifact repository
type Cache interface {
	IsAvailable(tag string) bool
	PathFor(tag string) (string, bool)
	Store(tag, artifactName string) (string, error)
	Tags() ([]string, error)
}

// Downloader fetches an artifact to a local path
type Downloader interface {
	Download(ctx context.Context, url, destPath string, opts download.Options) (string, error)
}

// Inspector snapshots how the current process was launched
type Inspector interface {
	CurrentContext(ctx context.Context) (launch.Context, error)
}

// Remover deletes a file after the current process has gone
type Remover interface {
	Remove(path string, delay time.Duration) error
}

// Spawner starts the replacement process
type Spawner interface {
	Spawn(command []string, workDir string) (int, error)
}

// Terminator runs exit hooks in registration order and exits
type Terminator interface {
	Defer(name string, fn func() error)
	Terminate(code int)
}

// Deps are the collaborators of a Manager
type Deps struct {
	Registry   Registry
	Cache      Cache
	Downloader Downloader
	Inspector  Inspector
	Remover    Remover
	Spawner    Spawner
	Terminator Terminator
	Metrics    *metrics.Collector
	Logger     *log.Logger
}

// Config tunes the switch
type Config struct {
	// CurrentVersion is the tag of the running build
	CurrentVersion string

	// BackupName is the file name of the backup kept next to the running artifact
	BackupName string

	// RemovalDelay is how long after exit the replaced artifact is deleted
	RemovalDelay time.Duration

	// VerifyChecksum checks downloads against a published .sha256 asset
	VerifyChecksum bool
}

// Outcome of a switch request
type Outcome string

const (
	// OutcomeNoOp means the target is already running; nothing was done
	OutcomeNoOp Outcome = "noop"

	// OutcomeSwitched means exit hooks are registered and the process is terminating
	OutcomeSwitched Outcome = "switched"
)

// Result describes a completed switch request
type Result struct {
	OperationID  string   `json:"operation_id"`
	Outcome      Outcome  `json:"outcome"`
	Target       string   `json:"target"`
	ArtifactPath string   `json:"artifact_path,omitempty"`
	BackupPath   string   `json:"backup_path,omitempty"`
	Command      []string `json:"command,omitempty"`
}

// DownloadResult is delivered by DownloadLatest
type DownloadResult struct {
	Tag  string
	Path string
	Err  error
}

// Manager handles release lookups, downloads and version switches
type Manager struct {
	deps Deps
	cfg  Config
	log  *log.Logger

	// At most one switch in flight; never released after a successful switch
	switchSem *semaphore.Weighted
	downloads singleflight.Group

	mu     sync.RWMutex
	status *models.UpdateStatus
}

// NewManager creates a new update manager
func NewManager(deps Deps, cfg Config) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	deps.Metrics.SetVersion(version.Normalize(cfg.CurrentVersion))

	return &Manager{
		deps:      deps,
		cfg:       cfg,
		log:       logger.WithPrefix("update"),
		switchSem: semaphore.NewWeighted(1),
	}
}

// CurrentVersion returns the tag of the running build
func (m *Manager) CurrentVersion() string {
	return version.Normalize(m.cfg.CurrentVersion)
}

// ListReleases lists all releases, newest first, with local cache state
func (m *Manager) ListReleases(ctx context.Context) ([]models.ReleaseInfo, error) {
	return m.deps.Registry.ListReleases(ctx)
}

// GetLatestRelease returns the latest release
func (m *Manager) GetLatestRelease(ctx context.Context) (*models.ReleaseInfo, error) {
	return m.deps.Registry.GetLatestRelease(ctx)
}

// GetRelease returns the release for tag
func (m *Manager) GetRelease(ctx context.Context, tag string) (*models.ReleaseInfo, error) {
	return m.deps.Registry.GetRelease(ctx, tag)
}

// IsCachedLocally reports whether the artifact for tag is in the local cache.
// An empty tag reports whether anything is cached.
func (m *Manager) IsCachedLocally(tag string) bool {
	return m.deps.Cache.IsAvailable(version.Normalize(tag))
}

// CachedTags lists the tags with a cached artifact
func (m *Manager) CachedTags() ([]string, error) {
	return m.deps.Cache.Tags()
}

// Status returns the status of the most recent switch, or nil
func (m *Manager) Status() *models.UpdateStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == nil {
		return nil
	}
	s := *m.status
	return &s
}

// DownloadToCache makes sure the artifact for tag is in the local cache and
// returns its path
func (m *Manager) DownloadToCache(ctx context.Context, tag string) (string, error) {
	rel, err := m.deps.Registry.GetRelease(ctx, tag)
	if err != nil {
		return "", err
	}
	return m.acquire(ctx, rel)
}

// DownloadLatest caches the latest release in the background. The channel
// receives exactly one result.
func (m *Manager) DownloadLatest(ctx context.Context) <-chan DownloadResult {
	out := make(chan DownloadResult, 1)
	go func() {
		defer close(out)
		rel, err := m.deps.Registry.GetLatestRelease(ctx)
		if err != nil {
			out <- DownloadResult{Err: err}
			return
		}
		path, err := m.acquire(ctx, rel)
		out <- DownloadResult{Tag: rel.Tag, Path: path, Err: err}
	}()
	return out
}

// SwitchTo replaces the running process with the build for tag
func (m *Manager) SwitchTo(ctx context.Context, tag string) (*Result, error) {
	return m.switchTo(ctx, tag, false)
}

// SwitchToLatest replaces the running process with the latest release
func (m *Manager) SwitchToLatest(ctx context.Context) (*Result, error) {
	return m.switchTo(ctx, "", true)
}

// DownloadAndSwitch caches tag first and then switches to it
func (m *Manager) DownloadAndSwitch(ctx context.Context, tag string) (*Result, error) {
	if _, err := m.DownloadToCache(ctx, tag); err != nil {
		return nil, err
	}
	return m.SwitchTo(ctx, tag)
}

// DownloadAndSwitchLatest caches the latest release and switches to it
func (m *Manager) DownloadAndSwitchLatest(ctx context.Context) (*Result, error) {
	res := <-m.DownloadLatest(ctx)
	if res.Err != nil {
		return nil, res.Err
	}
	m.log.Info("Latest release downloaded", "tag", res.Tag)
	return m.SwitchTo(ctx, res.Tag)
}

// acquire returns the cached artifact for rel, downloading it if needed.
// Concurrent calls for the same tag share one download.
func (m *Manager) acquire(ctx context.Context, rel *models.ReleaseInfo) (string, error) {
	if path, ok := m.deps.Cache.PathFor(rel.Tag); ok {
		m.log.Debug("Artifact already cached", "tag", rel.Tag, "path", path)
		return path, nil
	}
	if rel.DownloadURL == "" || rel.ArtifactName == "" {
		return "", fmt.Errorf("%w: release %s has no artifact for this platform", uerrors.ErrReleaseNotFound, rel.Tag)
	}

	v, err, shared := m.downloads.Do(rel.Tag, func() (interface{}, error) {
		// Another caller may have finished while we waited
		if path, ok := m.deps.Cache.PathFor(rel.Tag); ok {
			return path, nil
		}

		dest, err := m.deps.Cache.Store(rel.Tag, rel.ArtifactName)
		if err != nil {
			return "", err
		}

		opts := download.Options{}
		if m.cfg.VerifyChecksum {
			if rel.ChecksumURL != "" {
				opts.ChecksumURL = rel.ChecksumURL
			} else {
				m.log.Warn("No checksum published, artifact not verified", "tag", rel.Tag)
			}
		}
		var lastLogged int64
		opts.Progress = func(downloaded, total int64) {
			if total > 0 && downloaded-lastLogged >= total/10 {
				lastLogged = downloaded
				m.log.Debug("Downloading", "tag", rel.Tag,
					"progress", fmt.Sprintf("%.1f MB / %.1f MB", float64(downloaded)/1024/1024, float64(total)/1024/1024))
			}
		}

		path, err := m.deps.Downloader.Download(ctx, rel.DownloadURL, dest, opts)
		if err != nil {
			return "", err
		}

		if tags, err := m.deps.Cache.Tags(); err == nil {
			m.deps.Metrics.SetCachedArtifacts(len(tags))
		}
		return path, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		m.log.Debug("Joined in-flight download", "tag", rel.Tag)
	}
	return v.(string), nil
}

func (m *Manager) switchTo(ctx context.Context, tag string, latest bool) (*Result, error) {
	// Asking for the running version never waits on the guard
	if target := version.Normalize(tag); !latest && target != "" && version.Equal(target, m.CurrentVersion()) {
		m.log.Info("Already running target version, nothing to do", "version", target)
		m.deps.Metrics.ObserveSwitch(string(OutcomeNoOp))
		return &Result{OperationID: uuid.New().String(), Outcome: OutcomeNoOp, Target: target}, nil
	}

	if !m.switchSem.TryAcquire(1) {
		m.deps.Metrics.ObserveSwitch("rejected")
		return nil, uerrors.ErrSwitchInProgress
	}

	op := &models.SwitchOperation{
		ID:        uuid.New().String(),
		TargetTag: version.Normalize(tag),
		Stage:     models.StageIdle,
		StartedAt: time.Now(),
	}

	res, err := m.runSwitch(ctx, op, latest)
	if err != nil {
		m.switchSem.Release(1)
		m.fail(op, err)
		return nil, err
	}
	if res.Outcome == OutcomeNoOp {
		m.switchSem.Release(1)
		return res, nil
	}

	// The caller gets its answer while the host shuts down
	go m.deps.Terminator.Terminate(0)
	return res, nil
}

func (m *Manager) runSwitch(ctx context.Context, op *models.SwitchOperation, latest bool) (*Result, error) {
	current := m.CurrentVersion()

	// Stage 1: Resolve target
	m.setStage(op, models.StageResolvingTarget, "Resolving target version")
	if latest {
		rel, err := m.deps.Registry.GetLatestRelease(ctx)
		if err != nil {
			return nil, err
		}
		op.Release = rel
		op.TargetTag = rel.Tag
	}
	if op.TargetTag == "" {
		return nil, uerrors.ErrInvalidTag
	}

	if version.Equal(op.TargetTag, current) {
		m.log.Info("Already running target version, nothing to do", "op", op.ID, "version", current)
		m.deps.Metrics.ObserveSwitch(string(OutcomeNoOp))
		m.setStatus(op, "Already on target version", "", true)
		return &Result{OperationID: op.ID, Outcome: OutcomeNoOp, Target: op.TargetTag}, nil
	}
	m.log.Info("Switching version", "op", op.ID, "from", current, "to", op.TargetTag)

	// Stage 2: Acquire artifact
	m.setStage(op, models.StageAcquiring, fmt.Sprintf("Acquiring %s", op.TargetTag))
	cached, ok := m.deps.Cache.PathFor(op.TargetTag)
	if !ok {
		if op.Release == nil {
			rel, err := m.deps.Registry.GetRelease(ctx, op.TargetTag)
			if err != nil {
				return nil, err
			}
			op.Release = rel
		}
		path, err := m.acquire(ctx, op.Release)
		if err != nil {
			return nil, err
		}
		cached = path
	}

	lc, err := m.deps.Inspector.CurrentContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := lc.Validate(); err != nil {
		return nil, err
	}
	running := lc.ArtifactPath()
	runDir := filepath.Dir(running)

	op.ArtifactPath = promotedPath(runDir, running, op.TargetTag, filepath.Base(cached))
	op.BackupPath = filepath.Join(runDir, m.cfg.BackupName)

	op.LaunchCommand, err = launch.BuildRelaunchCommand(lc, running, op.ArtifactPath)
	if err != nil {
		return nil, err
	}

	// Last point at which the request can be abandoned
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 3: Back up the running artifact
	m.setStage(op, models.StageBackingUp, "Backing up running artifact")
	if err := copyFile(cached, op.ArtifactPath); err != nil {
		return nil, fmt.Errorf("%w: failed to place %s: %v", uerrors.ErrRepositoryWrite, op.ArtifactPath, err)
	}
	if err := copyFile(running, op.BackupPath); err != nil {
		os.Remove(op.ArtifactPath)
		return nil, fmt.Errorf("%w: %s -> %s: %v", uerrors.ErrBackupFailed, running, op.BackupPath, err)
	}
	m.log.Info("Backup finished", "op", op.ID, "backup", op.BackupPath)

	delay := m.cfg.RemovalDelay
	m.deps.Terminator.Defer("remove "+running, func() error {
		return m.deps.Remover.Remove(running, delay)
	})

	// Stage 4: Relaunch on exit
	m.setStage(op, models.StageRelaunching, "Registering relaunch")
	command := op.LaunchCommand
	workDir := lc.WorkDir
	m.deps.Terminator.Defer("spawn "+op.TargetTag, func() error {
		pid, err := m.deps.Spawner.Spawn(command, workDir)
		if err != nil {
			return err
		}
		m.log.Info("New version started", "pid", pid, "cmd", strings.Join(command, " "))
		return nil
	})
	m.log.Info("Relaunch command prepared", "op", op.ID, "cmd", strings.Join(command, " "))

	// Stage 5: Terminate
	m.setStage(op, models.StageTerminated, fmt.Sprintf("Switching to %s", op.TargetTag))
	m.setStatus(op, fmt.Sprintf("Switching to %s, process is exiting", op.TargetTag), "", true)
	m.deps.Metrics.ObserveSwitch(string(OutcomeSwitched))

	return &Result{
		OperationID:  op.ID,
		Outcome:      OutcomeSwitched,
		Target:       op.TargetTag,
		ArtifactPath: op.ArtifactPath,
		BackupPath:   op.BackupPath,
		Command:      command,
	}, nil
}

// promotedPath is where the target artifact is placed next to the running
// one. It never equals the running artifact.
func promotedPath(runDir, running, tag, name string) string {
	p := filepath.Join(runDir, name)
	if p == running {
		p = filepath.Join(runDir, tag+"_"+name)
	}
	return p
}

func (m *Manager) setStage(op *models.SwitchOperation, stage models.SwitchStage, message string) {
	op.Stage = stage
	m.log.Debug("Switch stage", "op", op.ID, "stage", stage)
	m.setStatus(op, message, "", false)
}

func (m *Manager) fail(op *models.SwitchOperation, err error) {
	failedAt := op.Stage
	op.Stage = models.StageFailed
	m.deps.Metrics.ObserveSwitch("failed")
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		m.log.Warn("Switch abandoned", "op", op.ID, "stage", failedAt, "err", err)
	} else {
		m.log.Error("Switch failed", "op", op.ID, "stage", failedAt, "err", err)
	}
	m.setStatus(op, fmt.Sprintf("Failed while %s", strings.ReplaceAll(string(failedAt), "_", " ")), err.Error(), true)
}

func (m *Manager) setStatus(op *models.SwitchOperation, message, errMsg string, completed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = &models.UpdateStatus{
		OperationID: op.ID,
		Target:      op.TargetTag,
		Stage:       string(op.Stage),
		Message:     message,
		Error:       errMsg,
		Completed:   completed,
		UpdatedAt:   time.Now(),
	}
}
