// Package updatetest provides a scriptable update.Service for API tests.
package updatetest

import (
	"context"
	"sync"

	uerrors "github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/errors"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/update"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/version"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/pkg/models"
)

// Fake serves a fixed set of releases. Err, when set, is returned by every
// registry and switch operation.
type Fake struct {
	Current  string
	Releases []models.ReleaseInfo
	Cached   map[string]bool
	Err      error

	mu    sync.Mutex
	calls []string
	state *models.UpdateStatus
}

var _ update.Service = (*Fake)(nil)

// Calls returns the names of the operations invoked so far
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *Fake) CurrentVersion() string { return version.Normalize(f.Current) }

func (f *Fake) ListReleases(ctx context.Context) ([]models.ReleaseInfo, error) {
	f.record("ListReleases")
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Releases, nil
}

func (f *Fake) GetLatestRelease(ctx context.Context) (*models.ReleaseInfo, error) {
	f.record("GetLatestRelease")
	if f.Err != nil {
		return nil, f.Err
	}
	if len(f.Releases) == 0 {
		return nil, uerrors.ErrReleaseNotFound
	}
	r := f.Releases[0]
	return &r, nil
}

func (f *Fake) GetRelease(ctx context.Context, tag string) (*models.ReleaseInfo, error) {
	f.record("GetRelease")
	if f.Err != nil {
		return nil, f.Err
	}
	tag = version.Normalize(tag)
	for _, r := range f.Releases {
		if r.Tag == tag {
			return &r, nil
		}
	}
	return nil, uerrors.ErrReleaseNotFound
}

func (f *Fake) IsCachedLocally(tag string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Cached[version.Normalize(tag)]
}

func (f *Fake) CachedTags() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var tags []string
	for tag, ok := range f.Cached {
		if ok {
			tags = append(tags, tag)
		}
	}
	return tags, nil
}

func (f *Fake) DownloadToCache(ctx context.Context, tag string) (string, error) {
	f.record("DownloadToCache")
	rel, err := f.GetRelease(ctx, tag)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Cached == nil {
		f.Cached = make(map[string]bool)
	}
	f.Cached[rel.Tag] = true
	return ".jar/" + rel.Tag + "/" + rel.ArtifactName, nil
}

func (f *Fake) DownloadLatest(ctx context.Context) <-chan update.DownloadResult {
	out := make(chan update.DownloadResult, 1)
	rel, err := f.GetLatestRelease(ctx)
	if err != nil {
		out <- update.DownloadResult{Err: err}
	} else {
		path, err := f.DownloadToCache(ctx, rel.Tag)
		out <- update.DownloadResult{Tag: rel.Tag, Path: path, Err: err}
	}
	close(out)
	return out
}

func (f *Fake) SwitchTo(ctx context.Context, tag string) (*update.Result, error) {
	f.record("SwitchTo")
	if f.Err != nil {
		return nil, f.Err
	}
	tag = version.Normalize(tag)
	if tag == "" {
		return nil, uerrors.ErrInvalidTag
	}
	if version.Equal(tag, f.Current) {
		return &update.Result{OperationID: "op-noop", Outcome: update.OutcomeNoOp, Target: tag}, nil
	}
	if _, err := f.GetRelease(ctx, tag); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.state = &models.UpdateStatus{OperationID: "op-1", Target: tag, Stage: string(models.StageTerminated), Completed: true}
	f.mu.Unlock()
	return &update.Result{
		OperationID: "op-1",
		Outcome:     update.OutcomeSwitched,
		Target:      tag,
		Command:     []string{"/srv/" + tag + "_app"},
	}, nil
}

func (f *Fake) SwitchToLatest(ctx context.Context) (*update.Result, error) {
	f.record("SwitchToLatest")
	rel, err := f.GetLatestRelease(ctx)
	if err != nil {
		return nil, err
	}
	return f.SwitchTo(ctx, rel.Tag)
}

func (f *Fake) DownloadAndSwitch(ctx context.Context, tag string) (*update.Result, error) {
	f.record("DownloadAndSwitch")
	if _, err := f.DownloadToCache(ctx, tag); err != nil {
		return nil, err
	}
	return f.SwitchTo(ctx, tag)
}

func (f *Fake) DownloadAndSwitchLatest(ctx context.Context) (*update.Result, error) {
	f.record("DownloadAndSwitchLatest")
	res := <-f.DownloadLatest(ctx)
	if res.Err != nil {
		return nil, res.Err
	}
	return f.SwitchTo(ctx, res.Tag)
}

func (f *Fake) Status() *models.UpdateStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}
