package update

import (
	"context"

	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/pkg/models"
)

// Service is the operation surface offered to the API layers
type Service interface {
	CurrentVersion() string
	ListReleases(ctx context.Context) ([]models.ReleaseInfo, error)
	GetLatestRelease(ctx context.Context) (*models.ReleaseInfo, error)
	GetRelease(ctx context.Context, tag string) (*models.ReleaseInfo, error)
	IsCachedLocally(tag string) bool
	CachedTags() ([]string, error)
	DownloadToCache(ctx context.Context, tag string) (string, error)
	DownloadLatest(ctx context.Context) <-chan DownloadResult
	SwitchTo(ctx context.Context, tag string) (*Result, error)
	SwitchToLatest(ctx context.Context) (*Result, error)
	DownloadAndSwitch(ctx context.Context, tag string) (*Result, error)
	DownloadAndSwitchLatest(ctx context.Context) (*Result, error)
	Status() *models.UpdateStatus
}

var _ Service = (*Manager)(nil)

// Switch dispatches a switch request to the matching operation
func Switch(ctx context.Context, svc Service, req models.SwitchRequest) (*Result, error) {
	latest := req.Version == "" || req.Version == "latest"
	switch {
	case latest && req.Download:
		return svc.DownloadAndSwitchLatest(ctx)
	case latest:
		return svc.SwitchToLatest(ctx)
	case req.Download:
		return svc.DownloadAndSwitch(ctx, req.Version)
	default:
		return svc.SwitchTo(ctx, req.Version)
	}
}
