package poller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	uerrors "github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/errors"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/update/updatetest"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/pkg/models"
)

func newFake(current string) *updatetest.Fake {
	return &updatetest.Fake{
		Current: current,
		Releases: []models.ReleaseInfo{
			{Tag: "v2.0.0", ArtifactName: "app", DownloadURL: "https://example/v2.0.0/app"},
		},
	}
}

func TestCheck_NewerRelease(t *testing.T) {
	fake := newFake("1.9.0")
	p := NewReleasePoller(fake, time.Hour, false, nil)

	latest, newer, err := p.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, newer)
	assert.Equal(t, "v2.0.0", latest.Tag)
	require.NotNil(t, p.Available())
	assert.Equal(t, "v2.0.0", p.Available().Tag)
	assert.NotContains(t, fake.Calls(), "DownloadToCache")
}

func TestCheck_UpToDate(t *testing.T) {
	fake := newFake("2.0.0")
	p := NewReleasePoller(fake, time.Hour, true, nil)

	_, newer, err := p.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, newer)
	assert.Nil(t, p.Available())
	assert.NotContains(t, fake.Calls(), "DownloadToCache")
}

func TestCheck_AutoDownload(t *testing.T) {
	fake := newFake("1.9.0")
	p := NewReleasePoller(fake, time.Hour, true, nil)

	_, _, err := p.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, fake.IsCachedLocally("v2.0.0"))

	// Already cached: no second download
	_, _, err = p.Check(context.Background())
	require.NoError(t, err)
	count := 0
	for _, c := range fake.Calls() {
		if c == "DownloadToCache" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestCheck_RegistryError(t *testing.T) {
	fake := newFake("1.9.0")
	fake.Err = uerrors.ErrRegistryUnavailable
	p := NewReleasePoller(fake, time.Hour, false, nil)

	_, _, err := p.Check(context.Background())
	assert.ErrorIs(t, err, uerrors.ErrRegistryUnavailable)
}

func TestStartStop(t *testing.T) {
	fake := newFake("1.9.0")
	p := NewReleasePoller(fake, time.Hour, false, nil)

	p.Start()
	assert.Eventually(t, func() bool { return p.Available() != nil }, 2*time.Second, 10*time.Millisecond)
	p.Stop()
}
