package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDownloadError_MatchesCategory(t *testing.T) {
	err := fmt.Errorf("acquire: %w", &DownloadError{URL: "https://example/app", StatusCode: 404})

	assert.ErrorIs(t, err, ErrDownloadFailed)
	assert.NotErrorIs(t, err, ErrRegistryUnavailable)

	var de *DownloadError
	assert.True(t, errors.As(err, &de))
	assert.Equal(t, 404, de.StatusCode)
	assert.Contains(t, err.Error(), "status 404")
}

func TestDownloadError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := &DownloadError{URL: "https://example/app", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRateLimitError_DistinctFromUnavailable(t *testing.T) {
	reset := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := fmt.Errorf("list releases: %w", &RateLimitError{URL: "https://api.github.com", ResetAt: reset})

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.NotErrorIs(t, err, ErrRegistryUnavailable)
	assert.Contains(t, err.Error(), "2026-01-02T03:04:05Z")
}
