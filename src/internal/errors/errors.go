// Package errors defines the failure taxonomy shared by the registry client,
// the artifact cache, the downloader and the switch orchestrator.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for known conditions.
var (
	// ErrRegistryUnavailable indicates the release registry could not be reached
	// or answered with an unexpected status.
	ErrRegistryUnavailable = errors.New("release registry unavailable")

	// ErrRateLimited indicates the registry throttled the request.
	ErrRateLimited = errors.New("release registry rate limit exceeded")

	// ErrReleaseNotFound indicates the registry has no release for a tag.
	ErrReleaseNotFound = errors.New("release not found")

	// ErrDownloadFailed indicates an artifact transfer did not complete.
	ErrDownloadFailed = errors.New("artifact download failed")

	// ErrChecksumMismatch indicates a downloaded artifact did not match its
	// published SHA-256 digest.
	ErrChecksumMismatch = errors.New("artifact checksum mismatch")

	// ErrRepositoryWrite indicates the local artifact cache could not be written.
	ErrRepositoryWrite = errors.New("artifact repository write error")

	// ErrContextUnavailable indicates the running process could not report
	// its own launch parameters.
	ErrContextUnavailable = errors.New("launch context unavailable")

	// ErrBackupFailed indicates the running artifact could not be backed up.
	ErrBackupFailed = errors.New("artifact backup failed")

	// ErrSwitchInProgress indicates another switch already holds the guard.
	ErrSwitchInProgress = errors.New("version switch already in progress")

	// ErrInvalidTag indicates an empty or malformed version tag.
	ErrInvalidTag = errors.New("invalid version tag")
)

// DownloadError describes a failed artifact transfer.
type DownloadError struct {
	URL string

	// StatusCode is the HTTP status, or 0 when the failure happened
	// before or after the response status was known.
	StatusCode int

	Err error
}

// Error implements the error interface.
func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s failed with status %d", e.URL, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("download %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("download %s failed", e.URL)
}

// Unwrap returns the underlying cause.
func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Is reports ErrDownloadFailed so callers can match the category.
func (e *DownloadError) Is(target error) bool {
	return target == ErrDownloadFailed
}

// RateLimitError carries the registry's throttling details.
type RateLimitError struct {
	URL string

	// ResetAt is when the registry said the limit resets; zero if unknown.
	ResetAt time.Time
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.ResetAt.IsZero() {
		return fmt.Sprintf("rate limited by release registry (%s), try again later", e.URL)
	}
	return fmt.Sprintf("rate limited by release registry (%s), try again after %s",
		e.URL, e.ResetAt.Format(time.RFC3339))
}

// Is reports ErrRateLimited so callers can match the category.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
