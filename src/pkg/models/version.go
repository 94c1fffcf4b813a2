package models

import "time"

// ReleaseInfo describes one published release of the application
type ReleaseInfo struct {
	Tag          string    `json:"tag"`
	Name         string    `json:"name,omitempty"`
	PublishedAt  time.Time `json:"published_at"`
	ReleaseURL   string    `json:"release_url,omitempty"`
	DownloadURL  string    `json:"download_url"`
	ArtifactName string    `json:"artifact_name"`
	Size         int64     `json:"size"`
	ChecksumURL  string    `json:"checksum_url,omitempty"`
	Prerelease   bool      `json:"prerelease"`

	// CachedLocally is derived from the local artifact repository,
	// it is never part of the registry response
	CachedLocally bool `json:"cached_locally"`
}

// SwitchRequest represents a request to switch the running version
type SwitchRequest struct {
	Version  string `json:"version,omitempty"` // If empty, switch to latest
	Download bool   `json:"download"`          // Download into the cache before switching
}

// UpdateStatus represents the status of the most recent update operation
type UpdateStatus struct {
	OperationID string    `json:"operation_id"`
	Target      string    `json:"target,omitempty"`
	Stage       string    `json:"stage"`
	Message     string    `json:"message"`
	Error       string    `json:"error,omitempty"`
	Completed   bool      `json:"completed"`
	UpdatedAt   time.Time `json:"updated_at"`
}
