// Package repository is the on-disk cache of release artifacts, one directory
// per version tag: <root>/<tag>/<artifact>.
package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	uerrors "github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/errors"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/version"
)

// Repository owns the cache directory tree
type Repository struct {
	root   string
	suffix string
}

// New creates a repository rooted at root. Artifact files are recognised by
// suffix. The root is created lazily by Store.
func New(root, suffix string) *Repository {
	return &Repository{
		root:   root,
		suffix: suffix,
	}
}

// Root returns the cache root directory
func (r *Repository) Root() string {
	return r.root
}

// IsAvailable reports whether a valid artifact is cached for tag.
// An empty tag matches the first cached directory.
func (r *Repository) IsAvailable(tag string) bool {
	_, ok := r.PathFor(tag)
	return ok
}

// PathFor returns the first artifact file inside the tag's directory
func (r *Repository) PathFor(tag string) (string, bool) {
	dir, ok := r.findDir(version.Normalize(tag))
	if !ok {
		return "", false
	}
	return r.findArtifact(dir)
}

// Store ensures the tag directory exists and returns the path an artifact
// named artifactName should be written to
func (r *Repository) Store(tag, artifactName string) (string, error) {
	tag = version.Normalize(tag)
	if tag == "" || strings.ContainsAny(tag, `/\`) {
		return "", fmt.Errorf("%w: %q", uerrors.ErrInvalidTag, tag)
	}
	if artifactName == "" || filepath.Base(artifactName) != artifactName {
		return "", fmt.Errorf("%w: invalid artifact name %q", uerrors.ErrRepositoryWrite, artifactName)
	}

	dir := filepath.Join(r.root, tag)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: failed to create %s: %v", uerrors.ErrRepositoryWrite, dir, err)
	}

	return filepath.Join(dir, artifactName), nil
}

// Tags lists the tags that hold a valid artifact
func (r *Repository) Tags() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read repository: %w", err)
	}

	var tags []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := r.findArtifact(filepath.Join(r.root, entry.Name())); ok {
			tags = append(tags, entry.Name())
		}
	}
	return tags, nil
}

// findDir returns the directory for tag, or the first directory for an empty tag
func (r *Repository) findDir(tag string) (string, bool) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return "", false
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if tag == "" || entry.Name() == tag {
			return filepath.Join(r.root, entry.Name()), true
		}
	}
	return "", false
}

// findArtifact returns the first regular file in dir ending with the suffix
func (r *Repository) findArtifact(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if strings.HasSuffix(entry.Name(), r.suffix) {
			return filepath.Join(dir, entry.Name()), true
		}
	}
	return "", false
}
