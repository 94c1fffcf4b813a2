// Package version holds the running build's version and the tag algebra used
// by every component that compares or stores release tags.
package version

import (
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the running build's release tag, set at link time:
//
//	go build -ldflags "-X github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/version.Version=v1.2.0"
var Version = "dev"

// Current returns the normalized running version.
func Current() string {
	return Normalize(Version)
}

// Normalize trims whitespace and prepends "v" when absent.
// An empty tag stays empty.
func Normalize(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	if !strings.HasPrefix(tag, "v") {
		return "v" + tag
	}
	return tag
}

// Equal reports whether two tags name the same release.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Newer reports whether candidate is a strictly newer semantic version than
// current. Tags that are not valid semver never count as newer; a "dev"
// build treats any valid candidate as newer.
func Newer(candidate, current string) bool {
	candidate = Normalize(candidate)
	if !semver.IsValid(candidate) {
		return false
	}
	current = Normalize(current)
	if !semver.IsValid(current) {
		return true
	}
	return semver.Compare(candidate, current) > 0
}
