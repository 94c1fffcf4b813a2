package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/version"
)

const maxPayload = 5 << 20

// Updater is the part of the update service the webhook needs
type Updater interface {
	CurrentVersion() string
	IsCachedLocally(tag string) bool
	DownloadToCache(ctx context.Context, tag string) (string, error)
}

// Handler handles GitHub release webhooks
type Handler struct {
	updater      Updater
	repository   string
	secret       string // Optional webhook secret for validation
	autoDownload bool
	log          *log.Logger

	wg sync.WaitGroup
}

// NewHandler creates a new webhook handler for releases of repository
// (owner/name). With autoDownload a newer published release is fetched into
// the local cache in the background.
func NewHandler(updater Updater, repository, secret string, autoDownload bool, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		updater:      updater,
		repository:   repository,
		secret:       secret,
		autoDownload: autoDownload,
		log:          logger.WithPrefix("webhook"),
	}
}

// GitHubWebhookPayload represents a GitHub release event payload
type GitHubWebhookPayload struct {
	Action     string     `json:"action"`
	Release    Release    `json:"release"`
	Repository Repository `json:"repository"`
}

type Release struct {
	TagName    string `json:"tag_name"`
	Name       string `json:"name"`
	Prerelease bool   `json:"prerelease"`
	Draft      bool   `json:"draft"`
}

type Repository struct {
	FullName string `json:"full_name"`
	Name     string `json:"name"`
}

// Wait blocks until background prefetches have finished
func (h *Handler) Wait() {
	h.wg.Wait()
}

// HandleGitHubWebhook handles GitHub webhook requests
func (h *Handler) HandleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Read request body
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayload))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()

	// Validate webhook signature if secret is set
	if h.secret != "" && !ValidSignature(h.secret, body, r.Header.Get("X-Hub-Signature-256")) {
		h.log.Warn("Rejected webhook with bad signature", "remote", r.RemoteAddr)
		h.writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	switch event := r.Header.Get("X-GitHub-Event"); event {
	case "ping":
		h.writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
		return
	case "", "release":
	default:
		h.writeJSON(w, http.StatusOK, map[string]string{
			"message": "ignored",
			"event":   event,
		})
		return
	}

	// Parse webhook payload
	var payload GitHubWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	// Only process release events
	if payload.Action != "published" && payload.Action != "released" {
		h.log.Debug("Ignoring webhook action", "action", payload.Action)
		h.writeJSON(w, http.StatusOK, map[string]string{
			"message": "ignored",
			"action":  payload.Action,
		})
		return
	}

	if h.repository != "" && !strings.EqualFold(payload.Repository.FullName, h.repository) {
		h.log.Warn("Ignoring release of another repository", "repository", payload.Repository.FullName)
		h.writeJSON(w, http.StatusOK, map[string]string{
			"message":    "ignored repository",
			"repository": payload.Repository.FullName,
		})
		return
	}

	// Ignore drafts and prereleases
	if payload.Release.Draft || payload.Release.Prerelease {
		h.log.Info("Ignoring draft/prerelease", "tag", payload.Release.TagName)
		h.writeJSON(w, http.StatusOK, map[string]string{
			"message": "ignored draft/prerelease",
		})
		return
	}

	tag := version.Normalize(payload.Release.TagName)
	current := h.updater.CurrentVersion()
	newer := version.Newer(tag, current)
	h.log.Info("Release published", "repository", payload.Repository.FullName, "tag", tag, "current", current, "newer", newer)

	prefetch := newer && h.autoDownload && !h.updater.IsCachedLocally(tag)
	if prefetch {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			path, err := h.updater.DownloadToCache(context.WithoutCancel(r.Context()), tag)
			if err != nil {
				h.log.Error("Prefetch failed", "tag", tag, "err", err)
				return
			}
			h.log.Info("Prefetched release", "tag", tag, "path", path)
		}()
	}

	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message":    "webhook received",
		"repository": payload.Repository.FullName,
		"version":    tag,
		"newer":      newer,
		"prefetch":   prefetch,
	})
}

// ValidSignature checks a "sha256=<hex>" HMAC of body
func ValidSignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": message,
	})
}
