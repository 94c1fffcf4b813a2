package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	uerrors "github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/errors"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/update"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/pkg/models"
)

// AvailabilityReporter knows about a release newer than the running one
type AvailabilityReporter interface {
	Available() *models.ReleaseInfo
}

// Server represents the REST API server
type Server struct {
	updater   update.Service
	available AvailabilityReporter
	mux       *http.ServeMux
	log       *log.Logger
}

// NewServer creates a new API server
func NewServer(updater update.Service, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		updater: updater,
		mux:     http.NewServeMux(),
		log:     logger.WithPrefix("api"),
	}

	s.registerRoutes()
	return s
}

// SetAvailabilityReporter makes /api/v1/version report newer releases
func (s *Server) SetAvailabilityReporter(r AvailabilityReporter) {
	s.available = r
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// registerRoutes registers all API routes
func (s *Server) registerRoutes() {
	// Releases
	s.mux.HandleFunc("GET /api/v1/version", s.handleVersion)
	s.mux.HandleFunc("GET /api/v1/releases", s.handleListReleases)
	s.mux.HandleFunc("GET /api/v1/releases/latest", s.handleLatestRelease)
	s.mux.HandleFunc("GET /api/v1/releases/{tag}", s.handleGetRelease)

	// Local cache
	s.mux.HandleFunc("GET /api/v1/cache", s.handleListCache)
	s.mux.HandleFunc("GET /api/v1/cache/{tag}", s.handleCacheStatus)
	s.mux.HandleFunc("POST /api/v1/cache/{tag}", s.handleDownload)

	// Switch
	s.mux.HandleFunc("POST /api/v1/switch", s.handleSwitch)
	s.mux.HandleFunc("GET /api/v1/status", s.handleStatus)

	// Health check
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// handleVersion handles GET /api/v1/version
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"version":          s.updater.CurrentVersion(),
		"update_available": false,
	}
	if s.available != nil {
		if rel := s.available.Available(); rel != nil {
			response["update_available"] = true
			response["available"] = rel
		}
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleListReleases handles GET /api/v1/releases
func (s *Server) handleListReleases(w http.ResponseWriter, r *http.Request) {
	releases, err := s.updater.ListReleases(r.Context())
	if err != nil {
		s.writeFailure(w, "list releases", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"current":  s.updater.CurrentVersion(),
		"releases": releases,
		"count":    len(releases),
	})
}

// handleLatestRelease handles GET /api/v1/releases/latest
func (s *Server) handleLatestRelease(w http.ResponseWriter, r *http.Request) {
	release, err := s.updater.GetLatestRelease(r.Context())
	if err != nil {
		s.writeFailure(w, "get latest release", err)
		return
	}
	s.writeJSON(w, http.StatusOK, release)
}

// handleGetRelease handles GET /api/v1/releases/{tag}
func (s *Server) handleGetRelease(w http.ResponseWriter, r *http.Request) {
	release, err := s.updater.GetRelease(r.Context(), r.PathValue("tag"))
	if err != nil {
		s.writeFailure(w, "get release", err)
		return
	}
	s.writeJSON(w, http.StatusOK, release)
}

// handleListCache handles GET /api/v1/cache
func (s *Server) handleListCache(w http.ResponseWriter, r *http.Request) {
	tags, err := s.updater.CachedTags()
	if err != nil {
		s.writeFailure(w, "list cache", err)
		return
	}
	if tags == nil {
		tags = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"tags":  tags,
		"count": len(tags),
	})
}

// handleCacheStatus handles GET /api/v1/cache/{tag}
func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"tag":    tag,
		"cached": s.updater.IsCachedLocally(tag),
	})
}

// handleDownload handles POST /api/v1/cache/{tag}. "latest" downloads in the
// background and answers immediately.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")

	if tag == "latest" {
		results := s.updater.DownloadLatest(context.WithoutCancel(r.Context()))
		go func() {
			res := <-results
			if res.Err != nil {
				s.log.Error("Background download failed", "err", res.Err)
				return
			}
			s.log.Info("Background download finished", "tag", res.Tag, "path", res.Path)
		}()
		s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"message": "download started",
		})
		return
	}

	path, err := s.updater.DownloadToCache(r.Context(), tag)
	if err != nil {
		s.writeFailure(w, "download", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "artifact cached",
		"tag":     tag,
		"path":    path,
	})
}

// handleSwitch handles POST /api/v1/switch
func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req models.SwitchRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	res, err := update.Switch(r.Context(), s.updater, req)
	if err != nil {
		s.writeFailure(w, "switch", err)
		return
	}

	status := http.StatusOK
	if res.Outcome == update.OutcomeSwitched {
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, res)
}

// handleStatus handles GET /api/v1/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.updater.Status()
	if status == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"message": "no switch has run",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"version": s.updater.CurrentVersion(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

// StatusFor maps an updater error to an HTTP status code
func StatusFor(err error) int {
	switch {
	case errors.Is(err, uerrors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, uerrors.ErrReleaseNotFound):
		return http.StatusNotFound
	case errors.Is(err, uerrors.ErrInvalidTag):
		return http.StatusBadRequest
	case errors.Is(err, uerrors.ErrSwitchInProgress):
		return http.StatusConflict
	case errors.Is(err, uerrors.ErrRegistryUnavailable),
		errors.Is(err, uerrors.ErrDownloadFailed),
		errors.Is(err, uerrors.ErrChecksumMismatch):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure logs err and writes it with the matching status
func (s *Server) writeFailure(w http.ResponseWriter, op string, err error) {
	status := StatusFor(err)
	s.log.Error("Request failed", "op", op, "status", status, "err", err)

	var rl *uerrors.RateLimitError
	if errors.As(err, &rl) && !rl.ResetAt.IsZero() {
		if wait := time.Until(rl.ResetAt); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
		}
	}
	s.writeError(w, status, err.Error())
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": message,
	})
}
