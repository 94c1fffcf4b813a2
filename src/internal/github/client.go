package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	uerrors "github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/errors"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/metrics"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/version"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/pkg/models"
)

const (
	perPage  = 100
	maxPages = 10

	checksumExt = ".sha256"
)

// CacheChecker reports whether a release artifact is already cached
type CacheChecker interface {
	IsAvailable(tag string) bool
}

// Options configures a Client
type Options struct {
	BaseURL    string // e.g. https://api.github.com
	Repository string // owner/name
	Token      string
	Suffix     string // artifact file name suffix
	UserAgent  string
	Timeout    time.Duration

	HTTPClient *http.Client
	Cache      CacheChecker
	Metrics    *metrics.Collector
	Logger     *log.Logger
}

// Client handles GitHub API interactions
type Client struct {
	baseURL    string
	repository string
	token      string
	suffix     string
	userAgent  string
	httpClient *http.Client
	cache      CacheChecker
	metrics    *metrics.Collector
	log        *log.Logger

	mu   sync.Mutex
	repo *githubRepository
}

// NewClient creates a new GitHub client. No request is made until the first
// operation.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}

	return &Client{
		baseURL:    baseURL,
		repository: opts.Repository,
		token:      opts.Token,
		suffix:     opts.Suffix,
		userAgent:  opts.UserAgent,
		httpClient: httpClient,
		cache:      opts.Cache,
		metrics:    opts.Metrics,
		log:        logger.WithPrefix("github"),
	}
}

// githubRepository is the subset of the repository response we keep
type githubRepository struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
}

// githubRelease represents a GitHub release response
type githubRelease struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	HTMLURL     string    `json:"html_url"`
	Assets      []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
		Size               int64  `json:"size"`
	} `json:"assets"`
}

// connectIfNeeded fetches the repository once and keeps it for later calls.
// A failed attempt is not remembered, so the next operation tries again.
func (c *Client) connectIfNeeded(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.repo != nil {
		return nil
	}

	var repo githubRepository
	err := c.getJSON(ctx, "connect", "/repos/"+c.repository, &repo)
	if errors.Is(err, uerrors.ErrReleaseNotFound) {
		return fmt.Errorf("%w: repository %s not found", uerrors.ErrRegistryUnavailable, c.repository)
	}
	if err != nil {
		return err
	}

	c.repo = &repo
	c.log.Debug("Connected to release registry", "repository", repo.FullName)
	return nil
}

// Connected reports whether a registry connection has been established
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repo != nil
}

// GetLatestRelease fetches the latest published release
func (c *Client) GetLatestRelease(ctx context.Context) (*models.ReleaseInfo, error) {
	if err := c.connectIfNeeded(ctx); err != nil {
		return nil, err
	}

	var release githubRelease
	if err := c.getJSON(ctx, "latest", c.releasesPath()+"/latest", &release); err != nil {
		return nil, err
	}

	return c.convertRelease(&release), nil
}

// GetRelease fetches a specific release by tag. The tag gets a "v" prefix
// if it has none.
func (c *Client) GetRelease(ctx context.Context, tag string) (*models.ReleaseInfo, error) {
	// Special case: "latest" means get the latest release
	if tag == "latest" {
		return c.GetLatestRelease(ctx)
	}

	tag = version.Normalize(tag)
	if tag == "" {
		return nil, uerrors.ErrInvalidTag
	}

	if err := c.connectIfNeeded(ctx); err != nil {
		return nil, err
	}

	var release githubRelease
	path := c.releasesPath() + "/tags/" + url.PathEscape(tag)
	if err := c.getJSON(ctx, "get", path, &release); err != nil {
		if errors.Is(err, uerrors.ErrReleaseNotFound) {
			return nil, fmt.Errorf("%w: %s", uerrors.ErrReleaseNotFound, tag)
		}
		return nil, err
	}

	return c.convertRelease(&release), nil
}

// ListReleases lists all published releases, newest first
func (c *Client) ListReleases(ctx context.Context) ([]models.ReleaseInfo, error) {
	if err := c.connectIfNeeded(ctx); err != nil {
		return nil, err
	}

	var releases []models.ReleaseInfo
	for page := 1; page <= maxPages; page++ {
		var batch []githubRelease
		path := fmt.Sprintf("%s?per_page=%d&page=%d", c.releasesPath(), perPage, page)
		if err := c.getJSON(ctx, "list", path, &batch); err != nil {
			return nil, err
		}

		for i := range batch {
			if batch[i].Draft {
				continue
			}
			releases = append(releases, *c.convertRelease(&batch[i]))
		}

		if len(batch) < perPage {
			break
		}
	}

	sort.SliceStable(releases, func(i, j int) bool {
		return releases[i].PublishedAt.After(releases[j].PublishedAt)
	})

	return releases, nil
}

func (c *Client) releasesPath() string {
	return "/repos/" + c.repository + "/releases"
}

// getJSON performs a GET against the API and decodes the response into out
func (c *Client) getJSON(ctx context.Context, op, path string, out interface{}) error {
	start := time.Now()
	result := "error"
	defer func() {
		c.metrics.ObserveRegistryRequest(op, result, time.Since(start))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("token %s", c.token))
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", uerrors.ErrRegistryUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		result = "not_found"
		return uerrors.ErrReleaseNotFound
	case isRateLimited(resp):
		result = "rate_limited"
		rl := &uerrors.RateLimitError{URL: req.URL.String(), ResetAt: rateLimitReset(resp)}
		c.log.Warn("Rate limited by release registry", "reset_at", rl.ResetAt)
		return rl
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: github API error: %s - %s",
			uerrors.ErrRegistryUnavailable, resp.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", uerrors.ErrRegistryUnavailable, err)
	}

	result = "ok"
	return nil
}

func isRateLimited(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.Header.Get("Retry-After") != ""
	}
	return false
}

// rateLimitReset returns when the limit resets, zero if the response does not say
func rateLimitReset(resp *http.Response) time.Time {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Now().Add(time.Duration(secs) * time.Second).UTC().Truncate(time.Second)
		}
	}
	if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(unix, 0).UTC()
		}
	}
	return time.Time{}
}

// convertRelease converts a GitHub release to our ReleaseInfo model
func (c *Client) convertRelease(release *githubRelease) *models.ReleaseInfo {
	info := &models.ReleaseInfo{
		Tag:         version.Normalize(release.TagName),
		Name:        release.Name,
		ReleaseURL:  release.HTMLURL,
		PublishedAt: release.PublishedAt,
		Prerelease:  release.Prerelease,
	}

	// Find the first asset built for this platform
	for _, asset := range release.Assets {
		if strings.HasSuffix(asset.Name, c.suffix) {
			info.DownloadURL = asset.BrowserDownloadURL
			info.ArtifactName = asset.Name
			info.Size = asset.Size
			break
		}
	}

	if info.ArtifactName != "" {
		for _, asset := range release.Assets {
			if asset.Name == info.ArtifactName+checksumExt {
				info.ChecksumURL = asset.BrowserDownloadURL
				break
			}
		}
	}

	if c.cache != nil {
		info.CachedLocally = c.cache.IsAvailable(info.Tag)
	}

	return info
}
