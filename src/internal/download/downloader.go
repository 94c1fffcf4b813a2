// Package download streams release artifacts from the network to disk.
package download

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	uerrors "github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/errors"
	"github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/metrics"
)

const (
	bufferSize  = 32 * 1024
	partSuffix  = ".part"
	maxChecksum = 4 * 1024
)

// ProgressFunc receives the bytes written so far and the expected total
// (-1 when the server did not send a length)
type ProgressFunc func(downloaded, total int64)

// Options tune a single download
type Options struct {
	// ChecksumURL points at a "<sha256>  <name>" file; empty skips verification
	ChecksumURL string
	Progress    ProgressFunc
}

// Downloader streams artifacts to destination paths
type Downloader struct {
	httpClient *http.Client
	userAgent  string
	token      string
	metrics    *metrics.Collector
	log        *log.Logger
}

// NewDownloader creates a downloader. A nil client gets a 30 minute timeout,
// artifacts may be tens of megabytes on slow links.
func NewDownloader(httpClient *http.Client, userAgent, token string, m *metrics.Collector, logger *log.Logger) *Downloader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Minute}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Downloader{
		httpClient: httpClient,
		userAgent:  userAgent,
		token:      token,
		metrics:    m,
		log:        logger.WithPrefix("download"),
	}
}

// Download fetches url into destPath without holding the payload in memory.
// The body is written to destPath+".part" and renamed on success, so a failed
// transfer never leaves a file at destPath.
func (d *Downloader) Download(ctx context.Context, url, destPath string, opts Options) (string, error) {
	var expected string
	if opts.ChecksumURL != "" {
		sum, err := d.fetchChecksum(ctx, opts.ChecksumURL)
		if err != nil {
			d.metrics.ObserveDownload("failed", 0)
			return "", err
		}
		expected = sum
	}

	d.log.Info("Downloading artifact", "url", url, "dest", destPath)

	written, err := d.fetch(ctx, url, destPath, expected, opts.Progress)
	if err != nil {
		d.metrics.ObserveDownload("failed", 0)
		d.log.Error("Download failed", "url", url, "err", err)
		return "", err
	}

	d.metrics.ObserveDownload("ok", written)
	d.log.Info("Download completed", "dest", destPath, "bytes", written, "verified", expected != "")
	return destPath, nil
}

func (d *Downloader) fetch(ctx context.Context, url, destPath, expected string, progress ProgressFunc) (int64, error) {
	resp, err := d.get(ctx, url, "application/octet-stream")
	if err != nil {
		return 0, &uerrors.DownloadError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &uerrors.DownloadError{URL: url, StatusCode: resp.StatusCode}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return 0, fmt.Errorf("%w: failed to create directory: %v", uerrors.ErrRepositoryWrite, err)
	}

	partPath := destPath + partSuffix
	out, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create file: %v", uerrors.ErrRepositoryWrite, err)
	}

	var h hash.Hash
	buffered := bufio.NewWriterSize(out, bufferSize)
	var sink io.Writer = buffered
	if expected != "" {
		h = sha256.New()
		sink = io.MultiWriter(buffered, h)
	}

	body := io.Reader(resp.Body)
	if progress != nil {
		body = &progressReader{r: resp.Body, total: resp.ContentLength, fn: progress}
	}

	written, copyErr := io.CopyBuffer(sink, body, make([]byte, bufferSize))
	if copyErr == nil {
		copyErr = buffered.Flush()
	}
	closeErr := out.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(partPath)
		return 0, &uerrors.DownloadError{URL: url, Err: copyErr}
	}

	if h != nil {
		actual := hex.EncodeToString(h.Sum(nil))
		if actual != expected {
			os.Remove(partPath)
			return 0, fmt.Errorf("%w: expected %s, got %s", uerrors.ErrChecksumMismatch, expected, actual)
		}
	}

	if err := os.Rename(partPath, destPath); err != nil {
		os.Remove(partPath)
		return 0, fmt.Errorf("%w: failed to move download into place: %v", uerrors.ErrRepositoryWrite, err)
	}

	return written, nil
}

// fetchChecksum reads a sha256sum style file and returns the first field
func (d *Downloader) fetchChecksum(ctx context.Context, url string) (string, error) {
	resp, err := d.get(ctx, url, "text/plain")
	if err != nil {
		return "", &uerrors.DownloadError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &uerrors.DownloadError{URL: url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxChecksum))
	if err != nil {
		return "", &uerrors.DownloadError{URL: url, Err: err}
	}

	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: empty checksum file %s", uerrors.ErrChecksumMismatch, url)
	}
	return strings.ToLower(fields[0]), nil
}

func (d *Downloader) get(ctx context.Context, url, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	if d.token != "" {
		req.Header.Set("Authorization", "token "+d.token)
	}
	return d.httpClient.Do(req)
}

type progressReader struct {
	r          io.Reader
	total      int64
	downloaded int64
	fn         ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.downloaded += int64(n)
		p.fn(p.downloaded, p.total)
	}
	return n, err
}
