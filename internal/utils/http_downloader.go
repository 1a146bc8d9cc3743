package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rudra775/pixelate-saas/internal/logging"
	"github.com/Rudra775/pixelate-saas/internal/models"
)

// HTTPDownloader streams remote media to local files with retry logic
type HTTPDownloader struct {
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxFileSize int64 // Maximum file size in bytes (0 = unlimited)
	logger      zerolog.Logger
}

// HTTPDownloaderConfig holds configuration for HTTP downloader
type HTTPDownloaderConfig struct {
	MaxRetries  int           // Default: 3
	RetryDelay  time.Duration // Default: 2s
	Timeout     time.Duration // Default: none, the caller's context bounds the transfer
	MaxFileSize int64         // Default: unlimited
	Client      *http.Client  // Optional, overrides Timeout
}

// NewHTTPDownloader creates a new HTTP downloader
func NewHTTPDownloader(config *HTTPDownloaderConfig) *HTTPDownloader {
	if config == nil {
		config = &HTTPDownloaderConfig{}
	}

	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 2 * time.Second
	}

	client := config.Client
	if client == nil {
		client = &http.Client{
			Timeout: config.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		}
	}

	return &HTTPDownloader{
		client:      client,
		maxRetries:  config.MaxRetries,
		retryDelay:  config.RetryDelay,
		maxFileSize: config.MaxFileSize,
		logger:      logging.WithComponent("downloader"),
	}
}

// Fetch downloads url into dest and returns dest. Failures are reported as
// *models.FetchError; 4xx responses and oversized bodies are not retried.
// A partial file is removed before returning an error.
func (d *HTTPDownloader) Fetch(ctx context.Context, url, dest string) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		err := d.fetchAttempt(ctx, url, dest)
		if err == nil {
			return dest, nil
		}
		lastErr = err

		var fetchErr *models.FetchError
		if errors.As(err, &fetchErr) && !fetchErr.Retryable() {
			return "", err
		}
		if ctx.Err() != nil {
			return "", &models.FetchError{URL: url, Err: ctx.Err()}
		}

		if attempt < d.maxRetries {
			delay := d.retryDelay * time.Duration(attempt)
			d.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("download failed, retrying")
			select {
			case <-ctx.Done():
				return "", &models.FetchError{URL: url, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}
	}

	return "", lastErr
}

func (d *HTTPDownloader) fetchAttempt(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &models.FetchError{URL: url, Err: err, Permanent: true}
	}
	req.Header.Set("User-Agent", "pixelate-worker/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return &models.FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return &models.FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	if d.maxFileSize > 0 && resp.ContentLength > d.maxFileSize {
		return &models.FetchError{
			URL:       url,
			Err:       fmt.Errorf("file too large: %d bytes (max: %d bytes)", resp.ContentLength, d.maxFileSize),
			Permanent: true,
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return &models.FetchError{URL: url, Err: fmt.Errorf("create destination directory: %w", err), Permanent: true}
	}

	file, err := os.Create(dest)
	if err != nil {
		return &models.FetchError{URL: url, Err: fmt.Errorf("create destination: %w", err), Permanent: true}
	}

	written, err := d.copyWithLimit(file, resp.Body)
	if cerr := file.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		var fetchErr *models.FetchError
		if errors.As(err, &fetchErr) {
			fetchErr.URL = url
			return fetchErr
		}
		return &models.FetchError{URL: url, Err: fmt.Errorf("stream body: %w", err)}
	}

	d.logger.Debug().Str("url", url).Int64("bytes", written).Msg("download complete")
	return nil
}

// copyWithLimit copies data with size limit
func (d *HTTPDownloader) copyWithLimit(dst io.Writer, src io.Reader) (int64, error) {
	if d.maxFileSize <= 0 {
		return io.Copy(dst, src)
	}

	written, err := io.Copy(dst, io.LimitReader(src, d.maxFileSize+1)) // +1 to detect overflow
	if err != nil {
		return written, err
	}
	if written > d.maxFileSize {
		return written, &models.FetchError{
			Err:       fmt.Errorf("file exceeded size limit: %d bytes", d.maxFileSize),
			Permanent: true,
		}
	}
	return written, nil
}
