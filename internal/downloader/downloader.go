package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go-arcenciel-browser/internal/helpers"
	"go-arcenciel-browser/internal/models"

	"github.com/juju/ratelimit"
	log "github.com/sirupsen/logrus"
)

// Custom Downloader Errors
var (
	ErrHttpStatus  = errors.New("unexpected HTTP status code")
	ErrFileSystem  = errors.New("filesystem error")
	ErrHttpRequest = errors.New("HTTP request creation/execution error")
	ErrStalled     = errors.New("transfer stalled")
	// ErrCanceled is returned when the cancel predicate fires mid-transfer.
	// It is not a failure.
	ErrCanceled = errors.New("transfer canceled")
)

const (
	DefaultHeaderTimeout = 60 * time.Second
	DefaultStallTimeout  = 60 * time.Second
	DefaultChunkSize     = 32 * 1024
)

// Options tune a Downloader. Zero values select the defaults above.
type Options struct {
	HeaderTimeout  time.Duration
	StallTimeout   time.Duration
	ChunkSize      int
	MaxBytesPerSec int64
}

// OptionsFromConfig maps the [Download] config section to Options.
func OptionsFromConfig(cfg models.DownloadConfig) Options {
	return Options{
		HeaderTimeout:  time.Duration(cfg.TimeoutSec) * time.Second,
		StallTimeout:   time.Duration(cfg.StallTimeoutSec) * time.Second,
		ChunkSize:      cfg.ChunkSizeKB * 1024,
		MaxBytesPerSec: cfg.MaxBytesPerSec,
	}
}

// ProgressFunc receives the bytes written so far and the expected total
// (-1 when the server sent no Content-Length).
type ProgressFunc func(written, expected int64)

// Downloader performs streamed single-file transfers.
type Downloader struct {
	client *http.Client
	apiKey string
	opts   Options
	bucket *ratelimit.Bucket
}

// NewDownloader creates a new Downloader instance. The client should not set
// an overall Timeout; model files can take hours and liveness is enforced by
// the header and stall timers instead.
func NewDownloader(client *http.Client, apiKey string, opts Options) *Downloader {
	if client == nil {
		client = &http.Client{}
	}
	if opts.HeaderTimeout <= 0 {
		opts.HeaderTimeout = DefaultHeaderTimeout
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = DefaultStallTimeout
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	d := &Downloader{client: client, apiKey: apiKey, opts: opts}
	if opts.MaxBytesPerSec > 0 {
		d.bucket = ratelimit.NewBucketWithRate(float64(opts.MaxBytesPerSec), opts.MaxBytesPerSec)
		log.Debugf("Download bandwidth capped at %s/s", helpers.BytesToSize(uint64(opts.MaxBytesPerSec)))
	}
	return d
}

func (d *Downloader) newRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating download request for %s: %w", ErrHttpRequest, url, err)
	}
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}
	return req, nil
}

// Transfer streams url into dest. The parent directory of dest is created
// once the server answers 2xx; nothing is written for any other status.
// canceled is polled after every chunk; when it reports true the transfer
// stops immediately, leaving the truncated file, and ErrCanceled is returned.
func (d *Downloader) Transfer(ctx context.Context, url, dest string, canceled func() bool, progress ProgressFunc) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// One timer covers both the wait for headers and the gaps between chunks.
	var stalled atomic.Bool
	watchdog := time.AfterFunc(d.opts.HeaderTimeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	req, err := d.newRequest(ctx, url)
	if err != nil {
		return 0, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if stalled.Load() {
			return 0, fmt.Errorf("%w: no response from %s within %s", ErrStalled, url, d.opts.HeaderTimeout)
		}
		return 0, fmt.Errorf("%w: performing request for %s: %v", ErrHttpRequest, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: received status %d from %s", ErrHttpStatus, resp.StatusCode, url)
	}
	watchdog.Reset(d.opts.StallTimeout)

	if err := helpers.CheckAndMakeDir(filepath.Dir(dest)); err != nil {
		return 0, fmt.Errorf("%w: creating directory for %s: %w", ErrFileSystem, dest, err)
	}

	// #nosec G304
	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("%w: creating %s: %w", ErrFileSystem, dest, err)
	}

	expected := resp.ContentLength
	log.Debugf("Streaming %s -> %s (%s)", url, dest, sizeLabel(expected))

	written, copyErr := d.copyChunks(out, resp.Body, expected, watchdog, canceled, progress)
	closeErr := out.Close()

	switch {
	case copyErr != nil && errors.Is(copyErr, ErrCanceled):
		return written, copyErr
	case copyErr != nil && stalled.Load():
		return written, fmt.Errorf("%w: no data from %s for %s", ErrStalled, url, d.opts.StallTimeout)
	case copyErr != nil:
		return written, copyErr
	case closeErr != nil:
		return written, fmt.Errorf("%w: closing %s: %w", ErrFileSystem, dest, closeErr)
	}
	return written, nil
}

func (d *Downloader) copyChunks(out io.Writer, body io.Reader, expected int64, watchdog *time.Timer, canceled func() bool, progress ProgressFunc) (int64, error) {
	size := d.opts.ChunkSize
	if d.bucket != nil && int64(size) > d.opts.MaxBytesPerSec {
		// Keep each throttle wait under a second so cancels stay prompt.
		size = int(d.opts.MaxBytesPerSec)
	}
	buf := make([]byte, size)
	var written int64

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("%w: writing: %w", ErrFileSystem, err)
			}
			written += int64(n)
			if progress != nil {
				progress(written, expected)
			}
			// The stall timer measures the network, not our own throttling.
			if d.bucket != nil {
				watchdog.Stop()
				d.bucket.Wait(int64(n))
			}
			watchdog.Reset(d.opts.StallTimeout)
			if canceled != nil && canceled() {
				return written, ErrCanceled
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("%w: reading body: %v", ErrHttpRequest, readErr)
		}
	}
}

func sizeLabel(n int64) string {
	if n < 0 {
		return "unknown size"
	}
	return helpers.BytesToSize(uint64(n))
}
