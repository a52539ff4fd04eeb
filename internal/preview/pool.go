// Package preview fetches catalog thumbnails with bounded concurrency.
package preview

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go-arcenciel-browser/internal/models"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency = 6
	MaxConcurrency     = 16
	maxPreviewBytes    = 16 << 20
)

var (
	ErrNoURL      = errors.New("no preview URL")
	ErrHttpStatus = errors.New("unexpected HTTP status code")
)

// Request asks for the thumbnail at URL; Key is echoed back in the Result.
type Request struct {
	Key string
	URL string
}

// Result is one finished fetch. Exactly one of Data or Err is set.
type Result struct {
	Err         error
	Key         string
	URL         string
	Path        string
	ContentType string
	Data        []byte
	Cached      bool
}

// DataURL renders the image inline as a data: URL, or "" on error.
func (r Result) DataURL() string {
	if r.Err != nil || len(r.Data) == 0 {
		return ""
	}
	ct := r.ContentType
	if ct == "" {
		ct = http.DetectContentType(r.Data)
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(r.Data)
}

// Pool fetches previews with at most Size requests in flight.
type Pool struct {
	client *http.Client
	cache  *Cache
	size   int
}

// ClampConcurrency bounds n to 1..MaxConcurrency, using the default for 0.
func ClampConcurrency(n int) int {
	switch {
	case n == 0:
		return DefaultConcurrency
	case n < 1:
		return 1
	case n > MaxConcurrency:
		return MaxConcurrency
	}
	return n
}

// NewPool creates a pool. cache may be nil.
func NewPool(client *http.Client, cfg models.PreviewConfig, cache *Cache) *Pool {
	if client == nil {
		timeout := 20 * time.Second
		if cfg.TimeoutSec > 0 {
			timeout = time.Duration(cfg.TimeoutSec) * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Pool{client: client, cache: cache, size: ClampConcurrency(cfg.Concurrency)}
}

// Size is the number of concurrent fetches.
func (p *Pool) Size() int { return p.size }

// Fetch starts all requests and streams results as they complete, in no
// particular order. The channel is closed once every request has finished.
func (p *Pool) Fetch(ctx context.Context, reqs []Request) <-chan Result {
	out := make(chan Result, len(reqs))

	go func() {
		defer close(out)
		var g errgroup.Group
		g.SetLimit(p.size)
		for _, req := range reqs {
			req := req
			g.Go(func() error {
				out <- p.fetchOne(ctx, req)
				return nil
			})
		}
		_ = g.Wait()
	}()

	return out
}

// FetchAll is Fetch collected into a map keyed by Request.Key.
func (p *Pool) FetchAll(ctx context.Context, reqs []Request) map[string]Result {
	results := make(map[string]Result, len(reqs))
	for r := range p.Fetch(ctx, reqs) {
		results[r.Key] = r
	}
	return results
}

func (p *Pool) fetchOne(ctx context.Context, req Request) Result {
	res := Result{Key: req.Key, URL: req.URL}
	if req.URL == "" {
		res.Err = ErrNoURL
		return res
	}

	if p.cache != nil {
		if path, data, ct, ok := p.cache.Lookup(req.URL); ok {
			res.Path, res.Data, res.ContentType, res.Cached = path, data, ct, true
			return res
		}
	}

	data, ct, err := p.get(ctx, req.URL)
	if err != nil {
		log.WithError(err).Debugf("Preview fetch failed for %s", req.URL)
		res.Err = err
		return res
	}
	res.Data, res.ContentType = data, ct

	if p.cache != nil {
		path, err := p.cache.Store(req.URL, data, ct)
		if err != nil {
			log.WithError(err).Warn("Could not cache preview")
		}
		res.Path = path
	}
	return res
}

func (p *Pool) get(ctx context.Context, url string) ([]byte, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("%w: %d from %s", ErrHttpStatus, resp.StatusCode, url)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPreviewBytes))
	if err != nil {
		return nil, "", err
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return data, ct, nil
}
