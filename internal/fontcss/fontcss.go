// Package fontcss downloads remote font stylesheets and caches them on
// disk so pages reference a local file instead of a third-party host.
// Every failure mode degrades to "skip the injection": a font problem must
// never block a render.
package fontcss

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/lanekessler/renderpipe/internal/log"
	"github.com/lanekessler/renderpipe/internal/xerrors"
)

const (
	defaultTimeout = 3 * time.Second
	maxStylesheet  = 2 * 1024 * 1024
)

// Observer counts fetch outcomes. metrics.PipelineMetrics satisfies it.
type Observer interface {
	IncFontFetch(outcome string)
}

type nopObserver struct{}

func (nopObserver) IncFontFetch(string) {}

type Options struct {
	// Dir is where cached stylesheets are written, as font-<sha1>.css.
	Dir string

	Logger   log.Logger
	Observer Observer

	// Timeout bounds each fetch. Defaults to 3s.
	Timeout time.Duration

	// PerSecond/Burst limit outbound fetches so a cold cache under load
	// does not hammer the font host. Defaults: 2/s, burst 5.
	PerSecond float64
	Burst     int

	// Client overrides the HTTP client, for tests.
	Client *http.Client
}

type Fetcher struct {
	dir      string
	logger   log.Logger
	observer Observer
	limiter  *rate.Limiter
	client   *http.Client
}

func New(opts Options) (*Fetcher, error) {
	if opts.Dir == "" {
		return nil, xerrors.New("cache dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, xerrors.Wrapf(err, "create font cache dir %s", opts.Dir)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.PerSecond <= 0 {
		opts.PerSecond = 2
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Fetcher{
		dir:      opts.Dir,
		logger:   opts.Logger,
		observer: opts.Observer,
		limiter:  rate.NewLimiter(rate.Limit(opts.PerSecond), opts.Burst),
		client:   client,
	}, nil
}

// StylesheetPath returns the local cache path for the stylesheet at url,
// fetching it on first use. Errors mean "no stylesheet this render"; the
// caller skips injection and the page renders without the font.
func (f *Fetcher) StylesheetPath(ctx context.Context, url string) (string, error) {
	sum := sha1.Sum([]byte(url))
	path := filepath.Join(f.dir, "font-"+hex.EncodeToString(sum[:])+".css")

	if _, err := os.Stat(path); err == nil {
		f.observer.IncFontFetch("hit")
		return path, nil
	}

	// reservation-free check so a throttled render skips instead of waiting
	if !f.limiter.Allow() {
		f.observer.IncFontFetch("throttled")
		return "", xerrors.Newf("font fetch throttled for %s", url)
	}

	data, err := f.fetch(ctx, url)
	if err != nil {
		f.observer.IncFontFetch("error")
		f.logger.Warn(ctx, "font stylesheet fetch failed, skipping injection", "url", url, "error", err)
		return "", err
	}

	if err := writeAtomic(f.dir, path, data); err != nil {
		f.observer.IncFontFetch("error")
		return "", err
	}

	f.observer.IncFontFetch("fetched")
	f.logger.Info(ctx, "font stylesheet cached", "url", url, "path", path, "bytes", len(data))
	return path, nil
}

func (f *Fetcher) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, xerrors.Wrapf(err, "build request for %s", url)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, xerrors.Wrapf(err, "fetch %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.Newf("fetch %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxStylesheet+1))
	if err != nil {
		return nil, xerrors.Wrapf(err, "read %s", url)
	}
	if len(data) > maxStylesheet {
		return nil, xerrors.Newf("stylesheet %s exceeds %d bytes", url, maxStylesheet)
	}
	return data, nil
}

// writeAtomic mirrors the bundle cache's write-then-rename policy.
func writeAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".font-*")
	if err != nil {
		return xerrors.Wrap(err, "create temp stylesheet")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return xerrors.Wrapf(err, "write %s", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return xerrors.Wrapf(err, "close %s", path)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return xerrors.Wrapf(err, "chmod %s", path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return xerrors.Wrapf(err, "rename %s", path)
	}
	return nil
}
