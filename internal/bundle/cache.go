// Package bundle implements a content-addressed cache of combined asset
// files. Artifacts are keyed by a hash of their input manifest, created
// once, read many times, and never mutated or evicted.
package bundle

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lanekessler/renderpipe/internal/log"
	"github.com/lanekessler/renderpipe/internal/xerrors"
)

// Observer receives cache events. metrics.PipelineMetrics satisfies it.
type Observer interface {
	IncBundleHit(kind string)
	IncBundleMiss(kind string)
	ObserveSynthesis(kind string, d time.Duration)
	IncMissingInput()
	IncRemoteHit()
	IncRemoteError()
}

type nopObserver struct{}

func (nopObserver) IncBundleHit(string)                    {}
func (nopObserver) IncBundleMiss(string)                   {}
func (nopObserver) ObserveSynthesis(string, time.Duration) {}
func (nopObserver) IncMissingInput()                       {}
func (nopObserver) IncRemoteHit()                          {}
func (nopObserver) IncRemoteError()                        {}

type Options struct {
	// Dir is the cache directory. Created if absent.
	Dir string

	Logger   log.Logger
	Observer Observer

	// Remote mirrors artifacts to shared storage so sibling hosts skip
	// synthesis. Optional; all remote failures are non-fatal.
	Remote *Remote
}

type Cache struct {
	dir      string
	logger   log.Logger
	observer Observer
	remote   *Remote
}

// New creates the cache directory if needed and returns the cache. An
// error here means the directory is unusable; callers are expected to
// disable bundling rather than fail their render.
func New(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, xerrors.New("cache dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, xerrors.Wrapf(err, "create cache dir %s", opts.Dir)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Cache{
		dir:      opts.Dir,
		logger:   opts.Logger,
		observer: opts.Observer,
		remote:   opts.Remote,
	}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// ArtifactPath returns where the artifact for (manifest, ext) lives,
// whether or not it exists yet.
func (c *Cache) ArtifactPath(m Manifest, ext string) string {
	return filepath.Join(c.dir, m.Key()+"."+ext)
}

// GetOrCreate returns the artifact path for the manifest, synthesizing it
// on first use. synth is not invoked when the artifact already exists.
// created reports whether this call produced the artifact.
//
// Concurrent callers may race on the same key: each synthesizes
// independently and renames into place, last writer wins. That is safe
// because a manifest always synthesizes to byte-identical output; the
// duplicate work is accepted instead of a lock.
func (c *Cache) GetOrCreate(ctx context.Context, m Manifest, ext string, synth func(context.Context) ([]byte, error)) (path string, created bool, err error) {
	path = c.ArtifactPath(m, ext)

	if _, err := os.Stat(path); err == nil {
		c.observer.IncBundleHit(ext)
		return path, false, nil
	}
	c.observer.IncBundleMiss(ext)

	key := m.Key()
	if c.remote != nil {
		if data, err := c.remote.Fetch(ctx, key+"."+ext); err == nil {
			if err := c.writeArtifact(path, data); err != nil {
				return "", false, err
			}
			c.observer.IncRemoteHit()
			c.logger.Debug(ctx, "bundle artifact fetched from remote mirror", "key", key, "ext", ext)
			return path, true, nil
		} else {
			c.observer.IncRemoteError()
			c.logger.Debug(ctx, "remote mirror miss", "key", key, "error", err)
		}
	}

	tracer := otel.Tracer("renderpipe/bundle")
	ctx, span := tracer.Start(ctx, "bundle.synthesize")
	span.SetAttributes(
		attribute.String("bundle.key", key),
		attribute.String("bundle.ext", ext),
		attribute.Int("bundle.inputs", len(m)),
	)
	defer span.End()

	start := time.Now()
	data, err := synth(ctx)
	if err != nil {
		return "", false, xerrors.Wrapf(err, "synthesize bundle %s", key)
	}
	c.observer.ObserveSynthesis(ext, time.Since(start))

	if err := c.writeArtifact(path, data); err != nil {
		return "", false, err
	}

	c.logger.Info(ctx, "bundle artifact created",
		"key", key,
		"ext", ext,
		"inputs", len(m),
		"bytes", len(data),
	)

	if c.remote != nil {
		if err := c.remote.Store(ctx, key+"."+ext, data); err != nil {
			c.observer.IncRemoteError()
			c.logger.Warn(ctx, "remote mirror upload failed", "key", key, "error", err)
		}
	}

	return path, true, nil
}

// writeArtifact writes data next to the final path and renames it into
// place. Rename is atomic on POSIX, so readers never observe a partial
// artifact.
func (c *Cache) writeArtifact(path string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, ".bundle-*")
	if err != nil {
		return xerrors.Wrap(err, "create temp artifact")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return xerrors.Wrapf(err, "write artifact %s", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return xerrors.Wrapf(err, "close artifact %s", path)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return xerrors.Wrapf(err, "chmod artifact %s", path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return xerrors.Wrapf(err, "rename artifact into place %s", path)
	}
	return nil
}
