// renderd is a demonstration host for the render pipeline: it serves a
// small page whose scripts, styles, and fonts flow through a per-request
// asset collector backed by the shared bundle cache.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lanekessler/renderpipe/internal/assets"
	"github.com/lanekessler/renderpipe/internal/bundle"
	"github.com/lanekessler/renderpipe/internal/cfg"
	"github.com/lanekessler/renderpipe/internal/fontcss"
	"github.com/lanekessler/renderpipe/internal/log"
	"github.com/lanekessler/renderpipe/internal/metrics"
	"github.com/lanekessler/renderpipe/internal/otelx"
	"github.com/lanekessler/renderpipe/internal/prof"
	v "github.com/lanekessler/renderpipe/internal/version"
)

const appName = "renderd"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s %s (commit=%s, go=%s, dirty=%v)\n",
			appName, vi.Version, vi.Commit, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, "RENDERPIPE_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:        appName,
		Version:    vi.Version,
		Level:      lvl,
		JsonFormat: conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "renderd")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing",
		"version", vi.Version,
		"commit", vi.Commit,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"cache_dir", conf.CacheDir,
		"enable_bundling", conf.EnableBundling,
		"bundle_url_prefix", conf.BundleURLPrefix,
		"mirror_s3_bucket", conf.MirrorS3Bucket,
		"font_url", conf.FontURL,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
	)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":     appName,
			"version": vi.Version,
			"commit":  vi.Commit,
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Insecure is fine here, the collector only ever runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:  conf.EnableTracing,
		Endpoint: conf.OTLPEndpoint,
		Insecure: true,
		Sample:   conf.TraceSample,
		Service:  appName,
		Version:  vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m := metrics.New()
	m.SetBuildInfo(appName, vi.Version, vi.Commit, vi.GoVersion)

	// optional S3 mirror so sibling hosts reuse each other's artifacts
	var remote *bundle.Remote
	if conf.MirrorS3Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config, mirror disabled")
		} else {
			remote, err = bundle.NewRemote(bundle.RemoteOptions{
				Bucket: conf.MirrorS3Bucket,
				Prefix: conf.MirrorS3Prefix,
				Client: s3.NewFromConfig(awsCfg),
				Logger: L,
			})
			if err != nil {
				L.Error(ctx, err, "failed to create bundle mirror, mirror disabled")
				remote = nil
			}
		}
	}

	// bundle cache failure degrades to unbundled serving, never a dead server
	var bundler *bundle.Cache
	if conf.EnableBundling {
		bundler, err = bundle.New(bundle.Options{
			Dir:      conf.CacheDir,
			Logger:   L,
			Observer: m,
			Remote:   remote,
		})
		if err != nil {
			L.Error(ctx, err, "bundle cache unusable, bundling disabled", "cache_dir", conf.CacheDir)
			bundler = nil
		}
	}
	m.SetBundlingEnabled(bundler != nil)

	var fonts *fontcss.Fetcher
	if conf.FontURL != "" {
		fonts, err = fontcss.New(fontcss.Options{
			Dir:      conf.CacheDir,
			Logger:   L,
			Observer: m,
		})
		if err != nil {
			L.Error(ctx, err, "font cache unusable, font injection disabled")
			fonts = nil
		}
	}

	siteDir := filepath.Join(conf.CacheDir, "site")
	registry, err := materializeSite(siteDir)
	if err != nil {
		L.Error(ctx, err, "failed to materialize demo site")
		os.Exit(1)
	}

	page := &pageHandler{
		logger:    L,
		metrics:   m,
		bundler:   bundler,
		registry:  registry,
		fonts:     fonts,
		fontURL:   conf.FontURL,
		urlPrefix: conf.BundleURLPrefix,
		cacheDir:  conf.CacheDir,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", m.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	r.Handle(conf.BundleURLPrefix+"/*", http.StripPrefix(conf.BundleURLPrefix+"/",
		http.FileServer(http.Dir(conf.CacheDir))))
	r.Get("/", page.ServeHTTP)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", conf.HTTPPort),
		Handler:           otelhttp.NewHandler(r, "renderd.http"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		L.Info(ctx, "listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		L.Error(ctx, err, "http server failed")
		os.Exit(1)
	case <-ctx.Done():
	}

	L.Info(context.Background(), "shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

// pageHandler renders the demo page. Each request gets its own collector;
// there is no shared render state between requests.
type pageHandler struct {
	logger    log.Logger
	metrics   *metrics.PipelineMetrics
	bundler   *bundle.Cache
	registry  *assets.MapRegistry
	fonts     *fontcss.Fetcher
	fontURL   string
	urlPrefix string
	cacheDir  string
}

func (h *pageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	opts := assets.Options{
		Logger:    h.logger,
		Observer:  h.metrics,
		Bundler:   h.bundler,
		Registry:  h.registry,
		BundleURL: h.assetURL,
	}
	if h.fonts != nil {
		opts.Fonts = &assets.FontOptions{
			URL:      h.fontURL,
			Fetcher:  h.fonts,
			Priority: 0,
		}
	}
	c := assets.New(opts)

	c.AddStylesheetLink("/css/base.css", 10)
	c.AddStylesheetLink("/css/theme.css", 20)
	c.AddInlineStyle("#rendered-at{font-variant-numeric:tabular-nums}", 30)
	c.AddScript("/js/app.js", assets.PositionFooter, 10)
	c.AddScript("/js/widgets.js", assets.PositionFooter, 20)
	c.AddInlineScript("console.debug('render complete');", assets.PositionFooter, 90)

	out := c.Finalize(ctx, demoPage)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, out)
}

// assetURL maps a cache artifact path to the URL the cache dir is served
// under. Paths outside the cache dir pass through untouched.
func (h *pageHandler) assetURL(artifactPath string) string {
	rel, err := filepath.Rel(h.cacheDir, artifactPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return artifactPath
	}
	return h.urlPrefix + "/" + filepath.ToSlash(rel)
}

const demoPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>renderpipe demo</title>
` + assets.DefaultHeadMarker + `
</head>
<body>
<main>
<h1>renderpipe demo</h1>
<p>Rendered at <span id="rendered-at"></span></p>
<div data-widget></div>
</main>
` + assets.DefaultFooterMarker + `
</body>
</html>
`
