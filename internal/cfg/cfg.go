// Package cfg is flag-based configuration for renderd with env-var
// fill-in. Precedence: cli flag > env var > default.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/lanekessler/renderpipe/internal/log"
)

type App struct {
	LogJSON  bool
	LogLevel string
	HTTPPort int

	CacheDir        string
	EnableBundling  bool
	BundleURLPrefix string

	MirrorS3Bucket string
	MirrorS3Prefix string

	FontURL string

	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.StringVar(&c.CacheDir, "cache-dir", "/var/cache/renderpipe", "directory for bundle and font artifacts")
	fs.BoolVar(&c.EnableBundling, "enable-bundling", true, "merge local scripts/styles into cached bundles")
	fs.StringVar(&c.BundleURLPrefix, "bundle-url-prefix", "/assets", "URL prefix the cache dir is served under")
	fs.StringVar(&c.MirrorS3Bucket, "mirror-s3-bucket", "", "optional S3 bucket mirroring bundle artifacts across hosts")
	fs.StringVar(&c.MirrorS3Prefix, "mirror-s3-prefix", "renderpipe/bundles", "S3 key prefix for mirrored artifacts")
	fs.StringVar(&c.FontURL, "font-url", "", "remote font stylesheet to cache and inject (empty disables)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and
// formats. Returns an error describing all invalid fields, or nil.
func Validate(c App) error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}

	if c.EnableBundling && c.CacheDir == "" {
		errs = append(errs, fmt.Errorf("CACHE_DIR is required when ENABLE_BUNDLING=true"))
	}

	if c.BundleURLPrefix != "" && !strings.HasPrefix(c.BundleURLPrefix, "/") {
		errs = append(errs, fmt.Errorf("BUNDLE_URL_PREFIX must start with / (got %q)", c.BundleURLPrefix))
	}

	if c.FontURL != "" {
		if u, err := url.Parse(c.FontURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("FONT_URL must be an absolute URL (got %q)", c.FontURL))
		}
	}

	if c.MirrorS3Prefix != "" && strings.HasPrefix(c.MirrorS3Prefix, "/") {
		errs = append(errs, fmt.Errorf("MIRROR_S3_PREFIX must not start with / (got %q)", c.MirrorS3Prefix))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	return errors.Join(errs...)
}
