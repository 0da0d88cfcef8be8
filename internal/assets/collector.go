package assets

import (
	"context"
	"strings"

	"github.com/lanekessler/renderpipe/internal/bundle"
	"github.com/lanekessler/renderpipe/internal/log"
	"github.com/lanekessler/renderpipe/internal/pqueue"
)

const (
	DefaultHeadMarker   = "<!--renderpipe:head-->"
	DefaultFooterMarker = "<!--renderpipe:footer-->"
)

type state int

const (
	stateCollecting state = iota
	stateClosing
	stateRendered
)

// Observer receives render events. metrics.PipelineMetrics satisfies it.
type Observer interface {
	IncRenderFinalized()
	ObserveRenderEntries(position string, n int)
}

type nopObserver struct{}

func (nopObserver) IncRenderFinalized()              {}
func (nopObserver) ObserveRenderEntries(string, int) {}

// FontFetcher resolves a remote font stylesheet to a local cached path.
// fontcss.Fetcher satisfies it.
type FontFetcher interface {
	StylesheetPath(ctx context.Context, url string) (string, error)
}

// FontOptions injects a cached remote font stylesheet into the head.
type FontOptions struct {
	URL      string
	Fetcher  FontFetcher
	Priority int
}

type Options struct {
	Logger   log.Logger
	Observer Observer

	// Direction orders priorities. Ascending (the default) renders lower
	// priorities first.
	Direction pqueue.Direction

	// HeadMarker/FooterMarker are the sentinel strings Finalize replaces.
	HeadMarker   string
	FooterMarker string

	// Bundler enables merging of local assets. Requires Registry.
	Bundler  *bundle.Cache
	Registry Registry

	// BundleURL maps a cache artifact path to the URL emitted in markup.
	// Defaults to the path itself.
	BundleURL func(artifactPath string) string

	// Fonts, when set, injects a cached font stylesheet during Close.
	Fonts *FontOptions
}

// Collector accumulates asset entries for one render cycle. It is owned
// by a single request and is not safe for concurrent use.
type Collector struct {
	logger   log.Logger
	observer Observer
	dir      pqueue.Direction

	headMarker   string
	footerMarker string

	bundler   *bundle.Cache
	registry  Registry
	bundleURL func(string) string
	fonts     *FontOptions

	entries map[Position][]entry
	ordered map[Position][]entry

	onClose    []func()
	onRendered []func()

	state state
	final string
}

func New(opts Options) *Collector {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.HeadMarker == "" {
		opts.HeadMarker = DefaultHeadMarker
	}
	if opts.FooterMarker == "" {
		opts.FooterMarker = DefaultFooterMarker
	}
	bundleURL := opts.BundleURL
	if bundleURL == nil {
		bundleURL = func(p string) string { return p }
	}
	bundler := opts.Bundler
	if bundler != nil && opts.Registry == nil {
		opts.Logger.Warn(context.Background(), "bundling requested without a registry, disabling")
		bundler = nil
	}
	return &Collector{
		logger:       opts.Logger,
		observer:     opts.Observer,
		dir:          opts.Direction,
		headMarker:   opts.HeadMarker,
		footerMarker: opts.FooterMarker,
		bundler:      bundler,
		registry:     opts.Registry,
		bundleURL:    bundleURL,
		fonts:        opts.Fonts,
		entries:      map[Position][]entry{},
		ordered:      map[Position][]entry{},
	}
}

// OnClose registers a hook run synchronously when collection closes, in
// registration order.
func (c *Collector) OnClose(fn func()) { c.onClose = append(c.onClose, fn) }

// OnRendered registers a hook run synchronously after Finalize produces
// its output, in registration order.
func (c *Collector) OnRendered(fn func()) { c.onRendered = append(c.onRendered, fn) }

// AddScript queues an external script reference.
func (c *Collector) AddScript(src string, pos Position, priority int) {
	c.add(pos, entry{kind: kindScriptSrc, value: src, priority: priority})
}

// AddInlineScript queues literal script code.
func (c *Collector) AddInlineScript(code string, pos Position, priority int) {
	c.add(pos, entry{kind: kindInlineScript, value: code, priority: priority})
}

// AddStylesheetLink queues a stylesheet reference. Stylesheets always
// render in the head.
func (c *Collector) AddStylesheetLink(href string, priority int) {
	c.add(PositionHead, entry{kind: kindStyleLink, value: href, priority: priority})
}

// AddInlineStyle queues literal CSS in the head.
func (c *Collector) AddInlineStyle(css string, priority int) {
	c.add(PositionHead, entry{kind: kindInlineStyle, value: css, priority: priority})
}

func (c *Collector) add(pos Position, e entry) {
	if c.state != stateCollecting {
		c.logger.Warn(context.Background(), "asset queued after collection closed, dropping",
			"position", pos.String(), "priority", e.priority)
		return
	}
	c.entries[pos] = append(c.entries[pos], e)
}

// Close ends collection: bundling and font injection run here. Safe to
// call more than once; only the first call does work.
func (c *Collector) Close(ctx context.Context) {
	if c.state != stateCollecting {
		return
	}
	if c.fonts != nil {
		c.injectFont(ctx)
	}
	c.state = stateClosing
	if c.bundler != nil {
		c.bundleStyles(ctx)
		c.bundleScripts(ctx)
	}
	for _, fn := range c.onClose {
		fn()
	}
}

// RenderPosition returns the final markup for one position: entries in
// priority order joined by newlines. Repeated calls yield the same string.
func (c *Collector) RenderPosition(pos Position) string {
	ordered, ok := c.ordered[pos]
	if !ok {
		q := pqueue.New[entry](c.dir)
		for _, e := range c.entries[pos] {
			q.Insert(e, e.priority)
		}
		ordered = q.Drain()
		c.ordered[pos] = ordered
	}
	parts := make([]string, 0, len(ordered))
	for _, e := range ordered {
		parts = append(parts, e.render())
	}
	return strings.Join(parts, "\n")
}

// Finalize replaces the head and footer markers in html with the merged
// asset markup, each exactly once, and returns the result. The first call
// closes collection if the caller has not already; every later call
// returns the first result unchanged, so the host pipeline may invoke it
// defensively from multiple exit points. An empty html argument is a
// caller error and is returned verbatim without consuming the render.
func (c *Collector) Finalize(ctx context.Context, html string) string {
	if c.state == stateRendered {
		return c.final
	}
	if html == "" {
		c.logger.Warn(ctx, "finalize called with no output to render")
		return html
	}

	c.Close(ctx)

	head := c.RenderPosition(PositionHead)
	footer := c.RenderPosition(PositionFooter)

	out := strings.Replace(html, c.headMarker, head, 1)
	out = strings.Replace(out, c.footerMarker, footer, 1)

	c.final = out
	c.state = stateRendered

	c.observer.IncRenderFinalized()
	c.observer.ObserveRenderEntries(PositionHead.String(), len(c.ordered[PositionHead]))
	c.observer.ObserveRenderEntries(PositionFooter.String(), len(c.ordered[PositionFooter]))

	for _, fn := range c.onRendered {
		fn()
	}
	return out
}

func (c *Collector) injectFont(ctx context.Context) {
	if c.fonts.Fetcher == nil || c.fonts.URL == "" {
		return
	}
	path, err := c.fonts.Fetcher.StylesheetPath(ctx, c.fonts.URL)
	if err != nil {
		// degraded render, not an error: the page ships without the font
		c.logger.Warn(ctx, "skipping font stylesheet injection", "url", c.fonts.URL, "error", err)
		return
	}
	c.AddStylesheetLink(c.bundleURL(path), c.fonts.Priority)
}
