package assets

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lanekessler/renderpipe/internal/pqueue"
)

func TestRenderPositionStableOrder(t *testing.T) {
	c := New(Options{})
	c.AddScript("/js/a.js", PositionFooter, 100)
	c.AddScript("/js/b.js", PositionFooter, 50)
	c.AddScript("/js/c.js", PositionFooter, 50)

	got := c.RenderPosition(PositionFooter)
	want := `<script src="/js/b.js"></script>` + "\n" +
		`<script src="/js/c.js"></script>` + "\n" +
		`<script src="/js/a.js"></script>`
	if got != want {
		t.Fatalf("footer markup:\n got %q\nwant %q", got, want)
	}
}

func TestRenderPositionDescending(t *testing.T) {
	c := New(Options{Direction: pqueue.Descending})
	c.AddScript("/js/low.js", PositionFooter, 10)
	c.AddScript("/js/high.js", PositionFooter, 90)

	got := c.RenderPosition(PositionFooter)
	if !strings.HasPrefix(got, `<script src="/js/high.js">`) {
		t.Fatalf("descending order should render high priority first, got:\n%s", got)
	}
}

func TestRenderPositionEmpty(t *testing.T) {
	c := New(Options{})
	if got := c.RenderPosition(PositionHead); got != "" {
		t.Fatalf("empty position rendered %q, want empty string", got)
	}
}

func TestEntryKindsRender(t *testing.T) {
	c := New(Options{})
	c.AddStylesheetLink("/css/site.css", 10)
	c.AddInlineStyle("body{margin:0}", 20)
	c.AddInlineScript("init();", PositionHead, 30)

	got := c.RenderPosition(PositionHead)
	want := `<link rel="stylesheet" href="/css/site.css">` + "\n" +
		"<style>body{margin:0}</style>\n" +
		"<script>init();</script>"
	if got != want {
		t.Fatalf("head markup:\n got %q\nwant %q", got, want)
	}
}

func TestFinalizeReplacesMarkersOnce(t *testing.T) {
	c := New(Options{})
	c.AddStylesheetLink("/css/site.css", 10)
	c.AddScript("/js/app.js", PositionFooter, 10)

	page := "<html><head>" + DefaultHeadMarker + "</head><body>" +
		DefaultHeadMarker + DefaultFooterMarker + "</body></html>"
	out := c.Finalize(context.Background(), page)

	if !strings.Contains(out, `<link rel="stylesheet" href="/css/site.css">`) {
		t.Fatalf("head assets missing from output:\n%s", out)
	}
	if !strings.Contains(out, `<script src="/js/app.js"></script>`) {
		t.Fatalf("footer assets missing from output:\n%s", out)
	}
	// only the first head marker is replaced
	if !strings.Contains(out, DefaultHeadMarker) {
		t.Fatalf("second head marker should survive untouched:\n%s", out)
	}
	if strings.Contains(out, DefaultFooterMarker) {
		t.Fatalf("footer marker left in output:\n%s", out)
	}
}

func TestFinalizeIdempotent(t *testing.T) {
	c := New(Options{})
	c.AddScript("/js/app.js", PositionFooter, 10)

	page := "<body>" + DefaultFooterMarker + "</body>"
	first := c.Finalize(context.Background(), page)
	second := c.Finalize(context.Background(), "something else entirely")
	if second != first {
		t.Fatalf("second finalize returned %q, want the first result %q", second, first)
	}
}

func TestFinalizeEmptyInput(t *testing.T) {
	c := New(Options{})
	c.AddScript("/js/app.js", PositionFooter, 10)

	if out := c.Finalize(context.Background(), ""); out != "" {
		t.Fatalf("empty input returned %q, want empty string", out)
	}

	// the render was not consumed
	page := "<body>" + DefaultFooterMarker + "</body>"
	out := c.Finalize(context.Background(), page)
	if !strings.Contains(out, "/js/app.js") {
		t.Fatalf("render consumed by the empty call:\n%s", out)
	}
}

func TestFinalizeCustomMarkers(t *testing.T) {
	c := New(Options{HeadMarker: "{{HEAD}}", FooterMarker: "{{FOOT}}"})
	c.AddInlineScript("a()", PositionHead, 1)
	c.AddInlineScript("b()", PositionFooter, 1)

	out := c.Finalize(context.Background(), "{{HEAD}}|{{FOOT}}")
	if out != "<script>a()</script>|<script>b()</script>" {
		t.Fatalf("custom markers: got %q", out)
	}
}

func TestAddAfterCloseDropped(t *testing.T) {
	c := New(Options{})
	c.AddScript("/js/kept.js", PositionFooter, 10)
	c.Close(context.Background())
	c.AddScript("/js/late.js", PositionFooter, 10)

	got := c.RenderPosition(PositionFooter)
	if strings.Contains(got, "late.js") {
		t.Fatalf("entry queued after close should be dropped:\n%s", got)
	}
	if !strings.Contains(got, "kept.js") {
		t.Fatalf("entry queued before close missing:\n%s", got)
	}
}

func TestHooksRunInOrder(t *testing.T) {
	c := New(Options{})
	var order []string
	c.OnClose(func() { order = append(order, "close1") })
	c.OnClose(func() { order = append(order, "close2") })
	c.OnRendered(func() { order = append(order, "rendered") })

	c.Finalize(context.Background(), DefaultHeadMarker)
	want := []string{"close1", "close2", "rendered"}
	if len(order) != len(want) {
		t.Fatalf("hooks ran %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("hooks ran %v, want %v", order, want)
		}
	}

	// hooks fire once even when finalize is called again
	c.Finalize(context.Background(), DefaultHeadMarker)
	if len(order) != len(want) {
		t.Fatalf("hooks re-fired on repeated finalize: %v", order)
	}
}

type recordObserver struct {
	finalized int
	entries   map[string]int
}

func (o *recordObserver) IncRenderFinalized() { o.finalized++ }
func (o *recordObserver) ObserveRenderEntries(position string, n int) {
	if o.entries == nil {
		o.entries = map[string]int{}
	}
	o.entries[position] = n
}

func TestFinalizeObserver(t *testing.T) {
	obs := &recordObserver{}
	c := New(Options{Observer: obs})
	c.AddStylesheetLink("/css/a.css", 1)
	c.AddStylesheetLink("/css/b.css", 2)
	c.AddScript("/js/app.js", PositionFooter, 1)

	c.Finalize(context.Background(), DefaultHeadMarker+DefaultFooterMarker)
	if obs.finalized != 1 {
		t.Fatalf("finalized count = %d, want 1", obs.finalized)
	}
	if obs.entries["head"] != 2 || obs.entries["footer"] != 1 {
		t.Fatalf("entry counts = %v, want head=2 footer=1", obs.entries)
	}
}

type staticFetcher struct {
	path string
	err  error
}

func (f staticFetcher) StylesheetPath(ctx context.Context, url string) (string, error) {
	return f.path, f.err
}

func TestFontInjection(t *testing.T) {
	c := New(Options{
		Fonts: &FontOptions{
			URL:      "https://fonts.example.com/css2?family=Inter",
			Fetcher:  staticFetcher{path: "/cache/font-abc.css"},
			Priority: 5,
		},
		BundleURL: func(p string) string { return "/assets" + strings.TrimPrefix(p, "/cache") },
	})
	out := c.Finalize(context.Background(), DefaultHeadMarker)
	if !strings.Contains(out, `<link rel="stylesheet" href="/assets/font-abc.css">`) {
		t.Fatalf("font stylesheet not injected:\n%s", out)
	}
}

func TestFontInjectionSkippedOnError(t *testing.T) {
	c := New(Options{
		Fonts: &FontOptions{
			URL:     "https://fonts.example.com/css2?family=Inter",
			Fetcher: staticFetcher{err: errors.New("throttled")},
		},
	})
	out := c.Finalize(context.Background(), "<head>"+DefaultHeadMarker+"</head>")
	if out != "<head></head>" {
		t.Fatalf("failed font fetch should render nothing, got:\n%s", out)
	}
}
