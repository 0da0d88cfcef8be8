// Package assets collects script and stylesheet references emitted during
// one page render, orders them by priority with stable insertion
// tie-breaks, optionally merges local files into cached bundles, and
// splices the final markup into sentinel positions in the rendered HTML.
//
// A Collector is a per-render object: construct one, feed it during the
// render, finalize once. There is no process-wide collector state.
package assets

// Position is an injection point in the rendered page.
type Position int

const (
	PositionHead Position = iota
	PositionFooter
)

func (p Position) String() string {
	if p == PositionFooter {
		return "footer"
	}
	return "head"
}

type entryKind int

const (
	kindScriptSrc entryKind = iota
	kindInlineScript
	kindStyleLink
	kindInlineStyle
)

// entry is immutable once queued. value is a src/href for reference kinds
// and raw code for inline kinds.
type entry struct {
	kind     entryKind
	value    string
	priority int

	// bundled marks a reference synthesized by the bundler, which must
	// never be re-intercepted.
	bundled bool
}

func (e entry) render() string {
	switch e.kind {
	case kindScriptSrc:
		return `<script src="` + e.value + `"></script>`
	case kindInlineScript:
		return "<script>" + e.value + "</script>"
	case kindStyleLink:
		return `<link rel="stylesheet" href="` + e.value + `">`
	default:
		return "<style>" + e.value + "</style>"
	}
}
