package assets

import (
	"context"
	"path/filepath"

	"github.com/lanekessler/renderpipe/internal/bundle"
	"github.com/lanekessler/renderpipe/internal/cssurl"
	"github.com/lanekessler/renderpipe/internal/pathutil"
	"github.com/lanekessler/renderpipe/internal/pqueue"
)

// candidate is one local reference picked out of the collected entries.
type candidate struct {
	index    int // slice position of the original entry
	ref      string
	path     string
	priority int
}

// bundleScripts merges local script references, per position, into one
// cached artifact. External references, unknown references, and entries
// already produced by bundling are left alone. A reference collected twice
// is deduplicated: only its first occurrence counts.
func (c *Collector) bundleScripts(ctx context.Context) {
	seen := map[string]bool{}
	for _, pos := range []Position{PositionHead, PositionFooter} {
		c.mergePosition(ctx, pos, kindScriptSrc, "js", seen, nil)
	}
}

// bundleStyles merges local stylesheet links into one CSS artifact,
// rewriting relative url() references so they stay valid from the cache
// directory.
func (c *Collector) bundleStyles(ctx context.Context) {
	transform := func(srcPath string) func(string) string {
		fromDir := filepath.Dir(srcPath)
		toDir := c.bundler.Dir()
		return func(content string) string {
			return cssurl.Rewrite(content, fromDir, toDir)
		}
	}
	c.mergePosition(ctx, PositionHead, kindStyleLink, "css", map[string]bool{}, transform)
}

func (c *Collector) mergePosition(ctx context.Context, pos Position, kind entryKind, ext string, seen map[string]bool, transform func(srcPath string) func(string) string) {
	entries := c.entries[pos]

	var group []candidate
	drop := map[int]bool{}

	for i, e := range entries {
		if e.kind != kind || e.bundled {
			continue
		}
		ref := e.value
		if pathutil.IsExternalURL(ref) {
			continue
		}
		if seen[ref] {
			// duplicate reference: the first occurrence wins
			drop[i] = true
			continue
		}
		path, ok := c.registry.Resolve(ref)
		if !ok {
			continue
		}
		if pathutil.HasDotSegments(ref) {
			c.logger.Warn(ctx, "reference with dot segments left unbundled", "ref", ref)
			continue
		}
		seen[ref] = true
		group = append(group, candidate{index: i, ref: ref, path: path, priority: e.priority})
	}

	if len(group) < 2 {
		// one local file gains nothing from merging; drop only duplicates
		if len(drop) > 0 {
			c.entries[pos] = splice(entries, drop, -1, nil)
		}
		return
	}

	manifest := make(bundle.Manifest, 0, len(group))
	sources := make([]bundle.Source, 0, len(group))
	usable := group[:0]
	for _, cand := range group {
		in, err := bundle.StatInput(cand.ref, cand.path)
		if err != nil {
			// unreadable now; leave the original entry in place
			c.logger.Warn(ctx, "bundle candidate unreadable, leaving standalone",
				"ref", cand.ref, "error", err)
			continue
		}
		manifest = append(manifest, in)
		src := bundle.Source{Name: cand.ref, Path: cand.path}
		if transform != nil {
			src.Transform = transform(cand.path)
		}
		sources = append(sources, src)
		usable = append(usable, cand)
	}
	group = usable

	if len(group) < 2 {
		if len(drop) > 0 {
			c.entries[pos] = splice(entries, drop, -1, nil)
		}
		return
	}

	artifact, _, err := c.bundler.GetOrCreate(ctx, manifest, ext, func(ctx context.Context) ([]byte, error) {
		return c.bundler.Concat(ctx, sources), nil
	})
	if err != nil {
		c.logger.Error(ctx, err, "bundle synthesis failed, serving assets individually",
			"position", pos.String(), "ext", ext)
		if len(drop) > 0 {
			c.entries[pos] = splice(entries, drop, -1, nil)
		}
		return
	}

	// the bundle takes the slot and priority of its earliest constituent,
	// so same-priority neighbors keep their relative order
	prio := group[0].priority
	for _, cand := range group[1:] {
		if less(c.dir, cand.priority, prio) {
			prio = cand.priority
		}
	}

	var replacement []entry
	bundleKind := kind
	for _, cand := range group {
		drop[cand.index] = true
		for _, ex := range c.registry.Extras(cand.ref) {
			if ex.Placement == PlaceBefore {
				replacement = append(replacement, entry{kind: kindInlineScript, value: ex.Code, priority: prio})
			}
		}
	}
	replacement = append(replacement, entry{kind: bundleKind, value: c.bundleURL(artifact), priority: prio, bundled: true})
	for _, cand := range group {
		for _, ex := range c.registry.Extras(cand.ref) {
			if ex.Placement == PlaceAfter {
				replacement = append(replacement, entry{kind: kindInlineScript, value: ex.Code, priority: prio})
			}
		}
	}

	c.entries[pos] = splice(entries, drop, group[0].index, replacement)

	c.logger.Info(ctx, "merged local assets into bundle",
		"position", pos.String(),
		"ext", ext,
		"inputs", len(group),
		"artifact", artifact,
	)
}

func less(dir pqueue.Direction, a, b int) bool {
	if dir == pqueue.Descending {
		return a > b
	}
	return a < b
}

// splice rebuilds entries without the dropped indices, inserting
// replacement at the slot of index at (-1 inserts nothing).
func splice(entries []entry, drop map[int]bool, at int, replacement []entry) []entry {
	out := make([]entry, 0, len(entries)+len(replacement))
	for i, e := range entries {
		if i == at {
			out = append(out, replacement...)
		}
		if drop[i] {
			continue
		}
		out = append(out, e)
	}
	return out
}
