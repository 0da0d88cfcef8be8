package bundle

import (
	"context"
	"os"
	"strings"
)

// Source is one file to concatenate into an artifact. Transform, when set,
// runs on the file's content before it is appended (the CSS rewriter hooks
// in here).
type Source struct {
	Name      string
	Path      string
	Transform func(content string) string
}

// Concat reads and joins the sources with newlines. A source that cannot
// be read is skipped: it logs a warning, counts toward the missing-input
// metric, and leaves a placeholder comment naming the file so the gap is
// visible in the served output. One bad input never aborts synthesis.
func (c *Cache) Concat(ctx context.Context, sources []Source) []byte {
	parts := make([]string, 0, len(sources))
	for _, src := range sources {
		data, err := os.ReadFile(src.Path)
		if err != nil {
			c.observer.IncMissingInput()
			c.logger.Warn(ctx, "bundle source unreadable, skipping",
				"name", src.Name,
				"path", src.Path,
				"error", err,
			)
			parts = append(parts, missingPlaceholder(src.Name))
			continue
		}
		content := string(data)
		if src.Transform != nil {
			content = src.Transform(content)
		}
		parts = append(parts, content)
	}
	return []byte(strings.Join(parts, "\n"))
}

// missingPlaceholder is valid comment syntax in both CSS and JS.
func missingPlaceholder(name string) string {
	return "/* renderpipe: missing source " + name + " */"
}
