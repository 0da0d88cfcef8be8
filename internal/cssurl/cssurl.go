// Package cssurl rewrites relative url() references in CSS text when a
// stylesheet moves directories, as happens when local files are merged into
// a combined bundle. The transform is textual: tokens it cannot parse pass
// through untouched.
package cssurl

import (
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/lanekessler/renderpipe/internal/pathutil"
)

// urlRef matches url(ref), url('ref') and url("ref"). The quote group is
// backreferenced by the rewrite so the original quoting style survives.
var urlRef = regexp.MustCompile(`url\(\s*(['"]?)([^'"()]*)(['"]?)\s*\)`)

// Rewrite re-expresses every relative url() reference in css, originally
// resolved against fromDir, so it stays valid relative to toDir. data:
// URIs, other-origin URLs, root-relative paths, and bare fragments are left
// alone. Mismatched quotes or otherwise malformed tokens are not touched.
func Rewrite(css, fromDir, toDir string) string {
	return urlRef.ReplaceAllStringFunc(css, func(tok string) string {
		m := urlRef.FindStringSubmatch(tok)
		openQ, ref, closeQ := m[1], m[2], m[3]
		if openQ != closeQ {
			return tok
		}
		rewritten, ok := rewriteRef(strings.TrimSpace(ref), fromDir, toDir)
		if !ok {
			return tok
		}
		return "url(" + openQ + rewritten + closeQ + ")"
	})
}

func rewriteRef(ref, fromDir, toDir string) (string, bool) {
	if ref == "" ||
		pathutil.IsDataURI(ref) ||
		pathutil.IsExternalURL(ref) ||
		strings.HasPrefix(ref, "#") ||
		strings.HasPrefix(ref, "/") {
		return "", false
	}

	// keep ?query and #fragment suffixes (common on web font refs)
	suffix := ""
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref, suffix = ref[:i], ref[i:]
	}
	if ref == "" {
		return "", false
	}

	resolved := path.Join(fromDir, ref)
	rel, err := filepath.Rel(toDir, resolved)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel) + suffix, true
}
