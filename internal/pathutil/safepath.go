// Package pathutil has small path and URL predicates shared by the bundle
// cache and the CSS rewriter.
package pathutil

import "strings"

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// IsExternalURL reports whether ref points at another origin: an absolute
// http(s) URL or a protocol-relative //host reference. Such references are
// never eligible for bundling or rewriting.
func IsExternalURL(ref string) bool {
	low := strings.ToLower(ref)
	return strings.HasPrefix(low, "http://") ||
		strings.HasPrefix(low, "https://") ||
		strings.HasPrefix(ref, "//")
}

// IsDataURI reports whether ref is an inline data: URI.
func IsDataURI(ref string) bool {
	return strings.HasPrefix(strings.ToLower(ref), "data:")
}
