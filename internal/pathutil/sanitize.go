// Package pathutil normalizes vault-relative paths into the forward-slash,
// URI-safe form used for remote record keys.
package pathutil

import (
	"path/filepath"
	"strings"
)

var unicodeReplacer = strings.NewReplacer(
	"…", "...", // ellipsis
	"“", `"`, // left double quote
	"”", `"`, // right double quote
	"‘", "'", // left single quote
	"’", "'", // right single quote
	"—", "-", // em dash
	"–", "-", // en dash
)

// Sanitize maps problematic Unicode characters to ASCII equivalents and
// replaces anything else outside a safe set with '_'. Clients that
// URI-encode record paths choke on smart quotes and the like.
func Sanitize(path string) string {
	replaced := unicodeReplacer.Replace(path)
	var b strings.Builder
	b.Grow(len(replaced))
	for _, c := range replaced {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			strings.ContainsRune(`/. -_,()[]"'`, c) {
			b.WriteRune(c)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Rel converts an OS-specific path into the sanitized forward-slash form
// used for record paths: no leading slash, relative to the vault root.
func Rel(path string) string {
	return Sanitize(filepath.ToSlash(path))
}

// Hidden reports whether any segment of the relative path is dot-prefixed
// or a platform housekeeping directory (Synology's @eaDir index cache).
// Hidden paths are never scanned, watched, or synced.
func Hidden(rel string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(seg, ".") || seg == "@eaDir" {
			return true
		}
	}
	return false
}
