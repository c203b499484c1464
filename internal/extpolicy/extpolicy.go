// Package extpolicy implements the extension-and-path classification rules
// spec.md §4.3 and §4.5 share between SFV Ingest and the File Verifier:
// glob-list membership, the "is this a rar-part extension" heuristic, and
// the allowed-types exemption-directory check.
package extpolicy

import (
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// rarPartPattern matches the .rNN/.NNN multi-volume archive numbering
// convention (r00-r99, 001-999) on top of a literal "rar" extension.
var rarPartPattern = regexp.MustCompile(`^(r\d{2}|\d{3})$`)

// MatchesAny reports whether ext matches any glob pattern in the list
// (case-insensitive, spec.md §4.3's "configured glob lists").
func MatchesAny(patterns []string, ext string) bool {
	lower := strings.ToLower(ext)

	for _, p := range patterns {
		if ok, _ := path.Match(strings.ToLower(p), lower); ok {
			return true
		}
	}

	return false
}

// IsRar reports whether ext names a RAR or RAR-volume file.
func IsRar(ext string) bool {
	lower := strings.ToLower(ext)
	return lower == "rar" || rarPartPattern.MatchString(lower)
}

// MatchPath reports whether currentPath matches any of the configured
// exemption-directory glob patterns (allowed_types_exemption_dirs).
func MatchPath(patterns []string, currentPath string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, currentPath); ok {
			return true
		}

		if strings.HasPrefix(currentPath, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}

	return false
}

// Ext returns the lowercase extension of fname without the leading dot,
// or "" if fname has none.
func Ext(fname string) string {
	e := filepath.Ext(fname)
	return strings.ToLower(strings.TrimPrefix(e, "."))
}
