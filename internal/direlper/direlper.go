// Package direlper implements the small directory/filename utilities
// spec.md §4.6 groups together: lenient filename matching, missing/bad
// marker management, recursive temp-directory creation, and the affil
// directory-list generator.
package direlper

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/somecodingdude/pzs-ng/internal/racefs"
	"github.com/somecodingdude/pzs-ng/internal/sfvdata"
)

// MissingSuffix and BadSuffix name the sentinel/quarantine file
// conventions spec.md's glossary defines.
const (
	MissingSuffix = "-missing"
	BadSuffix     = ".bad"
)

// MakeTempDir recursively creates storageRoot/relPath, mode 0777,
// tolerating components that already exist - maketempdir's behavior of
// ignoring EEXIST at every path component (spec.md §4.6).
func MakeTempDir(fs racefs.FS, storageRoot, relPath string) error {
	full := storageRoot + "/" + relPath

	if err := fs.MkdirAll(full, 0o777); err != nil {
		return fmt.Errorf("direlper: maketempdir %s: %w", full, err)
	}

	return nil
}

// CreateMissing touches a zero-length <fname>-missing sentinel in dir.
func CreateMissing(fs racefs.FS, dir, fname string) error {
	f, err := fs.OpenFile(dir+"/"+fname+MissingSuffix, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o666)
	if err != nil {
		return fmt.Errorf("direlper: create_missing %s: %w", fname, err)
	}

	return f.Close()
}

// UnlinkMissing removes the <fname>-missing sentinel in dir, if present.
func UnlinkMissing(fs racefs.FS, dir, fname string) error {
	if err := fs.Remove(dir + "/" + fname + MissingSuffix); err != nil {
		return fmt.Errorf("direlper: unlink_missing %s: %w", fname, err)
	}

	return nil
}

// MarkAsBad renames fname to <fname>.bad within dir.
func MarkAsBad(fs racefs.FS, dir, fname string) error {
	src := dir + "/" + fname
	dst := src + BadSuffix

	if err := fs.Rename(src, dst); err != nil {
		return fmt.Errorf("direlper: mark_as_bad %s: %w", fname, err)
	}

	return nil
}

// GetFirstFilenameFromSfvdata returns the filename of the first SfvEntry
// in the binary sfvdata file at path, or "" if the file is empty/absent.
func GetFirstFilenameFromSfvdata(fs racefs.FS, path string) (string, error) {
	exists, err := fs.Exists(path)
	if err != nil {
		return "", fmt.Errorf("direlper: stat %s: %w", path, err)
	}

	if !exists {
		return "", nil
	}

	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("direlper: open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, sfvdata.Size)

	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return "", nil
	}

	entry, err := sfvdata.Codec{}.Decode(buf[:n])
	if err != nil {
		return "", fmt.Errorf("direlper: decode first sfv entry in %s: %w", path, err)
	}

	return entry.Fname, nil
}

// CreateDirlist builds a comma-joined affil list from the whitespace
// -separated directory paths in dirSpecs, each directory's entries
// (excluding dotfiles) appended in turn, keeping the whole list shorter
// than limit bytes (spec.md §4.6). It stops (without error) the moment a named directory
// can't be opened, matching the source's early-return-on-failure shape.
func CreateDirlist(fs racefs.FS, dirSpecs string, limit int) (string, error) {
	var b strings.Builder

	for _, dir := range strings.Fields(dirSpecs) {
		entries, err := fs.ReadDir(dir)
		if err != nil {
			return b.String(), nil
		}

		names := make([]string, 0, len(entries))

		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".") {
				continue
			}

			names = append(names, e.Name())
		}

		sort.Strings(names)

		for _, name := range names {
			extra := len(name)
			if b.Len() > 0 {
				extra++ // comma
			}

			if b.Len()+extra >= limit {
				return b.String(), nil
			}

			if b.Len() > 0 {
				b.WriteByte(',')
			}

			b.WriteString(name)
		}
	}

	return b.String(), nil
}

// specialChars are the characters LenientCompare treats as
// wildcard-equivalent to each other when the caller enables lenient
// matching (spec.md §4.5).
func isSpecial(c byte) bool {
	return c == ' ' || c == ',' || c == '.' || c == '-' || c == '_'
}

// LenientCompare implements lenient_compare (spec.md §4.5): right-to-left
// character comparison, with optional lowercase folding and
// wildcard-equivalence of space/','/'.'/'-'/'_'.
//
// The source has an off-by-reference bug here: its wildcard check for '_'
// tests name1's current character a second time instead of name2's
// (`a[0]=='_'` where `b[0]=='_'` was evidently intended - spec.md §9).
// This implementation uses the symmetric, intended form; see DESIGN.md
// for the rationale.
func LenientCompare(name1, name2 string, lowercase, lenient bool) bool {
	if len(name1) != len(name2) {
		return false
	}

	for i := len(name1) - 1; i >= 0; i-- {
		a := name1[i]
		b := name2[i]

		if a == b {
			continue
		}

		if lowercase {
			a = toLowerByte(a)
			b = toLowerByte(b)
		}

		if lenient {
			if isSpecial(a) {
				a = '*'
			}

			if isSpecial(b) {
				b = '*'
			}
		}

		if a != b {
			return false
		}
	}

	return true
}

func toLowerByte(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}

	return c
}
