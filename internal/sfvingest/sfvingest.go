// Package sfvingest parses a textual SFV manifest into the binary sfvdata
// record stream (spec.md §4.3): comment stripping, CRC/filename
// splitting, extension-policy classification, optional duplicate
// rejection, and an optional cleaned-SFV rewrite.
package sfvingest

import (
	"bufio"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/somecodingdude/pzs-ng/internal/diag"
	"github.com/somecodingdude/pzs-ng/internal/extpolicy"
	"github.com/somecodingdude/pzs-ng/internal/headdata"
	"github.com/somecodingdude/pzs-ng/internal/raceconfig"
	"github.com/somecodingdude/pzs-ng/internal/racefs"
	"github.com/somecodingdude/pzs-ng/internal/recordio"
	"github.com/somecodingdude/pzs-ng/internal/sfvdata"
)

// osCreateFlags truncates-or-creates a fresh zero-length sentinel file.
const osCreateFlags = os.O_CREATE | os.O_TRUNC | os.O_WRONLY

// ErrInvalidSfv is returned for a malformed SFV row outside sfv_cleanup's
// tolerance: an unparsable CRC, or a filename carrying '/', '\', or a tab
// that allow_slash_in_sfv does not license (spec.md §4.3, §7).
var ErrInvalidSfv = errors.New("sfvingest: invalid sfv row")

// Ingester parses a release's textual SFV and produces its binary sfvdata
// stream plus release-type classification.
type Ingester struct {
	fs   racefs.FS
	cfg  raceconfig.Config
	diag diag.Sink
}

// New returns an Ingester using cfg's sfv_* options.
func New(fs racefs.FS, cfg raceconfig.Config, sink diag.Sink) *Ingester {
	if sink == nil {
		sink = diag.Discard
	}

	return &Ingester{fs: fs, cfg: cfg, diag: sink}
}

// Ingest reads the textual SFV at sfvPath, writes the binary sfvdata
// stream to statePath, and returns the release's classified data type.
// releaseDir is the directory holding the uploaded files, used both for
// on-disk CRC calculation (sfv_calc_single_fname/create_missing_sfv) and
// for create_missing_files side effects. currentPath is the path used
// against allowed_types_exemption_dirs.
func (ig *Ingester) Ingest(sfvPath, statePath, releaseDir, currentPath string) (headdata.ReleaseType, error) {
	f, err := ig.fs.Open(sfvPath)
	if err != nil {
		return headdata.TypeUnknown, fmt.Errorf("sfvingest: open %s: %w", sfvPath, err)
	}
	defer f.Close()

	var (
		entries                      []sfvdata.SfvEntry
		seen                         = map[string]bool{}
		music, rars, video, others   int
		cleaned                      strings.Builder
	)

	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if ig.cfg.SfvCleanupLowercase {
			line = strings.ToLower(line)
		}

		if strings.HasPrefix(line, ";") {
			if ig.cfg.SfvCleanup && !ig.cfg.SfvCleanupComments {
				ig.writeCleanedLine(&cleaned, line)
			}

			continue
		}

		if line == "" {
			continue
		}

		entry, ok, err := ig.parseLine(line)
		if err != nil {
			return headdata.TypeUnknown, err
		}

		if !ok {
			continue
		}

		if entry.Crc32 == 0 {
			if ig.cfg.SfvCalcSingleFname || ig.cfg.CreateMissingSfv {
				entry.Crc32 = ig.calcCrc(releaseDir, entry.Fname)
				ig.diag.Logf("sfvingest: calculated crc for %s: %08x", entry.Fname, entry.Crc32)
			} else {
				ig.diag.Logf("sfvingest: no crc for %s - ignoring", entry.Fname)
				continue
			}
		}

		ext := extpolicy.Ext(entry.Fname)

		excluded := extpolicy.MatchesAny(ig.cfg.IgnoredTypes, ext) ||
			(extpolicy.MatchesAny(ig.cfg.AllowedTypes, ext) && !extpolicy.MatchPath(ig.cfg.AllowedTypesExemptions, currentPath)) ||
			ext == "sfv" || ext == "nfo"

		if excluded {
			continue
		}

		if ig.cfg.SfvDupecheck && seen[entry.Fname] {
			continue
		}

		seen[entry.Fname] = true

		switch {
		case extpolicy.MatchesAny(ig.cfg.AudioTypes, ext):
			music++
		case extpolicy.IsRar(ext):
			rars++
		case extpolicy.MatchesAny(ig.cfg.VideoTypes, ext):
			video++
		default:
			others++
		}

		if ig.cfg.CreateMissingFiles {
			exists, _ := ig.fs.Exists(releaseDir + "/" + entry.Fname)
			exempt := extpolicy.MatchPath(ig.cfg.AllowedTypesExemptions, currentPath) && extpolicy.MatchesAny(ig.cfg.AllowedTypes, ext)

			if !exists && !exempt {
				if merr := ig.createMissing(releaseDir, entry.Fname); merr != nil {
					return headdata.TypeUnknown, merr
				}
			}
		}

		if ig.cfg.SfvCleanup {
			ig.writeCleanedLine(&cleaned, fmt.Sprintf("%s %08x", entry.Fname, entry.Crc32))
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return headdata.TypeUnknown, fmt.Errorf("sfvingest: read %s: %w", sfvPath, err)
	}

	dataType := classify(music, rars, video, others)

	store := recordio.New[sfvdata.SfvEntry](ig.fs, statePath, sfvdata.Codec{})
	if err := store.Truncate(entries); err != nil {
		return headdata.TypeUnknown, fmt.Errorf("sfvingest: write %s: %w", statePath, err)
	}

	if ig.cfg.SfvCleanup {
		if err := atomic.WriteFile(sfvPath, strings.NewReader(cleaned.String())); err != nil {
			return headdata.TypeUnknown, fmt.Errorf("sfvingest: rewrite %s: %w", sfvPath, err)
		}
	}

	return dataType, nil
}

func (ig *Ingester) writeCleanedLine(b *strings.Builder, line string) {
	b.WriteString(line)

	if ig.cfg.SfvCleanupCRLF {
		b.WriteByte('\r')
	}

	b.WriteByte('\n')
}

// parseLine splits one non-comment, non-blank line into an SfvEntry. The
// second return is false if the line should be silently skipped (this
// never happens today but mirrors the source's shape for future
// extension); an error means the row is invalid outside sfv_cleanup's
// tolerance.
func (ig *Ingester) parseLine(line string) (sfvdata.SfvEntry, bool, error) {
	fname, crc, err := splitNameAndCrc(line)
	if err != nil {
		if ig.cfg.SfvCleanup {
			ig.diag.Logf("sfvingest: %s - trying to continue anyway", err)
			fname, crc = line, 0
		} else {
			return sfvdata.SfvEntry{}, false, fmt.Errorf("%w: %s", ErrInvalidSfv, err)
		}
	}

	fname = strings.TrimSpace(fname)

	if strings.ContainsAny(fname, "/\\\t") {
		if !ig.cfg.AllowSlashInSfv {
			return sfvdata.SfvEntry{}, false, fmt.Errorf("%w: illegal path character in filename %q", ErrInvalidSfv, fname)
		}

		fname = basename(fname)
	}

	if len(fname) == 0 || len(fname) >= sfvdata.FnameWidth {
		return sfvdata.SfvEntry{}, false, fmt.Errorf("%w: filename %q exceeds field width", ErrInvalidSfv, fname)
	}

	return sfvdata.SfvEntry{Fname: fname, Crc32: crc}, true, nil
}

// splitNameAndCrc splits on the last run of whitespace; the trailing
// token must be 6-8 hex digits (spec.md §4.3).
func splitNameAndCrc(line string) (fname string, crc uint32, err error) {
	idx := lastWhitespaceRun(line)
	if idx < 0 {
		return "", 0, fmt.Errorf("no crc found in %q", line)
	}

	name := strings.TrimRight(line[:idx], " \t")
	crcStr := line[idx:]
	crcStr = strings.TrimSpace(crcStr)

	if len(crcStr) < 6 || len(crcStr) > 8 || !isHex(crcStr) {
		return "", 0, fmt.Errorf("crc field %q is not 6-8 hex digits", crcStr)
	}

	v, perr := strconv.ParseUint(crcStr, 16, 32)
	if perr != nil {
		return "", 0, fmt.Errorf("crc field %q: %w", crcStr, perr)
	}

	return name, uint32(v), nil
}

func lastWhitespaceRun(s string) int {
	i := strings.LastIndexAny(s, " \t")
	if i < 0 {
		return -1
	}

	for i > 0 && (s[i-1] == ' ' || s[i-1] == '\t') {
		i--
	}

	return i
}

func isHex(s string) bool {
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}

	return len(s) > 0
}

func basename(s string) string {
	s = strings.ReplaceAll(s, "\\", "/")
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		return s[i+1:]
	}

	return s
}

func (ig *Ingester) calcCrc(releaseDir, fname string) uint32 {
	f, err := ig.fs.Open(releaseDir + "/" + fname)
	if err != nil {
		return 0
	}
	defer f.Close()

	h := crc32.NewIEEE()

	buf := make([]byte, 32*1024)

	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}

		if rerr != nil {
			break
		}
	}

	return h.Sum32()
}

func (ig *Ingester) createMissing(releaseDir, fname string) error {
	f, err := ig.fs.OpenFile(releaseDir+"/"+fname+"-missing", osCreateFlags, 0o666)
	if err != nil {
		return fmt.Errorf("sfvingest: create missing marker for %s: %w", fname, err)
	}

	return f.Close()
}

// classify implements the data_type rule spec.md §4.3 specifies.
func classify(music, rars, video, others int) headdata.ReleaseType {
	if music > rars {
		if video > music {
			if video >= others {
				return headdata.TypeVideo
			}

			return headdata.TypeOther
		}

		if music >= others {
			return headdata.TypeAudio
		}

		return headdata.TypeOther
	}

	if video > rars {
		if video >= others {
			return headdata.TypeVideo
		}

		return headdata.TypeOther
	}

	if rars >= others {
		return headdata.TypeRar
	}

	return headdata.TypeOther
}
