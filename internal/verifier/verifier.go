// Package verifier implements the File Verifier's full-release pass
// (testfiles, spec.md §4.5): walking the racedata journal, resolving each
// file's CRC against the SFV via a lenient filename match, applying the
// file-state policy table, and persisting the result.
package verifier

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/somecodingdude/pzs-ng/internal/diag"
	"github.com/somecodingdude/pzs-ng/internal/direlper"
	"github.com/somecodingdude/pzs-ng/internal/extpolicy"
	"github.com/somecodingdude/pzs-ng/internal/lockmgr"
	"github.com/somecodingdude/pzs-ng/internal/raceconfig"
	"github.com/somecodingdude/pzs-ng/internal/racedata"
	"github.com/somecodingdude/pzs-ng/internal/racefs"
	"github.com/somecodingdude/pzs-ng/internal/recordio"
	"github.com/somecodingdude/pzs-ng/internal/sfvdata"
)

// ErrRemovalRequested surfaces update_lock's RemovalRequested outcome
// from inside a scan: the caller must release the lock and stop (spec.md
// §4.5 step 1, §7).
var ErrRemovalRequested = errors.New("verifier: lock removal requested")

// ErrLockLost surfaces update_lock's other non-Continue outcomes
// (VersionStop, Fatal, Lost) encountered mid-scan.
var ErrLockLost = errors.New("verifier: lock no longer held")

// Verifier runs the CRC verification pass over one release's racedata
// journal.
type Verifier struct {
	fs   racefs.FS
	cfg  raceconfig.Config
	diag diag.Sink
}

// New returns a Verifier using cfg's extension-policy and lenient-match
// options.
func New(fs racefs.FS, cfg raceconfig.Config, sink diag.Sink) *Verifier {
	if sink == nil {
		sink = diag.Discard
	}

	return &Verifier{fs: fs, cfg: cfg, diag: sink}
}

// TestFiles implements testfiles (spec.md §4.5). releaseDir is the
// directory holding the uploaded files; currentPath is compared against
// allowed_types_exemption_dirs; sfvStatePath is the binary sfvdata file
// SFV Ingest produced.
func (v *Verifier) TestFiles(journal *racedata.Journal, lock *lockmgr.Handle, sfvStatePath, releaseDir, currentPath string) error {
	sfvStore := recordio.New[sfvdata.SfvEntry](v.fs, sfvStatePath, sfvdata.Codec{})

	sfvEntries, err := sfvStore.ReadAll()
	if err != nil {
		return fmt.Errorf("verifier: read %s: %w", sfvStatePath, err)
	}

	entries, err := journal.ReadAll()
	if err != nil {
		return fmt.Errorf("verifier: read racedata: %w", err)
	}

	kept := make([]racedata.RaceEntry, 0, len(entries))

	for _, entry := range entries {
		outcome, err := lock.Update(true, 0)
		if err != nil {
			return fmt.Errorf("verifier: heartbeat: %w", err)
		}

		switch outcome {
		case lockmgr.RemovalRequested:
			return ErrRemovalRequested
		case lockmgr.VersionStop, lockmgr.Fatal, lockmgr.Lost:
			return fmt.Errorf("%w: %v", ErrLockLost, outcome)
		}

		next, drop, err := v.testOne(entry, sfvEntries, releaseDir, currentPath)
		if err != nil {
			return err
		}

		if drop {
			continue
		}

		kept = append(kept, next)
	}

	if err := journal.ReplaceAll(kept); err != nil {
		return fmt.Errorf("verifier: rewrite racedata: %w", err)
	}

	v.diag.Logf("verifier: finished checking")

	return nil
}

func (v *Verifier) testOne(entry racedata.RaceEntry, sfvEntries []sfvdata.SfvEntry, releaseDir, currentPath string) (racedata.RaceEntry, bool, error) {
	ext := extpolicy.Ext(entry.Fname)
	tcrc := v.lenientLookup(entry.Fname, sfvEntries)

	path := releaseDir + "/" + entry.Fname

	info, statErr := v.fs.Stat(path)
	exists := statErr == nil

	if !exists {
		badExists, _ := v.fs.Exists(path + direlper.BadSuffix)
		if badExists {
			entry.Status = racedata.Bad
			v.diag.Logf("verifier: %s missing, bad copy kept", entry.Fname)

			return entry, false, nil
		}

		v.diag.Logf("verifier: %s missing, dropping from journal", entry.Fname)

		return entry, true, nil
	}

	wasUploading := false

	switch {
	case info.IsDir():
		entry.Status = racedata.Ignored
	case entry.Crc32 != 0 && tcrc == entry.Crc32:
		entry.Status = racedata.Checked
	case entry.Crc32 != 0 && extpolicy.MatchesAny(v.cfg.IgnoredTypes, ext):
		entry.Status = racedata.Ignored
	case entry.Crc32 != 0 && tcrc == 0 && v.allowedNotExempt(ext, currentPath):
		entry.Status = racedata.Ignored
	case entry.Crc32 != 0 && tcrc != entry.Crc32 && v.allowedNotExempt(ext, currentPath):
		entry.Status = racedata.Ignored
	case entry.Crc32 == 0 && extpolicy.MatchesAny(v.cfg.AllowedTypes, ext):
		entry.Status = racedata.Ignored
	case v.isUploadInFlight(info):
		entry.Status = racedata.Ignored
		wasUploading = true

		if err := direlper.CreateMissing(v.fs, releaseDir, entry.Fname); err != nil {
			return entry, false, err
		}
	}

	if entry.Status == racedata.NotChecked {
		v.diag.Logf("verifier: %s failed CRC check, marking bad", entry.Fname)

		if err := direlper.MarkAsBad(v.fs, releaseDir, entry.Fname); err != nil {
			return entry, false, err
		}

		entry.Status = racedata.Bad

		if v.cfg.UndupeCmd != "" {
			v.diag.Logf("verifier: undupe hook configured for %s but execution is an external collaborator", entry.Fname)
		}
	}

	if v.cfg.CreateMissingFiles && tcrc != 0 {
		if err := direlper.CreateMissing(v.fs, releaseDir, entry.Fname); err != nil {
			return entry, false, err
		}
	}

	if entry.Status != racedata.Bad && !wasUploading {
		_ = direlper.UnlinkMissing(v.fs, releaseDir, entry.Fname)
	}

	return entry, false, nil
}

func (v *Verifier) allowedNotExempt(ext, currentPath string) bool {
	return extpolicy.MatchesAny(v.cfg.AllowedTypes, ext) && !extpolicy.MatchPath(v.cfg.AllowedTypesExemptions, currentPath)
}

// isUploadInFlight detects the upload-still-in-progress heuristic (spec.md
// §4.5, §8 scenario 2): the file's ctime is "now" and its executable bit
// is set, the way glftpd marks a file being written.
func (v *Verifier) isUploadInFlight(info os.FileInfo) bool {
	ctime := v.fs.Ctime(info)
	now := time.Now()

	sameSecond := ctime.Truncate(time.Second).Equal(now.Truncate(time.Second))

	return sameSecond && info.Mode()&0o111 != 0
}

// lenientLookup implements readsfv's CRC lookup (spec.md §4.5): the
// lenient filename match against every SfvEntry, returning the first hit's
// CRC, or 0 if none match.
func (v *Verifier) lenientLookup(fname string, entries []sfvdata.SfvEntry) uint32 {
	for _, e := range entries {
		if direlper.LenientCompare(fname, e.Fname, v.cfg.SfvCleanupLowercase, v.cfg.SfvLenient) {
			return e.Crc32
		}
	}

	return 0
}
