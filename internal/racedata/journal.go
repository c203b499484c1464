package racedata

import (
	"fmt"
	"os"
	"strings"

	"github.com/somecodingdude/pzs-ng/internal/racefs"
	"github.com/somecodingdude/pzs-ng/internal/recordio"
)

// MissingSuffix names the sentinel file verify_racedata creates for an
// entry whose on-disk file has vanished (spec.md §4.4, §6).
const MissingSuffix = "-missing"

// Journal is the per-release racedata file: an append/update/compact log
// of RaceEntry records, with at most one entry per fname (spec.md §3
// invariant, case policy dependent).
type Journal struct {
	store         *recordio.Store[RaceEntry]
	fs            racefs.FS
	dir           string // release directory, for missing-marker side effects
	caseSensitive bool
}

// NewJournal opens the racedata journal at statePath. dir is the
// release directory (not the storage-side state directory) so that
// missing-marker side effects land next to the tracked files.
func NewJournal(fs racefs.FS, statePath, dir string, caseSensitive bool) *Journal {
	return &Journal{
		store:         recordio.New[RaceEntry](fs, statePath, Codec{}),
		fs:            fs,
		dir:           dir,
		caseSensitive: caseSensitive,
	}
}

func (j *Journal) sameName(a, b string) bool {
	if j.caseSensitive {
		return a == b
	}

	return strings.EqualFold(a, b)
}

// WriteRace implements write_race (spec.md §4.4): scan for an entry whose
// fname matches (case policy dependent); overwrite in place if found,
// otherwise append.
func (j *Journal) WriteRace(entry RaceEntry) error {
	idx, found, err := j.store.FindIndex(func(e RaceEntry) bool {
		return j.sameName(e.Fname, entry.Fname)
	})
	if err != nil {
		return fmt.Errorf("racedata: write_race %s: %w", entry.Fname, err)
	}

	if found {
		return j.store.OverwriteAt(idx, entry)
	}

	return j.store.Append(entry)
}

// RemoveFromRace implements remove_from_race (spec.md §4.4): drop every
// entry matching fname and rewrite the file truncated.
func (j *Journal) RemoveFromRace(fname string) error {
	all, err := j.store.ReadAll()
	if err != nil {
		return fmt.Errorf("racedata: remove_from_race %s: %w", fname, err)
	}

	kept := all[:0]

	for _, e := range all {
		if !j.sameName(e.Fname, fname) {
			kept = append(kept, e)
		}
	}

	return j.store.Truncate(kept)
}

// VerifyRacedata implements verify_racedata (spec.md §4.4): for each entry
// whose underlying file no longer exists, create a missing marker and drop
// the entry. RemoveFromRace and ReplaceAll are the other operations that
// drop entries.
func (j *Journal) VerifyRacedata() error {
	all, err := j.store.ReadAll()
	if err != nil {
		return fmt.Errorf("racedata: verify_racedata: %w", err)
	}

	kept := all[:0]

	for _, e := range all {
		exists, serr := j.fs.Exists(j.filePath(e.Fname))
		if serr != nil {
			return fmt.Errorf("racedata: verify_racedata stat %s: %w", e.Fname, serr)
		}

		if !exists {
			if merr := j.createMissing(e.Fname); merr != nil {
				return merr
			}

			continue
		}

		kept = append(kept, e)
	}

	return j.store.Truncate(kept)
}

// ClearFile implements clear_file (spec.md §4.4): mark the matching entry
// Deleted in place, retained for audit rather than dropped.
func (j *Journal) ClearFile(fname string) error {
	idx, found, err := j.store.FindIndex(func(e RaceEntry) bool {
		return j.sameName(e.Fname, fname)
	})
	if err != nil {
		return fmt.Errorf("racedata: clear_file %s: %w", fname, err)
	}

	if !found {
		return nil
	}

	all, err := j.store.ReadAll()
	if err != nil {
		return fmt.Errorf("racedata: clear_file %s: %w", fname, err)
	}

	entry := all[idx]
	entry.Status = Deleted

	return j.store.OverwriteAt(idx, entry)
}

// MatchFile implements match_file (spec.md §4.4): true iff an entry with
// status Checked and exact fname exists.
func (j *Journal) MatchFile(fname string) (bool, error) {
	all, err := j.store.ReadAll()
	if err != nil {
		return false, fmt.Errorf("racedata: match_file %s: %w", fname, err)
	}

	for _, e := range all {
		if e.Status == Checked && e.Fname == fname {
			return true, nil
		}
	}

	return false, nil
}

// ReadAll exposes the decoded entries for the File Verifier's per-release
// scan (spec.md §4.5), which reads and mutates entries in place.
func (j *Journal) ReadAll() ([]RaceEntry, error) {
	return j.store.ReadAll()
}

// ReplaceAll rewrites the whole journal to contain exactly entries, in
// order. The File Verifier's full pass (spec.md §4.5) uses this to drop
// missing entries and persist mutated statuses in a single rewrite,
// rather than chasing shifting indexes through RemoveFromRace calls
// interleaved with OverwriteAt.
func (j *Journal) ReplaceAll(entries []RaceEntry) error {
	return j.store.Truncate(entries)
}

// StatsAggregator receives per-entry classification from ReadRace, keyed
// on uname/group the way racestats' updatestats does (spec.md §4.4).
type StatsAggregator interface {
	AddNotCheckedOrChecked(uname, group string, e RaceEntry)
	AddBad(uname, group string, e RaceEntry)
	AddNfo(uname, group string, e RaceEntry)
}

// ReadRace implements read_race (spec.md §4.4): streams entries, feeding
// agg with NotChecked/Checked entries counted toward user/group totals,
// Bad counted separately, and Nfo presence recorded.
func (j *Journal) ReadRace(agg StatsAggregator) error {
	all, err := j.store.ReadAll()
	if err != nil {
		return fmt.Errorf("racedata: read_race: %w", err)
	}

	for _, e := range all {
		switch e.Status {
		case NotChecked, Checked:
			agg.AddNotCheckedOrChecked(e.Uname, e.Group, e)
		case Bad:
			agg.AddBad(e.Uname, e.Group, e)
		case Nfo:
			agg.AddNfo(e.Uname, e.Group, e)
		}
	}

	return nil
}

func (j *Journal) filePath(fname string) string {
	return j.dir + "/" + fname
}

func (j *Journal) createMissing(fname string) error {
	f, err := j.fs.OpenFile(j.filePath(fname)+MissingSuffix, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o666)
	if err != nil {
		return fmt.Errorf("racedata: create missing marker for %s: %w", fname, err)
	}

	return f.Close()
}
