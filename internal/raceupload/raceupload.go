// Package raceupload wires the Lock Manager, SFV Ingest, Racedata
// Journal, and File Verifier into the two control-flow paths spec.md §2
// describes, as a single explicit per-invocation context value rather
// than the source's threaded-global VARS/LOCATIONS aggregate (spec.md §9,
// "global mutable state → struct-of-state").
package raceupload

import (
	"fmt"

	"github.com/somecodingdude/pzs-ng/internal/diag"
	"github.com/somecodingdude/pzs-ng/internal/direlper"
	"github.com/somecodingdude/pzs-ng/internal/headdata"
	"github.com/somecodingdude/pzs-ng/internal/lockmgr"
	"github.com/somecodingdude/pzs-ng/internal/raceconfig"
	"github.com/somecodingdude/pzs-ng/internal/racedata"
	"github.com/somecodingdude/pzs-ng/internal/racefs"
	"github.com/somecodingdude/pzs-ng/internal/recordio"
	"github.com/somecodingdude/pzs-ng/internal/sfvdata"
	"github.com/somecodingdude/pzs-ng/internal/sfvingest"
	"github.com/somecodingdude/pzs-ng/internal/verifier"
)

// Context is the per-invocation state every component operation needs:
// the release being operated on, its storage-side state directory, and
// the shared filesystem/config/diagnostics collaborators. One Context is
// constructed per process invocation and passed by reference; nothing
// here is package-level mutable state.
type Context struct {
	FS       racefs.FS
	Config   raceconfig.Config
	Diag     diag.Sink
	Lockmgr  *lockmgr.Manager
	ProgCode uint32

	// RelPath identifies the release beneath both the storage root (for
	// headdata/racedata/sfv) and the allowed_types_exemption_dirs check.
	RelPath string
	// ReleaseDir is the on-disk directory holding the uploaded files and
	// the textual SFV - the chrooted site path, not the storage path.
	ReleaseDir string
}

// New constructs a Context. cfg.MaxWait()/LockOptimize() parameterize the
// embedded lock manager.
func New(fs racefs.FS, cfg raceconfig.Config, sink diag.Sink, progCode uint32, relPath, releaseDir string) *Context {
	if sink == nil {
		sink = diag.Discard
	}

	return &Context{
		FS:         fs,
		Config:     cfg,
		Diag:       sink,
		Lockmgr:    lockmgr.New(fs, cfg.MaxWait(), cfg.LockOptimize()),
		ProgCode:   progCode,
		RelPath:    relPath,
		ReleaseDir: releaseDir,
	}
}

func (c *Context) storageDir() string {
	return c.Config.StorageRoot + "/" + c.RelPath
}

func (c *Context) racedataPath() string {
	return c.storageDir() + "/racedata"
}

func (c *Context) sfvStatePath() string {
	return c.storageDir() + "/sfv"
}

func (c *Context) journal() *racedata.Journal {
	return racedata.NewJournal(c.FS, c.racedataPath(), c.ReleaseDir, !c.Config.Lowercase)
}

// WithLock acquires the release's headdata lock in mode, ensures the
// storage directory exists, runs fn with the held Handle, and guarantees
// Remove is called on every exit path - including a panic unwinding
// through fn - mirroring the scoped-ownership design spec.md §9 calls for
// in place of the source's manual, leak-prone remove_lock() calls.
//
// completed is the data_completed value persisted on release; fn has no
// way to change it.
func (c *Context) WithLock(mode lockmgr.Mode, completed bool, fn func(*lockmgr.Handle) error) (lockmgr.CreateResult, error) {
	if err := direlper.MakeTempDir(c.FS, c.Config.StorageRoot, c.RelPath); err != nil {
		return lockmgr.CreateResult{}, err
	}

	result, err := c.Lockmgr.CreateLock(c.storageDir(), c.ProgCode, mode)
	if err != nil {
		return result, fmt.Errorf("raceupload: create_lock: %w", err)
	}

	if result.Outcome != lockmgr.Acquired {
		return result, nil
	}

	handle := c.Lockmgr.Handle(c.storageDir(), c.ProgCode)

	defer func() {
		_ = handle.Remove(completed)
	}()

	return result, fn(handle)
}

// IngestSfv runs SFV Ingest over the textual SFV at sfvPath, then
// propagates the classified release type to headdata via the held
// handle's heartbeat, matching copysfv's trailing
// update_lock(raceI, 1, type) call.
func (c *Context) IngestSfv(handle *lockmgr.Handle, sfvPath string) (headdata.ReleaseType, error) {
	ingester := sfvingest.New(c.FS, c.Config, c.Diag)

	dataType, err := ingester.Ingest(sfvPath, c.sfvStatePath(), c.ReleaseDir, c.RelPath)
	if err != nil {
		return headdata.TypeUnknown, err
	}

	if _, err := handle.Update(true, dataType); err != nil {
		return dataType, fmt.Errorf("raceupload: propagate data_type: %w", err)
	}

	return dataType, nil
}

// LookupCrc implements write_race's "populate crc" step (spec.md §4.4):
// a lenient match of fname against the release's ingested sfvdata,
// returning 0 if no entry matches.
func (c *Context) LookupCrc(fname string) (uint32, error) {
	store := recordio.New[sfvdata.SfvEntry](c.FS, c.sfvStatePath(), sfvdata.Codec{})

	entries, err := store.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("raceupload: lookup crc for %s: %w", fname, err)
	}

	for _, e := range entries {
		if direlper.LenientCompare(fname, e.Fname, c.Config.SfvCleanupLowercase, c.Config.SfvLenient) {
			return e.Crc32, nil
		}
	}

	return 0, nil
}

// WriteUploadEvent implements the per-file upload-event path spec.md §2
// names: one write_race call per invocation.
func (c *Context) WriteUploadEvent(entry racedata.RaceEntry) error {
	if err := c.journal().WriteRace(entry); err != nil {
		return fmt.Errorf("raceupload: write_race: %w", err)
	}

	return nil
}

// Rescan implements the rescan path spec.md §2 names: a full File
// Verifier pass over the release's racedata journal.
func (c *Context) Rescan(handle *lockmgr.Handle) error {
	v := verifier.New(c.FS, c.Config, c.Diag)

	if err := v.TestFiles(c.journal(), handle, c.sfvStatePath(), c.ReleaseDir, c.RelPath); err != nil {
		return fmt.Errorf("raceupload: testfiles: %w", err)
	}

	return nil
}

// MatchFile reports whether fname has a Checked entry in the journal
// (match_file, spec.md §4.4).
func (c *Context) MatchFile(fname string) (bool, error) {
	return c.journal().MatchFile(fname)
}

// VerifyRacedata compacts the journal, dropping entries whose file has
// vanished from disk (verify_racedata, spec.md §4.4).
func (c *Context) VerifyRacedata() error {
	return c.journal().VerifyRacedata()
}
