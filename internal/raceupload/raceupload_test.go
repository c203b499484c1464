package raceupload_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/somecodingdude/pzs-ng/internal/headdata"
	"github.com/somecodingdude/pzs-ng/internal/lockmgr"
	"github.com/somecodingdude/pzs-ng/internal/raceconfig"
	"github.com/somecodingdude/pzs-ng/internal/racedata"
	"github.com/somecodingdude/pzs-ng/internal/racefs"
	"github.com/somecodingdude/pzs-ng/internal/raceupload"
)

const writeCreate = os.O_WRONLY | os.O_CREATE | os.O_TRUNC

func newContext(fake *racefs.Fake) *raceupload.Context {
	cfg := raceconfig.Config{
		StorageRoot:           "/storage",
		MaxSecondsWaitForLock: 5,
		AudioTypes:            []string{"mp3"},
		IgnoredTypes:          []string{"nfo", "sfv"},
	}

	return raceupload.New(fake, cfg, nil, 1, "GROUP/release.name", "/site/GROUP/release.name")
}

func TestWithLock_AcquiresRunsAndReleases(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	rc := newContext(fake)

	var ran bool

	result, err := rc.WithLock(lockmgr.ModeDefault, true, func(h *lockmgr.Handle) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, lockmgr.Acquired, result.Outcome)
	require.True(t, ran)

	// Lock released: a second acquisition succeeds immediately.
	result2, err := rc.WithLock(lockmgr.ModeDefault, true, func(h *lockmgr.Handle) error { return nil })
	require.NoError(t, err)
	require.Equal(t, lockmgr.Acquired, result2.Outcome)
}

func TestWithLock_ReleasesEvenWhenFnErrors(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	rc := newContext(fake)

	_, err := rc.WithLock(lockmgr.ModeDefault, true, func(h *lockmgr.Handle) error {
		return os.ErrInvalid
	})
	require.Error(t, err)

	result, err := rc.WithLock(lockmgr.ModeDefault, true, func(h *lockmgr.Handle) error { return nil })
	require.NoError(t, err)
	require.Equal(t, lockmgr.Acquired, result.Outcome)
}

func TestWithLock_CreatesStorageDirectory(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	rc := newContext(fake)

	_, err := rc.WithLock(lockmgr.ModeDefault, true, func(h *lockmgr.Handle) error { return nil })
	require.NoError(t, err)

	exists, err := fake.Exists("/storage/GROUP/release.name")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestWithLock_BusyDoesNotRunFn(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	rc := newContext(fake)

	storageDir := rc.Config.StorageRoot + "/" + rc.RelPath

	// Another caller (progCode 2) holds the lock outside of WithLock's
	// scoped acquire/release, so rc's own attempt observes Busy.
	result, err := rc.Lockmgr.CreateLock(storageDir, 2, lockmgr.ModeDefault)
	require.NoError(t, err)
	require.Equal(t, lockmgr.Acquired, result.Outcome)

	var ran bool

	withResult, err := rc.WithLock(lockmgr.ModeDefault, false, func(h *lockmgr.Handle) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, lockmgr.Busy, withResult.Outcome)
	require.False(t, ran)
}

func TestIngestSfv_ClassifiesAndPropagatesDataType(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	rc := newContext(fake)

	require.NoError(t, fake.MkdirAll(rc.ReleaseDir, 0o755))

	f, err := fake.OpenFile(rc.ReleaseDir+"/release.sfv", writeCreate, 0o666)
	require.NoError(t, err)
	_, err = f.Write([]byte("track1.mp3 deadbeef\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = rc.WithLock(lockmgr.ModeDefault, false, func(h *lockmgr.Handle) error {
		dataType, ierr := rc.IngestSfv(h, rc.ReleaseDir+"/release.sfv")
		require.NoError(t, ierr)
		require.Equal(t, headdata.TypeAudio, dataType)

		return nil
	})
	require.NoError(t, err)
}

func TestLookupCrc_ReturnsZeroWhenNoSfvIngested(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	rc := newContext(fake)

	crc, err := rc.LookupCrc("anything.mp3")
	require.NoError(t, err)
	require.Equal(t, uint32(0), crc)
}

func TestLookupCrc_MatchesIngestedEntry(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	rc := newContext(fake)

	require.NoError(t, fake.MkdirAll(rc.ReleaseDir, 0o755))

	f, err := fake.OpenFile(rc.ReleaseDir+"/release.sfv", writeCreate, 0o666)
	require.NoError(t, err)
	_, err = f.Write([]byte("track1.mp3 deadbeef\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = rc.WithLock(lockmgr.ModeDefault, false, func(h *lockmgr.Handle) error {
		_, ierr := rc.IngestSfv(h, rc.ReleaseDir+"/release.sfv")
		return ierr
	})
	require.NoError(t, err)

	crc, err := rc.LookupCrc("track1.mp3")
	require.NoError(t, err)
	require.Equal(t, uint32(0xdeadbeef), crc)
}

func TestWriteUploadEventAndMatchFile(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	rc := newContext(fake)

	require.NoError(t, rc.WriteUploadEvent(racedata.RaceEntry{Fname: "a.mp3", Status: racedata.NotChecked}))

	matched, err := rc.MatchFile("a.mp3")
	require.NoError(t, err)
	require.False(t, matched)

	require.NoError(t, rc.WriteUploadEvent(racedata.RaceEntry{Fname: "a.mp3", Status: racedata.Checked}))

	matched, err = rc.MatchFile("a.mp3")
	require.NoError(t, err)
	require.True(t, matched)
}

func TestRescan_RunsVerifierOverJournal(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	rc := newContext(fake)

	require.NoError(t, fake.MkdirAll(rc.ReleaseDir, 0o755))
	f, err := fake.OpenFile(rc.ReleaseDir+"/a.mp3", writeCreate, 0o666)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, rc.WriteUploadEvent(racedata.RaceEntry{Fname: "a.mp3", Status: racedata.NotChecked}))

	_, err = rc.WithLock(lockmgr.ModeDefault, true, func(h *lockmgr.Handle) error {
		return rc.Rescan(h)
	})
	require.NoError(t, err)
}

func TestVerifyRacedata_DropsVanishedEntries(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	rc := newContext(fake)

	require.NoError(t, rc.WriteUploadEvent(racedata.RaceEntry{Fname: "gone.mp3", Status: racedata.NotChecked}))
	require.NoError(t, rc.VerifyRacedata())

	matched, err := rc.MatchFile("gone.mp3")
	require.NoError(t, err)
	require.False(t, matched)
}
