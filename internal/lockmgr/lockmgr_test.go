package lockmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/somecodingdude/pzs-ng/internal/headdata"
	"github.com/somecodingdude/pzs-ng/internal/racefs"
)

func newTestManager(fs racefs.FS) *Manager {
	m := New(fs, 5*time.Second, 0)
	m.sleep = func(time.Duration) {} // no real sleeping in tests
	return m
}

func TestCreateLock_FreshFileIsAcquired(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	m := newTestManager(fake)

	result, err := m.CreateLock("/storage/rel", 1, ModeDefault)
	require.NoError(t, err)
	require.Equal(t, Acquired, result.Outcome)
}

func TestCreateLock_BusyWhenHeld(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	m := newTestManager(fake)

	_, err := m.CreateLock("/storage/rel", 1, ModeDefault)
	require.NoError(t, err)

	result, err := m.CreateLock("/storage/rel", 2, ModeDefault)
	require.NoError(t, err)
	require.Equal(t, Busy, result.Outcome)
	require.Equal(t, uint32(1), result.Code)
}

func TestCreateLock_Force_SeizesAndResetsQueue(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	m := newTestManager(fake)

	_, err := m.CreateLock("/storage/rel", 1, ModeDefault)
	require.NoError(t, err)

	result, err := m.CreateLock("/storage/rel", 2, ModeForce)
	require.NoError(t, err)
	require.Equal(t, Acquired, result.Outcome)

	entry, err := m.readHead(m.headPath("/storage/rel"))
	require.NoError(t, err)
	require.Equal(t, uint32(2), entry.DataInUse)
	require.Equal(t, uint32(1), entry.Queue)
	require.Equal(t, uint32(0), entry.QCurrent)
}

func TestCreateLock_Enqueue_AssignsFIFOTicket(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	m := newTestManager(fake)

	_, err := m.CreateLock("/storage/rel", 1, ModeDefault)
	require.NoError(t, err)

	first, err := m.CreateLock("/storage/rel", 2, ModeEnqueue)
	require.NoError(t, err)
	require.Equal(t, Queued, first.Outcome)
	require.Equal(t, uint32(1), first.Code)

	second, err := m.CreateLock("/storage/rel", 3, ModeEnqueue)
	require.NoError(t, err)
	require.Equal(t, Queued, second.Outcome)
	require.Equal(t, uint32(2), second.Code)
}

func TestCreateLock_Enqueue_AcquiresWhenFree(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	m := newTestManager(fake)

	result, err := m.CreateLock("/storage/rel", 1, ModeEnqueue)
	require.NoError(t, err)
	require.Equal(t, Acquired, result.Outcome)
}

func TestCreateLock_Suggest_RequestsRemovalWhenHeld(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	m := newTestManager(fake)

	_, err := m.CreateLock("/storage/rel", 1, ModeDefault)
	require.NoError(t, err)

	result, err := m.CreateLock("/storage/rel", 2, ModeSuggest)
	require.NoError(t, err)
	require.Equal(t, Busy, result.Outcome)

	entry, err := m.readHead(m.headPath("/storage/rel"))
	require.NoError(t, err)
	require.Equal(t, uint32(0), entry.Incrementor)
}

func TestCreateLock_Suggest_AcquiresWhenFree(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	m := newTestManager(fake)

	result, err := m.CreateLock("/storage/rel", 1, ModeSuggest)
	require.NoError(t, err)
	require.Equal(t, Acquired, result.Outcome)
}

func TestCreateLock_VersionMismatch(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	m := newTestManager(fake)

	headPath := m.headPath("/storage/rel")
	stale := headdata.Clean(1, 1)
	stale.DataVersion = headdata.DataVersion + 1
	require.NoError(t, m.writeHead(headPath, stale))

	result, err := m.CreateLock("/storage/rel", 2, ModeDefault)
	require.NoError(t, err)
	require.Equal(t, VersionMismatch, result.Outcome)
}

func TestCreateLock_StaleHeaddataIsReclaimed(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	m := newTestManager(fake)

	_, err := m.CreateLock("/storage/rel", 1, ModeDefault)
	require.NoError(t, err)

	fake.Advance(m.staleAfter() + time.Second)

	result, err := m.CreateLock("/storage/rel", 2, ModeDefault)
	require.NoError(t, err)
	require.Equal(t, Acquired, result.Outcome)

	entry, err := m.readHead(m.headPath("/storage/rel"))
	require.NoError(t, err)
	require.Equal(t, uint32(2), entry.DataInUse)
}

func TestHandle_Update_HeartbeatIncrementsIncrementor(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	m := newTestManager(fake)

	_, err := m.CreateLock("/storage/rel", 1, ModeDefault)
	require.NoError(t, err)

	handle := m.Handle("/storage/rel", 1)

	outcome, err := handle.Update(true, headdata.TypeUnknown)
	require.NoError(t, err)
	require.Equal(t, Continue, outcome)

	entry, err := m.readHead(m.headPath("/storage/rel"))
	require.NoError(t, err)
	require.Equal(t, uint32(2), entry.Incrementor)
}

func TestHandle_Update_ObservesRemovalRequested(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	m := newTestManager(fake)

	_, err := m.CreateLock("/storage/rel", 1, ModeDefault)
	require.NoError(t, err)

	handle := m.Handle("/storage/rel", 1)

	// A peer in Suggest mode writes incrementor=0.
	_, err = m.CreateLock("/storage/rel", 2, ModeSuggest)
	require.NoError(t, err)

	outcome, err := handle.Update(true, headdata.TypeUnknown)
	require.NoError(t, err)
	require.Equal(t, RemovalRequested, outcome)
}

func TestHandle_Update_LostWhenPidDiffers(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	m := newTestManager(fake)

	_, err := m.CreateLock("/storage/rel", 1, ModeDefault)
	require.NoError(t, err)

	headPath := m.headPath("/storage/rel")
	entry, err := m.readHead(headPath)
	require.NoError(t, err)
	entry.Pid = entry.Pid + 1
	require.NoError(t, m.writeHead(headPath, entry))

	handle := m.Handle("/storage/rel", 1)

	outcome, err := handle.Update(true, headdata.TypeUnknown)
	require.NoError(t, err)
	require.Equal(t, Lost, outcome)
}

func TestHandle_Update_PropagatesDataType(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	m := newTestManager(fake)

	_, err := m.CreateLock("/storage/rel", 1, ModeDefault)
	require.NoError(t, err)

	handle := m.Handle("/storage/rel", 1)

	_, err = handle.Update(true, headdata.TypeAudio)
	require.NoError(t, err)

	entry, err := m.readHead(m.headPath("/storage/rel"))
	require.NoError(t, err)
	require.Equal(t, headdata.TypeAudio, entry.DataType)
}

func TestHandle_Remove_ReleasesAndAdvancesQueue(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	m := newTestManager(fake)

	_, err := m.CreateLock("/storage/rel", 1, ModeDefault)
	require.NoError(t, err)

	handle := m.Handle("/storage/rel", 1)

	require.NoError(t, handle.Remove(true))

	entry, err := m.readHead(m.headPath("/storage/rel"))
	require.NoError(t, err)
	require.Equal(t, uint32(0), entry.DataInUse)
	require.Equal(t, uint32(0), entry.Pid)
	require.Equal(t, uint32(0), entry.Incrementor)
	require.True(t, entry.DataCompleted)
	require.Equal(t, uint32(1), entry.QCurrent)
}

func TestNormalizeQueue_ResetsOnInvariantViolation(t *testing.T) {
	t.Parallel()

	entry := headdata.HeadEntry{Queue: 1, QCurrent: 2}
	normalizeQueue(&entry)

	require.Equal(t, uint32(0), entry.Queue)
	require.Equal(t, uint32(0), entry.QCurrent)
}
