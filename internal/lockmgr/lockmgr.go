// Package lockmgr implements the headdata lock protocol spec.md §4.2
// describes: a hard-link(2) filesystem mutex guarding read-modify-write
// access to a per-release headdata record, a FIFO queue for waiters, and a
// cooperative incrementor/cancellation channel between a lock holder and a
// peer that wants it back.
package lockmgr

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/somecodingdude/pzs-ng/internal/headdata"
	"github.com/somecodingdude/pzs-ng/internal/racefs"
)

// Mode selects create_lock's acquisition behavior (spec.md §4.2).
type Mode int

const (
	ModeDefault Mode = iota
	ModeSuggest
	ModeForce
	ModeEnqueue
)

// Outcome is create_lock's result (spec.md §4.2, §7).
type Outcome int

const (
	Acquired Outcome = iota
	Busy
	Queued
	VersionMismatch
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case Busy:
		return "busy"
	case Queued:
		return "queued"
	case VersionMismatch:
		return "version_mismatch"
	default:
		return "unknown"
	}
}

// CreateResult is create_lock's full return value. Code carries the busy
// holder's prog_code when Outcome is Busy, or the assigned FIFO ticket
// when Outcome is Queued; it is meaningless otherwise.
type CreateResult struct {
	Outcome Outcome
	Code    uint32
}

// UpdateOutcome is update_lock's result (spec.md §4.2, §7).
type UpdateOutcome int

const (
	Continue UpdateOutcome = iota
	VersionStop
	RemovalRequested
	Fatal
	Lost
)

// Manager mediates acquisition of a single release's headdata lock.
// A Manager holds no per-release state; every call takes the release's
// storage directory explicitly, so one Manager serves every release.
type Manager struct {
	fs           racefs.FS
	maxWait      time.Duration
	lockOptimize time.Duration
	sleep        func(time.Duration)
}

// New returns a Manager. maxWait is max_seconds_wait_for_lock; staleness
// for both the .lock file and the headdata file itself is 5x maxWait.
// lockOptimize is the write-back throttle window for update_lock
// heartbeats; zero disables throttling (every heartbeat is persisted).
func New(fs racefs.FS, maxWait, lockOptimize time.Duration) *Manager {
	return &Manager{
		fs:           fs,
		maxWait:      maxWait,
		lockOptimize: lockOptimize,
		sleep:        time.Sleep,
	}
}

func (m *Manager) headPath(storageDir string) string {
	return filepath.Join(storageDir, "headdata")
}

func (m *Manager) readHead(headPath string) (headdata.HeadEntry, error) {
	f, err := m.fs.Open(headPath)
	if err != nil {
		return headdata.HeadEntry{}, fmt.Errorf("lockmgr: open %s: %w", headPath, err)
	}
	defer f.Close()

	buf := make([]byte, headdata.Size)

	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return headdata.HeadEntry{}, fmt.Errorf("lockmgr: read %s: %w", headPath, err)
	}

	return headdata.Codec{}.Decode(buf[:n])
}

func (m *Manager) writeHead(headPath string, entry headdata.HeadEntry) error {
	f, err := m.fs.OpenFile(headPath, osWriteFlags, 0o666)
	if err != nil {
		return fmt.Errorf("lockmgr: open %s: %w", headPath, err)
	}
	defer f.Close()

	buf := headdata.Codec{}.Encode(entry)

	n, err := f.Write(buf)
	if err != nil {
		return fmt.Errorf("lockmgr: write %s: %w", headPath, err)
	}

	if n != len(buf) {
		return fmt.Errorf("lockmgr: short write to %s (%d != %d)", headPath, n, len(buf))
	}

	return nil
}

// normalizeQueue enforces the qcurrent <= queue invariant (spec.md §3):
// if qcurrent ever exceeds queue, both reset to zero.
func normalizeQueue(e *headdata.HeadEntry) {
	if e.QCurrent > e.Queue {
		e.Queue = 0
		e.QCurrent = 0
	}
}

// CreateLock implements create_lock (spec.md §4.2).
func (m *Manager) CreateLock(storageDir string, progCode uint32, mode Mode) (CreateResult, error) {
	headPath := m.headPath(storageDir)

	// The headdata file must exist before link(2) can mutex on it -
	// open(O_CREAT) happens unconditionally, ahead of the lock attempt,
	// same as the source's create_lock.
	empty, err := m.ensureHeadFile(headPath)
	if err != nil {
		return CreateResult{}, err
	}

	var result CreateResult

	err = m.withHeadMutex(headPath, func() error {
		if empty {
			fresh := headdata.Clean(progCode, uint32(m.fs.Getpid()))
			if err := m.writeHead(headPath, fresh); err != nil {
				return err
			}

			result = CreateResult{Outcome: Acquired}

			return nil
		}

		entry, err := m.readHead(headPath)
		if err != nil {
			return err
		}

		if entry.DataVersion != headdata.DataVersion {
			result = CreateResult{Outcome: VersionMismatch}
			return nil
		}

		info, err := m.fs.Stat(headPath)
		if err != nil {
			return fmt.Errorf("lockmgr: stat %s: %w", headPath, err)
		}

		if time.Since(m.fs.Ctime(info)) > m.staleAfter() {
			fresh := headdata.Clean(progCode, uint32(m.fs.Getpid()))
			if err := m.writeHead(headPath, fresh); err != nil {
				return err
			}

			result = CreateResult{Outcome: Acquired}

			return nil
		}

		result, err = m.dispatchMode(headPath, entry, progCode, mode)

		return err
	})

	return result, err
}

func (m *Manager) dispatchMode(headPath string, entry headdata.HeadEntry, progCode uint32, mode Mode) (CreateResult, error) {
	pid := uint32(m.fs.Getpid())

	switch mode {
	case ModeForce:
		entry.DataInUse = progCode
		entry.Incrementor = 1
		entry.Pid = pid
		entry.Queue = 1
		entry.QCurrent = 0

		if err := m.writeHead(headPath, entry); err != nil {
			return CreateResult{}, err
		}

		return CreateResult{Outcome: Acquired}, nil

	case ModeEnqueue:
		othersQueued := entry.DataInUse == 0 && entry.QCurrent < entry.Queue

		if entry.DataInUse != 0 || othersQueued {
			ticket := entry.Queue
			entry.Queue++

			normalizeQueue(&entry)

			if err := m.writeHead(headPath, entry); err != nil {
				return CreateResult{}, err
			}

			return CreateResult{Outcome: Queued, Code: ticket}, nil
		}

		entry.DataInUse = progCode
		entry.Incrementor = 1
		entry.Pid = pid

		if err := m.writeHead(headPath, entry); err != nil {
			return CreateResult{}, err
		}

		return CreateResult{Outcome: Acquired}, nil

	case ModeSuggest:
		if entry.DataInUse != 0 {
			entry.Incrementor = 0

			if err := m.writeHead(headPath, entry); err != nil {
				return CreateResult{}, err
			}

			return CreateResult{Outcome: Busy, Code: entry.DataInUse}, nil
		}

		// Nothing to suggest removal of; fall through to a normal
		// acquire, same as the default mode would do on a free lock.
		fallthrough

	default:
		if entry.DataInUse != 0 {
			return CreateResult{Outcome: Busy, Code: entry.DataInUse}, nil
		}

		entry.Incrementor = 1
		entry.DataInUse = progCode
		entry.Pid = pid

		if err := m.writeHead(headPath, entry); err != nil {
			return CreateResult{}, err
		}

		return CreateResult{Outcome: Acquired}, nil
	}
}

// Handle is a held lock: the logical state (data_in_use == progCode, pid
// == our pid, incrementor > 0) that CreateLock established. It carries no
// open file descriptor and no long-lived filesystem mutex - only
// Update/Remove's brief critical sections touch headdata.lock.
type Handle struct {
	mgr        *Manager
	storageDir string
	progCode   uint32
	pid        uint32
}

// Handle returns the Handle for a lock that CreateLock reported Acquired
// for storageDir and progCode; the caller uses it for subsequent
// heartbeats and release.
func (m *Manager) Handle(storageDir string, progCode uint32) *Handle {
	return &Handle{mgr: m, storageDir: storageDir, progCode: progCode, pid: uint32(m.fs.Getpid())}
}

// Update implements update_lock (spec.md §4.2). heartbeat=false writes
// incrementor=0, suggesting removal to whoever holds the lock (used by a
// peer in Suggest mode, or by self-cancellation). heartbeat=true is the
// holder's own periodic heartbeat/liveness check.
func (h *Handle) Update(heartbeat bool, newDataType headdata.ReleaseType) (UpdateOutcome, error) {
	headPath := h.mgr.headPath(h.storageDir)

	var outcome UpdateOutcome

	err := h.mgr.withHeadMutex(headPath, func() error {
		entry, err := h.mgr.readHead(headPath)
		if err != nil {
			return err
		}

		if !heartbeat {
			entry.Incrementor = 0
			outcome = Continue

			return h.mgr.writeHead(headPath, entry)
		}

		if entry.DataVersion != headdata.DataVersion {
			outcome = VersionStop
			return nil
		}

		if entry.DataInUse != h.progCode {
			outcome = Fatal
			return nil
		}

		if entry.Incrementor == 0 {
			outcome = RemovalRequested
			return nil
		}

		if entry.Pid != h.pid {
			entry.Queue--
			normalizeQueue(&entry)
			outcome = Lost

			return h.mgr.writeHead(headPath, entry)
		}

		dataTypeChanged := newDataType != headdata.TypeUnknown && entry.DataType != newDataType
		if dataTypeChanged {
			entry.DataType = newDataType
		}

		entry.Incrementor++
		outcome = Continue

		if !h.mgr.shouldWriteBack(headPath, dataTypeChanged, entry.Incrementor) {
			return nil
		}

		return h.mgr.writeHead(headPath, entry)
	})

	return outcome, err
}

// shouldWriteBack implements update_lock's write-back throttle (spec.md
// §4.2): always write when throttling is disabled or the data_type just
// changed; otherwise write only once the headdata file's ctime has aged
// past the throttle window, and only once the heartbeat count has passed
// its first tick.
func (m *Manager) shouldWriteBack(headPath string, dataTypeChanged bool, incrementor uint32) bool {
	if m.lockOptimize <= 0 || dataTypeChanged {
		return true
	}

	if incrementor <= 1 {
		return false
	}

	info, err := m.fs.Stat(headPath)
	if err != nil {
		return true
	}

	return time.Since(m.fs.Ctime(info)) > m.lockOptimize
}

// Remove implements remove_lock (spec.md §4.2): releases the logical
// lock, advances the FIFO serving counter, and normalizes the queue.
func (h *Handle) Remove(completed bool) error {
	headPath := h.mgr.headPath(h.storageDir)

	return h.mgr.withHeadMutex(headPath, func() error {
		entry, err := h.mgr.readHead(headPath)
		if err != nil {
			return err
		}

		entry.DataInUse = 0
		entry.Pid = 0
		entry.Incrementor = 0
		entry.DataCompleted = completed
		entry.QCurrent++

		normalizeQueue(&entry)

		return h.mgr.writeHead(headPath, entry)
	})
}
