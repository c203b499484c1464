package lockmgr

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// retries and retryDelay are the hard-link mutex's fixed backoff schedule
// (spec.md §4.2, §5): 10 attempts, 100ms apart.
const (
	retries    = 10
	retryDelay = 100 * time.Millisecond
)

// ErrLockBusy is returned when the filesystem mutex could not be acquired
// after all retries - the create_lock Busy(-1) outcome.
var ErrLockBusy = errors.New("lockmgr: filesystem mutex busy")

// osWriteFlags is used for every headdata rewrite; the record is always a
// fixed Size bytes, so truncating first keeps the file exactly one record
// long even if a prior version somehow left trailing garbage.
const osWriteFlags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC

// staleAfter is the ctime age past which a leftover .lock file is assumed
// to belong to a crashed holder and is safe to unlink (spec.md §4.2, §5):
// 5x the configured max wait.
func (m *Manager) staleAfter() time.Duration {
	return 5 * m.maxWait
}

// withHeadMutex acquires the link(2)-based filesystem mutex guarding
// headPath's critical section, runs fn, and unconditionally releases the
// mutex before returning - the "scoped ownership" spec.md §9 calls for, so
// no exit path (including a panic unwinding through fn) can leak the
// .lock file.
func (m *Manager) withHeadMutex(headPath string, fn func() error) error {
	lockPath := headPath + ".lock"

	if info, err := m.fs.Stat(lockPath); err == nil {
		if time.Since(m.fs.Ctime(info)) > m.staleAfter() {
			_ = m.fs.Remove(lockPath)
		}
	}

	acquired := false

	for attempt := 0; attempt < retries; attempt++ {
		err := m.fs.Link(headPath, lockPath)
		if err == nil {
			acquired = true
			break
		}

		if attempt < retries-1 {
			m.sleep(retryDelay)
		}
	}

	if !acquired {
		return fmt.Errorf("lockmgr: acquire mutex for %s: %w", headPath, ErrLockBusy)
	}

	defer func() {
		_ = m.fs.Remove(lockPath)
	}()

	return fn()
}

// ensureHeadFile creates an empty headdata file if one is not already
// present, reporting whether it was empty (and so needs fresh defaults
// written once the mutex is held). Open uses a plain O_CREATE, not
// O_EXCL: two processes racing to create the same fresh release's
// headdata file both succeed, same as the source's open(O_CREAT|O_RDWR)
// ahead of its link() loop - the zero-size check (not a create error)
// is what decides who populates defaults.
func (m *Manager) ensureHeadFile(headPath string) (empty bool, err error) {
	f, err := m.fs.OpenFile(headPath, os.O_CREATE|os.O_WRONLY, 0o666)
	if err != nil {
		return false, fmt.Errorf("lockmgr: create %s: %w", headPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("lockmgr: stat %s: %w", headPath, err)
	}

	return info.Size() == 0, nil
}
