package racefs

import (
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// unixStatT is the concrete type os.FileInfo.Sys() returns on Unix
// platforms. golang.org/x/sys/unix.Stat_t has an identical layout but Sys()
// always hands back the standard library's syscall.Stat_t, so that's the
// type we assert against.
type unixStatT = syscall.Stat_t

// Real implements [FS] against the real filesystem. Ctime and inode
// comparison read the syscall.Stat_t behind os.FileInfo, Getpid uses
// golang.org/x/sys/unix, and Link is os.Link.
type Real struct{}

// NewReal returns a production [FS].
func NewReal() *Real {
	return &Real{}
}

func (r *Real) Open(path string) (File, error) {
	return os.Open(path)
}

func (r *Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(path, flag, perm)
}

func (r *Real) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

func (r *Real) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

func (r *Real) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (r *Real) ReadDir(path string) ([]os.DirEntry, error) {
	return os.ReadDir(path)
}

func (r *Real) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}

	return err
}

func (r *Real) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

func (r *Real) Link(oldname, newname string) error {
	return os.Link(oldname, newname)
}

func (r *Real) Getpid() int {
	return unix.Getpid()
}

// Ctime extracts the inode change time from a [os.FileInfo] produced by this
// package on Unix. Returns the zero Time if the underlying Sys value isn't a
// *syscall.Stat_t (should not happen on supported platforms).
func (r *Real) Ctime(info os.FileInfo) time.Time {
	st, ok := info.Sys().(*unixStatT)
	if !ok || st == nil {
		return time.Time{}
	}

	return time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
}

func (r *Real) SameFile(a, b os.FileInfo) bool {
	as, aok := a.Sys().(*unixStatT)
	bs, bok := b.Sys().(*unixStatT)

	if !aok || !bok || as == nil || bs == nil {
		return os.SameFile(a, b)
	}

	return as.Dev == bs.Dev && as.Ino == bs.Ino
}
