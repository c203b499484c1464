// Package racefs provides the filesystem abstraction every other package in
// this module uses instead of touching the os package directly. Swapping in
// [Fake] makes the lock manager and record store testable without real
// files, real ctime, or real process ids.
package racefs

import (
	"io"
	"os"
	"time"
)

// File is an open file descriptor. Satisfied by [os.File].
type File interface {
	io.ReadWriteCloser
	io.Seeker

	Fd() uintptr
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
}

// FS defines the filesystem operations the racekeeper packages need.
//
// Paths use OS semantics, not the slash-separated semantics of io/fs.
//
// Implementations must be safe for concurrent use by multiple goroutines,
// though not necessarily by multiple processes - that guarantee, where it
// exists, comes from [FS.Link] being atomic at the OS level.
type FS interface {
	// Open opens a file for reading. See [os.Open].
	Open(path string) (File, error)

	// OpenFile opens a file with explicit flags and permissions. See [os.OpenFile].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// Stat returns file info, including mode and size. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether path exists. (false, nil) if absent.
	Exists(path string) (bool, error)

	// MkdirAll creates a directory and all parents, mode before umask. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// ReadDir lists directory entries sorted by name. See [os.ReadDir].
	ReadDir(path string) ([]os.DirEntry, error)

	// Remove deletes a file or empty directory. See [os.Remove].
	// Returns nil if the path does not exist.
	Remove(path string) error

	// Rename moves path atomically within the same filesystem. See [os.Rename].
	Rename(oldpath, newpath string) error

	// Link creates newname as a hard link to the file at oldname. See [os.Link].
	// This is the primitive the lock manager's mutex is built on.
	Link(oldname, newname string) error

	// Getpid returns the identifier of the calling process.
	Getpid() int

	// Ctime returns the inode change time recorded in info, the metadata
	// clock the lock manager uses to judge staleness. Not portable outside
	// Unix; see [Real.Ctime].
	Ctime(info os.FileInfo) time.Time

	// SameFile reports whether a and b refer to the same underlying inode.
	SameFile(a, b os.FileInfo) bool
}
