package racefs

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Fake is an in-memory [FS] for tests. It models enough of a real POSIX
// filesystem - inode identity, ctime bumped on create/rewrite, hard links
// sharing an inode - for the lock manager and record store tests to observe
// the same staleness and overwrite behavior as the real filesystem.
//
// Fake is safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	inodes  map[uint64]*fakeInode
	paths   map[string]uint64 // path -> inode id
	nextIno uint64
	pid     int
	now     time.Time
}

type fakeInode struct {
	data  []byte
	mode  os.FileMode
	ctime time.Time
	isDir bool
}

// NewFake returns an empty in-memory filesystem rooted at "/".
func NewFake() *Fake {
	return &Fake{
		inodes:  make(map[uint64]*fakeInode),
		paths:   make(map[string]uint64),
		nextIno: 1,
		pid:     1000,
		now:     time.Unix(1_700_000_000, 0),
	}
}

// SetPid overrides the pid reported by Getpid, for simulating multiple
// "processes" against one Fake within a single test goroutine.
func (f *Fake) SetPid(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pid = pid
}

// Advance moves the fake clock forward, used to simulate lock staleness.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
}

func clean(path string) string {
	return filepath.Clean(path)
}

func (f *Fake) Getpid() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.pid
}

func (f *Fake) Ctime(info os.FileInfo) time.Time {
	fi, ok := info.(*fakeFileInfo)
	if !ok {
		return time.Time{}
	}

	return fi.ctime
}

func (f *Fake) SameFile(a, b os.FileInfo) bool {
	fa, aok := a.(*fakeFileInfo)
	fb, bok := b.(*fakeFileInfo)

	if !aok || !bok {
		return false
	}

	return fa.ino == fb.ino
}

func (f *Fake) Open(path string) (File, error) {
	return f.OpenFile(path, os.O_RDONLY, 0)
}

func (f *Fake) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := clean(path)

	ino, ok := f.paths[p]
	if !ok {
		if flag&os.O_CREATE == 0 {
			return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
		}

		ino = f.nextIno
		f.nextIno++
		f.inodes[ino] = &fakeInode{mode: perm, ctime: f.now}
		f.paths[p] = ino
	} else if flag&os.O_EXCL != 0 && flag&os.O_CREATE != 0 {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrExist}
	}

	node := f.inodes[ino]
	if flag&os.O_TRUNC != 0 {
		node.data = nil
		node.ctime = f.now
	}

	fh := &fakeFile{fs: f, ino: ino, path: p, appendMode: flag&os.O_APPEND != 0}
	if flag&os.O_APPEND != 0 {
		fh.pos = int64(len(node.data))
	}

	return fh, nil
}

func (f *Fake) Stat(path string) (os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.statLocked(path)
}

func (f *Fake) statLocked(path string) (os.FileInfo, error) {
	p := clean(path)

	ino, ok := f.paths[p]
	if !ok {
		return nil, &os.PathError{Op: "stat", Path: path, Err: os.ErrNotExist}
	}

	node := f.inodes[ino]

	return &fakeFileInfo{name: filepath.Base(p), ino: ino, size: int64(len(node.data)), mode: node.mode, ctime: node.ctime, isDir: node.isDir}, nil
}

func (f *Fake) Exists(path string) (bool, error) {
	_, err := f.Stat(path)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

func (f *Fake) MkdirAll(path string, perm os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := clean(path)
	if p == "." || p == "/" {
		return nil
	}

	parts := splitAll(p)
	cur := ""

	for _, part := range parts {
		if cur == "" {
			cur = part
		} else {
			cur = cur + "/" + part
		}

		if _, ok := f.paths[cur]; ok {
			continue
		}

		ino := f.nextIno
		f.nextIno++
		f.inodes[ino] = &fakeInode{isDir: true, mode: perm, ctime: f.now}
		f.paths[cur] = ino
	}

	return nil
}

func splitAll(p string) []string {
	p = clean(p)

	var parts []string

	for p != "." && p != "/" && p != "" {
		parts = append([]string{filepath.Base(p)}, parts...)
		p = filepath.Dir(p)
	}

	return parts
}

func (f *Fake) ReadDir(path string) ([]os.DirEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := clean(path)

	var names []string

	for child := range f.paths {
		dir := filepath.Dir(child)
		if dir == p && child != p {
			names = append(names, filepath.Base(child))
		}
	}

	sort.Strings(names)

	entries := make([]os.DirEntry, 0, len(names))

	for _, n := range names {
		info, err := f.statLocked(filepath.Join(p, n))
		if err != nil {
			continue
		}

		entries = append(entries, fakeDirEntry{info: info.(*fakeFileInfo)})
	}

	return entries, nil
}

func (f *Fake) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := clean(path)

	if _, ok := f.paths[p]; !ok {
		return nil
	}

	delete(f.paths, p)

	return nil
}

func (f *Fake) Rename(oldpath, newpath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	op, np := clean(oldpath), clean(newpath)

	ino, ok := f.paths[op]
	if !ok {
		return &os.PathError{Op: "rename", Path: oldpath, Err: os.ErrNotExist}
	}

	delete(f.paths, op)
	f.paths[np] = ino

	return nil
}

func (f *Fake) Link(oldname, newname string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	on, nn := clean(oldname), clean(newname)

	ino, ok := f.paths[on]
	if !ok {
		return &os.PathError{Op: "link", Path: oldname, Err: os.ErrNotExist}
	}

	if _, exists := f.paths[nn]; exists {
		return &os.PathError{Op: "link", Path: newname, Err: os.ErrExist}
	}

	f.paths[nn] = ino

	return nil
}

type fakeFile struct {
	fs         *Fake
	ino        uint64
	path       string
	pos        int64
	appendMode bool
	closed     bool
}

func (ff *fakeFile) node() *fakeInode {
	return ff.fs.inodes[ff.ino]
}

func (ff *fakeFile) Read(p []byte) (int, error) {
	ff.fs.mu.Lock()
	defer ff.fs.mu.Unlock()

	n := ff.node()
	if ff.pos >= int64(len(n.data)) {
		return 0, io.EOF
	}

	c := copy(p, n.data[ff.pos:])
	ff.pos += int64(c)

	return c, nil
}

func (ff *fakeFile) Write(p []byte) (int, error) {
	ff.fs.mu.Lock()
	defer ff.fs.mu.Unlock()

	n := ff.node()
	if ff.appendMode {
		ff.pos = int64(len(n.data))
	}

	end := ff.pos + int64(len(p))
	if end > int64(len(n.data)) {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
	}

	copy(n.data[ff.pos:end], p)
	ff.pos = end
	n.ctime = ff.fs.now

	return len(p), nil
}

func (ff *fakeFile) Seek(offset int64, whence int) (int64, error) {
	ff.fs.mu.Lock()
	defer ff.fs.mu.Unlock()

	n := ff.node()

	var base int64

	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = ff.pos
	case io.SeekEnd:
		base = int64(len(n.data))
	}

	ff.pos = base + offset

	return ff.pos, nil
}

func (ff *fakeFile) Truncate(size int64) error {
	ff.fs.mu.Lock()
	defer ff.fs.mu.Unlock()

	n := ff.node()
	if size <= int64(len(n.data)) {
		n.data = n.data[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, n.data)
		n.data = grown
	}

	n.ctime = ff.fs.now

	return nil
}

func (ff *fakeFile) Close() error {
	ff.closed = true
	return nil
}

func (ff *fakeFile) Fd() uintptr {
	return uintptr(ff.ino)
}

func (ff *fakeFile) Stat() (os.FileInfo, error) {
	ff.fs.mu.Lock()
	defer ff.fs.mu.Unlock()

	n := ff.node()

	return &fakeFileInfo{name: filepath.Base(ff.path), ino: ff.ino, size: int64(len(n.data)), mode: n.mode, ctime: n.ctime, isDir: n.isDir}, nil
}

type fakeFileInfo struct {
	name  string
	ino   uint64
	size  int64
	mode  os.FileMode
	ctime time.Time
	isDir bool
}

func (fi *fakeFileInfo) Name() string       { return fi.name }
func (fi *fakeFileInfo) Size() int64        { return fi.size }
func (fi *fakeFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *fakeFileInfo) ModTime() time.Time { return fi.ctime }
func (fi *fakeFileInfo) IsDir() bool        { return fi.isDir }
func (fi *fakeFileInfo) Sys() any           { return nil }

type fakeDirEntry struct {
	info *fakeFileInfo
}

func (e fakeDirEntry) Name() string               { return e.info.name }
func (e fakeDirEntry) IsDir() bool                 { return e.info.isDir }
func (e fakeDirEntry) Type() os.FileMode           { return e.info.mode.Type() }
func (e fakeDirEntry) Info() (os.FileInfo, error) { return e.info, nil }

var _ io.ReadWriteCloser = (*fakeFile)(nil)
