// Package recordio implements the fixed-size binary record store spec.md
// §4.1 describes: append, read-all, overwrite-by-index, and a linear
// find-by-predicate scan, all against a single flat file of equal-sized
// records. No fsync is performed - callers that need durability for a
// specific write (the SFV cleanup rewrite) use an atomic rename instead of
// relying on this package.
package recordio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/somecodingdude/pzs-ng/internal/racefs"
)

// ErrCorruptRecord indicates a read returned fewer bytes than one full
// record - a torn write, most likely from a crash mid-append.
var ErrCorruptRecord = errors.New("recordio: corrupt record (partial read)")

// Codec encodes and decodes one fixed-size record of type T.
//
// Size must be constant for a given Codec; every record the Store writes or
// reads is exactly that many bytes.
type Codec[T any] interface {
	Size() int
	Encode(v T) []byte
	Decode(b []byte) (T, error)
}

// Store is a fixed-size binary record file for records of type T.
//
// A Store has no in-memory state of its own; every method opens the
// underlying file, does its work, and closes it. Concurrent access across
// processes must be serialized by the caller (see internal/lockmgr) - Store
// itself does no locking.
type Store[T any] struct {
	fs    racefs.FS
	path  string
	codec Codec[T]
}

// New returns a Store for path using codec. The file is not created until
// the first [Store.Append] or [Store.Truncate]; [Store.OverwriteAt] fails
// on a missing file.
func New[T any](fs racefs.FS, path string, codec Codec[T]) *Store[T] {
	return &Store[T]{fs: fs, path: path, codec: codec}
}

// Append opens the file (creating it with mode 0666 if absent), seeks to
// the end, and writes exactly one record.
func (s *Store[T]) Append(entry T) error {
	f, err := s.fs.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o666)
	if err != nil {
		return fmt.Errorf("recordio: open %s: %w", s.path, err)
	}
	defer f.Close()

	buf := s.codec.Encode(entry)

	n, err := f.Write(buf)
	if err != nil {
		return fmt.Errorf("recordio: write %s: %w", s.path, err)
	}

	if n != len(buf) {
		return fmt.Errorf("recordio: short write to %s (%d != %d)", s.path, n, len(buf))
	}

	return nil
}

// ReadAll reads every record in the file in order. A missing file yields an
// empty slice and no error. A trailing partial record yields
// [ErrCorruptRecord] with whatever complete records were read so far.
func (s *Store[T]) ReadAll() ([]T, error) {
	exists, err := s.fs.Exists(s.path)
	if err != nil {
		return nil, fmt.Errorf("recordio: stat %s: %w", s.path, err)
	}

	if !exists {
		return nil, nil
	}

	f, err := s.fs.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("recordio: open %s: %w", s.path, err)
	}
	defer f.Close()

	size := s.codec.Size()
	buf := make([]byte, size)

	var out []T

	for {
		n, rerr := io.ReadFull(f, buf)
		if rerr == io.EOF {
			return out, nil
		}

		if rerr == io.ErrUnexpectedEOF {
			return out, fmt.Errorf("recordio: %s: %w (got %d of %d bytes)", s.path, ErrCorruptRecord, n, size)
		}

		if rerr != nil {
			return out, fmt.Errorf("recordio: read %s: %w", s.path, rerr)
		}

		rec, derr := s.codec.Decode(buf)
		if derr != nil {
			return out, fmt.Errorf("recordio: decode %s: %w", s.path, derr)
		}

		out = append(out, rec)
	}
}

// OverwriteAt seeks to index*recordSize and writes entry in place. The file
// must already contain at least index+1 records.
func (s *Store[T]) OverwriteAt(index int, entry T) error {
	f, err := s.fs.OpenFile(s.path, os.O_RDWR, 0o666)
	if err != nil {
		return fmt.Errorf("recordio: open %s: %w", s.path, err)
	}
	defer f.Close()

	size := int64(s.codec.Size())

	if _, err := f.Seek(int64(index)*size, io.SeekStart); err != nil {
		return fmt.Errorf("recordio: seek %s: %w", s.path, err)
	}

	buf := s.codec.Encode(entry)

	n, err := f.Write(buf)
	if err != nil {
		return fmt.Errorf("recordio: write %s: %w", s.path, err)
	}

	if n != len(buf) {
		return fmt.Errorf("recordio: short write to %s (%d != %d)", s.path, n, len(buf))
	}

	return nil
}

// FindIndex scans from the start of the file and returns the index of the
// first record for which pred returns true.
func (s *Store[T]) FindIndex(pred func(T) bool) (int, bool, error) {
	all, err := s.ReadAll()
	if err != nil && len(all) == 0 {
		return -1, false, err
	}

	for i, rec := range all {
		if pred(rec) {
			return i, true, nil
		}
	}

	return -1, false, nil
}

// Truncate rewrites the file to contain exactly entries, in order. Used by
// the racedata journal's compaction operations (remove_from_race,
// verify_racedata) which must drop records rather than overwrite them.
func (s *Store[T]) Truncate(entries []T) error {
	f, err := s.fs.OpenFile(s.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o666)
	if err != nil {
		return fmt.Errorf("recordio: open %s: %w", s.path, err)
	}
	defer f.Close()

	for _, entry := range entries {
		buf := s.codec.Encode(entry)

		n, werr := f.Write(buf)
		if werr != nil {
			return fmt.Errorf("recordio: write %s: %w", s.path, werr)
		}

		if n != len(buf) {
			return fmt.Errorf("recordio: short write to %s (%d != %d)", s.path, n, len(buf))
		}
	}

	return nil
}

// Path returns the underlying file path.
func (s *Store[T]) Path() string {
	return s.path
}
