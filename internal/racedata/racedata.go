// Package racedata defines the binary RaceEntry record (spec.md §3), its
// codec, and the journal operations (write_race, remove_from_race,
// verify_racedata, clear_file, match_file, read_race) spec.md §4.4
// describes.
package racedata

import (
	"encoding/binary"
	"fmt"

	"github.com/somecodingdude/pzs-ng/internal/recordio"
	"github.com/somecodingdude/pzs-ng/internal/sfvdata"
)

// Status is the per-file upload/verification state (spec.md §3).
type Status uint8

const (
	NotChecked Status = iota
	Checked
	Bad
	Missing
	Deleted
	Nfo
	Ignored
)

func (s Status) String() string {
	switch s {
	case NotChecked:
		return "not_checked"
	case Checked:
		return "checked"
	case Bad:
		return "bad"
	case Missing:
		return "missing"
	case Deleted:
		return "deleted"
	case Nfo:
		return "nfo"
	case Ignored:
		return "ignored"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// FnameWidth is the full NAME_MAX, unlike sfvdata's reduced width - the
// original RACEDATA struct stores the complete filename (spec.md §3).
const FnameWidth = sfvdata.NameMax

// UserWidth is the fixed width for uname/group fields (spec.md §3).
const UserWidth = 24

// Size is the encoded byte width of one RaceEntry:
// 1 (status) + 4 (crc32) + FnameWidth + 2*UserWidth + 8 (size) + 8 (speed) + 8 (start_time).
const Size = 1 + 4 + FnameWidth + 2*UserWidth + 8 + 8 + 8

// RaceEntry is one tracked file's upload state and metrics (spec.md §3).
type RaceEntry struct {
	Status    Status
	Crc32     uint32
	Fname     string
	Uname     string
	Group     string
	Size      uint64
	Speed     uint64
	StartTime int64 // UNIX epoch seconds
}

// Codec implements recordio.Codec[RaceEntry].
type Codec struct{}

func (Codec) Size() int { return Size }

func (Codec) Encode(e RaceEntry) []byte {
	buf := make([]byte, Size)

	off := 0
	buf[off] = byte(e.Status)
	off++

	binary.LittleEndian.PutUint32(buf[off:off+4], e.Crc32)
	off += 4

	_ = recordio.PutName(buf[off:off+FnameWidth], e.Fname)
	off += FnameWidth

	_ = recordio.PutName(buf[off:off+UserWidth], e.Uname)
	off += UserWidth

	_ = recordio.PutName(buf[off:off+UserWidth], e.Group)
	off += UserWidth

	binary.LittleEndian.PutUint64(buf[off:off+8], e.Size)
	off += 8

	binary.LittleEndian.PutUint64(buf[off:off+8], e.Speed)
	off += 8

	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(e.StartTime))

	return buf
}

func (Codec) Decode(b []byte) (RaceEntry, error) {
	if len(b) != Size {
		return RaceEntry{}, fmt.Errorf("racedata: record is %d bytes, want %d", len(b), Size)
	}

	off := 0

	status := Status(b[off])
	off++

	crc := binary.LittleEndian.Uint32(b[off : off+4])
	off += 4

	fname := recordio.GetName(b[off : off+FnameWidth])
	off += FnameWidth

	uname := recordio.GetName(b[off : off+UserWidth])
	off += UserWidth

	group := recordio.GetName(b[off : off+UserWidth])
	off += UserWidth

	size := binary.LittleEndian.Uint64(b[off : off+8])
	off += 8

	speed := binary.LittleEndian.Uint64(b[off : off+8])
	off += 8

	startTime := int64(binary.LittleEndian.Uint64(b[off : off+8]))

	return RaceEntry{
		Status:    status,
		Crc32:     crc,
		Fname:     fname,
		Uname:     uname,
		Group:     group,
		Size:      size,
		Speed:     speed,
		StartTime: startTime,
	}, nil
}

var _ recordio.Codec[RaceEntry] = Codec{}
