// Package headdata defines the per-release HeadEntry record (spec.md §3)
// and its binary codec. The record store and lock semantics built on top
// of it live in internal/lockmgr; this package only owns the layout.
package headdata

import (
	"encoding/binary"
	"fmt"

	"github.com/somecodingdude/pzs-ng/internal/recordio"
)

// DataVersion is the schema stamp every HeadEntry carries. A mismatch means
// the on-disk layout predates (or postdates) this build and the caller must
// refuse to operate (spec.md §3, §4.2, §8 scenario 6).
const DataVersion uint32 = 3

// ReleaseType classifies the dominant content of a release, set by SFV
// ingest (spec.md §4.3) and persisted across lock cycles.
type ReleaseType uint32

const (
	TypeUnknown ReleaseType = iota
	TypeAudio
	TypeVideo
	TypeRar
	TypeOther
)

// Size is the encoded byte width of one HeadEntry record:
// 6 uint32 fields (24) + 1 byte (data_completed) + 1 uint32 (data_pid) = 29.
const Size = 4*6 + 1 + 4

// HeadEntry is the single per-release headdata record (spec.md §3).
type HeadEntry struct {
	DataVersion  uint32
	DataType     ReleaseType
	DataInUse    uint32 // caller-program code; 0 = unlocked
	Incrementor  uint32 // heartbeat counter; 0 = removal suggested
	Queue        uint32 // FIFO ticket counter
	QCurrent     uint32 // FIFO serving counter
	DataCompleted bool
	Pid          uint32
}

// Clean returns the HeadEntry a brand-new or stale-reclaimed headdata file
// should hold for a fresh lock holder.
func Clean(progCode, pid uint32) HeadEntry {
	return HeadEntry{
		DataVersion: DataVersion,
		DataType:    TypeUnknown,
		DataInUse:   progCode,
		Incrementor: 1,
		Queue:       1,
		QCurrent:    0,
		Pid:         pid,
	}
}

// Codec implements recordio.Codec[HeadEntry].
type Codec struct{}

func (Codec) Size() int { return Size }

func (Codec) Encode(h HeadEntry) []byte {
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint32(buf[0:4], h.DataVersion)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.DataType))
	binary.LittleEndian.PutUint32(buf[8:12], h.DataInUse)
	binary.LittleEndian.PutUint32(buf[12:16], h.Incrementor)
	binary.LittleEndian.PutUint32(buf[16:20], h.Queue)
	binary.LittleEndian.PutUint32(buf[20:24], h.QCurrent)

	if h.DataCompleted {
		buf[24] = 1
	}

	binary.LittleEndian.PutUint32(buf[25:29], h.Pid)

	return buf
}

func (Codec) Decode(b []byte) (HeadEntry, error) {
	if len(b) != Size {
		return HeadEntry{}, fmt.Errorf("headdata: record is %d bytes, want %d", len(b), Size)
	}

	return HeadEntry{
		DataVersion:   binary.LittleEndian.Uint32(b[0:4]),
		DataType:      ReleaseType(binary.LittleEndian.Uint32(b[4:8])),
		DataInUse:     binary.LittleEndian.Uint32(b[8:12]),
		Incrementor:   binary.LittleEndian.Uint32(b[12:16]),
		Queue:         binary.LittleEndian.Uint32(b[16:20]),
		QCurrent:      binary.LittleEndian.Uint32(b[20:24]),
		DataCompleted: b[24] != 0,
		Pid:           binary.LittleEndian.Uint32(b[25:29]),
	}, nil
}

var _ recordio.Codec[HeadEntry] = Codec{}
