// Package sfvdata defines the binary SfvEntry record (spec.md §3) that SFV
// Ingest (internal/sfvingest) produces and the File Verifier
// (internal/verifier) reads back for CRC lookups.
package sfvdata

import (
	"encoding/binary"
	"fmt"

	"github.com/somecodingdude/pzs-ng/internal/recordio"
)

// NameMax is the reference platform's NAME_MAX (spec.md §3).
const NameMax = 255

// FnameWidth is NAME_MAX minus the small reserve spec.md §3 calls for -
// mirrors the original implementation's NAME_MAX-9 sizing for sfv filenames.
const FnameWidth = NameMax - 9

// Size is the encoded byte width of one SfvEntry: 4-byte CRC + fixed name field.
const Size = 4 + FnameWidth

// SfvEntry is one manifested file from the textual SFV (spec.md §3).
type SfvEntry struct {
	Crc32 uint32
	Fname string
}

// Codec implements recordio.Codec[SfvEntry].
type Codec struct{}

func (Codec) Size() int { return Size }

func (Codec) Encode(e SfvEntry) []byte {
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint32(buf[0:4], e.Crc32)
	_ = recordio.PutName(buf[4:], e.Fname) // truncation guarded by caller validation

	return buf
}

func (Codec) Decode(b []byte) (SfvEntry, error) {
	if len(b) != Size {
		return SfvEntry{}, fmt.Errorf("sfvdata: record is %d bytes, want %d", len(b), Size)
	}

	return SfvEntry{
		Crc32: binary.LittleEndian.Uint32(b[0:4]),
		Fname: recordio.GetName(b[4:]),
	}, nil
}

var _ recordio.Codec[SfvEntry] = Codec{}
