package headdata_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/somecodingdude/pzs-ng/internal/headdata"
)

func TestCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	entry := headdata.HeadEntry{
		DataVersion:   headdata.DataVersion,
		DataType:      headdata.TypeVideo,
		DataInUse:     42,
		Incrementor:   7,
		Queue:         3,
		QCurrent:      1,
		DataCompleted: true,
		Pid:           1234,
	}

	buf := headdata.Codec{}.Encode(entry)
	require.Len(t, buf, headdata.Size)

	decoded, err := headdata.Codec{}.Decode(buf)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(entry, decoded), "round-trip mismatch")
}

func TestCodec_Decode_RejectsWrongSize(t *testing.T) {
	t.Parallel()

	_, err := headdata.Codec{}.Decode(make([]byte, headdata.Size-1))
	require.Error(t, err)
}

func TestClean_PopulatesFreshLockState(t *testing.T) {
	t.Parallel()

	entry := headdata.Clean(5, 999)

	require.Equal(t, headdata.DataVersion, entry.DataVersion)
	require.Equal(t, headdata.TypeUnknown, entry.DataType)
	require.Equal(t, uint32(5), entry.DataInUse)
	require.Equal(t, uint32(1), entry.Incrementor)
	require.Equal(t, uint32(1), entry.Queue)
	require.Equal(t, uint32(0), entry.QCurrent)
	require.Equal(t, uint32(999), entry.Pid)
}
