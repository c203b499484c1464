package racefs_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/somecodingdude/pzs-ng/internal/racefs"
)

func TestFake_OpenFileCreatesAndReadsBack(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()

	f, err := fake.OpenFile("/a", os.O_CREATE|os.O_WRONLY, 0o666)
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	g, err := fake.Open("/a")
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := g.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestFake_OpenWithoutCreateOnMissingPathFails(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()

	_, err := fake.Open("/missing")
	require.Error(t, err)
	require.True(t, os.IsNotExist(err))
}

func TestFake_LinkSharesInodeAndContent(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()

	f, err := fake.OpenFile("/a", os.O_CREATE|os.O_WRONLY, 0o666)
	require.NoError(t, err)
	_, err = f.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, fake.Link("/a", "/b"))

	infoA, err := fake.Stat("/a")
	require.NoError(t, err)
	infoB, err := fake.Stat("/b")
	require.NoError(t, err)

	require.True(t, fake.SameFile(infoA, infoB))
}

func TestFake_LinkFailsWhenSourceMissingOrDestExists(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()

	err := fake.Link("/missing", "/dst")
	require.True(t, os.IsNotExist(err))

	f, err := fake.OpenFile("/a", os.O_CREATE|os.O_WRONLY, 0o666)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	g, err := fake.OpenFile("/b", os.O_CREATE|os.O_WRONLY, 0o666)
	require.NoError(t, err)
	require.NoError(t, g.Close())

	err = fake.Link("/a", "/b")
	require.True(t, os.IsExist(err))
}

func TestFake_WriteBumpsCtime(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()

	f, err := fake.OpenFile("/a", os.O_CREATE|os.O_WRONLY, 0o666)
	require.NoError(t, err)
	_, err = f.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	before, err := fake.Stat("/a")
	require.NoError(t, err)
	ctimeBefore := fake.Ctime(before)

	fake.Advance(10 * time.Second)

	g, err := fake.OpenFile("/a", os.O_WRONLY, 0o666)
	require.NoError(t, err)
	_, err = g.Write([]byte("y"))
	require.NoError(t, err)
	require.NoError(t, g.Close())

	after, err := fake.Stat("/a")
	require.NoError(t, err)
	ctimeAfter := fake.Ctime(after)

	require.True(t, ctimeAfter.After(ctimeBefore))
}

func TestFake_SetPidOverridesGetpid(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	fake.SetPid(4242)

	require.Equal(t, 4242, fake.Getpid())
}

func TestFake_RemoveThenExistsIsFalse(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()

	f, err := fake.OpenFile("/a", os.O_CREATE|os.O_WRONLY, 0o666)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, fake.Remove("/a"))

	exists, err := fake.Exists("/a")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestFake_RenameMovesPathKeepingInode(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()

	f, err := fake.OpenFile("/a", os.O_CREATE|os.O_WRONLY, 0o666)
	require.NoError(t, err)
	_, err = f.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, fake.Rename("/a", "/b"))

	exists, err := fake.Exists("/a")
	require.NoError(t, err)
	require.False(t, exists)

	g, err := fake.Open("/b")
	require.NoError(t, err)

	buf := make([]byte, 1)
	_, err = g.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "x", string(buf))
}

func TestFake_ReadDirSortsAndSkipsNested(t *testing.T) {
	t.Parallel()

	fake := racefs.NewFake()
	require.NoError(t, fake.MkdirAll("/dir", 0o755))

	for _, name := range []string{"/dir/z", "/dir/a"} {
		f, err := fake.OpenFile(name, os.O_CREATE|os.O_WRONLY, 0o666)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	entries, err := fake.ReadDir("/dir")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a", entries[0].Name())
	require.Equal(t, "z", entries[1].Name())
}
