package extpolicy_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/somecodingdude/pzs-ng/internal/extpolicy"
)

func TestMatchesAny_CaseInsensitiveGlob(t *testing.T) {
	t.Parallel()

	patterns := []string{"mp3", "fl?c"}

	require.True(t, extpolicy.MatchesAny(patterns, "MP3"))
	require.True(t, extpolicy.MatchesAny(patterns, "flac"))
	require.False(t, extpolicy.MatchesAny(patterns, "wav"))
}

func TestIsRar_LiteralAndVolumeNumbering(t *testing.T) {
	t.Parallel()

	require.True(t, extpolicy.IsRar("rar"))
	require.True(t, extpolicy.IsRar("RAR"))
	require.True(t, extpolicy.IsRar("r00"))
	require.True(t, extpolicy.IsRar("r99"))
	require.True(t, extpolicy.IsRar("001"))
	require.False(t, extpolicy.IsRar("r1"))
	require.False(t, extpolicy.IsRar("mp3"))
}

func TestMatchPath_GlobAndPrefixMatch(t *testing.T) {
	t.Parallel()

	patterns := []string{"/site/incoming/*"}

	require.True(t, extpolicy.MatchPath(patterns, "/site/incoming/something"))
	require.False(t, extpolicy.MatchPath(patterns, "/site/other"))

	prefixPatterns := []string{"/site/exempt/"}
	require.True(t, extpolicy.MatchPath(prefixPatterns, "/site/exempt/deep/nested"))
	require.False(t, extpolicy.MatchPath(prefixPatterns, "/site/exempt"))
}

func TestExt_LowercasesAndStripsDot(t *testing.T) {
	t.Parallel()

	require.Equal(t, "mp3", extpolicy.Ext("track.MP3"))
	require.Equal(t, "", extpolicy.Ext("noext"))
	require.Equal(t, "r00", extpolicy.Ext("release.r00"))
}
