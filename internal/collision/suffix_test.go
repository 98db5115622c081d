package collision

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSuffixedSibling(t *testing.T) {
	testCases := []struct {
		name   string
		path   string
		origin string
		want   string
	}{
		{"plain", "/d/p.jpg", "UNOE", "/d/p__UNOE.jpg"},
		{"dose origin", "/d/v.mp4", "DOSE", "/d/v__DOSE.mp4"},
		{"no extension", "/d/readme", "UNOE", "/d/readme__UNOE"},
		{"multiple dots", "/d/a.tar.gz", "UNOE", "/d/a.tar__UNOE.gz"},
		{"already suffixed", "/d/p__UNOE.jpg", "DOSE", "/d/p__UNOE.jpg"},
		{"already suffixed dose", "/d/p__DOSE.jpg", "UNOE", "/d/p__DOSE.jpg"},
		{"numbered suffix", "/d/p__UNOE_2.jpg", "UNOE", "/d/p__UNOE_2.jpg"},
		{"high numbered suffix", "/d/p__DOSE_13.jpg", "UNOE", "/d/p__DOSE_13.jpg"},
		{"suffix not at end of stem", "/d/p__UNOEsomething.jpg", "UNOE", "/d/p__UNOEsomething__UNOE.jpg"},
		{"lowercase is not a suffix", "/d/p__unoe.jpg", "UNOE", "/d/p__unoe__UNOE.jpg"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, SuffixedSibling(tc.path, tc.origin))
		})
	}
}

// The suffix function must be a fixed point over its own output
func TestSuffixedSiblingFixedPoint(t *testing.T) {
	for _, start := range []string{"/d/p.jpg", "/d/x", "/d/a.tar.gz"} {
		for _, origin := range []string{"UNOE", "DOSE"} {
			once := SuffixedSibling(start, origin)
			require.Equal(t, once, SuffixedSibling(once, origin))
			require.Equal(t, once, SuffixedSibling(once, "DOSE"))
		}
	}
}

func TestFreeSuffixedSibling(t *testing.T) {
	dir := t.TempDir()
	canonical := filepath.Join(dir, "p.jpg")

	// Nothing on disk: plain suffixed name
	require.Equal(t, filepath.Join(dir, "p__UNOE.jpg"), FreeSuffixedSibling(canonical, "UNOE"))

	// First slot taken: probe _2, _3, ...
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p__UNOE.jpg"), []byte("x"), 0o644))
	require.Equal(t, filepath.Join(dir, "p__UNOE_2.jpg"), FreeSuffixedSibling(canonical, "UNOE"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "p__UNOE_2.jpg"), []byte("x"), 0o644))
	require.Equal(t, filepath.Join(dir, "p__UNOE_3.jpg"), FreeSuffixedSibling(canonical, "UNOE"))

	// Already-suffixed input returned unchanged even when it exists
	taken := filepath.Join(dir, "p__UNOE.jpg")
	require.Equal(t, taken, FreeSuffixedSibling(taken, "DOSE"))
}
