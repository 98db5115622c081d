package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyDirectories(t *testing.T) {
	testCases := []struct {
		name   string
		origin string
		entry  string
		want   string
	}{
		{"mapped pictures", OriginUNOE, "Pictures", "02_Media/Photos"},
		{"mapped audio", OriginDOSE, "AUDIO", "02_Media/Audio"},
		{"mapped video", OriginUNOE, "Video", "02_Media/Video"},
		{"as-is ash", OriginUNOE, "ASH", "ASH"},
		{"as-is backups", OriginDOSE, "Backups", "Backups"},
		{"as-is dropbox", OriginUNOE, "Dropbox", "Dropbox"},
		{"recovery", OriginDOSE, "found.000", "90_System_Artifacts/Recovered_found.000"},
		{"unmapped", OriginUNOE, "Old_Archive", "90_System_Artifacts/Unmapped_Folders/UNOE/Old_Archive"},
		{"unmapped other origin", OriginDOSE, "Old_Archive", "90_System_Artifacts/Unmapped_Folders/DOSE/Old_Archive"},
		{"name with spaces", OriginUNOE, "My Documents", "01_Documents"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Classify(tc.origin, tc.entry, KindDir)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyLooseFiles(t *testing.T) {
	testCases := []struct {
		name   string
		origin string
		entry  string
		want   string
	}{
		{"jpeg", OriginUNOE, "vacation.jpg", "02_Media/Photos/_From_Root/UNOE/vacation.jpg"},
		{"uppercase ext", OriginUNOE, "scan.TIFF", "02_Media/Photos/_From_Root/UNOE/scan.TIFF"},
		{"heic", OriginDOSE, "img.heic", "02_Media/Photos/_From_Root/DOSE/img.heic"},
		{"non-image", OriginUNOE, "notes.txt", "90_System_Artifacts/Loose_Files/UNOE/notes.txt"},
		{"no extension", OriginDOSE, "README", "90_System_Artifacts/Loose_Files/DOSE/README"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Classify(tc.origin, tc.entry, KindFile)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyExcluded(t *testing.T) {
	for _, name := range []string{"$RECYCLE.BIN", "System Volume Information"} {
		_, err := Classify(OriginUNOE, name, KindDir)
		require.ErrorIs(t, err, ErrExcluded)
	}
	require.True(t, IsExcluded("$RECYCLE.BIN"))
	require.False(t, IsExcluded("Pictures"))
}

func TestClassifyIsCaseSensitive(t *testing.T) {
	got, err := Classify(OriginUNOE, "pictures", KindDir)
	require.NoError(t, err)
	require.Equal(t, "90_System_Artifacts/Unmapped_Folders/UNOE/pictures", got)
}

func TestPairedBuckets(t *testing.T) {
	buckets := PairedBuckets()
	require.NotEmpty(t, buckets)

	byName := map[string]string{}
	for _, b := range buckets {
		byName[b.SourceName] = b.DestRel
	}
	require.Equal(t, "02_Media/Photos", byName["Pictures"])
	require.Equal(t, "ASH", byName["ASH"])
	require.Equal(t, "90_System_Artifacts/Recovered_found.000", byName["found.000"])

	// Deterministic order
	for i := 1; i < len(buckets); i++ {
		require.Less(t, buckets[i-1].SourceName, buckets[i].SourceName)
	}
}

func TestSampleBucketsAreSkeletonDirs(t *testing.T) {
	skeleton := map[string]bool{}
	for _, d := range SkeletonDirs() {
		skeleton[d] = true
	}
	for _, b := range SampleBuckets() {
		require.True(t, skeleton[b], "sample bucket %s missing from skeleton", b)
	}
}
