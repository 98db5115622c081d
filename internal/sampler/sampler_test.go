package sampler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tom/unomerge/internal/collision"
	"github.com/tom/unomerge/internal/fsmeta"
	"github.com/tom/unomerge/internal/util"
)

func writeDest(t *testing.T, destRoot, rel, content string) {
	t.Helper()
	path := filepath.Join(destRoot, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func writeResolutions(t *testing.T, path string, records []collision.Record) {
	t.Helper()
	log, err := collision.OpenLog(path)
	require.NoError(t, err)
	for _, rec := range records {
		require.NoError(t, log.Append(rec))
	}
	require.NoError(t, log.Close())
}

func TestSelectIsDeterministic(t *testing.T) {
	destRoot := t.TempDir()
	// More files than the largest-N cut so the seeded draw shapes the tail
	for i := 0; i < 80; i++ {
		writeDest(t, destRoot, fmt.Sprintf("02_Media/Video/v%02d.mp4", i), fmt.Sprintf("content %d", i))
	}

	cfg := Config{DestRoot: destRoot, RunID: "2026-08-05_120000"}

	first, err := Select(cfg)
	require.NoError(t, err)
	second, err := Select(cfg)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.NotEmpty(t, first)

	// A different run id shuffles differently (with 30 files the chance of
	// an identical permutation is negligible)
	other, err := Select(Config{DestRoot: destRoot, RunID: "other-run"})
	require.NoError(t, err)
	require.ElementsMatch(t, first, second)
	require.NotEqual(t, first, other)
}

func TestSelectPutsResolutionPathsFirst(t *testing.T) {
	destRoot := t.TempDir()
	writeDest(t, destRoot, "02_Media/Video/big.mp4", "large file content")
	writeDest(t, destRoot, "02_Media/Photos/p.jpg", "canonical")
	writeDest(t, destRoot, "02_Media/Photos/p__UNOE.jpg", "loser")

	resolutions := filepath.Join(t.TempDir(), "resolutions.csv")
	writeResolutions(t, resolutions, []collision.Record{{
		DestPath:       "02_Media/Photos/p.jpg",
		Classification: collision.ClassConflict,
		ChosenAction:   collision.ActionKeepBoth,
		ResultingPaths: "02_Media/Photos/p.jpg;02_Media/Photos/p__UNOE.jpg",
	}})

	sample, err := Select(Config{
		DestRoot:        destRoot,
		RunID:           "run1",
		ResolutionsPath: resolutions,
	})
	require.NoError(t, err)

	// Conflict outcomes lead the sample, deduplicated
	require.Equal(t, "02_Media/Photos/p.jpg", sample[0])
	require.Equal(t, "02_Media/Photos/p__UNOE.jpg", sample[1])
	require.Contains(t, sample, "02_Media/Video/big.mp4")

	seen := map[string]int{}
	for _, rel := range sample {
		seen[rel]++
		require.Equal(t, 1, seen[rel], "duplicate sample entry %s", rel)
	}
}

func TestSelectTakesLargestPerBucket(t *testing.T) {
	destRoot := t.TempDir()
	// More files than the largest-N cut, with one clear giant
	for i := 0; i < 60; i++ {
		writeDest(t, destRoot, fmt.Sprintf("05_Games/g%02d.bin", i), "x")
	}
	big := make([]byte, 4096)
	path := filepath.Join(destRoot, "05_Games/huge.bin")
	require.NoError(t, os.WriteFile(path, big, 0o644))

	sample, err := Select(Config{DestRoot: destRoot, RunID: "run1"})
	require.NoError(t, err)
	require.Contains(t, sample, "05_Games/huge.bin")
}

func TestPathListRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paths.txt")
	sample := []string{"02_Media/Video/a.mp4", "05_Games/b.bin"}

	require.NoError(t, WritePathList(path, sample))
	got, err := ReadPathList(path)
	require.NoError(t, err)
	require.Equal(t, sample, got)
}

func TestHashSample(t *testing.T) {
	destRoot := t.TempDir()
	writeDest(t, destRoot, "02_Media/Video/a.mp4", "video bytes")
	writeDest(t, destRoot, "05_Games/b.bin", "game bytes")

	out := filepath.Join(t.TempDir(), "sample.csv")
	sample := []string{"02_Media/Video/a.mp4", "05_Games/b.bin", "missing/file.bin"}

	entries, err := HashSample(context.Background(), destRoot, sample, out, 2)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	wantHash, err := fsmeta.HashFile(filepath.Join(destRoot, "02_Media/Video/a.mp4"))
	require.NoError(t, err)
	require.Equal(t, wantHash, entries[0].SHA256)
	require.Equal(t, int64(11), entries[0].Size)

	// Missing path recorded with an empty hash
	require.Empty(t, entries[2].SHA256)

	// CSV round trip preserves order and values
	loaded, err := ReadSampleCSV(out)
	require.NoError(t, err)
	require.Equal(t, entries, loaded)

	header, _, err := util.CSVReadAll(out)
	require.NoError(t, err)
	require.True(t, util.CSVHeaderEqual(header, Header))
}

func TestSeedVariesPerBucket(t *testing.T) {
	require.NotEqual(t, seedFor("run1", "02_Media/Video"), seedFor("run1", "05_Games"))
	require.NotEqual(t, seedFor("run1", "05_Games"), seedFor("run2", "05_Games"))
	require.Equal(t, seedFor("run1", "05_Games"), seedFor("run1", "05_Games"))
}
