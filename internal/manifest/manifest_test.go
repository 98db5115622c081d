package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tom/unomerge/internal/fsmeta"
	"github.com/tom/unomerge/internal/provenance"
	"github.com/tom/unomerge/internal/util"
)

type manifestEnv struct {
	destRoot, provPath, manifestPath, missingPath string
}

func newManifestEnv(t *testing.T) *manifestEnv {
	t.Helper()
	base := t.TempDir()
	e := &manifestEnv{
		destRoot:     filepath.Join(base, "uno"),
		provPath:     filepath.Join(base, "provenance.csv"),
		manifestPath: filepath.Join(base, "create_time_manifest.csv"),
		missingPath:  filepath.Join(base, "missing_create_time.csv"),
	}
	require.NoError(t, os.MkdirAll(e.destRoot, 0o755))
	return e
}

func (e *manifestEnv) writeDest(t *testing.T, rel string) {
	t.Helper()
	path := filepath.Join(e.destRoot, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))
}

func (e *manifestEnv) appendRows(t *testing.T, rows []provenance.Row) {
	t.Helper()
	s, err := provenance.Open(e.provPath)
	require.NoError(t, err)
	for _, r := range rows {
		require.NoError(t, s.Append(r))
	}
	require.NoError(t, s.Close())
}

func (e *manifestEnv) readManifest(t *testing.T) map[string]string {
	t.Helper()
	header, rows, err := util.CSVReadAll(e.manifestPath)
	require.NoError(t, err)
	require.True(t, util.CSVHeaderEqual(header, Header))
	out := map[string]string{}
	for _, r := range rows {
		out[r[0]] = r[1]
	}
	return out
}

func (e *manifestEnv) readMissing(t *testing.T) map[string]string {
	t.Helper()
	header, rows, err := util.CSVReadAll(e.missingPath)
	require.NoError(t, err)
	require.True(t, util.CSVHeaderEqual(header, MissingHeader))
	out := map[string]string{}
	for _, r := range rows {
		out[r[0]] = r[1]
	}
	return out
}

func TestBuildJoinsByContentHash(t *testing.T) {
	e := newManifestEnv(t)
	e.writeDest(t, "A/x.bin")
	e.writeDest(t, "B/y.bin")

	// Same content hash; only A carries a valid creation time
	e.appendRows(t, []provenance.Row{
		{DestPath: "A/x.bin", Origin: "UNOE", SourcePath: "/mnt/unoe/a", CreateTime: "2015-03-02T10:00:00Z", CreateStatus: fsmeta.StatusOK, Mtime: "2022-01-01T00:00:00Z", SizeBytes: 7, SHA256: "H"},
		{DestPath: "B/y.bin", Origin: "DOSE", SourcePath: "/mnt/dose/b", CreateStatus: fsmeta.StatusParseError, Mtime: "2022-01-01T00:00:00Z", SizeBytes: 7, SHA256: "H"},
	})

	result, err := Build(e.provPath, e.destRoot, e.manifestPath, e.missingPath)
	require.NoError(t, err)
	require.Equal(t, 2, result.Emitted)
	require.Equal(t, 0, result.Missing)

	manifest := e.readManifest(t)
	require.Equal(t, "2015-03-02T10:00:00Z", manifest["A/x.bin"])
	require.Equal(t, "2015-03-02T10:00:00Z", manifest["B/y.bin"])
}

func TestBuildPicksEarliestTime(t *testing.T) {
	e := newManifestEnv(t)
	e.writeDest(t, "A/x.bin")

	e.appendRows(t, []provenance.Row{
		{DestPath: "A/x.bin", Origin: "UNOE", SourcePath: "/s1", CreateTime: "2019-05-05T00:00:00Z", CreateStatus: fsmeta.StatusOK, SizeBytes: 1, SHA256: "H"},
		{DestPath: "A/x.bin", Origin: "DOSE", SourcePath: "/s2", CreateTime: "2012-01-01T00:00:00Z", CreateStatus: fsmeta.StatusOK, SizeBytes: 1, SHA256: "H"},
	})

	_, err := Build(e.provPath, e.destRoot, e.manifestPath, e.missingPath)
	require.NoError(t, err)
	require.Equal(t, "2012-01-01T00:00:00Z", e.readManifest(t)["A/x.bin"])
}

func TestBuildMissingReasons(t *testing.T) {
	e := newManifestEnv(t)
	e.writeDest(t, "present/no_time.bin")
	e.writeDest(t, "present/no_hash.bin")

	e.appendRows(t, []provenance.Row{
		{DestPath: "present/no_time.bin", Origin: "UNOE", SourcePath: "/s", CreateStatus: fsmeta.StatusMissing, SizeBytes: 1, SHA256: "H1"},
		{DestPath: "present/no_hash.bin", Origin: "UNOE", SourcePath: "/s", CreateStatus: fsmeta.StatusOK, CreateTime: "2015-01-01T00:00:00Z", SizeBytes: 1, SHA256: ""},
		{DestPath: "gone/file.bin", Origin: "UNOE", SourcePath: "/s", CreateStatus: fsmeta.StatusOK, CreateTime: "2015-01-01T00:00:00Z", SizeBytes: 1, SHA256: "H2"},
	})

	result, err := Build(e.provPath, e.destRoot, e.manifestPath, e.missingPath)
	require.NoError(t, err)
	require.Equal(t, 0, result.Emitted)
	require.Equal(t, 3, result.Missing)

	missing := e.readMissing(t)
	require.Equal(t, ReasonMissingCreateTime, missing["present/no_time.bin"])
	require.Equal(t, ReasonMissingIdentity, missing["present/no_hash.bin"])
	require.Equal(t, ReasonDestinationMissing, missing["gone/file.bin"])
}

func TestBuildRequiresProvenance(t *testing.T) {
	e := newManifestEnv(t)
	_, err := Build(e.provPath, e.destRoot, e.manifestPath, e.missingPath)
	require.ErrorIs(t, err, util.ErrMissingProvenance)
}

func TestBuildRejectsBadHeader(t *testing.T) {
	e := newManifestEnv(t)
	require.NoError(t, os.WriteFile(e.provPath, []byte("wrong,header\na,b\n"), 0o644))

	_, err := Build(e.provPath, e.destRoot, e.manifestPath, e.missingPath)
	require.ErrorIs(t, err, util.ErrManifestHeaders)
}

func TestWriteInstructions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "WINDOWS_APPLY_INSTRUCTIONS.txt")
	require.NoError(t, WriteInstructions(path, "create_time_manifest.csv", "missing_create_time.csv"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "create_time_manifest.csv")
	require.Contains(t, string(data), "2 seconds")
}
