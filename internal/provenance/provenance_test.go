package provenance

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tom/unomerge/internal/fsmeta"
)

func sampleRow() Row {
	return Row{
		DestPath:     "02_Media/Photos/p.jpg",
		Origin:       "UNOE",
		SourcePath:   "/mnt/unoe/Pictures/p.jpg",
		CreateTime:   "2015-03-02T10:00:00Z",
		CreateStatus: fsmeta.StatusOK,
		Mtime:        "2022-01-01T10:00:00Z",
		SizeBytes:    5,
		SHA256:       "abc123",
	}
}

func TestAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provenance.csv")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(sampleRow()))
	require.NoError(t, s.Close())

	rows, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, sampleRow(), rows[0])
}

func TestReopenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provenance.csv")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(sampleRow()))
	require.NoError(t, s.Close())

	// A second open with the expected header must reuse the file
	s, err = Open(path)
	require.NoError(t, err)
	second := sampleRow()
	second.Origin = "DOSE"
	require.NoError(t, s.Append(second))
	require.NoError(t, s.Close())

	rows, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "UNOE", rows[0].Origin)
	require.Equal(t, "DOSE", rows[1].Origin)
}

func TestOpenReplacesForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provenance.csv")
	require.NoError(t, os.WriteFile(path, []byte("not,a,provenance\nfile,x,y\n"), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	rows, err := ReadAll(path)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestStatusRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provenance.csv")
	s, err := Open(path)
	require.NoError(t, err)

	for _, status := range []fsmeta.CreateStatus{fsmeta.StatusOK, fsmeta.StatusParseError, fsmeta.StatusMissing} {
		row := sampleRow()
		row.CreateStatus = status
		if status != fsmeta.StatusOK {
			row.CreateTime = ""
		}
		require.NoError(t, s.Append(row))
	}
	require.NoError(t, s.Close())

	rows, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, fsmeta.StatusOK, rows[0].CreateStatus)
	require.Equal(t, fsmeta.StatusParseError, rows[1].CreateStatus)
	require.Equal(t, fsmeta.StatusMissing, rows[2].CreateStatus)
}

func TestQuotedFieldsSurvive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provenance.csv")
	s, err := Open(path)
	require.NoError(t, err)

	row := sampleRow()
	row.DestPath = `02_Media/Photos/odd, "name".jpg`
	row.SourcePath = "/mnt/unoe/Pictures/ leading space.jpg"
	require.NoError(t, s.Append(row))
	require.NoError(t, s.Close())

	rows, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, row.DestPath, rows[0].DestPath)
	require.Equal(t, row.SourcePath, rows[0].SourcePath)
}

func TestAppendVerified(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "provenance.csv")
	dest := filepath.Join(dir, "dest.bin")
	require.NoError(t, os.WriteFile(dest, []byte("hello"), 0o644))

	destHash, err := fsmeta.HashFile(dest)
	require.NoError(t, err)

	s, err := Open(path)
	require.NoError(t, err)

	// Matching hash: appended
	good := sampleRow()
	good.SHA256 = destHash
	require.NoError(t, s.AppendVerified(good, dest))

	// Mismatching hash: suppressed, not an error
	bad := sampleRow()
	bad.SHA256 = "0000"
	require.NoError(t, s.AppendVerified(bad, dest))
	require.NoError(t, s.Close())

	rows, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, destHash, rows[0].SHA256)
}

func TestReadAllMissingFile(t *testing.T) {
	_, err := ReadAll(filepath.Join(t.TempDir(), "absent.csv"))
	require.Error(t, err)
}

func TestReadAllRejectsWrongHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644))

	_, err := ReadAll(path)
	require.Error(t, err)
}
