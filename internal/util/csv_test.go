package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCSVQuoteField(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "plain", "plain"},
		{"comma", "a,b", `"a,b"`},
		{"quote", `say "hi"`, `"say ""hi"""`},
		{"newline", "line\nbreak", "\"line\nbreak\""},
		{"leading space", " padded", `" padded"`},
		{"trailing space", "trailing ", `"trailing "`},
		{"inner space only", "no quoting needed", "no quoting needed"},
		{"empty", "", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, CSVQuoteField(tc.input))
		})
	}
}

func TestCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	f, err := os.Create(path)
	require.NoError(t, err)

	header := []string{"a", "b", "c"}
	row := []string{"x,y", ` leading`, "quo\"te"}
	require.NoError(t, CSVAppendRow(f, header))
	require.NoError(t, CSVAppendRow(f, row))
	require.NoError(t, f.Close())

	gotHeader, rows, err := CSVReadAll(path)
	require.NoError(t, err)
	require.True(t, CSVHeaderEqual(gotHeader, header))
	require.Len(t, rows, 1)
	require.Equal(t, row, rows[0])
}

func TestCSVReadAllRejectsRaggedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2,3\n"), 0o644))

	_, _, err := CSVReadAll(path)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "columns"))
}

func TestIsDescendant(t *testing.T) {
	require.True(t, IsDescendant("/mnt/uno", "/mnt/uno/02_Media/x.jpg"))
	require.True(t, IsDescendant("/mnt/uno", "/mnt/uno"))
	require.False(t, IsDescendant("/mnt/uno", "/mnt/unoe/x"))
	require.False(t, IsDescendant("/mnt/uno", "/mnt/uno/../dose/x"))
}
