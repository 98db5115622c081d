package report

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestEventLoggerWritesJSONL(t *testing.T) {
	runDir := t.TempDir()
	l, err := NewEventLogger(runDir, LevelInfo)
	require.NoError(t, err)

	require.NoError(t, l.LogPhase("resolve", "start"))
	require.NoError(t, l.LogResolve("02_Media/Photos/p.jpg", "keep_both",
		"02_Media/Photos/p.jpg;02_Media/Photos/p__UNOE.jpg"))
	require.NoError(t, l.Close())

	events := readEvents(t, l.Path())
	require.Len(t, events, 2)
	require.Equal(t, EventPhase, events[0].Event)
	require.Equal(t, EventResolve, events[1].Event)
	require.Equal(t, "keep_both", events[1].Action)
	require.False(t, events[1].Timestamp.IsZero())
}

func TestEventLoggerFiltersByLevel(t *testing.T) {
	runDir := t.TempDir()
	l, err := NewEventLogger(runDir, LevelWarning)
	require.NoError(t, err)

	// Debug-level copy events are filtered out at warning level
	require.NoError(t, l.LogCopy("UNOE", "/src/a", "a", 10, time.Millisecond))
	require.NoError(t, l.LogSkip("UNOE", "/src/b", "permission denied"))
	require.NoError(t, l.Close())

	events := readEvents(t, l.Path())
	require.Len(t, events, 1)
	require.Equal(t, EventSkip, events[0].Event)
}

func TestEventLoggerAppendsAcrossReopen(t *testing.T) {
	runDir := t.TempDir()

	l, err := NewEventLogger(runDir, LevelInfo)
	require.NoError(t, err)
	require.NoError(t, l.LogPhase("preflight", "start"))
	require.NoError(t, l.Close())

	l, err = NewEventLogger(runDir, LevelInfo)
	require.NoError(t, err)
	require.NoError(t, l.LogPhase("prepare", "start"))
	require.NoError(t, l.Close())

	events := readEvents(t, l.Path())
	require.Len(t, events, 2)
}

func TestNullLoggerIsSafe(t *testing.T) {
	l := NullLogger()
	require.NoError(t, l.LogPhase("any", "label"))
	require.NoError(t, l.Close())
	require.Empty(t, l.Path())
}
