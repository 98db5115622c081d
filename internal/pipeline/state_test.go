package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestState(t *testing.T) *State {
	t.Helper()
	s, err := OpenState(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPhaseLifecycle(t *testing.T) {
	s := openTestState(t)

	done, err := s.PhaseCompleted(PhaseCopyUnoe)
	require.NoError(t, err)
	require.False(t, done)

	id, err := s.BeginPhase(PhaseCopyUnoe, "copy: mirroring UNOE")
	require.NoError(t, err)
	require.NoError(t, s.UpdateLabel(id, "copy: comparison pass"))
	require.NoError(t, s.CompletePhase(id))

	done, err = s.PhaseCompleted(PhaseCopyUnoe)
	require.NoError(t, err)
	require.True(t, done)
}

func TestFailureSurfacesLabel(t *testing.T) {
	s := openTestState(t)

	id, err := s.BeginPhase(PhaseResolve, PhaseResolve)
	require.NoError(t, err)
	require.NoError(t, s.FailPhase(id, "resolve: writing 02_Media/Video/v.mp4", "disk full"))

	label, errMsg, err := s.LastFailure()
	require.NoError(t, err)
	require.Equal(t, "resolve: writing 02_Media/Video/v.mp4", label)
	require.Equal(t, "disk full", errMsg)

	done, err := s.PhaseCompleted(PhaseResolve)
	require.NoError(t, err)
	require.False(t, done)
}

func TestLastFailureEmptyWhenClean(t *testing.T) {
	s := openTestState(t)
	label, errMsg, err := s.LastFailure()
	require.NoError(t, err)
	require.Empty(t, label)
	require.Empty(t, errMsg)
}

func TestReopenKeepsHistory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")

	s, err := OpenState(path)
	require.NoError(t, err)
	id, err := s.BeginPhase(PhasePrepare, PhasePrepare)
	require.NoError(t, err)
	require.NoError(t, s.CompletePhase(id))
	require.NoError(t, s.Close())

	s, err = OpenState(path)
	require.NoError(t, err)
	defer s.Close()

	done, err := s.PhaseCompleted(PhasePrepare)
	require.NoError(t, err)
	require.True(t, done)
}
