// Package verify records destination-wide counts and byte totals before and
// after deduplication.
package verify

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/tom/unomerge/internal/util"
)

// Snapshot holds the destination totals at one point in time
type Snapshot struct {
	Files int64
	Dirs  int64
	Bytes int64
}

// Take walks the destination and counts files, directories, and real block
// usage (du-style, so hardlink collapses show up as reclaimed space).
func Take(destRoot string) (*Snapshot, error) {
	snap := &Snapshot{}

	err := filepath.WalkDir(destRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			util.WarnLog("Verify: skipping unreadable entry %s: %v", p, err)
			return nil
		}
		if d.IsDir() {
			snap.Dirs++
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		snap.Files++

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if st, ok := info.Sys().(*syscall.Stat_t); ok {
			snap.Bytes += st.Blocks * 512
		} else {
			snap.Bytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk destination: %w", err)
	}

	// The root directory itself is not part of the content being counted
	if snap.Dirs > 0 {
		snap.Dirs--
	}

	return snap, nil
}

// Write records a snapshot to a text file
func (s *Snapshot) Write(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "files=%d\ndirs=%d\nbytes=%d\nhuman=%s\n",
		s.Files, s.Dirs, s.Bytes, util.FormatBytes(s.Bytes))
	return err
}
