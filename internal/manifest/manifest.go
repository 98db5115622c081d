// Package manifest joins provenance by content identity and emits the
// creation-time manifest the Windows-side apply tool consumes.
package manifest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tom/unomerge/internal/fsmeta"
	"github.com/tom/unomerge/internal/provenance"
	"github.com/tom/unomerge/internal/util"
)

// Header is the manifest CSV column set
var Header = []string{"dest_path_relative_to_share", "earliest_create_time_utc_iso8601"}

// MissingHeader is the missing-creation-time CSV column set
var MissingHeader = []string{"dest_path", "reason"}

// Reasons a destination cannot appear in the manifest
const (
	ReasonDestinationMissing = "destination_missing"
	ReasonMissingIdentity    = "missing_identity_key"
	ReasonMissingCreateTime  = "missing_creation_time"
)

// Result summarizes a manifest build
type Result struct {
	Emitted int
	Missing int
}

// Build reads the provenance store, picks the earliest known creation time
// per content hash, and writes the manifest plus the missing list. Content
// identity is the join key: destinations sharing a hash share a time, so a
// valid attribute from either origin covers both.
func Build(provenancePath, destRoot, manifestPath, missingPath string) (*Result, error) {
	rows, err := provenance.ReadAll(provenancePath)
	if err != nil {
		return nil, err
	}

	// Earliest ok time per content hash. ISO-8601 sorts chronologically,
	// so the lexicographic minimum is the earliest.
	earliest := make(map[string]string)
	for _, r := range rows {
		if r.CreateStatus != fsmeta.StatusOK || r.CreateTime == "" || r.SHA256 == "" {
			continue
		}
		if cur, ok := earliest[r.SHA256]; !ok || r.CreateTime < cur {
			earliest[r.SHA256] = r.CreateTime
		}
	}

	// Hashes recorded per destination
	destHashes := make(map[string]map[string]bool)
	for _, r := range rows {
		m, ok := destHashes[r.DestPath]
		if !ok {
			m = make(map[string]bool)
			destHashes[r.DestPath] = m
		}
		if r.SHA256 != "" {
			m[r.SHA256] = true
		}
	}

	dests := make([]string, 0, len(destHashes))
	for d := range destHashes {
		dests = append(dests, d)
	}
	sort.Strings(dests)

	mf, err := os.Create(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("create manifest: %w", err)
	}
	defer mf.Close()
	mw := bufio.NewWriter(mf)
	if err := util.CSVAppendRow(mw, Header); err != nil {
		return nil, err
	}

	missf, err := os.Create(missingPath)
	if err != nil {
		return nil, fmt.Errorf("create missing list: %w", err)
	}
	defer missf.Close()
	missw := bufio.NewWriter(missf)
	if err := util.CSVAppendRow(missw, MissingHeader); err != nil {
		return nil, err
	}

	result := &Result{}
	for _, dest := range dests {
		reason := classify(destRoot, dest, destHashes[dest], earliest)
		if reason != "" {
			result.Missing++
			if err := util.CSVAppendRow(missw, []string{dest, reason}); err != nil {
				return nil, err
			}
			continue
		}

		best := ""
		for hash := range destHashes[dest] {
			if t, ok := earliest[hash]; ok && (best == "" || t < best) {
				best = t
			}
		}
		result.Emitted++
		if err := util.CSVAppendRow(mw, []string{dest, best}); err != nil {
			return nil, err
		}
	}

	if err := mw.Flush(); err != nil {
		return nil, err
	}
	if err := missw.Flush(); err != nil {
		return nil, err
	}

	util.SuccessLog("Manifest: %d entries, %d without a creation time", result.Emitted, result.Missing)
	return result, nil
}

// classify returns the reason a destination is excluded, or "" to emit it
func classify(destRoot, dest string, hashes map[string]bool, earliest map[string]string) string {
	if _, err := os.Stat(filepath.Join(destRoot, dest)); err != nil {
		return ReasonDestinationMissing
	}
	if len(hashes) == 0 {
		return ReasonMissingIdentity
	}
	for hash := range hashes {
		if _, ok := earliest[hash]; ok {
			return ""
		}
	}
	return ReasonMissingCreateTime
}
