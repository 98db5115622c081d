// Package collision detects files present at the same relative path in both
// source volumes and resolves the conflicting ones with a deterministic
// newer/larger policy, falling back to keep-both.
package collision

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tom/unomerge/internal/copyengine"
	"github.com/tom/unomerge/internal/fsmeta"
	"github.com/tom/unomerge/internal/provenance"
	"github.com/tom/unomerge/internal/report"
	"github.com/tom/unomerge/internal/taxonomy"
	"github.com/tom/unomerge/internal/util"
)

// Config holds resolver configuration
type Config struct {
	UnoeRoot        string
	DoseRoot        string
	DestRoot        string
	CandidatesPath  string
	ResolutionsPath string
	Provenance      *provenance.Store
	Events          *report.EventLogger
	DryRun          bool
	OwnerUID        int
	OwnerGID        int
	Retry           *util.RetryConfig
}

// Resolver walks the paired buckets and resolves every collision
type Resolver struct {
	cfg         Config
	candidates  *Log
	resolutions *Log
	prior       map[string]Record
}

// New opens the collision logs and loads prior resolutions so a re-run
// preserves identical outcomes instead of re-acting on them.
func New(cfg Config) (*Resolver, error) {
	if cfg.Events == nil {
		cfg.Events = report.NullLogger()
	}
	if cfg.Retry == nil {
		cfg.Retry = util.NoRetryConfig()
	}

	priorRecords, err := LoadRecords(cfg.ResolutionsPath)
	if err != nil {
		return nil, err
	}
	prior := make(map[string]Record, len(priorRecords))
	for _, rec := range priorRecords {
		prior[rec.DestPath] = rec
	}

	candidates, err := OpenLog(cfg.CandidatesPath)
	if err != nil {
		return nil, err
	}
	resolutions, err := OpenLog(cfg.ResolutionsPath)
	if err != nil {
		candidates.Close()
		return nil, err
	}

	return &Resolver{
		cfg:         cfg,
		candidates:  candidates,
		resolutions: resolutions,
		prior:       prior,
	}, nil
}

// Close flushes and closes both logs
func (r *Resolver) Close() error {
	err1 := r.candidates.Close()
	err2 := r.resolutions.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Result summarizes a resolution pass
type Result struct {
	Collisions int
	Identical  int
	Conflicts  int
	Replaced   int
	KeptBoth   int
	Preserved  int
	Errors     []error
}

// pairing is one relative path contributed by both sources
type pairing struct {
	destRel string
	unoeSrc string
	doseSrc string
}

// Resolve finds and resolves every collision in the paired buckets. Each
// collision is independent: a hash failure aborts only that path, while a
// destination write failure aborts the phase.
func (r *Resolver) Resolve(ctx context.Context) (*Result, error) {
	result := &Result{}

	pairings, err := r.pairings(result)
	if err != nil {
		return nil, err
	}

	util.InfoLog("Resolving %d collision(s)", len(pairings))
	if r.cfg.DryRun {
		util.InfoLog("DRY-RUN mode: decisions are recorded, no files change")
	}

	for _, p := range pairings {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if err := r.resolveOne(ctx, p, result); err != nil {
			return result, err
		}
	}

	util.SuccessLog("Resolution complete: %d collisions (%d identical, %d conflicts), %d replaced, %d kept both, %d preserved",
		result.Collisions, result.Identical, result.Conflicts,
		result.Replaced, result.KeptBoth, result.Preserved)

	return result, nil
}

// pairings enumerates the relative paths present in both sources within a
// paired bucket, in deterministic order.
func (r *Resolver) pairings(result *Result) ([]pairing, error) {
	unoe, err := r.collectBucketFiles(r.cfg.UnoeRoot, result)
	if err != nil {
		return nil, err
	}
	dose, err := r.collectBucketFiles(r.cfg.DoseRoot, result)
	if err != nil {
		return nil, err
	}

	var out []pairing
	for destRel, unoeSrc := range unoe {
		if doseSrc, ok := dose[destRel]; ok {
			out = append(out, pairing{destRel: destRel, unoeSrc: unoeSrc, doseSrc: doseSrc})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].destRel < out[j].destRel })
	return out, nil
}

// collectBucketFiles maps destination-relative path to source path for every
// file under a paired bucket of one source root. When two source names feed
// the same destination, the first in bucket order wins, keeping the mapping
// deterministic.
func (r *Resolver) collectBucketFiles(root string, result *Result) (map[string]string, error) {
	files := make(map[string]string)

	for _, b := range taxonomy.PairedBuckets() {
		base := filepath.Join(root, b.SourceName)
		info, err := os.Stat(base)
		if err != nil || !info.IsDir() {
			continue
		}

		err = filepath.WalkDir(base, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				util.WarnLog("Skipping unreadable entry %s: %v", p, err)
				result.Errors = append(result.Errors, err)
				return nil
			}
			if d.IsDir() {
				if taxonomy.IsExcluded(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(base, p)
			if err != nil {
				return nil
			}
			destRel := path.Join(b.DestRel, filepath.ToSlash(rel))
			if _, taken := files[destRel]; !taken {
				files[destRel] = p
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", base, err)
		}
	}

	return files, nil
}

// resolveOne handles a single collision end to end
func (r *Resolver) resolveOne(ctx context.Context, p pairing, result *Result) error {
	unoeInfo, err := fsmeta.Read(p.unoeSrc)
	if err != nil {
		util.ErrorLog("Collision %s: cannot read UNOE side: %v", p.destRel, err)
		r.cfg.Events.LogError("resolve", p.unoeSrc, err)
		result.Errors = append(result.Errors, err)
		return nil
	}
	doseInfo, err := fsmeta.Read(p.doseSrc)
	if err != nil {
		util.ErrorLog("Collision %s: cannot read DOSE side: %v", p.destRel, err)
		r.cfg.Events.LogError("resolve", p.doseSrc, err)
		result.Errors = append(result.Errors, err)
		return nil
	}

	result.Collisions++

	rec := Record{
		DestPath:   p.destRel,
		UnoePath:   p.unoeSrc,
		UnoeSize:   unoeInfo.Size,
		UnoeMtime:  unoeInfo.Mtime,
		UnoeSHA256: unoeInfo.SHA256,
		DosePath:   p.doseSrc,
		DoseSize:   doseInfo.Size,
		DoseMtime:  doseInfo.Mtime,
		DoseSHA256: doseInfo.SHA256,
	}

	if unoeInfo.SHA256 == doseInfo.SHA256 {
		result.Identical++
		rec.Classification = ClassIdentical
		rec.ChosenAction = ActionNone
		rec.ResultingPaths = p.destRel
		if err := r.candidates.Append(rec); err != nil {
			return err
		}
		r.cfg.Events.LogCollision(p.destRel, ClassIdentical)

		// Both origins contributed the same content; attribute both
		if !r.cfg.DryRun {
			destAbs := filepath.Join(r.cfg.DestRoot, p.destRel)
			for _, side := range []struct {
				origin string
				info   *fsmeta.Info
			}{{taxonomy.OriginUNOE, unoeInfo}, {taxonomy.OriginDOSE, doseInfo}} {
				if err := r.appendProvenance(side.origin, side.info, p.destRel, destAbs); err != nil {
					return err
				}
			}
		}
		return nil
	}

	result.Conflicts++
	rec.Classification = ClassConflict
	rec.ChosenAction = ActionPending
	if err := r.candidates.Append(rec); err != nil {
		return err
	}
	r.cfg.Events.LogCollision(p.destRel, ClassConflict)

	// Newest: strictly greater mtime, ties broken by strictly greater size
	// favoring DOSE, full tie goes to UNOE. ISO-8601 strings sort
	// chronologically.
	newestIsDose := false
	switch {
	case doseInfo.Mtime > unoeInfo.Mtime:
		newestIsDose = true
	case doseInfo.Mtime < unoeInfo.Mtime:
		newestIsDose = false
	default:
		newestIsDose = doseInfo.Size > unoeInfo.Size
	}

	newest, loser := unoeInfo, doseInfo
	newestOrigin, loserOrigin := taxonomy.OriginUNOE, taxonomy.OriginDOSE
	if newestIsDose {
		newest, loser = doseInfo, unoeInfo
		newestOrigin, loserOrigin = taxonomy.OriginDOSE, taxonomy.OriginUNOE
	}

	action := ActionKeepBoth
	if newest.Size > loser.Size {
		action = ActionReplace
	}

	rec.ChosenAction = action

	// An identical prior resolution whose on-disk state still holds is
	// preserved: no new rows, no new files, no destructive re-action.
	if prev, ok := r.prior[p.destRel]; ok && prev.ChosenAction == action &&
		r.onDiskMatches(prev, newest, loser) {
		result.Preserved++
		util.DebugLog("Collision %s: prior resolution intact, preserved", p.destRel)
		return nil
	}

	destAbs := filepath.Join(r.cfg.DestRoot, p.destRel)

	if action == ActionReplace {
		return r.performReplace(ctx, rec, destAbs, newest, newestOrigin, result)
	}
	return r.performKeepBoth(ctx, rec, destAbs, newest, newestOrigin, loser, loserOrigin, result)
}

// performReplace makes the canonical destination hold newest's content
func (r *Resolver) performReplace(ctx context.Context, rec Record, destAbs string, newest *fsmeta.Info, newestOrigin string, result *Result) error {
	rec.ResultingPaths = rec.DestPath

	if r.cfg.DryRun {
		util.InfoLog("DRY-RUN: would replace %s with %s side", rec.DestPath, newestOrigin)
		return r.appendResolution(rec, result, ActionReplace)
	}

	if _, err := os.Stat(destAbs); err == nil {
		destHash, err := fsmeta.HashFile(destAbs)
		if err != nil {
			util.ErrorLog("Collision %s: cannot hash destination: %v", rec.DestPath, err)
			result.Errors = append(result.Errors, err)
			return nil
		}
		if destHash != newest.SHA256 {
			if err := util.RetryableRemove(destAbs, r.cfg.Retry); err != nil {
				return fmt.Errorf("%w: remove %s: %v", util.ErrDestinationWrite, rec.DestPath, err)
			}
			if err := r.copySide(ctx, newest, destAbs); err != nil {
				return err
			}
		}
	} else {
		if err := r.copySide(ctx, newest, destAbs); err != nil {
			return err
		}
	}

	if err := r.appendResolution(rec, result, ActionReplace); err != nil {
		return err
	}
	return r.appendProvenance(newestOrigin, newest, rec.DestPath, destAbs)
}

// performKeepBoth writes newest to the canonical slot and the loser to a
// suffixed sibling; a destination equal to neither source is moved aside
// before the newest lands.
func (r *Resolver) performKeepBoth(ctx context.Context, rec Record, destAbs string, newest *fsmeta.Info, newestOrigin string, loser *fsmeta.Info, loserOrigin string, result *Result) error {
	loserSlot := FreeSuffixedSibling(destAbs, loserOrigin)

	if loserSlot == destAbs {
		// Stem already carries an origin suffix: never re-suffix. The
		// canonical slot simply receives the newest side.
		return r.performReplaceAsKeepBoth(ctx, rec, destAbs, newest, newestOrigin, result)
	}

	loserRel := rec.DestPath
	if rel, err := filepath.Rel(r.cfg.DestRoot, loserSlot); err == nil {
		loserRel = filepath.ToSlash(rel)
	}
	rec.ResultingPaths = rec.DestPath + ";" + loserRel

	if r.cfg.DryRun {
		util.InfoLog("DRY-RUN: would keep both for %s (loser -> %s)", rec.DestPath, loserRel)
		return r.appendResolution(rec, result, ActionKeepBoth)
	}

	if _, err := os.Stat(destAbs); err == nil {
		destHash, err := fsmeta.HashFile(destAbs)
		if err != nil {
			util.ErrorLog("Collision %s: cannot hash destination: %v", rec.DestPath, err)
			result.Errors = append(result.Errors, err)
			return nil
		}

		switch destHash {
		case newest.SHA256:
			// Canonical slot already correct, just materialize the loser
			if err := r.copySide(ctx, loser, loserSlot); err != nil {
				return err
			}
		case loser.SHA256:
			// Destination holds the losing content: slide it into the
			// suffixed slot and copy newest into the canonical one
			if err := util.RetryableRename(destAbs, loserSlot, r.cfg.Retry); err != nil {
				return fmt.Errorf("%w: move aside %s: %v", util.ErrDestinationWrite, rec.DestPath, err)
			}
			if err := r.copySide(ctx, newest, destAbs); err != nil {
				return err
			}
		default:
			// Unknown content: move it aside first, then write both sides
			if err := util.RetryableRename(destAbs, loserSlot, r.cfg.Retry); err != nil {
				return fmt.Errorf("%w: move aside %s: %v", util.ErrDestinationWrite, rec.DestPath, err)
			}
			if err := r.copySide(ctx, newest, destAbs); err != nil {
				return err
			}
			loserSlot = FreeSuffixedSibling(destAbs, loserOrigin)
			if rel, err := filepath.Rel(r.cfg.DestRoot, loserSlot); err == nil {
				loserRel = filepath.ToSlash(rel)
			}
			rec.ResultingPaths = rec.DestPath + ";" + loserRel
			if err := r.copySide(ctx, loser, loserSlot); err != nil {
				return err
			}
		}
	} else {
		if err := r.copySide(ctx, newest, destAbs); err != nil {
			return err
		}
		if err := r.copySide(ctx, loser, loserSlot); err != nil {
			return err
		}
	}

	if err := r.appendResolution(rec, result, ActionKeepBoth); err != nil {
		return err
	}
	if err := r.appendProvenance(newestOrigin, newest, rec.DestPath, destAbs); err != nil {
		return err
	}
	return r.appendProvenance(loserOrigin, loser, loserRel, loserSlot)
}

// performReplaceAsKeepBoth covers the degenerate keep-both where the
// canonical name is itself a suffixed slot
func (r *Resolver) performReplaceAsKeepBoth(ctx context.Context, rec Record, destAbs string, newest *fsmeta.Info, newestOrigin string, result *Result) error {
	rec.ResultingPaths = rec.DestPath

	if r.cfg.DryRun {
		return r.appendResolution(rec, result, ActionKeepBoth)
	}

	if _, err := os.Stat(destAbs); err == nil {
		destHash, err := fsmeta.HashFile(destAbs)
		if err != nil {
			result.Errors = append(result.Errors, err)
			return nil
		}
		if destHash != newest.SHA256 {
			if err := util.RetryableRemove(destAbs, r.cfg.Retry); err != nil {
				return fmt.Errorf("%w: remove %s: %v", util.ErrDestinationWrite, rec.DestPath, err)
			}
			if err := r.copySide(ctx, newest, destAbs); err != nil {
				return err
			}
		}
	} else if err := r.copySide(ctx, newest, destAbs); err != nil {
		return err
	}

	if err := r.appendResolution(rec, result, ActionKeepBoth); err != nil {
		return err
	}
	return r.appendProvenance(newestOrigin, newest, rec.DestPath, destAbs)
}

// copySide copies one source side into the destination tree
func (r *Resolver) copySide(ctx context.Context, info *fsmeta.Info, destAbs string) error {
	_, _, err := copyengine.CopyWithHash(ctx, info.Path, destAbs, copyengine.CopyOptions{
		Mtime:    info.ModTime,
		OwnerUID: r.cfg.OwnerUID,
		OwnerGID: r.cfg.OwnerGID,
		Retry:    r.cfg.Retry,
	})
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", util.ErrDestinationWrite, destAbs, err)
	}
	return nil
}

// appendResolution writes the final resolution row and counts it
func (r *Resolver) appendResolution(rec Record, result *Result, action string) error {
	if err := r.resolutions.Append(rec); err != nil {
		return err
	}
	r.cfg.Events.LogResolve(rec.DestPath, rec.ChosenAction, rec.ResultingPaths)
	switch action {
	case ActionReplace:
		result.Replaced++
	case ActionKeepBoth:
		result.KeptBoth++
	}
	return nil
}

// appendProvenance records attribution for a resulting path, suppressed in
// dry-run (the action did not occur) and on hash mismatch.
func (r *Resolver) appendProvenance(origin string, info *fsmeta.Info, destRel, destAbs string) error {
	if r.cfg.DryRun || r.cfg.Provenance == nil {
		return nil
	}
	if _, err := os.Stat(destAbs); err != nil {
		util.WarnLog("Provenance skipped for %s: destination absent", destRel)
		return nil
	}
	return r.cfg.Provenance.AppendVerified(provenance.Row{
		DestPath:     destRel,
		Origin:       origin,
		SourcePath:   info.Path,
		CreateTime:   info.CreateTime,
		CreateStatus: info.CreateStatus,
		Mtime:        info.Mtime,
		SizeBytes:    info.Size,
		SHA256:       info.SHA256,
	}, destAbs)
}

// onDiskMatches re-verifies that the destination state still reflects a
// recorded resolution before any destructive re-action
func (r *Resolver) onDiskMatches(prev Record, newest, loser *fsmeta.Info) bool {
	paths := strings.Split(prev.ResultingPaths, ";")
	if len(paths) == 0 || paths[0] == "" {
		return false
	}

	canonical := filepath.Join(r.cfg.DestRoot, paths[0])
	hash, err := fsmeta.HashFile(canonical)
	if err != nil || hash != newest.SHA256 {
		return false
	}

	if prev.ChosenAction == ActionKeepBoth && len(paths) > 1 {
		slot := filepath.Join(r.cfg.DestRoot, paths[1])
		hash, err := fsmeta.HashFile(slot)
		if err != nil || hash != loser.SHA256 {
			return false
		}
	}

	return true
}
