// Package pipeline sequences the nine consolidation phases, owns the run
// directory, and surfaces a current-action label on failure.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tom/unomerge/internal/collision"
	"github.com/tom/unomerge/internal/copyengine"
	"github.com/tom/unomerge/internal/manifest"
	"github.com/tom/unomerge/internal/provenance"
	"github.com/tom/unomerge/internal/report"
	"github.com/tom/unomerge/internal/sampler"
	"github.com/tom/unomerge/internal/taxonomy"
	"github.com/tom/unomerge/internal/util"
	"github.com/tom/unomerge/internal/verify"
)

// Phase identifiers, in execution order
const (
	PhasePreflight   = "preflight"
	PhasePrepare     = "prepare"
	PhaseCopyUnoe    = "copy_unoe"
	PhaseOverlayDose = "overlay_dose"
	PhaseResolve     = "resolve"
	PhaseVerifyPre   = "verify_pre"
	PhaseDedupe      = "dedupe"
	PhaseManifest    = "manifest"
	PhaseVerifyPost  = "verify_post"
	PhaseAll         = "all"
)

// Phases is the fixed execution order of a full run
var Phases = []string{
	PhasePreflight,
	PhasePrepare,
	PhaseCopyUnoe,
	PhaseOverlayDose,
	PhaseResolve,
	PhaseVerifyPre,
	PhaseDedupe,
	PhaseManifest,
	PhaseVerifyPost,
}

// Artifact names inside the run directory
const (
	fileCandidates  = "collision_candidates.csv"
	fileResolutions = "collision_resolutions.csv"
	fileProvenance  = "provenance.csv"
	fileCountsPre   = "counts_pre_dedupe.txt"
	fileCountsPost  = "counts_post_dedupe.txt"
	fileSamplePaths = "hash_sample_paths.txt"
	fileSamplePre   = "hash_sample_pre.csv"
	fileSamplePost  = "hash_sample_post.csv"
	fileManifest    = "create_time_manifest.csv"
	fileMissing     = "missing_create_time.csv"
	fileInstruction = "WINDOWS_APPLY_INSTRUCTIONS.txt"
	fileState       = "state.db"
)

// Controller executes phases against one run directory
type Controller struct {
	cfg    Config
	runDir string
	state  *State
	events *report.EventLogger

	labelMu sync.Mutex
	label   string
	phaseID int64

	lockToken string
}

// NewController prepares the run directory, state database, and event log.
// Re-invoking with the same run identifier continues into the existing
// directory.
func NewController(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.DedupeTool == "" {
		cfg.DedupeTool = "hardlink"
	}

	runDir := cfg.RunDir()
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory %s: %w", runDir, err)
	}

	token, err := AcquireLock(runDir)
	if err != nil {
		return nil, err
	}

	state, err := OpenState(filepath.Join(runDir, fileState))
	if err != nil {
		ReleaseLock(runDir, token)
		return nil, err
	}

	events, err := report.NewEventLogger(runDir, report.LevelInfo)
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		events = report.NullLogger()
	}

	return &Controller{
		cfg:       cfg,
		runDir:    runDir,
		state:     state,
		events:    events,
		lockToken: token,
	}, nil
}

// Close releases the controller's resources and the run lock
func (c *Controller) Close() error {
	c.events.Close()
	err := c.state.Close()
	ReleaseLock(c.runDir, c.lockToken)
	return err
}

// RunDir returns the per-run log directory
func (c *Controller) RunDir() string {
	return c.runDir
}

// Label returns the current-action label
func (c *Controller) Label() string {
	c.labelMu.Lock()
	defer c.labelMu.Unlock()
	return c.label
}

// setLabel names the step in progress, both in memory and in the state
// database, so an abnormal termination can still be diagnosed.
func (c *Controller) setLabel(label string) {
	c.labelMu.Lock()
	c.label = label
	id := c.phaseID
	c.labelMu.Unlock()

	util.DebugLog("Action: %s", label)
	if id != 0 {
		if err := c.state.UpdateLabel(id, label); err != nil {
			util.WarnLog("Failed to persist action label: %v", err)
		}
	}
}

// Run executes one named phase, or every phase in order for PhaseAll. The
// copy and resolve phases remain individually invokable for resumption.
func (c *Controller) Run(ctx context.Context, phase string) error {
	if phase == "" || phase == PhaseAll {
		for _, p := range Phases {
			if err := c.runPhase(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}

	for _, p := range Phases {
		if p == phase {
			return c.runPhase(ctx, p)
		}
	}
	return fmt.Errorf("unknown phase %q (valid: %v or %q)", phase, Phases, PhaseAll)
}

func (c *Controller) runPhase(ctx context.Context, phase string) error {
	util.InfoLog("=== Phase: %s ===", phase)
	c.warnMissingPredecessors(phase)
	c.events.LogPhase(phase, "start")

	id, err := c.state.BeginPhase(phase, phase)
	if err != nil {
		return err
	}
	c.labelMu.Lock()
	c.phaseID = id
	c.labelMu.Unlock()
	c.setLabel(phase)

	err = c.dispatch(ctx, phase)

	if err != nil {
		c.state.FailPhase(id, c.Label(), err.Error())
		c.events.LogError(phase, "", err)
		return fmt.Errorf("phase %s failed at %q: %w", phase, c.Label(), err)
	}

	if err := c.state.CompletePhase(id); err != nil {
		util.WarnLog("Failed to record phase completion: %v", err)
	}
	c.events.LogPhase(phase, "complete")
	return nil
}

// warnMissingPredecessors flags out-of-order invocation. Phases stay
// individually runnable; completing the earlier ones at least once for the
// same run is the operator's responsibility.
func (c *Controller) warnMissingPredecessors(phase string) {
	for _, p := range Phases {
		if p == phase {
			return
		}
		if done, err := c.state.PhaseCompleted(p); err == nil && !done {
			util.WarnLog("Phase %s has not completed for run %s", p, c.cfg.RunID)
			return
		}
	}
}

func (c *Controller) dispatch(ctx context.Context, phase string) error {
	switch phase {
	case PhasePreflight:
		return c.preflight()
	case PhasePrepare:
		return c.prepare()
	case PhaseCopyUnoe:
		return c.copyPhase(ctx, taxonomy.OriginUNOE, c.cfg.UnoeRoot, copyengine.Authoritative)
	case PhaseOverlayDose:
		return c.copyPhase(ctx, taxonomy.OriginDOSE, c.cfg.DoseRoot, copyengine.Overlay)
	case PhaseResolve:
		return c.resolvePhase(ctx)
	case PhaseVerifyPre:
		return c.verifyPhase(ctx, true)
	case PhaseDedupe:
		return c.dedupe(ctx)
	case PhaseManifest:
		return c.manifestPhase()
	case PhaseVerifyPost:
		return c.verifyPhase(ctx, false)
	default:
		return fmt.Errorf("unknown phase %q", phase)
	}
}

// prepare creates the destination taxonomy skeleton
func (c *Controller) prepare() error {
	c.setLabel("prepare: creating destination skeleton")

	retry := util.DefaultRetryConfig()
	for _, rel := range taxonomy.SkeletonDirs() {
		abs := filepath.Join(c.cfg.DestRoot, filepath.FromSlash(rel))
		if c.cfg.DryRun {
			util.DebugLog("DRY-RUN: would create %s", abs)
			continue
		}
		if err := copyengine.EnsureDir(abs, c.cfg.OwnerUID, c.cfg.OwnerGID, retry); err != nil {
			return fmt.Errorf("%w: %v", util.ErrDestinationWrite, err)
		}
	}

	util.SuccessLog("Destination skeleton ready under %s", c.cfg.DestRoot)
	return nil
}

// copyPhase mirrors one source and runs the post-copy comparison pass
func (c *Controller) copyPhase(ctx context.Context, origin, sourceRoot string, mode copyengine.Mode) error {
	c.setLabel(fmt.Sprintf("copy: mirroring %s", origin))

	prov, err := provenance.Open(filepath.Join(c.runDir, fileProvenance))
	if err != nil {
		return err
	}
	defer prov.Close()

	engine := copyengine.New(copyengine.Config{
		Origin:      origin,
		SourceRoot:  sourceRoot,
		DestRoot:    c.cfg.DestRoot,
		Mode:        mode,
		DryRun:      c.cfg.DryRun,
		Concurrency: c.cfg.Concurrency,
		OwnerUID:    c.cfg.OwnerUID,
		OwnerGID:    c.cfg.OwnerGID,
		Provenance:  prov,
		Events:      c.events,
		Retry:       util.DefaultRetryConfig(),
	})

	if _, err := engine.Mirror(ctx); err != nil {
		return err
	}

	if c.cfg.DryRun {
		return nil
	}

	c.setLabel(fmt.Sprintf("copy: comparison pass for %s", origin))
	reportPath := filepath.Join(c.runDir, fmt.Sprintf("compare_%s.log", origin))
	if _, err := engine.Compare(ctx, reportPath); err != nil {
		return err
	}
	return nil
}

// resolvePhase runs the collision resolver over the paired buckets
func (c *Controller) resolvePhase(ctx context.Context) error {
	c.setLabel("resolve: scanning paired buckets")

	prov, err := provenance.Open(filepath.Join(c.runDir, fileProvenance))
	if err != nil {
		return err
	}
	defer prov.Close()

	resolver, err := collision.New(collision.Config{
		UnoeRoot:        c.cfg.UnoeRoot,
		DoseRoot:        c.cfg.DoseRoot,
		DestRoot:        c.cfg.DestRoot,
		CandidatesPath:  filepath.Join(c.runDir, fileCandidates),
		ResolutionsPath: filepath.Join(c.runDir, fileResolutions),
		Provenance:      prov,
		Events:          c.events,
		DryRun:          c.cfg.DryRun,
		OwnerUID:        c.cfg.OwnerUID,
		OwnerGID:        c.cfg.OwnerGID,
		Retry:           util.DefaultRetryConfig(),
	})
	if err != nil {
		return err
	}
	defer resolver.Close()

	_, err = resolver.Resolve(ctx)
	return err
}

// verifyPhase records counts and the hash sample, pre- or post-dedupe. The
// post pass re-hashes exactly the persisted sample and fails on any drift.
func (c *Controller) verifyPhase(ctx context.Context, pre bool) error {
	countsFile, sampleFile := fileCountsPost, fileSamplePost
	if pre {
		countsFile, sampleFile = fileCountsPre, fileSamplePre
	}

	c.setLabel("verify: counting destination")
	snap, err := verify.Take(c.cfg.DestRoot)
	if err != nil {
		return err
	}
	if err := snap.Write(filepath.Join(c.runDir, countsFile)); err != nil {
		return err
	}
	util.InfoLog("Destination: %d files, %d dirs, %s",
		snap.Files, snap.Dirs, util.FormatBytes(snap.Bytes))

	var sample []string
	pathsFile := filepath.Join(c.runDir, fileSamplePaths)
	if pre {
		c.setLabel("verify: selecting hash sample")
		sample, err = sampler.Select(sampler.Config{
			DestRoot:        c.cfg.DestRoot,
			RunID:           c.cfg.RunID,
			ResolutionsPath: filepath.Join(c.runDir, fileResolutions),
			Concurrency:     c.cfg.Concurrency,
		})
		if err != nil {
			return err
		}
		if err := sampler.WritePathList(pathsFile, sample); err != nil {
			return err
		}
	} else {
		sample, err = sampler.ReadPathList(pathsFile)
		if err != nil {
			return err
		}
	}

	c.setLabel(fmt.Sprintf("verify: hashing %d sampled files", len(sample)))
	entries, err := sampler.HashSample(ctx, c.cfg.DestRoot, sample, filepath.Join(c.runDir, sampleFile), c.cfg.Concurrency)
	if err != nil {
		return err
	}

	if !pre {
		return c.compareSamples(entries)
	}
	return nil
}

// compareSamples verifies the post-dedupe hashes against the pre-dedupe
// sample. Any content drift means the deduper broke its contract.
func (c *Controller) compareSamples(post []sampler.Entry) error {
	c.setLabel("verify: comparing pre/post hash samples")

	preEntries, err := sampler.ReadSampleCSV(filepath.Join(c.runDir, fileSamplePre))
	if err != nil {
		return err
	}

	preByPath := make(map[string]sampler.Entry, len(preEntries))
	for _, e := range preEntries {
		preByPath[e.RelPath] = e
	}

	mismatches := 0
	for _, e := range post {
		prev, ok := preByPath[e.RelPath]
		if !ok {
			continue
		}
		if prev.SHA256 != e.SHA256 {
			mismatches++
			util.ErrorLog("Content drift after dedupe: %s (%.12s -> %.12s)",
				e.RelPath, prev.SHA256, e.SHA256)
		}
	}

	if mismatches > 0 {
		return fmt.Errorf("deduplication changed content of %d sampled file(s)", mismatches)
	}
	util.SuccessLog("Hash sample verified: %d files unchanged across dedupe", len(post))
	return nil
}

// manifestPhase builds the creation-time manifest and the Windows handoff
// instructions
func (c *Controller) manifestPhase() error {
	c.setLabel("manifest: joining provenance by content hash")

	_, err := manifest.Build(
		filepath.Join(c.runDir, fileProvenance),
		c.cfg.DestRoot,
		filepath.Join(c.runDir, fileManifest),
		filepath.Join(c.runDir, fileMissing),
	)
	if err != nil {
		return err
	}

	c.setLabel("manifest: writing apply instructions")
	return manifest.WriteInstructions(
		filepath.Join(c.runDir, fileInstruction),
		fileManifest, fileMissing,
	)
}
