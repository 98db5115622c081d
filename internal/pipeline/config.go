package pipeline

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/tom/unomerge/internal/taxonomy"
)

// Default volume roots. Overridable through configuration; the pipeline
// otherwise assumes these exact mounts.
const (
	DefaultUnoeRoot = "/mnt/unoe"
	DefaultDoseRoot = "/mnt/dose"
	DefaultDestRoot = "/mnt/uno"
)

// Config is the immutable per-run configuration, resolved once at startup
// and passed explicitly to every component.
type Config struct {
	UnoeRoot    string
	DoseRoot    string
	DestRoot    string
	LogDir      string // overrides the default run-directory location
	RunID       string
	DryRun      bool
	Concurrency int
	DedupeTool  string
	OwnerUID    int // -1 disables ownership normalization
	OwnerGID    int
}

// DefaultRunID formats the launch time as the run identifier
func DefaultRunID(now time.Time) string {
	return now.Format("2006-01-02_150405")
}

// RunDir returns the per-run log directory: either under the overridden
// log dir or at the fixed destination subpath.
func (c Config) RunDir() string {
	if c.LogDir != "" {
		return filepath.Join(c.LogDir, c.RunID)
	}
	return filepath.Join(c.DestRoot, filepath.FromSlash(taxonomy.LogsDest), c.RunID)
}

// Validate rejects configurations the pipeline cannot run with
func (c Config) Validate() error {
	for name, root := range map[string]string{
		"unoe_root": c.UnoeRoot,
		"dose_root": c.DoseRoot,
		"dest_root": c.DestRoot,
	} {
		if root == "" {
			return fmt.Errorf("%s is required", name)
		}
		if !filepath.IsAbs(root) {
			return fmt.Errorf("%s must be absolute, got %q", name, root)
		}
	}
	if c.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if filepath.Base(c.RunID) != c.RunID || c.RunID == "." || c.RunID == ".." {
		return fmt.Errorf("run_id must be a plain directory name, got %q", c.RunID)
	}
	return nil
}
