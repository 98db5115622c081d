package pipeline

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tom/unomerge/internal/util"
)

// preflight verifies the environment and dumps its inventory into the run
// directory. Missing privilege, a missing dedupe tool, and a volume root
// that is absent or not a directory are fatal; everything else is recorded
// for later inspection.
func (c *Controller) preflight() error {
	c.setLabel("preflight: checking privilege")
	if os.Geteuid() != 0 {
		return fmt.Errorf("%w: mutating phases require root (euid %d)", util.ErrNotPrivileged, os.Geteuid())
	}

	c.setLabel("preflight: checking tools")
	toolPath, err := exec.LookPath(c.cfg.DedupeTool)
	if err != nil {
		return fmt.Errorf("%w: %s not found in PATH", util.ErrMissingTool, c.cfg.DedupeTool)
	}

	c.setLabel("preflight: checking volumes")
	type volume struct {
		name string
		root string
	}
	volumes := []volume{
		{"UNOE", c.cfg.UnoeRoot},
		{"DOSE", c.cfg.DoseRoot},
		{"UNO", c.cfg.DestRoot},
	}
	for _, v := range volumes {
		info, err := os.Stat(v.root)
		if err != nil {
			return fmt.Errorf("volume %s root %s: %w", v.name, v.root, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("volume %s root %s is not a directory", v.name, v.root)
		}
	}

	c.setLabel("preflight: writing inventory")
	f, err := os.Create(filepath.Join(c.runDir, "preflight.txt"))
	if err != nil {
		return fmt.Errorf("create preflight dump: %w", err)
	}
	defer f.Close()

	fmt.Fprintf(f, "run_id=%s\n", c.cfg.RunID)
	fmt.Fprintf(f, "started=%s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(f, "euid=%d\n", os.Geteuid())
	fmt.Fprintf(f, "dedupe_tool=%s\n", toolPath)
	fmt.Fprintf(f, "dry_run=%v\n", c.cfg.DryRun)

	for _, v := range volumes {
		var st unix.Statfs_t
		if err := unix.Statfs(v.root, &st); err != nil {
			fmt.Fprintf(f, "volume.%s.root=%s statfs_error=%v\n", v.name, v.root, err)
			continue
		}
		free := int64(st.Bavail) * st.Bsize
		total := int64(st.Blocks) * st.Bsize
		fmt.Fprintf(f, "volume.%s.root=%s free=%d total=%d free_human=%s\n",
			v.name, v.root, free, total, util.FormatBytes(free))
	}

	sameFS, err := util.IsSameFilesystem(c.cfg.DestRoot, c.runDir)
	if err == nil {
		fmt.Fprintf(f, "run_dir_on_destination=%v\n", sameFS)
		if !sameFS && c.cfg.LogDir == "" {
			util.WarnLog("Run directory is not on the destination volume")
		}
	}

	util.SuccessLog("Preflight passed, inventory at %s", filepath.Join(c.runDir, "preflight.txt"))
	return nil
}
