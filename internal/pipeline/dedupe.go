package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/tom/unomerge/internal/taxonomy"
	"github.com/tom/unomerge/internal/util"
)

// dedupe invokes the external hardlink deduper over the fixed destination
// subtree list. Only inode identity may change; the pre/post hash samples
// prove contents were preserved.
func (c *Controller) dedupe(ctx context.Context) error {
	if c.cfg.DryRun {
		util.InfoLog("DRY-RUN: skipping hardlink deduplication")
		return nil
	}

	var subtrees []string
	for _, bucket := range taxonomy.SampleBuckets() {
		abs := filepath.Join(c.cfg.DestRoot, filepath.FromSlash(bucket))
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			subtrees = append(subtrees, abs)
		}
	}
	if len(subtrees) == 0 {
		util.WarnLog("Dedupe: no destination subtrees present, nothing to do")
		return nil
	}

	c.setLabel(fmt.Sprintf("dedupe: running %s over %d subtrees", c.cfg.DedupeTool, len(subtrees)))

	cmd := exec.CommandContext(ctx, c.cfg.DedupeTool, subtrees...)

	stdout, err := os.Create(filepath.Join(c.runDir, "dedupe_report.log"))
	if err != nil {
		return fmt.Errorf("create dedupe report: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.Create(filepath.Join(c.runDir, "dedupe_actions.log"))
	if err != nil {
		return fmt.Errorf("create dedupe action log: %w", err)
	}
	defer stderr.Close()

	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("dedupe tool %s failed: %w", c.cfg.DedupeTool, err)
	}

	if err := c.writeSavingsSummary(); err != nil {
		util.WarnLog("Dedupe: could not extract savings summary: %v", err)
	}

	util.SuccessLog("Dedupe complete, logs in %s", c.runDir)
	return nil
}

// writeSavingsSummary extracts the tool's space accounting lines from the
// report into a small standalone summary file.
func (c *Controller) writeSavingsSummary() error {
	in, err := os.Open(filepath.Join(c.runDir, "dedupe_report.log"))
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(filepath.Join(c.runDir, "dedupe_savings.log"))
	if err != nil {
		return err
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		lower := strings.ToLower(line)
		if strings.Contains(lower, "sav") ||
			strings.Contains(lower, "freed") ||
			strings.Contains(lower, "linked") ||
			strings.Contains(lower, "duplicates") {
			fmt.Fprintln(w, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return w.Flush()
}
