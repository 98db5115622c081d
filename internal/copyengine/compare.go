package copyengine

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"github.com/tom/unomerge/internal/util"
)

// Compare re-walks the source in the same mode as the mirror pass and
// writes any residual difference to reportPath, one line per file. A
// non-empty report after a copy is a soft warning, not a failure.
func (e *Engine) Compare(ctx context.Context, reportPath string) (int, error) {
	f, err := os.Create(reportPath)
	if err != nil {
		return 0, fmt.Errorf("create comparison report: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	result := &Result{}
	tasks, _, err := e.collectTasks(result)
	if err != nil {
		return 0, err
	}

	diffs := 0
	for _, t := range tasks {
		select {
		case <-ctx.Done():
			return diffs, ctx.Err()
		default:
		}

		reason, err := e.compareOne(t)
		if err != nil {
			util.WarnLog("Comparison error for %s: %v", t.srcAbs, err)
			continue
		}
		if reason == "" {
			continue
		}
		diffs++
		fmt.Fprintf(w, "%s\t%s\n", reason, t.destRel)
	}

	if err := w.Flush(); err != nil {
		return diffs, err
	}

	if diffs > 0 {
		util.WarnLog("%s comparison: %d residual difference(s), see %s",
			e.cfg.Origin, diffs, reportPath)
	} else {
		util.InfoLog("%s comparison: no residual differences", e.cfg.Origin)
	}
	return diffs, nil
}

// compareOne reports why a source file still differs from its destination,
// or "" when it does not. Overlay mode only reports files the mirror pass
// would have written: an existing destination was deferred, not copied.
func (e *Engine) compareOne(t task) (string, error) {
	destAbs := filepath.Join(e.cfg.DestRoot, t.destRel)

	srcInfo, err := os.Stat(t.srcAbs)
	if err != nil {
		return "", err
	}

	destInfo, err := os.Stat(destAbs)
	if os.IsNotExist(err) {
		return "missing", nil
	}
	if err != nil {
		return "", err
	}

	if e.cfg.Mode == Overlay {
		return "", nil
	}

	if destInfo.Size() != srcInfo.Size() {
		return "size", nil
	}

	if !destInfo.ModTime().Truncate(time.Second).Equal(srcInfo.ModTime().Truncate(time.Second)) {
		// Equal sizes with differing mtimes: decide by content
		same, err := sameContent(t.srcAbs, destAbs)
		if err != nil {
			return "", err
		}
		if !same {
			return "content", nil
		}
		return "mtime", nil
	}

	return "", nil
}

// sameContent compares two files by BLAKE3 digest. SHA-256 stays the
// recorded identity hash; this check only decides a yes/no locally.
func sameContent(a, b string) (bool, error) {
	ha, err := quickHash(a)
	if err != nil {
		return false, err
	}
	hb, err := quickHash(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

func quickHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	buf := make([]byte, 256*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
