// Package copyengine mirrors a source subtree onto the destination under
// the taxonomy remap. Overlay mode never overwrites: an existing
// destination file is deferred to the collision resolver.
package copyengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/tom/unomerge/internal/fsmeta"
	"github.com/tom/unomerge/internal/provenance"
	"github.com/tom/unomerge/internal/report"
	"github.com/tom/unomerge/internal/taxonomy"
	"github.com/tom/unomerge/internal/util"
)

// Mode selects the overwrite behavior
type Mode int

const (
	// Authoritative seeds the destination; an existing file is refreshed
	Authoritative Mode = iota
	// Overlay writes only where the destination does not exist
	Overlay
)

// Destination permission policy: setgid group directories, group-writable
// files, no world access to files.
const (
	DirPerm  os.FileMode = 0o775 | os.ModeSetgid
	FilePerm os.FileMode = 0o660
)

const copyBufferSize = 1 << 20

// Config holds copy engine configuration
type Config struct {
	Origin      string
	SourceRoot  string
	DestRoot    string
	Mode        Mode
	DryRun      bool
	Concurrency int
	OwnerUID    int // -1 disables ownership normalization
	OwnerGID    int
	Provenance  *provenance.Store
	Events      *report.EventLogger
	Retry       *util.RetryConfig
}

// Engine mirrors one source volume
type Engine struct {
	cfg Config
}

// New creates a copy engine
func New(cfg Config) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Retry == nil {
		cfg.Retry = util.NoRetryConfig()
	}
	if cfg.Events == nil {
		cfg.Events = report.NullLogger()
	}
	return &Engine{cfg: cfg}
}

// Result represents a mirror pass outcome
type Result struct {
	FilesCopied   int
	FilesDeferred int
	FilesSkipped  int
	BytesCopied   int64
	Errors        []error
}

type task struct {
	srcAbs  string
	destRel string
}

// Mirror walks the source root, classifies every depth-1 entry, and copies
// the resulting tree to the destination. Unreadable source entries are
// logged and skipped; a destination write failure aborts the pass.
func (e *Engine) Mirror(ctx context.Context) (*Result, error) {
	result := &Result{}

	tasks, skipped, err := e.collectTasks(result)
	if err != nil {
		return nil, err
	}
	result.FilesSkipped += skipped

	util.InfoLog("%s: %d files to mirror (%s mode)", e.cfg.Origin, len(tasks), e.modeName())

	var copied, deferred, skippedExisting atomic.Int64
	var bytes atomic.Int64

	var bar *progressbar.ProgressBar
	if util.IsTerminal(os.Stderr.Fd()) && !util.IsQuiet() {
		bar = progressbar.NewOptions(len(tasks),
			progressbar.OptionSetDescription(fmt.Sprintf("Copying %s", e.cfg.Origin)),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetWriter(os.Stderr),
		)
	}

	taskCh := make(chan task, e.cfg.Concurrency*2)
	errCh := make(chan error, e.cfg.Concurrency)
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskCh {
				select {
				case <-workerCtx.Done():
					return
				default:
				}

				outcome, n, err := e.copyOne(workerCtx, t)
				if bar != nil {
					bar.Add(1)
				}
				switch {
				case err != nil && isSourceReadError(err):
					// Unreadable source entry: log, skip, continue
					util.WarnLog("Skipping unreadable source %s: %v", t.srcAbs, err)
					e.cfg.Events.LogSkip(e.cfg.Origin, t.srcAbs, err.Error())
					mu.Lock()
					result.Errors = append(result.Errors, err)
					mu.Unlock()
				case err != nil:
					// Destination write failure: fatal to the phase
					select {
					case errCh <- fmt.Errorf("%w: %s: %v", util.ErrDestinationWrite, t.destRel, err):
					default:
					}
					cancel()
					return
				case outcome == outcomeCopied:
					copied.Add(1)
					bytes.Add(n)
				case outcome == outcomeDeferred:
					deferred.Add(1)
				case outcome == outcomeSkipped:
					skippedExisting.Add(1)
				}
			}
		}()
	}

feed:
	for _, t := range tasks {
		select {
		case <-workerCtx.Done():
			break feed
		case taskCh <- t:
		}
	}
	close(taskCh)
	wg.Wait()

	if bar != nil {
		bar.Finish()
	}

	select {
	case err := <-errCh:
		return nil, err
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result.FilesCopied = int(copied.Load())
	result.FilesDeferred = int(deferred.Load())
	result.FilesSkipped += int(skippedExisting.Load())
	result.BytesCopied = bytes.Load()

	util.SuccessLog("%s mirror complete: %d copied (%s), %d deferred, %d skipped",
		e.cfg.Origin, result.FilesCopied, util.FormatBytes(result.BytesCopied),
		result.FilesDeferred, result.FilesSkipped)

	return result, nil
}

// collectTasks enumerates and classifies the source tree
func (e *Engine) collectTasks(result *Result) ([]task, int, error) {
	entries, err := os.ReadDir(e.cfg.SourceRoot)
	if err != nil {
		return nil, 0, fmt.Errorf("read source root %s: %w", e.cfg.SourceRoot, err)
	}

	var tasks []task
	skipped := 0

	for _, entry := range entries {
		name := entry.Name()
		kind := taxonomy.KindFile
		if entry.IsDir() {
			kind = taxonomy.KindDir
		}

		destRel, err := taxonomy.Classify(e.cfg.Origin, name, kind)
		if err != nil {
			skipped++
			continue
		}

		srcAbs := filepath.Join(e.cfg.SourceRoot, name)
		if !entry.IsDir() {
			tasks = append(tasks, task{srcAbs: srcAbs, destRel: destRel})
			continue
		}

		walkErr := filepath.WalkDir(srcAbs, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				util.WarnLog("Skipping unreadable entry %s: %v", p, err)
				e.cfg.Events.LogSkip(e.cfg.Origin, p, err.Error())
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
			rel, err := filepath.Rel(srcAbs, p)
			if err != nil {
				return nil
			}
			tasks = append(tasks, task{
				srcAbs:  p,
				destRel: path.Join(destRel, filepath.ToSlash(rel)),
			})
			return nil
		})
		if walkErr != nil {
			return nil, 0, fmt.Errorf("walk %s: %w", srcAbs, walkErr)
		}
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].destRel < tasks[j].destRel })
	return tasks, skipped, nil
}

type outcome int

const (
	outcomeCopied outcome = iota
	outcomeDeferred
	outcomeSkipped
)

// copyOne mirrors a single file, appending provenance on success
func (e *Engine) copyOne(ctx context.Context, t task) (outcome, int64, error) {
	destAbs := filepath.Join(e.cfg.DestRoot, t.destRel)

	srcInfo, err := os.Stat(t.srcAbs)
	if err != nil {
		return 0, 0, &sourceReadError{err}
	}

	if destInfo, err := os.Stat(destAbs); err == nil {
		if e.cfg.Mode == Overlay {
			e.cfg.Events.LogDefer(e.cfg.Origin, t.srcAbs, t.destRel)
			return outcomeDeferred, 0, nil
		}
		// Authoritative resume: identical size and mtime means already mirrored
		if destInfo.Size() == srcInfo.Size() &&
			destInfo.ModTime().Truncate(time.Second).Equal(srcInfo.ModTime().Truncate(time.Second)) {
			return outcomeSkipped, 0, nil
		}
	}

	if e.cfg.DryRun {
		util.DebugLog("DRY-RUN: would copy %s -> %s", t.srcAbs, t.destRel)
		return outcomeCopied, srcInfo.Size(), nil
	}

	start := time.Now()
	n, srcHash, err := CopyWithHash(ctx, t.srcAbs, destAbs, CopyOptions{
		Mtime:    srcInfo.ModTime(),
		OwnerUID: e.cfg.OwnerUID,
		OwnerGID: e.cfg.OwnerGID,
		Retry:    e.cfg.Retry,
	})
	if err != nil {
		return 0, 0, err
	}

	e.cfg.Events.LogCopy(e.cfg.Origin, t.srcAbs, t.destRel, n, time.Since(start))

	if e.cfg.Provenance != nil {
		createTime, createStatus := fsmeta.CreationTime(t.srcAbs)
		row := provenance.Row{
			DestPath:     t.destRel,
			Origin:       e.cfg.Origin,
			SourcePath:   t.srcAbs,
			CreateTime:   createTime,
			CreateStatus: createStatus,
			Mtime:        fsmeta.FormatUTC(srcInfo.ModTime()),
			SizeBytes:    srcInfo.Size(),
			SHA256:       srcHash,
		}
		if err := e.cfg.Provenance.AppendVerified(row, destAbs); err != nil {
			return 0, 0, err
		}
	}

	return outcomeCopied, n, nil
}

func (e *Engine) modeName() string {
	if e.cfg.Mode == Overlay {
		return "overlay"
	}
	return "authoritative"
}

// CopyOptions control a single file copy
type CopyOptions struct {
	Mtime    time.Time
	OwnerUID int
	OwnerGID int
	Retry    *util.RetryConfig
}

// CopyWithHash copies src to dst atomically (.part then rename), hashing the
// content stream as it passes. Returns bytes written and the hex SHA-256.
// Intermediate directories are created with the destination policy. A copy
// that has started runs to completion even if ctx is cancelled; callers
// stop before the next file.
func CopyWithHash(ctx context.Context, src, dst string, opts CopyOptions) (int64, string, error) {
	if opts.Retry == nil {
		opts.Retry = util.NoRetryConfig()
	}

	if err := EnsureDir(filepath.Dir(dst), opts.OwnerUID, opts.OwnerGID, opts.Retry); err != nil {
		return 0, "", err
	}

	in, err := util.RetryableOpen(src, opts.Retry)
	if err != nil {
		return 0, "", &sourceReadError{err}
	}
	defer in.Close()

	tempPath := dst + ".part"
	out, err := util.RetryableCreate(tempPath, opts.Retry)
	if err != nil {
		return 0, "", fmt.Errorf("create temp file: %w", err)
	}

	h := sha256.New()
	written, err := copyWithContext(context.WithoutCancel(ctx), io.MultiWriter(out, h), in)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		util.RetryableRemove(tempPath, opts.Retry)
		return 0, "", fmt.Errorf("copy %s: %w", src, err)
	}

	if err := os.Chmod(tempPath, FilePerm); err != nil {
		util.RetryableRemove(tempPath, opts.Retry)
		return 0, "", fmt.Errorf("chmod: %w", err)
	}
	applyOwnership(tempPath, opts.OwnerUID, opts.OwnerGID)

	if !opts.Mtime.IsZero() {
		if err := os.Chtimes(tempPath, opts.Mtime, opts.Mtime); err != nil {
			util.WarnLog("Failed to preserve mtime on %s: %v", dst, err)
		}
	}

	if err := util.RetryableRename(tempPath, dst, opts.Retry); err != nil {
		util.RetryableRemove(tempPath, opts.Retry)
		return 0, "", fmt.Errorf("rename: %w", err)
	}

	return written, hex.EncodeToString(h.Sum(nil)), nil
}

// EnsureDir creates dir (and parents) with the destination directory policy
func EnsureDir(dir string, uid, gid int, retry *util.RetryConfig) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	// Remember every missing ancestor so each one receives the policy
	var missing []string
	for d := dir; ; d = filepath.Dir(d) {
		if _, err := os.Stat(d); err == nil || filepath.Dir(d) == d {
			break
		}
		missing = append(missing, d)
	}
	if err := util.RetryableMkdirAll(dir, 0o775, retry); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	for _, d := range missing {
		if err := os.Chmod(d, DirPerm); err != nil {
			util.WarnLog("Failed to set directory mode on %s: %v", d, err)
		}
		applyOwnership(d, uid, gid)
	}
	return nil
}

// applyOwnership normalizes ownership when configured; failure is a
// warning because tests and dry inspection runs are not privileged.
func applyOwnership(path string, uid, gid int) {
	if uid < 0 || gid < 0 {
		return
	}
	if err := os.Chown(path, uid, gid); err != nil {
		util.WarnLog("Failed to chown %s: %v", path, err)
	}
}

// copyWithContext copies data, honoring cancellation between chunks
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, er := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[:nr])
			written += int64(nw)
			if ew != nil {
				return written, ew
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if er != nil {
			if er != io.EOF {
				return written, er
			}
			return written, nil
		}
	}
}

// sourceReadError marks failures reading the source side, which are
// skippable, as opposed to destination write failures, which are fatal.
type sourceReadError struct{ err error }

func (e *sourceReadError) Error() string { return e.err.Error() }
func (e *sourceReadError) Unwrap() error { return e.err }

func isSourceReadError(err error) bool {
	var sre *sourceReadError
	return errors.As(err, &sre)
}
