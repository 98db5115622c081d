package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/tom/unomerge/internal/util"
)

const lockFileName = "run.lock"

// AcquireLock claims write-exclusivity over the run directory. The lock
// file records a token and the owning pid; a lock held by another live
// process refuses the run, while a stale lock from a dead process is
// replaced so a crashed run can be resumed.
func AcquireLock(runDir string) (string, error) {
	path := filepath.Join(runDir, lockFileName)

	if data, err := os.ReadFile(path); err == nil {
		lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
		if len(lines) == 2 {
			if pid, err := strconv.Atoi(strings.TrimSpace(lines[1])); err == nil && pid != os.Getpid() {
				if processAlive(pid) {
					return "", fmt.Errorf("%w: held by pid %d", util.ErrLocked, pid)
				}
				util.WarnLog("Replacing stale run lock held by dead pid %d", pid)
			}
		}
	}

	token := uuid.NewString()
	content := fmt.Sprintf("%s\n%d\n", token, os.Getpid())
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write run lock: %w", err)
	}
	return token, nil
}

// ReleaseLock removes the lock file if it still carries our token
func ReleaseLock(runDir, token string) {
	path := filepath.Join(runDir, lockFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if strings.HasPrefix(string(data), token) {
		os.Remove(path)
	}
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	sigErr := proc.Signal(syscall.Signal(0))
	if sigErr == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else
	return errors.Is(sigErr, syscall.EPERM)
}
