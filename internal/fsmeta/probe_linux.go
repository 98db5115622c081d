//go:build linux

package fsmeta

import (
	"time"

	"golang.org/x/sys/unix"
)

// birthTime reads the native birth time via statx. Only a strictly positive
// second count is trusted; filesystems that cannot report a birth time leave
// the STATX_BTIME bit unset or return zero.
func birthTime(path string) (time.Time, bool) {
	var stx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, path, unix.AT_STATX_SYNC_AS_STAT, unix.STATX_BTIME, &stx)
	if err != nil {
		return time.Time{}, false
	}
	if stx.Mask&unix.STATX_BTIME == 0 || stx.Btime.Sec <= 0 {
		return time.Time{}, false
	}
	return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec)), true
}

// getxattr reads one extended attribute, reporting presence separately from
// content so a present-but-malformed value can be distinguished upstream.
func getxattr(path, name string) ([]byte, bool) {
	size, err := unix.Getxattr(path, name, nil)
	if err != nil || size < 0 {
		return nil, false
	}
	buf := make([]byte, size)
	n, err := unix.Getxattr(path, name, buf)
	if err != nil || n < 0 {
		return nil, false
	}
	return buf[:n], true
}
