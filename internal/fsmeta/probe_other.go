//go:build !linux

package fsmeta

import "time"

// The NTFS xattr contract only exists on Linux hosts; elsewhere the probe
// reports missing and the pipeline records the status verbatim.

func birthTime(string) (time.Time, bool) {
	return time.Time{}, false
}

func getxattr(string, string) ([]byte, bool) {
	return nil, false
}
