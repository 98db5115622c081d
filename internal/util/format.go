package util

import "github.com/dustin/go-humanize"

// FormatBytes formats a byte count in human-readable IEC units
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}
