package fsmeta

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Windows FILETIME counts 100-nanosecond intervals since 1601-01-01 UTC.
const (
	filetimeTicksPerSecond = 10_000_000
	filetimeEpochOffset    = 11_644_473_600
)

// Names of the NTFS extended attributes that carry the creation time, in
// probe order. Both encode a 64-bit big-endian FILETIME as hex.
const (
	xattrCrtimeBE = "system.ntfs_crtime_be"
	xattrCrtime   = "system.ntfs_crtime"
)

// DecodeFiletimeHex converts a hex-encoded big-endian Windows FILETIME to a
// UTC time. The value may carry a 0x prefix; if it is longer than 16 hex
// digits the trailing 16 are used.
func DecodeFiletimeHex(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")

	if len(s) > 16 {
		s = s[len(s)-16:]
	}
	if len(s) != 16 {
		return time.Time{}, fmt.Errorf("filetime value has %d hex digits, want 16", len(s))
	}

	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("filetime value is not hex: %w", err)
	}

	secs := int64(v/filetimeTicksPerSecond) - filetimeEpochOffset
	if secs < 0 {
		return time.Time{}, fmt.Errorf("filetime decodes to negative epoch %d", secs)
	}

	return time.Unix(secs, 0).UTC(), nil
}

// CreationTime probes, in order: native birth time, system.ntfs_crtime_be,
// system.ntfs_crtime. Returns (time, ok) on success, (empty, parse_error)
// when an attribute exists but decodes incorrectly, and (empty, missing)
// when no source supplies a value.
func CreationTime(path string) (string, CreateStatus) {
	if t, ok := birthTime(path); ok {
		return FormatUTC(t), StatusOK
	}

	for _, attr := range []string{xattrCrtimeBE, xattrCrtime} {
		raw, present := getxattr(path, attr)
		if !present {
			continue
		}
		t, err := DecodeFiletimeHex(string(raw))
		if err != nil {
			return "", StatusParseError
		}
		return FormatUTC(t), StatusOK
	}

	return "", StatusMissing
}
