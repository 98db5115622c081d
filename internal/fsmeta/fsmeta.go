// Package fsmeta reads the per-file metadata the pipeline records: size,
// modification time, SHA-256, and the Windows creation time carried by NTFS
// extended attributes or native birth time.
package fsmeta

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"
)

// hashBufferSize is the read buffer for streamed hashing
const hashBufferSize = 1 << 20

// CreateStatus classifies the outcome of the creation-time probe
type CreateStatus string

const (
	StatusOK         CreateStatus = "ok"
	StatusParseError CreateStatus = "parse_error"
	StatusMissing    CreateStatus = "missing"
)

// Info holds the metadata recorded for one source file
type Info struct {
	Path         string
	Size         int64
	Mtime        string    // UTC ISO-8601, second precision
	ModTime      time.Time // as reported by the filesystem
	SHA256       string
	CreateTime   string // UTC ISO-8601, empty unless CreateStatus == ok
	CreateStatus CreateStatus
}

// FormatUTC formats a time as ISO-8601 UTC at second resolution
func FormatUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// HashFile computes the SHA-256 of the file content, streamed in 1 MiB
// chunks, returning the hex-encoded digest.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashBufferSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Stat returns size and mtime without hashing content
func Stat(path string) (*Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &Info{
		Path:    path,
		Size:    fi.Size(),
		Mtime:   FormatUTC(fi.ModTime()),
		ModTime: fi.ModTime(),
	}, nil
}

// Read gathers the full metadata record for one file: size, mtime, content
// hash, and the creation-time probe result.
func Read(path string) (*Info, error) {
	info, err := Stat(path)
	if err != nil {
		return nil, err
	}

	if info.SHA256, err = HashFile(path); err != nil {
		return nil, err
	}

	info.CreateTime, info.CreateStatus = CreationTime(path)
	return info, nil
}
