package collision

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/tom/unomerge/internal/util"
)

// Classifications of a collision
const (
	ClassIdentical = "identical"
	ClassConflict  = "conflict"
)

// Actions recorded in the collision logs
const (
	ActionNone     = "no_action"
	ActionReplace  = "replace_with_newest"
	ActionKeepBoth = "keep_both"
	ActionPending  = "pending"
)

// Header is the shared column set of the candidate and resolution CSVs
var Header = []string{
	"dest_path",
	"classification",
	"chosen_action",
	"unoe_path",
	"unoe_size",
	"unoe_mtime_utc",
	"unoe_sha256",
	"dose_path",
	"dose_size",
	"dose_mtime_utc",
	"dose_sha256",
	"resulting_paths",
}

// Record is one row of either collision table. ResultingPaths is
// semicolon-joined when an action produced two files.
type Record struct {
	DestPath       string
	Classification string
	ChosenAction   string
	UnoePath       string
	UnoeSize       int64
	UnoeMtime      string
	UnoeSHA256     string
	DosePath       string
	DoseSize       int64
	DoseMtime      string
	DoseSHA256     string
	ResultingPaths string
}

func (r Record) fields() []string {
	return []string{
		r.DestPath,
		r.Classification,
		r.ChosenAction,
		r.UnoePath,
		strconv.FormatInt(r.UnoeSize, 10),
		r.UnoeMtime,
		r.UnoeSHA256,
		r.DosePath,
		strconv.FormatInt(r.DoseSize, 10),
		r.DoseMtime,
		r.DoseSHA256,
		r.ResultingPaths,
	}
}

// Log is an append-only collision CSV (candidates or resolutions)
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
}

// OpenLog opens or creates a collision CSV at path, reusing an existing
// file when its header matches.
func OpenLog(path string) (*Log, error) {
	header, _, err := util.CSVReadAll(path)
	if err == nil && util.CSVHeaderEqual(header, Header) {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open collision log: %w", err)
		}
		return &Log{path: path, file: f, w: bufio.NewWriter(f)}, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create collision log: %w", err)
	}
	l := &Log{path: path, file: f, w: bufio.NewWriter(f)}
	if err := util.CSVAppendRow(l.w, Header); err != nil {
		f.Close()
		return nil, err
	}
	if err := l.w.Flush(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// Path returns the CSV location
func (l *Log) Path() string {
	return l.path
}

// Close flushes and closes the log
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	if err := l.w.Flush(); err != nil {
		l.file.Close()
		return err
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Append writes one record and flushes it
func (l *Log) Append(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("collision log is closed")
	}
	if err := util.CSVAppendRow(l.w, r.fields()); err != nil {
		return err
	}
	return l.w.Flush()
}

// LoadRecords parses a collision CSV. A missing file yields an empty slice.
func LoadRecords(path string) ([]Record, error) {
	header, rows, err := util.CSVReadAll(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if header == nil {
		return nil, nil
	}
	if !util.CSVHeaderEqual(header, Header) {
		return nil, fmt.Errorf("collision log %s: unexpected header %v", path, header)
	}

	records := make([]Record, 0, len(rows))
	for _, rec := range rows {
		unoeSize, err := strconv.ParseInt(rec[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("collision log unoe_size %q: %w", rec[4], err)
		}
		doseSize, err := strconv.ParseInt(rec[8], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("collision log dose_size %q: %w", rec[8], err)
		}
		records = append(records, Record{
			DestPath:       rec[0],
			Classification: rec[1],
			ChosenAction:   rec[2],
			UnoePath:       rec[3],
			UnoeSize:       unoeSize,
			UnoeMtime:      rec[5],
			UnoeSHA256:     rec[6],
			DosePath:       rec[7],
			DoseSize:       doseSize,
			DoseMtime:      rec[9],
			DoseSHA256:     rec[10],
			ResultingPaths: rec[11],
		})
	}
	return records, nil
}
