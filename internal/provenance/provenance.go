// Package provenance is the append-only record attributing each destination
// file to the source file(s) that produced it. Rows are never rewritten;
// consumers deduplicate by content hash.
package provenance

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/tom/unomerge/internal/fsmeta"
	"github.com/tom/unomerge/internal/util"
)

// Header is the fixed column set of the provenance CSV
var Header = []string{
	"dest_path",
	"origin",
	"source_path",
	"src_create_time_utc",
	"create_time_status",
	"src_mtime_utc",
	"size_bytes",
	"sha256",
}

// Row is one provenance record. DestPath is relative to the destination
// root; Origin is one of the two source labels.
type Row struct {
	DestPath     string
	Origin       string
	SourcePath   string
	CreateTime   string
	CreateStatus fsmeta.CreateStatus
	Mtime        string
	SizeBytes    int64
	SHA256       string
}

func (r Row) fields() []string {
	return []string{
		r.DestPath,
		r.Origin,
		r.SourcePath,
		r.CreateTime,
		string(r.CreateStatus),
		r.Mtime,
		strconv.FormatInt(r.SizeBytes, 10),
		r.SHA256,
	}
}

// Store appends rows to the provenance CSV. Appends are serialized; readers
// only run in later phases.
type Store struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
}

// Open opens or creates the provenance CSV at path. An existing file with
// the expected header is reused; anything else is created fresh.
func Open(path string) (*Store, error) {
	if reusable(path) {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open provenance: %w", err)
		}
		return &Store{path: path, file: f, w: bufio.NewWriter(f)}, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create provenance: %w", err)
	}
	s := &Store{path: path, file: f, w: bufio.NewWriter(f)}
	if err := util.CSVAppendRow(s.w, Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write provenance header: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// reusable reports whether path exists and already carries the expected header
func reusable(path string) bool {
	header, _, err := util.CSVReadAll(path)
	if err != nil {
		return false
	}
	return util.CSVHeaderEqual(header, Header)
}

// Path returns the CSV location
func (s *Store) Path() string {
	return s.path
}

// Close flushes and closes the store
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		s.file.Close()
		return err
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Append writes one row and flushes it, so a crash never loses acknowledged
// rows.
func (s *Store) Append(r Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("provenance store is closed")
	}
	if err := util.CSVAppendRow(s.w, r.fields()); err != nil {
		return err
	}
	return s.w.Flush()
}

// AppendVerified appends the row only when the destination file's current
// content hash matches the row's recorded source hash; a mismatch suppresses
// the row to prevent false attribution.
func (s *Store) AppendVerified(r Row, destAbs string) error {
	destHash, err := fsmeta.HashFile(destAbs)
	if err != nil {
		return fmt.Errorf("verify destination hash: %w", err)
	}
	if destHash != r.SHA256 {
		util.WarnLog("Provenance suppressed for %s: destination hash %.12s does not match source %.12s",
			r.DestPath, destHash, r.SHA256)
		return nil
	}
	return s.Append(r)
}

// ReadAll parses the provenance CSV at path. The header must match exactly.
func ReadAll(path string) ([]Row, error) {
	header, records, err := util.CSVReadAll(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", util.ErrMissingProvenance, path)
		}
		return nil, err
	}
	if !util.CSVHeaderEqual(header, Header) {
		return nil, fmt.Errorf("%w: got %v", util.ErrManifestHeaders, header)
	}

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		size, err := strconv.ParseInt(rec[6], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("provenance size_bytes %q: %w", rec[6], err)
		}
		rows = append(rows, Row{
			DestPath:     rec[0],
			Origin:       rec[1],
			SourcePath:   rec[2],
			CreateTime:   rec[3],
			CreateStatus: fsmeta.CreateStatus(rec[4]),
			Mtime:        rec[5],
			SizeBytes:    size,
			SHA256:       rec[7],
		})
	}
	return rows, nil
}
