// Package snapshot persists the survey structure seen by the last refresh.
//
// The file is JSON with a format version and an xxh3 checksum over the rows.
// It is always written to a temporary file in the same directory and renamed
// into place, so readers never observe a partial snapshot. There is no
// locking: concurrent runs against the same path must be serialized by the
// caller.
package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"surveysync/internal/survey"
)

const formatVersion = 1

var (
	// ErrPersistence wraps filesystem failures while reading or writing.
	ErrPersistence = errors.New("snapshot: persistence error")
	// ErrDecode marks a snapshot file that exists but cannot be trusted.
	ErrDecode = errors.New("snapshot: cannot decode")
	// ErrDirNotWritable is reported when the snapshot directory rejects writes.
	ErrDirNotWritable = errors.New("snapshot: directory not writable")
)

// Snapshot is a decoded snapshot file.
type Snapshot struct {
	RunID     string
	WrittenAt time.Time
	Rows      survey.Structure
}

type fileFormat struct {
	Version   int                   `json:"version"`
	RunID     string                `json:"run_id,omitempty"`
	WrittenAt time.Time             `json:"written_at"`
	Checksum  string                `json:"checksum"`
	Rows      []survey.StructureRow `json:"rows"`
}

// Checksum returns the "xxh3:<hex>" digest of rows in order.
func Checksum(rows survey.Structure) string {
	buf := make([]byte, 0, 16*len(rows))
	for _, r := range rows {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(r.SurveyID))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(r.QuestionID))
	}
	return "xxh3:" + strconv.FormatUint(xxh3.Hash(buf), 16)
}

// Store reads and writes one snapshot file.
type Store struct {
	path string
	now  func() time.Time
}

// NewStore returns a Store for path. The file need not exist.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Path returns the snapshot file path.
func (s *Store) Path() string { return s.path }

// Dir returns the directory holding the snapshot.
func (s *Store) Dir() string {
	d := filepath.Dir(s.path)
	if d == "" {
		return "."
	}
	return d
}

// Exists reports whether a regular file is present at the path.
func (s *Store) Exists() bool {
	fi, err := os.Stat(s.path)
	return err == nil && fi.Mode().IsRegular()
}

// Read loads and verifies the snapshot. Malformed content, an unknown version
// or a checksum mismatch yields an error matching ErrDecode; I/O failures
// match ErrPersistence.
func (s *Store) Read() (*Snapshot, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrPersistence, s.path, err)
	}
	var f fileFormat
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, s.path, err)
	}
	if f.Version != formatVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrDecode, s.path, f.Version)
	}
	rows := survey.Structure(f.Rows)
	if rows == nil {
		rows = survey.Structure{}
	}
	if got := Checksum(rows); !strings.EqualFold(got, f.Checksum) {
		return nil, fmt.Errorf("%w: %s: checksum %s does not match %s", ErrDecode, s.path, f.Checksum, got)
	}
	return &Snapshot{RunID: f.RunID, WrittenAt: f.WrittenAt, Rows: rows}, nil
}

// Write stores rows atomically, replacing any existing snapshot.
func (s *Store) Write(rows survey.Structure, runID string) error {
	if rows == nil {
		rows = survey.Structure{}
	}
	b, err := json.MarshalIndent(fileFormat{
		Version:   formatVersion,
		RunID:     runID,
		WrittenAt: s.now().UTC(),
		Checksum:  Checksum(rows),
		Rows:      rows,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrPersistence, err)
	}

	tmp, err := os.CreateTemp(s.Dir(), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp in %s: %w", ErrPersistence, s.Dir(), err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write %s: %w", ErrPersistence, tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: sync %s: %w", ErrPersistence, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrPersistence, tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: rename to %s: %w", ErrPersistence, s.path, err)
	}
	log.Printf("snapshot: wrote %d rows to %s", len(rows), s.path)
	return nil
}

// Replace overwrites an existing snapshot with rows. The previous file stays
// intact until the new one is complete.
func (s *Store) Replace(rows survey.Structure, runID string) error {
	if s.Exists() {
		log.Printf("snapshot: replacing %s", s.path)
	}
	return s.Write(rows, runID)
}

// Remove deletes the snapshot. A missing file is not an error.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %w", ErrPersistence, s.path, err)
	}
	return nil
}

// DirWritable reports whether a snapshot could be created in Dir. A missing
// or read-only directory is (false, nil); unexpected probe failures are
// returned as errors.
func (s *Store) DirWritable() (bool, error) {
	fi, err := os.Stat(s.Dir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat %s: %w", ErrPersistence, s.Dir(), err)
	}
	if !fi.IsDir() {
		return false, nil
	}
	return dirWritable(s.Dir())
}
