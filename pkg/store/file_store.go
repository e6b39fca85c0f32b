package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"
)

// FileFormat is the snapshot layout version written by FileStore.
const FileFormat = "1.0.0"

// supportedFormats is the range of snapshot versions FileStore can read.
const supportedFormats = "^1.0.0"

// ErrUnsupportedFormat is returned when a snapshot file was written by an
// incompatible version.
var ErrUnsupportedFormat = errors.New("store: unsupported snapshot format")

// FileStore implements Store using a local JSON file (for simple durability).
type FileStore struct {
	*MemoryStore
	path string
}

func NewFileStore(path string) (*FileStore, error) {
	return NewFileStoreWithClock(path, time.Now)
}

func NewFileStoreWithClock(path string, clock func() time.Time) (*FileStore, error) {
	fs := &FileStore{MemoryStore: NewMemoryStoreWithClock(clock), path: path}
	fs.persist = fs.write
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil // Start empty
	}
	if err != nil {
		return err
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("read %s: %w", f.path, err)
	}
	if err := checkFormat(snap.Format); err != nil {
		return err
	}
	if snap.Negotiations == nil {
		snap.Negotiations = make(map[string]Entry)
	}
	if snap.Transitions == nil {
		snap.Transitions = make(map[string][]Transition)
	}
	snap.Format = FileFormat
	f.data = snap
	return nil
}

func checkFormat(format string) error {
	v, err := semver.NewVersion(format)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrUnsupportedFormat, format, err)
	}
	c, err := semver.NewConstraint(supportedFormats)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: %s not in %s", ErrUnsupportedFormat, v, supportedFormats)
	}
	return nil
}

// write replaces the file atomically.
func (f *FileStore) write(snap snapshot) error {
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".negotiations-*.json")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
