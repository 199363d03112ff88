// Package manifest maintains the durable log of table and WAL state
// transitions. Replaying the log from the top reconstructs which table
// files are live at which level and which WAL segments are still needed.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileName is the manifest's name inside a store directory.
const FileName = "MANIFEST"

// Log is an append-only record log. Every Append is synced before it
// returns; a transition is not considered applied until its record is
// durable.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// Open replays the manifest at path, creating it if absent, and returns
// the log opened for appending together with the replayed records.
//
// A torn record at the tail is the expected result of a crash mid-append:
// replay stops there and the tail is truncated away so later appends start
// from a clean boundary. Any other read failure is fatal.
func Open(path string) (*Log, []Record, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}

	var records []Record
	goodLen := 0
	for goodLen < len(data) {
		rec, n, err := DecodeRecord(data[goodLen:])
		if errors.Is(err, ErrCorrupt) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		records = append(records, rec)
		goodLen += n
	}

	if goodLen < len(data) {
		if err := os.Truncate(path, int64(goodLen)); err != nil {
			return nil, nil, fmt.Errorf("manifest: truncate torn tail: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("manifest: open %s: %w", path, err)
	}

	return &Log{path: path, file: f}, records, nil
}

// Append writes a record and syncs it to stable storage.
func (l *Log) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(EncodeRecord(rec)); err != nil {
		return fmt.Errorf("manifest: append: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("manifest: sync: %w", err)
	}
	return nil
}

// Close releases the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Rewrite atomically replaces the manifest at path with a compact snapshot
// of records. Used at open to shed the transition history accumulated by
// previous runs.
func Rewrite(path string, records []Record) error {
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("manifest: create %s: %w", tmpPath, err)
	}

	for _, rec := range records {
		if _, err := f.Write(EncodeRecord(rec)); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("manifest: write snapshot: %w", err)
		}
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: sync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("manifest: close snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("manifest: rename snapshot: %w", err)
	}

	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("manifest: open dir for sync: %w", err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("manifest: sync dir: %w", err)
	}
	return nil
}
