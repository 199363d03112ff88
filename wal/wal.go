// Package wal implements the write-ahead log: checksummed records appended
// to numbered segment files. Each segment covers the lifetime of one
// in-memory buffer, so a flushed buffer lets its whole segment be pruned.
package wal

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

// Log manages the active write-ahead log segment for a store directory.
// Opening a log always starts a fresh segment; segments left by a previous
// run are sealed and only read back through Replay.
type Log struct {
	mu     sync.Mutex
	dir    string
	active *Segment
}

// Open creates a new active segment in dir, numbered after any segments
// already present.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}

	ids, err := listSegmentIDs(dir)
	if err != nil {
		return nil, err
	}

	next := uint64(1)
	if len(ids) > 0 {
		next = ids[len(ids)-1] + 1
	}

	seg, err := createSegment(dir, next)
	if err != nil {
		return nil, err
	}
	if err := syncDir(dir); err != nil {
		return nil, err
	}

	return &Log{dir: dir, active: seg}, nil
}

// SegmentID returns the id of the active segment.
func (l *Log) SegmentID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active.id
}

// Append encodes rec and writes it to the active segment. The record is not
// durable until Sync returns.
func (l *Log) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active.append(EncodeRecord(rec))
}

// Sync flushes the active segment to stable storage.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active.sync()
}

// Rotate seals the active segment and starts a new one, returning the new
// segment's id. Callers rotate when they swap in a fresh in-memory buffer.
func (l *Log) Rotate() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.active.sync(); err != nil {
		return 0, err
	}
	if err := l.active.close(); err != nil {
		return 0, fmt.Errorf("wal: close segment %s: %w", l.active.path, err)
	}

	seg, err := createSegment(l.dir, l.active.id+1)
	if err != nil {
		return 0, err
	}
	if err := syncDir(l.dir); err != nil {
		return 0, err
	}

	l.active = seg
	return seg.id, nil
}

// Size returns the byte size of the active segment.
func (l *Log) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active.size
}

// Close seals the active segment.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.active.sync(); err != nil {
		return err
	}
	return l.active.close()
}

func listSegmentIDs(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("wal: read dir: %w", err)
	}

	var ids []uint64
	for _, e := range entries {
		if id, ok := ParseSegmentName(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("wal: open dir for sync: %w", err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("wal: sync dir: %w", err)
	}
	return nil
}
