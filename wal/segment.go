package wal

import (
	"fmt"
	"os"
	"path/filepath"
)

// SegmentName returns the file name of the segment with the given id.
func SegmentName(id uint64) string {
	return fmt.Sprintf("wal-%06d.log", id)
}

// ParseSegmentName extracts the segment id from a WAL file name. It reports
// false for names that are not WAL segments.
func ParseSegmentName(name string) (uint64, bool) {
	var id uint64
	n, err := fmt.Sscanf(name, "wal-%06d.log", &id)
	if err != nil || n != 1 {
		return 0, false
	}
	return id, true
}

// Segment is a single append-only log file. Writes go only to the log's
// active segment; older segments are sealed and read back during replay.
type Segment struct {
	id   uint64
	path string
	file *os.File
	size int64
}

func createSegment(dir string, id uint64) (*Segment, error) {
	path := filepath.Join(dir, SegmentName(id))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: create segment %s: %w", path, err)
	}
	return &Segment{id: id, path: path, file: f}, nil
}

// ID returns the segment id.
func (s *Segment) ID() uint64 { return s.id }

// Size returns the number of bytes appended so far.
func (s *Segment) Size() int64 { return s.size }

func (s *Segment) append(record []byte) error {
	n, err := s.file.Write(record)
	s.size += int64(n)
	if err != nil {
		return fmt.Errorf("wal: append to %s: %w", s.path, err)
	}
	return nil
}

func (s *Segment) sync() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("wal: sync %s: %w", s.path, err)
	}
	return nil
}

func (s *Segment) close() error {
	return s.file.Close()
}
