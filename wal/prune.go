package wal

import (
	"fmt"
	"os"
	"path/filepath"
)

// Prune deletes sealed segments whose id is at or below upto. The active
// segment is never removed. Deletions are made durable by syncing the
// directory afterwards.
func (l *Log) Prune(upto uint64) error {
	l.mu.Lock()
	activeID := l.active.id
	l.mu.Unlock()

	ids, err := listSegmentIDs(l.dir)
	if err != nil {
		return err
	}

	removed := false
	for _, id := range ids {
		if id > upto || id >= activeID {
			continue
		}
		if err := os.Remove(filepath.Join(l.dir, SegmentName(id))); err != nil {
			return fmt.Errorf("wal: remove segment %d: %w", id, err)
		}
		removed = true
	}

	if !removed {
		return nil
	}
	return syncDir(l.dir)
}
