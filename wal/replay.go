package wal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Replay reads back every sealed segment in dir in ascending id order and
// invokes fn once per intact record. A corrupt or truncated record is the
// expected result of a crash mid-append and silently ends that one segment;
// later segments were written by later runs and replay in full. Any error
// from fn aborts the replay.
func Replay(dir string, fn func(segmentID uint64, rec Record) error) error {
	ids, err := listSegmentIDs(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	for _, id := range ids {
		data, err := os.ReadFile(filepath.Join(dir, SegmentName(id)))
		if err != nil {
			return fmt.Errorf("wal: read segment %d: %w", id, err)
		}

		off := 0
		for off < len(data) {
			rec, n, err := DecodeRecord(data[off:])
			if errors.Is(err, ErrCorrupt) {
				// Torn tail; the rest of this segment is untrustworthy,
				// but segments after it are not.
				break
			}
			if err != nil {
				return err
			}
			if err := fn(id, rec); err != nil {
				return err
			}
			off += n
		}
	}
	return nil
}
