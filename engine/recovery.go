package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"crunchkv/internal/cache"
	"crunchkv/internal/keys"
	"crunchkv/manifest"
	"crunchkv/memtable"
	"crunchkv/wal"
)

// openVersionSet replays the manifest in cfg.Dir, reconciles the directory
// against it, rewrites the manifest to a compact snapshot, and opens every
// live table. It returns the version set together with the highest sequence
// number recorded in any live table.
func openVersionSet(cfg Config, blocks cache.Cache) (*versionSet, uint64, error) {
	path := filepath.Join(cfg.Dir, manifest.FileName)

	log, records, err := manifest.Open(path)
	if err != nil {
		return nil, 0, err
	}

	live := make(map[uint64]manifest.TableMeta)
	var walRotate, maxFileNum uint64
	for _, rec := range records {
		switch r := rec.(type) {
		case manifest.AddTable:
			live[r.Table.FileNum] = r.Table
			if r.Table.FileNum > maxFileNum {
				maxFileNum = r.Table.FileNum
			}
		case manifest.RemoveTable:
			delete(live, r.FileNum)
		case manifest.WALRotate:
			if r.SegmentID > walRotate {
				walRotate = r.SegmentID
			}
		}
	}

	if err := removeOrphans(cfg.Dir, live, cfg.Logger); err != nil {
		log.Close()
		return nil, 0, err
	}

	// Shed the transition history accumulated by previous runs.
	if err := log.Close(); err != nil {
		return nil, 0, err
	}

	fileNums := make([]uint64, 0, len(live))
	for n := range live {
		fileNums = append(fileNums, n)
	}
	sort.Slice(fileNums, func(i, j int) bool { return fileNums[i] < fileNums[j] })

	snapshot := make([]manifest.Record, 0, len(live)+1)
	for _, n := range fileNums {
		snapshot = append(snapshot, manifest.AddTable{Table: live[n]})
	}
	if walRotate > 0 {
		snapshot = append(snapshot, manifest.WALRotate{SegmentID: walRotate})
	}
	if err := manifest.Rewrite(path, snapshot); err != nil {
		return nil, 0, err
	}

	log, _, err = manifest.Open(path)
	if err != nil {
		return nil, 0, err
	}

	vs := &versionSet{
		dir:         cfg.Dir,
		logger:      cfg.Logger,
		blocks:      blocks,
		maxLevels:   cfg.MaxLevels,
		log:         log,
		nextFileNum: maxFileNum + 1,
		walRotate:   walRotate,
	}

	current := &Version{levels: make([][]*tableHandle, cfg.MaxLevels)}
	var maxSeq uint64
	for _, n := range fileNums {
		meta := live[n]
		h, err := vs.openHandle(meta)
		if err != nil {
			for _, level := range current.levels {
				for _, opened := range level {
					opened.reader.Close()
				}
			}
			log.Close()
			return nil, 0, fmt.Errorf("crunchkv: opening table %06d: %w", n, err)
		}
		h.ref()
		current.levels[meta.Level] = append(current.levels[meta.Level], h)
		if meta.MaxSeq > maxSeq {
			maxSeq = meta.MaxSeq
		}
	}
	sortLevels(current.levels)
	current.ref()
	vs.current = current

	return vs, maxSeq, nil
}

// removeOrphans deletes table files the manifest does not know about and
// staging leftovers from interrupted builds. They come from crashes between
// writing a file and logging the transition that would adopt it.
func removeOrphans(dir string, live map[uint64]manifest.TableMeta, logger *slog.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("crunchkv: read dir: %w", err)
	}

	for _, e := range entries {
		name := e.Name()

		orphan := false
		switch {
		case strings.HasSuffix(name, ".tmp"):
			orphan = true
		case strings.HasSuffix(name, ".sst"):
			var n uint64
			if _, err := fmt.Sscanf(name, "%06d.sst", &n); err != nil {
				orphan = true
			} else if _, ok := live[n]; !ok {
				orphan = true
			}
		}
		if !orphan {
			continue
		}

		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("crunchkv: remove orphan %s: %w", name, err)
		}
		logger.Info("removed orphan file", "file", name)
	}
	return nil
}

// replayWAL rebuilds mem from segments newer than the rotation point and
// returns the highest sequence number seen.
func replayWAL(dir string, rotatePoint uint64, mem *memtable.Memtable) (uint64, error) {
	var maxSeq uint64
	err := wal.Replay(dir, func(segmentID uint64, rec wal.Record) error {
		if segmentID <= rotatePoint {
			return nil
		}
		switch rec.Kind {
		case keys.KindTombstone:
			mem.Delete(rec.Key, rec.Seq)
		default:
			mem.Put(rec.Key, rec.Value, rec.Seq)
		}
		if rec.Seq > maxSeq {
			maxSeq = rec.Seq
		}
		return nil
	})
	return maxSeq, err
}
