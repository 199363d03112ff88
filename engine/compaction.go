package engine

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"crunchkv/internal/keys"
	"crunchkv/iterators"
	"crunchkv/manifest"
	"crunchkv/sstable"
)

// Target size of one compaction output table before the next one is cut.
const compactionTargetFileSize = 2 * 1024 * 1024

// compactionJob is one unit of work: tables from an input level merged with
// the overlapping tables one level down.
type compactionJob struct {
	level   int
	inputs  []*tableHandle
	overlap []*tableHandle
}

// pickCompaction chooses the most pressing compaction, or nil when the tree
// is in shape. Level 0 compacts when it accumulates too many tables, since
// its tables overlap and every extra one taxes reads. Deeper levels compact
// on total size.
func (db *DB) pickCompaction(v *Version) *compactionJob {
	if len(v.levels[0]) >= db.cfg.L0CompactionTrigger {
		inputs := v.levels[0]
		minKey, maxKey := keyRange(inputs)
		return &compactionJob{
			level:   0,
			inputs:  inputs,
			overlap: v.overlapping(1, minKey, maxKey),
		}
	}

	for level := 1; level < len(v.levels)-1; level++ {
		if levelBytes(v.levels[level]) <= db.levelTarget(level) {
			continue
		}

		input := db.rotationPick(level, v.levels[level])
		return &compactionJob{
			level:   level,
			inputs:  []*tableHandle{input},
			overlap: v.overlapping(level+1, input.meta.MinKey, input.meta.MaxKey),
		}
	}
	return nil
}

// rotationPick cycles through a level across compactions: it picks the
// first table past the point where the previous compaction at this level
// left off, wrapping to the start.
func (db *DB) rotationPick(level int, tables []*tableHandle) *tableHandle {
	ptr := db.compactPtr[level]
	if ptr != nil {
		for _, h := range tables {
			if bytes.Compare(h.meta.MinKey, ptr) > 0 {
				return h
			}
		}
	}
	return tables[0]
}

func (db *DB) levelTarget(level int) int64 {
	target := db.cfg.LevelBaseBytes
	for i := 1; i < level; i++ {
		target *= int64(db.cfg.LevelMultiplier)
	}
	return target
}

// compactOnce runs at most one compaction and reports whether it did work.
// A failed compaction is logged and retried on a later pass; the store
// keeps serving from the inputs either way.
func (db *DB) compactOnce() bool {
	v := db.vs.acquireCurrent()
	if v == nil {
		return false
	}
	defer v.unref()

	job := db.pickCompaction(v)
	if job == nil {
		return false
	}

	if err := db.runCompaction(v, job); err != nil {
		db.logger.Error("compaction failed",
			"level", job.level,
			"inputs", len(job.inputs)+len(job.overlap),
			"error", err)
		return false
	}
	return true
}

func (db *DB) runCompaction(v *Version, job *compactionJob) error {
	outLevel := job.level + 1

	all := make([]*tableHandle, 0, len(job.inputs)+len(job.overlap))
	all = append(all, job.inputs...)
	all = append(all, job.overlap...)

	iters := make([]iterators.Iterator, len(all))
	for i, h := range all {
		iters[i] = h.reader.NewIterator()
	}
	merge := iterators.NewMerge(iters...)
	merge.SeekToFirst()

	var (
		outputs  []manifest.TableMeta
		builder  *sstable.Builder
		outNum   uint64
		outBytes int64
		lastUser []byte
		haveLast bool
	)

	abort := func() {
		if builder != nil {
			builder.Abandon()
		}
		for _, m := range outputs {
			os.Remove(filepath.Join(db.cfg.Dir, tableFileName(m.FileNum)))
		}
	}

	finishOutput := func() error {
		info, err := builder.Finish()
		if err != nil {
			return err
		}
		outputs = append(outputs, manifest.TableMeta{
			FileNum: outNum,
			Level:   outLevel,
			Size:    info.Size,
			Count:   info.Count,
			MaxSeq:  info.MaxSeq,
			MinKey:  info.MinKey,
			MaxKey:  info.MaxKey,
		})
		builder = nil
		outBytes = 0
		return nil
	}

	for merge.Valid() {
		ikey := merge.Key()
		userKey := keys.UserKey(ikey)

		// The merge yields versions of a key newest first; everything
		// after the first is superseded.
		if haveLast && bytes.Equal(userKey, lastUser) {
			merge.Next()
			continue
		}
		lastUser = append(lastUser[:0], userKey...)
		haveLast = true

		_, kind, err := keys.Trailer(ikey)
		if err != nil {
			abort()
			return err
		}
		if kind == keys.KindTombstone && !db.shadowsDeeper(v, outLevel, userKey) {
			// Nothing below can hold an older version, so the tombstone
			// has nothing left to suppress.
			merge.Next()
			continue
		}

		if builder == nil {
			outNum = db.vs.nextFile()
			builder, err = sstable.NewBuilder(filepath.Join(db.cfg.Dir, tableFileName(outNum)))
			if err != nil {
				abort()
				return err
			}
		}

		if err := builder.Add(ikey, merge.Value()); err != nil {
			abort()
			return err
		}
		outBytes += int64(len(ikey) + len(merge.Value()))

		if outBytes >= compactionTargetFileSize {
			if err := finishOutput(); err != nil {
				abort()
				return err
			}
		}
		merge.Next()
	}
	if err := merge.Err(); err != nil {
		abort()
		return fmt.Errorf("%w: %s", ErrCorruptData, err)
	}
	if builder != nil {
		if err := finishOutput(); err != nil {
			abort()
			return err
		}
	}

	edit := versionEdit{adds: outputs}
	for _, h := range all {
		edit.removes = append(edit.removes, manifest.RemoveTable{
			FileNum: h.meta.FileNum,
			Level:   h.meta.Level,
		})
	}
	if err := db.vs.logAndApply(edit); err != nil {
		// The manifest may already reference some of the outputs, so none
		// of them can be deleted here. Files it adopted stay live; the rest
		// are reclaimed as orphans at the next open.
		return err
	}

	_, inputMax := keyRange(job.inputs)
	db.compactPtr[job.level] = append([]byte(nil), inputMax...)

	db.logger.Info("compacted",
		"level", job.level,
		"inputs", len(all),
		"outputs", len(outputs),
		"bytes", outputsBytes(outputs))
	return nil
}

// shadowsDeeper reports whether any level below outLevel could still hold a
// version of userKey.
func (db *DB) shadowsDeeper(v *Version, outLevel int, userKey []byte) bool {
	for level := outLevel + 1; level < len(v.levels); level++ {
		for _, h := range v.levels[level] {
			if bytes.Compare(userKey, h.meta.MinKey) >= 0 &&
				bytes.Compare(userKey, h.meta.MaxKey) <= 0 {
				return true
			}
		}
	}
	return false
}

func keyRange(tables []*tableHandle) (minKey, maxKey []byte) {
	for _, h := range tables {
		if minKey == nil || bytes.Compare(h.meta.MinKey, minKey) < 0 {
			minKey = h.meta.MinKey
		}
		if maxKey == nil || bytes.Compare(h.meta.MaxKey, maxKey) > 0 {
			maxKey = h.meta.MaxKey
		}
	}
	return minKey, maxKey
}

func levelBytes(tables []*tableHandle) int64 {
	var total int64
	for _, h := range tables {
		total += h.meta.Size
	}
	return total
}

func outputsBytes(outputs []manifest.TableMeta) int64 {
	var total int64
	for _, m := range outputs {
		total += m.Size
	}
	return total
}
