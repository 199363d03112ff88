package engine

import (
	"path/filepath"
	"time"

	"crunchkv/internal/keys"
	"crunchkv/manifest"
	"crunchkv/memtable"
	"crunchkv/sstable"
)

// flushTask carries a sealed memtable to the flush worker together with the
// WAL segment that covered it.
type flushTask struct {
	mem        *memtable.Memtable
	walSegment uint64
}

// flushLoop is the single background worker turning sealed memtables into
// level-0 tables.
func (db *DB) flushLoop() {
	defer db.flushWG.Done()
	for task := range db.flushCh {
		db.flushWithRetry(task)
	}
}

// flushWithRetry retries a failed flush until it lands, blocking the queue
// behind it. It must not give up while the store is open: a later flush
// would record a rotation point past this memtable's WAL segment and prune
// the only durable copy of its writes. At shutdown the task is abandoned
// instead; its segment was never marked rotated, so the writes replay at
// the next open.
func (db *DB) flushWithRetry(task flushTask) {
	for attempt := 1; ; attempt++ {
		err := db.flushOne(task)
		if err == nil {
			return
		}
		db.logger.Error("flush failed", "attempt", attempt, "error", err)

		if db.closed.Load() {
			db.logger.Warn("abandoning flush at shutdown, wal segment retained",
				"entries", task.mem.Len(),
				"wal_segment", task.walSegment)
			return
		}

		backoff := time.Duration(attempt) * 100 * time.Millisecond
		if backoff > 2*time.Second {
			backoff = 2 * time.Second
		}
		time.Sleep(backoff)
	}
}

func (db *DB) flushOne(task flushTask) error {
	entries := task.mem.Scan()
	if len(entries) == 0 {
		db.removeImm(task.mem)
		return nil
	}

	fileNum := db.vs.nextFile()
	path := filepath.Join(db.cfg.Dir, tableFileName(fileNum))

	b, err := sstable.NewBuilder(path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := b.Add(keys.Encode(e.Key, e.Seq, e.Kind), e.Value); err != nil {
			b.Abandon()
			return err
		}
	}
	info, err := b.Finish()
	if err != nil {
		b.Abandon()
		return err
	}

	seg := task.walSegment
	err = db.vs.logAndApply(versionEdit{
		adds: []manifest.TableMeta{{
			FileNum: fileNum,
			Level:   0,
			Size:    info.Size,
			Count:   info.Count,
			MaxSeq:  info.MaxSeq,
			MinKey:  info.MinKey,
			MaxKey:  info.MaxKey,
		}},
		walRotate: &seg,
	})
	if err != nil {
		// The table file stays on disk: if its AddTable record landed the
		// manifest references it, otherwise the next open reclaims it as
		// an orphan. A retry builds a fresh file either way.
		return err
	}

	db.removeImm(task.mem)
	if err := db.log.Prune(seg); err != nil {
		db.logger.Warn("pruning wal segments", "upto", seg, "error", err)
	}

	db.logger.Info("flushed memtable",
		"file", tableFileName(fileNum),
		"entries", info.Count,
		"bytes", info.Size,
		"wal_segment", seg)

	db.compactor.nudge()
	return nil
}

func (db *DB) removeImm(mem *memtable.Memtable) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i, t := range db.imm {
		if t.mem == mem {
			db.imm = append(db.imm[:i], db.imm[i+1:]...)
			return
		}
	}
}
