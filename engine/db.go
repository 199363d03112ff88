// Package engine ties the write-ahead log, memtables, sorted tables, and
// manifest together into a durable key-value store.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"crunchkv/internal/cache"
	"crunchkv/internal/keys"
	"crunchkv/memtable"
	"crunchkv/sstable"
	"crunchkv/wal"
)

// DB is a log-structured key-value store. Writes land in the WAL and the
// active memtable; full memtables are flushed to level-0 tables in the
// background, and a compactor folds tables down the levels. All methods
// are safe for concurrent use.
type DB struct {
	cfg    Config
	logger *slog.Logger

	// wmu serializes writers: WAL append order and sequence numbers agree
	// because both happen under it.
	wmu sync.Mutex
	seq uint64
	log *wal.Log

	// mu guards the memtable stack against swaps.
	mu  sync.Mutex
	mem *memtable.Memtable
	imm []flushTask

	vs     *versionSet
	blocks cache.Cache

	flushCh   chan flushTask
	flushWG   sync.WaitGroup
	compactor *compactor

	// compactPtr tracks, per level, where the previous compaction left
	// off. Touched only by the compactor goroutine.
	compactPtr [][]byte

	closed atomic.Bool
}

// Open opens or creates the store in cfg.Dir, recovering state left by a
// previous run: the manifest decides which tables are live, orphan files
// are reclaimed, and unflushed writes are replayed from the WAL.
func Open(cfg Config) (*DB, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("crunchkv: no directory configured")
	}
	cfg.withDefaults()

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("crunchkv: create dir: %w", err)
	}

	blocks := cache.NewLRU(cfg.BlockCacheBytes)

	vs, tableSeq, err := openVersionSet(cfg, blocks)
	if err != nil {
		return nil, err
	}

	mem := memtable.New(cfg.MemtableCapacity)
	walSeq, err := replayWAL(cfg.Dir, vs.rotatePoint(), mem)
	if err != nil {
		vs.close()
		return nil, err
	}

	log, err := wal.Open(cfg.Dir)
	if err != nil {
		vs.close()
		return nil, err
	}
	if err := log.Prune(vs.rotatePoint()); err != nil {
		cfg.Logger.Warn("pruning stale wal segments", "error", err)
	}

	db := &DB{
		cfg:        cfg,
		logger:     cfg.Logger,
		seq:        max(tableSeq, walSeq),
		log:        log,
		mem:        mem,
		vs:         vs,
		blocks:     blocks,
		flushCh:    make(chan flushTask, 4),
		compactPtr: make([][]byte, cfg.MaxLevels),
	}
	db.compactor = newCompactor(db)

	db.flushWG.Add(1)
	go db.flushLoop()
	if cfg.CompactionEnabled {
		db.compactor.start()
		db.compactor.nudge()
	}

	if mem.Full() {
		db.wmu.Lock()
		db.seal()
		db.wmu.Unlock()
	}

	db.logger.Info("store opened",
		"dir", cfg.Dir,
		"seq", db.seq,
		"replayed", mem.Len())
	return db, nil
}

// Put records a value for key. The write is synced to the WAL before Put
// returns.
func (db *DB) Put(key, value []byte) error {
	return db.write(key, value, keys.KindValue)
}

// Delete records a tombstone for key. Deleting an absent key succeeds.
func (db *DB) Delete(key []byte) error {
	return db.write(key, nil, keys.KindTombstone)
}

func (db *DB) write(key, value []byte, kind keys.Kind) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}

	db.wmu.Lock()
	defer db.wmu.Unlock()

	if db.closed.Load() {
		return ErrClosed
	}

	seq := db.seq + 1
	if err := db.log.Append(wal.Record{Seq: seq, Kind: kind, Key: key, Value: value}); err != nil {
		return err
	}
	if err := db.log.Sync(); err != nil {
		return err
	}
	db.seq = seq

	if kind == keys.KindTombstone {
		db.mem.Delete(key, seq)
	} else {
		db.mem.Put(key, value, seq)
	}

	if db.mem.Full() {
		db.seal()
	}
	return nil
}

// seal swaps the full memtable for a fresh one and queues it for flushing.
// Caller holds wmu.
func (db *DB) seal() {
	seg := db.log.SegmentID()
	if _, err := db.log.Rotate(); err != nil {
		// Keep writing to the current segment; the memtable stays active
		// and we try again on the next full check.
		db.logger.Error("wal rotation failed", "error", err)
		return
	}

	old := db.mem
	task := flushTask{mem: old, walSegment: seg}

	db.mu.Lock()
	db.imm = append(db.imm, task)
	db.mem = memtable.New(db.cfg.MemtableCapacity)
	db.mu.Unlock()

	db.flushCh <- task
}

// Get returns the value for key, or ErrNotFound if the key was never
// written or its newest record is a tombstone. The lookup goes from newest
// to oldest: active memtable, sealed memtables, then the table levels.
func (db *DB) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	if db.closed.Load() {
		return nil, ErrClosed
	}

	db.mu.Lock()
	mem := db.mem
	imm := append([]flushTask(nil), db.imm...)
	db.mu.Unlock()

	if e, ok := mem.Get(key); ok {
		return resolveRecord(e.Kind, e.Value)
	}
	for i := len(imm) - 1; i >= 0; i-- {
		if e, ok := imm[i].mem.Get(key); ok {
			return resolveRecord(e.Kind, e.Value)
		}
	}

	v := db.vs.acquireCurrent()
	if v == nil {
		// Close won the race after the closed check above.
		return nil, ErrClosed
	}
	defer v.unref()

	l, ok, err := v.get(key)
	if err != nil {
		if errors.Is(err, sstable.ErrCorrupt) {
			return nil, fmt.Errorf("%w: %s", ErrCorruptData, err)
		}
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return resolveRecord(l.Kind, l.Value)
}

func resolveRecord(kind keys.Kind, value []byte) ([]byte, error) {
	if kind == keys.KindTombstone {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// Close stops the background workers, drains pending flushes, and releases
// the store's files. Writes still in the active memtable are not flushed;
// they are replayed from the WAL at next open.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	db.compactor.close()

	db.wmu.Lock()
	close(db.flushCh)
	db.wmu.Unlock()
	db.flushWG.Wait()

	var firstErr error
	if err := db.log.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := db.vs.close(); err != nil && firstErr == nil {
		firstErr = err
	}

	db.logger.Info("store closed", "dir", db.cfg.Dir, "seq", db.seq)
	return firstErr
}
