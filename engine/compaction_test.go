package engine

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compactAll drives the compactor by hand until no work remains.
func compactAll(db *DB) {
	for db.compactOnce() {
	}
}

func TestL0CompactionMovesTablesDown(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.MemtableCapacity = 16
	cfg.L0CompactionTrigger = 4
	db := openTestDB(t, cfg)

	for i := 0; i < 100; i++ {
		require.NoError(t, db.Put([]byte(fmt.Sprintf("key-%03d", i)), []byte(fmt.Sprintf("val-%03d", i))))
	}
	waitFlushed(t, db)
	compactAll(db)

	stats := db.Stats()
	var l0, l1 int
	for _, l := range stats.Levels {
		switch l.Level {
		case 0:
			l0 = l.Tables
		case 1:
			l1 = l.Tables
		}
	}
	assert.Less(t, l0, cfg.L0CompactionTrigger)
	assert.Positive(t, l1)

	for i := 0; i < 100; i++ {
		got, err := db.Get([]byte(fmt.Sprintf("key-%03d", i)))
		require.NoError(t, err, "key %d", i)
		assert.Equal(t, []byte(fmt.Sprintf("val-%03d", i)), got)
	}
}

func TestCompactionKeepsOnlyNewestVersion(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.MemtableCapacity = 8
	cfg.L0CompactionTrigger = 2
	db := openTestDB(t, cfg)

	// Rewrite the same small key set across many flushes.
	for round := 0; round < 8; round++ {
		for i := 0; i < 8; i++ {
			key := fmt.Sprintf("key-%d", i)
			require.NoError(t, db.Put([]byte(key), []byte(fmt.Sprintf("round-%d", round))))
		}
	}
	waitFlushed(t, db)
	compactAll(db)

	for i := 0; i < 8; i++ {
		got, err := db.Get([]byte(fmt.Sprintf("key-%d", i)))
		require.NoError(t, err)
		assert.Equal(t, []byte("round-7"), got)
	}

	// One version per key remains in the tree.
	v := db.vs.acquireCurrent()
	defer v.unref()
	var total uint64
	for _, level := range v.levels {
		for _, h := range level {
			total += h.meta.Count
		}
	}
	assert.Equal(t, uint64(8), total)
}

func TestTombstonesCollectedAtBottom(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.MemtableCapacity = 50
	cfg.L0CompactionTrigger = 4
	db := openTestDB(t, cfg)

	for i := 0; i < 100; i++ {
		require.NoError(t, db.Put([]byte(fmt.Sprintf("key-%03d", i)), []byte("v")))
	}
	for i := 0; i < 100; i++ {
		require.NoError(t, db.Delete([]byte(fmt.Sprintf("key-%03d", i))))
	}
	waitFlushed(t, db)
	compactAll(db)

	for i := 0; i < 100; i++ {
		_, err := db.Get([]byte(fmt.Sprintf("key-%03d", i)))
		require.ErrorIs(t, err, ErrNotFound, "key %d", i)
	}

	// Values and the tombstones that erased them are both gone: nothing
	// deeper exists for the tombstones to suppress.
	assert.Empty(t, db.Stats().Levels)
}

func TestDeleteShadowsCompactedValue(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.MemtableCapacity = 16
	cfg.L0CompactionTrigger = 4
	db := openTestDB(t, cfg)

	// Push a first generation of keys down to level 1.
	for i := 0; i < 64; i++ {
		require.NoError(t, db.Put([]byte(fmt.Sprintf("key-%03d", i)), []byte("old")))
	}
	waitFlushed(t, db)
	compactAll(db)

	// Delete one key and compact the tombstone down onto its old value.
	require.NoError(t, db.Delete([]byte("key-010")))
	for i := 0; i < 64; i++ {
		require.NoError(t, db.Put([]byte(fmt.Sprintf("pad-%03d", i)), []byte("x")))
	}
	waitFlushed(t, db)
	compactAll(db)

	_, err := db.Get([]byte("key-010"))
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := db.Get([]byte("key-011"))
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got)
}

func TestLevel1TablesDoNotOverlap(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.MemtableCapacity = 16
	cfg.L0CompactionTrigger = 2
	db := openTestDB(t, cfg)

	for i := 0; i < 200; i++ {
		require.NoError(t, db.Put([]byte(fmt.Sprintf("key-%04d", i)), bytes.Repeat([]byte("x"), 64)))
	}
	waitFlushed(t, db)
	compactAll(db)

	v := db.vs.acquireCurrent()
	defer v.unref()

	tables := v.levels[1]
	for i := 1; i < len(tables); i++ {
		assert.Negative(t, bytes.Compare(tables[i-1].meta.MaxKey, tables[i].meta.MinKey),
			"tables %d and %d overlap", i-1, i)
	}
}

func TestMemtableShadowsFlushedTableThroughCompaction(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.MemtableCapacity = 2
	cfg.L0CompactionTrigger = 2
	db := openTestDB(t, cfg)

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Put([]byte("b"), []byte("2"))) // seals {a:1, b:2}
	require.NoError(t, db.Put([]byte("a"), []byte("3")))

	got, err := db.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got)

	// Force the second memtable down as well, then compact everything.
	require.NoError(t, db.Put([]byte("c"), []byte("4")))
	waitFlushed(t, db)
	compactAll(db)

	got, err = db.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got)

	got, err = db.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), got)
}

func TestFailedCompactionLeavesStoreRecoverable(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.MemtableCapacity = 16
	cfg.L0CompactionTrigger = 2

	db, err := Open(cfg)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		require.NoError(t, db.Put([]byte(fmt.Sprintf("key-%03d", i)), []byte(fmt.Sprintf("val-%03d", i))))
	}
	waitFlushed(t, db)

	// Make every manifest append fail from here on; the compaction must
	// not take any input or output table down with it.
	require.NoError(t, db.vs.log.Close())
	assert.False(t, db.compactOnce())

	db.Close() // reports the already-closed manifest log

	reopened := openTestDB(t, cfg)
	for i := 0; i < 100; i++ {
		got, err := reopened.Get([]byte(fmt.Sprintf("key-%03d", i)))
		require.NoError(t, err, "key %d", i)
		assert.Equal(t, []byte(fmt.Sprintf("val-%03d", i)), got)
	}
}

func TestCompactionSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.MemtableCapacity = 16
	cfg.L0CompactionTrigger = 2
	db := openTestDB(t, cfg)

	for i := 0; i < 100; i++ {
		require.NoError(t, db.Put([]byte(fmt.Sprintf("key-%03d", i)), []byte(fmt.Sprintf("val-%03d", i))))
	}
	waitFlushed(t, db)
	compactAll(db)
	require.NoError(t, db.Close())

	reopened := openTestDB(t, cfg)
	for i := 0; i < 100; i++ {
		got, err := reopened.Get([]byte(fmt.Sprintf("key-%03d", i)))
		require.NoError(t, err, "key %d", i)
		assert.Equal(t, []byte(fmt.Sprintf("val-%03d", i)), got)
	}
}
