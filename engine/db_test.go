package engine

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(dir string) Config {
	cfg := DefaultConfig(dir)
	cfg.MemtableCapacity = 64
	cfg.CompactionEnabled = false
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func openTestDB(t *testing.T, cfg Config) *DB {
	t.Helper()
	db, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// waitFlushed blocks until no sealed memtables remain.
func waitFlushed(t *testing.T, db *DB) {
	t.Helper()
	require.Eventually(t, func() bool {
		return db.Stats().SealedMemtables == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPutGetDelete(t *testing.T) {
	db := openTestDB(t, testConfig(t.TempDir()))

	require.NoError(t, db.Put([]byte("name"), []byte("crunch")))

	got, err := db.Get([]byte("name"))
	require.NoError(t, err)
	assert.Equal(t, []byte("crunch"), got)

	require.NoError(t, db.Delete([]byte("name")))
	_, err = db.Get([]byte("name"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetMissingKey(t *testing.T) {
	db := openTestDB(t, testConfig(t.TempDir()))

	_, err := db.Get([]byte("never-written"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAbsentKeySucceeds(t *testing.T) {
	db := openTestDB(t, testConfig(t.TempDir()))
	assert.NoError(t, db.Delete([]byte("ghost")))
}

func TestOverwriteReturnsNewest(t *testing.T) {
	db := openTestDB(t, testConfig(t.TempDir()))

	require.NoError(t, db.Put([]byte("k"), []byte("one")))
	require.NoError(t, db.Put([]byte("k"), []byte("two")))

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)
}

func TestEmptyKeyRejected(t *testing.T) {
	db := openTestDB(t, testConfig(t.TempDir()))

	assert.ErrorIs(t, db.Put(nil, []byte("v")), ErrEmptyKey)
	assert.ErrorIs(t, db.Delete(nil), ErrEmptyKey)
	_, err := db.Get(nil)
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestWritesSurviveFlush(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.MemtableCapacity = 16
	db := openTestDB(t, cfg)

	for i := 0; i < 100; i++ {
		require.NoError(t, db.Put([]byte(fmt.Sprintf("key-%03d", i)), []byte(fmt.Sprintf("val-%03d", i))))
	}
	waitFlushed(t, db)

	stats := db.Stats()
	require.NotEmpty(t, stats.Levels)
	assert.Equal(t, 0, stats.Levels[0].Level)

	for i := 0; i < 100; i++ {
		got, err := db.Get([]byte(fmt.Sprintf("key-%03d", i)))
		require.NoError(t, err, "key %d", i)
		assert.Equal(t, []byte(fmt.Sprintf("val-%03d", i)), got)
	}
}

func TestTombstoneShadowsFlushedValue(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.MemtableCapacity = 2
	db := openTestDB(t, cfg)

	require.NoError(t, db.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, db.Put([]byte("k2"), []byte("v2"))) // seals, k1 flushes
	require.NoError(t, db.Delete([]byte("k1")))
	require.NoError(t, db.Put([]byte("k3"), []byte("v3"))) // seals again
	waitFlushed(t, db)

	_, err := db.Get([]byte("k1"))
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := db.Get([]byte("k2"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestNewerMemtableValueWinsOverOlderTable(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.MemtableCapacity = 4
	db := openTestDB(t, cfg)

	for i := 0; i < 8; i++ {
		require.NoError(t, db.Put([]byte("hot"), []byte(fmt.Sprintf("v%d", i))))
		require.NoError(t, db.Put([]byte(fmt.Sprintf("pad-%d", i)), []byte("x")))
	}
	waitFlushed(t, db)

	require.NoError(t, db.Put([]byte("hot"), []byte("latest")))

	got, err := db.Get([]byte("hot"))
	require.NoError(t, err)
	assert.Equal(t, []byte("latest"), got)
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	db := openTestDB(t, testConfig(t.TempDir()))
	require.NoError(t, db.Close())

	assert.ErrorIs(t, db.Put([]byte("k"), []byte("v")), ErrClosed)
	_, err := db.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, db.Close(), ErrClosed)
}

func TestGetRacingCloseDoesNotPanic(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.MemtableCapacity = 8
	db := openTestDB(t, cfg)

	// Flushed keys make lookups walk all the way into the table levels.
	for i := 0; i < 16; i++ {
		require.NoError(t, db.Put([]byte(fmt.Sprintf("key-%02d", i)), []byte("v")))
	}
	waitFlushed(t, db)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := db.Get([]byte("key-00"))
				if err != nil {
					assert.ErrorIs(t, err, ErrClosed)
					return
				}
				db.Stats()
			}
		}()
	}

	require.NoError(t, db.Close())
	wg.Wait()

	assert.Nil(t, db.vs.acquireCurrent())
}

func TestStatsTracksShape(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.MemtableCapacity = 8
	db := openTestDB(t, cfg)

	for i := 0; i < 20; i++ {
		require.NoError(t, db.Put([]byte(fmt.Sprintf("key-%02d", i)), []byte("v")))
	}
	waitFlushed(t, db)

	stats := db.Stats()
	assert.Equal(t, uint64(20), stats.Seq)
	assert.Equal(t, 20%8, stats.MemtableEntries)
	require.NotEmpty(t, stats.Levels)
	assert.Positive(t, stats.Levels[0].Tables)
	assert.Positive(t, stats.Levels[0].Bytes)
}
