package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crunchkv/internal/keys"
)

func put(seq uint64, key, value string) Record {
	return Record{Seq: seq, Kind: keys.KindValue, Key: []byte(key), Value: []byte(value)}
}

func collect(t *testing.T, dir string) []Record {
	t.Helper()
	var recs []Record
	err := Replay(dir, func(_ uint64, rec Record) error {
		recs = append(recs, rec)
		return nil
	})
	require.NoError(t, err)
	return recs
}

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, log.Append(put(1, "a", "1")))
	require.NoError(t, log.Append(put(2, "b", "2")))
	require.NoError(t, log.Sync())
	require.NoError(t, log.Close())

	recs := collect(t, dir)
	require.Len(t, recs, 2)
	assert.Equal(t, []byte("a"), recs[0].Key)
	assert.Equal(t, uint64(2), recs[1].Seq)
}

func TestReplaySpansSegments(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir)
	require.NoError(t, err)
	first := log.SegmentID()

	require.NoError(t, log.Append(put(1, "a", "1")))
	require.NoError(t, log.Sync())

	next, err := log.Rotate()
	require.NoError(t, err)
	assert.Equal(t, first+1, next)

	require.NoError(t, log.Append(put(2, "b", "2")))
	require.NoError(t, log.Close())

	var ids []uint64
	err = Replay(dir, func(segID uint64, _ Record) error {
		ids = append(ids, segID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{first, next}, ids)
}

func TestReplayStopsAtTornTail(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir)
	require.NoError(t, err)
	segID := log.SegmentID()

	require.NoError(t, log.Append(put(1, "a", "1")))
	require.NoError(t, log.Append(put(2, "b", "2")))
	require.NoError(t, log.Close())

	// Tear the last record as a crash mid-append would.
	path := filepath.Join(dir, SegmentName(segID))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0o644))

	recs := collect(t, dir)
	require.Len(t, recs, 1)
	assert.Equal(t, []byte("a"), recs[0].Key)
}

func TestReplayContinuesPastTornSegment(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir)
	require.NoError(t, err)
	first := log.SegmentID()

	require.NoError(t, log.Append(put(1, "a", "1")))
	require.NoError(t, log.Append(put(2, "b", "2")))
	require.NoError(t, log.Sync())
	_, err = log.Rotate()
	require.NoError(t, err)
	require.NoError(t, log.Append(put(3, "c", "3")))
	require.NoError(t, log.Close())

	// Tear the last record of the first segment; the second segment was
	// written by a later run and must still replay.
	path := filepath.Join(dir, SegmentName(first))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0o644))

	recs := collect(t, dir)
	require.Len(t, recs, 2)
	assert.Equal(t, []byte("a"), recs[0].Key)
	assert.Equal(t, []byte("c"), recs[1].Key)
}

func TestOpenNumbersAfterExistingSegments(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, log.Append(put(1, "a", "1")))
	require.NoError(t, log.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Greater(t, reopened.SegmentID(), log.SegmentID())
	// Records from the previous run are still replayable.
	require.Len(t, collect(t, dir), 1)
}

func TestPruneKeepsActiveSegment(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir)
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Append(put(1, "a", "1")))
	require.NoError(t, log.Sync())

	sealed := log.SegmentID()
	_, err = log.Rotate()
	require.NoError(t, err)
	require.NoError(t, log.Append(put(2, "b", "2")))
	require.NoError(t, log.Sync())

	require.NoError(t, log.Prune(sealed))

	_, err = os.Stat(filepath.Join(dir, SegmentName(sealed)))
	assert.True(t, os.IsNotExist(err))

	recs := collect(t, dir)
	require.Len(t, recs, 1)
	assert.Equal(t, []byte("b"), recs[0].Key)
}
