// Package memtable implements the mutable in-memory write buffer: a
// concurrent skiplist keyed by user key that keeps the newest version of
// every record until the buffer is flushed to a sorted table.
package memtable

import (
	"bytes"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"crunchkv/internal/keys"
)

// Rough per-entry bookkeeping cost used for the byte estimate.
const entryOverhead = 32

// Entry is one versioned record held in the buffer.
type Entry struct {
	Key   []byte
	Seq   uint64
	Kind  keys.Kind
	Value []byte
}

// Memtable holds the newest version of each user key. Writers must be
// externally serialized so a later insert always carries a higher sequence
// number; readers may run concurrently with the single writer.
type Memtable struct {
	entries  *skipmap.FuncMap[[]byte, Entry]
	capacity int
	count    atomic.Int64
	bytes    atomic.Int64
}

// New creates an empty memtable that reports Full once it holds capacity
// distinct keys.
func New(capacity int) *Memtable {
	return &Memtable{
		entries: skipmap.NewFunc[[]byte, Entry](func(a, b []byte) bool {
			return bytes.Compare(a, b) < 0
		}),
		capacity: capacity,
	}
}

// Put records a value for key at the given sequence number.
func (m *Memtable) Put(key, value []byte, seq uint64) {
	m.insert(Entry{Key: copyOf(key), Seq: seq, Kind: keys.KindValue, Value: copyOf(value)})
}

// Delete records a tombstone for key at the given sequence number.
func (m *Memtable) Delete(key []byte, seq uint64) {
	m.insert(Entry{Key: copyOf(key), Seq: seq, Kind: keys.KindTombstone})
}

// Get returns the newest record for key. A tombstone is returned like any
// other entry; the caller decides what absence means.
func (m *Memtable) Get(key []byte) (Entry, bool) {
	return m.entries.Load(key)
}

// Len returns the number of distinct keys held.
func (m *Memtable) Len() int {
	return int(m.count.Load())
}

// ApproximateBytes estimates the memory held by keys and values.
func (m *Memtable) ApproximateBytes() int64 {
	return m.bytes.Load()
}

// Full reports whether the buffer has reached its capacity and should be
// swapped out for flushing.
func (m *Memtable) Full() bool {
	return m.Len() >= m.capacity
}

// Scan returns all entries in ascending user-key order.
func (m *Memtable) Scan() []Entry {
	out := make([]Entry, 0, m.Len())
	m.entries.Range(func(_ []byte, e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

func (m *Memtable) insert(e Entry) {
	if prev, ok := m.entries.Load(e.Key); ok {
		m.bytes.Add(int64(len(e.Value) - len(prev.Value)))
	} else {
		m.count.Add(1)
		m.bytes.Add(int64(len(e.Key)+len(e.Value)) + entryOverhead)
	}
	m.entries.Store(e.Key, e)
}

func copyOf(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
