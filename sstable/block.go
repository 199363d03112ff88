package sstable

import (
	"encoding/binary"

	"crunchkv/internal/keys"
)

// Entries within restartInterval of each other share key prefixes; each
// restart point starts a full key so iterators can binary search.
const restartInterval = 16

// blockBuilder accumulates prefix-compressed entries. Keys must be added in
// ascending internal-key order.
type blockBuilder struct {
	buf      []byte
	restarts []uint32
	counter  int
	lastKey  []byte
}

func newBlockBuilder() *blockBuilder {
	return &blockBuilder{restarts: []uint32{0}}
}

func (b *blockBuilder) reset() {
	b.buf = b.buf[:0]
	b.restarts = b.restarts[:1]
	b.restarts[0] = 0
	b.counter = 0
	b.lastKey = nil
}

func (b *blockBuilder) add(key, value []byte) {
	shared := 0
	if b.counter < restartInterval {
		n := len(b.lastKey)
		if len(key) < n {
			n = len(key)
		}
		for shared < n && b.lastKey[shared] == key[shared] {
			shared++
		}
	} else {
		b.restarts = append(b.restarts, uint32(len(b.buf)))
		b.counter = 0
	}

	b.buf = binary.AppendUvarint(b.buf, uint64(shared))
	b.buf = binary.AppendUvarint(b.buf, uint64(len(key)-shared))
	b.buf = binary.AppendUvarint(b.buf, uint64(len(value)))
	b.buf = append(b.buf, key[shared:]...)
	b.buf = append(b.buf, value...)

	b.lastKey = append(b.lastKey[:0], key...)
	b.counter++
}

func (b *blockBuilder) size() int { return len(b.buf) }

func (b *blockBuilder) empty() bool { return len(b.buf) == 0 }

// finish appends the restart array and its length, returning the raw block.
func (b *blockBuilder) finish() []byte {
	for _, r := range b.restarts {
		b.buf = binary.LittleEndian.AppendUint32(b.buf, r)
	}
	b.buf = binary.LittleEndian.AppendUint32(b.buf, uint32(len(b.restarts)))
	return b.buf
}

// blockIterator walks the entries of one decoded block.
type blockIterator struct {
	data        []byte
	restartsOff int
	numRestarts int

	offset     int
	nextOffset int

	key   []byte
	value []byte
	valid bool
	err   error
}

func newBlockIterator(data []byte) *blockIterator {
	if len(data) < 4 {
		return &blockIterator{err: ErrCorrupt}
	}

	numRestarts := int(binary.LittleEndian.Uint32(data[len(data)-4:]))
	restartsOff := len(data) - 4 - numRestarts*4
	if numRestarts < 1 || restartsOff < 0 {
		return &blockIterator{err: ErrCorrupt}
	}

	return &blockIterator{
		data:        data,
		restartsOff: restartsOff,
		numRestarts: numRestarts,
	}
}

func (it *blockIterator) Valid() bool   { return it.valid && it.err == nil }
func (it *blockIterator) Key() []byte   { return it.key }
func (it *blockIterator) Value() []byte { return it.value }
func (it *blockIterator) Err() error    { return it.err }

func (it *blockIterator) SeekToFirst() {
	it.seekToRestart(0)
	it.parseNext()
}

// Seek positions the iterator at the first entry whose internal key is not
// before target.
func (it *blockIterator) Seek(target []byte) {
	if it.err != nil {
		return
	}

	// Binary search for the last restart whose key is before target.
	left, right := 0, it.numRestarts-1
	for left < right {
		mid := (left + right + 1) / 2
		key, _, _, ok := it.parseEntry(it.restartPoint(mid), nil)
		if !ok {
			it.err = ErrCorrupt
			return
		}
		if keys.Compare(key, target) < 0 {
			left = mid
		} else {
			right = mid - 1
		}
	}

	it.seekToRestart(left)
	for it.parseNext() {
		if keys.Compare(it.key, target) >= 0 {
			return
		}
	}
}

func (it *blockIterator) Next() {
	if !it.valid {
		return
	}
	it.parseNext()
}

func (it *blockIterator) seekToRestart(index int) {
	it.nextOffset = int(it.restartPoint(index))
	it.offset = it.nextOffset
	it.valid = false
	it.key = it.key[:0]
}

func (it *blockIterator) restartPoint(index int) uint32 {
	return binary.LittleEndian.Uint32(it.data[it.restartsOff+index*4:])
}

func (it *blockIterator) parseNext() bool {
	if it.err != nil || it.nextOffset >= it.restartsOff {
		it.valid = false
		return false
	}

	it.offset = it.nextOffset
	key, value, n, ok := it.parseEntry(uint32(it.offset), it.key)
	if !ok {
		it.valid = false
		it.err = ErrCorrupt
		return false
	}

	it.key = key
	it.value = value
	it.nextOffset = it.offset + n
	it.valid = true
	return true
}

// parseEntry decodes the entry at offset. prev supplies the previous key's
// bytes for prefix reconstruction; it must be nil when offset is a restart
// point.
func (it *blockIterator) parseEntry(offset uint32, prev []byte) (key, value []byte, size int, ok bool) {
	src := it.data[offset:it.restartsOff]
	pos := 0

	shared, n := binary.Uvarint(src[pos:])
	if n <= 0 {
		return nil, nil, 0, false
	}
	pos += n

	unshared, n := binary.Uvarint(src[pos:])
	if n <= 0 {
		return nil, nil, 0, false
	}
	pos += n

	vlen, n := binary.Uvarint(src[pos:])
	if n <= 0 {
		return nil, nil, 0, false
	}
	pos += n

	if pos+int(unshared)+int(vlen) > len(src) || int(shared) > len(prev) {
		return nil, nil, 0, false
	}

	key = make([]byte, shared+unshared)
	copy(key, prev[:shared])
	copy(key[shared:], src[pos:pos+int(unshared)])
	pos += int(unshared)

	value = src[pos : pos+int(vlen)]
	pos += int(vlen)

	return key, value, pos, true
}
