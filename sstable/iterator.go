package sstable

import (
	"crunchkv/internal/keys"
)

// TableIterator walks every entry of a table in internal-key order. It is
// a two-level iterator: an index cursor selects data blocks, a block cursor
// walks entries within the current block.
type TableIterator struct {
	r     *Reader
	index *blockIterator
	data  *blockIterator
	err   error
}

// NewIterator returns an iterator over the table. The reader must stay open
// while the iterator is in use.
func (r *Reader) NewIterator() *TableIterator {
	return &TableIterator{r: r, index: newBlockIterator(r.index)}
}

func (it *TableIterator) SeekToFirst() {
	it.index.SeekToFirst()
	it.loadBlock()
	if it.data != nil {
		it.data.SeekToFirst()
	}
}

// Seek positions the iterator at the first entry whose internal key is not
// before target.
func (it *TableIterator) Seek(target []byte) {
	it.index.Seek(target)
	it.loadBlock()
	if it.data == nil {
		return
	}
	it.data.Seek(target)
	if !it.data.Valid() {
		// The index key is the block's last key, so the target can only
		// run past a block when it runs past the whole table.
		it.data = nil
	}
}

func (it *TableIterator) Next() {
	if it.data == nil {
		return
	}
	it.data.Next()
	for !it.data.Valid() {
		if err := it.data.Err(); err != nil {
			it.err = err
			it.data = nil
			return
		}
		it.index.Next()
		it.loadBlock()
		if it.data == nil {
			return
		}
		it.data.SeekToFirst()
	}
}

func (it *TableIterator) Valid() bool {
	return it.err == nil && it.data != nil && it.data.Valid()
}

// Key returns the current internal key.
func (it *TableIterator) Key() []byte { return it.data.Key() }

// UserKey returns the user portion of the current key.
func (it *TableIterator) UserKey() []byte { return keys.UserKey(it.data.Key()) }

func (it *TableIterator) Value() []byte { return it.data.Value() }

func (it *TableIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	if it.index.Err() != nil {
		return it.index.Err()
	}
	if it.data != nil && it.data.Err() != nil {
		return it.data.Err()
	}
	return nil
}

func (it *TableIterator) loadBlock() {
	it.data = nil
	if it.err != nil || !it.index.Valid() {
		return
	}

	block, err := it.r.block(DecodeHandle(it.index.Value()))
	if err != nil {
		it.err = err
		return
	}
	it.data = newBlockIterator(block)
}
