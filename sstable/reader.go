package sstable

import (
	"bytes"
	"fmt"
	"os"

	"crunchkv/internal/cache"
	"crunchkv/internal/keys"
)

// Reader serves point reads and scans from one table file. It keeps the
// index, filter, and meta loaded; data blocks go through the shared block
// cache. A Reader is safe for concurrent use.
type Reader struct {
	file    *os.File
	fileNum uint64
	size    int64

	index  []byte
	filter Filter
	info   TableInfo

	blocks cache.Cache
}

// Lookup is the newest record a table holds for a user key.
type Lookup struct {
	Seq   uint64
	Kind  keys.Kind
	Value []byte
}

// NewReader opens the table at path. fileNum must be the table's file
// number; it keys the block cache.
func NewReader(path string, fileNum uint64, blocks cache.Cache) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: open %s: %w", path, err)
	}

	r := &Reader{file: f, fileNum: fileNum, blocks: blocks}
	if r.blocks == nil {
		r.blocks = cache.Nop{}
	}

	if err := r.load(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) load() error {
	stat, err := r.file.Stat()
	if err != nil {
		return fmt.Errorf("sstable: stat: %w", err)
	}
	r.size = stat.Size()
	if r.size < footerSize {
		return ErrCorrupt
	}

	var footerBuf [footerSize]byte
	if _, err := r.file.ReadAt(footerBuf[:], r.size-footerSize); err != nil {
		return fmt.Errorf("sstable: read footer: %w", err)
	}
	footer, err := DecodeFooter(footerBuf[:])
	if err != nil {
		return err
	}

	if r.index, err = r.readStored(footer.IndexHandle); err != nil {
		return err
	}

	filterData, err := r.readStored(footer.FilterHandle)
	if err != nil {
		return err
	}
	r.filter = Filter(filterData)

	metaData, err := r.readStored(footer.MetaHandle)
	if err != nil {
		return err
	}
	if r.info, err = decodeTableInfo(metaData); err != nil {
		return err
	}
	r.info.Size = r.size
	return nil
}

// Info returns the table's recorded properties.
func (r *Reader) Info() TableInfo { return r.info }

// FileNum returns the table's file number.
func (r *Reader) FileNum() uint64 { return r.fileNum }

// Get returns the newest record for userKey, if the table holds one.
func (r *Reader) Get(userKey []byte) (Lookup, bool, error) {
	if !r.filter.MayContain(userKey) {
		return Lookup{}, false, nil
	}

	seek := keys.SeekKey(userKey)

	idx := newBlockIterator(r.index)
	idx.Seek(seek)
	if err := idx.Err(); err != nil {
		return Lookup{}, false, err
	}
	if !idx.Valid() {
		return Lookup{}, false, nil
	}

	block, err := r.block(DecodeHandle(idx.Value()))
	if err != nil {
		return Lookup{}, false, err
	}

	it := newBlockIterator(block)
	it.Seek(seek)
	if err := it.Err(); err != nil {
		return Lookup{}, false, err
	}
	if !it.Valid() || !bytes.Equal(keys.UserKey(it.Key()), userKey) {
		return Lookup{}, false, nil
	}

	seq, kind, err := keys.Trailer(it.Key())
	if err != nil {
		return Lookup{}, false, err
	}

	var value []byte
	if len(it.Value()) > 0 {
		value = append([]byte(nil), it.Value()...)
	}
	return Lookup{Seq: seq, Kind: kind, Value: value}, true, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// block returns the decoded data block at handle, consulting the cache.
func (r *Reader) block(handle BlockHandle) ([]byte, error) {
	key := cache.BlockKey{FileNum: r.fileNum, Offset: handle.Offset}
	if b := r.blocks.Get(key); b != nil {
		return b, nil
	}

	raw, err := r.readStored(handle)
	if err != nil {
		return nil, err
	}
	r.blocks.Put(key, raw)
	return raw, nil
}

func (r *Reader) readStored(handle BlockHandle) ([]byte, error) {
	stored := make([]byte, handle.Length)
	if _, err := r.file.ReadAt(stored, int64(handle.Offset)); err != nil {
		return nil, fmt.Errorf("sstable: read block: %w", err)
	}
	return decodeBlock(stored)
}
