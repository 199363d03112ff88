// Package sstable reads and writes sorted table files: prefix-compressed
// data blocks, a sparse index, a bloom filter over user keys, and a
// checksummed footer.
package sstable

import (
	"fmt"
	"os"
	"path/filepath"

	"crunchkv/internal/keys"
)

const (
	// Target raw size of a data block before it is cut.
	blockSize = 4 * 1024

	bitsPerKey = 10
)

// Builder writes a table file. Entries must arrive in strictly increasing
// internal-key order. Output is staged at a temporary path and renamed into
// place only when Finish succeeds, so a crash mid-build leaves no partial
// table behind a real name.
type Builder struct {
	path    string
	tmpPath string
	file    *os.File

	dataBlock  *blockBuilder
	indexBlock *blockBuilder

	pendingIndex  bool
	pendingHandle BlockHandle
	lastKey       []byte

	userKeys [][]byte
	info     TableInfo

	offset uint64
	err    error
}

// NewBuilder starts a table at path, staging writes at path + ".tmp".
func NewBuilder(path string) (*Builder, error) {
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sstable: create %s: %w", tmpPath, err)
	}

	return &Builder{
		path:       path,
		tmpPath:    tmpPath,
		file:       f,
		dataBlock:  newBlockBuilder(),
		indexBlock: newBlockBuilder(),
	}, nil
}

// Add appends one entry. The internal key must sort strictly after the
// previously added key.
func (b *Builder) Add(ikey, value []byte) error {
	if b.err != nil {
		return b.err
	}
	if b.lastKey != nil && keys.Compare(b.lastKey, ikey) >= 0 {
		b.err = fmt.Errorf("sstable: keys out of order")
		return b.err
	}

	if b.pendingIndex {
		var handle [handleSize]byte
		b.pendingHandle.EncodeTo(handle[:])
		b.indexBlock.add(b.lastKey, handle[:])
		b.pendingIndex = false
	}

	b.dataBlock.add(ikey, value)

	userKey := append([]byte(nil), keys.UserKey(ikey)...)
	b.userKeys = append(b.userKeys, userKey)

	seq, _, err := keys.Trailer(ikey)
	if err != nil {
		b.err = err
		return b.err
	}
	if seq > b.info.MaxSeq {
		b.info.MaxSeq = seq
	}
	if b.info.Count == 0 {
		b.info.MinKey = userKey
	}
	b.info.MaxKey = userKey
	b.info.Count++

	b.lastKey = append([]byte(nil), ikey...)

	if b.dataBlock.size() >= blockSize {
		if err := b.flushDataBlock(); err != nil {
			b.err = err
			return err
		}
	}
	return nil
}

// Finish writes the filter, meta, and index blocks plus the footer, syncs
// the file, and renames it into place. It returns what the manifest needs
// to record about the table.
func (b *Builder) Finish() (TableInfo, error) {
	if b.err != nil {
		return TableInfo{}, b.err
	}
	if b.info.Count == 0 {
		b.err = fmt.Errorf("sstable: finishing empty table")
		return TableInfo{}, b.err
	}

	if err := b.flushDataBlock(); err != nil {
		return TableInfo{}, err
	}
	if b.pendingIndex {
		var handle [handleSize]byte
		b.pendingHandle.EncodeTo(handle[:])
		b.indexBlock.add(b.lastKey, handle[:])
		b.pendingIndex = false
	}

	filterHandle, err := b.writeRaw(BuildFilter(b.userKeys, bitsPerKey))
	if err != nil {
		return TableInfo{}, err
	}
	metaHandle, err := b.writeRaw(encodeTableInfo(b.info))
	if err != nil {
		return TableInfo{}, err
	}
	indexHandle, err := b.writeRaw(b.indexBlock.finish())
	if err != nil {
		return TableInfo{}, err
	}

	var footer [footerSize]byte
	Footer{
		FilterHandle: filterHandle,
		IndexHandle:  indexHandle,
		MetaHandle:   metaHandle,
	}.EncodeTo(footer[:])

	if _, err := b.file.Write(footer[:]); err != nil {
		return TableInfo{}, fmt.Errorf("sstable: write footer: %w", err)
	}
	b.offset += footerSize

	if err := b.file.Sync(); err != nil {
		return TableInfo{}, fmt.Errorf("sstable: sync %s: %w", b.tmpPath, err)
	}
	if err := b.file.Close(); err != nil {
		return TableInfo{}, fmt.Errorf("sstable: close %s: %w", b.tmpPath, err)
	}
	if err := os.Rename(b.tmpPath, b.path); err != nil {
		return TableInfo{}, fmt.Errorf("sstable: rename into place: %w", err)
	}
	if err := syncTableDir(filepath.Dir(b.path)); err != nil {
		return TableInfo{}, err
	}

	b.info.Size = int64(b.offset)
	return b.info, nil
}

// Abandon discards the staged file. Safe to call after a failed Add or
// Finish.
func (b *Builder) Abandon() {
	b.file.Close()
	os.Remove(b.tmpPath)
}

func (b *Builder) flushDataBlock() error {
	if b.dataBlock.empty() {
		return nil
	}

	handle, err := b.writeRaw(b.dataBlock.finish())
	if err != nil {
		return err
	}

	b.pendingHandle = handle
	b.pendingIndex = true
	b.dataBlock.reset()
	return nil
}

func (b *Builder) writeRaw(raw []byte) (BlockHandle, error) {
	stored := encodeBlock(raw)
	n, err := b.file.Write(stored)
	if err != nil {
		return BlockHandle{}, fmt.Errorf("sstable: write block: %w", err)
	}

	handle := BlockHandle{Offset: b.offset, Length: uint64(n)}
	b.offset += uint64(n)
	return handle, nil
}

func syncTableDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("sstable: open dir for sync: %w", err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("sstable: sync dir: %w", err)
	}
	return nil
}
