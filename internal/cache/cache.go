// Package cache provides the block cache shared by sorted-table readers.
package cache

// BlockKey identifies one decoded block: the table's file number plus the
// block's byte offset within the file.
type BlockKey struct {
	FileNum uint64
	Offset  uint64
}

// Cache is a thread-safe cache of decoded (verified, decompressed) blocks.
type Cache interface {
	// Get returns the cached block, or nil.
	Get(key BlockKey) []byte

	// Put inserts a decoded block. The cache takes ownership of the slice.
	Put(key BlockKey, block []byte)
}

// Nop is a Cache that caches nothing.
type Nop struct{}

func (Nop) Get(BlockKey) []byte  { return nil }
func (Nop) Put(BlockKey, []byte) {}
