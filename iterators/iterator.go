// Package iterators defines the iterator contract shared by table scans
// and provides the merging iterator used by compaction.
package iterators

// Iterator walks entries in internal-key order. Key and Value are only
// valid while Valid reports true and until the next positioning call.
type Iterator interface {
	// SeekToFirst positions the iterator at the first entry.
	SeekToFirst()

	// Seek positions the iterator at the first entry whose internal key is
	// not before target.
	Seek(target []byte)

	// Next advances to the following entry.
	Next()

	// Valid reports whether the iterator is positioned at an entry.
	Valid() bool

	Key() []byte
	Value() []byte

	// Err returns the first failure the iterator encountered.
	Err() error
}
