// Package keys defines the internal key representation shared by the
// memtable, the sorted tables and the compaction merge path.
//
// An internal key is the user key followed by a fixed 8-byte trailer:
//
//	[ user key bytes | trailer uint64, little-endian ]
//	trailer = sequence<<8 | kind
//
// The sequence number therefore occupies the high 56 bits. It totally orders
// all mutations across the engine's lifetime; the kind byte distinguishes
// values from tombstones.
package keys

import (
	"encoding/binary"
	"errors"
)

// Kind is the record kind stored in the trailer's low byte.
type Kind uint8

const (
	KindValue     Kind = 0x01
	KindTombstone Kind = 0x02
)

const (
	// TrailerSize is the fixed trailer length appended to every user key.
	TrailerSize = 8

	// MaxSequence is the largest sequence number the trailer can carry.
	MaxSequence = uint64(1)<<56 - 1
)

var ErrShortKey = errors.New("internal key too short")

// Encode appends the trailer to userKey, producing an internal key.
func Encode(userKey []byte, seq uint64, kind Kind) []byte {
	if seq > MaxSequence {
		panic("keys: sequence number exceeds 56 bits")
	}

	buf := make([]byte, len(userKey)+TrailerSize)
	copy(buf, userKey)
	binary.LittleEndian.PutUint64(buf[len(userKey):], seq<<8|uint64(kind))
	return buf
}

// SeekKey returns an internal key that sorts before every real entry for
// userKey, for use as an iterator seek target.
func SeekKey(userKey []byte) []byte {
	return Encode(userKey, MaxSequence, Kind(0xFF))
}

// UserKey returns the user key portion of an internal key. The result
// aliases ikey.
func UserKey(ikey []byte) []byte {
	if len(ikey) < TrailerSize {
		return nil
	}
	return ikey[:len(ikey)-TrailerSize]
}

// Trailer splits the trailer of an internal key into sequence and kind.
func Trailer(ikey []byte) (seq uint64, kind Kind, err error) {
	if len(ikey) < TrailerSize {
		return 0, 0, ErrShortKey
	}
	t := binary.LittleEndian.Uint64(ikey[len(ikey)-TrailerSize:])
	return t >> 8, Kind(t & 0xFF), nil
}
