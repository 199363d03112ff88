package sstable

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/klauspost/compress/s2"
)

const (
	noCompression uint8 = 0
	s2Compression uint8 = 1
)

// encodeBlock frames a raw block for storage: payload, a compression kind
// byte, and a checksum over both. The payload is S2-compressed unless that
// would not shrink it.
func encodeBlock(raw []byte) []byte {
	payload := raw
	kind := noCompression

	if compressed := s2.Encode(nil, raw); len(compressed) < len(raw) {
		payload = compressed
		kind = s2Compression
	}

	buf := make([]byte, len(payload)+blockTrailerSize)
	copy(buf, payload)
	buf[len(payload)] = kind
	crc := crc32.Checksum(buf[:len(payload)+1], castagnoli)
	binary.LittleEndian.PutUint32(buf[len(payload)+1:], crc)
	return buf
}

// decodeBlock verifies and unframes a stored block, returning the raw
// contents.
func decodeBlock(stored []byte) ([]byte, error) {
	if len(stored) < blockTrailerSize {
		return nil, ErrCorrupt
	}

	payloadEnd := len(stored) - blockTrailerSize
	want := binary.LittleEndian.Uint32(stored[payloadEnd+1:])
	if crc32.Checksum(stored[:payloadEnd+1], castagnoli) != want {
		return nil, ErrCorrupt
	}

	payload := stored[:payloadEnd]
	switch stored[payloadEnd] {
	case noCompression:
		return append([]byte(nil), payload...), nil
	case s2Compression:
		raw, err := s2.Decode(nil, payload)
		if err != nil {
			return nil, ErrCorrupt
		}
		return raw, nil
	default:
		return nil, ErrCorrupt
	}
}
