package wal

import (
	"encoding/binary"
	"errors"
	"hash/crc32"

	"crunchkv/internal/keys"
)

// ErrCorrupt reports a record whose framing or checksum does not verify.
var ErrCorrupt = errors.New("wal: corrupt record")

const (
	headerSize  = 4 + 4                 // crc + payload length
	payloadMeta = 8 + 1 + 4 + 4         // seq + kind + klen + vlen
	minRecord   = headerSize + payloadMeta
)

// Record is one durably logged write: a value or a tombstone.
type Record struct {
	Seq   uint64
	Kind  keys.Kind
	Key   []byte
	Value []byte
}

// EncodeRecord frames a record as crc | len | seq | kind | klen | vlen |
// key | value, all little-endian. The checksum covers everything after
// itself, including the length field.
func EncodeRecord(rec Record) []byte {
	payloadLen := payloadMeta + len(rec.Key) + len(rec.Value)
	buf := make([]byte, headerSize+payloadLen)

	binary.LittleEndian.PutUint32(buf[4:], uint32(payloadLen))

	p := buf[headerSize:]
	binary.LittleEndian.PutUint64(p[0:], rec.Seq)
	p[8] = byte(rec.Kind)
	binary.LittleEndian.PutUint32(p[9:], uint32(len(rec.Key)))
	binary.LittleEndian.PutUint32(p[13:], uint32(len(rec.Value)))
	copy(p[payloadMeta:], rec.Key)
	copy(p[payloadMeta+len(rec.Key):], rec.Value)

	binary.LittleEndian.PutUint32(buf[0:], crc32.ChecksumIEEE(buf[4:]))
	return buf
}

// DecodeRecord decodes the record at the front of data and returns it with
// the number of bytes consumed. It returns ErrCorrupt when the record is
// truncated or its checksum does not match.
func DecodeRecord(data []byte) (Record, int, error) {
	if len(data) < minRecord {
		return Record{}, 0, ErrCorrupt
	}

	want := binary.LittleEndian.Uint32(data[0:4])
	payloadLen := binary.LittleEndian.Uint32(data[4:8])

	total := headerSize + int(payloadLen)
	if int(payloadLen) < payloadMeta || len(data) < total {
		return Record{}, 0, ErrCorrupt
	}
	if crc32.ChecksumIEEE(data[4:total]) != want {
		return Record{}, 0, ErrCorrupt
	}

	p := data[headerSize:total]
	seq := binary.LittleEndian.Uint64(p[0:])
	kind := keys.Kind(p[8])
	klen := binary.LittleEndian.Uint32(p[9:])
	vlen := binary.LittleEndian.Uint32(p[13:])

	if payloadMeta+int(klen)+int(vlen) != len(p) {
		return Record{}, 0, ErrCorrupt
	}

	key := make([]byte, klen)
	copy(key, p[payloadMeta:payloadMeta+int(klen)])

	var value []byte
	if vlen > 0 {
		value = make([]byte, vlen)
		copy(value, p[payloadMeta+int(klen):])
	}

	return Record{Seq: seq, Kind: kind, Key: key, Value: value}, total, nil
}
