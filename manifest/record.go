package manifest

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// ErrCorrupt reports a record whose framing or checksum does not verify.
var ErrCorrupt = errors.New("manifest: corrupt record")

const (
	tagAddTable    byte = 0x01
	tagRemoveTable byte = 0x02
	tagWALRotate   byte = 0x03

	frameHeader = 4 + 4 // crc + payload length
)

// TableMeta describes one live table file. It is what the manifest records
// and what the in-memory version keeps per table.
type TableMeta struct {
	FileNum uint64
	Level   int
	Size    int64
	Count   uint64
	MaxSeq  uint64
	MinKey  []byte
	MaxKey  []byte
}

// Record is one durable state transition.
type Record interface {
	tag() byte
}

// AddTable registers a new table file at a level.
type AddTable struct {
	Table TableMeta
}

// RemoveTable retires a table file from a level.
type RemoveTable struct {
	FileNum uint64
	Level   int
}

// WALRotate records that every write at or below the named WAL segment is
// safely in tables, so those segments can be pruned.
type WALRotate struct {
	SegmentID uint64
}

func (AddTable) tag() byte    { return tagAddTable }
func (RemoveTable) tag() byte { return tagRemoveTable }
func (WALRotate) tag() byte   { return tagWALRotate }

// EncodeRecord frames a record as crc | len | tag | payload. The checksum
// covers everything after itself.
func EncodeRecord(rec Record) []byte {
	var payload []byte
	switch r := rec.(type) {
	case AddTable:
		t := r.Table
		payload = make([]byte, 0, 37+len(t.MinKey)+len(t.MaxKey))
		payload = binary.LittleEndian.AppendUint64(payload, t.FileNum)
		payload = binary.LittleEndian.AppendUint32(payload, uint32(t.Level))
		payload = binary.LittleEndian.AppendUint64(payload, uint64(t.Size))
		payload = binary.LittleEndian.AppendUint64(payload, t.Count)
		payload = binary.LittleEndian.AppendUint64(payload, t.MaxSeq)
		payload = binary.LittleEndian.AppendUint32(payload, uint32(len(t.MinKey)))
		payload = append(payload, t.MinKey...)
		payload = binary.LittleEndian.AppendUint32(payload, uint32(len(t.MaxKey)))
		payload = append(payload, t.MaxKey...)
	case RemoveTable:
		payload = binary.LittleEndian.AppendUint64(nil, r.FileNum)
		payload = binary.LittleEndian.AppendUint32(payload, uint32(r.Level))
	case WALRotate:
		payload = binary.LittleEndian.AppendUint64(nil, r.SegmentID)
	default:
		panic("manifest: unknown record type")
	}

	buf := make([]byte, frameHeader+1+len(payload))
	binary.LittleEndian.PutUint32(buf[4:], uint32(1+len(payload)))
	buf[frameHeader] = rec.tag()
	copy(buf[frameHeader+1:], payload)
	binary.LittleEndian.PutUint32(buf[0:], crc32.ChecksumIEEE(buf[4:]))
	return buf
}

// DecodeRecord decodes the record at the front of data and returns it with
// the number of bytes consumed.
func DecodeRecord(data []byte) (Record, int, error) {
	if len(data) < frameHeader+1 {
		return nil, 0, ErrCorrupt
	}

	want := binary.LittleEndian.Uint32(data[0:4])
	length := binary.LittleEndian.Uint32(data[4:8])

	total := frameHeader + int(length)
	if length < 1 || len(data) < total {
		return nil, 0, ErrCorrupt
	}
	if crc32.ChecksumIEEE(data[4:total]) != want {
		return nil, 0, ErrCorrupt
	}

	tag := data[frameHeader]
	payload := data[frameHeader+1 : total]

	switch tag {
	case tagAddTable:
		t, err := decodeTableMeta(payload)
		if err != nil {
			return nil, 0, err
		}
		return AddTable{Table: t}, total, nil
	case tagRemoveTable:
		if len(payload) != 12 {
			return nil, 0, ErrCorrupt
		}
		return RemoveTable{
			FileNum: binary.LittleEndian.Uint64(payload[0:]),
			Level:   int(binary.LittleEndian.Uint32(payload[8:])),
		}, total, nil
	case tagWALRotate:
		if len(payload) != 8 {
			return nil, 0, ErrCorrupt
		}
		return WALRotate{SegmentID: binary.LittleEndian.Uint64(payload)}, total, nil
	default:
		return nil, 0, ErrCorrupt
	}
}

func decodeTableMeta(payload []byte) (TableMeta, error) {
	if len(payload) < 40 {
		return TableMeta{}, ErrCorrupt
	}

	t := TableMeta{
		FileNum: binary.LittleEndian.Uint64(payload[0:]),
		Level:   int(binary.LittleEndian.Uint32(payload[8:])),
		Size:    int64(binary.LittleEndian.Uint64(payload[12:])),
		Count:   binary.LittleEndian.Uint64(payload[20:]),
		MaxSeq:  binary.LittleEndian.Uint64(payload[28:]),
	}

	off := 36
	minLen := int(binary.LittleEndian.Uint32(payload[off:]))
	off += 4
	if off+minLen+4 > len(payload) {
		return TableMeta{}, ErrCorrupt
	}
	t.MinKey = append([]byte(nil), payload[off:off+minLen]...)
	off += minLen

	maxLen := int(binary.LittleEndian.Uint32(payload[off:]))
	off += 4
	if off+maxLen != len(payload) {
		return TableMeta{}, ErrCorrupt
	}
	t.MaxKey = append([]byte(nil), payload[off:off+maxLen]...)
	return t, nil
}
