package sstable

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

var (
	// ErrCorrupt reports a table whose framing or checksums do not verify.
	ErrCorrupt = errors.New("sstable: corrupt table")
)

const (
	// tableMagic is "crunchkv" in ASCII.
	tableMagic uint64 = 0x6372756E63686B76

	formatVersion uint32 = 1

	// footerSize: filter handle + index handle + meta handle + version +
	// crc + magic.
	footerSize = 16 + 16 + 16 + 4 + 4 + 8

	handleSize = 16

	// blockTrailerSize: compression kind byte + crc of payload and kind.
	blockTrailerSize = 1 + 4
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// BlockHandle locates a block within the table file.
type BlockHandle struct {
	Offset uint64
	Length uint64
}

// EncodeTo writes the handle into dst, which must hold handleSize bytes.
func (h BlockHandle) EncodeTo(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:], h.Offset)
	binary.LittleEndian.PutUint64(dst[8:], h.Length)
}

// DecodeHandle reads a handle back from src.
func DecodeHandle(src []byte) BlockHandle {
	return BlockHandle{
		Offset: binary.LittleEndian.Uint64(src[0:]),
		Length: binary.LittleEndian.Uint64(src[8:]),
	}
}

// Footer is the fixed-size trailer at the end of every table file. Its
// checksum covers the handles and version, so a truncated or scribbled
// footer is detected before any block is trusted.
type Footer struct {
	FilterHandle BlockHandle
	IndexHandle  BlockHandle
	MetaHandle   BlockHandle
}

// EncodeTo writes the footer into dst, which must hold footerSize bytes.
func (f Footer) EncodeTo(dst []byte) {
	f.FilterHandle.EncodeTo(dst[0:])
	f.IndexHandle.EncodeTo(dst[16:])
	f.MetaHandle.EncodeTo(dst[32:])
	binary.LittleEndian.PutUint32(dst[48:], formatVersion)
	binary.LittleEndian.PutUint32(dst[52:], crc32.Checksum(dst[:52], castagnoli))
	binary.LittleEndian.PutUint64(dst[56:], tableMagic)
}

// DecodeFooter parses and verifies the footer from src.
func DecodeFooter(src []byte) (Footer, error) {
	if len(src) != footerSize {
		return Footer{}, ErrCorrupt
	}
	if binary.LittleEndian.Uint64(src[56:]) != tableMagic {
		return Footer{}, ErrCorrupt
	}
	if binary.LittleEndian.Uint32(src[52:]) != crc32.Checksum(src[:52], castagnoli) {
		return Footer{}, ErrCorrupt
	}
	if binary.LittleEndian.Uint32(src[48:]) != formatVersion {
		return Footer{}, ErrCorrupt
	}

	return Footer{
		FilterHandle: DecodeHandle(src[0:]),
		IndexHandle:  DecodeHandle(src[16:]),
		MetaHandle:   DecodeHandle(src[32:]),
	}, nil
}

// TableInfo summarizes a finished table: what the manifest records about it.
type TableInfo struct {
	Size   int64
	Count  uint64
	MaxSeq uint64
	MinKey []byte
	MaxKey []byte
}

func encodeTableInfo(info TableInfo) []byte {
	buf := make([]byte, 8+8+4+len(info.MinKey)+4+len(info.MaxKey))
	binary.LittleEndian.PutUint64(buf[0:], info.Count)
	binary.LittleEndian.PutUint64(buf[8:], info.MaxSeq)

	off := 16
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(info.MinKey)))
	off += 4
	copy(buf[off:], info.MinKey)
	off += len(info.MinKey)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(info.MaxKey)))
	off += 4
	copy(buf[off:], info.MaxKey)
	return buf
}

func decodeTableInfo(src []byte) (TableInfo, error) {
	if len(src) < 24 {
		return TableInfo{}, ErrCorrupt
	}
	info := TableInfo{
		Count:  binary.LittleEndian.Uint64(src[0:]),
		MaxSeq: binary.LittleEndian.Uint64(src[8:]),
	}

	off := 16
	minLen := int(binary.LittleEndian.Uint32(src[off:]))
	off += 4
	if off+minLen+4 > len(src) {
		return TableInfo{}, ErrCorrupt
	}
	info.MinKey = append([]byte(nil), src[off:off+minLen]...)
	off += minLen

	maxLen := int(binary.LittleEndian.Uint32(src[off:]))
	off += 4
	if off+maxLen > len(src) {
		return TableInfo{}, ErrCorrupt
	}
	info.MaxKey = append([]byte(nil), src[off:off+maxLen]...)
	return info, nil
}
