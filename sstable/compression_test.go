package sstable

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockFramingRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte("compress me "), 100)

	stored := encodeBlock(raw)
	assert.Less(t, len(stored), len(raw))

	got, err := decodeBlock(stored)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestIncompressibleStoredRaw(t *testing.T) {
	raw := make([]byte, 256)
	for i := range raw {
		raw[i] = byte(i * 31)
	}

	got, err := decodeBlock(encodeBlock(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestDecodeDetectsFlippedBit(t *testing.T) {
	stored := encodeBlock([]byte("some block payload"))
	stored[0] ^= 0x01

	_, err := decodeBlock(stored)
	assert.ErrorIs(t, err, ErrCorrupt)
}
