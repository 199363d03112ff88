package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRoundTrip(t *testing.T) {
	ikey := Encode([]byte("user-key"), 42, KindValue)

	assert.Equal(t, []byte("user-key"), UserKey(ikey))

	seq, kind, err := Trailer(ikey)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), seq)
	assert.Equal(t, KindValue, kind)
}

func TestTrailerShortKey(t *testing.T) {
	_, _, err := Trailer([]byte("short"))
	assert.ErrorIs(t, err, ErrShortKey)
}

func TestCompareOrdersUserKeysAscending(t *testing.T) {
	a := Encode([]byte("a"), 1, KindValue)
	b := Encode([]byte("b"), 1, KindValue)

	assert.Negative(t, Compare(a, b))
	assert.Positive(t, Compare(b, a))
}

func TestCompareOrdersSequencesDescending(t *testing.T) {
	old := Encode([]byte("k"), 5, KindValue)
	new_ := Encode([]byte("k"), 9, KindTombstone)

	// The newer version sorts first.
	assert.Negative(t, Compare(new_, old))
	assert.Positive(t, Compare(old, new_))
}

func TestSeekKeySortsBeforeAllVersions(t *testing.T) {
	seek := SeekKey([]byte("k"))
	newest := Encode([]byte("k"), MaxSequence, KindValue)

	assert.Negative(t, Compare(seek, newest))
	assert.Negative(t, Compare(Encode([]byte("j"), 1, KindValue), seek))
}
