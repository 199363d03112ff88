package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLRUHitAndMiss(t *testing.T) {
	c := NewLRU(1024)

	k := BlockKey{FileNum: 1, Offset: 0}
	assert.Nil(t, c.Get(k))

	c.Put(k, []byte("block-1"))
	assert.Equal(t, []byte("block-1"), c.Get(k))
}

func TestLRUEvictsOldest(t *testing.T) {
	c := NewLRU(20)

	a := BlockKey{FileNum: 1, Offset: 0}
	b := BlockKey{FileNum: 1, Offset: 100}
	d := BlockKey{FileNum: 2, Offset: 0}

	c.Put(a, make([]byte, 10))
	c.Put(b, make([]byte, 10))

	// Touch a so b becomes the eviction candidate.
	c.Get(a)
	c.Put(d, make([]byte, 10))

	assert.NotNil(t, c.Get(a))
	assert.Nil(t, c.Get(b))
	assert.NotNil(t, c.Get(d))
}

func TestLRUUpdateExisting(t *testing.T) {
	c := NewLRU(64)

	k := BlockKey{FileNum: 3, Offset: 42}
	c.Put(k, []byte("old"))
	c.Put(k, []byte("newer"))

	assert.Equal(t, []byte("newer"), c.Get(k))
}
