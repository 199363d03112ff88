package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNopCachesNothing(t *testing.T) {
	var c Nop
	k := BlockKey{FileNum: 1, Offset: 0}
	c.Put(k, []byte("block"))
	assert.Nil(t, c.Get(k))
}

func TestLRUConcurrentAccess(t *testing.T) {
	c := NewLRU(4 * 1024)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				k := BlockKey{FileNum: uint64(g), Offset: uint64(i % 16)}
				c.Put(k, []byte(fmt.Sprintf("g%d-block-%d", g, i%16)))
				if got := c.Get(k); got != nil {
					assert.Equal(t, []byte(fmt.Sprintf("g%d-block-%d", g, i%16)), got)
				}
			}
		}(g)
	}
	wg.Wait()
}
