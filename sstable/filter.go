package sstable

import (
	"github.com/spaolacci/murmur3"
)

// Filter is a bloom filter over the user keys of a table. The last byte
// stores the probe count. A filter can say "definitely absent" but never
// "definitely present".
type Filter []byte

// BuildFilter creates a bloom filter for the given user keys, sized at
// bitsPerKey bits per key. Probes are derived from a single 128-bit murmur3
// hash by double hashing.
func BuildFilter(userKeys [][]byte, bitsPerKey int) Filter {
	k := int(float64(bitsPerKey) * 0.69) // bitsPerKey * ln(2)
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}

	nBits := len(userKeys) * bitsPerKey
	if nBits < 64 {
		nBits = 64
	}
	nBytes := (nBits + 7) / 8
	nBits = nBytes * 8

	filter := make(Filter, nBytes+1)
	filter[nBytes] = byte(k)

	for _, key := range userKeys {
		h1, h2 := murmur3.Sum128(key)
		g := h1
		for i := 0; i < k; i++ {
			pos := g % uint64(nBits)
			filter[pos/8] |= 1 << (pos % 8)
			g += h2
		}
	}
	return filter
}

// MayContain reports whether key might be in the set. An empty or malformed
// filter conservatively matches everything.
func (f Filter) MayContain(key []byte) bool {
	if len(f) < 2 {
		return true
	}

	nBits := uint64((len(f) - 1) * 8)
	k := int(f[len(f)-1])
	if k < 1 || k > 30 {
		return true
	}

	h1, h2 := murmur3.Sum128(key)
	g := h1
	for i := 0; i < k; i++ {
		pos := g % nBits
		if f[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
		g += h2
	}
	return true
}
