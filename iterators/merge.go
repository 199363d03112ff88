package iterators

import (
	"container/heap"

	"crunchkv/internal/keys"
)

// Merge walks several iterators as one, yielding all entries from all
// children in internal-key order. Versions of the same user key come out
// newest first, which is how the internal-key comparator orders them;
// deciding which versions to keep is the caller's business.
type Merge struct {
	children []Iterator
	h        mergeHeap
	err      error
}

// NewMerge combines children into one ordered iterator.
func NewMerge(children ...Iterator) *Merge {
	return &Merge{children: children}
}

func (m *Merge) SeekToFirst() {
	for _, c := range m.children {
		c.SeekToFirst()
	}
	m.rebuild()
}

func (m *Merge) Seek(target []byte) {
	for _, c := range m.children {
		c.Seek(target)
	}
	m.rebuild()
}

func (m *Merge) Next() {
	if len(m.h) == 0 {
		return
	}

	top := m.h[0]
	top.Next()
	if err := top.Err(); err != nil {
		m.err = err
		m.h = nil
		return
	}

	if top.Valid() {
		heap.Fix(&m.h, 0)
	} else {
		heap.Pop(&m.h)
	}
}

func (m *Merge) Valid() bool {
	return m.err == nil && len(m.h) > 0
}

func (m *Merge) Key() []byte   { return m.h[0].Key() }
func (m *Merge) Value() []byte { return m.h[0].Value() }

func (m *Merge) Err() error {
	if m.err != nil {
		return m.err
	}
	for _, c := range m.children {
		if err := c.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Merge) rebuild() {
	m.h = m.h[:0]
	for _, c := range m.children {
		if err := c.Err(); err != nil {
			m.err = err
			m.h = nil
			return
		}
		if c.Valid() {
			m.h = append(m.h, c)
		}
	}
	heap.Init(&m.h)
}

type mergeHeap []Iterator

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	return keys.Compare(h[i].Key(), h[j].Key()) < 0
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(Iterator)) }

func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
