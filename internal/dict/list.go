package dict

import (
	"bytes"
	"encoding/binary"
	"slices"

	"github.com/hupe1980/segdb/internal/conv"
)

const minBufferSize = 256

// List is an append-only list of byte sequences.
type List struct {
	buf  []byte
	offs []uint32
}

// NewList creates a List with an initial buffer capacity hint.
func NewList(sizeHint int) *List {
	if sizeHint < minBufferSize {
		sizeHint = minBufferSize
	}
	return &List{buf: make([]byte, 0, sizeHint)}
}

// Len returns the number of entries.
func (l *List) Len() int { return len(l.offs) }

// Add appends a copy of value and returns its index.
func (l *List) Add(value []byte) uint32 {
	need := binary.MaxVarintLen32 + len(value)
	if len(l.buf)+need > cap(l.buf) {
		l.grow(need)
	}
	idx := offset(len(l.offs))
	l.offs = append(l.offs, offset(len(l.buf)))
	l.buf = binary.AppendUvarint(l.buf, uint64(len(value)))
	l.buf = append(l.buf, value...)
	return idx
}

// offset converts an entry count or buffer position to the uint32 the list
// stores.
func offset(n int) uint32 {
	v, err := conv.IntToUint32(n)
	assertf(err == nil, "dict: list position %d exceeds the uint32 offset range", n)
	return v
}

// grow doubles the buffer until need more bytes fit.
func (l *List) grow(need int) {
	newCap := max(cap(l.buf)*2, minBufferSize)
	for len(l.buf)+need > newCap {
		newCap *= 2
	}
	nb := make([]byte, len(l.buf), newCap)
	copy(nb, l.buf)
	l.buf = nb
}

// Get returns a borrowed view of entry i, valid until the next Add.
func (l *List) Get(i uint32) []byte {
	off := l.offs[i]
	n, w := binary.Uvarint(l.buf[off:])
	start := int(off) + w
	return l.buf[start : start+int(n) : start+int(n)]
}

// Sort returns a permutation of indices in byte-lexicographic order of the values.
// Equal values keep their insertion order.
func (l *List) Sort() []uint32 {
	return l.SortFunc(func(a, b uint32) int {
		return bytes.Compare(l.Get(a), l.Get(b))
	})
}

// SortFunc returns a permutation of indices ordered by cmp.
func (l *List) SortFunc(cmp func(a, b uint32) int) []uint32 {
	perm := make([]uint32, len(l.offs))
	for i := range perm {
		perm[i] = uint32(i)
	}
	slices.SortStableFunc(perm, cmp)
	return perm
}
