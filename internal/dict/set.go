package dict

import (
	"bytes"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Set is a List with a hash index making Add idempotent.
//
// Hashing is xxhash64 over the raw bytes; AddString hashes the string
// directly and yields the same value as hashing its bytes.
type Set struct {
	list  *List
	index map[uint64][]uint32
}

// NewSet creates an empty Set.
func NewSet(sizeHint int) *Set {
	return &Set{
		list:  NewList(sizeHint),
		index: make(map[uint64][]uint32),
	}
}

// Len returns the number of distinct entries.
func (s *Set) Len() int { return s.list.Len() }

// List exposes the underlying list. Callers must not Add to it directly.
func (s *Set) List() *List { return s.list }

// Get returns a borrowed view of entry i, valid until the next Add.
func (s *Set) Get(i uint32) []byte { return s.list.Get(i) }

// Add inserts value unless an equal value exists and returns its index.
func (s *Set) Add(value []byte) uint32 {
	h := xxhash.Sum64(value)
	if idx, ok := s.find(h, value); ok {
		return idx
	}
	return s.insert(h, value)
}

// AddString is Add for a string without converting it first.
func (s *Set) AddString(value string) uint32 {
	h := xxhash.Sum64String(value)
	if idx, ok := s.findString(h, value); ok {
		return idx
	}
	return s.insert(h, []byte(value))
}

// Lookup returns the index of value if present.
func (s *Set) Lookup(value []byte) (uint32, bool) {
	return s.find(xxhash.Sum64(value), value)
}

// Sort returns a permutation of indices in byte-lexicographic order.
func (s *Set) Sort() []uint32 { return s.list.Sort() }

func (s *Set) insert(h uint64, value []byte) uint32 {
	want := uint32(s.list.Len())
	idx := s.list.Add(value)
	assertf(idx == want, "dict: list returned index %d, expected %d", idx, want)
	s.index[h] = append(s.index[h], idx)
	return idx
}

func (s *Set) find(h uint64, value []byte) (uint32, bool) {
	for _, idx := range s.index[h] {
		assertf(int(idx) < s.list.Len(), "dict: hash index holds %d beyond list length %d", idx, s.list.Len())
		if bytes.Equal(s.list.Get(idx), value) {
			return idx, true
		}
	}
	return 0, false
}

func (s *Set) findString(h uint64, value string) (uint32, bool) {
	for _, idx := range s.index[h] {
		assertf(int(idx) < s.list.Len(), "dict: hash index holds %d beyond list length %d", idx, s.list.Len())
		if string(s.list.Get(idx)) == value {
			return idx, true
		}
	}
	return 0, false
}

// assertf panics on broken invariants between the hash index and the list.
func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
