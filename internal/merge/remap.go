package merge

import (
	"errors"
	"fmt"

	"github.com/hupe1980/segdb/model"
)

var (
	// ErrRemapOrder is returned when a source doc is assigned out of order.
	ErrRemapOrder = errors.New("merge: remap source out of order")

	// ErrRemapConflict is returned when a source doc is reassigned to a different destination.
	ErrRemapConflict = errors.New("merge: remap destination conflict")
)

// Deleted marks a source doc without a live destination.
const Deleted int64 = -1

// Remap maps the doc numbers of every input segment to merged doc numbers.
//
// Each segment's docs must be assigned contiguously from 0, and destinations
// are expected to grow with the merged key order. Besides the live
// destination, every entry remembers the destination it claimed; a doc that
// was superseded still resolves to the row that replaced it, which is what
// link targets need.
type Remap struct {
	dst   [][]int64
	claim [][]int64
	last  []int
	size  int64
}

// NewRemap creates a Remap for n segments.
func NewRemap(n int) *Remap {
	r := &Remap{
		dst:   make([][]int64, n),
		claim: make([][]int64, n),
		last:  make([]int, n),
		size:  -1,
	}
	for i := range r.last {
		r.last[i] = -1
	}
	return r
}

// Segments returns the number of segments.
func (r *Remap) Segments() int { return len(r.dst) }

// Len returns the number of assigned docs of seg.
func (r *Remap) Len(seg int) int { return len(r.dst[seg]) }

// Set assigns src of seg to dst.
func (r *Remap) Set(seg int, src model.DocNum, dst int64) error {
	return r.assign(seg, src, dst, dst)
}

// SetDeleted assigns src of seg to dst and flips every entry of the other
// segments that claimed dst before to Deleted. A later segment's document
// supersedes an earlier one this way.
func (r *Remap) SetDeleted(seg int, src model.DocNum, dst int64) error {
	if err := r.assign(seg, src, dst, dst); err != nil {
		return err
	}
	for s := range r.dst {
		if s == seg {
			continue
		}
		for i := r.last[s]; i >= 0; i-- {
			c := r.claim[s][i]
			if c != Deleted && c < dst {
				break
			}
			if c == dst {
				r.dst[s][i] = Deleted
			}
		}
	}
	return nil
}

// SetSuperseded assigns src of seg to the row dst without making it live.
func (r *Remap) SetSuperseded(seg int, src model.DocNum, dst int64) error {
	return r.assign(seg, src, Deleted, dst)
}

// Drop assigns src of seg to no row at all.
func (r *Remap) Drop(seg int, src model.DocNum) error {
	return r.assign(seg, src, Deleted, Deleted)
}

func (r *Remap) assign(seg int, src model.DocNum, dst, claim int64) error {
	if seg < 0 || seg >= len(r.dst) {
		return fmt.Errorf("merge: segment %d out of range", seg)
	}
	n := model.DocNum(len(r.dst[seg]))
	switch {
	case src < n:
		if r.claim[seg][src] == claim && r.dst[seg][src] == dst {
			return nil
		}
		return fmt.Errorf("%w: segment %d doc %d maps to %d, not %d", ErrRemapConflict, seg, src, r.claim[seg][src], claim)
	case src > n:
		return fmt.Errorf("%w: segment %d doc %d assigned before doc %d", ErrRemapOrder, seg, src, n)
	}
	r.dst[seg] = append(r.dst[seg], dst)
	r.claim[seg] = append(r.claim[seg], claim)
	if claim != Deleted {
		r.last[seg] = int(src)
	}
	r.size = -1
	return nil
}

// Dst returns the live destination of src in seg, or Deleted.
func (r *Remap) Dst(seg int, src model.DocNum) int64 {
	if int(src) >= len(r.dst[seg]) {
		return Deleted
	}
	return r.dst[seg][src]
}

// Target returns the row that replaced src in seg, live or not. It is
// Deleted only for dropped docs.
func (r *Remap) Target(seg int, src model.DocNum) int64 {
	if int(src) >= len(r.claim[seg]) {
		return Deleted
	}
	return r.claim[seg][src]
}

// DstSize returns the maximum live destination plus one. The result is
// cached until the next assignment.
func (r *Remap) DstSize() int64 {
	if r.size >= 0 {
		return r.size
	}
	var size int64
	for _, dsts := range r.dst {
		for _, d := range dsts {
			size = max(size, d+1)
		}
	}
	r.size = size
	return size
}
