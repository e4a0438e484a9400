package merge

import (
	"context"
	"sync"

	"github.com/hupe1980/segdb/internal/segment"
)

// Source is one input segment of a merge.
type Source struct {
	// Ordinal is the commit order of the segment; higher is newer.
	Ordinal uint64

	// Reopen returns the current physical version of the logical segment.
	// It is used when a version is replaced during a merge. Nil disables
	// restoring.
	Reopen func(ctx context.Context) (*segment.Segment, error)

	mu  sync.Mutex
	seg *segment.Segment
}

// NewSource creates a Source reading seg.
func NewSource(ordinal uint64, seg *segment.Segment, reopen func(ctx context.Context) (*segment.Segment, error)) *Source {
	return &Source{Ordinal: ordinal, Reopen: reopen, seg: seg}
}

// Segment returns the physical version currently read.
func (s *Source) Segment() *segment.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seg
}

func (s *Source) refresh(ctx context.Context) (*segment.Segment, error) {
	seg, err := s.Reopen(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.seg = seg
	s.mu.Unlock()
	return seg, nil
}
