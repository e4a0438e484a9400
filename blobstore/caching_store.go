package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/errgroup"
)

// DefaultCacheBlockSize is the granularity of cached reads.
const DefaultCacheBlockSize = 64 << 10

// CachingStore puts a block cache in front of another store.
//
// Blobs are immutable, so cached blocks only need invalidating when a name is
// rewritten or deleted. That is done by bumping a per-name generation that is
// part of every cache key.
type CachingStore struct {
	inner     BlobStore
	cache     *ristretto.Cache[string, []byte]
	blockSize int64

	mu   sync.Mutex
	gens map[string]uint64

	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats reports block cache effectiveness.
type CacheStats struct {
	Hits   int64
	Misses int64
}

// NewCachingStore wraps inner with a cache of up to maxBytes.
// blockSize defaults to DefaultCacheBlockSize if <= 0.
func NewCachingStore(inner BlobStore, maxBytes, blockSize int64) (*CachingStore, error) {
	if blockSize <= 0 {
		blockSize = DefaultCacheBlockSize
	}
	counters := max(maxBytes/blockSize*10, 1000)
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: block cache: %w", err)
	}
	return &CachingStore{
		inner:     inner,
		cache:     c,
		blockSize: blockSize,
		gens:      make(map[string]uint64),
	}, nil
}

// Stats returns cache hit and miss counts.
func (s *CachingStore) Stats() CacheStats {
	return CacheStats{Hits: s.hits.Load(), Misses: s.misses.Load()}
}

// Close releases the cache.
func (s *CachingStore) Close() error {
	s.cache.Close()
	return nil
}

func (s *CachingStore) generation(name string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[name]
}

func (s *CachingStore) invalidate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens[name]++
}

func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &cachingBlob{
		store:  s,
		inner:  b,
		prefix: fmt.Sprintf("%s@%d#", name, s.generation(name)),
	}, nil
}

func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	s.invalidate(name)
	return s.inner.Create(ctx, name)
}

func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.invalidate(name)
	return s.inner.Put(ctx, name, data)
}

func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.invalidate(name)
	return s.inner.Delete(ctx, name)
}

func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

type cachingBlob struct {
	store  *CachingStore
	inner  Blob
	prefix string
}

func (b *cachingBlob) key(blk int64) string {
	return fmt.Sprintf("%s%d", b.prefix, blk)
}

func (b *cachingBlob) Size() int64  { return b.inner.Size() }
func (b *cachingBlob) Close() error { return b.inner.Close() }

func (b *cachingBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	return newSectionReader(ctx, b, off, length), nil
}

func (b *cachingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	size := b.Size()
	if off >= size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	end := min(off+int64(len(p)), size)
	bs := b.store.blockSize
	first, last := off/bs, (end-1)/bs

	blocks, err := b.load(ctx, first, last)
	if err != nil {
		return 0, err
	}

	n := 0
	for i, data := range blocks {
		blkStart := (first + int64(i)) * bs
		from := max(off, blkStart) - blkStart
		to := min(end, blkStart+int64(len(data))) - blkStart
		if to > from {
			n += copy(p[n:], data[from:to])
		}
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// load returns blocks first..last, fetching contiguous runs of misses in parallel.
func (b *cachingBlob) load(ctx context.Context, first, last int64) ([][]byte, error) {
	blocks := make([][]byte, last-first+1)
	type run struct{ start, count int64 }
	var runs []run
	for blk := first; blk <= last; blk++ {
		if data, ok := b.store.cache.Get(b.key(blk)); ok {
			b.store.hits.Add(1)
			blocks[blk-first] = data
			continue
		}
		b.store.misses.Add(1)
		if n := len(runs); n > 0 && runs[n-1].start+runs[n-1].count == blk {
			runs[n-1].count++
		} else {
			runs = append(runs, run{start: blk, count: 1})
		}
	}
	if len(runs) == 0 {
		return blocks, nil
	}

	bs := b.store.blockSize
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, r := range runs {
		g.Go(func() error {
			start := r.start * bs
			length := min(r.count*bs, b.Size()-start)
			buf := make([]byte, length)
			n, err := b.inner.ReadAt(gctx, buf, start)
			if err != nil && !(errors.Is(err, io.EOF) && int64(n) == length) {
				return err
			}
			for i := int64(0); i < r.count; i++ {
				lo := i * bs
				hi := min(lo+bs, length)
				data := buf[lo:hi:hi]
				blocks[r.start-first+i] = data
				b.store.cache.Set(b.key(r.start+i), data, int64(len(data)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blocks, nil
}
