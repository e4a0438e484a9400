package segdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/segdb/blobstore"
	"github.com/hupe1980/segdb/internal/conv"
	"github.com/hupe1980/segdb/internal/manifest"
	"github.com/hupe1980/segdb/internal/resource"
	"github.com/hupe1980/segdb/internal/segment"
	"github.com/hupe1980/segdb/model"
	"github.com/hupe1980/segdb/schema"
)

// DB is a handle on a segment store. It owns the manifest, hands out segment
// numbers and runs ingest, merge, rewrite and query operations.
//
// A DB is safe for concurrent use. Ingests run concurrently; merges and
// rewrites share the background slots of the resource controller. Commits
// are serialized.
type DB struct {
	store     blobstore.BlobStore
	cache     *blobstore.CachingStore
	schema    schema.Schema
	opts      options
	logger    *Logger
	metrics   MetricsCollector
	rc        *resource.Controller
	manifests *manifest.Store

	nextSegment atomic.Uint64
	nextOrdinal atomic.Uint64

	mu        sync.Mutex
	current   atomic.Pointer[snapshot]
	rewriting sync.Map
	closed    atomic.Bool
}

// snapshot is an immutable view of the committed segments, oldest first.
type snapshot struct {
	manifest *manifest.Manifest
	segments []*segmentRef
}

type segmentRef struct {
	info manifest.SegmentInfo
	seg  *segment.Segment
}

func (s *snapshot) find(id model.SegmentID) (int, *segmentRef) {
	for i, ref := range s.segments {
		if ref.info.ID == id {
			return i, ref
		}
	}
	return -1, nil
}

// Open opens the database stored in store, creating an empty one if no
// manifest exists yet. s resolves tables and fields for ingestion.
func Open(ctx context.Context, store blobstore.BlobStore, s schema.Schema, optFns ...Option) (*DB, error) {
	if store == nil || s == nil {
		return nil, fmt.Errorf("%w: store and schema are required", ErrInvalidArgument)
	}
	o := applyOptions(optFns)

	d := &DB{
		store:     store,
		schema:    s,
		opts:      o,
		logger:    o.logger,
		metrics:   o.metricsCollector,
		rc:        resource.NewController(o.resources),
		manifests: manifest.NewStore(store),
	}

	if o.cacheBytes > 0 {
		cs, err := blobstore.NewCachingStore(store, o.cacheBytes, o.cacheBlockSize)
		if err != nil {
			return nil, err
		}
		d.cache = cs
		d.store = cs
	}

	m, err := d.manifests.Load(ctx)
	if errors.Is(err, manifest.ErrNotFound) {
		m, err = manifest.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	snap := &snapshot{manifest: m}
	for _, info := range m.ByOrdinal() {
		seg, err := segment.Open(ctx, d.segmentDir(info.Path))
		if err != nil {
			return nil, fmt.Errorf("open segment %s: %w", info.ID, err)
		}
		snap.segments = append(snap.segments, &segmentRef{info: info, seg: seg})
	}
	d.current.Store(snap)
	d.nextSegment.Store(uint64(m.NextSegmentID))
	d.nextOrdinal.Store(m.NextOrdinal)

	d.logger.InfoContext(ctx, "database opened",
		"manifest", m.ID,
		"segments", len(m.Segments),
	)
	return d, nil
}

// Close releases resources held by the database. Running operations are not
// interrupted, but no new ones are accepted.
func (d *DB) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if d.cache != nil {
		return d.cache.Close()
	}
	return nil
}

func (d *DB) check() error {
	if d.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Schema returns the schema the database was opened with.
func (d *DB) Schema() schema.Schema { return d.schema }

// CacheStats returns the block cache statistics, zero if no cache is configured.
func (d *DB) CacheStats() blobstore.CacheStats {
	if d.cache == nil {
		return blobstore.CacheStats{}
	}
	return d.cache.Stats()
}

func (d *DB) segmentDir(path string) blobstore.BlobStore {
	return blobstore.Prefixed(d.store, path)
}

// reserve hands out a new segment id. Ordinals are assigned by commit.
func (d *DB) reserve() model.SegmentID {
	return model.SegmentID(d.nextSegment.Add(1) - 1)
}

// describe summarizes a freshly written segment for the manifest.
func (d *DB) describe(ctx context.Context, info manifest.SegmentInfo, seg *segment.Segment) (manifest.SegmentInfo, error) {
	meta := seg.Meta()
	info.Compression = meta.Compression
	info.Tables = info.Tables[:0]
	for ti, tm := range meta.Tables {
		rows, err := conv.IntToUint32(tm.Rows)
		if err != nil {
			return info, fmt.Errorf("table %s: %w", tm.Name, err)
		}
		deleted, err := conv.IntToUint32(tm.Deleted)
		if err != nil {
			return info, fmt.Errorf("table %s: %w", tm.Name, err)
		}
		keys, err := d.keyFilter(ctx, seg, ti, tm.Rows)
		if err != nil {
			return info, err
		}
		info.Tables = append(info.Tables, manifest.TableInfo{
			Name:    tm.Name,
			Rows:    rows,
			Deleted: deleted,
			Keys:    keys,
		})
	}
	return info, nil
}

func (d *DB) keyFilter(ctx context.Context, seg *segment.Segment, t, rows int) (*manifest.BloomFilter, error) {
	ids, err := seg.IDs(ctx, t)
	if err != nil {
		return nil, err
	}
	defer ids.Close()

	bf := manifest.NewBloomFilterForSize(rows)
	c := ids.Cursor()
	for c.Next(ctx) {
		bf.Add(c.Key())
	}
	return bf, c.Err()
}

// commit applies mutate to a copy of the current manifest, persists it and
// publishes the new snapshot. added holds the opened segments that mutate
// introduces. It returns the directories that are no longer referenced.
func (d *DB) commit(ctx context.Context, added map[model.SegmentID]*segment.Segment, mutate func(m *manifest.Manifest) ([]string, error)) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.current.Load()
	m := cur.manifest.Clone()
	obsolete, err := mutate(m)
	if err != nil {
		return nil, err
	}
	m.NextSegmentID = max(m.NextSegmentID, model.SegmentID(d.nextSegment.Load()))
	m.NextOrdinal = max(m.NextOrdinal, d.nextOrdinal.Load())

	snap := &snapshot{manifest: m}
	for _, info := range m.ByOrdinal() {
		ref := &segmentRef{info: info}
		if seg, ok := added[info.ID]; ok {
			ref.seg = seg
		} else if _, old := cur.find(info.ID); old != nil && old.info.Version == info.Version {
			ref.seg = old.seg
		} else {
			return nil, fmt.Errorf("commit: segment %s has no open version", info.ID)
		}
		snap.segments = append(snap.segments, ref)
	}

	if err := d.manifests.Save(ctx, m); err != nil {
		return nil, fmt.Errorf("save manifest: %w", err)
	}
	d.current.Store(snap)

	if m.ID > keepManifests {
		if err := d.manifests.DeleteVersion(ctx, m.ID-keepManifests); err != nil {
			d.logger.WarnContext(ctx, "failed to delete old manifest", "manifest", m.ID-keepManifests, "error", err)
		}
	}
	return obsolete, nil
}

// release deletes segment directories that left the manifest.
func (d *DB) release(ctx context.Context, dirs []string) {
	for _, dir := range dirs {
		if err := blobstore.DeletePrefix(ctx, d.store, dir); err != nil {
			d.logger.WarnContext(ctx, "failed to delete segment directory", "dir", dir, "error", err)
		}
	}
}

// discard removes a directory written by a failed operation.
func (d *DB) discard(ctx context.Context, dir string) {
	if err := blobstore.DeletePrefix(context.WithoutCancel(ctx), d.store, dir); err != nil {
		d.logger.WarnContext(ctx, "failed to discard segment directory", "dir", dir, "error", err)
	}
}

// reopen returns the committed version of a logical segment.
func (d *DB) reopen(id model.SegmentID) func(context.Context) (*segment.Segment, error) {
	return func(context.Context) (*segment.Segment, error) {
		_, ref := d.current.Load().find(id)
		if ref == nil {
			return nil, fmt.Errorf("%w: %s", ErrSegmentNotFound, id)
		}
		return ref.seg, nil
	}
}

func (d *DB) slogger() *slog.Logger { return d.logger.Logger }

// SegmentInfo describes one committed logical segment.
type SegmentInfo struct {
	ID model.SegmentID
	// Ordinal is the commit order; newer segments shadow older ones.
	Ordinal     uint64
	Version     uint32
	Path        string
	Compression string
	Tables      []TableInfo
}

// TableInfo summarizes one table of a segment. Rows counts every document,
// including tombstones and link-only stubs.
type TableInfo struct {
	Name    string
	Rows    int
	Deleted int
	Stubs   int
}

func newSegmentInfo(ref *segmentRef) SegmentInfo {
	out := SegmentInfo{
		ID:          ref.info.ID,
		Ordinal:     ref.info.Ordinal,
		Version:     ref.info.Version,
		Path:        ref.info.Path,
		Compression: ref.info.Compression,
	}
	for _, tm := range ref.seg.Meta().Tables {
		out.Tables = append(out.Tables, TableInfo{
			Name:    tm.Name,
			Rows:    tm.Rows,
			Deleted: tm.Deleted,
			Stubs:   tm.Stubs,
		})
	}
	return out
}

// Segments returns the committed segments, oldest first.
func (d *DB) Segments() []SegmentInfo {
	snap := d.current.Load()
	out := make([]SegmentInfo, len(snap.segments))
	for i, ref := range snap.segments {
		out[i] = newSegmentInfo(ref)
	}
	return out
}

// ManifestVersion returns the id of the committed manifest.
func (d *DB) ManifestVersion() uint64 {
	return d.current.Load().manifest.ID
}
