package segdb

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/segdb/internal/manifest"
	"github.com/hupe1980/segdb/internal/segment"
	"github.com/hupe1980/segdb/model"
)

// Ingest builds the objects into a new segment and commits it. Objects
// without a key get a generated one. Within the batch the last write of a
// key wins; across segments the newest segment wins.
func (d *DB) Ingest(ctx context.Context, objects []model.Object) (info SegmentInfo, err error) {
	if err := d.check(); err != nil {
		return SegmentInfo{}, err
	}
	if len(objects) == 0 {
		return SegmentInfo{}, fmt.Errorf("%w: empty batch", ErrInvalidArgument)
	}

	size := batchSize(objects)
	if !d.rc.TryAcquireMemory(size) {
		return SegmentInfo{}, fmt.Errorf("%w: batch of %d bytes, %d of %d in use",
			ErrBackpressure, size, d.rc.MemoryUsage(), d.rc.MemoryLimit())
	}
	defer d.rc.ReleaseMemory(size)

	start := time.Now()
	id := d.reserve()
	defer func() {
		d.metrics.RecordBuild(len(objects), time.Since(start), err)
		d.logger.LogBuild(ctx, id, len(objects), time.Since(start), err)
	}()

	b := segment.NewBuilder(d.schema, segment.Options{
		Analyzers: d.opts.analyzers,
		KeyGen:    d.opts.keyGen,
		Column:    d.opts.columnOptions(),
		Codec:     d.opts.codec,
		Logger:    d.slogger(),
	})
	for i := range objects {
		if err := b.Add(objects[i]); err != nil {
			return SegmentInfo{}, fmt.Errorf("object %d: %w", i, err)
		}
	}

	path := segment.DirName(id, 1)
	dir := d.segmentDir(path)
	if _, err := b.Flush(ctx, dir); err != nil {
		d.discard(ctx, path)
		return SegmentInfo{}, err
	}

	seg, minfo, err := d.openWritten(ctx, manifest.SegmentInfo{ID: id, Version: 1, Path: path})
	if err != nil {
		d.discard(ctx, path)
		return SegmentInfo{}, err
	}

	_, err = d.commit(ctx, map[model.SegmentID]*segment.Segment{id: seg}, func(m *manifest.Manifest) ([]string, error) {
		// The ordinal is taken at commit so a merge never sees a committed
		// segment older than one still being built.
		minfo.Ordinal = d.nextOrdinal.Add(1) - 1
		m.Segments = append(m.Segments, minfo)
		return nil, nil
	})
	if err != nil {
		d.discard(ctx, path)
		return SegmentInfo{}, err
	}

	return newSegmentInfo(&segmentRef{info: minfo, seg: seg}), nil
}

// openWritten opens a segment written by this process and describes it.
func (d *DB) openWritten(ctx context.Context, info manifest.SegmentInfo) (*segment.Segment, manifest.SegmentInfo, error) {
	seg, err := segment.Open(ctx, d.segmentDir(info.Path))
	if err != nil {
		return nil, info, err
	}
	info, err = d.describe(ctx, info, seg)
	if err != nil {
		return nil, info, err
	}
	return seg, info, nil
}

// batchSize estimates the builder memory held by a batch.
func batchSize(objects []model.Object) int64 {
	var n int64
	for i := range objects {
		o := &objects[i]
		n += int64(len(o.Table) + len(o.Key) + 64)
		for name, vals := range o.Fields {
			n += int64(len(name))
			for _, v := range vals {
				n += int64(len(v) + 16)
			}
		}
	}
	return n
}
