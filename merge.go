package segdb

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hupe1980/segdb/internal/manifest"
	"github.com/hupe1980/segdb/internal/merge"
	"github.com/hupe1980/segdb/internal/segment"
	"github.com/hupe1980/segdb/model"
)

// MergeStats summarizes a committed merge.
type MergeStats struct {
	// Output is the merged segment. It is zero when every row was purged.
	Output model.SegmentID
	Inputs []model.SegmentID
	// Rows counts the merged rows over all tables.
	Rows int
	// Superseded counts input rows shadowed by a newer version of their key.
	Superseded int
	// Purged counts deleted rows dropped from the output.
	Purged int
	// Restores counts input cursors that reopened a replaced segment version.
	Restores int
	Duration time.Duration
}

// Merge merges segments into one. Without ids every committed segment is
// merged. The selected segments must be adjacent in commit order so the
// output can take the place of the newest one. Deleted rows are purged when
// the oldest committed segment takes part, otherwise they are kept as
// tombstones shadowing older segments.
func (d *DB) Merge(ctx context.Context, ids ...model.SegmentID) (stats MergeStats, err error) {
	if err := d.check(); err != nil {
		return MergeStats{}, err
	}
	if err := d.rc.AcquireBackground(ctx); err != nil {
		return MergeStats{}, err
	}
	defer d.rc.ReleaseBackground()

	start := time.Now()
	snap := d.current.Load()
	refs, purge, err := selectRun(snap, ids)
	if err != nil {
		return MergeStats{}, err
	}
	if len(refs) == 0 {
		return MergeStats{}, nil
	}

	out, ordinal := model.SegmentID(0), refs[len(refs)-1].info.Ordinal
	for _, ref := range refs {
		stats.Inputs = append(stats.Inputs, ref.info.ID)
	}
	defer func() {
		stats.Duration = time.Since(start)
		d.metrics.RecordMerge(len(refs), stats.Rows, stats.Duration, err)
		d.logger.LogMerge(ctx, stats.Inputs, out, stats, err)
		if err == nil && stats.Restores > 0 {
			d.logger.LogRestore(ctx, out, stats.Restores)
		}
	}()

	out = d.reserve()
	path := segment.DirName(out, 1)

	sources := make([]*merge.Source, len(refs))
	for i, ref := range refs {
		sources[i] = merge.NewSource(ref.info.Ordinal, ref.seg, d.reopen(ref.info.ID))
	}
	mr := merge.New(sources, d.segmentDir(path), merge.Options{
		PurgeDeleted: purge,
		Column:       d.opts.columnOptions(),
		Codec:        d.opts.codec,
		Logger:       d.slogger(),
		WrapWriter:   d.rc.Wrapper(ctx),
		OnRestore:    d.metrics.RecordRestore,
	})
	if _, err = mr.Merge(ctx); err != nil {
		d.discard(ctx, path)
		return stats, err
	}
	ms := mr.Stats()
	stats.Rows, stats.Superseded, stats.Purged, stats.Restores = ms.Rows, ms.Superseded, ms.Purged, ms.Restores

	added := map[model.SegmentID]*segment.Segment{}
	var minfo manifest.SegmentInfo
	if stats.Rows > 0 {
		seg, info, err := d.openWritten(ctx, manifest.SegmentInfo{ID: out, Ordinal: ordinal, Version: 1, Path: path})
		if err != nil {
			d.discard(ctx, path)
			return stats, err
		}
		added[out], minfo = seg, info
	} else {
		d.discard(ctx, path)
		out = 0
	}

	obsolete, err := d.commit(ctx, added, func(m *manifest.Manifest) ([]string, error) {
		var dirs []string
		for _, id := range stats.Inputs {
			_, info, ok := m.Segment(id)
			if !ok {
				return nil, &ErrConflict{Op: "merge", Segment: id, cause: ErrSegmentNotFound}
			}
			dirs = append(dirs, info.Path)
		}
		m.Remove(stats.Inputs...)
		if out != 0 {
			m.Segments = append(m.Segments, minfo)
		}
		return dirs, nil
	})
	if err != nil {
		if out != 0 {
			d.discard(ctx, path)
		}
		return stats, err
	}
	stats.Output = out
	d.release(ctx, obsolete)
	return stats, nil
}

// selectRun resolves ids to an ordinal-adjacent run of segments and reports
// whether the run starts at the oldest segment.
func selectRun(snap *snapshot, ids []model.SegmentID) ([]*segmentRef, bool, error) {
	if len(ids) == 0 {
		return slices.Clone(snap.segments), true, nil
	}

	pos := make([]int, 0, len(ids))
	for _, id := range ids {
		i, ref := snap.find(id)
		if ref == nil {
			return nil, false, fmt.Errorf("%w: %s", ErrSegmentNotFound, id)
		}
		if !slices.Contains(pos, i) {
			pos = append(pos, i)
		}
	}
	slices.Sort(pos)
	if pos[len(pos)-1]-pos[0] != len(pos)-1 {
		return nil, false, fmt.Errorf("%w: segments are not adjacent in commit order", ErrInvalidArgument)
	}
	return slices.Clone(snap.segments[pos[0] : pos[len(pos)-1]+1]), pos[0] == 0, nil
}

// Rewrite re-encodes a segment with the current compression and block size
// into a new physical version of the same logical segment. Document numbers
// are preserved, so merges reading the old version can resume on the new one.
func (d *DB) Rewrite(ctx context.Context, id model.SegmentID) (info SegmentInfo, err error) {
	if err := d.check(); err != nil {
		return SegmentInfo{}, err
	}
	if err := d.rc.AcquireBackground(ctx); err != nil {
		return SegmentInfo{}, err
	}
	defer d.rc.ReleaseBackground()

	if _, busy := d.rewriting.LoadOrStore(id, struct{}{}); busy {
		return SegmentInfo{}, &ErrConflict{Op: "rewrite", Segment: id}
	}
	defer d.rewriting.Delete(id)

	_, ref := d.current.Load().find(id)
	if ref == nil {
		return SegmentInfo{}, fmt.Errorf("%w: %s", ErrSegmentNotFound, id)
	}

	start := time.Now()
	version := ref.info.Version + 1
	defer func() {
		d.metrics.RecordRewrite(time.Since(start), err)
		d.logger.LogRewrite(ctx, id, version, err)
	}()

	path := segment.DirName(id, version)
	mr := merge.New([]*merge.Source{merge.NewSource(ref.info.Ordinal, ref.seg, nil)}, d.segmentDir(path), merge.Options{
		Column:     d.opts.columnOptions(),
		Codec:      d.opts.codec,
		Logger:     d.slogger(),
		WrapWriter: d.rc.Wrapper(ctx),
	})
	if _, err := mr.Merge(ctx); err != nil {
		d.discard(ctx, path)
		return SegmentInfo{}, err
	}

	next := ref.info
	next.Version, next.Path = version, path
	seg, minfo, err := d.openWritten(ctx, next)
	if err != nil {
		d.discard(ctx, path)
		return SegmentInfo{}, err
	}
	if len(seg.Meta().Tables) != len(ref.seg.Meta().Tables) {
		d.discard(ctx, path)
		return SegmentInfo{}, fmt.Errorf("rewrite %s: table count changed", id)
	}
	for i, tm := range seg.Meta().Tables {
		if old := ref.seg.Meta().Tables[i]; old.Name != tm.Name || old.Rows != tm.Rows {
			d.discard(ctx, path)
			return SegmentInfo{}, fmt.Errorf("rewrite %s: table %s changed from %d to %d rows", id, tm.Name, old.Rows, tm.Rows)
		}
	}

	obsolete, err := d.commit(ctx, map[model.SegmentID]*segment.Segment{id: seg}, func(m *manifest.Manifest) ([]string, error) {
		i, cur, ok := m.Segment(id)
		if !ok {
			return nil, &ErrConflict{Op: "rewrite", Segment: id, cause: ErrSegmentNotFound}
		}
		if cur.Version != ref.info.Version {
			return nil, &ErrConflict{Op: "rewrite", Segment: id}
		}
		oldPath := cur.Path
		m.Segments[i] = minfo
		return []string{oldPath}, nil
	})
	if err != nil {
		d.discard(ctx, path)
		return SegmentInfo{}, err
	}
	d.release(ctx, obsolete)
	return newSegmentInfo(&segmentRef{info: minfo, seg: seg}), nil
}
