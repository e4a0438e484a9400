package segdb_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/hupe1980/segdb"
	"github.com/hupe1980/segdb/blobstore"
	"github.com/hupe1980/segdb/model"
	"github.com/hupe1980/segdb/query"
	"github.com/hupe1980/segdb/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testSchema(t *testing.T) *schema.Static {
	t.Helper()
	s, err := schema.NewStatic(
		schema.Table{Name: "User", Fields: []schema.Field{
			{Name: "Name", Type: schema.TypeText},
			{Name: "Age", Type: schema.TypeInteger},
			{Name: "Groups", Type: schema.TypeLink, Target: "Group", Inverse: "Members"},
		}},
		schema.Table{Name: "Group", Fields: []schema.Field{
			{Name: "Title", Type: schema.TypeText},
			{Name: "Members", Type: schema.TypeLink, Target: "User", Inverse: "Groups"},
		}},
	)
	require.NoError(t, err)
	return s
}

func openDB(t *testing.T, store blobstore.BlobStore, opts ...segdb.Option) *segdb.DB {
	t.Helper()
	db, err := segdb.Open(context.Background(), store, testSchema(t), opts...)
	require.NoError(t, err)
	return db
}

func user(key, name string, age int) model.Object {
	return model.Object{Table: "User", Key: model.Key(key), Fields: map[string][]string{
		"Name": {name},
		"Age":  {fmt.Sprint(age)},
	}}
}

func deleted(table, key string) model.Object {
	return model.Object{Table: table, Key: model.Key(key), Deleted: true}
}

func ingest(t *testing.T, db *segdb.DB, objs ...model.Object) segdb.SegmentInfo {
	t.Helper()
	info, err := db.Ingest(context.Background(), objs)
	require.NoError(t, err)
	return info
}

func collect(t *testing.T, s query.Set) []string {
	t.Helper()
	keys, err := query.Collect(context.Background(), s)
	require.NoError(t, err)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

func TestIngestAndRead(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, blobstore.NewMemoryStore())
	defer db.Close()

	info := ingest(t, db, user("u2", "bob", 25), user("u1", "Alice", 30))
	assert.Equal(t, model.SegmentID(1), info.ID)
	assert.Equal(t, uint32(1), info.Version)
	assert.Equal(t, "zstd", info.Compression)
	require.Len(t, info.Tables, 1)
	assert.Equal(t, segdb.TableInfo{Name: "User", Rows: 2}, info.Tables[0])

	assert.Equal(t, []string{"u1", "u2"}, collect(t, db.AllIDs("User")))
	assert.Equal(t, []string{"u1"}, collect(t, db.TermIDs("User", "Name", "ALICE")))
	assert.Empty(t, collect(t, db.TermIDs("User", "Name", "carol")))
	assert.Empty(t, collect(t, db.AllIDs("Group")))

	ages, err := db.Values(ctx, "User", "Age", model.Key("u1"))
	require.NoError(t, err)
	assert.Equal(t, []int64{30}, ages)

	names, err := db.Terms(ctx, "User", "Name", model.Key("u1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, names)

	_, err = db.Values(ctx, "User", "Age", model.Key("nobody"))
	assert.ErrorIs(t, err, segdb.ErrNotFound)
}

func TestReadErrors(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, blobstore.NewMemoryStore())
	defer db.Close()
	ingest(t, db, user("u1", "alice", 30))

	_, err := query.Collect(ctx, db.AllIDs("Nope"))
	assert.ErrorIs(t, err, schema.ErrUnknownTable)

	_, err = query.Collect(ctx, db.TermIDs("User", "Nope", "x"))
	assert.ErrorIs(t, err, schema.ErrUnknownField)

	_, err = query.Collect(ctx, db.TermIDs("User", "Age", "30"))
	assert.ErrorIs(t, err, segdb.ErrInvalidArgument)

	_, err = db.Values(ctx, "User", "Name", model.Key("u1"))
	assert.ErrorIs(t, err, segdb.ErrInvalidArgument)

	_, err = db.Terms(ctx, "Group", "Title", model.Key("u1"))
	assert.ErrorIs(t, err, segdb.ErrNotFound)

	_, err = db.Ingest(ctx, nil)
	assert.ErrorIs(t, err, segdb.ErrInvalidArgument)

	_, err = db.Ingest(ctx, []model.Object{{Table: "Nope", Key: model.Key("x")}})
	assert.ErrorIs(t, err, schema.ErrUnknownTable)
	assert.Len(t, db.Segments(), 1)
}

func TestNewestVersionWins(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, blobstore.NewMemoryStore())
	defer db.Close()

	ingest(t, db, user("u1", "alice", 30), user("u2", "bob", 25), user("u3", "carol", 41))
	ingest(t, db, user("u1", "bob", 31), deleted("User", "u2"))

	assert.Equal(t, []string{"u1", "u3"}, collect(t, db.AllIDs("User")))
	assert.Equal(t, []string{"u1"}, collect(t, db.TermIDs("User", "Name", "bob")))
	assert.Empty(t, collect(t, db.TermIDs("User", "Name", "alice")))

	ages, err := db.Values(ctx, "User", "Age", model.Key("u1"))
	require.NoError(t, err)
	assert.Equal(t, []int64{31}, ages)

	_, err = db.Values(ctx, "User", "Age", model.Key("u2"))
	assert.ErrorIs(t, err, segdb.ErrNotFound)

	ages, err = db.Values(ctx, "User", "Age", model.Key("u3"))
	require.NoError(t, err)
	assert.Equal(t, []int64{41}, ages)
}

func TestQueryAlgebraOverSegments(t *testing.T) {
	db := openDB(t, blobstore.NewMemoryStore())
	defer db.Close()

	ingest(t, db, user("u1", "alice", 30), user("u2", "bob", 25))
	ingest(t, db, user("u3", "alice", 41), user("u4", "dave", 19))

	alice := db.TermIDs("User", "Name", "alice")
	assert.Equal(t, []string{"u1", "u3"}, collect(t, alice))
	assert.Equal(t, []string{"u2", "u4"}, collect(t, query.Not(db.AllIDs("User"), alice)))
	assert.Equal(t, []string{"u1", "u2", "u3"},
		collect(t, query.Union(alice, db.TermIDs("User", "Name", "bob"))))
	assert.Equal(t, []string{"u3"},
		collect(t, query.Intersect(alice, query.Slice(model.Key("u3"), model.Key("u4")))))
}

func TestLinks(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, blobstore.NewMemoryStore())
	defer db.Close()

	links := func(table, field, key string) []string {
		t.Helper()
		keys, err := db.Links(ctx, table, field, model.Key(key))
		require.NoError(t, err)
		out := make([]string, len(keys))
		for i, k := range keys {
			out[i] = string(k)
		}
		return out
	}

	ingest(t, db,
		model.Object{Table: "User", Key: model.Key("u1"), Fields: map[string][]string{"Groups": {"g1"}}},
		model.Object{Table: "Group", Key: model.Key("g1"), Fields: map[string][]string{"Title": {"admins"}}},
	)
	assert.Equal(t, []string{"g1"}, links("User", "Groups", "u1"))
	assert.Equal(t, []string{"u1"}, links("Group", "Members", "g1"))

	// u2 only references g1, which makes g1 a stub in the second segment.
	ingest(t, db, model.Object{Table: "User", Key: model.Key("u2"), Fields: map[string][]string{"Groups": {"g1"}}})
	assert.Equal(t, []string{"u1", "u2"}, links("Group", "Members", "g1"))
	assert.Equal(t, []string{"g1"}, collect(t, db.AllIDs("Group")))

	titles, err := db.Terms(ctx, "Group", "Title", model.Key("g1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"admins"}, titles)

	ingest(t, db, deleted("User", "u1"))
	assert.Equal(t, []string{"u2"}, links("Group", "Members", "g1"))

	_, err = db.Links(ctx, "User", "Groups", model.Key("u1"))
	assert.ErrorIs(t, err, segdb.ErrNotFound)

	_, err = db.Links(ctx, "User", "Name", model.Key("u2"))
	assert.ErrorIs(t, err, segdb.ErrInvalidArgument)

	_, err = db.Merge(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, links("Group", "Members", "g1"))
	assert.Equal(t, []string{"g1"}, links("User", "Groups", "u2"))
}

func TestStubOnlyLinkTarget(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, blobstore.NewMemoryStore())
	defer db.Close()

	links := func(table, field, key string) []string {
		t.Helper()
		keys, err := db.Links(ctx, table, field, model.Key(key))
		require.NoError(t, err)
		out := make([]string, len(keys))
		for i, k := range keys {
			out[i] = string(k)
		}
		return out
	}

	// g9 exists only because u1 links to it.
	ingest(t, db, model.Object{Table: "User", Key: model.Key("u1"), Fields: map[string][]string{"Groups": {"g9"}}})
	assert.Equal(t, []string{"g9"}, collect(t, db.AllIDs("Group")))
	assert.Equal(t, []string{"g9"}, links("User", "Groups", "u1"))
	assert.Equal(t, []string{"u1"}, links("Group", "Members", "g9"))
	assert.Empty(t, collect(t, db.TermIDs("Group", "Title", "admins")))

	titles, err := db.Terms(ctx, "Group", "Title", model.Key("g9"))
	require.NoError(t, err)
	assert.Empty(t, titles)

	// A stub of g8 in a newer segment does not hide the older full version.
	ingest(t, db, model.Object{Table: "Group", Key: model.Key("g8"), Fields: map[string][]string{"Title": {"ops"}}})
	ingest(t, db, model.Object{Table: "User", Key: model.Key("u2"), Fields: map[string][]string{"Groups": {"g8"}}})
	assert.Equal(t, []string{"g8", "g9"}, collect(t, db.AllIDs("Group")))
	assert.Equal(t, []string{"g8"}, collect(t, db.TermIDs("Group", "Title", "ops")))
	assert.Equal(t, []string{"u2"}, links("Group", "Members", "g8"))

	titles, err = db.Terms(ctx, "Group", "Title", model.Key("g8"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ops"}, titles)

	ingest(t, db, deleted("Group", "g9"))
	assert.Equal(t, []string{"g8"}, collect(t, db.AllIDs("Group")))
	assert.Empty(t, links("User", "Groups", "u1"))
	_, err = db.Links(ctx, "Group", "Members", model.Key("g9"))
	assert.ErrorIs(t, err, segdb.ErrNotFound)

	_, err = db.Merge(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"g8"}, collect(t, db.AllIDs("Group")))
	assert.Equal(t, []string{"u2"}, links("Group", "Members", "g8"))
}

// gatedStore holds writes below prefix until open is closed.
type gatedStore struct {
	blobstore.BlobStore
	prefix  string
	once    sync.Once
	entered chan struct{}
	open    chan struct{}
}

func (s *gatedStore) wait(ctx context.Context, name string) error {
	if !strings.HasPrefix(name, s.prefix) {
		return nil
	}
	s.once.Do(func() { close(s.entered) })
	select {
	case <-s.open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *gatedStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	if err := s.wait(ctx, name); err != nil {
		return nil, err
	}
	return s.BlobStore.Create(ctx, name)
}

func (s *gatedStore) Put(ctx context.Context, name string, data []byte) error {
	if err := s.wait(ctx, name); err != nil {
		return err
	}
	return s.BlobStore.Put(ctx, name, data)
}

func TestMergeDuringSlowIngest(t *testing.T) {
	ctx := context.Background()
	store := &gatedStore{
		BlobStore: blobstore.NewMemoryStore(),
		prefix:    model.SegmentID(2).String() + "/",
		entered:   make(chan struct{}),
		open:      make(chan struct{}),
	}
	db := openDB(t, store)
	defer db.Close()

	ingest(t, db, user("u1", "alice", 30))

	// The second ingest starts first but commits last.
	slow := make(chan error, 1)
	go func() {
		_, err := db.Ingest(ctx, []model.Object{user("u1", "bob", 31)})
		slow <- err
	}()
	<-store.entered

	ingest(t, db, user("u2", "carol", 41))
	stats, err := db.Merge(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.SegmentID{1, 3}, stats.Inputs)

	close(store.open)
	require.NoError(t, <-slow)

	segs := db.Segments()
	require.Len(t, segs, 2)
	assert.Equal(t, stats.Output, segs[0].ID)
	assert.Equal(t, model.SegmentID(2), segs[1].ID)
	assert.Less(t, segs[0].Ordinal, segs[1].Ordinal)

	ages, err := db.Values(ctx, "User", "Age", model.Key("u1"))
	require.NoError(t, err)
	assert.Equal(t, []int64{31}, ages)
	assert.Equal(t, []string{"u1"}, collect(t, db.TermIDs("User", "Name", "bob")))
	assert.Empty(t, collect(t, db.TermIDs("User", "Name", "alice")))

	_, err = db.Merge(ctx)
	require.NoError(t, err)
	ages, err = db.Values(ctx, "User", "Age", model.Key("u1"))
	require.NoError(t, err)
	assert.Equal(t, []int64{31}, ages)
}

func TestMergeAll(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	db := openDB(t, store)
	defer db.Close()

	s1 := ingest(t, db, user("u1", "alice", 30), user("u2", "bob", 25), user("u3", "carol", 41))
	s2 := ingest(t, db, user("u1", "bob", 31), deleted("User", "u2"))

	stats, err := db.Merge(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.SegmentID{s1.ID, s2.ID}, stats.Inputs)
	assert.Equal(t, 2, stats.Rows)
	assert.Equal(t, 1, stats.Superseded)
	assert.Equal(t, 1, stats.Purged)
	assert.NotZero(t, stats.Output)

	segs := db.Segments()
	require.Len(t, segs, 1)
	assert.Equal(t, stats.Output, segs[0].ID)
	assert.Equal(t, s2.Ordinal, segs[0].Ordinal)
	assert.Equal(t, segdb.TableInfo{Name: "User", Rows: 2}, segs[0].Tables[0])

	assert.Equal(t, []string{"u1", "u3"}, collect(t, db.AllIDs("User")))
	assert.Equal(t, []string{"u1"}, collect(t, db.TermIDs("User", "Name", "bob")))

	for _, info := range []segdb.SegmentInfo{s1, s2} {
		names, err := store.List(ctx, info.Path)
		require.NoError(t, err)
		assert.Empty(t, names, "segment %s not released", info.ID)
	}

	// Nothing left to merge except the output itself.
	again, err := db.Merge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Rows)
	assert.Zero(t, again.Superseded)
}

func TestMergeRun(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, blobstore.NewMemoryStore())
	defer db.Close()

	s1 := ingest(t, db, user("u1", "alice", 30))
	s2 := ingest(t, db, user("u2", "bob", 25))
	s3 := ingest(t, db, deleted("User", "u1"))

	_, err := db.Merge(ctx, s1.ID, s3.ID)
	assert.ErrorIs(t, err, segdb.ErrInvalidArgument)

	_, err = db.Merge(ctx, s2.ID, 99)
	assert.ErrorIs(t, err, segdb.ErrSegmentNotFound)

	stats, err := db.Merge(ctx, s3.ID, s2.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.SegmentID{s2.ID, s3.ID}, stats.Inputs)
	assert.Zero(t, stats.Purged)

	// The tombstone survives because the oldest segment was not part of the run.
	segs := db.Segments()
	require.Len(t, segs, 2)
	assert.Equal(t, s1.ID, segs[0].ID)
	assert.Equal(t, s3.Ordinal, segs[1].Ordinal)
	assert.Equal(t, segdb.TableInfo{Name: "User", Rows: 2, Deleted: 1}, segs[1].Tables[0])
	assert.Equal(t, []string{"u2"}, collect(t, db.AllIDs("User")))

	stats, err = db.Merge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Purged)
	segs = db.Segments()
	require.Len(t, segs, 1)
	assert.Equal(t, segdb.TableInfo{Name: "User", Rows: 1}, segs[0].Tables[0])
	assert.Equal(t, []string{"u2"}, collect(t, db.AllIDs("User")))
}

func TestMergeEverythingPurged(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, blobstore.NewMemoryStore())
	defer db.Close()

	ingest(t, db, user("u1", "alice", 30))
	ingest(t, db, deleted("User", "u1"))

	stats, err := db.Merge(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Output)
	assert.Equal(t, 1, stats.Purged)
	assert.Empty(t, db.Segments())
	assert.Empty(t, collect(t, db.AllIDs("User")))

	stats, err = db.Merge(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats.Inputs)
}

func TestRewrite(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	db := openDB(t, store, segdb.WithCompression(segdb.CompressionLZ4))
	old := ingest(t, db, user("u1", "alice", 30), user("u2", "bob", 25))
	assert.Equal(t, "lz4", old.Compression)
	require.NoError(t, db.Close())

	db = openDB(t, store, segdb.WithCompression(segdb.CompressionZSTD))
	info, err := db.Rewrite(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, old.ID, info.ID)
	assert.Equal(t, old.Ordinal, info.Ordinal)
	assert.Equal(t, uint32(2), info.Version)
	assert.Equal(t, "zstd", info.Compression)
	assert.Equal(t, old.Tables, info.Tables)
	assert.Equal(t, []string{"u1", "u2"}, collect(t, db.AllIDs("User")))

	names, err := store.List(ctx, old.Path)
	require.NoError(t, err)
	assert.Empty(t, names)
	names, err = store.List(ctx, info.Path)
	require.NoError(t, err)
	assert.NotEmpty(t, names)

	ages, err := db.Values(ctx, "User", "Age", model.Key("u1"))
	require.NoError(t, err)
	assert.Equal(t, []int64{30}, ages)

	_, err = db.Rewrite(ctx, 42)
	assert.ErrorIs(t, err, segdb.ErrSegmentNotFound)
	require.NoError(t, db.Close())

	db = openDB(t, store)
	defer db.Close()
	segs := db.Segments()
	require.Len(t, segs, 1)
	assert.Equal(t, uint32(2), segs[0].Version)
	assert.Equal(t, "zstd", segs[0].Compression)

	ages, err = db.Values(ctx, "User", "Age", model.Key("u2"))
	require.NoError(t, err)
	assert.Equal(t, []int64{25}, ages)
}

func TestReopen(t *testing.T) {
	store := blobstore.NewMemoryStore()

	db := openDB(t, store)
	s1 := ingest(t, db, user("u1", "alice", 30))
	ingest(t, db, user("u2", "bob", 25))
	version := db.ManifestVersion()
	require.NoError(t, db.Close())

	db = openDB(t, store)
	defer db.Close()
	assert.Equal(t, version, db.ManifestVersion())
	assert.Equal(t, []string{"u1", "u2"}, collect(t, db.AllIDs("User")))

	s3 := ingest(t, db, user("u3", "carol", 41))
	assert.Greater(t, uint64(s3.ID), uint64(s1.ID)+1)
	assert.Greater(t, db.ManifestVersion(), version)
	assert.Len(t, db.Segments(), 3)
}

func TestClosed(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, blobstore.NewMemoryStore())
	require.NoError(t, db.Close())
	assert.ErrorIs(t, db.Close(), segdb.ErrClosed)

	_, err := db.Ingest(ctx, []model.Object{user("u1", "alice", 30)})
	assert.ErrorIs(t, err, segdb.ErrClosed)
	_, err = db.Merge(ctx)
	assert.ErrorIs(t, err, segdb.ErrClosed)
	_, err = db.Rewrite(ctx, 1)
	assert.ErrorIs(t, err, segdb.ErrClosed)
	_, err = query.Collect(ctx, db.AllIDs("User"))
	assert.ErrorIs(t, err, segdb.ErrClosed)
	_, err = db.Values(ctx, "User", "Age", model.Key("u1"))
	assert.ErrorIs(t, err, segdb.ErrClosed)
}

func TestOpenValidation(t *testing.T) {
	_, err := segdb.Open(context.Background(), nil, testSchema(t))
	assert.ErrorIs(t, err, segdb.ErrInvalidArgument)
}

func TestBackpressure(t *testing.T) {
	db := openDB(t, blobstore.NewMemoryStore(), segdb.WithResourceConfig(segdb.ResourceConfig{MemoryLimitBytes: 16}))
	defer db.Close()

	_, err := db.Ingest(context.Background(), []model.Object{user("u1", "alice", 30)})
	assert.ErrorIs(t, err, segdb.ErrBackpressure)
	assert.Empty(t, db.Segments())
}

func TestConcurrentIngest(t *testing.T) {
	db := openDB(t, blobstore.NewMemoryStore(), segdb.WithResourceConfig(segdb.ResourceConfig{MaxBackgroundWorkers: 2}))
	defer db.Close()

	var g errgroup.Group
	for w := range 8 {
		g.Go(func() error {
			objs := make([]model.Object, 10)
			for i := range objs {
				objs[i] = user(fmt.Sprintf("w%d-u%02d", w, i), "user", i)
			}
			_, err := db.Ingest(context.Background(), objs)
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, db.Segments(), 8)

	n, err := query.Count(context.Background(), db.AllIDs("User"))
	require.NoError(t, err)
	assert.Equal(t, 80, n)

	_, err = db.Merge(context.Background())
	require.NoError(t, err)
	n, err = query.Count(context.Background(), db.TermIDs("User", "Name", "USER"))
	require.NoError(t, err)
	assert.Equal(t, 80, n)
}

func TestMetricsAndCache(t *testing.T) {
	metrics := &segdb.BasicMetricsCollector{}
	db := openDB(t, blobstore.NewMemoryStore(),
		segdb.WithMetricsCollector(metrics),
		segdb.WithBlockCache(1<<20, 1024),
		segdb.WithLogger(segdb.NoopLogger()),
	)
	defer db.Close()

	ingest(t, db, user("u1", "alice", 30))
	ingest(t, db, user("u2", "bob", 25))
	assert.Equal(t, []string{"u1", "u2"}, collect(t, db.AllIDs("User")))
	_, err := db.Merge(context.Background())
	require.NoError(t, err)

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.BuildCount)
	assert.Equal(t, int64(2), stats.BuildObjects)
	assert.Equal(t, int64(1), stats.QueryCount)
	assert.Equal(t, int64(2), stats.QueryKeys)
	assert.Equal(t, int64(1), stats.MergeCount)
	assert.Equal(t, int64(2), stats.MergeInputs)
	assert.Equal(t, int64(2), stats.MergeRows)
	assert.Zero(t, stats.MergeErrors)

	cs := db.CacheStats()
	assert.Positive(t, cs.Hits+cs.Misses)
}
