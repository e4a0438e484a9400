package segment

import (
	"context"
	"fmt"
	"testing"

	"github.com/hupe1980/segdb/analysis"
	"github.com/hupe1980/segdb/blobstore"
	"github.com/hupe1980/segdb/internal/column"
	"github.com/hupe1980/segdb/model"
	"github.com/hupe1980/segdb/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema(t *testing.T) *schema.Static {
	t.Helper()
	s, err := schema.NewStatic(
		schema.Table{Name: "T", Fields: []schema.Field{
			{Name: "Name", Type: schema.TypeText},
			{Name: "Age", Type: schema.TypeInteger},
			{Name: "Blob", Type: schema.TypeBinary},
			{Name: "Nick", Type: schema.TypeText, Analyzer: "shout"},
		}},
		schema.Table{Name: "User", Fields: []schema.Field{
			{Name: "Name", Type: schema.TypeText},
			{Name: "Groups", Type: schema.TypeLink, Target: "Group", Inverse: "Members"},
			{Name: "Friends", Type: schema.TypeLink, Target: "User", Inverse: "Friends"},
		}},
		schema.Table{Name: "Group", Fields: []schema.Field{
			{Name: "Title", Type: schema.TypeText},
			{Name: "Members", Type: schema.TypeLink, Target: "User", Inverse: "Groups"},
		}},
	)
	require.NoError(t, err)
	return s
}

func flush(t *testing.T, b *Builder) *Segment {
	t.Helper()
	ctx := context.Background()
	dir := blobstore.Prefixed(blobstore.NewMemoryStore(), DirName(1, 1))
	_, err := b.Flush(ctx, dir)
	require.NoError(t, err)
	seg, err := Open(ctx, dir)
	require.NoError(t, err)
	return seg
}

func keys(t *testing.T, seg *Segment, table string) (all []string, states []column.DocState) {
	t.Helper()
	ti, _, ok := seg.Meta().Table(table)
	require.True(t, ok)
	ids, err := seg.IDs(context.Background(), ti)
	require.NoError(t, err)
	defer ids.Close()
	c := ids.Cursor()
	for c.Next(context.Background()) {
		all = append(all, string(c.Key()))
		states = append(states, c.State())
	}
	require.NoError(t, c.Err())
	return all, states
}

func TestBuilderGeneratedKeysAndDictionary(t *testing.T) {
	ctx := context.Background()
	var generated []string
	b := NewBuilder(testSchema(t), Options{KeyGen: func() model.Key {
		k := NewKey()
		generated = append(generated, string(k))
		return k
	}})

	require.NoError(t, b.Add(model.Object{Table: "T", Fields: map[string][]string{"Name": {"bob"}}}))
	require.NoError(t, b.Add(model.Object{Table: "T", Fields: map[string][]string{"Name": {"alice"}}}))
	seg := flush(t, b)

	got, _ := keys(t, seg, "T")
	require.Len(t, got, 2)
	assert.Less(t, got[0], got[1])
	assert.ElementsMatch(t, generated, got)

	ti, tm, _ := seg.Meta().Table("T")
	fi, fm, ok := tm.Field("Name")
	require.True(t, ok)
	assert.Equal(t, 2, fm.Distinct)
	assert.Equal(t, 2, fm.Docs)
	assert.Equal(t, analysis.DefaultName, fm.Analyzer)

	d, err := seg.Dict(ctx, ti, fi)
	require.NoError(t, err)
	defer d.Close()
	require.Equal(t, 2, d.TermCount())
	_, v0, err := d.Term(ctx, 0)
	require.NoError(t, err)
	_, v1, err := d.Term(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", string(v0))
	assert.Equal(t, "bob", string(v1))

	// The first generated key belongs to bob, which is term 1.
	ids, err := seg.IDs(ctx, ti)
	require.NoError(t, err)
	defer ids.Close()
	doc, ok, err := ids.Find(ctx, model.Key(generated[0]))
	require.NoError(t, err)
	require.True(t, ok)
	postings, err := d.Postings(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, postings)
}

func TestBuilderLastWriteWins(t *testing.T) {
	ctx := context.Background()
	b := NewBuilder(testSchema(t), Options{})

	add := func(key string, deleted bool, fields map[string][]string) {
		require.NoError(t, b.Add(model.Object{Table: "T", Key: model.Key(key), Deleted: deleted, Fields: fields}))
	}
	add("c", false, map[string][]string{"Age": {"1"}, "Name": {"x"}})
	add("a", false, map[string][]string{"Age": {"2"}})
	add("b", true, nil)
	add("c", false, map[string][]string{"Age": {"3", "4"}})
	add("a", true, nil)

	seg := flush(t, b)
	got, states := keys(t, seg, "T")
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, []column.DocState{column.Deleted, column.Deleted, column.Live}, states)

	var live []string
	for i, k := range got {
		if states[i] == column.Live {
			live = append(live, k)
		}
	}
	assert.Equal(t, []string{"c"}, live)

	ti, tm, _ := seg.Meta().Table("T")
	assert.Equal(t, 3, tm.Rows)
	assert.Equal(t, 2, tm.Deleted)
	assert.Equal(t, 1, tm.Live())

	fi, fm, ok := tm.Field("Age")
	require.True(t, ok)
	assert.Equal(t, 2, fm.Docs)
	assert.Equal(t, 3, fm.Distinct)
	assert.Equal(t, int64(2), fm.Min)
	assert.Equal(t, int64(4), fm.Max)

	num, err := seg.Numeric(ctx, ti, fi)
	require.NoError(t, err)
	defer num.Close()
	vals, err := num.Values(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, vals)

	// Name was not repeated on the second add of c and keeps its value.
	ni, _, _ := tm.Field("Name")
	d, err := seg.Dict(ctx, ti, ni)
	require.NoError(t, err)
	defer d.Close()
	postings, err := d.Postings(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0}, postings)
}

func TestBuilderTermKeys(t *testing.T) {
	ctx := context.Background()
	reg := analysis.DefaultRegistry()
	require.NoError(t, reg.Register(analysis.Func{ID: "shout", Fn: func(v []byte) []byte {
		return append([]byte(nil), v...)
	}}))
	b := NewBuilder(testSchema(t), Options{Analyzers: reg})

	require.NoError(t, b.Add(model.Object{Table: "T", Key: model.Key("1"), Fields: map[string][]string{
		"Name": {"Alice", "alice", "Alice"},
		"Blob": {"AB"},
		"Nick": {"Al"},
	}}))
	require.NoError(t, b.Add(model.Object{Table: "T", Key: model.Key("2"), Fields: map[string][]string{
		"Name": {"ALICE", "Bob"},
		"Blob": {"ab"},
	}}))
	seg := flush(t, b)
	ti, tm, _ := seg.Meta().Table("T")

	fi, fm, _ := tm.Field("Name")
	assert.Equal(t, 4, fm.Distinct)
	d, err := seg.Dict(ctx, ti, fi)
	require.NoError(t, err)
	defer d.Close()

	lo, hi, err := d.Lookup(ctx, []byte("alice"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), lo)
	assert.Equal(t, uint32(3), hi)
	var values []string
	for n := lo; n < hi; n++ {
		k, v, err := d.Term(ctx, n)
		require.NoError(t, err)
		assert.Equal(t, "alice", string(k))
		values = append(values, string(v))
	}
	assert.Equal(t, []string{"ALICE", "Alice", "alice"}, values)

	p, err := d.Postings(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, p)
	p, err = d.Postings(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 3}, p)

	_, bm, _ := tm.Field("Blob")
	assert.Equal(t, "exact", bm.Analyzer)
	assert.Equal(t, 2, bm.Distinct)
	_, nm, _ := tm.Field("Nick")
	assert.Equal(t, "shout", nm.Analyzer)
}

func TestBuilderLinks(t *testing.T) {
	ctx := context.Background()
	b := NewBuilder(testSchema(t), Options{})

	user := func(key string, groups ...string) {
		require.NoError(t, b.Add(model.Object{Table: "User", Key: model.Key(key), Fields: map[string][]string{"Groups": groups}}))
	}
	user("u1", "g1", "g2")
	user("u2", "g1")
	require.NoError(t, b.Add(model.Object{Table: "Group", Key: model.Key("g1"), Fields: map[string][]string{"Title": {"admins"}}}))
	user("u3", "g2")
	user("u3", "g1")

	seg := flush(t, b)
	got, states := keys(t, seg, "Group")
	assert.Equal(t, []string{"g1", "g2"}, got)
	assert.Equal(t, []column.DocState{column.Live, column.Stub}, states)

	gi, gm, _ := seg.Meta().Table("Group")
	assert.Equal(t, 1, gm.Stubs)
	mi, mm, ok := gm.Field("Members")
	require.True(t, ok)
	assert.Equal(t, "User", mm.Target)
	assert.Equal(t, 2, mm.Docs)

	members, err := seg.Links(ctx, gi, mi)
	require.NoError(t, err)
	defer members.Close()
	g1, err := members.Targets(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []model.DocNum{0, 1, 2}, g1)
	g2, err := members.Targets(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []model.DocNum{0}, g2)

	ui, um, _ := seg.Meta().Table("User")
	fi, _, _ := um.Field("Groups")
	groups, err := seg.Links(ctx, ui, fi)
	require.NoError(t, err)
	defer groups.Close()
	u3, err := groups.Targets(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []model.DocNum{0}, u3)
}

func TestBuilderSelfLinks(t *testing.T) {
	ctx := context.Background()
	b := NewBuilder(testSchema(t), Options{})
	require.NoError(t, b.Add(model.Object{Table: "User", Key: model.Key("a"), Fields: map[string][]string{"Friends": {"b"}}}))
	require.NoError(t, b.Add(model.Object{Table: "User", Key: model.Key("c"), Fields: map[string][]string{"Friends": {"b", "a"}}}))
	require.NoError(t, b.Add(model.Object{Table: "User", Key: model.Key("b"), Fields: map[string][]string{"Friends": {}}}))

	seg := flush(t, b)
	ti, tm, _ := seg.Meta().Table("User")
	fi, _, _ := tm.Field("Friends")
	links, err := seg.Links(ctx, ti, fi)
	require.NoError(t, err)
	defer links.Close()

	want := map[model.DocNum][]model.DocNum{0: {1, 2}, 1: {0, 2}, 2: {0, 1}}
	for doc, targets := range want {
		got, err := links.Targets(ctx, doc)
		require.NoError(t, err)
		assert.Equal(t, targets, got, "doc %d", doc)
	}
}

// drifting returns a different type for a field on every lookup.
type drifting struct {
	calls int
}

func (d *drifting) Table(name string) (*schema.Table, bool) {
	d.calls++
	typ := schema.TypeInteger
	if d.calls > 1 {
		typ = schema.TypeText
	}
	return &schema.Table{Name: name, Fields: []schema.Field{{Name: "F", Type: typ}}}, true
}

func TestBuilderErrors(t *testing.T) {
	s := testSchema(t)

	t.Run("unknown table", func(t *testing.T) {
		err := NewBuilder(s, Options{}).Add(model.Object{Table: "Nope"})
		assert.ErrorIs(t, err, schema.ErrUnknownTable)
	})
	t.Run("unknown field", func(t *testing.T) {
		err := NewBuilder(s, Options{}).Add(model.Object{Table: "T", Fields: map[string][]string{"Nope": {"1"}}})
		assert.ErrorIs(t, err, schema.ErrUnknownField)
	})
	t.Run("parse error", func(t *testing.T) {
		err := NewBuilder(s, Options{}).Add(model.Object{Table: "T", Fields: map[string][]string{"Age": {"old"}}})
		var pe *schema.ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "Age", pe.Field)
		assert.Equal(t, "old", pe.Value)
	})
	t.Run("unknown analyzer", func(t *testing.T) {
		err := NewBuilder(s, Options{}).Add(model.Object{Table: "T", Fields: map[string][]string{"Nick": {"x"}}})
		assert.ErrorIs(t, err, analysis.ErrUnknownAnalyzer)
	})
	t.Run("unknown type", func(t *testing.T) {
		bad := &schema.Table{Name: "X", Fields: []schema.Field{{Name: "F"}}}
		err := NewBuilder(tableSchema{bad}, Options{}).Add(model.Object{Table: "X", Fields: map[string][]string{"F": {"1"}}})
		assert.ErrorIs(t, err, schema.ErrUnknownFieldType)
	})
	t.Run("type conflict", func(t *testing.T) {
		d := &drifting{}
		b := NewBuilder(d, Options{})
		// Tables are resolved once per builder; swap in a later definition
		// to simulate a schema change in the middle of a build.
		require.NoError(t, b.Add(model.Object{Table: "A", Fields: map[string][]string{"F": {"1"}}}))
		tb := b.tables["A"]
		t2, _ := d.Table("A")
		tb.table = t2
		err := b.Add(model.Object{Table: "A", Fields: map[string][]string{"F": {"x"}}})
		assert.ErrorIs(t, err, schema.ErrFieldTypeConflict)
	})
}

type tableSchema struct{ t *schema.Table }

func (s tableSchema) Table(name string) (*schema.Table, bool) {
	if name == s.t.Name {
		return s.t, true
	}
	return nil, false
}

func TestFlushEmptyAndMany(t *testing.T) {
	ctx := context.Background()
	b := NewBuilder(testSchema(t), Options{Column: column.Options{Compression: column.CompressionLZ4, BlockSize: 128}})
	const n = 500
	for i := n - 1; i >= 0; i-- {
		require.NoError(t, b.Add(model.Object{Table: "T", Key: model.Key(fmt.Sprintf("k%04d", i)), Fields: map[string][]string{
			"Age":  {fmt.Sprint(i % 7)},
			"Name": {fmt.Sprintf("n%d", i%13)},
		}}))
	}
	seg := flush(t, b)
	assert.Equal(t, "lz4", seg.Meta().Compression)

	got, _ := keys(t, seg, "T")
	require.Len(t, got, n)
	for i := 1; i < n; i++ {
		assert.Less(t, got[i-1], got[i])
	}
	ti, tm, _ := seg.Meta().Table("T")
	fi, fm, _ := tm.Field("Age")
	assert.Equal(t, 7, fm.Distinct)
	num, err := seg.Numeric(ctx, ti, fi)
	require.NoError(t, err)
	defer num.Close()
	c := num.Cursor()
	for c.Next(ctx) {
		assert.Equal(t, []int64{int64(c.Doc()) % 7}, c.Values())
	}
	require.NoError(t, c.Err())

	empty := flush(t, NewBuilder(testSchema(t), Options{}))
	assert.Empty(t, empty.Meta().Tables)
}
