package segment

import (
	"bytes"
	"slices"

	"github.com/hupe1980/segdb/analysis"
	"github.com/hupe1980/segdb/internal/column"
	"github.com/hupe1980/segdb/internal/dict"
	"github.com/hupe1980/segdb/model"
	"github.com/hupe1980/segdb/schema"
)

// tableBuilder holds the documents and field builders of one table. Row keys
// live in a dictionary set; rows[i] is the document of key i. docs holds the
// documents in key order once the table is numbered.
type tableBuilder struct {
	table  *schema.Table
	keys   *dict.Set
	rows   []*doc
	docs   []*doc
	fields []*fieldBuilder
	byName map[string]*fieldBuilder
}

func newTableBuilder(t *schema.Table) *tableBuilder {
	return &tableBuilder{
		table:  t,
		keys:   dict.NewSet(0),
		byName: make(map[string]*fieldBuilder),
	}
}

// doc returns the document with key, creating a stub if it is unknown.
func (tb *tableBuilder) doc(key model.Key) *doc {
	if idx, ok := tb.keys.Lookup(key); ok {
		return tb.rows[idx]
	}
	tb.keys.Add(key)
	d := &doc{key: key.Clone(), state: column.Stub}
	tb.rows = append(tb.rows, d)
	return d
}

// len returns the number of documents, stubs included.
func (tb *tableBuilder) len() int { return len(tb.rows) }

func (tb *tableBuilder) addField(f schema.Field) *fieldBuilder {
	fb := &fieldBuilder{index: len(tb.fields), field: f}
	if f.Type.IsTerm() {
		fb.values = dict.NewSet(0)
		fb.keys = dict.NewList(0)
	}
	tb.fields = append(tb.fields, fb)
	tb.byName[f.Name] = fb
	return fb
}

// fieldBuilder holds per-field build state. Text fields keep their distinct
// original values in a dictionary set with the analyzed keys aligned by index.
type fieldBuilder struct {
	index    int
	field    schema.Field
	analyzer analysis.Analyzer
	values   *dict.Set
	keys     *dict.List
	target   *tableBuilder
	inverse  *fieldBuilder
}

func (fb *fieldBuilder) addTerm(raw string) uint32 {
	n := fb.values.Len()
	idx := fb.values.AddString(raw)
	if int(idx) == n {
		fb.keys.Add(fb.analyzer.Key([]byte(raw)))
	}
	return idx
}

// termOrder returns the insertion indexes of the field's values sorted by
// (key, value) and the term number of every insertion index.
func (fb *fieldBuilder) termOrder() (perm, numbers []uint32) {
	perm = fb.values.List().SortFunc(func(a, b uint32) int {
		if c := bytes.Compare(fb.keys.Get(a), fb.keys.Get(b)); c != 0 {
			return c
		}
		return bytes.Compare(fb.values.Get(a), fb.values.Get(b))
	})
	numbers = make([]uint32, len(perm))
	for n, idx := range perm {
		numbers[idx] = uint32(n)
	}
	return perm, numbers
}

// doc is one row of a table during a build. Forward link edges live in
// links and edges added by the inverse side in back, so replacing a field's
// values never drops edges owned by other documents.
type doc struct {
	key    model.Key
	number model.DocNum
	state  column.DocState
	nums   map[int][]int64
	terms  map[int][]uint32
	links  map[int][]*doc
	back   map[int][]*doc
}

func (d *doc) setNums(field int, vals []int64) {
	if d.nums == nil {
		d.nums = make(map[int][]int64)
	}
	d.nums[field] = vals
}

func (d *doc) setTerms(field int, terms []uint32) {
	if d.terms == nil {
		d.terms = make(map[int][]uint32)
	}
	d.terms[field] = terms
}

// link replaces the forward edges of fb on d and keeps the inverse edges of
// the old and new targets in step.
func (d *doc) link(fb *fieldBuilder, targets []*doc) {
	inv := fb.inverse.index
	for _, old := range d.links[fb.index] {
		old.back[inv] = remove(old.back[inv], d)
	}
	if d.links == nil {
		d.links = make(map[int][]*doc)
	}
	d.links[fb.index] = targets
	for _, t := range targets {
		if t.back == nil {
			t.back = make(map[int][]*doc)
		}
		t.back[inv] = append(t.back[inv], d)
	}
}

// edges returns the sorted, distinct doc numbers linked through field.
func (d *doc) edges(field int, dst []model.DocNum) []model.DocNum {
	dst = dst[:0]
	for _, t := range d.links[field] {
		dst = append(dst, t.number)
	}
	for _, t := range d.back[field] {
		dst = append(dst, t.number)
	}
	slices.Sort(dst)
	return slices.Compact(dst)
}

func remove(l []*doc, x *doc) []*doc {
	if i := slices.Index(l, x); i >= 0 {
		return slices.Delete(l, i, i+1)
	}
	return l
}
