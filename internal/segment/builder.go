package segment

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/hupe1980/segdb/analysis"
	"github.com/hupe1980/segdb/codec"
	"github.com/hupe1980/segdb/internal/column"
	"github.com/hupe1980/segdb/model"
	"github.com/hupe1980/segdb/schema"
)

// Options configures a Builder.
type Options struct {
	Analyzers *analysis.Registry
	KeyGen    func() model.Key
	Column    column.Options
	Codec     codec.Codec
	Logger    *slog.Logger

	// WrapWriter, if set, wraps the writer of every store, e.g. to throttle IO.
	WrapWriter func(io.Writer) io.Writer
}

func (o Options) withDefaults() Options {
	if o.Analyzers == nil {
		o.Analyzers = analysis.DefaultRegistry()
	}
	if o.KeyGen == nil {
		o.KeyGen = NewKey
	}
	if o.Column.BlockSize <= 0 {
		o.Column.BlockSize = column.DefaultBlockSize
	}
	if o.Codec == nil {
		o.Codec = codec.Default
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// NewKey generates a time-ordered UUIDv7 key in its canonical text form.
func NewKey() model.Key {
	return model.Key(uuid.Must(uuid.NewV7()).String())
}

// Builder accumulates objects of one ingest batch and flushes them as a segment.
//
// A Builder is not safe for concurrent use. After Add returns an error the
// build must be abandoned.
type Builder struct {
	schema schema.Schema
	opts   Options
	tables map[string]*tableBuilder
	order  []*tableBuilder
}

// NewBuilder creates a Builder resolving tables and fields through s.
func NewBuilder(s schema.Schema, opts Options) *Builder {
	return &Builder{
		schema: s,
		opts:   opts.withDefaults(),
		tables: make(map[string]*tableBuilder),
	}
}

// Len returns the number of documents across all tables, stubs included.
func (b *Builder) Len() int {
	n := 0
	for _, tb := range b.order {
		n += tb.len()
	}
	return n
}

// Add adds obj to the batch. Adding an object whose key was already seen in
// the same table replaces the fields it carries and its deletion flag.
func (b *Builder) Add(obj model.Object) error {
	tb, err := b.table(obj.Table)
	if err != nil {
		return err
	}
	key := obj.Key
	if key == nil {
		key = b.opts.KeyGen()
	}
	d := tb.doc(key)
	d.state = column.Live
	if obj.Deleted {
		d.state = column.Deleted
	}

	// Map order is random; sorting keeps field indexes reproducible.
	names := make([]string, 0, len(obj.Fields))
	for name := range obj.Fields {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := b.addField(tb, d, name, obj.Fields[name]); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) table(name string) (*tableBuilder, error) {
	if tb, ok := b.tables[name]; ok {
		return tb, nil
	}
	t, ok := b.schema.Table(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", schema.ErrUnknownTable, name)
	}
	tb := newTableBuilder(t)
	b.tables[name] = tb
	b.order = append(b.order, tb)
	return tb, nil
}

func (b *Builder) addField(tb *tableBuilder, d *doc, name string, raw []string) error {
	f, ok := tb.table.Field(name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", schema.ErrUnknownField, tb.table.Name, name)
	}
	fb, err := b.field(tb, f)
	if err != nil {
		return err
	}

	switch {
	case f.Type.IsNumeric():
		vals := make([]int64, 0, len(raw))
		for _, r := range raw {
			v, err := schema.ParseNumeric(tb.table.Name, f, r)
			if err != nil {
				return err
			}
			vals = append(vals, v)
		}
		d.setNums(fb.index, vals)
	case f.Type.IsTerm():
		terms := make([]uint32, 0, len(raw))
		for _, r := range raw {
			terms = append(terms, fb.addTerm(r))
		}
		d.setTerms(fb.index, terms)
	case f.Type == schema.TypeLink:
		targets := make([]*doc, 0, len(raw))
		for _, r := range raw {
			targets = append(targets, fb.target.doc(model.Key(r)))
		}
		d.link(fb, targets)
	default:
		return fmt.Errorf("%w: %s.%s has type %s", schema.ErrUnknownFieldType, tb.table.Name, f.Name, f.Type)
	}
	return nil
}

// field returns the builder of f, creating it and, for links, the inverse
// field on the target table.
func (b *Builder) field(tb *tableBuilder, f schema.Field) (*fieldBuilder, error) {
	if fb, ok := tb.byName[f.Name]; ok {
		if fb.field.Type != f.Type {
			return nil, fmt.Errorf("%w: %s.%s was %s, now %s",
				schema.ErrFieldTypeConflict, tb.table.Name, f.Name, fb.field.Type, f.Type)
		}
		return fb, nil
	}
	if !f.Type.IsNumeric() && !f.Type.IsTerm() && f.Type != schema.TypeLink {
		return nil, fmt.Errorf("%w: %s.%s has type %s", schema.ErrUnknownFieldType, tb.table.Name, f.Name, f.Type)
	}

	switch {
	case f.Type.IsTerm():
		name := f.Analyzer
		if f.Type == schema.TypeBinary {
			name = analysis.Exact.Name()
		}
		a, err := b.opts.Analyzers.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", tb.table.Name, f.Name, err)
		}
		fb := tb.addField(f)
		fb.analyzer = a
		return fb, nil
	case f.Type == schema.TypeLink:
		target, err := b.table(f.Target)
		if err != nil {
			return nil, fmt.Errorf("link %s.%s: %w", tb.table.Name, f.Name, err)
		}
		inv, ok := target.table.Field(f.Inverse)
		if !ok || inv.Type != schema.TypeLink || inv.Target != tb.table.Name {
			return nil, fmt.Errorf("%w: link %s.%s has no matching inverse %s.%s",
				schema.ErrInvalidSchema, tb.table.Name, f.Name, f.Target, f.Inverse)
		}
		fb := tb.addField(f)
		fb.target = target
		if f.Target == tb.table.Name && f.Inverse == f.Name {
			fb.inverse = fb
			return fb, nil
		}
		ifb, err := b.field(target, inv)
		if err != nil {
			return nil, err
		}
		fb.inverse, ifb.inverse = ifb, fb
		return fb, nil
	}
	return tb.addField(f), nil
}
