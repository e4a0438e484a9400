package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/hupe1980/segdb"
	"github.com/hupe1980/segdb/model"
	"github.com/hupe1980/segdb/query"
	"github.com/hupe1980/segdb/schema"
)

var errUsage = errors.New("usage")

// record is the JSON line form of an object.
type record struct {
	Table   string              `json:"table"`
	Key     string              `json:"key,omitempty"`
	Deleted bool                `json:"deleted,omitempty"`
	Fields  map[string][]string `json:"fields,omitempty"`
}

type app struct {
	db  *segdb.DB
	out io.Writer
}

func (a *app) exec(ctx context.Context, name string, args []string, in io.Reader) error {
	switch name {
	case "ingest":
		return a.ingest(ctx, args, in)
	case "merge":
		return a.merge(ctx, args)
	case "rewrite":
		return a.rewrite(ctx, args)
	case "ids":
		if len(args) != 1 {
			return fmt.Errorf("%w: ids <table>", errUsage)
		}
		return a.printSet(ctx, a.db.AllIDs(args[0]))
	case "term":
		if len(args) != 3 {
			return fmt.Errorf("%w: term <table> <field> <term>", errUsage)
		}
		return a.printSet(ctx, a.db.TermIDs(args[0], args[1], args[2]))
	case "get":
		return a.get(ctx, args)
	case "segments":
		return a.segments()
	case "help":
		fmt.Fprintln(a.out, "commands: ingest, merge, rewrite, ids, term, get, segments, help")
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

func (a *app) ingest(ctx context.Context, args []string, in io.Reader) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(a.out)
	batch := fs.Int("batch", 10000, "objects per segment")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || *batch <= 0 {
		return fmt.Errorf("%w: ingest [-batch n] <file.jsonl|->", errUsage)
	}

	r := in
	if name := fs.Arg(0); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	dec := json.NewDecoder(bufio.NewReader(r))
	objs := make([]model.Object, 0, *batch)
	flush := func() error {
		if len(objs) == 0 {
			return nil
		}
		info, err := a.db.Ingest(ctx, objs)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s: %d objects\n", info.ID, len(objs))
		objs = objs[:0]
		return nil
	}

	for line := 1; ; line++ {
		var rec record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", line, err)
		}
		obj := model.Object{Table: rec.Table, Deleted: rec.Deleted, Fields: rec.Fields}
		if rec.Key != "" {
			obj.Key = model.Key(rec.Key)
		}
		objs = append(objs, obj)
		if len(objs) == *batch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (a *app) merge(ctx context.Context, args []string) error {
	ids := make([]model.SegmentID, 0, len(args))
	for _, arg := range args {
		id, err := parseSegmentID(arg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	stats, err := a.db.Merge(ctx, ids...)
	if err != nil {
		return err
	}
	if len(stats.Inputs) == 0 {
		fmt.Fprintln(a.out, "nothing to merge")
		return nil
	}
	fmt.Fprintf(a.out, "merged %d segments into %s: %d rows, %d superseded, %d purged in %s\n",
		len(stats.Inputs), stats.Output, stats.Rows, stats.Superseded, stats.Purged, stats.Duration)
	return nil
}

func (a *app) rewrite(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: rewrite <segment>", errUsage)
	}
	id, err := parseSegmentID(args[0])
	if err != nil {
		return err
	}
	info, err := a.db.Rewrite(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s: version %d, %s\n", info.ID, info.Version, info.Compression)
	return nil
}

func (a *app) get(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("%w: get <table> <field> <key>", errUsage)
	}
	table, field, key := args[0], args[1], model.Key(args[2])
	st, ok := a.db.Schema().Table(table)
	if !ok {
		return fmt.Errorf("%w: %s", schema.ErrUnknownTable, table)
	}
	f, ok := st.Field(field)
	if !ok {
		return fmt.Errorf("%w: %s.%s", schema.ErrUnknownField, table, field)
	}

	var values []string
	switch {
	case f.Type.IsNumeric():
		nums, err := a.db.Values(ctx, table, field, key)
		if err != nil {
			return err
		}
		for _, n := range nums {
			values = append(values, schema.FormatNumeric(f.Type, n))
		}
	case f.Type.IsTerm():
		terms, err := a.db.Terms(ctx, table, field, key)
		if err != nil {
			return err
		}
		values = terms
	default:
		keys, err := a.db.Links(ctx, table, field, key)
		if err != nil {
			return err
		}
		for _, k := range keys {
			values = append(values, k.String())
		}
	}
	for _, v := range values {
		fmt.Fprintln(a.out, v)
	}
	return nil
}

func (a *app) printSet(ctx context.Context, s query.Set) error {
	it, err := s.Iterator(ctx)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(a.out)
	for it.Next() {
		fmt.Fprintln(w, it.Key())
	}
	return errors.Join(it.Err(), it.Close(), w.Flush())
}

func (a *app) segments() error {
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEGMENT\tORDINAL\tVERSION\tCOMPRESSION\tTABLE\tROWS\tDELETED\tSTUBS")
	for _, s := range a.db.Segments() {
		for _, t := range s.Tables {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%d\t%d\t%d\n",
				s.ID, s.Ordinal, s.Version, s.Compression, t.Name, t.Rows, t.Deleted, t.Stubs)
		}
	}
	return w.Flush()
}

// parseSegmentID accepts "seg-000042" as well as "42".
func parseSegmentID(s string) (model.SegmentID, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "seg-"), 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid segment id %q", s)
	}
	return model.SegmentID(n), nil
}
