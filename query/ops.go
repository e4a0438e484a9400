package query

import (
	"context"

	"github.com/hupe1980/segdb/internal/queue"
	"github.com/hupe1980/segdb/model"
)

// Intersect returns the keys present in every set.
func Intersect(sets ...Set) Set {
	switch len(sets) {
	case 0:
		return Empty()
	case 1:
		return sets[0]
	}
	return SetFunc(func(ctx context.Context) (Iterator, error) {
		its, err := open(ctx, sets)
		if err != nil {
			return nil, err
		}
		return &intersection{its: its}, nil
	})
}

type intersection struct {
	its  []Iterator
	key  model.Key
	done bool
}

func (x *intersection) Next() bool {
	if x.done {
		return false
	}
	if !x.its[0].Next() {
		return x.stop()
	}
	target := x.its[0].Key()
	agreed := 1
	for i := 1; agreed < len(x.its); i = (i + 1) % len(x.its) {
		it := x.its[i]
		cmp := -1
		for cmp < 0 {
			if !it.Next() {
				return x.stop()
			}
			cmp = it.Key().Compare(target)
		}
		if cmp == 0 {
			agreed++
			continue
		}
		target = it.Key()
		agreed = 1
	}
	x.key = target
	return true
}

func (x *intersection) stop() bool {
	x.done = true
	x.key = nil
	return false
}

func (x *intersection) Key() model.Key { return x.key }
func (x *intersection) Err() error     { return firstErr(x.its) }
func (x *intersection) Close() error   { return closeAll(x.its) }

// Difference returns the keys of a that are not in b.
func Difference(a, b Set) Set {
	return SetFunc(func(ctx context.Context) (Iterator, error) {
		its, err := open(ctx, []Set{a, b})
		if err != nil {
			return nil, err
		}
		return &difference{a: its[0], b: its[1]}, nil
	})
}

// Not returns all keys except those of inner.
func Not(all, inner Set) Set { return Difference(all, inner) }

type difference struct {
	a, b    Iterator
	started bool
	bDone   bool
}

func (d *difference) Next() bool {
	for d.a.Next() {
		k := d.a.Key()
		for !d.bDone && (!d.started || d.b.Key().Compare(k) < 0) {
			d.started = true
			if !d.b.Next() {
				d.bDone = true
				if d.b.Err() != nil {
					return false
				}
			}
		}
		if d.bDone || d.b.Key().Compare(k) != 0 {
			return true
		}
	}
	return false
}

func (d *difference) Key() model.Key { return d.a.Key() }
func (d *difference) Err() error     { return firstErr([]Iterator{d.a, d.b}) }
func (d *difference) Close() error   { return closeAll([]Iterator{d.a, d.b}) }

// Union returns the keys present in any set. A single set is returned as is.
func Union(sets ...Set) Set {
	switch len(sets) {
	case 0:
		return Empty()
	case 1:
		return sets[0]
	}
	return SetFunc(func(ctx context.Context) (Iterator, error) {
		its, err := open(ctx, sets)
		if err != nil {
			return nil, err
		}
		u := &union{its: its}
		next := make([]func() (model.Key, bool), len(its))
		for i, it := range its {
			next[i] = func() (model.Key, bool) {
				if u.err != nil || !it.Next() {
					if err := it.Err(); err != nil && u.err == nil {
						u.err = err
					}
					return nil, false
				}
				return it.Key(), true
			}
		}
		u.next = queue.Merge(next, func(a, b model.Key) bool { return a.Compare(b) < 0 })
		return u, nil
	})
}

type union struct {
	its     []Iterator
	next    func() (model.Key, bool)
	key     model.Key
	started bool
	err     error
}

func (u *union) Next() bool {
	for {
		k, ok := u.next()
		if !ok || u.err != nil {
			u.key = nil
			return false
		}
		if u.started && k.Equal(u.key) {
			continue
		}
		u.key, u.started = k, true
		return true
	}
}

func (u *union) Key() model.Key { return u.key }
func (u *union) Err() error     { return u.err }
func (u *union) Close() error   { return closeAll(u.its) }
