package query

import (
	"context"
	"errors"

	"github.com/hupe1980/segdb/model"
)

// Iterator walks a Set in ascending key order.
type Iterator interface {
	// Next advances to the following key and reports whether one exists.
	Next() bool
	// Key returns the current key. It stays valid after Next.
	Key() model.Key
	// Err returns the error that stopped the iteration, if any.
	Err() error
	// Close releases resources held by the iterator.
	Close() error
}

// Set is a restartable ascending sequence of keys.
type Set interface {
	Iterator(ctx context.Context) (Iterator, error)
}

// SetFunc adapts a function to the Set interface.
type SetFunc func(ctx context.Context) (Iterator, error)

// Iterator calls f(ctx).
func (f SetFunc) Iterator(ctx context.Context) (Iterator, error) { return f(ctx) }

// Slice returns a Set over keys, which must already be ascending and unique.
func Slice(keys ...model.Key) Set {
	return SetFunc(func(context.Context) (Iterator, error) {
		return &sliceIterator{keys: keys, pos: -1}, nil
	})
}

// Empty returns a Set without keys.
func Empty() Set { return Slice() }

type sliceIterator struct {
	keys []model.Key
	pos  int
}

func (it *sliceIterator) Next() bool {
	if it.pos+1 >= len(it.keys) {
		it.pos = len(it.keys)
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Key() model.Key {
	if it.pos < 0 || it.pos >= len(it.keys) {
		return nil
	}
	return it.keys[it.pos]
}

func (it *sliceIterator) Err() error   { return nil }
func (it *sliceIterator) Close() error { return nil }

// Collect drains s into a slice.
func Collect(ctx context.Context, s Set) ([]model.Key, error) {
	it, err := s.Iterator(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Key
	for it.Next() {
		out = append(out, it.Key())
	}
	return out, errors.Join(it.Err(), it.Close())
}

// Count drains s and returns the number of keys.
func Count(ctx context.Context, s Set) (int, error) {
	it, err := s.Iterator(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for it.Next() {
		n++
	}
	return n, errors.Join(it.Err(), it.Close())
}

// open opens one iterator per set and closes the opened ones on failure.
func open(ctx context.Context, sets []Set) ([]Iterator, error) {
	its := make([]Iterator, 0, len(sets))
	for _, s := range sets {
		it, err := s.Iterator(ctx)
		if err != nil {
			_ = closeAll(its)
			return nil, err
		}
		its = append(its, it)
	}
	return its, nil
}

func closeAll(its []Iterator) error {
	var errs []error
	for _, it := range its {
		errs = append(errs, it.Close())
	}
	return errors.Join(errs...)
}

func firstErr(its []Iterator) error {
	for _, it := range its {
		if err := it.Err(); err != nil {
			return err
		}
	}
	return nil
}
