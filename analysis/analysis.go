// Package analysis derives the comparison key of dictionary terms.
//
// Analyzers are resolved through an explicit [Registry] populated at startup;
// there is no lookup by type name. The built-in analyzers are:
//
//   - lowercase: Unicode lower-casing (default for TEXT fields)
//   - fold: Unicode case folding, stricter than lowercase for caseless matching
//   - nfc: NFC normalization followed by lower-casing
//   - exact: identity (always used for BINARY fields)
package analysis

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// DefaultName is the analyzer used when a field does not name one.
const DefaultName = "lowercase"

// ErrUnknownAnalyzer is returned by Lookup for names that were never registered.
var ErrUnknownAnalyzer = errors.New("unknown analyzer")

// Analyzer maps an original term value to its comparison key.
// Implementations must be safe for concurrent use.
type Analyzer interface {
	Name() string
	Key(value []byte) []byte
}

// Func adapts a function to the Analyzer interface.
type Func struct {
	ID string
	Fn func(value []byte) []byte
}

// Name implements Analyzer.
func (f Func) Name() string { return f.ID }

// Key implements Analyzer.
func (f Func) Key(value []byte) []byte { return f.Fn(value) }

// Exact returns the value unchanged.
var Exact Analyzer = Func{ID: "exact", Fn: func(v []byte) []byte { return v }}

// Lowercase lower-cases the value using Unicode rules.
// A cases.Caser is stateful, so a fresh one is created per call.
var Lowercase Analyzer = Func{ID: "lowercase", Fn: func(v []byte) []byte {
	return cases.Lower(language.Und).Bytes(v)
}}

// Fold applies Unicode case folding.
var Fold Analyzer = Func{ID: "fold", Fn: func(v []byte) []byte {
	return cases.Fold().Bytes(v)
}}

// NFC normalizes to NFC and lower-cases.
var NFC Analyzer = Func{ID: "nfc", Fn: func(v []byte) []byte {
	return cases.Lower(language.Und).Bytes(norm.NFC.Bytes(v))
}}

// Registry maps analyzer names to implementations.
type Registry struct {
	mu        sync.RWMutex
	analyzers map[string]Analyzer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{analyzers: make(map[string]Analyzer)}
}

// DefaultRegistry returns a registry holding the built-in analyzers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, a := range []Analyzer{Exact, Lowercase, Fold, NFC} {
		_ = r.Register(a)
	}
	return r
}

// Register adds an analyzer. Registering a name twice is an error.
func (r *Registry) Register(a Analyzer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.analyzers[a.Name()]; ok {
		return fmt.Errorf("analyzer %q already registered", a.Name())
	}
	r.analyzers[a.Name()] = a
	return nil
}

// Lookup resolves a name. The empty name resolves to DefaultName.
func (r *Registry) Lookup(name string) (Analyzer, error) {
	if name == "" {
		name = DefaultName
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.analyzers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAnalyzer, name)
	}
	return a, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.analyzers))
	for n := range r.analyzers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
