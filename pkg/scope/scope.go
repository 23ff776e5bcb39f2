// Package scope implements the hierarchical variable namespace sessions run
// in. A root scope owns the weight tensors for one loaded model; every
// session, and every individual inference call, works in a child scope that
// reads through to its parent but keeps its own writable entries.
//
// Lifetime is reference counted: creating a child retains the parent, so
// the root scope (and the weights it owns) is freed exactly once, when the
// last scope chained under it is released.
package scope

import (
	"fmt"
	"sync"
)

type Scope struct {
	parent *Scope

	mu       sync.RWMutex
	vars     map[string]*Variable
	refs     int
	released bool
}

// New creates a root scope with one reference held by the caller.
func New() *Scope {
	return &Scope{
		vars: make(map[string]*Variable),
		refs: 1,
	}
}

// NewChild creates a child scope. The child holds a reference to the parent
// until the child itself is released.
func (s *Scope) NewChild() (*Scope, error) {
	if err := s.Retain(); err != nil {
		return nil, err
	}
	return &Scope{
		parent: s,
		vars:   make(map[string]*Variable),
		refs:   1,
	}, nil
}

// Retain takes an additional reference on the scope.
func (s *Scope) Retain() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return fmt.Errorf("retain of released scope")
	}
	s.refs++
	return nil
}

// Release drops one reference. When the last reference is dropped the
// scope's variables are discarded and the reference it holds on its parent
// is released in turn.
func (s *Scope) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return fmt.Errorf("release of released scope")
	}
	s.refs--
	last := s.refs == 0
	if last {
		s.released = true
		s.vars = nil
	}
	s.mu.Unlock()

	if last && s.parent != nil {
		return s.parent.Release()
	}
	return nil
}

// Released reports whether the scope has been freed.
func (s *Scope) Released() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.released
}

// Var returns the variable with the given name in this scope, creating it
// locally if absent. It never consults the parent: writes always land in
// the scope they were issued against.
func (s *Scope) Var(name string) (*Variable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, fmt.Errorf("var %q in released scope", name)
	}
	v, ok := s.vars[name]
	if !ok {
		v = &Variable{name: name}
		s.vars[name] = v
	}
	return v, nil
}

// FindVar looks the name up in this scope, then in each ancestor.
func (s *Scope) FindVar(name string) (*Variable, bool) {
	s.mu.RLock()
	v, ok := s.vars[name]
	s.mu.RUnlock()
	if ok {
		return v, true
	}
	if s.parent != nil {
		return s.parent.FindVar(name)
	}
	return nil, false
}

// LocalVarNames returns the names defined in this scope only, for
// diagnostics.
func (s *Scope) LocalVarNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.vars))
	for name := range s.vars {
		names = append(names, name)
	}
	return names
}

// Variable is a named slot in a scope holding an internal tensor.
type Variable struct {
	name   string
	tensor *LoDTensor
}

func (v *Variable) Name() string { return v.name }

// LoDTensor returns the variable's tensor, allocating an empty one on first
// use.
func (v *Variable) LoDTensor() *LoDTensor {
	if v.tensor == nil {
		v.tensor = &LoDTensor{}
	}
	return v.tensor
}

// Tensor returns the variable's tensor if one has been set.
func (v *Variable) Tensor() (*LoDTensor, bool) {
	if v.tensor == nil {
		return nil, false
	}
	return v.tensor, true
}
