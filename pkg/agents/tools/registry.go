package tools

import (
	"fmt"
	"sort"
	"strings"
)

// Registry resolves tools by name while preserving declaration order.
type Registry struct {
	byName map[string]Spec
	order  []string
}

// NewRegistry rejects empty and duplicate names.
func NewRegistry(specs ...Spec) (*Registry, error) {
	r := &Registry{byName: make(map[string]Spec, len(specs))}
	for i, s := range specs {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return nil, fmt.Errorf("tools[%d]: name must be non-empty", i)
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("tools[%d]: duplicate tool name %q", i, name)
		}
		if s.Invoker == nil {
			return nil, fmt.Errorf("tools[%d]: %q has no invoker", i, name)
		}
		r.byName[name] = s
		r.order = append(r.order, name)
	}
	return r, nil
}

// MustRegistry is NewRegistry for static tool sets.
func MustRegistry(specs ...Spec) *Registry {
	r, err := NewRegistry(specs...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Lookup(name string) (Spec, bool) {
	if r == nil {
		return Spec{}, false
	}
	s, ok := r.byName[name]
	return s, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Names returns tool names sorted alphabetically.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}

// Specs returns tools in declaration order.
func (r *Registry) Specs() []Spec {
	if r == nil {
		return nil
	}
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}
