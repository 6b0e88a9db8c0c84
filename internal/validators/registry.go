package validators

import (
	"sync"

	"github.com/dshills/lens/internal/oracle"
)

// Registry holds the validators available for selection, in registration
// order. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]Validator
	order []string
}

// NewRegistry registers a PromptValidator for every definition.
func NewRegistry(defs []Definition, o oracle.Oracle) *Registry {
	r := &Registry{byKey: make(map[string]Validator)}
	for _, d := range defs {
		r.Register(NewPromptValidator(d, o))
	}
	return r
}

// Register adds v, replacing a validator of the same name.
func (r *Registry) Register(v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byKey == nil {
		r.byKey = make(map[string]Validator)
	}
	if _, ok := r.byKey[v.Name()]; !ok {
		r.order = append(r.order, v.Name())
	}
	r.byKey[v.Name()] = v
}

// Get returns the validator registered under name.
func (r *Registry) Get(name string) (Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byKey[name]
	return v, ok
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// All returns every registered validator.
func (r *Registry) All() []Validator {
	return r.Filter(r.Names())
}

// Filter returns the validators named in names, in that order. Unknown and
// repeated names are dropped.
func (r *Registry) Filter(names []string) []Validator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool, len(names))
	var out []Validator
	for _, n := range names {
		v, ok := r.byKey[n]
		if !ok || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, v)
	}
	return out
}
