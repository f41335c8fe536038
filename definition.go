package refcache

import (
	"github.com/unkn0wn-root/refcache/internal/util"
)

// Definition describes one cacheable reference list.
type Definition struct {
	// Name identifies the definition inside a registry.
	Name string `yaml:"name" json:"name"`
	// Table is handed verbatim to the source.
	Table string `yaml:"table" json:"table"`
	// Namespace is the key the list is stored under inside the owner
	// document. Empty means Name.
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	// KeyField is the row field the list is keyed by.
	KeyField string `yaml:"keyField" json:"keyField"`
	// SourceProperty is the consumer field whose value(s) select keys.
	SourceProperty string `yaml:"sourceProperty" json:"sourceProperty"`
	// Condition is handed verbatim to the source and is part of the
	// namespace's identity.
	Condition any `yaml:"condition,omitempty" json:"condition,omitempty"`
	// ConditionKey replaces the computed condition fingerprint. Set it when
	// Condition holds functions or other values without a stable encoding.
	ConditionKey string `yaml:"conditionKey,omitempty" json:"conditionKey,omitempty"`
}

// StorageNamespace is the inner document key this definition fills.
func (d Definition) StorageNamespace() string {
	if d.Namespace == "" {
		return d.Name
	}
	return d.Namespace
}

// ConditionFingerprint is the identity of the row subset d selects.
func (d Definition) ConditionFingerprint() string {
	if d.ConditionKey != "" {
		return "key:" + d.ConditionKey
	}
	return util.Fingerprint(d.Condition)
}

// Registry holds definitions in registration order.
// Not safe for concurrent use; Cache serializes access to its registry.
type Registry struct {
	order []string
	defs  map[string]Definition
}

func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	r.Register(defs...)
	return r
}

// Register merges defs by name. A known name is replaced entirely and keeps
// its original position; new names are appended. Nothing is validated here.
func (r *Registry) Register(defs ...Definition) {
	for _, d := range defs {
		if _, ok := r.defs[d.Name]; !ok {
			r.order = append(r.order, d.Name)
		}
		r.defs[d.Name] = d
	}
}

func (r *Registry) Get(name string) (Definition, error) {
	d, ok := r.defs[name]
	if !ok {
		return Definition{}, &DefinitionError{Name: name, Err: ErrUnknownDefinition}
	}
	return d, nil
}

// Definitions returns a copy of all definitions in registration order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.defs[n])
	}
	return out
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int { return len(r.order) }

// Holder returns the first definition, in registration order, that stores
// into namespace ns. It owns ns when others disagree on the condition.
func (r *Registry) Holder(ns string) (Definition, bool) {
	for _, n := range r.order {
		if d := r.defs[n]; d.StorageNamespace() == ns {
			return d, true
		}
	}
	return Definition{}, false
}

// Conflicts returns the names of registered definitions, other than d
// itself, that store into d's namespace with a different condition.
func (r *Registry) Conflicts(d Definition) []string {
	ns, fp := d.StorageNamespace(), d.ConditionFingerprint()
	var out []string
	for _, n := range r.order {
		o := r.defs[n]
		if n == d.Name || o.StorageNamespace() != ns {
			continue
		}
		if o.ConditionFingerprint() != fp {
			out = append(out, n)
		}
	}
	return out
}
