package constraint

import "github.com/rotisserie/eris"

// Registry maps layer names to layers.
type Registry struct {
	layers map[string]Layer
	order  []string // insertion order for deterministic iteration
}

// NewRegistry creates a registry holding the given layers in order.
func NewRegistry(layers ...Layer) *Registry {
	r := &Registry{layers: make(map[string]Layer, len(layers))}
	for _, l := range layers {
		r.Register(l)
	}
	return r
}

// Register adds a layer. Re-registering a name replaces the layer in place.
func (r *Registry) Register(l Layer) {
	if _, ok := r.layers[l.Name]; !ok {
		r.order = append(r.order, l.Name)
	}
	r.layers[l.Name] = l
}

// Get returns a layer by name.
func (r *Registry) Get(name string) (Layer, error) {
	l, ok := r.layers[name]
	if !ok {
		return Layer{}, eris.Errorf("constraint: unknown layer %q", name)
	}
	return l, nil
}

// Select returns the named layers in registration order. An empty names
// list selects every layer.
func (r *Registry) Select(names []string) ([]Layer, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, err := r.Get(n); err != nil {
			return nil, err
		}
		want[n] = true
	}
	var out []Layer
	for _, name := range r.order {
		if want[name] {
			out = append(out, r.layers[name])
		}
	}
	return out, nil
}

// All returns all layers in registration order.
func (r *Registry) All() []Layer {
	out := make([]Layer, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.layers[name])
	}
	return out
}

// Names returns all registered layer names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
