package protocol

import (
	"fmt"
	"sort"

	"dario.cat/mergo"
)

// Registry resolves bank ids onto validated descriptors. Overrides from configuration
// are merged over the builtins, so an operator can patch a single marker or expectation
// table without restating the whole descriptor.
type Registry struct {
	descriptors map[string]Descriptor
}

func NewRegistry(overrides map[string]Descriptor) (Registry, error) {
	descriptors := Builtin()
	for id, override := range overrides {
		if override.Id == "" {
			override.Id = id
		}
		base, ok := descriptors[id]
		if !ok {
			descriptors[id] = override
			continue
		}
		err := mergo.Merge(&base, override, mergo.WithOverride)
		if err != nil {
			return Registry{}, fmt.Errorf("merge override for %q: %w", id, err)
		}
		descriptors[id] = base
	}

	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return Registry{}, err
		}
	}
	return Registry{descriptors: descriptors}, nil
}

func (r Registry) Lookup(id string) (Descriptor, error) {
	d, ok := r.descriptors[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("unknown bank %q", id)
	}
	return d, nil
}

// List returns all descriptors ordered by id.
func (r Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Id < out[j].Id
	})
	return out
}
