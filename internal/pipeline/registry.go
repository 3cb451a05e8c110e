package pipeline

import (
	"fmt"
)

// Registry holds the stage specs for one run, keyed by normalized stage key,
// preserving configuration-declared order. Read-only once a run starts.
type Registry struct {
	specs map[string]StageSpec
	order []string
}

func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]StageSpec)}
}

// Register adds a stage spec. The spec's ordinal is its registration
// position. Registering the same key twice fails with ErrDuplicateStage.
func (r *Registry) Register(spec StageSpec) error {
	key := normalizeKey(spec.Key)
	if key == "" {
		return fmt.Errorf("%w: empty stage key", ErrUnknownStage)
	}
	if _, exists := r.specs[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateStage, key)
	}
	spec.Key = key
	spec.Ordinal = len(r.order)
	r.specs[key] = spec
	r.order = append(r.order, key)
	return nil
}

// Get returns the spec for key, if registered.
func (r *Registry) Get(key string) (StageSpec, bool) {
	spec, ok := r.specs[normalizeKey(key)]
	return spec, ok
}

// MustGet returns the spec for key or ErrUnknownStage.
func (r *Registry) MustGet(key string) (StageSpec, error) {
	spec, ok := r.Get(key)
	if !ok {
		return StageSpec{}, fmt.Errorf("%w: %s", ErrUnknownStage, key)
	}
	return spec, nil
}

// Enabled returns the enabled stages in configuration-declared order.
func (r *Registry) Enabled() []StageSpec {
	out := make([]StageSpec, 0, len(r.order))
	for _, key := range r.order {
		if spec := r.specs[key]; spec.Enabled {
			out = append(out, spec)
		}
	}
	return out
}

// Keys returns every registered key in declared order.
func (r *Registry) Keys() []string {
	return append([]string(nil), r.order...)
}
