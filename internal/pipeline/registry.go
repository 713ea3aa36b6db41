package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds the named presets available to a process. It is filled at
// startup and only hands out copies.
type Registry struct {
	mu       sync.RWMutex
	defs     map[string]Definition
	order    []string
	timeouts Timeouts
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithTimeouts overrides the built-in stage timeouts.
func WithTimeouts(t Timeouts) RegistryOption {
	return func(r *Registry) { r.timeouts = t }
}

// NewRegistry returns a registry preloaded with the built-in presets.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{defs: make(map[string]Definition)}
	for _, opt := range opts {
		opt(r)
	}
	for _, d := range Builtins(r.timeouts) {
		// Built-ins are known good.
		_ = r.Register(d)
	}
	return r
}

// Register validates def and adds it, replacing any preset of the same name.
func (r *Registry) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	key := strings.ToLower(def.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[key]; !exists {
		r.order = append(r.order, key)
	}
	r.defs[key] = def.Clone()
	return nil
}

// RegisterParams builds a preset from user parameters and registers it.
func (r *Registry) RegisterParams(name string, p Params) error {
	def, err := r.build(name, p)
	if err != nil {
		return err
	}
	return r.Register(def)
}

// Get returns a copy of the named preset.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[strings.ToLower(name)]
	if !ok {
		return Definition{}, false
	}
	return d.Clone(), true
}

// Lookup is Get with an error naming the valid presets.
func (r *Registry) Lookup(name string) (Definition, error) {
	if d, ok := r.Get(name); ok {
		return d, nil
	}
	return Definition{}, fmt.Errorf("%w: %q, valid options: %s", ErrUnknownPreset, name, strings.Join(r.Names(), ", "))
}

// Has reports whether a preset with the exact definition name is registered.
func (r *Registry) Has(def Definition) bool {
	_, ok := r.Get(def.Name)
	return ok
}

// Names returns preset names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// List returns copies of every preset sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) build(name string, p Params) (Definition, error) {
	var def Definition
	if p.Base != "" {
		base, err := r.Lookup(p.Base)
		if err != nil {
			return Definition{}, fmt.Errorf("profile %s: %w", name, err)
		}
		def = base
	} else {
		def = Definition{
			Encoder:            EncoderX265,
			Mode:               ModeCRF,
			CRF:                25,
			Preset:             "medium",
			Resolution:         ResOriginal,
			PreserveDynamicHDR: true,
			DVProfile:          defaultDVProfile,
			DVCompatID:         defaultDVCompatID,
			HVC1Flag:           defaultHVC1Flag,
			CompatBrands:       defaultCompatBrands,
		}
	}
	def.Name = name
	return p.apply(def, r.timeouts)
}
