// Package models holds the declarative model catalog and the virtual
// model names clients are allowed to address.
package models

import (
	"fmt"
	"sort"
	"sync"
)

// ModelConfig describes one routable model. Created at server start,
// read-only afterwards.
type ModelConfig struct {
	Name         string   `json:"name" mapstructure:"name"`
	Provider     string   `json:"provider" mapstructure:"provider"`
	Cost         float64  `json:"cost" mapstructure:"cost"` // USD per 1K tokens baseline
	SpeedMS      int      `json:"speed_ms" mapstructure:"speed_ms"`
	QualityScore float64  `json:"quality_score" mapstructure:"quality_score"`
	Domains      []string `json:"domains,omitempty" mapstructure:"domains"`
}

// HasDomain reports whether the model is tagged for a domain.
func (m *ModelConfig) HasDomain(domain string) bool {
	for _, d := range m.Domains {
		if d == domain {
			return true
		}
	}
	return false
}

// Reserved virtual model names. Clients address these; the registry
// rewrites them to concrete models before dispatch.
const (
	VirtualDefault = "cascadeflow"
	VirtualAuto    = "cascadeflow-auto"
	VirtualFast    = "cascadeflow-fast"
	VirtualQuality = "cascadeflow-quality"
	VirtualCheap   = "cascadeflow-cheap"
	VirtualCost    = "cascadeflow-cost"
)

// IsVirtual reports whether name is one of the reserved virtual models.
func IsVirtual(name string) bool {
	switch name {
	case VirtualDefault, VirtualAuto, VirtualFast, VirtualQuality, VirtualCheap, VirtualCost:
		return true
	}
	return false
}

// Registry indexes the catalog by name and resolves virtual models.
// Immutable after construction apart from the overrides map, which is
// only written during startup; reads are still guarded for safety.
type Registry struct {
	mu        sync.RWMutex
	models    map[string]*ModelConfig
	overrides map[string]string
}

func NewRegistry(catalog []ModelConfig) *Registry {
	r := &Registry{
		models:    make(map[string]*ModelConfig, len(catalog)),
		overrides: make(map[string]string),
	}
	for i := range catalog {
		m := catalog[i]
		r.models[m.Name] = &m
	}
	return r
}

// SetVirtualModel installs or overrides a virtual-name mapping.
func (r *Registry) SetVirtualModel(virtual, concrete string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[virtual] = concrete
}

// Get returns the config for a concrete model name.
func (r *Registry) Get(name string) (*ModelConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// ProviderOf returns the provider binding for a model, if known.
func (r *Registry) ProviderOf(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.models[name]; ok && m.Provider != "" {
		return m.Provider, true
	}
	return "", false
}

// List returns the catalog sorted by name.
func (r *Registry) List() []*ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ModelConfig, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve rewrites a virtual model name to a concrete one. Configured
// overrides win; the reserved names fall back to catalog heuristics.
// Concrete names pass through unchanged.
func (r *Registry) Resolve(name string) (string, error) {
	r.mu.RLock()
	if concrete, ok := r.overrides[name]; ok {
		r.mu.RUnlock()
		return concrete, nil
	}
	r.mu.RUnlock()

	if !IsVirtual(name) {
		return name, nil
	}

	var pick *ModelConfig
	switch name {
	case VirtualFast:
		pick = r.pickBy(func(a, b *ModelConfig) bool { return a.SpeedMS < b.SpeedMS })
	case VirtualQuality:
		pick = r.pickBy(func(a, b *ModelConfig) bool { return a.QualityScore > b.QualityScore })
	case VirtualCheap, VirtualCost:
		pick = r.pickBy(func(a, b *ModelConfig) bool { return a.Cost < b.Cost })
	default: // cascadeflow, cascadeflow-auto: best quality per dollar
		pick = r.pickBy(func(a, b *ModelConfig) bool {
			return ratio(a) > ratio(b)
		})
	}
	if pick == nil {
		return "", fmt.Errorf("virtual model %q has no candidates", name)
	}
	return pick.Name, nil
}

func ratio(m *ModelConfig) float64 {
	if m.Cost <= 0 {
		return m.QualityScore * 1e6
	}
	return m.QualityScore / m.Cost
}

func (r *Registry) pickBy(better func(a, b *ModelConfig) bool) *ModelConfig {
	var best *ModelConfig
	for _, m := range r.List() {
		if best == nil || better(m, best) {
			best = m
		}
	}
	return best
}
