package config

import (
	"sort"
)

// Candidate bundles everything needed to call one endpoint in one mode.
// ModeName records the mode actually served, which may be the fallback
// mode when the endpoint does not declare the requested one.
type Candidate struct {
	Provider *ProviderConfig
	Endpoint *EndpointConfig
	Mode     *ModeConfig
	ModeName string
}

// Fallback reports whether the candidate serves a different mode than the
// one requested.
func (c *Candidate) Fallback(requested string) bool {
	return c.ModeName != requested
}

// Registry resolves models to prioritized endpoint candidates.
type Registry struct {
	providers map[string]*ProviderConfig
	models    map[string]*ModelConfig
}

// NewRegistry builds a registry from provider and model records.
func NewRegistry(providers []*ProviderConfig, models []*ModelConfig) *Registry {
	r := &Registry{
		providers: make(map[string]*ProviderConfig, len(providers)),
		models:    make(map[string]*ModelConfig, len(models)),
	}
	for _, p := range providers {
		if p != nil && p.Name != "" {
			r.providers[p.Name] = p
		}
	}
	for _, m := range models {
		if m != nil && m.Name != "" {
			r.models[m.Name] = m
		}
	}
	return r
}

// Provider returns the named provider config, or nil.
func (r *Registry) Provider(name string) *ProviderConfig {
	return r.providers[name]
}

// Endpoints returns the endpoints for a model sorted ascending by priority.
func (r *Registry) Endpoints(model string) []*EndpointConfig {
	m := r.models[model]
	if m == nil {
		return nil
	}
	eps := make([]*EndpointConfig, len(m.Endpoints))
	copy(eps, m.Endpoints)
	sort.SliceStable(eps, func(i, j int) bool {
		return eps[i].Priority < eps[j].Priority
	})
	return eps
}

// usable reports whether the endpoint can be called at all: its provider
// must exist and must either carry a key or use account auth.
func (r *Registry) usable(ep *EndpointConfig) (*ProviderConfig, bool) {
	p := r.providers[ep.Provider]
	if p == nil {
		return nil, false
	}
	if p.APIKey == "" && ep.Auth != AuthAccount {
		return nil, false
	}
	return p, true
}

// resolveMode picks the requested mode from an endpoint, substituting the
// fallback mode when the requested one is missing. Returns nil when the
// endpoint declares neither.
func resolveMode(ep *EndpointConfig, mode string) (*ModeConfig, string) {
	if mc := ep.Modes[mode]; mc != nil && mc.Path != "" {
		return mc, mode
	}
	fb := FallbackMode(mode)
	if mc := ep.Modes[fb]; mc != nil && mc.Path != "" {
		return mc, fb
	}
	return nil, ""
}

func (r *Registry) candidate(ep *EndpointConfig, mode string) *Candidate {
	p, ok := r.usable(ep)
	if !ok {
		return nil
	}
	mc, served := resolveMode(ep, mode)
	if mc == nil {
		return nil
	}
	return &Candidate{Provider: p, Endpoint: ep, Mode: mc, ModeName: served}
}

// Best returns the highest-priority usable candidate for a model/mode.
func (r *Registry) Best(model, mode string) *Candidate {
	for _, ep := range r.Endpoints(model) {
		if c := r.candidate(ep, mode); c != nil {
			return c
		}
	}
	return nil
}

// ByName returns the candidate whose display or provider name matches,
// falling back to priority selection when the name is unknown.
func (r *Registry) ByName(model, name, mode string) *Candidate {
	for _, ep := range r.Endpoints(model) {
		if ep.Name() != name {
			continue
		}
		if c := r.candidate(ep, mode); c != nil {
			return c
		}
	}
	return r.Best(model, mode)
}

// ByIndex returns the candidate at the given round-robin position,
// wrapping around the endpoint count. An unusable slot falls back to
// priority selection so a missing credential never stalls the rotation.
func (r *Registry) ByIndex(model string, index int, mode string) *Candidate {
	eps := r.Endpoints(model)
	if len(eps) == 0 {
		return nil
	}
	if c := r.candidate(eps[index%len(eps)], mode); c != nil {
		return c
	}
	return r.Best(model, mode)
}

// Alternatives returns every usable candidate for the mode whose provider
// differs from excludeProvider, in priority order. Unlike Best, no mode
// fallback is applied: an alternative must declare the requested mode.
func (r *Registry) Alternatives(model, mode, excludeProvider string) []*Candidate {
	var out []*Candidate
	for _, ep := range r.Endpoints(model) {
		if ep.Provider == excludeProvider {
			continue
		}
		p, ok := r.usable(ep)
		if !ok {
			continue
		}
		mc := ep.Modes[mode]
		if mc == nil || mc.Path == "" {
			continue
		}
		out = append(out, &Candidate{Provider: p, Endpoint: ep, Mode: mc, ModeName: mode})
	}
	return out
}

// EndpointCount returns the number of endpoints configured for a model,
// used to size the round-robin rotation.
func (r *Registry) EndpointCount(model string) int {
	m := r.models[model]
	if m == nil {
		return 0
	}
	return len(m.Endpoints)
}

// Models returns the configured model names.
func (r *Registry) Models() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
