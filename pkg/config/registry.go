package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// FlowRegistry stores flow definitions in memory with thread-safe access
type FlowRegistry struct {
	flows map[string]*FlowConfig
	mu    sync.RWMutex
}

// NewFlowRegistry creates a new flow registry
func NewFlowRegistry(flows map[string]*FlowConfig) *FlowRegistry {
	// Defensive copy to prevent external mutation
	copied := make(map[string]*FlowConfig, len(flows))
	for k, v := range flows {
		copied[k] = v
	}
	return &FlowRegistry{flows: copied}
}

// Get retrieves a flow definition by flow type.
// Returns an error listing the available flows when not found.
func (r *FlowRegistry) Get(flowType string) (*FlowConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	flow, ok := r.flows[flowType]
	if !ok {
		return nil, fmt.Errorf("%w: '%s' (available: %s)",
			ErrFlowNotFound, flowType, strings.Join(r.namesLocked(), ", "))
	}
	return flow, nil
}

// GetAll returns a copy of all registered flows
func (r *FlowRegistry) GetAll() map[string]*FlowConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	copied := make(map[string]*FlowConfig, len(r.flows))
	for k, v := range r.flows {
		copied[k] = v
	}
	return copied
}

// Has checks whether a flow type is registered
func (r *FlowRegistry) Has(flowType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.flows[flowType]
	return ok
}

// Names returns all registered flow types, sorted
func (r *FlowRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

// Len returns the number of registered flows
func (r *FlowRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.flows)
}

func (r *FlowRegistry) namesLocked() []string {
	names := make([]string, 0, len(r.flows))
	for name := range r.flows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TemplateIndex stores template definitions in memory with thread-safe access
type TemplateIndex struct {
	templates map[string]*TemplateConfig
	mu        sync.RWMutex
}

// NewTemplateIndex creates a new template index
func NewTemplateIndex(templates map[string]*TemplateConfig) *TemplateIndex {
	copied := make(map[string]*TemplateConfig, len(templates))
	for k, v := range templates {
		copied[k] = v
	}
	return &TemplateIndex{templates: copied}
}

// Get retrieves a template by name
func (x *TemplateIndex) Get(name string) (*TemplateConfig, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	tmpl, ok := x.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrTemplateNotFound, name)
	}
	return tmpl, nil
}

// GetAll returns a copy of all registered templates
func (x *TemplateIndex) GetAll() map[string]*TemplateConfig {
	x.mu.RLock()
	defer x.mu.RUnlock()

	copied := make(map[string]*TemplateConfig, len(x.templates))
	for k, v := range x.templates {
		copied[k] = v
	}
	return copied
}

// Has checks whether a template is registered
func (x *TemplateIndex) Has(name string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.templates[name]
	return ok
}

// Names returns all registered template names, sorted
func (x *TemplateIndex) Names() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	names := make([]string, 0, len(x.templates))
	for name := range x.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered templates
func (x *TemplateIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.templates)
}
