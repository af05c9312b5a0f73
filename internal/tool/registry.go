package tool

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the static tool catalogue. Registration happens at
// startup; lookups are concurrent.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]Tool
	byCat   map[Category][]string
	schemas map[string]*ArgsValidator
}

// NewRegistry returns an empty catalogue.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]Tool),
		byCat:   make(map[Category][]string),
		schemas: make(map[string]*ArgsValidator),
	}
}

// Register adds a tool, compiling its argument schema. Duplicate names
// are rejected so categories can share tools without aliasing.
func (r *Registry) Register(t Tool) error {
	desc := t.Descriptor()
	if desc.Name == "" {
		return fmt.Errorf("tool has empty name")
	}

	validator, err := CompileArgs(desc.Name, desc.ArgsSchema)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", desc.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[desc.Name]; exists {
		return fmt.Errorf("tool already registered: %s", desc.Name)
	}
	r.byName[desc.Name] = t
	r.byCat[t.Category()] = append(r.byCat[t.Category()], desc.Name)
	r.schemas[desc.Name] = validator
	return nil
}

// MustRegister panics on registration failure. Used for the builtin
// catalogue where a bad schema is a programming error.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return t, nil
}

// Validator returns the compiled argument validator for a tool.
func (r *Registry) Validator(name string) (*ArgsValidator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.schemas[name]
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return v, nil
}

// Descriptors returns de-duplicated descriptors for the requested
// categories, sorted by name for stable prompts. With no categories
// it returns every registered tool.
func (r *Registry) Descriptors(categories ...Category) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Descriptor
	if len(categories) == 0 {
		for _, t := range r.byName {
			out = append(out, t.Descriptor())
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out
	}

	seen := make(map[string]bool)
	for _, cat := range categories {
		for _, name := range r.byCat[cat] {
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, r.byName[name].Descriptor())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names lists every registered tool name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
