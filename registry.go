package linkz

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"
)

// Registry errors.
var (
	ErrRegistryFrozen   = errors.New("registry is frozen")
	ErrDuplicateClass   = errors.New("class already registered")
	ErrAlreadyInitiated = errors.New("default registry already initialized")
)

// Factory builds a link from resolved parameters. The parameters have been
// validated against the class Signature, defaulted and coerced, and nested
// trees have already been constructed into links.
type Factory func(Params) (Link, error)

// Class describes one registered link class.
type Class struct {
	New       Factory
	Kind      Kind
	Tooltip   string
	Signature Signature
}

// API renders the constructor signature, e.g. LinearModelRow(slope float, ...).
func (c Class) API() string {
	return c.Kind.Class + "(" + c.Signature.String() + ")"
}

// ToolboxEntry is one row of the registry listing.
type ToolboxEntry struct {
	Category string
	Class    string
	Tooltip  string
	API      string
}

// Registry maps (category, class) to link classes. It resolves class names
// during construction from a Tree and lists classes for discovery.
//
// A registry is populated once and then frozen; lookups are safe for
// concurrent use.
type Registry struct {
	classes map[Kind]Class
	mu      sync.RWMutex
	frozen  bool
}

// NewRegistry creates a registry holding the core classes: the base
// composites and wrappers (Chain, Union, Timeout, Retry, Fallback) and the two hpc
// partition processors.
func NewRegistry() *Registry {
	r := &Registry{classes: make(map[Kind]Class)}
	if err := r.Register(coreClasses()...); err != nil {
		panic(fmt.Sprintf("linkz: core classes: %v", err))
	}
	return r
}

// Register adds classes. Registering a kind twice, or after Freeze, fails.
func (r *Registry) Register(classes ...Class) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	for _, c := range classes {
		if c.New == nil {
			return fmt.Errorf("register %s: nil factory", c.Kind)
		}
		if _, ok := r.classes[c.Kind]; ok {
			return fmt.Errorf("register %s: %w", c.Kind, ErrDuplicateClass)
		}
		r.classes[c.Kind] = c
	}
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Lookup returns the class registered under kind.
func (r *Registry) Lookup(kind Kind) (Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[kind]
	return c, ok
}

// Classes returns every registered class sorted by category, then class.
func (r *Registry) Classes() []Class {
	r.mu.RLock()
	classes := slices.Collect(maps.Values(r.classes))
	r.mu.RUnlock()
	sort.Slice(classes, func(i, j int) bool {
		if classes[i].Kind.Category != classes[j].Kind.Category {
			return classes[i].Kind.Category < classes[j].Kind.Category
		}
		return classes[i].Kind.Class < classes[j].Kind.Class
	})
	return classes
}

// Toolbox lists every class with its tooltip and constructor signature.
func (r *Registry) Toolbox() []ToolboxEntry {
	classes := r.Classes()
	entries := make([]ToolboxEntry, len(classes))
	for i, c := range classes {
		entries[i] = ToolboxEntry{
			Category: c.Kind.Category,
			Class:    c.Kind.Class,
			Tooltip:  c.Tooltip,
			API:      c.API(),
		}
	}
	return entries
}

// Categories returns the sorted distinct categories.
func (r *Registry) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range r.Classes() {
		if !seen[c.Kind.Category] {
			seen[c.Kind.Category] = true
			out = append(out, c.Kind.Category)
		}
	}
	return out
}

// Construct builds a link from a configuration tree, resolving the class under
// ClassKey and constructing nested trees recursively.
func (r *Registry) Construct(tree Tree) (Link, error) {
	kind, err := tree.Kind()
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}
	if v, ok := tree[VersionKey]; ok && v != Version {
		slog.Warn("configuration version differs from installed version",
			"link", kind.String(), "config", v, "installed", Version)
	}
	raw := make(Params, len(tree))
	for k, v := range tree {
		if k == ClassKey || k == VersionKey {
			continue
		}
		raw[k] = v
	}
	return r.New(kind, raw)
}

// New builds a link of the given kind from raw parameter values. Unknown
// names, missing required parameters and values that cannot be coerced to the
// declared type are ConfigurationErrors.
func (r *Registry) New(kind Kind, raw Params) (Link, error) {
	class, ok := r.Lookup(kind)
	if !ok {
		return nil, &UnknownUnitError{Class: kind.String()}
	}
	params, err := r.resolve(class, raw)
	if err != nil {
		return nil, err
	}
	link, err := class.New(params)
	if err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		return nil, &ConfigurationError{Class: kind.String(), Err: err}
	}
	return link, nil
}

func (r *Registry) resolve(class Class, raw Params) (Params, error) {
	name := class.Kind.String()
	for k := range raw {
		if _, ok := class.Signature.Lookup(k); !ok {
			return nil, &ConfigurationError{Class: name, Param: k, Err: errors.New("unknown parameter")}
		}
	}
	params := make(Params, len(class.Signature))
	for _, spec := range class.Signature {
		v, ok := raw[spec.Name]
		if !ok {
			if spec.Required {
				return nil, &ConfigurationError{Class: name, Param: spec.Name, Err: errors.New("missing required parameter")}
			}
			v = spec.Default
		}
		cv, err := r.coerce(spec, v)
		if err != nil {
			var unknown *UnknownUnitError
			var cfgErr *ConfigurationError
			if errors.As(err, &unknown) || errors.As(err, &cfgErr) {
				return nil, err
			}
			return nil, &ConfigurationError{Class: name, Param: spec.Name, Err: err}
		}
		params[spec.Name] = cv
	}
	return params, nil
}

func (r *Registry) coerce(spec ParamSpec, v any) (any, error) {
	if v == nil && spec.Nullable {
		return nil, nil
	}
	switch spec.Type {
	case LinkParam:
		return r.coerceLink(v)
	case LinksParam:
		switch list := v.(type) {
		case []Link:
			return append([]Link{}, list...), nil
		case []Tree:
			links := make([]Link, len(list))
			for i, t := range list {
				l, err := r.Construct(t)
				if err != nil {
					return nil, err
				}
				links[i] = l
			}
			return links, nil
		case []any:
			links := make([]Link, len(list))
			for i, item := range list {
				l, err := r.coerceLink(item)
				if err != nil {
					return nil, err
				}
				links[i] = l
			}
			return links, nil
		default:
			return nil, fmt.Errorf("want list of links, got %T", v)
		}
	default:
		return coerceScalar(spec.Type, v)
	}
}

func (r *Registry) coerceLink(v any) (Link, error) {
	switch l := v.(type) {
	case Link:
		return l, nil
	case Tree:
		return r.Construct(l)
	case map[string]any:
		return r.Construct(Tree(l))
	default:
		return nil, fmt.Errorf("want link or configuration tree, got %T", v)
	}
}

var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
	defaultInit     bool
)

// Init populates and freezes the process-wide registry. It is the single
// documented start-up step: call it once from main with the registration
// functions of every link package in use, e.g. linkz.Init(links.Register).
// Before Init the default registry holds only the core classes.
func Init(registrars ...func(*Registry) error) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultInit {
		return ErrAlreadyInitiated
	}
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry()
	}
	for _, register := range registrars {
		if err := register(defaultRegistry); err != nil {
			return err
		}
	}
	defaultRegistry.Freeze()
	defaultInit = true
	return nil
}

// Default returns the process-wide registry.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry()
	}
	return defaultRegistry
}

// FromParams builds a link from a tree using the process-wide registry.
func FromParams(tree Tree) (Link, error) {
	return Default().Construct(tree)
}
