// ABOUTME: Process-wide tool registry preserving registration order.
// ABOUTME: Single writer at a time; lookups and listings run concurrently.

package tools

import (
	"fmt"
	"log/slog"
	"sync"
)

// ChangeFunc is called after the set of registered tools changes.
type ChangeFunc func()

// Registry maps tool names to synthesized functions.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	functions map[string]*Function
	listeners []ChangeFunc
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		functions: make(map[string]*Function),
		logger:    logger,
	}
}

// Register synthesizes d and adds it to the registry.
func (r *Registry) Register(d Descriptor) error {
	fn, err := Synthesize(d)
	if err != nil {
		return fmt.Errorf("synthesizing %q: %w", d.Name, err)
	}

	r.mu.Lock()
	if _, exists := r.functions[d.Name]; exists {
		r.mu.Unlock()
		return &DuplicateToolError{Name: d.Name}
	}
	r.functions[d.Name] = fn
	r.order = append(r.order, d.Name)
	listeners := r.snapshotListenersLocked()
	r.mu.Unlock()

	r.logger.Debug("tool registered", "tool_name", d.Name, "signature", fn.String(), "source", d.Source)
	notify(listeners)
	return nil
}

// RegisterAll registers each descriptor, stopping at the first error.
func (r *Registry) RegisterAll(descs []Descriptor) error {
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Replace atomically removes every tool from source and registers descs in
// their place. A name collision with a tool from another source fails the
// whole replacement and leaves the registry unchanged.
func (r *Registry) Replace(source string, descs []Descriptor) error {
	fns := make([]*Function, 0, len(descs))
	for _, d := range descs {
		d.Source = source
		fn, err := Synthesize(d)
		if err != nil {
			return fmt.Errorf("synthesizing %q: %w", d.Name, err)
		}
		fns = append(fns, fn)
	}

	r.mu.Lock()
	seen := make(map[string]bool, len(fns))
	for _, fn := range fns {
		if seen[fn.Name()] {
			r.mu.Unlock()
			return &DuplicateToolError{Name: fn.Name()}
		}
		seen[fn.Name()] = true
		if existing, ok := r.functions[fn.Name()]; ok && existing.desc.Source != source {
			r.mu.Unlock()
			return &DuplicateToolError{Name: fn.Name()}
		}
	}

	kept := r.order[:0:0]
	for _, name := range r.order {
		if r.functions[name].desc.Source == source {
			delete(r.functions, name)
			continue
		}
		kept = append(kept, name)
	}
	for _, fn := range fns {
		r.functions[fn.Name()] = fn
		kept = append(kept, fn.Name())
	}
	r.order = kept
	listeners := r.snapshotListenersLocked()
	r.mu.Unlock()

	r.logger.Info("tools replaced", "source", source, "count", len(fns))
	notify(listeners)
	return nil
}

// Unregister removes a tool. It reports whether the tool existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	if _, ok := r.functions[name]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.functions, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	listeners := r.snapshotListenersLocked()
	r.mu.Unlock()

	r.logger.Debug("tool unregistered", "tool_name", name)
	notify(listeners)
	return true
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (*Function, bool) {
	r.mu.RLock()
	fn, ok := r.functions[name]
	r.mu.RUnlock()
	return fn, ok
}

// List returns all functions in registration order.
func (r *Registry) List() []*Function {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Function, len(r.order))
	for i, name := range r.order {
		out[i] = r.functions[name]
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// OnChange registers fn to be called after every registry mutation.
func (r *Registry) OnChange(fn ChangeFunc) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) snapshotListenersLocked() []ChangeFunc {
	out := make([]ChangeFunc, len(r.listeners))
	copy(out, r.listeners)
	return out
}

func notify(listeners []ChangeFunc) {
	for _, fn := range listeners {
		fn()
	}
}
