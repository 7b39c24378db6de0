// Package browser resolves opaque browser handles into screenshot
// capabilities.
package browser

import (
	"context"
	"fmt"
	"sync"
)

// Screenshotter captures one or more images of the current browser state
type Screenshotter interface {
	Screenshot(ctx context.Context) ([][]byte, error)
}

// Func adapts a plain function to Screenshotter
type Func func(ctx context.Context) ([][]byte, error)

func (f Func) Screenshot(ctx context.Context) ([][]byte, error) {
	return f(ctx)
}

// Predicate reports whether a factory can serve handle
type Predicate func(handle any) bool

// Factory builds the capability for a matching handle
type Factory func(handle any) (Screenshotter, error)

type entry struct {
	name      string
	predicate Predicate
	factory   Factory
}

// Registry resolves handles by trying registered predicates in order
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

// NewRegistry returns a registry with the default adapters registered
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register("single-screenshot", isSingle, fromSingle)
	r.Register("multi-screenshot", isMulti, fromMulti)
	return r
}

// Register appends a backend. Later registrations are tried after earlier
// ones.
func (r *Registry) Register(name string, p Predicate, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry{name: name, predicate: p, factory: f})
}

// Resolve returns the capability for handle. Handles that already implement
// Screenshotter are used directly.
func (r *Registry) Resolve(handle any) (Screenshotter, error) {
	if handle == nil {
		return nil, fmt.Errorf("no browser handle")
	}
	if s, ok := handle.(Screenshotter); ok {
		return s, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.predicate(handle) {
			s, err := e.factory(handle)
			if err != nil {
				return nil, fmt.Errorf("%s backend: %w", e.name, err)
			}
			return s, nil
		}
	}
	return nil, fmt.Errorf("unsupported browser handle %T", handle)
}

type singleShooter interface {
	Screenshot() ([]byte, error)
}

type multiShooter interface {
	Screenshots() ([][]byte, error)
}

func isSingle(handle any) bool {
	_, ok := handle.(singleShooter)
	return ok
}

func fromSingle(handle any) (Screenshotter, error) {
	h := handle.(singleShooter)
	return Func(func(context.Context) ([][]byte, error) {
		img, err := h.Screenshot()
		if err != nil {
			return nil, err
		}
		return [][]byte{img}, nil
	}), nil
}

func isMulti(handle any) bool {
	_, ok := handle.(multiShooter)
	return ok
}

func fromMulti(handle any) (Screenshotter, error) {
	h := handle.(multiShooter)
	return Func(func(context.Context) ([][]byte, error) {
		return h.Screenshots()
	}), nil
}
